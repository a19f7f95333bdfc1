// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package filewatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatternMatcher(t *testing.T) {
	tests := []struct {
		name    string
		include []string
		exclude []string
		paths   map[string]bool
	}{
		{
			name: "no patterns matches everything",
			paths: map[string]bool{
				"main.go":         true,
				"docs/readme.md":  true,
				"a/b/c/d/file.py": true,
			},
		},
		{
			name:    "recursive glob",
			include: []string{"src/**/*.ts"},
			paths: map[string]bool{
				"src/index.ts":         true,
				"src/components/a.ts":  true,
				"lib/index.ts":         false,
				"src/components/a.tsx": false,
			},
		},
		{
			name:    "base name pattern matches at any depth",
			include: []string{"*.go"},
			paths: map[string]bool{
				"main.go":             true,
				"internal/x/y/z.go":   true,
				"internal/x/y/z.go.b": false,
			},
		},
		{
			name:    "exclude wins",
			include: []string{"**/*.go"},
			exclude: []string{"**/*_test.go", "vendor/**"},
			paths: map[string]bool{
				"pkg/a.go":         true,
				"pkg/a_test.go":    false,
				"vendor/x/b.go":    false,
				"cmd/tool/main.go": true,
			},
		},
		{
			name:    "default excludes",
			include: []string{"**/*"},
			exclude: DefaultExcludePatterns(),
			paths: map[string]bool{
				"src/.main.go.swp": false,
				"notes.txt~":       false,
				".DS_Store":        false,
				"src/main.go":      true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pm, err := NewPatternMatcher(tt.include, tt.exclude)
			require.NoError(t, err)
			for path, want := range tt.paths {
				assert.Equal(t, want, pm.Match(path), path)
			}
		})
	}
}

func TestPatternMatcher_Invalid(t *testing.T) {
	_, err := NewPatternMatcher([]string{"src/[a-"}, nil)
	assert.Error(t, err)
	_, err = NewPatternMatcher(nil, []string{"{a,"})
	assert.Error(t, err)
}
