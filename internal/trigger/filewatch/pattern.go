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
	"fmt"
	"path"

	"github.com/bmatcuk/doublestar/v4"
)

// PatternMatcher matches project-relative paths against include and
// exclude glob patterns.
type PatternMatcher struct {
	includePatterns []string
	excludePatterns []string
}

// NewPatternMatcher validates the patterns and creates a matcher. An empty
// include list matches every path.
func NewPatternMatcher(includePatterns, excludePatterns []string) (*PatternMatcher, error) {
	for _, pattern := range includePatterns {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid include pattern %q", pattern)
		}
	}
	for _, pattern := range excludePatterns {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid exclude pattern %q", pattern)
		}
	}

	return &PatternMatcher{
		includePatterns: includePatterns,
		excludePatterns: excludePatterns,
	}, nil
}

// Match reports whether rel, a slash separated path relative to the
// project directory, is included and not excluded.
func (pm *PatternMatcher) Match(rel string) bool {
	included := len(pm.includePatterns) == 0
	for _, pattern := range pm.includePatterns {
		if matchPattern(pattern, rel) {
			included = true
			break
		}
	}
	if !included {
		return false
	}

	for _, pattern := range pm.excludePatterns {
		if matchPattern(pattern, rel) {
			return false
		}
	}
	return true
}

// matchPattern tries the full relative path first, then the base name so
// that "*.go" matches at any depth.
func matchPattern(pattern, rel string) bool {
	if matched, _ := doublestar.Match(pattern, rel); matched {
		return true
	}
	if matched, _ := doublestar.Match(pattern, path.Base(rel)); matched {
		return true
	}
	return false
}

// DefaultExcludePatterns lists editor swap files and OS metadata that
// never trigger agents.
func DefaultExcludePatterns() []string {
	return []string{
		// Vim
		"*.swp",
		"*.swo",
		"*.swn",
		".*.sw?",
		// Emacs
		"*~",
		"#*#",
		".#*",
		// System files
		".DS_Store",
		"Thumbs.db",
		"*.tmp",
		"*.temp",
	}
}
