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

package trigger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thornburywn2/console-web-sub013/internal/agent"
)

func TestFilter(t *testing.T) {
	ev := Event{
		Type:      agent.TriggerSessionStart,
		ProjectID: "web",
		Data:      map[string]any{"user": "alice", "attempt": 3},
	}

	tests := []struct {
		source string
		want   bool
	}{
		{source: "", want: true},
		{source: `event.project == "web"`, want: true},
		{source: `event.project == "api"`, want: false},
		{source: `event.type == "SESSION_START" && event.data.user == "alice"`, want: true},
		{source: `event.data.attempt > 2`, want: true},
		{source: `event.data.missing == nil`, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			f, err := CompileFilter(tt.source)
			require.NoError(t, err)
			got, err := f.Match(ev)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.source, f.String())
		})
	}
}

func TestFilter_Invalid(t *testing.T) {
	_, err := CompileFilter(`event.project ==`)
	assert.Error(t, err)

	_, err = CompileFilter(`"not a bool"`)
	assert.Error(t, err)
}

func TestFilter_NilDataIsEmptyMap(t *testing.T) {
	f, err := CompileFilter(`len(event.data) == 0`)
	require.NoError(t, err)
	ok, err := f.Match(Event{Type: agent.TriggerSystemStartup})
	require.NoError(t, err)
	assert.True(t, ok)
}
