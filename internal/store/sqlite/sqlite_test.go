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

package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thornburywn2/console-web-sub013/internal/agent"
	"github.com/thornburywn2/console-web-sub013/internal/store"
	"github.com/thornburywn2/console-web-sub013/internal/store/storetest"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := New(Config{Path: filepath.Join(t.TempDir(), "agents.db"), WAL: true})
	require.NoError(t, err)
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, newTestStore)
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "agents.db")

	s, err := New(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.CreateAgent(ctx, storetest.SampleAgent("a1")))
	require.NoError(t, s.CreateExecution(ctx, &agent.Execution{
		ID: "e1", AgentID: "a1", Status: agent.StatusRunning, TriggeredBy: agent.TriggeredByManual,
	}))
	require.NoError(t, s.Close())

	s, err = New(Config{Path: path})
	require.NoError(t, err)
	defer s.Close()

	a, err := s.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "agent a1", a.Name)

	e, err := s.GetExecution(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, agent.StatusRunning, e.Status)
	assert.Nil(t, e.Result)
}

func TestTimeLayoutSortsLexically(t *testing.T) {
	a := time.Date(2025, 1, 1, 0, 0, 0, 500, time.UTC)
	b := time.Date(2025, 1, 1, 0, 0, 0, 5000, time.UTC)
	assert.Less(t, formatTime(a), formatTime(b))
	assert.Equal(t, a, parseTime(formatTime(a)))
}
