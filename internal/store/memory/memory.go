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

// Package memory provides an in-memory store implementation.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/thornburywn2/console-web-sub013/internal/agent"
	"github.com/thornburywn2/console-web-sub013/internal/store"
)

var (
	_ store.AgentStore      = (*Store)(nil)
	_ store.ExecutionStore  = (*Store)(nil)
	_ store.ExecutionLister = (*Store)(nil)
	_ store.Store           = (*Store)(nil)
)

// Store is an in-memory store. Records are copied on the way in and out so
// callers never share state with the maps.
type Store struct {
	mu         sync.RWMutex
	agents     map[string]*agent.Agent
	executions map[string]*agent.Execution
	now        func() time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		agents:     make(map[string]*agent.Agent),
		executions: make(map[string]*agent.Execution),
		now:        time.Now,
	}
}

// CreateAgent stores a new agent.
func (s *Store) CreateAgent(ctx context.Context, a *agent.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.agents[a.ID]; exists {
		return store.AlreadyExists("agent", a.ID)
	}
	a.CreatedAt = s.now().UTC()
	a.UpdatedAt = a.CreatedAt
	s.agents[a.ID] = a.Clone()
	return nil
}

// GetAgent retrieves an agent by ID.
func (s *Store) GetAgent(ctx context.Context, id string) (*agent.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, exists := s.agents[id]
	if !exists {
		return nil, store.NotFound("agent", id)
	}
	return a.Clone(), nil
}

// UpdateAgent replaces an existing agent.
func (s *Store) UpdateAgent(ctx context.Context, a *agent.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, exists := s.agents[a.ID]
	if !exists {
		return store.NotFound("agent", a.ID)
	}
	a.CreatedAt = prev.CreatedAt
	a.UpdatedAt = s.now().UTC()
	s.agents[a.ID] = a.Clone()
	return nil
}

// DeleteAgent removes an agent.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.agents[id]; !exists {
		return store.NotFound("agent", id)
	}
	delete(s.agents, id)
	return nil
}

// ListAgents returns agents sorted by id.
func (s *Store) ListAgents(ctx context.Context, filter store.AgentFilter) ([]*agent.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*agent.Agent
	for _, a := range s.agents {
		if filter.Matches(a) {
			result = append(result, a.Clone())
		}
	}
	slices.SortFunc(result, func(x, y *agent.Agent) int { return cmp.Compare(x.ID, y.ID) })
	return result, nil
}

// CreateExecution stores a new execution.
func (s *Store) CreateExecution(ctx context.Context, e *agent.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.executions[e.ID]; exists {
		return store.AlreadyExists("execution", e.ID)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	s.executions[e.ID] = e.Clone()
	return nil
}

// GetExecution retrieves an execution by ID.
func (s *Store) GetExecution(ctx context.Context, id string) (*agent.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.executions[id]
	if !exists {
		return nil, store.NotFound("execution", id)
	}
	return e.Clone(), nil
}

// UpdateExecution replaces an existing execution.
func (s *Store) UpdateExecution(ctx context.Context, e *agent.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.executions[e.ID]; !exists {
		return store.NotFound("execution", e.ID)
	}
	s.executions[e.ID] = e.Clone()
	return nil
}

// ListExecutions returns matching executions newest first.
func (s *Store) ListExecutions(ctx context.Context, filter store.ExecutionFilter) ([]*agent.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*agent.Execution
	for _, e := range s.executions {
		if filter.Matches(e) {
			result = append(result, e)
		}
	}
	slices.SortFunc(result, func(x, y *agent.Execution) int {
		if c := y.CreatedAt.Compare(x.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(x.ID, y.ID)
	})

	if filter.Offset >= len(result) {
		return nil, nil
	}
	result = result[filter.Offset:]
	if limit := filter.EffectiveLimit(); len(result) > limit {
		result = result[:limit]
	}

	out := make([]*agent.Execution, len(result))
	for i, e := range result {
		out[i] = e.Clone()
	}
	return out, nil
}

// DeleteExecutionsBefore removes terminal executions created before cutoff.
func (s *Store) DeleteExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, e := range s.executions {
		if e.Status.IsTerminal() && e.CreatedAt.Before(cutoff) {
			delete(s.executions, id)
			n++
		}
	}
	return n, nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}
