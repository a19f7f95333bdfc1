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

// Package store defines the persistence contract of the agent engine.
//
// # Interface Hierarchy
//
//   - AgentStore: CreateAgent, GetAgent, UpdateAgent, DeleteAgent
//   - AgentLister: ListAgents
//   - ExecutionStore: CreateExecution, GetExecution, UpdateExecution
//   - ExecutionLister: ListExecutions, DeleteExecutionsBefore
//   - io.Closer
//
// Store composes all of them. Components accept the narrowest interface
// they need; the runner only needs AgentStore and ExecutionStore.
package store

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/thornburywn2/console-web-sub013/internal/agent"
	agenterrors "github.com/thornburywn2/console-web-sub013/pkg/errors"
)

// ErrAlreadyExists is returned when creating a record whose id is taken.
var ErrAlreadyExists = errors.New("already exists")

// AgentStore is the core agent CRUD interface.
type AgentStore interface {
	// CreateAgent stores a new agent. CreatedAt and UpdatedAt are set by the store.
	CreateAgent(ctx context.Context, a *agent.Agent) error

	// GetAgent returns the agent or a *errors.NotFoundError.
	GetAgent(ctx context.Context, id string) (*agent.Agent, error)

	// UpdateAgent replaces an existing agent. UpdatedAt is set by the store.
	UpdateAgent(ctx context.Context, a *agent.Agent) error

	// DeleteAgent removes an agent. Its executions are kept until retention
	// removes them.
	DeleteAgent(ctx context.Context, id string) error
}

// AgentLister lists agents.
type AgentLister interface {
	ListAgents(ctx context.Context, filter AgentFilter) ([]*agent.Agent, error)
}

// ExecutionStore is the core execution interface used by the recorder.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, e *agent.Execution) error
	GetExecution(ctx context.Context, id string) (*agent.Execution, error)
	UpdateExecution(ctx context.Context, e *agent.Execution) error
}

// ExecutionLister supports history queries and retention.
type ExecutionLister interface {
	// ListExecutions returns executions newest first.
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*agent.Execution, error)

	// DeleteExecutionsBefore removes terminal executions created before
	// cutoff and reports how many were removed.
	DeleteExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store is the full persistence interface.
type Store interface {
	AgentStore
	AgentLister
	ExecutionStore
	ExecutionLister
	io.Closer
}

// AgentFilter narrows ListAgents. Zero values match everything.
type AgentFilter struct {
	TriggerType agent.TriggerType
	EnabledOnly bool
}

// Matches applies the filter in memory.
func (f AgentFilter) Matches(a *agent.Agent) bool {
	if f.TriggerType != "" && a.TriggerType != f.TriggerType {
		return false
	}
	if f.EnabledOnly && !a.Enabled {
		return false
	}
	return true
}

// ExecutionFilter narrows ListExecutions.
type ExecutionFilter struct {
	AgentID  string
	Statuses []agent.ExecutionStatus
	Limit    int
	Offset   int
}

// Matches applies the agent and status parts of the filter in memory.
func (f ExecutionFilter) Matches(e *agent.Execution) bool {
	if f.AgentID != "" && e.AgentID != f.AgentID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if e.Status == s {
			return true
		}
	}
	return false
}

// DefaultListLimit caps list queries that do not set a limit.
const DefaultListLimit = 50

// EffectiveLimit returns Limit, or DefaultListLimit when unset.
func (f ExecutionFilter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

// NotFound builds the not-found error returned by every implementation.
func NotFound(resource, id string) error {
	return &agenterrors.NotFoundError{Resource: resource, ID: id}
}

// AlreadyExists builds the conflict returned when a create reuses an id.
// It matches ErrAlreadyExists under errors.Is.
func AlreadyExists(resource, id string) error {
	return &agenterrors.ConflictError{Resource: resource, ID: id, Reason: ErrAlreadyExists.Error(), Cause: ErrAlreadyExists}
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	var nf *agenterrors.NotFoundError
	return errors.As(err, &nf)
}

// TerminalStatuses lists the statuses retention may delete.
func TerminalStatuses() []agent.ExecutionStatus {
	return []agent.ExecutionStatus{agent.StatusSuccess, agent.StatusFailed, agent.StatusCancelled}
}
