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

// Package sqlite provides a SQLite store for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/thornburywn2/console-web-sub013/internal/agent"
	"github.com/thornburywn2/console-web-sub013/internal/store"
)

var (
	_ store.AgentStore      = (*Store)(nil)
	_ store.AgentLister     = (*Store)(nil)
	_ store.ExecutionStore  = (*Store)(nil)
	_ store.ExecutionLister = (*Store)(nil)
	_ store.Store           = (*Store)(nil)
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store is a SQLite store.
type Store struct {
	db *sql.DB
}

// Config contains SQLite connection configuration.
type Config struct {
	// Path is the database file path. ":memory:" works for tests.
	Path string

	// WAL enables Write-Ahead Logging mode for concurrent reads.
	WAL bool
}

// New opens the database, applies pragmas and runs migrations.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writes.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db}
	if err := s.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure pragmas: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *Store) configurePragmas(ctx context.Context, wal bool) error {
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if wal {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			trigger_type TEXT NOT NULL,
			trigger_config TEXT NOT NULL,
			actions TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			project_id TEXT,
			owner_id TEXT,
			continue_on_error INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agents_trigger ON agents(trigger_type, enabled)`,
		`CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			status TEXT NOT NULL,
			triggered_by TEXT NOT NULL,
			trigger_context TEXT,
			result TEXT,
			error TEXT,
			started_at TEXT,
			ended_at TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_agent ON executions(agent_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_created_at ON executions(created_at)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// CreateAgent stores a new agent.
func (s *Store) CreateAgent(ctx context.Context, a *agent.Agent) error {
	cfg, actions, err := encodeAgent(a)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, description, trigger_type, trigger_config, actions,
			enabled, project_id, owner_id, continue_on_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, nullString(a.Description), string(a.TriggerType), cfg, actions,
		a.Enabled, nullString(a.Project()), nullString(a.OwnerID), a.ContinueOnError,
		formatTime(now), formatTime(now),
	)
	if isUniqueViolation(err) {
		return store.AlreadyExists("agent", a.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}
	a.CreatedAt, a.UpdatedAt = now, now
	return nil
}

const agentColumns = `id, name, description, trigger_type, trigger_config, actions,
	enabled, project_id, owner_id, continue_on_error, created_at, updated_at`

// GetAgent retrieves an agent by ID.
func (s *Store) GetAgent(ctx context.Context, id string) (*agent.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFound("agent", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return a, nil
}

// UpdateAgent replaces an existing agent.
func (s *Store) UpdateAgent(ctx context.Context, a *agent.Agent) error {
	cfg, actions, err := encodeAgent(a)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET name = ?, description = ?, trigger_type = ?, trigger_config = ?,
			actions = ?, enabled = ?, project_id = ?, owner_id = ?, continue_on_error = ?,
			updated_at = ?
		WHERE id = ?`,
		a.Name, nullString(a.Description), string(a.TriggerType), cfg, actions,
		a.Enabled, nullString(a.Project()), nullString(a.OwnerID), a.ContinueOnError,
		formatTime(now), a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.NotFound("agent", a.ID)
	}
	a.UpdatedAt = now
	return nil
}

// DeleteAgent removes an agent.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.NotFound("agent", id)
	}
	return nil
}

// ListAgents returns agents sorted by id.
func (s *Store) ListAgents(ctx context.Context, filter store.AgentFilter) ([]*agent.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE 1=1`
	var args []any
	if filter.TriggerType != "" {
		query += ` AND trigger_type = ?`
		args = append(args, string(filter.TriggerType))
	}
	if filter.EnabledOnly {
		query += ` AND enabled = 1`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var result []*agent.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// CreateExecution stores a new execution.
func (s *Store) CreateExecution(ctx context.Context, e *agent.Execution) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	triggerCtx, result, err := encodeExecution(e)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions (id, agent_id, status, triggered_by, trigger_context, result,
			error, started_at, ended_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.AgentID, string(e.Status), e.TriggeredBy, triggerCtx, result,
		nullString(e.Error), formatTimePtr(e.StartedAt), formatTimePtr(e.EndedAt), formatTime(e.CreatedAt),
	)
	if isUniqueViolation(err) {
		return store.AlreadyExists("execution", e.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}
	return nil
}

const executionColumns = `id, agent_id, status, triggered_by, trigger_context, result,
	error, started_at, ended_at, created_at`

// GetExecution retrieves an execution by ID.
func (s *Store) GetExecution(ctx context.Context, id string) (*agent.Execution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFound("execution", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return e, nil
}

// UpdateExecution replaces the mutable fields of an execution.
func (s *Store) UpdateExecution(ctx context.Context, e *agent.Execution) error {
	triggerCtx, result, err := encodeExecution(e)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE executions SET status = ?, trigger_context = ?, result = ?, error = ?,
			started_at = ?, ended_at = ?
		WHERE id = ?`,
		string(e.Status), triggerCtx, result, nullString(e.Error),
		formatTimePtr(e.StartedAt), formatTimePtr(e.EndedAt), e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.NotFound("execution", e.ID)
	}
	return nil
}

// ListExecutions returns matching executions newest first.
func (s *Store) ListExecutions(ctx context.Context, filter store.ExecutionFilter) ([]*agent.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE 1=1`
	var args []any
	if filter.AgentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, filter.AgentID)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += ` AND status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?`
	args = append(args, filter.EffectiveLimit(), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var result []*agent.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// DeleteExecutionsBefore removes terminal executions created before cutoff.
func (s *Store) DeleteExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM executions WHERE created_at < ? AND status IN (?, ?, ?)`,
		formatTime(cutoff),
		string(agent.StatusSuccess), string(agent.StatusFailed), string(agent.StatusCancelled),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete executions: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAgent(row scanner) (*agent.Agent, error) {
	var a agent.Agent
	var triggerType, cfgJSON, actionsJSON, createdAt, updatedAt string
	var description, projectID, ownerID sql.NullString

	if err := row.Scan(&a.ID, &a.Name, &description, &triggerType, &cfgJSON, &actionsJSON,
		&a.Enabled, &projectID, &ownerID, &a.ContinueOnError, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	a.Description = description.String
	a.TriggerType = agent.TriggerType(triggerType)
	a.OwnerID = ownerID.String
	if projectID.Valid && projectID.String != "" {
		a.ProjectID = agent.StringPtr(projectID.String)
	}
	if err := json.Unmarshal([]byte(cfgJSON), &a.TriggerConfig); err != nil {
		return nil, fmt.Errorf("decoding trigger_config: %w", err)
	}
	if err := json.Unmarshal([]byte(actionsJSON), &a.Actions); err != nil {
		return nil, fmt.Errorf("decoding actions: %w", err)
	}
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}

func scanExecution(row scanner) (*agent.Execution, error) {
	var e agent.Execution
	var status, createdAt string
	var triggerCtx, result, errStr, startedAt, endedAt sql.NullString

	if err := row.Scan(&e.ID, &e.AgentID, &status, &e.TriggeredBy, &triggerCtx, &result,
		&errStr, &startedAt, &endedAt, &createdAt); err != nil {
		return nil, err
	}

	e.Status = agent.ExecutionStatus(status)
	e.Error = errStr.String
	e.CreatedAt = parseTime(createdAt)
	e.StartedAt = parseTimePtr(startedAt)
	e.EndedAt = parseTimePtr(endedAt)
	if triggerCtx.Valid && triggerCtx.String != "" {
		if err := json.Unmarshal([]byte(triggerCtx.String), &e.TriggerContext); err != nil {
			return nil, fmt.Errorf("decoding trigger_context: %w", err)
		}
	}
	if result.Valid && result.String != "" {
		e.Result = &agent.ExecutionResult{}
		if err := json.Unmarshal([]byte(result.String), e.Result); err != nil {
			return nil, fmt.Errorf("decoding result: %w", err)
		}
	}
	return &e, nil
}

func encodeAgent(a *agent.Agent) (cfg, actions string, err error) {
	cfgJSON, err := json.Marshal(a.TriggerConfig)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal trigger_config: %w", err)
	}
	actionsJSON, err := json.Marshal(a.Actions)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal actions: %w", err)
	}
	return string(cfgJSON), string(actionsJSON), nil
}

func encodeExecution(e *agent.Execution) (triggerCtx, result sql.NullString, err error) {
	if len(e.TriggerContext) > 0 {
		b, err := json.Marshal(e.TriggerContext)
		if err != nil {
			return triggerCtx, result, fmt.Errorf("failed to marshal trigger_context: %w", err)
		}
		triggerCtx = sql.NullString{String: string(b), Valid: true}
	}
	if e.Result != nil {
		b, err := json.Marshal(e.Result)
		if err != nil {
			return triggerCtx, result, fmt.Errorf("failed to marshal result: %w", err)
		}
		result = sql.NullString{String: string(b), Valid: true}
	}
	return triggerCtx, result, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
