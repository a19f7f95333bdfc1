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

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/thornburywn2/console-web-sub013/internal/agent"
	"github.com/thornburywn2/console-web-sub013/internal/log"
	"github.com/thornburywn2/console-web-sub013/internal/runner"
	"github.com/thornburywn2/console-web-sub013/internal/store"
	"github.com/thornburywn2/console-web-sub013/internal/trigger"
	agenterrors "github.com/thornburywn2/console-web-sub013/pkg/errors"
)

// HealthResponse is returned by GET /v1/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Uptime  string `json:"uptime"`
}

// StatusResponse is returned by GET /v1/status.
type StatusResponse struct {
	*runner.Status
	Schedules []trigger.ScheduleInfo `json:"schedules"`
}

// StopResponse is returned by POST /v1/agents/{id}/stop.
type StopResponse struct {
	Stopped bool `json:"stopped"`
	// Warning is set when the cancel was delivered but the execution had
	// not recorded its result before the stop timeout.
	Warning string `json:"warning,omitempty"`
}

// ReloadResponse is returned by POST /v1/agents/{id}/reload. Install
// problems are warnings; the reload itself succeeded.
type ReloadResponse struct {
	Reloaded bool     `json:"reloaded"`
	Warnings []string `json:"warnings,omitempty"`
}

// ExecutionsResponse is returned by GET /v1/agents/{id}/executions.
type ExecutionsResponse struct {
	Executions []*agent.Execution `json:"executions"`
	Limit      int                `json:"limit"`
	Offset     int                `json:"offset"`
}

// HookRequest is posted by git hook scripts.
type HookRequest struct {
	Project string   `json:"project"`
	Hook    string   `json:"hook"`
	Branch  string   `json:"branch,omitempty"`
	Args    []string `json:"args,omitempty"`
}

// EventRequest publishes a session or system event.
type EventRequest struct {
	Type      agent.TriggerType `json:"type"`
	ProjectID string            `json:"projectId,omitempty"`
	Data      map[string]any    `json:"data,omitempty"`
}

// SubmittedResponse reports how many agents an event fired.
type SubmittedResponse struct {
	Submitted int `json:"submitted"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: s.cfg.Version,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Status: s.runner.GetStatus(), Schedules: []trigger.ScheduleInfo{}}
	if s.triggers != nil {
		resp.Schedules = s.triggers.Schedules()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) runAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	exec, err := s.runner.RunAgent(r.Context(), agentID, agent.TriggeredByManual)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, exec)
}

func (s *Server) stopAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	stopped, err := s.runner.StopAgent(r.Context(), agentID)
	var timeout *agenterrors.TimeoutError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, StopResponse{Stopped: stopped})
	case stopped && errors.As(err, &timeout):
		writeJSON(w, http.StatusOK, StopResponse{Stopped: true, Warning: err.Error()})
	default:
		writeErr(w, err)
	}
}

func (s *Server) reloadAgent(w http.ResponseWriter, r *http.Request) {
	if s.triggers == nil {
		writeError(w, http.StatusServiceUnavailable, "triggers are not enabled")
		return
	}
	agentID := chi.URLParam(r, "agentId")
	err := s.triggers.ReloadAgent(r.Context(), agentID)
	var installErr *trigger.InstallError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, ReloadResponse{Reloaded: true})
	case errors.As(err, &installErr):
		writeJSON(w, http.StatusOK, ReloadResponse{Reloaded: true, Warnings: []string{err.Error()}})
	default:
		writeErr(w, err)
	}
}

func (s *Server) listExecutions(w http.ResponseWriter, r *http.Request) {
	filter := store.ExecutionFilter{AgentID: chi.URLParam(r, "agentId")}
	var err error
	if filter.Limit, err = intParam(r, "limit"); err != nil {
		writeErr(w, err)
		return
	}
	if filter.Offset, err = intParam(r, "offset"); err != nil {
		writeErr(w, err)
		return
	}
	execs, err := s.executions.ListExecutions(r.Context(), filter)
	if err != nil {
		writeErr(w, err)
		return
	}
	if execs == nil {
		execs = []*agent.Execution{}
	}
	writeJSON(w, http.StatusOK, ExecutionsResponse{
		Executions: execs,
		Limit:      filter.EffectiveLimit(),
		Offset:     filter.Offset,
	})
}

func (s *Server) getExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.executions.GetExecution(r.Context(), chi.URLParam(r, "executionId"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) hookCallback(w http.ResponseWriter, r *http.Request) {
	claims, err := s.hooks.Validate(bearerToken(r))
	if err != nil {
		s.requestLogger(r).Warn("hook callback rejected", log.Error(err))
		writeError(w, http.StatusUnauthorized, "invalid hook token")
		return
	}

	var req HookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if !claims.Allows(req.Project, req.Hook) {
		writeError(w, http.StatusForbidden, "token is not valid for this project and hook")
		return
	}
	tt, ok := agent.TriggerTypeForHook(req.Hook)
	if !ok {
		writeErr(w, &agenterrors.ValidationError{Field: "hook", Message: "unknown git hook " + req.Hook})
		return
	}

	data := map[string]any{"hook": req.Hook}
	if req.Branch != "" {
		data["branch"] = req.Branch
	}
	if len(req.Args) > 0 {
		data["args"] = req.Args
	}
	n, err := s.triggers.Fire(r.Context(), trigger.Event{Type: tt, ProjectID: req.Project, Data: data})
	if err != nil && n == 0 {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, SubmittedResponse{Submitted: n})
}

func (s *Server) publishEvent(w http.ResponseWriter, r *http.Request) {
	if s.triggers == nil {
		writeError(w, http.StatusServiceUnavailable, "triggers are not enabled")
		return
	}
	var req EventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if !req.Type.IsEvent() {
		writeErr(w, &agenterrors.ValidationError{
			Field:      "type",
			Message:    "only session and system lifecycle events can be published",
			Suggestion: "use SESSION_START, SESSION_END, SESSION_IDLE, SYSTEM_STARTUP or SYSTEM_SHUTDOWN",
		})
		return
	}
	err := s.triggers.Publish(trigger.Event{Type: req.Type, ProjectID: req.ProjectID, Data: req.Data})
	switch {
	case errors.Is(err, trigger.ErrBusFull):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, err.Error())
	case err != nil:
		writeErr(w, err)
	default:
		writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
	}
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, &agenterrors.ValidationError{Field: name, Message: "must be a non-negative integer"}
	}
	return v, nil
}
