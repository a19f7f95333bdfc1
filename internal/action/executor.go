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

// Package action executes the individual steps of an agent: shell
// commands, outbound API calls and MCP tool invocations.
package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/thornburywn2/console-web-sub013/internal/action/http"
	"github.com/thornburywn2/console-web-sub013/internal/action/shell"
	"github.com/thornburywn2/console-web-sub013/internal/agent"
	"github.com/thornburywn2/console-web-sub013/internal/jq"
	"github.com/thornburywn2/console-web-sub013/internal/mcp"
)

// DefaultTimeout applies to actions that set no timeout of their own.
const DefaultTimeout = 5 * time.Minute

// ToolCaller invokes MCP tools. *mcp.Registry implements it.
type ToolCaller interface {
	CallTool(ctx context.Context, serverID, tool string, args map[string]any) (*mcp.ToolResult, error)
}

// ExecContext carries what an action needs to know about the execution
// it belongs to.
type ExecContext struct {
	// WorkDir is the resolved project directory, or the default directory
	// for global agents.
	WorkDir     string
	AgentID     string
	ExecutionID string
	ProjectID   string
	TriggeredBy string
	// TriggerContext holds trigger details such as a changed file path
	// or hook arguments.
	TriggerContext map[string]any
}

// Result is the outcome of one action. Output is set whenever the action
// produced any, including on failure.
type Result struct {
	OK       bool
	Output   any
	Err      *ActionError
	Duration time.Duration
}

// Config configures an Executor.
type Config struct {
	// DefaultTimeout bounds actions without their own timeout.
	DefaultTimeout time.Duration
	// MaxOutputBytes caps captured shell output per stream.
	MaxOutputBytes int
}

// Executor runs actions. It is safe for concurrent use.
type Executor struct {
	defaultTimeout time.Duration
	shell          *shell.Runner
	http           *http.Client
	jq             *jq.Executor
	tools          ToolCaller
}

// Option configures an Executor.
type Option func(*Executor)

// WithToolCaller sets the MCP tool caller. Without one every mcp action
// fails as server_unreachable.
func WithToolCaller(tc ToolCaller) Option {
	return func(e *Executor) { e.tools = tc }
}

// WithHTTPClient replaces the API action client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) { e.http = c }
}

// WithShellRunner replaces the shell runner.
func WithShellRunner(r *shell.Runner) Option {
	return func(e *Executor) { e.shell = r }
}

// New creates an Executor.
func New(cfg Config, opts ...Option) *Executor {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	e := &Executor{
		defaultTimeout: cfg.DefaultTimeout,
		shell:          shell.New(shell.Config{MaxOutputBytes: cfg.MaxOutputBytes}),
		http:           http.New(http.DefaultConfig()),
		jq:             jq.NewExecutor(0, 0),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Timeout returns the timeout that applies to a.
func (e *Executor) Timeout(a agent.Action) time.Duration {
	return a.TimeoutOr(e.defaultTimeout)
}

// Execute runs one action. It never panics on bad input and never returns
// a Go error: every failure is reported in Result.Err. When ctx is
// cancelled the action is stopped and reported as cancelled; when the
// action's own timeout fires it is reported as a timeout.
func (e *Executor) Execute(ctx context.Context, spec agent.ActionSpec, ec ExecContext) Result {
	start := time.Now()
	if spec.Action == nil {
		return Result{Err: newError(KindInvalid, nil, "action is empty"), Duration: time.Since(start)}
	}
	if err := spec.Validate(); err != nil {
		return Result{Err: newError(KindInvalid, err, "%s", err.Error()), Duration: time.Since(start)}
	}

	timeout := e.Timeout(spec.Action)
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		out  any
		aerr *ActionError
	)
	switch a := spec.Action.(type) {
	case *agent.ShellAction:
		out, aerr = e.runShell(actx, a, ec)
	case *agent.APIAction:
		out, aerr = e.callAPI(actx, a)
	case *agent.MCPAction:
		out, aerr = e.callTool(actx, a)
	default:
		aerr = newError(KindInternal, nil, "unsupported action type %T", a)
	}

	if aerr != nil {
		switch {
		case ctx.Err() != nil:
			aerr = newError(KindCancelled, ctx.Err(), "%s action cancelled", spec.Type())
		case errors.Is(actx.Err(), context.DeadlineExceeded) && aerr.Kind != KindTimeout:
			aerr = newError(KindTimeout, aerr, "%s action timed out after %s", spec.Type(), timeout)
		}
	}
	return Result{OK: aerr == nil, Output: out, Err: aerr, Duration: time.Since(start)}
}

func (e *Executor) runShell(ctx context.Context, a *agent.ShellAction, ec ExecContext) (any, *ActionError) {
	req := shell.Request{
		Command: a.Command,
		Dir:     resolveDir(ec.WorkDir, a.Dir),
		Env:     buildEnv(a.Env, ec),
	}
	out, err := e.shell.Run(ctx, req)
	if err == nil {
		return out, nil
	}

	var exitErr *shell.ExitError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return out, newError(KindTimeout, err, "command killed after timeout")
	case errors.Is(err, context.Canceled):
		return out, newError(KindCancelled, err, "command cancelled")
	case errors.As(err, &exitErr):
		aerr := newError(KindExit, err, "%s", exitErr.Error())
		aerr.ExitCode = exitErr.Code
		return out, aerr
	default:
		return out, newError(KindInternal, err, "%s", err.Error())
	}
}

func (e *Executor) callAPI(ctx context.Context, a *agent.APIAction) (any, *ActionError) {
	if a.Extract != "" {
		if err := e.jq.Validate(a.Extract); err != nil {
			return nil, newError(KindInvalid, err, "%s", err.Error())
		}
	}

	resp, err := e.http.Do(ctx, http.Request{
		Method:  a.MethodOrDefault(),
		URL:     a.URL,
		Headers: a.Headers,
		Body:    a.Body,
	})
	if err != nil {
		var (
			statusErr  *http.StatusError
			urlErr     *http.InvalidURLError
			timeoutErr *http.TimeoutError
		)
		switch {
		case errors.As(err, &statusErr):
			aerr := newError(KindHTTP, err, "%s %s returned %d", a.MethodOrDefault(), a.URL, statusErr.StatusCode)
			aerr.StatusCode = statusErr.StatusCode
			aerr.Body = statusErr.Body
			return nil, aerr
		case errors.As(err, &urlErr):
			return nil, newError(KindInvalid, err, "%s", err.Error())
		case errors.As(err, &timeoutErr):
			return nil, newError(KindTimeout, err, "%s", err.Error())
		case errors.Is(err, context.Canceled):
			return nil, newError(KindCancelled, err, "request cancelled")
		default:
			return nil, newError(KindHTTP, err, "%s", err.Error())
		}
	}

	if a.Extract == "" {
		return resp, nil
	}
	if !resp.JSON {
		return resp, newError(KindInvalid, nil, "extract requires a JSON response from %s", a.URL)
	}
	extracted, err := e.jq.Execute(ctx, a.Extract, resp.Body)
	if err != nil {
		return resp, newError(KindInvalid, err, "extract %q failed: %s", a.Extract, err.Error())
	}
	return extracted, nil
}

func (e *Executor) callTool(ctx context.Context, a *agent.MCPAction) (any, *ActionError) {
	if e.tools == nil {
		return nil, newError(KindServerUnreachable, nil, "no MCP servers are configured")
	}
	res, err := e.tools.CallTool(ctx, a.ServerID, a.ToolName, a.Args)
	if err != nil {
		var mcpErr *mcp.MCPError
		if !errors.As(err, &mcpErr) {
			return nil, newError(KindTool, err, "%s", err.Error())
		}
		switch mcpErr.Code {
		case mcp.ErrorCodeNotFound, mcp.ErrorCodeConnectFailed, mcp.ErrorCodeClosed:
			return nil, newError(KindServerUnreachable, err, "%s", err.Error())
		case mcp.ErrorCodeToolNotFound:
			return nil, newError(KindToolNotFound, err, "%s", err.Error())
		default:
			return nil, newError(KindTool, err, "%s", err.Error())
		}
	}
	if res.IsError {
		msg := res.Text()
		if msg == "" {
			msg = fmt.Sprintf("tool %s reported an error", a.ToolName)
		}
		return res, newError(KindTool, nil, "%s", msg)
	}
	return res, nil
}

// resolveDir joins a relative action dir onto the working directory.
func resolveDir(workDir, dir string) string {
	switch {
	case dir == "":
		return workDir
	case filepath.IsAbs(dir) || workDir == "":
		return dir
	default:
		return filepath.Join(workDir, dir)
	}
}

// buildEnv exports the execution identity and trigger context as AGENT_*
// variables. Action-level env entries win over generated ones.
func buildEnv(actionEnv map[string]string, ec ExecContext) map[string]string {
	env := map[string]string{
		"AGENT_ID":           ec.AgentID,
		"AGENT_EXECUTION_ID": ec.ExecutionID,
		"AGENT_TRIGGERED_BY": ec.TriggeredBy,
		"AGENT_PROJECT_ID":   ec.ProjectID,
		"AGENT_WORK_DIR":     ec.WorkDir,
	}
	keys := make([]string, 0, len(ec.TriggerContext))
	for k := range ec.TriggerContext {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env["AGENT_TRIGGER_"+envName(k)] = envValue(ec.TriggerContext[k])
	}
	for k, v := range actionEnv {
		env[k] = v
	}
	return env
}

// envName converts a context key such as "filePath" to FILE_PATH.
func envName(key string) string {
	var b strings.Builder
	prevLower := false
	for _, r := range key {
		switch {
		case unicode.IsUpper(r):
			if prevLower {
				b.WriteByte('_')
			}
			b.WriteRune(r)
			prevLower = false
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToUpper(r))
			prevLower = unicode.IsLower(r) || unicode.IsDigit(r)
		default:
			b.WriteByte('_')
			prevLower = false
		}
	}
	return b.String()
}

func envValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
