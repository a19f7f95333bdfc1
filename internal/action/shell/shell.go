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

// Package shell runs shell actions through sh -c.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"
)

const (
	// DefaultMaxOutputBytes caps captured stdout and stderr, each.
	DefaultMaxOutputBytes = 64 * 1024

	// DefaultWaitDelay is how long to wait for pipes to close after the
	// process group has been killed.
	DefaultWaitDelay = 2 * time.Second

	truncatedMarker = "\n...[truncated]"
)

// Config holds configuration for the shell runner.
type Config struct {
	// Shell is the interpreter invoked with -c (default: sh)
	Shell string

	// MaxOutputBytes limits captured stdout and stderr (default: 64KiB)
	MaxOutputBytes int

	// WaitDelay bounds the wait for I/O after the command is killed
	WaitDelay time.Duration

	// BaseEnv is the environment commands inherit (default: os.Environ())
	BaseEnv []string
}

// Request is a single command invocation.
type Request struct {
	Command string
	Dir     string
	// Env is merged over the base environment.
	Env map[string]string
}

// Output is the captured result of a command. It is returned even when the
// command fails.
type Output struct {
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	ExitCode  int    `json:"exitCode"`
	Truncated bool   `json:"truncated,omitempty"`
}

// ExitError reports a command that ran and exited non-zero.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("command exited with code %d: %s", e.Code, e.Stderr)
	}
	return fmt.Sprintf("command exited with code %d", e.Code)
}

// Runner executes commands.
type Runner struct {
	config Config
}

// New creates a runner, filling unset config fields with defaults.
func New(config Config) *Runner {
	if config.Shell == "" {
		config.Shell = "sh"
	}
	if config.MaxOutputBytes <= 0 {
		config.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if config.WaitDelay <= 0 {
		config.WaitDelay = DefaultWaitDelay
	}
	if config.BaseEnv == nil {
		config.BaseEnv = os.Environ()
	}
	return &Runner{config: config}
}

// Run executes req and blocks until the command exits or ctx is done. When
// ctx ends first the whole process group is killed and the context error
// is returned wrapped.
func (r *Runner) Run(ctx context.Context, req Request) (*Output, error) {
	if strings.TrimSpace(req.Command) == "" {
		return nil, errors.New("command is required")
	}

	cmd := exec.CommandContext(ctx, r.config.Shell, "-c", req.Command)
	cmd.Dir = req.Dir
	cmd.Env = mergeEnv(r.config.BaseEnv, req.Env)
	cmd.WaitDelay = r.config.WaitDelay
	setProcessGroup(cmd)

	stdout := newCappedBuffer(r.config.MaxOutputBytes)
	stderr := newCappedBuffer(r.config.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()

	out := &Output{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		ExitCode:  cmd.ProcessState.ExitCode(),
		Truncated: stdout.truncated || stderr.truncated,
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, fmt.Errorf("command interrupted: %w", ctxErr)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out, &ExitError{Code: exitErr.ExitCode(), Stderr: strings.TrimSpace(out.Stderr)}
		}
		return out, fmt.Errorf("failed to run command: %w", err)
	}
	return out, nil
}

func mergeEnv(base []string, extra map[string]string) []string {
	env := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		if k, _, ok := strings.Cut(kv, "="); ok {
			if _, override := extra[k]; override {
				continue
			}
		}
		env = append(env, kv)
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

// cappedBuffer keeps the first limit bytes written and discards the rest
// while still reporting full writes, so the child never sees EPIPE.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()
	switch {
	case room <= 0:
		if len(p) > 0 {
			b.truncated = true
		}
	case len(p) > room:
		b.buf.Write(p[:room])
		b.truncated = true
	default:
		b.buf.Write(p)
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + truncatedMarker
	}
	return b.buf.String()
}
