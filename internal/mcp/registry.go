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

package mcp

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
)

// Dialer opens a connection to a configured server.
type Dialer func(ctx context.Context, name string, config ServerConfig) (*Client, error)

// Registry holds the configured servers and their live connections.
// It is safe for concurrent use.
type Registry struct {
	servers map[string]ServerConfig
	dial    Dialer
	logger  *slog.Logger

	mu      sync.Mutex
	clients map[string]*Client
	// dialing serializes connection attempts per server.
	dialing map[string]*sync.Mutex
	closed  bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDialer replaces the default dialer, which is NewClient.
func WithDialer(d Dialer) RegistryOption {
	return func(r *Registry) { r.dial = d }
}

// WithLogger sets the logger used for connection events.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry creates a registry over the given servers. No connection is
// made until a tool is called.
func NewRegistry(servers map[string]ServerConfig, opts ...RegistryOption) *Registry {
	r := &Registry{
		servers: make(map[string]ServerConfig, len(servers)),
		dial:    NewClient,
		logger:  slog.Default(),
		clients: make(map[string]*Client),
		dialing: make(map[string]*sync.Mutex),
	}
	for name, cfg := range servers {
		r.servers[name] = cfg
		r.dialing[name] = &sync.Mutex{}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Servers returns the configured server ids, sorted.
func (r *Registry) Servers() []string {
	names := make([]string, 0, len(r.servers))
	for name := range r.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CallTool calls tool on server, connecting first if needed. Errors are
// *MCPError values: ErrorCodeNotFound and ErrorCodeConnectFailed when the
// server cannot be used, ErrorCodeToolNotFound for an unknown tool and
// ErrorCodeCallFailed when the call breaks in transport. A tool that runs
// and reports failure is not an error; see ToolResult.IsError.
func (r *Registry) CallTool(ctx context.Context, serverID, tool string, args map[string]any) (*ToolResult, error) {
	c, err := r.client(ctx, serverID)
	if err != nil {
		return nil, err
	}
	result, err := c.CallTool(ctx, tool, args)
	if err != nil && IsCode(err, ErrorCodeCallFailed) && ctx.Err() == nil {
		// The connection is suspect; the next call reconnects.
		r.drop(serverID, c)
	}
	return result, err
}

// ListTools lists the tools of one server.
func (r *Registry) ListTools(ctx context.Context, serverID string) ([]ToolDefinition, error) {
	c, err := r.client(ctx, serverID)
	if err != nil {
		return nil, err
	}
	return c.ListTools(ctx)
}

func (r *Registry) client(ctx context.Context, serverID string) (*Client, error) {
	cfg, ok := r.servers[serverID]
	if !ok {
		return nil, ErrServerNotFound(serverID)
	}

	lock := r.dialing[serverID]
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, NewMCPError(ErrorCodeClosed, "MCP registry is closed")
	}
	if c, ok := r.clients[serverID]; ok {
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()

	r.logger.Debug("connecting to MCP server", slog.String("server", serverID))
	c, err := r.dial(ctx, serverID, cfg)
	if err != nil {
		var mcpErr *MCPError
		if errors.As(err, &mcpErr) && mcpErr.Code == ErrorCodeConnectFailed {
			return nil, err
		}
		return nil, ErrConnectFailed(serverID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		_ = c.Close()
		return nil, NewMCPError(ErrorCodeClosed, "MCP registry is closed")
	}
	r.clients[serverID] = c
	return c, nil
}

func (r *Registry) drop(serverID string, c *Client) {
	r.mu.Lock()
	if r.clients[serverID] == c {
		delete(r.clients, serverID)
	} else {
		c = nil
	}
	r.mu.Unlock()
	if c != nil {
		if err := c.Close(); err != nil {
			r.logger.Debug("closing MCP client", slog.String("server", serverID), slog.Any("error", err))
		}
	}
}

// Close disconnects every server. Further calls fail.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	clients := r.clients
	r.clients = make(map[string]*Client)
	r.mu.Unlock()

	var errs []error
	for _, c := range clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
