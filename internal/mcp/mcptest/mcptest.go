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

// Package mcptest provides an in-process MCP server for tests.
package mcptest

import (
	"context"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	agentmcp "github.com/thornburywn2/console-web-sub013/internal/mcp"
)

// ServerID is the id under which NewRegistry exposes the test server.
const ServerID = "test"

// NewServer returns a server with three tools:
//
//	echo  returns its "text" argument
//	fail  reports a tool error
//	block waits until the call is cancelled
func NewServer() *server.MCPServer {
	srv := server.NewMCPServer("mcptest", "1.0.0")

	srv.AddTool(mcp.NewTool("echo",
		mcp.WithDescription("Echo the text argument"),
		mcp.WithString("text", mcp.Required()),
	), func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText(req.GetString("text", "")), nil
	})

	srv.AddTool(mcp.NewTool("fail",
		mcp.WithDescription("Always fails"),
	), func(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultError("tool failed on purpose"), nil
	})

	srv.AddTool(mcp.NewTool("block",
		mcp.WithDescription("Blocks until cancelled"),
	), func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	return srv
}

// NewRegistry returns a registry whose ServerID server is srv, plus a
// configured server named "offline" that always fails to connect. The
// registry is closed when the test ends.
func NewRegistry(t testing.TB, srv *server.MCPServer) *agentmcp.Registry {
	t.Helper()
	reg := agentmcp.NewRegistry(
		map[string]agentmcp.ServerConfig{
			ServerID:  {Command: "in-process"},
			"offline": {Command: "offline"},
		},
		agentmcp.WithDialer(func(ctx context.Context, name string, _ agentmcp.ServerConfig) (*agentmcp.Client, error) {
			if name != ServerID {
				return nil, errors.New("connection refused")
			}
			return agentmcp.NewInProcessClient(ctx, name, srv)
		}),
	)
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}
