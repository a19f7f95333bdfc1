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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// DefaultConnectTimeout bounds startup and initialization of a server.
const DefaultConnectTimeout = 30 * time.Second

// Client wraps an MCP server connection and provides methods to interact with it.
type Client struct {
	// serverName is the configured identifier for this MCP server
	serverName string

	// client is the underlying MCP protocol client
	client *client.Client

	mu    sync.RWMutex
	tools map[string]ToolDefinition
}

// NewClient connects to the server described by config and performs the
// MCP initialize handshake.
func NewClient(ctx context.Context, name string, config ServerConfig) (*Client, error) {
	var (
		mcpClient *client.Client
		err       error
	)
	switch {
	case config.Command != "" && config.URL != "":
		return nil, NewMCPError(ErrorCodeValidation, "server must set either command or url, not both")
	case config.Command != "":
		mcpClient, err = client.NewStdioMCPClient(config.Command, config.Env, config.Args...)
	case config.URL != "":
		mcpClient, err = client.NewStreamableHttpClient(config.URL, transport.WithHTTPHeaders(config.Headers))
	default:
		return nil, NewMCPError(ErrorCodeValidation, "server needs a command or a url")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client: %w", err)
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = DefaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return connect(ctx, name, mcpClient)
}

// NewInProcessClient connects to an MCP server running in this process.
func NewInProcessClient(ctx context.Context, name string, srv *server.MCPServer) (*Client, error) {
	mcpClient, err := client.NewInProcessClient(srv)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client: %w", err)
	}
	return connect(ctx, name, mcpClient)
}

func connect(ctx context.Context, name string, mcpClient *client.Client) (*Client, error) {
	if err := mcpClient.Start(ctx); err != nil {
		_ = mcpClient.Close()
		return nil, fmt.Errorf("failed to start MCP client: %w", err)
	}

	c := &Client{serverName: name, client: mcpClient}
	if err := c.initialize(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize MCP server: %w", err)
	}
	// A server without tool support still connects; calls fail later
	// with a tool error.
	_, _ = c.refreshTools(ctx)
	return c, nil
}

// initialize sends the initialize request to the MCP server.
func (c *Client) initialize(ctx context.Context) error {
	initReq := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo: mcp.Implementation{
				Name:    "console-agentd",
				Version: "0.1.0",
			},
		},
	}
	if _, err := c.client.Initialize(ctx, initReq); err != nil {
		return fmt.Errorf("initialize request failed: %w", err)
	}
	return nil
}

func (c *Client) refreshTools(ctx context.Context) ([]ToolDefinition, error) {
	result, err := c.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	tools := make(map[string]ToolDefinition, len(result.Tools))
	list := make([]ToolDefinition, 0, len(result.Tools))
	for _, tool := range result.Tools {
		def := ToolDefinition{Name: tool.Name, Description: tool.Description}
		tools[tool.Name] = def
		list = append(list, def)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })

	c.mu.Lock()
	c.tools = tools
	c.mu.Unlock()
	return list, nil
}

// ListTools retrieves the list of available tools from the MCP server.
func (c *Client) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	return c.refreshTools(ctx)
}

// HasTool reports whether the server offered the tool when last listed.
func (c *Client) HasTool(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.tools[name]
	return ok
}

// CallTool executes a tool. A tool missing from the server's list is
// re-checked once before ErrToolNotFound is returned.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	if !c.HasTool(name) {
		if _, err := c.refreshTools(ctx); err != nil {
			return nil, ErrCallFailed(c.serverName, name, err)
		}
		if !c.HasTool(name) {
			return nil, ErrToolNotFound(c.serverName, name)
		}
	}

	result, err := c.client.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	})
	if err != nil {
		return nil, ErrCallFailed(c.serverName, name, err)
	}

	response := &ToolResult{
		IsError:    result.IsError,
		Structured: result.StructuredContent,
		Content:    make([]ContentItem, len(result.Content)),
	}
	for i, content := range result.Content {
		item, err := convertContent(content)
		if err != nil {
			return nil, err
		}
		response.Content[i] = item
	}
	return response, nil
}

func convertContent(content mcp.Content) (ContentItem, error) {
	if textContent, ok := mcp.AsTextContent(content); ok {
		return ContentItem{Type: textContent.Type, Text: textContent.Text}, nil
	}
	if imageContent, ok := mcp.AsImageContent(content); ok {
		return ContentItem{Type: imageContent.Type, Data: imageContent.Data, MimeType: imageContent.MIMEType}, nil
	}

	// Fallback: marshal to JSON to extract fields
	contentBytes, err := json.Marshal(content)
	if err != nil {
		return ContentItem{}, fmt.Errorf("failed to marshal content: %w", err)
	}
	var item ContentItem
	if err := json.Unmarshal(contentBytes, &item); err != nil {
		return ContentItem{}, fmt.Errorf("failed to unmarshal content: %w", err)
	}
	return item, nil
}

// ServerName returns the configured identifier for this server.
func (c *Client) ServerName() string {
	return c.serverName
}

// Ping checks if the server is still responsive.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("server connection closed")
		}
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

// Close closes the connection to the MCP server and stops the process.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close MCP client: %w", err)
	}
	return nil
}
