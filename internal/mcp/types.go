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
	"strings"
	"time"
)

// ServerConfig describes how to reach one MCP server. Exactly one of
// Command or URL is set.
type ServerConfig struct {
	// Command is the executable speaking MCP over stdio
	Command string
	// Args are the command-line arguments
	Args []string
	// Env are extra KEY=VALUE pairs passed to the command
	Env []string

	// URL is a streamable HTTP endpoint
	URL string
	// Headers are sent with every HTTP request
	Headers map[string]string

	// Timeout bounds connection setup (defaults to 30s)
	Timeout time.Duration
}

// ToolDefinition is a tool offered by a server.
type ToolDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ToolResult is the outcome of a tool call.
type ToolResult struct {
	// Content contains the tool's output
	Content []ContentItem `json:"content"`

	// Structured is the tool's structured output, when it returns one
	Structured any `json:"structured,omitempty"`

	// IsError indicates the tool reported a failure
	IsError bool `json:"isError,omitempty"`
}

// ContentItem represents a piece of content in a tool result.
type ContentItem struct {
	// Type is the content type (text, image, resource)
	Type string `json:"type"`

	// Text is the text content (for type="text")
	Text string `json:"text,omitempty"`

	// Data is the base64-encoded data (for type="image")
	Data string `json:"data,omitempty"`

	// MimeType is the MIME type for binary content
	MimeType string `json:"mimeType,omitempty"`
}

// Text joins the text items of the result.
func (r *ToolResult) Text() string {
	var parts []string
	for _, c := range r.Content {
		if c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

