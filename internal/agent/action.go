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

package agent

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	agenterrors "github.com/thornburywn2/console-web-sub013/pkg/errors"
)

// ActionType is the discriminator of the Action union.
type ActionType string

const (
	ActionShell ActionType = "shell"
	ActionAPI   ActionType = "api"
	ActionMCP   ActionType = "mcp"
)

// Action is one step of an agent. The set of implementations is closed:
// *ShellAction, *APIAction and *MCPAction.
type Action interface {
	// Type returns the discriminator written to the "type" key.
	Type() ActionType
	// Validate checks the variant's required fields.
	Validate() error
	// TimeoutOr returns the action's own timeout, or def when unset.
	TimeoutOr(def time.Duration) time.Duration

	sealed()
}

// ShellAction runs a command through sh -c.
type ShellAction struct {
	Command string            `json:"command" yaml:"command"`
	Dir     string            `json:"dir,omitempty" yaml:"dir,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Timeout Duration          `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// APIAction issues one outbound HTTP request.
type APIAction struct {
	URL     string            `json:"url" yaml:"url"`
	Method  string            `json:"method,omitempty" yaml:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	// Body is sent verbatim when it is a string and JSON-encoded otherwise.
	Body any `json:"body,omitempty" yaml:"body,omitempty"`
	// Extract is a jq expression applied to a JSON response body.
	Extract string   `json:"extract,omitempty" yaml:"extract,omitempty"`
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// MCPAction calls a tool on a configured MCP server.
type MCPAction struct {
	ServerID string         `json:"serverId" yaml:"serverId"`
	ToolName string         `json:"toolName" yaml:"toolName"`
	Args     map[string]any `json:"args,omitempty" yaml:"args,omitempty"`
	Timeout  Duration       `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

func (*ShellAction) sealed() {}
func (*APIAction) sealed()   {}
func (*MCPAction) sealed()   {}

// Type implements Action.
func (*ShellAction) Type() ActionType { return ActionShell }

// Type implements Action.
func (*APIAction) Type() ActionType { return ActionAPI }

// Type implements Action.
func (*MCPAction) Type() ActionType { return ActionMCP }

// TimeoutOr implements Action.
func (a *ShellAction) TimeoutOr(def time.Duration) time.Duration { return orDefault(a.Timeout, def) }

// TimeoutOr implements Action.
func (a *APIAction) TimeoutOr(def time.Duration) time.Duration { return orDefault(a.Timeout, def) }

// TimeoutOr implements Action.
func (a *MCPAction) TimeoutOr(def time.Duration) time.Duration { return orDefault(a.Timeout, def) }

func orDefault(d Duration, def time.Duration) time.Duration {
	if d > 0 {
		return d.Std()
	}
	return def
}

// Validate implements Action.
func (a *ShellAction) Validate() error {
	if strings.TrimSpace(a.Command) == "" {
		return &agenterrors.ValidationError{Field: "command", Message: "shell action requires a command"}
	}
	return nil
}

// MethodOrDefault returns the upper-cased method, GET when unset.
func (a *APIAction) MethodOrDefault() string {
	if a.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(a.Method)
}

// Validate implements Action.
func (a *APIAction) Validate() error {
	if a.URL == "" {
		return &agenterrors.ValidationError{Field: "url", Message: "api action requires a url"}
	}
	u, err := url.Parse(a.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return &agenterrors.ValidationError{
			Field:      "url",
			Message:    fmt.Sprintf("invalid url %q", a.URL),
			Suggestion: "use an absolute http:// or https:// URL",
		}
	}
	switch a.MethodOrDefault() {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions:
	default:
		return &agenterrors.ValidationError{Field: "method", Message: fmt.Sprintf("unsupported method %q", a.Method)}
	}
	return nil
}

// Validate implements Action.
func (a *MCPAction) Validate() error {
	if a.ServerID == "" {
		return &agenterrors.ValidationError{Field: "serverId", Message: "mcp action requires a serverId"}
	}
	if a.ToolName == "" {
		return &agenterrors.ValidationError{Field: "toolName", Message: "mcp action requires a toolName"}
	}
	return nil
}

// ActionSpec wraps one Action and encodes it as a tagged object:
//
//	{"type": "shell", "command": "make lint"}
type ActionSpec struct {
	Action Action
}

// Shell builds a shell ActionSpec.
func Shell(command string) ActionSpec { return ActionSpec{Action: &ShellAction{Command: command}} }

// API builds an api ActionSpec.
func API(method, rawURL string) ActionSpec {
	return ActionSpec{Action: &APIAction{Method: method, URL: rawURL}}
}

// MCP builds an mcp ActionSpec.
func MCP(serverID, tool string, args map[string]any) ActionSpec {
	return ActionSpec{Action: &MCPAction{ServerID: serverID, ToolName: tool, Args: args}}
}

// Type returns the wrapped variant's type, or "" for an empty spec.
func (s ActionSpec) Type() ActionType {
	if s.Action == nil {
		return ""
	}
	return s.Action.Type()
}

// Validate checks that a variant is present and valid.
func (s ActionSpec) Validate() error {
	if s.Action == nil {
		return &agenterrors.ValidationError{Field: "type", Message: "action type is required"}
	}
	return s.Action.Validate()
}

func newAction(t ActionType) (Action, error) {
	switch t {
	case ActionShell:
		return &ShellAction{}, nil
	case ActionAPI:
		return &APIAction{}, nil
	case ActionMCP:
		return &MCPAction{}, nil
	case "":
		return nil, &agenterrors.ValidationError{Field: "type", Message: "action type is required"}
	default:
		return nil, &agenterrors.ValidationError{
			Field:      "type",
			Message:    fmt.Sprintf("unknown action type %q", t),
			Suggestion: "use one of shell, api, mcp",
		}
	}
}

type typeTag struct {
	Type ActionType `json:"type" yaml:"type"`
}

// MarshalJSON implements json.Marshaler.
func (s ActionSpec) MarshalJSON() ([]byte, error) {
	if s.Action == nil {
		return []byte("null"), nil
	}
	body, err := json.Marshal(s.Action)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["type"], _ = json.Marshal(s.Action.Type())
	return json.Marshal(fields)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *ActionSpec) UnmarshalJSON(data []byte) error {
	var tag typeTag
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}
	a, err := newAction(tag.Type)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, a); err != nil {
		return fmt.Errorf("decoding %s action: %w", tag.Type, err)
	}
	s.Action = a
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (s ActionSpec) MarshalYAML() (any, error) {
	if s.Action == nil {
		return nil, nil
	}
	var node yaml.Node
	if err := node.Encode(s.Action); err != nil {
		return nil, err
	}
	key := &yaml.Node{Kind: yaml.ScalarNode, Value: "type"}
	val := &yaml.Node{Kind: yaml.ScalarNode, Value: string(s.Action.Type())}
	node.Content = append([]*yaml.Node{key, val}, node.Content...)
	return &node, nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *ActionSpec) UnmarshalYAML(node *yaml.Node) error {
	var tag typeTag
	if err := node.Decode(&tag); err != nil {
		return err
	}
	a, err := newAction(tag.Type)
	if err != nil {
		return err
	}
	if err := node.Decode(a); err != nil {
		return fmt.Errorf("decoding %s action: %w", tag.Type, err)
	}
	s.Action = a
	return nil
}
