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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	agenterrors "github.com/thornburywn2/console-web-sub013/pkg/errors"
)

func validAgent() *Agent {
	return &Agent{
		ID:          "agent-lint",
		Name:        "Lint on commit",
		TriggerType: TriggerGitPreCommit,
		Actions:     []ActionSpec{Shell("make lint")},
		Enabled:     true,
	}
}

func TestAgentValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(a *Agent)
		wantField string
	}{
		{name: "valid", mutate: func(*Agent) {}},
		{name: "missing id", mutate: func(a *Agent) { a.ID = " " }, wantField: "id"},
		{name: "missing name", mutate: func(a *Agent) { a.Name = "" }, wantField: "name"},
		{name: "no actions", mutate: func(a *Agent) { a.Actions = nil }, wantField: "actions"},
		{name: "unknown trigger", mutate: func(a *Agent) { a.TriggerType = "GIT_PRE_REBASE" }, wantField: "triggerType"},
		{
			name:      "empty shell command",
			mutate:    func(a *Agent) { a.Actions = append(a.Actions, Shell("")) },
			wantField: "actions[1].command",
		},
		{
			name:      "relative api url",
			mutate:    func(a *Agent) { a.Actions = []ActionSpec{API("POST", "/hooks")} },
			wantField: "actions[0].url",
		},
		{
			name:      "bad api method",
			mutate:    func(a *Agent) { a.Actions = []ActionSpec{API("TRACE", "https://example.com")} },
			wantField: "actions[0].method",
		},
		{
			name:      "mcp without tool",
			mutate:    func(a *Agent) { a.Actions = []ActionSpec{MCP("fs", "", nil)} },
			wantField: "actions[0].toolName",
		},
		{
			name:      "empty spec",
			mutate:    func(a *Agent) { a.Actions = []ActionSpec{{}} },
			wantField: "actions[0].type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := validAgent()
			tt.mutate(a)
			err := a.Validate()
			if tt.wantField == "" {
				require.NoError(t, err)
				return
			}
			var ve *agenterrors.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.wantField, ve.Field)
		})
	}
}

func TestAgentScope(t *testing.T) {
	global := validAgent()
	assert.True(t, global.IsGlobal())
	assert.True(t, global.AppliesTo("web"))
	assert.True(t, global.Matches(TriggerGitPreCommit, "api"))
	assert.False(t, global.Matches(TriggerGitPostCommit, "api"))

	scoped := validAgent()
	scoped.ProjectID = StringPtr("web")
	assert.Equal(t, "web", scoped.Project())
	assert.True(t, scoped.Matches(TriggerGitPreCommit, "web"))
	assert.False(t, scoped.Matches(TriggerGitPreCommit, "api"))

	scoped.Enabled = false
	assert.False(t, scoped.Matches(TriggerGitPreCommit, "web"))
}

func TestAgentClone(t *testing.T) {
	a := validAgent()
	a.ProjectID = StringPtr("web")
	c := a.Clone()

	*c.ProjectID = "other"
	c.Actions[0] = Shell("rm -rf /tmp/x")

	assert.Equal(t, "web", *a.ProjectID)
	assert.Equal(t, "make lint", a.Actions[0].Action.(*ShellAction).Command)
}

func TestActionSpecJSON(t *testing.T) {
	in := []ActionSpec{
		{Action: &ShellAction{Command: "go test ./...", Timeout: Duration(2 * time.Minute)}},
		{Action: &APIAction{URL: "https://ci.example.com/build", Method: "POST", Extract: ".id"}},
		MCP("github", "create_issue", map[string]any{"title": "lint failed"}),
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"shell"`)
	assert.Contains(t, string(data), `"timeout":"2m0s"`)
	assert.Contains(t, string(data), `"serverId":"github"`)

	var out []ActionSpec
	require.NoError(t, json.Unmarshal(data, &out))
	require.Len(t, out, 3)

	switch a := out[0].Action.(type) {
	case *ShellAction:
		assert.Equal(t, "go test ./...", a.Command)
		assert.Equal(t, 2*time.Minute, a.TimeoutOr(time.Second))
	default:
		t.Fatalf("unexpected variant %T", a)
	}
	api := out[1].Action.(*APIAction)
	assert.Equal(t, "POST", api.MethodOrDefault())
	assert.Equal(t, 30*time.Second, api.TimeoutOr(30*time.Second))
	assert.Equal(t, "create_issue", out[2].Action.(*MCPAction).ToolName)
}

func TestActionSpecJSON_UnknownType(t *testing.T) {
	var spec ActionSpec
	err := json.Unmarshal([]byte(`{"type":"lua","script":"print(1)"}`), &spec)
	var ve *agenterrors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "type", ve.Field)
}

func TestAgentYAML(t *testing.T) {
	src := `
id: format-on-save
name: Format on save
triggerType: FILE_CHANGE
triggerConfig:
  patterns: ["src/**/*.go"]
  debounce: 2s
enabled: true
projectId: web
actions:
  - type: shell
    command: gofmt -w .
    timeout: 30s
  - type: api
    url: https://hooks.example.com/notify
    method: post
`
	var a Agent
	require.NoError(t, yaml.Unmarshal([]byte(src), &a))
	require.NoError(t, a.Validate())
	assert.Equal(t, TriggerFileChange, a.TriggerType)
	assert.Equal(t, 2*time.Second, a.TriggerConfig.DebounceOrDefault())
	assert.Equal(t, "web", a.Project())
	require.Len(t, a.Actions, 2)
	assert.Equal(t, ActionShell, a.Actions[0].Type())
	assert.Equal(t, "POST", a.Actions[1].Action.(*APIAction).MethodOrDefault())

	out, err := yaml.Marshal(&a)
	require.NoError(t, err)
	assert.Contains(t, string(out), "type: shell")

	var again Agent
	require.NoError(t, yaml.Unmarshal(out, &again))
	assert.Equal(t, a.Actions[0].Action, again.Actions[0].Action)
}
