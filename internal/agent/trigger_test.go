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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agenterrors "github.com/thornburywn2/console-web-sub013/pkg/errors"
)

func TestTriggerTypeClassification(t *testing.T) {
	assert.True(t, TriggerGitPrePush.IsGit())
	assert.Equal(t, "pre-push", TriggerGitPrePush.HookName())
	assert.False(t, TriggerFileChange.IsGit())
	assert.True(t, TriggerSessionIdle.IsSession())
	assert.True(t, TriggerSessionIdle.IsEvent())
	assert.True(t, TriggerSystemSchedule.IsSystem())
	assert.False(t, TriggerSystemSchedule.IsEvent())
	assert.False(t, TriggerManual.IsEvent())

	tt, ok := TriggerTypeForHook("post-checkout")
	require.True(t, ok)
	assert.Equal(t, TriggerGitPostCheckout, tt)
	_, ok = TriggerTypeForHook("pre-rebase")
	assert.False(t, ok)

	assert.Len(t, AllTriggerTypes(), 13)
	for _, tt := range AllTriggerTypes() {
		assert.True(t, tt.Valid(), tt)
	}
}

func TestTriggerConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		trigger   TriggerType
		cfg       TriggerConfig
		wantField string
	}{
		{name: "manual empty", trigger: TriggerManual},
		{name: "manual with config", trigger: TriggerManual, cfg: TriggerConfig{Cron: "@hourly"}, wantField: "triggerConfig"},
		{name: "git branches", trigger: TriggerGitPostCommit, cfg: TriggerConfig{Branches: []string{"release/*"}}},
		{name: "git with patterns", trigger: TriggerGitPostCommit, cfg: TriggerConfig{Patterns: []string{"*.go"}}, wantField: "triggerConfig"},
		{name: "file ok", trigger: TriggerFileChange, cfg: TriggerConfig{Patterns: []string{"**/*.ts"}, Events: []string{"modified"}}},
		{name: "file without patterns", trigger: TriggerFileChange, wantField: "triggerConfig.patterns"},
		{name: "file bad glob", trigger: TriggerFileChange, cfg: TriggerConfig{Patterns: []string{"src/[a-"}}, wantField: "triggerConfig.patterns"},
		{name: "file bad event", trigger: TriggerFileChange, cfg: TriggerConfig{Patterns: []string{"*"}, Events: []string{"chmod"}}, wantField: "triggerConfig.events"},
		{
			name:      "file debounce too long",
			trigger:   TriggerFileChange,
			cfg:       TriggerConfig{Patterns: []string{"*"}, Debounce: Duration(10 * time.Minute)},
			wantField: "triggerConfig.debounce",
		},
		{name: "schedule ok", trigger: TriggerSystemSchedule, cfg: TriggerConfig{Cron: "*/5 * * * *", Timezone: "UTC"}},
		{name: "schedule missing cron", trigger: TriggerSystemSchedule, wantField: "triggerConfig.cron"},
		{name: "schedule bad cron", trigger: TriggerSystemSchedule, cfg: TriggerConfig{Cron: "61 * * * *"}, wantField: "triggerConfig.cron"},
		{name: "schedule bad zone", trigger: TriggerSystemSchedule, cfg: TriggerConfig{Cron: "@daily", Timezone: "Mars/Olympus"}, wantField: "triggerConfig.timezone"},
		{name: "session filter", trigger: TriggerSessionEnd, cfg: TriggerConfig{Filter: `event.project == "web"`}},
		{name: "session bad filter", trigger: TriggerSessionEnd, cfg: TriggerConfig{Filter: `event.project ==`}, wantField: "triggerConfig.filter"},
		{name: "startup with cron", trigger: TriggerSystemStartup, cfg: TriggerConfig{Cron: "@daily"}, wantField: "triggerConfig"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate(tt.trigger)
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

func TestTriggerConfigDefaults(t *testing.T) {
	var cfg TriggerConfig
	assert.True(t, cfg.IsZero())
	assert.Equal(t, DefaultDebounce, cfg.DebounceOrDefault())
	assert.Equal(t, DefaultTriggersPerMinute, cfg.RateOrDefault())

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Std())

	out, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(out))

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
