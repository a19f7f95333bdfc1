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
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/expr-lang/expr"

	"github.com/thornburywn2/console-web-sub013/internal/cron"
	agenterrors "github.com/thornburywn2/console-web-sub013/pkg/errors"
)

// TriggerType is the event category that causes an agent to run.
type TriggerType string

const (
	TriggerGitPreCommit    TriggerType = "GIT_PRE_COMMIT"
	TriggerGitPostCommit   TriggerType = "GIT_POST_COMMIT"
	TriggerGitPrePush      TriggerType = "GIT_PRE_PUSH"
	TriggerGitPostMerge    TriggerType = "GIT_POST_MERGE"
	TriggerGitPostCheckout TriggerType = "GIT_POST_CHECKOUT"
	TriggerFileChange      TriggerType = "FILE_CHANGE"
	TriggerSessionStart    TriggerType = "SESSION_START"
	TriggerSessionEnd      TriggerType = "SESSION_END"
	TriggerSessionIdle     TriggerType = "SESSION_IDLE"
	TriggerSystemStartup   TriggerType = "SYSTEM_STARTUP"
	TriggerSystemShutdown  TriggerType = "SYSTEM_SHUTDOWN"
	TriggerSystemSchedule  TriggerType = "SYSTEM_SCHEDULE"
	TriggerManual          TriggerType = "MANUAL"
)

var gitHooks = map[TriggerType]string{
	TriggerGitPreCommit:    "pre-commit",
	TriggerGitPostCommit:   "post-commit",
	TriggerGitPrePush:      "pre-push",
	TriggerGitPostMerge:    "post-merge",
	TriggerGitPostCheckout: "post-checkout",
}

// AllTriggerTypes lists every known trigger type in display order.
func AllTriggerTypes() []TriggerType {
	return []TriggerType{
		TriggerGitPreCommit, TriggerGitPostCommit, TriggerGitPrePush,
		TriggerGitPostMerge, TriggerGitPostCheckout, TriggerFileChange,
		TriggerSessionStart, TriggerSessionEnd, TriggerSessionIdle,
		TriggerSystemStartup, TriggerSystemShutdown, TriggerSystemSchedule,
		TriggerManual,
	}
}

// Valid reports whether t is a known trigger type.
func (t TriggerType) Valid() bool {
	for _, known := range AllTriggerTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// IsGit reports whether t is installed as a git hook.
func (t TriggerType) IsGit() bool {
	_, ok := gitHooks[t]
	return ok
}

// IsSession reports whether t is a terminal session lifecycle event.
func (t TriggerType) IsSession() bool {
	return t == TriggerSessionStart || t == TriggerSessionEnd || t == TriggerSessionIdle
}

// IsSystem reports whether t is a system lifecycle or schedule event.
func (t TriggerType) IsSystem() bool {
	return t == TriggerSystemStartup || t == TriggerSystemShutdown || t == TriggerSystemSchedule
}

// IsEvent reports whether t is delivered through the in-process event bus.
func (t TriggerType) IsEvent() bool {
	return t.IsSession() || t == TriggerSystemStartup || t == TriggerSystemShutdown
}

// HookName returns the git hook file name for git trigger types.
func (t TriggerType) HookName() string {
	return gitHooks[t]
}

// TriggerTypeForHook maps a git hook file name back to its trigger type.
func TriggerTypeForHook(hook string) (TriggerType, bool) {
	for tt, name := range gitHooks {
		if name == hook {
			return tt, true
		}
	}
	return "", false
}

// File change event kinds accepted in TriggerConfig.Events.
const (
	FileEventCreated  = "created"
	FileEventModified = "modified"
	FileEventDeleted  = "deleted"
	FileEventRenamed  = "renamed"
)

// Limits applied to trigger configuration.
const (
	MaxDebounce              = 5 * time.Minute
	DefaultDebounce          = 500 * time.Millisecond
	DefaultTriggersPerMinute = 30
)

// TriggerConfig holds the type-specific configuration of a trigger. Which
// fields are meaningful depends on the agent's TriggerType; Validate rejects
// fields that do not belong to it.
type TriggerConfig struct {
	// Branches restricts git triggers to matching branch names (glob).
	Branches []string `json:"branches,omitempty" yaml:"branches,omitempty"`

	// Patterns are doublestar globs relative to the project directory.
	Patterns []string `json:"patterns,omitempty" yaml:"patterns,omitempty"`
	// Exclude removes matches from Patterns.
	Exclude []string `json:"exclude,omitempty" yaml:"exclude,omitempty"`
	// Events filters file event kinds. Empty means all.
	Events []string `json:"events,omitempty" yaml:"events,omitempty"`
	// Debounce collapses bursts of file events into one run.
	Debounce Duration `json:"debounce,omitempty" yaml:"debounce,omitempty"`
	// MaxTriggersPerMinute bounds how often a file trigger may fire.
	MaxTriggersPerMinute int `json:"maxTriggersPerMinute,omitempty" yaml:"maxTriggersPerMinute,omitempty"`

	// Filter is an expr boolean expression evaluated against session and
	// system events.
	Filter string `json:"filter,omitempty" yaml:"filter,omitempty"`

	// Cron is the schedule for SYSTEM_SCHEDULE triggers.
	Cron string `json:"cron,omitempty" yaml:"cron,omitempty"`
	// Timezone is an IANA zone name for Cron. Defaults to local time.
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// IsZero reports whether no field is set.
func (c TriggerConfig) IsZero() bool {
	return len(c.Branches) == 0 && len(c.Patterns) == 0 && len(c.Exclude) == 0 &&
		len(c.Events) == 0 && c.Debounce == 0 && c.MaxTriggersPerMinute == 0 &&
		c.Filter == "" && c.Cron == "" && c.Timezone == ""
}

// DebounceOrDefault returns the configured debounce or the default.
func (c TriggerConfig) DebounceOrDefault() time.Duration {
	if c.Debounce == 0 {
		return DefaultDebounce
	}
	return c.Debounce.Std()
}

// RateOrDefault returns the configured triggers per minute or the default.
func (c TriggerConfig) RateOrDefault() int {
	if c.MaxTriggersPerMinute <= 0 {
		return DefaultTriggersPerMinute
	}
	return c.MaxTriggersPerMinute
}

// Location resolves Timezone, falling back to time.Local.
func (c TriggerConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Validate checks the configuration shape against the trigger type.
func (c TriggerConfig) Validate(t TriggerType) error {
	if !t.Valid() {
		return &agenterrors.ValidationError{
			Field:   "triggerType",
			Message: fmt.Sprintf("unknown trigger type %q", t),
		}
	}

	switch {
	case t == TriggerManual:
		if !c.IsZero() {
			return fieldErr("triggerConfig", "MANUAL triggers take no configuration")
		}
		return nil

	case t.IsGit():
		if err := c.onlyFields(t, "branches"); err != nil {
			return err
		}
		return validateGlobs("triggerConfig.branches", c.Branches)

	case t == TriggerFileChange:
		if err := c.onlyFields(t, "patterns", "exclude", "events", "debounce", "maxTriggersPerMinute"); err != nil {
			return err
		}
		if len(c.Patterns) == 0 {
			return &agenterrors.ValidationError{
				Field:      "triggerConfig.patterns",
				Message:    "at least one pattern is required",
				Suggestion: `use a glob such as "src/**/*.go"`,
			}
		}
		if err := validateGlobs("triggerConfig.patterns", c.Patterns); err != nil {
			return err
		}
		if err := validateGlobs("triggerConfig.exclude", c.Exclude); err != nil {
			return err
		}
		for _, ev := range c.Events {
			switch ev {
			case FileEventCreated, FileEventModified, FileEventDeleted, FileEventRenamed:
			default:
				return fieldErr("triggerConfig.events", fmt.Sprintf("unknown file event %q", ev))
			}
		}
		if c.Debounce.Std() > MaxDebounce {
			return fieldErr("triggerConfig.debounce", fmt.Sprintf("must not exceed %s", MaxDebounce))
		}
		if c.MaxTriggersPerMinute < 0 {
			return fieldErr("triggerConfig.maxTriggersPerMinute", "must not be negative")
		}
		return nil

	case t == TriggerSystemSchedule:
		if err := c.onlyFields(t, "cron", "timezone"); err != nil {
			return err
		}
		if c.Cron == "" {
			return &agenterrors.ValidationError{
				Field:      "triggerConfig.cron",
				Message:    "a cron expression is required",
				Suggestion: `use five fields like "0 * * * *" or a macro like "@hourly"`,
			}
		}
		if _, err := cron.Parse(c.Cron); err != nil {
			return fieldErr("triggerConfig.cron", err.Error())
		}
		if _, err := c.Location(); err != nil {
			return fieldErr("triggerConfig.timezone", err.Error())
		}
		return nil

	default: // session and system lifecycle events
		if err := c.onlyFields(t, "filter"); err != nil {
			return err
		}
		if c.Filter != "" {
			if _, err := expr.Compile(c.Filter, expr.AsBool(), expr.AllowUndefinedVariables()); err != nil {
				return fieldErr("triggerConfig.filter", err.Error())
			}
		}
		return nil
	}
}

// onlyFields rejects any populated field not in allowed.
func (c TriggerConfig) onlyFields(t TriggerType, allowed ...string) error {
	set := map[string]bool{
		"branches":             len(c.Branches) > 0,
		"patterns":             len(c.Patterns) > 0,
		"exclude":              len(c.Exclude) > 0,
		"events":               len(c.Events) > 0,
		"debounce":             c.Debounce != 0,
		"maxTriggersPerMinute": c.MaxTriggersPerMinute != 0,
		"filter":               c.Filter != "",
		"cron":                 c.Cron != "",
		"timezone":             c.Timezone != "",
	}
	for _, name := range allowed {
		delete(set, name)
	}
	var extra []string
	for name, present := range set {
		if present {
			extra = append(extra, name)
		}
	}
	if len(extra) > 0 {
		slices.Sort(extra)
		return fieldErr("triggerConfig", fmt.Sprintf("fields not valid for %s: %s", t, strings.Join(extra, ", ")))
	}
	return nil
}

func validateGlobs(field string, patterns []string) error {
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			return fieldErr(field, "empty pattern")
		}
		if !doublestar.ValidatePattern(p) {
			return fieldErr(field, fmt.Sprintf("invalid glob %q", p))
		}
	}
	return nil
}

func fieldErr(field, msg string) error {
	return &agenterrors.ValidationError{Field: field, Message: msg}
}
