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

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/thornburywn2/console-web-sub013/internal/agent"
	"github.com/thornburywn2/console-web-sub013/internal/api"
	"github.com/thornburywn2/console-web-sub013/internal/runner"
)

func newEventsCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Publish trigger events and watch runner events",
	}
	cmd.AddCommand(newEventsPublishCommand(opts), newEventsWatchCommand(opts))
	return cmd
}

func newEventsPublishCommand(opts *globalOptions) *cobra.Command {
	var project string
	var pairs []string
	var rawData string

	cmd := &cobra.Command{
		Use:   "publish <type>",
		Short: "Publish a session or system event",
		Long: `Publish an event such as SESSION_START or SESSION_IDLE. Agents with a
matching trigger type, project scope and filter run.`,
		Example: `  agentctl events publish SESSION_START --project web --data user=alice
  agentctl events publish SESSION_IDLE --data-json '{"idleSeconds": 600}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := eventData(pairs, rawData)
			if err != nil {
				return &ExitError{Code: ExitInvalid, Cause: err}
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			req := api.EventRequest{
				Type:      agent.TriggerType(strings.ToUpper(args[0])),
				ProjectID: project,
				Data:      data,
			}
			if err := c.PublishEvent(ctx, req); err != nil {
				return err
			}
			if opts.json {
				return emitJSON(cmd.OutOrStdout(), req)
			}
			newPrinter(cmd.OutOrStdout()).OK(fmt.Sprintf("published %s", req.Type))
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "Project id the event belongs to")
	cmd.Flags().StringArrayVar(&pairs, "data", nil, "Event data as key=value (repeatable)")
	cmd.Flags().StringVar(&rawData, "data-json", "", "Event data as a JSON object")
	return cmd
}

// eventData merges --data-json with --data pairs; pairs win.
func eventData(pairs []string, raw string) (map[string]any, error) {
	data := map[string]any{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return nil, fmt.Errorf("invalid --data-json: %w", err)
		}
	}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --data %q: want key=value", p)
		}
		data[k] = v
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

// errStopWatching ends a bounded watch.
var errStopWatching = errors.New("stop watching")

func newEventsWatchCommand(opts *globalOptions) *cobra.Command {
	var agentID string
	var count int

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream runner events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			p := newPrinter(cmd.OutOrStdout())
			seen := 0
			err = c.Stream(cmd.Context(), agentID, func(e runner.Event) error {
				if opts.json {
					if err := json.NewEncoder(cmd.OutOrStdout()).Encode(e); err != nil {
						return err
					}
				} else {
					printEvent(p, e)
				}
				seen++
				if count > 0 && seen >= count {
					return errStopWatching
				}
				return nil
			})
			if errors.Is(err, errStopWatching) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "Only show events of this agent")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "Exit after this many events")
	return cmd
}

func printEvent(p *printer, e runner.Event) {
	line := fmt.Sprintf("%s %-18s %s", p.Muted(e.Time.Local().Format(time.TimeOnly)), e.Type, e.AgentID)
	if e.ExecutionID != "" {
		line += " " + p.Muted(e.ExecutionID)
	}
	switch {
	case e.Action != nil:
		line += fmt.Sprintf(" action[%d] %s", e.Action.Index, p.Status(string(e.Action.Status)))
	case e.Status != "":
		line += " " + p.Status(string(e.Status))
	}
	if e.Reason != "" {
		line += " (" + e.Reason + ")"
	}
	if e.Error != "" {
		line += ": " + firstLine(e.Error)
	}
	p.Printf("%s\n", line)
}
