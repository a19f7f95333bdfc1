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
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/thornburywn2/console-web-sub013/internal/agent"
	"github.com/thornburywn2/console-web-sub013/internal/client"
)

func newRunCommand(opts *globalOptions) *cobra.Command {
	var wait bool
	var poll time.Duration

	cmd := &cobra.Command{
		Use:   "run <agent-id>",
		Short: "Run an agent now",
		Long: `Start one execution of an agent. The daemon refuses when the agent is
already running or the concurrency limit is reached; agentctl then exits
with code 3.`,
		Example: `  # Start and return immediately
  agentctl run lint

  # Wait for the result
  agentctl run lint --wait`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			exec, err := c.RunAgent(ctx, args[0])
			if err != nil {
				return err
			}
			if wait {
				// The request timeout does not bound the execution itself.
				exec, err = waitForExecution(cmd.Context(), c, exec.ID, poll)
				if err != nil {
					return err
				}
			}

			if opts.json {
				if err := emitJSON(cmd.OutOrStdout(), exec); err != nil {
					return err
				}
			} else {
				printExecution(newPrinter(cmd.OutOrStdout()), exec)
			}
			if wait && exec.Status == agent.StatusFailed {
				return &ExitError{Code: ExitFailure, Cause: fmt.Errorf("execution %s failed: %s", exec.ID, exec.Error)}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the execution to finish")
	cmd.Flags().DurationVar(&poll, "poll-interval", 500*time.Millisecond, "Status poll interval with --wait")
	return cmd
}

func waitForExecution(ctx context.Context, c *client.Client, id string, poll time.Duration) (*agent.Execution, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		exec, err := c.Execution(ctx, id)
		if err != nil {
			return nil, err
		}
		if exec.Status.IsTerminal() {
			return exec, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func newStopCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <agent-id>",
		Short: "Stop an agent's running execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			resp, err := c.StopAgent(ctx, args[0])
			if err != nil {
				return err
			}
			if opts.json {
				return emitJSON(cmd.OutOrStdout(), map[string]any{"agentId": args[0], "stopped": resp.Stopped, "warning": resp.Warning})
			}
			p := newPrinter(cmd.OutOrStdout())
			switch {
			case resp.Stopped && resp.Warning != "":
				p.Warn(fmt.Sprintf("stop sent to %s: %s", args[0], resp.Warning))
			case resp.Stopped:
				p.OK(fmt.Sprintf("stopped %s", args[0]))
			default:
				p.Warn(fmt.Sprintf("%s was not running", args[0]))
			}
			return nil
		},
	}
}

func newReloadCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reload <agent-id>",
		Short: "Reinstall an agent's triggers after editing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			resp, err := c.ReloadAgent(ctx, args[0])
			if err != nil {
				return err
			}
			if opts.json {
				return emitJSON(cmd.OutOrStdout(), resp)
			}
			p := newPrinter(cmd.OutOrStdout())
			p.OK(fmt.Sprintf("reloaded %s", args[0]))
			for _, w := range resp.Warnings {
				p.Warn(w)
			}
			return nil
		},
	}
}

func newExecutionsCommand(opts *globalOptions) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "executions <agent-id>",
		Short: "List an agent's executions, newest first",
		Example: `  agentctl executions lint --limit 5
  agentctl executions show 7f1c2e4a-...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			resp, err := c.Executions(ctx, args[0], limit, offset)
			if err != nil {
				return err
			}
			if opts.json {
				return emitJSON(cmd.OutOrStdout(), resp)
			}
			p := newPrinter(cmd.OutOrStdout())
			if len(resp.Executions) == 0 {
				p.Printf("%s\n", p.Muted("no executions"))
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tTRIGGER\tCREATED\tDURATION")
			for _, e := range resp.Executions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					e.ID, e.Status, e.TriggeredBy,
					e.CreatedAt.Local().Format(time.DateTime),
					formatDuration(e.Duration()))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum executions to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "Executions to skip")

	cmd.AddCommand(&cobra.Command{
		Use:   "show <execution-id>",
		Short: "Show one execution with its action results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			exec, err := c.Execution(ctx, args[0])
			if err != nil {
				return err
			}
			if opts.json {
				return emitJSON(cmd.OutOrStdout(), exec)
			}
			printExecution(newPrinter(cmd.OutOrStdout()), exec)
			return nil
		},
	})
	return cmd
}

func printExecution(p *printer, e *agent.Execution) {
	p.Header(fmt.Sprintf("Execution %s", e.ID))
	p.Printf("  %s %s\n", p.Muted("agent:  "), e.AgentID)
	p.Printf("  %s %s\n", p.Muted("status: "), p.Status(string(e.Status)))
	p.Printf("  %s %s\n", p.Muted("trigger:"), e.TriggeredBy)
	if d := e.Duration(); d > 0 {
		p.Printf("  %s %s\n", p.Muted("took:   "), formatDuration(d))
	}
	if e.Error != "" {
		p.Printf("  %s %s\n", p.Muted("error:  "), e.Error)
	}
	if e.Result == nil {
		return
	}
	for _, a := range e.Result.Actions {
		line := fmt.Sprintf("  [%d] %-5s %s", a.Index, a.Type, p.Status(string(a.Status)))
		if a.DurationMs > 0 {
			line += " " + p.Muted(formatDuration(time.Duration(a.DurationMs)*time.Millisecond))
		}
		if a.Error != "" {
			line += ": " + firstLine(a.Error)
		}
		p.Printf("%s\n", line)
	}
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " …"
	}
	return s
}
