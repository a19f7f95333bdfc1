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
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/thornburywn2/console-web-sub013/internal/runner"
)

func newStatusCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show running and queued agents",
		Long: `Show the runner's running and queued executions, the concurrency limit
and every installed schedule with its next fire time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			if opts.json {
				return emitJSON(cmd.OutOrStdout(), st)
			}
			if st.Status == nil {
				st.Status = &runner.Status{}
			}

			p := newPrinter(cmd.OutOrStdout())
			now := time.Now()
			p.Header(fmt.Sprintf("Running %d/%d", len(st.Running), st.MaxConcurrent))
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, r := range st.Running {
				fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", r.AgentID, r.ExecutionID, r.TriggeredBy,
					p.Muted(formatDuration(now.Sub(r.StartedAt).Truncate(time.Second))))
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			p.Header(fmt.Sprintf("Queued %d", len(st.Queued)))
			for i, q := range st.Queued {
				fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\n", i+1, q.AgentID, q.TriggeredBy,
					p.Muted("waiting "+formatDuration(now.Sub(q.EnqueuedAt).Truncate(time.Second))))
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			if len(st.Schedules) > 0 {
				p.Header(fmt.Sprintf("Schedules %d", len(st.Schedules)))
				for _, s := range st.Schedules {
					fmt.Fprintf(tw, "  %s\t%s\t%s\tnext %s\n", s.AgentID, s.Cron, s.Timezone,
						s.NextRun.Local().Format(time.DateTime))
				}
				return tw.Flush()
			}
			return nil
		},
	}
}
