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

	"github.com/spf13/cobra"

	"github.com/thornburywn2/console-web-sub013/internal/api"
	"github.com/thornburywn2/console-web-sub013/internal/client"
)

func newHookCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hook",
		Short: "Git hook callbacks",
	}
	cmd.AddCommand(newHookFireCommand(opts))
	return cmd
}

func newHookFireCommand(opts *globalOptions) *cobra.Command {
	var req api.HookRequest

	cmd := &cobra.Command{
		Use:   "fire --project <id> --hook <name> [-- hook-args...]",
		Short: "Report a git hook invocation to the daemon",
		Long: `Called by hook scripts the daemon installs into .git/hooks. --token is
the hook token embedded in the script, not the API token.`,
		Example: `  agentctl hook fire --url http://127.0.0.1:7433 --token "$TOKEN" \
    --project web --hook pre-commit --branch main -- "$@"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.Project == "" || req.Hook == "" {
				return &ExitError{Code: ExitInvalid, Cause: fmt.Errorf("--project and --hook are required")}
			}
			// The hook token replaces the API token on this route.
			c, err := client.New(opts.url)
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			req.Args = args
			n, err := c.FireHook(ctx, opts.token, req)
			if err != nil {
				return err
			}
			if opts.json {
				return emitJSON(cmd.OutOrStdout(), api.SubmittedResponse{Submitted: n})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d agent(s) triggered\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Project, "project", "", "Project id")
	cmd.Flags().StringVar(&req.Hook, "hook", "", "Git hook name, such as pre-commit")
	cmd.Flags().StringVar(&req.Branch, "branch", "", "Current branch")
	return cmd
}
