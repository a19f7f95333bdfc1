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

	"github.com/thornburywn2/console-web-sub013/internal/agent"
	"github.com/thornburywn2/console-web-sub013/internal/config"
)

type validateResult struct {
	Valid  bool     `json:"valid"`
	Agents []string `json:"agents,omitempty"`
	Config string   `json:"config,omitempty"`
	Error  string   `json:"error,omitempty"`
}

func newValidateCommand(opts *globalOptions) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate [agents-file]",
		Short: "Check an agents file and daemon config without a daemon",
		Example: `  agentctl validate agents.yaml
  agentctl validate --config ~/.config/console-agent/config.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && configPath == "" {
				return &ExitError{Code: ExitInvalid, Cause: fmt.Errorf("nothing to validate: pass an agents file or --config")}
			}

			res := validateResult{Valid: true}
			var failure error
			if configPath != "" {
				if _, err := config.Load(configPath); err != nil {
					failure = err
				} else {
					res.Config = configPath
				}
			}
			if failure == nil && len(args) == 1 {
				agents, err := agent.LoadDefinitions(args[0])
				if err != nil {
					failure = err
				}
				for _, a := range agents {
					res.Agents = append(res.Agents, a.ID)
				}
			}
			if failure != nil {
				res.Valid = false
				res.Error = failure.Error()
			}

			if opts.json {
				if err := emitJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else {
				p := newPrinter(cmd.OutOrStdout())
				if res.Config != "" {
					p.OK(fmt.Sprintf("config %s is valid", res.Config))
				}
				for _, id := range res.Agents {
					p.OK(fmt.Sprintf("agent %s", id))
				}
				if failure != nil {
					p.Fail(failure.Error())
				}
			}
			if failure != nil {
				return &ExitError{Code: ExitInvalid, Cause: failure}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Daemon config file to validate")
	return cmd
}
