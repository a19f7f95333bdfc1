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
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/thornburywn2/console-web-sub013/internal/client"
)

// Environment variables read for flag defaults.
const (
	EnvURL   = "CONSOLE_AGENT_URL"
	EnvToken = "CONSOLE_AGENT_API_TOKEN"
)

// globalOptions holds the persistent flags.
type globalOptions struct {
	url     string
	token   string
	json    bool
	timeout time.Duration
}

func (o *globalOptions) client() (*client.Client, error) {
	opts := []client.Option{}
	if o.token != "" {
		opts = append(opts, client.WithAPIToken(o.token))
	}
	return client.New(o.url, opts...)
}

func (o *globalOptions) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if o.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.timeout)
}

// NewRootCommand creates the agentctl root command with every subcommand.
func NewRootCommand(version string) *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:   "agentctl",
		Short: "Control the console agent daemon",
		Long: `agentctl talks to console-agentd: run and stop agents, inspect the
runner, browse execution history and publish trigger events.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	url := os.Getenv(EnvURL)
	if url == "" {
		url = client.DefaultURL
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.url, "url", url, "Daemon base URL (env "+EnvURL+")")
	pf.StringVar(&opts.token, "token", os.Getenv(EnvToken), "API bearer token (env "+EnvToken+")")
	pf.BoolVar(&opts.json, "json", false, "Output in JSON format")
	pf.DurationVar(&opts.timeout, "timeout", 30*time.Second, "Request timeout")

	cmd.AddCommand(
		newStatusCommand(opts),
		newRunCommand(opts),
		newStopCommand(opts),
		newReloadCommand(opts),
		newExecutionsCommand(opts),
		newHookCommand(opts),
		newEventsCommand(opts),
		newValidateCommand(opts),
	)
	return cmd
}
