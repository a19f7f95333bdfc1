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

package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/thornburywn2/console-web-sub013/internal/daemon"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath  = pflag.StringP("config", "c", "", "Path to config file")
		addr        = pflag.String("addr", "", "TCP address to listen on")
		storeType   = pflag.String("store", "", "Storage backend (memory, sqlite, postgres)")
		agentsFile  = pflag.String("agents", "", "YAML file of agent definitions to seed at startup")
		logLevel    = pflag.String("log-level", "", "Log level (debug, info, warn, error)")
		showVersion = pflag.BoolP("version", "v", false, "Show version information")
	)
	pflag.Parse()

	if *showVersion {
		fmt.Printf("console-agentd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	if err := daemon.Run(daemon.RunOptions{
		Version:    version,
		Commit:     commit,
		BuildDate:  buildDate,
		ConfigPath: *configPath,
		Addr:       *addr,
		StoreType:  *storeType,
		AgentsFile: *agentsFile,
		LogLevel:   *logLevel,
	}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
