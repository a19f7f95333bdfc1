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

// Package githook installs the git hook scripts that deliver GIT_*
// triggers. A script is shared by every agent bound to the same hook of
// the same repository and calls back into the daemon with a scoped token.
package githook

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/thornburywn2/console-web-sub013/internal/log"
)

// Marker identifies scripts written by the installer. Files without it are
// never modified.
const Marker = "# console-agent managed hook"

// DefaultCommand is the CLI invoked by hook scripts.
const DefaultCommand = "agentctl"

// ErrUnmanagedHook is returned when a hook file exists that the installer
// did not write.
var ErrUnmanagedHook = errors.New("hook exists and is not managed by console-agent")

// ErrNotRepository is returned when the directory has no .git.
var ErrNotRepository = errors.New("not a git repository")

// TokenIssuer signs the callback token embedded in a script.
type TokenIssuer interface {
	Issue(project, hook string) (string, error)
}

// Config configures generated scripts.
type Config struct {
	// Command is the CLI binary. Defaults to DefaultCommand.
	Command string

	// DaemonURL is the base URL the CLI posts hook events to.
	DaemonURL string
}

type hookKey struct {
	dir  string
	hook string
}

// Installer writes and removes managed hook scripts, counting references
// per repository and hook.
type Installer struct {
	cfg    Config
	tokens TokenIssuer
	logger *slog.Logger

	mu   sync.Mutex
	refs map[hookKey]map[string]bool
}

// NewInstaller creates an Installer.
func NewInstaller(cfg Config, tokens TokenIssuer, logger *slog.Logger) *Installer {
	if cfg.Command == "" {
		cfg.Command = DefaultCommand
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Installer{
		cfg:    cfg,
		tokens: tokens,
		logger: log.WithComponent(logger, "githook"),
		refs:   make(map[hookKey]map[string]bool),
	}
}

// Install binds agentID to hook in the repository at dir, writing the
// script if needed. projectID is embedded in the callback.
func (i *Installer) Install(dir, projectID, hook, agentID string) error {
	hooksDir, err := HooksDir(dir)
	if err != nil {
		return err
	}
	path := filepath.Join(hooksDir, hook)
	managed, err := IsManaged(path)
	if err != nil {
		return err
	}
	if !managed {
		if _, statErr := os.Stat(path); statErr == nil {
			return fmt.Errorf("%s: %w", path, ErrUnmanagedHook)
		}
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	key := hookKey{dir: filepath.Clean(dir), hook: hook}
	if len(i.refs[key]) == 0 || !managed {
		token, err := i.tokens.Issue(projectID, hook)
		if err != nil {
			return fmt.Errorf("failed to issue hook token: %w", err)
		}
		if err := writeScript(path, i.script(projectID, hook, token)); err != nil {
			return err
		}
		i.logger.Info("git hook installed",
			slog.String("hook", hook),
			slog.String("path", path),
			slog.String("project", projectID))
	}
	if i.refs[key] == nil {
		i.refs[key] = make(map[string]bool)
	}
	i.refs[key][agentID] = true
	return nil
}

// Uninstall releases agentID's reference. The script is removed when no
// agent references it.
func (i *Installer) Uninstall(dir, hook, agentID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	key := hookKey{dir: filepath.Clean(dir), hook: hook}
	agents, ok := i.refs[key]
	if !ok || !agents[agentID] {
		return nil
	}
	delete(agents, agentID)
	if len(agents) > 0 {
		return nil
	}
	delete(i.refs, key)

	hooksDir, err := HooksDir(dir)
	if err != nil {
		return err
	}
	path := filepath.Join(hooksDir, hook)
	managed, err := IsManaged(path)
	if err != nil || !managed {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove hook: %w", err)
	}
	i.logger.Info("git hook removed", slog.String("hook", hook), slog.String("path", path))
	return nil
}

// Agents returns the agents bound to hook in dir, sorted.
func (i *Installer) Agents(dir, hook string) []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	agents := i.refs[hookKey{dir: filepath.Clean(dir), hook: hook}]
	out := make([]string, 0, len(agents))
	for id := range agents {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// UninstallAll removes every script the installer wrote.
func (i *Installer) UninstallAll() {
	i.mu.Lock()
	keys := make([]hookKey, 0, len(i.refs))
	for key := range i.refs {
		keys = append(keys, key)
	}
	i.refs = make(map[hookKey]map[string]bool)
	i.mu.Unlock()

	for _, key := range keys {
		hooksDir, err := HooksDir(key.dir)
		if err != nil {
			continue
		}
		path := filepath.Join(hooksDir, key.hook)
		if managed, _ := IsManaged(path); managed {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				i.logger.Warn("failed to remove hook", slog.String("path", path), log.Error(err))
			}
		}
	}
}

func (i *Installer) script(projectID, hook, token string) []byte {
	var b bytes.Buffer
	b.WriteString("#!/bin/sh\n")
	b.WriteString(Marker + "\n")
	b.WriteString("# Rewritten by console-agentd on start. Local edits are lost.\n")
	b.WriteString("branch=$(git rev-parse --abbrev-ref HEAD 2>/dev/null)\n")
	fmt.Fprintf(&b, "%s hook fire --url %s --token %s --project %s --hook %s --branch \"$branch\" -- \"$@\" >/dev/null 2>&1 || true\n",
		shellQuote(i.cfg.Command),
		shellQuote(i.cfg.DaemonURL),
		shellQuote(token),
		shellQuote(projectID),
		shellQuote(hook))
	b.WriteString("exit 0\n")
	return b.Bytes()
}

// HooksDir returns the hooks directory of the repository at dir. Worktrees
// and submodules whose .git is a file are followed.
func HooksDir(dir string) (string, error) {
	gitPath := filepath.Join(dir, ".git")
	info, err := os.Stat(gitPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%s: %w", dir, ErrNotRepository)
		}
		return "", err
	}
	if info.IsDir() {
		return filepath.Join(gitPath, "hooks"), nil
	}

	data, err := os.ReadFile(gitPath)
	if err != nil {
		return "", err
	}
	line := strings.TrimSpace(string(data))
	gitDir, ok := strings.CutPrefix(line, "gitdir:")
	if !ok {
		return "", fmt.Errorf("%s: %w", dir, ErrNotRepository)
	}
	gitDir = strings.TrimSpace(gitDir)
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(dir, gitDir)
	}
	return filepath.Join(gitDir, "hooks"), nil
}

// IsManaged reports whether path holds a script written by the installer.
// A missing file is not managed.
func IsManaged(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for n := 0; n < 3 && scanner.Scan(); n++ {
		if strings.TrimSpace(scanner.Text()) == Marker {
			return true, nil
		}
	}
	return false, scanner.Err()
}

func writeScript(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create hooks directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, content, 0o755); err != nil {
		return fmt.Errorf("failed to write hook: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o755); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to chmod hook: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename hook: %w", err)
	}
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
