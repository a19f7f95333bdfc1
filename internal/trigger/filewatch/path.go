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

package filewatch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// blockedPaths contains filesystem paths that are never watched. On macOS
// some paths are symlinks (/etc -> /private/etc), so both are listed.
var blockedPaths = []string{
	"/etc",
	"/private/etc",
	"/sys",
	"/proc",
	"/dev",
	"/boot",
	"/var/log",
	"/private/var/log",
	"/var/run",
	"/private/var/run",
}

// skipDirs are never descended into when watching a project.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	".hg":          true,
	".svn":         true,
}

// DefaultMaxDepth bounds recursive watching.
const DefaultMaxDepth = 10

// NormalizePath expands ~ and environment variables, makes path absolute,
// resolves symlinks and rejects blocked system directories.
func NormalizePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}

	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	path = os.ExpandEnv(path)

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", absPath, err)
	}

	if err := validatePathNotBlocked(resolved); err != nil {
		return "", err
	}
	return resolved, nil
}

func validatePathNotBlocked(path string) error {
	for _, blocked := range blockedPaths {
		if path == blocked || strings.HasPrefix(path, blocked+string(filepath.Separator)) {
			return fmt.Errorf("path %s is blocked for security reasons (matches %s)", path, blocked)
		}
	}
	if strings.Contains(path, "/.ssh/") || strings.HasSuffix(path, "/.ssh") {
		return fmt.Errorf("path %s is blocked for security reasons (SSH directory)", path)
	}
	return nil
}

// ResolveSymlink re-resolves an event path so a symlink swapped in after
// the watch was set up cannot point a trigger outside the project.
func ResolveSymlink(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Deleted and renamed-away files no longer exist.
			return path, nil
		}
		return "", fmt.Errorf("failed to resolve symlink: %w", err)
	}
	if err := validatePathNotBlocked(resolved); err != nil {
		return "", err
	}
	return resolved, nil
}

// WalkDirectory returns root and every directory below it up to maxDepth
// levels, skipping VCS and dependency directories.
func WalkDirectory(root string, maxDepth int) ([]string, error) {
	paths := []string{root}
	if maxDepth <= 0 {
		return paths, nil
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Skip directories we can't access
			return nil
		}
		if !d.IsDir() || path == root {
			return nil
		}
		if skipDirs[d.Name()] {
			return filepath.SkipDir
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		if depth := len(strings.Split(rel, string(filepath.Separator))); depth > maxDepth {
			return filepath.SkipDir
		}
		paths = append(paths, path)
		return nil
	})
	return paths, err
}
