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

// Package project maps project ids to working directories.
package project

import (
	"context"
	"os"
	"sort"

	"github.com/thornburywn2/console-web-sub013/internal/store"
)

// Project is a known project and its directory.
type Project struct {
	ID  string `json:"id"`
	Dir string `json:"dir"`
}

// Resolver maps project ids to working directories.
type Resolver interface {
	// WorkingDir returns the directory for projectID. An empty projectID
	// resolves to the default directory. Unknown ids return a not-found error.
	WorkingDir(ctx context.Context, projectID string) (string, error)

	// Projects lists every known project.
	Projects(ctx context.Context) ([]Project, error)
}

// StaticResolver is a Resolver built from configuration.
type StaticResolver struct {
	defaultDir string
	paths      map[string]string
}

var _ Resolver = (*StaticResolver)(nil)

// NewStatic creates a resolver. An empty defaultDir falls back to the
// process working directory.
func NewStatic(defaultDir string, paths map[string]string) *StaticResolver {
	if defaultDir == "" {
		if wd, err := os.Getwd(); err == nil {
			defaultDir = wd
		}
	}
	cp := make(map[string]string, len(paths))
	for id, dir := range paths {
		cp[id] = dir
	}
	return &StaticResolver{defaultDir: defaultDir, paths: cp}
}

// WorkingDir implements Resolver.
func (r *StaticResolver) WorkingDir(_ context.Context, projectID string) (string, error) {
	if projectID == "" {
		return r.defaultDir, nil
	}
	dir, ok := r.paths[projectID]
	if !ok {
		return "", store.NotFound("project", projectID)
	}
	return dir, nil
}

// Projects implements Resolver. Results are sorted by id.
func (r *StaticResolver) Projects(context.Context) ([]Project, error) {
	out := make([]Project, 0, len(r.paths))
	for id, dir := range r.paths {
		out = append(out, Project{ID: id, Dir: dir})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
