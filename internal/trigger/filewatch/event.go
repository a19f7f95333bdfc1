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
	"path/filepath"
	"time"
)

// Event describes one filesystem change inside a watched project.
type Event struct {
	// Path is relative to the project directory, slash separated.
	Path string `json:"path"`

	// AbsPath is the absolute path of the changed file.
	AbsPath string `json:"absPath"`

	// Name is the filename without directory component.
	Name string `json:"name"`

	// Ext is the file extension including the dot, or "".
	Ext string `json:"ext"`

	// Kind is created, modified, deleted or renamed.
	Kind string `json:"event"`

	// Size is zero for deleted files.
	Size int64 `json:"size,omitempty"`

	// MTime is zero for deleted files.
	MTime time.Time `json:"mtime,omitempty"`

	IsDir bool `json:"isDir"`
}

// NewEvent builds an Event for absPath below root.
func NewEvent(root, absPath, kind string, isDir bool, size int64, mtime time.Time) *Event {
	rel, err := filepath.Rel(root, absPath)
	if err != nil {
		rel = absPath
	}
	return &Event{
		Path:    filepath.ToSlash(rel),
		AbsPath: absPath,
		Name:    filepath.Base(absPath),
		Ext:     filepath.Ext(absPath),
		Kind:    kind,
		Size:    size,
		MTime:   mtime,
		IsDir:   isDir,
	}
}
