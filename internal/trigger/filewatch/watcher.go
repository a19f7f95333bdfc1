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
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/thornburywn2/console-web-sub013/internal/agent"
	"github.com/thornburywn2/console-web-sub013/internal/log"
)

// Watcher recursively watches one project directory. Directories created
// after the watch started are added as they appear.
type Watcher struct {
	root      string
	maxDepth  int
	watcher   *fsnotify.Watcher
	eventChan chan *Event
	logger    *slog.Logger
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewWatcher creates a watcher for root and every directory below it.
func NewWatcher(root string, maxDepth int, logger *slog.Logger) (*Watcher, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		root:      root,
		maxDepth:  maxDepth,
		watcher:   fsw,
		eventChan: make(chan *Event, 256),
		logger:    logger.With(slog.String("path", root)),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}

	dirs, err := WalkDirectory(root, maxDepth)
	if err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	if err := fsw.Add(root); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch path: %w", err)
	}
	for _, dir := range dirs[1:] {
		if err := fsw.Add(dir); err != nil {
			w.logger.Warn("failed to watch subdirectory", slog.String("dir", dir), log.Error(err))
		}
	}
	return w, nil
}

// Start begins delivering events. It returns immediately.
func (w *Watcher) Start(ctx context.Context) {
	go w.eventLoop(ctx)
	w.logger.Debug("file watcher started")
}

// Stop stops the event loop and releases the fsnotify watcher.
func (w *Watcher) Stop() error {
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	<-w.doneCh
	return w.watcher.Close()
}

// Events returns the event channel. It is closed when the watcher stops.
func (w *Watcher) Events() <-chan *Event {
	return w.eventChan
}

func (w *Watcher) eventLoop(ctx context.Context) {
	defer close(w.doneCh)
	defer close(w.eventChan)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			recordError(w.root, "fsnotify")
			w.logger.Error("file watcher error", log.Error(err))
		}
	}
}

func kindOf(op fsnotify.Op) (string, bool) {
	switch {
	case op.Has(fsnotify.Remove):
		return agent.FileEventDeleted, true
	case op.Has(fsnotify.Rename):
		return agent.FileEventRenamed, true
	case op.Has(fsnotify.Create):
		return agent.FileEventCreated, true
	case op.Has(fsnotify.Write):
		return agent.FileEventModified, true
	}
	// Chmod alone is not a content change.
	return "", false
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	kind, ok := kindOf(event.Op)
	if !ok {
		return
	}
	if w.insideSkippedDir(event.Name) {
		return
	}

	var (
		size  int64
		mtime time.Time
		isDir bool
	)
	if kind != agent.FileEventDeleted && kind != agent.FileEventRenamed {
		if info, err := os.Stat(event.Name); err == nil {
			size, mtime, isDir = info.Size(), info.ModTime(), info.IsDir()
		}
	}

	if isDir && kind == agent.FileEventCreated {
		w.watchNewDir(event.Name)
	}

	ev := NewEvent(w.root, event.Name, kind, isDir, size, mtime)
	recordEvent(w.root, kind)

	select {
	case w.eventChan <- ev:
	default:
		recordError(w.root, "channel_full")
		w.logger.Warn("event channel full, dropping event", slog.String("event", kind), slog.String("file", ev.Path))
	}
}

func (w *Watcher) insideSkippedDir(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if skipDirs[part] {
			return true
		}
	}
	return false
}

func (w *Watcher) watchNewDir(dir string) {
	rel, err := filepath.Rel(w.root, dir)
	if err != nil {
		return
	}
	remaining := w.maxDepth - len(strings.Split(rel, string(filepath.Separator)))
	if remaining < 0 {
		return
	}
	dirs, _ := WalkDirectory(dir, remaining)
	for _, d := range dirs {
		if err := w.watcher.Add(d); err != nil {
			w.logger.Debug("failed to watch new directory", slog.String("dir", d), log.Error(err))
		}
	}
}
