// Package watcher reports changes to network files so they can be re-solved.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ritzau/hardy-cross/pkg/loader"
	"github.com/ritzau/hardy-cross/pkg/logging"
)

// batchWindow groups the burst of events a single save produces
const batchWindow = 100 * time.Millisecond

// ChangeEvent represents a batch of file system changes
type ChangeEvent struct {
	Paths     []string
	Timestamp time.Time
}

// FileWatcher watches network files for changes. Editors often save by
// writing a temporary file and renaming it, so the containing directory is
// watched and events are filtered by name.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	dir     string
	targets map[string]bool // absolute paths; empty means any network file in dir
	events  chan ChangeEvent
}

// NewFileWatcher watches path, which may be a network file or a directory
// of network files.
func NewFileWatcher(path string, isDir bool) (*FileWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	fw := &FileWatcher{
		watcher: watcher,
		dir:     abs,
		targets: make(map[string]bool),
		events:  make(chan ChangeEvent, 16),
	}
	if !isDir {
		fw.dir = filepath.Dir(abs)
		fw.targets[abs] = true
	}
	return fw, nil
}

// Start begins watching. Events stop and the channel closes when ctx ends.
func (fw *FileWatcher) Start(ctx context.Context) error {
	if err := fw.watcher.Add(fw.dir); err != nil {
		fw.watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", fw.dir, err)
	}

	logging.Info("watching network files", "dir", fw.dir, "files", len(fw.targets))

	go fw.processEvents(ctx)
	return nil
}

// relevant reports whether an fsnotify event concerns a watched network file
func (fw *FileWatcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	if len(fw.targets) > 0 {
		return fw.targets[filepath.Clean(event.Name)]
	}
	return loader.Supported(event.Name)
}

// processEvents collects relevant events into batches
func (fw *FileWatcher) processEvents(ctx context.Context) {
	defer close(fw.events)
	defer fw.watcher.Close()

	var pending []string
	seen := make(map[string]bool)

	flushTimer := time.NewTimer(batchWindow)
	flushTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if !fw.relevant(event) {
				continue
			}
			logging.Trace("network file event", "path", event.Name, "op", event.Op.String())
			if !seen[event.Name] {
				seen[event.Name] = true
				pending = append(pending, event.Name)
			}
			flushTimer.Reset(batchWindow)

		case <-flushTimer.C:
			if len(pending) == 0 {
				continue
			}
			select {
			case fw.events <- ChangeEvent{Paths: pending, Timestamp: time.Now()}:
			case <-ctx.Done():
				return
			}
			pending = nil
			seen = make(map[string]bool)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("watcher error", "error", err)
		}
	}
}

// Events returns the channel of change events
func (fw *FileWatcher) Events() <-chan ChangeEvent {
	return fw.events
}
