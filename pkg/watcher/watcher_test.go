package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileWatcherReportsTargetOnly(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "network.yaml")
	if err := os.WriteFile(target, []byte("nodes: []\n"), 0o644); err != nil {
		t.Fatalf("Failed to write network: %v", err)
	}

	fw, err := NewFileWatcher(target, false)
	if err != nil {
		t.Fatalf("NewFileWatcher failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := fw.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// A sibling file must not trigger a change
	if err := os.WriteFile(filepath.Join(dir, "notes.yaml"), []byte("x: 1\n"), 0o644); err != nil {
		t.Fatalf("Failed to write sibling: %v", err)
	}
	if err := os.WriteFile(target, []byte("nodes: []\npipes: []\n"), 0o644); err != nil {
		t.Fatalf("Failed to rewrite network: %v", err)
	}

	select {
	case event := <-fw.Events():
		if len(event.Paths) != 1 || event.Paths[0] != target {
			t.Errorf("Expected only %s, got %v", target, event.Paths)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for change event")
	}

	cancel()
	for range fw.Events() {
	}
}

func TestFileWatcherDirectoryFiltersByExtension(t *testing.T) {
	dir := t.TempDir()

	fw, err := NewFileWatcher(dir, true)
	if err != nil {
		t.Fatalf("NewFileWatcher failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := fw.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# nets\n"), 0o644); err != nil {
		t.Fatalf("Failed to write readme: %v", err)
	}
	network := filepath.Join(dir, "loop.toml")
	if err := os.WriteFile(network, []byte("method = \"darcy\"\n"), 0o644); err != nil {
		t.Fatalf("Failed to write network: %v", err)
	}

	select {
	case event := <-fw.Events():
		if len(event.Paths) != 1 || event.Paths[0] != network {
			t.Errorf("Expected only %s, got %v", network, event.Paths)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for change event")
	}
}
