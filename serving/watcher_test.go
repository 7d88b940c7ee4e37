package serving

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchArtifactReportsChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.json")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	changes := make(chan string, 16)
	watcher, err := WatchArtifact(context.Background(), path, nil, func(p, op string) {
		select {
		case changes <- p:
		default:
		}
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer watcher.Close()

	// Unrelated files in the same directory are ignored.
	if err := os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(path, []byte(`{"changed":true}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case got := <-changes:
		if got != watcher.Path() {
			t.Fatalf("expected change for %s, got %s", watcher.Path(), got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no change reported")
	}
}

func TestWatchArtifactMissingDirectory(t *testing.T) {
	_, err := WatchArtifact(context.Background(), filepath.Join(t.TempDir(), "nope", "model.json"), nil, nil)
	if err == nil {
		t.Fatalf("expected error for missing directory")
	}
}
