package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"chatd/pkg/types"
)

func TestWatcherRescansOnChange(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "first.gguf")

	scans := make(chan []types.Model, 4)
	w, err := NewWatcher(dir, 50*time.Millisecond, func(models []types.Model) {
		scans <- models
	})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer w.Close()

	writeFiles(t, dir, "second.gguf")

	select {
	case models := <-scans:
		if _, ok := Find(models, "second.gguf"); !ok {
			t.Fatalf("scan missing new model: %+v", models)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no rescan after file creation")
	}

	if err := os.Remove(filepath.Join(dir, "second.gguf")); err != nil {
		t.Fatal(err)
	}
	select {
	case models := <-scans:
		if _, ok := Find(models, "second.gguf"); ok {
			t.Fatalf("removed model still present: %+v", models)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no rescan after file removal")
	}
}

func TestWatcherIgnoresNonModelFiles(t *testing.T) {
	dir := t.TempDir()
	scans := make(chan []types.Model, 1)
	w, err := NewWatcher(dir, 20*time.Millisecond, func(models []types.Model) {
		scans <- models
	})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer w.Close()

	writeFiles(t, dir, "notes.txt")

	select {
	case <-scans:
		t.Fatal("rescan triggered by a non-model file")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherCloseStopsCallbacks(t *testing.T) {
	dir := t.TempDir()
	scans := make(chan []types.Model, 1)
	w, err := NewWatcher(dir, 20*time.Millisecond, func(models []types.Model) {
		scans <- models
	})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	writeFiles(t, dir, "late.gguf")

	select {
	case <-scans:
		t.Fatal("callback after Close")
	case <-time.After(200 * time.Millisecond):
	}
}
