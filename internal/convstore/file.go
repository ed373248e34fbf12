package convstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"chatd/internal/common/fsutil"
	"chatd/pkg/types"
)

// File stores one JSON document per conversation under a directory. Writes
// go through a temp file and rename, so a crash mid-write never leaves a
// truncated conversation behind.
type File struct {
	dir string
	mu  sync.Mutex
}

// NewFile builds a file-backed store rooted at dir.
func NewFile(dir string) (*File, error) {
	if dir == "" {
		return nil, fmt.Errorf("file store: directory required")
	}
	expanded, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(expanded, 0o755); err != nil {
		return nil, fmt.Errorf("file store: mkdir %s: %w", expanded, err)
	}
	return &File{dir: expanded}, nil
}

func (f *File) path(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("file store: unsafe conversation id %q", id)
	}
	return filepath.Join(f.dir, id+".json"), nil
}

func (f *File) Create(_ context.Context, conv *types.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	conv.Version = 1
	return f.writeLocked(conv)
}

func (f *File) Get(_ context.Context, id string) (*types.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readLocked(id)
}

func (f *File) Update(_ context.Context, conv *types.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	stored, err := f.readLocked(conv.ID)
	if err != nil {
		return err
	}
	if stored == nil {
		return ErrNotFound
	}
	if stored.Version != conv.Version {
		return ErrVersionConflict
	}
	conv.Version++
	conv.UpdatedAt = time.Now().UTC()
	return f.writeLocked(conv)
}

func (f *File) Delete(_ context.Context, id string) error {
	path, err := f.path(id)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("file store: delete %s: %w", id, err)
	}
	return nil
}

func (f *File) Close() error { return nil }

func (f *File) readLocked(id string) (*types.Conversation, error) {
	path, err := f.path(id)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("file store: read %s: %w", id, err)
	}
	var conv types.Conversation
	if err := json.Unmarshal(b, &conv); err != nil {
		return nil, fmt.Errorf("file store: decode %s: %w", id, err)
	}
	return &conv, nil
}

func (f *File) writeLocked(conv *types.Conversation) error {
	path, err := f.path(conv.ID)
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return fmt.Errorf("file store: encode %s: %w", conv.ID, err)
	}
	return fsutil.WriteFileAtomic(path, b, 0o644)
}
