// Package modelcache persists the GPU offload level that last worked for a
// given model file and context size, so later loads skip the probe ladder.
package modelcache

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"chatd/internal/common/fsutil"
)

// Entry records a working offload level. ModelPath and ContextSize are kept
// in the value as well as the key so the file stays self-describing.
type Entry struct {
	GPULayers   int    `json:"gpu_layers"`
	ModelPath   string `json:"model_path"`
	ContextSize int    `json:"context_size"`
}

// Key builds the cache key for a model/context pair.
func Key(modelPath string, ctxSize int) string {
	return fmt.Sprintf("%s:%d", modelPath, ctxSize)
}

// Cache is a small read-then-write JSON mapping. A missing or corrupt file
// degrades to an empty cache; it never fails a load. No cross-process
// coordination: only one model load proceeds at a time.
type Cache struct {
	mu      sync.Mutex
	path    string
	entries map[string]Entry
}

// Open loads the cache at path. path == "" yields an in-memory cache.
func Open(path string) *Cache {
	c := &Cache{path: path, entries: map[string]Entry{}}
	if path == "" {
		return c
	}
	f, err := os.Open(path)
	if err != nil {
		return c
	}
	defer f.Close()
	var data map[string]Entry
	if err := json.NewDecoder(f).Decode(&data); err == nil && data != nil {
		c.entries = data
	}
	return c
}

// Get returns the cached offload level for the pair, if any.
func (c *Cache) Get(modelPath string, ctxSize int) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[Key(modelPath, ctxSize)]
	if !ok {
		return 0, false
	}
	return e.GPULayers, true
}

// Put records a working level and persists the whole mapping. Persistence is
// best-effort; a write failure keeps the in-memory entry.
func (c *Cache) Put(modelPath string, ctxSize, gpuLayers int) {
	c.mu.Lock()
	c.entries[Key(modelPath, ctxSize)] = Entry{
		GPULayers:   gpuLayers,
		ModelPath:   modelPath,
		ContextSize: ctxSize,
	}
	snap := make(map[string]Entry, len(c.entries))
	for k, v := range c.entries {
		snap[k] = v
	}
	path := c.path
	c.mu.Unlock()

	if path == "" {
		return
	}
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return
	}
	_ = fsutil.WriteFileAtomic(path, b, 0o644)
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
