package main

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"chatd/internal/registry"
	"chatd/internal/session"
	"chatd/pkg/types"
)

// catalog is the live view of the models directory. The watcher replaces the
// slice wholesale on every rescan; readers copy under the lock.
type catalog struct {
	mu     sync.RWMutex
	models []types.Model
}

func newCatalog(models []types.Model) *catalog {
	return &catalog{models: models}
}

// replace swaps in a fresh scan. The registry watcher calls this from its
// own goroutine.
func (c *catalog) replace(models []types.Model) {
	c.mu.Lock()
	c.models = models
	c.mu.Unlock()
}

func (c *catalog) snapshot() []types.Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.Model, len(c.models))
	copy(out, c.models)
	return out
}

func (c *catalog) list() types.ModelsResponse {
	chat, embed := registry.Split(c.snapshot())
	return types.ModelsResponse{Models: chat, EmbeddingModels: embed}
}

// resolve maps a reference to a model entry. A reference is a registry ID,
// the path of a registered model, or an absolute path to an existing .gguf
// file outside the models directory.
func (c *catalog) resolve(ref string) (types.Model, bool) {
	models := c.snapshot()
	if m, ok := registry.Find(models, ref); ok {
		return m, true
	}
	for _, m := range models {
		if m.Path == ref {
			return m, true
		}
	}
	if filepath.IsAbs(ref) && strings.HasSuffix(strings.ToLower(ref), ".gguf") {
		if fi, err := os.Stat(ref); err == nil && !fi.IsDir() {
			name := filepath.Base(ref)
			return types.Model{
				ID:        name,
				Name:      name,
				Path:      ref,
				SizeBytes: fi.Size(),
				Embedding: registry.IsEmbedding(name),
			}, true
		}
	}
	return types.Model{}, false
}

// service glues the session controller and the model catalog into the one
// interface the HTTP layer consumes. Everything conversational is promoted
// from the controller; the two model-listing methods come from the catalog.
type service struct {
	*session.Controller
	catalog *catalog
}

func (s *service) ListModels() types.ModelsResponse { return s.catalog.list() }

func (s *service) ResolveModel(ref string) (types.Model, bool) { return s.catalog.resolve(ref) }
