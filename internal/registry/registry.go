// Package registry discovers model files in the models directory and tells
// chat models apart from embedding models.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"chatd/internal/common/fsutil"
	"chatd/pkg/types"
)

// embedMarkers are filename fragments that mark an embedding model. The
// models directory holds both kinds; embeddings never show up in the chat
// model picker.
var embedMarkers = []string{"embed", "nomic", "bge-", "gte-", "minilm"}

var quantRe = regexp.MustCompile(`(?i)\b(i?q\d[a-z0-9_]*)`)

// Scanner builds a model registry from a directory of *.gguf files.
type Scanner struct{}

func NewGGUFScanner() *Scanner { return &Scanner{} }

// Scan lists the *.gguf files in dir. ID and Name are the plain filename
// (including extension); Path is absolute. Results are sorted by ID so
// repeated scans are comparable.
func (s *Scanner) Scan(dir string) ([]types.Model, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
			continue
		}
		m := types.Model{
			ID:        name,
			Name:      name,
			Path:      filepath.Join(abs, name),
			Quant:     quantOf(name),
			Embedding: IsEmbedding(name),
		}
		if info, err := e.Info(); err == nil {
			m.SizeBytes = info.Size()
		}
		models = append(models, m)
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// LoadDir scans dir with the default scanner.
func LoadDir(dir string) ([]types.Model, error) {
	return NewGGUFScanner().Scan(dir)
}

// IsEmbedding reports whether a model filename looks like an embedding
// model.
func IsEmbedding(name string) bool {
	lower := strings.ToLower(name)
	for _, marker := range embedMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Split separates chat models from embedding models, keeping scan order.
func Split(models []types.Model) (chat, embed []types.Model) {
	for _, m := range models {
		if m.Embedding {
			embed = append(embed, m)
		} else {
			chat = append(chat, m)
		}
	}
	return chat, embed
}

// Find returns the model with the given ID.
func Find(models []types.Model, id string) (types.Model, bool) {
	for _, m := range models {
		if m.ID == id {
			return m, true
		}
	}
	return types.Model{}, false
}

func quantOf(name string) string {
	m := quantRe.FindString(name)
	return strings.ToUpper(m)
}
