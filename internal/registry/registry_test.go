package registry

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("gguf"), 0o644); err != nil {
			t.Fatalf("write temp file: %v", err)
		}
	}
}

func TestScanFiltersGGUF(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.gguf", "b.GGUF", "not-model.txt", "model.bin")

	s := NewGGUFScanner()
	models, err := s.Scan(dir)
	if err != nil {
		t.Fatalf("scan error: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(models))
	}
	for _, m := range models {
		if !strings.HasSuffix(strings.ToLower(m.ID), ".gguf") {
			t.Fatalf("id not gguf: %s", m.ID)
		}
		if !filepath.IsAbs(m.Path) {
			t.Fatalf("path not absolute: %s", m.Path)
		}
		if m.SizeBytes != 4 {
			t.Fatalf("size = %d", m.SizeBytes)
		}
	}
	// Sorted by ID: "a.gguf" before "b.GGUF".
	if models[0].ID != "a.gguf" {
		t.Fatalf("order: %+v", models)
	}
}

func TestScanExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir on this platform: %v", err)
	}
	hTmp, err := os.MkdirTemp(home, "chatd-registry-*")
	if err != nil {
		t.Skipf("cannot create temp under home: %v", err)
	}
	defer os.RemoveAll(hTmp)
	writeFiles(t, hTmp, "x.gguf")

	var tildePath string
	if runtime.GOOS == "windows" {
		tildePath = filepath.Join("~", filepath.Base(hTmp))
	} else {
		tildePath = "~/" + filepath.Base(hTmp)
	}
	models, err := NewGGUFScanner().Scan(tildePath)
	if err != nil {
		t.Fatalf("scan error: %v", err)
	}
	if len(models) != 1 || models[0].ID != "x.gguf" {
		t.Fatalf("unexpected models: %+v", models)
	}
}

func TestSplitEmbeddingModels(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir,
		"llama-3.1-8b-q4_k_m.gguf",
		"nomic-embed-text-v1.5.Q8_0.gguf",
		"bge-small-en.gguf",
	)
	models, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	chat, embed := Split(models)
	if len(chat) != 1 || chat[0].ID != "llama-3.1-8b-q4_k_m.gguf" {
		t.Fatalf("chat = %+v", chat)
	}
	if len(embed) != 2 {
		t.Fatalf("embed = %+v", embed)
	}
	for _, m := range embed {
		if !m.Embedding {
			t.Fatalf("embedding flag unset: %+v", m)
		}
	}
}

func TestQuantFromFilename(t *testing.T) {
	cases := map[string]string{
		"llama-3.1-8b-q4_k_m.gguf":        "Q4_K_M",
		"nomic-embed-text-v1.5.Q8_0.gguf": "Q8_0",
		"plain-model.gguf":                "",
	}
	for name, want := range cases {
		if got := quantOf(name); got != want {
			t.Errorf("quantOf(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestFind(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "m.gguf")
	models, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := Find(models, "m.gguf"); !ok {
		t.Fatal("existing model not found")
	}
	if _, ok := Find(models, "missing.gguf"); ok {
		t.Fatal("missing model found")
	}
}
