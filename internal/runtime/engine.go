// Package runtime hosts the worker side of the wire protocol: a stdio serve
// loop dispatching onto a pluggable inference Engine. Default builds carry a
// stub engine that refuses to load (no mocked inference in production
// binaries); the llama build tag swaps in the in-process llama.cpp engine.
package runtime

import (
	"errors"

	"chatd/pkg/types"
)

// Result is the final outcome of one generation.
type Result struct {
	Content      string
	FinishReason string
}

// Engine is the model backend behind the serve loop. Implementations are
// used from a single goroutine; they do not need to be safe for concurrent
// calls.
type Engine interface {
	// Load initializes a generation model. gpuLayers -1 means all layers,
	// 0 means CPU only.
	Load(modelPath string, ctxSize, gpuLayers int) error
	// LoadEmbed initializes an embedding model (CPU, embeddings enabled).
	LoadEmbed(modelPath string) error
	// Generate produces a completion for msgs. When onToken is non-nil it is
	// invoked for every fragment in order; an error from onToken aborts
	// generation and is returned as-is.
	Generate(msgs []types.Message, params *types.GenParams, onToken func(string) error) (Result, error)
	// TokenizeCount counts tokens with the loaded model's tokenizer.
	TokenizeCount(text string) (int, error)
	// Embed encodes text into a vector.
	Embed(text string) ([]float32, error)
	Close() error
}

var errNotLoaded = errors.New("model not loaded")

// EngineBuilt reports whether this binary carries the real inference engine
// or the refusing stub.
func EngineBuilt() bool { return llamaBuilt }

// dependencyError marks failures caused by a missing engine build, not by
// the request.
type dependencyError struct{ msg string }

func (e dependencyError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependency error.
func ErrDependencyUnavailable(msg string) error { return dependencyError{msg: msg} }

// IsDependencyUnavailable reports whether err means the engine is not built
// into this binary.
func IsDependencyUnavailable(err error) bool {
	var de dependencyError
	return errors.As(err, &de)
}
