//go:build !llama

package runtime

import "chatd/pkg/types"

// llamaBuilt indicates this binary carries the in-process llama engine.
var llamaBuilt = false

const notBuiltMsg = "llama engine not built (missing 'llama' build tag)"

// stubEngine refuses every operation. Default builds stay CGO-free and never
// mock inference; the host maps the refusal to a dependency error the daemon
// can surface.
type stubEngine struct{}

// NewLlamaEngine returns the engine for this build.
func NewLlamaEngine(threads int) Engine { return stubEngine{} }

func (stubEngine) Load(string, int, int) error { return ErrDependencyUnavailable(notBuiltMsg) }

func (stubEngine) LoadEmbed(string) error { return ErrDependencyUnavailable(notBuiltMsg) }

func (stubEngine) Generate([]types.Message, *types.GenParams, func(string) error) (Result, error) {
	return Result{}, ErrDependencyUnavailable(notBuiltMsg)
}

func (stubEngine) TokenizeCount(string) (int, error) {
	return 0, ErrDependencyUnavailable(notBuiltMsg)
}

func (stubEngine) Embed(string) ([]float32, error) {
	return nil, ErrDependencyUnavailable(notBuiltMsg)
}

func (stubEngine) Close() error { return nil }
