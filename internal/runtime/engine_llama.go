//go:build llama

package runtime

import (
	"errors"
	"strings"

	llama "github.com/go-skynet/go-llama.cpp"

	"chatd/pkg/types"
)

// llamaBuilt indicates this binary carries the in-process llama engine.
var llamaBuilt = true

// embedCtxSize is the context used for embedding models; they encode single
// texts, not conversations.
const embedCtxSize = 2048

// llamaEngine runs llama.cpp in process. One model at a time; loading a new
// one frees the previous.
type llamaEngine struct {
	threads   int
	model     *llama.LLama
	embedding bool
}

// NewLlamaEngine returns the engine for this build.
func NewLlamaEngine(threads int) Engine {
	return &llamaEngine{threads: threads}
}

func (e *llamaEngine) Load(modelPath string, ctxSize, gpuLayers int) error {
	if strings.TrimSpace(modelPath) == "" {
		return errors.New("model path is empty")
	}
	e.freeModel()
	if ctxSize <= 0 {
		ctxSize = 4096
	}
	mo := []llama.ModelOption{llama.SetContext(ctxSize)}
	if gpuLayers != 0 {
		mo = append(mo, llama.SetGPULayers(gpuLayers))
	}
	m, err := llama.New(modelPath, mo...)
	if err != nil {
		return err
	}
	e.model = m
	e.embedding = false
	return nil
}

func (e *llamaEngine) LoadEmbed(modelPath string) error {
	if strings.TrimSpace(modelPath) == "" {
		return errors.New("model path is empty")
	}
	e.freeModel()
	m, err := llama.New(modelPath, llama.SetContext(embedCtxSize), llama.EnableEmbeddings)
	if err != nil {
		return err
	}
	e.model = m
	e.embedding = true
	return nil
}

func (e *llamaEngine) Generate(msgs []types.Message, params *types.GenParams, onToken func(string) error) (Result, error) {
	if e.model == nil || e.embedding {
		return Result{}, errNotLoaded
	}
	var cbErr error
	if onToken != nil {
		e.model.SetTokenCallback(func(tok string) bool {
			if err := onToken(tok); err != nil {
				cbErr = err
				return false
			}
			return true
		})
		defer e.model.SetTokenCallback(nil)
	}
	text, err := e.model.Predict(buildPrompt(msgs), predictOptions(params, e.threads)...)
	if cbErr != nil {
		return Result{}, cbErr
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Content: text, FinishReason: "stop"}, nil
}

func (e *llamaEngine) TokenizeCount(text string) (int, error) {
	if e.model == nil {
		return 0, errNotLoaded
	}
	n, _, err := e.model.TokenizeString(text)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (e *llamaEngine) Embed(text string) ([]float32, error) {
	if e.model == nil || !e.embedding {
		return nil, errNotLoaded
	}
	return e.model.Embeddings(text)
}

func (e *llamaEngine) Close() error {
	e.freeModel()
	return nil
}

func (e *llamaEngine) freeModel() {
	if e.model != nil {
		e.model.Free()
		e.model = nil
	}
}

func zn(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func zf(v, def float32) float32 {
	if v > 0 {
		return v
	}
	return def
}

// predictOptions converts wire generation params into binding options. Zero
// values fall back to the binding defaults.
func predictOptions(params *types.GenParams, threads int) []llama.PredictOption {
	var p types.GenParams
	if params != nil {
		p = *params
	}
	po := []llama.PredictOption{
		llama.SetTokens(zn(p.MaxTokens, 512)),
		llama.SetThreads(zn(threads, 1)),
		llama.SetTopP(zf(p.TopP, llama.DefaultOptions.TopP)),
		llama.SetTopK(zn(p.TopK, llama.DefaultOptions.TopK)),
		llama.SetTemperature(zf(p.Temperature, llama.DefaultOptions.Temperature)),
		llama.SetPenalty(zf(p.RepeatPenalty, llama.DefaultOptions.Penalty)),
	}
	if p.Seed != 0 {
		po = append(po, llama.SetSeed(p.Seed))
	}
	if len(p.Stop) > 0 {
		po = append(po, llama.SetStopWords(p.Stop...))
	}
	return po
}
