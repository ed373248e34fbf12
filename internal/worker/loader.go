package worker

import (
	"context"
	"log"
	"time"

	"chatd/internal/modelcache"
)

// ProbeConfig shapes the offload-candidate ladder.
type ProbeConfig struct {
	// Start is the top of the descending ladder used when all layers were
	// requested (-1).
	Start int
	// Step is the ladder decrement.
	Step int
	// HalveFloor stops the halving sequence once a candidate is at or below
	// this value.
	HalveFloor int
}

func (cfg ProbeConfig) withDefaults() ProbeConfig {
	if cfg.Start <= 0 {
		cfg.Start = 64
	}
	if cfg.Step <= 0 {
		cfg.Step = 4
	}
	if cfg.HalveFloor <= 0 {
		cfg.HalveFloor = 4
	}
	return cfg
}

// Candidates returns the GPU-layer values to try, in order. Requested zero
// short-circuits to CPU only. Otherwise the cached value (if any) goes
// first, then the requested value, then a fallback ladder: a descending
// range for "all layers" requests, repeated halving down to the floor plus
// a final zero for explicit counts. Duplicates are dropped, order kept.
func Candidates(requested int, cached *int, cfg ProbeConfig) []int {
	cfg = cfg.withDefaults()
	if requested == 0 {
		return []int{0}
	}

	var out []int
	seen := make(map[int]bool)
	add := func(n int) {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}

	if cached != nil {
		add(*cached)
	}
	add(requested)

	if requested == -1 {
		for n := cfg.Start; n >= 0; n -= cfg.Step {
			add(n)
		}
	} else {
		cur := requested
		for cur > cfg.HalveFloor {
			cur /= 2
			add(cur)
		}
		add(0)
	}
	return out
}

// Loader probes how many layers a model can offload on this machine and
// remembers working values across runs.
type Loader struct {
	client  *Client
	cache   *modelcache.Cache
	cfg     ProbeConfig
	timeout time.Duration

	onAttempt func(layers int)
}

// NewLoader wires a prober around client. Successful loads are persisted to
// cache keyed by model path and context size.
func NewLoader(client *Client, cache *modelcache.Cache, cfg ProbeConfig, timeout time.Duration) *Loader {
	return &Loader{client: client, cache: cache, cfg: cfg.withDefaults(), timeout: timeout}
}

// OnAttempt registers a hook invoked before each candidate is tried, for
// surfacing progress to the UI.
func (l *Loader) OnAttempt(fn func(layers int)) { l.onAttempt = fn }

// Load walks the candidate ladder until one level loads, restarting the
// worker before every attempt so a failed initialization can't poison the
// next one. It returns the layer count that worked. When every candidate
// fails the worker is left stopped and a capacity error is returned.
func (l *Loader) Load(ctx context.Context, modelPath string, ctxSize, requested int) (int, error) {
	var cached *int
	if requested != 0 {
		if layers, ok := l.cache.Get(modelPath, ctxSize); ok {
			cached = &layers
		}
	}
	cands := Candidates(requested, cached, l.cfg)

	var last error
	for _, layers := range cands {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if l.onAttempt != nil {
			l.onAttempt(layers)
		}
		if err := l.client.Restart(); err != nil {
			last = err
			continue
		}
		err := l.client.Load(ctx, modelPath, ctxSize, layers, l.timeout)
		if err == nil {
			l.cache.Put(modelPath, ctxSize, layers)
			log.Printf("worker event=probe_ok model=%s n_ctx=%d n_gpu_layers=%d", modelPath, ctxSize, layers)
			return layers, nil
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		last = err
		log.Printf("worker event=probe_fail model=%s n_gpu_layers=%d err=%v", modelPath, layers, err)
	}

	_ = l.client.Close()
	return 0, ErrCapacity(modelPath, len(cands), last)
}
