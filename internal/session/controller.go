// Package session owns the conversation and drives generations against the
// chat worker. One Controller serves one conversation. Control operations
// (start, stop, regenerate, reset, rewind, load, download) serialize behind
// a single actions mutex held only briefly; the per-token work runs on its
// own goroutine gated by a capacity-one inference slot, so at most one
// generation is in flight process-wide. Long operations never block the
// callers: progress flows through the display queue.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chatd/internal/budget"
	"chatd/internal/convstore"
	"chatd/internal/download"
	"chatd/internal/retrieval"
	"chatd/internal/worker"
	"chatd/pkg/types"
)

// State names the session lifecycle phase.
type State string

const (
	StateIdle       State = "idle"
	StateStarting   State = "starting"
	StateStreaming  State = "streaming"
	StateStopping   State = "stopping"
	StateCleaningUp State = "cleaning_up"
)

const (
	defaultLockTimeout  = 5 * time.Second
	defaultCleanupWait  = time.Second
	minCleanupWait      = 750 * time.Millisecond
	maxCleanupWait      = 2 * time.Second
	defaultLoadTimeout  = 120 * time.Second
	defaultRetrieveTopK = 3

	// startSettleWait bounds how long Start waits for a previous operation
	// to clear before reporting Busy.
	startSettleWait = 500 * time.Millisecond
	settlePoll      = 10 * time.Millisecond

	// displayRate caps delta batches per second toward displays.
	displayRate = 20

	saveTimeout   = 5 * time.Second
	retrieveBound = 10 * time.Second
	storeBound    = 30 * time.Second
)

// Config tunes the controller.
type Config struct {
	// ConversationID keys the persisted conversation. Empty means "default".
	ConversationID string
	// SeedMessages start a fresh conversation: the character's system prompt
	// plus an optional opening user message.
	SeedMessages []types.Message
	// CtxSize is used when a load request does not name a context size.
	CtxSize int
	// LockTimeout bounds inference-slot acquisition before reporting Busy.
	LockTimeout time.Duration
	// CleanupWait is how long stop waits for a stream to unwind before
	// force-cancelling. Clamped to 750ms..2s.
	CleanupWait time.Duration
	// LoadTimeout bounds a single worker load exchange.
	LoadTimeout time.Duration
	// RetrieveTopK is how many past exchanges to pull into context.
	RetrieveTopK int
	// Params are the default sampling parameters, overridable per turn.
	Params types.GenParams
	// Budget tunes token counting and pruning.
	Budget budget.Config
	// EventBacklog bounds the display queue.
	EventBacklog int
}

func (cfg Config) withDefaults() Config {
	if cfg.ConversationID == "" {
		cfg.ConversationID = "default"
	}
	if cfg.CtxSize <= 0 {
		cfg.CtxSize = 4096
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = defaultLockTimeout
	}
	if cfg.CleanupWait <= 0 {
		cfg.CleanupWait = defaultCleanupWait
	}
	if cfg.CleanupWait < minCleanupWait {
		cfg.CleanupWait = minCleanupWait
	}
	if cfg.CleanupWait > maxCleanupWait {
		cfg.CleanupWait = maxCleanupWait
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = defaultLoadTimeout
	}
	if cfg.RetrieveTopK <= 0 {
		cfg.RetrieveTopK = defaultRetrieveTopK
	}
	return cfg
}

// Deps are the controller's collaborators. Client and Loader are required.
// The rest degrade: a nil Retriever disables retrieval, a nil Store disables
// persistence, a nil Downloader rejects downloads.
type Deps struct {
	Client      *worker.Client
	EmbedClient *worker.Client
	Loader      *worker.Loader
	Retriever   retrieval.Retriever
	Store       convstore.Store
	Downloader  *download.Downloader
}

// Controller drives the one conversation this daemon serves.
type Controller struct {
	cfg Config

	client      *worker.Client
	embedClient *worker.Client
	loader      *worker.Loader
	retr        retrieval.Retriever
	retrOn      bool
	store       convstore.Store
	dl          *download.Downloader

	budget    *budget.Manager // live counts via the worker
	estBudget *budget.Manager // estimate only, safe while the worker is busy
	queue     *Queue

	gate   chan struct{} // capacity 1: the inference slot
	saveCh chan types.Conversation
	saveWG sync.WaitGroup

	baseCtx  context.Context
	baseStop context.CancelFunc
	started  time.Time

	// mu is the actions lock. Everything below it is owned by whoever holds
	// it; hold it briefly, never across worker exchanges.
	mu           sync.Mutex
	state        State
	conv         *types.Conversation
	seedLen      int
	cleaning     bool
	closed       bool
	streamCancel context.CancelFunc
	streamDone   chan struct{}
	loading      bool
	loadingModel string
	loadStage    string
	downloads    int
	modelPath    string
	ctxSize      int
	gpuLayers    int
	lastErr      string
	lastTokSec   float64
	loads        uint64
	prunes       uint64
}

// New wires a controller. When a store is configured the conversation named
// by cfg.ConversationID is loaded from it, otherwise a fresh one is seeded.
func New(deps Deps, cfg Config) (*Controller, error) {
	cfg = cfg.withDefaults()
	if deps.Client == nil || deps.Loader == nil {
		return nil, fmt.Errorf("session: worker client and loader are required")
	}

	c := &Controller{
		cfg:         cfg,
		client:      deps.Client,
		embedClient: deps.EmbedClient,
		loader:      deps.Loader,
		retr:        deps.Retriever,
		retrOn:      deps.Retriever != nil,
		store:       deps.Store,
		dl:          deps.Downloader,
		queue:       NewQueue(cfg.EventBacklog),
		gate:        make(chan struct{}, 1),
		saveCh:      make(chan types.Conversation, 1),
		started:     time.Now(),
		state:       StateIdle,
		ctxSize:     cfg.CtxSize,
		seedLen:     len(cfg.SeedMessages),
	}
	if c.retr == nil {
		c.retr = retrieval.Noop{}
	}
	c.budget = budget.New(budget.CounterFunc(c.client.TokenizeCount), cfg.Budget)
	c.estBudget = budget.New(nil, cfg.Budget)
	c.baseCtx, c.baseStop = context.WithCancel(context.Background())

	if c.store != nil {
		ctx, cancel := context.WithTimeout(c.baseCtx, saveTimeout)
		conv, err := convstore.LoadOrCreate(ctx, c.store, cfg.ConversationID, cfg.SeedMessages)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("session: load conversation: %w", err)
		}
		c.conv = conv
	} else {
		conv := types.NewConversation(types.CloneMessages(cfg.SeedMessages)...)
		conv.ID = cfg.ConversationID
		c.conv = &conv
	}

	c.loader.OnAttempt(func(layers int) {
		probeAttemptsTotal.Inc()
		stage := fmt.Sprintf("trying %d gpu layers", layers)
		if layers < 0 {
			stage = "trying all gpu layers"
		}
		c.mu.Lock()
		c.loadStage = stage
		model := c.loadingModel
		c.mu.Unlock()
		c.queue.Publish(types.UIEvent{Type: types.EventLoad, Model: model, Stage: stage})
	})

	c.saveWG.Add(1)
	go c.saveLoop()
	return c, nil
}

// Events exposes the display queue for SSE subscribers.
func (c *Controller) Events() *Queue { return c.queue }

// Conversation returns a copy of the live conversation.
func (c *Controller) Conversation() types.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conv.Clone()
}

// Ready reports whether a chat model is loaded.
func (c *Controller) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.modelPath != ""
}

// canStartLocked is the admission guard: no cleanup in progress, no stream
// handle outstanding, no load underway. Caller holds mu.
func (c *Controller) canStartLocked() error {
	if c.closed {
		return ErrBusy("shutting down")
	}
	if c.cleaning {
		return ErrBusy("cleanup in progress")
	}
	if c.streamDone != nil {
		return ErrBusy("generation in flight")
	}
	if c.loading {
		return ErrBusy("model load in progress")
	}
	return nil
}

// waitSettled polls until no stream handle is outstanding and cleanup has
// finished, or the bound expires.
func (c *Controller) waitSettled(d time.Duration) error {
	deadline := time.Now().Add(d)
	for {
		c.mu.Lock()
		settled := c.streamDone == nil && !c.cleaning
		c.mu.Unlock()
		if settled {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrBusy("cleanup did not settle")
		}
		time.Sleep(settlePoll)
	}
}

// waitQuiescent additionally waits for loads and downloads to drain.
func (c *Controller) waitQuiescent(d time.Duration) error {
	deadline := time.Now().Add(d)
	for {
		c.mu.Lock()
		quiet := c.streamDone == nil && !c.cleaning && !c.loading && c.downloads == 0
		c.mu.Unlock()
		if quiet {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrBusy("operations still in flight")
		}
		time.Sleep(settlePoll)
	}
}

// syncLocked mirrors the full conversation to displays after a structural
// change. Caller holds mu.
func (c *Controller) syncLocked() {
	c.queue.Publish(types.UIEvent{Type: types.EventSync, Messages: types.CloneMessages(c.conv.Messages)})
}

// Close stops any stream, cancels long operations, flushes the pending save,
// and tears down the workers and collaborators. Repeated calls are no-ops.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.Stop()
	c.baseStop()
	_ = c.waitQuiescent(c.cfg.CleanupWait + 5*time.Second)

	close(c.saveCh)
	c.saveWG.Wait()

	// Final synchronous save so a clean shutdown never loses the tail of
	// the conversation.
	c.mu.Lock()
	snap := c.conv.Clone()
	c.mu.Unlock()
	c.saveSnapshot(snap)

	c.queue.Close()

	var firstErr error
	if err := c.client.Close(); err != nil {
		firstErr = err
	}
	if c.embedClient != nil {
		if err := c.embedClient.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := c.retr.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
