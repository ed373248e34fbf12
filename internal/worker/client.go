// Package worker supervises inference worker subprocesses and speaks the
// line-framed JSON protocol over their stdin/stdout.
//
// A Client owns at most one child process. All protocol exchanges are
// serialized by a single mutex: whoever holds it owns the channel until the
// reply (or the whole reply stream) has been consumed. Streaming calls keep
// the mutex across the stream's lifetime and release it in Stream.Close, so
// a stream abandoned without draining can never interleave with the next
// request.
package worker

import (
	"context"
	"fmt"
	"io"
	"log"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"chatd/internal/wire"
	"chatd/pkg/types"
)

const (
	// stderrTail bounds how much child stderr is retained for crash reports.
	stderrTail = 4096
	// stopGrace is how long Stop waits after the shutdown request, and again
	// after SIGTERM, before escalating.
	stopGrace = 2 * time.Second
)

// LoadSpec records the model a worker currently serves.
type LoadSpec struct {
	ModelPath string
	CtxSize   int
	GPULayers int
}

// proc is one spawned worker process and its wire channel.
type proc struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	enc    *wire.Encoder
	dec    *wire.Decoder
	stderr *tailBuffer
	pid    int

	// done is closed by the reaper goroutine once Wait returns; waitErr is
	// valid only after done is closed.
	done    chan struct{}
	waitErr error
}

func (p *proc) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Client supervises one worker subprocess.
type Client struct {
	bin  string
	role string // "main" or "embed", used in logs and errors

	// mu serializes protocol exchanges. Streaming holds it until the stream
	// is closed.
	mu sync.Mutex

	// stateMu guards the process handle and bookkeeping below. Kill takes
	// only stateMu so it can interrupt a stream that holds mu.
	stateMu    sync.Mutex
	proc       *proc
	desynced   bool
	everRan    bool
	restarts   uint64
	lastLoad   *LoadSpec
	streamBusy atomic.Bool
}

// NewClient returns a client that will run bin as its worker subprocess.
// Role tags log lines and error messages so main and embedding workers can
// be told apart.
func NewClient(bin, role string) *Client {
	return &Client{bin: bin, role: role}
}

// Start spawns the worker if it is not already running. It is idempotent.
func (c *Client) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureLocked()
}

// ensureLocked makes sure a healthy process backs the wire channel,
// respawning after an exit or a desync. Caller holds mu.
func (c *Client) ensureLocked() error {
	c.stateMu.Lock()
	p, desynced := c.proc, c.desynced
	c.stateMu.Unlock()

	if p != nil && !p.exited() && !desynced {
		return nil
	}
	if p != nil {
		c.stopLocked(p, false)
	}
	return c.startLocked()
}

func (c *Client) startLocked() error {
	cmd := exec.Command(c.bin)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("worker %s: stdin pipe: %w", c.role, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("worker %s: stdout pipe: %w", c.role, err)
	}
	tail := newTailBuffer(stderrTail)
	cmd.Stderr = tail

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("worker %s: start %s: %w", c.role, c.bin, err)
	}

	p := &proc{
		cmd:    cmd,
		stdin:  stdin,
		enc:    wire.NewEncoder(stdin),
		dec:    wire.NewDecoder(stdout),
		stderr: tail,
		pid:    cmd.Process.Pid,
		done:   make(chan struct{}),
	}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
		log.Printf("worker event=exit role=%s pid=%d err=%v", c.role, p.pid, p.waitErr)
	}()

	c.stateMu.Lock()
	if c.everRan {
		c.restarts++
	}
	c.everRan = true
	c.proc = p
	c.desynced = false
	c.lastLoad = nil
	c.stateMu.Unlock()

	log.Printf("worker event=start role=%s pid=%d bin=%s", c.role, p.pid, c.bin)
	return nil
}

// stopLocked tears down p. When polite is true it first asks the worker to
// shut itself down over the wire; either way it escalates through SIGTERM to
// SIGKILL. Caller holds mu (so no exchange is in flight on p).
func (c *Client) stopLocked(p *proc, polite bool) {
	if !p.exited() {
		if polite {
			_ = p.enc.Encode(wire.Request{Cmd: wire.CmdShutdown})
		}
		_ = p.stdin.Close()
		select {
		case <-p.done:
		case <-time.After(stopGrace):
			_ = p.cmd.Process.Signal(syscall.SIGTERM)
			select {
			case <-p.done:
			case <-time.After(stopGrace):
				log.Printf("worker event=kill role=%s pid=%d", c.role, p.pid)
				_ = p.cmd.Process.Kill()
				<-p.done
			}
		}
	}

	c.stateMu.Lock()
	if c.proc == p {
		c.proc = nil
		c.lastLoad = nil
	}
	c.stateMu.Unlock()
}

// Close shuts the worker down, politely first. Safe to call when the worker
// is not running.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stateMu.Lock()
	p, desynced := c.proc, c.desynced
	c.stateMu.Unlock()
	if p == nil {
		return nil
	}
	// A desynced channel cannot carry a shutdown request reliably.
	c.stopLocked(p, !desynced)
	return nil
}

// Restart tears the worker down and spawns a fresh one. The new process has
// no model loaded.
func (c *Client) Restart() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stateMu.Lock()
	p := c.proc
	c.stateMu.Unlock()
	if p != nil {
		c.stopLocked(p, false)
	}
	return c.startLocked()
}

// Kill forcefully terminates the worker process without taking the exchange
// mutex, so it can interrupt a stream that is holding it. The blocked reader
// observes the exit as a crash and unwinds; the next exchange respawns.
func (c *Client) Kill() {
	c.stateMu.Lock()
	p := c.proc
	c.stateMu.Unlock()
	if p == nil || p.exited() {
		return
	}
	log.Printf("worker event=force_kill role=%s pid=%d", c.role, p.pid)
	_ = p.cmd.Process.Kill()
}

// Alive reports whether a worker process is currently running.
func (c *Client) Alive() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.proc != nil && !c.proc.exited()
}

// PID returns the running worker's process id, or 0.
func (c *Client) PID() int {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.proc == nil || c.proc.exited() {
		return 0
	}
	return c.proc.pid
}

// Restarts returns how many times the worker has been respawned.
func (c *Client) Restarts() uint64 {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.restarts
}

// Loaded returns the model spec this worker currently serves, or nil.
func (c *Client) Loaded() *LoadSpec {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.lastLoad == nil {
		return nil
	}
	spec := *c.lastLoad
	return &spec
}

func (c *Client) setDesynced() {
	c.stateMu.Lock()
	c.desynced = true
	c.stateMu.Unlock()
}

func (c *Client) setLoaded(spec LoadSpec) {
	c.stateMu.Lock()
	c.lastLoad = &spec
	c.stateMu.Unlock()
}

// writeLocked sends one request on the wire. Caller holds mu.
func (c *Client) writeLocked(p *proc, req wire.Request) error {
	if err := p.enc.Encode(req); err != nil {
		if p.exited() {
			return ErrCrash(c.role, p.waitErr, p.stderr.Tail())
		}
		return fmt.Errorf("worker %s: write %s: %w", c.role, req.Cmd, err)
	}
	return nil
}

// crashLocked builds the crash error for p. A pipe-level read failure means
// the process is gone or on its way out; wait briefly for the reaper so the
// exit error is populated before we read it.
func (c *Client) crashLocked(p *proc) error {
	select {
	case <-p.done:
	case <-time.After(stopGrace):
	}
	return ErrCrash(c.role, p.waitErr, p.stderr.Tail())
}

// readLocked blocks for the next response. Wire-level failures are mapped to
// crash or protocol errors; a protocol error poisons the channel until the
// worker is restarted. Caller holds mu.
func (c *Client) readLocked(p *proc) (wire.Response, error) {
	resp, err := p.dec.DecodeResponse()
	if err == nil {
		return resp, nil
	}
	if wire.IsProtocol(err) {
		c.setDesynced()
		return resp, err
	}
	return resp, c.crashLocked(p)
}

// readTimeoutLocked is readLocked with a deadline. On timeout or context
// cancellation the channel is poisoned: the reply may still arrive later and
// must never be misattributed to the next request. Caller holds mu.
func (c *Client) readTimeoutLocked(ctx context.Context, p *proc, op string, d time.Duration) (wire.Response, error) {
	type result struct {
		resp wire.Response
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		resp, err := p.dec.DecodeResponse()
		ch <- result{resp, err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case r := <-ch:
		if r.err == nil {
			return r.resp, nil
		}
		if wire.IsProtocol(r.err) {
			c.setDesynced()
			return r.resp, r.err
		}
		return r.resp, c.crashLocked(p)
	case <-timer.C:
		c.setDesynced()
		log.Printf("worker event=timeout role=%s op=%s after=%s", c.role, op, d)
		return wire.Response{}, ErrTimeout(op, d)
	case <-ctx.Done():
		c.setDesynced()
		return wire.Response{}, ctx.Err()
	}
}

// Load asks the worker to load a generation model. It blocks up to timeout;
// on expiry the client must be restarted before further use (Restart, or any
// call that triggers the automatic respawn).
func (c *Client) Load(ctx context.Context, modelPath string, ctxSize, gpuLayers int, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLocked(); err != nil {
		return err
	}
	c.stateMu.Lock()
	p := c.proc
	c.stateMu.Unlock()

	req := wire.Request{Cmd: wire.CmdLoad, ModelPath: modelPath, NCtx: ctxSize, NGPULayers: gpuLayers}
	if err := c.writeLocked(p, req); err != nil {
		return err
	}
	resp, err := c.readTimeoutLocked(ctx, p, "load", timeout)
	if err != nil {
		return err
	}
	if err := resp.Err(); err != nil {
		return err
	}
	if resp.Type != wire.TypeLoaded || !resp.OK {
		c.setDesynced()
		return wire.ErrProtocol("", fmt.Errorf("unexpected reply %q to load", resp.Type))
	}
	c.setLoaded(LoadSpec{ModelPath: modelPath, CtxSize: ctxSize, GPULayers: gpuLayers})
	log.Printf("worker event=loaded role=%s model=%s n_ctx=%d n_gpu_layers=%d", c.role, modelPath, ctxSize, gpuLayers)
	return nil
}

// LoadEmbed asks the worker to load an embedding model.
func (c *Client) LoadEmbed(ctx context.Context, modelPath string, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLocked(); err != nil {
		return err
	}
	c.stateMu.Lock()
	p := c.proc
	c.stateMu.Unlock()

	if err := c.writeLocked(p, wire.Request{Cmd: wire.CmdLoadEmbed, ModelPath: modelPath}); err != nil {
		return err
	}
	resp, err := c.readTimeoutLocked(ctx, p, "load_embed", timeout)
	if err != nil {
		return err
	}
	if err := resp.Err(); err != nil {
		return err
	}
	if resp.Type != wire.TypeEmbedLoaded || !resp.OK {
		c.setDesynced()
		return wire.ErrProtocol("", fmt.Errorf("unexpected reply %q to load_embed", resp.Type))
	}
	c.setLoaded(LoadSpec{ModelPath: modelPath})
	log.Printf("worker event=embed_loaded role=%s model=%s", c.role, modelPath)
	return nil
}

// ChatCompletion runs a non-streaming generation and returns the full
// completion text and finish reason.
func (c *Client) ChatCompletion(ctx context.Context, msgs []types.Message, params *types.GenParams) (string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	if err := c.ensureLocked(); err != nil {
		return "", "", err
	}
	c.stateMu.Lock()
	p := c.proc
	c.stateMu.Unlock()

	req := wire.Request{Cmd: wire.CmdChat, Messages: msgs, Stream: false, Params: params}
	if err := c.writeLocked(p, req); err != nil {
		return "", "", err
	}
	resp, err := c.readLocked(p)
	if err != nil {
		return "", "", err
	}
	if err := resp.Err(); err != nil {
		return "", "", err
	}
	if resp.Type != wire.TypeResult {
		c.setDesynced()
		return "", "", wire.ErrProtocol("", fmt.Errorf("unexpected reply %q to chat", resp.Type))
	}
	return resp.Content, resp.FinishReason, nil
}

// ChatStream starts a streaming generation. The returned Stream owns the
// wire channel; the caller must call Close exactly once, and Close drains
// any unread replies so the channel stays aligned.
func (c *Client) ChatStream(ctx context.Context, msgs []types.Message, params *types.GenParams) (*Stream, error) {
	c.mu.Lock()
	if err := ctx.Err(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if err := c.ensureLocked(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.stateMu.Lock()
	p := c.proc
	c.stateMu.Unlock()

	req := wire.Request{Cmd: wire.CmdChat, Messages: msgs, Stream: true, Params: params}
	if err := c.writeLocked(p, req); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.streamBusy.Store(true)
	return &Stream{c: c, p: p}, nil
}

// TokenizeCount returns the model's token count for text. While a stream
// holds the channel it answers immediately with a local estimate instead of
// blocking; the same estimate is returned when no worker is running.
func (c *Client) TokenizeCount(text string) (int, error) {
	if c.streamBusy.Load() {
		return EstimateTokens(text), nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stateMu.Lock()
	p, desynced := c.proc, c.desynced
	c.stateMu.Unlock()
	if p == nil || p.exited() || desynced {
		return EstimateTokens(text), nil
	}

	if err := c.writeLocked(p, wire.Request{Cmd: wire.CmdTokenizeCount, Text: text}); err != nil {
		return 0, err
	}
	resp, err := c.readLocked(p)
	if err != nil {
		return 0, err
	}
	if err := resp.Err(); err != nil {
		return 0, err
	}
	if resp.Type != wire.TypeTokenizeCount {
		c.setDesynced()
		return 0, wire.ErrProtocol("", fmt.Errorf("unexpected reply %q to tokenize_count", resp.Type))
	}
	return resp.Count, nil
}

// Embed returns the embedding vector for text. Task selects the prompt
// prefix the worker applies ("document" or "query").
func (c *Client) Embed(ctx context.Context, text, task string, timeout time.Duration) ([]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.ensureLocked(); err != nil {
		return nil, err
	}
	c.stateMu.Lock()
	p := c.proc
	c.stateMu.Unlock()

	if err := c.writeLocked(p, wire.Request{Cmd: wire.CmdEmbed, Text: text, Task: task}); err != nil {
		return nil, err
	}
	resp, err := c.readTimeoutLocked(ctx, p, "embed", timeout)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	if resp.Type != wire.TypeResult {
		c.setDesynced()
		return nil, wire.ErrProtocol("", fmt.Errorf("unexpected reply %q to embed", resp.Type))
	}
	return resp.Embedding, nil
}

// EstimateTokens is the cheap local approximation used when the worker
// cannot be asked: one token per four bytes, floor one.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}
