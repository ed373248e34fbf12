package session

import (
	"context"
	"io"
	"log"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"chatd/internal/download"
	"chatd/pkg/types"
)

// streamLoop runs one generation end to end: inference slot, conversation
// snapshot, retrieval insert, prune, stream consume, exactly-once assistant
// append. It owns the handles installed by startLocked and always clears
// them, closes sink, and closes done on the way out.
func (c *Controller) streamLoop(ctx context.Context, done chan struct{}, userText string, params *types.GenParams, sink chan<- types.UIEvent) {
	var (
		content   strings.Builder
		finish    string
		streamErr error
		fragments int
		firstTok  time.Time
	)

	// out is the live view of sink; it goes nil once the receiver is judged
	// gone so the loop can unwind, while sink itself still gets closed.
	out := sink
	publish := func(ev types.UIEvent) {
		c.queue.Publish(ev)
		if out == nil {
			return
		}
		select {
		case out <- ev:
			return
		default:
		}
		// Buffer full: either the receiver is slow (wait) or it abandoned a
		// cancelled run (bail).
		select {
		case out <- ev:
		case <-ctx.Done():
			out = nil
		}
	}

	defer func() {
		tokSec := 0.0
		if fragments > 0 {
			if el := time.Since(firstTok).Seconds(); el > 0 {
				tokSec = float64(fragments) / el
			}
		}
		cancelled := ctx.Err() != nil

		c.mu.Lock()
		if content.Len() > 0 {
			c.conv.Messages = append(c.conv.Messages, types.Message{
				Role:    types.RoleAssistant,
				Content: content.String(),
			})
			if pruned, did := c.budget.Prune(c.conv.Messages, c.ctxSize); did {
				c.conv.Messages = pruned
				c.prunes++
				prunesTotal.Inc()
				c.syncLocked()
			}
			c.requestSaveLocked()
		}
		if tokSec > 0 {
			c.lastTokSec = tokSec
		}
		ctxPct := c.estBudget.ContextUsedPct(c.conv.Messages, c.ctxSize)
		outcome := "ok"
		switch {
		case streamErr != nil && IsBusy(streamErr):
			outcome = "busy"
			c.lastErr = streamErr.Error()
		case streamErr != nil && !cancelled:
			outcome = "error"
			c.lastErr = streamErr.Error()
		case cancelled:
			outcome = "cancelled"
		}
		c.streamCancel = nil
		c.streamDone = nil
		if !c.cleaning {
			c.state = StateIdle
		}
		c.mu.Unlock()

		if outcome == "error" || outcome == "busy" {
			publish(types.UIEvent{Type: types.EventError, Error: streamErr.Error()})
		}
		publish(types.UIEvent{Type: types.EventDone, TokensPerSec: tokSec, ContextUsedPct: ctxPct})
		streamsTotal.WithLabelValues(outcome).Inc()
		log.Printf("session event=stream_end outcome=%s finish=%s fragments=%d tok_per_sec=%.1f",
			outcome, finish, fragments, tokSec)

		// The finished exchange feeds future retrieval, off this goroutine
		// so a slow vector store can't delay the next request.
		if outcome == "ok" && content.Len() > 0 {
			go func(u, a string) {
				sctx, cancel := context.WithTimeout(context.Background(), storeBound)
				defer cancel()
				if err := c.retr.Store(sctx, u, a); err != nil {
					log.Printf("session event=retrieval_store_failed err=%v", err)
				}
			}(userText, content.String())
		}

		if sink != nil {
			close(sink)
		}
		close(done)
	}()

	// Inference slot: at most one generation process-wide.
	slot := time.NewTimer(c.cfg.LockTimeout)
	defer slot.Stop()
	select {
	case c.gate <- struct{}{}:
	case <-slot.C:
		streamErr = ErrBusy("inference slot not released")
		return
	case <-ctx.Done():
		return
	}
	defer func() { <-c.gate }()

	c.mu.Lock()
	c.state = StateStreaming
	snap := c.conv.Clone()
	ctxSize := c.ctxSize
	c.mu.Unlock()
	working := snap.Messages

	// Retrieval context goes right after the system message. Failures
	// degrade to no extra context.
	rctx, rcancel := context.WithTimeout(ctx, retrieveBound)
	extra, rerr := c.retr.Retrieve(rctx, userText, c.cfg.RetrieveTopK)
	rcancel()
	if rerr != nil {
		log.Printf("session event=retrieval_failed err=%v", rerr)
	}
	if len(extra) > 0 {
		at := 0
		if len(working) > 0 && working[0].Role == types.RoleSystem {
			at = 1
		}
		merged := make([]types.Message, 0, len(working)+len(extra))
		merged = append(merged, working[:at]...)
		merged = append(merged, extra...)
		merged = append(merged, working[at:]...)
		working = merged
	}

	working, _ = c.budget.Prune(working, ctxSize)

	if params == nil {
		p := c.cfg.Params
		params = &p
	}

	st, err := c.client.ChatStream(ctx, working, params)
	if err != nil {
		streamErr = err
		return
	}
	defer st.Close()

	lim := rate.NewLimiter(rate.Limit(displayRate), 1)
	var pending strings.Builder
	flush := func(force bool) {
		if pending.Len() == 0 {
			return
		}
		if !force && !lim.Allow() {
			return
		}
		publish(types.UIEvent{Type: types.EventDelta, Content: pending.String()})
		pending.Reset()
	}

	for {
		// Checked before each read so cancellation latency is bounded by
		// one fragment.
		if ctx.Err() != nil {
			break
		}
		frag, err := st.Recv()
		if err == io.EOF {
			finish = st.FinishReason()
			break
		}
		if err != nil {
			streamErr = err
			break
		}
		if fragments == 0 {
			firstTok = time.Now()
		}
		fragments++
		fragmentsTotal.Inc()
		content.WriteString(frag)
		pending.WriteString(frag)
		flush(false)
	}
	flush(true)
}

// cleanupLoop watches a stopping stream unwind and forces the issue when it
// does not. It owns the cleaning flag and always clears it.
func (c *Controller) cleanupLoop(done chan struct{}) {
	defer func() {
		c.mu.Lock()
		c.cleaning = false
		if c.state == StateStopping || c.state == StateCleaningUp {
			c.state = StateIdle
		}
		c.mu.Unlock()
	}()

	grace := time.NewTimer(c.cfg.CleanupWait)
	defer grace.Stop()
	select {
	case <-done:
		return
	case <-grace.C:
	}

	// The stream is ignoring cancellation: the worker is wedged
	// mid-generation. Kill it; the blocked reader unwinds with a crash
	// error and the next exchange respawns the process.
	c.mu.Lock()
	c.state = StateCleaningUp
	c.mu.Unlock()
	spec := c.client.Loaded()

	forceCancelsTotal.Inc()
	log.Printf("session event=force_cancel")
	c.client.Kill()
	<-done

	// The fresh process has nothing loaded; put the model back so the next
	// chat works. The probed layer count is known good.
	if spec != nil {
		err := c.client.Load(c.baseCtx, spec.ModelPath, spec.CtxSize, spec.GPULayers, c.cfg.LoadTimeout)
		if err != nil {
			log.Printf("session event=reload_failed model=%s err=%v", spec.ModelPath, err)
			c.mu.Lock()
			c.modelPath = ""
			c.lastErr = "reload after cancel failed: " + err.Error()
			c.mu.Unlock()
			c.queue.Publish(types.UIEvent{Type: types.EventError, Error: "model reload failed; load a model again"})
		}
	}
}

// loadLoop runs the capacity prober for one load request.
func (c *Controller) loadLoop(path string, ctxSize, gpuLayers int) {
	defer func() {
		c.mu.Lock()
		c.loading = false
		c.loadingModel = ""
		c.mu.Unlock()
	}()

	c.queue.Publish(types.UIEvent{Type: types.EventLoad, Model: path, Stage: "starting"})
	layers, err := c.loader.Load(c.baseCtx, path, ctxSize, gpuLayers)
	if err != nil {
		loadsTotal.WithLabelValues("error").Inc()
		c.mu.Lock()
		c.lastErr = err.Error()
		c.loadStage = "failed"
		c.mu.Unlock()
		c.queue.Publish(types.UIEvent{Type: types.EventError, Error: err.Error()})
		log.Printf("session event=load_failed model=%s err=%v", path, err)
		return
	}

	loadsTotal.WithLabelValues("ok").Inc()
	c.mu.Lock()
	c.modelPath = path
	c.ctxSize = ctxSize
	c.gpuLayers = layers
	c.loads++
	c.loadStage = "loaded"
	c.lastErr = ""
	c.mu.Unlock()
	c.queue.Publish(types.UIEvent{Type: types.EventLoad, Model: path, Stage: "loaded"})
	log.Printf("session event=loaded model=%s n_ctx=%d n_gpu_layers=%d", path, ctxSize, layers)
}

// downloadLoop streams one model file down and reports progress. The
// registry watcher notices the finished file on its own.
func (c *Controller) downloadLoop(url, name string) {
	defer func() {
		c.mu.Lock()
		c.downloads--
		c.mu.Unlock()
	}()

	lim := rate.NewLimiter(rate.Limit(4), 1)
	_, err := c.dl.Fetch(c.baseCtx, url, name, func(p download.Progress) {
		if !lim.Allow() {
			return
		}
		c.queue.Publish(types.UIEvent{Type: types.EventDownload, Model: name, Pct: p.Pct()})
	})
	if err != nil {
		downloadsTotal.WithLabelValues("error").Inc()
		c.mu.Lock()
		c.lastErr = err.Error()
		c.mu.Unlock()
		c.queue.Publish(types.UIEvent{Type: types.EventError, Error: "download " + name + ": " + err.Error()})
		log.Printf("session event=download_failed name=%s err=%v", name, err)
		return
	}

	downloadsTotal.WithLabelValues("ok").Inc()
	c.queue.Publish(types.UIEvent{Type: types.EventDownload, Model: name, Pct: 100})
	c.queue.Publish(types.UIEvent{Type: types.EventStatus, Status: "downloaded " + name})
	log.Printf("session event=download_done name=%s", name)
}
