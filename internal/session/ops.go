package session

import (
	"context"
	"fmt"
	"time"

	"chatd/pkg/types"
)

// Start begins a generation for userText and returns once the streaming
// goroutine is handed off. Busy when another operation occupies the session,
// NotLoaded before the first model load.
//
// When sink is non-nil the issuing client receives its own copy of the
// batched events there; the channel is closed when the stream ends and the
// receiver must keep draining until then (a receiver that stops early must
// call Stop so the loop can unwind).
func (c *Controller) Start(userText string, params *types.GenParams, sink chan<- types.UIEvent) error {
	deadline := time.Now().Add(startSettleWait)
	for {
		c.mu.Lock()
		err := c.canStartLocked()
		if err == nil {
			break
		}
		c.mu.Unlock()
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(settlePoll)
	}
	defer c.mu.Unlock()

	if c.modelPath == "" {
		return ErrNotLoaded()
	}
	c.startLocked(userText, params, sink)
	return nil
}

// startLocked installs the stream handles and hands off to the stream loop.
// Caller holds mu and has verified canStartLocked and the loaded model.
func (c *Controller) startLocked(userText string, params *types.GenParams, sink chan<- types.UIEvent) {
	c.appendUserLocked(userText)
	c.state = StateStarting
	c.lastErr = ""
	c.syncLocked()

	ctx, cancel := context.WithCancel(c.baseCtx)
	done := make(chan struct{})
	c.streamCancel = cancel
	c.streamDone = done
	go c.streamLoop(ctx, done, userText, params, sink)
}

// appendUserLocked adds the pending user message. A trailing user message
// left by an interrupted exchange is replaced rather than stacked.
func (c *Controller) appendUserLocked(text string) {
	msgs := c.conv.Messages
	if n := len(msgs); n > 0 && msgs[n-1].Role == types.RoleUser {
		msgs[n-1].Content = text
		return
	}
	c.conv.Messages = append(msgs, types.Message{Role: types.RoleUser, Content: text})
}

// Stop requests cancellation of the in-flight generation and returns
// immediately. Teardown continues on a background task bounded by
// CleanupWait, force-restarting the worker if the stream does not unwind in
// time. Stopping an idle session is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.streamCancel == nil || c.cleaning {
		c.mu.Unlock()
		return
	}
	cancel := c.streamCancel
	done := c.streamDone
	c.state = StateStopping
	c.cleaning = true
	c.mu.Unlock()

	cancel()
	c.queue.Publish(types.UIEvent{Type: types.EventStatus, Status: "stopping"})
	go c.cleanupLoop(done)
}

// Regenerate removes the newest assistant message (partial content from an
// interrupted run included) and replays the last user message. Idle only.
func (c *Controller) Regenerate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.canStartLocked(); err != nil {
		return err
	}
	if c.modelPath == "" {
		return ErrNotLoaded()
	}

	msgs := c.conv.Messages
	if n := len(msgs); n > 0 && msgs[n-1].Role == types.RoleAssistant {
		c.conv.Messages = msgs[:n-1]
		msgs = c.conv.Messages
	}
	userText := ""
	found := false
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == types.RoleUser {
			userText = msgs[i].Content
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("session: no user message to regenerate")
	}
	c.requestSaveLocked()
	c.startLocked(userText, nil, nil)
	return nil
}

// Reset stops any stream, restores the seed conversation and mirrors it.
// When the seed ends with a user opener and a model is loaded, the opening
// exchange is replayed.
func (c *Controller) Reset() error {
	c.Stop()
	if err := c.waitSettled(c.cfg.CleanupWait + 3*time.Second); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.canStartLocked(); err != nil {
		return err
	}

	conv := types.NewConversation(types.CloneMessages(c.cfg.SeedMessages)...)
	conv.ID = c.cfg.ConversationID
	c.conv = &conv
	c.lastErr = ""
	c.lastTokSec = 0
	c.requestSaveLocked()

	if n := len(conv.Messages); n > 0 && conv.Messages[n-1].Role == types.RoleUser && c.modelPath != "" {
		c.startLocked(conv.Messages[n-1].Content, nil, nil)
	} else {
		c.syncLocked()
	}
	return nil
}

// Rewind drops the newest exchange: the trailing assistant message and the
// user message before it. Rewinding into the seed conversation is a no-op.
func (c *Controller) Rewind() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.canStartLocked(); err != nil {
		return err
	}

	msgs := c.conv.Messages
	cut := len(msgs)
	if cut > 0 && msgs[cut-1].Role == types.RoleAssistant {
		cut--
	}
	if cut > 0 && msgs[cut-1].Role == types.RoleUser {
		cut--
	}
	if cut == len(msgs) || cut < c.seedLen {
		return nil
	}
	c.conv.Messages = msgs[:cut]
	c.syncLocked()
	c.requestSaveLocked()
	return nil
}

// LoadModel probes and loads a model on its own goroutine. Idle only.
// gpuLayers -1 means all layers, 0 CPU only, N a specific count. Progress
// surfaces as load events and through Status.
func (c *Controller) LoadModel(path string, ctxSize, gpuLayers int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.canStartLocked(); err != nil {
		return err
	}
	if ctxSize <= 0 {
		ctxSize = c.cfg.CtxSize
	}
	c.loading = true
	c.loadingModel = path
	c.loadStage = "starting"
	go c.loadLoop(path, ctxSize, gpuLayers)
	return nil
}

// Download fetches a model file into the models directory on its own
// goroutine. Unlike loads it may run alongside a stream: it touches only the
// network and the filesystem.
func (c *Controller) Download(url, name string) error {
	if c.dl == nil {
		return fmt.Errorf("session: downloads not configured")
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrBusy("shutting down")
	}
	c.downloads++
	c.mu.Unlock()
	go c.downloadLoop(url, name)
	return nil
}
