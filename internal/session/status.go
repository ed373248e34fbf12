package session

import (
	"time"

	"chatd/pkg/types"
)

// Status reports a point-in-time snapshot for /status and the TUI header.
// The context estimate uses character heuristics rather than the worker's
// tokenizer so this never queues behind a load or a running stream.
func (c *Controller) Status() types.StatusResponse {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp := types.StatusResponse{
		State:          string(c.state),
		ModelPath:      c.modelPath,
		CtxSize:        c.ctxSize,
		GPULayers:      c.gpuLayers,
		MessageCount:   len(c.conv.Messages),
		TokensPerSec:   c.lastTokSec,
		ContextUsedPct: c.estBudget.ContextUsedPct(c.conv.Messages, c.ctxSize),
		WorkerPID:      c.client.PID(),
		Retrieval:      c.retrOn,
		Loading:        c.loading,
		LoadStage:      c.loadStage,
		Downloads:      c.downloads,
		LastError:      c.lastErr,
		UptimeSeconds:  int64(time.Since(c.started).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
		LoadsTotal:     c.loads,
		PrunesTotal:    c.prunes,
		RestartsTotal:  c.client.Restarts(),
	}
	if c.embedClient != nil {
		resp.EmbedWorkerPID = c.embedClient.PID()
	}
	return resp
}
