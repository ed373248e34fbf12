package types

// EventType tags a display event variant.
type EventType string

const (
	// EventDelta carries a batch of streamed content fragments.
	EventDelta EventType = "delta"
	// EventStatus carries a human-readable status line.
	EventStatus EventType = "status"
	// EventSync carries the full conversation after a structural change
	// (prune, regenerate, reset, rewind); mirrors must replace, not append.
	EventSync EventType = "sync"
	// EventDone marks the end of a stream.
	EventDone EventType = "done"
	// EventError carries a user-facing error notice.
	EventError EventType = "error"
	// EventLoad reports model load progress.
	EventLoad EventType = "load"
	// EventDownload reports model download progress.
	EventDownload EventType = "download"
)

// UIEvent is one entry on the display queue. The inference task never talks
// to a display directly; it publishes these and the display's own loop
// consumes them (over SSE in this server).
type UIEvent struct {
	Type EventType `json:"type"`
	// Content batch for delta events.
	Content string `json:"content,omitempty"`
	// Status line for status events.
	Status string `json:"status,omitempty"`
	// Full conversation mirror for sync events.
	Messages []Message `json:"messages,omitempty"`
	// Error text for error events.
	Error string `json:"error,omitempty"`
	// Model path or name for load/download events.
	Model string `json:"model,omitempty"`
	// Load stage, e.g. "trying 32 layers".
	Stage string `json:"stage,omitempty"`
	// Download progress percentage (0..100, -1 when length unknown).
	Pct float64 `json:"pct,omitempty"`
	// Stream statistics on done events.
	TokensPerSec   float64 `json:"tokens_per_sec,omitempty"`
	ContextUsedPct float64 `json:"context_used_pct,omitempty"`
}
