// Package wire defines the line-framed protocol spoken between the host and
// its model worker processes: one UTF-8 JSON object per line over the
// worker's stdin/stdout. Exactly one request may be in flight at a time; a
// streaming chat response must be drained through done or error before the
// next request is written, or the channel desyncs permanently.
package wire

import "chatd/pkg/types"

// Request commands.
const (
	CmdLoad          = "load"
	CmdLoadEmbed     = "load_embed"
	CmdChat          = "chat"
	CmdTokenizeCount = "tokenize_count"
	CmdEmbed         = "embed"
	CmdShutdown      = "shutdown"
)

// Response types.
const (
	TypeLoaded        = "loaded"
	TypeEmbedLoaded   = "embed_loaded"
	TypeDelta         = "delta"
	TypeDone          = "done"
	TypeResult        = "result"
	TypeTokenizeCount = "tokenize_count"
	TypeError         = "error"
)

// Embedding task hints; the worker prefixes the text accordingly before
// encoding ("search_document: " / "search_query: ").
const (
	TaskDocument = "document"
	TaskQuery    = "query"
)

// DetailDependencyUnavailable marks an error response whose cause is a
// worker built without its inference engine, so the host can map it apart
// from ordinary load failures.
const DetailDependencyUnavailable = "dependency_unavailable"

// Request is the single request record. Cmd selects the variant; unrelated
// fields stay at their zero value and are omitted on the wire. A missing
// n_ctx or n_gpu_layers decodes as 0, so the worker applies its defaults.
type Request struct {
	Cmd        string           `json:"cmd"`
	ModelPath  string           `json:"model_path,omitempty"`
	NCtx       int              `json:"n_ctx,omitempty"`
	NGPULayers int              `json:"n_gpu_layers,omitempty"`
	Messages   []types.Message  `json:"messages,omitempty"`
	Stream     bool             `json:"stream,omitempty"`
	Params     *types.GenParams `json:"params,omitempty"`
	Text       string           `json:"text,omitempty"`
	Task       string           `json:"task,omitempty"`
}

// Response is the single response record. Type selects the variant.
type Response struct {
	Type string `json:"type"`
	OK   bool   `json:"ok,omitempty"`
	// Delta fragment, or the full content of a non-streaming result.
	Content      string `json:"content,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
	// Result payload of an embed request.
	Embedding []float32 `json:"embedding,omitempty"`
	// Result of a tokenize_count request.
	Count int `json:"count,omitempty"`
	// Error variant fields. Where names the failing stage (parse, dispatch,
	// load, chat, embed, ...); Detail carries a best-effort diagnostic.
	Where   string `json:"where,omitempty"`
	Message string `json:"message,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// Err converts an error response into a ResponseError; nil for every other
// response type.
func (r Response) Err() error {
	if r.Type != TypeError {
		return nil
	}
	return &ResponseError{Where: r.Where, Message: r.Message, Detail: r.Detail}
}

// ResponseError is a worker-reported failure. The exchange it belongs to is
// lost; the worker itself keeps serving.
type ResponseError struct {
	Where   string
	Message string
	Detail  string
}

func (e *ResponseError) Error() string {
	if e.Where == "" {
		return "worker error: " + e.Message
	}
	return "worker error in " + e.Where + ": " + e.Message
}

// ErrorResponse builds the error record the worker answers with.
func ErrorResponse(where, message, detail string) Response {
	return Response{Type: TypeError, Where: where, Message: message, Detail: detail}
}
