package types

// GenParams are the sampling parameters forwarded to the worker. Zero values
// mean "use the worker's default".
type GenParams struct {
	// Maximum number of new tokens to generate.
	// example: 512
	MaxTokens int `json:"max_tokens,omitempty" example:"512"`
	// Sampling temperature (higher = more random).
	// example: 0.8
	Temperature float32 `json:"temperature,omitempty" example:"0.8"`
	// Nucleus sampling probability.
	// example: 0.95
	TopP float32 `json:"top_p,omitempty" example:"0.95"`
	// Top-K sampling: limit candidates to top K tokens.
	// example: 40
	TopK int `json:"top_k,omitempty" example:"40"`
	// Minimum token probability, scaled by the top token's probability.
	// example: 0.05
	MinP float32 `json:"min_p,omitempty" example:"0.05"`
	// Repeat penalty applied to recent tokens.
	// example: 1.1
	RepeatPenalty float32 `json:"repeat_penalty,omitempty" example:"1.1"`
	// Random seed for reproducibility; 0 or omitted lets the worker choose.
	// example: 42
	Seed int `json:"seed,omitempty" example:"42"`
	// Optional stop sequences. Generation stops when any sequence matches.
	// example: ["\n\n"]
	Stop []string `json:"stop,omitempty"`
}

// ChatRequest is the payload for POST /chat.
type ChatRequest struct {
	// User text to send. Required.
	// example: Tell me about the sea.
	Text string `json:"text" example:"Tell me about the sea."`
	// Optional sampling overrides for this turn.
	Params *GenParams `json:"params,omitempty"`
}

// LoadRequest is the payload for POST /models/load.
type LoadRequest struct {
	// Registry model ID or an absolute path to a gguf file.
	// example: tinyllama-q4
	Model string `json:"model" example:"tinyllama-q4"`
	// Context size in tokens; 0 uses the configured default.
	// example: 8192
	CtxSize int `json:"ctx_size,omitempty" example:"8192"`
	// Requested GPU layers: -1 all, 0 CPU only, N a specific count.
	// Omitted uses the configured default.
	// example: -1
	GPULayers *int `json:"gpu_layers,omitempty" example:"-1"`
}

// DownloadRequest is the payload for POST /models/download.
type DownloadRequest struct {
	// Source URL of the gguf file.
	// example: https://example.com/models/TinyLlama.Q4_K_M.gguf
	URL string `json:"url" example:"https://example.com/models/TinyLlama.Q4_K_M.gguf"`
	// Destination file name inside the models directory.
	// example: TinyLlama.Q4_K_M.gguf
	Name string `json:"name" example:"TinyLlama.Q4_K_M.gguf"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	// Chat-capable models.
	Models []Model `json:"models"`
	// Embedding models, listed separately.
	EmbeddingModels []Model `json:"embedding_models,omitempty"`
}

// ConversationResponse wraps the current conversation for GET /conversation.
type ConversationResponse struct {
	ID       string    `json:"id"`
	Messages []Message `json:"messages"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Session state: idle, starting, streaming, stopping or cleaning_up.
	// example: idle
	State string `json:"state" example:"idle"`
	// Path of the loaded chat model, empty when none is loaded.
	// example: /home/user/models/TinyLlama.Q4_K_M.gguf
	ModelPath string `json:"model_path,omitempty" example:"/home/user/models/TinyLlama.Q4_K_M.gguf"`
	// Context size of the loaded model in tokens.
	// example: 8192
	CtxSize int `json:"ctx_size,omitempty" example:"8192"`
	// GPU layers actually in use (may differ from the requested level).
	// example: 32
	GPULayers int `json:"gpu_layers" example:"32"`
	// Number of messages in the conversation.
	// example: 9
	MessageCount int `json:"message_count" example:"9"`
	// Tokens per second of the most recent stream.
	// example: 24.8
	TokensPerSec float64 `json:"tokens_per_sec,omitempty" example:"24.8"`
	// Percentage of the context window the conversation occupies.
	// example: 41.2
	ContextUsedPct float64 `json:"context_used_pct,omitempty" example:"41.2"`
	// Process ID of the chat worker, 0 when not running.
	// example: 12345
	WorkerPID int `json:"worker_pid,omitempty" example:"12345"`
	// Process ID of the embedding worker, 0 when not running.
	// example: 12346
	EmbedWorkerPID int `json:"embed_worker_pid,omitempty" example:"12346"`
	// True when vector retrieval is configured and reachable.
	// example: false
	Retrieval bool `json:"retrieval" example:"false"`
	// True while a model load or capacity probe is running.
	// example: false
	Loading bool `json:"loading" example:"false"`
	// Human-readable load stage while loading, then "loaded" or "failed".
	// example: trying 32 gpu layers
	LoadStage string `json:"load_stage,omitempty" example:"trying 32 gpu layers"`
	// Number of downloads currently in flight.
	// example: 0
	Downloads int `json:"downloads,omitempty" example:"0"`
	// Last error surfaced to the user (if any).
	LastError string `json:"last_error,omitempty"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// Total number of model loads since start.
	// example: 2
	LoadsTotal uint64 `json:"loads_total" example:"2"`
	// Total number of history prunes since start.
	// example: 1
	PrunesTotal uint64 `json:"prunes_total" example:"1"`
	// Total number of worker restarts since start.
	// example: 0
	RestartsTotal uint64 `json:"restarts_total" example:"0"`
}
