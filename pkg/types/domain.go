package types

import (
	"time"

	"github.com/google/uuid"
)

// Message roles. Role is kept as a plain string on the wire; these are the
// only values the orchestrator produces or accepts.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn.
type Message struct {
	// Role of the author: system, user or assistant.
	// example: user
	Role string `json:"role" example:"user"`
	// Content of the turn.
	// example: Tell me about the sea.
	Content string `json:"content" example:"Tell me about the sea."`
}

// Conversation is an ordered message sequence plus the envelope fields the
// persistence layer needs. Messages[0], when it is a system message, is never
// pruned or reordered. The session controller mutates a Conversation only
// while holding its actions lock; everyone else works on copies.
type Conversation struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	// Version increases on every store update; stores with concurrent
	// writers use it for optimistic locking.
	Version  int64     `json:"version"`
	Messages []Message `json:"messages"`
}

// NewConversation builds a conversation with a fresh ID.
func NewConversation(messages ...Message) Conversation {
	now := time.Now().UTC()
	return Conversation{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  messages,
	}
}

// Clone returns a deep copy; observers get these, never the live slice.
func (c Conversation) Clone() Conversation {
	out := c
	out.Messages = CloneMessages(c.Messages)
	return out
}

// CloneMessages copies a message slice.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Model represents a discoverable or loadable LLM model on disk.
type Model struct {
	// Stable identifier for the model.
	// example: tinyllama-q4
	ID string `json:"id" example:"tinyllama-q4"`
	// Human-friendly name.
	// example: TinyLlama (Q4)
	Name string `json:"name" example:"TinyLlama (Q4)"`
	// Absolute path to the model file on disk.
	// example: /home/user/models/TinyLlama.Q4_K_M.gguf
	Path string `json:"path" example:"/home/user/models/TinyLlama.Q4_K_M.gguf"`
	// Quantization level or variant string.
	// example: Q4_K_M
	Quant string `json:"quant" example:"Q4_K_M"`
	// File size in bytes.
	// example: 668788096
	SizeBytes int64 `json:"size_bytes,omitempty" example:"668788096"`
	// True when the file looks like an embedding model rather than a chat
	// model; embedding models are excluded from the chat-model listing.
	// example: false
	Embedding bool `json:"embedding,omitempty" example:"false"`
}
