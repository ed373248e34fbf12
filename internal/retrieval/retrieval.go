// Package retrieval augments a conversation with relevant past exchanges.
// Store embeds a finished user/assistant pair and saves it; Retrieve
// searches stored pairs by semantic similarity and returns them as system
// messages the controller inserts after the character prompt. Retrieval is
// advisory: every failure degrades to "no extra context".
package retrieval

import (
	"context"
	"time"

	"chatd/pkg/types"
)

// Embedder turns text into a vector. The embed-role worker client satisfies
// this.
type Embedder interface {
	Embed(ctx context.Context, text, task string, timeout time.Duration) ([]float32, error)
}

// Retriever is the context collaborator.
type Retriever interface {
	// Retrieve returns up to topK past exchanges relevant to query, best
	// match first.
	Retrieve(ctx context.Context, query string, topK int) ([]types.Message, error)
	// Store persists one completed exchange.
	Store(ctx context.Context, userText, assistantText string) error
	Close() error
}

// Noop disables retrieval. Used when no embedding model or vector store is
// configured.
type Noop struct{}

func (Noop) Retrieve(context.Context, string, int) ([]types.Message, error) { return nil, nil }

func (Noop) Store(context.Context, string, string) error { return nil }

func (Noop) Close() error { return nil }

// exchangeContent is the stored text form of one exchange.
func exchangeContent(userText, assistantText string) string {
	return "User: " + userText + "\nAssistant: " + assistantText
}

// contextMessage wraps stored exchange content as the system message the
// model sees.
func contextMessage(content string) types.Message {
	return types.Message{
		Role:    types.RoleSystem,
		Content: "Relevant past exchange:\n" + content,
	}
}
