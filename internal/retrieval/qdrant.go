package retrieval

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"chatd/internal/wire"
	"chatd/pkg/types"
)

// QdrantConfig connects a Qdrant collection of stored exchanges.
type QdrantConfig struct {
	// Addr is "host:port" of the gRPC endpoint; port defaults to 6334.
	Addr       string
	Collection string
	APIKey     string
	UseTLS     bool
	// EmbedTimeout bounds each embedding call.
	EmbedTimeout time.Duration
}

// Qdrant stores exchanges as points whose payload carries the exchange text.
type Qdrant struct {
	client     *qdrant.Client
	collection string
	embedder   Embedder
	timeout    time.Duration

	mu      sync.Mutex
	ensured bool
}

// NewQdrant builds the retriever. The connection is lazy; a wrong address
// surfaces on first use, where callers already degrade gracefully.
func NewQdrant(cfg QdrantConfig, embedder Embedder) (*Qdrant, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("qdrant address is required")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("qdrant collection is required")
	}
	host, port, err := splitAddr(cfg.Addr)
	if err != nil {
		return nil, err
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant client: %w", err)
	}
	timeout := cfg.EmbedTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Qdrant{
		client:     client,
		collection: cfg.Collection,
		embedder:   embedder,
		timeout:    timeout,
	}, nil
}

// splitAddr parses "host:port" with a default gRPC port of 6334.
func splitAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		// No port in the address.
		return addr, 6334, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid qdrant port %q", portStr)
	}
	return host, port, nil
}

// Retrieve embeds the query and returns the best-matching stored exchanges
// as system messages.
func (q *Qdrant) Retrieve(ctx context.Context, query string, topK int) ([]types.Message, error) {
	if topK <= 0 {
		return nil, nil
	}
	vector, err := q.embedder.Embed(ctx, query, wire.TaskQuery, q.timeout)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	limit := uint64(topK)
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}
	return messagesFromHits(points), nil
}

// Store embeds the exchange and upserts it, creating the collection on
// first use (vector size is only known once an embedding exists).
func (q *Qdrant) Store(ctx context.Context, userText, assistantText string) error {
	content := exchangeContent(userText, assistantText)
	vector, err := q.embedder.Embed(ctx, content, wire.TaskDocument, q.timeout)
	if err != nil {
		return fmt.Errorf("embed exchange: %w", err)
	}
	if err := q.ensureCollection(ctx, uint64(len(vector))); err != nil {
		return err
	}
	_, err = q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewIDUUID(uuid.NewString()),
				Vectors: qdrant.NewVectors(vector...),
				Payload: qdrant.NewValueMap(map[string]any{
					"content":   content,
					"user":      userText,
					"assistant": assistantText,
					"stored_at": time.Now().Unix(),
				}),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

func (q *Qdrant) ensureCollection(ctx context.Context, dims uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ensured {
		return nil
	}
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("qdrant collection check: %w", err)
	}
	if !exists {
		err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     dims,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("qdrant create collection: %w", err)
		}
	}
	q.ensured = true
	return nil
}

func (q *Qdrant) Close() error {
	return q.client.Close()
}

// messagesFromHits converts scored points into context messages, preserving
// the store's best-first order.
func messagesFromHits(points []*qdrant.ScoredPoint) []types.Message {
	var msgs []types.Message
	for _, p := range points {
		if p == nil || p.Payload == nil {
			continue
		}
		content := ""
		if v, ok := p.Payload["content"]; ok {
			content = v.GetStringValue()
		}
		if content == "" {
			continue
		}
		msgs = append(msgs, contextMessage(content))
	}
	return msgs
}
