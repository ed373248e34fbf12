package retrieval

import (
	"context"
	"strings"
	"testing"

	"github.com/qdrant/go-client/qdrant"

	"chatd/pkg/types"
)

func TestNoopRetriever(t *testing.T) {
	var r Retriever = Noop{}
	msgs, err := r.Retrieve(context.Background(), "anything", 4)
	if err != nil || msgs != nil {
		t.Fatalf("retrieve: %v %v", msgs, err)
	}
	if err := r.Store(context.Background(), "u", "a"); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestSplitAddr(t *testing.T) {
	cases := []struct {
		in   string
		host string
		port int
	}{
		{"127.0.0.1:6334", "127.0.0.1", 6334},
		{"qdrant.internal:7000", "qdrant.internal", 7000},
		{"localhost", "localhost", 6334},
	}
	for _, tc := range cases {
		host, port, err := splitAddr(tc.in)
		if err != nil {
			t.Fatalf("splitAddr(%q): %v", tc.in, err)
		}
		if host != tc.host || port != tc.port {
			t.Fatalf("splitAddr(%q) = %s:%d", tc.in, host, port)
		}
	}
	if _, _, err := splitAddr("host:notaport"); err == nil {
		t.Fatal("want error for non-numeric port")
	}
}

func TestMessagesFromHits(t *testing.T) {
	points := []*qdrant.ScoredPoint{
		{Payload: qdrant.NewValueMap(map[string]any{"content": "User: hi\nAssistant: hello"})},
		nil,
		{Payload: qdrant.NewValueMap(map[string]any{"unrelated": "x"})},
		{Payload: qdrant.NewValueMap(map[string]any{"content": "User: a\nAssistant: b"})},
	}
	msgs := messagesFromHits(points)
	if len(msgs) != 2 {
		t.Fatalf("msgs = %+v", msgs)
	}
	for _, m := range msgs {
		if m.Role != types.RoleSystem {
			t.Fatalf("role = %q", m.Role)
		}
		if !strings.HasPrefix(m.Content, "Relevant past exchange:\n") {
			t.Fatalf("content = %q", m.Content)
		}
	}
	if !strings.Contains(msgs[0].Content, "hi") || !strings.Contains(msgs[1].Content, "User: a") {
		t.Fatalf("order lost: %+v", msgs)
	}
}

func TestExchangeContent(t *testing.T) {
	got := exchangeContent("how deep is the lake?", "about 80 meters.")
	want := "User: how deep is the lake?\nAssistant: about 80 meters."
	if got != want {
		t.Fatalf("content = %q", got)
	}
}

func TestNewQdrantValidation(t *testing.T) {
	if _, err := NewQdrant(QdrantConfig{Collection: "c"}, nil); err == nil {
		t.Fatal("missing addr accepted")
	}
	if _, err := NewQdrant(QdrantConfig{Addr: "localhost:6334"}, nil); err == nil {
		t.Fatal("missing collection accepted")
	}
}
