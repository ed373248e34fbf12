package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatd/pkg/types"
)

// Events buffered before anyone subscribed are replayed to the SSE client.
// Closing the queue ends the response, so the recorder sees the whole stream.
func TestEventsReplaysBufferedEvents(t *testing.T) {
	svc := newFakeService()
	svc.queue.Publish(types.UIEvent{Type: types.EventStatus, Status: "model loaded"})
	svc.queue.Publish(types.UIEvent{Type: types.EventDelta, Content: "hello"})
	svc.queue.Close()

	r := NewMux(svc)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Fatalf("content-type=%s", ct)
	}
	body := w.Body.String()
	if !strings.Contains(body, "event: status\n") {
		t.Fatalf("missing status frame: %q", body)
	}
	if !strings.Contains(body, "event: delta\n") {
		t.Fatalf("missing delta frame: %q", body)
	}
	if !strings.Contains(body, `"content":"hello"`) {
		t.Fatalf("missing delta payload: %q", body)
	}
}

func TestEventsEndsWhenClientGoesAway(t *testing.T) {
	svc := newFakeService()
	r := NewMux(svc)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		r.ServeHTTP(w, req)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after client disconnect")
	}
}

func TestEventsHeartbeat(t *testing.T) {
	SetHeartbeatSeconds(1)
	defer SetHeartbeatSeconds(15)

	svc := newFakeService()
	r := NewMux(svc)

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		r.ServeHTTP(w, req)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("handler did not return")
	}
	if !strings.Contains(w.Body.String(), ": ping") {
		t.Fatalf("expected keepalive comment, got %q", w.Body.String())
	}
}
