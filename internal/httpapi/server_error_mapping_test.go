package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"chatd/internal/session"
	"chatd/internal/wire"
	"chatd/internal/worker"
)

type stubHTTPError struct {
	msg  string
	code int
}

func (e stubHTTPError) Error() string   { return e.msg }
func (e stubHTTPError) StatusCode() int { return e.code }

func TestStatusForError(t *testing.T) {
	depErr := &wire.ResponseError{
		Where:   "load",
		Message: "llama support not compiled in",
		Detail:  wire.DetailDependencyUnavailable,
	}
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"busy", session.ErrBusy("generation in flight"), http.StatusTooManyRequests},
		{"not_loaded", session.ErrNotLoaded(), http.StatusServiceUnavailable},
		{"timeout", worker.ErrTimeout("load", time.Second), http.StatusGatewayTimeout},
		{"capacity", worker.ErrCapacity("tiny.gguf", 5, errors.New("oom")), http.StatusInsufficientStorage},
		{"crash", worker.ErrCrash("chat", errors.New("exit status 2"), ""), http.StatusBadGateway},
		{"protocol", wire.ErrProtocol("garbage line", errors.New("invalid character 'g'")), http.StatusBadGateway},
		{"dependency_unavailable", depErr, http.StatusServiceUnavailable},
		{"http_error", stubHTTPError{msg: "teapot", code: http.StatusTeapot}, http.StatusTeapot},
		{"wrapped_busy", fmt.Errorf("start turn: %w", session.ErrBusy("cleanup in progress")), http.StatusTooManyRequests},
		{"wrapped_capacity", fmt.Errorf("load: %w", worker.ErrCapacity("m", 3, nil)), http.StatusInsufficientStorage},
		{"generic", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusForError(tc.err); got != tc.want {
			t.Fatalf("%s: statusForError = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestChatWorkerCrashMaps502(t *testing.T) {
	svc := newFakeService()
	svc.startErr = worker.ErrCrash("chat", errors.New("signal: killed"), "ggml assert failed")
	r := NewMux(svc)
	w := postJSON(t, r, "/chat", `{"text":"hi"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
}

func TestChatCapacityMaps507(t *testing.T) {
	svc := newFakeService()
	svc.startErr = worker.ErrCapacity("tiny.gguf", 17, errors.New("cuda out of memory"))
	r := NewMux(svc)
	w := postJSON(t, r, "/chat", `{"text":"hi"}`)
	if w.Code != http.StatusInsufficientStorage {
		t.Fatalf("expected 507, got %d", w.Code)
	}
}
