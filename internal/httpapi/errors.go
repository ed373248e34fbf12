package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"chatd/internal/session"
	"chatd/internal/wire"
	"chatd/internal/worker"
	"chatd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusForError maps orchestration errors onto HTTP status codes: busy 429,
// nothing loaded or a missing runtime dependency 503, timeout 504, worker
// crash or garbled protocol 502, offload capacity exhausted 507.
func statusForError(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode()
	}
	var re *wire.ResponseError
	if errors.As(err, &re) && re.Detail == wire.DetailDependencyUnavailable {
		return http.StatusServiceUnavailable
	}
	switch {
	case session.IsBusy(err):
		return http.StatusTooManyRequests
	case session.IsNotLoaded(err):
		return http.StatusServiceUnavailable
	case worker.IsTimeout(err):
		return http.StatusGatewayTimeout
	case worker.IsCapacity(err):
		return http.StatusInsufficientStorage
	case worker.IsCrash(err), wire.IsProtocol(err):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError maps err to a status code and writes the JSON payload.
func writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status == http.StatusTooManyRequests {
		IncrementBackpressure("session_busy")
	}
	writeJSONError(w, status, err.Error())
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}
