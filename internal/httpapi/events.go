package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// handleEvents godoc
//
//	@Summary		Subscribe to the UI event feed
//	@Description	Server-sent events: delta, status, sync, done, error, load and download events. Events buffered while nobody listened are replayed first.
//	@Tags			session
//	@Produce		text/event-stream
//	@Success		200	{string}	string	"event stream"
//	@Router			/events [get]
func handleEvents(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		events, cancel := svc.Events().Subscribe()
		defer cancel()
		sseSubscribers.Inc()
		defer sseSubscribers.Dec()

		joined, cancelJoin := joinContexts(serverBaseCtx, r.Context())
		defer cancelJoin()

		// Keepalive comments so idle proxies do not cut the stream.
		heartbeat := time.NewTicker(time.Duration(heartbeatInterval) * time.Second)
		defer heartbeat.Stop()

		for {
			select {
			case ev, open := <-events:
				if !open {
					return
				}
				data, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
					return
				}
				flusher.Flush()
			case <-heartbeat.C:
				if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case <-joined.Done():
				return
			}
		}
	}
}
