package httpapi

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"chatd/pkg/types"
)

// handleChat godoc
//
//	@Summary		Send a user message and stream the reply
//	@Description	Appends the user message and streams UI events for the turn as NDJSON. The stream ends with a done event (or an error event first).
//	@Tags			session
//	@Accept			json
//	@Produce		json
//	@Param			request	body		types.ChatRequest	true	"user text and optional sampling overrides"
//	@Success		200		{object}	types.UIEvent
//	@Failure		400		{object}	types.ErrorResponse
//	@Failure		429		{object}	types.ErrorResponse
//	@Failure		503		{object}	types.ErrorResponse
//	@Router			/chat [post]
func handleChat(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ChatRequest
		if !readJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			writeJSONError(w, http.StatusBadRequest, "text is required")
			return
		}

		lvl := requestLogLevel(r)
		start := time.Now()
		if lvl >= LevelInfo {
			logChat(r, "chat start", 0, 0, nil)
		}

		// The sink receives this turn's events and is closed by the stream
		// goroutine when the turn ends. Once Start succeeds we must drain it.
		sink := make(chan types.UIEvent, 64)
		if err := svc.Start(req.Text, req.Params, sink); err != nil {
			writeError(w, err)
			if lvl >= LevelInfo {
				logChat(r, "chat end", statusForError(err), time.Since(start), err)
			}
			return
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		var flush func()
		if f, ok := w.(http.Flusher); ok {
			flush = f.Flush
		}
		writer := io.Writer(w)
		if lvl >= LevelDebug {
			writer = io.MultiWriter(w, &loggingLineWriter{})
		}
		enc := json.NewEncoder(writer)

		// Disconnect or shutdown cancels the turn; the stream goroutine keeps
		// the sink open until it has wound down, so keep draining after Stop.
		joined, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		ctxDone := joined.Done()

		for {
			select {
			case ev, ok := <-sink:
				if !ok {
					if lvl >= LevelInfo {
						logChat(r, "chat end", http.StatusOK, time.Since(start), nil)
					}
					return
				}
				if err := enc.Encode(ev); err != nil {
					svc.Stop()
					for range sink {
					}
					if lvl >= LevelInfo {
						logChat(r, "chat end", http.StatusOK, time.Since(start), err)
					}
					return
				}
				if flush != nil {
					flush()
				}
			case <-ctxDone:
				svc.Stop()
				ctxDone = nil
			}
		}
	}
}

// logChat emits one structured line about a chat request, falling back to the
// standard logger when no zerolog logger is installed.
func logChat(r *http.Request, msg string, status int, dur time.Duration, err error) {
	if zlog != nil {
		z := zlog.Info().Str("path", r.URL.Path)
		if status != 0 {
			z = z.Int("status", status)
		}
		if dur != 0 {
			z = z.Dur("dur", dur)
		}
		if rid := middleware.GetReqID(r.Context()); rid != "" {
			z = z.Str("request_id", rid)
		}
		if err != nil {
			z = z.Err(err)
		}
		z.Msg(msg)
		return
	}
	if err != nil {
		log.Printf("%s path=%s status=%d dur=%s err=%v", msg, r.URL.Path, status, dur, err)
		return
	}
	log.Printf("%s path=%s status=%d dur=%s", msg, r.URL.Path, status, dur)
}

// handleStop godoc
//
//	@Summary		Cancel the in-flight generation
//	@Description	Requests cooperative cancellation and returns immediately. Partial output is preserved.
//	@Tags			session
//	@Produce		json
//	@Success		202	{object}	map[string]string
//	@Router			/stop [post]
func handleStop(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc.Stop()
		writeJSONStatus(w, http.StatusAccepted, map[string]string{"status": "stopping"})
	}
}

// handleRegenerate godoc
//
//	@Summary		Regenerate the last assistant reply
//	@Description	Drops the trailing assistant message and replays the last user message. Output arrives on the event stream.
//	@Tags			session
//	@Produce		json
//	@Success		202	{object}	map[string]string
//	@Failure		409	{object}	types.ErrorResponse
//	@Failure		429	{object}	types.ErrorResponse
//	@Router			/regenerate [post]
func handleRegenerate(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Regenerate(); err != nil {
			writeError(w, err)
			return
		}
		writeJSONStatus(w, http.StatusAccepted, map[string]string{"status": "regenerating"})
	}
}

// handleReset godoc
//
//	@Summary	Restore the seed conversation
//	@Tags		session
//	@Produce	json
//	@Success	200	{object}	types.ConversationResponse
//	@Failure	429	{object}	types.ErrorResponse
//	@Router		/reset [post]
func handleReset(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Reset(); err != nil {
			writeError(w, err)
			return
		}
		conv := svc.Conversation()
		writeJSON(w, types.ConversationResponse{ID: conv.ID, Messages: conv.Messages})
	}
}

// handleRewind godoc
//
//	@Summary		Drop the newest exchange
//	@Description	Removes the trailing assistant plus user message, never cutting into the seed.
//	@Tags			session
//	@Produce		json
//	@Success		200	{object}	types.ConversationResponse
//	@Failure		429	{object}	types.ErrorResponse
//	@Router			/rewind [post]
func handleRewind(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Rewind(); err != nil {
			writeError(w, err)
			return
		}
		conv := svc.Conversation()
		writeJSON(w, types.ConversationResponse{ID: conv.ID, Messages: conv.Messages})
	}
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
