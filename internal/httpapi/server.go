package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatd/internal/session"
	"chatd/pkg/types"
)

// Service defines the methods required by the HTTP API layer. The session
// controller plus the model registry satisfy it (see cmd/chatd).
type Service interface {
	// Start begins generating a reply to text. Events for this turn are
	// delivered on sink, which is closed when the turn ends; the caller must
	// drain it. A nil sink is allowed.
	Start(text string, params *types.GenParams, sink chan<- types.UIEvent) error
	// Stop requests cancellation of the in-flight turn and returns at once.
	Stop()
	Regenerate() error
	Reset() error
	Rewind() error
	Conversation() types.Conversation
	Status() types.StatusResponse
	Ready() bool
	// Events exposes the display queue for SSE subscribers.
	Events() *session.Queue
	// LoadModel starts an asynchronous load; progress arrives on the event
	// queue.
	LoadModel(path string, ctxSize, gpuLayers int) error
	// Download starts an asynchronous model download into the models dir.
	Download(url, name string) error
	ListModels() types.ModelsResponse
	// ResolveModel maps a registry ID or file path to a model entry.
	ResolveModel(ref string) (types.Model, bool)
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Post("/chat", handleChat(svc))
	r.Post("/stop", handleStop(svc))
	r.Post("/regenerate", handleRegenerate(svc))
	r.Post("/reset", handleReset(svc))
	r.Post("/rewind", handleRewind(svc))
	r.Get("/conversation", handleConversation(svc))
	r.Get("/events", handleEvents(svc))

	r.Get("/models", handleModels(svc))
	r.Post("/models/load", handleLoadModel(svc))
	r.Post("/models/download", handleDownload(svc))

	r.Get("/status", handleStatus(svc))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	return r
}

// readJSON enforces the content type and body limit, then decodes into dst.
// It writes the error response itself and reports whether decoding succeeded.
func readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		// An oversized body surfaces here too; 400 either way.
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
	}
}

// handleStatus godoc
//
//	@Summary		Session status
//	@Description	Returns the session state machine position, loaded model and counters.
//	@Tags			session
//	@Produce		json
//	@Success		200	{object}	types.StatusResponse
//	@Router			/status [get]
func handleStatus(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Status())
	}
}

// handleConversation godoc
//
//	@Summary	Current conversation
//	@Tags		session
//	@Produce	json
//	@Success	200	{object}	types.ConversationResponse
//	@Router		/conversation [get]
func handleConversation(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv := svc.Conversation()
		writeJSON(w, types.ConversationResponse{ID: conv.ID, Messages: conv.Messages})
	}
}

// handleModels godoc
//
//	@Summary	List models found in the models directory
//	@Tags		models
//	@Produce	json
//	@Success	200	{object}	types.ModelsResponse
//	@Router		/models [get]
func handleModels(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.ListModels())
	}
}
