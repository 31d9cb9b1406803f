package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/overseerhq/overseer/internal/config"
	"github.com/overseerhq/overseer/internal/coordinator"
	"github.com/overseerhq/overseer/internal/execctx"
	"github.com/overseerhq/overseer/internal/inbox"
	"github.com/overseerhq/overseer/internal/observability"
	"github.com/overseerhq/overseer/internal/taskqueue"
)

type Server struct {
	cfg      config.Config
	contexts *execctx.Manager
	queue    *taskqueue.Service
	events   *inbox.Service
	coord    *coordinator.Coordinator
	metrics  *observability.Metrics
	upgrader websocket.Upgrader

	storeMode string
}

func New(cfg config.Config, contexts *execctx.Manager, queue *taskqueue.Service, events *inbox.Service, coord *coordinator.Coordinator, metrics *observability.Metrics, storeMode string) *Server {
	return &Server{
		cfg:       cfg,
		contexts:  contexts,
		queue:     queue,
		events:    events,
		coord:     coord,
		metrics:   metrics,
		storeMode: storeMode,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin, so another website cannot drive the operator's
				// inbox if the server is ever exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/contexts", s.handleCreateContext)
	r.Get("/v1/contexts", s.handleListContexts)
	r.Get("/v1/contexts/{id}", s.handleGetContext)
	r.Post("/v1/contexts/{id}/end", s.handleEndContext)
	r.Post("/v1/contexts/{id}/pause", s.handlePauseContext)
	r.Post("/v1/contexts/{id}/resume", s.handleResumeContext)
	r.Get("/v1/contexts/{id}/queue", s.handleContextQueue)
	r.Post("/v1/contexts/{id}/start-next", s.handleStartNext)
	r.Post("/v1/contexts/{id}/confirm-completion", s.handleConfirmCompletion)

	r.Post("/v1/tasks", s.handleEnqueueTask)
	r.Get("/v1/tasks/{id}", s.handleGetTask)
	r.Post("/v1/tasks/{id}/reorder", s.handleReorderTask)
	r.Post("/v1/tasks/{id}/abort", s.handleAbortTask)
	r.Post("/v1/tasks/{id}/approve", s.handleApproveTask)
	r.Post("/v1/tasks/{id}/requeue", s.handleRequeueTask)

	r.Get("/v1/events", s.handleListEvents)
	r.Get("/v1/events/ws", s.handleEventFeed)
	r.Get("/v1/events/{id}", s.handleGetEvent)
	r.Post("/v1/events/{id}/resolve", s.handleResolveEvent)
	r.Post("/v1/events/{id}/respond", s.handleRespondEvent)
	r.Post("/v1/events/clear-resolved", s.handleClearResolved)

	r.Get("/v1/link/state", s.handleLinkState)
	r.Post("/v1/link/reconnect", s.handleLinkReconnect)

	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"store_mode": s.storeMode,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"store_mode": s.storeMode,
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondDomainError maps service sentinels onto HTTP statuses.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, taskqueue.ErrInvalidContext):
		respondError(w, http.StatusNotFound, "unknown_context", err.Error())
	case errors.Is(err, taskqueue.ErrItemNotFound),
		errors.Is(err, inbox.ErrEventNotFound),
		errors.Is(err, execctx.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, taskqueue.ErrIndexOutOfRange),
		errors.Is(err, inbox.ErrUnknownOption),
		errors.Is(err, inbox.ErrNotPermissionEvent),
		errors.Is(err, coordinator.ErrNotCompletionEvent):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, taskqueue.ErrInvalidItemState),
		errors.Is(err, taskqueue.ErrContextBusy),
		errors.Is(err, inbox.ErrAlreadyResolved),
		errors.Is(err, inbox.ErrSendInFlight):
		respondError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, inbox.ErrSendFailed):
		respondError(w, http.StatusBadGateway, "send_failed", err.Error())
	case errors.Is(err, inbox.ErrLinkNotConfigured):
		respondError(w, http.StatusServiceUnavailable, "link_unavailable", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}
