package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if strings.EqualFold(r.URL.Query().Get("pending"), "true") {
		respondJSON(w, http.StatusOK, map[string]any{"events": s.events.Pending()})
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": s.events.List(limit)})
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	evt, err := s.events.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, evt)
}

func (s *Server) handleResolveEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.events.ResolveEvent(id); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"event_id": id, "resolved": true})
}

type respondEventRequest struct {
	OptionValue string `json:"option_value"`
}

func (s *Server) handleRespondEvent(w http.ResponseWriter, r *http.Request) {
	var req respondEventRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.OptionValue) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "option_value is required")
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.events.SendPermissionResponse(r.Context(), id, req.OptionValue); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"event_id": id, "resolved": true})
}

func (s *Server) handleClearResolved(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"removed": s.events.ClearResolved()})
}

func (s *Server) handleLinkState(w http.ResponseWriter, _ *http.Request) {
	state, lastErr := s.events.ConnectionState()
	resp := map[string]any{"state": state}
	if lastErr != nil {
		resp["last_error"] = lastErr.Error()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil || s.metrics.Latency == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"generated_at": "",
			"window_size":  0,
			"ops":          []any{},
		})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.Latency.Snapshot())
}

func (s *Server) handleLinkReconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.events.Reconnect(r.Context()); err != nil {
		respondDomainError(w, err)
		return
	}
	state, _ := s.events.ConnectionState()
	respondJSON(w, http.StatusOK, map[string]any{"state": state})
}
