package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/overseerhq/overseer/internal/taskqueue"
)

type createContextRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Title     string `json:"title,omitempty"`
	WorkDir   string `json:"work_dir,omitempty"`
}

func (s *Server) handleCreateContext(w http.ResponseWriter, r *http.Request) {
	var req createContextRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	c := s.contexts.Create(strings.TrimSpace(req.SessionID), strings.TrimSpace(req.Title), strings.TrimSpace(req.WorkDir))
	s.metrics.ActiveContexts.Set(float64(s.contexts.ActiveCount()))
	respondJSON(w, http.StatusCreated, c)
}

func (s *Server) handleListContexts(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"contexts": s.contexts.List()})
}

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	c, err := s.contexts.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

type endContextRequest struct {
	Failed bool `json:"failed,omitempty"`
}

func (s *Server) handleEndContext(w http.ResponseWriter, r *http.Request) {
	var req endContextRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	c, err := s.contexts.End(chi.URLParam(r, "id"), req.Failed)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	s.metrics.ActiveContexts.Set(float64(s.contexts.ActiveCount()))
	respondJSON(w, http.StatusOK, c)
}

func (s *Server) handlePauseContext(w http.ResponseWriter, r *http.Request) {
	if err := s.contexts.Pause(chi.URLParam(r, "id")); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleResumeContext(w http.ResponseWriter, r *http.Request) {
	if err := s.contexts.Resume(chi.URLParam(r, "id")); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

func (s *Server) handleContextQueue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	queued, err := s.queue.QueueSnapshot(id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	resp := map[string]any{
		"context_id": id,
		"queue":      queued,
	}
	if running, ok := s.queue.Running(id); ok {
		resp["running"] = running
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleStartNext binds the queue head as the context's running item. The
// head is picked inside the queue service's critical section, not from a
// snapshot taken here.
func (s *Server) handleStartNext(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	item, ok, err := s.queue.BindNext(id)
	if err != nil {
		s.countQueueOp("start_next", "error")
		respondDomainError(w, err)
		return
	}
	if !ok {
		respondJSON(w, http.StatusOK, map[string]any{"started": nil})
		return
	}
	s.countQueueOp("start_next", "ok")
	respondJSON(w, http.StatusOK, map[string]any{"started": item})
}

type confirmCompletionRequest struct {
	EventID string `json:"event_id,omitempty"`
}

func (s *Server) handleConfirmCompletion(w http.ResponseWriter, r *http.Request) {
	var req confirmCompletionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := s.coord.ConfirmTaskCompletion(req.EventID, chi.URLParam(r, "id"))
	if err != nil {
		s.countQueueOp("confirm_completion", "error")
		respondDomainError(w, err)
		return
	}
	s.countQueueOp("confirm_completion", "ok")
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) countQueueOp(op, outcome string) {
	if s.metrics != nil {
		s.metrics.QueueOps.WithLabelValues(op, outcome).Inc()
	}
}

// queueChangedSnapshot is the payload pushed on the feed after queue moves.
func (s *Server) queueChangedSnapshot(contextID string) []taskqueue.WorkItem {
	queued, err := s.queue.QueueSnapshot(contextID)
	if err != nil {
		return nil
	}
	return queued
}
