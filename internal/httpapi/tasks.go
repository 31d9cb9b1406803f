package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/overseerhq/overseer/internal/taskqueue"
)

type enqueueTaskResponse struct {
	Item     taskqueue.WorkItem `json:"item"`
	Position int                `json:"position"`
}

func (s *Server) handleEnqueueTask(w http.ResponseWriter, r *http.Request) {
	var req taskqueue.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "title is required")
		return
	}

	item, pos, err := s.queue.Enqueue(req)
	if err != nil {
		s.countQueueOp("enqueue", "error")
		respondDomainError(w, err)
		return
	}
	s.countQueueOp("enqueue", "ok")
	respondJSON(w, http.StatusCreated, enqueueTaskResponse{Item: item, Position: pos})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	item, err := s.queue.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

type reorderTaskRequest struct {
	ContextID string `json:"context_id"`
	ToIndex   *int   `json:"to_index"`
}

func (s *Server) handleReorderTask(w http.ResponseWriter, r *http.Request) {
	var req reorderTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.ToIndex == nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "to_index is required")
		return
	}

	if err := s.queue.Reorder(chi.URLParam(r, "id"), *req.ToIndex, req.ContextID); err != nil {
		s.countQueueOp("reorder", "error")
		respondDomainError(w, err)
		return
	}
	s.countQueueOp("reorder", "ok")
	respondJSON(w, http.StatusOK, map[string]any{
		"context_id": req.ContextID,
		"queue":      s.queueChangedSnapshot(req.ContextID),
	})
}

func (s *Server) handleAbortTask(w http.ResponseWriter, r *http.Request) {
	aborted, promoted, err := s.queue.Abort(chi.URLParam(r, "id"))
	if err != nil {
		s.countQueueOp("abort", "error")
		respondDomainError(w, err)
		return
	}
	s.countQueueOp("abort", "ok")
	resp := map[string]any{"aborted": aborted}
	if promoted != nil {
		resp["promoted"] = promoted
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleApproveTask(w http.ResponseWriter, r *http.Request) {
	item, err := s.queue.ApproveReview(chi.URLParam(r, "id"))
	if err != nil {
		s.countQueueOp("approve", "error")
		respondDomainError(w, err)
		return
	}
	s.countQueueOp("approve", "ok")
	respondJSON(w, http.StatusOK, item)
}

type requeueTaskRequest struct {
	ContextID string `json:"context_id"`
}

func (s *Server) handleRequeueTask(w http.ResponseWriter, r *http.Request) {
	var req requeueTaskRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.ContextID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "context_id is required")
		return
	}

	pos, err := s.queue.Requeue(chi.URLParam(r, "id"), req.ContextID)
	if err != nil {
		s.countQueueOp("requeue", "error")
		respondDomainError(w, err)
		return
	}
	s.countQueueOp("requeue", "ok")
	respondJSON(w, http.StatusOK, map[string]any{
		"context_id": req.ContextID,
		"position":   pos,
	})
}
