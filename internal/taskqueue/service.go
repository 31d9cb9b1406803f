package taskqueue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/overseerhq/overseer/internal/observability"
)

var (
	ErrItemNotFound     = errors.New("work item not found")
	ErrInvalidContext   = errors.New("unknown execution context")
	ErrIndexOutOfRange  = errors.New("reorder index out of range")
	ErrInvalidItemState = errors.New("invalid work item state")
	ErrContextBusy      = errors.New("context already has a running work item")
)

// ContextRegistry reports whether an execution context is currently live.
// Satisfied by execctx.Manager.
type ContextRegistry interface {
	Exists(contextID string) bool
}

// Service owns every work item and one ordered queue per execution context.
// Queue order is the ascending PriorityKey order; all mutations run under a
// single mutex so readers never observe a queue mid-move.
type Service struct {
	mu sync.RWMutex

	contexts ContextRegistry
	store    Store
	metrics  *observability.Metrics

	items            map[string]*WorkItem
	queues           map[string][]string
	runningByContext map[string]string
}

func NewService(contexts ContextRegistry) *Service {
	return &Service{
		contexts:         contexts,
		items:            make(map[string]*WorkItem),
		queues:           make(map[string][]string),
		runningByContext: make(map[string]string),
	}
}

func (s *Service) SetStore(store Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store = store
}

func (s *Service) SetMetrics(m *observability.Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
}

// Enqueue creates a work item at the tail of the context's queue and returns
// it along with its queue position.
func (s *Service) Enqueue(req CreateRequest) (WorkItem, int, error) {
	req.ContextID = strings.TrimSpace(req.ContextID)
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return WorkItem{}, 0, errors.New("title is required")
	}
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if req.ContextID == "" || !s.contexts.Exists(req.ContextID) {
		return WorkItem{}, 0, ErrInvalidContext
	}

	item := &WorkItem{
		ID:             uuid.NewString(),
		Title:          req.Title,
		Description:    strings.TrimSpace(req.Description),
		Status:         ItemStatusQueued,
		ContextID:      req.ContextID,
		RequiresReview: req.RequiresReview,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.items[item.ID] = item

	pos := s.appendLocked(req.ContextID, item, now)
	s.persistItem(item.Clone())
	return item.Clone(), pos, nil
}

// Requeue appends an existing unassigned work item to a context's queue.
// This is the re-adoption path for items orphaned by an ended context.
func (s *Service) Requeue(workItemID, contextID string) (int, error) {
	workItemID = strings.TrimSpace(workItemID)
	contextID = strings.TrimSpace(contextID)
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if contextID == "" || !s.contexts.Exists(contextID) {
		return 0, ErrInvalidContext
	}
	item, ok := s.items[workItemID]
	if !ok {
		return 0, ErrItemNotFound
	}
	if item.Status != ItemStatusQueued || item.ContextID != "" {
		return 0, ErrInvalidItemState
	}

	item.ContextID = contextID
	item.UpdatedAt = now
	pos := s.appendLocked(contextID, item, now)
	s.persistItem(item.Clone())
	return pos, nil
}

// TasksQueued returns the context's queued work item ids in ascending
// priority-key order.
func (s *Service) TasksQueued(contextID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.contexts.Exists(contextID) {
		return nil, ErrInvalidContext
	}
	out := make([]string, len(s.queues[contextID]))
	copy(out, s.queues[contextID])
	return out, nil
}

// QueueSnapshot returns clones of the context's queued work items in order.
func (s *Service) QueueSnapshot(contextID string) ([]WorkItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.contexts.Exists(contextID) {
		return nil, ErrInvalidContext
	}
	ids := s.queues[contextID]
	out := make([]WorkItem, 0, len(ids))
	for _, id := range ids {
		if item, ok := s.items[id]; ok {
			out = append(out, item.Clone())
		}
	}
	return out, nil
}

// Reorder moves a queued item to toIndex within its context's queue. Only the
// moved item's key changes, except when the midpoint space is exhausted and
// the queue is renumbered first.
func (s *Service) Reorder(workItemID string, toIndex int, contextID string) error {
	workItemID = strings.TrimSpace(workItemID)
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.contexts.Exists(contextID) {
		return ErrInvalidContext
	}
	queue := s.queues[contextID]
	cur := indexOf(queue, workItemID)
	if cur < 0 {
		return ErrItemNotFound
	}
	if toIndex < 0 || toIndex >= len(queue) {
		return ErrIndexOutOfRange
	}
	if toIndex == cur {
		return nil
	}

	// The moved item is excluded from the neighbor computation.
	rest := make([]string, 0, len(queue)-1)
	rest = append(rest, queue[:cur]...)
	rest = append(rest, queue[cur+1:]...)

	newKey, ok := keyForIndex(s.keysOfLocked(rest), toIndex)
	if !ok {
		s.renumberLocked(contextID, rest, now)
		newKey, _ = keyForIndex(s.keysOfLocked(rest), toIndex)
	}

	item := s.items[workItemID]
	item.PriorityKey = newKey
	item.UpdatedAt = now

	next := make([]string, 0, len(queue))
	next = append(next, rest[:toIndex]...)
	next = append(next, workItemID)
	next = append(next, rest[toIndex:]...)
	s.queues[contextID] = next

	s.persistItem(item.Clone())
	return nil
}

// DequeueNext removes and returns the lowest-priority-key item, or ok=false
// when the queue is empty.
func (s *Service) DequeueNext(contextID string) (WorkItem, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.contexts.Exists(contextID) {
		return WorkItem{}, false, ErrInvalidContext
	}
	item := s.dequeueNextLocked(contextID)
	if item == nil {
		return WorkItem{}, false, nil
	}
	return item.Clone(), true, nil
}

// BindRunning transitions a queued item to Running on the given context.
// At most one item per context may be Running.
func (s *Service) BindRunning(contextID, workItemID string) (WorkItem, error) {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.contexts.Exists(contextID) {
		return WorkItem{}, ErrInvalidContext
	}
	if s.runningByContext[contextID] != "" {
		return WorkItem{}, ErrContextBusy
	}
	item, ok := s.items[workItemID]
	if !ok {
		return WorkItem{}, ErrItemNotFound
	}
	if item.Status != ItemStatusQueued {
		return WorkItem{}, ErrInvalidItemState
	}

	if idx := indexOf(s.queues[contextID], workItemID); idx >= 0 {
		s.queues[contextID] = removeAt(s.queues[contextID], idx)
	}
	s.startLocked(contextID, item, now)
	s.persistItem(item.Clone())
	return item.Clone(), nil
}

// BindNext transitions the context's current queue head to Running. The head
// is read and bound under one lock so a concurrent reorder or enqueue cannot
// slip between. ok=false when the queue is empty.
func (s *Service) BindNext(contextID string) (WorkItem, bool, error) {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.contexts.Exists(contextID) {
		return WorkItem{}, false, ErrInvalidContext
	}
	if s.runningByContext[contextID] != "" {
		return WorkItem{}, false, ErrContextBusy
	}
	item := s.dequeueNextLocked(contextID)
	if item == nil {
		return WorkItem{}, false, nil
	}
	s.startLocked(contextID, item, now)
	s.persistItem(item.Clone())
	return item.Clone(), true, nil
}

// Running returns the context's currently running item, if any.
func (s *Service) Running(contextID string) (WorkItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id := s.runningByContext[contextID]
	if id == "" {
		return WorkItem{}, false
	}
	item, ok := s.items[id]
	if !ok {
		return WorkItem{}, false
	}
	return item.Clone(), true
}

// CompleteRunningAndPromote finishes the context's running item and promotes
// the queue head in one step. Items flagged for review land in InReview
// instead of Completed; either way the context slot is freed and the next
// queued item starts immediately.
func (s *Service) CompleteRunningAndPromote(contextID string) (WorkItem, *WorkItem, error) {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.contexts.Exists(contextID) {
		return WorkItem{}, nil, ErrInvalidContext
	}
	runningID := s.runningByContext[contextID]
	if runningID == "" {
		return WorkItem{}, nil, ErrItemNotFound
	}
	item := s.items[runningID]

	if item.RequiresReview {
		item.Status = ItemStatusInReview
	} else {
		item.Status = ItemStatusCompleted
		item.EndedAt = &now
	}
	item.UpdatedAt = now
	s.runningByContext[contextID] = ""
	s.persistItem(item.Clone())

	promoted := s.promoteNextLocked(contextID, now)
	return item.Clone(), promoted, nil
}

// ApproveReview confirms an InReview item as Completed.
func (s *Service) ApproveReview(workItemID string) (WorkItem, error) {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[strings.TrimSpace(workItemID)]
	if !ok {
		return WorkItem{}, ErrItemNotFound
	}
	if item.Status != ItemStatusInReview {
		return WorkItem{}, ErrInvalidItemState
	}
	item.Status = ItemStatusCompleted
	item.UpdatedAt = now
	item.EndedAt = &now
	s.persistItem(item.Clone())
	return item.Clone(), nil
}

// Abort terminates a queued, running, or in-review item. Aborting the running
// item frees the context and promotes the next queued item.
func (s *Service) Abort(workItemID string) (WorkItem, *WorkItem, error) {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[strings.TrimSpace(workItemID)]
	if !ok {
		return WorkItem{}, nil, ErrItemNotFound
	}
	if item.Terminal() {
		return item.Clone(), nil, nil
	}

	var promoted *WorkItem
	switch item.Status {
	case ItemStatusQueued:
		if idx := indexOf(s.queues[item.ContextID], item.ID); idx >= 0 {
			s.queues[item.ContextID] = removeAt(s.queues[item.ContextID], idx)
		}
	case ItemStatusRunning:
		if s.runningByContext[item.ContextID] == item.ID {
			s.runningByContext[item.ContextID] = ""
			promoted = s.promoteNextLocked(item.ContextID, now)
		}
	}

	item.Status = ItemStatusAborted
	item.UpdatedAt = now
	item.EndedAt = &now
	s.persistItem(item.Clone())
	return item.Clone(), promoted, nil
}

// DetachContext releases everything bound to an ended context. Queued and
// running items revert to unassigned Queued so they can be requeued elsewhere.
func (s *Service) DetachContext(contextID string) {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.queues[contextID] {
		if item, ok := s.items[id]; ok {
			item.ContextID = ""
			item.PriorityKey = 0
			item.UpdatedAt = now
			s.persistItem(item.Clone())
		}
	}
	delete(s.queues, contextID)

	if runningID := s.runningByContext[contextID]; runningID != "" {
		if item, ok := s.items[runningID]; ok {
			item.ContextID = ""
			item.Status = ItemStatusQueued
			item.PriorityKey = 0
			item.StartedAt = nil
			item.UpdatedAt = now
			s.persistItem(item.Clone())
		}
	}
	delete(s.runningByContext, contextID)
}

// Get returns a clone of the work item.
func (s *Service) Get(workItemID string) (WorkItem, error) {
	s.mu.RLock()
	item, ok := s.items[strings.TrimSpace(workItemID)]
	var snapshot WorkItem
	if ok {
		snapshot = item.Clone()
	}
	store := s.store
	s.mu.RUnlock()
	if ok {
		return snapshot, nil
	}
	if store == nil {
		return WorkItem{}, ErrItemNotFound
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	persisted, err := store.GetItem(ctx, workItemID)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return WorkItem{}, ErrItemNotFound
		}
		return WorkItem{}, err
	}
	return persisted, nil
}

func (s *Service) appendLocked(contextID string, item *WorkItem, now time.Time) int {
	queue := s.queues[contextID]
	key, ok := keyForIndex(s.keysOfLocked(queue), len(queue))
	if !ok {
		s.renumberLocked(contextID, queue, now)
		key, _ = keyForIndex(s.keysOfLocked(queue), len(queue))
	}
	item.PriorityKey = key
	s.queues[contextID] = append(queue, item.ID)
	return len(s.queues[contextID]) - 1
}

func (s *Service) dequeueNextLocked(contextID string) *WorkItem {
	queue := s.queues[contextID]
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if len(queue) == 0 {
			delete(s.queues, contextID)
		} else {
			s.queues[contextID] = append([]string(nil), queue...)
		}
		item, ok := s.items[id]
		if !ok || item.Terminal() {
			queue = s.queues[contextID]
			continue
		}
		return item
	}
	return nil
}

func (s *Service) promoteNextLocked(contextID string, now time.Time) *WorkItem {
	next := s.dequeueNextLocked(contextID)
	if next == nil {
		return nil
	}
	s.startLocked(contextID, next, now)
	s.persistItem(next.Clone())
	promoted := next.Clone()
	return &promoted
}

func (s *Service) startLocked(contextID string, item *WorkItem, now time.Time) {
	s.runningByContext[contextID] = item.ID
	item.ContextID = contextID
	item.Status = ItemStatusRunning
	item.UpdatedAt = now
	if item.StartedAt == nil {
		item.StartedAt = &now
	}
}

// renumberLocked rewrites the queue's keys with fixed Gap spacing (0, Gap,
// 2*Gap, ...), preserving order. Bounds key drift from repeated insertions at
// the same position.
func (s *Service) renumberLocked(contextID string, queue []string, now time.Time) {
	if s.metrics != nil {
		s.metrics.QueueRenumbers.Inc()
	}
	for i, id := range queue {
		item, ok := s.items[id]
		if !ok {
			continue
		}
		item.PriorityKey = int64(i) * Gap
		item.UpdatedAt = now
		s.persistItem(item.Clone())
	}
}

func (s *Service) keysOfLocked(queue []string) []int64 {
	keys := make([]int64, 0, len(queue))
	for _, id := range queue {
		if item, ok := s.items[id]; ok {
			keys = append(keys, item.PriorityKey)
		}
	}
	return keys
}

func (s *Service) persistItem(item WorkItem) {
	store := s.store
	if store == nil {
		return
	}
	go func(snapshot WorkItem) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = store.SaveItem(ctx, snapshot)
	}(item)
}

func indexOf(queue []string, id string) int {
	for i, v := range queue {
		if v == id {
			return i
		}
	}
	return -1
}

func removeAt(queue []string, idx int) []string {
	out := make([]string, 0, len(queue)-1)
	out = append(out, queue[:idx]...)
	out = append(out, queue[idx+1:]...)
	return out
}
