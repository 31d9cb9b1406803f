package inbox

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/overseerhq/overseer/internal/agentlink"
	"github.com/overseerhq/overseer/internal/observability"
)

var (
	ErrEventNotFound      = errors.New("inbox event not found")
	ErrAlreadyResolved    = errors.New("event already resolved")
	ErrNotPermissionEvent = errors.New("event is not a permission request")
	ErrUnknownOption      = errors.New("option value not offered by the event")
	ErrSendFailed         = errors.New("permission response send failed")
	ErrSendInFlight       = errors.New("permission response already in flight")
	ErrLinkNotConfigured  = errors.New("agent link not configured")
)

const defaultListLimit = 512

// Link is the transport consumed by the service. Satisfied by
// agentlink.Channel.
type Link interface {
	Dial(ctx context.Context) (<-chan agentlink.HookEvent, error)
	SendPermissionResponse(ctx context.Context, resp agentlink.PermissionResponse) error
	Close() error
}

// Service owns the pending-to-resolved lifecycle of inbox events and drives
// permission-response dispatch over the agent link. All event-state mutations
// are in-memory under one mutex; persistence is best effort and asynchronous,
// except that a permission event is never marked resolved before the
// transport confirms delivery.
type Service struct {
	mu sync.RWMutex

	store   Store
	link    Link
	metrics *observability.Metrics

	listLimit int

	events map[string]*Event
	order  []string // newest first

	sending map[string]bool

	state      ConnState
	lastErr    error
	generation uint64

	subscribers map[int]chan Event
	nextSubID   int
}

func NewService(link Link, listLimit int) *Service {
	if listLimit <= 0 {
		listLimit = defaultListLimit
	}
	return &Service{
		link:        link,
		listLimit:   listLimit,
		events:      make(map[string]*Event),
		sending:     make(map[string]bool),
		state:       StateDisconnected,
		subscribers: make(map[int]chan Event),
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

// Subscribe returns a feed of event snapshots: one on ingest and one on each
// resolution. Slow subscribers miss messages rather than block ingest.
func (s *Service) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 256)
	s.mu.Lock()
	s.nextSubID++
	id := s.nextSubID
	s.subscribers[id] = ch
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(c)
		}
	}
}

// Ingest validates and records one inbound hook event. Malformed or duplicate
// payloads are ignored (ok=false), never surfaced as errors: a misbehaving
// agent must not break the operator's inbox.
func (s *Service) Ingest(raw agentlink.HookEvent) (string, bool) {
	kind, known := kindForHookEvent(strings.TrimSpace(raw.HookEventName))
	if !known {
		s.countIngest(strings.TrimSpace(raw.HookEventName), "ignored_unknown")
		log.Printf("inbox: ignoring unknown hook event %q", raw.HookEventName)
		return "", false
	}
	if strings.TrimSpace(raw.ContextID) == "" {
		s.countIngest(string(kind), "ignored_malformed")
		log.Printf("inbox: ignoring %s event without context_id", kind)
		return "", false
	}
	if kind == KindPermissionRequest && len(raw.PermissionOptions) == 0 {
		s.countIngest(string(kind), "ignored_malformed")
		log.Printf("inbox: ignoring permission request without options (context %s)", raw.ContextID)
		return "", false
	}

	now := time.Now().UTC()
	id := strings.TrimSpace(raw.EventID)
	if id == "" {
		id = uuid.NewString()
	}

	evt := &Event{
		ID:         id,
		Kind:       kind,
		ContextID:  strings.TrimSpace(raw.ContextID),
		SessionID:  strings.TrimSpace(raw.SessionID),
		ToolName:   strings.TrimSpace(raw.ToolName),
		ToolInput:  raw.ToolInput,
		CWD:        strings.TrimSpace(raw.CWD),
		ReceivedAt: now,
		EmittedAt:  now,
	}
	if raw.Timestamp > 0 {
		evt.EmittedAt = time.UnixMilli(raw.Timestamp).UTC()
	}
	for _, opt := range raw.PermissionOptions {
		evt.Options = append(evt.Options, PermissionOption{
			Label:       opt.Label,
			Value:       opt.Value,
			Destructive: opt.Destructive,
			Scope:       opt.Scope,
		})
	}

	s.mu.Lock()
	if _, dup := s.events[id]; dup {
		s.mu.Unlock()
		s.countIngest(string(kind), "ignored_duplicate")
		return "", false
	}
	s.events[id] = evt
	s.order = append([]string{id}, s.order...)
	s.publishLocked(evt.Clone())
	s.mu.Unlock()

	s.countIngest(string(kind), "ingested")
	s.persistEvent(evt.Clone())
	return id, true
}

// IsResolved reports the event's resolved flag.
func (s *Service) IsResolved(eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	evt, ok := s.events[eventID]
	if !ok {
		return false, ErrEventNotFound
	}
	return evt.Resolved, nil
}

// ResolveEvent flips the event's resolved flag. Idempotent: resolving an
// already-resolved event is a no-op.
func (s *Service) ResolveEvent(eventID string) error {
	s.mu.Lock()
	evt, ok := s.events[eventID]
	if !ok {
		s.mu.Unlock()
		return ErrEventNotFound
	}
	if evt.Resolved {
		s.mu.Unlock()
		return nil
	}
	evt.Resolved = true
	snapshot := evt.Clone()
	s.publishLocked(snapshot)
	if s.metrics != nil {
		s.metrics.Latency.Observe("resolve_"+string(evt.Kind), time.Since(evt.ReceivedAt))
	}
	store := s.store
	s.mu.Unlock()

	if store != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = store.MarkResolved(ctx, snapshot.ID)
		}()
	}
	return nil
}

// SendPermissionResponse relays the operator's chosen option to the
// originating agent and, only after the transport confirms delivery, marks
// the event resolved. On failure the event stays pending and the caller may
// retry; the resolved flag is never set speculatively.
func (s *Service) SendPermissionResponse(ctx context.Context, eventID, optionValue string) error {
	s.mu.Lock()
	evt, ok := s.events[eventID]
	if !ok {
		s.mu.Unlock()
		return ErrEventNotFound
	}
	if evt.Kind != KindPermissionRequest {
		s.mu.Unlock()
		return ErrNotPermissionEvent
	}
	if evt.Resolved {
		s.mu.Unlock()
		return ErrAlreadyResolved
	}
	if s.sending[eventID] {
		s.mu.Unlock()
		return ErrSendInFlight
	}
	if _, ok := evt.Option(optionValue); !ok {
		s.mu.Unlock()
		return ErrUnknownOption
	}
	link := s.link
	if link == nil {
		s.mu.Unlock()
		return ErrLinkNotConfigured
	}
	s.sending[eventID] = true
	resp := agentlink.PermissionResponse{
		SessionID:         evt.SessionID,
		ContextID:         evt.ContextID,
		ChosenOptionValue: optionValue,
	}
	s.mu.Unlock()

	err := link.SendPermissionResponse(ctx, resp)

	s.mu.Lock()
	delete(s.sending, eventID)
	s.mu.Unlock()

	if err != nil {
		s.countSend("error")
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	s.countSend("ok")
	return s.ResolveEvent(eventID)
}

// Connect establishes the agent link. Idempotent while connected.
func (s *Service) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.link == nil {
		s.mu.Unlock()
		return ErrLinkNotConfigured
	}
	if s.state == StateConnected {
		s.mu.Unlock()
		return nil
	}
	s.generation++
	gen := s.generation
	s.setStateLocked(StateConnecting, nil)
	s.mu.Unlock()

	return s.dial(ctx, gen)
}

// Reconnect tears down and redials. It supersedes any in-flight connect: a
// stale attempt's completion is discarded by the generation check, so an old
// callback can never mark the channel connected after a newer reconnect
// started. Connection loss never resolves or discards pending events.
func (s *Service) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.link == nil {
		s.mu.Unlock()
		return ErrLinkNotConfigured
	}
	s.generation++
	gen := s.generation
	s.setStateLocked(StateConnecting, nil)
	s.mu.Unlock()

	return s.dial(ctx, gen)
}

func (s *Service) dial(ctx context.Context, gen uint64) error {
	events, err := s.link.Dial(ctx)

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		if events != nil {
			// Superseded by a newer reconnect; drain so the reader exits.
			go func() {
				for range events {
				}
			}()
		}
		return nil
	}
	if err != nil {
		s.setStateLocked(StateDisconnected, err)
		s.mu.Unlock()
		return fmt.Errorf("agent link connect: %w", err)
	}
	s.setStateLocked(StateConnected, nil)
	s.mu.Unlock()

	go s.pump(gen, events)
	return nil
}

func (s *Service) pump(gen uint64, events <-chan agentlink.HookEvent) {
	for evt := range events {
		s.Ingest(evt)
	}
	s.mu.Lock()
	if gen == s.generation && s.state == StateConnected {
		s.setStateLocked(StateDisconnected, errors.New("agent link stream closed"))
	}
	s.mu.Unlock()
}

// ConnectionState returns the link state and the last connection error.
func (s *Service) ConnectionState() (ConnState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.lastErr
}

// List returns event snapshots newest first.
func (s *Service) List(limit int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > s.listLimit {
		limit = s.listLimit
	}
	out := make([]Event, 0, limit)
	for _, id := range s.order {
		if len(out) == limit {
			break
		}
		if evt, ok := s.events[id]; ok {
			out = append(out, evt.Clone())
		}
	}
	return out
}

// Pending returns unresolved event snapshots newest first.
func (s *Service) Pending() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, 0, len(s.order))
	for _, id := range s.order {
		if evt, ok := s.events[id]; ok && !evt.Resolved {
			out = append(out, evt.Clone())
		}
	}
	return out
}

// Get returns a snapshot of one event.
func (s *Service) Get(eventID string) (Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	evt, ok := s.events[eventID]
	if !ok {
		return Event{}, ErrEventNotFound
	}
	return evt.Clone(), nil
}

// ClearResolved removes resolved events. This is the only deletion path;
// pending events are untouchable.
func (s *Service) ClearResolved() int {
	s.mu.Lock()
	removed := make([]string, 0)
	kept := s.order[:0]
	for _, id := range s.order {
		evt, ok := s.events[id]
		if ok && evt.Resolved {
			delete(s.events, id)
			removed = append(removed, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = append([]string(nil), kept...)
	store := s.store
	s.mu.Unlock()

	if store != nil && len(removed) > 0 {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			for _, id := range removed {
				_ = store.DeleteEvent(ctx, id)
			}
		}()
	}
	return len(removed)
}

func (s *Service) setStateLocked(state ConnState, err error) {
	s.state = state
	s.lastErr = err
	if s.metrics != nil {
		v := 0.0
		switch state {
		case StateConnecting:
			v = 1
		case StateConnected:
			v = 2
		}
		s.metrics.LinkState.Set(v)
	}
}

func (s *Service) publishLocked(evt Event) {
	for _, ch := range s.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (s *Service) countIngest(kind, outcome string) {
	s.mu.RLock()
	m := s.metrics
	s.mu.RUnlock()
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.InboxEvents.WithLabelValues(kind, outcome).Inc()
}

func (s *Service) countSend(outcome string) {
	s.mu.RLock()
	m := s.metrics
	s.mu.RUnlock()
	if m != nil {
		m.PermissionSends.WithLabelValues(outcome).Inc()
	}
}

func (s *Service) persistEvent(evt Event) {
	s.mu.RLock()
	store := s.store
	s.mu.RUnlock()
	if store == nil {
		return
	}
	go func(snapshot Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = store.SaveEvent(ctx, snapshot)
	}(evt)
}
