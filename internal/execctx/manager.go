package execctx

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var ErrNotFound = errors.New("execution context not found")

// Context is an addressable agent session executing at most one work item at
// a time. SessionID is the agent-side session identifier used when relaying
// permission responses back over the agent link.
type Context struct {
	ID             string    `json:"context_id"`
	SessionID      string    `json:"session_id,omitempty"`
	Status         Status    `json:"status"`
	Title          string    `json:"title,omitempty"`
	WorkDir        string    `json:"work_dir,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

type Manager struct {
	mu                sync.RWMutex
	contexts          map[string]*Context
	contextBySession  map[string]string
	inactivityTimeout time.Duration
	onEnd             func(*Context)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 30 * time.Minute
	}
	return &Manager{
		contexts:          make(map[string]*Context),
		contextBySession:  make(map[string]string),
		inactivityTimeout: inactivityTimeout,
	}
}

// SetEndHook registers the callback fired when a context ends or expires.
// The queue service detaches the context's items through it.
func (m *Manager) SetEndHook(hook func(*Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnd = hook
}

func (m *Manager) Create(sessionID, title, workDir string) *Context {
	now := time.Now().UTC()
	c := &Context{
		ID:             uuid.NewString(),
		SessionID:      sessionID,
		Status:         StatusRunning,
		Title:          title,
		WorkDir:        workDir,
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.contexts[c.ID] = c
	if sessionID != "" {
		m.contextBySession[sessionID] = c.ID
	}
	return clone(c)
}

func (m *Manager) Get(contextID string) (*Context, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contexts[contextID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(c), nil
}

// Exists reports whether the context is live (not ended). Implements
// taskqueue.ContextRegistry.
func (m *Manager) Exists(contextID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contexts[contextID]
	return ok && c.Status != StatusCompleted && c.Status != StatusFailed
}

// BySession resolves the context bound to an agent session id.
func (m *Manager) BySession(sessionID string) (*Context, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.contextBySession[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	c, ok := m.contexts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(c), nil
}

func (m *Manager) Touch(contextID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contexts[contextID]
	if !ok {
		return ErrNotFound
	}
	c.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) Pause(contextID string) error {
	return m.setStatus(contextID, StatusPaused)
}

func (m *Manager) Resume(contextID string) error {
	return m.setStatus(contextID, StatusRunning)
}

func (m *Manager) setStatus(contextID string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contexts[contextID]
	if !ok {
		return ErrNotFound
	}
	if c.Status == StatusCompleted || c.Status == StatusFailed {
		return ErrNotFound
	}
	c.Status = status
	c.LastActivityAt = time.Now().UTC()
	return nil
}

// End terminates a context. The end hook runs outside the manager lock.
func (m *Manager) End(contextID string, failed bool) (*Context, error) {
	m.mu.Lock()
	c, ok := m.contexts[contextID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	if failed {
		c.Status = StatusFailed
	} else {
		c.Status = StatusCompleted
	}
	c.LastActivityAt = time.Now().UTC()
	if c.SessionID != "" {
		delete(m.contextBySession, c.SessionID)
	}
	snapshot := clone(c)
	hook := m.onEnd
	m.mu.Unlock()

	if hook != nil {
		hook(snapshot)
	}
	return snapshot, nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, c := range m.contexts {
		if c.Status == StatusRunning || c.Status == StatusPaused {
			count++
		}
	}
	return count
}

func (m *Manager) List() []*Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Context, 0, len(m.contexts))
	for _, c := range m.contexts {
		out = append(out, clone(c))
	}
	return out
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Context

	m.mu.Lock()
	for _, c := range m.contexts {
		if c.Status != StatusRunning && c.Status != StatusPaused {
			continue
		}
		if now.Sub(c.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		c.Status = StatusFailed
		c.LastActivityAt = now
		expired = append(expired, clone(c))
		if c.SessionID != "" {
			delete(m.contextBySession, c.SessionID)
		}
	}
	hook := m.onEnd
	m.mu.Unlock()

	if hook != nil {
		for _, c := range expired {
			hook(c)
		}
	}
}

func clone(c *Context) *Context {
	cp := *c
	return &cp
}
