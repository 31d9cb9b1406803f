package execctx

import (
	"context"
	"testing"
	"time"
)

func TestManagerCreateGetEnd(t *testing.T) {
	m := NewManager(time.Minute)
	c := m.Create("sess-1", "fix flaky test", "/repo")
	if c.ID == "" {
		t.Fatalf("context ID should not be empty")
	}

	got, err := m.Get(c.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.SessionID != "sess-1" || got.Status != StatusRunning {
		t.Fatalf("unexpected context state: %+v", got)
	}
	if !m.Exists(c.ID) {
		t.Fatalf("Exists() = false for live context")
	}

	ended, err := m.End(c.ID, false)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusCompleted {
		t.Fatalf("ended status = %q, want %q", ended.Status, StatusCompleted)
	}
	if m.Exists(c.ID) {
		t.Fatalf("Exists() = true for ended context")
	}
}

func TestManagerEndRunsHookWithSnapshot(t *testing.T) {
	m := NewManager(time.Minute)
	c := m.Create("sess-1", "", "")

	var hooked *Context
	m.SetEndHook(func(ended *Context) { hooked = ended })

	if _, err := m.End(c.ID, true); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if hooked == nil {
		t.Fatalf("end hook did not run")
	}
	if hooked.ID != c.ID || hooked.Status != StatusFailed {
		t.Fatalf("hook snapshot = %+v, want failed context %q", hooked, c.ID)
	}
}

func TestManagerBySession(t *testing.T) {
	m := NewManager(time.Minute)
	c := m.Create("sess-42", "", "")

	got, err := m.BySession("sess-42")
	if err != nil {
		t.Fatalf("BySession() error = %v", err)
	}
	if got.ID != c.ID {
		t.Fatalf("BySession() id = %q, want %q", got.ID, c.ID)
	}

	if _, err := m.BySession("unknown"); err != ErrNotFound {
		t.Fatalf("BySession(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestManagerPauseResume(t *testing.T) {
	m := NewManager(time.Minute)
	c := m.Create("", "", "")

	if err := m.Pause(c.ID); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	got, _ := m.Get(c.ID)
	if got.Status != StatusPaused {
		t.Fatalf("Status = %q, want %q", got.Status, StatusPaused)
	}
	if !m.Exists(c.ID) {
		t.Fatalf("Exists() = false for paused context, want true")
	}
	if err := m.Resume(c.ID); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	got, _ = m.Get(c.ID)
	if got.Status != StatusRunning {
		t.Fatalf("Status = %q, want %q", got.Status, StatusRunning)
	}
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	c := m.Create("sess-1", "", "")

	hookCh := make(chan *Context, 1)
	m.SetEndHook(func(ended *Context) {
		select {
		case hookCh <- ended:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	select {
	case ended := <-hookCh:
		if ended.Status != StatusFailed {
			t.Fatalf("expired status = %q, want %q", ended.Status, StatusFailed)
		}
	case <-time.After(time.Second):
		t.Fatalf("janitor did not expire the inactive context")
	}

	got, err := m.Get(c.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusFailed {
		t.Fatalf("Status = %q, want %q", got.Status, StatusFailed)
	}
}
