package coordinator

import (
	"errors"
	"testing"

	"github.com/overseerhq/overseer/internal/agentlink"
	"github.com/overseerhq/overseer/internal/inbox"
	"github.com/overseerhq/overseer/internal/taskqueue"
)

type staticRegistry map[string]bool

func (r staticRegistry) Exists(contextID string) bool { return r[contextID] }

func newFixture(t *testing.T) (*Coordinator, *inbox.Service, *taskqueue.Service) {
	t.Helper()
	events := inbox.NewService(nil, 0)
	queue := taskqueue.NewService(staticRegistry{"ctx-1": true})
	return New(events, queue), events, queue
}

func enqueue(t *testing.T, queue *taskqueue.Service, title string) taskqueue.WorkItem {
	t.Helper()
	item, _, err := queue.Enqueue(taskqueue.CreateRequest{ContextID: "ctx-1", Title: title})
	if err != nil {
		t.Fatalf("Enqueue(%s) error: %v", title, err)
	}
	return item
}

func bindNext(t *testing.T, queue *taskqueue.Service) taskqueue.WorkItem {
	t.Helper()
	item, ok, err := queue.DequeueNext("ctx-1")
	if err != nil || !ok {
		t.Fatalf("DequeueNext() = (%v, %v), want an item", ok, err)
	}
	bound, err := queue.BindRunning("ctx-1", item.ID)
	if err != nil {
		t.Fatalf("BindRunning() error: %v", err)
	}
	return bound
}

func TestConfirmTaskCompletionResolvesAndPromotes(t *testing.T) {
	coord, events, queue := newFixture(t)

	a := enqueue(t, queue, "task A")
	b := enqueue(t, queue, "task B")
	running := bindNext(t, queue)
	if running.ID != a.ID {
		t.Fatalf("running item = %s, want %s", running.ID, a.ID)
	}

	eventID, ok := events.Ingest(agentlink.HookEvent{HookEventName: "Stop", ContextID: "ctx-1"})
	if !ok {
		t.Fatal("Ingest rejected completion event")
	}

	res, err := coord.ConfirmTaskCompletion(eventID, "ctx-1")
	if err != nil {
		t.Fatalf("ConfirmTaskCompletion() error: %v", err)
	}
	if res.Completed.ID != a.ID || res.Completed.Status != taskqueue.ItemStatusCompleted {
		t.Fatalf("completed = %s/%s, want %s/%s",
			res.Completed.ID, res.Completed.Status, a.ID, taskqueue.ItemStatusCompleted)
	}
	if res.Promoted == nil || res.Promoted.ID != b.ID {
		t.Fatalf("promoted = %v, want %s", res.Promoted, b.ID)
	}

	resolved, err := events.IsResolved(eventID)
	if err != nil || !resolved {
		t.Fatalf("IsResolved() = (%v, %v), want (true, nil)", resolved, err)
	}
	queued, err := queue.TasksQueued("ctx-1")
	if err != nil || len(queued) != 0 {
		t.Fatalf("TasksQueued() = (%v, %v), want empty queue", queued, err)
	}
	nowRunning, ok := queue.Running("ctx-1")
	if !ok || nowRunning.ID != b.ID {
		t.Fatalf("Running() = (%v, %v), want %s", nowRunning.ID, ok, b.ID)
	}
}

func TestConfirmTaskCompletionWithoutEvent(t *testing.T) {
	coord, _, queue := newFixture(t)
	a := enqueue(t, queue, "task A")
	bindNext(t, queue)

	res, err := coord.ConfirmTaskCompletion("", "ctx-1")
	if err != nil {
		t.Fatalf("ConfirmTaskCompletion() error: %v", err)
	}
	if res.Completed.ID != a.ID || res.Promoted != nil {
		t.Fatalf("result = (%s, %v), want (%s, nil)", res.Completed.ID, res.Promoted, a.ID)
	}
}

func TestConfirmTaskCompletionFailureLeavesEventPending(t *testing.T) {
	coord, events, queue := newFixture(t)
	enqueue(t, queue, "task A")
	// Nothing bound: completing must fail.

	eventID, _ := events.Ingest(agentlink.HookEvent{HookEventName: "Stop", ContextID: "ctx-1"})
	if _, err := coord.ConfirmTaskCompletion(eventID, "ctx-1"); !errors.Is(err, taskqueue.ErrItemNotFound) {
		t.Fatalf("ConfirmTaskCompletion() = %v, want ErrItemNotFound", err)
	}
	resolved, _ := events.IsResolved(eventID)
	if resolved {
		t.Fatal("event resolved although the confirmation failed")
	}
}

func TestConfirmTaskCompletionUnknownEvent(t *testing.T) {
	coord, _, queue := newFixture(t)
	enqueue(t, queue, "task A")
	bindNext(t, queue)

	if _, err := coord.ConfirmTaskCompletion("missing", "ctx-1"); !errors.Is(err, inbox.ErrEventNotFound) {
		t.Fatalf("ConfirmTaskCompletion(missing) = %v, want ErrEventNotFound", err)
	}
	if _, ok := queue.Running("ctx-1"); !ok {
		t.Fatal("running item lost although the confirmation failed")
	}
}

func TestConfirmTaskCompletionRejectsPermissionEvent(t *testing.T) {
	coord, events, queue := newFixture(t)
	enqueue(t, queue, "task A")
	bindNext(t, queue)

	eventID, ok := events.Ingest(agentlink.HookEvent{
		HookEventName: "PermissionRequest",
		ContextID:     "ctx-1",
		ToolName:      "Bash",
		PermissionOptions: []agentlink.PermissionOptionPayload{
			{Label: "Allow", Value: "allow"},
		},
	})
	if !ok {
		t.Fatal("Ingest rejected permission event")
	}

	if _, err := coord.ConfirmTaskCompletion(eventID, "ctx-1"); !errors.Is(err, ErrNotCompletionEvent) {
		t.Fatalf("ConfirmTaskCompletion(permission event) = %v, want ErrNotCompletionEvent", err)
	}
	if resolved, _ := events.IsResolved(eventID); resolved {
		t.Fatal("permission event resolved without a response reaching the agent")
	}
	if _, ok := queue.Running("ctx-1"); !ok {
		t.Fatal("running item lost although the confirmation was rejected")
	}
}

func TestConfirmTaskCompletionWithResolvedEventStillAdvances(t *testing.T) {
	coord, events, queue := newFixture(t)
	a := enqueue(t, queue, "task A")
	bindNext(t, queue)

	eventID, _ := events.Ingest(agentlink.HookEvent{HookEventName: "Stop", ContextID: "ctx-1"})
	if err := events.ResolveEvent(eventID); err != nil {
		t.Fatalf("ResolveEvent() error: %v", err)
	}

	res, err := coord.ConfirmTaskCompletion(eventID, "ctx-1")
	if err != nil {
		t.Fatalf("ConfirmTaskCompletion() error: %v", err)
	}
	if res.Completed.ID != a.ID {
		t.Fatalf("completed = %s, want %s", res.Completed.ID, a.ID)
	}
}
