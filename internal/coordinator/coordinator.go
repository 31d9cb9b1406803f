// Package coordinator ties inbox resolution to queue advancement. Confirming
// a completion is one critical section: the triggering event is resolved and
// the running item is completed and replaced together, so an observer never
// sees a resolved completion event with its work item still running.
package coordinator

import (
	"errors"
	"strings"
	"sync"

	"github.com/overseerhq/overseer/internal/inbox"
	"github.com/overseerhq/overseer/internal/taskqueue"
)

// ErrNotCompletionEvent rejects confirmations citing an event of another
// kind, such as a pending permission request.
var ErrNotCompletionEvent = errors.New("event does not report a completion")

// EventResolver is the inbox surface the coordinator needs. Satisfied by
// inbox.Service.
type EventResolver interface {
	Get(eventID string) (inbox.Event, error)
	ResolveEvent(eventID string) error
}

// Queue is the task queue surface the coordinator needs. Satisfied by
// taskqueue.Service.
type Queue interface {
	CompleteRunningAndPromote(contextID string) (taskqueue.WorkItem, *taskqueue.WorkItem, error)
}

type Coordinator struct {
	mu     sync.Mutex
	events EventResolver
	queue  Queue
}

// Result describes one confirmed completion: the finished item and, when the
// queue was non-empty, the item promoted into the freed slot.
type Result struct {
	Completed taskqueue.WorkItem  `json:"completed"`
	Promoted  *taskqueue.WorkItem `json:"promoted,omitempty"`
}

func New(events EventResolver, queue Queue) *Coordinator {
	return &Coordinator{events: events, queue: queue}
}

// ConfirmTaskCompletion completes the context's running item, promotes the
// queue head, and resolves the triggering completion event. eventID may be
// empty for an operator-initiated confirmation with no inbox event. On any
// failure neither the event nor the queue is changed; re-confirming with an
// already-resolved event still advances the queue.
func (c *Coordinator) ConfirmTaskCompletion(eventID, contextID string) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	eventID = strings.TrimSpace(eventID)
	if eventID != "" {
		evt, err := c.events.Get(eventID)
		if err != nil {
			return Result{}, err
		}
		if evt.Kind != inbox.KindCompletion && evt.Kind != inbox.KindSubagentCompletion {
			return Result{}, ErrNotCompletionEvent
		}
	}

	completed, promoted, err := c.queue.CompleteRunningAndPromote(contextID)
	if err != nil {
		return Result{}, err
	}

	if eventID != "" {
		// Cannot fail: existence was checked above and pending events are
		// never deleted.
		_ = c.events.ResolveEvent(eventID)
	}
	return Result{Completed: completed, Promoted: promoted}, nil
}
