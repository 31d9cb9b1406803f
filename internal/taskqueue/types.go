package taskqueue

import "time"

type ItemStatus string

const (
	ItemStatusQueued    ItemStatus = "queued"
	ItemStatusRunning   ItemStatus = "running"
	ItemStatusCompleted ItemStatus = "completed"
	ItemStatusInReview  ItemStatus = "in_review"
	ItemStatusAborted   ItemStatus = "aborted"
)

// WorkItem is one unit of agent work. ContextID is empty while the item is
// queued without an assigned execution context.
type WorkItem struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Status         ItemStatus `json:"status"`
	PriorityKey    int64      `json:"priority_key"`
	ContextID      string     `json:"context_id,omitempty"`
	RequiresReview bool       `json:"requires_review,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
}

type CreateRequest struct {
	ContextID      string `json:"context_id"`
	Title          string `json:"title"`
	Description    string `json:"description,omitempty"`
	RequiresReview bool   `json:"requires_review,omitempty"`
}

func (w WorkItem) Clone() WorkItem {
	return w
}

func (w WorkItem) Terminal() bool {
	switch w.Status {
	case ItemStatusCompleted, ItemStatusAborted:
		return true
	default:
		return false
	}
}
