package taskqueue

import (
	"context"
	"errors"
)

var ErrStoreNotFound = errors.New("work item not found in store")

type Store interface {
	SaveItem(ctx context.Context, item WorkItem) error
	GetItem(ctx context.Context, workItemID string) (WorkItem, error)
	ListItemsByContext(ctx context.Context, contextID string, limit int) ([]WorkItem, error)
	Close() error
}
