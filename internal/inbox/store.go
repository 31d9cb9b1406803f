package inbox

import (
	"context"
	"errors"
)

var ErrStoreNotFound = errors.New("inbox event not found in store")

type Store interface {
	SaveEvent(ctx context.Context, evt Event) error
	MarkResolved(ctx context.Context, eventID string) error
	GetEvent(ctx context.Context, eventID string) (Event, error)
	ListEvents(ctx context.Context, limit int) ([]Event, error)
	DeleteEvent(ctx context.Context, eventID string) error
	Close() error
}
