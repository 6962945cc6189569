package session

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrUnavailable is returned when the underlying storage cannot be used.
var ErrUnavailable = errors.New("session storage unavailable")

// Store is plain key/value session storage.
//
// Get reports found=false for a missing key. Implementations perform no
// validation and have no side effects beyond storage I/O and event publication.
type Store interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// TabStore is a [Store] handle owned by a single tab.
//
// Watch delivers mutation events from every tab sharing the storage until ctx
// is cancelled, after which the channel is closed.
type TabStore interface {
	Store
	Origin() string
	Watch(ctx context.Context) (<-chan Event, error)
}

// NewTabID returns a fresh tab origin identifier.
func NewTabID() string {
	return uuid.NewString()
}
