// Package store provides the client-side key-value persistence used to carry
// a session across process restarts. The session manager is the only writer.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("store: key not found")

// Store is a small transactional key-value facility. Put and Delete apply all
// of their keys atomically so a restart can never observe half a session.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, pairs map[string][]byte) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}
