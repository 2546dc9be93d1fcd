package database

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no record has the requested id.
var ErrNotFound = errors.New("tweet not found")

// TweetStore persists raw tweet payloads keyed by id.
// Implementations must store the payload bytes unmodified.
type TweetStore interface {
	// Put stores payload under id, replacing any previous payload
	Put(ctx context.Context, id string, payload []byte) error

	// Get returns the payload stored under id, or ErrNotFound
	Get(ctx context.Context, id string) ([]byte, error)

	// Count returns the number of stored tweets
	Count(ctx context.Context) (int, error)

	// Close the database connection
	Close() error
}
