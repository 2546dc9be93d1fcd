// Package sink persists kept firehose records.
package sink

import (
	"context"
	"fmt"
	"os"

	"twimer/internal/config"
	"twimer/internal/database/boltstore"
	"twimer/internal/database/sqlitestore"
)

// Sink defines the interface for record destinations.
type Sink interface {
	// Name returns the sink's name for logging.
	Name() string
	// Persist makes one attempt to store payload under id. Payload bytes are
	// written unmodified.
	Persist(ctx context.Context, id string, payload []byte) error
	// Close releases files, databases or connections.
	Close() error
}

// Counter is implemented by sinks that can report how many records they hold.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// Checker is implemented by sinks that can verify their destination is reachable.
type Checker interface {
	Check(ctx context.Context) error
}

// Check runs s's health check. Sinks without one are always healthy.
func Check(ctx context.Context, s Sink) error {
	if c, ok := s.(Checker); ok {
		return c.Check(ctx)
	}
	return nil
}

// Kind classifies a persist failure
type Kind string

const (
	KindIO          Kind = "io"
	KindCompression Kind = "compression"
	KindRemote      Kind = "remote"
)

// Error is a failed persist attempt. The record is dropped; the session
// carries on.
type Error struct {
	Sink string
	Kind Kind
	ID   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s sink: %s error persisting %s: %v", e.Sink, e.Kind, e.ID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New validates cfg and builds the matching sink. Directories are created,
// databases opened and remote stores pinged here, so every failure surfaces
// as a *config.Error before streaming starts.
func New(ctx context.Context, cfg config.StorageConfig) (Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Method {
	case config.StoragePlain, config.StorageTargz:
		if err := os.MkdirAll(cfg.Target, 0o755); err != nil {
			return nil, &config.Error{Field: "storage.target", Msg: "create directory", Err: err}
		}
		if cfg.Method == config.StorageTargz {
			return NewGzip(cfg.Target), nil
		}
		return NewPlain(cfg.Target), nil

	case config.StorageBolt:
		store, err := boltstore.Open(boltstore.Options{Path: cfg.Target})
		if err != nil {
			return nil, &config.Error{Field: "storage.target", Msg: "open bolt database", Err: err}
		}
		return NewStore(string(cfg.Method), store.TweetStore(), store.Close), nil

	case config.StorageSQLite:
		db, err := sqlitestore.Open(ctx, cfg.Target)
		if err != nil {
			return nil, &config.Error{Field: "storage.target", Msg: "open sqlite database", Err: err}
		}
		store := sqlitestore.NewTweetStore(db)
		return NewStore(string(cfg.Method), store, store.Close), nil

	case config.StorageMongoDB:
		return NewMongo(ctx, cfg)
	}

	// unreachable after Validate
	return nil, &config.Error{Field: "storage.method", Msg: fmt.Sprintf("unsupported storage method %q", cfg.Method)}
}
