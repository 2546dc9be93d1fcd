package sink

import (
	"context"

	"twimer/internal/database"
)

// StoreSink persists records into an embedded database.
type StoreSink struct {
	name  string
	store database.TweetStore
	close func() error
}

// NewStore wraps store. closeFn releases the underlying database and may be nil.
func NewStore(name string, store database.TweetStore, closeFn func() error) *StoreSink {
	if closeFn == nil {
		closeFn = store.Close
	}
	return &StoreSink{name: name, store: store, close: closeFn}
}

func (s *StoreSink) Name() string { return s.name }

func (s *StoreSink) Persist(ctx context.Context, id string, payload []byte) error {
	if err := s.store.Put(ctx, id, payload); err != nil {
		return &Error{Sink: s.name, Kind: KindIO, ID: id, Err: err}
	}
	return nil
}

func (s *StoreSink) Count(ctx context.Context) (int, error) {
	return s.store.Count(ctx)
}

// Check runs a count against the store.
func (s *StoreSink) Check(ctx context.Context) error {
	_, err := s.store.Count(ctx)
	return err
}

func (s *StoreSink) Close() error { return s.close() }
