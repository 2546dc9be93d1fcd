package boltstore

import (
	"context"
	"fmt"
	"time"

	"twimer/internal/database"

	bolt "go.etcd.io/bbolt"
)

// TweetStore keeps raw tweet payloads in the tweets bucket.
type TweetStore struct {
	db  *bolt.DB
	now func() time.Time
}

var _ database.TweetStore = (*TweetStore)(nil)

// Put stores payload under id. Writing the same id twice overwrites.
func (s *TweetStore) Put(ctx context.Context, id string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketTweets)
		if bucket == nil {
			return fmt.Errorf("bucket %s not found", BucketTweets)
		}
		if err := bucket.Put([]byte(id), payload); err != nil {
			return err
		}

		times := tx.Bucket(BucketStoredAt)
		if times == nil {
			return nil
		}
		return times.Put([]byte(id), []byte(s.now().UTC().Format(time.RFC3339Nano)))
	})
}

// Get returns a copy of the payload stored under id.
func (s *TweetStore) Get(ctx context.Context, id string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketTweets)
		if bucket == nil {
			return database.ErrNotFound
		}
		data := bucket.Get([]byte(id))
		if data == nil {
			return database.ErrNotFound
		}
		// data is only valid for the life of the tx
		out = make([]byte, len(data))
		copy(out, data)
		return nil
	})
	return out, err
}

// StoredAt returns when id was last written.
func (s *TweetStore) StoredAt(id string) (time.Time, bool) {
	var ts time.Time
	_ = s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketStoredAt)
		if bucket == nil {
			return nil
		}
		if data := bucket.Get([]byte(id)); data != nil {
			ts, _ = time.Parse(time.RFC3339Nano, string(data))
		}
		return nil
	})
	return ts, !ts.IsZero()
}

// Count returns the number of stored tweets.
func (s *TweetStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketTweets)
		if bucket == nil {
			return nil
		}
		n = bucket.Stats().KeyN
		return nil
	})
	return n, err
}

// Close is a no-op; the owning Store closes the database.
func (s *TweetStore) Close() error {
	return nil
}
