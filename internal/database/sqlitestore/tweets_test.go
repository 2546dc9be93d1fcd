package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"twimer/internal/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *TweetStore {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "tweets.sqlite"))
	require.NoError(t, err)
	s := NewTweetStore(db)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTweetStore_PutGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	payload := []byte(`{"id":1234567890123456789,"text":"café"}`)
	require.NoError(t, s.Put(ctx, "1234567890123456789", payload))

	got, err := s.Get(ctx, "1234567890123456789")
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestTweetStore_Upsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "1", []byte(`{"v":1}`)))
	require.NoError(t, s.Put(ctx, "1", []byte(`{"v":2}`)))
	require.NoError(t, s.Put(ctx, "2", []byte(`{"v":3}`)))

	got, err := s.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(got))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestTweetStore_Since(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		at := base.Add(time.Duration(i) * time.Minute)
		s.now = func() time.Time { return at }
		require.NoError(t, s.Put(ctx, id, []byte(`{}`)))
	}

	ids, err := s.Since(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, ids)
}
