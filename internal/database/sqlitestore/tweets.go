package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"twimer/internal/database"
)

// TweetStore implements database.TweetStore using SQLite.
type TweetStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewTweetStore creates a TweetStore backed by the given database.
// The database must already have the schema applied (see Open).
func NewTweetStore(db *sql.DB) *TweetStore {
	return &TweetStore{db: db, now: time.Now}
}

// Ensure TweetStore implements the interface at compile time.
var _ database.TweetStore = (*TweetStore)(nil)

func (s *TweetStore) Put(ctx context.Context, id string, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tweets (id, body, stored_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			body      = excluded.body,
			stored_at = excluded.stored_at
	`, id, payload, s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("put tweet: %w", err)
	}
	return nil
}

func (s *TweetStore) Get(ctx context.Context, id string) ([]byte, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM tweets WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (s *TweetStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tweets`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Since lists ids stored at or after t, oldest first.
func (s *TweetStore) Since(ctx context.Context, t time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM tweets WHERE stored_at >= ? ORDER BY stored_at, id`,
		t.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *TweetStore) Close() error {
	return s.db.Close()
}
