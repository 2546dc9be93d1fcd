package database

import "context"

// MockStore is a mock implementation of the TweetStore interface for testing.
// Uses function fields to allow tests to inject custom behavior.
type MockStore struct {
	PutFunc   func(ctx context.Context, id string, payload []byte) error
	GetFunc   func(ctx context.Context, id string) ([]byte, error)
	CountFunc func(ctx context.Context) (int, error)
	CloseFunc func() error
}

// Put calls the mock function or returns nil if not set
func (m *MockStore) Put(ctx context.Context, id string, payload []byte) error {
	if m.PutFunc != nil {
		return m.PutFunc(ctx, id, payload)
	}
	return nil
}

// Get calls the mock function or returns ErrNotFound if not set
func (m *MockStore) Get(ctx context.Context, id string) ([]byte, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	return nil, ErrNotFound
}

// Count calls the mock function or returns 0 if not set
func (m *MockStore) Count(ctx context.Context) (int, error) {
	if m.CountFunc != nil {
		return m.CountFunc(ctx)
	}
	return 0, nil
}

// Close calls the mock function or returns nil if not set
func (m *MockStore) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

var _ TweetStore = (*MockStore)(nil)
