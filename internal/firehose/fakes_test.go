package firehose

import (
	"context"
	"sync"
	"time"
)

// fakeStream replays msgs, then returns end. A nil end blocks until the dial
// context is cancelled.
type fakeStream struct {
	ctx    context.Context
	msgs   []Message
	end    error
	onNext func(i int)

	i      int
	closed bool
}

func (f *fakeStream) Next() (Message, error) {
	if f.i < len(f.msgs) {
		if f.onNext != nil {
			f.onNext(f.i)
		}
		m := f.msgs[f.i]
		f.i++
		return m, nil
	}
	if f.end != nil {
		return Message{}, f.end
	}
	<-f.ctx.Done()
	return Message{}, f.ctx.Err()
}

func (f *fakeStream) Close() error {
	f.closed = true
	return nil
}

type fakeDialer struct {
	mu      sync.Mutex
	dialErr error
	build   func(ctx context.Context) *fakeStream
	queries []Query
	streams []*fakeStream
}

func (d *fakeDialer) Name() string { return "fake" }

func (d *fakeDialer) Dial(ctx context.Context, q Query) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queries = append(d.queries, q)
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	s := d.build(ctx)
	s.ctx = ctx
	d.streams = append(d.streams, s)
	return s, nil
}

// memSink records persisted payloads in arrival order.
type memSink struct {
	mu    sync.Mutex
	ids   []string
	data  map[string][]byte
	fail  map[string]error
	calls int
}

func newMemSink() *memSink {
	return &memSink{data: map[string][]byte{}, fail: map[string]error{}}
}

func (m *memSink) Name() string { return "mem" }

func (m *memSink) Persist(ctx context.Context, id string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if err := m.fail[id]; err != nil {
		return err
	}
	m.ids = append(m.ids, id)
	m.data[id] = payload
	return nil
}

func (m *memSink) Close() error { return nil }

func (m *memSink) persisted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ids...)
}

// fakeClock is advanced by tests
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func data(raw string) Message {
	return Classify([]byte(raw))
}
