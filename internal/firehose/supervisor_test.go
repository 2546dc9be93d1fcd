package firehose

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"twimer/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runnerFunc adapts a function to Runner
type runnerFunc func(ctx context.Context) (Outcome, error)

func (f runnerFunc) Run(ctx context.Context) (Outcome, error) { return f(ctx) }

func runSupervisor(t *testing.T, sup *Supervisor, ctx context.Context) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not return after cancel")
		return nil
	}
}

func TestSupervisor_RestartsAfterEveryFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const failures = 1000
	var started atomic.Int64
	sup := NewSupervisor(func() Runner {
		return runnerFunc(func(ctx context.Context) (Outcome, error) {
			if started.Add(1) >= failures {
				cancel()
			}
			return Outcome{Reason: ExitError}, &TransportError{Op: "dial", Err: errors.New("refused")}
		})
	}, 0)

	err := waitDone(t, runSupervisor(t, sup, ctx))
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, sup.Restarts(), int64(failures))
	assert.Equal(t, sup.Restarts(), started.Load())
}

func TestSupervisor_RecoversPanics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	before := testutil.ToFloat64(metrics.SessionExitsTotal.WithLabelValues(string(ExitPanic)))

	var calls atomic.Int64
	sup := NewSupervisor(func() Runner {
		n := calls.Add(1)
		if n == 1 {
			panic("factory blew up")
		}
		return runnerFunc(func(ctx context.Context) (Outcome, error) {
			switch n {
			case 2:
				var m map[string]int
				m["boom"] = 1 // nil map write
			case 3:
				return Outcome{Reason: ExitEndOfStream}, nil
			}
			cancel()
			return Outcome{Reason: ExitCancelled}, nil
		})
	}, 0)

	err := waitDone(t, runSupervisor(t, sup, ctx))
	assert.NoError(t, err)
	assert.Equal(t, int64(4), calls.Load())
	assert.Equal(t, int64(4), sup.Restarts())
	assert.Equal(t, before+2, testutil.ToFloat64(metrics.SessionExitsTotal.WithLabelValues(string(ExitPanic))))
}

func TestSupervisor_OneSessionAtATime(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		runs    int
	)
	sup := NewSupervisor(func() Runner {
		return runnerFunc(func(ctx context.Context) (Outcome, error) {
			mu.Lock()
			active++
			runs++
			if active > maxSeen {
				maxSeen = active
			}
			n := runs
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()

			if n == 20 {
				cancel()
			}
			return Outcome{Reason: ExitTimeout}, nil
		})
	}, 0)

	require.NoError(t, waitDone(t, runSupervisor(t, sup, ctx)))
	assert.Equal(t, 1, maxSeen)
}

func TestSupervisor_WaitsForSessionOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var finished atomic.Bool
	sup := NewSupervisor(func() Runner {
		return runnerFunc(func(ctx context.Context) (Outcome, error) {
			<-ctx.Done()
			time.Sleep(20 * time.Millisecond)
			finished.Store(true)
			return Outcome{Reason: ExitCancelled}, nil
		})
	}, 0)

	done := runSupervisor(t, sup, ctx)
	require.Eventually(t, func() bool { return sup.State() == SupervisorRunning }, time.Second, time.Millisecond)
	cancel()

	require.NoError(t, waitDone(t, done))
	assert.True(t, finished.Load())
	assert.Equal(t, SupervisorReconnecting, sup.State())
}

func TestSupervisor_RateLimit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int64
	sup := NewSupervisor(func() Runner {
		return runnerFunc(func(ctx context.Context) (Outcome, error) {
			calls.Add(1)
			return Outcome{Reason: ExitError}, errors.New("refused")
		})
	}, 1)

	done := runSupervisor(t, sup, ctx)
	time.Sleep(100 * time.Millisecond)
	cancel()

	require.NoError(t, waitDone(t, done))
	assert.Equal(t, int64(1), calls.Load(), "second session must wait for the limiter")
}

func TestSupervisor_ConnectedTracksSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := replay([]Message{data(`{"id":1,"text":"a"}`)}, nil)
	mem := newMemSink()
	sup := NewSupervisor(SessionFactory(SessionConfig{
		Dialer:         d,
		Sink:           mem,
		ReconnectAfter: 4,
		MaxTweets:      100,
	}), 0)

	assert.False(t, sup.Connected())
	done := runSupervisor(t, sup, ctx)

	require.Eventually(t, sup.Connected, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return len(mem.persisted()) == 1 }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, waitDone(t, done))
	assert.False(t, sup.Connected())
}

func TestSupervisor_ReconnectsWithFreshSessions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var dials atomic.Int64
	d := &fakeDialer{build: func(context.Context) *fakeStream {
		if dials.Add(1) == 3 {
			cancel()
		}
		return &fakeStream{msgs: []Message{data(`{"id":1,"text":"a"}`)}, end: io.EOF}
	}}
	mem := newMemSink()
	sup := NewSupervisor(SessionFactory(SessionConfig{Dialer: d, Sink: mem, ReconnectAfter: 4, MaxTweets: 100}), 0)

	require.NoError(t, waitDone(t, runSupervisor(t, sup, ctx)))
	assert.GreaterOrEqual(t, dials.Load(), int64(3))
	// the same record id is rewritten by every session
	assert.GreaterOrEqual(t, mem.calls, 2)
}
