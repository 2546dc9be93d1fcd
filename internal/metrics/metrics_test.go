package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"/", "/"},
		{"", "/"},
		{"/metrics", "/metrics"},
		{"/metrics/", "/metrics"},
		{"/health", "/health"},
		{"/wp-admin/login.php", "other"},
		{"/metrics/extra", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizePath(tt.input))
		})
	}
}

func TestCollect(t *testing.T) {
	collect(context.Background(), StatsSource{
		StoredCount:       func(context.Context) (int, error) { return 17, nil },
		FirehoseConnected: func() bool { return true },
	})
	assert.Equal(t, float64(17), testutil.ToFloat64(StoredTweets))
	assert.Equal(t, float64(1), testutil.ToFloat64(FirehoseConnectionState))

	collect(context.Background(), StatsSource{
		StoredCount:       func(context.Context) (int, error) { return 0, errors.New("unavailable") },
		FirehoseConnected: func() bool { return false },
	})
	assert.Equal(t, float64(17), testutil.ToFloat64(StoredTweets), "errors leave the gauge alone")
	assert.Equal(t, float64(0), testutil.ToFloat64(FirehoseConnectionState))

	// nil sources are skipped
	collect(context.Background(), StatsSource{})
}

func TestStartServer(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- StartServer(ctx, ln, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusTeapot
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestListen(t *testing.T) {
	ln, err := Listen("")
	require.NoError(t, err)
	assert.Nil(t, ln)

	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	_, err = Listen(taken.Addr().String())
	assert.Error(t, err)
}

func TestStartServer_ServeFailureWaitsForCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- StartServer(ctx, ln, http.NotFoundHandler()) }()

	select {
	case err := <-done:
		t.Fatalf("returned before cancel: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not return after cancel")
	}
}

func TestStartServer_NilListenerBlocksUntilCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- StartServer(ctx, nil, nil) }()

	select {
	case <-done:
		t.Fatal("returned before cancel")
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	assert.NoError(t, <-done)
}

func TestPersistDuration_Observes(t *testing.T) {
	PersistDuration.WithLabelValues("test").Observe(0.002)
	PersistDuration.WithLabelValues("test").Observe(0.2)

	m := &dto.Metric{}
	require.NoError(t, PersistDuration.WithLabelValues("test").(interface{ Write(*dto.Metric) error }).Write(m))
	assert.Equal(t, uint64(2), m.GetHistogram().GetSampleCount())
	assert.InDelta(t, 0.202, m.GetHistogram().GetSampleSum(), 1e-9)
}
