package firehose

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"twimer/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCreds = config.Credentials{
	ConsumerKey:       "ck",
	ConsumerSecret:    "cs",
	AccessToken:       "at",
	AccessTokenSecret: "ats",
}

func TestTwitterDialer_Stream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		auth := r.Header.Get("Authorization")
		assert.Contains(t, auth, "OAuth ")
		assert.Contains(t, auth, `oauth_consumer_key="ck"`)
		assert.Contains(t, auth, `oauth_token="at"`)
		assert.Contains(t, auth, "oauth_signature=")

		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "go,rust", r.PostForm.Get("track"))
		assert.Equal(t, "en,de", r.PostForm.Get("language"))
		assert.Equal(t, "true", r.PostForm.Get("stall_warnings"))

		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "\r\n")
		io.WriteString(w, `{"id":1,"text":"first"}`+"\r\n")
		io.WriteString(w, "\r\n\r\n")
		io.WriteString(w, `{"limit":{"track":3}}`+"\r\n")
		io.WriteString(w, `{"id":2,"text":"second"}`)
	}))
	defer srv.Close()

	d := NewTwitterDialer(srv.URL, testCreds, time.Second)
	stream, err := d.Dial(context.Background(), Query{Track: []string{"go", "rust"}, Languages: []string{"en", "de"}})
	require.NoError(t, err)
	defer stream.Close()

	msg, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, KindData, msg.Kind)
	assert.Equal(t, `{"id":1,"text":"first"}`, string(msg.Data))

	msg, err = stream.Next()
	require.NoError(t, err)
	assert.Equal(t, KindLimit, msg.Kind)

	msg, err = stream.Next()
	require.NoError(t, err, "a final record without a trailing newline is still delivered")
	assert.Equal(t, `{"id":2,"text":"second"}`, string(msg.Data))

	_, err = stream.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestTwitterDialer_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewTwitterDialer(srv.URL, testCreds, time.Second).Dial(context.Background(), Query{Track: []string{"go"}})

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "dial", te.Op)
	assert.Equal(t, http.StatusUnauthorized, te.StatusCode)
	assert.Equal(t, "401 Unauthorized", te.Status)
	assert.Contains(t, te.Error(), "Unauthorized")
}

func TestTwitterDialer_StallWatchdog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, `{"id":1,"text":"only"}`+"\r\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	stream, err := NewTwitterDialer(srv.URL, testCreds, 100*time.Millisecond).
		Dial(context.Background(), Query{Track: []string{"go"}})
	require.NoError(t, err)
	defer stream.Close()

	_, err = stream.Next()
	require.NoError(t, err)

	start := time.Now()
	_, err = stream.Next()
	assert.ErrorIs(t, err, ErrStall)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestTwitterDialer_KeepAlivesResetWatchdog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		for i := 0; i < 5; i++ {
			io.WriteString(w, "\r\n")
			w.(http.Flusher).Flush()
			time.Sleep(50 * time.Millisecond)
		}
		io.WriteString(w, `{"id":1,"text":"late"}`+"\r\n")
	}))
	defer srv.Close()

	stream, err := NewTwitterDialer(srv.URL, testCreds, 150*time.Millisecond).
		Dial(context.Background(), Query{Track: []string{"go"}})
	require.NoError(t, err)
	defer stream.Close()

	msg, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"id":1,"text":"late"}`, string(msg.Data))
}

func TestTwitterDialer_CancelUnblocksNext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := NewTwitterDialer(srv.URL, testCreds, time.Minute).Dial(ctx, Query{Track: []string{"go"}})
	require.NoError(t, err)
	defer stream.Close()

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err = stream.Next()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrStall)
	assert.NotErrorIs(t, err, io.EOF)
}

func TestTwitterDialer_SilentServerStallsDial(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	start := time.Now()
	_, err := NewTwitterDialer(srv.URL, testCreds, 100*time.Millisecond).
		Dial(context.Background(), Query{Track: []string{"go"}})

	var te *TransportError
	require.True(t, errors.As(err, &te), "got %v", err)
	assert.Equal(t, "dial", te.Op)
	assert.ErrorIs(t, err, ErrStall)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestTwitterDialer_OversizeRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, `{"id":1,"text":"small"}`+"\r\n")
		io.WriteString(w, strings.Repeat("x", MaxRecordSize+10))
	}))
	defer srv.Close()

	stream, err := NewTwitterDialer(srv.URL, testCreds, time.Second).
		Dial(context.Background(), Query{Track: []string{"go"}})
	require.NoError(t, err)
	defer stream.Close()

	msg, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"id":1,"text":"small"}`, string(msg.Data))

	_, err = stream.Next()
	var te *TransportError
	require.True(t, errors.As(err, &te), "got %v", err)
	assert.Equal(t, "read", te.Op)
	assert.ErrorIs(t, err, bufio.ErrTooLong)
}
