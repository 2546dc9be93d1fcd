package firehose

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"twimer/internal/config"

	"github.com/dghubble/oauth1"
	"github.com/google/go-querystring/query"
	"github.com/rs/zerolog/log"
)

// filterParams is the form body of a statuses/filter request
type filterParams struct {
	Track         []string `url:"track,comma,omitempty"`
	Language      []string `url:"language,comma,omitempty"`
	StallWarnings bool     `url:"stall_warnings"`
}

// TwitterDialer opens the v1.1 filtered stream with OAuth 1.0a signed requests.
type TwitterDialer struct {
	Endpoint     string
	StallTimeout time.Duration

	client *http.Client
}

// NewTwitterDialer builds a dialer whose requests are signed with creds.
func NewTwitterDialer(endpoint string, creds config.Credentials, stallTimeout time.Duration) *TwitterDialer {
	cfg := oauth1.NewConfig(creds.ConsumerKey, creds.ConsumerSecret)
	token := oauth1.NewToken(creds.AccessToken, creds.AccessTokenSecret)
	return &TwitterDialer{
		Endpoint:     endpoint,
		StallTimeout: stallTimeout,
		client:       cfg.Client(context.Background(), token),
	}
}

func (d *TwitterDialer) Name() string { return config.TransportTwitter }

func (d *TwitterDialer) Dial(ctx context.Context, q Query) (Stream, error) {
	form, err := query.Values(filterParams{Track: q.Track, Language: q.Languages, StallWarnings: true})
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: fmt.Errorf("encode filter params: %w", err)}
	}

	stall := d.StallTimeout
	if stall <= 0 {
		stall = DefaultStallTimeout
	}

	streamCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodPost, d.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		cancel()
		return nil, &TransportError{Op: "dial", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	log.Info().Str("endpoint", d.Endpoint).Strs("track", q.Track).Strs("languages", q.Languages).
		Msg("firehose: connecting to filtered stream")

	// The watchdog covers the wait for response headers as well as the body.
	s := &twitterStream{cancel: cancel}
	s.watchdog = time.AfterFunc(stall, func() {
		s.stalled.Store(true)
		cancel()
	})

	resp, err := d.client.Do(req)
	if err != nil {
		s.watchdog.Stop()
		cancel()
		if s.stalled.Load() {
			return nil, &TransportError{Op: "dial", Err: ErrStall}
		}
		return nil, &TransportError{Op: "dial", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		s.watchdog.Stop()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		cancel()
		return nil, &TransportError{
			Op:         "dial",
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Err:        errors.New(strings.TrimSpace(string(body))),
		}
	}

	s.watchdog.Reset(stall)
	s.body = resp.Body
	s.scanner = bufio.NewScanner(&watchdogReader{r: resp.Body, timer: s.watchdog, timeout: stall})
	s.scanner.Buffer(make([]byte, 0, 64*1024), MaxRecordSize)
	return s, nil
}

// watchdogReader pushes the stall deadline back whenever bytes arrive.
type watchdogReader struct {
	r       io.Reader
	timer   *time.Timer
	timeout time.Duration
}

func (w *watchdogReader) Read(p []byte) (int, error) {
	n, err := w.r.Read(p)
	if n > 0 {
		w.timer.Reset(w.timeout)
	}
	return n, err
}

type twitterStream struct {
	body     io.ReadCloser
	scanner  *bufio.Scanner
	cancel   context.CancelFunc
	watchdog *time.Timer
	stalled  atomic.Bool

	closeOnce sync.Once
}

// Next returns the next newline-delimited record, skipping blank keep-alive
// lines. A final record without a trailing newline is still delivered.
func (s *twitterStream) Next() (Message, error) {
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		return Classify(append([]byte(nil), line...)), nil
	}
	return Message{}, s.readError(s.scanner.Err())
}

func (s *twitterStream) readError(err error) error {
	switch {
	case s.stalled.Load():
		return &TransportError{Op: "read", Err: ErrStall}
	case err == nil:
		return io.EOF
	case errors.Is(err, bufio.ErrTooLong):
		return &TransportError{Op: "read", Err: fmt.Errorf("record exceeds %d bytes: %w", MaxRecordSize, err)}
	}
	return &TransportError{Op: "read", Err: err}
}

func (s *twitterStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.watchdog.Stop()
		s.cancel()
		err = s.body.Close()
	})
	return err
}
