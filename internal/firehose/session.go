package firehose

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"twimer/internal/filter"
	"twimer/internal/metrics"
	"twimer/internal/models"
	"twimer/internal/sink"
	"twimer/internal/tracing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// State is the lifecycle position of a Session
type State int32

const (
	StateIdle State = iota
	StateConnected
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnected:
		return "connected"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// ExitReason says why a session drained
type ExitReason string

const (
	ExitTimeout     ExitReason = "timeout"
	ExitError       ExitReason = "error"
	ExitEndOfStream ExitReason = "end-of-stream"
	ExitCancelled   ExitReason = "cancelled"
	ExitPanic       ExitReason = "panic"
)

// Outcome summarises a finished session.
type Outcome struct {
	Reason ExitReason

	// Events counts persist attempts on kept records
	Events int

	// Received counts every message read from the stream
	Received int

	Duration time.Duration
}

// ErrSessionUsed is returned when Run is called on a session that already ran.
var ErrSessionUsed = errors.New("session already ran")

// SessionConfig is everything a session needs. Only Dialer and Sink outlive it.
type SessionConfig struct {
	Dialer Dialer
	Sink   sink.Sink
	Query  Query
	Policy filter.Policy

	// ReconnectAfter drains the session once more than this many whole
	// minutes have elapsed since it connected.
	ReconnectAfter int

	// MaxTweets is informational: passing it is logged once.
	MaxTweets int

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Session is one connection attempt. It is single-use: a new Session is
// built for every reconnect.
type Session struct {
	id  string
	cfg SessionConfig
	now func() time.Time
	log zerolog.Logger

	state atomic.Int32
	ran   atomic.Bool

	// owned by the Run goroutine; reported through Outcome
	start      time.Time
	eventCount int
	received   int
	capLogged  bool
}

func NewSession(cfg SessionConfig) *Session {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	id := uuid.NewString()
	return &Session{
		id:  id,
		cfg: cfg,
		now: now,
		log: log.With().
			Str("session", id).
			Str("transport", cfg.Dialer.Name()).
			Str("sink", cfg.Sink.Name()).
			Logger(),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return State(s.state.Load()) }

// Connected reports whether the session is streaming.
func (s *Session) Connected() bool { return s.State() == StateConnected }

// Run dials, consumes until the session drains, and closes. The error is
// non-nil only for ExitError and is then a *TransportError.
func (s *Session) Run(ctx context.Context) (Outcome, error) {
	if !s.ran.CompareAndSwap(false, true) {
		return Outcome{}, ErrSessionUsed
	}
	// runs last, after the stream is closed
	defer s.state.Store(int32(StateClosed))

	ctx, span := tracing.SessionSpan(ctx, s.id, s.cfg.Dialer.Name())
	defer span.End()

	metrics.SessionsStartedTotal.Inc()
	metrics.SessionEvents.Set(0)
	metrics.SoftCapExceeded.Set(0)

	begin := s.now()
	stream, err := s.cfg.Dialer.Dial(ctx, s.cfg.Query)
	if err != nil {
		if ctx.Err() != nil {
			return s.drain(ExitCancelled, nil, begin), nil
		}
		err = asTransportError("dial", err)
		tracing.EndWithError(span, err)
		return s.drain(ExitError, err, begin), err
	}
	defer stream.Close()

	s.start = s.now()
	s.state.Store(int32(StateConnected))
	metrics.FirehoseConnectionState.Set(1)
	defer metrics.FirehoseConnectionState.Set(0)
	s.log.Info().Msg("firehose: connected")

	for {
		msg, err := stream.Next()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return s.drain(ExitCancelled, nil, begin), nil
			case errors.Is(err, io.EOF):
				return s.drain(ExitEndOfStream, nil, begin), nil
			default:
				err = asTransportError("read", err)
				tracing.EndWithError(span, err)
				return s.drain(ExitError, err, begin), err
			}
		}

		s.received++
		metrics.FirehoseMessagesTotal.WithLabelValues(msg.Kind.String()).Inc()

		switch msg.Kind {
		case KindData:
			if s.handleData(ctx, msg.Data) {
				return s.drain(ExitTimeout, nil, begin), nil
			}
		case KindLimit:
			s.log.Warn().Str("status", msg.Status).Msg("firehose: limit notice")
		case KindStatus:
			s.log.Info().Str("status", msg.Status).Msg("firehose: status notice")
		case KindError:
			err := &TransportError{Op: "disconnect", Status: msg.Status}
			tracing.EndWithError(span, err)
			return s.drain(ExitError, err, begin), err
		}
	}
}

// handleData processes one data record and reports whether the session has
// outlived its reconnect interval. The record that trips the interval check
// is not persisted.
func (s *Session) handleData(ctx context.Context, raw []byte) (expired bool) {
	tweet, err := models.DecodeTweet(raw)
	if err != nil {
		metrics.DecodeErrorsTotal.Inc()
		s.log.Warn().Err(err).Msg("firehose: skipping undecodable record")
		return false
	}

	if int(s.now().Sub(s.start)/time.Minute) > s.cfg.ReconnectAfter {
		return true
	}

	if reason := filter.Evaluate(tweet, s.cfg.Policy); reason != filter.ReasonKeep {
		metrics.TweetsFilteredTotal.WithLabelValues(string(reason)).Inc()
		s.log.Debug().Str("id", tweet.ID).Str("reason", string(reason)).Msg("firehose: dropped")
		return false
	}

	s.persist(ctx, tweet.ID, raw)

	s.eventCount++
	metrics.SessionEvents.Set(float64(s.eventCount))
	if s.eventCount > s.cfg.MaxTweets && !s.capLogged {
		s.capLogged = true
		metrics.SoftCapExceeded.Set(1)
		s.log.Warn().Int("max_tweets", s.cfg.MaxTweets).Msg("firehose: max_tweets exceeded, continuing")
	}
	return false
}

func (s *Session) persist(ctx context.Context, id string, raw []byte) {
	name := s.cfg.Sink.Name()
	ctx, span := tracing.PersistSpan(ctx, name, id)
	defer span.End()

	start := time.Now()
	err := s.cfg.Sink.Persist(ctx, id, raw)
	metrics.PersistDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if err != nil {
		tracing.EndWithError(span, err)
		kind := "unknown"
		var sinkErr *sink.Error
		if errors.As(err, &sinkErr) {
			kind = string(sinkErr.Kind)
		}
		metrics.PersistErrorsTotal.WithLabelValues(name, kind).Inc()
		s.log.Error().Err(err).Str("id", id).Msg("firehose: persist failed, record dropped")
		return
	}

	metrics.TweetsPersistedTotal.WithLabelValues(name).Inc()
	s.log.Debug().Str("id", id).Msg("firehose: persisted")
}

func (s *Session) drain(reason ExitReason, err error, begin time.Time) Outcome {
	s.state.Store(int32(StateDraining))
	if errors.As(err, new(*TransportError)) {
		metrics.FirehoseErrorsTotal.Inc()
	}

	out := Outcome{
		Reason:   reason,
		Events:   s.eventCount,
		Received: s.received,
		Duration: s.now().Sub(begin),
	}

	ev := s.log.Info()
	if err != nil {
		ev = s.log.Warn().Err(err)
	}
	ev.Str("reason", string(reason)).
		Int("events", out.Events).
		Int("received", out.Received).
		Dur("duration", out.Duration).
		Msg("firehose: session draining")

	return out
}

func asTransportError(op string, err error) error {
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}
