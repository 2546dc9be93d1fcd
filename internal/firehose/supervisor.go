package firehose

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"twimer/internal/metrics"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Runner is one connection attempt. *Session implements it.
type Runner interface {
	Run(ctx context.Context) (Outcome, error)
}

// SupervisorState is what the supervisor is doing right now
type SupervisorState int32

const (
	SupervisorReconnecting SupervisorState = iota
	SupervisorRunning
)

func (s SupervisorState) String() string {
	if s == SupervisorRunning {
		return "running"
	}
	return "reconnecting"
}

// exitMsg is the only thing a session task sends back to the supervisor.
type exitMsg struct {
	outcome Outcome
	err     error
	panic   any
	stack   []byte
}

// Supervisor keeps exactly one session running until its context ends.
// Every exit, whatever the cause, is followed by a fresh session.
type Supervisor struct {
	newRunner func() Runner
	limiter   *rate.Limiter

	state    atomic.Int32
	restarts atomic.Int64
	current  atomic.Value // holds runnerBox
}

type runnerBox struct{ r Runner }

// NewSupervisor builds a supervisor around a session factory.
// maxPerMinute caps how many sessions may start per minute; zero or less
// means unlimited.
func NewSupervisor(newRunner func() Runner, maxPerMinute float64) *Supervisor {
	limit := rate.Inf
	burst := 1
	if maxPerMinute > 0 {
		limit = rate.Limit(maxPerMinute / 60)
		if b := int(maxPerMinute); b > 1 {
			burst = b
		}
	}
	return &Supervisor{
		newRunner: newRunner,
		limiter:   rate.NewLimiter(limit, burst),
	}
}

// SessionFactory returns a factory that builds a new Session from cfg each time.
func SessionFactory(cfg SessionConfig) func() Runner {
	return func() Runner { return NewSession(cfg) }
}

func (s *Supervisor) State() SupervisorState { return SupervisorState(s.state.Load()) }

// Restarts is the number of sessions that have exited so far.
func (s *Supervisor) Restarts() int64 { return s.restarts.Load() }

// Connected reports whether the running session is streaming.
func (s *Supervisor) Connected() bool {
	box, _ := s.current.Load().(runnerBox)
	c, ok := box.r.(interface{ Connected() bool })
	return ok && c.Connected()
}

// Run starts sessions back to back and returns nil once ctx is cancelled.
// Session errors and panics never stop it.
func (s *Supervisor) Run(ctx context.Context) error {
	log.Info().Msg("firehose: supervisor started")
	for {
		s.state.Store(int32(SupervisorReconnecting))
		if ctx.Err() != nil {
			log.Info().Int64("sessions", s.restarts.Load()).Msg("firehose: supervisor stopped")
			return nil
		}
		if err := s.limiter.Wait(ctx); err != nil {
			// only fails on cancellation or an unreachable deadline
			<-ctx.Done()
			continue
		}

		done := make(chan exitMsg, 1)
		s.state.Store(int32(SupervisorRunning))
		go s.runTask(ctx, done)

		msg := <-done
		s.current.Store(runnerBox{})
		s.recordExit(msg)
	}
}

// runTask builds and runs one session, turning every ending into a message.
func (s *Supervisor) runTask(ctx context.Context, done chan<- exitMsg) {
	defer func() {
		if p := recover(); p != nil {
			done <- exitMsg{outcome: Outcome{Reason: ExitPanic}, panic: p, stack: debug.Stack()}
		}
	}()

	r := s.newRunner()
	s.current.Store(runnerBox{r: r})
	out, err := r.Run(ctx)
	done <- exitMsg{outcome: out, err: err}
}

func (s *Supervisor) recordExit(msg exitMsg) {
	n := s.restarts.Add(1)
	reason := msg.outcome.Reason
	if reason == "" {
		reason = ExitError
	}
	metrics.SessionExitsTotal.WithLabelValues(string(reason)).Inc()

	switch {
	case msg.panic != nil:
		log.Error().
			Str("panic", fmt.Sprint(msg.panic)).
			Bytes("stack", msg.stack).
			Int64("exits", n).
			Msg("firehose: session panicked, reconnecting")
	case msg.err != nil:
		log.Warn().Err(msg.err).
			Str("reason", string(reason)).
			Int64("exits", n).
			Msg("firehose: session failed, reconnecting")
	default:
		log.Info().
			Str("reason", string(reason)).
			Int("events", msg.outcome.Events).
			Int64("exits", n).
			Msg("firehose: session ended, reconnecting")
	}
}
