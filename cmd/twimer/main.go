package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"twimer/internal/config"
	"twimer/internal/firehose"
	"twimer/internal/metrics"
	"twimer/internal/routing"
	"twimer/internal/sink"
	"twimer/internal/tracing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const defaultConfigPath = "twimer.yaml"

func main() {
	setupLogging(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"), os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		var cfgErr *config.Error
		if errors.As(err, &cfgErr) {
			log.Error().Err(err).Msg("Invalid configuration")
			os.Exit(2)
		}
		log.Error().Err(err).Msg("twimer exited")
		os.Exit(1)
	}
}

// setupLogging configures the global logger. Pretty console output unless
// format is "json".
func setupLogging(level, format string, out io.Writer) {
	switch strings.ToLower(level) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if format == "json" {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) > 0 && args[0] == "init" {
		path := defaultConfigPath
		if len(args) > 1 {
			path = args[1]
		}
		return writeStarterConfig(path, stdout)
	}

	cfg, err := config.Load(args)
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level, cfg.Log.Format, stdout)

	log.Info().
		Str("storage", string(cfg.Storage.Method)).
		Str("target", cfg.Storage.Target).
		Str("transport", cfg.Stream.Transport).
		Strs("track", cfg.Stream.Track).
		Strs("languages", cfg.Stream.Languages).
		Int("reconnect_after_minutes", cfg.Stream.ReconnectAfterMinutes).
		Msg("Starting twimer")

	if cfg.Stream.Transport == config.TransportTwitter {
		if missing := cfg.MissingCredentials(); len(missing) > 0 {
			log.Warn().Strs("missing", missing).Msg("Twitter credentials are incomplete; the stream will reject the connection")
		}
	}

	if tracing.Enabled() {
		tp, err := tracing.Init(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Tracing disabled")
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
			log.Info().Msg("Tracing enabled")
		}
	}

	out, err := sink.New(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer func() {
		if err := out.Close(); err != nil {
			log.Warn().Err(err).Str("sink", out.Name()).Msg("Failed to close sink")
		}
	}()
	log.Info().Str("sink", out.Name()).Msg("Sink ready")

	dialer, err := firehose.NewDialer(cfg)
	if err != nil {
		return err
	}

	supervisor := firehose.NewSupervisor(firehose.SessionFactory(firehose.SessionConfig{
		Dialer:         dialer,
		Sink:           out,
		Query:          firehose.QueryFromConfig(cfg),
		Policy:         firehose.PolicyFromConfig(cfg),
		ReconnectAfter: cfg.Stream.ReconnectAfterMinutes,
		MaxTweets:      cfg.MaxTweets,
	}), cfg.Stream.MaxReconnectsPerMinute)

	ln, err := metrics.Listen(cfg.Metrics.Addr)
	if err != nil {
		return &config.Error{Field: "metrics.addr", Msg: "listen", Err: err}
	}

	g, gctx := errgroup.WithContext(ctx)

	stats := metrics.StatsSource{FirehoseConnected: supervisor.Connected}
	if counter, ok := out.(sink.Counter); ok {
		stats.StoredCount = counter.Count
	}
	metrics.StartCollector(gctx, stats, 30*time.Second)

	g.Go(func() error {
		return metrics.StartServer(gctx, ln, routing.SetupRouter(routing.Config{
			Logger:    log.Logger,
			Health:    func(ctx context.Context) error { return sink.Check(ctx, out) },
			Connected: supervisor.Connected,
		}))
	})
	g.Go(func() error {
		return supervisor.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Int64("sessions", supervisor.Restarts()).Msg("twimer stopped")
	return nil
}

func writeStarterConfig(path string, stdout io.Writer) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}

	cfg := config.Default()
	cfg.Stream.Track = []string{"golang"}
	if err := config.Save(path, cfg); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	fmt.Fprintf(stdout, "Wrote starter config to %s\n", path)
	fmt.Fprintln(stdout, "Set CONSUMER_KEY, CONSUMER_SECRET, ACCESS_TOKEN and ACCESS_TOKEN_SECRET, then run: twimer --config", path)
	return nil
}
