package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Listen binds addr for the metrics server. An empty addr returns a nil
// listener, which disables the server.
func Listen(addr string) (net.Listener, error) {
	if addr == "" {
		return nil, nil
	}
	return net.Listen("tcp", addr)
}

// StartServer serves handler on ln until ctx is cancelled, then shuts the
// server down gracefully. A nil ln blocks until ctx is cancelled.
//
// Serve failures after startup are logged; the call still returns only on
// cancellation.
func StartServer(ctx context.Context, ln net.Listener, handler http.Handler) error {
	if ln == nil {
		<-ctx.Done()
		return nil
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", ln.Addr().String()).Msg("Metrics server listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server stopped")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
