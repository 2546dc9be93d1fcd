package routing

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"twimer/internal/middleware"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Config holds the configuration needed for setting up routes
type Config struct {
	Logger zerolog.Logger

	// Health reports whether the process is healthy. Nil means always healthy.
	Health func(ctx context.Context) error

	// Connected reports whether a firehose session is currently streaming
	Connected func() bool
}

// SetupRouter creates the metrics server handler: /metrics and /health
// behind request logging and otel instrumentation.
func SetupRouter(cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", healthHandler(cfg))

	var handler http.Handler = mux
	handler = middleware.LoggingMiddleware(cfg.Logger)(handler)
	handler = otelhttp.NewHandler(handler, "metrics-server")

	return handler
}

const healthTimeout = 5 * time.Second

type healthResponse struct {
	Status    string `json:"status"`
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

func healthHandler(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		if cfg.Connected != nil {
			resp.Connected = cfg.Connected()
		}

		status := http.StatusOK
		if cfg.Health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			defer cancel()
			if err := cfg.Health(ctx); err != nil {
				resp.Status = "unhealthy"
				resp.Error = err.Error()
				status = http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
