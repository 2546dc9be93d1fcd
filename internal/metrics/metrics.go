package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics (metrics server only)
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "twimer_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "twimer_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "path"})
)

// Firehose metrics
var (
	FirehoseMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "twimer_firehose_messages_total",
		Help: "Total number of firehose messages received, by kind",
	}, []string{"kind"})

	FirehoseConnectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "twimer_firehose_connection_state",
		Help: "Firehose connection state (1=connected, 0=disconnected)",
	})

	FirehoseErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "twimer_firehose_errors_total",
		Help: "Total number of transport errors that ended a session",
	})

	DecodeErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "twimer_decode_errors_total",
		Help: "Total number of data records that could not be decoded",
	})
)

// Session metrics
var (
	SessionsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "twimer_sessions_started_total",
		Help: "Total number of connection sessions started",
	})

	SessionExitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "twimer_session_exits_total",
		Help: "Total number of session exits, by reason",
	}, []string{"reason"})

	SessionEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "twimer_session_events",
		Help: "Kept records handled by the current session",
	})

	SoftCapExceeded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "twimer_soft_cap_exceeded",
		Help: "1 when the current session has passed max_tweets, else 0",
	})
)

// Tweet metrics
var (
	TweetsFilteredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "twimer_tweets_filtered_total",
		Help: "Total number of tweets dropped by the filter, by reason",
	}, []string{"reason"})

	TweetsPersistedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "twimer_tweets_persisted_total",
		Help: "Total number of tweets written to the sink",
	}, []string{"sink"})

	PersistErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "twimer_persist_errors_total",
		Help: "Total number of failed sink writes, by kind",
	}, []string{"sink", "kind"})

	PersistDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "twimer_persist_duration_seconds",
		Help:    "Sink write duration in seconds",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"sink"})

	StoredTweets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "twimer_stored_tweets",
		Help: "Number of tweets held by the sink, when it can report one",
	})
)

// NormalizePath keeps the path label space bounded. The metrics server only
// serves a handful of routes; everything else collapses into "other".
func NormalizePath(path string) string {
	switch strings.TrimSuffix(path, "/") {
	case "":
		return "/"
	case "/metrics":
		return "/metrics"
	case "/health":
		return "/health"
	}
	return "other"
}
