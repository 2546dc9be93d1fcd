package metrics

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// StatsSource provides functions to retrieve current values for gauge metrics.
// A nil function is skipped.
type StatsSource struct {
	StoredCount       func(ctx context.Context) (int, error)
	FirehoseConnected func() bool
}

// StartCollector launches a goroutine that periodically updates gauge metrics.
// It runs every interval until the context is cancelled.
func StartCollector(ctx context.Context, src StatsSource, interval time.Duration) {
	collect(ctx, src)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				collect(ctx, src)
			}
		}
	}()

	log.Info().Dur("interval", interval).Msg("Metrics collector started")
}

func collect(ctx context.Context, src StatsSource) {
	if src.StoredCount != nil {
		n, err := src.StoredCount(ctx)
		if err != nil {
			log.Debug().Err(err).Msg("Stored tweet count unavailable")
		} else {
			StoredTweets.Set(float64(n))
		}
	}
	if src.FirehoseConnected != nil {
		if src.FirehoseConnected() {
			FirehoseConnectionState.Set(1)
		} else {
			FirehoseConnectionState.Set(0)
		}
	}
}
