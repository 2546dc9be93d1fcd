// Package firehose consumes a filtered real-time post stream and hands kept
// records to a sink. A Supervisor runs one Session at a time and replaces it
// whenever it ends.
package firehose

import (
	"fmt"
	"time"

	"twimer/internal/config"
	"twimer/internal/filter"
)

// Defaults
const (
	DefaultStallTimeout   = 90 * time.Second
	DefaultReadTimeout    = 60 * time.Second
	DefaultReconnectAfter = 4

	// MaxRecordSize caps a single record read from any transport
	MaxRecordSize = 1 << 20
)

// NewDialer builds the transport selected by cfg.Stream.Transport.
func NewDialer(cfg *config.Config) (Dialer, error) {
	switch cfg.Stream.Transport {
	case config.TransportTwitter, "":
		endpoint := cfg.Stream.Endpoint
		if endpoint == "" {
			endpoint = config.DefaultTwitterEndpoint
		}
		stall := cfg.Stream.StallTimeout
		if stall <= 0 {
			stall = DefaultStallTimeout
		}
		return NewTwitterDialer(endpoint, cfg.Credentials, stall), nil
	case config.TransportWebsocket:
		return &WebsocketDialer{
			Endpoint:    cfg.Stream.Endpoint,
			Compress:    cfg.Stream.Compress,
			ReadTimeout: DefaultReadTimeout,
		}, nil
	}
	return nil, &config.Error{Field: "stream.transport", Msg: fmt.Sprintf("unknown transport %q", cfg.Stream.Transport)}
}

// QueryFromConfig returns the subscription filter lists.
func QueryFromConfig(cfg *config.Config) Query {
	return Query{Track: cfg.Stream.Track, Languages: cfg.Stream.Languages}
}

// PolicyFromConfig returns the keep/drop policy.
func PolicyFromConfig(cfg *config.Config) filter.Policy {
	return filter.Policy{IncludeRetweets: cfg.IncludeRetweets, IncludeReplies: cfg.IncludeReplies}
}
