// Package config loads and validates twimer configuration from flags, the
// environment and an optional YAML file using Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// StorageMethod selects the sink kind
type StorageMethod string

const (
	StoragePlain   StorageMethod = "plain"
	StorageTargz   StorageMethod = "targz"
	StorageMongoDB StorageMethod = "mongodb"
	StorageBolt    StorageMethod = "bolt"
	StorageSQLite  StorageMethod = "sqlite"
)

// StorageMethods lists every accepted storage method
var StorageMethods = []StorageMethod{StoragePlain, StorageTargz, StorageMongoDB, StorageBolt, StorageSQLite}

// Transports
const (
	TransportTwitter   = "twitter"
	TransportWebsocket = "websocket"
)

// DefaultTwitterEndpoint is the v1.1 filtered stream
const DefaultTwitterEndpoint = "https://stream.twitter.com/1.1/statuses/filter.json"

// EnvPrefix prefixes every environment override, e.g. TWIMER_STORAGE_METHOD
const EnvPrefix = "TWIMER"

// Config is the immutable process configuration.
type Config struct {
	Credentials Credentials   `mapstructure:"credentials" yaml:"credentials"`
	Storage     StorageConfig `mapstructure:"storage" yaml:"storage"`
	Stream      StreamConfig  `mapstructure:"stream" yaml:"stream"`

	// MaxTweets is a soft cap: exceeding it is logged, ingestion continues.
	MaxTweets       int  `mapstructure:"max_tweets" yaml:"max_tweets"`
	IncludeRetweets bool `mapstructure:"include_retweets" yaml:"include_retweets"`
	IncludeReplies  bool `mapstructure:"include_replies" yaml:"include_replies"`

	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

// Credentials are the four OAuth 1.0a secrets for the Twitter transport.
// Blank values fall back to CONSUMER_KEY, CONSUMER_SECRET, ACCESS_TOKEN and
// ACCESS_TOKEN_SECRET.
type Credentials struct {
	ConsumerKey       string `mapstructure:"consumer_key" yaml:"consumer_key"`
	ConsumerSecret    string `mapstructure:"consumer_secret" yaml:"consumer_secret"`
	AccessToken       string `mapstructure:"access_token" yaml:"access_token"`
	AccessTokenSecret string `mapstructure:"access_token_secret" yaml:"access_token_secret"`
}

// StorageConfig selects and addresses the sink.
type StorageConfig struct {
	Method StorageMethod `mapstructure:"method" yaml:"method"`

	// Target is a directory (plain, targz), a database file (bolt, sqlite)
	// or a connection URL (mongodb).
	Target string `mapstructure:"target" yaml:"target"`

	// Database and Collection address documents for mongodb. A database in
	// the URL path takes precedence over Database.
	Database   string `mapstructure:"database" yaml:"database"`
	Collection string `mapstructure:"collection" yaml:"collection"`
}

// StreamConfig configures the firehose subscription.
type StreamConfig struct {
	Transport string   `mapstructure:"transport" yaml:"transport"`
	Endpoint  string   `mapstructure:"endpoint" yaml:"endpoint"`
	Track     []string `mapstructure:"track" yaml:"track"`
	Languages []string `mapstructure:"languages" yaml:"languages"`

	// ReconnectAfterMinutes recycles a session once more than this many whole
	// minutes have elapsed.
	ReconnectAfterMinutes int `mapstructure:"reconnect_after_minutes" yaml:"reconnect_after_minutes"`

	// StallTimeout aborts a connection that delivers no bytes for this long.
	StallTimeout time.Duration `mapstructure:"stall_timeout" yaml:"stall_timeout"`

	// Compress asks a websocket endpoint for zstd frames
	Compress bool `mapstructure:"compress" yaml:"compress"`

	// MaxReconnectsPerMinute caps session restarts. Zero means unlimited.
	MaxReconnectsPerMinute float64 `mapstructure:"max_reconnects_per_minute" yaml:"max_reconnects_per_minute"`
}

type MetricsConfig struct {
	// Addr is the listen address for /metrics and /health; empty disables it.
	Addr string `mapstructure:"addr" yaml:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Error is a fatal configuration problem found at construction.
type Error struct {
	Field string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("config: ")
	if e.Field != "" {
		b.WriteString(e.Field)
		b.WriteString(": ")
	}
	b.WriteString(e.Msg)
	if e.Err != nil {
		if e.Msg != "" {
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			Method:     StoragePlain,
			Target:     "raw_tweets",
			Database:   "twimer",
			Collection: "tweets",
		},
		Stream: StreamConfig{
			Transport:             TransportTwitter,
			Endpoint:              DefaultTwitterEndpoint,
			Languages:             []string{"en"},
			ReconnectAfterMinutes: 4,
			StallTimeout:          90 * time.Second,
		},
		MaxTweets: 100,
		Log:       LogConfig{Level: "info", Format: "console"},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("credentials.consumer_key", "")
	v.SetDefault("credentials.consumer_secret", "")
	v.SetDefault("credentials.access_token", "")
	v.SetDefault("credentials.access_token_secret", "")
	v.SetDefault("storage.method", string(d.Storage.Method))
	v.SetDefault("storage.target", d.Storage.Target)
	v.SetDefault("storage.database", d.Storage.Database)
	v.SetDefault("storage.collection", d.Storage.Collection)
	v.SetDefault("stream.transport", d.Stream.Transport)
	v.SetDefault("stream.endpoint", "")
	v.SetDefault("stream.track", []string{})
	v.SetDefault("stream.languages", d.Stream.Languages)
	v.SetDefault("stream.reconnect_after_minutes", d.Stream.ReconnectAfterMinutes)
	v.SetDefault("stream.stall_timeout", d.Stream.StallTimeout)
	v.SetDefault("stream.compress", false)
	v.SetDefault("stream.max_reconnects_per_minute", 0.0)
	v.SetDefault("max_tweets", d.MaxTweets)
	v.SetDefault("include_retweets", false)
	v.SetDefault("include_replies", false)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// flagKeys maps command-line flags onto config keys
var flagKeys = map[string]string{
	"storage":          "storage.method",
	"target":           "storage.target",
	"max-tweets":       "max_tweets",
	"include-retweets": "include_retweets",
	"include-replies":  "include_replies",
	"track":            "stream.track",
	"languages":        "stream.languages",
	"reconnect-after":  "stream.reconnect_after_minutes",
	"transport":        "stream.transport",
	"endpoint":         "stream.endpoint",
	"metrics-addr":     "metrics.addr",
	"log-level":        "log.level",
	"log-format":       "log.format",
}

// NewFlagSet declares the command-line surface.
func NewFlagSet() *pflag.FlagSet {
	d := Default()
	fs := pflag.NewFlagSet("twimer", pflag.ContinueOnError)
	fs.String("config", "", "path to a YAML config file")
	fs.String("storage", string(d.Storage.Method), "storage method: plain, targz, mongodb, bolt or sqlite")
	fs.String("target", d.Storage.Target, "directory, database file, or mongodb:// URL")
	fs.Int("max-tweets", d.MaxTweets, "soft cap on persisted tweets per session (informational)")
	fs.Bool("include-retweets", false, "persist retweets")
	fs.Bool("include-replies", false, "persist replies")
	fs.StringSlice("track", nil, "track terms (comma separated)")
	fs.StringSlice("languages", d.Stream.Languages, "languages (comma separated)")
	fs.Int("reconnect-after", d.Stream.ReconnectAfterMinutes, "recycle the connection after this many minutes")
	fs.String("transport", d.Stream.Transport, "firehose transport: twitter or websocket")
	fs.String("endpoint", "", "firehose endpoint URL")
	fs.String("metrics-addr", "", "listen address for /metrics and /health")
	fs.String("log-level", d.Log.Level, "debug, info, warn or error")
	fs.String("log-format", d.Log.Format, "console or json")
	return fs
}

// Load parses args, layers flags over the environment over the config file
// over defaults, and validates the result.
func Load(args []string) (*Config, error) {
	fs := NewFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, &Error{Field: "flags", Err: err}
	}

	v := viper.New()
	setDefaults(v)

	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, &Error{Field: key, Msg: "bind flag", Err: err}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("credentials.consumer_key", EnvPrefix+"_CONSUMER_KEY", "CONSUMER_KEY")
	_ = v.BindEnv("credentials.consumer_secret", EnvPrefix+"_CONSUMER_SECRET", "CONSUMER_SECRET")
	_ = v.BindEnv("credentials.access_token", EnvPrefix+"_ACCESS_TOKEN", "ACCESS_TOKEN")
	_ = v.BindEnv("credentials.access_token_secret", EnvPrefix+"_ACCESS_TOKEN_SECRET", "ACCESS_TOKEN_SECRET")
	_ = v.BindEnv("log.level", EnvPrefix+"_LOG_LEVEL", "LOG_LEVEL")
	_ = v.BindEnv("log.format", EnvPrefix+"_LOG_FORMAT", "LOG_FORMAT")

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, &Error{Field: "config", Msg: "read " + path, Err: err}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &Error{Msg: "decode", Err: err}
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Storage.Method = StorageMethod(strings.ToLower(strings.TrimSpace(string(c.Storage.Method))))
	c.Stream.Transport = strings.ToLower(strings.TrimSpace(c.Stream.Transport))
	c.Stream.Track = trimAll(c.Stream.Track)
	c.Stream.Languages = trimAll(c.Stream.Languages)
	if c.Stream.Endpoint == "" && c.Stream.Transport == TransportTwitter {
		c.Stream.Endpoint = DefaultTwitterEndpoint
	}
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks that the storage method and target agree and that the
// stream settings are usable. Storage is checked first.
func (c *Config) Validate() error {
	if err := c.Storage.Validate(); err != nil {
		return err
	}

	switch c.Stream.Transport {
	case TransportTwitter:
		if len(c.Stream.Track) == 0 {
			return &Error{Field: "stream.track", Msg: "at least one track term is required for the twitter transport"}
		}
	case TransportWebsocket:
		if c.Stream.Endpoint == "" {
			return &Error{Field: "stream.endpoint", Msg: "an endpoint URL is required for the websocket transport"}
		}
	default:
		return &Error{Field: "stream.transport", Msg: fmt.Sprintf("%q is not a valid transport (twitter, websocket)", c.Stream.Transport)}
	}

	if c.Stream.Endpoint != "" {
		if _, err := url.Parse(c.Stream.Endpoint); err != nil {
			return &Error{Field: "stream.endpoint", Msg: "invalid URL", Err: err}
		}
	}
	if c.Stream.ReconnectAfterMinutes < 0 {
		return &Error{Field: "stream.reconnect_after_minutes", Msg: "must not be negative"}
	}
	if c.Stream.StallTimeout <= 0 {
		return &Error{Field: "stream.stall_timeout", Msg: "must be positive"}
	}
	if c.Stream.MaxReconnectsPerMinute < 0 {
		return &Error{Field: "stream.max_reconnects_per_minute", Msg: "must not be negative"}
	}
	if c.MaxTweets < 0 {
		return &Error{Field: "max_tweets", Msg: "must not be negative"}
	}
	return nil
}

// Validate checks that Method and Target are mutually consistent.
func (s StorageConfig) Validate() error {
	switch s.Method {
	case StoragePlain, StorageTargz, StorageBolt, StorageSQLite:
		if s.Target == "" {
			return &Error{Field: "storage.target", Msg: fmt.Sprintf("a path is required for the %s storage method", s.Method)}
		}
		if strings.Contains(s.Target, "://") {
			return &Error{Field: "storage.target", Msg: fmt.Sprintf("the %s storage method expects a filesystem path, got a URL", s.Method)}
		}
	case StorageMongoDB:
		if s.Target == "" {
			return &Error{Field: "storage.target", Msg: "a mongodb:// URL is required for the mongodb storage method"}
		}
		u, err := url.Parse(s.Target)
		if err != nil {
			return &Error{Field: "storage.target", Msg: "invalid mongodb URL", Err: err}
		}
		if u.Scheme != "mongodb" && u.Scheme != "mongodb+srv" {
			return &Error{Field: "storage.target", Msg: fmt.Sprintf("expected a mongodb:// or mongodb+srv:// URL, got scheme %q", u.Scheme)}
		}
		if s.Collection == "" {
			return &Error{Field: "storage.collection", Msg: "a collection is required for the mongodb storage method"}
		}
	default:
		return &Error{
			Field: "storage.method",
			Msg:   fmt.Sprintf("%q is not a valid storage method. The current options are: plain, targz, mongodb, bolt, and sqlite", s.Method),
		}
	}
	return nil
}

// MissingCredentials names the credentials that are still blank after the
// environment fallback.
func (c *Config) MissingCredentials() []string {
	var missing []string
	if c.Credentials.ConsumerKey == "" {
		missing = append(missing, "CONSUMER_KEY")
	}
	if c.Credentials.ConsumerSecret == "" {
		missing = append(missing, "CONSUMER_SECRET")
	}
	if c.Credentials.AccessToken == "" {
		missing = append(missing, "ACCESS_TOKEN")
	}
	if c.Credentials.AccessTokenSecret == "" {
		missing = append(missing, "ACCESS_TOKEN_SECRET")
	}
	return missing
}

// Save writes cfg as YAML to path, creating directories as needed.
func Save(path string, cfg Config) error {
	if path == "" {
		return errors.New("empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
