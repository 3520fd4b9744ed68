package core

import (
	"time"
)

// Configuration constants
const (
	// DefaultPollIntervalMs is how often the poll loop ticks.
	DefaultPollIntervalMs = 1000
	// DefaultBatchSize is the provider's maximum number of plays per scrobble request.
	DefaultBatchSize = 50
	// DefaultFlushIdleMins is the idle window after which queued plays are flushed even without a track change.
	DefaultFlushIdleMins = 15
	// DefaultFlushRetrySecs limits how often a failing time-triggered flush is retried.
	DefaultFlushRetrySecs = 60
	// DefaultRequestTimeoutSecs bounds every remote call made from the notification path.
	DefaultRequestTimeoutSecs = 10
	// DefaultAuthMaxAttempts is the number of session-exchange attempts after interactive authorization starts.
	DefaultAuthMaxAttempts = 15
	// DefaultAuthBaseDelayMs is the first backoff delay of the session-exchange retry loop.
	DefaultAuthBaseDelayMs = 5000
	// DefaultAuthMaxDelayMs caps the session-exchange backoff delay.
	DefaultAuthMaxDelayMs = 30000
	// DefaultLedgerSize is how many submitted plays are remembered for duplicate suppression.
	DefaultLedgerSize = 10000
	// DefaultLedgerFalsePositiveRate is the bloom filter false positive rate of the play ledger.
	DefaultLedgerFalsePositiveRate = 0.001
	// PlayStartTolerance absorbs clock and polling jitter when matching playthrough start times.
	PlayStartTolerance = 3 * time.Second
	// DefaultSpotifyPollIntervalSecs is how often the Spotify Web API is asked for the current item.
	DefaultSpotifyPollIntervalSecs = 5
	// DefaultLibrespotPort is the go-librespot API port.
	DefaultLibrespotPort = 3678
	// DefaultLastFMRequestsPerSecond keeps the client under the provider's published rate limit.
	DefaultLastFMRequestsPerSecond = 5.0

	// SourceSpotify selects the Spotify Web API playback source.
	SourceSpotify = "spotify"
	// SourceLibrespot selects the go-librespot playback source.
	SourceLibrespot = "librespot"
)

type Config struct {
	LastFM    LastFMConfig
	Source    SourceConfig
	Spotify   SpotifyConfig
	Librespot LibrespotConfig
	Store     StoreConfig
	Server    ServerConfig
	Log       LogConfig
	App       AppConfig
}

type LastFMConfig struct {
	APIKey            string
	SharedSecret      string
	BaseURL           string
	AuthURL           string
	RequestsPerSecond float64
	RequestTimeout    time.Duration
}

type SourceConfig struct {
	Kind string
}

type SpotifyConfig struct {
	ClientID         string
	ClientSecret     string
	RedirectURL      string
	TokenPath        string
	PollIntervalSecs int
}

type LibrespotConfig struct {
	Host string
	Port int
}

type StoreConfig struct {
	Path                    string
	LedgerSize              int
	LedgerFalsePositiveRate float64
}

type ServerConfig struct {
	Enabled      bool
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type AppConfig struct {
	PollIntervalMs        int
	StrictMusicValidation bool
	BatchSize             int
	FlushIdleMins         int
	FlushRetrySecs        int
	RequestTimeoutSecs    int
	AuthMaxAttempts       int
	AuthBaseDelayMs       int
	AuthMaxDelayMs        int
}

// PollInterval returns the poll loop period, falling back to the default for non-positive values.
func (a AppConfig) PollInterval() time.Duration {
	if a.PollIntervalMs <= 0 {
		return DefaultPollIntervalMs * time.Millisecond
	}
	return time.Duration(a.PollIntervalMs) * time.Millisecond
}

// FlushIdle returns the idle window of the time-based flush trigger.
func (a AppConfig) FlushIdle() time.Duration {
	if a.FlushIdleMins <= 0 {
		return DefaultFlushIdleMins * time.Minute
	}
	return time.Duration(a.FlushIdleMins) * time.Minute
}

// FlushRetry returns the minimum gap between two time-triggered flush attempts.
func (a AppConfig) FlushRetry() time.Duration {
	if a.FlushRetrySecs <= 0 {
		return DefaultFlushRetrySecs * time.Second
	}
	return time.Duration(a.FlushRetrySecs) * time.Second
}

// RequestTimeout returns the per-call timeout for remote calls.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSecs <= 0 {
		return DefaultRequestTimeoutSecs * time.Second
	}
	return time.Duration(a.RequestTimeoutSecs) * time.Second
}

func DefaultConfig() *Config {
	return &Config{
		LastFM: LastFMConfig{
			BaseURL:           "https://ws.audioscrobbler.com/2.0/",
			AuthURL:           "https://www.last.fm/api/auth/",
			RequestsPerSecond: DefaultLastFMRequestsPerSecond,
			RequestTimeout:    DefaultRequestTimeoutSecs * time.Second,
		},
		Source: SourceConfig{
			Kind: SourceSpotify,
		},
		Spotify: SpotifyConfig{
			RedirectURL:      "http://127.0.0.1:8080/callback",
			TokenPath:        "./spotify_token.json",
			PollIntervalSecs: DefaultSpotifyPollIntervalSecs,
		},
		Librespot: LibrespotConfig{
			Host: "localhost",
			Port: DefaultLibrespotPort,
		},
		Store: StoreConfig{
			Path:                    "./scrobbler.db",
			LedgerSize:              DefaultLedgerSize,
			LedgerFalsePositiveRate: DefaultLedgerFalsePositiveRate,
		},
		Server: ServerConfig{
			Enabled:      true,
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		App: AppConfig{
			PollIntervalMs:        DefaultPollIntervalMs,
			StrictMusicValidation: true,
			BatchSize:             DefaultBatchSize,
			FlushIdleMins:         DefaultFlushIdleMins,
			FlushRetrySecs:        DefaultFlushRetrySecs,
			RequestTimeoutSecs:    DefaultRequestTimeoutSecs,
			AuthMaxAttempts:       DefaultAuthMaxAttempts,
			AuthBaseDelayMs:       DefaultAuthBaseDelayMs,
			AuthMaxDelayMs:        DefaultAuthMaxDelayMs,
		},
	}
}
