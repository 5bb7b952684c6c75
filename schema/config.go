package schema

import (
	"errors"
	"time"
)

const (
	// DefaultQueueCapacity bounds the offline command queue.
	DefaultQueueCapacity = 50
	// DefaultMaxRetries is the per-command send attempt budget.
	DefaultMaxRetries = 3
	// DefaultAttemptDelay separates drain attempts.
	DefaultAttemptDelay = 100 * time.Millisecond
	// DefaultSettleDelay waits after reconnecting before draining.
	DefaultSettleDelay = 500 * time.Millisecond
	// DefaultFreshnessWindow is the maximum age of restorable view state.
	DefaultFreshnessWindow = 5 * time.Minute
	// DefaultViewStateDebounce collapses bursts of view state writes.
	DefaultViewStateDebounce = 300 * time.Millisecond
	// DefaultScrollDebounce collapses bursts of scroll position writes.
	DefaultScrollDebounce = 500 * time.Millisecond
	// DefaultReconnectPeriod is the automatic reconnect countdown.
	DefaultReconnectPeriod = 30 * time.Second
	// DefaultCoalesceWindow merges streamed output into the previous log entry.
	DefaultCoalesceWindow = 5 * time.Second
	// DefaultLogFetchTimeout bounds a log snapshot request.
	DefaultLogFetchTimeout = 10 * time.Second
	// DefaultPingInterval is the channel keepalive period.
	DefaultPingInterval = 25 * time.Second
)

// ClientConfig defines limits and timings for the sync layer.
type ClientConfig struct {
	PeerURL    string
	Token      string
	TOTPSecret string

	QueueCapacity int
	MaxRetries    int
	AttemptDelay  time.Duration
	SettleDelay   time.Duration

	FreshnessWindow   time.Duration
	ViewStateDebounce time.Duration
	ScrollDebounce    time.Duration

	ReconnectPeriod time.Duration
	CoalesceWindow  time.Duration
	LogFetchTimeout time.Duration
	PingInterval    time.Duration
}

// NormalizeClientConfig applies defaults and validates the config.
func NormalizeClientConfig(cfg ClientConfig) (ClientConfig, error) {
	if cfg.PeerURL == "" {
		return ClientConfig{}, errors.New("peer url is required")
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.AttemptDelay <= 0 {
		cfg.AttemptDelay = DefaultAttemptDelay
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.FreshnessWindow <= 0 {
		cfg.FreshnessWindow = DefaultFreshnessWindow
	}
	if cfg.ViewStateDebounce <= 0 {
		cfg.ViewStateDebounce = DefaultViewStateDebounce
	}
	if cfg.ScrollDebounce <= 0 {
		cfg.ScrollDebounce = DefaultScrollDebounce
	}
	if cfg.ReconnectPeriod <= 0 {
		cfg.ReconnectPeriod = DefaultReconnectPeriod
	}
	if cfg.CoalesceWindow <= 0 {
		cfg.CoalesceWindow = DefaultCoalesceWindow
	}
	if cfg.LogFetchTimeout <= 0 {
		cfg.LogFetchTimeout = DefaultLogFetchTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	return cfg, nil
}
