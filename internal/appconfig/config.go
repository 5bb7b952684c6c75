package appconfig

import (
	"os"
	"path/filepath"
	"time"

	"pkt.systems/tether/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int                `mapstructure:"config_version" yaml:"config_version"`
	Peer          PeerConfig         `mapstructure:"peer" yaml:"peer"`
	State         StateConfig        `mapstructure:"state" yaml:"state"`
	Queue         QueueConfig        `mapstructure:"queue" yaml:"queue"`
	ViewState     ViewStateConfig    `mapstructure:"view_state" yaml:"view_state"`
	Reconnect     ReconnectConfig    `mapstructure:"reconnect" yaml:"reconnect"`
	Mirror        MirrorConfig       `mapstructure:"mirror" yaml:"mirror"`
	Connectivity  ConnectivityConfig `mapstructure:"connectivity" yaml:"connectivity"`
	Channel       ChannelConfig      `mapstructure:"channel" yaml:"channel"`
	MockPeer      MockPeerConfig     `mapstructure:"mock_peer" yaml:"mock_peer"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// PeerConfig locates and authenticates against the desktop peer.
type PeerConfig struct {
	URL        string `mapstructure:"url" yaml:"url"`
	Token      string `mapstructure:"token" yaml:"token"`
	TOTPSecret string `mapstructure:"totp_secret" yaml:"totp_secret"`
}

// StateConfig selects the durable store for queue and view state.
type StateConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
	Dir     string `mapstructure:"dir" yaml:"dir"`
}

// QueueConfig bounds the offline command queue.
type QueueConfig struct {
	Capacity       int `mapstructure:"capacity" yaml:"capacity"`
	MaxRetries     int `mapstructure:"max_retries" yaml:"max_retries"`
	AttemptDelayMS int `mapstructure:"attempt_delay_ms" yaml:"attempt_delay_ms"`
	SettleDelayMS  int `mapstructure:"settle_delay_ms" yaml:"settle_delay_ms"`
}

// ViewStateConfig controls view state persistence.
type ViewStateConfig struct {
	FreshnessSeconds int `mapstructure:"freshness_seconds" yaml:"freshness_seconds"`
	DebounceMS       int `mapstructure:"debounce_ms" yaml:"debounce_ms"`
	ScrollDebounceMS int `mapstructure:"scroll_debounce_ms" yaml:"scroll_debounce_ms"`
}

// ReconnectConfig controls the automatic reconnect countdown.
type ReconnectConfig struct {
	PeriodSeconds int `mapstructure:"period_seconds" yaml:"period_seconds"`
}

// MirrorConfig controls log handling in the session mirror.
type MirrorConfig struct {
	CoalesceWindowMS       int `mapstructure:"coalesce_window_ms" yaml:"coalesce_window_ms"`
	LogFetchTimeoutSeconds int `mapstructure:"log_fetch_timeout_seconds" yaml:"log_fetch_timeout_seconds"`
}

// ConnectivityConfig controls the reachability probe.
type ConnectivityConfig struct {
	ProbeIntervalSeconds int `mapstructure:"probe_interval_seconds" yaml:"probe_interval_seconds"`
	ProbeTimeoutMS       int `mapstructure:"probe_timeout_ms" yaml:"probe_timeout_ms"`
}

// ChannelConfig controls the connection channel.
type ChannelConfig struct {
	PingIntervalSeconds int `mapstructure:"ping_interval_seconds" yaml:"ping_interval_seconds"`
}

// MockPeerConfig configures the peer simulator served by `tether mock-peer`.
type MockPeerConfig struct {
	Addr            string `mapstructure:"addr" yaml:"addr"`
	Token           string `mapstructure:"token" yaml:"token"`
	TOTPSecret      string `mapstructure:"totp_secret" yaml:"totp_secret"`
	History         int    `mapstructure:"history" yaml:"history"`
	ResponseDelayMS int    `mapstructure:"response_delay_ms" yaml:"response_delay_ms"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		Peer: PeerConfig{
			URL: "http://127.0.0.1:27490",
		},
		State: StateConfig{
			Backend: "file",
			Dir:     filepath.Join(home, ".tether", "state"),
		},
		Queue: QueueConfig{
			Capacity:       schema.DefaultQueueCapacity,
			MaxRetries:     schema.DefaultMaxRetries,
			AttemptDelayMS: int(schema.DefaultAttemptDelay / time.Millisecond),
			SettleDelayMS:  int(schema.DefaultSettleDelay / time.Millisecond),
		},
		ViewState: ViewStateConfig{
			FreshnessSeconds: int(schema.DefaultFreshnessWindow / time.Second),
			DebounceMS:       int(schema.DefaultViewStateDebounce / time.Millisecond),
			ScrollDebounceMS: int(schema.DefaultScrollDebounce / time.Millisecond),
		},
		Reconnect: ReconnectConfig{
			PeriodSeconds: int(schema.DefaultReconnectPeriod / time.Second),
		},
		Mirror: MirrorConfig{
			CoalesceWindowMS:       int(schema.DefaultCoalesceWindow / time.Millisecond),
			LogFetchTimeoutSeconds: int(schema.DefaultLogFetchTimeout / time.Second),
		},
		Connectivity: ConnectivityConfig{
			ProbeIntervalSeconds: 5,
			ProbeTimeoutMS:       2000,
		},
		Channel: ChannelConfig{
			PingIntervalSeconds: int(schema.DefaultPingInterval / time.Second),
		},
		MockPeer: MockPeerConfig{
			Addr:            "127.0.0.1:27490",
			History:         1000,
			ResponseDelayMS: 300,
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".tether", "config.yaml"), nil
}

// ClientConfig converts the file layout into the sync layer's config.
func (c Config) ClientConfig() schema.ClientConfig {
	return schema.ClientConfig{
		PeerURL:           c.Peer.URL,
		Token:             c.Peer.Token,
		TOTPSecret:        c.Peer.TOTPSecret,
		QueueCapacity:     c.Queue.Capacity,
		MaxRetries:        c.Queue.MaxRetries,
		AttemptDelay:      millis(c.Queue.AttemptDelayMS),
		SettleDelay:       millis(c.Queue.SettleDelayMS),
		FreshnessWindow:   seconds(c.ViewState.FreshnessSeconds),
		ViewStateDebounce: millis(c.ViewState.DebounceMS),
		ScrollDebounce:    millis(c.ViewState.ScrollDebounceMS),
		ReconnectPeriod:   seconds(c.Reconnect.PeriodSeconds),
		CoalesceWindow:    millis(c.Mirror.CoalesceWindowMS),
		LogFetchTimeout:   seconds(c.Mirror.LogFetchTimeoutSeconds),
		PingInterval:      seconds(c.Channel.PingIntervalSeconds),
	}
}

// ProbeInterval returns the reachability probe interval.
func (c Config) ProbeInterval() time.Duration {
	return seconds(c.Connectivity.ProbeIntervalSeconds)
}

// ProbeTimeout returns the reachability probe dial timeout.
func (c Config) ProbeTimeout() time.Duration {
	return millis(c.Connectivity.ProbeTimeoutMS)
}

func millis(v int) time.Duration  { return time.Duration(v) * time.Millisecond }
func seconds(v int) time.Duration { return time.Duration(v) * time.Second }
