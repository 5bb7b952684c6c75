package appconfig

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
	"pkt.systems/tether/internal/kvstore"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TETHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("peer.url", cfg.Peer.URL)
	v.SetDefault("peer.token", cfg.Peer.Token)
	v.SetDefault("peer.totp_secret", cfg.Peer.TOTPSecret)
	v.SetDefault("state.backend", cfg.State.Backend)
	v.SetDefault("state.dir", cfg.State.Dir)
	v.SetDefault("queue.capacity", cfg.Queue.Capacity)
	v.SetDefault("queue.max_retries", cfg.Queue.MaxRetries)
	v.SetDefault("queue.attempt_delay_ms", cfg.Queue.AttemptDelayMS)
	v.SetDefault("queue.settle_delay_ms", cfg.Queue.SettleDelayMS)
	v.SetDefault("view_state.freshness_seconds", cfg.ViewState.FreshnessSeconds)
	v.SetDefault("view_state.debounce_ms", cfg.ViewState.DebounceMS)
	v.SetDefault("view_state.scroll_debounce_ms", cfg.ViewState.ScrollDebounceMS)
	v.SetDefault("reconnect.period_seconds", cfg.Reconnect.PeriodSeconds)
	v.SetDefault("mirror.coalesce_window_ms", cfg.Mirror.CoalesceWindowMS)
	v.SetDefault("mirror.log_fetch_timeout_seconds", cfg.Mirror.LogFetchTimeoutSeconds)
	v.SetDefault("connectivity.probe_interval_seconds", cfg.Connectivity.ProbeIntervalSeconds)
	v.SetDefault("connectivity.probe_timeout_ms", cfg.Connectivity.ProbeTimeoutMS)
	v.SetDefault("channel.ping_interval_seconds", cfg.Channel.PingIntervalSeconds)
	v.SetDefault("mock_peer.addr", cfg.MockPeer.Addr)
	v.SetDefault("mock_peer.token", cfg.MockPeer.Token)
	v.SetDefault("mock_peer.totp_secret", cfg.MockPeer.TOTPSecret)
	v.SetDefault("mock_peer.history", cfg.MockPeer.History)
	v.SetDefault("mock_peer.response_delay_ms", cfg.MockPeer.ResponseDelayMS)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	// IsSet also sees defaults, so required keys are checked against the file.
	if configLoaded {
		if !v.InConfig("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
		if !v.InConfig("peer.url") {
			return Config{}, fmt.Errorf("peer.url is required for config_version %d", CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validatePeerConfig(cfg.Peer); err != nil {
		return Config{}, err
	}
	if err := validateStateConfig(cfg.State); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validatePeerConfig(cfg PeerConfig) error {
	raw := strings.TrimSpace(cfg.URL)
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("peer.url must include an http(s) scheme and host (e.g. http://127.0.0.1:27490)")
	}
	if cfg.Token != "" && cfg.TOTPSecret != "" {
		return fmt.Errorf("peer.token and peer.totp_secret are mutually exclusive")
	}
	return nil
}

func validateStateConfig(cfg StateConfig) error {
	switch kvstore.Backend(cfg.Backend) {
	case kvstore.BackendFile, kvstore.BackendBolt, kvstore.BackendSQLite:
		if strings.TrimSpace(cfg.Dir) == "" {
			return fmt.Errorf("state.dir is required for backend %q", cfg.Backend)
		}
	case kvstore.BackendMemory:
	default:
		return fmt.Errorf("unsupported state.backend %q", cfg.Backend)
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.Peer.URL = expandEnv(cfg.Peer.URL)
	cfg.Peer.Token = expandEnv(cfg.Peer.Token)
	cfg.Peer.TOTPSecret = expandEnv(cfg.Peer.TOTPSecret)
	cfg.State.Dir = expandEnv(cfg.State.Dir)
	cfg.MockPeer.Addr = expandEnv(cfg.MockPeer.Addr)
	cfg.MockPeer.Token = expandEnv(cfg.MockPeer.Token)
	cfg.MockPeer.TOTPSecret = expandEnv(cfg.MockPeer.TOTPSecret)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
