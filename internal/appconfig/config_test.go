package appconfig

import (
	"testing"
	"time"

	"pkt.systems/tether/schema"
)

func TestDefaultConfigMatchesClientDefaults(t *testing.T) {
	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	client := cfg.ClientConfig()
	if client.QueueCapacity != schema.DefaultQueueCapacity || client.MaxRetries != schema.DefaultMaxRetries {
		t.Fatalf("unexpected queue defaults %+v", client)
	}
	if client.SettleDelay != 500*time.Millisecond || client.AttemptDelay != 100*time.Millisecond {
		t.Fatalf("unexpected queue timings %+v", client)
	}
	if client.FreshnessWindow != 5*time.Minute || client.ViewStateDebounce != 300*time.Millisecond {
		t.Fatalf("unexpected view state timings %+v", client)
	}
	if client.ReconnectPeriod != 30*time.Second || client.CoalesceWindow != 5*time.Second {
		t.Fatalf("unexpected reconnect/coalesce %+v", client)
	}
	if cfg.ProbeTimeout() != 2*time.Second {
		t.Fatalf("unexpected probe timeout %s", cfg.ProbeTimeout())
	}
}
