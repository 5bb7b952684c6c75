package main

import (
	"context"
	"fmt"

	"pkt.systems/pslog"
	"pkt.systems/tether/internal/appconfig"
	"pkt.systems/tether/internal/cmdqueue"
	"pkt.systems/tether/internal/kvstore"
	"pkt.systems/tether/internal/viewstate"
)

func openStore(ctx context.Context, cfg appconfig.Config) (kvstore.Store, error) {
	store, err := kvstore.Open(ctx, kvstore.Backend(cfg.State.Backend), cfg.State.Dir, pslog.Ctx(ctx))
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	return store, nil
}

// openQueue returns an idle queue over the persisted items; nothing drains it.
func openQueue(ctx context.Context, cfg appconfig.Config, store kvstore.Store) *cmdqueue.Queue {
	client := cfg.ClientConfig()
	return cmdqueue.New(cmdqueue.Options{
		Storage:    store,
		Logger:     pslog.Ctx(ctx),
		Capacity:   client.QueueCapacity,
		MaxRetries: client.MaxRetries,
		Ready:      func() bool { return false },
	})
}

func openViewState(ctx context.Context, cfg appconfig.Config, store kvstore.Store) *viewstate.Store {
	client := cfg.ClientConfig()
	return viewstate.New(viewstate.Options{
		Storage:         store,
		Logger:          pslog.Ctx(ctx),
		FreshnessWindow: client.FreshnessWindow,
	})
}
