package main

import (
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/tether/internal/appconfig"
	"pkt.systems/tether/peersim"
)

func newMockPeerCmd() *cobra.Command {
	var cfgPath string
	var addr string
	cmd := &cobra.Command{
		Use:   "mock-peer",
		Short: "Serve a simulated desktop peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.MockPeer.Addr = addr
			}
			logger := pslog.Ctx(cmd.Context())
			server := peersim.NewServer(peersim.Config{
				Addr:          cfg.MockPeer.Addr,
				Token:         cfg.MockPeer.Token,
				TOTPSecret:    cfg.MockPeer.TOTPSecret,
				History:       cfg.MockPeer.History,
				ResponseDelay: time.Duration(cfg.MockPeer.ResponseDelayMS) * time.Millisecond,
			}, logger)
			return server.ListenAndServe(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}
