package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/tether/internal/appconfig"
	"pkt.systems/tether/internal/render"
)

func newQueueCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the persisted offline command queue",
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file")

	cmd.AddCommand(newQueueListCmd(&cfgPath))
	cmd.AddCommand(newQueueClearCmd(&cfgPath))
	return cmd
}

func newQueueListCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queued commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(*cfgPath)
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			queue := openQueue(cmd.Context(), cfg, store)
			defer queue.Close()

			out := cmd.OutOrStdout()
			items := queue.Items()
			if len(items) == 0 {
				_, err := fmt.Fprintln(out, "queue empty")
				return err
			}
			for _, item := range items {
				if _, err := fmt.Fprintln(out, render.Queued(item)); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newQueueClearCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop every queued command",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(*cfgPath)
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			queue := openQueue(cmd.Context(), cfg, store)
			defer queue.Close()

			dropped := queue.Len()
			queue.Clear()
			pslog.Ctx(cmd.Context()).Info("queue cleared", "dropped", dropped)
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "dropped %d queued commands\n", dropped)
			return err
		},
	}
}
