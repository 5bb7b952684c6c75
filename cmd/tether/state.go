package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pkt.systems/tether/internal/appconfig"
	"pkt.systems/tether/schema"
)

type stateReport struct {
	View   schema.ViewState                 `yaml:"view"`
	Scroll map[schema.ScrollRegion]float64 `yaml:"scroll,omitempty"`
}

func newStateCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect persisted view state",
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file")

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the restorable view state (defaults when stale)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			views := openViewState(cmd.Context(), cfg, store)

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(stateReport{View: views.Load(), Scroll: views.LoadScroll()}); err != nil {
				return err
			}
			return enc.Close()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Forget the persisted view state and scroll positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			views := openViewState(cmd.Context(), cfg, store)
			views.Clear()
			views.ClearScroll()
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "view state cleared")
			return err
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "scroll <region> <offset>",
		Short: "Set the restorable scroll offset of ai_logs, shell_logs or history",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			region, err := parseScrollRegion(args[0])
			if err != nil {
				return err
			}
			offset, err := strconv.ParseFloat(args[1], 64)
			if err != nil || offset < 0 {
				return fmt.Errorf("invalid offset %q", args[1])
			}
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			openViewState(cmd.Context(), cfg, store).SaveScroll(region, offset)
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s scroll set to %g\n", region, offset)
			return err
		},
	})
	return cmd
}

func parseScrollRegion(name string) (schema.ScrollRegion, error) {
	switch region := schema.ScrollRegion(name); region {
	case schema.ScrollAILogs, schema.ScrollShellLogs, schema.ScrollHistory:
		return region, nil
	}
	return "", fmt.Errorf("unknown scroll region %q", name)
}
