package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"pkt.systems/pslog"
	"pkt.systems/tether"
	"pkt.systems/tether/internal/appconfig"
	"pkt.systems/tether/internal/kvstore"
	"pkt.systems/tether/internal/netstate"
)

const stopTimeout = 5 * time.Second

func newConnectCmd() *cobra.Command {
	var cfgPath string
	var offline bool
	var peerURL string
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect to the peer and open an interactive prompt",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if peerURL != "" {
				cfg.Peer.URL = peerURL
			}
			logger := pslog.Ctx(cmd.Context())

			deps := tether.Deps{Logger: logger}
			var manual *netstate.Manual
			if offline {
				manual = netstate.NewManual(false)
				deps.Network = manual
			}
			client, err := tether.New(tether.Config{
				Client:        cfg.ClientConfig(),
				StateBackend:  kvstore.Backend(cfg.State.Backend),
				StateDir:      cfg.State.Dir,
				ProbeInterval: cfg.ProbeInterval(),
				ProbeTimeout:  cfg.ProbeTimeout(),
			}, deps)
			if err != nil {
				return err
			}
			return runConnect(cmd.Context(), client, manual, os.Stdin, cmd.OutOrStdout(), stdinIsTerminal())
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&peerURL, "peer", "", "peer url (overrides config)")
	cmd.Flags().BoolVar(&offline, "offline", false, "start offline; toggle with /online and /offline")
	return cmd
}

func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// runConnect drives the client until ctx ends, stdin closes or the user quits.
func runConnect(ctx context.Context, client *tether.Client, manual *netstate.Manual, in io.Reader, out io.Writer, interactive bool) error {
	events, unsubscribe := client.Bus().Subscribe()
	defer unsubscribe()

	if err := client.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := client.Stop(stopCtx); err != nil {
			pslog.Ctx(ctx).Warn("client stop", "err", err)
		}
	}()

	r := newREPL(client, manual, out, interactive)
	readCtx, stopReading := context.WithCancel(ctx)
	defer stopReading()
	lines := readLines(readCtx, in)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case event, ok := <-events:
				if !ok {
					return nil
				}
				r.printEvent(event)
			}
		}
	})
	g.Go(func() error {
		r.prompt()
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return errQuit
				}
				if err := r.handle(gctx, line); err != nil {
					return err
				}
				r.prompt()
			}
		}
	})
	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) {
		return err
	}
	return nil
}

// readLines feeds in line by line. The reader goroutine is not joined since a
// blocked terminal read cannot be interrupted.
func readLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}
