package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pns-project/pns/internal/bootstrap"
	"github.com/pns-project/pns/internal/config"
	"github.com/pns-project/pns/internal/heartbeat"
	"github.com/pns-project/pns/internal/logging"
	"github.com/pns-project/pns/internal/membership"
	"github.com/pns-project/pns/internal/rpcclient"
	"github.com/pns-project/pns/internal/server"
	"github.com/pns-project/pns/internal/store"
)

// newDaemonCmd creates the daemon subcommand: loads a host's config, brings
// up its store (tracker only) and request dispatcher, registers its root
// with the tracker (§4.5), and then runs the membership sweeper (tracker)
// or heartbeat sender (plain daemon) alongside the dispatcher until killed.
func newDaemonCmd() *cobra.Command {
	var configPath string
	var dbPath string

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run a tracker or daemon host",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runDaemon(configPath, dbPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the host's YAML config file")
	cmd.Flags().StringVar(&dbPath, "db", "pns.db", "tracker metadata store path (ignored on a plain daemon)")
	cmd.MarkFlagRequired("config")

	return cmd
}

func runDaemon(configPath, dbPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logging.New(cfg.Name)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sctx := &server.Context{Config: cfg, Log: log}

	var st *store.Store
	if cfg.IsTracker {
		st, err = store.Open(dbPath)
		if err != nil {
			return fmt.Errorf("open store %s: %w", dbPath, err)
		}
		defer st.Close()
		sctx.Store = st
		sctx.Membership = membership.New(st, func(hostName string, removed int) {
			log.Printf("evicted %s: removed %d records", hostName, removed)
		})
	}

	if err := bootstrap.Register(cfg, st, log); err != nil {
		return fmt.Errorf("register with tracker: %w", err)
	}

	errc := make(chan error, 1)
	go func() { errc <- server.ListenAndServe(sctx) }()

	if cfg.IsTracker {
		go sctx.Membership.Run(ctx)
	} else {
		client := rpcclient.New(cfg.TrackerAddr(), cfg.Name, cfg.Secret)
		go heartbeat.Run(ctx, client, log)
	}

	select {
	case <-ctx.Done():
		log.Printf("shutting down")
		return nil
	case err := <-errc:
		return err
	}
}
