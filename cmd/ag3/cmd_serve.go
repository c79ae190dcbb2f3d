package main

import (
	"errors"
	"fmt"
	"os"

	"ag3/pkg/config"
	"ag3/pkg/orchestrator"
	"ag3/pkg/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newServeCmd creates the "ag3 serve" subcommand.
func newServeCmd(a *app) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator in the foreground",
		Long:  "Loads the config, restores persisted missions and agents, then serves the\nsocket, dispatches missions, runs the scheduled cycles and watches the inbox\nuntil SIGTERM or SIGINT.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return fmt.Errorf("resolve paths: %w", err)
			}
			if configPath == "" {
				configPath = paths.ConfigPath
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(paths.Home, 0o700); err != nil {
				return fmt.Errorf("create %s: %w", paths.Home, err)
			}

			pf := pidFile(paths.PIDPath)
			state, pid, err := pf.state()
			if err != nil {
				return err
			}
			if state == daemonRunning {
				return fmt.Errorf("ag3 is already running (PID %d)", pid)
			}

			st, err := store.Open(cmd.Context(), paths.StateDBPath)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			opts := orchestrator.Options{
				SocketPath: paths.SocketPath,
				InboxDir:   paths.InboxDir,
			}
			if _, err := os.Stat(paths.MailDir); err == nil {
				opts.MailDir = paths.MailDir
			} else if !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("stat maildir: %w", err)
			}

			orch, err := orchestrator.New(cmd.Context(), cfg, st, opts, a.logger)
			if err != nil {
				return err
			}

			if err := pf.write(os.Getpid()); err != nil {
				return err
			}
			ctx, cleanup := withShutdownSignals(cmd.Context(), pf)
			defer cleanup()

			a.logger.Info("serving",
				zap.String("socket", paths.SocketPath),
				zap.String("db", paths.StateDBPath),
				zap.String("config", configPath))
			return orch.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (default $AG3_HOME/config.yaml)")
	return cmd
}
