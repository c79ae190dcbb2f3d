package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newStopCmd creates the "ag3 stop" subcommand.
func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running orchestrator",
		Long:  "Sends SIGTERM to the serving process. In-flight dispatch finishes before\nthe process exits.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return fmt.Errorf("resolve paths: %w", err)
			}
			pf := pidFile(paths.PIDPath)

			state, pid, err := pf.state()
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			switch state {
			case daemonStopped:
				fmt.Fprintln(w, "ag3 is not running")
			case daemonStale:
				fmt.Fprintln(w, "removing stale PID file (process already dead)")
				return pf.remove()
			case daemonRunning:
				fmt.Fprintf(w, "sending SIGTERM to ag3 (PID %d)\n", pid)
				if err := pf.terminate(); err != nil {
					return err
				}
				fmt.Fprintln(w, "stop signal sent")
			}
			return nil
		},
	}
}
