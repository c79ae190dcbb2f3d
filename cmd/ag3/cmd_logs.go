package main

import (
	"fmt"
	"slices"
	"time"

	"ag3/pkg/protocol"
	"ag3/pkg/store"

	"github.com/spf13/cobra"
)

var logStreams = []string{
	protocol.StreamMissions,
	protocol.StreamOutbound,
	protocol.StreamReplies,
	protocol.StreamLaunch,
	protocol.StreamCycles,
}

// newLogsCmd creates the "ag3 logs" subcommand.
func newLogsCmd() *cobra.Command {
	var (
		limit int
		since time.Duration
	)

	cmd := &cobra.Command{
		Use:       "logs [stream]",
		Short:     "Show append-only log records, newest first",
		Long:      "Shows records from one log stream (missions, outbound, replies, launch,\ncycles) or from all streams when none is named.",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: logStreams,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := store.LogQuery{Limit: limit}
			if len(args) == 1 {
				if !slices.Contains(logStreams, args[0]) {
					return fmt.Errorf("unknown stream %q", args[0])
				}
				q.Stream = args[0]
			}
			if since > 0 {
				after := time.Now().Add(-since)
				q.After = &after
			}

			st, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			entries, err := st.ReadLog(cmd.Context(), q)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, e := range entries {
				fmt.Fprintf(w, "%s  %-8s  %s\n", e.CreatedAt.Local().Format(time.DateTime), e.Stream, e.Payload)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum records to show (0 = all)")
	cmd.Flags().DurationVar(&since, "since", 0, "only show records newer than this (e.g. 1h)")
	return cmd
}
