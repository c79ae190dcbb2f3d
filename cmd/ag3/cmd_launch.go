package main

import (
	"fmt"
	"strings"
	"time"

	"ag3/pkg/launch"

	"github.com/spf13/cobra"
)

// newLaunchCmd creates the "ag3 launch" command group.
func newLaunchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "launch",
		Short: "Inspect launch readiness",
	}

	var asJSON bool
	status := &cobra.Command{
		Use:   "status",
		Short: "Show the persisted launch state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			ls, err := launch.NewMachine(st, a.logger).State(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), ls)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "status: %s\n", ls.Status)
			if !ls.Timestamp.IsZero() {
				fmt.Fprintf(w, "since:  %s\n", ls.Timestamp.Local().Format(time.DateTime))
			}
			if len(ls.Gaps) > 0 {
				fmt.Fprintf(w, "gaps:   %s\n", strings.Join(ls.Gaps, ", "))
			}
			return nil
		},
	}
	status.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	cmd.AddCommand(status)
	return cmd
}
