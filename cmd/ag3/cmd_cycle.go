package main

import (
	"ag3/pkg/protocol"

	"github.com/spf13/cobra"
)

// newCycleCmd creates the "ag3 cycle" command group.
func newCycleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run scheduled cycles on demand",
	}
	cmd.AddCommand(&cobra.Command{
		Use:       "run <kind>",
		Short:     "Run one cycle now",
		Long:      "Runs one cycle immediately. A cycle that is already running is reported as\nbusy rather than started twice.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: cycleKinds(),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := protocol.Message{Type: protocol.MsgCycle, Cycle: &protocol.CyclePayload{Kind: protocol.CycleKind(args[0])}}
			var res protocol.CycleResult
			if err := request(cmd, msg, &res); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	})
	return cmd
}

func cycleKinds() []string {
	return []string{
		string(protocol.CycleGrowth),
		string(protocol.CycleLaunchAudit),
		string(protocol.CycleOutboundLead),
		string(protocol.CycleReplyCheck),
		string(protocol.CycleAutopilot),
		string(protocol.CycleSeenRetention),
		string(protocol.CyclePillarDeploy),
		string(protocol.CycleAgentHealth),
	}
}
