package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"ag3/pkg/protocol"

	"github.com/spf13/cobra"
)

// newAgentCmd creates the "ag3 agent" command group.
func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Register agents and inspect the registry",
	}
	cmd.AddCommand(newAgentRegisterCmd(), newAgentHeartbeatCmd(), newAgentListCmd())
	return cmd
}

func newAgentRegisterCmd() *cobra.Command {
	var p protocol.RegisterPayload
	cmd := &cobra.Command{
		Use:   "register <name>",
		Short: "Register or refresh an agent",
		Long:  "Registers an agent with its capability set. Re-registering replaces the\ncapabilities and keeps the original registration time. Missions parked for\nlack of a capable agent are requeued.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p.Name = args[0]
			var a protocol.Agent
			if err := request(cmd, protocol.Message{Type: protocol.MsgRegister, Register: &p}, &a); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), a)
		},
	}
	cmd.Flags().StringVar(&p.Role, "role", "", "free-form role label")
	cmd.Flags().StringSliceVar(&p.Capabilities, "capability", nil, "capability the agent serves (repeatable)")
	cmd.Flags().StringVar(&p.Endpoint, "endpoint", "", "push URL for HTTP dispatch")
	return cmd
}

func newAgentHeartbeatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "heartbeat <name>",
		Short: "Refresh an agent's last-seen time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := protocol.Message{Type: protocol.MsgHeartbeat, Heartbeat: &protocol.HeartbeatPayload{Name: args[0]}}
			if err := request(cmd, msg, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "heartbeat recorded for %s\n", args[0])
			return nil
		},
	}
}

func newAgentListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			agents, err := st.LoadAgents(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), agents)
			}
			return writeAgentTable(cmd.OutOrStdout(), agents)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func writeAgentTable(w io.Writer, agents []protocol.Agent) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tROLE\tCAPABILITIES\tLAST SEEN")
	for _, a := range agents {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			a.Name, a.Role, strings.Join(a.Capabilities, ","), a.LastSeen.Local().Format(time.DateTime))
	}
	return tw.Flush()
}
