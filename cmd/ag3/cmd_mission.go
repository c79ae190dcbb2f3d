package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"ag3/pkg/protocol"
	"ag3/pkg/store"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// newMissionCmd creates the "ag3 mission" command group.
func newMissionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mission",
		Short: "Create, pull, report and inspect missions",
	}
	cmd.AddCommand(
		newMissionEnqueueCmd(),
		newMissionPollCmd(),
		newMissionReportCmd(),
		newMissionListCmd(),
		newMissionShowCmd(),
	)
	return cmd
}

func newMissionEnqueueCmd() *cobra.Command {
	var (
		capability string
		payload    string
	)
	cmd := &cobra.Command{
		Use:   "enqueue <type>",
		Short: "Queue a mission for the first agent with the capability",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parseObject("payload", payload)
			if err != nil {
				return err
			}
			spec := protocol.MissionSpec{Type: args[0], RequiredCapability: capability, Payload: p}
			var res protocol.EnqueueResult
			if err := request(cmd, protocol.Message{Type: protocol.MsgEnqueue, Enqueue: &spec}, &res); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&capability, "capability", "", "required agent capability")
	cmd.Flags().StringVar(&payload, "payload", "", "mission payload as a JSON or YAML object")
	_ = cmd.MarkFlagRequired("capability")
	return cmd
}

func newMissionPollCmd() *cobra.Command {
	var capabilities []string
	cmd := &cobra.Command{
		Use:   "poll <agent>",
		Short: "Pull the oldest pending mission an agent can serve",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var m *protocol.Mission
			msg := protocol.Message{Type: protocol.MsgPoll, Poll: &protocol.PollPayload{Agent: args[0], Capabilities: capabilities}}
			if err := request(cmd, msg, &m); err != nil {
				return err
			}
			if m == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no mission available")
				return nil
			}
			return printJSON(cmd.OutOrStdout(), m)
		},
	}
	cmd.Flags().StringSliceVar(&capabilities, "capability", nil, "capabilities to match (default: all the agent advertises)")
	return cmd
}

func newMissionReportCmd() *cobra.Command {
	var (
		failed bool
		output string
	)
	cmd := &cobra.Command{
		Use:   "report <mission-id>",
		Short: "Record the result of a pulled mission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := parseObject("output", output)
			if err != nil {
				return err
			}
			status := protocol.MissionCompleted
			if failed {
				status = protocol.MissionFailed
			}
			msg := protocol.Message{Type: protocol.MsgReport, Report: &protocol.ReportPayload{
				MissionID: args[0], Status: status, Output: out,
			}}
			var m protocol.Mission
			if err := request(cmd, msg, &m); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), m)
		},
	}
	cmd.Flags().BoolVar(&failed, "failed", false, "report the mission as failed")
	cmd.Flags().StringVar(&output, "output", "", "agent output as a JSON or YAML object")
	return cmd
}

func newMissionListCmd() *cobra.Command {
	var (
		status string
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List missions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := store.MissionFilter{Status: protocol.MissionStatus(status), Limit: limit, Newest: true}
			if status != "" && !f.Status.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}
			st, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			ms, err := st.ListMissions(cmd.Context(), f)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), ms)
			}
			return writeMissionTable(cmd.OutOrStdout(), ms)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending, assigned, completed, failed)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum missions to show (0 = all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newMissionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <mission-id>",
		Short: "Show one mission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			m, err := st.GetMission(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), m)
		},
	}
}

func writeMissionTable(w io.Writer, ms []protocol.Mission) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tCAPABILITY\tSTATUS\tAGENT\tSOURCE\tCREATED")
	for _, m := range ms {
		agent := m.AssignedTo
		if agent == "" {
			agent = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			m.ID, m.Type, m.RequiredCapability, m.Status, agent, m.Source,
			m.CreatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

// parseObject decodes a flag value holding a JSON or YAML mapping. An empty
// value yields nil.
func parseObject(flag, s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	var out map[string]any
	if err := yaml.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("--%s: %w", flag, err)
	}
	if out == nil {
		return nil, fmt.Errorf("--%s: expected an object", flag)
	}
	return out, nil
}
