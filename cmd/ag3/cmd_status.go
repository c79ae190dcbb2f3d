package main

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"ag3/pkg/protocol"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// statusTheme styles the status report on a terminal.
type statusTheme struct {
	label   lipgloss.Style
	good    lipgloss.Style
	warn    lipgloss.Style
	bad     lipgloss.Style
	muted   lipgloss.Style
	heading lipgloss.Style
}

func newStatusTheme(styled bool) statusTheme {
	if !styled {
		plain := lipgloss.NewStyle()
		return statusTheme{plain, plain, plain, plain, plain, plain}
	}
	return statusTheme{
		label:   lipgloss.NewStyle().Foreground(lipgloss.Color("14")),
		good:    lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		warn:    lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		bad:     lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		heading: lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true),
	}
}

// newStatusCmd creates the "ag3 status" subcommand.
func newStatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, queue, launch and cycle state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return fmt.Errorf("resolve paths: %w", err)
			}
			state, pid, err := pidFile(paths.PIDPath).state()
			if err != nil {
				return err
			}

			var h *protocol.Health
			if state == daemonRunning {
				var got protocol.Health
				if err := request(cmd, protocol.Message{Type: protocol.MsgHealth}, &got); err != nil {
					return err
				}
				h = &got
			}

			w := cmd.OutOrStdout()
			if asJSON {
				return printJSON(w, struct {
					Daemon daemonState      `json:"daemon"`
					PID    int              `json:"pid,omitempty"`
					Health *protocol.Health `json:"health,omitempty"`
				}{state, pid, h})
			}
			renderStatus(w, newStatusTheme(isTerminal(w)), state, pid, h)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

// renderStatus writes the human-readable status report. h is nil when the
// daemon is not running.
func renderStatus(w io.Writer, th statusTheme, state daemonState, pid int, h *protocol.Health) {
	row := func(label, value string) {
		fmt.Fprintf(w, "%s %s\n", th.label.Render(fmt.Sprintf("%-10s", label)), value)
	}

	switch state {
	case daemonRunning:
		row("daemon", th.good.Render("running")+th.muted.Render(fmt.Sprintf(" (PID %d)", pid)))
	case daemonStale:
		row("daemon", th.bad.Render("stale")+th.muted.Render(fmt.Sprintf(" (PID %d is gone; run ag3 stop)", pid)))
	default:
		row("daemon", th.muted.Render("stopped"))
	}
	if h == nil {
		return
	}

	launchStyle := th.warn
	switch h.LaunchStatus {
	case protocol.LaunchLaunched:
		launchStyle = th.good
	case protocol.LaunchBlocked:
		launchStyle = th.bad
	}
	row("launch", launchStyle.Render(string(h.LaunchStatus)))

	queue := fmt.Sprintf("%d pending", h.QueueDepth)
	if h.Parked > 0 {
		queue += th.warn.Render(fmt.Sprintf(", %d parked", h.Parked))
	}
	if h.InFlight {
		queue += ", dispatching"
	}
	row("queue", queue)

	agents := fmt.Sprintf("%d registered", h.Agents)
	if len(h.StaleAgents) > 0 {
		agents += th.warn.Render(" (stale: " + strings.Join(h.StaleAgents, ", ") + ")")
	}
	row("agents", agents)
	row("seen", fmt.Sprintf("%d events", h.SeenEvents))

	if len(h.Cycles) == 0 {
		return
	}
	fmt.Fprintln(w, th.heading.Render("cycles"))
	kinds := make([]protocol.CycleKind, 0, len(h.Cycles))
	for k := range h.Cycles {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	for _, k := range kinds {
		c := h.Cycles[k]
		last := th.muted.Render("never")
		if !c.LastRunAt.IsZero() {
			last = c.LastRunAt.Local().Format(time.DateTime)
		}
		line := fmt.Sprintf("  %-15s runs %-4d last %s", k, c.CycleCount, last)
		if c.DailyCounterDate != "" {
			line += th.muted.Render(fmt.Sprintf("  today %d (%s)", c.DailyCounter, c.DailyCounterDate))
		}
		fmt.Fprintln(w, line)
	}
}
