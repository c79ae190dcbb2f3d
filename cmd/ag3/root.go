package main

import (
	"fmt"

	"ag3/internal/appversion"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// app is the state shared by every subcommand.
type app struct {
	verbose bool
	logger  *zap.Logger
}

// newRootCmd creates the root ag3 command with all subcommands attached.
func newRootCmd() *cobra.Command {
	a := &app{logger: zap.NewNop()}

	cmd := &cobra.Command{
		Use:           "ag3",
		Short:         "AG3 mission orchestrator",
		Long:          "ag3 turns inbound events into missions, dispatches them to agents one at a\ntime and runs the scheduled growth, outreach and launch cycles.",
		Version:       fmt.Sprintf("ag3 %s", appversion.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config := zap.NewProductionConfig()
			if a.verbose {
				config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			logger, err := config.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}

	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(
		newServeCmd(a),
		newStopCmd(),
		newStatusCmd(),
		newEventCmd(),
		newMissionCmd(),
		newAgentCmd(),
		newCycleCmd(),
		newLaunchCmd(a),
		newLogsCmd(),
	)

	return cmd
}
