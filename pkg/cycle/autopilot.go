package cycle

import (
	"context"
	"fmt"
	"time"

	"ag3/pkg/protocol"

	"go.uber.org/zap"
)

// programStep is one mission of an autopilot program.
type programStep struct {
	Type       string
	Capability string
}

// programs are the built-in autopilot programs, each one fixed batch of
// missions enqueued per run.
var programs = map[string][]programStep{
	"expansion": {
		{"parse-strategy", "parse"},
		{"expand-files", "fs"},
		{"execute-phase", "deploy"},
		{"broadcast-update", "route"},
		{"monitor-loop", "monitor"},
		{"system-rollback-check", "rollback"},
		{"system-optimization", "optimize"},
	},
	"marketing": {
		{"marketing-idea-generation", "parse"},
		{"marketing-asset-creation", "fs"},
		{"marketing-deploy", "deploy"},
		{"marketing-broadcast", "route"},
		{"marketing-monitor", "monitor"},
		{"marketing-recovery", "rollback"},
		{"marketing-optimize", "optimize"},
	},
	"revenue": {
		{"revenue-lead-capture", "parse"},
		{"revenue-build-offer", "fs"},
		{"revenue-deploy-offer", "deploy"},
		{"revenue-broadcast", "route"},
		{"revenue-monitor", "monitor"},
		{"revenue-fallback", "rollback"},
		{"revenue-optimize", "optimize"},
	},
}

// ProgramSize returns the number of missions one run of program enqueues,
// or 0 for an unknown program.
func ProgramSize(program string) int {
	return len(programs[program])
}

// Autopilot runs the configured programs once launch has happened.
type Autopilot struct {
	interval time.Duration
	programs []string
	gate     LaunchGate
	queue    Enqueuer
	logger   *zap.Logger
}

// NewAutopilot creates the autopilot cycle. Unknown program names are
// rejected.
func NewAutopilot(interval time.Duration, names []string, gate LaunchGate, q Enqueuer, logger *zap.Logger) (*Autopilot, error) {
	for _, n := range names {
		if _, ok := programs[n]; !ok {
			return nil, fmt.Errorf("autopilot: unknown program %q", n)
		}
	}
	if interval == 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Autopilot{
		interval: interval,
		programs: append([]string(nil), names...),
		gate:     gate,
		queue:    q,
		logger:   logger.Named("autopilot"),
	}, nil
}

func (a *Autopilot) Kind() protocol.CycleKind { return protocol.CycleAutopilot }

func (a *Autopilot) Interval() time.Duration { return a.interval }

func (a *Autopilot) RunOnce(ctx context.Context) (protocol.CycleResult, error) {
	if !a.gate.Launched(ctx) {
		return protocol.CycleResult{Skipped: "not launched"}, nil
	}

	var res protocol.CycleResult
	for _, name := range a.programs {
		for _, step := range programs[name] {
			m, err := a.queue.Enqueue(ctx, protocol.MissionSpec{
				Type:               step.Type,
				RequiredCapability: step.Capability,
				Payload:            map[string]any{"autopilot": true, "program": name},
				Source:             "cycle:" + string(protocol.CycleAutopilot),
			})
			if err != nil {
				return res, fmt.Errorf("program %s: enqueue %s: %w", name, step.Type, err)
			}
			res.Actions++
			res.Missions = append(res.Missions, m.ID)
		}
		a.logger.Info("program queued", zap.String("program", name), zap.Int("missions", len(programs[name])))
	}
	return res, nil
}
