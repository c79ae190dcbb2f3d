package cycle

import (
	"context"
	"strings"
	"time"

	"ag3/pkg/launch"
	"ag3/pkg/protocol"
)

// LaunchAudit feeds a fresh checklist into the launch state machine until
// launch happens.
type LaunchAudit struct {
	interval time.Duration
	machine  *launch.Machine
	auditor  *launch.Auditor
}

// NewLaunchAudit creates the launch-audit cycle. A zero interval means
// ten minutes.
func NewLaunchAudit(interval time.Duration, m *launch.Machine, a *launch.Auditor) *LaunchAudit {
	if interval == 0 {
		interval = 10 * time.Minute
	}
	return &LaunchAudit{interval: interval, machine: m, auditor: a}
}

func (l *LaunchAudit) Kind() protocol.CycleKind { return protocol.CycleLaunchAudit }

func (l *LaunchAudit) Interval() time.Duration { return l.interval }

func (l *LaunchAudit) RunOnce(ctx context.Context) (protocol.CycleResult, error) {
	if l.machine.Launched(ctx) {
		return protocol.CycleResult{Skipped: "already launched"}, nil
	}
	out, err := l.machine.Apply(ctx, l.auditor.Audit(ctx))
	if err != nil {
		return protocol.CycleResult{}, err
	}

	res := protocol.CycleResult{Detail: string(out.Status)}
	if len(out.Gaps) > 0 {
		res.Detail += ": " + strings.Join(out.Gaps, ", ")
	}
	if out.Changed {
		res.Actions = 1
	}
	return res, nil
}
