package launch

import (
	"context"
	"maps"
	"slices"
	"time"

	"ag3/pkg/protocol"
	"ag3/pkg/store"
)

// Probe names.
const (
	ProbeOnline          = "ag3_online"
	ProbeSingleCommander = "single_commander"
	ProbeWebhookLive     = "webhook_live"
	ProbePaymentFlow     = "payment_flow_verified"
)

// Probe checks one readiness condition. detail explains a failure.
type Probe struct {
	Name  string
	Check func(ctx context.Context) (ok bool, detail string)
}

// Auditor runs probes and static checks into a Checklist.
type Auditor struct {
	probes []Probe
	static map[string]bool

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// NewAuditor creates an Auditor. Static checks are appended after the
// probes, sorted by name.
func NewAuditor(probes []Probe, static map[string]bool) *Auditor {
	return &Auditor{probes: probes, static: maps.Clone(static), nowFunc: time.Now}
}

// Audit runs every probe in order.
func (a *Auditor) Audit(ctx context.Context) Checklist {
	cl := Checklist{Timestamp: a.nowFunc().UTC()}
	for _, p := range a.probes {
		ok, detail := p.Check(ctx)
		cl.Checks = append(cl.Checks, Check{Name: p.Name, Passed: ok, Detail: detail})
	}
	for _, name := range slices.Sorted(maps.Keys(a.static)) {
		ch := Check{Name: name, Passed: a.static[name]}
		if !ch.Passed {
			ch.Detail = "disabled in configuration"
		}
		cl.Checks = append(cl.Checks, ch)
	}
	return cl
}

// OnlineProbe always passes: the process running the audit is online.
func OnlineProbe() Probe {
	return Probe{Name: ProbeOnline, Check: func(context.Context) (bool, string) { return true, "" }}
}

// FuncProbe passes when fn reports true.
func FuncProbe(name, failure string, fn func() bool) Probe {
	return Probe{Name: name, Check: func(context.Context) (bool, string) {
		if fn() {
			return true, ""
		}
		return false, failure
	}}
}

// PaymentProbe passes once a completed checkout event has been accepted, or
// unconditionally when forced.
func PaymentProbe(st *store.Store, forced bool) Probe {
	return Probe{Name: ProbePaymentFlow, Check: func(ctx context.Context) (bool, string) {
		if forced {
			return true, "verified by configuration"
		}
		n, err := st.EventTally(ctx, protocol.EventCheckoutCompleted)
		if err != nil {
			return false, err.Error()
		}
		if n == 0 {
			return false, "no completed checkout seen"
		}
		return true, ""
	}}
}
