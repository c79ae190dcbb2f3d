package cycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ag3/pkg/protocol"
	"ag3/pkg/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MissionOutboundOutreach is the mission type enqueued per lead.
const MissionOutboundOutreach = "outbound_outreach"

// SkipCapReached is the skip reason once the daily cap is used up.
const SkipCapReached = "daily cap reached"

// Lead is one outreach target.
type Lead struct {
	Email  string `json:"email"`
	Source string `json:"source"`
}

// LeadSource produces up to n leads.
type LeadSource interface {
	Leads(ctx context.Context, n int) ([]Lead, error)
}

// SeedLeads is a LeadSource of placeholder addresses.
type SeedLeads struct{}

func (SeedLeads) Leads(_ context.Context, n int) ([]Lead, error) {
	out := make([]Lead, n)
	for i := range out {
		out[i] = Lead{Email: fmt.Sprintf("lead-%s@example.com", uuid.NewString()), Source: "seed"}
	}
	return out, nil
}

// OutboundConfig holds Outbound configuration.
type OutboundConfig struct {
	Interval time.Duration // default 24h
	DailyCap int           // default 5
	Batch    int           // leads per run; 0 = all remaining
	Pillar   string        // default "automation_agency"
}

func (c *OutboundConfig) withDefaults() OutboundConfig {
	out := *c
	if out.Interval == 0 {
		out.Interval = 24 * time.Hour
	}
	if out.DailyCap == 0 {
		out.DailyCap = 5
	}
	if out.Pillar == "" {
		out.Pillar = "automation_agency"
	}
	return out
}

// outboundRecord is one entry in the outbound log stream.
type outboundRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Pillar    string    `json:"pillar"`
	Action    string    `json:"action"`
	Lead      Lead      `json:"lead"`
	Status    string    `json:"status"`
	Mission   string    `json:"mission,omitempty"`
}

var errCapReached = errors.New(SkipCapReached)

// Outbound queues outreach for new leads, never more than DailyCap per
// calendar day.
type Outbound struct {
	cfg    OutboundConfig
	store  *store.Store
	leads  LeadSource
	queue  Enqueuer
	logger *zap.Logger

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// NewOutbound creates the outbound-lead cycle. A nil source uses SeedLeads.
func NewOutbound(cfg OutboundConfig, st *store.Store, src LeadSource, q Enqueuer, logger *zap.Logger) *Outbound {
	if src == nil {
		src = SeedLeads{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Outbound{
		cfg:     cfg.withDefaults(),
		store:   st,
		leads:   src,
		queue:   q,
		logger:  logger.Named("outbound"),
		nowFunc: time.Now,
	}
}

// SetNowFunc overrides the clock (tests only).
func (o *Outbound) SetNowFunc(fn func() time.Time) { o.nowFunc = fn }

func (o *Outbound) Kind() protocol.CycleKind { return protocol.CycleOutboundLead }

func (o *Outbound) Interval() time.Duration { return o.cfg.Interval }

// RunOnce reserves this run's share of the daily cap before generating any
// lead. A reservation is not refunded if a later step fails.
func (o *Outbound) RunOnce(ctx context.Context) (protocol.CycleResult, error) {
	now := o.nowFunc()

	var n int
	state, err := store.UpdateRecord(ctx, o.store, protocol.CycleRecord(protocol.CycleOutboundLead),
		func(cur *protocol.CycleState, _ bool) error {
			cur.RollDaily(now)
			remaining := o.cfg.DailyCap - cur.DailyCounter
			if remaining <= 0 {
				return errCapReached
			}
			n = remaining
			if o.cfg.Batch > 0 && o.cfg.Batch < n {
				n = o.cfg.Batch
			}
			cur.DailyCounter += n
			return nil
		})
	if errors.Is(err, errCapReached) {
		o.logger.Info("daily cap reached", zap.Int("cap", o.cfg.DailyCap))
		return protocol.CycleResult{Skipped: SkipCapReached}, nil
	}
	if err != nil {
		return protocol.CycleResult{}, err
	}

	leads, err := o.leads.Leads(ctx, n)
	if err != nil {
		return protocol.CycleResult{}, fmt.Errorf("generate leads: %w", err)
	}
	if len(leads) > n {
		leads = leads[:n]
	}

	var res protocol.CycleResult
	for _, lead := range leads {
		m, err := o.queue.Enqueue(ctx, protocol.MissionSpec{
			Type:               MissionOutboundOutreach,
			RequiredCapability: "marketing",
			Payload: map[string]any{
				"pillar": o.cfg.Pillar,
				"email":  lead.Email,
				"source": lead.Source,
			},
			Source: "cycle:" + string(protocol.CycleOutboundLead),
		})
		if err != nil {
			return res, fmt.Errorf("enqueue outreach for %s: %w", lead.Email, err)
		}
		rec := outboundRecord{
			Timestamp: now.UTC(),
			Pillar:    o.cfg.Pillar,
			Action:    "OUTBOUND_ATTEMPT",
			Lead:      lead,
			Status:    "QUEUED",
			Mission:   m.ID,
		}
		if _, err := o.store.AppendLog(ctx, protocol.StreamOutbound, rec); err != nil {
			return res, err
		}
		res.Actions++
		res.Missions = append(res.Missions, m.ID)
		o.logger.Info("queued outreach", zap.String("lead", lead.Email), zap.String("mission", m.ID))
	}
	res.Detail = fmt.Sprintf("%d/%d today", state.DailyCounter, o.cfg.DailyCap)
	return res, nil
}
