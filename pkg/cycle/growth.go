package cycle

import (
	"context"
	"fmt"
	"time"

	"ag3/pkg/protocol"
	"ag3/pkg/store"

	"go.uber.org/zap"
)

// Growth phases.
const (
	PhasePreLaunch   = "PRE_LAUNCH"
	PhasePrivateBeta = "PRIVATE_BETA"
)

// growthAction is one recommendation of the growth cycle and the
// capability that handles it.
type growthAction struct {
	Name       string
	Capability string
}

var growthActions = []growthAction{
	{"IDENTIFY_NEXT_BETA_USERS", "analysis"},
	{"SEND_INVITE_RECOMMENDATIONS", "marketing"},
	{"MONITOR_CONVERSION", "monitor"},
	{"PREPARE_PRICE_INCREASE", "analysis"},
}

// MissionGrowthAction is the mission type enqueued per growth action.
const MissionGrowthAction = "growth_action"

// GrowthState is the growth/state snapshot.
type GrowthState struct {
	Timestamp          time.Time `json:"timestamp"`
	Phase              string    `json:"phase"`
	MaxSubscribers     int       `json:"maxSubscribers,omitempty"`
	CurrentSubscribers int64     `json:"currentSubscribers"`
	Actions            []string  `json:"actions,omitempty"`
}

// GrowthDecisions is the growth/decisions snapshot.
type GrowthDecisions struct {
	Timestamp    time.Time `json:"timestamp"`
	AllowInvites bool      `json:"allowInvites"`
	InviteCount  int       `json:"inviteCount"`
	Notes        string    `json:"notes,omitempty"`
}

// GrowthConfig holds Growth configuration.
type GrowthConfig struct {
	Interval       time.Duration // default 24h
	MaxSubscribers int           // private beta ceiling (default 10)
	InviteCount    int           // invites recommended per cycle (default 3)
}

func (c *GrowthConfig) withDefaults() GrowthConfig {
	out := *c
	if out.Interval == 0 {
		out.Interval = 24 * time.Hour
	}
	if out.MaxSubscribers == 0 {
		out.MaxSubscribers = 10
	}
	if out.InviteCount == 0 {
		out.InviteCount = 3
	}
	return out
}

// Growth writes the growth snapshots and, once launched, enqueues one
// mission per growth action.
type Growth struct {
	cfg    GrowthConfig
	store  *store.Store
	gate   LaunchGate
	queue  Enqueuer
	logger *zap.Logger

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// NewGrowth creates the growth cycle.
func NewGrowth(cfg GrowthConfig, st *store.Store, gate LaunchGate, q Enqueuer, logger *zap.Logger) *Growth {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Growth{
		cfg:     cfg.withDefaults(),
		store:   st,
		gate:    gate,
		queue:   q,
		logger:  logger.Named("growth"),
		nowFunc: time.Now,
	}
}

// SetNowFunc overrides the clock (tests only).
func (g *Growth) SetNowFunc(fn func() time.Time) { g.nowFunc = fn }

func (g *Growth) Kind() protocol.CycleKind { return protocol.CycleGrowth }

func (g *Growth) Interval() time.Duration { return g.cfg.Interval }

func (g *Growth) RunOnce(ctx context.Context) (protocol.CycleResult, error) {
	now := g.nowFunc().UTC()

	if !g.gate.Launched(ctx) {
		st := GrowthState{Timestamp: now, Phase: PhasePreLaunch}
		if err := g.store.PutRecord(ctx, protocol.RecordGrowthState, st); err != nil {
			return protocol.CycleResult{}, err
		}
		return protocol.CycleResult{Skipped: "not launched"}, nil
	}

	subs, err := g.store.EventTally(ctx, protocol.EventCheckoutCompleted)
	if err != nil {
		return protocol.CycleResult{}, err
	}

	names := make([]string, len(growthActions))
	for i, a := range growthActions {
		names[i] = a.Name
	}
	st := GrowthState{
		Timestamp:          now,
		Phase:              PhasePrivateBeta,
		MaxSubscribers:     g.cfg.MaxSubscribers,
		CurrentSubscribers: subs,
		Actions:            names,
	}
	dec := GrowthDecisions{
		Timestamp:    now,
		AllowInvites: subs < int64(g.cfg.MaxSubscribers),
		InviteCount:  g.cfg.InviteCount,
		Notes:        "Growth operating within private beta limits.",
	}
	if !dec.AllowInvites {
		dec.InviteCount = 0
		dec.Notes = "Private beta is full."
	}
	if err := g.store.PutRecord(ctx, protocol.RecordGrowthState, st); err != nil {
		return protocol.CycleResult{}, err
	}
	if err := g.store.PutRecord(ctx, protocol.RecordGrowthDecisions, dec); err != nil {
		return protocol.CycleResult{}, err
	}

	res := protocol.CycleResult{Detail: fmt.Sprintf("%d/%d subscribers", subs, g.cfg.MaxSubscribers)}
	for _, a := range growthActions {
		payload := map[string]any{
			"action":             a.Name,
			"phase":              PhasePrivateBeta,
			"currentSubscribers": subs,
			"maxSubscribers":     g.cfg.MaxSubscribers,
		}
		if a.Name == "SEND_INVITE_RECOMMENDATIONS" {
			payload["allowInvites"] = dec.AllowInvites
			payload["inviteCount"] = dec.InviteCount
		}
		m, err := g.queue.Enqueue(ctx, protocol.MissionSpec{
			Type:               MissionGrowthAction,
			RequiredCapability: a.Capability,
			Payload:            payload,
			Source:             "cycle:" + string(protocol.CycleGrowth),
		})
		if err != nil {
			return res, fmt.Errorf("enqueue %s: %w", a.Name, err)
		}
		res.Actions++
		res.Missions = append(res.Missions, m.ID)
	}
	g.logger.Info("growth cycle complete",
		zap.String("phase", PhasePrivateBeta),
		zap.Int64("subscribers", subs),
		zap.Bool("allow_invites", dec.AllowInvites))
	return res, nil
}
