package cycle

import (
	"context"
	"fmt"
	"time"

	"ag3/pkg/protocol"
	"ag3/pkg/store"

	"go.uber.org/zap"
)

// MissionPillarDeploy is the mission type enqueued per deployed pillar.
const MissionPillarDeploy = "pillar_deploy"

// Pillar deployment statuses.
const (
	PillarDeploying = "DEPLOYING"
	PillarActive    = "ACTIVE"
)

// Pillar is one catalog entry.
type Pillar struct {
	ID          string
	Type        string
	Name        string
	Offer       string
	Price       float64
	Currency    string
	Marketing   []string
	Fulfillment string
	QA          bool
}

// PillarState is the pillar/<id> record.
type PillarState struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	Offer       string    `json:"offer"`
	Price       float64   `json:"price"`
	Currency    string    `json:"currency"`
	Marketing   []string  `json:"marketing"`
	Fulfillment string    `json:"fulfillment"`
	QA          bool      `json:"qa"`
	Mission     string    `json:"mission,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	ActivatedAt time.Time `json:"activated_at,omitzero"`
}

// PillarDeploy brings every catalog pillar to ACTIVE. Pillars already
// ACTIVE are left alone, so a restart enqueues nothing new. A pillar left
// DEPLOYING by a failed run is deployed again.
type PillarDeploy struct {
	interval time.Duration
	pillars  []Pillar
	store    *store.Store
	queue    Enqueuer
	logger   *zap.Logger

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// NewPillarDeploy creates the pillar-deploy cycle. A zero interval runs it
// once at startup.
func NewPillarDeploy(interval time.Duration, pillars []Pillar, st *store.Store, q Enqueuer, logger *zap.Logger) *PillarDeploy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PillarDeploy{
		interval: interval,
		pillars:  append([]Pillar(nil), pillars...),
		store:    st,
		queue:    q,
		logger:   logger.Named("pillars"),
		nowFunc:  time.Now,
	}
}

// SetNowFunc overrides the clock (tests only).
func (d *PillarDeploy) SetNowFunc(fn func() time.Time) { d.nowFunc = fn }

func (d *PillarDeploy) Kind() protocol.CycleKind { return protocol.CyclePillarDeploy }

func (d *PillarDeploy) Interval() time.Duration { return d.interval }

func (d *PillarDeploy) RunOnce(ctx context.Context) (protocol.CycleResult, error) {
	var res protocol.CycleResult
	for _, p := range d.pillars {
		id, err := d.deploy(ctx, p)
		if err != nil {
			return res, err
		}
		if id == "" {
			continue
		}
		res.Actions++
		res.Missions = append(res.Missions, id)
	}
	res.Detail = fmt.Sprintf("deployed %d of %d pillars", res.Actions, len(d.pillars))
	return res, nil
}

// deploy returns the mission id, or "" when p is already active.
func (d *PillarDeploy) deploy(ctx context.Context, p Pillar) (string, error) {
	name := protocol.PillarRecord(p.ID)
	active := false
	_, err := store.UpdateRecord(ctx, d.store, name, func(cur *PillarState, _ bool) error {
		if cur.Status == PillarActive {
			active = true
			return store.ErrNoChange
		}
		*cur = PillarState{
			ID:          p.ID,
			Name:        p.Name,
			Type:        p.Type,
			Status:      PillarDeploying,
			Offer:       p.Offer,
			Price:       p.Price,
			Currency:    p.Currency,
			Marketing:   p.Marketing,
			Fulfillment: p.Fulfillment,
			QA:          p.QA,
			StartedAt:   d.nowFunc().UTC(),
		}
		return nil
	})
	if err != nil || active {
		return "", err
	}

	m, err := d.queue.Enqueue(ctx, protocol.MissionSpec{
		Type:               MissionPillarDeploy,
		RequiredCapability: "deploy",
		Payload: map[string]any{
			"pillar":      p.ID,
			"name":        p.Name,
			"type":        p.Type,
			"offer":       p.Offer,
			"price":       p.Price,
			"currency":    p.Currency,
			"marketing":   p.Marketing,
			"fulfillment": p.Fulfillment,
			"qa":          p.QA,
		},
		Source: "cycle:" + string(protocol.CyclePillarDeploy),
	})
	if err != nil {
		return "", fmt.Errorf("enqueue deploy for pillar %s: %w", p.ID, err)
	}

	_, err = store.UpdateRecord(ctx, d.store, name, func(cur *PillarState, _ bool) error {
		cur.Status = PillarActive
		cur.Mission = m.ID
		cur.ActivatedAt = d.nowFunc().UTC()
		return nil
	})
	if err != nil {
		return "", err
	}
	d.logger.Info("pillar active", zap.String("pillar", p.ID), zap.String("mission", m.ID))
	return m.ID, nil
}
