// Package ingest turns verified inbound events into missions.
//
// Every event id is recorded durably before any mission is created, so a
// redelivered or concurrently delivered event yields at most one mission.
// Event types without a template are accepted and dropped. Accepted events
// are also tallied per type in a record that outlives seen-set pruning.
package ingest

import (
	"context"
	"fmt"

	"ag3/pkg/protocol"
	"ag3/pkg/store"

	"go.uber.org/zap"
)

// ReasonNoTemplate is reported for accepted events of an unknown type.
const ReasonNoTemplate = "no template"

// Enqueuer accepts new missions.
type Enqueuer interface {
	Enqueue(ctx context.Context, spec protocol.MissionSpec) (protocol.Mission, error)
}

// Ingestor is the EventIngestor.
type Ingestor struct {
	store  *store.Store
	table  Table
	queue  Enqueuer
	logger *zap.Logger
}

// New creates an Ingestor. A nil table uses DefaultTable.
func New(st *store.Store, table Table, q Enqueuer, logger *zap.Logger) *Ingestor {
	if table == nil {
		table = DefaultTable()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{store: st, table: table, queue: q, logger: logger.Named("ingest")}
}

// Consume records ev as seen and, for a first delivery of a known type,
// enqueues its mission. The caller is responsible for authenticity.
func (i *Ingestor) Consume(ctx context.Context, ev protocol.Event) (protocol.IngestResult, error) {
	if ev.ID == "" || ev.Type == "" {
		return protocol.IngestResult{}, fmt.Errorf("consume event: id and type are required: %w", protocol.ErrInvalidRequest)
	}

	fresh, err := i.store.MarkEventSeen(ctx, ev.ID, ev.Type)
	if err != nil {
		return protocol.IngestResult{}, fmt.Errorf("consume event %s: %w", ev.ID, err)
	}
	if !fresh {
		i.logger.Info("duplicate event", zap.String("event", ev.ID), zap.String("type", ev.Type))
		return protocol.IngestResult{Accepted: true, Deduped: true}, nil
	}

	tmpl, ok := i.table.Lookup(ev.Type)
	if !ok {
		i.logger.Info("event has no mission template", zap.String("event", ev.ID), zap.String("type", ev.Type))
		i.tally(ctx, ev)
		return protocol.IngestResult{Accepted: true, Unroutable: true, Reason: ReasonNoTemplate}, nil
	}

	var payload map[string]any
	if tmpl.Project != nil {
		payload = tmpl.Project(ev)
	}
	m, err := i.queue.Enqueue(ctx, protocol.MissionSpec{
		Type:               tmpl.MissionType,
		RequiredCapability: tmpl.Capability,
		Payload:            payload,
		Source:             "event:" + ev.Type,
	})
	if err != nil {
		// Let a redelivery try again.
		if ferr := i.store.ForgetEvent(context.WithoutCancel(ctx), ev.ID); ferr != nil {
			i.logger.Error("forget event after failed enqueue", zap.String("event", ev.ID), zap.Error(ferr))
		}
		return protocol.IngestResult{}, fmt.Errorf("consume event %s: %w", ev.ID, err)
	}

	i.tally(ctx, ev)
	i.logger.Info("event accepted",
		zap.String("event", ev.ID),
		zap.String("type", ev.Type),
		zap.String("mission", m.ID))
	return protocol.IngestResult{Accepted: true, Mission: &m}, nil
}

// tally bumps the per-type count of accepted events. The event is already
// accepted, so a failure is logged rather than returned.
func (i *Ingestor) tally(ctx context.Context, ev protocol.Event) {
	if _, err := i.store.BumpEventTally(context.WithoutCancel(ctx), ev.Type, ev.ID); err != nil {
		i.logger.Error("bump event tally", zap.String("event", ev.ID), zap.String("type", ev.Type), zap.Error(err))
	}
}
