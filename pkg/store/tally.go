package store

import (
	"context"

	"ag3/pkg/protocol"
)

// BumpEventTally counts one more accepted delivery of eventType and returns
// the new tally.
func (s *Store) BumpEventTally(ctx context.Context, eventType, id string) (protocol.EventTally, error) {
	return UpdateRecord(ctx, s, protocol.EventTallyRecord(eventType), func(t *protocol.EventTally, _ bool) error {
		t.Count++
		t.LastEventID = id
		t.UpdatedAt = s.now().UTC()
		return nil
	})
}

// EventTally returns how many events of eventType were ever accepted.
// Pruning the seen set does not change it.
func (s *Store) EventTally(ctx context.Context, eventType string) (int64, error) {
	var t protocol.EventTally
	if _, err := s.GetRecord(ctx, protocol.EventTallyRecord(eventType), &t); err != nil {
		return 0, err
	}
	return t.Count, nil
}
