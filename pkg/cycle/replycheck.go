package cycle

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"ag3/pkg/mail"
	"ag3/pkg/protocol"
	"ag3/pkg/store"

	"go.uber.org/zap"
)

// MissionReplyFollowup is enqueued for every interested reply.
const MissionReplyFollowup = "reply_followup"

// maxSnippet bounds the stored reply text, in runes.
const maxSnippet = 300

var (
	wordYes = regexp.MustCompile(`\byes\b`)
	wordNo  = regexp.MustCompile(`\bno\b`)
)

// Classify sorts a reply body into one of three classes. Phrases are
// checked before single words so "not interested" is never read as
// interested.
func Classify(text string) protocol.ReplyClass {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "not interested"):
		return protocol.ReplyNotInterested
	case strings.Contains(t, "interested"), wordYes.MatchString(t):
		return protocol.ReplyInterested
	case wordNo.MatchString(t):
		return protocol.ReplyNotInterested
	default:
		return protocol.ReplyQuestion
	}
}

func snippet(s string) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) > maxSnippet {
		r = r[:maxSnippet]
	}
	return string(r)
}

// replyRecord is one entry in the replies log stream.
type replyRecord struct {
	Timestamp      time.Time           `json:"ts"`
	From           string              `json:"from"`
	Subject        string              `json:"subject"`
	Classification protocol.ReplyClass `json:"classification"`
	Snippet        string              `json:"snippet"`
	Mission        string              `json:"mission,omitempty"`
}

// ReplyCheck classifies unseen replies and follows up on interested ones.
type ReplyCheck struct {
	interval time.Duration
	source   mail.Source
	store    *store.Store
	queue    Enqueuer
	logger   *zap.Logger

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// NewReplyCheck creates the reply-check cycle. A zero interval means ten
// minutes.
func NewReplyCheck(interval time.Duration, src mail.Source, st *store.Store, q Enqueuer, logger *zap.Logger) *ReplyCheck {
	if interval == 0 {
		interval = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReplyCheck{
		interval: interval,
		source:   src,
		store:    st,
		queue:    q,
		logger:   logger.Named("replies"),
		nowFunc:  time.Now,
	}
}

// SetNowFunc overrides the clock (tests only).
func (r *ReplyCheck) SetNowFunc(fn func() time.Time) { r.nowFunc = fn }

func (r *ReplyCheck) Kind() protocol.CycleKind { return protocol.CycleReplyCheck }

func (r *ReplyCheck) Interval() time.Duration { return r.interval }

// RunOnce processes whatever the source returned even when it also
// reported an error, then returns that error.
func (r *ReplyCheck) RunOnce(ctx context.Context) (protocol.CycleResult, error) {
	msgs, fetchErr := r.source.FetchUnseen(ctx)

	var res protocol.CycleResult
	for _, msg := range msgs {
		rec := replyRecord{
			Timestamp:      r.nowFunc().UTC(),
			From:           msg.From,
			Subject:        msg.Subject,
			Classification: Classify(msg.Text),
			Snippet:        snippet(msg.Text),
		}
		if rec.From == "" {
			rec.From = "unknown"
		}

		if rec.Classification == protocol.ReplyInterested {
			m, err := r.queue.Enqueue(ctx, protocol.MissionSpec{
				Type:               MissionReplyFollowup,
				RequiredCapability: "marketing",
				Payload: map[string]any{
					"from":      rec.From,
					"subject":   rec.Subject,
					"messageId": msg.ID,
				},
				Source: "cycle:" + string(protocol.CycleReplyCheck),
			})
			if err != nil {
				return res, fmt.Errorf("enqueue follow-up for %s: %w", rec.From, err)
			}
			rec.Mission = m.ID
			res.Missions = append(res.Missions, m.ID)
		}

		if _, err := r.store.AppendLog(ctx, protocol.StreamReplies, rec); err != nil {
			return res, err
		}
		res.Actions++
		r.logger.Info("reply classified",
			zap.String("from", rec.From), zap.String("class", string(rec.Classification)))
	}

	if fetchErr != nil {
		return res, fmt.Errorf("fetch replies: %w", fetchErr)
	}
	return res, nil
}
