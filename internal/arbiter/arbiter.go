// Package arbiter is the foreground entry point: it classifies newly arrived
// messages against the session's waiting state, consults the response
// generator, applies the resulting actions, and persists the session.
package arbiter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/driftlab/tether/internal/dispatch"
	"github.com/driftlab/tether/internal/domain"
	"github.com/driftlab/tether/internal/responder"
	"github.com/driftlab/tether/internal/store"
)

// InboundMessage is one abstract message from a protocol adapter.
type InboundMessage struct {
	ID            string
	CounterpartID string
	ChannelID     string
	SenderID      string
	SenderName    string
	Content       string
	Timestamp     time.Time
}

// NewInboundMessage builds a message with a fresh ID; a zero timestamp is
// stamped with now.
func NewInboundMessage(counterpartID, channelID, senderID, senderName, content string, ts time.Time) InboundMessage {
	if ts.IsZero() {
		ts = time.Now()
	}
	return InboundMessage{
		ID:            uuid.NewString(),
		CounterpartID: counterpartID,
		ChannelID:     channelID,
		SenderID:      senderID,
		SenderName:    senderName,
		Content:       content,
		Timestamp:     ts,
	}
}

// Arbiter handles inbound message batches for one process.
type Arbiter struct {
	sessions   *store.Manager
	responder  responder.Responder
	dispatcher dispatch.Dispatcher
	now        func() time.Time
}

// New creates an arbiter.
func New(sessions *store.Manager, r responder.Responder, d dispatch.Dispatcher) *Arbiter {
	return &Arbiter{
		sessions:   sessions,
		responder:  r,
		dispatcher: d,
		now:        time.Now,
	}
}

// SetNow overrides the clock. Test hook.
func (a *Arbiter) SetNow(now func() time.Time) {
	a.now = now
}

// HandleInbound processes one batch of messages for a single counterpart.
// Internal failures degrade to silence: the counterpart never sees an error.
func (a *Arbiter) HandleInbound(ctx context.Context, msgs []InboundMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	key := msgs[0].CounterpartID
	if key == "" {
		return fmt.Errorf("inbound message without counterpart id")
	}

	s, release, err := a.sessions.GetOrCreate(ctx, key, msgs[0].ChannelID)
	if err != nil {
		return fmt.Errorf("obtain session %s: %w", key, err)
	}
	defer release()

	now := a.now()
	situation := classify(s, now)

	for _, m := range msgs {
		s.RecordUserMessage(m.Content, m.SenderName, m.SenderID, m.Timestamp, now)
	}

	decision, err := a.responder.Generate(ctx, responder.Request{
		Session:   s,
		Situation: situation,
	})
	if err != nil {
		slog.Error("Response generation failed, degrading to silence",
			"counterpart_id", key, "situation", situation, "error", err)
		if s.Waiting.Active() {
			s.EndWaiting(now)
		}
		a.persist(ctx, key)
		return nil
	}
	decision = decision.Normalized()

	a.applyDecision(ctx, s, decision)
	a.persist(ctx, key)
	return nil
}

// applyDecision dispatches actions, records the planning entry, and arms or
// ends the waiting episode. Caller holds the session's per-key lock.
func (a *Arbiter) applyDecision(ctx context.Context, s *domain.Session, decision responder.Decision) {
	dispatch.ApplyAll(ctx, a.dispatcher, s.ChannelID, decision.Actions)

	now := a.now()
	s.RecordBotPlanning(decision.Thought, decision.Actions, decision.ExpectedReaction,
		decision.MaxWaitSeconds, decision.Mood, now)

	if decision.MaxWaitSeconds > 0 {
		s.StartWaiting(decision.ExpectedReaction, time.Duration(decision.MaxWaitSeconds)*time.Second, now)
	} else {
		s.EndWaiting(now)
	}
}

func (a *Arbiter) persist(ctx context.Context, key string) {
	if err := a.sessions.Save(ctx, key); err != nil {
		// In-memory state stays authoritative.
		slog.Error("Failed to persist session", "counterpart_id", key, "error", err)
	}
}

// classify names the situation for the response generator based on the
// session's waiting state at arrival time.
func classify(s *domain.Session, now time.Time) responder.Situation {
	if s.Status == domain.StatusWaiting && s.Waiting.Active() {
		if s.Waiting.TimedOut(now) {
			return responder.SituationReplyLate
		}
		return responder.SituationReplyInTime
	}
	return responder.SituationNewMessage
}
