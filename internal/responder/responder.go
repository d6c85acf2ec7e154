// Package responder defines the response-generator collaborator contract:
// given a session and the situation that prompted the call, produce a
// structured decision. Decisions are untrusted input and are normalized
// before the session model sees them.
package responder

import (
	"context"
	"time"

	"github.com/driftlab/tether/internal/domain"
)

// Situation tells the generator why it is being invoked.
type Situation string

const (
	// SituationNewMessage is a message on an idle session.
	SituationNewMessage Situation = "new_message"
	// SituationReplyInTime is a reaction that arrived within the wait budget.
	SituationReplyInTime Situation = "reply_in_time"
	// SituationReplyLate is a reaction that arrived after the wait budget.
	SituationReplyLate Situation = "reply_late"
	// SituationTimeout is a waiting episode that ran out.
	SituationTimeout Situation = "timeout"
	// SituationProactive is bot-initiated outreach after long silence.
	SituationProactive Situation = "proactive"
)

// MaxWaitCapSeconds bounds max_wait_seconds from any generator.
const MaxWaitCapSeconds = 6 * 3600

// Request carries everything the generator may consult. Session is read
// under the caller's per-key lock and must not be retained.
type Request struct {
	Session   *domain.Session
	Situation Situation
	// Silence is set for proactive requests: how long the counterpart
	// has been quiet.
	Silence time.Duration
}

// Decision is the structured result of a generation call. An empty Actions
// list means "do nothing".
type Decision struct {
	Thought          string          `json:"thought"`
	Actions          []domain.Action `json:"actions"`
	ExpectedReaction string          `json:"expected_reaction"`
	MaxWaitSeconds   int             `json:"max_wait_seconds"`
	Mood             string          `json:"mood"`
}

// IsNoop reports whether the decision requests no visible effect.
func (d Decision) IsNoop() bool {
	return len(d.Actions) == 0
}

// Normalized clamps untrusted fields to sane values: max_wait_seconds into
// [0, MaxWaitCapSeconds] and empty-typed actions dropped.
func (d Decision) Normalized() Decision {
	if d.MaxWaitSeconds < 0 {
		d.MaxWaitSeconds = 0
	}
	if d.MaxWaitSeconds > MaxWaitCapSeconds {
		d.MaxWaitSeconds = MaxWaitCapSeconds
	}
	if len(d.Actions) > 0 {
		kept := make([]domain.Action, 0, len(d.Actions))
		for _, a := range d.Actions {
			if a.Type != "" {
				kept = append(kept, a)
			}
		}
		d.Actions = kept
	}
	return d
}

// Responder generates decisions. Implementations own their timeout behavior;
// callers treat any error as an ordinary failure, never a crash.
type Responder interface {
	Generate(ctx context.Context, req Request) (Decision, error)
}

// Silent is a Responder that always decides to do nothing. Used when no
// generator is configured so the service still records sessions.
type Silent struct{}

func (Silent) Generate(context.Context, Request) (Decision, error) {
	return Decision{}, nil
}
