// Package scheduler advances sessions in the background: waiting-timeout and
// continuous-thought progression on a short period, and proactive outreach
// after long silence on a long one. Both scan the store and drive the same
// response-generator/action-dispatcher path as the foreground arbiter.
package scheduler

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/driftlab/tether/internal/dispatch"
	"github.com/driftlab/tether/internal/domain"
	"github.com/driftlab/tether/internal/responder"
	"github.com/driftlab/tether/internal/store"
)

// Options are the tuning knobs for both background processes.
type Options struct {
	// GuardWindow skips sessions touched this recently; avoids starting a
	// slow background decision on a session the arbiter is about to handle.
	GuardWindow time.Duration
	// ThinkingThresholds are waiting-progress fractions, ascending, at which
	// a continuous-thought update fires at most once each.
	ThinkingThresholds []float64
	// ThinkingSpacing is the minimum gap between two continuous thoughts.
	ThinkingSpacing time.Duration
	// MaxConsecutiveTimeouts forces a waiting episode to end instead of
	// re-arming after this many timeouts in a row.
	MaxConsecutiveTimeouts int

	// SilenceThreshold is the minimum quiet period before outreach.
	SilenceThreshold time.Duration
	// MinProactiveInterval is the minimum gap between outreach attempts.
	MinProactiveInterval time.Duration
	// TriggerProbability is the per-cycle chance an eligible session
	// actually fires, in [0, 1].
	TriggerProbability float64
	// QuietHoursStart/End suppress outreach within the daily window
	// [Start, End), hours 0-23; equal values disable the window.
	QuietHoursStart int
	QuietHoursEnd   int
}

func (o Options) withDefaults() Options {
	if o.GuardWindow <= 0 {
		o.GuardWindow = 5 * time.Second
	}
	if len(o.ThinkingThresholds) == 0 {
		o.ThinkingThresholds = []float64{0.30, 0.60, 0.85}
	}
	if o.ThinkingSpacing <= 0 {
		o.ThinkingSpacing = 30 * time.Second
	}
	if o.MaxConsecutiveTimeouts <= 0 {
		o.MaxConsecutiveTimeouts = 3
	}
	if o.SilenceThreshold <= 0 {
		o.SilenceThreshold = 2 * time.Hour
	}
	if o.MinProactiveInterval <= 0 {
		o.MinProactiveInterval = 12 * time.Hour
	}
	if o.TriggerProbability <= 0 || o.TriggerProbability > 1 {
		o.TriggerProbability = 0.25
	}
	return o
}

// Scheduler owns the two background processes.
type Scheduler struct {
	sessions   *store.Manager
	responder  responder.Responder
	dispatcher dispatch.Dispatcher
	opts       Options

	now       func() time.Time
	randFloat func() float64
}

// New creates a scheduler; zero option fields get defaults.
func New(sessions *store.Manager, r responder.Responder, d dispatch.Dispatcher, opts Options) *Scheduler {
	return &Scheduler{
		sessions:   sessions,
		responder:  r,
		dispatcher: d,
		opts:       opts.withDefaults(),
		now:        time.Now,
		randFloat:  rand.Float64,
	}
}

// SetNow overrides the clock. Test hook.
func (s *Scheduler) SetNow(now func() time.Time) { s.now = now }

// SetRand overrides the probability draw. Test hook.
func (s *Scheduler) SetRand(f func() float64) { s.randFloat = f }

// RunWaitingCycle advances every waiting session that is due: timeout
// decisions and continuous-thought updates. One failing session does not
// prevent the rest of the scan from being processed.
func (s *Scheduler) RunWaitingCycle(ctx context.Context) {
	for _, key := range s.sessions.ListWaiting() {
		if ctx.Err() != nil {
			return
		}
		s.advanceWaiting(ctx, key)
	}
}

func (s *Scheduler) advanceWaiting(ctx context.Context, key string) {
	sess, release, ok := s.sessions.Acquire(key)
	if !ok {
		return
	}
	defer release()

	now := s.now()
	// Eligibility is re-checked under the lock: the arbiter may have
	// handled this session between the snapshot and now.
	if sess.Status != domain.StatusWaiting || !sess.Waiting.Active() {
		return
	}
	if now.Sub(sess.LastActivityAt) < s.opts.GuardWindow {
		return
	}

	if sess.Waiting.TimedOut(now) {
		s.handleTimeout(ctx, key, sess, now)
		return
	}
	s.advanceThinking(ctx, key, sess, now)
}

func (s *Scheduler) handleTimeout(ctx context.Context, key string, sess *domain.Session, now time.Time) {
	if sess.ConsecutiveTimeouts >= s.opts.MaxConsecutiveTimeouts {
		slog.Info("Ending waiting episode after repeated timeouts",
			"counterpart_id", key, "consecutive_timeouts", sess.ConsecutiveTimeouts)
		sess.EndWaiting(now)
		s.persist(ctx, key)
		return
	}

	decision, err := s.responder.Generate(ctx, responder.Request{
		Session:   sess,
		Situation: responder.SituationTimeout,
	})
	if err != nil {
		// Fail safe: never leave a session stuck in WAITING.
		slog.Error("Timeout decision failed, ending waiting episode",
			"counterpart_id", key, "error", err)
		sess.EndWaiting(now)
		s.persist(ctx, key)
		return
	}
	decision = decision.Normalized()

	dispatch.ApplyAll(ctx, s.dispatcher, sess.ChannelID, decision.Actions)
	sess.RecordBotPlanning(decision.Thought, decision.Actions, decision.ExpectedReaction,
		decision.MaxWaitSeconds, decision.Mood, now)

	if decision.MaxWaitSeconds > 0 {
		// Only a re-armed episode counts toward the damping limit; an
		// episode the decision ends is the generator letting go.
		sess.ConsecutiveTimeouts++
		sess.StartWaiting(decision.ExpectedReaction, time.Duration(decision.MaxWaitSeconds)*time.Second, now)
	} else {
		sess.EndWaiting(now)
	}
	s.persist(ctx, key)
}

// advanceThinking fires a continuous-thought update when progress has
// crossed a not-yet-fired threshold and the spacing gap has passed.
func (s *Scheduler) advanceThinking(ctx context.Context, key string, sess *domain.Session, now time.Time) {
	progress := sess.Waiting.Progress(now)
	due := 0
	for _, threshold := range s.opts.ThinkingThresholds {
		if progress >= threshold {
			due++
		}
	}
	if sess.Waiting.ThinkingCount >= due {
		return
	}
	if !sess.Waiting.LastThinkingAt.IsZero() &&
		now.Sub(sess.Waiting.LastThinkingAt) < s.opts.ThinkingSpacing {
		return
	}

	narration := responder.Narrate(progress, sess.Waiting.Elapsed(now), sess.Waiting.ExpectedReaction)
	sess.RecordWaitingUpdate(narration.Thought, narration.Mood, now)
	sess.Waiting.ThinkingCount++
	sess.Waiting.LastThinkingAt = now
	s.persist(ctx, key)
}

// RunOutreachCycle reaches out to idle counterparts that have been silent
// long enough. The whole cycle is suppressed during quiet hours.
func (s *Scheduler) RunOutreachCycle(ctx context.Context) {
	if s.inQuietHours(s.now()) {
		slog.Debug("Outreach suppressed during quiet hours")
		return
	}
	for _, key := range s.sessions.ListAll() {
		if ctx.Err() != nil {
			return
		}
		s.considerOutreach(ctx, key)
	}
}

func (s *Scheduler) considerOutreach(ctx context.Context, key string) {
	sess, release, ok := s.sessions.Acquire(key)
	if !ok {
		return
	}
	defer release()

	now := s.now()
	if sess.Status != domain.StatusIdle {
		return
	}
	silence := sess.Silence(now)
	if silence < s.opts.GuardWindow || silence < s.opts.SilenceThreshold {
		return
	}
	if !sess.LastProactiveAt.IsZero() && now.Sub(sess.LastProactiveAt) < s.opts.MinProactiveInterval {
		return
	}
	// Probabilistic damping so an eligible session does not fire on every
	// single cycle.
	if s.randFloat() >= s.opts.TriggerProbability {
		return
	}

	decision, err := s.responder.Generate(ctx, responder.Request{
		Session:   sess,
		Situation: responder.SituationProactive,
		Silence:   silence,
	})
	if err != nil {
		// Treated as a "do nothing" decision: record the attempt so the
		// next cycle does not immediately retry.
		slog.Error("Proactive decision failed", "counterpart_id", key, "error", err)
		sess.RecordProactiveTrigger(silence, now)
		s.persist(ctx, key)
		return
	}
	decision = decision.Normalized()

	sess.RecordProactiveTrigger(silence, now)
	if decision.IsNoop() {
		slog.Info("Proactive decision chose silence", "counterpart_id", key, "silence", silence)
		s.persist(ctx, key)
		return
	}

	dispatch.ApplyAll(ctx, s.dispatcher, sess.ChannelID, decision.Actions)
	sess.RecordBotPlanning(decision.Thought, decision.Actions, decision.ExpectedReaction,
		decision.MaxWaitSeconds, decision.Mood, now)
	if decision.MaxWaitSeconds > 0 {
		sess.StartWaiting(decision.ExpectedReaction, time.Duration(decision.MaxWaitSeconds)*time.Second, now)
	}
	s.persist(ctx, key)
}

// inQuietHours reports whether t falls in the configured daily window,
// handling windows that wrap past midnight.
func (s *Scheduler) inQuietHours(t time.Time) bool {
	start, end := s.opts.QuietHoursStart, s.opts.QuietHoursEnd
	if start == end {
		return false
	}
	h := t.Hour()
	if start < end {
		return h >= start && h < end
	}
	return h >= start || h < end
}

func (s *Scheduler) persist(ctx context.Context, key string) {
	if err := s.sessions.Save(ctx, key); err != nil {
		slog.Error("Failed to persist session", "counterpart_id", key, "error", err)
	}
}
