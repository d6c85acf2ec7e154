package domain

import "time"

// WaitingState tracks a single waiting episode: the bot has said something
// and expects a reaction within a bounded time.
type WaitingState struct {
	ExpectedReaction string
	MaxWait          time.Duration
	StartedAt        time.Time // zero when inactive
	LastThinkingAt   time.Time // zero until the first continuous-thought update
	ThinkingCount    int
}

// Active reports whether a waiting episode is in progress.
func (w WaitingState) Active() bool {
	return w.MaxWait > 0 && !w.StartedAt.IsZero()
}

// Elapsed returns how long the episode has been running, or 0 when inactive.
func (w WaitingState) Elapsed(now time.Time) time.Duration {
	if !w.Active() {
		return 0
	}
	d := now.Sub(w.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}

// Progress returns the fraction of the wait budget consumed, clamped to [0, 1].
func (w WaitingState) Progress(now time.Time) float64 {
	if !w.Active() {
		return 0
	}
	p := float64(w.Elapsed(now)) / float64(w.MaxWait)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// TimedOut reports whether the episode has run past its wait budget.
func (w WaitingState) TimedOut(now time.Time) bool {
	return w.Active() && w.Elapsed(now) >= w.MaxWait
}
