package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/driftlab/tether/internal/domain"
	"github.com/driftlab/tether/internal/responder"
	"github.com/driftlab/tether/internal/store"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type stubResponder struct {
	decision   responder.Decision
	err        error
	situations []responder.Situation
}

func (s *stubResponder) Generate(_ context.Context, req responder.Request) (responder.Decision, error) {
	s.situations = append(s.situations, req.Situation)
	if s.err != nil {
		return responder.Decision{}, s.err
	}
	return s.decision, nil
}

type recordingDispatcher struct {
	applied []domain.Action
}

func (d *recordingDispatcher) Apply(_ context.Context, _ string, action domain.Action) error {
	d.applied = append(d.applied, action)
	return nil
}

func newTestScheduler(t *testing.T, r responder.Responder, d *recordingDispatcher, opts Options) (*Scheduler, *store.Manager) {
	t.Helper()
	backend, err := store.NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend failed: %v", err)
	}
	sessions := store.NewManager(backend, 50)
	sessions.SetNow(func() time.Time { return base })
	s := New(sessions, r, d, opts)
	s.SetNow(func() time.Time { return base })
	s.SetRand(func() float64 { return 0 })
	return s, sessions
}

// seed creates a session under its per-key lock, applies mutate, and persists.
func seed(t *testing.T, m *store.Manager, key string, mutate func(*domain.Session)) {
	t.Helper()
	sess, release, err := m.GetOrCreate(context.Background(), key, "chan-1")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	defer release()
	if mutate != nil {
		mutate(sess)
	}
	if err := m.Save(context.Background(), key); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
}

func inspect(t *testing.T, m *store.Manager, key string) (*domain.Session, func()) {
	t.Helper()
	sess, release, ok := m.Acquire(key)
	if !ok {
		t.Fatalf("session %q not cached", key)
	}
	return sess, release
}

func countEntries(log []domain.LogEntry, typ domain.EventType) int {
	n := 0
	for _, e := range log {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func TestOutreachFiresAfterLongSilence(t *testing.T) {
	r := &stubResponder{decision: responder.Decision{
		Thought: "haven't heard from them in days",
		Actions: []domain.Action{{Type: "send_message", Params: map[string]any{"content": "hey, still around?"}}},
		Mood:    "curious",
	}}
	d := &recordingDispatcher{}
	s, sessions := newTestScheduler(t, r, d, Options{SilenceThreshold: time.Hour})

	seed(t, sessions, "user-1", func(sess *domain.Session) {
		sess.LastActivityAt = base.Add(-3 * time.Hour)
	})

	s.RunOutreachCycle(context.Background())

	if len(r.situations) != 1 || r.situations[0] != responder.SituationProactive {
		t.Fatalf("situations = %v, want one proactive", r.situations)
	}
	if len(d.applied) != 1 {
		t.Fatalf("applied %d actions, want 1", len(d.applied))
	}
	sess, release := inspect(t, sessions, "user-1")
	defer release()
	if !sess.LastProactiveAt.Equal(base) {
		t.Errorf("LastProactiveAt = %v, want %v", sess.LastProactiveAt, base)
	}
	if got := countEntries(sess.Log, domain.EventProactiveTrigger); got != 1 {
		t.Errorf("proactive_trigger entries = %d, want 1", got)
	}
	if got := countEntries(sess.Log, domain.EventBotPlanning); got != 1 {
		t.Errorf("bot_planning entries = %d, want 1", got)
	}

	// Immediately running again must not fire: the inter-outreach gap applies.
	s.RunOutreachCycle(context.Background())
	if len(r.situations) != 1 {
		t.Errorf("second cycle generated again, situations = %v", r.situations)
	}
}

func TestOutreachSkipsRecentlyContacted(t *testing.T) {
	r := &stubResponder{}
	s, sessions := newTestScheduler(t, r, &recordingDispatcher{}, Options{
		SilenceThreshold:     time.Hour,
		MinProactiveInterval: 12 * time.Hour,
	})

	seed(t, sessions, "user-1", func(sess *domain.Session) {
		sess.LastActivityAt = base.Add(-5 * time.Hour)
		sess.LastProactiveAt = base.Add(-2 * time.Hour)
	})

	s.RunOutreachCycle(context.Background())
	if len(r.situations) != 0 {
		t.Errorf("generated despite recent outreach: %v", r.situations)
	}
}

func TestOutreachRespectsProbability(t *testing.T) {
	r := &stubResponder{}
	s, sessions := newTestScheduler(t, r, &recordingDispatcher{}, Options{
		SilenceThreshold:   time.Hour,
		TriggerProbability: 0.25,
	})
	s.SetRand(func() float64 { return 0.9 })

	seed(t, sessions, "user-1", func(sess *domain.Session) {
		sess.LastActivityAt = base.Add(-3 * time.Hour)
	})

	s.RunOutreachCycle(context.Background())
	if len(r.situations) != 0 {
		t.Errorf("generated despite losing the draw: %v", r.situations)
	}
}

func TestOutreachSuppressedDuringQuietHours(t *testing.T) {
	r := &stubResponder{}
	s, sessions := newTestScheduler(t, r, &recordingDispatcher{}, Options{
		SilenceThreshold: time.Hour,
		QuietHoursStart:  10,
		QuietHoursEnd:    14,
	})

	seed(t, sessions, "user-1", func(sess *domain.Session) {
		sess.LastActivityAt = base.Add(-30 * time.Hour)
	})

	// base is 12:00 UTC, inside the window.
	s.RunOutreachCycle(context.Background())
	if len(r.situations) != 0 {
		t.Errorf("generated during quiet hours: %v", r.situations)
	}
	sess, release := inspect(t, sessions, "user-1")
	defer release()
	if len(sess.Log) != 0 {
		t.Errorf("log has %d entries, want 0", len(sess.Log))
	}
}

func TestQuietHoursWindow(t *testing.T) {
	cases := []struct {
		name       string
		start, end int
		hour       int
		want       bool
	}{
		{"disabled", 0, 0, 3, false},
		{"inside simple window", 1, 8, 3, true},
		{"outside simple window", 1, 8, 12, false},
		{"wraps past midnight, late evening", 22, 6, 23, true},
		{"wraps past midnight, early morning", 22, 6, 5, true},
		{"wraps past midnight, daytime", 22, 6, 12, false},
		{"end hour is exclusive", 1, 8, 8, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &Scheduler{opts: Options{QuietHoursStart: tc.start, QuietHoursEnd: tc.end}}
			at := time.Date(2025, 6, 1, tc.hour, 30, 0, 0, time.UTC)
			if got := s.inQuietHours(at); got != tc.want {
				t.Errorf("inQuietHours(%02d:30) with [%d,%d) = %v, want %v",
					tc.hour, tc.start, tc.end, got, tc.want)
			}
		})
	}
}

func TestOutreachResponderFailureStillRecordsAttempt(t *testing.T) {
	r := &stubResponder{err: errors.New("model unavailable")}
	d := &recordingDispatcher{}
	s, sessions := newTestScheduler(t, r, d, Options{SilenceThreshold: time.Hour})

	seed(t, sessions, "user-1", func(sess *domain.Session) {
		sess.LastActivityAt = base.Add(-3 * time.Hour)
	})

	s.RunOutreachCycle(context.Background())
	if len(d.applied) != 0 {
		t.Errorf("applied %d actions, want 0", len(d.applied))
	}
	sess, release := inspect(t, sessions, "user-1")
	defer release()
	if !sess.LastProactiveAt.Equal(base) {
		t.Errorf("failed attempt not recorded, LastProactiveAt = %v", sess.LastProactiveAt)
	}
}

func TestTimeoutEndsEpisodeWhenDecisionStops(t *testing.T) {
	r := &stubResponder{decision: responder.Decision{
		Thought: "they went quiet, letting it go",
		Actions: []domain.Action{{Type: "send_message", Params: map[string]any{"content": "no rush, ping me whenever"}}},
	}}
	d := &recordingDispatcher{}
	backend, err := store.NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend failed: %v", err)
	}
	sessions := store.NewManager(backend, 50)
	sessions.SetNow(func() time.Time { return base })
	s := New(sessions, r, d, Options{})
	s.SetNow(func() time.Time { return base })

	seed(t, sessions, "user-1", func(sess *domain.Session) {
		sess.StartWaiting("an answer", 300*time.Second, base.Add(-301*time.Second))
	})

	s.RunWaitingCycle(context.Background())

	if len(r.situations) != 1 || r.situations[0] != responder.SituationTimeout {
		t.Fatalf("situations = %v, want one timeout", r.situations)
	}
	if len(d.applied) != 1 {
		t.Errorf("applied %d actions, want 1", len(d.applied))
	}
	sess, release := inspect(t, sessions, "user-1")
	defer release()
	if sess.Status != domain.StatusIdle {
		t.Errorf("status = %q, want idle", sess.Status)
	}
	if sess.Waiting.Active() {
		t.Error("waiting state still active after timeout decision")
	}
	if sess.ConsecutiveTimeouts != 0 {
		t.Errorf("ConsecutiveTimeouts = %d, want 0 when the decision lets go", sess.ConsecutiveTimeouts)
	}

	// The idle outcome must survive a cold reload.
	reloaded := store.NewManager(backend, 50)
	reloaded.SetNow(func() time.Time { return base })
	fresh, release2, err := reloaded.GetOrCreate(context.Background(), "user-1", "chan-1")
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	defer release2()
	if fresh.Status != domain.StatusIdle {
		t.Errorf("reloaded status = %q, want idle", fresh.Status)
	}
}

func TestTimeoutDecisionMayReArm(t *testing.T) {
	r := &stubResponder{decision: responder.Decision{
		Thought:          "one more nudge",
		Actions:          []domain.Action{{Type: "send_message", Params: map[string]any{"content": "still there?"}}},
		ExpectedReaction: "any reply",
		MaxWaitSeconds:   600,
	}}
	s, sessions := newTestScheduler(t, r, &recordingDispatcher{}, Options{})

	seed(t, sessions, "user-1", func(sess *domain.Session) {
		sess.StartWaiting("an answer", 300*time.Second, base.Add(-301*time.Second))
	})

	s.RunWaitingCycle(context.Background())

	sess, release := inspect(t, sessions, "user-1")
	defer release()
	if sess.Status != domain.StatusWaiting {
		t.Fatalf("status = %q, want waiting", sess.Status)
	}
	if sess.Waiting.MaxWait != 600*time.Second {
		t.Errorf("MaxWait = %v, want 600s", sess.Waiting.MaxWait)
	}
	if sess.Waiting.ThinkingCount != 0 {
		t.Errorf("ThinkingCount = %d, want reset to 0", sess.Waiting.ThinkingCount)
	}
	if sess.ConsecutiveTimeouts != 1 {
		t.Errorf("ConsecutiveTimeouts = %d, want 1 after a re-arming timeout", sess.ConsecutiveTimeouts)
	}
}

func TestTimeoutResponderFailureFallsBackToIdle(t *testing.T) {
	r := &stubResponder{err: errors.New("model unavailable")}
	s, sessions := newTestScheduler(t, r, &recordingDispatcher{}, Options{})

	seed(t, sessions, "user-1", func(sess *domain.Session) {
		sess.StartWaiting("an answer", 300*time.Second, base.Add(-301*time.Second))
	})

	s.RunWaitingCycle(context.Background())

	sess, release := inspect(t, sessions, "user-1")
	defer release()
	if sess.Status != domain.StatusIdle {
		t.Errorf("status = %q, want idle after generator failure", sess.Status)
	}
}

func TestRepeatedTimeoutsForceIdleWithoutGeneration(t *testing.T) {
	r := &stubResponder{decision: responder.Decision{MaxWaitSeconds: 600, ExpectedReaction: "any reply"}}
	s, sessions := newTestScheduler(t, r, &recordingDispatcher{}, Options{MaxConsecutiveTimeouts: 3})

	seed(t, sessions, "user-1", func(sess *domain.Session) {
		sess.ConsecutiveTimeouts = 3
		sess.StartWaiting("an answer", 300*time.Second, base.Add(-301*time.Second))
	})

	s.RunWaitingCycle(context.Background())

	if len(r.situations) != 0 {
		t.Errorf("generated despite damping: %v", r.situations)
	}
	sess, release := inspect(t, sessions, "user-1")
	defer release()
	if sess.Status != domain.StatusIdle {
		t.Errorf("status = %q, want idle", sess.Status)
	}
	if sess.ConsecutiveTimeouts != 3 {
		t.Errorf("ConsecutiveTimeouts = %d, want 3", sess.ConsecutiveTimeouts)
	}
}

func TestTimeoutDampingAfterRepeatedReArms(t *testing.T) {
	r := &stubResponder{decision: responder.Decision{
		Thought:          "nudging again",
		ExpectedReaction: "any reply",
		MaxWaitSeconds:   300,
	}}
	s, sessions := newTestScheduler(t, r, &recordingDispatcher{}, Options{MaxConsecutiveTimeouts: 3})

	seed(t, sessions, "user-1", func(sess *domain.Session) {
		sess.StartWaiting("an answer", 300*time.Second, base)
	})

	// Each pass times out the current episode; the decision keeps re-arming
	// until the damping limit forces the fourth pass to end without a call.
	at := base
	for i := 0; i < 4; i++ {
		at = at.Add(301 * time.Second)
		s.SetNow(func() time.Time { return at })
		s.RunWaitingCycle(context.Background())
	}

	if len(r.situations) != 3 {
		t.Errorf("generator called %d times, want 3", len(r.situations))
	}
	sess, release := inspect(t, sessions, "user-1")
	defer release()
	if sess.Status != domain.StatusIdle {
		t.Errorf("status = %q, want idle after damping", sess.Status)
	}
	if sess.ConsecutiveTimeouts != 3 {
		t.Errorf("ConsecutiveTimeouts = %d, want 3", sess.ConsecutiveTimeouts)
	}
}

func TestGuardWindowSkipsFreshSessions(t *testing.T) {
	r := &stubResponder{}
	s, sessions := newTestScheduler(t, r, &recordingDispatcher{}, Options{GuardWindow: 5 * time.Second})

	seed(t, sessions, "user-1", func(sess *domain.Session) {
		sess.StartWaiting("an answer", 300*time.Second, base.Add(-400*time.Second))
		sess.LastActivityAt = base.Add(-2 * time.Second)
	})

	s.RunWaitingCycle(context.Background())
	if len(r.situations) != 0 {
		t.Errorf("acted inside the guard window: %v", r.situations)
	}
}

func TestContinuousThoughtsFireOncePerThreshold(t *testing.T) {
	r := &stubResponder{}
	s, sessions := newTestScheduler(t, r, &recordingDispatcher{}, Options{
		ThinkingThresholds: []float64{0.30, 0.60, 0.85},
		ThinkingSpacing:    30 * time.Second,
	})

	seed(t, sessions, "user-1", func(sess *domain.Session) {
		sess.StartWaiting("an answer", 600*time.Second, base)
	})

	// Sweep the whole episode in 10s steps, stopping short of the timeout.
	for offset := 10 * time.Second; offset < 600*time.Second; offset += 10 * time.Second {
		at := base.Add(offset)
		s.SetNow(func() time.Time { return at })
		s.RunWaitingCycle(context.Background())
	}

	if len(r.situations) != 0 {
		t.Fatalf("thinking updates must not call the generator, got %v", r.situations)
	}
	sess, release := inspect(t, sessions, "user-1")
	defer release()
	if got := countEntries(sess.Log, domain.EventWaitingUpdate); got != 3 {
		t.Fatalf("waiting_update entries = %d, want 3", got)
	}

	var prev time.Time
	for _, e := range sess.Log {
		if e.Type != domain.EventWaitingUpdate {
			continue
		}
		if !prev.IsZero() && e.Timestamp.Sub(prev) < 30*time.Second {
			t.Errorf("updates %v apart, want at least 30s", e.Timestamp.Sub(prev))
		}
		prev = e.Timestamp
	}
	if sess.Waiting.ThinkingCount != 3 {
		t.Errorf("ThinkingCount = %d, want 3", sess.Waiting.ThinkingCount)
	}
	if sess.Status != domain.StatusWaiting {
		t.Errorf("status = %q, want still waiting", sess.Status)
	}
}

func TestThinkingSpacingDelaysCloseThresholds(t *testing.T) {
	r := &stubResponder{}
	s, sessions := newTestScheduler(t, r, &recordingDispatcher{}, Options{
		ThinkingThresholds: []float64{0.10, 0.20},
		ThinkingSpacing:    60 * time.Second,
	})

	seed(t, sessions, "user-1", func(sess *domain.Session) {
		sess.StartWaiting("an answer", 100*time.Second, base)
	})

	// At 30s both thresholds are due but only one may fire.
	at := base.Add(30 * time.Second)
	s.SetNow(func() time.Time { return at })
	s.RunWaitingCycle(context.Background())
	s.RunWaitingCycle(context.Background())

	sess, release := inspect(t, sessions, "user-1")
	defer release()
	if got := countEntries(sess.Log, domain.EventWaitingUpdate); got != 1 {
		t.Errorf("waiting_update entries = %d, want 1", got)
	}
}

func TestWaitingCycleSkipsIdleSessions(t *testing.T) {
	r := &stubResponder{}
	s, sessions := newTestScheduler(t, r, &recordingDispatcher{}, Options{})

	seed(t, sessions, "user-1", nil)

	s.RunWaitingCycle(context.Background())
	if len(r.situations) != 0 {
		t.Errorf("acted on an idle session: %v", r.situations)
	}
}
