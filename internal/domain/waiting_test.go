package domain

import (
	"testing"
	"time"
)

func TestWaitingStateInactiveDefaults(t *testing.T) {
	var w WaitingState

	if w.Active() {
		t.Error("Expected zero waiting state to be inactive")
	}
	if got := w.Elapsed(base); got != 0 {
		t.Errorf("Expected elapsed 0 when inactive, got %v", got)
	}
	if got := w.Progress(base); got != 0 {
		t.Errorf("Expected progress 0 when inactive, got %v", got)
	}
	if w.TimedOut(base) {
		t.Error("Expected inactive state to never time out")
	}
}

func TestWaitingStateProgressBounds(t *testing.T) {
	w := WaitingState{MaxWait: 100 * time.Second, StartedAt: base}

	cases := []struct {
		offset time.Duration
		want   float64
	}{
		{-10 * time.Second, 0}, // clock skew clamps low
		{0, 0},
		{30 * time.Second, 0.3},
		{100 * time.Second, 1},
		{500 * time.Second, 1}, // clamps high
	}
	for _, c := range cases {
		got := w.Progress(base.Add(c.offset))
		if got != c.want {
			t.Errorf("Progress at offset %v: expected %v, got %v", c.offset, c.want, got)
		}
	}
}

func TestWaitingStateProgressIncreasesWithTime(t *testing.T) {
	w := WaitingState{MaxWait: 300 * time.Second, StartedAt: base}

	prev := -1.0
	for offset := time.Duration(0); offset <= 300*time.Second; offset += 10 * time.Second {
		p := w.Progress(base.Add(offset))
		if p < 0 || p > 1 {
			t.Fatalf("Progress out of range at offset %v: %v", offset, p)
		}
		if p < prev {
			t.Fatalf("Progress decreased at offset %v: %v -> %v", offset, prev, p)
		}
		prev = p
	}
}

func TestWaitingStateTimeout(t *testing.T) {
	w := WaitingState{MaxWait: 300 * time.Second, StartedAt: base}

	if w.TimedOut(base.Add(299 * time.Second)) {
		t.Error("Expected no timeout before the budget elapses")
	}
	if !w.TimedOut(base.Add(300 * time.Second)) {
		t.Error("Expected timeout exactly at the budget")
	}
	if !w.TimedOut(base.Add(301 * time.Second)) {
		t.Error("Expected timeout past the budget")
	}
}

func TestWaitingStateZeroMaxWaitNeverActive(t *testing.T) {
	w := WaitingState{StartedAt: base}

	if w.Active() {
		t.Error("Expected state with zero max wait to be inactive")
	}
	w2 := WaitingState{MaxWait: time.Minute}
	if w2.Active() {
		t.Error("Expected state with zero start time to be inactive")
	}
}
