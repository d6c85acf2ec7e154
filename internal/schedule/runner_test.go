package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunnerFiresRegisteredTasks(t *testing.T) {
	r := NewRunner()
	var count atomic.Int64
	r.Every("counter", 10*time.Millisecond, time.Second, func(context.Context) {
		count.Add(1)
	})

	r.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	r.Stop()

	got := count.Load()
	if got < 3 {
		t.Errorf("Expected at least 3 cycles in 100ms at 10ms interval, got %d", got)
	}
}

func TestRunnerStopPreventsFurtherCycles(t *testing.T) {
	r := NewRunner()
	var count atomic.Int64
	r.Every("counter", 10*time.Millisecond, time.Second, func(context.Context) {
		count.Add(1)
	})

	r.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	r.Stop()

	settled := count.Load()
	time.Sleep(50 * time.Millisecond)
	if got := count.Load(); got != settled {
		t.Errorf("Expected no cycles after Stop, got %d more", got-settled)
	}
}

func TestRunnerCycleTimeoutCancelsContext(t *testing.T) {
	r := NewRunner()
	cancelled := make(chan struct{}, 1)
	r.Every("slow", 10*time.Millisecond, 20*time.Millisecond, func(ctx context.Context) {
		select {
		case <-ctx.Done():
			select {
			case cancelled <- struct{}{}:
			default:
			}
		case <-time.After(time.Second):
		}
	})

	r.Start(context.Background())
	defer r.Stop()

	select {
	case <-cancelled:
	case <-time.After(500 * time.Millisecond):
		t.Error("Expected cycle context to be cancelled by the per-cycle timeout")
	}
}

func TestRunnerParentContextCancellation(t *testing.T) {
	r := NewRunner()
	var count atomic.Int64
	r.Every("counter", 10*time.Millisecond, time.Second, func(context.Context) {
		count.Add(1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	cancel()
	r.Stop() // must not hang

	settled := count.Load()
	time.Sleep(30 * time.Millisecond)
	if got := count.Load(); got != settled {
		t.Errorf("Expected no cycles after parent cancellation, got %d more", got-settled)
	}
}

func TestRunnerIgnoresRegistrationAfterStart(t *testing.T) {
	r := NewRunner()
	r.Start(context.Background())
	defer r.Stop()

	var count atomic.Int64
	r.Every("late", 10*time.Millisecond, time.Second, func(context.Context) {
		count.Add(1)
	})
	time.Sleep(50 * time.Millisecond)

	if got := count.Load(); got != 0 {
		t.Errorf("Expected late registration to be ignored, got %d cycles", got)
	}
}
