package timer

import (
	"testing"
	"time"
)

func TestWakeTimerFires(t *testing.T) {
	clock := NewFakeClock(time.Unix(1000, 0))
	wt := NewWakeTimer(clock)

	fired := 0
	id, err := wt.ScheduleAfter(30*time.Second, func() { fired++ })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "" {
		t.Fatal("expected a timer id")
	}
	if wt.ActiveCount() != 1 {
		t.Fatalf("expected 1 active timer, got %d", wt.ActiveCount())
	}

	clock.Advance(29 * time.Second)
	if fired != 0 {
		t.Fatal("timer fired early")
	}
	clock.Advance(time.Second)
	if fired != 1 {
		t.Fatalf("expected 1 firing, got %d", fired)
	}
	if wt.ActiveCount() != 0 {
		t.Errorf("fired timer should be cleaned up, %d remain", wt.ActiveCount())
	}
}

func TestWakeTimerCancelPreventsFiring(t *testing.T) {
	clock := NewFakeClock(time.Unix(1000, 0))
	wt := NewWakeTimer(clock)

	fired := false
	id, _ := wt.ScheduleAfter(time.Minute, func() { fired = true })
	if err := wt.Cancel(id); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	clock.Advance(2 * time.Minute)
	if fired {
		t.Error("cancelled timer fired")
	}

	// Cancelling again, or cancelling an unknown id, is a no-op.
	if err := wt.Cancel(id); err != nil {
		t.Errorf("double cancel should be a no-op, got %v", err)
	}
	if err := wt.Cancel("wake_999"); err != nil {
		t.Errorf("cancel of unknown id should be a no-op, got %v", err)
	}
}

func TestWakeTimerScheduleAtPast(t *testing.T) {
	clock := NewFakeClock(time.Unix(1000, 0))
	wt := NewWakeTimer(clock)

	fired := false
	if _, err := wt.ScheduleAt(clock.Now().Add(-time.Minute), func() { fired = true }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clock.Advance(0)
	if !fired {
		t.Error("past deadline should fire on the next advance")
	}
}

func TestWakeTimerStopCancelsAll(t *testing.T) {
	clock := NewFakeClock(time.Unix(1000, 0))
	wt := NewWakeTimer(clock)

	fired := 0
	wt.ScheduleAfter(time.Second, func() { fired++ })
	wt.ScheduleAfter(2*time.Second, func() { fired++ })
	wt.Stop()

	clock.Advance(time.Minute)
	if fired != 0 {
		t.Errorf("expected no firings after Stop, got %d", fired)
	}
}

func TestFakeClockOrdering(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	var order []int
	clock.AfterFunc(2*time.Second, func() { order = append(order, 2) })
	clock.AfterFunc(time.Second, func() { order = append(order, 1) })
	clock.AfterFunc(3*time.Second, func() { order = append(order, 3) })

	clock.Advance(5 * time.Second)
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("expected deadline order [1 2 3], got %v", order)
	}
	if !clock.Now().Equal(time.Unix(5, 0)) {
		t.Errorf("clock should land on the advance target, got %v", clock.Now())
	}
}
