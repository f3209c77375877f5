package timer

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// timerEntry tracks information about a scheduled wake
type timerEntry struct {
	cancel      func()
	scheduledAt time.Time
	expiresAt   time.Time
}

// WakeTimer schedules in-process wake callbacks for the reminder cycle. All
// arming and cancellation is idempotent: cancelling an unknown or already
// fired id is a no-op, never an error.
type WakeTimer struct {
	clock  Clock
	timers map[string]*timerEntry
	mu     sync.RWMutex
	nextID int64
}

// NewWakeTimer creates a WakeTimer driven by the given clock.
func NewWakeTimer(clock Clock) *WakeTimer {
	slog.Debug("Creating WakeTimer")
	return &WakeTimer{
		clock:  clock,
		timers: make(map[string]*timerEntry),
	}
}

// ScheduleAfter schedules fn to run after a delay and returns the timer id.
func (t *WakeTimer) ScheduleAfter(delay time.Duration, fn func()) (string, error) {
	t.mu.Lock()
	t.nextID++
	id := fmt.Sprintf("wake_%d", t.nextID)
	t.mu.Unlock()

	slog.Debug("WakeTimer ScheduleAfter", "id", id, "delay", delay)

	now := t.clock.Now()
	cancel := t.clock.AfterFunc(delay, func() {
		slog.Debug("WakeTimer firing", "id", id)
		t.mu.Lock()
		delete(t.timers, id)
		t.mu.Unlock()
		fn()
	})

	t.mu.Lock()
	t.timers[id] = &timerEntry{
		cancel:      cancel,
		scheduledAt: now,
		expiresAt:   now.Add(delay),
	}
	t.mu.Unlock()
	return id, nil
}

// ScheduleAt schedules fn to run at a specific time. A time in the past
// fires after a zero delay rather than being dropped.
func (t *WakeTimer) ScheduleAt(when time.Time, fn func()) (string, error) {
	delay := when.Sub(t.clock.Now())
	if delay < 0 {
		slog.Warn("WakeTimer ScheduleAt: time is in the past, firing immediately", "when", when)
		delay = 0
	}
	return t.ScheduleAfter(delay, fn)
}

// Cancel cancels a scheduled wake by id.
func (t *WakeTimer) Cancel(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, exists := t.timers[id]; exists {
		entry.cancel()
		delete(t.timers, id)
		slog.Debug("WakeTimer Cancel succeeded", "id", id)
		return nil
	}
	slog.Debug("WakeTimer Cancel: timer not found", "id", id)
	return nil
}

// Stop cancels all scheduled wakes.
func (t *WakeTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	slog.Debug("WakeTimer stopping all timers", "count", len(t.timers))
	for _, entry := range t.timers {
		entry.cancel()
	}
	t.timers = make(map[string]*timerEntry)
}

// ExpiresAt returns the deadline of a pending wake, or the zero time when
// the id is unknown.
func (t *WakeTimer) ExpiresAt(id string) time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if entry, exists := t.timers[id]; exists {
		return entry.expiresAt
	}
	return time.Time{}
}

// ActiveCount returns the number of pending wakes.
func (t *WakeTimer) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.timers)
}
