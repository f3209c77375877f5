package cycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/EchoNotify/EchoNotify/internal/models"
	"github.com/EchoNotify/EchoNotify/internal/registry"
	"github.com/EchoNotify/EchoNotify/internal/timer"
	"github.com/EchoNotify/EchoNotify/internal/wakelock"
)

type fakePlayback struct {
	mu         sync.Mutex
	plays      int
	interrupts int
	lastRinger models.RingerMode
}

// Play completes synchronously; the controller must tolerate the
// completion callback firing before Play returns.
func (p *fakePlayback) Play(cfg models.ReminderConfig, ringer models.RingerMode, onComplete func()) {
	p.mu.Lock()
	p.plays++
	p.lastRinger = ringer
	p.mu.Unlock()
	if onComplete != nil {
		onComplete()
	}
}

func (p *fakePlayback) Interrupt() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interrupts++
}

func (p *fakePlayback) playCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.plays
}

type fakeAlerter struct {
	mu      sync.Mutex
	posts   int
	cancels int
}

func (a *fakeAlerter) Post(count int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.posts++
	return nil
}

func (a *fakeAlerter) Cancel() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancels++
	return nil
}

func (a *fakeAlerter) postCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.posts
}

type fakeEnv struct {
	mu     sync.Mutex
	ringer models.RingerMode
	dnd    bool
	call   bool
	screen bool
}

func (e *fakeEnv) RingerMode() models.RingerMode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ringer
}

func (e *fakeEnv) DNDEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dnd
}

func (e *fakeEnv) CallActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.call
}

func (e *fakeEnv) ScreenOn() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.screen
}

func (e *fakeEnv) set(fn func(*fakeEnv)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e)
}

// fixture wires a controller with fakes and runs its loop for the duration
// of the test.
type fixture struct {
	clock   *timer.FakeClock
	wake    *timer.WakeTimer
	reg     *registry.Registry
	pb      *fakePlayback
	lock    *wakelock.Mock
	alerter *fakeAlerter
	env     *fakeEnv
	ctrl    *Controller

	cfgMu sync.Mutex
	cfg   models.ReminderConfig
}

func baseConfig() models.ReminderConfig {
	return models.ReminderConfig{
		Enabled:         true,
		IntervalSeconds: 60,
		Packages:        []string{"org.chat.app"},
	}
}

func newFixture(t *testing.T, cfg models.ReminderConfig, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		clock:   timer.NewFakeClock(time.Unix(1_000_000, 0)),
		reg:     registry.New(),
		pb:      &fakePlayback{},
		lock:    wakelock.NewMock(),
		alerter: &fakeAlerter{},
		env:     &fakeEnv{ringer: models.RingerNormal},
		cfg:     cfg,
	}
	f.wake = timer.NewWakeTimer(f.clock)
	f.ctrl = New(f.reg, f.pb, f.lock, f.wake, f.clock, f.alerter, f.env, f.config, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.ctrl.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return f
}

func (f *fixture) config() models.ReminderConfig {
	f.cfgMu.Lock()
	defer f.cfgMu.Unlock()
	return f.cfg
}

func (f *fixture) setConfig(fn func(*models.ReminderConfig)) {
	f.cfgMu.Lock()
	fn(&f.cfg)
	f.cfgMu.Unlock()
}

func record(key, pkg string, postedAt int64) models.NotificationRecord {
	return models.NotificationRecord{Key: key, Package: pkg, PostedAt: postedAt, FoundAt: postedAt}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// fireWake waits for the pending wake to be armed and advances the clock
// past the interval.
func (f *fixture) fireWake(t *testing.T) {
	t.Helper()
	waitFor(t, "wake to be armed", func() bool { return f.wake.ActiveCount() == 1 })
	f.clock.Advance(f.config().Interval())
}

func TestCycleStartsOnActionableNotification(t *testing.T) {
	f := newFixture(t, baseConfig())

	f.ctrl.Dispatch(models.Event{Type: models.EventPosted, Record: record("k1", "org.chat.app", 100)})
	waitFor(t, "cycle to start", func() bool { return f.ctrl.Status().Active })

	status := f.ctrl.Status()
	if status.ActiveCount != 1 {
		t.Errorf("expected 1 active notification, got %d", status.ActiveCount)
	}
	if status.NextWakeAt == 0 {
		t.Error("active cycle must expose its next wake time")
	}
}

func TestCycleIgnoresUnselectedPackages(t *testing.T) {
	f := newFixture(t, baseConfig())

	f.ctrl.Dispatch(models.Event{Type: models.EventPosted, Record: record("k1", "org.other.app", 100)})
	waitFor(t, "record to be tracked", func() bool { return f.ctrl.Status().ActiveCount == 1 })

	if f.ctrl.Status().Active {
		t.Error("cycle must not start for a package outside the selected set")
	}
}

func TestCycleStopsAfterRepeatExhaustion(t *testing.T) {
	cfg := baseConfig()
	cfg.LimitRepeats = true
	cfg.Repeats = 2
	f := newFixture(t, cfg)

	f.ctrl.Dispatch(models.Event{Type: models.EventPosted, Record: record("k1", "org.chat.app", 100)})
	waitFor(t, "cycle to start", func() bool { return f.ctrl.Status().Active })

	// With a budget of 2, the first two wakes play and the third stops
	// the cycle without playing.
	f.fireWake(t)
	waitFor(t, "first playback", func() bool { return f.pb.playCount() == 1 })
	f.fireWake(t)
	waitFor(t, "second playback", func() bool { return f.pb.playCount() == 2 })
	f.fireWake(t)
	waitFor(t, "cycle to stop", func() bool { return !f.ctrl.Status().Active })

	if got := f.pb.playCount(); got != 2 {
		t.Errorf("expected exactly 2 playbacks, got %d", got)
	}
	if reason := f.ctrl.Status().StoppedReason; reason != StopReasonExhausted {
		t.Errorf("expected stop reason %q, got %q", StopReasonExhausted, reason)
	}
	if f.wake.ActiveCount() != 0 {
		t.Error("no wake may remain armed after exhaustion")
	}
}

func TestNewNotificationRenewsRepeatBudget(t *testing.T) {
	cfg := baseConfig()
	cfg.LimitRepeats = true
	cfg.Repeats = 5
	f := newFixture(t, cfg)

	f.ctrl.Dispatch(models.Event{Type: models.EventPosted, Record: record("k1", "org.chat.app", 100)})
	waitFor(t, "cycle to start", func() bool { return f.ctrl.Status().Active })

	for i := 1; i <= 4; i++ {
		f.fireWake(t)
		waitFor(t, "playback", func() bool { return f.pb.playCount() == i })
	}
	waitFor(t, "budget to run down", func() bool { return f.ctrl.Status().RemainingRepeats == 1 })

	// A genuinely new notification resets the countdown mid-cycle.
	f.ctrl.Dispatch(models.Event{Type: models.EventPosted, Record: record("k2", "org.chat.app", 200)})
	waitFor(t, "budget renewal", func() bool { return f.ctrl.Status().RemainingRepeats == 5 })

	if !f.ctrl.Status().Active {
		t.Error("cycle must stay active through a budget renewal")
	}
}

func TestRepostOfSameNotificationDoesNotRenewBudget(t *testing.T) {
	cfg := baseConfig()
	cfg.LimitRepeats = true
	cfg.Repeats = 5
	f := newFixture(t, cfg)

	f.ctrl.Dispatch(models.Event{Type: models.EventPosted, Record: record("k1", "org.chat.app", 100)})
	waitFor(t, "cycle to start", func() bool { return f.ctrl.Status().Active })

	f.fireWake(t)
	waitFor(t, "playback", func() bool { return f.pb.playCount() == 1 })
	waitFor(t, "budget decrement", func() bool { return f.ctrl.Status().RemainingRepeats == 4 })

	// Same key, same posting time: an update, not fresh urgency.
	f.ctrl.Dispatch(models.Event{Type: models.EventPosted, Record: record("k1", "org.chat.app", 100)})
	waitFor(t, "wake to be rearmed", func() bool { return f.wake.ActiveCount() == 1 })

	if got := f.ctrl.Status().RemainingRepeats; got != 4 {
		t.Errorf("repost must not renew the budget, got remaining=%d", got)
	}
}

func TestStopWhenLastNotificationRemoved(t *testing.T) {
	f := newFixture(t, baseConfig())

	rec := record("k1", "org.chat.app", 100)
	f.ctrl.Dispatch(models.Event{Type: models.EventPosted, Record: rec})
	waitFor(t, "cycle to start", func() bool { return f.ctrl.Status().Active })

	f.ctrl.Dispatch(models.Event{Type: models.EventRemoved, Record: rec})
	waitFor(t, "cycle to stop", func() bool { return !f.ctrl.Status().Active })

	if reason := f.ctrl.Status().StoppedReason; reason != StopReasonConditionGone {
		t.Errorf("expected stop reason %q, got %q", StopReasonConditionGone, reason)
	}

	// The cancelled wake must never fire: advancing past the interval
	// produces no playback.
	f.clock.Advance(2 * f.config().Interval())
	time.Sleep(20 * time.Millisecond)
	if got := f.pb.playCount(); got != 0 {
		t.Errorf("stopped cycle must not play, got %d playbacks", got)
	}
}

func TestUserDismissIgnoresAllActive(t *testing.T) {
	f := newFixture(t, baseConfig())

	f.ctrl.Dispatch(models.Event{Type: models.EventPosted, Record: record("k1", "org.chat.app", 100)})
	f.ctrl.Dispatch(models.Event{Type: models.EventPosted, Record: record("k2", "org.chat.app", 200)})
	waitFor(t, "cycle to start", func() bool {
		s := f.ctrl.Status()
		return s.Active && s.ActiveCount == 2
	})

	f.ctrl.Dispatch(models.Event{Type: models.EventUserDismissed})
	waitFor(t, "cycle to stop", func() bool { return !f.ctrl.Status().Active })

	if got := f.ctrl.Status().IgnoredCount; got != 2 {
		t.Errorf("expected 2 ignored keys, got %d", got)
	}
	if reason := f.ctrl.Status().StoppedReason; reason != StopReasonUserDismissed {
		t.Errorf("expected stop reason %q, got %q", StopReasonUserDismissed, reason)
	}

	// Reposting an ignored notification must not restart the cycle, but a
	// genuinely new one must.
	f.ctrl.Dispatch(models.Event{Type: models.EventPosted, Record: record("k1", "org.chat.app", 100)})
	time.Sleep(20 * time.Millisecond)
	if f.ctrl.Status().Active {
		t.Fatal("ignored notification must not restart the cycle")
	}
	f.ctrl.Dispatch(models.Event{Type: models.EventPosted, Record: record("k3", "org.chat.app", 300)})
	waitFor(t, "cycle restart on new notification", func() bool { return f.ctrl.Status().Active })
}

func TestRingerChangeToSilentStopsCycle(t *testing.T) {
	cfg := baseConfig()
	cfg.RespectRingerMode = true
	f := newFixture(t, cfg)

	f.ctrl.Dispatch(models.Event{Type: models.EventPosted, Record: record("k1", "org.chat.app", 100)})
	waitFor(t, "cycle to start", func() bool { return f.ctrl.Status().Active })

	f.env.set(func(e *fakeEnv) { e.ringer = models.RingerSilent })
	f.ctrl.Dispatch(models.Event{Type: models.EventRingerChanged})
	waitFor(t, "cycle to stop", func() bool { return !f.ctrl.Status().Active })

	if f.wake.ActiveCount() != 0 {
		t.Error("pending wake must be cancelled when the guard fails")
	}

	// Back to normal: the still-present notification restarts the cycle.
	f.env.set(func(e *fakeEnv) { e.ringer = models.RingerNormal })
	f.ctrl.Dispatch(models.Event{Type: models.EventRingerChanged})
	waitFor(t, "cycle restart", func() bool { return f.ctrl.Status().Active })
}

func TestCallSkipsPlaybackAndReschedules(t *testing.T) {
	cfg := baseConfig()
	cfg.RespectCalls = true
	f := newFixture(t, cfg)

	f.ctrl.Dispatch(models.Event{Type: models.EventPosted, Record: record("k1", "org.chat.app", 100)})
	waitFor(t, "cycle to start", func() bool { return f.ctrl.Status().Active })

	f.env.set(func(e *fakeEnv) { e.call = true })
	f.fireWake(t)
	waitFor(t, "wake to be rearmed after skip", func() bool { return f.wake.ActiveCount() == 1 })

	if got := f.pb.playCount(); got != 0 {
		t.Errorf("playback must be skipped during a call, got %d", got)
	}
	if !f.ctrl.Status().Active {
		t.Error("cycle must stay active across a call skip")
	}

	f.env.set(func(e *fakeEnv) { e.call = false })
	f.fireWake(t)
	waitFor(t, "playback after call ends", func() bool { return f.pb.playCount() == 1 })
}

func TestScreenOnSkipsPlayback(t *testing.T) {
	cfg := baseConfig()
	cfg.RemindWhenScreenOn = false
	f := newFixture(t, cfg)
	f.env.set(func(e *fakeEnv) { e.screen = true })

	f.ctrl.Dispatch(models.Event{Type: models.EventPosted, Record: record("k1", "org.chat.app", 100)})
	waitFor(t, "cycle to start", func() bool { return f.ctrl.Status().Active })

	f.fireWake(t)
	waitFor(t, "wake to be rearmed after skip", func() bool { return f.wake.ActiveCount() == 1 })
	if got := f.pb.playCount(); got != 0 {
		t.Errorf("playback must be skipped while the screen is on, got %d", got)
	}
}

func TestDismissNotificationPostedPerWake(t *testing.T) {
	cfg := baseConfig()
	cfg.DismissNotification = true
	cfg.DismissImmediately = true
	f := newFixture(t, cfg)

	f.ctrl.Dispatch(models.Event{Type: models.EventPosted, Record: record("k1", "org.chat.app", 100)})
	waitFor(t, "immediate dismiss notification", func() bool { return f.alerter.postCount() == 1 })

	f.fireWake(t)
	waitFor(t, "dismiss notification after wake", func() bool { return f.alerter.postCount() == 2 })
}

func TestDismissNotificationDeferredUntilFirstWake(t *testing.T) {
	cfg := baseConfig()
	cfg.DismissNotification = true
	cfg.DismissImmediately = false
	f := newFixture(t, cfg)

	f.ctrl.Dispatch(models.Event{Type: models.EventPosted, Record: record("k1", "org.chat.app", 100)})
	waitFor(t, "cycle to start", func() bool { return f.ctrl.Status().Active })

	if got := f.alerter.postCount(); got != 0 {
		t.Fatalf("dismiss notification must wait for the first wake, got %d posts", got)
	}
	f.fireWake(t)
	waitFor(t, "dismiss notification after first wake", func() bool { return f.alerter.postCount() == 1 })
}

func TestReconcileSnapshotDrivesCycle(t *testing.T) {
	f := newFixture(t, baseConfig())

	f.ctrl.Dispatch(models.Event{Type: models.EventReconcile, Snapshot: []models.NotificationRecord{
		record("k1", "org.chat.app", 100),
		record("k2", "org.mail.app", 200),
	}})
	waitFor(t, "cycle to start from snapshot", func() bool {
		s := f.ctrl.Status()
		return s.Active && s.ActiveCount == 2
	})

	// An empty snapshot drains the registry and stops the cycle.
	f.ctrl.Dispatch(models.Event{Type: models.EventReconcile, Snapshot: nil})
	waitFor(t, "cycle to stop on empty snapshot", func() bool { return !f.ctrl.Status().Active })
}

func TestSchedulerDefersWakeOutsideWindow(t *testing.T) {
	cfg := baseConfig()
	cfg.SchedulerEnabled = true
	cfg.SchedulerMode = models.SchedulerModeWorking
	cfg.RangeBeginMinutes = 0
	cfg.RangeEndMinutes = 24*60 - 1
	f := newFixture(t, cfg)

	f.ctrl.Dispatch(models.Event{Type: models.EventPosted, Record: record("k1", "org.chat.app", 100)})
	waitFor(t, "cycle to start", func() bool { return f.ctrl.Status().Active })

	// The whole day is inside the window, so the wake stays at the naive
	// interval and playback happens on schedule.
	f.fireWake(t)
	waitFor(t, "playback inside window", func() bool { return f.pb.playCount() == 1 })
}

func TestForceWakeLockHeldAcrossInterval(t *testing.T) {
	cfg := baseConfig()
	cfg.ForceWakeLock = true
	f := newFixture(t, cfg)

	f.ctrl.Dispatch(models.Event{Type: models.EventPosted, Record: record("k1", "org.chat.app", 100)})
	waitFor(t, "cycle to start", func() bool { return f.ctrl.Status().Active })

	if !f.lock.Held() {
		t.Error("force-wakelock cycle must hold the lock while a wake is pending")
	}

	rec := record("k1", "org.chat.app", 100)
	f.ctrl.Dispatch(models.Event{Type: models.EventRemoved, Record: rec})
	waitFor(t, "cycle to stop", func() bool { return !f.ctrl.Status().Active })
	if f.lock.Held() {
		t.Error("stopping the cycle must release the wakelock")
	}
}

func TestSeedSnapshotDoesNotTriggerStart(t *testing.T) {
	f := newFixture(t, models.ReminderConfig{IntervalSeconds: 60, Packages: []string{"org.chat.app"}})

	// Disabled config: seeded records are tracked, nothing starts.
	f.ctrl.SeedSnapshot([]models.NotificationRecord{record("k1", "org.chat.app", 100)})
	waitFor(t, "seeded record to be tracked", func() bool { return len(f.ctrl.ActiveNotifications()) == 1 })
	if f.ctrl.Status().Active {
		t.Error("seeding must not start a cycle on its own")
	}
}

func TestCompletionPulseFires(t *testing.T) {
	pulses := make(chan struct{}, 8)
	cfg := baseConfig()
	f := newFixture(t, cfg, WithOnCompleted(func() { pulses <- struct{}{} }))

	f.ctrl.Dispatch(models.Event{Type: models.EventPosted, Record: record("k1", "org.chat.app", 100)})
	waitFor(t, "cycle to start", func() bool { return f.ctrl.Status().Active })
	f.fireWake(t)

	select {
	case <-pulses:
	case <-time.After(2 * time.Second):
		t.Fatal("completion pulse never fired")
	}
}
