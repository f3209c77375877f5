// Package cycle implements the reminder cycle controller, the state machine
// that decides when reminder wakes are scheduled and drives playback.
//
// The controller is a single-goroutine actor: every external trigger, from
// whatever thread it originates on, is handed off through Dispatch and
// processed in arrival order on the Run loop. Stop transitions cancel
// pending wake mechanisms synchronously before returning control, so no
// stale wake can fire after an explicit stop.
package cycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/EchoNotify/EchoNotify/internal/condition"
	"github.com/EchoNotify/EchoNotify/internal/models"
	"github.com/EchoNotify/EchoNotify/internal/registry"
	"github.com/EchoNotify/EchoNotify/internal/schedule"
	"github.com/EchoNotify/EchoNotify/internal/timer"
	"github.com/EchoNotify/EchoNotify/internal/wakelock"
)

// Stop reasons recorded in the cycle status.
const (
	StopReasonExhausted     = "exhausted"
	StopReasonConditionGone = "condition_gone"
	StopReasonUserDismissed = "user_dismissed"
	StopReasonShutdown      = "shutdown"
)

// Playback runs one reminder playback at a time; see the playback package.
type Playback interface {
	Play(cfg models.ReminderConfig, ringer models.RingerMode, onComplete func())
	Interrupt()
}

// Alerter posts and cancels the auxiliary dismiss notification. Posting
// with the same identifier replaces any existing one.
type Alerter interface {
	Post(count int) error
	Cancel() error
}

// Environment answers on-demand questions about the session state.
type Environment interface {
	RingerMode() models.RingerMode
	DNDEnabled() bool
	CallActive() bool
	ScreenOn() bool
}

// IgnoreStore persists the ignored set and the reminder history. All
// methods are optional conveniences; a nil store disables persistence.
type IgnoreStore interface {
	LoadIgnored(ctx context.Context) ([]string, error)
	SaveIgnored(ctx context.Context, keys []string) error
	AddHistory(ctx context.Context, entry models.HistoryEntry) error
}

// Controller owns the cycle state. Construct with New, feed events through
// Dispatch, and drive it with Run.
type Controller struct {
	registry *registry.Registry
	eval     condition.Evaluator
	playback Playback
	lock     wakelock.Lock
	wake     *timer.WakeTimer
	clock    timer.Clock
	alerter  Alerter
	env      Environment
	config   func() models.ReminderConfig

	store       IgnoreStore
	onCompleted func()
	closer      func([]models.NotificationRecord)

	events      chan models.Event
	completions chan struct{}
	stopped     chan struct{}

	ignored *models.IgnoredSet

	// Loop-owned state; only the Run goroutine touches these.
	active       bool
	remaining    int
	wakeID       string
	nextWakeAt   time.Time
	initializing bool
	lastPlayback time.Time
	stopReason   string

	statusMu sync.RWMutex
	status   models.CycleStatus
}

// Option configures optional controller collaborators.
type Option func(*Controller)

// WithStore enables persistence of the ignored set and reminder history.
func WithStore(s IgnoreStore) Option {
	return func(c *Controller) { c.store = s }
}

// WithOnCompleted registers the completion pulse fired after each playback.
func WithOnCompleted(fn func()) Option {
	return func(c *Controller) { c.onCompleted = fn }
}

// WithNotificationCloser registers a hook that closes the reminded
// notifications themselves when the user dismisses the reminder and the
// dismiss-along-reminded toggle is on.
func WithNotificationCloser(fn func([]models.NotificationRecord)) Option {
	return func(c *Controller) { c.closer = fn }
}

// New creates a Controller in the Idle state.
func New(reg *registry.Registry, pb Playback, lock wakelock.Lock, wake *timer.WakeTimer, clock timer.Clock, alerter Alerter, env Environment, config func() models.ReminderConfig, opts ...Option) *Controller {
	c := &Controller{
		registry:     reg,
		playback:     pb,
		lock:         lock,
		wake:         wake,
		clock:        clock,
		alerter:      alerter,
		env:          env,
		config:       config,
		events:       make(chan models.Event, 128),
		completions:  make(chan struct{}, 4),
		stopped:      make(chan struct{}),
		ignored:      models.NewIgnoredSet(),
		initializing: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dispatch hands an event off into the serialized controller context.
// Events are processed in arrival order. Dispatching after shutdown drops
// the event.
func (c *Controller) Dispatch(ev models.Event) {
	select {
	case c.events <- ev:
	case <-c.stopped:
		slog.Debug("Controller.Dispatch: dropped event after shutdown", "type", ev.Type)
	}
}

// SeedSnapshot upserts already-present notifications before Run starts,
// without triggering repeat-count renewal: notifications that predate the
// service are not fresh urgency.
func (c *Controller) SeedSnapshot(records []models.NotificationRecord) {
	for _, rec := range records {
		c.registry.RecordPosted(rec)
	}
	slog.Debug("Controller.SeedSnapshot", "count", len(records))
}

// Run processes events until the context is cancelled, then force-stops.
func (c *Controller) Run(ctx context.Context) error {
	slog.Info("Controller starting")
	defer close(c.stopped)

	if c.store != nil {
		loadCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		keys, err := c.store.LoadIgnored(loadCtx)
		cancel()
		if err != nil {
			slog.Warn("Controller: failed to load ignored set", "error", err)
		} else if len(keys) > 0 {
			c.ignored.Replace(keys)
			slog.Info("Controller: loaded persisted ignored set", "count", len(keys))
		}
	}

	// Service is ready: the first start opportunity.
	c.initializing = false
	c.tryStart("service_ready")

	for {
		select {
		case <-ctx.Done():
			c.forceStop()
			slog.Info("Controller stopped")
			return nil
		case ev := <-c.events:
			c.handleEvent(ev)
		case <-c.completions:
			c.onPlaybackComplete()
		}
	}
}

// Status returns the externally observable cycle summary.
func (c *Controller) Status() models.CycleStatus {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.status
}

// ActiveNotifications returns the currently tracked notifications.
func (c *Controller) ActiveNotifications() []models.NotificationRecord {
	return c.registry.Snapshot()
}

// IgnoredKeys returns the currently ignored notification keys.
func (c *Controller) IgnoredKeys() []string {
	return c.ignored.Keys()
}

func (c *Controller) handleEvent(ev models.Event) {
	slog.Debug("Controller.handleEvent", "type", ev.Type)
	switch ev.Type {
	case models.EventPosted:
		c.handlePosted(ev.Record, false)
	case models.EventRemoved:
		c.handleRemoved(ev.Record)
	case models.EventReconcile:
		posted, removed := c.registry.Reconcile(ev.Snapshot)
		for _, rec := range posted {
			c.handlePosted(rec, true)
		}
		for _, rec := range removed {
			c.afterRemoved(rec)
		}
	case models.EventConfigChanged:
		c.reevaluate("config:" + ev.ConfigKey)
	case models.EventRingerChanged:
		c.reevaluate("ringer_changed")
	case models.EventDndChanged:
		c.reevaluate("dnd_changed")
	case models.EventCallChanged:
		c.reevaluate("call_changed")
	case models.EventUserDismissed:
		c.userDismissed()
	case models.EventWakeFired:
		c.onWakeFired()
	default:
		slog.Warn("Controller.handleEvent: unknown event type", "type", ev.Type)
	}
	c.publishStatus()
}

// handlePosted upserts the record (unless the registry already applied it
// during a reconcile) and renews urgency for selected packages.
func (c *Controller) handlePosted(rec models.NotificationRecord, viaReconcile bool) {
	if err := rec.Validate(); err != nil {
		slog.Warn("Controller.handlePosted: rejecting invalid record", "error", err)
		return
	}
	isNew := viaReconcile
	if !viaReconcile {
		_, isNew = c.registry.RecordPosted(rec)
	}
	if c.initializing || !isNew {
		return
	}

	cfg := c.config()
	if !cfg.PackageSelected(rec.Package) {
		return
	}
	// A fresh notification renews the badge of urgency: the remaining
	// repeat budget resets even while a countdown is in progress.
	if cfg.LimitRepeats {
		c.remaining = cfg.Repeats
		slog.Debug("Controller.handlePosted: repeat budget renewed", "key", rec.Key, "repeats", cfg.Repeats)
	}
	c.tryStart("notification_posted")
}

func (c *Controller) handleRemoved(rec models.NotificationRecord) {
	c.registry.RecordRemoved(rec)
	c.afterRemoved(rec)
}

func (c *Controller) afterRemoved(rec models.NotificationRecord) {
	if !c.active {
		return
	}
	if !c.eval.HasActionable(c.registry.Snapshot(), c.ignored, c.config()) {
		slog.Info("Controller: no actionable notification remains", "removed_key", rec.Key)
		c.stop(StopReasonConditionGone)
	}
}

// tryStart runs the Idle->Active guard. Guard evaluation failures are
// contained: the cycle stays (or returns to) Idle instead of crashing the
// host process.
func (c *Controller) tryStart(trigger string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Controller.tryStart: guard evaluation panicked", "trigger", trigger, "panic", r)
			c.active = false
			c.cancelWake()
		}
	}()

	if c.active {
		return
	}
	cfg := c.config()
	ringer := c.env.RingerMode()
	if !c.eval.CanStartReminder(cfg, ringer, c.env.DNDEnabled()) {
		slog.Debug("Controller.tryStart: environment forbids reminders", "trigger", trigger, "ringer", ringer)
		return
	}
	if !c.eval.HasActionable(c.registry.Snapshot(), c.ignored, cfg) {
		slog.Debug("Controller.tryStart: nothing actionable", "trigger", trigger)
		return
	}

	c.active = true
	c.stopReason = ""
	if cfg.LimitRepeats {
		c.remaining = cfg.Repeats
	}
	slog.Info("Controller: reminder cycle started", "trigger", trigger, "interval_s", cfg.IntervalSeconds, "limit_repeats", cfg.LimitRepeats)
	c.armWake(cfg, false)
}

// reevaluate is the Active->Active transition: cancel the pending wake and
// re-run the start guard so changed values take effect immediately. A cycle
// that does not pass the guard anymore gets the full stop treatment so no
// wakelock or dismiss notification outlives it.
func (c *Controller) reevaluate(trigger string) {
	wasActive := c.active
	if wasActive {
		slog.Debug("Controller.reevaluate: restarting active cycle", "trigger", trigger)
		c.cancelWake()
		c.active = false
	}
	c.tryStart(trigger)
	if wasActive && !c.active {
		c.stop(StopReasonConditionGone)
	}
}

// onWakeFired is the heart of the cycle: decrement the repeat budget,
// apply environment skips, and run playback.
func (c *Controller) onWakeFired() {
	if !c.active {
		slog.Debug("Controller.onWakeFired: stale wake ignored")
		return
	}
	c.wakeID = ""
	c.nextWakeAt = time.Time{}
	cfg := c.config()

	if cfg.LimitRepeats {
		c.remaining--
		if c.remaining < 0 {
			slog.Info("Controller: repeat budget exhausted")
			c.stop(StopReasonExhausted)
			return
		}
	}

	count := c.registry.Len()
	if cfg.RespectCalls && c.env.CallActive() {
		slog.Info("Controller: call in progress, skipping playback")
		c.recordHistory(count, true)
		c.armWake(cfg, true)
		return
	}
	if !cfg.RemindWhenScreenOn && c.env.ScreenOn() {
		slog.Debug("Controller: screen is on, skipping playback")
		c.recordHistory(count, true)
		c.armWake(cfg, true)
		return
	}

	c.lastPlayback = c.clock.Now()
	c.recordHistory(count, false)
	slog.Info("Controller: playing reminder", "count", count, "remaining", c.remaining)
	c.playback.Play(cfg, c.env.RingerMode(), func() {
		select {
		case c.completions <- struct{}{}:
		case <-c.stopped:
		}
	})
}

func (c *Controller) onPlaybackComplete() {
	slog.Debug("Controller.onPlaybackComplete")
	if c.onCompleted != nil {
		c.onCompleted()
	}
	// A re-evaluation while playback ran may already have armed the next
	// wake; only arm when the slot is empty.
	if c.active && c.wakeID == "" {
		c.armWake(c.config(), true)
	}
	c.publishStatus()
}

// armWake implements the wake scheduling algorithm: post the dismiss
// notification when configured, adjust the naive next-wake candidate
// against the scheduler window, and arm the timer. The main wakelock is
// acquired before a plain-interval wait when force-wakelock is on.
func (c *Controller) armWake(cfg models.ReminderConfig, isRepeat bool) {
	c.cancelWake()

	if cfg.DismissNotification && (isRepeat || cfg.DismissImmediately) {
		if err := c.alerter.Post(c.registry.Len()); err != nil {
			slog.Warn("Controller.armWake: dismiss notification post failed", "error", err)
		}
	}

	naive := c.clock.Now().Add(cfg.Interval())
	wakeAt := naive
	adjusted := time.Time{}
	if cfg.SchedulerEnabled {
		adjusted = schedule.NextWakeTime(cfg.SchedulerMode, cfg.RangeBeginMinutes, cfg.RangeEndMinutes, naive)
	}
	if adjusted.IsZero() {
		if cfg.ForceWakeLock && !c.lock.Held() {
			if err := c.lock.Acquire("pending reminder wake"); err != nil {
				slog.Warn("Controller.armWake: wakelock acquire failed", "error", err)
			}
		}
	} else {
		wakeAt = adjusted
	}

	id, err := c.wake.ScheduleAt(wakeAt, func() {
		c.Dispatch(models.Event{Type: models.EventWakeFired})
	})
	if err != nil {
		slog.Error("Controller.armWake: failed to arm wake, stopping", "error", err)
		c.stop(StopReasonConditionGone)
		return
	}
	c.wakeID = id
	c.nextWakeAt = wakeAt
	slog.Debug("Controller.armWake armed", "id", id, "wake_at", wakeAt, "adjusted", !adjusted.IsZero())
}

// userDismissed handles closure of the dismiss notification: every
// currently active notification becomes ignored, then the cycle stops.
func (c *Controller) userDismissed() {
	snapshot := c.registry.Snapshot()
	for _, rec := range snapshot {
		c.ignored.Add(rec.Key)
	}
	slog.Info("Controller: user dismissed reminders", "ignored", len(snapshot))
	c.persistIgnored()

	cfg := c.config()
	if cfg.DismissAlongReminded && c.closer != nil {
		c.closer(snapshot)
	}
	if c.active {
		c.stop(StopReasonUserDismissed)
	}
}

// ResetIgnored clears the ignored set wholesale and re-runs the start
// guard, used by the status API.
func (c *Controller) ResetIgnored() {
	c.ignored.Clear()
	c.persistIgnored()
	c.Dispatch(models.Event{Type: models.EventConfigChanged, ConfigKey: "ignored_reset"})
}

// stop is the Active->Idle transition. The pending wake is cancelled
// synchronously before anything else so it can never fire afterwards.
func (c *Controller) stop(reason string) {
	c.cancelWake()
	c.playback.Interrupt()
	if err := c.lock.Release(); err != nil {
		slog.Warn("Controller.stop: wakelock release failed", "error", err)
	}
	if err := c.alerter.Cancel(); err != nil {
		slog.Warn("Controller.stop: dismiss notification cancel failed", "error", err)
	}
	c.active = false
	c.stopReason = reason
	slog.Info("Controller: reminder cycle stopped", "reason", reason)
	c.publishStatus()
}

// forceStop tears the cycle down unconditionally at service shutdown so no
// timers or locks leak across restarts.
func (c *Controller) forceStop() {
	c.wake.Stop()
	c.wakeID = ""
	c.nextWakeAt = time.Time{}
	c.playback.Interrupt()
	if err := c.lock.Release(); err != nil {
		slog.Warn("Controller.forceStop: wakelock release failed", "error", err)
	}
	if err := c.alerter.Cancel(); err != nil {
		slog.Warn("Controller.forceStop: dismiss notification cancel failed", "error", err)
	}
	c.persistIgnored()
	c.active = false
	c.stopReason = StopReasonShutdown
	c.publishStatus()
}

func (c *Controller) cancelWake() {
	if c.wakeID == "" {
		return
	}
	if err := c.wake.Cancel(c.wakeID); err != nil {
		slog.Warn("Controller.cancelWake failed", "error", err, "id", c.wakeID)
	}
	c.wakeID = ""
	c.nextWakeAt = time.Time{}
}

func (c *Controller) persistIgnored() {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.store.SaveIgnored(ctx, c.ignored.Keys()); err != nil {
		slog.Warn("Controller: failed to persist ignored set", "error", err)
	}
}

func (c *Controller) recordHistory(count int, skipped bool) {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	entry := models.HistoryEntry{FiredAt: c.clock.Now().UnixMilli(), Count: count, Skipped: skipped}
	if err := c.store.AddHistory(ctx, entry); err != nil {
		slog.Warn("Controller: failed to record history", "error", err)
	}
}

func (c *Controller) publishStatus() {
	status := models.CycleStatus{
		Active:           c.active,
		RemainingRepeats: c.remaining,
		ActiveCount:      c.registry.Len(),
		IgnoredCount:     c.ignored.Len(),
		WakeLockHeld:     c.lock.Held(),
		StoppedReason:    c.stopReason,
	}
	if !c.nextWakeAt.IsZero() {
		status.NextWakeAt = c.nextWakeAt.UnixMilli()
	}
	if !c.lastPlayback.IsZero() {
		status.LastPlaybackAt = c.lastPlayback.UnixMilli()
	}
	c.statusMu.Lock()
	c.status = status
	c.statusMu.Unlock()
}
