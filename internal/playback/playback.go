// Package playback produces the audible and haptic feedback for one
// reminder wake and signals completion exactly once per wake.
//
// Sound and vibration run concurrently; the coordinator completes only
// after both sub-operations finish (a join). A five second startup race
// applies only inside the sound sub-operation: a player that does not
// begin within that budget is treated as complete rather than blocking the
// cycle. Failures are logged and swallowed; nothing propagates upward.
package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/EchoNotify/EchoNotify/internal/models"
	"github.com/EchoNotify/EchoNotify/internal/timer"
	"github.com/EchoNotify/EchoNotify/internal/wakelock"
)

// StartupTimeout bounds how long the sound sub-operation waits for the
// player to begin before treating the reminder as played.
const StartupTimeout = 5 * time.Second

// Player starts sound playback for a ringtone source. Start returns a
// channel that reports natural completion; Stop interrupts playback and is
// idempotent.
type Player interface {
	Start(ctx context.Context, source string, muted bool) (<-chan error, error)
	Stop()
}

// Vibrator drives the haptic pattern. Start is non-blocking; the
// coordinator itself waits out the total pattern duration. Stop is
// idempotent.
type Vibrator interface {
	Start(pattern []time.Duration) error
	Stop()
}

// Coordinator runs at most one playback at a time. Starting a new playback
// interrupts and fully stops the previous one before anything new begins.
type Coordinator struct {
	player   Player
	vibrator Vibrator
	vibLock  wakelock.Lock
	clock    timer.Clock

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Coordinator. The wakelock guards only the vibration wait
// and is distinct from the cycle's main wakelock.
func New(player Player, vibrator Vibrator, vibLock wakelock.Lock, clock timer.Clock) *Coordinator {
	return &Coordinator{player: player, vibrator: vibrator, vibLock: vibLock, clock: clock}
}

// Play starts a reminder playback. Any playback still in progress is
// interrupted first. onComplete fires once, from the playback goroutine,
// after both sub-operations finish; it does not fire for interrupted
// playbacks.
func (c *Coordinator) Play(cfg models.ReminderConfig, ringer models.RingerMode, onComplete func()) {
	c.Interrupt()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	slog.Debug("Coordinator.Play starting", "ringer", ringer, "ringtone_set", cfg.Ringtone != "", "vibration", cfg.VibrationEnabled)
	go c.run(ctx, cfg, ringer, done, onComplete)
}

// Interrupt stops the playback in progress, if any, and waits for it to
// wind down. Interrupting when nothing is running is a no-op.
func (c *Coordinator) Interrupt() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	slog.Debug("Coordinator.Interrupt: cancelling in-progress playback")
	cancel()
	<-done
}

func (c *Coordinator) run(ctx context.Context, cfg models.ReminderConfig, ringer models.RingerMode, done chan struct{}, onComplete func()) {
	defer close(done)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.runSound(ctx, cfg, ringer)
	}()
	go func() {
		defer wg.Done()
		c.runVibration(ctx, cfg, ringer)
	}()
	wg.Wait()

	// Force-stop both sub-operations whether or not they finished
	// naturally, and drop the vibration lock if it is still held.
	c.player.Stop()
	c.vibrator.Stop()
	if err := c.vibLock.Release(); err != nil {
		slog.Warn("Coordinator.run: vibration wakelock release failed", "error", err)
	}

	if ctx.Err() != nil {
		slog.Debug("Coordinator.run: playback interrupted before completion")
		return
	}
	slog.Debug("Coordinator.run: playback complete")
	if onComplete != nil {
		onComplete()
	}
}

func (c *Coordinator) runSound(ctx context.Context, cfg models.ReminderConfig, ringer models.RingerMode) {
	if cfg.Ringtone == "" {
		slog.Debug("Coordinator.runSound: no ringtone configured")
		return
	}
	muted := cfg.RespectRingerMode && ringer != models.RingerNormal

	type startResult struct {
		done <-chan error
		err  error
	}
	startCh := make(chan startResult, 1)
	go func() {
		playDone, err := c.player.Start(ctx, cfg.Ringtone, muted)
		startCh <- startResult{playDone, err}
	}()

	select {
	case res := <-startCh:
		if res.err != nil {
			slog.Warn("Coordinator.runSound: player failed to start", "error", res.err)
			return
		}
		select {
		case err := <-res.done:
			if err != nil && ctx.Err() == nil {
				slog.Warn("Coordinator.runSound: player finished with error", "error", err)
			}
		case <-ctx.Done():
		}
	case <-c.clock.After(StartupTimeout):
		slog.Warn("Coordinator.runSound: playback did not start in time, treating as complete", "timeout", StartupTimeout)
		c.player.Stop()
	case <-ctx.Done():
	}
}

func (c *Coordinator) runVibration(ctx context.Context, cfg models.ReminderConfig, ringer models.RingerMode) {
	if !cfg.VibrationEnabled {
		return
	}
	if cfg.RespectRingerMode && ringer == models.RingerSilent {
		return
	}

	pattern, err := models.ParseVibrationPattern(cfg.VibrationPattern)
	if err != nil {
		// Patterns are validated at the configuration boundary; an
		// invalid one reaching here is logged, never fatal.
		slog.Warn("Coordinator.runVibration: unusable pattern", "pattern", cfg.VibrationPattern, "error", err)
		return
	}
	total := models.PatternDuration(pattern)
	if total <= 0 {
		return
	}

	if err := c.vibLock.Acquire("vibration pattern"); err != nil {
		slog.Warn("Coordinator.runVibration: wakelock acquire failed", "error", err)
	}
	defer func() {
		if err := c.vibLock.Release(); err != nil {
			slog.Warn("Coordinator.runVibration: wakelock release failed", "error", err)
		}
	}()

	if err := c.vibrator.Start(pattern); err != nil {
		slog.Warn("Coordinator.runVibration: vibrator failed to start", "error", err)
		return
	}

	// Wait out the full pattern rather than a device callback: the
	// pattern ran at least once regardless of device repeat behavior.
	select {
	case <-c.clock.After(total):
	case <-ctx.Done():
	}
	c.vibrator.Stop()
}
