package playback

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

// ExecPlayer plays a ringtone by spawning an external player command
// (paplay, mpv, aplay...). A muted playback completes immediately: the
// observable outcome of muted audio is no audio.
type ExecPlayer struct {
	command string
	args    []string

	mu  sync.Mutex
	cmd *exec.Cmd
}

// NewExecPlayer creates an ExecPlayer. The ringtone source is appended to
// the configured arguments.
func NewExecPlayer(command string, args ...string) *ExecPlayer {
	return &ExecPlayer{command: command, args: args}
}

// Start spawns the player process and returns a channel that reports its
// exit. With no command, no source, or a muted request the playback
// completes immediately with no sound.
func (p *ExecPlayer) Start(ctx context.Context, source string, muted bool) (<-chan error, error) {
	done := make(chan error, 1)
	if p.command == "" || source == "" || muted {
		slog.Debug("ExecPlayer.Start: nothing to play", "command_set", p.command != "", "source_set", source != "", "muted", muted)
		done <- nil
		return done, nil
	}

	argv := append(append([]string{}, p.args...), source)
	cmd := exec.CommandContext(ctx, p.command, argv...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start player %s: %w", p.command, err)
	}

	p.mu.Lock()
	p.cmd = cmd
	p.mu.Unlock()

	slog.Debug("ExecPlayer.Start: player spawned", "command", p.command, "pid", cmd.Process.Pid)
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		if p.cmd == cmd {
			p.cmd = nil
		}
		p.mu.Unlock()
		done <- err
	}()
	return done, nil
}

// Stop kills the player process if one is running.
func (p *ExecPlayer) Stop() {
	p.mu.Lock()
	cmd := p.cmd
	p.cmd = nil
	p.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}
	if err := cmd.Process.Kill(); err != nil {
		slog.Debug("ExecPlayer.Stop: kill failed", "error", err)
	}
}

// ExecVibrator approximates a haptic pattern by running a pulse command for
// each vibrate segment of the pattern (a haptic bridge, a keyboard LED
// flasher, a bell). Pause segments sleep.
type ExecVibrator struct {
	command string
	args    []string

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewExecVibrator creates an ExecVibrator.
func NewExecVibrator(command string, args ...string) *ExecVibrator {
	return &ExecVibrator{command: command, args: args}
}

// Start walks the pattern on a background goroutine: even segments pulse,
// odd segments pause.
func (v *ExecVibrator) Start(pattern []time.Duration) error {
	if v.command == "" || len(pattern) == 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	v.mu.Lock()
	if v.cancel != nil {
		v.cancel()
	}
	v.cancel = cancel
	v.mu.Unlock()

	go func() {
		for i, segment := range pattern {
			if ctx.Err() != nil {
				return
			}
			if i%2 == 0 && segment > 0 {
				pulseCtx, pulseCancel := context.WithTimeout(ctx, segment)
				cmd := exec.CommandContext(pulseCtx, v.command, v.args...)
				if err := cmd.Run(); err != nil && ctx.Err() == nil {
					slog.Debug("ExecVibrator: pulse command failed", "error", err)
				}
				pulseCancel()
				continue
			}
			select {
			case <-time.After(segment):
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Stop cancels the running pattern, if any.
func (v *ExecVibrator) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
}

// NoopVibrator satisfies Vibrator for setups without any haptic bridge.
type NoopVibrator struct{}

// Start does nothing.
func (NoopVibrator) Start(pattern []time.Duration) error { return nil }

// Stop does nothing.
func (NoopVibrator) Stop() {}
