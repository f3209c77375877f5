// Package environ answers on-demand questions about the session
// environment: ringer mode, do-not-disturb, call activity, and screen
// state. Values are queried fresh on every read; nothing here is cached
// across reads, so the controller always sees the current state.
package environ

import (
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/EchoNotify/EchoNotify/internal/models"
)

const (
	screensaverService = "org.freedesktop.ScreenSaver"
	screensaverPath    = "/org/freedesktop/ScreenSaver"
	screensaverMethod  = "org.freedesktop.ScreenSaver.GetActive"
)

// State is the environment provider. Ringer mode, do-not-disturb and call
// activity have no portable desktop source, so they are held as settable
// state fed through the status API; the screen question can optionally be
// answered live by a screensaver query.
type State struct {
	mu     sync.RWMutex
	ringer models.RingerMode
	dnd    bool
	call   bool
	screen bool

	screenFn func() (bool, bool)
}

// Option configures a State.
type Option func(*State)

// WithScreenQuery installs a live screen-state query. The query returns
// (screenOn, ok); on !ok the held value is used instead.
func WithScreenQuery(fn func() (bool, bool)) Option {
	return func(s *State) { s.screenFn = fn }
}

// NewState creates a State with a normal ringer and everything else off.
func NewState(opts ...Option) *State {
	s := &State{ringer: models.RingerNormal}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RingerMode returns the current ringer mode.
func (s *State) RingerMode() models.RingerMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ringer
}

// DNDEnabled reports whether do-not-disturb is on.
func (s *State) DNDEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dnd
}

// CallActive reports whether a call is in progress.
func (s *State) CallActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.call
}

// ScreenOn reports whether the screen is on, preferring the live query
// when one is installed.
func (s *State) ScreenOn() bool {
	s.mu.RLock()
	fn := s.screenFn
	held := s.screen
	s.mu.RUnlock()

	if fn != nil {
		if on, ok := fn(); ok {
			return on
		}
	}
	return held
}

// SetRingerMode updates the ringer mode and reports whether it changed.
func (s *State) SetRingerMode(m models.RingerMode) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ringer == m {
		return false
	}
	s.ringer = m
	return true
}

// SetDND updates the do-not-disturb flag and reports whether it changed.
func (s *State) SetDND(enabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dnd == enabled {
		return false
	}
	s.dnd = enabled
	return true
}

// SetCallActive updates the call flag and reports whether it changed.
func (s *State) SetCallActive(active bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.call == active {
		return false
	}
	s.call = active
	return true
}

// SetScreenOn updates the held screen flag and reports whether it changed.
func (s *State) SetScreenOn(on bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.screen == on {
		return false
	}
	s.screen = on
	return true
}

// ScreensaverQuery returns a screen query backed by the session bus
// screensaver object: the screen counts as on while no screensaver is
// active. Query failures fall back to the held value.
func ScreensaverQuery(conn *dbus.Conn) func() (bool, bool) {
	return func() (bool, bool) {
		obj := conn.Object(screensaverService, dbus.ObjectPath(screensaverPath))
		var active bool
		if err := obj.Call(screensaverMethod, 0).Store(&active); err != nil {
			slog.Debug("ScreensaverQuery failed", "error", err)
			return false, false
		}
		return !active, true
	}
}
