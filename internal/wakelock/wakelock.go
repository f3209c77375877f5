// Package wakelock prevents the machine from sleeping through a pending
// reminder wake. The production implementation takes systemd-logind
// inhibitor locks over D-Bus; a noop implementation serves sessions without
// logind.
//
// All implementations tolerate double release and release-without-acquire:
// device-specific lock services vary in strictness, and a stale reference
// held across a release is a bug class this package guards against by
// nilling out handles immediately.
package wakelock

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/godbus/dbus/v5"
)

// Lock is an acquirable sleep inhibitor.
type Lock interface {
	// Acquire takes the lock. Acquiring an already-held lock is a no-op.
	Acquire(reason string) error
	// Release drops the lock. Releasing an unheld lock is a no-op.
	Release() error
	// Held reports whether the lock is currently held.
	Held() bool
}

const (
	login1Service   = "org.freedesktop.login1"
	login1Path      = "/org/freedesktop/login1"
	inhibitMethod   = "org.freedesktop.login1.Manager.Inhibit"
	inhibitWhat     = "sleep:idle"
	inhibitWho      = "EchoNotify"
	inhibitModeWait = "block"
)

// Inhibitor holds a logind inhibitor lock. The lock is represented by a
// file descriptor; closing it releases the inhibition.
type Inhibitor struct {
	conn *dbus.Conn
	mu   sync.Mutex
	fd   *os.File
}

// NewInhibitor creates an Inhibitor on the given system bus connection.
func NewInhibitor(conn *dbus.Conn) *Inhibitor {
	return &Inhibitor{conn: conn}
}

// Acquire takes a block-mode sleep+idle inhibitor lock from logind.
func (l *Inhibitor) Acquire(reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fd != nil {
		slog.Debug("Inhibitor.Acquire: already held")
		return nil
	}

	obj := l.conn.Object(login1Service, login1Path)
	var fd dbus.UnixFD
	if err := obj.Call(inhibitMethod, 0, inhibitWhat, inhibitWho, reason, inhibitModeWait).Store(&fd); err != nil {
		return fmt.Errorf("logind inhibit call failed: %w", err)
	}
	l.fd = os.NewFile(uintptr(fd), "echonotify-inhibitor")
	slog.Debug("Inhibitor.Acquire succeeded", "reason", reason)
	return nil
}

// Release closes the inhibitor fd. The handle is nilled out before the
// close so a failed close can never leave a stale reference behind.
func (l *Inhibitor) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fd == nil {
		slog.Debug("Inhibitor.Release: not held")
		return nil
	}
	fd := l.fd
	l.fd = nil
	if err := fd.Close(); err != nil {
		slog.Warn("Inhibitor.Release: close failed", "error", err)
		return fmt.Errorf("failed to release inhibitor: %w", err)
	}
	slog.Debug("Inhibitor.Release succeeded")
	return nil
}

// Held reports whether the inhibitor fd is open.
func (l *Inhibitor) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fd != nil
}

// Noop is a Lock that does nothing, for sessions without logind.
type Noop struct {
	mu   sync.Mutex
	held bool
}

// NewNoop creates a Noop lock.
func NewNoop() *Noop { return &Noop{} }

// Acquire marks the lock held.
func (l *Noop) Acquire(reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = true
	return nil
}

// Release marks the lock unheld.
func (l *Noop) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
	return nil
}

// Held reports the marker.
func (l *Noop) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// Mock records acquire/release calls for tests.
type Mock struct {
	mu        sync.Mutex
	held      bool
	Acquires  int
	Releases  int
	FailNext  bool
	LastWhy   string
}

// NewMock creates a Mock lock.
func NewMock() *Mock { return &Mock{} }

// Acquire records the call; fails once when FailNext is set.
func (l *Mock) Acquire(reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailNext {
		l.FailNext = false
		return fmt.Errorf("mock acquire failure")
	}
	l.Acquires++
	l.LastWhy = reason
	l.held = true
	return nil
}

// Release records the call.
func (l *Mock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		l.Releases++
	}
	l.held = false
	return nil
}

// Held reports the marker.
func (l *Mock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}
