// Package alerter owns the auxiliary dismiss notification: a resident
// desktop notification that summarizes the unread count and whose closure
// by the user means "stop reminding me".
package alerter

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	notifyService = "org.freedesktop.Notifications"
	notifyPath    = "/org/freedesktop/Notifications"
	methodNotify  = "org.freedesktop.Notifications.Notify"
	methodClose   = "org.freedesktop.Notifications.CloseNotification"
	signalClosed  = "org.freedesktop.Notifications.NotificationClosed"

	// Close reason the notification server reports for an explicit user
	// dismissal, as opposed to expiry (1) or a CloseNotification call (3).
	closedByUser = uint32(2)
)

// DBusAlerter posts the dismiss notification on the session bus. Reposting
// replaces the previous notification in place, so at most one exists.
type DBusAlerter struct {
	conn      *dbus.Conn
	appName   string
	onDismiss func()

	mu sync.Mutex
	id uint32
}

// NewDBus creates a DBusAlerter and starts watching for user dismissal.
// onDismiss fires, from the signal goroutine, when the user closes the
// dismiss notification; closures caused by Cancel do not fire it.
func NewDBus(conn *dbus.Conn, appName string, onDismiss func()) (*DBusAlerter, error) {
	a := &DBusAlerter{conn: conn, appName: appName, onDismiss: onDismiss}

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(notifyService),
		dbus.WithMatchMember("NotificationClosed"),
	); err != nil {
		return nil, fmt.Errorf("failed to subscribe to notification closures: %w", err)
	}
	signals := make(chan *dbus.Signal, 16)
	conn.Signal(signals)
	go a.watch(signals)
	return a, nil
}

// Post creates or replaces the dismiss notification for the given unread
// count.
func (a *DBusAlerter) Post(count int) error {
	a.mu.Lock()
	replaces := a.id
	a.mu.Unlock()

	obj := a.conn.Object(notifyService, dbus.ObjectPath(notifyPath))
	hints := map[string]dbus.Variant{
		"resident": dbus.MakeVariant(true),
	}
	var id uint32
	err := obj.Call(
		methodNotify,
		0,
		a.appName,
		replaces,
		"", // icon
		summaryFor(count),
		"Close this notification to stop the reminders.",
		[]string{},
		hints,
		int32(0), // never expire
	).Store(&id)
	if err != nil {
		return fmt.Errorf("failed to post dismiss notification: %w", err)
	}

	a.mu.Lock()
	a.id = id
	a.mu.Unlock()
	slog.Debug("DBusAlerter.Post", "id", id, "count", count)
	return nil
}

// Cancel closes the dismiss notification if one is showing. Cancelling
// when none is showing is a no-op.
func (a *DBusAlerter) Cancel() error {
	a.mu.Lock()
	id := a.id
	a.id = 0
	a.mu.Unlock()

	if id == 0 {
		return nil
	}
	obj := a.conn.Object(notifyService, dbus.ObjectPath(notifyPath))
	if call := obj.Call(methodClose, 0, id); call.Err != nil {
		return fmt.Errorf("failed to close dismiss notification %d: %w", id, call.Err)
	}
	slog.Debug("DBusAlerter.Cancel", "id", id)
	return nil
}

// CloseNotification closes an arbitrary notification by server id, used to
// dismiss the reminded notifications along with the reminder.
func (a *DBusAlerter) CloseNotification(id uint32) error {
	obj := a.conn.Object(notifyService, dbus.ObjectPath(notifyPath))
	if call := obj.Call(methodClose, 0, id); call.Err != nil {
		return fmt.Errorf("failed to close notification %d: %w", id, call.Err)
	}
	return nil
}

func (a *DBusAlerter) watch(signals chan *dbus.Signal) {
	for sig := range signals {
		if sig.Name != signalClosed || len(sig.Body) < 2 {
			continue
		}
		id, ok := sig.Body[0].(uint32)
		if !ok {
			continue
		}
		reason, ok := sig.Body[1].(uint32)
		if !ok {
			continue
		}

		a.mu.Lock()
		mine := a.id != 0 && id == a.id
		if mine {
			a.id = 0
		}
		a.mu.Unlock()

		if mine && reason == closedByUser {
			slog.Info("DBusAlerter: user dismissed the reminder notification", "id", id)
			if a.onDismiss != nil {
				a.onDismiss()
			}
		}
	}
}

func summaryFor(count int) string {
	if count == 1 {
		return "1 unread notification"
	}
	return fmt.Sprintf("%d unread notifications", count)
}

// Noop satisfies the alerter contract for setups without a notification
// server.
type Noop struct{}

// Post does nothing.
func (Noop) Post(count int) error { return nil }

// Cancel does nothing.
func (Noop) Cancel() error { return nil }
