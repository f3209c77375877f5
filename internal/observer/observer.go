// Package observer feeds the reminder cycle with notification traffic.
//
// Two sources are provided. DBusSource taps the session bus as a monitor
// and derives posted/removed events from Notify calls and their replies,
// which carry the server-assigned notification id. PollSource
// periodically pulls a full snapshot from a pluggable provider and lets
// the registry reconcile it, for notification servers that expose a
// history interface but no usable signals.
package observer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/EchoNotify/EchoNotify/internal/models"
	"github.com/EchoNotify/EchoNotify/internal/timer"
)

const notifyInterface = "org.freedesktop.Notifications"

// Dispatcher receives the events a source produces. The cycle controller
// satisfies it.
type Dispatcher interface {
	Dispatch(ev models.Event)
}

// Source watches the notification shade until the context is cancelled.
type Source interface {
	Run(ctx context.Context) error
}

// notifyRequest is one parsed Notify method call.
type notifyRequest struct {
	app      string
	replaces uint32
	summary  string
	body     string
	resident bool
}

// parseNotify extracts the fields of interest from a Notify call body:
// app_name, replaces_id, app_icon, summary, body, actions, hints, timeout.
func parseNotify(body []interface{}) (notifyRequest, bool) {
	if len(body) < 8 {
		return notifyRequest{}, false
	}
	app, ok := body[0].(string)
	if !ok {
		return notifyRequest{}, false
	}
	replaces, ok := body[1].(uint32)
	if !ok {
		return notifyRequest{}, false
	}
	summary, ok := body[3].(string)
	if !ok {
		return notifyRequest{}, false
	}
	text, _ := body[4].(string)

	req := notifyRequest{app: app, replaces: replaces, summary: summary, body: text}
	if hints, ok := body[6].(map[string]dbus.Variant); ok {
		if v, ok := hints["resident"]; ok {
			if resident, ok := v.Value().(bool); ok {
				req.resident = resident
			}
		}
	}
	return req, true
}

// recordFor builds the registry record for a served notification. An
// update of an existing notification keeps a zero posting time so it does
// not count as fresh urgency; a first posting is stamped with now.
func recordFor(req notifyRequest, id uint32, isUpdate bool, now time.Time) models.NotificationRecord {
	rec := models.NotificationRecord{
		Key:     fmt.Sprintf("%s:%d", req.app, id),
		Package: req.app,
		Summary: req.summary,
		Body:    req.body,
		FoundAt: now.UnixMilli(),
	}
	if !isUpdate {
		rec.PostedAt = now.UnixMilli()
	}
	if req.resident {
		rec.Flags |= models.FlagOngoing
	}
	return rec
}

// DBusSource observes notification traffic through the bus monitoring
// interface on a dedicated connection. Monitor connections cannot issue
// method calls, so the source is read-only by construction.
type DBusSource struct {
	dispatcher Dispatcher
	selfApp    string
	clock      timer.Clock

	mu      sync.Mutex
	pending map[uint32]pendingNotify
	byID    map[uint32]models.NotificationRecord
	idByKey map[string]uint32
}

type pendingNotify struct {
	req    notifyRequest
	sender string
}

// NewDBusSource creates a DBusSource. Notifications posted under selfApp
// are skipped so the reminder's own dismiss notification is never tracked.
func NewDBusSource(dispatcher Dispatcher, selfApp string, clock timer.Clock) *DBusSource {
	return &DBusSource{
		dispatcher: dispatcher,
		selfApp:    selfApp,
		clock:      clock,
		pending:    make(map[uint32]pendingNotify),
		byID:       make(map[uint32]models.NotificationRecord),
		idByKey:    make(map[string]uint32),
	}
}

// IDForKey returns the server id of a tracked notification key.
func (s *DBusSource) IDForKey(key string) (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.idByKey[key]
	return id, ok
}

// Run opens a private monitor connection and processes notification
// traffic until the context is cancelled.
func (s *DBusSource) Run(ctx context.Context) error {
	conn, err := dbus.SessionBusPrivate()
	if err != nil {
		return fmt.Errorf("failed to open monitor connection: %w", err)
	}
	defer conn.Close()
	if err = conn.Auth(nil); err != nil {
		return fmt.Errorf("failed to authenticate monitor connection: %w", err)
	}
	if err = conn.Hello(); err != nil {
		return fmt.Errorf("monitor connection hello failed: %w", err)
	}

	rules := []string{
		"type='method_call',interface='" + notifyInterface + "',member='Notify'",
		"type='method_return'",
		"type='signal',interface='" + notifyInterface + "',member='NotificationClosed'",
	}
	call := conn.BusObject().Call("org.freedesktop.DBus.Monitoring.BecomeMonitor", 0, rules, uint32(0))
	if call.Err != nil {
		return fmt.Errorf("failed to become bus monitor: %w", call.Err)
	}

	messages := make(chan *dbus.Message, 64)
	conn.Eavesdrop(messages)
	slog.Info("DBusSource monitoring notification traffic")

	for {
		select {
		case <-ctx.Done():
			slog.Info("DBusSource stopping")
			return nil
		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("monitor connection closed unexpectedly")
			}
			s.handle(msg)
		}
	}
}

func (s *DBusSource) handle(msg *dbus.Message) {
	switch msg.Type {
	case dbus.TypeMethodCall:
		if headerString(msg, dbus.FieldMember) != "Notify" {
			return
		}
		req, ok := parseNotify(msg.Body)
		if !ok {
			slog.Debug("DBusSource: unparseable Notify call")
			return
		}
		if req.app == s.selfApp {
			return
		}
		s.mu.Lock()
		// A runaway pending set means replies are not being matched;
		// start over rather than grow without bound.
		if len(s.pending) > 128 {
			slog.Warn("DBusSource: dropping stale pending Notify calls", "count", len(s.pending))
			s.pending = make(map[uint32]pendingNotify)
		}
		s.pending[msg.Serial()] = pendingNotify{req: req, sender: headerString(msg, dbus.FieldSender)}
		s.mu.Unlock()

	case dbus.TypeMethodReply:
		replySerial, ok := headerUint32(msg, dbus.FieldReplySerial)
		if !ok {
			return
		}
		s.mu.Lock()
		p, ok := s.pending[replySerial]
		if ok && headerString(msg, dbus.FieldDestination) == p.sender {
			delete(s.pending, replySerial)
		} else {
			ok = false
		}
		s.mu.Unlock()
		if !ok || len(msg.Body) < 1 {
			return
		}
		id, idOK := msg.Body[0].(uint32)
		if !idOK {
			return
		}
		s.onServed(p.req, id)

	case dbus.TypeSignal:
		if headerString(msg, dbus.FieldMember) != "NotificationClosed" || len(msg.Body) < 1 {
			return
		}
		id, ok := msg.Body[0].(uint32)
		if !ok {
			return
		}
		s.onClosed(id)
	}
}

func (s *DBusSource) onServed(req notifyRequest, id uint32) {
	s.mu.Lock()
	_, isUpdate := s.byID[id]
	rec := recordFor(req, id, isUpdate && req.replaces != 0, s.clock.Now())
	s.byID[id] = rec
	s.idByKey[rec.Key] = id
	s.mu.Unlock()

	slog.Debug("DBusSource: notification served", "key", rec.Key, "update", isUpdate)
	s.dispatcher.Dispatch(models.Event{Type: models.EventPosted, Record: rec})
}

func (s *DBusSource) onClosed(id uint32) {
	s.mu.Lock()
	rec, ok := s.byID[id]
	if ok {
		delete(s.byID, id)
		delete(s.idByKey, rec.Key)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	slog.Debug("DBusSource: notification closed", "key", rec.Key)
	s.dispatcher.Dispatch(models.Event{Type: models.EventRemoved, Record: rec})
}

func headerString(msg *dbus.Message, field dbus.HeaderField) string {
	if v, ok := msg.Headers[field]; ok {
		if str, ok := v.Value().(string); ok {
			return str
		}
	}
	return ""
}

func headerUint32(msg *dbus.Message, field dbus.HeaderField) (uint32, bool) {
	if v, ok := msg.Headers[field]; ok {
		if n, ok := v.Value().(uint32); ok {
			return n, true
		}
	}
	return 0, false
}

// SnapshotFunc pulls the complete set of currently showing notifications.
type SnapshotFunc func(ctx context.Context) ([]models.NotificationRecord, error)

// PollSource periodically reconciles the registry against a full snapshot.
type PollSource struct {
	dispatcher Dispatcher
	snapshot   SnapshotFunc
	interval   time.Duration
	clock      timer.Clock
}

// NewPollSource creates a PollSource with the given poll interval.
func NewPollSource(dispatcher Dispatcher, snapshot SnapshotFunc, interval time.Duration, clock timer.Clock) *PollSource {
	return &PollSource{dispatcher: dispatcher, snapshot: snapshot, interval: interval, clock: clock}
}

// Run polls immediately and then on every interval tick until the context
// is cancelled. Snapshot failures are logged and retried on the next tick.
func (p *PollSource) Run(ctx context.Context) error {
	slog.Info("PollSource starting", "interval", p.interval)
	for {
		p.poll(ctx)
		select {
		case <-ctx.Done():
			slog.Info("PollSource stopping")
			return nil
		case <-p.clock.After(p.interval):
		}
	}
}

func (p *PollSource) poll(ctx context.Context) {
	records, err := p.snapshot(ctx)
	if err != nil {
		slog.Warn("PollSource: snapshot failed", "error", err)
		return
	}
	p.dispatcher.Dispatch(models.Event{Type: models.EventReconcile, Snapshot: records})
}
