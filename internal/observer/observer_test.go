package observer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/EchoNotify/EchoNotify/internal/models"
	"github.com/EchoNotify/EchoNotify/internal/timer"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []models.Event
}

func (d *recordingDispatcher) Dispatch(ev models.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
}

func (d *recordingDispatcher) snapshot() []models.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]models.Event, len(d.events))
	copy(out, d.events)
	return out
}

func notifyBody(app string, replaces uint32, summary, body string, hints map[string]dbus.Variant) []interface{} {
	if hints == nil {
		hints = map[string]dbus.Variant{}
	}
	return []interface{}{app, replaces, "", summary, body, []string{}, hints, int32(-1)}
}

func TestParseNotify(t *testing.T) {
	req, ok := parseNotify(notifyBody("org.chat.app", 7, "New message", "hello", map[string]dbus.Variant{
		"resident": dbus.MakeVariant(true),
	}))
	if !ok {
		t.Fatal("well-formed Notify body must parse")
	}
	if req.app != "org.chat.app" || req.replaces != 7 || req.summary != "New message" || req.body != "hello" {
		t.Errorf("unexpected parse result: %+v", req)
	}
	if !req.resident {
		t.Error("resident hint must be picked up")
	}

	if _, ok := parseNotify([]interface{}{"too", "short"}); ok {
		t.Error("truncated body must not parse")
	}
	if _, ok := parseNotify(notifyBody("app", 0, "s", "b", nil)[:7]); ok {
		t.Error("seven-element body must not parse")
	}
}

func TestRecordForKeysAndFreshness(t *testing.T) {
	now := time.Unix(1000, 0)
	req := notifyRequest{app: "org.chat.app", summary: "s", body: "b"}

	fresh := recordFor(req, 42, false, now)
	if fresh.Key != "org.chat.app:42" {
		t.Errorf("unexpected key %q", fresh.Key)
	}
	if fresh.PostedAt != now.UnixMilli() {
		t.Errorf("a first posting must carry its posting time in millis, got %d", fresh.PostedAt)
	}
	if fresh.FoundAt != now.UnixMilli() {
		t.Errorf("observation time must be stamped in millis, got %d", fresh.FoundAt)
	}

	update := recordFor(req, 42, true, now.Add(time.Minute))
	if update.Key != fresh.Key {
		t.Error("an update must keep the original key")
	}
	if update.PostedAt != 0 {
		t.Error("an update must not claim fresh urgency")
	}
	if update.FoundAt != now.Add(time.Minute).UnixMilli() {
		t.Error("an update must still record when it was observed")
	}
	if !fresh.Same(update) {
		t.Error("update and original must identify as the same notification")
	}

	resident := recordFor(notifyRequest{app: "a", resident: true}, 1, false, now)
	if !resident.Ongoing() {
		t.Error("resident notifications must be flagged ongoing")
	}
}

func TestDBusSourceServeAndClose(t *testing.T) {
	d := &recordingDispatcher{}
	s := NewDBusSource(d, "EchoNotify", timer.NewFakeClock(time.Unix(1000, 0)))

	req := notifyRequest{app: "org.chat.app", summary: "s"}
	s.onServed(req, 5)

	if id, ok := s.IDForKey("org.chat.app:5"); !ok || id != 5 {
		t.Fatalf("expected id 5 for key, got %d ok=%v", id, ok)
	}
	s.onClosed(5)
	if _, ok := s.IDForKey("org.chat.app:5"); ok {
		t.Error("closed notification must be forgotten")
	}
	s.onClosed(5) // unknown id tolerated

	events := d.snapshot()
	if len(events) != 2 || events[0].Type != models.EventPosted || events[1].Type != models.EventRemoved {
		t.Errorf("unexpected event sequence: %+v", events)
	}
}

func TestPollSourceReconciles(t *testing.T) {
	d := &recordingDispatcher{}
	clock := timer.NewFakeClock(time.Unix(1000, 0))

	var mu sync.Mutex
	fail := false
	snapshot := func(ctx context.Context) ([]models.NotificationRecord, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return nil, errors.New("shade unavailable")
		}
		return []models.NotificationRecord{{Key: "k", Package: "p", PostedAt: 1}}, nil
	}

	p := NewPollSource(d, snapshot, time.Minute, clock)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()

	waitForEvents := func(n int) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if len(d.snapshot()) >= n {
				return
			}
			time.Sleep(time.Millisecond)
		}
		t.Fatalf("timed out waiting for %d events, have %d", n, len(d.snapshot()))
	}

	// Immediate poll on startup.
	waitForEvents(1)

	// A failing poll produces no event but does not kill the loop.
	mu.Lock()
	fail = true
	mu.Unlock()
	clock.BlockUntilWaiters(1)
	clock.Advance(time.Minute)

	mu.Lock()
	fail = false
	mu.Unlock()
	clock.BlockUntilWaiters(1)
	clock.Advance(time.Minute)
	waitForEvents(2)

	ev := d.snapshot()[0]
	if ev.Type != models.EventReconcile || len(ev.Snapshot) != 1 {
		t.Errorf("unexpected reconcile event: %+v", ev)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poll source did not stop on cancellation")
	}
}
