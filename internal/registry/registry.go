// Package registry maintains the live collection of currently visible
// notifications, independent of which packages the user selected.
//
// The registry never fails: removal requests for unknown records are logged
// and ignored, because source removal callbacks can race with internal state
// changes.
package registry

import (
	"log/slog"
	"sync"

	"github.com/EchoNotify/EchoNotify/internal/models"
)

// Registry tracks the notifications currently present in the shade.
// Iteration order of Snapshot is insertion order, which keeps test
// comparisons deterministic.
type Registry struct {
	mu      sync.RWMutex
	records []models.NotificationRecord
	subs    []func()
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{}
}

// Subscribe registers a callback invoked after every collection mutation.
// Callbacks run on the mutating goroutine and must not call back into the
// registry.
func (r *Registry) Subscribe(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, fn)
}

// RecordPosted upserts a record. When an existing record shares the
// candidate's identity it is replaced atomically (remove-then-insert) so
// consumers observing the collection see a single up-to-date entry. The
// returned bool reports whether the record is new rather than a replacement.
func (r *Registry) RecordPosted(candidate models.NotificationRecord) (models.NotificationRecord, bool) {
	r.mu.Lock()
	isNew := true
	for i, existing := range r.records {
		if existing.Same(candidate) {
			r.records = append(r.records[:i], r.records[i+1:]...)
			isNew = false
			break
		}
	}
	r.records = append(r.records, candidate)
	r.mu.Unlock()

	slog.Debug("Registry.RecordPosted", "key", candidate.Key, "package", candidate.Package, "new", isNew)
	r.notify()
	return candidate, isNew
}

// RecordRemoved removes the record if present. Unknown records are
// tolerated and logged.
func (r *Registry) RecordRemoved(record models.NotificationRecord) {
	r.mu.Lock()
	removed := false
	for i, existing := range r.records {
		if existing.Same(record) {
			r.records = append(r.records[:i], r.records[i+1:]...)
			removed = true
			break
		}
	}
	r.mu.Unlock()

	if !removed {
		slog.Debug("Registry.RecordRemoved: record not tracked", "key", record.Key)
		return
	}
	slog.Debug("Registry.RecordRemoved", "key", record.Key, "package", record.Package)
	r.notify()
}

// Reconcile computes the symmetric difference between the tracked set and
// an externally observed snapshot, applies it, and returns the synthesized
// posted and removed records. It is idempotent and does not produce events
// for records that are merely reordered. Used by sources that cannot
// deliver reliable posted/removed callbacks.
func (r *Registry) Reconcile(observed []models.NotificationRecord) (posted, removed []models.NotificationRecord) {
	r.mu.Lock()

	for _, existing := range r.records {
		found := false
		for _, o := range observed {
			if existing.Same(o) {
				found = true
				break
			}
		}
		if !found {
			removed = append(removed, existing)
		}
	}
	for _, o := range observed {
		found := false
		for _, existing := range r.records {
			if existing.Same(o) {
				found = true
				break
			}
		}
		if !found {
			posted = append(posted, o)
		}
	}

	if len(posted) > 0 || len(removed) > 0 {
		kept := make([]models.NotificationRecord, 0, len(r.records))
		for _, existing := range r.records {
			gone := false
			for _, rm := range removed {
				if existing.Same(rm) {
					gone = true
					break
				}
			}
			if !gone {
				kept = append(kept, existing)
			}
		}
		r.records = append(kept, posted...)
	}
	r.mu.Unlock()

	if len(posted) > 0 || len(removed) > 0 {
		slog.Debug("Registry.Reconcile applied", "posted", len(posted), "removed", len(removed))
		r.notify()
	}
	return posted, removed
}

// Snapshot returns an immutable copy of the tracked records in insertion
// order.
func (r *Registry) Snapshot() []models.NotificationRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.NotificationRecord, len(r.records))
	copy(out, r.records)
	return out
}

// Len returns the number of tracked records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// KeySet returns the tracked keys as a set, used when pruning stale
// ignored entries.
func (r *Registry) KeySet() map[string]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make(map[string]struct{}, len(r.records))
	for _, rec := range r.records {
		keys[rec.Key] = struct{}{}
	}
	return keys
}

func (r *Registry) notify() {
	r.mu.RLock()
	subs := make([]func(), len(r.subs))
	copy(subs, r.subs)
	r.mu.RUnlock()
	for _, fn := range subs {
		fn()
	}
}
