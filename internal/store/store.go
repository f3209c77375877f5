// Package store provides storage backends for EchoNotify.
//
// The persisted state is small: the set of notification keys the user has
// dismissed, and the reminder firing history. SQLite is the default
// backend; PostgreSQL is supported for shared deployments, and an
// in-memory store backs tests and stateless runs.
package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/EchoNotify/EchoNotify/internal/models"
)

// Store persists the ignored set and the reminder history.
type Store interface {
	LoadIgnored(ctx context.Context) ([]string, error)
	SaveIgnored(ctx context.Context, keys []string) error
	AddHistory(ctx context.Context, entry models.HistoryEntry) error
	History(ctx context.Context, limit int) ([]models.HistoryEntry, error)
	PruneHistory(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

// Opts holds configuration for store backends.
type Opts struct {
	DSN string
}

// Option configures store creation.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL-style connection strings
// and "sqlite" for everything else (treated as a file path).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}

// InMemoryStore keeps everything in process memory.
type InMemoryStore struct {
	mu      sync.Mutex
	ignored []string
	history []models.HistoryEntry
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// LoadIgnored returns the stored ignored keys.
func (s *InMemoryStore) LoadIgnored(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.ignored))
	copy(out, s.ignored)
	return out, nil
}

// SaveIgnored replaces the stored ignored keys.
func (s *InMemoryStore) SaveIgnored(ctx context.Context, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ignored = make([]string, len(keys))
	copy(s.ignored, keys)
	return nil
}

// AddHistory appends a history entry.
func (s *InMemoryStore) AddHistory(ctx context.Context, entry models.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, entry)
	return nil
}

// History returns the most recent entries, newest first.
func (s *InMemoryStore) History(ctx context.Context, limit int) ([]models.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.HistoryEntry, 0, limit)
	for i := len(s.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.history[i])
	}
	return out, nil
}

// PruneHistory drops entries fired before the cutoff.
func (s *InMemoryStore) PruneHistory(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := before.UnixMilli()
	kept := s.history[:0]
	var pruned int64
	for _, e := range s.history {
		if e.FiredAt < cutoff {
			pruned++
			continue
		}
		kept = append(kept, e)
	}
	s.history = kept
	return pruned, nil
}

// Close is a no-op.
func (s *InMemoryStore) Close() error { return nil }
