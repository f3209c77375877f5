// Package store provides storage backends for EchoNotify.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/EchoNotify/EchoNotify/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// LoadIgnored returns every persisted ignored key.
func (s *PostgresStore) LoadIgnored(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM ignored_keys`)
	if err != nil {
		slog.Error("PostgresStore LoadIgnored query failed", "error", err)
		return nil, fmt.Errorf("failed to query ignored keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			slog.Error("PostgresStore LoadIgnored scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan ignored key row: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore LoadIgnored rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate ignored key rows: %w", err)
	}
	slog.Debug("PostgresStore LoadIgnored succeeded", "count", len(keys))
	return keys, nil
}

// SaveIgnored replaces the persisted ignored set wholesale.
func (s *PostgresStore) SaveIgnored(ctx context.Context, keys []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("PostgresStore SaveIgnored begin failed", "error", err)
		return fmt.Errorf("failed to begin ignored save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM ignored_keys`); err != nil {
		slog.Error("PostgresStore SaveIgnored clear failed", "error", err)
		return fmt.Errorf("failed to clear ignored keys: %w", err)
	}
	now := time.Now().UnixMilli()
	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, `INSERT INTO ignored_keys (key, ignored_at) VALUES ($1, $2)`, key, now); err != nil {
			slog.Error("PostgresStore SaveIgnored insert failed", "error", err, "key", key)
			return fmt.Errorf("failed to insert ignored key %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		slog.Error("PostgresStore SaveIgnored commit failed", "error", err)
		return fmt.Errorf("failed to commit ignored save: %w", err)
	}
	slog.Debug("PostgresStore SaveIgnored succeeded", "count", len(keys))
	return nil
}

// AddHistory appends one reminder history entry.
func (s *PostgresStore) AddHistory(ctx context.Context, entry models.HistoryEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminder_history (fired_at, count, skipped) VALUES ($1, $2, $3)`,
		entry.FiredAt, entry.Count, entry.Skipped)
	if err != nil {
		slog.Error("PostgresStore AddHistory failed", "error", err)
		return fmt.Errorf("failed to insert history entry: %w", err)
	}
	return nil
}

// History returns the most recent entries, newest first.
func (s *PostgresStore) History(ctx context.Context, limit int) ([]models.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fired_at, count, skipped FROM reminder_history ORDER BY fired_at DESC LIMIT $1`, limit)
	if err != nil {
		slog.Error("PostgresStore History query failed", "error", err)
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		if err := rows.Scan(&e.FiredAt, &e.Count, &e.Skipped); err != nil {
			slog.Error("PostgresStore History scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore History rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate history rows: %w", err)
	}
	slog.Debug("PostgresStore History succeeded", "count", len(entries))
	return entries, nil
}

// PruneHistory drops entries fired before the cutoff and returns how many
// were removed.
func (s *PostgresStore) PruneHistory(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reminder_history WHERE fired_at < $1`, before.UnixMilli())
	if err != nil {
		slog.Error("PostgresStore PruneHistory failed", "error", err)
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	pruned, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	slog.Debug("PostgresStore PruneHistory succeeded", "pruned", pruned)
	return pruned, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
