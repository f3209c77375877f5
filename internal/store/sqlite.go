// Package store provides storage backends for EchoNotify.
//
// This file implements the SQLite-backed store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/EchoNotify/EchoNotify/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database
// directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// LoadIgnored returns every persisted ignored key.
func (s *SQLiteStore) LoadIgnored(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM ignored_keys`)
	if err != nil {
		slog.Error("SQLiteStore LoadIgnored query failed", "error", err)
		return nil, fmt.Errorf("failed to query ignored keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			slog.Error("SQLiteStore LoadIgnored scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan ignored key row: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore LoadIgnored rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate ignored key rows: %w", err)
	}
	slog.Debug("SQLiteStore LoadIgnored succeeded", "count", len(keys))
	return keys, nil
}

// SaveIgnored replaces the persisted ignored set wholesale.
func (s *SQLiteStore) SaveIgnored(ctx context.Context, keys []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("SQLiteStore SaveIgnored begin failed", "error", err)
		return fmt.Errorf("failed to begin ignored save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM ignored_keys`); err != nil {
		slog.Error("SQLiteStore SaveIgnored clear failed", "error", err)
		return fmt.Errorf("failed to clear ignored keys: %w", err)
	}
	now := time.Now().UnixMilli()
	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, `INSERT INTO ignored_keys (key, ignored_at) VALUES (?, ?)`, key, now); err != nil {
			slog.Error("SQLiteStore SaveIgnored insert failed", "error", err, "key", key)
			return fmt.Errorf("failed to insert ignored key %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		slog.Error("SQLiteStore SaveIgnored commit failed", "error", err)
		return fmt.Errorf("failed to commit ignored save: %w", err)
	}
	slog.Debug("SQLiteStore SaveIgnored succeeded", "count", len(keys))
	return nil
}

// AddHistory appends one reminder history entry.
func (s *SQLiteStore) AddHistory(ctx context.Context, entry models.HistoryEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminder_history (fired_at, count, skipped) VALUES (?, ?, ?)`,
		entry.FiredAt, entry.Count, entry.Skipped)
	if err != nil {
		slog.Error("SQLiteStore AddHistory failed", "error", err)
		return fmt.Errorf("failed to insert history entry: %w", err)
	}
	return nil
}

// History returns the most recent entries, newest first.
func (s *SQLiteStore) History(ctx context.Context, limit int) ([]models.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fired_at, count, skipped FROM reminder_history ORDER BY fired_at DESC LIMIT ?`, limit)
	if err != nil {
		slog.Error("SQLiteStore History query failed", "error", err)
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		if err := rows.Scan(&e.FiredAt, &e.Count, &e.Skipped); err != nil {
			slog.Error("SQLiteStore History scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore History rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate history rows: %w", err)
	}
	slog.Debug("SQLiteStore History succeeded", "count", len(entries))
	return entries, nil
}

// PruneHistory drops entries fired before the cutoff and returns how many
// were removed.
func (s *SQLiteStore) PruneHistory(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reminder_history WHERE fired_at < ?`, before.UnixMilli())
	if err != nil {
		slog.Error("SQLiteStore PruneHistory failed", "error", err)
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	pruned, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	slog.Debug("SQLiteStore PruneHistory succeeded", "pruned", pruned)
	return pruned, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
