// Package session provides storage backends for PostPilot conversation
// records.
//
// This file implements the SQLite-backed session store.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/PostPilot/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists conversation records in an SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	ttl time.Duration
}

// NewSQLiteStore creates a new SQLite session store with the given DSN.
// The DSN is a file path to the SQLite database file; its directory is
// created if missing.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "", "ttl", cfg.TTL)

	if cfg.DSN == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(cfg.DSN)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run SQLite migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite session store ready", "path", cfg.DSN)

	return &SQLiteStore{db: db, ttl: cfg.TTL}, nil
}

// Get retrieves the conversation record for a sender, treating expired rows
// as absent.
func (s *SQLiteStore) Get(ctx context.Context, senderID string) (*models.ConversationRecord, error) {
	var payload string
	var expiresAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT record, expires_at FROM conversations WHERE sender_id = ?`, senderID).
		Scan(&payload, &expiresAt)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore Get not found", "sender", senderID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore Get query failed", "error", err, "sender", senderID)
		return nil, fmt.Errorf("failed to query conversation for %s: %w", senderID, err)
	}

	if time.Now().After(expiresAt) {
		slog.Debug("SQLiteStore Get found expired record", "sender", senderID, "expired_at", expiresAt)
		// Best-effort cleanup; the row already reads as absent.
		if _, delErr := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE sender_id = ?`, senderID); delErr != nil {
			slog.Warn("SQLiteStore failed to delete expired record", "error", delErr, "sender", senderID)
		}
		return nil, nil
	}

	var rec models.ConversationRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		slog.Error("SQLiteStore Get unmarshal failed", "error", err, "sender", senderID)
		return nil, fmt.Errorf("failed to decode conversation for %s: %w", senderID, err)
	}
	return &rec, nil
}

// Save persists the record and refreshes its TTL.
func (s *SQLiteStore) Save(ctx context.Context, rec *models.ConversationRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		slog.Error("SQLiteStore Save marshal failed", "error", err, "sender", rec.SenderID)
		return fmt.Errorf("failed to encode conversation for %s: %w", rec.SenderID, err)
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (sender_id, record, expires_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(sender_id) DO UPDATE SET record = excluded.record, expires_at = excluded.expires_at, updated_at = excluded.updated_at`,
		rec.SenderID, string(payload), now.Add(s.ttl), now)
	if err != nil {
		slog.Error("SQLiteStore Save failed", "error", err, "sender", rec.SenderID)
		return fmt.Errorf("failed to save conversation for %s: %w", rec.SenderID, err)
	}
	slog.Debug("SQLiteStore Save succeeded", "sender", rec.SenderID, "phase", rec.Phase)
	return nil
}

// Delete removes the record for a sender.
func (s *SQLiteStore) Delete(ctx context.Context, senderID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE sender_id = ?`, senderID)
	if err != nil {
		slog.Error("SQLiteStore Delete failed", "error", err, "sender", senderID)
		return fmt.Errorf("failed to delete conversation for %s: %w", senderID, err)
	}
	slog.Debug("SQLiteStore Delete succeeded", "sender", senderID)
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
