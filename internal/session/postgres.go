// Package session provides storage backends for PostPilot conversation
// records.
//
// This file implements the PostgreSQL-backed session store for shared
// multi-instance deployments.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/PostPilot/internal/models"
	_ "github.com/lib/pq"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists conversation records in PostgreSQL.
type PostgresStore struct {
	db  *sql.DB
	ttl time.Duration
}

// NewPostgresStore creates a new PostgreSQL session store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "", "ttl", cfg.TTL)

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open PostgreSQL connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("PostgreSQL ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run PostgreSQL migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgreSQL session store ready")

	return &PostgresStore{db: db, ttl: cfg.TTL}, nil
}

// Get retrieves the conversation record for a sender, treating expired rows
// as absent.
func (s *PostgresStore) Get(ctx context.Context, senderID string) (*models.ConversationRecord, error) {
	var payload []byte
	var expiresAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT record, expires_at FROM conversations WHERE sender_id = $1`, senderID).
		Scan(&payload, &expiresAt)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore Get not found", "sender", senderID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore Get query failed", "error", err, "sender", senderID)
		return nil, fmt.Errorf("failed to query conversation for %s: %w", senderID, err)
	}

	if time.Now().After(expiresAt) {
		slog.Debug("PostgresStore Get found expired record", "sender", senderID, "expired_at", expiresAt)
		if _, delErr := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE sender_id = $1`, senderID); delErr != nil {
			slog.Warn("PostgresStore failed to delete expired record", "error", delErr, "sender", senderID)
		}
		return nil, nil
	}

	var rec models.ConversationRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		slog.Error("PostgresStore Get unmarshal failed", "error", err, "sender", senderID)
		return nil, fmt.Errorf("failed to decode conversation for %s: %w", senderID, err)
	}
	return &rec, nil
}

// Save persists the record and refreshes its TTL.
func (s *PostgresStore) Save(ctx context.Context, rec *models.ConversationRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		slog.Error("PostgresStore Save marshal failed", "error", err, "sender", rec.SenderID)
		return fmt.Errorf("failed to encode conversation for %s: %w", rec.SenderID, err)
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (sender_id, record, expires_at, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (sender_id) DO UPDATE SET record = EXCLUDED.record, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at`,
		rec.SenderID, payload, now.Add(s.ttl), now)
	if err != nil {
		slog.Error("PostgresStore Save failed", "error", err, "sender", rec.SenderID)
		return fmt.Errorf("failed to save conversation for %s: %w", rec.SenderID, err)
	}
	slog.Debug("PostgresStore Save succeeded", "sender", rec.SenderID, "phase", rec.Phase)
	return nil
}

// Delete removes the record for a sender.
func (s *PostgresStore) Delete(ctx context.Context, senderID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE sender_id = $1`, senderID)
	if err != nil {
		slog.Error("PostgresStore Delete failed", "error", err, "sender", senderID)
		return fmt.Errorf("failed to delete conversation for %s: %w", senderID, err)
	}
	slog.Debug("PostgresStore Delete succeeded", "sender", senderID)
	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
