// Package session provides storage backends for PostPilot conversation
// records.
//
// It includes SQLite and PostgreSQL backed stores for shared deployments and
// an in-memory store used for tests and as a degraded fallback.
package session

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/PostPilot/internal/models"
)

// DefaultTTL is the conversation inactivity timeout. Every save refreshes it;
// a record past its TTL reads as absent, returning the sender to an implicit
// idle phase.
const DefaultTTL = 30 * time.Minute

// Store is the session store contract: a key-value store keyed by canonical
// sender id with last-write-wins semantics and a TTL refreshed on save.
type Store interface {
	// Get retrieves the conversation record for a sender, or nil if absent
	// or expired.
	Get(ctx context.Context, senderID string) (*models.ConversationRecord, error)

	// Save persists the record and refreshes its TTL.
	Save(ctx context.Context, rec *models.ConversationRecord) error

	// Delete removes the record for a sender. Deleting an absent record is
	// not an error.
	Delete(ctx context.Context, senderID string) error

	// Close releases any underlying resources.
	Close() error
}

// Opts holds configuration options for session stores.
type Opts struct {
	DSN string
	TTL time.Duration
}

// Option defines a configuration option for session stores.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithTTL overrides the default conversation TTL.
func WithTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.TTL = ttl }
}

// DetectDSNType determines whether a DSN refers to PostgreSQL or SQLite.
// PostgreSQL DSNs use URL or key=value forms; anything else is treated as an
// SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// NewStore creates a session store from the supplied options. With no DSN it
// returns an in-memory store, which is only suitable for single-instance
// deployments.
func NewStore(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}

	if cfg.DSN == "" {
		slog.Warn("session.NewStore: no DSN configured, using in-memory store (single-instance only)")
		return NewInMemoryStore(WithTTL(cfg.TTL)), nil
	}

	if DetectDSNType(cfg.DSN) == "postgres" {
		slog.Debug("session.NewStore: detected PostgreSQL DSN")
		return NewPostgresStore(WithPostgresDSN(cfg.DSN), WithTTL(cfg.TTL))
	}
	slog.Debug("session.NewStore: detected SQLite DSN", "path", cfg.DSN)
	return NewSQLiteStore(WithSQLiteDSN(cfg.DSN), WithTTL(cfg.TTL))
}
