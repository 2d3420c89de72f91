// Package session provides storage backends for PostPilot conversation
// records.
//
// This file implements the failover decorator that degrades to an in-process
// store when the shared store is unavailable.
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/BTreeMap/PostPilot/internal/models"
)

// FailoverStore wraps a shared primary store and falls back to an in-process
// store when the primary errors. The fallback is scoped to the running
// instance: acceptable for single-instance deployments, a noted limitation
// for multi-instance ones. The degradation is logged once.
type FailoverStore struct {
	primary  Store
	fallback *InMemoryStore
	warnOnce sync.Once
}

// NewFailoverStore creates a failover decorator around the given primary.
func NewFailoverStore(primary Store, opts ...Option) *FailoverStore {
	return &FailoverStore{
		primary:  primary,
		fallback: NewInMemoryStore(opts...),
	}
}

func (s *FailoverStore) degraded(op string, err error) {
	s.warnOnce.Do(func() {
		slog.Warn("FailoverStore: shared session store unavailable, degrading to in-process store (single-instance only)", "op", op, "error", err)
	})
	slog.Debug("FailoverStore using in-process fallback", "op", op, "error", err)
}

// Get reads from the primary store, falling back to the in-process store on
// error.
func (s *FailoverStore) Get(ctx context.Context, senderID string) (*models.ConversationRecord, error) {
	rec, err := s.primary.Get(ctx, senderID)
	if err == nil {
		return rec, nil
	}
	s.degraded("get", err)
	return s.fallback.Get(ctx, senderID)
}

// Save writes to the primary store, falling back to the in-process store on
// error.
func (s *FailoverStore) Save(ctx context.Context, rec *models.ConversationRecord) error {
	if err := s.primary.Save(ctx, rec); err != nil {
		s.degraded("save", err)
		return s.fallback.Save(ctx, rec)
	}
	return nil
}

// Delete removes the record from both stores so a degraded write cannot
// resurrect a terminated conversation.
func (s *FailoverStore) Delete(ctx context.Context, senderID string) error {
	err := s.primary.Delete(ctx, senderID)
	if err != nil {
		s.degraded("delete", err)
	}
	if fbErr := s.fallback.Delete(ctx, senderID); fbErr != nil {
		return fbErr
	}
	if err != nil {
		// Primary delete failed but the fallback copy is gone; report
		// success so the turn can complete, the TTL will reap the row.
		return nil
	}
	return nil
}

// Close closes both stores.
func (s *FailoverStore) Close() error {
	err := s.primary.Close()
	if fbErr := s.fallback.Close(); err == nil {
		err = fbErr
	}
	return err
}
