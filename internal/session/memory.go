// Package session provides storage backends for PostPilot conversation
// records.
//
// This file implements the in-memory session store used for tests and as the
// degraded fallback when the shared store is unavailable.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/BTreeMap/PostPilot/internal/models"
)

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

// InMemoryStore keeps conversation records in a process-local map. Records
// are copied through JSON on the way in and out so callers never share
// mutable state with the store.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
}

// NewInMemoryStore creates a new in-memory session store.
func NewInMemoryStore(opts ...Option) *InMemoryStore {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &InMemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     cfg.TTL,
	}
}

// Get retrieves the conversation record for a sender, treating expired
// entries as absent.
func (s *InMemoryStore) Get(ctx context.Context, senderID string) (*models.ConversationRecord, error) {
	s.mu.RLock()
	entry, ok := s.entries[senderID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if time.Now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, senderID)
		s.mu.Unlock()
		return nil, nil
	}

	var rec models.ConversationRecord
	if err := json.Unmarshal(entry.payload, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode conversation for %s: %w", senderID, err)
	}
	return &rec, nil
}

// Save persists the record and refreshes its TTL.
func (s *InMemoryStore) Save(ctx context.Context, rec *models.ConversationRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode conversation for %s: %w", rec.SenderID, err)
	}

	s.mu.Lock()
	s.entries[rec.SenderID] = memoryEntry{payload: payload, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()
	return nil
}

// Delete removes the record for a sender.
func (s *InMemoryStore) Delete(ctx context.Context, senderID string) error {
	s.mu.Lock()
	delete(s.entries, senderID)
	s.mu.Unlock()
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

// Len returns the number of live (non-expired) records. Used in tests.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	count := 0
	for _, entry := range s.entries {
		if now.Before(entry.expiresAt) {
			count++
		}
	}
	return count
}
