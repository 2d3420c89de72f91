// Package publish delivers confirmed publish requests to the downstream
// scheduling subsystem.
package publish

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/BTreeMap/PostPilot/internal/models"
)

// Sink accepts one publish request per (conversation, channel) pair. The
// engine enforces the once-only property through the conversation record's
// pending request ids; a sink need only be a plain create operation.
type Sink interface {
	// Emit hands one publish request downstream and returns its id.
	Emit(ctx context.Context, req models.PublishRequest) (string, error)
}

// NewRequestID mints a publish request id.
func NewRequestID() string {
	return "pub_" + uuid.NewString()
}

// MemorySink records emitted requests in memory. Used in tests and in local
// runs without a broker.
type MemorySink struct {
	mu       sync.Mutex
	requests []models.PublishRequest
}

// NewMemorySink creates an in-memory publish sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Emit records the request and returns its id.
func (s *MemorySink) Emit(ctx context.Context, req models.PublishRequest) (string, error) {
	if req.ID == "" {
		req.ID = NewRequestID()
	}
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	return req.ID, nil
}

// Requests returns a copy of everything emitted so far.
func (s *MemorySink) Requests() []models.PublishRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.PublishRequest(nil), s.requests...)
}
