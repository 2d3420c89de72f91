// Package media provides the media intake pipeline for PostPilot.
//
// This file implements the NATS JetStream object store backend used for
// shared deployments.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
)

// DefaultMediaBucket is the JetStream object store bucket for media blobs.
const DefaultMediaBucket = "postpilot-media"

// NATSObjectStorage persists media in a JetStream object store bucket so all
// instances and the downstream publisher share one blob store.
type NATSObjectStorage struct {
	bucket string
	store  jetstream.ObjectStore
}

// NewNATSObjectStorage binds to (or creates) the media bucket on the given
// JetStream context.
func NewNATSObjectStorage(ctx context.Context, js jetstream.JetStream, bucket string) (*NATSObjectStorage, error) {
	if bucket == "" {
		bucket = DefaultMediaBucket
	}

	store, err := js.ObjectStore(ctx, bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		slog.Debug("NATSObjectStorage creating media bucket", "bucket", bucket)
		store, err = js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
			Bucket:      bucket,
			Description: "PostPilot inbound media",
		})
	}
	if err != nil {
		slog.Error("NATSObjectStorage failed to bind media bucket", "error", err, "bucket", bucket)
		return nil, fmt.Errorf("failed to bind object store bucket %s: %w", bucket, err)
	}

	slog.Debug("NATSObjectStorage ready", "bucket", bucket)
	return &NATSObjectStorage{bucket: bucket, store: store}, nil
}

// Put stores the bytes under a new key and returns a nats:// URL usable by
// the downstream publisher.
func (s *NATSObjectStorage) Put(ctx context.Context, data []byte, mimeType string) (string, string, error) {
	key := uuid.NewString() + extensionFor(mimeType)
	if _, err := s.store.PutBytes(ctx, key, data); err != nil {
		slog.Error("NATSObjectStorage Put failed", "error", err, "key", key)
		return "", "", fmt.Errorf("failed to store media object %s: %w", key, err)
	}
	slog.Debug("NATSObjectStorage Put succeeded", "key", key, "bytes", len(data))
	return fmt.Sprintf("nats://%s/%s", s.bucket, key), key, nil
}
