// Package publish delivers confirmed publish requests to the downstream
// scheduling subsystem.
//
// This file implements the NATS JetStream sink and connection management.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/BTreeMap/PostPilot/internal/models"
)

const (
	// StreamName is the JetStream stream holding publish requests.
	StreamName = "PUBLISH_REQUESTS"
	// SubjectPrefix is the prefix for all publish request subjects.
	SubjectPrefix = "publish.request"
)

// Opts holds configuration options for the NATS sink.
type Opts struct {
	URL   string
	Token string
}

// Option defines a configuration option for the NATS sink.
type Option func(*Opts)

// WithURL sets the NATS server URL.
func WithURL(url string) Option {
	return func(o *Opts) { o.URL = url }
}

// WithToken sets the NATS token for authentication.
func WithToken(token string) Option {
	return func(o *Opts) { o.Token = token }
}

// NATSSink publishes requests to a JetStream stream, one subject per target
// channel. Duplicate suppression on the broker side uses the request id as
// the message id.
type NATSSink struct {
	conn *nats.Conn
	js   jetstream.JetStream
}

// NewNATSSink connects to NATS, ensures the publish request stream exists,
// and returns the sink.
func NewNATSSink(ctx context.Context, opts ...Option) (*NATSSink, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}

	natsOpts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}
	if cfg.Token != "" {
		natsOpts = append(natsOpts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, natsOpts...)
	if err != nil {
		slog.Error("Failed to connect to NATS", "error", err, "url", cfg.URL)
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	sink := &NATSSink{conn: conn, js: js}
	if err := sink.ensureStream(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	slog.Info("NATS publish sink ready", "url", cfg.URL, "stream", StreamName)
	return sink, nil
}

// ensureStream creates the publish request stream if it does not exist.
func (s *NATSSink) ensureStream(ctx context.Context) error {
	if _, err := s.js.Stream(ctx, StreamName); err == nil {
		return nil
	}
	_, err := s.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		Storage:     jetstream.FileStorage,
		MaxAge:      30 * 24 * time.Hour,
		Duplicates:  2 * time.Minute,
		Description: "Confirmed social post publish requests",
	})
	if err != nil {
		return fmt.Errorf("failed to create publish stream: %w", err)
	}
	return nil
}

// RequestSubject returns the subject a request for the given channel is
// published on.
func RequestSubject(channel string) string {
	return fmt.Sprintf("%s.%s", SubjectPrefix, channel)
}

// Emit publishes one request and returns its id. The request id doubles as
// the JetStream message id so broker-side dedupe catches transport retries.
func (s *NATSSink) Emit(ctx context.Context, req models.PublishRequest) (string, error) {
	if req.ID == "" {
		req.ID = NewRequestID()
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode publish request: %w", err)
	}

	ack, err := s.js.Publish(ctx, RequestSubject(req.Channel), payload, jetstream.WithMsgID(req.ID))
	if err != nil {
		slog.Error("NATSSink Emit failed", "error", err, "channel", req.Channel, "conversation", req.ConversationID)
		return "", fmt.Errorf("failed to publish request for %s: %w", req.Channel, err)
	}

	slog.Info("NATSSink publish request emitted", "id", req.ID, "channel", req.Channel, "conversation", req.ConversationID, "seq", ack.Sequence)
	return req.ID, nil
}

// JetStream exposes the JetStream context, e.g. for binding the media object
// store bucket on the same connection.
func (s *NATSSink) JetStream() jetstream.JetStream {
	return s.js
}

// Close closes the NATS connection.
func (s *NATSSink) Close() {
	if s.conn != nil {
		s.conn.Close()
	}
}
