package publish

import (
	"context"
	"strings"
	"testing"

	"github.com/BTreeMap/PostPilot/internal/models"
)

func TestNewRequestID(t *testing.T) {
	a := NewRequestID()
	b := NewRequestID()

	if !strings.HasPrefix(a, "pub_") {
		t.Errorf("expected pub_ prefix, got %q", a)
	}
	if a == b {
		t.Error("expected unique request ids")
	}
}

func TestMemorySink_Emit(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()

	id, err := sink.Emit(ctx, models.PublishRequest{
		ID:             "pub_fixed",
		ConversationID: "conv_1",
		Channel:        "instagram",
		Caption:        "Fresh croissants!",
		MediaURLs:      []string{"nats://postpilot-media/a"},
	})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if id != "pub_fixed" {
		t.Errorf("expected the supplied id back, got %q", id)
	}

	// An empty id gets minted.
	id, err = sink.Emit(ctx, models.PublishRequest{ConversationID: "conv_1", Channel: "facebook"})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if !strings.HasPrefix(id, "pub_") {
		t.Errorf("expected minted id, got %q", id)
	}

	requests := sink.Requests()
	if len(requests) != 2 {
		t.Fatalf("expected 2 recorded requests, got %d", len(requests))
	}
	if requests[0].ID != "pub_fixed" || requests[1].ID != id {
		t.Errorf("unexpected recorded ids: %q, %q", requests[0].ID, requests[1].ID)
	}

	// Requests returns a copy.
	requests[0].Caption = "mutated"
	if sink.Requests()[0].Caption != "Fresh croissants!" {
		t.Error("Requests must return a copy, not shared state")
	}
}

func TestRequestSubject(t *testing.T) {
	if got := RequestSubject("instagram"); got != "publish.request.instagram" {
		t.Errorf("RequestSubject(instagram) = %q", got)
	}
}
