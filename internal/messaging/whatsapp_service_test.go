package messaging

import (
	"context"
	"testing"

	"github.com/BTreeMap/PostPilot/internal/models"
	"github.com/BTreeMap/PostPilot/internal/whatsapp"
)

func TestWhatsAppService_SendText(t *testing.T) {
	mock := whatsapp.NewMockClient()
	s := NewWhatsAppService(mock)

	if err := s.SendText(context.Background(), "15551234567", "hello"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if len(mock.Texts) != 1 || mock.Texts[0].To != "15551234567" || mock.Texts[0].Body != "hello" {
		t.Errorf("unexpected recorded sends: %+v", mock.Texts)
	}
}

func TestWhatsAppService_SendButtons(t *testing.T) {
	mock := whatsapp.NewMockClient()
	s := NewWhatsAppService(mock)

	buttons := []models.Button{
		{ID: models.ButtonConfirmPublish, Title: "Publish"},
		{ID: models.ButtonConfirmEdit, Title: "Edit"},
		{ID: models.ButtonConfirmCancel, Title: "Cancel"},
	}
	if err := s.SendButtons(context.Background(), "15551234567", "Here's your draft", buttons, "Draft"); err != nil {
		t.Fatalf("SendButtons: %v", err)
	}

	if len(mock.Buttons) != 1 {
		t.Fatalf("expected 1 recorded button send, got %d", len(mock.Buttons))
	}
	sent := mock.Buttons[0]
	if sent.To != "15551234567" || sent.Header != "Draft" || len(sent.Buttons) != 3 {
		t.Errorf("unexpected recorded button send: %+v", sent)
	}
}

func TestWhatsAppService_StartStopWithMock(t *testing.T) {
	s := NewWhatsAppService(whatsapp.NewMockClient())

	// A mock sender has no underlying whatsmeow client; Start must not
	// panic and Stop must close the events channel.
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if _, ok := <-s.Events(); ok {
		t.Error("expected events channel closed after Stop")
	}
}

func TestCanonicalizePhone(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"+1 (555) 123-4567", "15551234567", false},
		{"15551234567", "15551234567", false},
		{"", "", true},
		{"++", "", true},
		{"12345", "", true},
	}
	for _, tt := range tests {
		got, err := canonicalizePhone(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("canonicalizePhone(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("canonicalizePhone(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
