package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/PostPilot/internal/models"
	"github.com/BTreeMap/PostPilot/internal/twiliowhatsapp"
)

// TwilioService implements Service using the Twilio API. Outbound buttons are
// rendered as a numbered option list; the webhook handler maps numeric or
// title replies back to the button ids of the most recent button message per
// sender.
type TwilioService struct {
	client   twiliowhatsapp.Sender
	eventsCh chan models.InboundEvent
	done     chan struct{}

	mu          sync.RWMutex
	stopped     bool
	lastButtons map[string][]models.Button
}

// NewTwilioService creates a new TwilioService with the given sender.
func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{
		client:      client,
		eventsCh:    make(chan models.InboundEvent, DefaultChannelBufferSize),
		done:        make(chan struct{}),
		lastButtons: make(map[string][]models.Button),
	}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp
// phone number.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(strings.TrimPrefix(recipient, "whatsapp:"))
}

// Start is a no-op for Twilio; inbound traffic arrives via the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.eventsCh)
	}()

	return nil
}

// SendText sends a plain text reply via Twilio.
func (s *TwilioService) SendText(ctx context.Context, to string, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendText validation error", "error", err, "to", to)
		return err
	}
	return s.client.SendText(ctx, canonicalTo, body)
}

// SendButtons sends a reply with action buttons, remembering the button set
// so the webhook can map the sender's numbered reply back to a button id.
func (s *TwilioService) SendButtons(ctx context.Context, to string, body string, buttons []models.Button, header string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendButtons validation error", "error", err, "to", to)
		return err
	}
	if err := s.client.SendButtons(ctx, canonicalTo, body, buttons, header); err != nil {
		return err
	}

	s.mu.Lock()
	s.lastButtons[canonicalTo] = append([]models.Button(nil), buttons...)
	s.mu.Unlock()
	return nil
}

// Events returns the channel of normalized inbound events.
func (s *TwilioService) Events() <-chan models.InboundEvent {
	return s.eventsCh
}

func (s *TwilioService) isStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

// WebhookHandler handles inbound Twilio webhook requests, normalizing form
// posts into inbound events.
func (s *TwilioService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	from, err := s.ValidateAndCanonicalizeRecipient(r.FormValue("From"))
	if err != nil {
		slog.Warn("Twilio webhook invalid sender", "error", err)
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	event := models.InboundEvent{
		SenderID: from,
		Time:     time.Now().Unix(),
	}

	body := strings.TrimSpace(r.FormValue("Body"))
	numMedia, _ := strconv.Atoi(r.FormValue("NumMedia"))

	switch {
	case r.FormValue("ButtonPayload") != "":
		event.Kind = models.EventButton
		event.ButtonID = models.ButtonID(r.FormValue("ButtonPayload"))

	case numMedia > 0:
		event.MediaRef = r.FormValue("MediaUrl0")
		event.Text = body
		contentType := r.FormValue("MediaContentType0")
		switch {
		case strings.HasPrefix(contentType, "audio/"):
			event.Kind = models.EventAudio
		case strings.HasPrefix(contentType, "video/"):
			event.Kind = models.EventVideo
		default:
			event.Kind = models.EventImage
		}

	case body != "":
		if id, ok := s.matchButtonReply(from, body); ok {
			event.Kind = models.EventButton
			event.ButtonID = id
		} else {
			event.Kind = models.EventText
			event.Text = body
		}

	default:
		slog.Warn("Twilio webhook with no usable content", "from", from)
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	slog.Info("Twilio webhook normalized inbound event", "from", from, "kind", event.Kind)
	s.emit(event)

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// matchButtonReply maps a numeric or title reply to the sender's most recent
// button set. A match consumes the remembered set so a later identical text
// is treated as plain text.
func (s *TwilioService) matchButtonReply(from, body string) (models.ButtonID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buttons, ok := s.lastButtons[from]
	if !ok {
		return "", false
	}

	if n, err := strconv.Atoi(body); err == nil && n >= 1 && n <= len(buttons) {
		delete(s.lastButtons, from)
		return buttons[n-1].ID, true
	}
	for _, b := range buttons {
		if strings.EqualFold(body, b.Title) {
			delete(s.lastButtons, from)
			return b.ID, true
		}
	}
	return "", false
}

// emit forwards an event without blocking the webhook handler.
func (s *TwilioService) emit(event models.InboundEvent) {
	if s.isStopped() {
		slog.Warn("TwilioService dropping inbound event (service stopped)", "from", event.SenderID)
		return
	}

	select {
	case s.eventsCh <- event:
		slog.Debug("TwilioService emitted inbound event", "from", event.SenderID)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService events channel blocked, dropping event", "from", event.SenderID)
	}
}
