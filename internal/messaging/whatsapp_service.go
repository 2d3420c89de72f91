package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/BTreeMap/PostPilot/internal/models"
	"github.com/BTreeMap/PostPilot/internal/util"
	"github.com/BTreeMap/PostPilot/internal/whatsapp"
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp
// client. Inbound text, media, voice, and button-reply messages are
// normalized into models.InboundEvent; media is spooled to local files first.
type WhatsAppService struct {
	client   whatsapp.Sender
	waClient *whatsapp.Client // full client for event handling and media spooling
	eventsCh chan models.InboundEvent
	done     chan struct{}

	mu      sync.Mutex
	stopped bool
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given sender.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	service := &WhatsAppService{
		client:   client,
		eventsCh: make(chan models.InboundEvent, DefaultChannelBufferSize),
		done:     make(chan struct{}),
	}

	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}

	return service
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp
// phone number.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// SendText sends a plain text reply.
func (s *WhatsAppService) SendText(ctx context.Context, to string, body string) error {
	slog.Debug("WhatsAppService SendText invoked", "to", to, "body_length", len(body))
	if err := s.client.SendText(ctx, to, body); err != nil {
		slog.Error("WhatsAppService SendText error", "error", err, "to", to)
		return err
	}
	return nil
}

// SendButtons sends a reply with action buttons.
func (s *WhatsAppService) SendButtons(ctx context.Context, to string, body string, buttons []models.Button, header string) error {
	slog.Debug("WhatsAppService SendButtons invoked", "to", to, "buttons", len(buttons))
	if err := s.client.SendButtons(ctx, to, body, buttons, header); err != nil {
		slog.Error("WhatsAppService SendButtons error", "error", err, "to", to)
		return err
	}
	return nil
}

// Start begins background event processing.
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")

	if s.waClient != nil {
		go s.handleEvents(ctx)
		slog.Debug("WhatsAppService event handler started")
	} else {
		slog.Debug("WhatsAppService no full client available, skipping event handling (likely mock)")
	}

	return nil
}

// Stop stops background processing. The events channel closes shortly after
// so an emit racing the shutdown lands on the done case instead of a closed
// channel.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true

	slog.Info("WhatsAppService Stop invoked")
	close(s.done)
	if s.waClient != nil {
		s.waClient.Disconnect()
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.eventsCh)
	}()
	return nil
}

// Events returns the channel of normalized inbound events.
func (s *WhatsAppService) Events() <-chan models.InboundEvent {
	return s.eventsCh
}

// handleEvents registers the whatsmeow event handler and normalizes inbound
// messages until the context is cancelled.
func (s *WhatsAppService) handleEvents(ctx context.Context) {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Error("WhatsAppService handleEvents: no client available")
		return
	}

	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(ctx, v)
		default:
			// Receipts, presence, and connection events are irrelevant here.
		}
	})

	slog.Debug("WhatsAppService event handler registered")
	<-ctx.Done()
	slog.Debug("WhatsAppService handleEvents stopping due to context cancellation")
}

// handleIncomingMessage normalizes one inbound WhatsApp message.
func (s *WhatsAppService) handleIncomingMessage(ctx context.Context, evt *events.Message) {
	if evt.Message == nil {
		return
	}
	sender := evt.Info.Sender.User
	event := models.InboundEvent{
		SenderID: sender,
		Time:     evt.Info.Timestamp.Unix(),
	}

	msg := evt.Message
	switch {
	case msg.GetButtonsResponseMessage() != nil:
		event.Kind = models.EventButton
		event.ButtonID = models.ButtonID(msg.GetButtonsResponseMessage().GetSelectedButtonID())

	case msg.GetTemplateButtonReplyMessage() != nil:
		event.Kind = models.EventButton
		event.ButtonID = models.ButtonID(msg.GetTemplateButtonReplyMessage().GetSelectedID())

	case msg.GetImageMessage() != nil:
		ref, err := s.waClient.SpoolMedia(ctx, msg.GetImageMessage(), util.GenerateRandomID("img_", 16)+".jpg")
		if err != nil {
			slog.Warn("WhatsAppService failed to spool image, dropping event", "error", err, "from", sender)
			return
		}
		event.Kind = models.EventImage
		event.MediaRef = ref
		event.Text = msg.GetImageMessage().GetCaption()

	case msg.GetVideoMessage() != nil:
		ref, err := s.waClient.SpoolMedia(ctx, msg.GetVideoMessage(), util.GenerateRandomID("vid_", 16)+".mp4")
		if err != nil {
			slog.Warn("WhatsAppService failed to spool video, dropping event", "error", err, "from", sender)
			return
		}
		event.Kind = models.EventVideo
		event.MediaRef = ref
		event.Text = msg.GetVideoMessage().GetCaption()

	case msg.GetAudioMessage() != nil:
		ref, err := s.waClient.SpoolMedia(ctx, msg.GetAudioMessage(), util.GenerateRandomID("aud_", 16)+".ogg")
		if err != nil {
			slog.Warn("WhatsAppService failed to spool audio, dropping event", "error", err, "from", sender)
			return
		}
		event.Kind = models.EventAudio
		event.MediaRef = ref

	case msg.GetConversation() != "":
		event.Kind = models.EventText
		event.Text = msg.GetConversation()

	case msg.GetExtendedTextMessage().GetText() != "":
		event.Kind = models.EventText
		event.Text = msg.GetExtendedTextMessage().GetText()

	default:
		slog.Debug("WhatsAppService ignoring unsupported message type", "from", sender)
		return
	}

	s.emit(event)
}

// emit forwards an event without blocking the whatsmeow handler goroutine.
func (s *WhatsAppService) emit(event models.InboundEvent) {
	select {
	case <-s.done:
		slog.Warn("WhatsAppService dropping inbound event (service stopped)", "from", event.SenderID)
	case s.eventsCh <- event:
		slog.Info("WhatsAppService inbound event forwarded", "from", event.SenderID, "kind", event.Kind)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService events channel blocked, dropping event", "from", event.SenderID, "timeout", DefaultChannelTimeout)
	}
}
