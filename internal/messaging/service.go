// Package messaging provides the transport abstraction between chat
// channels and the conversation engine.
package messaging

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/BTreeMap/PostPilot/internal/models"
)

// Constants for messaging service configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for event channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned when a send is attempted after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

var nonDigitRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable message transport abstraction. It delivers
// normalized inbound events and sends outbound replies; everything below
// this interface (wire protocol, signature verification) is the transport's
// concern.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a
	// recipient identifier. Equivalent representations of the same sender
	// must canonicalize to the same string.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendText sends a plain text reply.
	SendText(ctx context.Context, to string, body string) error

	// SendButtons sends a reply with up to three action buttons. header may
	// be empty.
	SendButtons(ctx context.Context, to string, body string, buttons []models.Button, header string) error

	// Start begins any background processing (e.g., polling for events).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Events returns the channel of normalized inbound events.
	Events() <-chan models.InboundEvent
}

// canonicalizePhone validates and canonicalizes a WhatsApp phone number:
// leading "+" and whitespace are stripped and the result must be at least
// six digits.
func canonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", errors.New("recipient cannot be empty")
	}
	canonical := models.CanonicalSenderID(recipient)
	if nonDigitRegex.MatchString(canonical) {
		canonical = nonDigitRegex.ReplaceAllString(canonical, "")
	}
	if canonical == "" {
		return "", errors.New("invalid phone number: no digits found")
	}
	if len(canonical) < 6 {
		return "", errors.New("invalid phone number: too short")
	}
	return canonical, nil
}
