// Package twiliowhatsapp wraps the Twilio API for WhatsApp integration in
// PostPilot.
package twiliowhatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/BTreeMap/PostPilot/internal/models"
)

// Sender is the outbound surface of the Twilio WhatsApp client (for
// production and testing).
type Sender interface {
	SendText(ctx context.Context, to string, body string) error
	SendButtons(ctx context.Context, to string, body string, buttons []models.Button, header string) error
}

// Opts holds configuration options for the Twilio WhatsApp client.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
}

// Option defines a configuration option for the Twilio WhatsApp client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the sending WhatsApp number ("whatsapp:+1234567890").
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// Client wraps the Twilio REST API for WhatsApp.
type Client struct {
	client    *twilio.RestClient
	fromWhats string
}

// NewClient creates a Twilio WhatsApp client, falling back to the
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, and TWILIO_FROM_NUMBER environment
// variables for unset options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromWhats_set", cfg.FromWhats != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("fromWhats number must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})

	return &Client{client: client, fromWhats: cfg.FromWhats}, nil
}

// SendText sends a WhatsApp message using the Twilio API.
func (c *Client) SendText(ctx context.Context, to string, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo("whatsapp:+" + to)
	params.SetFrom(c.fromWhats)
	params.SetBody(body)

	_, err := c.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio SendText failed", "to", to, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}

	slog.Debug("Twilio message sent", "to", to)
	return nil
}

// SendButtons renders buttons as a numbered option list, since the Twilio Go
// SDK has no WhatsApp interactive buttons. Senders reply with the number or
// the option text; the webhook maps those back to button ids.
func (c *Client) SendButtons(ctx context.Context, to string, body string, buttons []models.Button, header string) error {
	if len(buttons) == 0 {
		return fmt.Errorf("button message requires at least one button")
	}
	if len(buttons) > models.MaxButtonsPerMessage {
		return models.ErrTooManyButtons
	}

	var b strings.Builder
	if header != "" {
		b.WriteString("*" + header + "*\n\n")
	}
	b.WriteString(body)
	b.WriteString("\n")
	for i, btn := range buttons {
		fmt.Fprintf(&b, "\n%d. %s", i+1, btn.Title)
	}

	if err := c.SendText(ctx, to, b.String()); err != nil {
		return err
	}
	slog.Debug("Twilio button message sent as option list", "to", to, "buttons", len(buttons))
	return nil
}

// MockClient implements Sender without touching the network (for tests).
type MockClient struct {
	Texts   []SentText
	Buttons []SentButtons
}

// SentText records one SendText call.
type SentText struct {
	To   string
	Body string
}

// SentButtons records one SendButtons call.
type SentButtons struct {
	To      string
	Body    string
	Header  string
	Buttons []models.Button
}

// NewMockClient creates a recording mock sender.
func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendText(ctx context.Context, to string, body string) error {
	m.Texts = append(m.Texts, SentText{To: to, Body: body})
	return nil
}

func (m *MockClient) SendButtons(ctx context.Context, to string, body string, buttons []models.Button, header string) error {
	m.Buttons = append(m.Buttons, SentButtons{To: to, Body: body, Header: header, Buttons: buttons})
	return nil
}
