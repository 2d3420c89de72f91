// Package models defines the core data structures for PostPilot.
//
// It includes the normalized inbound event type delivered by messaging
// transports and the publish request record emitted on confirmation.
package models

import (
	"errors"
	"strings"
)

// EventKind identifies what a normalized inbound event carries.
type EventKind string

const (
	// EventText is a plain text message from the sender.
	EventText EventKind = "text"
	// EventImage is an inbound photo.
	EventImage EventKind = "image"
	// EventVideo is an inbound video clip.
	EventVideo EventKind = "video"
	// EventAudio is an inbound voice note.
	EventAudio EventKind = "audio"
	// EventButton is a tap on one of our reply buttons.
	EventButton EventKind = "button"
)

// IsMedia reports whether the event kind carries a media reference.
func (k EventKind) IsMedia() bool {
	return k == EventImage || k == EventVideo
}

// ButtonID identifies a reply button the engine understands.
type ButtonID string

const (
	// ButtonEnrichPublish asks to generate the draft right away.
	ButtonEnrichPublish ButtonID = "enrich_publish"
	// ButtonEnrichAdd asks to add more context before drafting.
	ButtonEnrichAdd ButtonID = "enrich_add"
	// ButtonConfirmPublish confirms the draft and triggers publishing.
	ButtonConfirmPublish ButtonID = "confirm_publish"
	// ButtonConfirmEdit asks to revise the draft.
	ButtonConfirmEdit ButtonID = "confirm_edit"
	// ButtonConfirmCancel abandons the conversation.
	ButtonConfirmCancel ButtonID = "confirm_cancel"
)

// Button is one action button attached to an outbound message.
type Button struct {
	ID    ButtonID `json:"id"`
	Title string   `json:"title"`
}

// MaxButtonsPerMessage is the transport limit on buttons per outbound message.
const MaxButtonsPerMessage = 3

// Validation errors shared across modules.
var (
	ErrEmptySender      = errors.New("sender id cannot be empty")
	ErrInvalidEventKind = errors.New("invalid event kind")
	ErrMissingMediaRef  = errors.New("media reference is required for media events")
	ErrMissingButtonID  = errors.New("button id is required for button events")
	ErrTooManyButtons   = errors.New("too many buttons for one message")
)

// InboundEvent is one normalized message from the transport layer. Signature
// verification and payload parsing happen upstream; the engine only ever sees
// this shape.
type InboundEvent struct {
	SenderID string    `json:"sender_id"`
	Kind     EventKind `json:"kind"`
	Text     string    `json:"text,omitempty"`
	MediaRef string    `json:"media_ref,omitempty"`
	ButtonID ButtonID  `json:"button_id,omitempty"`
	Time     int64     `json:"time,omitempty"`
}

// IsValidEventKind checks if the given event kind is supported.
func IsValidEventKind(k EventKind) bool {
	switch k {
	case EventText, EventImage, EventVideo, EventAudio, EventButton:
		return true
	default:
		return false
	}
}

// Validate performs structural validation on an inbound event.
func (e *InboundEvent) Validate() error {
	if e.SenderID == "" {
		return ErrEmptySender
	}
	if !IsValidEventKind(e.Kind) {
		return ErrInvalidEventKind
	}
	switch e.Kind {
	case EventImage, EventVideo, EventAudio:
		if e.MediaRef == "" {
			return ErrMissingMediaRef
		}
	case EventButton:
		if e.ButtonID == "" {
			return ErrMissingButtonID
		}
	}
	return nil
}

// CanonicalSenderID normalizes an external sender identifier so that
// equivalent representations collide on the same session key. A leading "+"
// and any internal whitespace are stripped.
func CanonicalSenderID(senderID string) string {
	s := strings.TrimPrefix(strings.TrimSpace(senderID), "+")
	if !strings.ContainsAny(s, " \t") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == ' ' || r == '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// PublishRequest is the record handed to the downstream scheduling subsystem
// on confirmation. One request is emitted per target channel.
type PublishRequest struct {
	ID             string   `json:"id"`
	ConversationID string   `json:"conversation_id"`
	Channel        string   `json:"channel"`
	Caption        string   `json:"caption"`
	MediaURLs      []string `json:"media_urls"`
}
