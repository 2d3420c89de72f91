// Package models defines conversation record structures for PostPilot.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Phase represents where a sender's conversation currently is.
type Phase string

const (
	// PhaseIdle is a fresh or fully-reset conversation: no media, no draft.
	PhaseIdle Phase = "IDLE"
	// PhaseEnriching means media has arrived and context is being collected.
	PhaseEnriching Phase = "ENRICHING"
	// PhaseConfirming means a draft caption is awaiting the sender's decision.
	PhaseConfirming Phase = "CONFIRMING"
)

// MediaKind identifies the stored media type.
type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindVideo MediaKind = "video"
)

// MediaAnalysis is the structured description of one stored media item.
// Unavailable marks the explicit placeholder used when the vision call
// failed, so downstream consumers can distinguish "no data" from "data says
// nothing notable".
type MediaAnalysis struct {
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	Mood        string   `json:"mood,omitempty"`
	Unavailable bool     `json:"unavailable,omitempty"`
}

// AnalysisUnavailable returns the placeholder analysis recorded when the
// vision service could not describe a media item.
func AnalysisUnavailable(kind MediaKind) MediaAnalysis {
	return MediaAnalysis{
		Description: "uploaded " + string(kind),
		Unavailable: true,
	}
}

// MediaItem is one stored piece of media attached to a conversation.
type MediaItem struct {
	StorageURL string        `json:"storage_url"`
	StorageKey string        `json:"storage_key"`
	Kind       MediaKind     `json:"kind"`
	Analysis   MediaAnalysis `json:"analysis"`
}

// ConversationRecord is the full serializable state of one sender's
// in-progress conversation. The session store is its sole durable owner; the
// engine holds a transient copy for the duration of one turn.
type ConversationRecord struct {
	SenderID          string      `json:"sender_id"`
	ConversationID    string      `json:"conversation_id"`
	Phase             Phase       `json:"phase"`
	MediaItems        []MediaItem `json:"media_items"`
	UserNote          string      `json:"user_note"`
	DraftCaption      string      `json:"draft_caption"`
	TargetChannels    []string    `json:"target_channels"`
	PendingRequestIDs []string    `json:"pending_request_ids"`
	LastActivityAt    time.Time   `json:"last_activity_at"`
	TurnCount         int         `json:"turn_count"`
}

// NewConversationRecord creates a fresh record in the idle phase for the
// given canonical sender id.
func NewConversationRecord(senderID string, targetChannels []string) *ConversationRecord {
	return &ConversationRecord{
		SenderID:       senderID,
		ConversationID: uuid.NewString(),
		Phase:          PhaseIdle,
		TargetChannels: append([]string(nil), targetChannels...),
		LastActivityAt: time.Now(),
	}
}

// Touch records activity for TTL refresh and diagnostics.
func (r *ConversationRecord) Touch() {
	r.LastActivityAt = time.Now()
	r.TurnCount++
}

// MediaURLs returns the storage URLs of all attached media, in order.
func (r *ConversationRecord) MediaURLs() []string {
	urls := make([]string, 0, len(r.MediaItems))
	for _, item := range r.MediaItems {
		urls = append(urls, item.StorageURL)
	}
	return urls
}

// Analyses returns the analysis of each attached media item, in order.
func (r *ConversationRecord) Analyses() []MediaAnalysis {
	analyses := make([]MediaAnalysis, 0, len(r.MediaItems))
	for _, item := range r.MediaItems {
		analyses = append(analyses, item.Analysis)
	}
	return analyses
}

// IsFresh reports whether the record satisfies the idle-phase invariant:
// no media, no user note, no draft.
func (r *ConversationRecord) IsFresh() bool {
	return r.Phase == PhaseIdle && len(r.MediaItems) == 0 && r.UserNote == "" && r.DraftCaption == ""
}
