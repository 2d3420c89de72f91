// Package engine implements the conversation orchestration state machine.
//
// This file holds the per-phase event handlers. Each handler owns the full
// turn for its (phase, event) cell: adapter calls, outbound reply, and
// record persistence.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/PostPilot/internal/models"
)

// mediaKindFor maps inbound media event kinds to stored media kinds.
func mediaKindFor(kind models.EventKind) models.MediaKind {
	if kind == models.EventVideo {
		return models.MediaKindVideo
	}
	return models.MediaKindImage
}

// handleIdle covers a sender with no live conversation.
func (e *Engine) handleIdle(ctx context.Context, rec *models.ConversationRecord, evt models.InboundEvent) error {
	switch evt.Kind {
	case models.EventImage, models.EventVideo:
		return e.startEnriching(ctx, rec, evt)

	case models.EventText, models.EventAudio:
		// No conversation to attach this to; ask for a photo and create no
		// record.
		e.reply(ctx, rec.SenderID, replyAskForPhoto)
		return nil

	case models.EventButton:
		// Stale button from a terminated conversation.
		slog.Debug("Engine ignoring button with no live conversation", "sender", rec.SenderID, "button", evt.ButtonID)
		return nil
	}
	return nil
}

// startEnriching ingests the first media item and opens a fresh enriching
// conversation.
func (e *Engine) startEnriching(ctx context.Context, rec *models.ConversationRecord, evt models.InboundEvent) error {
	item := e.media.Ingest(ctx, evt.MediaRef, mediaKindFor(evt.Kind))
	rec.MediaItems = append(rec.MediaItems, item)
	rec.Phase = models.PhaseEnriching

	if err := e.save(ctx, rec); err != nil {
		return err
	}
	e.replyButtons(ctx, rec.SenderID, firstMediaReaction(item), enrichButtons, "")
	return nil
}

// handleEnriching covers the phase where media and context are collected.
func (e *Engine) handleEnriching(ctx context.Context, rec *models.ConversationRecord, evt models.InboundEvent) error {
	switch evt.Kind {
	case models.EventImage, models.EventVideo:
		item := e.media.Ingest(ctx, evt.MediaRef, mediaKindFor(evt.Kind))
		rec.MediaItems = append(rec.MediaItems, item)
		if err := e.save(ctx, rec); err != nil {
			return err
		}
		e.replyButtons(ctx, rec.SenderID, mediaCountReply(len(rec.MediaItems)), enrichButtons, "")
		return nil

	case models.EventText:
		return e.toConfirming(ctx, rec, evt.Text)

	case models.EventAudio:
		transcript := e.speech.Transcribe(ctx, evt.MediaRef)
		if transcript == "" {
			// Keep the phase; the sender can retry or type instead.
			if err := e.save(ctx, rec); err != nil {
				return err
			}
			e.reply(ctx, rec.SenderID, replyVoiceRetry)
			return nil
		}
		return e.toConfirming(ctx, rec, transcript)

	case models.EventButton:
		switch evt.ButtonID {
		case models.ButtonEnrichPublish:
			return e.toConfirming(ctx, rec, "")
		case models.ButtonEnrichAdd:
			if err := e.save(ctx, rec); err != nil {
				return err
			}
			e.reply(ctx, rec.SenderID, replyAddDetailsPrompt)
			return nil
		default:
			slog.Debug("Engine ignoring unrecognized button while enriching", "sender", rec.SenderID, "button", evt.ButtonID)
			return nil
		}
	}
	return nil
}

// toConfirming generates the first draft and moves the conversation to the
// confirmation phase.
func (e *Engine) toConfirming(ctx context.Context, rec *models.ConversationRecord, userNote string) error {
	rec.UserNote = userNote
	rec.DraftCaption = e.composer.Compose(ctx, rec.Analyses(), rec.UserNote, rec.TargetChannels)
	rec.Phase = models.PhaseConfirming

	if err := e.save(ctx, rec); err != nil {
		return err
	}
	e.replyButtons(ctx, rec.SenderID, draftPreview(rec.DraftCaption, rec.TargetChannels), confirmButtons, "")
	return nil
}

// handleConfirming covers the phase where a draft awaits the sender's
// decision.
func (e *Engine) handleConfirming(ctx context.Context, rec *models.ConversationRecord, evt models.InboundEvent) error {
	switch evt.Kind {
	case models.EventImage, models.EventVideo:
		// New media supersedes the whole conversation: fresh enriching
		// record seeded with only the new item.
		fresh := models.NewConversationRecord(rec.SenderID, e.channels)
		slog.Info("Engine restarting conversation on new media while confirming", "sender", rec.SenderID, "old_conversation", rec.ConversationID, "new_conversation", fresh.ConversationID)
		return e.startEnriching(ctx, fresh, evt)

	case models.EventText:
		return e.revise(ctx, rec, evt.Text)

	case models.EventAudio:
		transcript := e.speech.Transcribe(ctx, evt.MediaRef)
		if transcript == "" {
			if err := e.save(ctx, rec); err != nil {
				return err
			}
			e.reply(ctx, rec.SenderID, replyVoiceRetry)
			return nil
		}
		return e.revise(ctx, rec, transcript)

	case models.EventButton:
		switch evt.ButtonID {
		case models.ButtonConfirmPublish:
			return e.confirm(ctx, rec)
		case models.ButtonConfirmEdit:
			if err := e.save(ctx, rec); err != nil {
				return err
			}
			e.reply(ctx, rec.SenderID, replyEditPrompt)
			return nil
		case models.ButtonConfirmCancel:
			return e.cancel(ctx, rec.SenderID)
		default:
			slog.Debug("Engine ignoring unrecognized button while confirming", "sender", rec.SenderID, "button", evt.ButtonID)
			return nil
		}
	}
	return nil
}

// revise regenerates the draft incorporating an edit instruction and resends
// the preview.
func (e *Engine) revise(ctx context.Context, rec *models.ConversationRecord, instruction string) error {
	rec.DraftCaption = e.composer.Revise(ctx, rec.DraftCaption, instruction, rec.Analyses(), rec.UserNote, rec.TargetChannels)

	if err := e.save(ctx, rec); err != nil {
		return err
	}
	e.replyButtons(ctx, rec.SenderID, draftPreview(rec.DraftCaption, rec.TargetChannels), confirmButtons, "")
	return nil
}

// confirm executes the single durable side effect of the machine: one
// publish request per target channel, exactly once per conversation.
//
// The pending request ids are the idempotency guard. They are persisted in
// the same logical step as emission, before deletion, so a crash between
// emission and deletion replays as skip-emission rather than double-emit. A
// failed emission leaves the guard empty and the record in place, so the
// sender can retry; request ids are deterministic per (conversation,
// channel), letting the sink deduplicate any overlap from a partially
// failed attempt.
func (e *Engine) confirm(ctx context.Context, rec *models.ConversationRecord) error {
	if len(rec.PendingRequestIDs) > 0 {
		slog.Warn("Engine confirm found pending publish requests, skipping emission", "sender", rec.SenderID, "conversation", rec.ConversationID, "pending", len(rec.PendingRequestIDs))
	} else {
		ids := make([]string, 0, len(rec.TargetChannels))
		for _, channel := range rec.TargetChannels {
			id, err := e.sink.Emit(ctx, models.PublishRequest{
				ID:             requestID(rec.ConversationID, channel),
				ConversationID: rec.ConversationID,
				Channel:        channel,
				Caption:        rec.DraftCaption,
				MediaURLs:      rec.MediaURLs(),
			})
			if err != nil {
				e.reply(ctx, rec.SenderID, replyPublishFailed)
				return fmt.Errorf("failed to emit publish request for %s: %w", channel, err)
			}
			ids = append(ids, id)
		}

		rec.PendingRequestIDs = ids
		if err := e.save(ctx, rec); err != nil {
			// Emission succeeded but the guard could not be persisted; the
			// deterministic request ids keep a retried confirm deduplicable
			// downstream.
			e.reply(ctx, rec.SenderID, replyPublishFailed)
			return err
		}
		slog.Info("Engine publish requests emitted", "sender", rec.SenderID, "conversation", rec.ConversationID, "count", len(ids))
	}

	if err := e.deleteRecord(ctx, rec.SenderID); err != nil {
		return fmt.Errorf("failed to delete confirmed conversation for %s: %w", rec.SenderID, err)
	}
	e.reply(ctx, rec.SenderID, publishedReply(rec.TargetChannels))
	return nil
}
