// Package engine implements the conversation orchestration state machine for
// PostPilot.
//
// The engine receives one normalized inbound event at a time, loads or
// creates the sender's conversation record, runs the phase transition table,
// invokes the intake and composer adapters as needed, sends the outbound
// reply, and persists or deletes the record. Adapter failures never abort a
// turn; only record persistence and publish emission propagate as errors.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/PostPilot/internal/messaging"
	"github.com/BTreeMap/PostPilot/internal/models"
	"github.com/BTreeMap/PostPilot/internal/publish"
	"github.com/BTreeMap/PostPilot/internal/session"
)

// DefaultTargetChannel is used when no target channels are configured.
const DefaultTargetChannel = "instagram"

// DefaultStoreTimeout bounds one session store round-trip.
const DefaultStoreTimeout = 10 * time.Second

// MediaIngester turns a raw media reference into a stored, described media
// item. It never fails; degraded items carry a placeholder analysis.
type MediaIngester interface {
	Ingest(ctx context.Context, ref string, kind models.MediaKind) models.MediaItem
}

// SpeechTranscriber turns a raw voice reference into text, or empty on any
// failure.
type SpeechTranscriber interface {
	Transcribe(ctx context.Context, ref string) string
}

// DraftComposer produces caption drafts. Both methods always return a
// non-empty caption.
type DraftComposer interface {
	Compose(ctx context.Context, analyses []models.MediaAnalysis, userNote string, channels []string) string
	Revise(ctx context.Context, currentDraft, instruction string, analyses []models.MediaAnalysis, userNote string, channels []string) string
}

// Opts holds configuration options for the engine.
type Opts struct {
	TargetChannels []string
}

// Option defines a configuration option for the engine.
type Option func(*Opts)

// WithTargetChannels sets the default destination channels for new
// conversations.
func WithTargetChannels(channels []string) Option {
	return func(o *Opts) { o.TargetChannels = channels }
}

// Engine is the conversation orchestrator.
type Engine struct {
	store    session.Store
	msg      messaging.Service
	sink     publish.Sink
	media    MediaIngester
	speech   SpeechTranscriber
	composer DraftComposer
	channels []string
}

// NewEngine creates a conversation engine with its collaborators.
func NewEngine(store session.Store, msg messaging.Service, sink publish.Sink, media MediaIngester, speech SpeechTranscriber, composer DraftComposer, opts ...Option) *Engine {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.TargetChannels) == 0 {
		cfg.TargetChannels = []string{DefaultTargetChannel}
	}
	slog.Debug("Engine created", "target_channels", cfg.TargetChannels)

	return &Engine{
		store:    store,
		msg:      msg,
		sink:     sink,
		media:    media,
		speech:   speech,
		composer: composer,
		channels: cfg.TargetChannels,
	}
}

// HandleEvent processes one inbound event against the sender's conversation
// record. Callers must serialize events per sender; the Dispatcher does this
// by sharding senders onto single-threaded workers.
func (e *Engine) HandleEvent(ctx context.Context, evt models.InboundEvent) error {
	if err := evt.Validate(); err != nil {
		slog.Warn("Engine rejecting invalid event", "error", err, "from", evt.SenderID)
		return fmt.Errorf("invalid inbound event: %w", err)
	}

	sender := models.CanonicalSenderID(evt.SenderID)
	slog.Debug("Engine handling event", "sender", sender, "kind", evt.Kind)

	// Control keywords apply in any phase and before any record I/O.
	if evt.Kind == models.EventText {
		switch keywordFor(evt.Text) {
		case keywordCancel:
			return e.cancel(ctx, sender)
		case keywordHelp:
			e.reply(ctx, sender, replyHelp)
			return nil
		}
	}

	getCtx, cancel := context.WithTimeout(ctx, DefaultStoreTimeout)
	rec, err := e.store.Get(getCtx, sender)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to load conversation for %s: %w", sender, err)
	}
	if rec == nil {
		rec = models.NewConversationRecord(sender, e.channels)
	}

	switch rec.Phase {
	case models.PhaseIdle:
		return e.handleIdle(ctx, rec, evt)
	case models.PhaseEnriching:
		return e.handleEnriching(ctx, rec, evt)
	case models.PhaseConfirming:
		return e.handleConfirming(ctx, rec, evt)
	default:
		// A record with an unknown phase is unrecoverable; start over.
		slog.Error("Engine found record with unknown phase, resetting", "sender", sender, "phase", rec.Phase)
		if err := e.deleteRecord(ctx, sender); err != nil {
			return fmt.Errorf("failed to reset conversation for %s: %w", sender, err)
		}
		return e.handleIdle(ctx, models.NewConversationRecord(sender, e.channels), evt)
	}
}

// Control keywords recognized in any phase.
type keyword int

const (
	keywordNone keyword = iota
	keywordCancel
	keywordHelp
)

func keywordFor(text string) keyword {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "cancel", "stop", "reset":
		return keywordCancel
	case "help", "?":
		return keywordHelp
	default:
		return keywordNone
	}
}

// cancel terminates whatever conversation exists and acknowledges.
func (e *Engine) cancel(ctx context.Context, sender string) error {
	if err := e.deleteRecord(ctx, sender); err != nil {
		return fmt.Errorf("failed to delete conversation for %s: %w", sender, err)
	}
	slog.Info("Engine conversation cancelled", "sender", sender)
	e.reply(ctx, sender, replyCancelled)
	return nil
}

// save persists the record with refreshed activity bookkeeping.
func (e *Engine) save(ctx context.Context, rec *models.ConversationRecord) error {
	rec.Touch()
	saveCtx, cancel := context.WithTimeout(ctx, DefaultStoreTimeout)
	defer cancel()
	if err := e.store.Save(saveCtx, rec); err != nil {
		return fmt.Errorf("failed to save conversation for %s: %w", rec.SenderID, err)
	}
	return nil
}

// deleteRecord removes the sender's record with a bounded store round-trip.
func (e *Engine) deleteRecord(ctx context.Context, sender string) error {
	delCtx, cancel := context.WithTimeout(ctx, DefaultStoreTimeout)
	defer cancel()
	return e.store.Delete(delCtx, sender)
}

// reply sends a plain text reply. Send failures are logged, not propagated:
// the transport is a side-effecting collaborator and a failed send must not
// corrupt the turn's state handling.
func (e *Engine) reply(ctx context.Context, sender, body string) {
	if err := e.msg.SendText(ctx, sender, body); err != nil {
		slog.Error("Engine failed to send reply", "error", err, "sender", sender)
	}
}

// replyButtons sends a reply with action buttons, logging failures.
func (e *Engine) replyButtons(ctx context.Context, sender, body string, buttons []models.Button, header string) {
	if err := e.msg.SendButtons(ctx, sender, body, buttons, header); err != nil {
		slog.Error("Engine failed to send button reply", "error", err, "sender", sender)
	}
}

// requestID derives the deterministic publish request id for one
// (conversation, channel) pair, so a retried emission after a partial
// failure carries the same id and the sink can deduplicate.
func requestID(conversationID, channel string) string {
	return "pub_" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(conversationID+"/"+channel)).String()
}
