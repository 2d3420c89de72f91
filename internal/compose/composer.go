// Package compose produces publishable caption drafts from accumulated media
// descriptions and sender-supplied context.
//
// The composer asks the generative text service for one caption and falls
// back to a deterministic template when the service fails, so a conversation
// can never reach the confirmation phase without some caption text.
package compose

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/PostPilot/internal/genai"
	"github.com/BTreeMap/PostPilot/internal/models"
)

// DefaultComposeTimeout bounds one caption generation call.
const DefaultComposeTimeout = 30 * time.Second

// fallbackTags are the generic tags appended to the deterministic template
// caption when generation fails.
var fallbackTags = []string{"#new", "#today", "#checkitout"}

const captionSystemPrompt = `You write short social media captions for small businesses. ` +
	`Write exactly one caption, ready to publish, with at most three hashtags. ` +
	`Reply with the caption text only.`

// Composer turns media analyses and a user note into one caption draft.
type Composer struct {
	client genai.ClientInterface
}

// NewComposer creates a draft composer. client may be nil, in which case
// every caption comes from the fallback template.
func NewComposer(client genai.ClientInterface) *Composer {
	return &Composer{client: client}
}

// Compose produces one publishable caption from the accumulated media
// analyses, the sender's note, and the target channels. It never returns an
// empty string: on generation failure it returns the deterministic template.
func (c *Composer) Compose(ctx context.Context, analyses []models.MediaAnalysis, userNote string, channels []string) string {
	prompt := buildPrompt(analyses, userNote, channels, "")
	caption, degraded := c.generate(ctx, prompt)
	if degraded {
		return FallbackCaption(userNote)
	}
	return caption
}

// Revise regenerates the caption incorporating an edit instruction from the
// sender. Same never-empty contract as Compose, except that a failed
// revision keeps the existing draft rather than replacing it with the
// generic template.
func (c *Composer) Revise(ctx context.Context, currentDraft, instruction string, analyses []models.MediaAnalysis, userNote string, channels []string) string {
	prompt := buildPrompt(analyses, userNote, channels,
		fmt.Sprintf("Current draft: %q\nRevise the draft following this instruction: %s", currentDraft, instruction))
	caption, degraded := c.generate(ctx, prompt)
	if degraded {
		if currentDraft != "" {
			return currentDraft
		}
		return FallbackCaption(userNote)
	}
	return caption
}

// generate runs one caption generation call. The second return is true when
// the call degraded and the caller should fall back.
func (c *Composer) generate(ctx context.Context, userPrompt string) (string, bool) {
	if c.client == nil {
		slog.Debug("Composer no GenAI client configured, using fallback template")
		return "", true
	}

	genCtx, cancel := context.WithTimeout(ctx, DefaultComposeTimeout)
	caption, err := c.client.GenerateCaption(genCtx, captionSystemPrompt, userPrompt)
	cancel()
	if err != nil || strings.TrimSpace(caption) == "" {
		slog.Warn("Composer caption generation failed, using fallback template", "error", err)
		return "", true
	}

	slog.Info("Composer caption generated", "length", len(caption))
	return strings.TrimSpace(caption), false
}

// buildPrompt assembles the user prompt from everything known about the post.
func buildPrompt(analyses []models.MediaAnalysis, userNote string, channels []string, extra string) string {
	var b strings.Builder
	b.WriteString("Write a caption for a post")
	if len(channels) > 0 {
		b.WriteString(" for " + strings.Join(channels, ", "))
	}
	b.WriteString(".\n")

	described := 0
	for _, a := range analyses {
		if a.Unavailable {
			continue
		}
		described++
		fmt.Fprintf(&b, "Photo %d: %s", described, a.Description)
		if len(a.Tags) > 0 {
			fmt.Fprintf(&b, " (tags: %s)", strings.Join(a.Tags, ", "))
		}
		if a.Mood != "" {
			fmt.Fprintf(&b, " (mood: %s)", a.Mood)
		}
		b.WriteString("\n")
	}
	if described == 0 {
		b.WriteString("No photo description is available.\n")
	}

	if userNote != "" {
		fmt.Fprintf(&b, "Details from the owner: %s\n", userNote)
	}
	if extra != "" {
		b.WriteString(extra)
	}
	return b.String()
}

// FallbackCaption is the deterministic template used when caption generation
// fails: the user note (if any) plus a small fixed set of generic tags.
func FallbackCaption(userNote string) string {
	note := strings.TrimSpace(userNote)
	if note == "" {
		return "Fresh from us to you! " + strings.Join(fallbackTags, " ")
	}
	return note + " " + strings.Join(fallbackTags, " ")
}
