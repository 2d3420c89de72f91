// Package engine implements the conversation orchestration state machine.
//
// This file holds the outbound reply texts and button sets.
package engine

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/PostPilot/internal/models"
)

// Reply texts. Phrased to keep the conversation moving rather than exposing
// internals; a degraded turn reads the same as a healthy one.
const (
	replyAskForPhoto = "Send me a photo first and I'll turn it into a post for you! 📸"

	replyAddDetailsPrompt = "Sure! Tell me anything you want in the post: price, promotion, opening hours…"

	replyVoiceRetry = "Sorry, I couldn't make out that voice note. Could you try again, or just type it?"

	replyEditPrompt = "What should I change? Describe it in a message or voice note."

	replyCancelled = "Okay, I've thrown that away. Send a photo whenever you're ready to start over."

	replyPublishFailed = "⚠️ Something went wrong handing your post off. Nothing was published twice — tap Publish to try again."

	replyHelp = "Here's how this works:\n" +
		"1. Send me one or more photos.\n" +
		"2. Add details by text or voice note (price, promo, hours).\n" +
		"3. I draft the post and you approve it with one tap.\n" +
		"Type \"cancel\" at any time to start over."
)

// enrichButtons are offered while media is being collected.
var enrichButtons = []models.Button{
	{ID: models.ButtonEnrichPublish, Title: "Publish now"},
	{ID: models.ButtonEnrichAdd, Title: "Let me add more"},
}

// confirmButtons are offered with a draft preview.
var confirmButtons = []models.Button{
	{ID: models.ButtonConfirmPublish, Title: "Publish"},
	{ID: models.ButtonConfirmEdit, Title: "Edit"},
	{ID: models.ButtonConfirmCancel, Title: "Cancel"},
}

// firstMediaReaction builds the short reaction to the first photo of a
// conversation.
func firstMediaReaction(item models.MediaItem) string {
	if item.Analysis.Unavailable {
		return "Got your photo! 📸 Want me to draft the post now, or add some details first?"
	}
	return fmt.Sprintf("Nice! I see: %s 📸 Want me to draft the post now, or add some details first?", item.Analysis.Description)
}

// mediaCountReply builds the reply for each additional media item.
func mediaCountReply(count int) string {
	return fmt.Sprintf("Added! That's %d so far. Draft the post now, or keep adding?", count)
}

// draftPreview builds the confirmation message shown with the draft caption.
func draftPreview(caption string, channels []string) string {
	return fmt.Sprintf("Here's your draft for %s:\n\n%s", strings.Join(channels, ", "), caption)
}

// publishedReply builds the terminal success message.
func publishedReply(channels []string) string {
	return fmt.Sprintf("🎉 Done! Your post is queued for %s.", strings.Join(channels, ", "))
}
