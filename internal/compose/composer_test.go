package compose

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/BTreeMap/PostPilot/internal/models"
)

// mockGenAI serves canned captions or failures.
type mockGenAI struct {
	caption    string
	err        error
	lastPrompt string
}

func (m *mockGenAI) DescribeImage(ctx context.Context, data []byte, mimeType string) (models.MediaAnalysis, error) {
	return models.MediaAnalysis{}, errors.New("not used")
}

func (m *mockGenAI) Transcribe(ctx context.Context, data []byte, filename string) (string, error) {
	return "", errors.New("not used")
}

func (m *mockGenAI) GenerateCaption(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m.lastPrompt = userPrompt
	return m.caption, m.err
}

func TestCompose_UsesGeneratedCaption(t *testing.T) {
	client := &mockGenAI{caption: "  Fresh croissants every morning! #bakery  "}
	c := NewComposer(client)

	analyses := []models.MediaAnalysis{
		{Description: "a tray of croissants", Tags: []string{"bakery"}, Mood: "warm"},
		models.AnalysisUnavailable(models.MediaKindVideo),
	}
	caption := c.Compose(context.Background(), analyses, "2 for 1 this weekend", []string{"instagram"})

	if caption != "Fresh croissants every morning! #bakery" {
		t.Errorf("expected trimmed generated caption, got %q", caption)
	}
	if !strings.Contains(client.lastPrompt, "a tray of croissants") {
		t.Errorf("expected the analysis in the prompt, got %q", client.lastPrompt)
	}
	if strings.Contains(client.lastPrompt, "uploaded video") {
		t.Errorf("placeholder analyses must not leak into the prompt: %q", client.lastPrompt)
	}
	if !strings.Contains(client.lastPrompt, "2 for 1 this weekend") {
		t.Errorf("expected the user note in the prompt, got %q", client.lastPrompt)
	}
	if !strings.Contains(client.lastPrompt, "instagram") {
		t.Errorf("expected the channel in the prompt, got %q", client.lastPrompt)
	}
}

func TestCompose_FallbackOnError(t *testing.T) {
	c := NewComposer(&mockGenAI{err: errors.New("rate limited")})

	caption := c.Compose(context.Background(), nil, "weekend special", nil)

	if caption == "" {
		t.Fatal("caption must never be empty")
	}
	if caption != FallbackCaption("weekend special") {
		t.Errorf("expected fallback caption, got %q", caption)
	}
	if !strings.Contains(caption, "weekend special") {
		t.Errorf("expected the user note preserved in the fallback, got %q", caption)
	}
}

func TestCompose_FallbackOnBlankGeneration(t *testing.T) {
	c := NewComposer(&mockGenAI{caption: "   \n "})

	caption := c.Compose(context.Background(), nil, "", nil)

	if caption == "" {
		t.Fatal("caption must never be empty")
	}
	if caption != FallbackCaption("") {
		t.Errorf("expected generic fallback, got %q", caption)
	}
}

func TestCompose_NilClient(t *testing.T) {
	c := NewComposer(nil)

	caption := c.Compose(context.Background(), nil, "note", nil)
	if caption != FallbackCaption("note") {
		t.Errorf("expected fallback caption without a client, got %q", caption)
	}
}

func TestRevise_IncorporatesInstruction(t *testing.T) {
	client := &mockGenAI{caption: "Croissants, now with opening hours"}
	c := NewComposer(client)

	caption := c.Revise(context.Background(), "Croissants!", "add our opening hours", nil, "", []string{"instagram"})

	if caption != "Croissants, now with opening hours" {
		t.Errorf("expected revised caption, got %q", caption)
	}
	if !strings.Contains(client.lastPrompt, `"Croissants!"`) {
		t.Errorf("expected current draft in the prompt, got %q", client.lastPrompt)
	}
	if !strings.Contains(client.lastPrompt, "add our opening hours") {
		t.Errorf("expected instruction in the prompt, got %q", client.lastPrompt)
	}
}

func TestRevise_KeepsDraftOnFailure(t *testing.T) {
	c := NewComposer(&mockGenAI{err: errors.New("timeout")})

	caption := c.Revise(context.Background(), "Croissants!", "make it shorter", nil, "note", nil)

	if caption != "Croissants!" {
		t.Errorf("a failed revision must keep the existing draft, got %q", caption)
	}
}

func TestRevise_FallbackWithoutDraft(t *testing.T) {
	c := NewComposer(&mockGenAI{err: errors.New("timeout")})

	caption := c.Revise(context.Background(), "", "make it shorter", nil, "note", nil)

	if caption != FallbackCaption("note") {
		t.Errorf("expected fallback when no draft exists, got %q", caption)
	}
}

func TestFallbackCaption(t *testing.T) {
	if got := FallbackCaption("Weekend special"); !strings.HasPrefix(got, "Weekend special") {
		t.Errorf("expected note-first fallback, got %q", got)
	}
	generic := FallbackCaption("   ")
	if generic == "" || strings.HasPrefix(generic, " ") {
		t.Errorf("expected a generic caption for a blank note, got %q", generic)
	}
	if !strings.Contains(generic, "#") {
		t.Errorf("expected generic tags, got %q", generic)
	}
}
