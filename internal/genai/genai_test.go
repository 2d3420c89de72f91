package genai

import (
	"testing"
)

func TestParseVisionContent(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantDesc string
		wantTags int
		wantMood string
	}{
		{
			name:     "plain JSON",
			content:  `{"description":"a tray of croissants","tags":["bakery","croissant"],"mood":"warm"}`,
			wantDesc: "a tray of croissants",
			wantTags: 2,
			wantMood: "warm",
		},
		{
			name:     "fenced JSON",
			content:  "```json\n{\"description\":\"a storefront\",\"tags\":[\"shop\"]}\n```",
			wantDesc: "a storefront",
			wantTags: 1,
		},
		{
			name:     "bare fence",
			content:  "```\n{\"description\":\"latte art\"}\n```",
			wantDesc: "latte art",
		},
		{
			name:     "free text fallback",
			content:  "A cozy cafe interior with warm lighting.",
			wantDesc: "A cozy cafe interior with warm lighting.",
		},
		{
			name:     "JSON missing description falls back to raw",
			content:  `{"tags":["x"]}`,
			wantDesc: `{"tags":["x"]}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseVisionContent(tt.content)
			if got.Description != tt.wantDesc {
				t.Errorf("description = %q, want %q", got.Description, tt.wantDesc)
			}
			if len(got.Tags) != tt.wantTags {
				t.Errorf("tags = %v, want %d entries", got.Tags, tt.wantTags)
			}
			if got.Mood != tt.wantMood {
				t.Errorf("mood = %q, want %q", got.Mood, tt.wantMood)
			}
			if got.Unavailable {
				t.Error("parsed analyses must not be marked unavailable")
			}
		})
	}
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewClient(); err == nil {
		t.Error("expected error without an API key")
	}
}

func TestNewClient_EnvFallback(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	client, err := NewClient()
	if err != nil {
		t.Fatalf("NewClient with env key: %v", err)
	}
	if client == nil {
		t.Fatal("expected a client")
	}
}
