// Package genai provides GenAI-backed operations for PostPilot using the
// OpenAI API: image description, voice transcription, and caption generation.
package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/BTreeMap/PostPilot/internal/models"
)

// ClientInterface defines the GenAI operations the adapters depend on. The
// concrete Client talks to OpenAI; tests substitute mocks.
type ClientInterface interface {
	// DescribeImage asks the vision model for a structured description of
	// the image bytes.
	DescribeImage(ctx context.Context, data []byte, mimeType string) (models.MediaAnalysis, error)

	// Transcribe converts a voice note to text.
	Transcribe(ctx context.Context, data []byte, filename string) (string, error)

	// GenerateCaption produces one publishable caption from the given
	// system and user prompts.
	GenerateCaption(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey    string
	ChatModel openai.ChatModel
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key, overriding the environment.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithChatModel overrides the chat model used for vision and captioning.
func WithChatModel(model openai.ChatModel) Option {
	return func(o *Opts) { o.ChatModel = model }
}

// Client wraps the OpenAI API for PostPilot's vision, speech, and caption
// operations.
type Client struct {
	api       openai.Client
	chatModel openai.ChatModel
}

// NewClient initializes a new GenAI client. The API key falls back to the
// OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = openai.ChatModelGPT4oMini
	}
	slog.Debug("GenAI client created", "chat_model", cfg.ChatModel)

	return &Client{
		api:       openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		chatModel: cfg.ChatModel,
	}, nil
}

// visionSystemPrompt instructs the model to return a machine-readable
// description of the image.
const visionSystemPrompt = `You describe photos for a social media assistant. ` +
	`Reply with a JSON object: {"description": "...", "tags": ["..."], "mood": "..."}. ` +
	`Keep the description to one or two sentences. No other text.`

// visionResult mirrors the JSON shape requested from the vision model.
type visionResult struct {
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Mood        string   `json:"mood"`
}

// DescribeImage asks the vision model for a structured description of the
// image bytes.
func (c *Client) DescribeImage(ctx context.Context, data []byte, mimeType string) (models.MediaAnalysis, error) {
	slog.Debug("GenAI DescribeImage invoked", "bytes", len(data), "mime", mimeType)

	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.chatModel,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(visionSystemPrompt),
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart("Describe this photo."),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
			}),
		},
	})
	if err != nil {
		slog.Error("GenAI DescribeImage request failed", "error", err)
		return models.MediaAnalysis{}, fmt.Errorf("vision request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return models.MediaAnalysis{}, fmt.Errorf("vision request returned no choices")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	analysis := parseVisionContent(content)
	slog.Debug("GenAI DescribeImage succeeded", "tags", len(analysis.Tags))
	return analysis, nil
}

// parseVisionContent decodes the model's JSON reply, tolerating code fences
// and falling back to treating the whole reply as the description.
func parseVisionContent(content string) models.MediaAnalysis {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var result visionResult
	if err := json.Unmarshal([]byte(trimmed), &result); err == nil && result.Description != "" {
		return models.MediaAnalysis{
			Description: result.Description,
			Tags:        result.Tags,
			Mood:        result.Mood,
		}
	}
	slog.Debug("GenAI vision reply was not valid JSON, using raw text as description")
	return models.MediaAnalysis{Description: content}
}

// Transcribe converts a voice note to text using Whisper.
func (c *Client) Transcribe(ctx context.Context, data []byte, filename string) (string, error) {
	slog.Debug("GenAI Transcribe invoked", "bytes", len(data), "filename", filename)

	resp, err := c.api.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model: openai.AudioModelWhisper1,
		File:  openai.File(bytes.NewReader(data), filename, "application/octet-stream"),
	})
	if err != nil {
		slog.Error("GenAI Transcribe request failed", "error", err)
		return "", fmt.Errorf("transcription request failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	slog.Debug("GenAI Transcribe succeeded", "length", len(text))
	return text, nil
}

// GenerateCaption produces one publishable caption from the given system and
// user prompts.
func (c *Client) GenerateCaption(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	slog.Debug("GenAI GenerateCaption invoked", "system_length", len(systemPrompt), "user_length", len(userPrompt))

	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.chatModel,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
	})
	if err != nil {
		slog.Error("GenAI GenerateCaption request failed", "error", err)
		return "", fmt.Errorf("caption request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("caption request returned no choices")
	}

	caption := strings.TrimSpace(resp.Choices[0].Message.Content)
	slog.Debug("GenAI GenerateCaption succeeded", "length", len(caption))
	return caption, nil
}
