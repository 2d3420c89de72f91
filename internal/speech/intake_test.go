package speech

import (
	"context"
	"errors"
	"testing"

	"github.com/BTreeMap/PostPilot/internal/models"
)

type mockDownloader struct {
	data []byte
	mime string
	err  error
}

func (m *mockDownloader) Fetch(ctx context.Context, ref string) ([]byte, string, error) {
	return m.data, m.mime, m.err
}

type mockSpeech struct {
	text         string
	err          error
	lastFilename string
}

func (m *mockSpeech) DescribeImage(ctx context.Context, data []byte, mimeType string) (models.MediaAnalysis, error) {
	return models.MediaAnalysis{}, errors.New("not used")
}

func (m *mockSpeech) Transcribe(ctx context.Context, data []byte, filename string) (string, error) {
	m.lastFilename = filename
	return m.text, m.err
}

func (m *mockSpeech) GenerateCaption(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return "", errors.New("not used")
}

func TestTranscribe_HappyPath(t *testing.T) {
	client := &mockSpeech{text: "two for one on croissants"}
	intake := NewIntake(&mockDownloader{data: []byte("opus"), mime: "audio/ogg"}, client)

	got := intake.Transcribe(context.Background(), "file:///spool/aud_1.ogg")

	if got != "two for one on croissants" {
		t.Errorf("expected transcript, got %q", got)
	}
	if client.lastFilename != "voice.ogg" {
		t.Errorf("expected ogg filename for Whisper, got %q", client.lastFilename)
	}
}

func TestTranscribe_DownloadFailureReturnsEmpty(t *testing.T) {
	intake := NewIntake(&mockDownloader{err: errors.New("gone")}, &mockSpeech{text: "unused"})

	if got := intake.Transcribe(context.Background(), "file:///missing.ogg"); got != "" {
		t.Errorf("expected empty transcript on download failure, got %q", got)
	}
}

func TestTranscribe_ServiceFailureReturnsEmpty(t *testing.T) {
	intake := NewIntake(&mockDownloader{data: []byte("opus"), mime: "audio/ogg"}, &mockSpeech{err: errors.New("rate limited")})

	if got := intake.Transcribe(context.Background(), "file:///aud.ogg"); got != "" {
		t.Errorf("expected empty transcript on service failure, got %q", got)
	}
}

func TestTranscribe_NilClientReturnsEmpty(t *testing.T) {
	intake := NewIntake(&mockDownloader{data: []byte("opus"), mime: "audio/ogg"}, nil)

	if got := intake.Transcribe(context.Background(), "file:///aud.ogg"); got != "" {
		t.Errorf("expected empty transcript without a client, got %q", got)
	}
}

func TestFilenameFor(t *testing.T) {
	tests := []struct {
		mime string
		want string
	}{
		{"audio/ogg", "voice.ogg"},
		{"audio/ogg; codecs=opus", "voice.ogg"},
		{"audio/mpeg", "voice.mp3"},
		{"audio/mp4", "voice.m4a"},
		{"audio/wav", "voice.wav"},
		{"application/octet-stream", "voice.ogg"},
	}
	for _, tt := range tests {
		if got := filenameFor(tt.mime); got != tt.want {
			t.Errorf("filenameFor(%q) = %q, want %q", tt.mime, got, tt.want)
		}
	}
}
