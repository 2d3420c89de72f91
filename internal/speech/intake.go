// Package speech provides the voice-note intake adapter for PostPilot:
// download plus transcription, degrading to an empty transcript on any
// failure.
package speech

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/PostPilot/internal/genai"
	"github.com/BTreeMap/PostPilot/internal/media"
)

// Timeouts for the two external calls inside one transcription.
const (
	DefaultDownloadTimeout   = 30 * time.Second
	DefaultTranscribeTimeout = 60 * time.Second
)

// Intake downloads a voice note and transcribes it to text.
type Intake struct {
	downloader media.Downloader
	speech     genai.ClientInterface
}

// NewIntake creates a speech intake adapter. speech may be nil, in which
// case every transcription returns empty.
func NewIntake(downloader media.Downloader, speech genai.ClientInterface) *Intake {
	return &Intake{downloader: downloader, speech: speech}
}

// Transcribe resolves the raw audio reference into text. It never returns an
// error: any failure yields an empty transcript so the caller can ask the
// sender to retry.
func (i *Intake) Transcribe(ctx context.Context, ref string) string {
	slog.Debug("SpeechIntake Transcribe invoked")
	if i.speech == nil {
		slog.Debug("SpeechIntake no speech client configured")
		return ""
	}

	dlCtx, cancel := context.WithTimeout(ctx, DefaultDownloadTimeout)
	data, mimeType, err := i.downloader.Fetch(dlCtx, ref)
	cancel()
	if err != nil {
		slog.Warn("SpeechIntake download failed, returning empty transcript", "error", err)
		return ""
	}

	trCtx, cancel := context.WithTimeout(ctx, DefaultTranscribeTimeout)
	text, err := i.speech.Transcribe(trCtx, data, filenameFor(mimeType))
	cancel()
	if err != nil {
		slog.Warn("SpeechIntake transcription failed, returning empty transcript", "error", err)
		return ""
	}

	slog.Info("SpeechIntake Transcribe succeeded", "length", len(text))
	return text
}

// filenameFor gives Whisper a filename whose extension matches the audio
// container.
func filenameFor(mimeType string) string {
	switch mimeType {
	case "audio/ogg", "audio/ogg; codecs=opus", "application/ogg":
		return "voice.ogg"
	case "audio/mpeg":
		return "voice.mp3"
	case "audio/mp4", "audio/m4a":
		return "voice.m4a"
	case "audio/wav", "audio/x-wav":
		return "voice.wav"
	default:
		return "voice.ogg"
	}
}
