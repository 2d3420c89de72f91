// Package media provides the media intake pipeline for PostPilot: fetching
// inbound media bytes, persisting them to durable storage, and describing
// them with the vision service.
package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ObjectStorage persists media bytes durably and returns a stable URL and
// key for later retrieval.
type ObjectStorage interface {
	// Put stores the bytes under a new key and returns (url, key).
	Put(ctx context.Context, data []byte, mimeType string) (string, string, error)
}

// FileStorage stores media under a local directory. Suitable for
// single-instance deployments; the key is the relative file name.
type FileStorage struct {
	dir string
}

// NewFileStorage creates a FileStorage rooted at dir, creating it if needed.
func NewFileStorage(dir string) (*FileStorage, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage directory not set")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Error("FileStorage failed to create directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	slog.Debug("FileStorage ready", "dir", dir)
	return &FileStorage{dir: dir}, nil
}

// Put writes the bytes to a new file and returns its file URL and key.
func (s *FileStorage) Put(ctx context.Context, data []byte, mimeType string) (string, string, error) {
	key := uuid.NewString() + extensionFor(mimeType)
	path := filepath.Join(s.dir, key)
	if err := os.WriteFile(path, data, 0644); err != nil {
		slog.Error("FileStorage Put failed", "error", err, "key", key)
		return "", "", fmt.Errorf("failed to write media file: %w", err)
	}
	slog.Debug("FileStorage Put succeeded", "key", key, "bytes", len(data))
	return "file://" + path, key, nil
}

// extensionFor maps common media MIME types to file extensions.
func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "audio/ogg", "audio/ogg; codecs=opus":
		return ".ogg"
	case "audio/mpeg":
		return ".mp3"
	default:
		return ".bin"
	}
}
