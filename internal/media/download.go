// Package media provides the media intake pipeline for PostPilot.
//
// This file resolves raw media references into bytes. Transports hand the
// engine either an HTTPS URL (Twilio media) or a file path into the local
// spool (whatsmeow downloads media itself before the event is emitted).
package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
)

// MaxMediaBytes caps how much media a single inbound message may carry.
const MaxMediaBytes = 32 << 20 // 32 MiB

// Downloader resolves a raw media reference into its bytes and MIME type.
type Downloader interface {
	Fetch(ctx context.Context, ref string) ([]byte, string, error)
}

// RefDownloader fetches https:// references over HTTP and file:// or plain
// path references from the local spool.
type RefDownloader struct {
	client *http.Client
}

// NewRefDownloader creates a downloader using the given HTTP client, or
// http.DefaultClient if nil.
func NewRefDownloader(client *http.Client) *RefDownloader {
	if client == nil {
		client = http.DefaultClient
	}
	return &RefDownloader{client: client}
}

// Fetch resolves the reference into (bytes, mimeType).
func (d *RefDownloader) Fetch(ctx context.Context, ref string) ([]byte, string, error) {
	slog.Debug("RefDownloader Fetch invoked", "ref_scheme", refScheme(ref))

	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return d.fetchHTTP(ctx, ref)
	}
	return d.fetchFile(strings.TrimPrefix(ref, "file://"))
}

func (d *RefDownloader) fetchHTTP(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build media request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		slog.Error("RefDownloader HTTP fetch failed", "error", err)
		return nil, "", fmt.Errorf("failed to fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Error("RefDownloader HTTP fetch bad status", "status", resp.StatusCode)
		return nil, "", fmt.Errorf("media fetch returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxMediaBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read media body: %w", err)
	}
	if len(data) > MaxMediaBytes {
		return nil, "", fmt.Errorf("media exceeds %d byte limit", MaxMediaBytes)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	slog.Debug("RefDownloader HTTP fetch succeeded", "bytes", len(data), "mime", mimeType)
	return data, mimeType, nil
}

func (d *RefDownloader) fetchFile(path string) ([]byte, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		slog.Error("RefDownloader file stat failed", "error", err)
		return nil, "", fmt.Errorf("failed to stat media file: %w", err)
	}
	if info.Size() > MaxMediaBytes {
		return nil, "", fmt.Errorf("media exceeds %d byte limit", MaxMediaBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		slog.Error("RefDownloader file read failed", "error", err)
		return nil, "", fmt.Errorf("failed to read media file: %w", err)
	}
	mimeType := http.DetectContentType(data)
	slog.Debug("RefDownloader file fetch succeeded", "bytes", len(data), "mime", mimeType)
	return data, mimeType, nil
}

func refScheme(ref string) string {
	if i := strings.Index(ref, "://"); i > 0 {
		return ref[:i]
	}
	return "path"
}
