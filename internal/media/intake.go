// Package media provides the media intake pipeline for PostPilot.
//
// This file implements the intake adapter itself. Its contract is to never
// fail: any internal error degrades to a placeholder so the conversation can
// proceed.
package media

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/PostPilot/internal/genai"
	"github.com/BTreeMap/PostPilot/internal/models"
)

// Timeouts for the two external calls inside one ingest.
const (
	DefaultDownloadTimeout = 30 * time.Second
	DefaultVisionTimeout   = 30 * time.Second
)

// Intake downloads inbound media, persists it, and asks the vision service
// to describe it. Failures are isolated into placeholder values.
type Intake struct {
	downloader Downloader
	storage    ObjectStorage
	vision     genai.ClientInterface
}

// NewIntake creates a media intake adapter. vision may be nil, in which case
// every item gets the unavailable-analysis placeholder.
func NewIntake(downloader Downloader, storage ObjectStorage, vision genai.ClientInterface) *Intake {
	return &Intake{downloader: downloader, storage: storage, vision: vision}
}

// Ingest resolves the raw media reference into a stored, described media
// item. It never returns an error: on download or storage failure the item
// carries no storage URL and the placeholder analysis; on vision failure only
// the analysis degrades.
func (i *Intake) Ingest(ctx context.Context, ref string, kind models.MediaKind) models.MediaItem {
	slog.Debug("MediaIntake Ingest invoked", "kind", kind)
	item := models.MediaItem{Kind: kind, Analysis: models.AnalysisUnavailable(kind)}

	dlCtx, cancel := context.WithTimeout(ctx, DefaultDownloadTimeout)
	data, mimeType, err := i.downloader.Fetch(dlCtx, ref)
	cancel()
	if err != nil {
		slog.Warn("MediaIntake download failed, using placeholder", "error", err, "kind", kind)
		return item
	}

	url, key, err := i.storage.Put(ctx, data, mimeType)
	if err != nil {
		slog.Warn("MediaIntake storage failed, using placeholder", "error", err, "kind", kind)
		return item
	}
	item.StorageURL = url
	item.StorageKey = key

	// Vision analysis only applies to still images; videos keep the
	// placeholder with the kind recorded.
	if kind != models.MediaKindImage || i.vision == nil || !strings.HasPrefix(mimeType, "image/") {
		slog.Debug("MediaIntake skipping vision analysis", "kind", kind, "mime", mimeType)
		return item
	}

	visionCtx, cancel := context.WithTimeout(ctx, DefaultVisionTimeout)
	analysis, err := i.vision.DescribeImage(visionCtx, data, mimeType)
	cancel()
	if err != nil {
		slog.Warn("MediaIntake vision analysis failed, using placeholder", "error", err)
		return item
	}
	item.Analysis = analysis

	slog.Info("MediaIntake Ingest succeeded", "kind", kind, "key", key, "analyzed", !analysis.Unavailable)
	return item
}
