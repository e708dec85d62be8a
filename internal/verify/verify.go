// Package verify replays integrity checks over finalized artifacts before a
// run declares success: type sniffing, a structural probe and hash stability.
package verify

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"memories-downloader/internal/dedup"
	"memories-downloader/internal/ffmpeg"
	"memories-downloader/internal/mediatype"
	"memories-downloader/internal/pause"
	"memories-downloader/internal/progress"
	"memories-downloader/internal/state"
	"memories-downloader/pkg/models"
)

// Verifier runs the post-hoc verification stage
type Verifier struct {
	gate       *pause.Gate
	store      *state.Store
	events     *progress.Broadcaster
	logger     *slog.Logger
	ffprobeBin string
}

// New creates a verifier. ffprobeBin may be empty to use the binary on PATH.
func New(gate *pause.Gate, store *state.Store, events *progress.Broadcaster, ffprobeBin string) *Verifier {
	return &Verifier{
		gate:       gate,
		store:      store,
		events:     events,
		logger:     slog.Default(),
		ffprobeBin: ffprobeBin,
	}
}

// VerifyAll checks every item with a finalized path and non-failed status.
// A verification failure is terminal for the item and isolated from others.
// Deduped items are terminal successes: their canonical twin carries the
// bytes, and under the delete policy their own file is intentionally gone.
func (v *Verifier) VerifyAll(ctx context.Context, items []*models.Item) {
	v.events.PhaseStarted("verification", len(items))

	succeeded, failed := 0, 0
	for _, item := range items {
		if item.FinalPath == "" || item.Terminal() {
			continue
		}

		v.gate.Wait()

		if err := v.verifyItem(ctx, item); err != nil {
			item.Fail(models.StageVerification, err)
			v.events.ItemStatusChanged(item.Index, item.Status)
			v.store.Upsert(models.RecordFromItem(item))
			v.logger.Error("Verification failed", "index", item.Index, "error", err)
			failed++
			continue
		}

		v.store.Upsert(models.RecordFromItem(item))
		succeeded++
	}

	v.events.StageStats("verification", succeeded, failed)
}

func (v *Verifier) verifyItem(ctx context.Context, item *models.Item) error {
	info, err := os.Stat(item.FinalPath)
	if err != nil {
		return fmt.Errorf("finalized file missing: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("finalized file is empty")
	}

	sniffed, err := mediatype.DetectFile(item.FinalPath)
	if err != nil {
		return fmt.Errorf("failed to sniff finalized file: %w", err)
	}
	kind := mediatype.KindOf(sniffed)
	if kind != models.MediaUnknown && item.MediaType != models.MediaUnknown && kind != item.MediaType {
		return fmt.Errorf("payload type %s contradicts recorded media kind %s", kind, item.MediaType)
	}

	switch item.MediaType {
	case models.MediaVideo:
		probe, err := ffmpeg.Probe(ctx, v.ffprobeBin, item.FinalPath)
		if err != nil {
			return fmt.Errorf("structural probe failed: %w", err)
		}
		if probe.VideoStreamCount() == 0 {
			return fmt.Errorf("finalized video has no video stream")
		}
	case models.MediaImage:
		if err := probeImage(item.FinalPath); err != nil {
			return err
		}
	}

	hash, err := dedup.HashFile(item.FinalPath)
	if err != nil {
		return fmt.Errorf("failed to recompute content hash: %w", err)
	}
	if item.ContentHash != "" && hash != item.ContentHash {
		// A drifting hash signals non-deterministic composition
		return fmt.Errorf("content hash drifted: recorded %s, recomputed %s", item.ContentHash, hash)
	}
	item.ContentHash = hash

	return nil
}

// probeImage requires a readable width/height from the image header
func probeImage(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open finalized image: %w", err)
	}
	defer file.Close()

	config, _, err := image.DecodeConfig(file)
	if err != nil {
		return fmt.Errorf("finalized image is not decodable: %w", err)
	}
	if config.Width <= 0 || config.Height <= 0 {
		return fmt.Errorf("finalized image has invalid dimensions %dx%d", config.Width, config.Height)
	}
	return nil
}
