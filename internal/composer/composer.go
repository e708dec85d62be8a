// Package composer turns each downloaded payload into the single finalized
// media file for its item: repairing extensions, and separating and merging
// base content with caption overlays when the payload is a container.
package composer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "golang.org/x/image/webp"

	"memories-downloader/internal/journal"
	"memories-downloader/internal/mediatype"
	"memories-downloader/internal/pause"
	"memories-downloader/internal/progress"
	"memories-downloader/internal/state"
	"memories-downloader/pkg/models"
)

// Composer runs the payload composition stage
type Composer struct {
	gate       *pause.Gate
	store      *state.Store
	journal    *journal.Journal
	events     *progress.Broadcaster
	logger     *slog.Logger
	outputDir  string
	failureDir string
	ffprobeBin string
	ffmpegBin  string
}

// New creates a composer writing finalized media into outputDir and
// unrecoverable container extractions into failureDir
func New(gate *pause.Gate, store *state.Store, jrnl *journal.Journal, events *progress.Broadcaster, outputDir, failureDir string) *Composer {
	return &Composer{
		gate:       gate,
		store:      store,
		journal:    jrnl,
		events:     events,
		logger:     slog.Default(),
		outputDir:  outputDir,
		failureDir: failureDir,
	}
}

// SetBinaries overrides the ffprobe/ffmpeg binaries used for video work.
// Empty values fall back to the binaries on PATH.
func (c *Composer) SetBinaries(ffmpegBin, ffprobeBin string) {
	c.ffmpegBin = ffmpegBin
	c.ffprobeBin = ffprobeBin
}

// ComposeAll processes items sequentially; composition shares external tools
// so per-item parallelism is not used here. Failures are isolated per item.
func (c *Composer) ComposeAll(ctx context.Context, items []*models.Item) {
	c.events.PhaseStarted("payload-composition", len(items))

	succeeded, failed := 0, 0
	for _, item := range items {
		if item.Status != models.StatusDownloaded || item.DownloadedPath == "" {
			continue
		}

		c.gate.Wait()

		if err := c.composeItem(ctx, item); err != nil {
			item.Fail(models.StageComposition, err)
			c.events.ItemStatusChanged(item.Index, item.Status)
			c.store.Upsert(models.RecordFromItem(item))
			c.logger.Error("Payload composition failed", "index", item.Index, "error", err)
			failed++
			continue
		}

		item.Status = models.StatusProcessed
		c.events.ItemStatusChanged(item.Index, item.Status)
		c.store.Upsert(models.RecordFromItem(item))
		succeeded++
	}

	c.events.StageStats("payload-composition", succeeded, failed)
}

func (c *Composer) composeItem(ctx context.Context, item *models.Item) error {
	if err := os.MkdirAll(c.outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if !item.IsArchivePayload {
		return c.composePlain(item)
	}

	extractDir, err := os.MkdirTemp("", fmt.Sprintf("compose-%05d-*", item.Index))
	if err != nil {
		return fmt.Errorf("failed to create extraction directory: %w", err)
	}
	// The extraction directory is always removed, success or failure
	defer c.removeWithRetry(extractDir)

	if err := c.composeContainer(ctx, item, extractDir); err != nil {
		c.archiveFailure(item, extractDir, err)
		return err
	}
	return nil
}

// composePlain repairs the extension and copies the payload to the output
// area under the canonical name
func (c *Composer) composePlain(item *models.Item) error {
	sniffed, err := mediatype.DetectFile(item.DownloadedPath)
	if err != nil {
		return fmt.Errorf("failed to sniff payload: %w", err)
	}

	if kind := mediatype.KindOf(sniffed); kind != models.MediaUnknown && kind != item.MediaType {
		c.logger.Info("Correcting media type from payload", "index", item.Index, "was", item.MediaType, "now", kind)
		item.MediaType = kind
	}

	ext := mediatype.InferExtension("", "", sniffed, item.MediaType)
	finalPath := filepath.Join(c.outputDir, item.CanonicalName()+ext)
	if err := copyFile(item.DownloadedPath, finalPath); err != nil {
		return err
	}

	item.FinalPath = finalPath
	return nil
}

func (c *Composer) composeContainer(ctx context.Context, item *models.Item, extractDir string) error {
	payload, err := c.classify(item, extractDir)
	if err != nil {
		return err
	}

	container, ok := payload.(ContainerPayload)
	if !ok {
		return c.composePlain(item)
	}

	if c.journal != nil {
		shape := journal.ContainerShape{
			ItemIndex:    item.Index,
			FileCount:    container.FileCount,
			OverlayCount: len(container.Overlays),
		}
		if err := c.journal.RecordContainerShape(shape, container.Extensions); err != nil {
			c.logger.Debug("Failed to record container shape", "error", err)
		}
	}

	// The base file's true type wins over the export's claim
	sniffed, err := mediatype.DetectFile(container.Base)
	if err != nil {
		return fmt.Errorf("failed to sniff base file: %w", err)
	}
	if kind := mediatype.KindOf(sniffed); kind != models.MediaUnknown && kind != item.MediaType {
		c.logger.Info("Correcting media type from base file", "index", item.Index, "was", item.MediaType, "now", kind)
		item.MediaType = kind
	}

	// Without overlays the base is copied as-is: re-encoding would only
	// lose quality
	if len(container.Overlays) == 0 {
		ext := mediatype.InferExtension("", "", sniffed, item.MediaType)
		finalPath := filepath.Join(c.outputDir, item.CanonicalName()+ext)
		if err := copyFile(container.Base, finalPath); err != nil {
			return err
		}
		item.FinalPath = finalPath
		return nil
	}

	if item.MediaType == models.MediaVideo {
		return c.compositeVideo(ctx, item, container, extractDir)
	}
	return c.compositeImage(item, container)
}

// archiveFailure preserves the raw extracted contents plus a small failure
// descriptor so forensic inspection remains possible after the temp
// directory is removed
func (c *Composer) archiveFailure(item *models.Item, extractDir string, cause error) {
	destDir := filepath.Join(c.failureDir, fmt.Sprintf("item_%05d", item.Index))
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		c.logger.Warn("Failed to create failure archive directory", "index", item.Index, "error", err)
		return
	}

	entries, err := os.ReadDir(extractDir)
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			src := filepath.Join(extractDir, entry.Name())
			if err := copyFile(src, filepath.Join(destDir, entry.Name())); err != nil {
				c.logger.Warn("Failed to archive extracted file", "file", entry.Name(), "error", err)
			}
		}
	}

	descriptor := map[string]any{
		"index":       item.Index,
		"downloaded":  item.DownloadedPath,
		"error":       cause.Error(),
		"archived_at": time.Now().UTC(),
	}
	data, err := json.MarshalIndent(descriptor, "", "  ")
	if err == nil {
		if err := os.WriteFile(filepath.Join(destDir, "failure.json"), data, 0o644); err != nil {
			c.logger.Warn("Failed to write failure descriptor", "index", item.Index, "error", err)
		}
	}
}

// removeWithRetry tolerates transient file locks on the extraction directory
func (c *Composer) removeWithRetry(dir string) {
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		if err = os.RemoveAll(dir); err == nil {
			return
		}
		time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
	}
	c.logger.Warn("Failed to remove extraction directory", "dir", dir, "error", err)
}

func (c *Composer) warn(item *models.Item, message string) {
	c.logger.Warn("Composition warning", "index", item.Index, "message", message)
	c.events.Warning(item.Index, message)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy file: %w", err)
	}
	return out.Close()
}
