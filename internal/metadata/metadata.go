// Package metadata embeds capture-time and location metadata into finalized
// media files and aligns their on-disk modification time with the capture
// instant.
package metadata

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"strings"

	"memories-downloader/pkg/models"
)

// commandContext is a seam for tests
var commandContext = exec.CommandContext

const exifTimeLayout = "2006:01:02 15:04:05"

// Writer embeds capture metadata into a finalized file
type Writer interface {
	Write(ctx context.Context, item *models.Item) error
}

// ExifToolWriter writes metadata through the exiftool binary
type ExifToolWriter struct {
	binary string
	logger *slog.Logger
}

// NewExifToolWriter creates a writer. An empty binary uses exiftool on PATH.
func NewExifToolWriter(binary string) *ExifToolWriter {
	if strings.TrimSpace(binary) == "" {
		binary = "exiftool"
	}
	return &ExifToolWriter{binary: binary, logger: slog.Default()}
}

// Write embeds the capture timestamp (duplicated at track/media level for
// video), adds GPS tags when coordinates are present, then aligns the file
// modification time to the capture instant.
func (w *ExifToolWriter) Write(ctx context.Context, item *models.Item) error {
	if item.FinalPath == "" {
		return fmt.Errorf("item %d has no finalized path", item.Index)
	}

	args := buildArgs(item)
	cmd := commandContext(ctx, w.binary, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("exiftool: %w: %s", err, strings.TrimSpace(string(output)))
	}

	if err := os.Chtimes(item.FinalPath, item.CapturedAt, item.CapturedAt); err != nil {
		return fmt.Errorf("failed to align file modification time: %w", err)
	}

	w.logger.Debug("Embedded metadata", "path", item.FinalPath)
	return nil
}

func buildArgs(item *models.Item) []string {
	stamp := item.CapturedAt.UTC().Format(exifTimeLayout)

	args := []string{
		"-overwrite_original",
		"-DateTimeOriginal=" + stamp,
		"-CreateDate=" + stamp,
		"-ModifyDate=" + stamp,
	}

	if item.MediaType == models.MediaVideo {
		args = append(args,
			"-QuickTime:TrackCreateDate="+stamp,
			"-QuickTime:TrackModifyDate="+stamp,
			"-QuickTime:MediaCreateDate="+stamp,
			"-QuickTime:MediaModifyDate="+stamp,
		)
	}

	if item.HasLocation {
		latRef, lonRef := "N", "E"
		if item.Latitude < 0 {
			latRef = "S"
		}
		if item.Longitude < 0 {
			lonRef = "W"
		}
		args = append(args,
			fmt.Sprintf("-GPSLatitude=%f", math.Abs(item.Latitude)),
			"-GPSLatitudeRef="+latRef,
			fmt.Sprintf("-GPSLongitude=%f", math.Abs(item.Longitude)),
			"-GPSLongitudeRef="+lonRef,
		)
	}

	return append(args, item.FinalPath)
}
