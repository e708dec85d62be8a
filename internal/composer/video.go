package composer

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"path/filepath"

	"github.com/disintegration/imaging"

	"memories-downloader/internal/ffmpeg"
	"memories-downloader/pkg/models"
)

// compositeVideo applies the container's overlays to the base video in a
// single filter pass. All overlays are first pre-merged onto one transparent
// canvas sized to the probed frame dimensions; one overlay pass keeps the
// result deterministic and avoids alpha/format drift across repeated passes.
func (c *Composer) compositeVideo(ctx context.Context, item *models.Item, container ContainerPayload, workDir string) error {
	probe, err := ffmpeg.Probe(ctx, c.ffprobeBin, container.Base)
	if err != nil {
		return fmt.Errorf("failed to probe base video: %w", err)
	}
	stream := probe.VideoStream()
	if stream == nil {
		return fmt.Errorf("base video has no video stream")
	}
	if stream.Width <= 0 || stream.Height <= 0 {
		return fmt.Errorf("base video has no frame dimensions")
	}

	canvas := imaging.New(stream.Width, stream.Height, color.NRGBA{})
	for _, overlay := range container.Overlays {
		layer := overlay.Image
		if layer.Bounds().Dx() != stream.Width || layer.Bounds().Dy() != stream.Height {
			layer = imaging.Fit(layer, stream.Width, stream.Height, imaging.Lanczos)
		}
		canvas = imaging.Overlay(canvas, layer, image.Pt(0, 0), 1.0)
	}

	overlayPath := filepath.Join(workDir, "overlay_composite.png")
	if err := imaging.Save(canvas, overlayPath); err != nil {
		return fmt.Errorf("failed to write overlay composite: %w", err)
	}

	ext := filepath.Ext(container.Base)
	if ext == "" {
		ext = ".mp4"
	}
	finalPath := filepath.Join(c.outputDir, item.CanonicalName()+ext)

	args := ffmpeg.OverlayArgs(container.Base, overlayPath, finalPath, probe)
	if err := ffmpeg.RunOverlay(ctx, c.ffmpegBin, args); err != nil {
		return err
	}

	item.FinalPath = finalPath
	return nil
}
