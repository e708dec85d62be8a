package composer

import (
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"memories-downloader/pkg/models"
)

// compositeImage alpha-composites every validated overlay onto the base
// photo in order, resizing mismatched overlays to fit inside the base frame
// (never enlarging), and writes the result under the base's extension.
func (c *Composer) compositeImage(item *models.Item, container ContainerPayload) error {
	base, err := imaging.Open(container.Base, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("failed to decode base image: %w", err)
	}

	bounds := base.Bounds()
	composite := imaging.Clone(base)
	for _, overlay := range container.Overlays {
		layer := overlay.Image
		if layer.Bounds().Dx() != bounds.Dx() || layer.Bounds().Dy() != bounds.Dy() {
			// Fit never enlarges: a smaller overlay stays at its own size
			layer = imaging.Fit(layer, bounds.Dx(), bounds.Dy(), imaging.Lanczos)
		}
		composite = imaging.Overlay(composite, layer, image.Pt(0, 0), 1.0)
	}

	finalPath := filepath.Join(c.outputDir, item.CanonicalName()+encodableImageExt(container.Base))
	if err := imaging.Save(composite, finalPath); err != nil {
		return fmt.Errorf("failed to save composited image: %w", err)
	}

	item.FinalPath = finalPath
	return nil
}

// encodableImageExt keeps the base's native extension when the encoder
// supports it, falling back to jpg otherwise
func encodableImageExt(basePath string) string {
	ext := strings.ToLower(filepath.Ext(basePath))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tif", ".tiff":
		if ext == ".jpeg" {
			return ".jpg"
		}
		return ext
	default:
		return ".jpg"
	}
}
