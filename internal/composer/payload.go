package composer

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"

	"github.com/disintegration/imaging"

	"memories-downloader/internal/mediatype"
	"memories-downloader/pkg/models"
)

// Payload is the tagged result of classifying a downloaded file: either a
// plain media file or a container bundling a base asset with overlays.
type Payload interface {
	isPayload()
}

// PlainPayload is a direct media file
type PlainPayload struct {
	Path string
}

// ContainerPayload is a container that was extracted into base and overlays
type ContainerPayload struct {
	Base     string
	Overlays []Overlay
	// FileCount and Extensions describe the raw container shape for telemetry
	FileCount  int
	Extensions map[string]int
}

// Overlay is a validated, decodable overlay still
type Overlay struct {
	Path  string
	Image image.Image
}

func (PlainPayload) isPayload()     {}
func (ContainerPayload) isPayload() {}

// classify performs the single container-vs-plain branching step. Container
// payloads are extracted into extractDir and decomposed into base and
// validated overlays; invalid overlays are dropped with a recorded warning.
func (c *Composer) classify(item *models.Item, extractDir string) (Payload, error) {
	if !item.IsArchivePayload {
		return PlainPayload{Path: item.DownloadedPath}, nil
	}

	files, err := c.extract(item.DownloadedPath, extractDir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("container for item %d is empty", item.Index)
	}

	base := selectBase(files, item.MediaType)

	extensions := make(map[string]int)
	for _, file := range files {
		extensions[filepath.Ext(file)]++
	}

	payload := ContainerPayload{
		Base:       base,
		FileCount:  len(files),
		Extensions: extensions,
	}

	for _, file := range files {
		if file == base {
			continue
		}
		if !mediatype.IsOverlayExtension(filepath.Ext(file)) {
			continue
		}

		overlay, err := validateOverlay(file)
		if err != nil {
			c.warn(item, fmt.Sprintf("discarding invalid overlay %s: %v", filepath.Base(file), err))
			continue
		}
		payload.Overlays = append(payload.Overlays, overlay)
	}

	return payload, nil
}

// selectBase picks the container's base asset: prefer a file whose extension
// matches the item's expected media kind, falling back to the largest file.
func selectBase(files []string, expected models.MediaType) string {
	matches := func(path string) bool {
		ext := filepath.Ext(path)
		if expected == models.MediaVideo {
			return mediatype.IsVideoExtension(ext)
		}
		return mediatype.IsBaseImageExtension(ext)
	}

	for _, file := range files {
		if matches(file) {
			return file
		}
	}

	sorted := append([]string(nil), files...)
	sort.Slice(sorted, func(i, j int) bool {
		return fileSize(sorted[i]) > fileSize(sorted[j])
	})
	return sorted[0]
}

// validateOverlay rejects empty or undecodable overlay candidates
func validateOverlay(path string) (Overlay, error) {
	if fileSize(path) == 0 {
		return Overlay{}, fmt.Errorf("overlay is empty")
	}
	img, err := imaging.Open(path)
	if err != nil {
		return Overlay{}, fmt.Errorf("overlay is not decodable: %w", err)
	}
	return Overlay{Path: path, Image: img}, nil
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
