// Package mediatype sniffs true payload types from magic bytes and infers
// canonical file extensions. Advertised content types are never trusted on
// their own: the sniffed type wins whenever the two disagree.
package mediatype

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"memories-downloader/pkg/models"
)

var videoExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".m4v": true, ".avi": true, ".mkv": true, ".webm": true,
}

// Overlay stills are transparent-supporting formats distinct from base photos
var overlayExtensions = map[string]bool{
	".png": true, ".webp": true,
}

var baseImageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".heic": true, ".gif": true, ".bmp": true,
}

// DetectFile sniffs the true payload type of a file from its magic bytes
func DetectFile(path string) (*mimetype.MIME, error) {
	return mimetype.DetectFile(path)
}

// KindOf maps a sniffed MIME type onto the item media classification
func KindOf(m *mimetype.MIME) models.MediaType {
	if m == nil {
		return models.MediaUnknown
	}
	switch {
	case strings.HasPrefix(m.String(), "image/"):
		return models.MediaImage
	case strings.HasPrefix(m.String(), "video/"):
		return models.MediaVideo
	default:
		return models.MediaUnknown
	}
}

// IsContainer reports whether the sniffed type is an archive container
// rather than a direct media file
func IsContainer(m *mimetype.MIME) bool {
	if m == nil {
		return false
	}
	return m.Is("application/zip") || m.Is("application/x-rar-compressed") || m.Is("application/vnd.rar")
}

// IsVideoExtension reports whether ext (with leading dot) is a video format
func IsVideoExtension(ext string) bool {
	return videoExtensions[strings.ToLower(ext)]
}

// IsOverlayExtension reports whether ext is an overlay still format
func IsOverlayExtension(ext string) bool {
	return overlayExtensions[strings.ToLower(ext)]
}

// IsBaseImageExtension reports whether ext is a non-overlay image format
func IsBaseImageExtension(ext string) bool {
	return baseImageExtensions[strings.ToLower(ext)]
}

// DefaultExtension returns the fallback extension for a media classification
func DefaultExtension(mediaType models.MediaType) string {
	if mediaType == models.MediaVideo {
		return ".mp4"
	}
	return ".jpg"
}

// InferExtension picks a canonical extension for a downloaded payload. The
// inference order is: disposition-header filename, advertised content type,
// magic-byte sniff, media-type default.
func InferExtension(disposition, contentType string, sniffed *mimetype.MIME, mediaType models.MediaType) string {
	if name := dispositionFilename(disposition); name != "" {
		if ext := strings.ToLower(filepath.Ext(name)); ext != "" && ext != "." {
			return normalizeExt(ext)
		}
	}

	if contentType != "" {
		if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
			if exts, err := mime.ExtensionsByType(parsed); err == nil && len(exts) > 0 {
				return normalizeExt(preferredExtension(exts))
			}
		}
	}

	if sniffed != nil && sniffed.Extension() != "" {
		return normalizeExt(sniffed.Extension())
	}

	return DefaultExtension(mediaType)
}

func dispositionFilename(disposition string) string {
	if disposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return params["filename"]
}

// preferredExtension resolves the many aliases mime.ExtensionsByType returns
// for common media types onto the conventional one
func preferredExtension(exts []string) string {
	preferred := map[string]bool{".jpg": true, ".mp4": true, ".png": true, ".webp": true, ".gif": true, ".mov": true}
	for _, ext := range exts {
		if preferred[strings.ToLower(ext)] {
			return ext
		}
	}
	return exts[0]
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext == ".jpeg" {
		return ".jpg"
	}
	return ext
}
