// Package export parses the memories export listing into normalized items.
// It is the thin upstream collaborator of the processing engine: the engine
// consumes its output contract and treats its typed errors as run-fatal.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"memories-downloader/pkg/models"
)

var (
	// ErrNoItems indicates the export listing contained no media entries
	ErrNoItems = errors.New("export contains no media items")
	// ErrUnknownFormat indicates the listing is neither a JSON nor an HTML export
	ErrUnknownFormat = errors.New("unrecognized export format")
)

// jsonExport mirrors the JSON export layout
type jsonExport struct {
	SavedMedia []jsonEntry `json:"Saved Media"`
}

type jsonEntry struct {
	Date         string `json:"Date"`
	MediaType    string `json:"Media Type"`
	Location     string `json:"Location"`
	DownloadLink string `json:"Download Link"`
}

// HTML exports reference each memory either through the download helper
// (requires the POST exchange) or as a plain direct link
var (
	htmlPostLinkPattern   = regexp.MustCompile(`downloadMemories\('([^']+)'`)
	htmlDirectLinkPattern = regexp.MustCompile(`<a[^>]+href="(https?://[^"]+)"`)
	htmlDatePattern       = regexp.MustCompile(`\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}(?: [A-Z]{2,5})?`)
)

var dateLayouts = []string{
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// ParseFile reads an export listing and produces the ordered item list.
// Item indexes are assigned by ordinal position and are the stable resume key.
func ParseFile(path string) ([]*models.Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read export listing: %w", err)
	}

	trimmed := strings.TrimSpace(string(data))
	switch {
	case strings.HasPrefix(trimmed, "{"):
		return parseJSON(data)
	case strings.Contains(trimmed, "<html") || strings.Contains(trimmed, "<a "):
		return parseHTML(trimmed)
	default:
		return nil, ErrUnknownFormat
	}
}

func parseJSON(data []byte) ([]*models.Item, error) {
	var export jsonExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("failed to parse JSON export: %w", err)
	}
	if len(export.SavedMedia) == 0 {
		return nil, ErrNoItems
	}

	items := make([]*models.Item, 0, len(export.SavedMedia))
	for i, entry := range export.SavedMedia {
		item := &models.Item{
			Index:         i,
			Status:        models.StatusPending,
			CapturedAtRaw: entry.Date,
			CapturedAt:    parseDate(entry.Date),
			MediaType:     parseMediaType(entry.MediaType),
			DownloadURL:   entry.DownloadLink,
			// JSON export links require the form-POST redirect exchange
			MethodHint: models.MethodPost,
		}
		if lat, lon, ok := parseLocation(entry.Location); ok {
			item.Latitude = lat
			item.Longitude = lon
			item.HasLocation = true
		}
		items = append(items, item)
	}
	return items, nil
}

func parseHTML(content string) ([]*models.Item, error) {
	var items []*models.Item
	index := 0

	for _, line := range strings.Split(content, "\n") {
		url := ""
		hint := models.MethodNone
		if match := htmlPostLinkPattern.FindStringSubmatch(line); match != nil {
			url = match[1]
			hint = models.MethodPost
		} else if match := htmlDirectLinkPattern.FindStringSubmatch(line); match != nil {
			url = match[1]
			hint = models.MethodGet
		}
		if url == "" {
			continue
		}

		// The capture timestamp feeds the canonical filename, so it must be
		// stable across runs: a row without a parseable date keeps the zero
		// time rather than inventing one.
		rawDate := htmlDatePattern.FindString(line)
		items = append(items, &models.Item{
			Index:         index,
			Status:        models.StatusPending,
			CapturedAtRaw: rawDate,
			CapturedAt:    parseDate(rawDate),
			MediaType:     mediaTypeFromLine(line),
			DownloadURL:   url,
			MethodHint:    hint,
		})
		index++
	}

	if len(items) == 0 {
		return nil, ErrNoItems
	}
	return items, nil
}

func parseMediaType(value string) models.MediaType {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "image", "photo":
		return models.MediaImage
	case "video":
		return models.MediaVideo
	default:
		return models.MediaUnknown
	}
}

func mediaTypeFromLine(line string) models.MediaType {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "video"):
		return models.MediaVideo
	case strings.Contains(lower, "image") || strings.Contains(lower, "photo"):
		return models.MediaImage
	default:
		return models.MediaUnknown
	}
}

// parseDate normalizes the export's capture timestamp to UTC. The raw string
// is kept on the item for audit; an unparseable date falls back to zero time.
func parseDate(raw string) time.Time {
	trimmed := strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			return parsed.UTC()
		}
	}
	return time.Time{}
}

// parseLocation extracts a coordinate pair from the export's location string,
// e.g. "Latitude, Longitude: 40.7128, -74.0060". A missing, malformed or
// trivial (0,0) location yields no coordinates.
func parseLocation(raw string) (lat, lon float64, ok bool) {
	value := raw
	if idx := strings.LastIndex(raw, ":"); idx >= 0 {
		value = raw[idx+1:]
	}

	parts := strings.Split(value, ",")
	if len(parts) != 2 {
		return 0, 0, false
	}

	lat, errLat := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lon, errLon := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if errLat != nil || errLon != nil {
		return 0, 0, false
	}
	if lat == 0 && lon == 0 {
		return 0, 0, false
	}
	return lat, lon, true
}
