// Package ffmpeg wraps the ffprobe/ffmpeg binaries for stream probing and
// the single-pass overlay re-encode used by the payload composer.
package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// commandContext is a seam for tests
var commandContext = exec.CommandContext

// ProbeResult represents the parsed output of an ffprobe inspection
type ProbeResult struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// Stream describes a single stream in the media container
type Stream struct {
	Index        int    `json:"index"`
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	BitRate      string `json:"bit_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
	PixFmt       string `json:"pix_fmt"`
	Profile      string `json:"profile"`
	Level        int    `json:"level"`
}

// Format captures container-level metadata
type Format struct {
	Duration string `json:"duration"`
	BitRate  string `json:"bit_rate"`
}

// Probe executes ffprobe against the provided path and decodes the JSON output
func Probe(ctx context.Context, binary, path string) (ProbeResult, error) {
	if strings.TrimSpace(binary) == "" {
		binary = "ffprobe"
	}
	if strings.TrimSpace(path) == "" {
		return ProbeResult{}, errors.New("ffprobe: empty path")
	}

	cmd := commandContext(ctx, binary, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe: %w: %s", err, strings.TrimSpace(string(output)))
	}

	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	return result, nil
}

// VideoStream returns the first video stream, or nil when none exists
func (r ProbeResult) VideoStream() *Stream {
	for i := range r.Streams {
		if strings.EqualFold(r.Streams[i].CodecType, "video") {
			return &r.Streams[i]
		}
	}
	return nil
}

// VideoStreamCount returns the number of video streams discovered
func (r ProbeResult) VideoStreamCount() int {
	count := 0
	for _, stream := range r.Streams {
		if strings.EqualFold(stream.CodecType, "video") {
			count++
		}
	}
	return count
}

// SourceBitRate returns the video stream bitrate, falling back to the
// container bitrate, or 0 when neither is known
func (r ProbeResult) SourceBitRate() int64 {
	if stream := r.VideoStream(); stream != nil {
		if rate := parseInt(stream.BitRate); rate > 0 {
			return rate
		}
	}
	return parseInt(r.Format.BitRate)
}

// FrameRate returns the source frame rate expression (e.g. "30000/1001")
// when derivable, or empty
func (r ProbeResult) FrameRate() string {
	stream := r.VideoStream()
	if stream == nil {
		return ""
	}
	rate := strings.TrimSpace(stream.AvgFrameRate)
	if rate == "" || rate == "0/0" || strings.HasPrefix(rate, "0/") {
		return ""
	}
	return rate
}

func parseInt(value string) int64 {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return 0
	}
	parsed, err := strconv.ParseInt(cleaned, 10, 64)
	if err != nil || parsed < 0 {
		return 0
	}
	return parsed
}
