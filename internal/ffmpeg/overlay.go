package ffmpeg

import (
	"context"
	"fmt"
	"strings"
)

// OverlayArgs builds the ffmpeg argument list for the single-pass overlay
// re-encode. One filter pass over a multi-pass chain keeps composition
// deterministic and avoids alpha/format drift across repeated overlays.
// Re-encode parameters track the probed source stream: encoder family matches
// the source codec family, bitrate follows the source when known, frame rate
// is pinned when derivable, pixel format normalizes to the nearest 4:2:0
// variant, and audio passes through untouched.
func OverlayArgs(source, overlayImage, dest string, probe ProbeResult) []string {
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", source,
		"-i", overlayImage,
		"-filter_complex", "[0:v][1:v]overlay=0:0:format=auto[v]",
		"-map", "[v]",
		"-map", "0:a?",
		"-c:v", encoderFor(probe),
	}

	if rate := probe.SourceBitRate(); rate > 0 {
		args = append(args, "-b:v", fmt.Sprintf("%d", rate))
	} else {
		args = append(args, "-crf", "23")
	}

	if frameRate := probe.FrameRate(); frameRate != "" {
		args = append(args, "-r", frameRate)
	}

	args = append(args, "-pix_fmt", normalizePixFmt(probe))

	if stream := probe.VideoStream(); stream != nil {
		if profile := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(stream.Profile)), " ", ""); profile != "" {
			args = append(args, "-profile:v", profile)
		}
		if stream.Level > 0 {
			args = append(args, "-level:v", fmt.Sprintf("%d", stream.Level))
		}
	}

	args = append(args,
		"-c:a", "copy",
		"-movflags", "+faststart",
		dest,
	)
	return args
}

// RunOverlay executes the composed overlay pass
func RunOverlay(ctx context.Context, binary string, args []string) error {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	cmd := commandContext(ctx, binary, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg overlay: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// encoderFor matches the output encoder family to the probed source codec
func encoderFor(probe ProbeResult) string {
	stream := probe.VideoStream()
	if stream == nil {
		return "libx264"
	}
	switch strings.ToLower(stream.CodecName) {
	case "hevc", "h265":
		return "libx265"
	case "vp9":
		return "libvpx-vp9"
	default:
		return "libx264"
	}
}

// normalizePixFmt maps the source pixel format onto the nearest standard
// 4:2:0 format
func normalizePixFmt(probe ProbeResult) string {
	stream := probe.VideoStream()
	if stream != nil && strings.Contains(stream.PixFmt, "10") {
		return "yuv420p10le"
	}
	return "yuv420p"
}
