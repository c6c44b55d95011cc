// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package worker

import (
	"fmt"

	"github.com/ManuGH/aperio/internal/config"
)

// formatSelector caps resolution at 1080p and prefers H.264/AAC streams so
// that most sources need remuxing only, not a full re-encode downstream.
const formatSelector = "bestvideo[height<=1080][vcodec^=avc1]+bestaudio[acodec^=mp4a]/best[height<=1080]/best"

// downloadArgs builds the fetch tool invocation. outTemplate must contain
// the tool's extension placeholder so the container format is preserved.
func downloadArgs(cfg config.Download, outTemplate, url string) []string {
	return []string{
		"-o", outTemplate,
		"-f", formatSelector,
		"--merge-output-format", "mp4",
		"--max-filesize", fmt.Sprintf("%d", cfg.MaxFileSizeMB*1024*1024),
		"--no-playlist",
		url,
	}
}

// processArgs builds the encoder invocation. Dimensions are forced even so
// yuv420p encoding cannot fail on odd source sizes, and faststart moves the
// moov atom up front for progressive playback.
func processArgs(cfg config.Processing, in, out string) []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-i", in,
		"-c:v", cfg.VideoCodec,
		"-preset", cfg.Preset,
		"-crf", fmt.Sprintf("%d", cfg.CRF),
		"-profile:v", "high",
		"-level", "4.0",
		"-pix_fmt", "yuv420p",
		"-vf", "scale=trunc(iw/2)*2:trunc(ih/2)*2",
		"-c:a", cfg.AudioCodec,
		"-b:a", cfg.AudioBitrate,
		"-ac", "2",
		"-threads", "0",
		"-movflags", "+faststart",
		"-max_muxing_queue_size", "1024",
		out,
	}
}
