// Package encode implements the worker-side Encode Control Loop: scene
// rules, CRF escalation, ABR fallback, encoding levels, audio rules,
// and the ffmpeg command + progress-stream parser that drive them.
package encode

import (
	"math"

	"github.com/urban-engineer/sved/config"
)

type SceneCategory string

const (
	Scene720p  SceneCategory = "720p"
	Scene1080p SceneCategory = "1080p"
	Scene2160p SceneCategory = "2160p"
)

// Category derives the resolution category from width/height,
// favoring width when the aspect ratio is wide (>=1.78), otherwise
// falling back to height. Values between the three named resolutions
// go to the next tier up: 720 and below is 720p, above 720 up to and
// including 1080 is 1080p, anything bigger is 2160p (widths 1280 and
// 1920 play the same role on the width branch).
func Category(width, height int64) SceneCategory {
	if height <= 0 {
		return Scene720p
	}
	aspect := float64(width) / float64(height)
	if aspect >= 1.78 {
		switch {
		case width <= 1280:
			return Scene720p
		case width <= 1920:
			return Scene1080p
		default:
			return Scene2160p
		}
	}
	switch {
	case height <= 720:
		return Scene720p
	case height <= 1080:
		return Scene1080p
	default:
		return Scene2160p
	}
}

func Budget(c SceneCategory) float64 {
	switch c {
	case Scene720p:
		return config.SceneBudget720p
	case Scene1080p:
		return config.SceneBudget1080p
	default:
		return config.SceneBudget2160p
	}
}

// MaxVideoStreamBytes is the scene-rule budget for a source video
// stream of the given byte size and resolution.
func MaxVideoStreamBytes(sourceStreamBytes int64, width, height int64) int64 {
	budget := Budget(Category(width, height))
	return int64(math.Floor(float64(sourceStreamBytes) * budget))
}

// PassesSceneRules reports whether a compressed video stream size is
// within the source's scene-rule budget.
func PassesSceneRules(compressedStreamBytes, sourceStreamBytes, width, height int64) bool {
	return compressedStreamBytes <= MaxVideoStreamBytes(sourceStreamBytes, width, height)
}

// StreamBytes estimates a stream's byte size from its bitrate (bits/s)
// and duration (seconds); ffprobe does not report per-stream byte
// sizes directly, so both sides of the scene-rule comparison use this
// estimate for consistency.
func StreamBytes(bitrateBps int64, durationSeconds float64) int64 {
	return int64(float64(bitrateBps) / 8 * durationSeconds)
}

// BitrateKbps derives the two-pass ABR bitrate (kbit/s) from a byte
// budget and duration: floor((budget_bytes * 8 / 1000) / duration).
func BitrateKbps(budgetBytes int64, durationSeconds float64) int64 {
	if durationSeconds <= 0 {
		return 0
	}
	return int64(math.Floor(float64(budgetBytes) * 8 / 1000 / durationSeconds))
}

// Level picks the h264/h265 -level (or x265 high-tier level) for a
// given resolution/framerate; h265's 4.2 collapses into 4.1, since
// h265's 4.1 already covers everything h264's 4.2 does.
func Level(height int64, fps float64, isH265 bool) string {
	var level string
	switch {
	case height > 1080 && fps > 30:
		level = "5.2"
	case height > 1080:
		level = "5.1"
	case height > 720 && fps > 30:
		level = "4.2"
	default:
		level = "4.1"
	}
	if isH265 && level == "4.2" {
		level = "4.1"
	}
	return level
}
