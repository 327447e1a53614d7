package encode

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// ProgressBlock is one parsed ffmpeg `-progress -` block: ffmpeg emits
// a run of key=value lines terminated by progress=continue|end.
type ProgressBlock struct {
	Frame     int64
	FPS       float64
	Speed     float64
	OutTimeUs int64
	Progress  string
}

// ParseProgressStream reads ffmpeg's machine-readable progress stream
// line-by-line, calling onBlock once per complete block. Lines that
// aren't part of a progress block (ffmpeg interleaves its normal log
// output, prefixed with "[") are ignored.
func ParseProgressStream(r io.Reader, sourceFPS float64, onBlock func(ProgressBlock)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	fields := map[string]string{}
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "[") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		fields[strings.TrimSpace(key)] = strings.TrimSpace(val)

		if strings.TrimSpace(key) == "progress" {
			onBlock(formatBlock(fields, sourceFPS))
			fields = map[string]string{}
		}
	}
	return scanner.Err()
}

func formatBlock(fields map[string]string, sourceFPS float64) ProgressBlock {
	frame := parseIntOrDefault(fields["frame"], -1)
	fps := parseFloatOrDefault(fields["fps"], -1)

	speed := parseFloatOrDefault(strings.TrimSuffix(fields["speed"], "x"), -1)
	if speed < 0 && fps >= 0 && sourceFPS > 0 {
		speed = fps / sourceFPS
	}

	progress := fields["progress"]
	if progress == "" {
		progress = "continue"
	}

	return ProgressBlock{
		Frame:     frame,
		FPS:       fps,
		Speed:     speed,
		OutTimeUs: parseIntOrDefault(fields["out_time_us"], -1),
		Progress:  progress,
	}
}

func parseIntOrDefault(s string, def int64) int64 {
	if s == "" || s == "N/A" {
		return def
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func parseFloatOrDefault(s string, def float64) float64 {
	if s == "" || s == "N/A" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return f
}

// Tracker turns a stream of ProgressBlocks into coordinator-bound
// progress updates, keeping a running average fps across every block
// seen so far. The final update on progress=="end" always reports
// progress=100, eta=0.
type Tracker struct {
	totalFrames int64
	sumFPS      float64
	count       int64
}

func NewTracker(totalFrames int64) *Tracker {
	return &Tracker{totalFrames: totalFrames}
}

type Update struct {
	Progress   float64
	FPS        float64
	ETASeconds int
}

func (t *Tracker) Update(block ProgressBlock) Update {
	if block.Progress == "end" {
		return Update{Progress: 100, ETASeconds: 0}
	}

	if block.FPS > 0 {
		t.sumFPS += block.FPS
		t.count++
	}
	var avgFPS float64
	if t.count > 0 {
		avgFPS = t.sumFPS / float64(t.count)
	}

	var pct float64
	if t.totalFrames > 0 && block.Frame >= 0 {
		pct = float64(block.Frame) / float64(t.totalFrames) * 100
	}

	var eta int
	if avgFPS > 0 && t.totalFrames > 0 {
		remaining := t.totalFrames - block.Frame
		if remaining < 0 {
			remaining = 0
		}
		eta = int(float64(remaining) / avgFPS)
	}

	return Update{Progress: pct, FPS: avgFPS, ETASeconds: eta}
}
