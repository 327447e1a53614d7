package video

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/urban-engineer/sved/log"
	"gopkg.in/vansante/go-ffprobe.v2"
)

// DefaultFallbackBitrate is used when neither the stream, the
// container, nor an mkvtoolnix BPS tag reports a bitrate.
const DefaultFallbackBitrate = 4_000_000

var unsupportedVideoCodecList = []string{"mjpeg", "jpeg", "png"}

type Prober interface {
	ProbeFile(taskID, path string, ffProbeOptions ...string) (InputVideo, error)
}

type Probe struct {
	IgnoreErrMessages []string
}

func (p Probe) ProbeFile(taskID string, path string, ffProbeOptions ...string) (InputVideo, error) {
	iv, err := p.runProbe(path, ffProbeOptions...)
	if err == nil {
		return iv, nil
	}

	// ignore these probing errors if found and re-run with fatal loglevel to obtain the probe data
	errMsg := strings.ToLower(err.Error())
	for _, ignoreMsg := range p.IgnoreErrMessages {
		if strings.Contains(errMsg, ignoreMsg) {
			log.Log(taskID, "ignoring probe error", "err", err)
			return p.runProbe(path, "-loglevel", "fatal")
		}
	}
	return InputVideo{}, err
}

func (p Probe) runProbe(path string, ffProbeOptions ...string) (iv InputVideo, err error) {
	if len(ffProbeOptions) == 0 {
		ffProbeOptions = []string{"-loglevel", "error"}
	}
	var data *ffprobe.ProbeData
	operation := func() error {
		probeCtx, probeCancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer probeCancel()
		data, err = ffprobe.ProbeURL(probeCtx, path, ffProbeOptions...)
		return err
	}

	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = 500 * time.Millisecond
	backOff.MaxInterval = 2 * time.Second
	backOff.MaxElapsedTime = 0 // don't impose a timeout as part of the retries
	err = backoff.Retry(operation, backoff.WithMaxRetries(backOff, 3))
	if err != nil {
		return InputVideo{}, fmt.Errorf("error probing: %w", err)
	}
	return parseProbeOutput(data)
}

func parseProbeOutput(probeData *ffprobe.ProbeData) (InputVideo, error) {
	videoStream := probeData.FirstVideoStream()
	if videoStream == nil {
		return InputVideo{}, errors.New("error checking for video: no video stream found")
	}
	for _, codec := range unsupportedVideoCodecList {
		if strings.ToLower(videoStream.CodecName) == codec {
			return InputVideo{}, fmt.Errorf("error checking for video: %s is not supported", videoStream.CodecName)
		}
	}
	if probeData.Format == nil {
		return InputVideo{}, fmt.Errorf("error parsing input video: format information missing")
	}

	bitrate, err := parseVideoBitrate(videoStream, probeData.Format)
	if err != nil {
		return InputVideo{}, err
	}

	size, err := strconv.ParseInt(probeData.Format.Size, 10, 64)
	if err != nil {
		return InputVideo{}, fmt.Errorf("error parsing filesize from probed data: %w", err)
	}

	fps, err := parseFps(videoStream.AvgFrameRate)
	if err != nil {
		return InputVideo{}, fmt.Errorf("error parsing avg fps numerator from probed data: %w", err)
	}
	if fps == 0 {
		fps, err = parseFps(videoStream.RFrameRate)
		if err != nil {
			return InputVideo{}, fmt.Errorf("error parsing real fps numerator from probed data: %w", err)
		}
	}

	duration, err := strconv.ParseFloat(videoStream.Duration, 64)
	if err != nil {
		duration = probeData.Format.DurationSeconds
	}

	var frames int64
	if videoStream.NbFrames != "" {
		frames, _ = strconv.ParseInt(videoStream.NbFrames, 10, 64)
	}

	iv := InputVideo{
		Format: probeData.Format.FormatName,
		Tracks: []InputTrack{
			{
				Type:    TrackTypeVideo,
				Codec:   videoStream.CodecName,
				Bitrate: bitrate,
				Frames:  frames,
				VideoTrack: VideoTrack{
					Width:              int64(videoStream.Width),
					Height:             int64(videoStream.Height),
					FPS:                fps,
					DisplayAspectRatio: videoStream.DisplayAspectRatio,
					PixelFormat:        videoStream.PixFmt,
					FieldOrder:         videoStream.FieldOrder,
				},
			},
		},
		Duration:  duration,
		SizeBytes: size,
	}
	iv, err = addAudioTracks(probeData, iv)
	if err != nil {
		return InputVideo{}, err
	}
	iv.HasSubtitles = hasSubtitleStream(probeData)

	return iv, nil
}

func hasSubtitleStream(probeData *ffprobe.ProbeData) bool {
	for _, s := range probeData.Streams {
		if s.CodecType == "subtitle" {
			return true
		}
	}
	return false
}

// parseVideoBitrate follows the stream bitrate, then the container
// bitrate, then an mkvtoolnix-style `BPS` tag on the stream, then a
// fixed fallback, in that order.
func parseVideoBitrate(videoStream *ffprobe.Stream, format *ffprobe.Format) (int64, error) {
	bitRateValue := videoStream.BitRate
	if bitRateValue == "" {
		bitRateValue = format.BitRate
	}
	if bitRateValue == "" && videoStream.Tags != nil {
		bitRateValue = videoStream.Tags.BPS
	}
	if bitRateValue == "" {
		return DefaultFallbackBitrate, nil
	}
	bitrate, err := strconv.ParseInt(bitRateValue, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("error parsing bitrate from probed data: %w", err)
	}
	return bitrate, nil
}

func addAudioTracks(probeData *ffprobe.ProbeData, iv InputVideo) (InputVideo, error) {
	for _, audioTrack := range probeData.Streams {
		if audioTrack.CodecType != "audio" {
			continue
		}
		sampleRate, err := strconv.Atoi(audioTrack.SampleRate)
		if audioTrack.SampleRate != "" && err != nil {
			return iv, fmt.Errorf("error parsing sample rate from track %d: %w", audioTrack.Index, err)
		}
		bitDepth, err := strconv.Atoi(audioTrack.BitsPerRawSample)
		if audioTrack.BitsPerRawSample != "" && err != nil {
			return iv, fmt.Errorf("error parsing bit depth (bits_per_raw_sample) from track %d: %w", audioTrack.Index, err)
		}

		bitrate, _ := strconv.ParseInt(audioTrack.BitRate, 10, 64)
		iv.Tracks = append(iv.Tracks, InputTrack{
			Type:    TrackTypeAudio,
			Codec:   audioTrack.CodecName,
			Bitrate: bitrate,
			AudioTrack: AudioTrack{
				Channels:   audioTrack.Channels,
				SampleBits: audioTrack.BitsPerSample,
				SampleRate: sampleRate,
				BitDepth:   bitDepth,
			},
		})
	}

	return iv, nil
}

// parseFps parses ffprobe's "num/den" framerate strings.
func parseFps(framerate string) (float64, error) {
	if framerate == "" {
		return 0, nil
	}
	parts := strings.SplitN(framerate, "/", 2)
	if len(parts) < 2 {
		fps, err := strconv.ParseFloat(framerate, 64)
		if err != nil {
			return 0, fmt.Errorf("error parsing framerate: %w", err)
		}
		return fps, nil
	}
	num, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("error parsing framerate numerator: %w", err)
	}
	den, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("error parsing framerate denominator: %w", err)
	}

	if den == 0 {
		if num == 0 {
			return 0, nil
		}
		return 0, errors.New("invalid framerate denominator 0")
	}

	return float64(num) / float64(den), nil
}
