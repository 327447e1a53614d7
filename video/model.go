package video

import "fmt"

const (
	TrackTypeVideo = "video"
	TrackTypeAudio = "audio"
)

// InputVideo is the subset of ffprobe's view of a media file that the
// encode control loop and the metric command builder need.
type InputVideo struct {
	Format    string       `json:"format,omitempty"`
	Tracks    []InputTrack `json:"tracks,omitempty"`
	Duration  float64      `json:"duration,omitempty"`
	SizeBytes int64        `json:"size,omitempty"`
	// HasSubtitles reports whether ffprobe found at least one subtitle
	// stream; subtitle streams are otherwise not modeled as Tracks
	// since the encode control loop only ever copies them through.
	HasSubtitles bool `json:"has_subtitles,omitempty"`
}

// GetTrack returns the first track of the given type, or an error if
// none is present. The prober records only the first video stream of
// a source, so a source with several video streams yields one video
// track here; such sources are not rejected.
func (i InputVideo) GetTrack(trackType string) (InputTrack, error) {
	if trackType != TrackTypeVideo && trackType != TrackTypeAudio {
		return InputTrack{}, fmt.Errorf("invalid track type - must be '%s' or '%s'", TrackTypeVideo, TrackTypeAudio)
	}
	for _, t := range i.Tracks {
		if t.Type == trackType {
			return t, nil
		}
	}
	return InputTrack{}, fmt.Errorf("no '%s' tracks found", trackType)
}

// AudioTracks returns every audio track in source-file order; the
// first is the "main" track for the purposes of the audio rule table.
func (i InputVideo) AudioTracks() []InputTrack {
	var tracks []InputTrack
	for _, t := range i.Tracks {
		if t.Type == TrackTypeAudio {
			tracks = append(tracks, t)
		}
	}
	return tracks
}

type VideoTrack struct {
	Width              int64   `json:"width,omitempty"`
	Height             int64   `json:"height,omitempty"`
	PixelFormat        string  `json:"pixel_format,omitempty"`
	FPS                float64 `json:"fps,omitempty"`
	Rotation           int64   `json:"rotation,omitempty"`
	DisplayAspectRatio string  `json:"display_aspect_ratio,omitempty"`
	// FieldOrder is ffprobe's field_order value ("progressive",
	// "tt", "bb", "tb", "bt", ...). Anything other than "progressive"
	// or empty (including "unknown") triggers the deinterlace filter per
	// spec.md's video-filter rule.
	FieldOrder string `json:"field_order,omitempty"`
}

type AudioTrack struct {
	Channels   int `json:"channels,omitempty"`
	SampleRate int `json:"sample_rate,omitempty"`
	SampleBits int `json:"sample_bits,omitempty"`
	BitDepth   int `json:"bit_depth,omitempty"`
}

type InputTrack struct {
	Type         string  `json:"type"`
	Codec        string  `json:"codec"`
	Bitrate      int64   `json:"bitrate"`
	DurationSec  float64 `json:"duration"`
	SizeBytes    int64   `json:"size"`
	StartTimeSec float64 `json:"start_time"`
	Frames       int64   `json:"frames"`

	// Fields only used if this is a Video Track
	VideoTrack

	// Fields only used if this is an Audio Track
	AudioTrack
}

// IsProgressive reports whether this video track requires no
// deinterlace filter (field_order == "progressive" or unset).
func (t InputTrack) IsProgressive() bool {
	return t.FieldOrder == "" || t.FieldOrder == "progressive"
}
