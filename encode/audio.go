package encode

import (
	"fmt"

	"github.com/urban-engineer/sved/video"
)

// AudioTrackPlan is one output audio stream to be produced from a
// source track: either a straight copy, or a transcode with an
// optional gain filter.
type AudioTrackPlan struct {
	SourceIndex int
	OutputIndex int
	Main        bool
	Copy        bool
	BitrateKbps int
	GainDB      int
	Channels    int
}

// PlanAudioTracks applies the audio rule table (spec §4.4) to every
// audio track of a source, in source order. The first track is
// "main"; everything else follows the same table minus the
// compatibility-track addition.
func PlanAudioTracks(tracks []video.InputTrack) []AudioTrackPlan {
	var plans []AudioTrackPlan
	outIdx := 0
	for i, t := range tracks {
		main := i == 0
		bitrateKbps := int(t.Bitrate / 1000)

		switch {
		case t.Channels >= 6:
			if bitrateKbps > 576 {
				plans = append(plans, AudioTrackPlan{
					SourceIndex: i, OutputIndex: outIdx, Main: main,
					BitrateKbps: 576, Channels: 6,
				})
				outIdx++
				if main {
					plans = append(plans, AudioTrackPlan{
						SourceIndex: i, OutputIndex: outIdx, Main: false,
						BitrateKbps: 192, GainDB: 2, Channels: 2,
					})
					outIdx++
				}
			} else {
				plans = append(plans, AudioTrackPlan{
					SourceIndex: i, OutputIndex: outIdx, Main: main,
					BitrateKbps: 192, GainDB: 2, Channels: 2,
				})
				outIdx++
			}
		default:
			if t.Codec == "aac" && bitrateKbps <= 192 {
				plans = append(plans, AudioTrackPlan{
					SourceIndex: i, OutputIndex: outIdx, Main: main,
					Copy: true, Channels: t.Channels,
				})
			} else {
				plans = append(plans, AudioTrackPlan{
					SourceIndex: i, OutputIndex: outIdx, Main: main,
					BitrateKbps: 192, Channels: 2,
				})
			}
			outIdx++
		}
	}
	return plans
}

// Args renders one plan entry into its ffmpeg argument group.
func (p AudioTrackPlan) Args() []string {
	if p.Copy {
		return []string{
			"-map", fmt.Sprintf("0:a:%d", p.SourceIndex),
			fmt.Sprintf("-c:a:%d", p.OutputIndex), "copy",
		}
	}

	args := []string{
		"-map", fmt.Sprintf("0:a:%d", p.SourceIndex),
		fmt.Sprintf("-c:a:%d", p.OutputIndex), "aac",
		fmt.Sprintf("-b:a:%d", p.OutputIndex), fmt.Sprintf("%dk", p.BitrateKbps),
		fmt.Sprintf("-ac:a:%d", p.OutputIndex), fmt.Sprintf("%d", p.Channels),
	}
	if p.GainDB != 0 {
		args = append(args, fmt.Sprintf("-filter:a:%d", p.OutputIndex), fmt.Sprintf("volume=%ddB", p.GainDB))
	}
	return args
}

// SubtitleArgs returns the subtitle copy-through arguments, or nil if
// the source has no subtitle streams.
func SubtitleArgs(hasSubtitles bool) []string {
	if !hasSubtitles {
		return nil
	}
	return []string{"-map", "0:s", "-c:s", "copy"}
}
