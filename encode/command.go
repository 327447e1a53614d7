package encode

import (
	"fmt"

	"github.com/urban-engineer/sved/store"
	"github.com/urban-engineer/sved/video"
)

// PassKind distinguishes the two commands a two-pass ABR encode runs,
// and the single-pass CRF command.
type PassKind string

const (
	PassCRF  PassKind = "crf"
	PassABR1 PassKind = "abr1"
	PassABR2 PassKind = "abr2"
)

// CommandSpec bundles everything BuildVideoCommand needs: the source
// probe, the profile (possibly with escalated EncodeType/EncodeValue),
// and the paths involved.
type CommandSpec struct {
	InputPath  string
	OutputPath string

	Source  video.InputVideo
	Profile store.Profile

	EncodeType  string
	EncodeValue int

	Pass         PassKind
	BitrateKbps  int64
	HasSubtitles bool
}

func codecLibrary(codec string) (string, bool) {
	switch codec {
	case store.CodecH264:
		return "libx264", false
	case store.CodecH265:
		return "libx265", true
	default:
		return "", false
	}
}

func levelArgs(codec string, height int64, fps float64) []string {
	isH265 := codec == store.CodecH265
	level := Level(height, fps, isH265)
	if isH265 {
		return []string{"-x265-params", fmt.Sprintf("high-tier=1:level=%s", level)}
	}
	return []string{"-level:v", level}
}

func videoFilterArgs(videoTrack video.InputTrack) []string {
	if videoTrack.IsProgressive() {
		return nil
	}
	return []string{"-vf", "bwdif=0"}
}

// BuildVideoCommand renders one ffmpeg invocation: the CRF pass, or
// one of the two ABR passes. The caller is responsible for running
// CRF passes in a loop (see Loop) and running ABR passes 1 then 2.
func BuildVideoCommand(spec CommandSpec) ([]string, error) {
	lib, _ := codecLibrary(spec.Profile.Codec)
	if lib == "" {
		return nil, fmt.Errorf("encode: unsupported codec %q", spec.Profile.Codec)
	}

	videoTrack, err := spec.Source.GetTrack(video.TrackTypeVideo)
	if err != nil {
		return nil, err
	}

	args := []string{"-progress", "-", "-nostats", "-hide_banner", "-y", "-i", spec.InputPath}
	args = append(args, videoFilterArgs(videoTrack)...)
	args = append(args, "-c:v", lib)
	args = append(args, levelArgs(spec.Profile.Codec, videoTrack.Height, videoTrack.FPS)...)

	switch spec.Pass {
	case PassCRF:
		args = append(args, "-crf", fmt.Sprintf("%d", spec.EncodeValue))
	case PassABR1:
		args = append(args, "-b:v", fmt.Sprintf("%dk", spec.BitrateKbps), "-pass", "1", "-an", "-f", "null")
	case PassABR2:
		args = append(args, "-b:v", fmt.Sprintf("%dk", spec.BitrateKbps), "-pass", "2")
	default:
		return nil, fmt.Errorf("encode: unknown pass kind %q", spec.Pass)
	}

	args = append(args, "-preset", spec.Profile.Preset)
	if spec.Profile.Tune != "" {
		args = append(args, "-tune", spec.Profile.Tune)
	}
	if spec.Profile.ExtraArgs != "" {
		args = append(args, spec.Profile.ExtraArgs)
	}

	if spec.Pass == PassABR1 {
		args = append(args, "/dev/null")
		return args, nil
	}

	if !spec.Profile.KeepOriginalMainAudio {
		for _, plan := range PlanAudioTracks(spec.Source.AudioTracks()) {
			args = append(args, plan.Args()...)
		}
	} else {
		args = append(args, "-map", "0:a", "-c:a", "copy")
	}
	args = append(args, SubtitleArgs(spec.HasSubtitles)...)
	args = append(args, spec.OutputPath)
	return args, nil
}
