package encode

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urban-engineer/sved/config"
	"github.com/urban-engineer/sved/store"
	"github.com/urban-engineer/sved/video"
)

// Runner executes one transcoder invocation, streaming parsed
// progress blocks to onProgress, and returns an error if the process
// exits non-zero or ctx is canceled.
type Runner interface {
	Run(ctx context.Context, argv []string, onProgress func(ProgressBlock)) error
}

// LoopSpec is everything the control loop needs for one encode task.
type LoopSpec struct {
	InputPath  string
	OutputPath string
	WorkDir    string

	Source video.InputVideo
	Prober video.Prober
	TaskID string

	Profile     store.Profile
	EncodeType  string
	EncodeValue int

	HasSubtitles bool
}

// LoopResult reports the encode parameters the loop finally settled
// on, to be persisted onto the EncodeTask record.
type LoopResult struct {
	EncodeType  string
	EncodeValue int
	Passes      int
}

// Run drives the CRF-escalation / ABR-fallback control loop (spec
// §4.4): a CRF pass that fails the scene rule re-runs at CRF+1 up to
// config.DefaultCRFMax, after which it falls back permanently to a
// two-pass ABR encode sized from the budget. An ABR task runs the two
// passes directly.
func Run(ctx context.Context, runner Runner, spec LoopSpec, onProgress func(ProgressBlock)) (LoopResult, error) {
	videoTrack, err := spec.Source.GetTrack(video.TrackTypeVideo)
	if err != nil {
		return LoopResult{}, err
	}
	sourceStreamBytes := StreamBytes(videoTrack.Bitrate, spec.Source.Duration)

	encodeType := spec.EncodeType
	encodeValue := spec.EncodeValue
	passes := 0

	if encodeType == store.EncodeTypeCRF {
		for {
			passes++
			argv, err := BuildVideoCommand(CommandSpec{
				InputPath: spec.InputPath, OutputPath: spec.OutputPath,
				Source: spec.Source, Profile: spec.Profile,
				EncodeType: encodeType, EncodeValue: encodeValue,
				Pass: PassCRF, HasSubtitles: spec.HasSubtitles,
			})
			if err != nil {
				return LoopResult{}, err
			}
			if err := runner.Run(ctx, argv, onProgress); err != nil {
				return LoopResult{}, fmt.Errorf("encode: crf pass at %d: %w", encodeValue, err)
			}

			ok, err := spec.passesSceneRules(videoTrack, sourceStreamBytes)
			if err != nil {
				return LoopResult{}, err
			}
			if ok {
				return LoopResult{EncodeType: encodeType, EncodeValue: encodeValue, Passes: passes}, nil
			}
			if encodeValue >= config.DefaultCRFMax {
				encodeType = store.EncodeTypeABR
				break
			}
			encodeValue++
		}
	}

	budgetBytes := MaxVideoStreamBytes(sourceStreamBytes, videoTrack.Width, videoTrack.Height)
	bitrateKbps := BitrateKbps(budgetBytes, spec.Source.Duration)

	for _, pass := range []PassKind{PassABR1, PassABR2} {
		passes++
		argv, err := BuildVideoCommand(CommandSpec{
			InputPath: spec.InputPath, OutputPath: spec.OutputPath,
			Source: spec.Source, Profile: spec.Profile,
			EncodeType: store.EncodeTypeABR, EncodeValue: int(bitrateKbps),
			Pass: pass, BitrateKbps: bitrateKbps, HasSubtitles: spec.HasSubtitles,
		})
		if err != nil {
			return LoopResult{}, err
		}
		if err := runner.Run(ctx, argv, onProgress); err != nil {
			return LoopResult{}, fmt.Errorf("encode: abr pass %s: %w", pass, err)
		}
	}
	DeleteTwoPassLogs(spec.WorkDir)

	return LoopResult{EncodeType: store.EncodeTypeABR, EncodeValue: int(bitrateKbps), Passes: passes}, nil
}

func (s LoopSpec) passesSceneRules(sourceTrack video.InputTrack, sourceStreamBytes int64) (bool, error) {
	out, err := s.Prober.ProbeFile(s.TaskID, s.OutputPath)
	if err != nil {
		return false, fmt.Errorf("encode: probing encode output: %w", err)
	}
	outTrack, err := out.GetTrack(video.TrackTypeVideo)
	if err != nil {
		return false, err
	}
	outStreamBytes := StreamBytes(outTrack.Bitrate, out.Duration)
	return PassesSceneRules(outStreamBytes, sourceStreamBytes, sourceTrack.Width, sourceTrack.Height), nil
}

// DeleteTwoPassLogs removes the ffmpeg2pass-0* log files a two-pass
// ABR encode leaves behind in its working directory.
func DeleteTwoPassLogs(dir string) {
	matches, err := filepath.Glob(filepath.Join(dir, "ffmpeg2pass-0*"))
	if err != nil {
		return
	}
	for _, m := range matches {
		_ = os.Remove(m)
	}
}
