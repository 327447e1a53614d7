package encode

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/urban-engineer/sved/store"
	"github.com/urban-engineer/sved/video"
)

func sourceVideo(width, height int64, fieldOrder string, fps float64) video.InputVideo {
	return video.InputVideo{
		Duration: 120,
		Tracks: []video.InputTrack{
			{
				Type: video.TrackTypeVideo,
				VideoTrack: video.VideoTrack{
					Width: width, Height: height, FPS: fps, FieldOrder: fieldOrder,
				},
			},
			{Type: video.TrackTypeAudio, Codec: "aac", Bitrate: 128_000, AudioTrack: video.AudioTrack{Channels: 2}},
		},
	}
}

func TestBuildVideoCommandCRF(t *testing.T) {
	argv, err := BuildVideoCommand(CommandSpec{
		InputPath: "in.mkv", OutputPath: "out.mkv",
		Source: sourceVideo(1920, 1080, "progressive", 30),
		Profile: store.Profile{Codec: store.CodecH264, Preset: "slow"},
		EncodeType: store.EncodeTypeCRF, EncodeValue: 20,
		Pass: PassCRF,
	})
	require.NoError(t, err)
	joined := strings.Join(argv, " ")
	require.Contains(t, joined, "-crf 20")
	require.Contains(t, joined, "-level:v 4.1")
	require.Contains(t, joined, "-preset slow")
	require.Contains(t, joined, "out.mkv")
	require.NotContains(t, joined, "bwdif")
}

func TestBuildVideoCommandInsertsDeinterlaceFilter(t *testing.T) {
	argv, err := BuildVideoCommand(CommandSpec{
		InputPath: "in.mkv", OutputPath: "out.mkv",
		Source: sourceVideo(1920, 1080, "tt", 30),
		Profile: store.Profile{Codec: store.CodecH264, Preset: "slow"},
		EncodeType: store.EncodeTypeCRF, EncodeValue: 20,
		Pass: PassCRF,
	})
	require.NoError(t, err)
	require.Contains(t, strings.Join(argv, " "), "bwdif=0")
}

func TestBuildVideoCommandH265UsesX265Params(t *testing.T) {
	argv, err := BuildVideoCommand(CommandSpec{
		InputPath: "in.mkv", OutputPath: "out.mkv",
		Source: sourceVideo(1920, 1080, "progressive", 60),
		Profile: store.Profile{Codec: store.CodecH265, Preset: "medium"},
		EncodeType: store.EncodeTypeCRF, EncodeValue: 20,
		Pass: PassCRF,
	})
	require.NoError(t, err)
	joined := strings.Join(argv, " ")
	require.Contains(t, joined, "-x265-params high-tier=1:level=4.1")
}

func TestBuildVideoCommandABRFirstPassWritesToNullSink(t *testing.T) {
	argv, err := BuildVideoCommand(CommandSpec{
		InputPath: "in.mkv", OutputPath: "out.mkv",
		Source: sourceVideo(1920, 1080, "progressive", 30),
		Profile: store.Profile{Codec: store.CodecH264, Preset: "slow"},
		EncodeType: store.EncodeTypeABR, BitrateKbps: 4000,
		Pass: PassABR1,
	})
	require.NoError(t, err)
	joined := strings.Join(argv, " ")
	require.Contains(t, joined, "-pass 1")
	require.Contains(t, joined, "-an")
	require.NotContains(t, joined, "out.mkv")
}

func TestBuildVideoCommandRejectsUnsupportedCodec(t *testing.T) {
	_, err := BuildVideoCommand(CommandSpec{
		Source:  sourceVideo(1920, 1080, "progressive", 30),
		Profile: store.Profile{Codec: "vp9"},
	})
	require.Error(t, err)
}
