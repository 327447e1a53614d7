package metrics

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildCommandInsertsDeinterlaceOnReferenceOnly(t *testing.T) {
	cmd := BuildCommand(CommandSpec{
		ReferencePath:        "ref.mkv",
		CompressedPath:       "comp.mkv",
		ReportPath:           "report.json",
		PSNR:                 true,
		MSSSIM:               true,
		SubsampleRate:        1,
		ReferenceInterlaced:  true,
		CompressedInterlaced: false,
	})
	joined := strings.Join(cmd, " ")
	require.Contains(t, joined, "bwdif=0:-1:0[ref]")
	require.Contains(t, joined, "feature=name=psnr|name=float_ms_ssim:")
}

func TestBuildCommandNoFilterWhenBothProgressive(t *testing.T) {
	cmd := BuildCommand(CommandSpec{
		ReferencePath:  "ref.mkv",
		CompressedPath: "comp.mkv",
		ReportPath:     "report.json",
		SubsampleRate:  1,
	})
	joined := strings.Join(cmd, " ")
	require.NotContains(t, joined, "bwdif")
}

func TestBuildCommandNegModeSelectsNegModel(t *testing.T) {
	cmd := BuildCommand(CommandSpec{ReferencePath: "r", CompressedPath: "c", ReportPath: "rep", NegMode: true, SubsampleRate: 1})
	joined := strings.Join(cmd, " ")
	require.Contains(t, joined, "vmaf_v0.6.1neg.json")
}

func TestBuildCommandSubsampleFloorsAtOne(t *testing.T) {
	cmd := BuildCommand(CommandSpec{ReferencePath: "r", CompressedPath: "c", ReportPath: "rep", SubsampleRate: 0})
	joined := strings.Join(cmd, " ")
	require.Contains(t, joined, "n_subsample=1:")
}
