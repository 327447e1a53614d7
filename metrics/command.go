package metrics

import (
	"fmt"
	"runtime"
)

const (
	vmafModelNeg     = "vmaf_v0.6.1neg.json"
	vmafModelDefault = "vmaf_v0.6.1.json"
)

// CommandSpec describes everything BuildCommand needs to know about
// one metric task; ReferenceInterlaced/CompressedInterlaced come from
// probing both inputs before building the command.
type CommandSpec struct {
	ReferencePath  string
	CompressedPath string
	ReportPath     string

	PSNR    bool
	MSSSIM  bool
	NegMode bool

	SubsampleRate int

	ReferenceInterlaced  bool
	CompressedInterlaced bool
}

func vmafModelName(negMode bool) string {
	if negMode {
		return vmafModelNeg
	}
	return vmafModelDefault
}

func featureArgument(psnr, msSSIM bool) string {
	switch {
	case psnr && msSSIM:
		return "feature=name=psnr|name=float_ms_ssim:"
	case psnr:
		return "feature=name=psnr:"
	case msSSIM:
		return "feature=name=float_ms_ssim:"
	default:
		return ""
	}
}

// threadCount follows "a thread count of floor(0.9*cpu_count)" with a
// floor of 1 thread for single-core hosts.
func threadCount() int {
	n := int(float64(runtime.NumCPU()) * 0.9)
	if n < 1 {
		n = 1
	}
	return n
}

// BuildCommand builds the single transcoder invocation that reads
// both reference and compressed inputs and writes a libvmaf JSON
// report; it does not run anything. If the reference is interlaced
// and the compressed is progressive, a deinterlace pre-filter is
// inserted on the reference path only, per spec §4.5.
func BuildCommand(spec CommandSpec) []string {
	interlaceFilter := ""
	if spec.ReferenceInterlaced && !spec.CompressedInterlaced {
		interlaceFilter = "[1:v]bwdif=0:-1:0[ref];[0:v][ref]"
	}

	subsample := spec.SubsampleRate
	if subsample < 1 {
		subsample = 1
	}

	lavfi := fmt.Sprintf(
		"%slibvmaf=%sn_subsample=%d:model=version=%s|path=%s:log_path=%s:n_threads=%d:log_fmt=json",
		interlaceFilter,
		featureArgument(spec.PSNR, spec.MSSSIM),
		subsample,
		modelVersionName(spec.NegMode),
		vmafModelName(spec.NegMode),
		spec.ReportPath,
		threadCount(),
	)

	return []string{
		"ffmpeg", "-progress", "-", "-nostats", "-hide_banner", "-y", "-stats_period", "1", "-loglevel", "warning",
		"-i", spec.CompressedPath,
		"-i", spec.ReferencePath,
		"-lavfi", lavfi,
		"-f", "null", "-",
	}
}

func modelVersionName(negMode bool) string {
	if negMode {
		return "vmaf_v0.6.1neg"
	}
	return "vmaf_v0.6.1"
}
