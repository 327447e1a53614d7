// Package metrics implements the Metric Aggregator: reducing a
// worker-produced per-frame report into pooled statistics, and (on
// the worker side) building the libvmaf command that produces that
// report in the first place.
package metrics

import (
	"fmt"
	"sort"

	"github.com/urban-engineer/sved/store"
)

// Report is the JSON shape produced by the external quality-analysis
// filter: per-frame scores plus the filter's own pooled summary.
type Report struct {
	Frames        []ReportFrame            `json:"frames"`
	PooledMetrics map[string]PooledSummary `json:"pooled_metrics"`
}

type ReportFrame struct {
	FrameNum int                `json:"frameNum"`
	Metrics  map[string]float64 `json:"metrics"`
}

type PooledSummary struct {
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	HarmonicMean float64 `json:"harmonic_mean"`
}

// reportKey maps a store metric constant to the key the quality
// filter uses in its JSON output.
func reportKey(metric string) string {
	switch metric {
	case store.MetricPSNR:
		return "psnr_y"
	case store.MetricMSSSIM:
		return "float_ms_ssim"
	case store.MetricVMAF:
		return "vmaf"
	default:
		return ""
	}
}

// Aggregate reduces one Report into the Frame rows and Pooled<Metric>
// rows for the metrics the task has enabled, per spec §4.5. All three
// pooled rows are gated uniformly on their flag - the original's
// unconditional PooledVMAF creation is not carried forward.
func Aggregate(taskID int64, report Report, psnr, msSSIM, vmaf bool) ([]store.Frame, []store.PooledMetric, error) {
	enabled := map[string]bool{
		store.MetricPSNR:   psnr,
		store.MetricMSSSIM: msSSIM,
		store.MetricVMAF:   vmaf,
	}

	scores := map[string][]float64{}
	frames := make([]store.Frame, 0, len(report.Frames))
	for _, rf := range report.Frames {
		frame := store.Frame{TaskID: taskID, FrameNum: rf.FrameNum}
		for metric, on := range enabled {
			if !on {
				continue
			}
			key := reportKey(metric)
			val, ok := rf.Metrics[key]
			if !ok {
				return nil, nil, fmt.Errorf("report frame %d missing metric %q", rf.FrameNum, key)
			}
			scores[metric] = append(scores[metric], val)
			switch metric {
			case store.MetricPSNR:
				v := val
				frame.PSNR = &v
			case store.MetricMSSSIM:
				v := val
				frame.MSSSIM = &v
			case store.MetricVMAF:
				v := val
				frame.VMAF = &v
			}
		}
		frames = append(frames, frame)
	}

	var pooled []store.PooledMetric
	for metric, on := range enabled {
		if !on {
			continue
		}
		key := reportKey(metric)
		summary, ok := report.PooledMetrics[key]
		if !ok {
			return nil, nil, fmt.Errorf("report missing pooled_metrics for %q", key)
		}
		pooled = append(pooled, store.PooledMetric{
			TaskID:             taskID,
			Metric:             metric,
			Min:                summary.Min,
			Max:                summary.Max,
			Mean:               summary.Mean,
			HarmonicMean:       summary.HarmonicMean,
			OnePercentLow:      low(scores[metric], 100),
			PointOnePercentLow: low(scores[metric], 1000),
		})
	}

	return frames, pooled, nil
}

// low computes the mean of the worst n/divisor scores (integer floor
// division), with a floor of one frame - "Score array of length < 100
// still yields a 1%-low (one-element average)."
func low(scores []float64, divisor int) float64 {
	n := len(scores) / divisor
	if n < 1 {
		n = 1
	}
	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Float64s(sorted)

	if n > len(sorted) {
		n = len(sorted)
	}
	var sum float64
	for _, v := range sorted[:n] {
		sum += v
	}
	return sum / float64(n)
}
