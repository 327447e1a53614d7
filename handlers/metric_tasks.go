package handlers

import (
	"encoding/json"
	goerrors "errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/julienschmidt/httprouter"
	"github.com/urban-engineer/sved/errors"
	"github.com/urban-engineer/sved/log"
	"github.com/urban-engineer/sved/metrics"
	"github.com/urban-engineer/sved/queue"
	"github.com/urban-engineer/sved/store"
	"github.com/xeipuuv/gojsonschema"
)

type metricTaskJSON struct {
	ID             int64    `json:"id"`
	Status         int      `json:"status"`
	Progress       float64  `json:"progress"`
	PSNR           bool     `json:"psnr"`
	MSSSIM         bool     `json:"ms_ssim"`
	VMAF           bool     `json:"vmaf"`
	NegMode        bool     `json:"neg_mode"`
	SubsampleRate  int      `json:"subsample_rate"`
	Worker         string   `json:"worker"`
	SourceFile     fileJSON `json:"source_file"`
	CompressedFile fileJSON `json:"compressed_file"`
	PooledMetricURLs map[string]string `json:"pooled_metric_urls,omitempty"`
}

func metricTaskToJSON(r *http.Request, t store.MetricTask) metricTaskJSON {
	urls := map[string]string{}
	if t.PSNR {
		urls[store.MetricPSNR] = taskURL(r, fmt.Sprintf("/tasks/%d/pooled/%s", t.ID, store.MetricPSNR))
	}
	if t.MSSSIM {
		urls[store.MetricMSSSIM] = taskURL(r, fmt.Sprintf("/tasks/%d/pooled/%s", t.ID, store.MetricMSSSIM))
	}
	if t.VMAF {
		urls[store.MetricVMAF] = taskURL(r, fmt.Sprintf("/tasks/%d/pooled/%s", t.ID, store.MetricVMAF))
	}
	return metricTaskJSON{
		ID: t.ID, Status: t.Status, Progress: t.Progress,
		PSNR: t.PSNR, MSSSIM: t.MSSSIM, VMAF: t.VMAF, NegMode: t.NegMode,
		SubsampleRate: t.SubsampleRate, Worker: t.Worker,
		SourceFile: fileToJSON(t.SourceFile), CompressedFile: fileToJSON(t.CompressedFile),
		PooledMetricURLs: urls,
	}
}

func (c *Collection) loadMetricTaskOr404(w http.ResponseWriter, r *http.Request, id int64) (store.MetricTask, bool) {
	task, err := c.Store.LoadMetricTask(r.Context(), id)
	if err != nil {
		if goerrors.Is(err, errors.ErrTaskNotFound) {
			errors.WriteHTTPNotFound(w, "metric task not found", err)
		} else {
			errors.WriteHTTPInternalServerError(w, "cannot load metric task", err)
		}
		return store.MetricTask{}, false
	}
	return task, true
}

// PostMetricTaskProgress applies a progress update for the metric
// task family; reached only via PostTaskProgress's dispatch.
func (c *Collection) PostMetricTaskProgress() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		id, err := parseID(ps)
		if err != nil {
			errors.WriteHTTPBadRequest(w, "invalid task id", err)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "cannot read body", err)
			return
		}
		result, err := progressSchema.Validate(gojsonschema.NewBytesLoader(body))
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "cannot validate body", err)
			return
		}
		if !result.Valid() {
			errors.WriteHTTPBadBodySchema("progress update", w, result.Errors())
			return
		}
		var payload progressBody
		if err := json.Unmarshal(body, &payload); err != nil {
			errors.WriteHTTPBadRequest(w, "invalid progress body", err)
			return
		}

		task, ok := c.loadMetricTaskOr404(w, r, id)
		if !ok {
			return
		}

		worker := r.Header.Get("Worker")
		if worker == "" {
			worker = task.Worker
		} else if worker != task.Worker {
			log.Log(fmt.Sprint(id), "worker changed on progress update", "old", task.Worker, "new", worker)
		}

		if err := c.Store.UpdateMetricTaskProgress(r.Context(), id, payload.toUpdate(worker)); err != nil {
			errors.WriteHTTPInternalServerError(w, "cannot update progress", err)
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	}
}

// GetMetricSourceFile streams the source file; transitions to
// DOWNLOADING without a start timestamp, per spec §4.2.
func (c *Collection) GetMetricSourceFile() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		id, err := parseID(ps)
		if err != nil {
			errors.WriteHTTPBadRequest(w, "invalid task id", err)
			return
		}
		if worker := r.Header.Get("Worker"); worker != "" {
			if err := c.Store.MarkMetricTaskSourceDownloading(r.Context(), id, worker); err != nil {
				errors.WriteHTTPInternalServerError(w, "cannot mark task downloading", err)
				return
			}
		}
		dir, name, err := c.Store.GetMetricSourcePath(r.Context(), id)
		if err != nil {
			if goerrors.Is(err, errors.ErrTaskNotFound) {
				errors.WriteHTTPNotFound(w, "metric task not found", err)
			} else {
				errors.WriteHTTPInternalServerError(w, "cannot resolve source path", err)
			}
			return
		}
		if err := serveFile(w, dir, name); err != nil {
			log.LogError(fmt.Sprint(id), "error streaming source file", err)
		}
	}
}

// GetMetricCompressedFile streams the compressed file under test and
// stamps analyze_start_datetime, per spec §4.2.
func (c *Collection) GetMetricCompressedFile() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		id, err := parseID(ps)
		if err != nil {
			errors.WriteHTTPBadRequest(w, "invalid task id", err)
			return
		}
		if worker := r.Header.Get("Worker"); worker != "" {
			if err := c.Store.MarkMetricTaskCompressedDownloading(r.Context(), id, worker); err != nil {
				errors.WriteHTTPInternalServerError(w, "cannot mark task downloading", err)
				return
			}
		}
		dir, name, err := c.Store.GetMetricCompressedPath(r.Context(), id)
		if err != nil {
			if goerrors.Is(err, errors.ErrTaskNotFound) {
				errors.WriteHTTPNotFound(w, "metric task not found", err)
			} else {
				errors.WriteHTTPInternalServerError(w, "cannot resolve compressed path", err)
			}
			return
		}
		if err := serveFile(w, dir, name); err != nil {
			log.LogError(fmt.Sprint(id), "error streaming compressed file", err)
		}
	}
}

// PostMetricReport receives the streamed JSON quality report, verifies
// its size, and on match invokes the Metric Aggregator to populate
// Frame and Pooled<Metric> rows before finalizing the task.
func (c *Collection) PostMetricReport() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		id, err := parseID(ps)
		if err != nil {
			errors.WriteHTTPBadRequest(w, "invalid task id", err)
			return
		}
		expected, err := parseSizeHeader(r)
		if err != nil {
			errors.WriteHTTPBadRequest(w, "missing size header", err)
			return
		}
		task, ok := c.loadMetricTaskOr404(w, r, id)
		if !ok {
			return
		}

		reportPath := filepath.Join(c.OutputDir, "reports", fmt.Sprintf("%d.json", id))
		actual, err := receiveUpload(r.Body, reportPath, c.MaxUploadBytes)
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "cannot write report upload", err)
			return
		}
		worker := r.Header.Get("Worker")

		if actual != expected {
			c.handleMismatchedReportUpload(r, id, expected, actual)
			writeJSON(w, map[string]string{"status": "quarantined"})
			return
		}

		raw, err := readFile(reportPath)
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "cannot read uploaded report", err)
			return
		}
		var report metrics.Report
		if err := json.Unmarshal(raw, &report); err != nil {
			errors.WriteHTTPBadRequest(w, "malformed quality report", err)
			return
		}

		frames, pooled, err := metrics.Aggregate(id, report, task.PSNR, task.MSSSIM, task.VMAF)
		if err != nil {
			errors.WriteHTTPBadRequest(w, "cannot aggregate report", err)
			return
		}
		if err := c.Store.CreateFrames(r.Context(), id, frames); err != nil {
			errors.WriteHTTPInternalServerError(w, "cannot store frames", err)
			return
		}
		for _, p := range pooled {
			if err := c.Store.CreatePooledMetric(r.Context(), p); err != nil {
				errors.WriteHTTPInternalServerError(w, "cannot store pooled metric", err)
				return
			}
		}
		if err := c.Store.FinalizeMetricReport(r.Context(), id, worker); err != nil {
			errors.WriteHTTPInternalServerError(w, "cannot finalize metric task", err)
			return
		}

		writeJSON(w, map[string]string{"status": "complete"})
	}
}

type pooledMetricJSON struct {
	Metric             string  `json:"metric"`
	Min                float64 `json:"min"`
	Max                float64 `json:"max"`
	Mean               float64 `json:"mean"`
	HarmonicMean       float64 `json:"harmonic_mean"`
	OnePercentLow      float64 `json:"one_percent_low"`
	PointOnePercentLow float64 `json:"point_one_percent_low"`
}

// GetPooledMetric serves one metric task's pooled-result sub-resource,
// linked from its task JSON as pooled_metric_urls.
func (c *Collection) GetPooledMetric() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		id, err := parseID(ps)
		if err != nil {
			errors.WriteHTTPBadRequest(w, "invalid task id", err)
			return
		}
		metric := ps.ByName("metric")
		m, err := c.Store.GetPooledMetric(r.Context(), id, metric)
		if err != nil {
			if goerrors.Is(err, errors.ErrTaskNotFound) {
				errors.WriteHTTPNotFound(w, "pooled metric not found", err)
			} else {
				errors.WriteHTTPInternalServerError(w, "cannot load pooled metric", err)
			}
			return
		}
		writeJSON(w, pooledMetricJSON{
			Metric: m.Metric, Min: m.Min, Max: m.Max, Mean: m.Mean,
			HarmonicMean: m.HarmonicMean, OnePercentLow: m.OnePercentLow, PointOnePercentLow: m.PointOnePercentLow,
		})
	}
}

func (c *Collection) handleMismatchedReportUpload(r *http.Request, id int64, expected, actual int64) {
	quarPath, err := quarantineReport(c.OutputDir, id)
	if err != nil {
		log.LogError(fmt.Sprint(id), "cannot quarantine mismatched report upload", err)
	}
	if err := c.Store.RequeueMetricTask(r.Context(), id); err != nil {
		log.LogError(fmt.Sprint(id), "cannot requeue metric task after mismatch", err)
	}
	if c.Queue != nil {
		env := queue.NewMetricEnvelope(id, taskURL(r, fmt.Sprintf("/tasks/%d", id)))
		if err := c.Queue.Publish(env); err != nil {
			log.LogError(fmt.Sprint(id), "cannot republish metric task after mismatch", err)
		}
	}
	log.Log(fmt.Sprint(id), "quarantined size-mismatched report upload",
		"expected", expected, "actual", actual, "path", quarPath)
}
