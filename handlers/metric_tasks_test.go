package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/require"
	"github.com/urban-engineer/sved/metrics"
	"github.com/urban-engineer/sved/store"
)

func TestGetMetricSourceFileMarksDownloading(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ref.mp4"), []byte("ref-bytes"), 0o644))

	st := newFakeStore()
	st.metricSourcePaths[2] = [2]string{dir, "ref.mp4"}
	c := newTestCollection(st)

	req := httptest.NewRequest(http.MethodGet, "/tasks/2/files/source", nil)
	req.Header.Set("Worker", "worker-a")
	w := httptest.NewRecorder()
	c.GetMetricSourceFile()(w, req, httprouter.Params{{Key: "id", Value: "2"}})

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ref-bytes", w.Body.String())
	require.Contains(t, st.downloadingCalls, int64(2))
}

func TestGetMetricCompressedFileMarksDownloading(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "compressed.mp4"), []byte("compressed-bytes"), 0o644))

	st := newFakeStore()
	st.metricCompressedPaths[2] = [2]string{dir, "compressed.mp4"}
	c := newTestCollection(st)

	req := httptest.NewRequest(http.MethodGet, "/tasks/2/files/compressed", nil)
	req.Header.Set("Worker", "worker-a")
	w := httptest.NewRecorder()
	c.GetMetricCompressedFile()(w, req, httprouter.Params{{Key: "id", Value: "2"}})

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "compressed-bytes", w.Body.String())
	require.Contains(t, st.downloadingCalls, int64(2))
}

func TestPostMetricReportAggregatesAndFinalizesOnSizeMatch(t *testing.T) {
	st := newFakeStore()
	st.metricTasks[2] = store.MetricTask{ID: 2, PSNR: true, VMAF: true}
	c := newTestCollection(st)
	c.OutputDir = t.TempDir()

	report := metrics.Report{
		Frames: []metrics.ReportFrame{
			{FrameNum: 0, Metrics: map[string]float64{"psnr_y": 40, "vmaf": 90}},
			{FrameNum: 1, Metrics: map[string]float64{"psnr_y": 42, "vmaf": 95}},
		},
		PooledMetrics: map[string]metrics.PooledSummary{
			"psnr_y": {Min: 40, Max: 42, Mean: 41, HarmonicMean: 40.9},
			"vmaf":   {Min: 90, Max: 95, Mean: 92.5, HarmonicMean: 92.4},
		},
	}
	body, err := json.Marshal(report)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/tasks/2/report", strings.NewReader(string(body)))
	req.Header.Set("size", strconv.Itoa(len(body)))
	w := httptest.NewRecorder()
	c.PostMetricReport()(w, req, httprouter.Params{{Key: "id", Value: "2"}})

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "complete")
	require.Equal(t, []int64{2}, st.finalizedMetric)
	require.Len(t, st.frames, 2)
	require.Len(t, st.createdPooled, 2)
}

func TestPostMetricReportQuarantinesOnSizeMismatch(t *testing.T) {
	st := newFakeStore()
	st.metricTasks[2] = store.MetricTask{ID: 2, PSNR: true}
	pub := &fakePublisher{}
	c := newTestCollection(st)
	c.OutputDir = t.TempDir()
	c.Queue = pub

	req := httptest.NewRequest(http.MethodPost, "/tasks/2/report", strings.NewReader("{}"))
	req.Header.Set("size", "999")
	w := httptest.NewRecorder()
	c.PostMetricReport()(w, req, httprouter.Params{{Key: "id", Value: "2"}})

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "quarantined")
	require.Equal(t, []int64{2}, st.requeuedMetric)
	require.Empty(t, st.finalizedMetric)
	require.Len(t, pub.published, 1)

	_, err := os.Stat(filepath.Join(c.OutputDir, "reports", "2.json"))
	require.True(t, os.IsNotExist(err), "mismatched report should be moved out of reports/")
	moved, err := os.ReadFile(filepath.Join(c.OutputDir, "invalid", "reports", "2.json"))
	require.NoError(t, err)
	require.Equal(t, "{}", string(moved))
}

func TestPostMetricReportRejectsFrameMissingEnabledMetric(t *testing.T) {
	st := newFakeStore()
	st.metricTasks[2] = store.MetricTask{ID: 2, MSSSIM: true}
	c := newTestCollection(st)
	c.OutputDir = t.TempDir()

	report := metrics.Report{
		Frames: []metrics.ReportFrame{{FrameNum: 0, Metrics: map[string]float64{"vmaf": 90}}},
	}
	body, err := json.Marshal(report)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/tasks/2/report", strings.NewReader(string(body)))
	req.Header.Set("size", strconv.Itoa(len(body)))
	w := httptest.NewRecorder()
	c.PostMetricReport()(w, req, httprouter.Params{{Key: "id", Value: "2"}})

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Empty(t, st.finalizedMetric)
}

func TestGetPooledMetricReturnsStoredSummary(t *testing.T) {
	st := newFakeStore()
	st.pooled[pooledKey(2, store.MetricVMAF)] = store.PooledMetric{
		TaskID: 2, Metric: store.MetricVMAF, Min: 80, Max: 99, Mean: 92, HarmonicMean: 91,
	}
	c := newTestCollection(st)

	req := httptest.NewRequest(http.MethodGet, "/tasks/2/pooled/vmaf", nil)
	w := httptest.NewRecorder()
	c.GetPooledMetric()(w, req, httprouter.Params{{Key: "id", Value: "2"}, {Key: "metric", Value: store.MetricVMAF}})

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"mean":92`)
}

func TestGetPooledMetric404WhenAbsent(t *testing.T) {
	st := newFakeStore()
	c := newTestCollection(st)

	req := httptest.NewRequest(http.MethodGet, "/tasks/2/pooled/vmaf", nil)
	w := httptest.NewRecorder()
	c.GetPooledMetric()(w, req, httprouter.Params{{Key: "id", Value: "2"}, {Key: "metric", Value: store.MetricVMAF}})

	require.Equal(t, http.StatusNotFound, w.Code)
}
