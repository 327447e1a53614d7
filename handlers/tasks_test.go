package handlers

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/require"
	"github.com/urban-engineer/sved/store"
)

func TestPostEncodeTaskProgressRejectsMissingProgressField(t *testing.T) {
	st := newFakeStore()
	st.encodeTasks[1] = store.EncodeTask{ID: 1}
	c := newTestCollection(st)

	req := httptest.NewRequest(http.MethodPost, "/tasks/1", strings.NewReader(`{"fps":30}`))
	w := httptest.NewRecorder()
	c.PostEncodeTaskProgress()(w, req, httprouter.Params{{Key: "id", Value: "1"}})

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPostEncodeTaskProgressRejectsInvalidEncodeType(t *testing.T) {
	st := newFakeStore()
	st.encodeTasks[1] = store.EncodeTask{ID: 1}
	c := newTestCollection(st)

	req := httptest.NewRequest(http.MethodPost, "/tasks/1", strings.NewReader(`{"progress":0.1,"encode_type":"vp9"}`))
	w := httptest.NewRecorder()
	c.PostEncodeTaskProgress()(w, req, httprouter.Params{{Key: "id", Value: "1"}})

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPostEncodeTaskProgressAdoptsChangedWorkerHeader(t *testing.T) {
	st := newFakeStore()
	st.encodeTasks[1] = store.EncodeTask{ID: 1, Worker: "worker-a"}
	c := newTestCollection(st)

	req := httptest.NewRequest(http.MethodPost, "/tasks/1", strings.NewReader(`{"progress":0.2}`))
	req.Header.Set("Worker", "worker-b")
	w := httptest.NewRecorder()
	c.PostEncodeTaskProgress()(w, req, httprouter.Params{{Key: "id", Value: "1"}})

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "worker-b", st.encodeTasks[1].Worker)
}

func TestPostEncodeTaskProgress404WhenTaskMissing(t *testing.T) {
	st := newFakeStore()
	c := newTestCollection(st)

	req := httptest.NewRequest(http.MethodPost, "/tasks/1", strings.NewReader(`{"progress":0.2}`))
	w := httptest.NewRecorder()
	c.PostEncodeTaskProgress()(w, req, httprouter.Params{{Key: "id", Value: "1"}})

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetEncodeSourceFileMarksDownloadingWhenWorkerHeaderPresent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "source.mp4"), []byte("bytes"), 0o644))

	st := newFakeStore()
	st.sourcePaths[1] = [2]string{dir, "source.mp4"}
	c := newTestCollection(st)

	req := httptest.NewRequest(http.MethodGet, "/tasks/1/file", nil)
	req.Header.Set("Worker", "worker-a")
	w := httptest.NewRecorder()
	c.GetEncodeSourceFile()(w, req, httprouter.Params{{Key: "id", Value: "1"}})

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "bytes", w.Body.String())
	require.Contains(t, st.downloadingCalls, int64(1))
}

func TestGetEncodeSourceFile404WhenSourcePathMissing(t *testing.T) {
	st := newFakeStore()
	c := newTestCollection(st)

	req := httptest.NewRequest(http.MethodGet, "/tasks/1/file", nil)
	w := httptest.NewRecorder()
	c.GetEncodeSourceFile()(w, req, httprouter.Params{{Key: "id", Value: "1"}})

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestPostEncodeCompressedFileFinalizesOnSizeMatch(t *testing.T) {
	st := newFakeStore()
	st.encodeTasks[1] = store.EncodeTask{
		ID:         1,
		SourceFile: store.File{Name: "movie.mp4"},
		Profile:    store.Profile{Name: "profile-a"},
	}
	c := newTestCollection(st)
	c.OutputDir = t.TempDir()
	c.Prober = &fakeProber{video: progressiveVideo(100)}

	body := "compressed-bytes"
	req := httptest.NewRequest(http.MethodPost, "/tasks/1/file", strings.NewReader(body))
	req.Header.Set("size", "16")
	w := httptest.NewRecorder()
	c.PostEncodeCompressedFile()(w, req, httprouter.Params{{Key: "id", Value: "1"}})

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "complete")
	require.Equal(t, []int64{1}, st.finalized)
	require.Empty(t, st.requeued)
}

func TestPostEncodeCompressedFileQuarantinesOnSizeMismatch(t *testing.T) {
	st := newFakeStore()
	st.encodeTasks[1] = store.EncodeTask{
		ID:         1,
		SourceFile: store.File{Name: "movie.mp4"},
		Profile:    store.Profile{Name: "profile-a"},
	}
	pub := &fakePublisher{}
	c := newTestCollection(st)
	c.OutputDir = t.TempDir()
	c.Queue = pub

	req := httptest.NewRequest(http.MethodPost, "/tasks/1/file", strings.NewReader("short"))
	req.Header.Set("size", "999")
	w := httptest.NewRecorder()
	c.PostEncodeCompressedFile()(w, req, httprouter.Params{{Key: "id", Value: "1"}})

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "quarantined")
	require.Equal(t, []int64{1}, st.requeued)
	require.Empty(t, st.finalized)
	require.Len(t, pub.published, 1)
}

func TestPostEncodeCompressedFileAutoDeletesSourceWhenEnabled(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "movie.mp4"), []byte("src"), 0o644))

	st := newFakeStore()
	st.encodeTasks[1] = store.EncodeTask{
		ID:         1,
		SourceFile: store.File{Name: "movie.mp4"},
		Profile:    store.Profile{Name: "profile-a"},
	}
	st.sourcePaths[1] = [2]string{dir, "movie.mp4"}
	c := newTestCollection(st)
	c.OutputDir = t.TempDir()
	c.Prober = &fakeProber{video: progressiveVideo(100)}
	c.AutoDelete = true

	req := httptest.NewRequest(http.MethodPost, "/tasks/1/file", strings.NewReader("compressed-bytes"))
	req.Header.Set("size", "16")
	w := httptest.NewRecorder()
	c.PostEncodeCompressedFile()(w, req, httprouter.Params{{Key: "id", Value: "1"}})

	require.Equal(t, http.StatusOK, w.Code)
	_, err := os.Stat(filepath.Join(dir, "movie.mp4"))
	require.True(t, os.IsNotExist(err))
}
