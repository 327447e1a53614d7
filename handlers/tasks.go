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
	"github.com/urban-engineer/sved/queue"
	"github.com/urban-engineer/sved/store"
	"github.com/urban-engineer/sved/video"
	"github.com/xeipuuv/gojsonschema"
)

type encodeTaskJSON struct {
	ID             int64     `json:"id"`
	Status         int       `json:"status"`
	Progress       float64   `json:"progress"`
	EncodeType     string    `json:"encode_type"`
	EncodeValue    int       `json:"encode_value"`
	Worker         string    `json:"worker"`
	SourceFile     fileJSON  `json:"source_file"`
	CompressedFile *fileJSON `json:"compressed_file,omitempty"`
	Profile        profileJSON `json:"profile"`
}

type profileJSON struct {
	Name                  string `json:"name"`
	Codec                 string `json:"codec"`
	Preset                string `json:"preset"`
	Tune                  string `json:"tune"`
	ExtraArgs             string `json:"extra_args"`
	KeepOriginalMainAudio bool   `json:"keep_original_main_audio"`
}

func encodeTaskToJSON(t store.EncodeTask) encodeTaskJSON {
	resp := encodeTaskJSON{
		ID: t.ID, Status: t.Status, Progress: t.Progress,
		EncodeType: t.EncodeType, EncodeValue: t.EncodeValue, Worker: t.Worker,
		SourceFile: fileToJSON(t.SourceFile),
		Profile: profileJSON{
			Name: t.Profile.Name, Codec: t.Profile.Codec, Preset: t.Profile.Preset, Tune: t.Profile.Tune,
			ExtraArgs: t.Profile.ExtraArgs, KeepOriginalMainAudio: t.Profile.KeepOriginalMainAudio,
		},
	}
	if t.CompressedFile != nil {
		f := fileToJSON(*t.CompressedFile)
		resp.CompressedFile = &f
	}
	return resp
}

func (c *Collection) loadEncodeTaskOr404(w http.ResponseWriter, r *http.Request, id int64) (store.EncodeTask, bool) {
	task, err := c.Store.LoadEncodeTask(r.Context(), id)
	if err != nil {
		if goerrors.Is(err, errors.ErrTaskNotFound) {
			errors.WriteHTTPNotFound(w, "encode task not found", err)
		} else {
			errors.WriteHTTPInternalServerError(w, "cannot load encode task", err)
		}
		return store.EncodeTask{}, false
	}
	return task, true
}

// PostEncodeTaskProgress applies a progress update, spec §4.2's POST
// /tasks/<id> for the encode task family.
func (c *Collection) PostEncodeTaskProgress() httprouter.Handle {
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

		task, ok := c.loadEncodeTaskOr404(w, r, id)
		if !ok {
			return
		}

		worker := r.Header.Get("Worker")
		if worker == "" {
			worker = task.Worker
		} else if worker != task.Worker {
			log.Log(fmt.Sprint(id), "worker changed on progress update", "old", task.Worker, "new", worker)
		}

		if err := c.Store.UpdateEncodeTaskProgress(r.Context(), id, payload.toUpdate(worker)); err != nil {
			errors.WriteHTTPInternalServerError(w, "cannot update progress", err)
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	}
}

// GetEncodeSourceFile streams the source file bytes; a present Worker
// header transitions the task to DOWNLOADING and resets its progress
// fields, per spec §4.2.
func (c *Collection) GetEncodeSourceFile() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		id, err := parseID(ps)
		if err != nil {
			errors.WriteHTTPBadRequest(w, "invalid task id", err)
			return
		}

		if worker := r.Header.Get("Worker"); worker != "" {
			if err := c.Store.MarkEncodeTaskDownloading(r.Context(), id, worker); err != nil {
				errors.WriteHTTPInternalServerError(w, "cannot mark task downloading", err)
				return
			}
		}

		dir, name, err := c.Store.GetEncodeSourcePath(r.Context(), id)
		if err != nil {
			if goerrors.Is(err, errors.ErrTaskNotFound) {
				errors.WriteHTTPNotFound(w, "encode task not found", err)
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

// PostEncodeCompressedFile receives the streamed compressed artifact,
// verifies its size against the mandatory 'size' header, and either
// finalizes the task or quarantines the upload and republishes the
// task for re-encode, per spec §4.2.
func (c *Collection) PostEncodeCompressedFile() httprouter.Handle {
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
		task, ok := c.loadEncodeTaskOr404(w, r, id)
		if !ok {
			return
		}

		destPath := filepath.Join(c.OutputDir, task.Profile.Name, task.SourceFile.Name)
		actual, err := receiveUpload(r.Body, destPath, c.MaxUploadBytes)
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "cannot write upload", err)
			return
		}
		worker := r.Header.Get("Worker")

		if actual != expected {
			c.handleMismatchedEncodeUpload(r, id, task, expected, actual)
			writeJSON(w, map[string]string{"status": "quarantined"})
			return
		}

		probed, err := c.Prober.ProbeFile(fmt.Sprint(id), destPath)
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "cannot probe uploaded artifact", err)
			return
		}
		videoTrack, err := probed.GetTrack(video.TrackTypeVideo)
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "uploaded artifact has no video stream", err)
			return
		}

		compressed := store.File{
			Name:      task.SourceFile.Name,
			Directory: filepath.Join(c.OutputDir, task.Profile.Name),
			SizeBytes: actual,
			Duration:  probed.Duration,
			FrameRate: videoTrack.FPS,
			Frames:    videoTrack.Frames,
		}
		if err := c.Store.FinalizeEncodeTask(r.Context(), id, worker, compressed); err != nil {
			errors.WriteHTTPInternalServerError(w, "cannot finalize encode task", err)
			return
		}

		if c.AutoDelete {
			if srcDir, srcName, err := c.Store.GetEncodeSourcePath(r.Context(), id); err == nil {
				c.deleteSourceFile(id, srcDir, srcName)
			}
		}

		writeJSON(w, map[string]string{"status": "complete"})
	}
}

func (c *Collection) handleMismatchedEncodeUpload(r *http.Request, id int64, task store.EncodeTask, expected, actual int64) {
	quarPath, err := quarantine(c.OutputDir, task.Profile.Name, task.SourceFile.Name)
	if err != nil {
		log.LogError(fmt.Sprint(id), "cannot quarantine mismatched upload", err)
	}
	if err := c.Store.RequeueEncodeTask(r.Context(), id); err != nil {
		log.LogError(fmt.Sprint(id), "cannot requeue encode task after mismatch", err)
	}
	if c.Queue != nil {
		env := queue.NewEncodeEnvelope(id, taskURL(r, fmt.Sprintf("/tasks/%d", id)))
		if err := c.Queue.Publish(env); err != nil {
			log.LogError(fmt.Sprint(id), "cannot republish encode task after mismatch", err)
		}
	}
	log.Log(fmt.Sprint(id), "quarantined size-mismatched encode upload",
		"expected", expected, "actual", actual, "path", quarPath)
}
