package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/urban-engineer/sved/log"
	"github.com/urban-engineer/sved/store"
)

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.LogNoTaskID("error writing JSON response", "err", err)
	}
}

func parseID(ps httprouter.Params) (int64, error) {
	var id int64
	_, err := fmt.Sscanf(ps.ByName("id"), "%d", &id)
	if err != nil {
		return 0, fmt.Errorf("invalid task id: %w", err)
	}
	return id, nil
}

// taskURL reconstructs an absolute URL pointing back at this
// coordinator from the incoming request's own host, since the worker
// calling an endpoint is, by construction, able to reach this host.
func taskURL(r *http.Request, path string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s%s", scheme, r.Host, path)
}

type fileJSON struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	SizeBytes int64   `json:"size_bytes"`
	Duration  float64 `json:"duration"`
	FrameRate float64 `json:"frame_rate"`
	Frames    int64   `json:"frames"`
}

func fileToJSON(f store.File) fileJSON {
	return fileJSON{
		ID: f.ID, Name: f.Name, SizeBytes: f.SizeBytes,
		Duration: f.Duration, FrameRate: f.FrameRate, Frames: f.Frames,
	}
}

// progressBody is the shared shape of an encode/metric progress POST;
// pointer fields distinguish "absent" from "explicitly zero" the same
// way store.ProgressUpdate does.
type progressBody struct {
	Progress    float64  `json:"progress"`
	FPS         *float64 `json:"fps,omitempty"`
	ETA         *int     `json:"eta,omitempty"`
	EncodeType  *string  `json:"encode_type,omitempty"`
	EncodeValue *int     `json:"encode_value,omitempty"`
}

func (b progressBody) toUpdate(worker string) store.ProgressUpdate {
	return store.ProgressUpdate{
		Worker:      worker,
		Progress:    b.Progress,
		FPS:         b.FPS,
		ETASeconds:  b.ETA,
		EncodeType:  b.EncodeType,
		EncodeValue: b.EncodeValue,
	}
}
