package handlers

import (
	goerrors "errors"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/urban-engineer/sved/errors"
)

// GetTask serves spec §4.2's GET /tasks/<id>, which is shared by
// encode and metric tasks since they occupy the same id-keyed
// endpoint family. An id is looked up as an encode task first, then a
// metric task, since the two kinds live in separate tables with
// independently assigned ids and nothing on the wire distinguishes
// them ahead of the lookup.
func (c *Collection) GetTask() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		id, err := parseID(ps)
		if err != nil {
			errors.WriteHTTPBadRequest(w, "invalid task id", err)
			return
		}
		if task, err := c.Store.LoadEncodeTask(r.Context(), id); err == nil {
			writeJSON(w, encodeTaskToJSON(task))
			return
		} else if !goerrors.Is(err, errors.ErrTaskNotFound) {
			errors.WriteHTTPInternalServerError(w, "cannot load task", err)
			return
		}
		if task, err := c.Store.LoadMetricTask(r.Context(), id); err == nil {
			writeJSON(w, metricTaskToJSON(r, task))
			return
		} else if !goerrors.Is(err, errors.ErrTaskNotFound) {
			errors.WriteHTTPInternalServerError(w, "cannot load task", err)
			return
		}
		errors.WriteHTTPNotFound(w, "task not found", errors.ErrTaskNotFound)
	}
}

// PostTaskProgress serves spec §4.2's POST /tasks/<id> progress
// update, dispatching to the encode or metric task family by the same
// try-encode-then-metric lookup GetTask uses.
func (c *Collection) PostTaskProgress() httprouter.Handle {
	encodeProgress := c.PostEncodeTaskProgress()
	metricProgress := c.PostMetricTaskProgress()
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		id, err := parseID(ps)
		if err != nil {
			errors.WriteHTTPBadRequest(w, "invalid task id", err)
			return
		}
		if _, err := c.Store.LoadEncodeTask(r.Context(), id); err == nil {
			encodeProgress(w, r, ps)
			return
		} else if !goerrors.Is(err, errors.ErrTaskNotFound) {
			errors.WriteHTTPInternalServerError(w, "cannot load task", err)
			return
		}
		if _, err := c.Store.LoadMetricTask(r.Context(), id); err == nil {
			metricProgress(w, r, ps)
			return
		} else if !goerrors.Is(err, errors.ErrTaskNotFound) {
			errors.WriteHTTPInternalServerError(w, "cannot load task", err)
			return
		}
		errors.WriteHTTPNotFound(w, "task not found", errors.ErrTaskNotFound)
	}
}
