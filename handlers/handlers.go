// Package handlers implements the coordinator HTTP surface (spec
// §4.2): task detail/progress endpoints and the streamed file-transfer
// endpoints for both encode and metric tasks.
package handlers

import (
	"io"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/urban-engineer/sved/config"
	"github.com/urban-engineer/sved/queue"
	"github.com/urban-engineer/sved/store"
	"github.com/urban-engineer/sved/video"
)

// Collection bundles every dependency a coordinator endpoint needs.
// Nothing here is a package-level global - every handler closes over
// this struct instead, so tests construct their own with fakes.
type Collection struct {
	Store          store.Store
	Queue          queue.Publisher
	Prober         video.Prober
	InputDir       string
	OutputDir      string
	AutoDelete     bool
	MaxUploadBytes int64
}

func New(st store.Store, q queue.Publisher, prober video.Prober, cli config.Cli) *Collection {
	return &Collection{
		Store:          st,
		Queue:          q,
		Prober:         prober,
		InputDir:       cli.InputDir,
		OutputDir:      cli.OutputDir,
		AutoDelete:     cli.AutoDelete,
		MaxUploadBytes: cli.MaxUploadBytes,
	}
}

func (c *Collection) Ok() httprouter.Handle {
	return func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		_, _ = io.WriteString(w, "OK")
	}
}
