package api

import (
	"context"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/urban-engineer/sved/config"
	"github.com/urban-engineer/sved/errors"
	"github.com/urban-engineer/sved/handlers"
	"github.com/urban-engineer/sved/log"
	"github.com/urban-engineer/sved/middleware"
)

// ListenAndServe starts the coordinator HTTP server and blocks until
// ctx is canceled, then drains in-flight requests for up to 5s before
// returning.
func ListenAndServe(ctx context.Context, cli config.Cli, h *handlers.Collection) error {
	router := NewRouter(h)
	server := http.Server{Addr: cli.HTTPAddr, Handler: router}
	ctx, cancel := context.WithCancel(ctx)

	log.LogNoTaskID("starting coordinator HTTP server", "version", config.Version, "addr", cli.HTTPAddr)

	var err error
	go func() {
		err = server.ListenAndServe()
		cancel()
	}()

	<-ctx.Done()
	if err != nil && err != http.ErrServerClosed {
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

// NewRouter wires every endpoint in spec §4.2. GET /tasks/<id> and
// POST /tasks/<id> are shared by encode and metric tasks; every other
// route is specific to one task kind since its path segment
// (/file, /files/source, /files/compressed, /report) already says
// which kind it is.
func NewRouter(h *handlers.Collection) *httprouter.Router {
	router := httprouter.New()
	withLogging := middleware.LogRequest()
	withCORS := middleware.AllowCORS()
	wrap := func(next httprouter.Handle) httprouter.Handle {
		return withLogging(withCORS(next))
	}

	router.GET("/ok", wrap(h.Ok()))

	router.GET("/tasks/:id", wrap(h.GetTask()))
	router.POST("/tasks/:id", wrap(h.PostTaskProgress()))

	router.GET("/tasks/:id/file", wrap(h.GetEncodeSourceFile()))
	router.POST("/tasks/:id/file", wrap(h.PostEncodeCompressedFile()))

	router.GET("/tasks/:id/files/source", wrap(h.GetMetricSourceFile()))
	router.GET("/tasks/:id/files/compressed", wrap(h.GetMetricCompressedFile()))
	router.POST("/tasks/:id/report", wrap(h.PostMetricReport()))

	router.GET("/tasks/:id/pooled/:metric", wrap(h.GetPooledMetric()))

	// No OPTIONS routes are registered, so the router answers preflight
	// requests itself; hand them to the CORS middleware from there.
	router.GlobalOPTIONS = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		withCORS(func(http.ResponseWriter, *http.Request, httprouter.Params) {})(w, r, nil)
	})

	router.HandleMethodNotAllowed = true
	router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errors.WriteHTTPMethodNotAllowed(w, "method not allowed on this endpoint", nil)
	})
	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errors.WriteHTTPNotFound(w, "no such endpoint", nil)
	})

	return router
}
