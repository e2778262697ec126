package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/phrazzld/avmerge/internal/api"
	apiMiddleware "github.com/phrazzld/avmerge/internal/api/middleware"
	"github.com/phrazzld/avmerge/internal/platform/telemetry"
)

// setupRouter creates and configures the application router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware)

	mergeHandler := api.NewMergeHandler(app.mergeService, app.config.Server.MaxUploadMB<<20)
	taskHandler := api.NewTaskHandler(app.mergeService)
	adminHandler := api.NewAdminHandler(app.mergeService)

	r.Post("/merge", mergeHandler.Merge)
	r.Post("/merge-replace-audio", mergeHandler.MergeReplaceAudio)
	r.Post("/loop-video-to-audio", mergeHandler.LoopVideoToAudio)

	r.Get("/task/{id}/status", taskHandler.GetStatus)
	r.Get("/task/{id}/download", taskHandler.Download)
	r.Get("/tasks", taskHandler.ListTasks)

	r.Post("/cleanup", adminHandler.Cleanup)
	r.Post("/config/max-files", adminHandler.SetMaxFiles)
	r.Get("/info", adminHandler.Info)
	r.Get("/health", adminHandler.Health)

	// The OpenTelemetry handler runs outermost so TraceMiddleware sees its span.
	return otelhttp.NewHandler(r, telemetry.ServiceName)
}
