package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apiMiddleware "github.com/pixelvault/pixelvault-api/internal/api/middleware"
)

// setupRouter creates and configures the application router with all routes
// and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware)

	authMiddleware := apiMiddleware.NewAuthMiddleware(app.verifier)
	workerAuth := apiMiddleware.NewWorkerAuthMiddleware(app.config.Auth.WorkerToken)

	r.Route("/api", func(r chi.Router) {
		// Client-facing queue endpoints
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)
			r.Post("/queue", app.queueHandler.Submit)
			r.Get("/queue/{id}", app.queueHandler.GetStatus)
			r.Get("/queue/{id}/ws", app.queueHandler.Subscribe)
		})

		// Worker event ingestion
		r.Group(func(r chi.Router) {
			r.Use(workerAuth.Authenticate)
			r.Post("/worker/events", app.workerHandler.HandleEvent)
		})
	})

	// Operational endpoints
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("failed to write health check response", "error", err)
		}
	})

	return r
}
