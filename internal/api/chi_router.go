// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router wires handlers and middleware into a chi mux.
type Router struct {
	handler    *Handler
	middleware *Middleware
}

// NewRouter creates a router. A nil middleware uses the defaults.
func NewRouter(handler *Handler, mw *Middleware) *Router {
	if mw == nil {
		mw = NewMiddleware(nil)
	}
	return &Router{handler: handler, middleware: mw}
}

// Routes builds the HTTP handler.
func (router *Router) Routes() http.Handler {
	h := router.handler
	r := chi.NewRouter()

	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.middleware.CORS())
	r.Use(RequestLogger)

	r.Get("/healthz", h.HealthLive)
	r.Get("/readyz", h.HealthReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.middleware.RateLimit())
		r.Use(APISecurityHeaders())
		r.Use(Metrics)
		r.Use(chimiddleware.Compress(5, "application/json"))

		r.Route("/cohorts", func(r chi.Router) {
			r.Get("/", h.ListCohorts)
			r.Post("/", h.CreateCohort)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetCohort)
				r.Patch("/", h.UpdateCohort)
				r.Delete("/", h.DeleteCohort)
				r.Get("/members", h.ListMembers)
				r.Get("/stats", h.GetStats)
				r.Get("/rankings/{strategy}", h.GetRankings)
				r.Get("/insights/{strategy}", h.GetInsights)

				r.Group(func(r chi.Router) {
					r.Use(router.middleware.RateLimitCommands())
					r.Post("/membership/refresh", h.RefreshMembership)
					r.Post("/sync", h.StartSync)
					r.Post("/stats/recompute", h.RecomputeStats)
					r.Post("/rankings/{strategy}/compute", h.ComputeRankings)
					r.Post("/insights/{strategy}", h.ComputeInsights)
				})
			})
		})

		r.Route("/runs/{id}", func(r chi.Router) {
			r.Get("/", h.GetRun)
			r.With(router.middleware.RateLimitCommands()).Post("/cancel", h.CancelRun)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).NotFound("route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).Error(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})
	return r
}
