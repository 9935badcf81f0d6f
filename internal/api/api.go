// QLStats Feeder - Quake Live Match Statistics Ingestion
// Copyright 2026 QLStats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/qlstats/feeder

// Package api exposes the feeder's admin HTTP interface: feed
// management, health, live WebSocket updates and Prometheus metrics.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qlstats/feeder/internal/config"
	"github.com/qlstats/feeder/internal/feeder"
	"github.com/qlstats/feeder/internal/gameport"
	"github.com/qlstats/feeder/internal/hub"
	"github.com/qlstats/feeder/internal/metrics"
	"github.com/qlstats/feeder/internal/middleware"
)

// Handler bundles the dependencies the admin endpoints operate on.
type Handler struct {
	registry *feeder.Registry
	ports    *gameport.Store
	hub      *hub.Hub
	started  time.Time
}

// NewHandler creates the admin API handler. ports and h may be nil
// when the corresponding subsystems are disabled.
func NewHandler(registry *feeder.Registry, ports *gameport.Store, h *hub.Hub) *Handler {
	return &Handler{
		registry: registry,
		ports:    ports,
		hub:      h,
		started:  time.Now(),
	}
}

// NewRouter builds the chi router for the admin API.
func NewRouter(handler *Handler, cfg config.HTTPConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	allowedOrigins := cfg.CORSOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RateLimit > 0 {
			window := cfg.RateLimitWindow
			if window == 0 {
				window = time.Minute
			}
			r.Use(httprate.Limit(cfg.RateLimit, window,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					metrics.APIRateLimitHits.WithLabelValues(r.URL.Path).Inc()
					http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				}),
			))
		}
		r.Use(middleware.PrometheusMetrics)
		r.Use(middleware.Compression)

		r.Get("/health", handler.Health)
		r.Get("/feeds", handler.ListFeeds)
		r.Post("/feeds", handler.AddFeed)
		r.Delete("/feeds/{addr}", handler.RemoveFeed)

		if handler.hub != nil {
			r.Get("/ws", handler.hub.ServeWS)
		}
	})

	return r
}
