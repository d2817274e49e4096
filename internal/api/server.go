// SPDX-License-Identifier: MIT

// Package api provides the HTTP surface of the wavebox daemon.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/wavebox/wavebox/internal/config"
	"github.com/wavebox/wavebox/internal/diskcache"
	"github.com/wavebox/wavebox/internal/library"
	"github.com/wavebox/wavebox/internal/log"
	"github.com/wavebox/wavebox/internal/rebuild"
	"github.com/wavebox/wavebox/internal/transcode"
	"github.com/wavebox/wavebox/internal/uploads"
)

// Server bundles the process-scoped components behind the HTTP handlers.
// It is constructed once at startup and holds no package-level state.
type Server struct {
	cfg       config.Config
	scanner   *library.Scanner
	cache     *diskcache.Cache
	builder   *rebuild.Builder
	uploads   *uploads.Store
	tc        *transcode.Transcoder
	logger    zerolog.Logger
	startTime time.Time
}

// New wires a Server from its injected dependencies.
func New(cfg config.Config, scanner *library.Scanner, cache *diskcache.Cache, builder *rebuild.Builder, up *uploads.Store, tc *transcode.Transcoder) *Server {
	return &Server{
		cfg:       cfg,
		scanner:   scanner,
		cache:     cache,
		builder:   builder,
		uploads:   up,
		tc:        tc,
		logger:    log.WithComponent("api"),
		startTime: time.Now(),
	}
}

// Handler builds the full route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/tree", s.handleTree)
		r.Get("/stats", s.handleStats)
		r.Get("/random", s.handleRandom)
		r.Get("/cache-status", s.handleCacheStatus)
		r.Get("/exists", s.handleExists)

		r.Group(func(r chi.Router) {
			r.Use(httprate.Limit(10, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
			r.Post("/upload", s.handleUpload)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.ownerOnly)
			r.Get("/uploads", s.handleUploadsList)
			r.Post("/accept", s.handleAccept)
			r.Post("/reject", s.handleReject)
			r.Post("/cache/clear", s.handleCacheClear)
			r.Post("/cache/evict", s.handleCacheEvict)
		})
	})

	r.Get("/media/*", s.handleMedia)
	r.Get("/stream/*", s.handleStream)

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	// Ready once the media root is scannable; an empty library is still ready.
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"uptime": time.Since(s.startTime).Seconds(),
	})
}
