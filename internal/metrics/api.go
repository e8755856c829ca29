package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/memocache/internal/backend"
	"github.com/allaspectsdev/memocache/internal/invalidate"
	"github.com/allaspectsdev/memocache/internal/keybuilder"
)

// AdminServer is a small HTTP surface over a running pipeline's backend and
// collector — stats, manual invalidation, and a health check. It is not the
// "ergonomic wrapper" spec.md excludes; it's an ops surface, the kind of
// thing an operator curls or a CLI (cmd/memocachectl) talks to.
type AdminServer struct {
	router    chi.Router
	collector *Collector
	backend   backend.Backend
	addr      string
	server    *http.Server
}

// NewAdminServer wires an AdminServer to the given collector and backend.
func NewAdminServer(collector *Collector, b backend.Backend, addr string) *AdminServer {
	a := &AdminServer{
		collector: collector,
		backend:   b,
		addr:      addr,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/healthz", a.handleHealth)
	r.Get("/stats", a.handleStats)
	r.Post("/invalidate", a.handleInvalidate)
	r.Get("/metrics", PrometheusHandler(collector))

	a.router = r
	return a
}

// ServeHTTP lets AdminServer be used directly as an http.Handler, e.g. in
// tests with httptest.NewServer.
func (a *AdminServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

// Start begins listening on the configured address. It blocks until the
// server is shut down or an error occurs.
func (a *AdminServer) Start() error {
	a.server = &http.Server{
		Addr:         a.addr,
		Handler:      a.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", a.addr).Msg("admin server starting")
	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("admin server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the admin server.
func (a *AdminServer) Shutdown(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}

// handleHealth reports whether the backend is reachable.
func (a *AdminServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := a.backend.Stats(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStats reports the process-wide call counters alongside a live
// backend.Stats snapshot.
func (a *AdminServer) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Calls   *Stats        `json:"calls"`
		Backend backend.Stats `json:"backend"`
	}{
		Calls: a.collector.Stats(),
	}

	bs, err := a.backend.Stats(r.Context())
	if err != nil {
		log.Warn().Err(err).Msg("admin: backend.Stats failed")
	} else {
		resp.Backend = bs
	}

	writeJSON(w, http.StatusOK, resp)
}

// invalidateRequest is the JSON body accepted by POST /invalidate.
type invalidateRequest struct {
	Keys []string `json:"keys"`
	Tags []string `json:"tags"`
}

// handleInvalidate deletes the named keys and every entry carrying any of
// the named tags. An empty body clears nothing; use "all":true to wipe the
// backend entirely.
func (a *AdminServer) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}
	defer r.Body.Close()

	var req struct {
		invalidateRequest
		All bool `json:"all"`
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
			return
		}
	}

	if req.All {
		if err := invalidate.InvalidateAll(r.Context(), a.backend); err != nil {
			log.Error().Err(err).Msg("admin: InvalidateAll failed")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
		return
	}

	keys := make([]keybuilder.Fingerprint, len(req.Keys))
	for i, k := range req.Keys {
		keys[i] = keybuilder.Fingerprint(k)
	}

	res, err := invalidate.Invalidate(r.Context(), a.backend, keys, req.Tags)
	if err != nil {
		log.Error().Err(err).Msg("admin: Invalidate failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// writeJSON serialises v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write JSON response")
	}
}
