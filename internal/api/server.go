// Package api serves the executor's read-only status endpoints: health,
// live builds, and recent build history.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/gantry/internal/executor"
	"github.com/mattjoyce/gantry/internal/history"
)

// BuildLister exposes the dispatcher's live-build registry.
type BuildLister interface {
	LiveBuilds() []executor.BuildInfo
}

// Config holds API server configuration.
type Config struct {
	Listen string
	// Fingerprint is the loaded configuration's hash, surfaced so
	// operators can confirm what a running executor loaded.
	Fingerprint string
}

// Server is the HTTP status server.
type Server struct {
	config    Config
	builds    BuildLister
	history   *history.Store
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a status server. history may be nil.
func New(config Config, builds BuildLister, store *history.Store, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		builds:    builds,
		history:   store,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start runs the HTTP server until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("status API starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/builds", s.handleBuilds)
	r.Get("/builds/history", s.handleHistory)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"uptime_seconds":     int(time.Since(s.startedAt).Seconds()),
		"config_fingerprint": s.config.Fingerprint,
	})
}

func (s *Server) handleBuilds(w http.ResponseWriter, r *http.Request) {
	builds := s.builds.LiveBuilds()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(builds),
		"builds": builds,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "history disabled"})
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be in 1..500"})
			return
		}
		limit = parsed
	}

	records, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("history query failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "history query failed"})
		return
	}

	type entry struct {
		UUID        string    `json:"uuid"`
		JobName     string    `json:"job_name,omitempty"`
		Result      string    `json:"result"`
		ErrorDetail string    `json:"error_detail,omitempty"`
		StartedAt   time.Time `json:"started_at"`
		CompletedAt time.Time `json:"completed_at"`
	}
	entries := make([]entry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, entry(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(entries),
		"builds": entries,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
