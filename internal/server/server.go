// Package server exposes the engine over HTTP: uploads, job control,
// extraction triggers, progress streaming, stats, and recovery.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/notescan/notescan/internal/config"
	"github.com/notescan/notescan/internal/jobs"
	"github.com/notescan/notescan/internal/progress"
	"github.com/notescan/notescan/internal/recovery"
	"github.com/notescan/notescan/internal/storage"
)

// Server is the HTTP front end. All handlers require a tenant, either
// in the path payload or as the tenant query parameter.
type Server struct {
	cfg      config.ServerConfig
	store    storage.Store
	manager  *jobs.Manager
	bus      *progress.Bus
	recovery *recovery.Ops
	logger   *zap.Logger

	httpSrv *http.Server
}

// New wires the server. Call ListenAndServe to start it.
func New(cfg config.ServerConfig, store storage.Store, manager *jobs.Manager, bus *progress.Bus, ops *recovery.Ops, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:      cfg,
		store:    store,
		manager:  manager,
		bus:      bus,
		recovery: ops,
		logger:   logger,
	}
	s.httpSrv = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /uploads", s.handleUpload)
	mux.HandleFunc("GET /uploads", s.handleListUploads)

	mux.HandleFunc("GET /jobs", s.handleListJobs)
	mux.HandleFunc("GET /jobs/{id}", s.handleGetJob)
	mux.HandleFunc("DELETE /jobs/{id}", s.handleCancelJob)

	mux.HandleFunc("POST /extractions", s.handleStartExtraction)

	mux.HandleFunc("GET /progress/stream", s.handleProgressStream)
	mux.HandleFunc("GET /progress/latest", s.handleProgressLatest)

	mux.HandleFunc("GET /stats", s.handleStats)

	mux.HandleFunc("POST /recovery/clear-mentions", s.guarded(s.handleClearMentions))
	mux.HandleFunc("POST /recovery/reset-status", s.guarded(s.handleResetStatus))
	mux.HandleFunc("POST /recovery/purge", s.guarded(s.handlePurgeTenant))

	mux.HandleFunc("GET /healthz", s.handleHealth)

	return s.logRequests(mux)
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", zap.String("addr", s.cfg.Listen))
	return s.httpSrv.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// guarded enforces the recovery bearer token when one is configured.
func (s *Server) guarded(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.RecoveryToken != "" {
			if r.Header.Get("Authorization") != "Bearer "+s.cfg.RecoveryToken {
				s.writeError(w, http.StatusUnauthorized, "invalid recovery token")
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encode failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// tenantParam extracts the required tenant query parameter.
func (s *Server) tenantParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenant := r.URL.Query().Get("tenant")
	if tenant == "" {
		s.writeError(w, http.StatusBadRequest, "tenant query parameter is required")
		return "", false
	}
	return tenant, true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
