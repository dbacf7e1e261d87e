// Package server exposes the HTTP surface of the sync service: the OAuth
// redirect callback, health and metrics endpoints, and a small API to trigger
// batches and inspect run history.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tasksync/internal/auth"
	"tasksync/internal/config"
	"tasksync/internal/lock"
	"tasksync/internal/models"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// SyncLockTTL bounds how long a crashed in-flight batch can hold the
// per-credential lock.
const SyncLockTTL = 10 * time.Minute

// SyncRunner executes one batch; the server serializes invocations through
// the locker.
type SyncRunner interface {
	Run(ctx context.Context) (*models.BatchReport, error)
}

// HistoryReader serves the runs API; may be nil when auditing is disabled.
type HistoryReader interface {
	GetRecentRuns(ctx context.Context, limit int) ([]models.SyncRun, error)
	GetRunOutcomes(ctx context.Context, runID int64) ([]models.RunOutcome, error)
}

type Server struct {
	auth     *auth.Manager
	runner   SyncRunner
	history  HistoryReader
	locker   lock.Locker
	clientID string
	logger   zerolog.Logger
	server   *http.Server
}

func New(cfg config.ServerConfig, authManager *auth.Manager, runner SyncRunner, history HistoryReader, locker lock.Locker, clientID string, logger zerolog.Logger) *Server {
	s := &Server{
		auth:     authManager,
		runner:   runner,
		history:  history,
		locker:   locker,
		clientID: clientID,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/callback", s.handleCallback)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/v1/sync", s.handleSync)
	mux.HandleFunc("/api/v1/runs", s.handleRuns)
	mux.HandleFunc("/api/v1/runs/", s.handleRunOutcomes)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// handleCallback receives the authorization redirect, stores the code and
// performs the exchange inline, then renders a human-readable confirmation.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		errParam := r.URL.Query().Get("error")
		errDesc := r.URL.Query().Get("error_description")
		s.logger.Error().Str("error", errParam).Str("description", errDesc).Msg("authorization callback without code")
		writeError(w, http.StatusBadRequest, "authorization failed: no code in callback")
		return
	}

	if err := s.auth.StoreAuthorizationCode(r.Context(), code); err != nil {
		s.logger.Error().Err(err).Msg("failed to store authorization code")
		writeError(w, http.StatusInternalServerError, "failed to store authorization code")
		return
	}

	if err := s.auth.ExchangeCode(r.Context()); err != nil {
		s.logger.Error().Err(err).Msg("authorization code exchange failed")
		writeError(w, http.StatusInternalServerError, "token exchange failed")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head><title>Authorization complete</title></head>
<body>
  <h1>Authorization complete</h1>
  <p>Tokens have been stored. You can close this window and run the sync.</p>
</body>
</html>
`)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	release, err := s.locker.Acquire(r.Context(), s.clientID, SyncLockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrAlreadyLocked) {
			writeError(w, http.StatusConflict, "sync already running")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to acquire sync lock")
		return
	}
	defer release()

	report, err := s.runner.Run(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.history == nil {
		writeError(w, http.StatusNotFound, "run history is disabled")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	runs, err := s.history.GetRecentRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load runs")
		writeError(w, http.StatusInternalServerError, "failed to load runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleRunOutcomes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.history == nil {
		writeError(w, http.StatusNotFound, "run history is disabled")
		return
	}

	const prefix = "/api/v1/runs/"
	rest := strings.TrimPrefix(r.URL.Path, prefix)
	idStr, tail, _ := strings.Cut(rest, "/")
	if tail != "outcomes" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	outcomes, err := s.history.GetRunOutcomes(r.Context(), id)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load run outcomes")
		writeError(w, http.StatusInternalServerError, "failed to load run outcomes")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcomes": outcomes})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
