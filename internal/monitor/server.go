// Package monitor exposes a small HTTP interface for watching a run:
// liveness, a session-stats snapshot, and Prometheus metrics.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pvaillant/adwatch/internal/metrics"
	"github.com/pvaillant/adwatch/internal/scraper"
)

// StatsProvider yields point-in-time session snapshots.
type StatsProvider interface {
	Stats() scraper.SessionStats
}

// Server serves the monitoring endpoints alongside an active run.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer builds the router and binds it to the given port.
func NewServer(port int, stats StatsProvider, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, stats.Stats())
	})
	r.Handle("/metrics", metrics.Handler())

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start serves until the context ends, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("monitor shutdown failed", zap.Error(err))
		}
	}()

	go func() {
		s.logger.Info("monitor listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("monitor server failed", zap.Error(err))
		}
	}()
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "encode response", http.StatusInternalServerError)
	}
}
