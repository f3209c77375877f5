// Package api provides the local HTTP status API for EchoNotify.
//
// It exposes read endpoints for the tracked notifications, the ignored
// set, the cycle status and the reminder history, plus write endpoints for
// settings, environment state (ringer, call, do-not-disturb, screen) and
// user dismissal. The API binds to loopback by default.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/EchoNotify/EchoNotify/internal/config"
	"github.com/EchoNotify/EchoNotify/internal/environ"
	"github.com/EchoNotify/EchoNotify/internal/models"
	"github.com/EchoNotify/EchoNotify/internal/store"
)

// DefaultHistoryLimit bounds a history query without an explicit limit.
const DefaultHistoryLimit = 50

// Cycle is the controller surface the API needs. The reminder cycle
// controller satisfies it.
type Cycle interface {
	Dispatch(ev models.Event)
	Status() models.CycleStatus
	ActiveNotifications() []models.NotificationRecord
	IgnoredKeys() []string
	ResetIgnored()
}

// Server serves the status API.
type Server struct {
	cycle   Cycle
	env     *environ.State
	cfg     *config.Manager
	st      store.Store
	httpSrv *http.Server
}

// NewServer creates a Server listening on addr. The store may be nil when
// persistence is disabled; history queries then return an empty list.
func NewServer(addr string, cycle Cycle, env *environ.State, cfg *config.Manager, st store.Store) *Server {
	s := &Server{cycle: cycle, env: env, cfg: cfg, st: st}

	mux := http.NewServeMux()
	mux.HandleFunc("/notifications", s.notificationsHandler)
	mux.HandleFunc("/ignored", s.ignoredHandler)
	mux.HandleFunc("/ignored/reset", s.ignoredResetHandler)
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/history", s.historyHandler)
	mux.HandleFunc("/settings", s.settingsHandler)
	mux.HandleFunc("/environment", s.environmentHandler)
	mux.HandleFunc("/dismiss", s.dismissHandler)

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server: status API listening", "addr", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		slog.Info("Server: shutting down status API")
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}
