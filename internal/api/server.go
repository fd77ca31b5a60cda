// Package api serves the read-only status API: health of the plan store,
// today's plan and the recorded firings.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"rollcall/internal/types"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// PlanView exposes the planner state served by the API. *scheduler.Planner
// implements it.
type PlanView interface {
	Jobs(ctx context.Context) ([]types.PlannedJob, error)
	Records(ctx context.Context) ([]types.AttendanceRecord, error)
}

// Server holds the status API dependencies.
type Server struct {
	Plan         PlanView
	HealthProbes []HealthProbe
	Location     *time.Location
	Logger       *slog.Logger

	router *chi.Mux
}

// NewServer creates a Server with its routes mounted.
func NewServer(plan PlanView, loc *time.Location, logger *slog.Logger, probes ...HealthProbe) (*Server, error) {
	if plan == nil {
		return nil, fmt.Errorf("plan view must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	if loc == nil {
		loc = time.UTC
	}

	s := &Server{
		Plan:         plan,
		HealthProbes: probes,
		Location:     loc,
		Logger:       logger,
		router:       chi.NewRouter(),
	}
	s.mountRoutes()
	return s, nil
}

// Handler returns the http.Handler interface for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) mountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLogger(s.Logger))

	s.router.Get("/health", s.HandleHealth)
	s.router.Get("/plan", s.HandlePlan)
	s.router.Get("/records", s.HandleRecords)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("status server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("status server: %w", err)
	}
	s.Logger.Info("status server stopped")
	return nil
}
