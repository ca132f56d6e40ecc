package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/platformbuilds/shiftgate/internal/engine"
	"github.com/platformbuilds/shiftgate/internal/models"
)

// MigrationController is the slice of the orchestrator the admin API needs.
type MigrationController interface {
	Status() []models.MigrationRun
	Run(service string) (models.MigrationRun, error)
	Abort(service string) error
	Events(service string) []models.RollbackEvent
}

// AdminServer serves the operator HTTP API: run status, abort, and rollback
// event queries. Migrations themselves start from the CLI, not over HTTP.
type AdminServer struct {
	controller MigrationController
	logger     *slog.Logger
	httpServer *http.Server
}

// NewAdminServer wires the admin routes onto a chi router.
func NewAdminServer(address string, controller MigrationController, logger *slog.Logger) *AdminServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &AdminServer{controller: controller, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealthz)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{service}", s.handleGetRun)
		r.Post("/runs/{service}/abort", s.handleAbort)
		r.Get("/runs/{service}/events", s.handleEvents)
	})

	s.httpServer = &http.Server{
		Addr:              address,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until Shutdown. Always returns a non-nil error; callers
// should treat http.ErrServerClosed as a clean stop.
func (s *AdminServer) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *AdminServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *AdminServer) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *AdminServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *AdminServer) handleListRuns(w http.ResponseWriter, _ *http.Request) {
	runs := s.controller.Status()
	if runs == nil {
		runs = []models.MigrationRun{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *AdminServer) handleGetRun(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	run, err := s.controller.Run(service)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *AdminServer) handleAbort(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	if err := s.controller.Abort(service); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("abort accepted", slog.String("service", service))
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"service": service,
		"status":  "aborting",
	})
}

func (s *AdminServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	events := s.controller.Events(service)
	if events == nil {
		events = []models.RollbackEvent{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"service": service,
		"events":  events,
	})
}

func (s *AdminServer) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrUnknownService):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrNoActiveRun):
		status = http.StatusConflict
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *AdminServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("write response", slog.Any("error", err))
	}
}
