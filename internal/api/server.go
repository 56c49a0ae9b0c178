package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/sift/internal/generation"
	"github.com/MikeSquared-Agency/sift/internal/opstate"
	"github.com/MikeSquared-Agency/sift/internal/processor"
)

// Trigger is the part of the processor the API drives.
type Trigger interface {
	Services() []string
	Trigger(req generation.Request, only ...string) error
	Run(ctx context.Context, req generation.Request, only ...string) ([]generation.Report, error)
}

type Deps struct {
	States    opstate.Store
	Processor Trigger
	Metrics   http.Handler
	Token     string
	Logger    *slog.Logger
}

type Server struct {
	router *chi.Mux
	port   int
	deps   Deps
	logger *slog.Logger
}

func NewServer(port int, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		port:   port,
		deps:   deps,
		logger: deps.Logger,
	}

	router.Get("/health", s.health)
	if deps.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", deps.Metrics)
	}
	router.Route("/api/v1/generation", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Get("/status", s.status)
		r.Post("/rerun", s.rerun)
		r.Delete("/state", s.deleteState)
	})

	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts the listener down.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server starting", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Services []string        `json:"services"`
	States   []opstate.State `json:"states"`
}

// status lists operation state, optionally narrowed with ?service=.
func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	states, err := s.deps.States.List(r.Context(), r.URL.Query().Get("service"))
	if err != nil {
		s.logger.Error("listing operation state", "error", err)
		httpError(w, http.StatusInternalServerError, "listing operation state failed")
		return
	}
	if states == nil {
		states = []opstate.State{}
	}
	writeJSON(w, http.StatusOK, statusResponse{Services: s.deps.Processor.Services(), States: states})
}

type rerunRequest struct {
	OrgID        string   `json:"org_id"`
	UserID       string   `json:"user_id,omitempty"`
	RequestID    string   `json:"request_id,omitempty"`
	AgentVersion string   `json:"agent_version,omitempty"`
	Services     []string `json:"services,omitempty"`
	// Wait runs synchronously and returns the reports.
	Wait bool `json:"wait,omitempty"`
}

func (s *Server) rerun(w http.ResponseWriter, r *http.Request) {
	var body rerunRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if body.OrgID == "" {
		httpError(w, http.StatusBadRequest, "org_id is required")
		return
	}
	req := generation.Request{
		OrgID:        body.OrgID,
		UserID:       body.UserID,
		RequestID:    body.RequestID,
		AgentVersion: body.AgentVersion,
		Rerun:        true,
	}

	if body.Wait {
		reports, err := s.deps.Processor.Run(r.Context(), req, body.Services...)
		if err != nil {
			httpError(w, http.StatusBadRequest, "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"reports": reports})
		return
	}

	switch err := s.deps.Processor.Trigger(req, body.Services...); {
	case errors.Is(err, processor.ErrShuttingDown):
		httpError(w, http.StatusServiceUnavailable, "%v", err)
	case err != nil:
		httpError(w, http.StatusBadRequest, "%v", err)
	default:
		s.logger.Info("rerun accepted", "org_id", req.OrgID, "user_id", req.UserID, "services", body.Services)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}

// deleteState drops the record for ?service=&scope=, clearing bookmarks and
// any lock.
func (s *Server) deleteState(w http.ResponseWriter, r *http.Request) {
	service, scope := r.URL.Query().Get("service"), r.URL.Query().Get("scope")
	if service == "" || scope == "" {
		httpError(w, http.StatusBadRequest, "service and scope are required")
		return
	}
	err := s.deps.States.Delete(r.Context(), service, scope)
	switch {
	case errors.Is(err, opstate.ErrNotFound):
		httpError(w, http.StatusNotFound, "no operation state for %s %s", service, scope)
	case err != nil:
		s.logger.Error("deleting operation state", "service", service, "scope_id", scope, "error", err)
		httpError(w, http.StatusInternalServerError, "deleting operation state failed")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	writeJSON(w, code, map[string]string{"error": fmt.Sprintf(format, args...)})
}
