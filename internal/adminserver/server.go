// Package adminserver is the control plane's diagnostics-only HTTP surface:
// /healthz, /readyz, and /metrics. It is deliberately thin compared to the
// teacher's internal/httpserver — spec.md names the REST front-end, CORS,
// and tenant/auth surface as explicit Non-goals, so there is no
// authenticated /api/v1 tree here, only the operational endpoints every
// long-running process needs.
package adminserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nimbusblock/control-plane/pkg/store"
)

// Store is the minimal subset of store.Store readiness probing needs. A
// plain interface keeps it easy to fake in tests; the package still imports
// pkg/store for store.ErrNotFound.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// LeaseStatus is the subset of *lease.Keeper readiness probing needs.
type LeaseStatus interface {
	Lost() <-chan struct{}
}

// Server is the admin HTTP server.
type Server struct {
	Router *chi.Mux

	logger    *slog.Logger
	store     Store
	lease     LeaseStatus
	probeKey  string
	startedAt time.Time
}

// NewServer builds the admin server and mounts its fixed route table.
// metricsReg is the Prometheus registry to expose at /metrics; store and
// lease back /readyz. probeKey is an arbitrary key used to confirm the
// store round-trips reads (its value, if any, is ignored).
func NewServer(logger *slog.Logger, metricsReg *prometheus.Registry, store Store, lease LeaseStatus, probeKey string) *Server {
	s := &Server{
		Router:    chi.NewRouter(),
		logger:    logger,
		store:     store,
		lease:     lease,
		probeKey:  probeKey,
		startedAt: time.Now(),
	}

	s.Router.Use(RequestID)
	s.Router.Use(RequestLogger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)

	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/readyz", s.handleReadyz)
	s.Router.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// handleHealthz reports liveness: the process is up and serving. It never
// depends on the store or lease, so a partitioned store can't make the
// process look dead to an orchestrator's liveness probe.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz reports readiness: the store round-trips reads, and (if a
// lease keeper is wired) the lease has not been lost. A process that has
// lost its lease still answers /healthz but fails /readyz, so it keeps
// draining in-flight diagnostics traffic while an orchestrator stops
// sending it new work.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if s.lease != nil {
		select {
		case <-s.lease.Lost():
			RespondError(w, http.StatusServiceUnavailable, "unavailable", "lease lost")
			return
		default:
		}
	}

	if s.store != nil {
		if _, err := s.store.Get(ctx, s.probeKey); err != nil && !errors.Is(err, store.ErrNotFound) {
			s.logger.Error("readiness check: store probe failed", "error", err)
			RespondError(w, http.StatusServiceUnavailable, "unavailable", "store not ready")
			return
		}
	}

	Respond(w, http.StatusOK, map[string]string{"status": "ready"})
}
