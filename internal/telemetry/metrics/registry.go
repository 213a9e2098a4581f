// Package metrics implements the Metrics Registry (C10): a Prometheus
// registry tracking detector fires, containment actions, and session
// durations, served alongside a liveness endpoint over a background HTTP
// listener — grounded in the teacher's pattern of launching its ops-facing
// HTTP server from a goroutine alongside the main event loop
// (cmd/probe/main.go's Synapse Bridge listener).
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every counter and histogram qguardian exports.
type Registry struct {
	registry *prometheus.Registry

	DetectorFires      *prometheus.CounterVec
	ContainmentActions *prometheus.CounterVec
	SessionDuration    prometheus.Histogram
	SessionsTotal      *prometheus.CounterVec
}

// New builds a Registry with all collectors registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
		DetectorFires: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "qguardian",
			Name:      "detector_fires_total",
			Help:      "Number of verdicts produced, by detector ID and level.",
		}, []string{"detector", "level"}),
		ContainmentActions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "qguardian",
			Name:      "containment_actions_total",
			Help:      "Number of containment actions taken, by outcome.",
		}, []string{"outcome"}),
		SessionDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "qguardian",
			Name:      "session_duration_seconds",
			Help:      "Wall-clock duration of a completed session.",
			Buckets:   prometheus.DefBuckets,
		}),
		SessionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "qguardian",
			Name:      "sessions_total",
			Help:      "Number of sessions run, by terminal state.",
		}, []string{"state"}),
	}
	return r
}

// ObserveSession records one completed session's duration and terminal
// state.
func (r *Registry) ObserveSession(d time.Duration, state string) {
	r.SessionDuration.Observe(d.Seconds())
	r.SessionsTotal.WithLabelValues(state).Inc()
}

// RecordDetectorFire increments the fire counter for one verdict.
func (r *Registry) RecordDetectorFire(detector string, level string) {
	r.DetectorFires.WithLabelValues(detector, level).Inc()
}

// RecordContainmentAction increments the containment outcome counter.
func (r *Registry) RecordContainmentAction(outcome string) {
	r.ContainmentActions.WithLabelValues(outcome).Inc()
}

// Server serves /metrics and /healthz over a gorilla/mux router.
type Server struct {
	httpServer *http.Server
}

// NewServer builds the ops HTTP server. addr is typically the value of
// Config.Ops.Addr (e.g. ":9090").
func NewServer(addr string, r *Registry) *Server {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	return &Server{
		httpServer: &http.Server{
			Addr:    addr,
			Handler: router,
		},
	}
}

// Start launches the listener in a background goroutine, mirroring the
// teacher's fire-and-log-fatal-on-failure pattern for its own ops listener.
func (s *Server) Start() {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("ops http server failed", "error", err)
		}
	}()
}

// Shutdown gracefully stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
