// Package server exposes the registry and pool state over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anstrom/poolmeter/internal/config"
	"github.com/anstrom/poolmeter/internal/db"
	"github.com/anstrom/poolmeter/internal/logging"
	"github.com/anstrom/poolmeter/internal/metadata"
	"github.com/anstrom/poolmeter/internal/poolmetrics"
)

// Server timeout constants.
const (
	defaultShutdownTimeout = 30 * time.Second
	healthCheckTimeout     = 5 * time.Second
	readHeaderTimeout      = 5 * time.Second
)

// Backend is what the server reports on.
type Backend interface {
	Gatherer() prometheus.Gatherer
	Sources() map[string]db.Source
	Snapshots() []metadata.Snapshot
}

// Server serves /metrics, /health and /pools.
type Server struct {
	httpServer      *http.Server
	router          *mux.Router
	backend         Backend
	logger          *logging.Logger
	shutdownTimeout time.Duration
	startTime       time.Time

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec

	mu       sync.Mutex
	shutdown bool
}

// New creates the server and registers its request metrics in reg.
func New(cfg config.MetricsConfig, backend Backend, reg prometheus.Registerer, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.Default()
	}

	s := &Server{
		router:          mux.NewRouter(),
		backend:         backend,
		logger:          logger.WithComponent("server"),
		shutdownTimeout: cfg.ShutdownTimeout,
		startTime:       time.Now(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "poolmeter",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests served.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "poolmeter",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = defaultShutdownTimeout
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{s.requests, s.duration} {
			if err := reg.Register(c); err != nil {
				return nil, fmt.Errorf("failed to register server metrics: %w", err)
			}
		}
	}

	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	s.setupRoutes(path)
	s.setupMiddleware()

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.ListenAddr, cfg.Port),
		Handler:           handlers.RecoveryHandler(handlers.RecoveryLogger(s), handlers.PrintRecoveryStack(false))(s.router),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return s, nil
}

// Println lets the server act as the recovery logger.
func (s *Server) Println(v ...interface{}) {
	s.logger.Error("Panic in HTTP handler", "error", fmt.Sprint(v...))
}

// Handler returns the root handler, recovery included.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// GetAddress returns the server address.
func (s *Server) GetAddress() string {
	return s.httpServer.Addr
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting metrics server", "address", s.httpServer.Addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		return err
	}
}

// Stop gracefully stops the server. Extra calls are no-ops.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	s.mu.Unlock()

	s.logger.Info("Stopping metrics server")

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Metrics server shutdown error", "error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("Metrics server stopped")
	return nil
}

func (s *Server) setupRoutes(metricsPath string) {
	s.router.Handle(metricsPath, promhttp.HandlerFor(s.backend.Gatherer(), promhttp.HandlerOpts{
		ErrorLog: s,
	})).Methods(http.MethodGet).Name("metrics")
	s.router.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet).Name("health")
	s.router.HandleFunc("/pools", s.poolsHandler).Methods(http.MethodGet).Name("pools")
	s.router.HandleFunc("/pools/{name}", s.poolHandler).Methods(http.MethodGet).Name("pool")
}

func (s *Server) setupMiddleware() {
	s.router.Use(s.loggingMiddleware)
}

// healthHandler checks every data source and reports 503 if any fails.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := "healthy"
	checks := make(map[string]string)

	for name, source := range s.backend.Sources() {
		display := poolmetrics.DisplayName(name)
		if err := db.Check(ctx, source); err != nil {
			status = "unhealthy"
			checks[display] = "failed: " + err.Error()
		} else {
			checks[display] = "ok"
		}
	}

	statusCode := http.StatusOK
	if status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	s.WriteJSON(w, r, statusCode, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.startTime).String(),
		"checks":    checks,
	})
}

func (s *Server) poolsHandler(w http.ResponseWriter, r *http.Request) {
	snaps := s.backend.Snapshots()
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name < snaps[j].Name })

	s.WriteJSON(w, r, http.StatusOK, map[string]interface{}{
		"pools":     snaps,
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) poolHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	for _, snap := range s.backend.Snapshots() {
		if snap.Name == name {
			s.WriteJSON(w, r, http.StatusOK, snap)
			return
		}
	}
	s.writeError(w, r, http.StatusNotFound, fmt.Errorf("pool not found: %s", name))
}

// ErrorResponse represents a standard error response.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, statusCode int, err error) {
	s.logger.Warn("HTTP error",
		"method", r.Method,
		"path", r.URL.Path,
		"status", statusCode,
		"error", err)

	s.WriteJSON(w, r, statusCode, ErrorResponse{
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
	})
}

// WriteJSON writes a JSON response.
func (s *Server) WriteJSON(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response",
			"error", err,
			"path", r.URL.Path,
			"method", r.Method)
	}
}

// loggingMiddleware logs requests and records request metrics by route name.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		route := "unknown"
		if current := mux.CurrentRoute(r); current != nil && current.GetName() != "" {
			route = current.GetName()
		}

		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", duration,
			"remote_addr", r.RemoteAddr)

		s.requests.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.statusCode)).Inc()
		s.duration.WithLabelValues(r.Method, route).Observe(duration.Seconds())
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
