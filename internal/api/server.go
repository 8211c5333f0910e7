// Package api serves the engine's query and operator command surface over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourorg/tburn-genesis-engine/internal/approval"
	"github.com/yourorg/tburn-genesis-engine/internal/engine"
	"github.com/yourorg/tburn-genesis-engine/internal/enterprise"
	"github.com/yourorg/tburn-genesis-engine/internal/genesis"
	"github.com/yourorg/tburn-genesis-engine/internal/monitor"
	"github.com/yourorg/tburn-genesis-engine/internal/validation"
	"github.com/yourorg/tburn-genesis-engine/internal/vesting"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

// Options configures the HTTP server
type Options struct {
	Port              string
	RequestsPerSecond float64 // zero disables rate limiting
	Burst             int
}

// Server wires the engine and monitor to HTTP routes
type Server struct {
	opts      Options
	engine    *engine.Engine
	monitor   *monitor.Service
	exporter  *enterprise.MetricsExporter
	table     *genesis.Table
	rateLimit *rate.Limiter
	metrics   *serverMetrics
	server    *http.Server
	startedAt time.Time
}

// serverMetrics holds Prometheus metrics for the HTTP layer
type serverMetrics struct {
	requestCounter  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	rateLimited     prometheus.Counter
}

func registerMetrics(reg prometheus.Registerer) *serverMetrics {
	m := &serverMetrics{
		requestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tburn_http_requests_total",
				Help: "Total number of HTTP requests processed",
			},
			[]string{"method", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tburn_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		rateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tburn_http_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
		),
	}
	reg.MustRegister(m.requestCounter, m.requestDuration, m.rateLimited)
	return m
}

// NewServer creates a server. Its request metrics are registered on the monitor's registry.
func NewServer(eng *engine.Engine, mon *monitor.Service, opts Options) *Server {
	if opts.Port == "" {
		opts.Port = "8080"
	}
	s := &Server{
		opts:      opts,
		engine:    eng,
		monitor:   mon,
		metrics:   registerMetrics(mon.Registry()),
		startedAt: time.Now(),
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		s.rateLimit = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
		logrus.Infof("Rate limiting initialized: %v req/s, burst: %d", opts.RequestsPerSecond, burst)
	}
	return s
}

// WithExporter reports the webhook exporter's status on /api/exporter
func (s *Server) WithExporter(x *enterprise.MetricsExporter) *Server {
	s.exporter = x
	return s
}

// WithGenesisTable sets the table POST /api/genesis seeds from
func (s *Server) WithGenesisTable(t *genesis.Table) *Server {
	s.table = t
	return s
}

// Handler returns the routed, instrumented handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.monitor.Handler())

	api := http.NewServeMux()
	api.HandleFunc("GET /api/metrics", s.handleMetrics)
	api.HandleFunc("GET /api/dashboard", s.handleDashboard)
	api.HandleFunc("GET /api/queue", s.handleQueue)

	api.HandleFunc("POST /api/tasks", s.handleCreateTask)
	api.HandleFunc("GET /api/tasks/{id}", s.handleGetTask)

	api.HandleFunc("GET /api/batches", s.handleListBatches)
	api.HandleFunc("POST /api/batches", s.handleCreateBatch)
	api.HandleFunc("GET /api/batches/{id}", s.handleGetBatch)
	api.HandleFunc("POST /api/batches/{id}/cancel", s.handleCancelBatch)

	api.HandleFunc("GET /api/vesting", s.handleListVesting)
	api.HandleFunc("POST /api/vesting", s.handleCreateVesting)
	api.HandleFunc("GET /api/vesting/{id}", s.handleGetVesting)

	api.HandleFunc("GET /api/approvals", s.handleListApprovals)
	api.HandleFunc("POST /api/approvals", s.handleCreateApproval)
	api.HandleFunc("GET /api/approvals/{id}", s.handleGetApproval)
	api.HandleFunc("POST /api/approvals/{id}/sign", s.handleSignApproval)

	api.HandleFunc("GET /api/circuit", s.handleCircuit)
	api.HandleFunc("POST /api/circuit/reset", s.handleCircuitReset)

	api.HandleFunc("GET /api/categories", s.handleListCategories)
	api.HandleFunc("GET /api/categories/{category}", s.handleGetCategory)

	api.HandleFunc("GET /api/alerts", s.handleAlerts)
	api.HandleFunc("POST /api/alerts/{id}/ack", s.handleAckAlert)
	api.HandleFunc("GET /api/snapshots", s.handleSnapshots)
	api.HandleFunc("GET /api/exporter", s.handleExporter)

	api.HandleFunc("POST /api/genesis", s.handleGenesis)
	api.HandleFunc("POST /api/engine/start", s.handleEngineStart)
	api.HandleFunc("POST /api/engine/stop", s.handleEngineStop)

	mux.Handle("/api/", s.limit(api))
	return s.instrument(mux)
}

// Start begins serving in the background
func (s *Server) Start() {
	s.server = &http.Server{
		Addr:         ":" + s.opts.Port,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.Infof("Server starting on port %s", s.opts.Port)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("Error starting server: %v", err)
		}
	}()
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) limit(next http.Handler) http.Handler {
	if s.rateLimit == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.rateLimit.Allow() {
			s.metrics.rateLimited.Inc()
			s.errorResponse(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.requestCounter.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		s.metrics.requestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

// errorBody is the JSON shape of every error response
type errorBody struct {
	Status     string `json:"status"`
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Warnf("Failed to encode response: %v", err)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, statusCode int, msg string) {
	if statusCode >= http.StatusInternalServerError {
		logrus.Error(msg)
	} else {
		logrus.Debug(msg)
	}
	writeJSON(w, statusCode, errorBody{Status: "error", StatusCode: statusCode, Error: msg})
}

// commandError maps engine and domain errors to HTTP status codes
func (s *Server) commandError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrBatchNotFound), errors.Is(err, engine.ErrTaskNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrBatchNotQueued), errors.Is(err, engine.ErrTaskNotPending),
		errors.Is(err, engine.ErrAlreadyInitialized), errors.Is(err, engine.ErrNoPendingTasks):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrInvalidTask), errors.Is(err, approval.ErrInvalidRequest),
		errors.Is(err, vesting.ErrInvalidSchedule), errors.Is(err, validation.ErrInvalidAllocation),
		errors.Is(err, genesis.ErrEmptyTable):
		status = http.StatusBadRequest
	}
	s.errorResponse(w, status, err.Error())
}

func decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
