package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openfroyo/mysql-service/pkg/engine"
)

// Metrics records convergence metrics in Prometheus form. It implements
// engine.Observer. A Metrics created with metrics disabled records nothing.
type Metrics struct {
	config MetricsConfig

	stepsExecuted  *prometheus.CounterVec
	stepDuration   *prometheus.HistogramVec
	collapsed      *prometheus.CounterVec
	runsCompleted  *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	errorsByKind   *prometheus.CounterVec
	lastRunSuccess prometheus.Gauge

	registry *prometheus.Registry
}

var _ engine.Observer = (*Metrics)(nil)

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	m := &Metrics{
		config:   cfg,
		registry: prometheus.NewRegistry(),

		stepsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_executed_total",
				Help:      "Total number of step executions by kind, action, outcome and trigger path",
			},
			[]string{"kind", "action", "outcome", "via"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of step executions in seconds",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),
		collapsed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_collapsed_total",
				Help:      "Total number of delayed notifications merged into an already queued one",
			},
			[]string{"action"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of convergence runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of convergence runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of convergence errors by kind",
			},
			[]string{"kind"},
		),
		lastRunSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_success",
				Help:      "Whether the last convergence run succeeded (1) or failed (0)",
			},
		),
	}

	m.registry.MustRegister(
		m.stepsExecuted,
		m.stepDuration,
		m.collapsed,
		m.runsCompleted,
		m.runDuration,
		m.errorsByKind,
		m.lastRunSuccess,
	)

	return m, nil
}

// StepExecuted records one step execution.
func (m *Metrics) StepExecuted(kind engine.StepKind, action engine.Action, outcome engine.Outcome, via engine.Via, duration time.Duration) {
	if m.stepsExecuted == nil {
		return
	}
	m.stepsExecuted.WithLabelValues(string(kind), string(action), string(outcome), string(via)).Inc()
	m.stepDuration.WithLabelValues(string(kind)).Observe(duration.Seconds())
}

// NotificationCollapsed records a delayed notification merged into the queue.
func (m *Metrics) NotificationCollapsed(_ string, action engine.Action) {
	if m.collapsed == nil {
		return
	}
	m.collapsed.WithLabelValues(string(action)).Inc()
}

// RunCompleted records a finished run.
func (m *Metrics) RunCompleted(status engine.RunStatus, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(string(status)).Inc()
	m.runDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
	if status == engine.RunStatusSucceeded {
		m.lastRunSuccess.Set(1)
	} else {
		m.lastRunSuccess.Set(0)
	}
}

// ErrorRaised records an error by kind.
func (m *Metrics) ErrorRaised(kind engine.ErrorKind) {
	if m.errorsByKind == nil {
		return
	}
	m.errorsByKind.WithLabelValues(string(kind)).Inc()
}

// Registry returns the registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the current metrics to the configured textfile path.
// It does nothing when metrics are disabled or no path is configured.
func (m *Metrics) WriteTextfile() error {
	if m.registry == nil || m.config.TextfilePath == "" {
		return nil
	}
	return prometheus.WriteToTextfile(m.config.TextfilePath, m.registry)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves metrics until ctx is cancelled. It returns nil
// without serving when metrics are disabled or no listen address is set.
func (m *Metrics) StartMetricsServer(ctx context.Context, logger *Logger) error {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Metrics server stopped")
		}
	}()

	return nil
}
