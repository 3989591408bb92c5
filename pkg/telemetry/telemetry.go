package telemetry

import (
	"context"
	"errors"

	"github.com/openfroyo/mysql-service/pkg/engine"
)

// Telemetry bundles the logger, tracer and metrics of one agent process.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config
}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}, nil
}

// SequencerOptions wires the logger, tracer and metrics into a sequencer.
func (t *Telemetry) SequencerOptions() []engine.Option {
	return []engine.Option{
		engine.WithLogger(t.Logger.NewComponentLogger("sequencer").Zerolog()),
		engine.WithTracer(t.Tracer.Tracer()),
		engine.WithObserver(t.Metrics),
	}
}

// WithContext adds the logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	return t.Logger.WithContext(ctx)
}

// Flush writes the metrics textfile, if configured.
func (t *Telemetry) Flush() error {
	return t.Metrics.WriteTextfile()
}

// Shutdown flushes metrics and spans and closes the log output.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.Flush(),
		t.Tracer.Shutdown(ctx),
		t.Logger.Close(),
	)
}
