// Package telemetry provides logging, tracing and metrics for convergence runs.
//
// Logging uses zerolog, tracing uses OpenTelemetry with stdout or OTLP/gRPC
// exporters, and metrics use a private Prometheus registry. Metrics
// implements engine.Observer, so a sequencer configured with
// Telemetry.SequencerOptions records step and run counters directly.
//
// Metrics are exposed over HTTP when a listen address is configured, or
// written after each run to a node exporter textfile:
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	provider := mysql.NewProvider(h, mysql.WithSequencerOptions(tel.SequencerOptions()...))
package telemetry
