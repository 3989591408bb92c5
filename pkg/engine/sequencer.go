package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Guarded is implemented by steps whose execution depends on a precondition
// (a guard command or marker files). The sequencer evaluates the guard
// before every execution of the step, including notified executions.
type Guarded interface {
	// NeedsApply reports whether the action should run. An error means the
	// guard itself failed, not that it returned false.
	NeedsApply(ctx context.Context, rc *RunContext, action Action) (bool, error)
}

// Observer receives run and step events, typically for metrics.
type Observer interface {
	StepExecuted(kind StepKind, action Action, outcome Outcome, via Via, duration time.Duration)
	NotificationCollapsed(target string, action Action)
	RunCompleted(status RunStatus, duration time.Duration)
	ErrorRaised(kind ErrorKind)
}

// Sequencer applies declarations strictly in order and dispatches
// notifications between them. A Sequencer holds no per-run state and may be
// reused across runs, but runs must not overlap on the same target host.
type Sequencer struct {
	logger   zerolog.Logger
	tracer   trace.Tracer
	observer Observer
	dryRun   bool
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Sequencer) {
		s.logger = logger
	}
}

// WithTracer sets the tracer used for run and step spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Sequencer) {
		s.tracer = tracer
	}
}

// WithObserver sets the observer notified of step and run events.
func WithObserver(observer Observer) Option {
	return func(s *Sequencer) {
		s.observer = observer
	}
}

// WithDryRun makes runs report changes without performing them.
func WithDryRun(dryRun bool) Option {
	return func(s *Sequencer) {
		s.dryRun = dryRun
	}
}

// NewSequencer creates a new sequencer.
func NewSequencer(opts ...Option) *Sequencer {
	s := &Sequencer{
		logger: zerolog.Nop(),
		tracer: noop.NewTracerProvider().Tracer("engine"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// notificationKey identifies a delayed notification for de-duplication.
// Delayed notifications collapse per (target, action), as in Chef, so a
// restart and a reload queued for one job both run.
type notificationKey struct {
	target string
	action Action
}

type pendingNotification struct {
	notificationKey
	source string
}

// run holds the state of a single convergence run.
type run struct {
	seq    *Sequencer
	rc     *RunContext
	decls  map[string]*Declaration
	report *RunReport

	queue  []pendingNotification
	queued map[notificationKey]bool
}

// Run executes the declarations and returns the run report. On failure the
// report is still returned, ending with the failed record, together with a
// *ConvergenceError naming the failed step. Side effects already applied
// are not rolled back.
func (s *Sequencer) Run(ctx context.Context, name string, decls []Declaration) (*RunReport, error) {
	report := &RunReport{
		RunID:     uuid.New().String(),
		Name:      name,
		DryRun:    s.dryRun,
		StartedAt: time.Now(),
		Records:   make([]StepRecord, 0, len(decls)),
	}

	logger := s.logger.With().Str("run_id", report.RunID).Str("run", name).Logger()

	ctx, span := s.tracer.Start(ctx, "convergence.run", trace.WithAttributes(
		attribute.String("run.id", report.RunID),
		attribute.String("run.name", name),
		attribute.Bool("run.dry_run", s.dryRun),
	))
	defer span.End()

	if _, err := NewGraphBuilder().Build(decls); err != nil {
		return s.finish(span, logger, report, err)
	}
	if err := validateTriggers(decls); err != nil {
		return s.finish(span, logger, report, err)
	}

	r := &run{
		seq: s,
		rc: &RunContext{
			RunID:  report.RunID,
			DryRun: s.dryRun,
			Logger: logger,
		},
		decls:  make(map[string]*Declaration, len(decls)),
		report: report,
		queued: make(map[notificationKey]bool),
	}
	for i := range decls {
		r.decls[decls[i].Step.ID()] = &decls[i]
	}

	logger.Info().Int("steps", len(decls)).Bool("dry_run", s.dryRun).Msg("Convergence run started")

	return s.finish(span, logger, report, r.execute(ctx, decls))
}

func (s *Sequencer) finish(span trace.Span, logger zerolog.Logger, report *RunReport, err error) (*RunReport, error) {
	report.CompletedAt = time.Now()

	if err != nil {
		report.Status = RunStatusFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if s.observer != nil {
			s.observer.ErrorRaised(KindOf(err))
		}
		logger.Error().Err(err).Dur("duration", report.Duration()).Msg("Convergence run failed")
	} else {
		report.Status = RunStatusSucceeded
		span.SetStatus(codes.Ok, "")
		logger.Info().
			Int("executed", len(report.Records)).
			Int("changed", report.Changed()).
			Int("collapsed", report.Collapsed).
			Dur("duration", report.Duration()).
			Msg("Convergence run completed")
	}

	if s.observer != nil {
		s.observer.RunCompleted(report.Status, report.Duration())
	}
	return report, err
}

// validateTriggers checks trigger values and that guarded triggers have a guard.
func validateTriggers(decls []Declaration) error {
	for i := range decls {
		d := &decls[i]
		switch d.Trigger {
		case TriggerAlways, TriggerOnNotify:
		case TriggerIfChanged:
			if _, ok := d.Step.(Guarded); !ok {
				return NewError(ErrorKindInvalidPlan,
					fmt.Sprintf("step %s uses trigger %s but has no guard", d.Step.ID(), d.Trigger), nil).
					WithStep(d.Step.ID())
			}
		default:
			return NewError(ErrorKindInvalidPlan,
				fmt.Sprintf("step %s has unknown trigger %q", d.Step.ID(), d.Trigger), nil).
				WithStep(d.Step.ID())
		}
	}
	return nil
}

// execute runs the primary pass followed by the delayed queue.
func (r *run) execute(ctx context.Context, decls []Declaration) error {
	for i := range decls {
		d := &decls[i]
		if d.Trigger == TriggerOnNotify {
			r.rc.Logger.Debug().Str("step", d.Step.ID()).Msg("Step waits for notification")
			continue
		}
		for _, action := range d.Actions {
			if err := r.apply(ctx, d, action, ViaPrimary, ""); err != nil {
				return err
			}
		}
	}

	// Delayed targets may queue further delayed notifications; the queue
	// drains FIFO and the queued set keeps each (target, action) to one run.
	for len(r.queue) > 0 {
		next := r.queue[0]
		r.queue = r.queue[1:]
		if err := r.apply(ctx, r.decls[next.target], next.action, ViaDelayed, next.source); err != nil {
			return err
		}
	}

	return nil
}

// apply executes one action on one step and dispatches its notifications.
func (r *run) apply(ctx context.Context, d *Declaration, action Action, via Via, source string) error {
	step := d.Step
	logger := r.rc.Logger.With().Str("step", step.ID()).Str("action", string(action)).Logger()

	ctx, span := r.seq.tracer.Start(ctx, "convergence.step", trace.WithAttributes(
		attribute.String("step.id", step.ID()),
		attribute.String("step.kind", string(step.Kind())),
		attribute.String("step.action", string(action)),
		attribute.String("step.via", string(via)),
	))
	defer span.End()

	start := time.Now()
	outcome, err := r.applyGuarded(ctx, step, action)
	duration := time.Since(start)

	record := StepRecord{
		Sequence:   len(r.report.Records) + 1,
		StepID:     step.ID(),
		Kind:       step.Kind(),
		Action:     action,
		Outcome:    outcome,
		Via:        via,
		NotifiedBy: source,
		Duration:   duration,
	}

	if err != nil {
		cerr := classify(step, action, err)
		record.Outcome = OutcomeFailed
		record.Error = cerr.Error()
		r.report.Records = append(r.report.Records, record)
		r.observe(step.Kind(), action, OutcomeFailed, via, duration)
		span.RecordError(cerr)
		span.SetStatus(codes.Error, cerr.Error())
		return cerr
	}

	r.report.Records = append(r.report.Records, record)
	r.observe(step.Kind(), action, outcome, via, duration)
	span.SetAttributes(attribute.String("step.outcome", string(outcome)))

	logger.Info().
		Str("outcome", string(outcome)).
		Str("via", string(via)).
		Dur("duration", duration).
		Msg("Step applied")

	if outcome != OutcomeChanged {
		return nil
	}
	return r.dispatch(ctx, d)
}

func (r *run) applyGuarded(ctx context.Context, step Step, action Action) (Outcome, error) {
	if g, ok := step.(Guarded); ok {
		needed, err := g.NeedsApply(ctx, r.rc, action)
		if err != nil {
			var cerr *ConvergenceError
			if !errors.As(err, &cerr) {
				err = NewGuardError("guard evaluation failed", err)
			}
			return OutcomeFailed, err
		}
		if !needed {
			return OutcomeSkipped, nil
		}
	}
	return step.Apply(ctx, r.rc, action)
}

// dispatch fires the notification edges of a changed step.
func (r *run) dispatch(ctx context.Context, d *Declaration) error {
	source := d.Step.ID()
	for _, edge := range d.Notifies {
		target := r.decls[edge.Target]
		switch edge.Timing {
		case TimingImmediate:
			r.rc.Logger.Debug().
				Str("source", source).
				Str("target", edge.Target).
				Str("action", string(edge.Action)).
				Msg("Immediate notification")
			if err := r.apply(ctx, target, edge.Action, ViaImmediate, source); err != nil {
				return err
			}
		case TimingDelayed:
			key := notificationKey{target: edge.Target, action: edge.Action}
			if r.queued[key] {
				r.report.Collapsed++
				if r.seq.observer != nil {
					r.seq.observer.NotificationCollapsed(edge.Target, edge.Action)
				}
				continue
			}
			r.queued[key] = true
			r.queue = append(r.queue, pendingNotification{notificationKey: key, source: source})
		}
	}
	return nil
}

func (r *run) observe(kind StepKind, action Action, outcome Outcome, via Via, duration time.Duration) {
	if r.seq.observer != nil {
		r.seq.observer.StepExecuted(kind, action, outcome, via, duration)
	}
}

// classify ensures a step error is a *ConvergenceError carrying the step and action.
func classify(step Step, action Action, err error) *ConvergenceError {
	var cerr *ConvergenceError
	if !errors.As(err, &cerr) {
		cerr = NewError(kindForStep(step.Kind()), "step failed", err)
	}
	if cerr.Step == "" {
		cerr.Step = step.ID()
	}
	if cerr.Action == "" {
		cerr.Action = action
	}
	return cerr
}
