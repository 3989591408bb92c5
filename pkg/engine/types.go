package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// StepKind is the kind of desired-state enforcement a step performs.
type StepKind string

const (
	// KindPackage ensures an OS package is installed.
	KindPackage StepKind = "package"

	// KindDirectory ensures a directory exists with ownership and mode.
	KindDirectory StepKind = "directory"

	// KindTemplate renders a template to a file.
	KindTemplate StepKind = "template"

	// KindCommand runs a command, optionally guarded.
	KindCommand StepKind = "command"

	// KindService manages a unit through the service supervisor.
	KindService StepKind = "service"
)

// Action is an operation applied to a step.
type Action string

const (
	ActionNothing  Action = "nothing"
	ActionInstall  Action = "install"
	ActionCreate   Action = "create"
	ActionRun      Action = "run"
	ActionStart    Action = "start"
	ActionStop     Action = "stop"
	ActionEnable   Action = "enable"
	ActionRestart  Action = "restart"
	ActionReload   Action = "reload"
	ActionRegister Action = "register"
)

// Trigger controls whether a step runs during the primary pass.
type Trigger string

const (
	// TriggerAlways applies the step on every run; the step performs its own
	// state check before mutating.
	TriggerAlways Trigger = "always"

	// TriggerIfChanged applies the step only when its guard reports work to do.
	TriggerIfChanged Trigger = "if_changed"

	// TriggerOnNotify never runs in the primary pass. The step only runs when
	// reached through a notification edge in the same run.
	TriggerOnNotify Trigger = "on_notify"
)

// Timing is the delivery timing of a notification.
type Timing string

const (
	// TimingImmediate runs the target inline, before the sequence continues.
	TimingImmediate Timing = "immediate"

	// TimingDelayed queues the target until all primary steps complete.
	TimingDelayed Timing = "delayed"
)

// Outcome is the result of applying an action to a step.
type Outcome string

const (
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeChanged   Outcome = "changed"

	// OutcomeSkipped means a guard decided the action was not needed.
	OutcomeSkipped Outcome = "skipped"

	// OutcomeFailed is only recorded in reports, never returned by Apply.
	OutcomeFailed Outcome = "failed"
)

// Via records how a step execution was reached.
type Via string

const (
	ViaPrimary   Via = "primary"
	ViaImmediate Via = "immediate"
	ViaDelayed   Via = "delayed"
)

// Step is a single idempotent unit of desired-state enforcement.
type Step interface {
	// ID returns the unique identifier of the step within a run
	// (e.g. "template[/etc/mysql/my.app1.cnf]").
	ID() string

	// Kind returns the step kind.
	Kind() StepKind

	// Apply performs the action. Implementations check the current state
	// first and only mutate when it differs from the desired state.
	Apply(ctx context.Context, rc *RunContext, action Action) (Outcome, error)
}

// NotificationEdge relates a source step to a target step and the action
// to invoke on the target when the source reports a change.
type NotificationEdge struct {
	// Target is the ID of the step to notify.
	Target string `json:"target"`

	// Action is the action to apply to the target.
	Action Action `json:"action"`

	// Timing is immediate or delayed delivery.
	Timing Timing `json:"timing"`
}

// Declaration binds a step to its primary actions, trigger and notifications.
type Declaration struct {
	// Step is the step to apply.
	Step Step

	// Actions are applied in order during the primary pass.
	Actions []Action

	// Trigger controls participation in the primary pass.
	Trigger Trigger

	// Notifies lists the edges fired when the step reports a change.
	Notifies []NotificationEdge
}

// Notify appends a notification edge and returns the declaration.
func (d Declaration) Notify(target string, action Action, timing Timing) Declaration {
	d.Notifies = append(d.Notifies, NotificationEdge{Target: target, Action: action, Timing: timing})
	return d
}

// RunContext is passed to every step application within one run.
type RunContext struct {
	// RunID identifies the convergence run.
	RunID string

	// DryRun makes steps report what would change without mutating.
	DryRun bool

	// Logger is scoped to the run.
	Logger zerolog.Logger
}

// RunStatus is the final status of a run.
type RunStatus string

const (
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// StepRecord records one execution of a step action.
type StepRecord struct {
	// Sequence is the 1-based execution order within the run.
	Sequence int `json:"sequence"`

	// StepID is the executed step.
	StepID string `json:"step_id"`

	// Kind is the step kind.
	Kind StepKind `json:"kind"`

	// Action is the applied action.
	Action Action `json:"action"`

	// Outcome is the result.
	Outcome Outcome `json:"outcome"`

	// Via records whether this was a primary or notified execution.
	Via Via `json:"via"`

	// NotifiedBy is the source step when Via is not primary.
	NotifiedBy string `json:"notified_by,omitempty"`

	// Duration is the execution time.
	Duration time.Duration `json:"duration"`

	// Error is the error message when Outcome is failed.
	Error string `json:"error,omitempty"`
}

// RunReport summarizes one convergence run.
type RunReport struct {
	// RunID is the unique identifier for this run.
	RunID string `json:"run_id"`

	// Name labels the run (e.g. "app1:create").
	Name string `json:"name"`

	// DryRun is true when no mutations were performed.
	DryRun bool `json:"dry_run"`

	// Status is the final status.
	Status RunStatus `json:"status"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run completed.
	CompletedAt time.Time `json:"completed_at"`

	// Records are the executed step actions in execution order.
	Records []StepRecord `json:"records"`

	// Collapsed counts delayed notifications dropped as duplicates.
	Collapsed int `json:"collapsed"`
}

// Duration returns the total run duration.
func (r *RunReport) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// Changed returns the number of records that reported a change.
func (r *RunReport) Changed() int {
	n := 0
	for _, rec := range r.Records {
		if rec.Outcome == OutcomeChanged {
			n++
		}
	}
	return n
}

// Executions returns the records for the given step ID.
func (r *RunReport) Executions(stepID string) []StepRecord {
	var out []StepRecord
	for _, rec := range r.Records {
		if rec.StepID == stepID {
			out = append(out, rec)
		}
	}
	return out
}
