package stores

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/openfroyo/mysql-service/pkg/engine"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// Run is a journaled convergence run.
type Run struct {
	ID          string           `json:"id"`
	ServiceName string           `json:"service_name"`
	Action      string           `json:"action"`
	Host        string           `json:"host"`
	Status      engine.RunStatus `json:"status"`
	DryRun      bool             `json:"dry_run"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt time.Time        `json:"completed_at"`
	Changed     int              `json:"changed"`
	Collapsed   int              `json:"collapsed"`

	// ErrorKind, ErrorStep and ErrorMessage are set for failed runs.
	ErrorKind    engine.ErrorKind `json:"error_kind,omitempty"`
	ErrorStep    string           `json:"error_step,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`

	// Descriptor is the requested descriptor with credentials masked.
	Descriptor json.RawMessage `json:"descriptor"`

	// Steps is only populated by GetRun.
	Steps []engine.StepRecord `json:"steps,omitempty"`
}

// Duration returns the run duration.
func (r *Run) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// RunMeta identifies what a run converged.
type RunMeta struct {
	ServiceName string
	Action      string
	Host        string

	// Descriptor is stored as JSON; callers mask credentials first.
	Descriptor interface{}
}

// ListOptions filters ListRuns.
type ListOptions struct {
	// ServiceName restricts the result to one instance when set.
	ServiceName string

	// Limit caps the number of runs, newest first. Zero means 20.
	Limit int
}
