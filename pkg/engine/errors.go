// Package engine provides the step model and the convergence sequencer.
// A run applies declared steps in order and dispatches notifications between them.
package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a convergence failure by the collaborator that failed.
type ErrorKind string

const (
	// ErrorKindPackageInstall indicates the package manager could not install a package.
	ErrorKindPackageInstall ErrorKind = "package_install_failure"

	// ErrorKindTemplateRender indicates a template source was missing, failed to
	// render, or the rendered file could not be written.
	ErrorKindTemplateRender ErrorKind = "template_render_failure"

	// ErrorKindCommandExecution indicates a command exited non-zero or could not start.
	ErrorKindCommandExecution ErrorKind = "command_execution_failure"

	// ErrorKindServiceManagement indicates the service supervisor rejected an action
	// or does not know the unit.
	ErrorKindServiceManagement ErrorKind = "service_management_failure"

	// ErrorKindPreconditionGuard indicates a guard command itself errored
	// rather than returning false.
	ErrorKindPreconditionGuard ErrorKind = "precondition_guard_failure"

	// ErrorKindDirectory indicates a directory could not be created or its
	// ownership and mode could not be converged.
	ErrorKindDirectory ErrorKind = "directory_failure"

	// ErrorKindInvalidPlan indicates the declared steps are inconsistent
	// (duplicate IDs, dangling or cyclic notifications).
	ErrorKindInvalidPlan ErrorKind = "invalid_plan"

	// ErrorKindInvalidDescriptor indicates the desired-state input failed validation.
	ErrorKindInvalidDescriptor ErrorKind = "invalid_descriptor"
)

// ConvergenceError identifies the failed step and the underlying cause.
// nolint:revive // ConvergenceError reads better than Error at call sites
type ConvergenceError struct {
	// Kind is the failure classification.
	Kind ErrorKind `json:"kind"`

	// Step is the ID of the step that failed, if any.
	Step string `json:"step,omitempty"`

	// Action is the action being applied to the step when it failed.
	Action Action `json:"action,omitempty"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Command is the redacted command line, for command failures.
	Command string `json:"command,omitempty"`

	// ExitCode is the exit status of the failed command, -1 if it never ran.
	ExitCode int `json:"exit_code,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *ConvergenceError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.Step != "" && e.Action != "" {
		msg = fmt.Sprintf("[%s] %s (step=%s, action=%s)", e.Kind, e.Message, e.Step, e.Action)
	} else if e.Step != "" {
		msg = fmt.Sprintf("[%s] %s (step=%s)", e.Kind, e.Message, e.Step)
	}
	if e.Command != "" {
		msg += fmt.Sprintf(" command=%q exit=%d", e.Command, e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *ConvergenceError) Unwrap() error {
	return e.Err
}

// Is matches another *ConvergenceError of the same kind.
func (e *ConvergenceError) Is(target error) bool {
	t, ok := target.(*ConvergenceError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewError creates a convergence error of the given kind.
func NewError(kind ErrorKind, message string, err error) *ConvergenceError {
	return &ConvergenceError{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// NewPackageError creates a package install failure.
func NewPackageError(message string, err error) *ConvergenceError {
	return NewError(ErrorKindPackageInstall, message, err)
}

// NewTemplateError creates a template render failure.
func NewTemplateError(message string, err error) *ConvergenceError {
	return NewError(ErrorKindTemplateRender, message, err)
}

// NewCommandError creates a command execution failure.
func NewCommandError(message string, err error) *ConvergenceError {
	return NewError(ErrorKindCommandExecution, message, err)
}

// NewServiceError creates a service management failure.
func NewServiceError(message string, err error) *ConvergenceError {
	return NewError(ErrorKindServiceManagement, message, err)
}

// NewGuardError creates a precondition guard failure.
func NewGuardError(message string, err error) *ConvergenceError {
	return NewError(ErrorKindPreconditionGuard, message, err)
}

// WithStep adds step context to an error.
func (e *ConvergenceError) WithStep(stepID string) *ConvergenceError {
	e.Step = stepID
	return e
}

// WithAction adds action context to an error.
func (e *ConvergenceError) WithAction(action Action) *ConvergenceError {
	e.Action = action
	return e
}

// WithCommand records the command line and exit status that failed.
func (e *ConvergenceError) WithCommand(command string, exitCode int) *ConvergenceError {
	e.Command = command
	e.ExitCode = exitCode
	return e
}

// WithDetail adds a detail field to the error context.
func (e *ConvergenceError) WithDetail(key string, value interface{}) *ConvergenceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// KindOf returns the kind of a convergence error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *ConvergenceError
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries a convergence error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// kindForStep maps a step kind to the error kind used when a step fails
// with an error that is not already classified.
func kindForStep(kind StepKind) ErrorKind {
	switch kind {
	case KindPackage:
		return ErrorKindPackageInstall
	case KindDirectory:
		return ErrorKindDirectory
	case KindTemplate:
		return ErrorKindTemplateRender
	case KindService:
		return ErrorKindServiceManagement
	default:
		return ErrorKindCommandExecution
	}
}
