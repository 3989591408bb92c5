package resources

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/openfroyo/mysql-service/pkg/engine"
	"github.com/openfroyo/mysql-service/pkg/host"
)

// Execute runs commands in order, stopping at the first non-zero exit.
// It is guarded: when OnlyIf is set the guard must exit 0, and when Creates
// is set the commands are skipped once every listed file exists.
type Execute struct {
	// Name labels the step.
	Name string

	// Commands run in order. An empty list makes the step a no-op.
	Commands []host.Command

	// OnlyIf is a guard command; non-zero exit skips the step.
	OnlyIf *host.Command

	// Creates lists files whose joint existence means the work is done.
	Creates []string

	host host.Host
}

// NewExecute creates an execute resource.
func NewExecute(h host.Host, name string, commands ...host.Command) *Execute {
	return &Execute{Name: name, Commands: commands, host: h}
}

// WithOnlyIf sets the guard command.
func (e *Execute) WithOnlyIf(cmd host.Command) *Execute {
	e.OnlyIf = &cmd
	return e
}

// WithCreates sets the marker files.
func (e *Execute) WithCreates(paths ...string) *Execute {
	e.Creates = append(e.Creates, paths...)
	return e
}

// ID returns "execute[<name>]".
func (e *Execute) ID() string {
	return fmt.Sprintf("execute[%s]", e.Name)
}

// Kind returns engine.KindCommand.
func (e *Execute) Kind() engine.StepKind {
	return engine.KindCommand
}

// NeedsApply evaluates marker files and the guard command. A guard that
// cannot be started is an error; a guard that exits non-zero is false.
func (e *Execute) NeedsApply(ctx context.Context, rc *engine.RunContext, action engine.Action) (bool, error) {
	if action != engine.ActionRun {
		return true, nil
	}
	if len(e.Commands) == 0 {
		return false, nil
	}

	if len(e.Creates) > 0 {
		done, err := e.markersExist(ctx)
		if err != nil {
			return false, err
		}
		if done {
			rc.Logger.Debug().Str("step", e.ID()).Strs("creates", e.Creates).Msg("Marker files exist")
			return false, nil
		}
	}

	if e.OnlyIf != nil {
		result, err := e.host.Run(ctx, *e.OnlyIf)
		if err != nil {
			// Earlier steps of a dry run may be what installs the guard binary.
			if rc.DryRun {
				rc.Logger.Info().Err(err).Str("step", e.ID()).Msg("Guard unavailable in dry run")
				return true, nil
			}
			return false, engine.NewGuardError("guard command could not be run", err).
				WithCommand(e.OnlyIf.Redacted(), -1)
		}
		if !result.Success() {
			rc.Logger.Debug().
				Str("step", e.ID()).
				Int("exit_code", result.ExitCode).
				Msg("Guard returned false")
			return false, nil
		}
	}

	return true, nil
}

func (e *Execute) markersExist(ctx context.Context) (bool, error) {
	for _, p := range e.Creates {
		_, err := e.host.Stat(ctx, p)
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		if err != nil {
			return false, engine.NewGuardError("failed to check marker file", err).WithDetail("path", p)
		}
	}
	return true, nil
}

// Apply supports run and nothing.
func (e *Execute) Apply(ctx context.Context, rc *engine.RunContext, action engine.Action) (engine.Outcome, error) {
	switch action {
	case engine.ActionNothing:
		return engine.OutcomeUnchanged, nil
	case engine.ActionRun:
	default:
		return engine.OutcomeFailed, unsupported(e, action)
	}

	if rc.DryRun {
		rc.Logger.Info().Str("step", e.ID()).Str("command", e.String()).Msg("Would run command")
		return engine.OutcomeChanged, nil
	}

	for _, cmd := range e.Commands {
		result, err := e.host.Run(ctx, cmd)
		if err != nil {
			return engine.OutcomeFailed, engine.NewCommandError("command could not be run", err).
				WithCommand(cmd.Redacted(), -1)
		}
		if !result.Success() {
			return engine.OutcomeFailed, engine.NewCommandError("command exited non-zero",
				&host.ExitError{Command: cmd.Redacted(), ExitCode: result.ExitCode, Stderr: strings.TrimSpace(result.Stderr)}).
				WithCommand(cmd.Redacted(), result.ExitCode)
		}
		rc.Logger.Debug().Str("command", cmd.Redacted()).Dur("duration", result.Duration).Msg("Command completed")
	}

	return engine.OutcomeChanged, nil
}

// String renders the redacted commands joined by "&&".
func (e *Execute) String() string {
	parts := make([]string, len(e.Commands))
	for i, cmd := range e.Commands {
		parts[i] = cmd.Redacted()
	}
	return strings.Join(parts, " && ")
}
