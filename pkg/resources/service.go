package resources

import (
	"context"
	"fmt"

	"github.com/openfroyo/mysql-service/pkg/engine"
	"github.com/openfroyo/mysql-service/pkg/host"
)

// Supports declares which lifecycle operations a unit implements natively.
type Supports struct {
	Restart bool
	Reload  bool
}

// Service manages a unit through the service supervisor.
type Service struct {
	// Name identifies the step. It defaults to Unit and differs when several
	// steps manage the same unit.
	Name string

	// Unit is the supervisor unit name.
	Unit string

	// Supports declares native restart and reload.
	Supports Supports

	manager host.ServiceManager
}

// NewService creates a service resource.
func NewService(unit string, manager host.ServiceManager, supports Supports) *Service {
	return &Service{Name: unit, Unit: unit, Supports: supports, manager: manager}
}

// WithName sets the step name.
func (s *Service) WithName(name string) *Service {
	s.Name = name
	return s
}

// ID returns "service[<name>]".
func (s *Service) ID() string {
	return fmt.Sprintf("service[%s]", s.Name)
}

// Kind returns engine.KindService.
func (s *Service) Kind() engine.StepKind {
	return engine.KindService
}

// Apply supports start, stop, enable, restart, reload, register and nothing.
// Register only verifies the supervisor knows the unit and never starts it.
func (s *Service) Apply(ctx context.Context, rc *engine.RunContext, action engine.Action) (engine.Outcome, error) {
	if action == engine.ActionNothing {
		return engine.OutcomeUnchanged, nil
	}

	status, err := s.manager.Status(ctx, s.Unit)
	if err != nil {
		return engine.OutcomeFailed, s.fail("failed to query unit status", err)
	}

	if !status.Known {
		// In a dry run the unit definition may be one of the pending changes.
		if rc.DryRun {
			rc.Logger.Info().Str("unit", s.Unit).Str("action", string(action)).Msg("Would manage unregistered unit")
			return engine.OutcomeChanged, nil
		}
		return engine.OutcomeFailed, s.fail("unit not found", nil)
	}

	logger := rc.Logger.With().Str("unit", s.Unit).Str("supervisor", s.manager.Name()).Logger()

	var op func(context.Context, string) error
	switch action {
	case engine.ActionRegister:
		return engine.OutcomeUnchanged, nil
	case engine.ActionStart:
		if status.Running {
			return engine.OutcomeUnchanged, nil
		}
		op = s.manager.Start
	case engine.ActionStop:
		if !status.Running {
			return engine.OutcomeUnchanged, nil
		}
		op = s.manager.Stop
	case engine.ActionEnable:
		if status.Enabled {
			return engine.OutcomeUnchanged, nil
		}
		op = s.manager.Enable
	case engine.ActionRestart:
		op = s.restart(status)
	case engine.ActionReload:
		if !s.Supports.Reload {
			return engine.OutcomeFailed, s.fail("unit does not support reload", nil)
		}
		op = s.manager.Reload
	default:
		return engine.OutcomeFailed, unsupported(s, action)
	}

	if rc.DryRun {
		logger.Info().Str("action", string(action)).Msg("Would manage unit")
		return engine.OutcomeChanged, nil
	}

	if err := op(ctx, s.Unit); err != nil {
		return engine.OutcomeFailed, s.fail(fmt.Sprintf("supervisor rejected %s", action), err)
	}

	logger.Info().Str("action", string(action)).Msg("Unit managed")
	return engine.OutcomeChanged, nil
}

// restart uses the native restart when supported, otherwise stop then start.
func (s *Service) restart(status *host.ServiceStatus) func(context.Context, string) error {
	if s.Supports.Restart {
		return s.manager.Restart
	}
	return func(ctx context.Context, unit string) error {
		if status.Running {
			if err := s.manager.Stop(ctx, unit); err != nil {
				return err
			}
		}
		return s.manager.Start(ctx, unit)
	}
}

func (s *Service) fail(message string, err error) *engine.ConvergenceError {
	return engine.NewServiceError(message, err).WithDetail("unit", s.Unit)
}
