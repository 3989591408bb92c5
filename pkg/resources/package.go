// Package resources implements the step kinds applied by the sequencer.
// Every resource checks the current state on the host before mutating it,
// so applying the same resource twice leaves the second application unchanged.
package resources

import (
	"context"
	"fmt"

	"github.com/openfroyo/mysql-service/pkg/engine"
	"github.com/openfroyo/mysql-service/pkg/host"
)

// Package ensures an operating system package is installed.
type Package struct {
	// Name is the package name.
	Name string

	manager host.PackageManager
}

// NewPackage creates a package resource.
func NewPackage(name string, manager host.PackageManager) *Package {
	return &Package{Name: name, manager: manager}
}

// ID returns "package[<name>]".
func (p *Package) ID() string {
	return fmt.Sprintf("package[%s]", p.Name)
}

// Kind returns engine.KindPackage.
func (p *Package) Kind() engine.StepKind {
	return engine.KindPackage
}

// Apply supports install and nothing.
func (p *Package) Apply(ctx context.Context, rc *engine.RunContext, action engine.Action) (engine.Outcome, error) {
	switch action {
	case engine.ActionNothing:
		return engine.OutcomeUnchanged, nil
	case engine.ActionInstall:
	default:
		return engine.OutcomeFailed, unsupported(p, action)
	}

	installed, version, err := p.manager.Installed(ctx, p.Name)
	if err != nil {
		return engine.OutcomeFailed, engine.NewPackageError("failed to query package state", err).
			WithDetail("package", p.Name)
	}
	if installed {
		rc.Logger.Debug().Str("package", p.Name).Str("version", version).Msg("Package already installed")
		return engine.OutcomeUnchanged, nil
	}

	if rc.DryRun {
		rc.Logger.Info().Str("package", p.Name).Msg("Would install package")
		return engine.OutcomeChanged, nil
	}

	if err := p.manager.Install(ctx, p.Name); err != nil {
		return engine.OutcomeFailed, engine.NewPackageError("package install failed", err).
			WithDetail("package", p.Name)
	}

	rc.Logger.Info().Str("package", p.Name).Msg("Package installed")
	return engine.OutcomeChanged, nil
}

func unsupported(step engine.Step, action engine.Action) *engine.ConvergenceError {
	return engine.NewError(engine.ErrorKindInvalidPlan,
		fmt.Sprintf("action %s is not supported by %s resources", action, step.Kind()), nil)
}
