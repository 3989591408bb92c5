package resources

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/openfroyo/mysql-service/pkg/engine"
	"github.com/openfroyo/mysql-service/pkg/host"
)

// Directory ensures a directory exists with the desired ownership and mode.
type Directory struct {
	// Path is the absolute directory path.
	Path string

	// Attributes are converged after creation and on every run.
	Attributes Attributes

	host host.Host
}

// NewDirectory creates a directory resource.
func NewDirectory(h host.Host, path string, attrs Attributes) *Directory {
	return &Directory{Path: path, Attributes: attrs, host: h}
}

// ID returns "directory[<path>]".
func (d *Directory) ID() string {
	return fmt.Sprintf("directory[%s]", d.Path)
}

// Kind returns engine.KindDirectory.
func (d *Directory) Kind() engine.StepKind {
	return engine.KindDirectory
}

// Apply supports create and nothing.
func (d *Directory) Apply(ctx context.Context, rc *engine.RunContext, action engine.Action) (engine.Outcome, error) {
	switch action {
	case engine.ActionNothing:
		return engine.OutcomeUnchanged, nil
	case engine.ActionCreate:
	default:
		return engine.OutcomeFailed, unsupported(d, action)
	}

	info, err := d.host.Stat(ctx, d.Path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if rc.DryRun {
			rc.Logger.Info().Str("path", d.Path).Msg("Would create directory")
			return engine.OutcomeChanged, nil
		}
		if err := d.host.MkdirAll(ctx, d.Path, d.Attributes.mode(0o755)); err != nil {
			return engine.OutcomeFailed, d.fail("failed to create directory", err)
		}
		if err := d.Attributes.converge(ctx, d.host, d.Path); err != nil {
			return engine.OutcomeFailed, d.fail("failed to set directory attributes", err)
		}
		rc.Logger.Info().Str("path", d.Path).Msg("Directory created")
		return engine.OutcomeChanged, nil

	case err != nil:
		return engine.OutcomeFailed, d.fail("failed to stat directory", err)

	case !info.IsDir:
		return engine.OutcomeFailed, d.fail("path exists and is not a directory", nil)
	}

	if !d.Attributes.drift(info) {
		return engine.OutcomeUnchanged, nil
	}

	if rc.DryRun {
		rc.Logger.Info().Str("path", d.Path).Msg("Would update directory attributes")
		return engine.OutcomeChanged, nil
	}
	if err := d.Attributes.converge(ctx, d.host, d.Path); err != nil {
		return engine.OutcomeFailed, d.fail("failed to set directory attributes", err)
	}

	rc.Logger.Info().Str("path", d.Path).Msg("Directory attributes updated")
	return engine.OutcomeChanged, nil
}

func (d *Directory) fail(message string, err error) *engine.ConvergenceError {
	return engine.NewError(engine.ErrorKindDirectory, message, err).WithDetail("path", d.Path)
}
