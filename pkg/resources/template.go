package resources

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"text/template"

	"github.com/openfroyo/mysql-service/pkg/engine"
	"github.com/openfroyo/mysql-service/pkg/host"
)

// TemplateSource locates template text.
type TemplateSource struct {
	// FS holds the template files.
	FS fs.FS

	// Name is the path of the template within FS.
	Name string
}

// Load reads the template text.
func (s TemplateSource) Load() (string, error) {
	if s.FS == nil {
		return "", fmt.Errorf("template source %s has no filesystem", s.Name)
	}
	data, err := fs.ReadFile(s.FS, s.Name)
	if err != nil {
		return "", fmt.Errorf("failed to read template source %s: %w", s.Name, err)
	}
	return string(data), nil
}

// Template renders a text/template to a file. The file is only written when
// the rendered content differs from what is on the host.
type Template struct {
	// Path is the destination file.
	Path string

	// Source is the template to render.
	Source TemplateSource

	// Data is passed to the template.
	Data any

	// Attributes are converged on every run.
	Attributes Attributes

	host host.Host
}

// NewTemplate creates a template resource.
func NewTemplate(h host.Host, path string, source TemplateSource, data any, attrs Attributes) *Template {
	return &Template{Path: path, Source: source, Data: data, Attributes: attrs, host: h}
}

// ID returns "template[<path>]".
func (t *Template) ID() string {
	return fmt.Sprintf("template[%s]", t.Path)
}

// Kind returns engine.KindTemplate.
func (t *Template) Kind() engine.StepKind {
	return engine.KindTemplate
}

// Render renders the template without touching the host.
func (t *Template) Render() ([]byte, error) {
	text, err := t.Source.Load()
	if err != nil {
		return nil, engine.NewTemplateError("template source not found", err).
			WithDetail("source", t.Source.Name)
	}

	tmpl, err := template.New(t.Source.Name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, engine.NewTemplateError("failed to parse template", err).
			WithDetail("source", t.Source.Name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, t.Data); err != nil {
		return nil, engine.NewTemplateError("failed to render template", err).
			WithDetail("source", t.Source.Name)
	}
	return buf.Bytes(), nil
}

// Apply supports create and nothing.
func (t *Template) Apply(ctx context.Context, rc *engine.RunContext, action engine.Action) (engine.Outcome, error) {
	switch action {
	case engine.ActionNothing:
		return engine.OutcomeUnchanged, nil
	case engine.ActionCreate:
	default:
		return engine.OutcomeFailed, unsupported(t, action)
	}

	content, err := t.Render()
	if err != nil {
		return engine.OutcomeFailed, err
	}

	info, err := t.host.Stat(ctx, t.Path)
	exists := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return engine.OutcomeFailed, t.fail("failed to stat file", err)
	}

	contentChanged := true
	if exists {
		current, err := t.host.ReadFile(ctx, t.Path)
		if err != nil {
			return engine.OutcomeFailed, t.fail("failed to read file", err)
		}
		contentChanged = !bytes.Equal(current, content)
	}
	attrsChanged := exists && t.Attributes.drift(info)

	if !contentChanged && !attrsChanged {
		return engine.OutcomeUnchanged, nil
	}

	if rc.DryRun {
		rc.Logger.Info().
			Str("path", t.Path).
			Bool("content", contentChanged).
			Bool("attributes", attrsChanged).
			Msg("Would update file")
		return engine.OutcomeChanged, nil
	}

	if contentChanged {
		if err := t.host.WriteFile(ctx, t.Path, content, t.Attributes.mode(0o644)); err != nil {
			return engine.OutcomeFailed, t.fail("failed to write file", err)
		}
	}
	if err := t.Attributes.converge(ctx, t.host, t.Path); err != nil {
		return engine.OutcomeFailed, t.fail("failed to set file attributes", err)
	}

	rc.Logger.Info().
		Str("path", t.Path).
		Str("source", t.Source.Name).
		Bool("content", contentChanged).
		Msg("File updated")
	return engine.OutcomeChanged, nil
}

func (t *Template) fail(message string, err error) *engine.ConvergenceError {
	return engine.NewTemplateError(message, err).WithDetail("path", t.Path)
}
