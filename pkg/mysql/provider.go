package mysql

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/rs/zerolog"

	"github.com/openfroyo/mysql-service/pkg/engine"
	"github.com/openfroyo/mysql-service/pkg/host"
)

// Action selects what Converge does.
type Action string

const (
	// ActionCreate installs and configures the instance.
	ActionCreate Action = "create"

	// ActionRestart restarts the instance.
	ActionRestart Action = "restart"

	// ActionReload reloads the instance.
	ActionReload Action = "reload"
)

// ParseAction parses an action name.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionCreate, ActionRestart, ActionReload:
		return Action(s), nil
	case "":
		return ActionCreate, nil
	default:
		return "", fmt.Errorf("unknown action %q (expected create, restart or reload)", s)
	}
}

// Provider converges MySQL service instances on a host.
type Provider struct {
	host      host.Host
	packages  host.PackageManager
	services  host.ServiceManager
	templates fs.FS
	logger    zerolog.Logger
	seqOpts   []engine.Option
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithPackageManager replaces the apt package manager.
func WithPackageManager(pm host.PackageManager) ProviderOption {
	return func(p *Provider) {
		p.packages = pm
	}
}

// WithServiceManager replaces the upstart supervisor.
func WithServiceManager(sm host.ServiceManager) ProviderOption {
	return func(p *Provider) {
		p.services = sm
	}
}

// WithTemplates replaces the bundled templates.
func WithTemplates(fsys fs.FS) ProviderOption {
	return func(p *Provider) {
		p.templates = fsys
	}
}

// WithProviderLogger sets the provider logger; it is also passed to the sequencer.
func WithProviderLogger(logger zerolog.Logger) ProviderOption {
	return func(p *Provider) {
		p.logger = logger
	}
}

// WithSequencerOptions passes options to the sequencer of every run.
func WithSequencerOptions(opts ...engine.Option) ProviderOption {
	return func(p *Provider) {
		p.seqOpts = append(p.seqOpts, opts...)
	}
}

// NewProvider creates a provider for the host. It defaults to apt and upstart.
func NewProvider(h host.Host, opts ...ProviderOption) *Provider {
	p := &Provider{
		host:      h,
		packages:  host.NewApt(h),
		services:  host.NewUpstart(h),
		templates: Templates,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan applies descriptor defaults, validates the descriptor and returns the
// declarations for the action without running them.
func (p *Provider) Plan(d ResourceDescriptor, action Action) ([]engine.Declaration, error) {
	d = d.WithDefaults()
	if err := d.Validate(); err != nil {
		return nil, err
	}

	switch action {
	case ActionCreate:
		return p.createPlan(d), nil
	case ActionRestart:
		return p.restartPlan(d), nil
	case ActionReload:
		return p.reloadPlan(d), nil
	default:
		return nil, engine.NewError(engine.ErrorKindInvalidPlan, fmt.Sprintf("unknown action %q", action), nil)
	}
}

// Converge runs the action for the descriptor. The report is nil only when
// the descriptor or action is invalid; otherwise it is returned even on
// failure and ends with the failed step.
func (p *Provider) Converge(ctx context.Context, d ResourceDescriptor, action Action) (*engine.RunReport, error) {
	decls, err := p.Plan(d, action)
	if err != nil {
		p.logger.Error().Err(err).Str("service_name", d.ServiceName).Msg("Invalid convergence request")
		return nil, err
	}

	logger := p.logger.With().
		Str("service_name", d.ServiceName).
		Str("action", string(action)).
		Str("host", p.host.Name()).
		Logger()

	// The instance-scoped logger replaces any logger in the sequencer options.
	opts := append(append([]engine.Option{}, p.seqOpts...), engine.WithLogger(logger))
	seq := engine.NewSequencer(opts...)

	return seq.Run(ctx, d.ServiceName+":"+string(action), decls)
}
