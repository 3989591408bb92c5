package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfroyo/mysql-service/pkg/config"
	"github.com/openfroyo/mysql-service/pkg/engine"
	"github.com/openfroyo/mysql-service/pkg/host"
	"github.com/openfroyo/mysql-service/pkg/mysql"
	"github.com/openfroyo/mysql-service/pkg/policy"
	"github.com/openfroyo/mysql-service/pkg/stores"
	"github.com/openfroyo/mysql-service/pkg/telemetry"
	sshtransport "github.com/openfroyo/mysql-service/pkg/transports/ssh"
)

const sudoSFTPServer = "sudo -n /usr/lib/openssh/sftp-server"

// dialHost connects to the target. An empty target host is the local machine.
var dialHost = func(ctx context.Context, target config.TargetConfig) (host.Host, func() error, error) {
	if target.Host == "" {
		return host.NewLocalHost(), func() error { return nil }, nil
	}

	rh, err := sshtransport.Dial(ctx, sshConfig(target))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", target.Host, err)
	}
	return rh, rh.Close, nil
}

// sshConfig maps the agent target onto the SSH transport configuration.
// Without a key path the SSH agent is used when one is running.
func sshConfig(target config.TargetConfig) *sshtransport.Config {
	cfg := sshtransport.DefaultConfig(target.Host, target.User)
	if target.Port != 0 {
		cfg.Port = target.Port
	}
	switch {
	case target.PrivateKeyPath != "":
		cfg.PrivateKeyPath = target.PrivateKeyPath
	case os.Getenv("SSH_AUTH_SOCK") != "":
		cfg.AuthMethod = sshtransport.AuthMethodAgent
	}
	if target.KnownHostsPath != "" {
		cfg.KnownHostsPath = target.KnownHostsPath
	}
	cfg.StrictHostKeyChecking = target.StrictHostKeyChecking
	if target.Sudo {
		cfg.Sudo = true
		cfg.SFTPServerCommand = sudoSFTPServer
	}
	return cfg
}

// targetFlags override the agent config target from the command line.
type targetFlags struct {
	host       string
	supervisor string
	sudo       bool
}

func (f *targetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.host, "host", "", "target host as [user@]host[:port] (default: local machine)")
	cmd.Flags().StringVar(&f.supervisor, "supervisor", "", "service supervisor on the target (upstart or systemd)")
	cmd.Flags().BoolVar(&f.sudo, "sudo", false, "run commands and file access through sudo")
}

func (f *targetFlags) apply(t *config.TargetConfig) error {
	if f.host != "" {
		if err := parseTarget(f.host, t); err != nil {
			return err
		}
	}
	if f.supervisor != "" {
		t.Supervisor = f.supervisor
	}
	if f.sudo {
		t.Sudo = true
	}
	return nil
}

// parseTarget parses [user@]host[:port]. The user defaults to the
// configured one, then root.
func parseTarget(spec string, t *config.TargetConfig) error {
	hostport := spec
	if user, rest, found := strings.Cut(spec, "@"); found {
		if user == "" {
			return fmt.Errorf("invalid target %q: empty user", spec)
		}
		t.User = user
		hostport = rest
	}

	hostname := hostport
	if h, p, err := net.SplitHostPort(hostport); err == nil {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("invalid target %q: bad port %q", spec, p)
		}
		hostname = h
		t.Port = port
	}
	if hostname == "" {
		return fmt.Errorf("invalid target %q: empty host", spec)
	}

	t.Host = hostname
	if t.User == "" {
		t.User = "root"
	}
	return nil
}

// loadConfig loads the agent config and applies command line overrides.
func loadConfig(tf *targetFlags) (*config.AgentConfig, error) {
	cfg, err := config.LoadAgentConfig(configPath)
	if err != nil {
		return nil, err
	}
	if tf != nil {
		if err := tf.apply(&cfg.Target); err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	zerolog.SetGlobalLevel(telemetry.ParseLevel(cfg.Telemetry.Logging.Level))
	return cfg, nil
}

// sessionOptions select what a session opens.
type sessionOptions struct {
	host    bool
	journal bool
}

// session holds everything a command needs for one invocation.
type session struct {
	cfg      *config.AgentConfig
	tel      *telemetry.Telemetry
	logger   *telemetry.Logger
	host     host.Host
	services host.ServiceManager
	policies *policy.Engine
	journal  *stores.SQLiteStore
	closers  []func() error
}

func openSession(ctx context.Context, cfg *config.AgentConfig, opts sessionOptions) (_ *session, err error) {
	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	s := &session{
		cfg:    cfg,
		tel:    tel,
		logger: tel.Logger.NewComponentLogger("cli"),
	}
	defer func() {
		if err != nil {
			_ = s.Close(context.Background())
		}
	}()

	s.policies, err = policy.NewEngine(tel.Logger.NewComponentLogger("policy").Zerolog())
	if err != nil {
		return nil, err
	}
	if cfg.Policy.Dir != "" {
		if err := s.policies.LoadPolicies(ctx, []string{cfg.Policy.Dir}); err != nil {
			return nil, err
		}
	}

	if opts.host {
		h, closeHost, err := dialHost(ctx, cfg.Target)
		if err != nil {
			return nil, err
		}
		s.host = h
		s.closers = append(s.closers, closeHost)

		s.services, err = host.NewServiceManager(cfg.Target.Supervisor, h)
		if err != nil {
			return nil, err
		}
	}

	if opts.journal && cfg.Journal.Enabled {
		s.journal, err = stores.Open(ctx, stores.Config{Path: cfg.Journal.Path})
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		s.closers = append(s.closers, s.journal.Close)
	}

	return s, nil
}

// Close releases the host connection and journal and flushes telemetry.
func (s *session) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	errs = append(errs, s.tel.Shutdown(ctx))
	return errors.Join(errs...)
}

func (s *session) hostName() string {
	if s.host != nil {
		return s.host.Name()
	}
	if s.cfg.Target.Host != "" {
		return s.cfg.Target.Host
	}
	return "local"
}

// provider returns a provider bound to the session host and telemetry.
func (s *session) provider(dryRun bool) *mysql.Provider {
	seqOpts := append(s.tel.SequencerOptions(), engine.WithDryRun(dryRun))
	return mysql.NewProvider(s.host,
		mysql.WithServiceManager(s.services),
		mysql.WithProviderLogger(s.tel.Logger.NewComponentLogger("provider").Zerolog()),
		mysql.WithSequencerOptions(seqOpts...),
	)
}

// admit evaluates the admission policies. A denied request is an
// invalid-descriptor error carrying the violation count.
func (s *session) admit(ctx context.Context, d mysql.ResourceDescriptor, action mysql.Action, strict bool) (*policy.Result, error) {
	result, err := s.policies.Evaluate(ctx, policy.NewInput(d, action, s.hostName()))
	if err != nil {
		return nil, err
	}
	if result.Denied(strict || s.cfg.Policy.FailOnWarning) {
		return result, engine.NewError(engine.ErrorKindInvalidDescriptor,
			fmt.Sprintf("descriptor %s rejected by policy", d.ServiceName), nil).
			WithDetail("violations", len(result.Violations))
	}
	return result, nil
}
