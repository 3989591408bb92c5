package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
)

// ServiceStatus is the supervisor's view of a unit.
type ServiceStatus struct {
	// Known is true when the supervisor has a definition for the unit.
	Known bool

	// Running is true when the unit is started.
	Running bool

	// Enabled is true when the unit starts at boot.
	Enabled bool
}

// ServiceManager controls units through a service supervisor.
type ServiceManager interface {
	// Name identifies the supervisor ("upstart", "systemd").
	Name() string

	Status(ctx context.Context, unit string) (*ServiceStatus, error)
	Start(ctx context.Context, unit string) error
	Stop(ctx context.Context, unit string) error
	Restart(ctx context.Context, unit string) error
	Reload(ctx context.Context, unit string) error
	Enable(ctx context.Context, unit string) error
}

// Upstart drives jobs through initctl. Jobs are defined in /etc/init/<unit>.conf;
// a "manual" stanza in /etc/init/<unit>.override disables start at boot.
type Upstart struct {
	host    Host
	initDir string
}

// NewUpstart creates an upstart supervisor on the given host.
func NewUpstart(h Host) *Upstart {
	return &Upstart{host: h, initDir: "/etc/init"}
}

// Name returns "upstart".
func (u *Upstart) Name() string {
	return "upstart"
}

// Status parses `initctl status <unit>`, e.g. "mysql-app1 start/running, process 42".
func (u *Upstart) Status(ctx context.Context, unit string) (*ServiceStatus, error) {
	result, err := u.host.Run(ctx, NewCommand("initctl", "status", unit))
	if err != nil {
		return nil, fmt.Errorf("failed to query job %s: %w", unit, err)
	}

	status := &ServiceStatus{}
	if !result.Success() {
		// Unknown job
		return status, nil
	}
	status.Known = true
	status.Running = strings.Contains(result.Stdout, "start/running")

	override := path.Join(u.initDir, unit+".override")
	data, err := u.host.ReadFile(ctx, override)
	switch {
	case err == nil:
		status.Enabled = !hasManualStanza(data)
	case errors.Is(err, fs.ErrNotExist):
		status.Enabled = true
	default:
		return nil, fmt.Errorf("failed to read %s: %w", override, err)
	}

	return status, nil
}

// Start starts the job.
func (u *Upstart) Start(ctx context.Context, unit string) error {
	return u.initctl(ctx, "start", unit)
}

// Stop stops the job.
func (u *Upstart) Stop(ctx context.Context, unit string) error {
	return u.initctl(ctx, "stop", unit)
}

// Restart restarts a running job. initctl refuses to restart a stopped job,
// so a stopped job is started instead.
func (u *Upstart) Restart(ctx context.Context, unit string) error {
	status, err := u.Status(ctx, unit)
	if err != nil {
		return err
	}
	if !status.Running {
		return u.Start(ctx, unit)
	}
	return u.initctl(ctx, "restart", unit)
}

// Reload sends SIGHUP to the job.
func (u *Upstart) Reload(ctx context.Context, unit string) error {
	return u.initctl(ctx, "reload", unit)
}

// Enable removes the "manual" stanza from the job's override file.
func (u *Upstart) Enable(ctx context.Context, unit string) error {
	override := path.Join(u.initDir, unit+".override")
	data, err := u.host.ReadFile(ctx, override)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", override, err)
	}
	if !hasManualStanza(data) {
		return nil
	}

	var kept [][]byte
	for _, line := range bytes.Split(data, []byte("\n")) {
		if string(bytes.TrimSpace(line)) != "manual" {
			kept = append(kept, line)
		}
	}
	return u.host.WriteFile(ctx, override, bytes.Join(kept, []byte("\n")), 0o644)
}

func (u *Upstart) initctl(ctx context.Context, verb, unit string) error {
	if _, err := RunChecked(ctx, u.host, NewCommand("initctl", verb, unit)); err != nil {
		return fmt.Errorf("failed to %s job %s: %w", verb, unit, err)
	}
	return nil
}

func hasManualStanza(data []byte) bool {
	for _, line := range bytes.Split(data, []byte("\n")) {
		if string(bytes.TrimSpace(line)) == "manual" {
			return true
		}
	}
	return false
}

// Systemd drives units through systemctl.
type Systemd struct {
	host Host
}

// NewSystemd creates a systemd supervisor on the given host.
func NewSystemd(h Host) *Systemd {
	return &Systemd{host: h}
}

// Name returns "systemd".
func (s *Systemd) Name() string {
	return "systemd"
}

// Status reads LoadState, ActiveState and UnitFileState from `systemctl show`.
func (s *Systemd) Status(ctx context.Context, unit string) (*ServiceStatus, error) {
	cmd := NewCommand("systemctl", "show", unit, "--property=LoadState,ActiveState,UnitFileState")
	result, err := RunChecked(ctx, s.host, cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to query unit %s: %w", unit, err)
	}

	props := make(map[string]string)
	for _, line := range strings.Split(result.Stdout, "\n") {
		key, value, found := strings.Cut(strings.TrimSpace(line), "=")
		if found {
			props[key] = value
		}
	}

	return &ServiceStatus{
		Known:   props["LoadState"] == "loaded",
		Running: props["ActiveState"] == "active",
		Enabled: props["UnitFileState"] == "enabled",
	}, nil
}

// Start starts the unit.
func (s *Systemd) Start(ctx context.Context, unit string) error {
	return s.systemctl(ctx, "start", unit)
}

// Stop stops the unit.
func (s *Systemd) Stop(ctx context.Context, unit string) error {
	return s.systemctl(ctx, "stop", unit)
}

// Restart restarts the unit, starting it if it is stopped.
func (s *Systemd) Restart(ctx context.Context, unit string) error {
	return s.systemctl(ctx, "restart", unit)
}

// Reload asks the unit to reload its configuration.
func (s *Systemd) Reload(ctx context.Context, unit string) error {
	return s.systemctl(ctx, "reload", unit)
}

// Enable enables the unit at boot.
func (s *Systemd) Enable(ctx context.Context, unit string) error {
	return s.systemctl(ctx, "enable", unit)
}

func (s *Systemd) systemctl(ctx context.Context, verb, unit string) error {
	if _, err := RunChecked(ctx, s.host, NewCommand("systemctl", verb, unit)); err != nil {
		return fmt.Errorf("failed to %s unit %s: %w", verb, unit, err)
	}
	return nil
}

// NewServiceManager returns the supervisor implementation for a name.
func NewServiceManager(name string, h Host) (ServiceManager, error) {
	switch name {
	case "", "upstart":
		return NewUpstart(h), nil
	case "systemd":
		return NewSystemd(h), nil
	default:
		return nil, fmt.Errorf("unsupported service supervisor: %s", name)
	}
}
