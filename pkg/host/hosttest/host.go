// Package hosttest provides an in-memory host.Host for tests. It simulates a
// filesystem, the dpkg/apt package database and the upstart and systemd
// supervisors, and records every command it is asked to run.
package hosttest

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/openfroyo/mysql-service/pkg/host"
)

// CommandFunc scripts the response to a command.
type CommandFunc func(h *Host, cmd host.Command) (*host.CommandResult, error)

type entry struct {
	data  []byte
	isDir bool
	mode  fs.FileMode
	owner string
	group string
}

// Service is the simulated state of a supervisor unit.
type Service struct {
	Running bool
	Enabled bool

	// Starts, Stops, Restarts and Reloads count supervisor calls.
	Starts   int
	Stops    int
	Restarts int
	Reloads  int
}

// Host is an in-memory host. The zero value is not usable; call New.
type Host struct {
	mu sync.Mutex

	files map[string]*entry

	// Packages maps installed package names to versions.
	Packages map[string]string

	// Available maps installable package names to versions.
	Available map[string]string

	// Services holds units the supervisor knows.
	Services map[string]*Service

	// DaemonReloads counts `systemctl daemon-reload` calls.
	DaemonReloads int

	// Commands records every command in execution order.
	Commands []host.Command

	handlers  map[string]CommandFunc
	onInstall map[string]func(h *Host)
}

// New creates a host with the usual top-level directories in place.
func New() *Host {
	h := &Host{
		files:     make(map[string]*entry),
		Packages:  make(map[string]string),
		Available: make(map[string]string),
		Services:  make(map[string]*Service),
		handlers:  make(map[string]CommandFunc),
		onInstall: make(map[string]func(h *Host)),
	}
	for _, dir := range []string{"/etc", "/etc/init", "/etc/systemd/system", "/etc/mysql", "/var/lib", "/var/run", "/var/cache", "/usr/bin", "/data"} {
		h.mkdirAll(dir, 0o755, "root", "root")
	}
	return h
}

// Name returns "fake".
func (h *Host) Name() string {
	return "fake"
}

// Handle scripts the response for commands whose executable is path.
func (h *Host) Handle(path string, fn CommandFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[path] = fn
}

// OnInstall registers a hook that runs after a package is installed.
func (h *Host) OnInstall(pkg string, fn func(h *Host)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onInstall[pkg] = fn
}

// Calls returns the rendered command lines in execution order.
func (h *Host) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	calls := make([]string, len(h.Commands))
	for i, cmd := range h.Commands {
		calls[i] = cmd.String()
	}
	return calls
}

// CallsTo returns the commands whose executable is path.
func (h *Host) CallsTo(path string) []host.Command {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []host.Command
	for _, cmd := range h.Commands {
		if cmd.Path == path {
			out = append(out, cmd)
		}
	}
	return out
}

// ResetCalls clears the command log.
func (h *Host) ResetCalls() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Commands = nil
}

// SetFile creates a file and any missing parent directories.
func (h *Host) SetFile(p string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mkdirAll(path.Dir(p), 0o755, "root", "root")
	h.files[path.Clean(p)] = &entry{data: append([]byte(nil), data...), mode: 0o644, owner: "root", group: "root"}
}

// File returns a file's content.
func (h *Host) File(p string) ([]byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.files[path.Clean(p)]
	if !ok || e.isDir {
		return nil, false
	}
	return append([]byte(nil), e.data...), true
}

// Exists reports whether a file or directory exists.
func (h *Host) Exists(p string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.files[path.Clean(p)]
	return ok
}

// Paths returns every path on the host, sorted.
func (h *Host) Paths() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.files))
	for p := range h.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Run records the command and simulates it.
func (h *Host) Run(ctx context.Context, cmd host.Command) (*host.CommandResult, error) {
	h.mu.Lock()
	h.Commands = append(h.Commands, cmd)
	fn, scripted := h.handlers[cmd.Path]
	h.mu.Unlock()

	if scripted {
		return fn(h, cmd)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	switch cmd.Path {
	case "dpkg-query":
		return h.dpkgQuery(cmd)
	case "apt-get":
		return h.aptGet(cmd)
	case "initctl":
		return h.initctl(cmd)
	case "systemctl":
		return h.systemctl(cmd)
	case "service":
		return h.service(cmd)
	case "cp":
		return h.cp(cmd)
	}
	return &host.CommandResult{}, nil
}

// Stat returns file metadata.
func (h *Host) Stat(ctx context.Context, p string) (*host.FileInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.files[path.Clean(p)]
	if !ok {
		return nil, &fs.PathError{Op: "stat", Path: p, Err: fs.ErrNotExist}
	}
	return &host.FileInfo{
		Path:  p,
		IsDir: e.isDir,
		Mode:  e.mode,
		Owner: e.owner,
		Group: e.group,
		Size:  int64(len(e.data)),
	}, nil
}

// ReadFile returns a file's content.
func (h *Host) ReadFile(ctx context.Context, p string) ([]byte, error) {
	data, ok := h.File(p)
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: p, Err: fs.ErrNotExist}
	}
	return data, nil
}

// WriteFile writes a file. The parent directory must exist.
func (h *Host) WriteFile(ctx context.Context, p string, data []byte, mode fs.FileMode) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	p = path.Clean(p)
	parent, ok := h.files[path.Dir(p)]
	if !ok || !parent.isDir {
		return &fs.PathError{Op: "open", Path: p, Err: fs.ErrNotExist}
	}
	if e, ok := h.files[p]; ok {
		if e.isDir {
			return &fs.PathError{Op: "open", Path: p, Err: fmt.Errorf("is a directory")}
		}
		e.data = append([]byte(nil), data...)
		return nil
	}
	h.files[p] = &entry{data: append([]byte(nil), data...), mode: mode.Perm(), owner: "root", group: "root"}
	return nil
}

// MkdirAll creates a directory and missing parents.
func (h *Host) MkdirAll(ctx context.Context, p string, mode fs.FileMode) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.files[path.Clean(p)]; ok && !e.isDir {
		return &fs.PathError{Op: "mkdir", Path: p, Err: fmt.Errorf("not a directory")}
	}
	h.mkdirAll(p, mode.Perm(), "root", "root")
	return nil
}

// Chmod sets permission bits.
func (h *Host) Chmod(ctx context.Context, p string, mode fs.FileMode) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.files[path.Clean(p)]
	if !ok {
		return &fs.PathError{Op: "chmod", Path: p, Err: fs.ErrNotExist}
	}
	e.mode = mode.Perm()
	return nil
}

// Chown sets owner and group. Empty names leave the attribute unchanged.
func (h *Host) Chown(ctx context.Context, p string, owner, group string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.files[path.Clean(p)]
	if !ok {
		return &fs.PathError{Op: "chown", Path: p, Err: fs.ErrNotExist}
	}
	if owner != "" {
		e.owner = owner
	}
	if group != "" {
		e.group = group
	}
	return nil
}

func (h *Host) mkdirAll(p string, mode fs.FileMode, owner, group string) {
	p = path.Clean(p)
	for dir := p; ; dir = path.Dir(dir) {
		if _, ok := h.files[dir]; !ok {
			h.files[dir] = &entry{isDir: true, mode: mode, owner: owner, group: group}
		}
		if dir == "/" || dir == "." {
			return
		}
	}
}

func (h *Host) dpkgQuery(cmd host.Command) (*host.CommandResult, error) {
	name := cmd.Args[len(cmd.Args)-1]
	version, ok := h.Packages[name]
	if !ok {
		return &host.CommandResult{ExitCode: 1, Stderr: "dpkg-query: no packages found matching " + name}, nil
	}
	return &host.CommandResult{Stdout: "installed " + version}, nil
}

func (h *Host) aptGet(cmd host.Command) (*host.CommandResult, error) {
	name := cmd.Args[len(cmd.Args)-1]
	version, ok := h.Available[name]
	if !ok {
		return &host.CommandResult{ExitCode: 100, Stderr: "E: Unable to locate package " + name}, nil
	}
	h.Packages[name] = version
	if hook, ok := h.onInstall[name]; ok {
		h.mu.Unlock()
		hook(h)
		h.mu.Lock()
	}
	return &host.CommandResult{}, nil
}

// unit returns a service the supervisor already knows.
func (h *Host) unit(name string) (*Service, bool) {
	svc, ok := h.Services[name]
	return svc, ok
}

// upstartJob returns the service for a name. Upstart jobs with a conf file
// in /etc/init are known even if they were never registered explicitly.
func (h *Host) upstartJob(name string) (*Service, bool) {
	if svc, ok := h.unit(name); ok {
		return svc, true
	}
	if _, ok := h.files["/etc/init/"+name+".conf"]; ok {
		svc := &Service{Enabled: true}
		h.Services[name] = svc
		return svc, true
	}
	return nil, false
}

// daemonReload loads unit files from /etc/systemd/system. Units written
// after the last reload stay unknown to systemctl.
func (h *Host) daemonReload() {
	h.DaemonReloads++
	for p, e := range h.files {
		if e.isDir || path.Dir(p) != "/etc/systemd/system" || !strings.HasSuffix(p, ".service") {
			continue
		}
		name := strings.TrimSuffix(path.Base(p), ".service")
		if _, ok := h.Services[name]; !ok {
			h.Services[name] = &Service{}
		}
	}
}

func (h *Host) initctl(cmd host.Command) (*host.CommandResult, error) {
	if len(cmd.Args) != 2 {
		return &host.CommandResult{ExitCode: 1, Stderr: "initctl: invalid arguments"}, nil
	}
	verb, name := cmd.Args[0], cmd.Args[1]
	svc, ok := h.upstartJob(name)
	if !ok {
		return &host.CommandResult{ExitCode: 1, Stderr: "initctl: Unknown job: " + name}, nil
	}

	switch verb {
	case "status":
		if svc.Running {
			return &host.CommandResult{Stdout: name + " start/running, process 4242"}, nil
		}
		return &host.CommandResult{Stdout: name + " stop/waiting"}, nil
	case "start":
		if svc.Running {
			return &host.CommandResult{ExitCode: 1, Stderr: "initctl: Job is already running: " + name}, nil
		}
		svc.Running = true
		svc.Starts++
	case "stop":
		if !svc.Running {
			return &host.CommandResult{ExitCode: 1, Stderr: "initctl: Unknown instance: "}, nil
		}
		svc.Running = false
		svc.Stops++
	case "restart":
		if !svc.Running {
			return &host.CommandResult{ExitCode: 1, Stderr: "initctl: Unknown instance: "}, nil
		}
		svc.Restarts++
	case "reload":
		if !svc.Running {
			return &host.CommandResult{ExitCode: 1, Stderr: "initctl: Unknown instance: "}, nil
		}
		svc.Reloads++
	default:
		return &host.CommandResult{ExitCode: 1, Stderr: "initctl: unknown command: " + verb}, nil
	}
	return &host.CommandResult{}, nil
}

func (h *Host) systemctl(cmd host.Command) (*host.CommandResult, error) {
	if len(cmd.Args) == 1 && cmd.Args[0] == "daemon-reload" {
		h.daemonReload()
		return &host.CommandResult{}, nil
	}
	if len(cmd.Args) < 2 {
		return &host.CommandResult{ExitCode: 1, Stderr: "systemctl: invalid arguments"}, nil
	}
	verb, name := cmd.Args[0], cmd.Args[1]
	svc, ok := h.unit(name)

	if verb == "show" {
		if !ok {
			return &host.CommandResult{Stdout: "LoadState=not-found\nActiveState=inactive\nUnitFileState=\n"}, nil
		}
		active, enabled := "inactive", "disabled"
		if svc.Running {
			active = "active"
		}
		if svc.Enabled {
			enabled = "enabled"
		}
		return &host.CommandResult{Stdout: "LoadState=loaded\nActiveState=" + active + "\nUnitFileState=" + enabled + "\n"}, nil
	}

	if !ok {
		return &host.CommandResult{ExitCode: 5, Stderr: "Unit " + name + ".service not found."}, nil
	}

	switch verb {
	case "start":
		if !svc.Running {
			svc.Running = true
			svc.Starts++
		}
	case "stop":
		if svc.Running {
			svc.Running = false
			svc.Stops++
		}
	case "restart":
		svc.Running = true
		svc.Restarts++
	case "reload":
		if !svc.Running {
			return &host.CommandResult{ExitCode: 1, Stderr: "Job for " + name + ".service invalid."}, nil
		}
		svc.Reloads++
	case "enable":
		svc.Enabled = true
	default:
		return &host.CommandResult{ExitCode: 1, Stderr: "Unknown operation " + verb}, nil
	}
	return &host.CommandResult{}, nil
}

// service simulates the sysvinit compatibility wrapper: `service <name> <verb>`.
func (h *Host) service(cmd host.Command) (*host.CommandResult, error) {
	if len(cmd.Args) != 2 {
		return &host.CommandResult{ExitCode: 1, Stderr: "Usage: service < option > | --status-all | [ service_name [ command | --full-restart ] ]"}, nil
	}
	name, verb := cmd.Args[0], cmd.Args[1]
	svc, ok := h.upstartJob(name)
	if !ok {
		return &host.CommandResult{ExitCode: 1, Stderr: name + ": unrecognized service"}, nil
	}
	switch verb {
	case "stop":
		if svc.Running {
			svc.Running = false
			svc.Stops++
		}
	case "start":
		if !svc.Running {
			svc.Running = true
			svc.Starts++
		}
	}
	return &host.CommandResult{}, nil
}

// cp simulates `cp -rf SRC/. DST`, copying the contents of SRC into DST.
func (h *Host) cp(cmd host.Command) (*host.CommandResult, error) {
	if len(cmd.Args) < 2 {
		return &host.CommandResult{ExitCode: 1, Stderr: "cp: missing file operand"}, nil
	}
	src := path.Clean(strings.TrimSuffix(cmd.Args[len(cmd.Args)-2], "/."))
	dst := path.Clean(cmd.Args[len(cmd.Args)-1])

	srcEntry, ok := h.files[src]
	if !ok || !srcEntry.isDir {
		return &host.CommandResult{ExitCode: 1, Stderr: "cp: cannot stat '" + src + "': No such file or directory"}, nil
	}
	if d, ok := h.files[dst]; !ok || !d.isDir {
		return &host.CommandResult{ExitCode: 1, Stderr: "cp: target '" + dst + "' is not a directory"}, nil
	}

	for p, e := range h.files {
		rel, found := strings.CutPrefix(p, src+"/")
		if !found {
			continue
		}
		target := path.Join(dst, rel)
		if e.isDir {
			h.mkdirAll(target, e.mode, e.owner, e.group)
			continue
		}
		h.mkdirAll(path.Dir(target), 0o755, "root", "root")
		h.files[target] = &entry{data: append([]byte(nil), e.data...), mode: e.mode, owner: e.owner, group: e.group}
	}
	return &host.CommandResult{}, nil
}
