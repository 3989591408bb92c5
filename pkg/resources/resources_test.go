package resources

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/rs/zerolog"

	"github.com/openfroyo/mysql-service/pkg/engine"
	"github.com/openfroyo/mysql-service/pkg/host"
	"github.com/openfroyo/mysql-service/pkg/host/hosttest"
)

func runContext(dryRun bool) *engine.RunContext {
	return &engine.RunContext{RunID: "test", DryRun: dryRun, Logger: zerolog.Nop()}
}

func apply(t *testing.T, step engine.Step, rc *engine.RunContext, action engine.Action) engine.Outcome {
	t.Helper()
	if g, ok := step.(engine.Guarded); ok {
		needed, err := g.NeedsApply(context.Background(), rc, action)
		if err != nil {
			t.Fatalf("NeedsApply() error = %v", err)
		}
		if !needed {
			return engine.OutcomeSkipped
		}
	}
	outcome, err := step.Apply(context.Background(), rc, action)
	if err != nil {
		t.Fatalf("Apply(%s) error = %v", action, err)
	}
	return outcome
}

func TestPackage_Apply(t *testing.T) {
	fake := hosttest.New()
	fake.Available["debconf-utils"] = "1.5.66"
	pkg := NewPackage("debconf-utils", host.NewApt(fake))

	if pkg.ID() != "package[debconf-utils]" {
		t.Errorf("Unexpected ID %s", pkg.ID())
	}

	if got := apply(t, pkg, runContext(true), engine.ActionInstall); got != engine.OutcomeChanged {
		t.Errorf("Expected dry run to report changed, got %s", got)
	}
	if _, ok := fake.Packages["debconf-utils"]; ok {
		t.Fatal("Expected dry run not to install")
	}

	if got := apply(t, pkg, runContext(false), engine.ActionInstall); got != engine.OutcomeChanged {
		t.Errorf("Expected changed, got %s", got)
	}
	if got := apply(t, pkg, runContext(false), engine.ActionInstall); got != engine.OutcomeUnchanged {
		t.Errorf("Expected unchanged on second apply, got %s", got)
	}
}

func TestPackage_InstallFailure(t *testing.T) {
	pkg := NewPackage("mysql-server-9.9", host.NewApt(hosttest.New()))

	_, err := pkg.Apply(context.Background(), runContext(false), engine.ActionInstall)
	if !engine.IsKind(err, engine.ErrorKindPackageInstall) {
		t.Fatalf("Expected package install failure, got %v", err)
	}
}

func TestDirectory_Apply(t *testing.T) {
	fake := hosttest.New()
	dir := NewDirectory(fake, "/data/app1", Attributes{Owner: "mysql", Group: "mysql", Mode: 0o750})

	if got := apply(t, dir, runContext(false), engine.ActionCreate); got != engine.OutcomeChanged {
		t.Errorf("Expected changed, got %s", got)
	}

	info, err := fake.Stat(context.Background(), "/data/app1")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if !info.IsDir || info.Owner != "mysql" || info.Group != "mysql" || info.Mode != 0o750 {
		t.Errorf("Unexpected directory state %+v", info)
	}

	if got := apply(t, dir, runContext(false), engine.ActionCreate); got != engine.OutcomeUnchanged {
		t.Errorf("Expected unchanged, got %s", got)
	}

	// Attribute drift is repaired.
	if err := fake.Chmod(context.Background(), "/data/app1", 0o777); err != nil {
		t.Fatalf("Chmod() error = %v", err)
	}
	if got := apply(t, dir, runContext(false), engine.ActionCreate); got != engine.OutcomeChanged {
		t.Errorf("Expected changed after drift, got %s", got)
	}
}

func TestDirectory_PathIsFile(t *testing.T) {
	fake := hosttest.New()
	fake.SetFile("/var/run/mysqld", []byte("oops"))
	dir := NewDirectory(fake, "/var/run/mysqld", Attributes{Mode: 0o755})

	_, err := dir.Apply(context.Background(), runContext(false), engine.ActionCreate)
	if !engine.IsKind(err, engine.ErrorKindDirectory) {
		t.Fatalf("Expected directory failure, got %v", err)
	}
}

func TestTemplate_Apply(t *testing.T) {
	fake := hosttest.New()
	source := TemplateSource{
		FS:   fstest.MapFS{"my.cnf": {Data: []byte("[mysqld]\nport={{.Port}}\n")}},
		Name: "my.cnf",
	}
	data := struct{ Port int }{Port: 3307}
	tpl := NewTemplate(fake, "/etc/mysql/my.app1.cnf", source, data, Attributes{Owner: "mysql", Group: "mysql", Mode: 0o600})

	if got := apply(t, tpl, runContext(true), engine.ActionCreate); got != engine.OutcomeChanged {
		t.Errorf("Expected dry run changed, got %s", got)
	}
	if fake.Exists("/etc/mysql/my.app1.cnf") {
		t.Fatal("Expected dry run not to write")
	}

	if got := apply(t, tpl, runContext(false), engine.ActionCreate); got != engine.OutcomeChanged {
		t.Errorf("Expected changed, got %s", got)
	}
	content, _ := fake.File("/etc/mysql/my.app1.cnf")
	if string(content) != "[mysqld]\nport=3307\n" {
		t.Errorf("Unexpected content %q", content)
	}

	if got := apply(t, tpl, runContext(false), engine.ActionCreate); got != engine.OutcomeUnchanged {
		t.Errorf("Expected unchanged, got %s", got)
	}

	tpl.Data = struct{ Port int }{Port: 3308}
	if got := apply(t, tpl, runContext(false), engine.ActionCreate); got != engine.OutcomeChanged {
		t.Errorf("Expected changed after data change, got %s", got)
	}
}

func TestTemplate_Errors(t *testing.T) {
	fake := hosttest.New()
	tests := []struct {
		name string
		tpl  *Template
	}{
		{
			name: "missing source",
			tpl:  NewTemplate(fake, "/etc/x", TemplateSource{FS: fstest.MapFS{}, Name: "5.7/my.cnf"}, nil, Attributes{}),
		},
		{
			name: "missing key",
			tpl: NewTemplate(fake, "/etc/x",
				TemplateSource{FS: fstest.MapFS{"t": {Data: []byte("{{.Missing}}")}}, Name: "t"},
				map[string]string{}, Attributes{}),
		},
		{
			name: "missing parent directory",
			tpl: NewTemplate(fake, "/nonexistent/dir/file",
				TemplateSource{FS: fstest.MapFS{"t": {Data: []byte("x")}}, Name: "t"}, nil, Attributes{}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.tpl.Apply(context.Background(), runContext(false), engine.ActionCreate)
			if !engine.IsKind(err, engine.ErrorKindTemplateRender) {
				t.Errorf("Expected template render failure, got %v", err)
			}
		})
	}
}

func TestExecute_Guards(t *testing.T) {
	fake := hosttest.New()
	exitCode := 0
	fake.Handle("/usr/bin/mysql", func(h *hosttest.Host, cmd host.Command) (*host.CommandResult, error) {
		return &host.CommandResult{ExitCode: exitCode}, nil
	})

	exec := NewExecute(fake, "assign-root-password", host.NewCommand("/usr/bin/mysqladmin", "-u", "root", "password", "x")).
		WithOnlyIf(host.NewCommand("/usr/bin/mysql", "-u", "root", "-e", "show databases;"))

	if got := apply(t, exec, runContext(false), engine.ActionRun); got != engine.OutcomeChanged {
		t.Errorf("Expected changed when guard passes, got %s", got)
	}

	exitCode = 1
	if got := apply(t, exec, runContext(false), engine.ActionRun); got != engine.OutcomeSkipped {
		t.Errorf("Expected skipped when guard fails, got %s", got)
	}
	if n := len(fake.CallsTo("/usr/bin/mysqladmin")); n != 1 {
		t.Errorf("Expected mysqladmin to run once, got %d", n)
	}
}

func TestExecute_GuardError(t *testing.T) {
	fake := hosttest.New()
	fake.Handle("/usr/bin/mysql", func(h *hosttest.Host, cmd host.Command) (*host.CommandResult, error) {
		return nil, context.DeadlineExceeded
	})
	exec := NewExecute(fake, "x", host.NewCommand("true")).WithOnlyIf(host.NewCommand("/usr/bin/mysql"))

	_, err := exec.NeedsApply(context.Background(), runContext(false), engine.ActionRun)
	if !engine.IsKind(err, engine.ErrorKindPreconditionGuard) {
		t.Fatalf("Expected precondition guard failure, got %v", err)
	}
}

func TestExecute_Creates(t *testing.T) {
	fake := hosttest.New()
	exec := NewExecute(fake, "copy-data", host.NewCommand("cp", "-rf", "/var/lib/mysql/.", "/data/app1")).
		WithCreates("/data/app1/ibdata1", "/data/app1/ib_logfile0")

	needed, err := exec.NeedsApply(context.Background(), runContext(false), engine.ActionRun)
	if err != nil || !needed {
		t.Fatalf("Expected step to be needed, got %v %v", needed, err)
	}

	// One marker is not enough.
	fake.SetFile("/data/app1/ibdata1", nil)
	needed, _ = exec.NeedsApply(context.Background(), runContext(false), engine.ActionRun)
	if !needed {
		t.Error("Expected step to be needed with one marker")
	}

	fake.SetFile("/data/app1/ib_logfile0", nil)
	needed, _ = exec.NeedsApply(context.Background(), runContext(false), engine.ActionRun)
	if needed {
		t.Error("Expected step to be skipped with both markers")
	}
}

func TestExecute_CommandFailure(t *testing.T) {
	fake := hosttest.New()
	fake.Handle("/usr/bin/mysql", func(h *hosttest.Host, cmd host.Command) (*host.CommandResult, error) {
		return &host.CommandResult{ExitCode: 1, Stderr: "ERROR 1045 (28000): Access denied\n"}, nil
	})
	exec := NewExecute(fake, "install-grants",
		host.NewCommand("/usr/bin/mysql", "-u", "root").WithSecretOption("-p", "secret"),
		host.NewCommand("touch", "/never"))

	_, err := exec.Apply(context.Background(), runContext(false), engine.ActionRun)
	if !engine.IsKind(err, engine.ErrorKindCommandExecution) {
		t.Fatalf("Expected command execution failure, got %v", err)
	}
	cerr := err.(*engine.ConvergenceError)
	if cerr.ExitCode != 1 {
		t.Errorf("Expected exit code 1, got %d", cerr.ExitCode)
	}
	if cerr.Command != "/usr/bin/mysql -u root '-p******'" {
		t.Errorf("Expected redacted command, got %q", cerr.Command)
	}
	if len(fake.CallsTo("touch")) != 0 {
		t.Error("Expected remaining commands not to run")
	}
}

func TestExecute_NoCommandsIsSkipped(t *testing.T) {
	fake := hosttest.New()
	exec := NewExecute(fake, "assign-root-password").WithOnlyIf(host.NewCommand("/usr/bin/mysql"))

	if got := apply(t, exec, runContext(false), engine.ActionRun); got != engine.OutcomeSkipped {
		t.Errorf("Expected skipped, got %s", got)
	}
	if len(fake.Commands) != 0 {
		t.Errorf("Expected guard not to run, got %v", fake.Calls())
	}
}

func TestService_Apply(t *testing.T) {
	ctx := context.Background()
	fake := hosttest.New()
	fake.Services["mysql"] = &hosttest.Service{}
	svc := NewService("mysql", host.NewUpstart(fake), Supports{Restart: true})

	if got := apply(t, svc, runContext(false), engine.ActionStart); got != engine.OutcomeChanged {
		t.Errorf("Expected changed, got %s", got)
	}
	if got := apply(t, svc, runContext(false), engine.ActionStart); got != engine.OutcomeUnchanged {
		t.Errorf("Expected unchanged, got %s", got)
	}
	if got := apply(t, svc, runContext(false), engine.ActionEnable); got != engine.OutcomeUnchanged {
		t.Errorf("Expected enabled job without override to be unchanged, got %s", got)
	}
	if got := apply(t, svc, runContext(false), engine.ActionRestart); got != engine.OutcomeChanged {
		t.Errorf("Expected changed, got %s", got)
	}
	if fake.Services["mysql"].Restarts != 1 {
		t.Errorf("Expected one restart, got %d", fake.Services["mysql"].Restarts)
	}

	_, err := svc.Apply(ctx, runContext(false), engine.ActionReload)
	if !engine.IsKind(err, engine.ErrorKindServiceManagement) {
		t.Errorf("Expected reload without support to fail, got %v", err)
	}
}

func TestService_RestartWithoutNativeSupport(t *testing.T) {
	fake := hosttest.New()
	fake.Services["mysql-app1"] = &hosttest.Service{Running: true}
	svc := NewService("mysql-app1", host.NewUpstart(fake), Supports{})

	if got := apply(t, svc, runContext(false), engine.ActionRestart); got != engine.OutcomeChanged {
		t.Errorf("Expected changed, got %s", got)
	}
	s := fake.Services["mysql-app1"]
	if s.Stops != 1 || s.Starts != 1 || s.Restarts != 0 || !s.Running {
		t.Errorf("Expected stop then start, got %+v", s)
	}
}

func TestService_Register(t *testing.T) {
	ctx := context.Background()
	fake := hosttest.New()
	svc := NewService("mysql-app1", host.NewUpstart(fake), Supports{Restart: true, Reload: true})

	_, err := svc.Apply(ctx, runContext(false), engine.ActionRegister)
	if !engine.IsKind(err, engine.ErrorKindServiceManagement) {
		t.Fatalf("Expected unknown unit to fail, got %v", err)
	}

	if got := apply(t, svc, runContext(true), engine.ActionRegister); got != engine.OutcomeChanged {
		t.Errorf("Expected dry run to report pending registration, got %s", got)
	}

	fake.SetFile("/etc/init/mysql-app1.conf", []byte("exec /usr/sbin/mysqld\n"))
	if got := apply(t, svc, runContext(false), engine.ActionRegister); got != engine.OutcomeUnchanged {
		t.Errorf("Expected unchanged, got %s", got)
	}
	if fake.Services["mysql-app1"].Running {
		t.Error("Expected register not to start the unit")
	}
}
