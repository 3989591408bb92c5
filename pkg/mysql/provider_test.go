package mysql

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/openfroyo/mysql-service/pkg/engine"
	"github.com/openfroyo/mysql-service/pkg/host"
	"github.com/openfroyo/mysql-service/pkg/host/hosttest"
)

// mysqlServer simulates the root account of the server the package installs.
type mysqlServer struct {
	rootPassword string
}

// newUbuntuHost returns a fake host where the server package behaves like
// the Ubuntu one: installing it initializes /var/lib/mysql and starts the
// generic mysql job.
func newUbuntuHost(t *testing.T) (*hosttest.Host, *mysqlServer) {
	t.Helper()

	fake := hosttest.New()
	server := &mysqlServer{}

	fake.Available[HelperPackage] = "1.5.66"
	for _, v := range SupportedVersions {
		name := "mysql-server-" + v
		fake.Available[name] = v + ".42-0ubuntu1"
		fake.OnInstall(name, func(h *hosttest.Host) {
			for _, f := range []string{"ibdata1", "ib_logfile0", "ib_logfile1", "mysql/user.frm"} {
				h.SetFile(filepath.Join(PackageDataDir, f), []byte(f))
			}
			h.SetFile("/etc/init/mysql.conf", []byte("exec /usr/sbin/mysqld\n"))
			h.Services[GenericService] = &hosttest.Service{Running: true, Enabled: true}
		})
	}
	fake.Services[AppArmorService] = &hosttest.Service{Running: true, Enabled: true}

	fake.Handle(mysqladminBin, func(h *hosttest.Host, cmd host.Command) (*host.CommandResult, error) {
		server.rootPassword = cmd.Args[len(cmd.Args)-1]
		return &host.CommandResult{}, nil
	})
	fake.Handle(mysqlBin, func(h *hosttest.Host, cmd host.Command) (*host.CommandResult, error) {
		for _, arg := range cmd.Args {
			if arg == "-e" {
				if server.rootPassword != "" {
					return &host.CommandResult{ExitCode: 1, Stderr: "ERROR 1045 (28000): Access denied for user 'root'@'localhost' (using password: NO)"}, nil
				}
				return &host.CommandResult{Stdout: "Database\nmysql\n"}, nil
			}
		}

		given := ""
		for _, arg := range cmd.Args {
			if strings.HasPrefix(arg, "-p") {
				given = strings.TrimPrefix(arg, "-p")
			}
		}
		if given != server.rootPassword {
			return &host.CommandResult{ExitCode: 1, Stderr: "ERROR 1045 (28000): Access denied for user 'root'@'localhost'"}, nil
		}
		if !h.Exists(cmd.StdinFile) {
			return &host.CommandResult{ExitCode: 1, Stderr: "No such file or directory"}, nil
		}
		return &host.CommandResult{}, nil
	})

	return fake, server
}

func scenarioDescriptor() ResourceDescriptor {
	return ResourceDescriptor{
		ServiceName: "app1",
		Version:     "5.7",
		DataDir:     "/data/app1",
		Port:        3307,
	}
}

func stepIDs(decls []engine.Declaration) []string {
	ids := make([]string, len(decls))
	for i, d := range decls {
		ids[i] = d.Step.ID()
	}
	return ids
}

func TestProvider_PlanCreate(t *testing.T) {
	fake, _ := newUbuntuHost(t)
	decls, err := NewProvider(fake).Plan(scenarioDescriptor(), ActionCreate)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	want := []string{
		"package[debconf-utils]",
		"directory[/var/cache/local/preseeding]",
		"template[/var/cache/local/preseeding/mysql-server.seed]",
		"execute[preseed mysql-server]",
		"package[mysql-server-5.7]",
		"template[/etc/init/mysql-app1.conf]",
		"service[mysql]",
		"service[mysql-app1]",
		"execute[assign-root-password-app1]",
		"template[/etc/mysql_grants-app1.sql]",
		"execute[install-grants-app1]",
		"directory[/etc/apparmor.d]",
		"template[/etc/apparmor.d/usr.sbin.mysqld.app1]",
		"service[apparmor-mysql-app1]",
		"template[/etc/mysql/debian.cnf]",
		"directory[/etc/mysql/app1.conf.d]",
		"directory[/var/run/mysqld]",
		"directory[/data/app1]",
		"template[/etc/mysql/my.app1.cnf]",
		"execute[copy mysql data to datadir app1]",
	}
	if diff := cmp.Diff(want, stepIDs(decls)); diff != "" {
		t.Errorf("Create plan mismatch (-want +got):\n%s", diff)
	}

	var notified []string
	for _, d := range decls {
		if d.Trigger == engine.TriggerOnNotify {
			notified = append(notified, d.Step.ID())
		}
	}
	wantNotified := []string{
		"execute[preseed mysql-server]",
		"execute[install-grants-app1]",
		"service[apparmor-mysql-app1]",
		"execute[copy mysql data to datadir app1]",
	}
	if diff := cmp.Diff(wantNotified, notified); diff != "" {
		t.Errorf("Notified-only steps mismatch (-want +got):\n%s", diff)
	}

	config := decls[18]
	wantEdges := []engine.NotificationEdge{
		{Target: "execute[copy mysql data to datadir app1]", Action: engine.ActionRun, Timing: engine.TimingDelayed},
		{Target: "service[mysql-app1]", Action: engine.ActionRestart, Timing: engine.TimingDelayed},
	}
	if diff := cmp.Diff(wantEdges, config.Notifies); diff != "" {
		t.Errorf("Config notifications mismatch (-want +got):\n%s", diff)
	}

	if _, err := engine.NewGraphBuilder().Build(decls); err != nil {
		t.Errorf("Expected a valid plan, got %v", err)
	}
}

func TestProvider_ConvergeCreateScenario(t *testing.T) {
	fake, _ := newUbuntuHost(t)
	desc := scenarioDescriptor()

	report, err := NewProvider(fake).Converge(context.Background(), desc, ActionCreate)
	if err != nil {
		t.Fatalf("Converge() error = %v", err)
	}
	if report.Status != engine.RunStatusSucceeded {
		t.Fatalf("Expected success, got %s", report.Status)
	}

	config, ok := fake.File("/etc/mysql/my.app1.cnf")
	if !ok {
		t.Fatal("Expected config file at /etc/mysql/my.app1.cnf")
	}
	for _, want := range []string{"port=3307", "datadir=/data/app1", "socket=/var/run/mysqld/mysqld.app1.sock", "!includedir /etc/mysql/app1.conf.d"} {
		if !strings.Contains(string(config), want) {
			t.Errorf("Expected config to contain %q", want)
		}
	}

	if src := ConfigSource(desc.WithDefaults(), Templates); src.Name != "5.7/my.cnf" {
		t.Errorf("Expected default template 5.7/my.cnf, got %s", src.Name)
	}

	root := report.Executions("execute[assign-root-password-app1]")
	if len(root) != 1 || root[0].Outcome != engine.OutcomeSkipped {
		t.Errorf("Expected credential step to be skipped, got %+v", root)
	}
	if n := len(fake.CallsTo(mysqladminBin)); n != 0 {
		t.Errorf("Expected no mysqladmin calls, got %d", n)
	}

	// The preseed command runs inline right after the seed file is written.
	seed := report.Executions("template[/var/cache/local/preseeding/mysql-server.seed]")
	preseed := report.Executions("execute[preseed mysql-server]")
	if len(seed) != 1 || len(preseed) != 1 || preseed[0].Sequence != seed[0].Sequence+1 || preseed[0].Via != engine.ViaImmediate {
		t.Errorf("Expected immediate preseed after seed template, got %+v %+v", seed, preseed)
	}

	// Delayed notifications run after the primary pass in queue order.
	n := len(report.Records)
	var tail []string
	for _, rec := range report.Records[n-3:] {
		tail = append(tail, rec.StepID+":"+string(rec.Action)+":"+string(rec.Via))
	}
	wantTail := []string{
		"execute[install-grants-app1]:run:delayed",
		"execute[copy mysql data to datadir app1]:run:delayed",
		"service[mysql-app1]:restart:delayed",
	}
	if diff := cmp.Diff(wantTail, tail); diff != "" {
		t.Errorf("Delayed notifications mismatch (-want +got):\n%s", diff)
	}

	for _, marker := range DataMarkers("/data/app1") {
		if !fake.Exists(marker) {
			t.Errorf("Expected %s to be copied", marker)
		}
	}

	instance := fake.Services["mysql-app1"]
	if instance == nil || !instance.Running {
		t.Errorf("Expected per-instance service to be running, got %+v", instance)
	}
	if generic := fake.Services[GenericService]; !generic.Running {
		t.Error("Expected generic service to be running after the data copy")
	}
	if fake.Services[AppArmorService].Reloads != 1 {
		t.Errorf("Expected one apparmor reload, got %d", fake.Services[AppArmorService].Reloads)
	}

	info, err := fake.Stat(context.Background(), "/etc/mysql/my.app1.cnf")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Owner != "mysql" || info.Group != "mysql" || info.Mode != 0o600 {
		t.Errorf("Unexpected config attributes %+v", info)
	}
}

func TestProvider_PlanCreateSystemd(t *testing.T) {
	fake, _ := newUbuntuHost(t)
	decls, err := NewProvider(fake, WithServiceManager(host.NewSystemd(fake))).Plan(scenarioDescriptor(), ActionCreate)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	ids := stepIDs(decls)
	if len(ids) != 21 {
		t.Fatalf("Expected 21 declarations, got %d: %v", len(ids), ids)
	}
	wantJob := []string{
		"template[/etc/systemd/system/mysql-app1.service]",
		"execute[systemd daemon-reload app1]",
		"service[mysql]",
		"service[mysql-app1]",
	}
	if diff := cmp.Diff(wantJob, ids[5:9]); diff != "" {
		t.Errorf("Job definition mismatch (-want +got):\n%s", diff)
	}
	for _, id := range ids {
		if id == "template[/etc/init/mysql-app1.conf]" {
			t.Error("Expected no upstart job under systemd")
		}
	}

	unit := decls[5]
	wantEdges := []engine.NotificationEdge{
		{Target: "execute[systemd daemon-reload app1]", Action: engine.ActionRun, Timing: engine.TimingImmediate},
	}
	if diff := cmp.Diff(wantEdges, unit.Notifies); diff != "" {
		t.Errorf("Unit notifications mismatch (-want +got):\n%s", diff)
	}
	if decls[6].Trigger != engine.TriggerOnNotify {
		t.Errorf("Expected daemon-reload to run only when notified, got %s", decls[6].Trigger)
	}
}

func TestProvider_ConvergeCreateSystemd(t *testing.T) {
	fake, _ := newUbuntuHost(t)
	provider := NewProvider(fake, WithServiceManager(host.NewSystemd(fake)))

	report, err := provider.Converge(context.Background(), scenarioDescriptor(), ActionCreate)
	if err != nil {
		t.Fatalf("Converge() error = %v", err)
	}
	if report.Status != engine.RunStatusSucceeded {
		t.Fatalf("Expected success, got %s", report.Status)
	}

	unit, ok := fake.File("/etc/systemd/system/mysql-app1.service")
	if !ok {
		t.Fatal("Expected unit file at /etc/systemd/system/mysql-app1.service")
	}
	if !strings.Contains(string(unit), "--defaults-file=/etc/mysql/my.app1.cnf") {
		t.Errorf("Expected unit to start the instance config, got:\n%s", unit)
	}
	if fake.Exists("/etc/init/mysql-app1.conf") {
		t.Error("Expected no upstart job under systemd")
	}

	reload := report.Executions("execute[systemd daemon-reload app1]")
	if len(reload) != 1 || reload[0].Via != engine.ViaImmediate {
		t.Errorf("Expected one immediate daemon-reload, got %+v", reload)
	}
	if fake.DaemonReloads != 1 {
		t.Errorf("Expected one daemon-reload, got %d", fake.DaemonReloads)
	}

	instance := fake.Services["mysql-app1"]
	if instance == nil || !instance.Running || instance.Restarts != 1 {
		t.Errorf("Expected instance unit restarted once, got %+v", instance)
	}

	// An unchanged unit file does not reload systemd again.
	if _, err := provider.Converge(context.Background(), scenarioDescriptor(), ActionCreate); err != nil {
		t.Fatalf("second Converge() error = %v", err)
	}
	if fake.DaemonReloads != 1 {
		t.Errorf("Expected no further daemon-reload, got %d", fake.DaemonReloads)
	}
}

func TestProvider_ConvergeCreateIsIdempotent(t *testing.T) {
	fake, _ := newUbuntuHost(t)
	desc := scenarioDescriptor()
	desc.ServerRootPassword = "s3cret"
	provider := NewProvider(fake)

	if _, err := provider.Converge(context.Background(), desc, ActionCreate); err != nil {
		t.Fatalf("first Converge() error = %v", err)
	}
	paths := fake.Paths()
	config, _ := fake.File("/etc/mysql/my.app1.cnf")
	fake.ResetCalls()

	report, err := provider.Converge(context.Background(), desc, ActionCreate)
	if err != nil {
		t.Fatalf("second Converge() error = %v", err)
	}

	if report.Changed() != 0 {
		for _, rec := range report.Records {
			if rec.Outcome == engine.OutcomeChanged {
				t.Errorf("Expected no change on second run, %s:%s changed", rec.StepID, rec.Action)
			}
		}
	}
	if diff := cmp.Diff(paths, fake.Paths()); diff != "" {
		t.Errorf("Filesystem changed on second run (-first +second):\n%s", diff)
	}
	if again, _ := fake.File("/etc/mysql/my.app1.cnf"); string(again) != string(config) {
		t.Error("Expected config to be unchanged")
	}

	for _, call := range fake.Calls() {
		for _, destructive := range []string{"apt-get", "mysqladmin", "cp ", "initctl restart", "initctl stop", "service mysql stop"} {
			if strings.Contains(call, destructive) {
				t.Errorf("Unexpected command on second run: %s", call)
			}
		}
	}
}

func TestProvider_CredentialStepRunsAfterPackageInstall(t *testing.T) {
	fake, server := newUbuntuHost(t)
	desc := scenarioDescriptor()
	desc.ServerRootPassword = "s3cret"

	report, err := NewProvider(fake).Converge(context.Background(), desc, ActionCreate)
	if err != nil {
		t.Fatalf("Converge() error = %v", err)
	}
	if server.rootPassword != "s3cret" {
		t.Errorf("Expected root password to be assigned, got %q", server.rootPassword)
	}

	installAt, assignAt := -1, -1
	for i, call := range fake.Calls() {
		if call == "DEBIAN_FRONTEND=noninteractive apt-get install -y -q mysql-server-5.7" {
			installAt = i
		}
		if strings.HasPrefix(call, mysqladminBin) {
			assignAt = i
		}
	}
	if installAt < 0 || assignAt < 0 || assignAt < installAt {
		t.Errorf("Expected mysqladmin after package install, got install=%d assign=%d", installAt, assignAt)
	}

	pkg := report.Executions("package[mysql-server-5.7]")
	root := report.Executions("execute[assign-root-password-app1]")
	if len(pkg) != 1 || len(root) != 1 || root[0].Sequence < pkg[0].Sequence {
		t.Errorf("Expected credential record after package record, got %+v %+v", pkg, root)
	}
	if root[0].Outcome != engine.OutcomeChanged {
		t.Errorf("Expected credential step to run, got %s", root[0].Outcome)
	}
}

func TestProvider_DataMigrationSkippedWhenMarkersExist(t *testing.T) {
	fake, _ := newUbuntuHost(t)
	for _, marker := range DataMarkers("/data/app1") {
		fake.SetFile(marker, []byte("existing"))
	}

	report, err := NewProvider(fake).Converge(context.Background(), scenarioDescriptor(), ActionCreate)
	if err != nil {
		t.Fatalf("Converge() error = %v", err)
	}

	copies := report.Executions("execute[copy mysql data to datadir app1]")
	if len(copies) != 1 {
		t.Fatalf("Expected the migration to be notified once, got %d", len(copies))
	}
	if copies[0].Outcome != engine.OutcomeSkipped || copies[0].Via != engine.ViaDelayed {
		t.Errorf("Expected skipped delayed execution, got %+v", copies[0])
	}
	if n := len(fake.CallsTo("cp")); n != 0 {
		t.Errorf("Expected no copy, got %d cp calls", n)
	}
	if data, _ := fake.File("/data/app1/ibdata1"); string(data) != "existing" {
		t.Error("Expected existing data to be left alone")
	}
}

func TestProvider_ConvergeRestart(t *testing.T) {
	fake, _ := newUbuntuHost(t)
	fake.Services["mysql-app1"] = &hosttest.Service{Running: true, Enabled: true}

	report, err := NewProvider(fake).Converge(context.Background(), ResourceDescriptor{ServiceName: "app1"}, ActionRestart)
	if err != nil {
		t.Fatalf("Converge() error = %v", err)
	}

	if len(report.Records) != 1 {
		t.Fatalf("Expected exactly one step, got %d", len(report.Records))
	}
	rec := report.Records[0]
	if rec.StepID != "service[mysql-app1]" || rec.Action != engine.ActionRestart || rec.Outcome != engine.OutcomeChanged {
		t.Errorf("Unexpected record %+v", rec)
	}
	if fake.Services["mysql-app1"].Restarts != 1 {
		t.Errorf("Expected one restart, got %d", fake.Services["mysql-app1"].Restarts)
	}
	if diff := cmp.Diff([]string{"initctl status mysql-app1", "initctl status mysql-app1", "initctl restart mysql-app1"}, fake.Calls()); diff != "" {
		t.Errorf("Unexpected commands (-want +got):\n%s", diff)
	}
}

func TestProvider_ConvergeReload(t *testing.T) {
	fake, _ := newUbuntuHost(t)
	fake.Services["mysql-app1"] = &hosttest.Service{Running: true, Enabled: true}

	report, err := NewProvider(fake).Converge(context.Background(), ResourceDescriptor{ServiceName: "app1"}, ActionReload)
	if err != nil {
		t.Fatalf("Converge() error = %v", err)
	}
	if len(report.Records) != 1 || report.Records[0].Action != engine.ActionReload {
		t.Fatalf("Expected one reload record, got %+v", report.Records)
	}
	if fake.Services["mysql-app1"].Reloads != 1 {
		t.Errorf("Expected one reload, got %d", fake.Services["mysql-app1"].Reloads)
	}
}

func TestProvider_ConvergeRestartUnknownUnit(t *testing.T) {
	fake, _ := newUbuntuHost(t)

	report, err := NewProvider(fake).Converge(context.Background(), ResourceDescriptor{ServiceName: "app1"}, ActionRestart)
	if !engine.IsKind(err, engine.ErrorKindServiceManagement) {
		t.Fatalf("Expected service management failure, got %v", err)
	}
	if report.Status != engine.RunStatusFailed || report.Records[0].Outcome != engine.OutcomeFailed {
		t.Errorf("Expected failed report, got %+v", report)
	}
}

func TestProvider_TemplateSourceOverride(t *testing.T) {
	dir := t.TempDir()
	custom := filepath.Join(dir, "custom.cnf")
	if err := os.WriteFile(custom, []byte("[mysqld]\nport={{.Port}}\ndatadir={{.DataDir}}\n# custom\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	tests := []struct {
		name     string
		source   string
		contains string
	}{
		{name: "bundled template", source: "5.6/my.cnf", contains: "explicit_defaults_for_timestamp"},
		{name: "filesystem template", source: custom, contains: "# custom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake, _ := newUbuntuHost(t)
			desc := scenarioDescriptor()
			desc.TemplateSource = tt.source

			if _, err := NewProvider(fake).Converge(context.Background(), desc, ActionCreate); err != nil {
				t.Fatalf("Converge() error = %v", err)
			}
			config, _ := fake.File("/etc/mysql/my.app1.cnf")
			if !strings.Contains(string(config), tt.contains) || !strings.Contains(string(config), "port=3307") {
				t.Errorf("Expected config rendered from %s, got:\n%s", tt.source, config)
			}
		})
	}
}

func TestProvider_MissingTemplateSourceAborts(t *testing.T) {
	fake, _ := newUbuntuHost(t)
	desc := scenarioDescriptor()
	desc.TemplateSource = filepath.Join(t.TempDir(), "missing.cnf")

	report, err := NewProvider(fake).Converge(context.Background(), desc, ActionCreate)
	if !engine.IsKind(err, engine.ErrorKindTemplateRender) {
		t.Fatalf("Expected template render failure, got %v", err)
	}

	last := report.Records[len(report.Records)-1]
	if last.StepID != "template[/etc/mysql/my.app1.cnf]" || last.Outcome != engine.OutcomeFailed {
		t.Errorf("Expected config template to be the failed step, got %+v", last)
	}
	// The grants install was queued but the run aborted before the queue drained.
	if n := len(report.Executions("execute[install-grants-app1]")); n != 0 {
		t.Errorf("Expected queued notifications to be abandoned, got %d executions", n)
	}
	// Side effects already applied are kept.
	if !fake.Exists("/etc/mysql_grants-app1.sql") {
		t.Error("Expected earlier side effects to remain")
	}
}

func TestProvider_PackageNotFoundAborts(t *testing.T) {
	fake, _ := newUbuntuHost(t)
	delete(fake.Available, "mysql-server-5.5")
	desc := scenarioDescriptor()
	desc.Version = "5.5"

	report, err := NewProvider(fake).Converge(context.Background(), desc, ActionCreate)
	if !engine.IsKind(err, engine.ErrorKindPackageInstall) {
		t.Fatalf("Expected package install failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "package[mysql-server-5.5]") {
		t.Errorf("Expected error to name the failed step, got %q", err.Error())
	}
	if fake.Exists("/etc/init/mysql-app1.conf") {
		t.Error("Expected remaining steps not to run")
	}
	if len(report.Executions("template[/etc/init/mysql-app1.conf]")) != 0 {
		t.Error("Expected no record for steps after the failure")
	}
}

func TestProvider_GrantsFailureIsCommandFailure(t *testing.T) {
	fake, server := newUbuntuHost(t)
	server.rootPassword = "someone-else-set-this"
	desc := scenarioDescriptor()
	desc.ServerRootPassword = "s3cret"

	_, err := NewProvider(fake).Converge(context.Background(), desc, ActionCreate)
	if !engine.IsKind(err, engine.ErrorKindCommandExecution) {
		t.Fatalf("Expected command execution failure, got %v", err)
	}
	cerr := err.(*engine.ConvergenceError)
	if cerr.Step != "execute[install-grants-app1]" || cerr.ExitCode != 1 {
		t.Errorf("Unexpected error %+v", cerr)
	}
	if strings.Contains(cerr.Error(), "s3cret") {
		t.Errorf("Expected password to be redacted in %q", cerr.Error())
	}
}

func TestProvider_DryRun(t *testing.T) {
	fake, _ := newUbuntuHost(t)
	provider := NewProvider(fake, WithSequencerOptions(engine.WithDryRun(true)))

	report, err := provider.Converge(context.Background(), scenarioDescriptor(), ActionCreate)
	if err != nil {
		t.Fatalf("Converge() error = %v", err)
	}
	if !report.DryRun {
		t.Error("Expected dry-run report")
	}
	if fake.Exists("/etc/mysql/my.app1.cnf") || fake.Exists("/data/app1") {
		t.Error("Expected dry run not to touch the filesystem")
	}
	if n := len(fake.CallsTo("apt-get")); n != 0 {
		t.Errorf("Expected no installs in dry run, got %d", n)
	}
	if len(report.Executions("service[mysql-app1]")) != 2 {
		t.Errorf("Expected register and would-restart records, got %+v", report.Executions("service[mysql-app1]"))
	}
}

func TestProvider_InvalidDescriptor(t *testing.T) {
	fake, _ := newUbuntuHost(t)
	tests := []struct {
		name string
		desc ResourceDescriptor
	}{
		{name: "missing service name", desc: ResourceDescriptor{}},
		{name: "bad service name", desc: ResourceDescriptor{ServiceName: "app 1; rm"}},
		{name: "unsupported version", desc: ResourceDescriptor{ServiceName: "app1", Version: "8.0"}},
		{name: "port out of range", desc: ResourceDescriptor{ServiceName: "app1", Port: 70000}},
		{name: "relative data dir", desc: ResourceDescriptor{ServiceName: "app1", DataDir: "data"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := NewProvider(fake).Converge(context.Background(), tt.desc, ActionCreate)
			if !engine.IsKind(err, engine.ErrorKindInvalidDescriptor) {
				t.Errorf("Expected invalid descriptor error, got %v", err)
			}
			if report != nil {
				t.Error("Expected no report for an invalid descriptor")
			}
		})
	}
	if len(fake.Commands) != 0 {
		t.Errorf("Expected no commands, got %v", fake.Calls())
	}
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		in      string
		want    Action
		wantErr bool
	}{
		{in: "", want: ActionCreate},
		{in: "create", want: ActionCreate},
		{in: "restart", want: ActionRestart},
		{in: "reload", want: ActionReload},
		{in: "destroy", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseAction(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseAction(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseAction(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
