package host_test

import (
	"context"
	"testing"

	"github.com/openfroyo/mysql-service/pkg/host"
	"github.com/openfroyo/mysql-service/pkg/host/hosttest"
)

func TestApt_InstalledAndInstall(t *testing.T) {
	ctx := context.Background()
	fake := hosttest.New()
	fake.Available["mysql-server-5.7"] = "5.7.42-0ubuntu0.18.04.1"
	apt := host.NewApt(fake)

	installed, _, err := apt.Installed(ctx, "mysql-server-5.7")
	if err != nil {
		t.Fatalf("Installed() error = %v", err)
	}
	if installed {
		t.Fatal("Expected package to be absent")
	}

	if err := apt.Install(ctx, "mysql-server-5.7"); err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	installed, version, err := apt.Installed(ctx, "mysql-server-5.7")
	if err != nil {
		t.Fatalf("Installed() error = %v", err)
	}
	if !installed || version != "5.7.42-0ubuntu0.18.04.1" {
		t.Errorf("Expected installed 5.7.42, got %v %q", installed, version)
	}

	calls := fake.CallsTo("apt-get")
	if len(calls) != 1 {
		t.Fatalf("Expected 1 apt-get call, got %d", len(calls))
	}
	if len(calls[0].Env) != 1 || calls[0].Env[0] != "DEBIAN_FRONTEND=noninteractive" {
		t.Errorf("Expected noninteractive frontend, got %v", calls[0].Env)
	}
}

func TestApt_InstallUnknownPackage(t *testing.T) {
	apt := host.NewApt(hosttest.New())
	if err := apt.Install(context.Background(), "mysql-server-9.9"); err == nil {
		t.Fatal("Expected error for unknown package")
	}
}

func TestUpstart_Lifecycle(t *testing.T) {
	ctx := context.Background()
	fake := hosttest.New()
	upstart := host.NewUpstart(fake)

	status, err := upstart.Status(ctx, "mysql-app1")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Known {
		t.Fatal("Expected unknown job before conf exists")
	}

	fake.SetFile("/etc/init/mysql-app1.conf", []byte("exec /usr/sbin/mysqld\n"))
	fake.SetFile("/etc/init/mysql-app1.override", []byte("manual\n"))

	status, err = upstart.Status(ctx, "mysql-app1")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !status.Known || status.Running || status.Enabled {
		t.Errorf("Expected known, stopped, disabled job, got %+v", status)
	}

	if err := upstart.Enable(ctx, "mysql-app1"); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	// Restart of a stopped job starts it.
	if err := upstart.Restart(ctx, "mysql-app1"); err != nil {
		t.Fatalf("Restart() error = %v", err)
	}

	status, err = upstart.Status(ctx, "mysql-app1")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !status.Running || !status.Enabled {
		t.Errorf("Expected running, enabled job, got %+v", status)
	}
	if svc := fake.Services["mysql-app1"]; svc.Starts != 1 || svc.Restarts != 0 {
		t.Errorf("Expected one start and no restart, got %+v", svc)
	}

	if err := upstart.Restart(ctx, "mysql-app1"); err != nil {
		t.Fatalf("Restart() error = %v", err)
	}
	if fake.Services["mysql-app1"].Restarts != 1 {
		t.Errorf("Expected one restart, got %d", fake.Services["mysql-app1"].Restarts)
	}
}

func TestUpstart_ReloadUnknownJob(t *testing.T) {
	upstart := host.NewUpstart(hosttest.New())
	if err := upstart.Reload(context.Background(), "mysql-missing"); err == nil {
		t.Fatal("Expected error for unknown job")
	}
}

func TestSystemd_Status(t *testing.T) {
	ctx := context.Background()
	fake := hosttest.New()
	fake.Services["mysql"] = &hosttest.Service{Running: true}
	systemd := host.NewSystemd(fake)

	status, err := systemd.Status(ctx, "mysql")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !status.Known || !status.Running || status.Enabled {
		t.Errorf("Unexpected status %+v", status)
	}

	if err := systemd.Enable(ctx, "mysql"); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	if !fake.Services["mysql"].Enabled {
		t.Error("Expected unit to be enabled")
	}

	status, err = systemd.Status(ctx, "mysql-missing")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Known {
		t.Error("Expected missing unit to be unknown")
	}
}

func TestSystemd_UnitFileNeedsDaemonReload(t *testing.T) {
	ctx := context.Background()
	fake := hosttest.New()
	fake.SetFile("/etc/init/mysql-app1.conf", []byte("exec /usr/sbin/mysqld\n"))
	systemd := host.NewSystemd(fake)

	status, err := systemd.Status(ctx, "mysql-app1")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Known {
		t.Error("Expected an upstart job to be unknown to systemd")
	}

	fake.SetFile("/etc/systemd/system/mysql-app1.service", []byte("[Service]\n"))
	if status, _ := systemd.Status(ctx, "mysql-app1"); status.Known {
		t.Error("Expected unit to stay unknown until daemon-reload")
	}

	if _, err := host.RunChecked(ctx, fake, host.NewCommand("systemctl", "daemon-reload")); err != nil {
		t.Fatalf("daemon-reload error = %v", err)
	}
	status, err = systemd.Status(ctx, "mysql-app1")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !status.Known || status.Running {
		t.Errorf("Expected a known stopped unit, got %+v", status)
	}
	if err := systemd.Restart(ctx, "mysql-app1"); err != nil {
		t.Fatalf("Restart() error = %v", err)
	}
	if !fake.Services["mysql-app1"].Running {
		t.Error("Expected unit to run after restart")
	}
}

func TestNewServiceManager(t *testing.T) {
	fake := hosttest.New()
	for _, name := range []string{"", "upstart", "systemd"} {
		if _, err := host.NewServiceManager(name, fake); err != nil {
			t.Errorf("NewServiceManager(%q) error = %v", name, err)
		}
	}
	if _, err := host.NewServiceManager("runit", fake); err == nil {
		t.Error("Expected error for unsupported supervisor")
	}
}
