package ssh

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/mysql-service/pkg/host"
)

func setupRemoteHost(t *testing.T) *RemoteHost {
	t.Helper()

	server := newTestSSHServer(t)
	h, err := Dial(context.Background(), server.clientConfig())
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestRemoteHost_Run(t *testing.T) {
	h := setupRemoteHost(t)
	ctx := context.Background()

	stdinFile := filepath.Join(t.TempDir(), "grants.sql")
	if err := os.WriteFile(stdinFile, []byte("GRANT ALL;\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		cmd        host.Command
		wantExit   int
		wantStdout string
		wantStderr string
	}{
		{
			name:       "stdout",
			cmd:        host.NewCommand("echo", "test"),
			wantStdout: "test\n",
		},
		{
			name:       "stderr",
			cmd:        host.NewCommand("sh", "-c", "echo error >&2"),
			wantStderr: "error\n",
		},
		{
			name:     "non-zero exit",
			cmd:      host.NewCommand("sh", "-c", "exit 3"),
			wantExit: 3,
		},
		{
			name:       "metacharacters stay literal",
			cmd:        host.NewCommand("echo", "p@ss;rm -rf $(reboot)"),
			wantStdout: "p@ss;rm -rf $(reboot)\n",
		},
		{
			name:       "stdin bytes",
			cmd:        host.Command{Path: "cat", Stdin: []byte("hello")},
			wantStdout: "hello",
		},
		{
			name:       "stdin file",
			cmd:        host.NewCommand("cat").WithStdinFile(stdinFile),
			wantStdout: "GRANT ALL;\n",
		},
		{
			name:       "environment",
			cmd:        host.NewCommand("sh", "-c", "echo $DEBIAN_FRONTEND").WithEnv("DEBIAN_FRONTEND=noninteractive"),
			wantStdout: "noninteractive\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := h.Run(ctx, tt.cmd)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if result.ExitCode != tt.wantExit {
				t.Errorf("Expected exit %d, got %d", tt.wantExit, result.ExitCode)
			}
			if result.Stdout != tt.wantStdout {
				t.Errorf("Expected stdout %q, got %q", tt.wantStdout, result.Stdout)
			}
			if result.Stderr != tt.wantStderr {
				t.Errorf("Expected stderr %q, got %q", tt.wantStderr, result.Stderr)
			}
		})
	}
}

func TestRemoteHost_RunCancelled(t *testing.T) {
	h := setupRemoteHost(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := h.Run(ctx, host.NewCommand("sleep", "2"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestRemoteHost_RunRequiresPath(t *testing.T) {
	h := setupRemoteHost(t)
	if _, err := h.Run(context.Background(), host.Command{}); err == nil {
		t.Error("Expected error for empty command")
	}
}

func TestRemoteHost_CommandLine(t *testing.T) {
	cmd := host.NewCommand("/usr/bin/mysql", "-u", "root").WithStdinFile("/etc/mysql_grants-app1.sql")

	h := NewRemoteHost(&Client{config: &Config{Host: "db1"}})
	if got, want := h.commandLine(cmd), "/usr/bin/mysql -u root < /etc/mysql_grants-app1.sql"; got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}

	h = NewRemoteHost(&Client{config: &Config{Host: "db1", Sudo: true}})
	want := `sudo -n sh -c '/usr/bin/mysql -u root < /etc/mysql_grants-app1.sql'`
	if got := h.commandLine(cmd); got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
	if h.Name() != "db1" {
		t.Errorf("Expected name db1, got %s", h.Name())
	}
}

func TestRemoteHost_Files(t *testing.T) {
	h := setupRemoteHost(t)
	ctx := context.Background()
	dir := t.TempDir()

	nested := filepath.Join(dir, "etc", "mysql", "app1.conf.d")
	if err := h.MkdirAll(ctx, nested, 0o750); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	// Existing directories are left alone.
	if err := h.MkdirAll(ctx, nested, 0o700); err != nil {
		t.Fatalf("second MkdirAll() error = %v", err)
	}

	info, err := h.Stat(ctx, nested)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if !info.IsDir || info.Mode != 0o750 {
		t.Errorf("Expected directory with mode 0750, got dir=%v mode=%o", info.IsDir, info.Mode)
	}

	file := filepath.Join(dir, "etc", "mysql", "my.app1.cnf")
	if err := h.WriteFile(ctx, file, []byte("[mysqld]\nport = 3307\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := h.WriteFile(ctx, file, []byte("[mysqld]\nport = 3308\n"), 0o640); err != nil {
		t.Fatalf("second WriteFile() error = %v", err)
	}

	data, err := h.ReadFile(ctx, file)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "[mysqld]\nport = 3308\n" {
		t.Errorf("Unexpected content %q", data)
	}

	info, err = h.Stat(ctx, file)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.IsDir || info.Mode != 0o640 || info.Size != int64(len(data)) {
		t.Errorf("Unexpected file info %+v", info)
	}

	current, err := user.Current()
	if err != nil {
		t.Skipf("cannot resolve current user: %v", err)
	}
	if info.Owner != current.Username {
		t.Errorf("Expected owner %s, got %s", current.Username, info.Owner)
	}

	if err := h.Chmod(ctx, file, 0o644); err != nil {
		t.Fatalf("Chmod() error = %v", err)
	}
	if st, _ := os.Stat(file); st.Mode().Perm() != 0o644 {
		t.Errorf("Expected mode 0644, got %o", st.Mode().Perm())
	}

	group, err := user.LookupGroupId(current.Gid)
	if err != nil {
		t.Skipf("cannot resolve current group: %v", err)
	}
	if err := h.Chown(ctx, file, current.Username, group.Name); err != nil {
		t.Fatalf("Chown() error = %v", err)
	}

	entries, err := os.ReadDir(filepath.Dir(file))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("Expected temporary file cleaned up, found %s", e.Name())
		}
	}
}

func TestRemoteHost_Missing(t *testing.T) {
	h := setupRemoteHost(t)
	ctx := context.Background()
	missing := filepath.Join(t.TempDir(), "ibdata1")

	if _, err := h.Stat(ctx, missing); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Expected fs.ErrNotExist from Stat, got %v", err)
	}
	if _, err := h.ReadFile(ctx, missing); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Expected fs.ErrNotExist from ReadFile, got %v", err)
	}

	err := h.Chown(ctx, missing, "root", "root")
	var exitErr *host.ExitError
	if !errors.As(err, &exitErr) {
		t.Errorf("Expected ExitError from chown, got %v", err)
	}
}
