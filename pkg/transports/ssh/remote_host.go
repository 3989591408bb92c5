package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"
	"time"

	"al.essio.dev/pkg/shellescape"
	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"

	"github.com/openfroyo/mysql-service/pkg/host"
)

// RemoteHost implements host.Host over an SSH connection.
type RemoteHost struct {
	client *Client
}

var _ host.Host = (*RemoteHost)(nil)

// NewRemoteHost wraps a connected client.
func NewRemoteHost(client *Client) *RemoteHost {
	return &RemoteHost{client: client}
}

// Dial connects to the configured host and returns it as a host.Host.
func Dial(ctx context.Context, config *Config) (*RemoteHost, error) {
	client, err := NewClient(config)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return NewRemoteHost(client), nil
}

// Close closes the underlying connection.
func (h *RemoteHost) Close() error {
	return h.client.Close()
}

// Name returns the remote host name.
func (h *RemoteHost) Name() string {
	return h.client.config.Host
}

// commandLine renders the command for the remote shell. Arguments are
// escaped by host.Command, so the shell only interprets the stdin redirect.
func (h *RemoteHost) commandLine(command host.Command) string {
	line := command.String()
	if h.client.config.Sudo {
		line = "sudo -n sh -c " + shellescape.Quote(line)
	}
	return line
}

// Run executes the command in a new session.
func (h *RemoteHost) Run(ctx context.Context, command host.Command) (*host.CommandResult, error) {
	if command.Path == "" {
		return nil, fmt.Errorf("command path is required")
	}

	client, err := h.client.getClient()
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, &TransportError{
			Op:          "exec",
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
		}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if command.StdinFile == "" && command.Stdin != nil {
		session.Stdin = bytes.NewReader(command.Stdin)
	}

	log.Debug().
		Str("host", h.Name()).
		Str("command", command.Redacted()).
		Msg("executing command")

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- session.Run(h.commandLine(command))
	}()

	var execErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		_ = session.Close()
		return nil, &TransportError{Op: "exec", Err: ctx.Err()}
	case execErr = <-done:
	}

	result := &host.CommandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if execErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(execErr, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return nil, &TransportError{Op: "exec", Err: execErr, IsTemporary: true}
	}

	return result, nil
}

// Stat returns file metadata. Owner and group names are resolved on the
// remote host since SFTP only carries numeric ids.
func (h *RemoteHost) Stat(ctx context.Context, p string) (*host.FileInfo, error) {
	sc, err := h.client.sftpClient()
	if err != nil {
		return nil, err
	}

	info, err := sc.Stat(p)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: p, Err: err}
	}

	fi := &host.FileInfo{
		Path:  p,
		IsDir: info.IsDir(),
		Mode:  info.Mode().Perm(),
		Size:  info.Size(),
	}

	result, err := host.RunChecked(ctx, h, host.NewCommand("stat", "-c", "%U:%G", "--", p))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve owner of %s: %w", p, err)
	}
	owner, group, found := strings.Cut(strings.TrimSpace(result.Stdout), ":")
	if !found {
		return nil, fmt.Errorf("unexpected stat output for %s: %q", p, result.Stdout)
	}
	fi.Owner, fi.Group = owner, group

	return fi, nil
}

// ReadFile reads a whole file.
func (h *RemoteHost) ReadFile(ctx context.Context, p string) ([]byte, error) {
	sc, err := h.client.sftpClient()
	if err != nil {
		return nil, err
	}

	f, err := sc.Open(p)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: p, Err: err}
	}
	defer f.Close()

	return io.ReadAll(f)
}

// WriteFile uploads to a temporary file next to the target and renames it
// into place. Ownership of a replaced file is kept.
func (h *RemoteHost) WriteFile(ctx context.Context, p string, data []byte, mode fs.FileMode) error {
	sc, err := h.client.sftpClient()
	if err != nil {
		return err
	}

	tmpName := path.Join(path.Dir(p), "."+path.Base(p)+".tmp-"+uuid.NewString())
	f, err := sc.OpenFile(tmpName, os.O_WRONLY|os.O_CREATE|os.O_EXCL)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer func() { _ = sc.Remove(tmpName) }()

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := sc.Chmod(tmpName, mode.Perm()); err != nil {
		return fmt.Errorf("failed to set mode: %w", err)
	}

	if existing, err := sc.Stat(p); err == nil {
		if st, ok := existing.Sys().(*sftp.FileStat); ok {
			_ = sc.Chown(tmpName, int(st.UID), int(st.GID))
		}
	}

	if err := sc.PosixRename(tmpName, p); err != nil {
		return fmt.Errorf("failed to replace file: %w", err)
	}

	log.Debug().Str("host", h.Name()).Str("path", p).Int("bytes", len(data)).Msg("file uploaded")
	return nil
}

// MkdirAll creates a directory tree. The mode is applied to the leaf when
// it did not exist.
func (h *RemoteHost) MkdirAll(ctx context.Context, p string, mode fs.FileMode) error {
	sc, err := h.client.sftpClient()
	if err != nil {
		return err
	}

	if info, err := sc.Stat(p); err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%s exists and is not a directory", p)
		}
		return nil
	}

	if err := sc.MkdirAll(p); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", p, err)
	}
	return sc.Chmod(p, mode.Perm())
}

// Chmod sets permission bits.
func (h *RemoteHost) Chmod(ctx context.Context, p string, mode fs.FileMode) error {
	sc, err := h.client.sftpClient()
	if err != nil {
		return err
	}
	if err := sc.Chmod(p, mode.Perm()); err != nil {
		return &fs.PathError{Op: "chmod", Path: p, Err: err}
	}
	return nil
}

// Chown sets owner and group by name with the remote chown. An empty name
// leaves that attribute unchanged.
func (h *RemoteHost) Chown(ctx context.Context, p string, owner, group string) error {
	if owner == "" && group == "" {
		return nil
	}
	spec := owner
	if group != "" {
		spec += ":" + group
	}
	_, err := host.RunChecked(ctx, h, host.NewCommand("chown", spec, "--", p))
	return err
}
