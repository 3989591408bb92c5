package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"syscall"
	"time"
)

// LocalHost runs commands and file operations on the machine the process runs on.
type LocalHost struct{}

// NewLocalHost creates a host bound to the local machine.
func NewLocalHost() *LocalHost {
	return &LocalHost{}
}

// Name returns "local".
func (h *LocalHost) Name() string {
	return "local"
}

// Run executes the command directly without a shell.
func (h *LocalHost) Run(ctx context.Context, command Command) (*CommandResult, error) {
	if command.Path == "" {
		return nil, fmt.Errorf("command path is required")
	}

	cmd := exec.CommandContext(ctx, command.Path, command.Args...)
	if len(command.Env) > 0 {
		cmd.Env = append(os.Environ(), command.Env...)
	}

	switch {
	case command.StdinFile != "":
		f, err := os.Open(command.StdinFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open stdin file: %w", err)
		}
		defer f.Close()
		cmd.Stdin = f
	case command.Stdin != nil:
		cmd.Stdin = bytes.NewReader(command.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	result := &CommandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, fmt.Errorf("failed to execute command: %w", err)
	}

	return result, nil
}

// Stat returns file metadata with owner and group resolved to names.
func (h *LocalHost) Stat(ctx context.Context, path string) (*FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	fi := &FileInfo{
		Path:  path,
		IsDir: info.IsDir(),
		Mode:  info.Mode().Perm(),
		Size:  info.Size(),
	}

	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		fi.Owner = lookupUserName(stat.Uid)
		fi.Group = lookupGroupName(stat.Gid)
	}

	return fi, nil
}

// ReadFile reads a whole file.
func (h *LocalHost) ReadFile(ctx context.Context, path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFile writes through a temporary file in the same directory and renames
// it into place, so readers never observe a partial file.
func (h *LocalHost) WriteFile(ctx context.Context, path string, data []byte, mode fs.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Chmod(mode.Perm()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	// Preserve ownership of the file being replaced.
	if info, err := os.Stat(path); err == nil {
		if stat, ok := info.Sys().(*syscall.Stat_t); ok {
			_ = os.Chown(tmpName, int(stat.Uid), int(stat.Gid))
		}
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace file: %w", err)
	}
	return nil
}

// MkdirAll creates a directory tree.
func (h *LocalHost) MkdirAll(ctx context.Context, path string, mode fs.FileMode) error {
	return os.MkdirAll(path, mode.Perm())
}

// Chmod sets permission bits.
func (h *LocalHost) Chmod(ctx context.Context, path string, mode fs.FileMode) error {
	return os.Chmod(path, mode.Perm())
}

// Chown resolves owner and group names and applies them. An empty name
// leaves that attribute unchanged.
func (h *LocalHost) Chown(ctx context.Context, path string, owner, group string) error {
	uid, gid := -1, -1

	if owner != "" {
		u, err := user.Lookup(owner)
		if err != nil {
			return fmt.Errorf("failed to look up user %s: %w", owner, err)
		}
		uid, _ = strconv.Atoi(u.Uid)
	}
	if group != "" {
		g, err := user.LookupGroup(group)
		if err != nil {
			return fmt.Errorf("failed to look up group %s: %w", group, err)
		}
		gid, _ = strconv.Atoi(g.Gid)
	}

	return os.Chown(path, uid, gid)
}

func lookupUserName(uid uint32) string {
	id := strconv.FormatUint(uint64(uid), 10)
	if u, err := user.LookupId(id); err == nil {
		return u.Username
	}
	return id
}

func lookupGroupName(gid uint32) string {
	id := strconv.FormatUint(uint64(gid), 10)
	if g, err := user.LookupGroupId(id); err == nil {
		return g.Name
	}
	return id
}
