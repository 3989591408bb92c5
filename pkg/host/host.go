// Package host abstracts the machine a convergence run targets: command
// execution, filesystem access, the package manager and the service
// supervisor. Steps never touch the operating system directly.
package host

import (
	"context"
	"fmt"
	"io/fs"
	"time"
)

// Host executes commands and manipulates files on a target machine.
type Host interface {
	// Name identifies the host in logs (e.g. "local", "db1.example.com").
	Name() string

	// Run executes a command and blocks until it exits. A non-zero exit is
	// reported in the result, not as an error; an error means the command
	// could not be started or the transport failed.
	Run(ctx context.Context, cmd Command) (*CommandResult, error)

	// Stat returns file metadata. The error wraps fs.ErrNotExist when the
	// path does not exist.
	Stat(ctx context.Context, path string) (*FileInfo, error)

	// ReadFile returns the content of a file.
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// WriteFile replaces the content of a file. The parent directory must exist.
	WriteFile(ctx context.Context, path string, data []byte, mode fs.FileMode) error

	// MkdirAll creates a directory and any missing parents.
	MkdirAll(ctx context.Context, path string, mode fs.FileMode) error

	// Chmod sets permission bits.
	Chmod(ctx context.Context, path string, mode fs.FileMode) error

	// Chown sets owner and group by name.
	Chown(ctx context.Context, path string, owner, group string) error
}

// FileInfo describes a file on a host.
type FileInfo struct {
	// Path is the absolute path.
	Path string

	// IsDir is true for directories.
	IsDir bool

	// Mode holds the permission bits only.
	Mode fs.FileMode

	// Owner is the owning user name, or the numeric uid if it has no name.
	Owner string

	// Group is the owning group name, or the numeric gid if it has no name.
	Group string

	// Size is the file size in bytes.
	Size int64
}

// CommandResult is the outcome of a command that ran to completion.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Success returns true when the command exited with status 0.
func (r *CommandResult) Success() bool {
	return r.ExitCode == 0
}

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	// Command is the redacted command line.
	Command string

	// ExitCode is the exit status.
	ExitCode int

	// Stderr is the captured standard error.
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s: exit status %d: %s", e.Command, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("%s: exit status %d", e.Command, e.ExitCode)
}

// RunChecked runs a command and converts a non-zero exit into an *ExitError.
func RunChecked(ctx context.Context, h Host, cmd Command) (*CommandResult, error) {
	result, err := h.Run(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to run %s: %w", cmd.Redacted(), err)
	}
	if !result.Success() {
		return result, &ExitError{
			Command:  cmd.Redacted(),
			ExitCode: result.ExitCode,
			Stderr:   result.Stderr,
		}
	}
	return result, nil
}
