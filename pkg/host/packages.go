package host

import (
	"context"
	"fmt"
	"strings"
)

// PackageManager queries and installs operating system packages.
type PackageManager interface {
	// Installed reports whether the package is installed and its version.
	Installed(ctx context.Context, name string) (bool, string, error)

	// Install installs the package non-interactively.
	Install(ctx context.Context, name string) error
}

// Apt manages Debian packages through dpkg-query and apt-get.
type Apt struct {
	host Host
}

// NewApt creates an apt package manager on the given host.
func NewApt(h Host) *Apt {
	return &Apt{host: h}
}

// Installed queries dpkg for the package status. Packages that dpkg knows but
// that are not fully installed (removed, half-configured) report false.
func (a *Apt) Installed(ctx context.Context, name string) (bool, string, error) {
	if name == "" {
		return false, "", fmt.Errorf("package name is required")
	}

	cmd := NewCommand("dpkg-query", "-W", "-f=${db:Status-Status} ${Version}", name)
	result, err := a.host.Run(ctx, cmd)
	if err != nil {
		return false, "", fmt.Errorf("failed to query package %s: %w", name, err)
	}
	if !result.Success() {
		// dpkg-query exits 1 for unknown packages
		return false, "", nil
	}

	status, version, _ := strings.Cut(strings.TrimSpace(result.Stdout), " ")
	if status != "installed" {
		return false, "", nil
	}
	return true, version, nil
}

// Install runs apt-get install with debconf set to non-interactive so that
// preseeded answers are used.
func (a *Apt) Install(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("package name is required")
	}

	cmd := NewCommand("apt-get", "install", "-y", "-q", name).
		WithEnv("DEBIAN_FRONTEND=noninteractive")
	if _, err := RunChecked(ctx, a.host, cmd); err != nil {
		return fmt.Errorf("failed to install package %s: %w", name, err)
	}
	return nil
}
