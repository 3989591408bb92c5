package resources

import (
	"context"
	"io/fs"

	"github.com/openfroyo/mysql-service/pkg/host"
)

// Attributes are the ownership and permission bits of a file or directory.
// Empty Owner or Group leave that attribute unmanaged; a zero Mode leaves
// the mode unmanaged.
type Attributes struct {
	Owner string
	Group string
	Mode  fs.FileMode
}

// drift reports whether the current file info differs from the desired attributes.
func (a Attributes) drift(info *host.FileInfo) bool {
	if a.Owner != "" && info.Owner != a.Owner {
		return true
	}
	if a.Group != "" && info.Group != a.Group {
		return true
	}
	return a.Mode != 0 && info.Mode != a.Mode.Perm()
}

// converge applies the attributes to path.
func (a Attributes) converge(ctx context.Context, h host.Host, path string) error {
	if a.Owner != "" || a.Group != "" {
		if err := h.Chown(ctx, path, a.Owner, a.Group); err != nil {
			return err
		}
	}
	if a.Mode != 0 {
		if err := h.Chmod(ctx, path, a.Mode); err != nil {
			return err
		}
	}
	return nil
}

func (a Attributes) mode(fallback fs.FileMode) fs.FileMode {
	if a.Mode != 0 {
		return a.Mode
	}
	return fallback
}
