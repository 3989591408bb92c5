package mysql

import (
	"embed"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/openfroyo/mysql-service/pkg/resources"
)

//go:embed templates
var embedded embed.FS

// Templates holds the bundled templates, e.g. "5.7/my.cnf".
var Templates = mustSub(embedded, "templates")

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}

// TemplateData is the variable set passed to every template.
type TemplateData struct {
	ServiceName string
	Version     string
	PackageName string
	Port        int
	Prefix      string
	RunDir      string
	DataDir     string
	PidFile     string
	SocketFile  string
	IncludeDir  string

	RootPassword      string
	RootPasswordSQL   string
	DebianPassword    string
	DebianPasswordSQL string
}

func templateData(d ResourceDescriptor, p Paths) TemplateData {
	return TemplateData{
		ServiceName:       d.ServiceName,
		Version:           d.Version,
		PackageName:       d.PackageName,
		Port:              d.Port,
		Prefix:            PrefixDir,
		RunDir:            RunDir,
		DataDir:           d.DataDir,
		PidFile:           p.PidFile,
		SocketFile:        p.SocketFile,
		IncludeDir:        p.IncludeDir,
		RootPassword:      d.ServerRootPassword,
		RootPasswordSQL:   sqlString(d.ServerRootPassword),
		DebianPassword:    d.ServerDebianPassword,
		DebianPasswordSQL: sqlString(d.ServerDebianPassword),
	}
}

// sqlString escapes a value for use inside a single-quoted SQL literal.
func sqlString(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

// DefaultConfigTemplate returns the bundled main configuration template for a version.
func DefaultConfigTemplate(version string) string {
	return version + "/my.cnf"
}

// ConfigSource selects the main configuration template: the descriptor's
// override verbatim when set, otherwise the version default from bundled.
// An override that is not a bundled template is read from the filesystem.
func ConfigSource(d ResourceDescriptor, bundled fs.FS) resources.TemplateSource {
	if d.TemplateSource == "" {
		return resources.TemplateSource{FS: bundled, Name: DefaultConfigTemplate(d.Version)}
	}
	if _, err := fs.Stat(bundled, d.TemplateSource); err == nil {
		return resources.TemplateSource{FS: bundled, Name: d.TemplateSource}
	}

	abs, err := filepath.Abs(d.TemplateSource)
	if err != nil {
		abs = d.TemplateSource
	}
	return resources.TemplateSource{FS: os.DirFS(filepath.Dir(abs)), Name: filepath.Base(abs)}
}

func bundledSource(fsys fs.FS, name string) resources.TemplateSource {
	return resources.TemplateSource{FS: fsys, Name: name}
}
