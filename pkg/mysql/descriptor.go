// Package mysql converges a named MySQL service instance on Ubuntu: it
// declares the package, template, directory, command and service steps for
// the create, restart and reload actions and runs them through the engine.
package mysql

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/mysql-service/pkg/engine"
)

const (
	// DefaultVersion is used when a descriptor does not name a version.
	DefaultVersion = "5.7"

	// DefaultDataDir is the data directory the package initializes.
	DefaultDataDir = "/var/lib/mysql"

	// DefaultPort is the MySQL default TCP port.
	DefaultPort = 3306
)

// SupportedVersions lists the versions with bundled templates.
var SupportedVersions = []string{"5.5", "5.6", "5.7"}

var serviceNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// ResourceDescriptor is the desired state of one MySQL service instance.
// It is immutable for the duration of a run.
type ResourceDescriptor struct {
	// ServiceName names the instance; the supervisor unit is "mysql-<name>".
	ServiceName string `yaml:"service_name" json:"service_name" hcl:"name,label" validate:"required,max=64,servicename"`

	// Version selects the bundled templates (e.g. "5.7").
	Version string `yaml:"version,omitempty" json:"version,omitempty" hcl:"version,optional" validate:"required,oneof=5.5 5.6 5.7"`

	// PackageName is the server package; defaults to "mysql-server-<version>".
	PackageName string `yaml:"package_name,omitempty" json:"package_name,omitempty" hcl:"package_name,optional" validate:"required"`

	// DataDir is the instance data directory.
	DataDir string `yaml:"data_dir,omitempty" json:"data_dir,omitempty" hcl:"data_dir,optional" validate:"required,startswith=/"`

	// Port is the TCP port the instance listens on.
	Port int `yaml:"port,omitempty" json:"port,omitempty" hcl:"port,optional" validate:"required,min=1,max=65535"`

	// ServerRootPassword is the root password; empty leaves root without a password.
	ServerRootPassword string `yaml:"server_root_password,omitempty" json:"server_root_password,omitempty" hcl:"server_root_password,optional"`

	// ServerDebianPassword is the password of the debian-sys-maint maintenance user.
	ServerDebianPassword string `yaml:"server_debian_password,omitempty" json:"server_debian_password,omitempty" hcl:"server_debian_password,optional"`

	// TemplateSource overrides the main configuration template. It names a
	// bundled template (e.g. "5.6/my.cnf") or a file on the controller.
	TemplateSource string `yaml:"template_source,omitempty" json:"template_source,omitempty" hcl:"template_source,optional"`
}

// WithDefaults returns a copy with empty fields set to their defaults.
func (d ResourceDescriptor) WithDefaults() ResourceDescriptor {
	if d.Version == "" {
		d.Version = DefaultVersion
	}
	if d.PackageName == "" {
		d.PackageName = "mysql-server-" + d.Version
	}
	if d.DataDir == "" {
		d.DataDir = DefaultDataDir
	}
	if d.Port == 0 {
		d.Port = DefaultPort
	}
	return d
}

// ServiceUnit returns the per-instance supervisor unit name.
func (d ResourceDescriptor) ServiceUnit() string {
	return "mysql-" + d.ServiceName
}

// Redacted returns a copy with credentials masked, for logs and the journal.
func (d ResourceDescriptor) Redacted() ResourceDescriptor {
	if d.ServerRootPassword != "" {
		d.ServerRootPassword = redactedPassword
	}
	if d.ServerDebianPassword != "" {
		d.ServerDebianPassword = redactedPassword
	}
	return d
}

const redactedPassword = "******"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("servicename", func(fl validator.FieldLevel) bool {
		return serviceNamePattern.MatchString(fl.Field().String())
	})
	return v
}

// Validate checks the descriptor after defaults are applied.
func (d ResourceDescriptor) Validate() error {
	if err := validate.Struct(d); err != nil {
		return engine.NewError(engine.ErrorKindInvalidDescriptor, describeValidation(err), err).
			WithDetail("service_name", d.ServiceName)
	}
	return nil
}

func describeValidation(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return "descriptor validation failed"
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return "invalid descriptor: " + strings.Join(msgs, "; ")
}
