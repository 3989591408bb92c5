package policy

import (
	"github.com/openfroyo/mysql-service/pkg/mysql"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityWarning is reported but does not block a run unless requested.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the run.
	SeverityError Severity = "error"
)

// Policy is a Rego module whose deny set is evaluated against a descriptor.
type Policy struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Rego        string   `json:"rego"`
	Severity    Severity `json:"severity"`
	Enabled     bool     `json:"enabled"`

	// Source is the file the policy was loaded from; empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Violation is one element of a policy's deny set.
type Violation struct {
	Policy   string   `json:"policy"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`

	// Field names the descriptor field at fault, when the rule says so.
	Field string `json:"field,omitempty"`
}

// Result is the outcome of evaluating every enabled policy.
type Result struct {
	Violations []Violation `json:"violations"`

	// Evaluated lists the policies that ran, in name order.
	Evaluated []string `json:"evaluated"`
}

// Allowed reports whether no violation has error severity.
func (r *Result) Allowed() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityError {
			return false
		}
	}
	return true
}

// Denied reports whether a run must be refused. With strict set, warnings also deny.
func (r *Result) Denied(strict bool) bool {
	if strict {
		return len(r.Violations) > 0
	}
	return !r.Allowed()
}

// Input is the document policies see as input. Credentials are reduced to
// facts about them and never passed to policies verbatim.
type Input struct {
	Service ServiceInput `json:"service"`
	Action  string       `json:"action"`
	Host    string       `json:"host"`
}

// ServiceInput describes the instance after defaults are applied.
type ServiceInput struct {
	Name               string `json:"name"`
	Unit               string `json:"unit"`
	Version            string `json:"version"`
	PackageName        string `json:"package_name"`
	DataDir            string `json:"data_dir"`
	Port               int    `json:"port"`
	TemplateSource     string `json:"template_source"`
	HasRootPassword    bool   `json:"has_root_password"`
	RootPasswordLength int    `json:"root_password_length"`
	HasDebianPassword  bool   `json:"has_debian_password"`
}

// NewInput builds the policy input for a converge request.
func NewInput(d mysql.ResourceDescriptor, action mysql.Action, host string) Input {
	d = d.WithDefaults()
	return Input{
		Service: ServiceInput{
			Name:               d.ServiceName,
			Unit:               d.ServiceUnit(),
			Version:            d.Version,
			PackageName:        d.PackageName,
			DataDir:            d.DataDir,
			Port:               d.Port,
			TemplateSource:     d.TemplateSource,
			HasRootPassword:    d.ServerRootPassword != "",
			RootPasswordLength: len(d.ServerRootPassword),
			HasDebianPassword:  d.ServerDebianPassword != "",
		},
		Action: string(action),
		Host:   host,
	}
}
