package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/mysql-service/pkg/telemetry"
)

// AgentConfig is the configuration of the mysql-service agent.
type AgentConfig struct {
	Telemetry telemetry.Config `yaml:"telemetry"`
	Journal   JournalConfig    `yaml:"journal"`
	Policy    PolicyConfig     `yaml:"policy"`
	Target    TargetConfig     `yaml:"target"`
}

// JournalConfig configures the SQLite run journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"required_if=Enabled true"`
}

// PolicyConfig configures descriptor admission policies.
type PolicyConfig struct {
	// Dir holds additional .rego modules; the built-in rules always apply.
	Dir string `yaml:"dir"`

	// FailOnWarning rejects descriptors with warnings as well as denials.
	FailOnWarning bool `yaml:"fail_on_warning"`
}

// TargetConfig selects the host a run converges. An empty Host means the local machine.
type TargetConfig struct {
	Host                  string `yaml:"host" validate:"omitempty,hostname_rfc1123|ip"`
	Port                  int    `yaml:"port" validate:"omitempty,min=1,max=65535"`
	User                  string `yaml:"user" validate:"required_with=Host"`
	PrivateKeyPath        string `yaml:"private_key_path"`
	KnownHostsPath        string `yaml:"known_hosts_path"`
	StrictHostKeyChecking bool   `yaml:"strict_host_key_checking"`

	// Sudo elevates commands and file access for non-root logins.
	Sudo bool `yaml:"sudo"`

	// Supervisor selects the service manager on the target.
	Supervisor string `yaml:"supervisor" validate:"omitempty,oneof=upstart systemd"`
}

// DefaultAgentConfig returns the configuration used when no file is given.
func DefaultAgentConfig() *AgentConfig {
	return &AgentConfig{
		Telemetry: *telemetry.DefaultConfig(),
		Journal: JournalConfig{
			Enabled: true,
			Path:    defaultJournalPath(),
		},
		Target: TargetConfig{
			Port:                  22,
			StrictHostKeyChecking: true,
			Supervisor:            "upstart",
		},
	}
}

func defaultJournalPath() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "mysql-service", "journal.db")
	}
	return filepath.Join(os.TempDir(), "mysql-service-journal.db")
}

// LoadAgentConfig reads a YAML agent configuration on top of the defaults,
// then applies environment overrides. An empty path loads the defaults only.
func LoadAgentConfig(path string) (*AgentConfig, error) {
	cfg := DefaultAgentConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read agent config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, loadError(path, err)
		}
	}

	cfg.ApplyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv applies LOG_LEVEL and LOG_FORMAT overrides.
func (c *AgentConfig) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Telemetry.Logging.Level = v
	}
	if v, ok := lookup("LOG_FORMAT"); ok && v != "" {
		c.Telemetry.Logging.Format = v
	}
}

var agentValidator = validator.New()

// Validate checks the configuration.
func (c *AgentConfig) Validate() error {
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	if err := agentValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid agent config: %w", err)
	}
	return nil
}
