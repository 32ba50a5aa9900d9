// Package config holds the agent's runtime configuration: managed service
// units, the critical SSH user list, external endpoints and timing knobs.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ManagedService names one service unit the agent keeps healthy.
type ManagedService struct {
	// Unit is the service manager unit name, e.g. "apache2.service".
	Unit string `yaml:"unit"`
	// Kind is the role the unit plays on the host, e.g. "web-server".
	Kind string `yaml:"kind"`
}

// Config is the full agent configuration.
type Config struct {
	// RelayAddr is the mail relay host:port.
	RelayAddr string `yaml:"relay_addr"`
	// CipherSocket is the encryption daemon's unix socket path.
	CipherSocket string `yaml:"cipher_socket"`
	// ManifestPath is the persisted host identity manifest.
	ManifestPath string `yaml:"manifest_path"`
	// CredentialPath is the encrypted git credential store.
	CredentialPath string `yaml:"credential_path"`
	// SiteRoot is the directory that holds managed site checkouts.
	SiteRoot string `yaml:"site_root"`
	// SSHProcessName matches SSH daemon processes in the process table.
	SSHProcessName string `yaml:"ssh_process_name"`
	// CriticalUsers are SSH login identities that trigger an audit alert.
	CriticalUsers []string `yaml:"critical_users"`
	// Services is the fixed roster of managed units.
	Services []ManagedService `yaml:"services"`
	// CyclePause is the sleep between reconciliation cycles.
	CyclePause time.Duration `yaml:"cycle_pause"`
	// CycleTimeout bounds one cycle, including hung external commands.
	CycleTimeout time.Duration `yaml:"cycle_timeout"`
	// LivenessInterval is how often the background liveness notice fires.
	LivenessInterval time.Duration `yaml:"liveness_interval"`
}

// Parse reads a configuration from yaml bytes and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads a configuration from a yaml file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

func (c *Config) validate() error {
	if c.RelayAddr == "" {
		return fmt.Errorf("config: relay_addr is required")
	}
	if c.CipherSocket == "" {
		return fmt.Errorf("config: cipher_socket is required")
	}
	if len(c.Services) == 0 {
		return fmt.Errorf("config: at least one managed service is required")
	}
	for i, svc := range c.Services {
		if svc.Unit == "" {
			return fmt.Errorf("config: services[%d] has no unit name", i)
		}
	}
	if c.SSHProcessName == "" {
		c.SSHProcessName = "sshd"
	}
	if c.CyclePause <= 0 {
		c.CyclePause = time.Second
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = 5 * time.Minute
	}
	if c.LivenessInterval <= 0 {
		c.LivenessInterval = 10 * time.Minute
	}
	return nil
}
