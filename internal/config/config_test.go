package config

import (
	"path/filepath"
	"testing"
	"time"
)

const minimalConfig = `
relay_addr: "10.1.0.11:1827"
cipher_socket: /var/run/dusa/dusa.sock
services:
  - unit: apache2.service
    kind: web-server
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalConfig))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.SSHProcessName != "sshd" {
		t.Errorf("SSHProcessName default = %q, want sshd", cfg.SSHProcessName)
	}
	if cfg.CyclePause != time.Second {
		t.Errorf("CyclePause default = %v, want 1s", cfg.CyclePause)
	}
	if cfg.CycleTimeout != 5*time.Minute {
		t.Errorf("CycleTimeout default = %v, want 5m", cfg.CycleTimeout)
	}
	if cfg.LivenessInterval != 10*time.Minute {
		t.Errorf("LivenessInterval default = %v, want 10m", cfg.LivenessInterval)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing relay", "cipher_socket: /s\nservices:\n  - unit: a.service\n"},
		{"missing cipher socket", "relay_addr: r:1\nservices:\n  - unit: a.service\n"},
		{"no services", "relay_addr: r:1\ncipher_socket: /s\n"},
		{"nameless unit", "relay_addr: r:1\ncipher_socket: /s\nservices:\n  - kind: web-server\n"},
		{"malformed yaml", "relay_addr: [unclosed\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Errorf("Parse accepted invalid config:\n%s", tt.yaml)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load must fail for a missing file")
	}
}

// TestEmbeddedDefaults parses the configuration shipped inside the binary and
// checks it pins the production endpoints and full service roster.
func TestEmbeddedDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "cmd", "agent", "agent.yaml"))
	if err != nil {
		t.Fatalf("Failed to load embedded config: %v", err)
	}

	if cfg.RelayAddr != "10.1.0.11:1827" {
		t.Errorf("RelayAddr = %q", cfg.RelayAddr)
	}
	if cfg.CipherSocket != "/var/run/dusa/dusa.sock" {
		t.Errorf("CipherSocket = %q", cfg.CipherSocket)
	}
	if cfg.ManifestPath != "/etc/artisan.manifest" {
		t.Errorf("ManifestPath = %q", cfg.ManifestPath)
	}
	if cfg.CredentialPath != "/etc/artisan.cf" {
		t.Errorf("CredentialPath = %q", cfg.CredentialPath)
	}

	if len(cfg.CriticalUsers) != 3 {
		t.Errorf("Expected 3 critical users, got %v", cfg.CriticalUsers)
	}
	if len(cfg.Services) != 6 {
		t.Fatalf("Expected 6 managed services, got %d", len(cfg.Services))
	}
	for i, svc := range cfg.Services {
		if svc.Unit == "" || svc.Kind == "" {
			t.Errorf("services[%d] incomplete: %+v", i, svc)
		}
	}
}
