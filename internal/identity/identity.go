// Package identity holds the host's persisted identity and detects drift
// between the manifest on file and what the hardware reports.
package identity

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
)

// File permissions for the manifest.
const manifestPerm = 0o600

// Channel is the release channel stamped into the manifest.
type Channel int

const (
	// Production release.
	Production Channel = iota
	// ProductionCandidate release.
	ProductionCandidate
	// Beta release.
	Beta
	// Alpha release.
	Alpha
)

func (c Channel) String() string {
	switch c {
	case Production:
		return "P"
	case ProductionCandidate:
		return "RC"
	case Beta:
		return "b"
	default:
		return "a"
	}
}

var channelNames = map[Channel]string{
	Production:          "Production",
	ProductionCandidate: "ProductionCandidate",
	Beta:                "Beta",
	Alpha:               "Alpha",
}

// MarshalJSON stores the channel by name, matching the manifest format.
func (c Channel) MarshalJSON() ([]byte, error) {
	return json.Marshal(channelNames[c])
}

// UnmarshalJSON accepts a channel name.
func (c *Channel) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for ch, n := range channelNames {
		if n == name {
			*c = ch
			return nil
		}
	}
	return fmt.Errorf("unknown release channel %q", name)
}

// Version is the agent version stamp persisted in the manifest.
type Version struct {
	Number  float64 `json:"version_number"`
	Channel Channel `json:"version_code"`
}

func (v Version) String() string {
	return fmt.Sprintf("%.2f%s", v.Number, v.Channel)
}

// CurrentVersion is the compiled-in agent version.
var CurrentVersion = Version{Number: 1.10, Channel: ProductionCandidate}

// Identity is the host's identity record. MachineID and Version are
// invariant once a manifest exists; MachineMAC and MachineIP are expected
// to stay invariant, and divergence is an anomaly.
type Identity struct {
	ClientID   string  `json:"client_id"`
	MachineID  string  `json:"machine_id"`
	MachineMAC string  `json:"machine_mac"`
	MachineIP  string  `json:"machine_ip"`
	SSHEvents  uint64  `json:"ssh_events"`
	Version    Version `json:"system_version"`
}

func (id Identity) String() string {
	var b strings.Builder
	if id.ClientID != "" {
		fmt.Fprintf(&b, "client=%s ", id.ClientID)
	}
	if id.MachineID != "" {
		fmt.Fprintf(&b, "machine=%s ", id.MachineID)
	}
	if id.MachineMAC != "" {
		fmt.Fprintf(&b, "mac=%s ", id.MachineMAC)
	}
	if id.MachineIP != "" {
		fmt.Fprintf(&b, "ip=%s ", id.MachineIP)
	}
	fmt.Fprintf(&b, "version=%s", id.Version)
	return b.String()
}

// Store owns the shared identity record. Reads take a shared lock and
// writes an exclusive one; no lock is ever held across external I/O.
type Store struct {
	ident        Identity
	manifestPath string
	mu           sync.RWMutex
}

// Load builds the identity store from the manifest at path. A missing
// manifest is tolerated: a generic identity is synthesized from the probed
// MAC and IP and written back so first-run provisioning can complete.
func Load(path string) (*Store, error) {
	s := &Store{manifestPath: path}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &s.ident); err != nil {
			return nil, fmt.Errorf("parse manifest %s: %w", path, err)
		}
		// MAC and IP are probed live, never trusted from disk alone;
		// the manifest values are reconciled by the refresh task.
		if s.ident.MachineMAC == "" {
			s.ident.MachineMAC = ProbeMAC()
		}
		if s.ident.MachineIP == "" {
			s.ident.MachineIP = ProbeIP()
		}
		s.ident.SSHEvents = 0
	case os.IsNotExist(err):
		s.ident = Identity{
			MachineMAC: ProbeMAC(),
			MachineIP:  ProbeIP(),
			Version:    Version{Number: 0.00, Channel: Alpha},
		}
		if err := s.WriteManifest(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}

	return s, nil
}

// Snapshot returns a copy of the current identity.
func (s *Store) Snapshot() Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ident
}

// VersionMismatch reports whether the manifest version diverges from the
// compiled-in agent version. Treated as a warning-level integrity failure
// during startup checks.
func (s *Store) VersionMismatch() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ident.Version != CurrentVersion
}

// IncrementSSHEvents bumps the SSH event counter and returns the new value.
func (s *Store) IncrementSSHEvents() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ident.SSHEvents++
	return s.ident.SSHEvents
}

// WriteManifest persists the current identity to the manifest path.
func (s *Store) WriteManifest() error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.ident, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(s.manifestPath, data, manifestPerm); err != nil {
		return fmt.Errorf("write manifest %s: %w", s.manifestPath, err)
	}
	return nil
}

// readManifestIDs re-reads the persisted ids without touching probed fields.
func (s *Store) readManifestIDs() (clientID, machineID string, err error) {
	data, err := os.ReadFile(s.manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", "", nil
		}
		return "", "", fmt.Errorf("read manifest %s: %w", s.manifestPath, err)
	}
	var m Identity
	if err := json.Unmarshal(data, &m); err != nil {
		return "", "", fmt.Errorf("parse manifest %s: %w", s.manifestPath, err)
	}
	return m.ClientID, m.MachineID, nil
}

// ProbeMAC returns the MAC address of the first non-loopback interface.
func ProbeMAC() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		return iface.HardwareAddr.String()
	}
	return ""
}

// ProbeIP returns the primary non-loopback IPv4 address.
func ProbeIP() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if v4 := ipNet.IP.To4(); v4 != nil {
				return v4.String()
			}
		}
	}
	return ""
}
