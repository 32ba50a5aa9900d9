package identity

import (
	"context"
	"fmt"
	"log"

	"fleetagent/internal/alert"
)

// Action is the terminal action a refresh can demand. The scheduler, not
// this package, executes it.
type Action int

const (
	// ActionNone means the host keeps operating normally.
	ActionNone Action = iota
	// ActionReboot means the host must be rebooted immediately.
	ActionReboot
)

// Probes supplies fresh hardware observations. Tests substitute fixed
// values; production uses the net package probes.
type Probes struct {
	MAC func() string
	IP  func() string
}

// DefaultProbes probes the live network interfaces.
func DefaultProbes() Probes {
	return Probes{MAC: ProbeMAC, IP: ProbeIP}
}

// Refresh re-probes the local MAC and primary IPv4 address, re-reads the
// persisted ids, and compares fresh values against the stored ones. An IP
// mismatch is recoverable (DHCP renewal) and raises a warning; a MAC
// mismatch means the manifest may be bound to different hardware than is
// running, so the refresh demands a reboot after alerting.
func (s *Store) Refresh(ctx context.Context, probes Probes, sender alert.Sender) (Action, error) {
	freshMAC := probes.MAC()
	freshIP := probes.IP()
	clientID, machineID, err := s.readManifestIDs()
	if err != nil {
		return ActionNone, err
	}

	s.mu.Lock()
	if clientID != "" {
		s.ident.ClientID = clientID
	}
	if machineID != "" {
		s.ident.MachineID = machineID
	}
	storedMAC := s.ident.MachineMAC
	storedIP := s.ident.MachineIP
	storedMachine := s.ident.MachineID
	s.mu.Unlock()

	if storedMachine == "" {
		storedMachine = "unknown"
	}

	if storedIP != freshIP {
		a := alert.Alert{
			Subject: "Error Occurred",
			Body: fmt.Sprintf("The system: %s has encountered an error. "+
				"The assigned IP address is not respected (expected %s, observed %s).",
				storedMachine, storedIP, freshIP),
		}
		if err := sender.Send(ctx, a); err != nil {
			return ActionNone, err
		}
		log.Printf("[WARN] Host IP drifted from %s to %s, administrator notified", storedIP, freshIP)
	}

	if storedMAC != freshMAC {
		a := alert.Alert{
			Subject: "SOMETHING IS REALLY WRONG",
			Body: fmt.Sprintf("The system: %s has encountered a major error. "+
				"The MAC address on file is not the MAC address the system is reporting. "+
				"The system is going offline.", storedMachine),
		}
		if err := sender.Send(ctx, a); err != nil {
			log.Printf("[ERROR] Failed to send MAC mismatch alert: %v", err)
		}
		return ActionReboot, nil
	}

	return ActionNone, nil
}
