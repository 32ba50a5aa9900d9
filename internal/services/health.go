package services

import (
	"context"
	"fmt"
	"log"

	"fleetagent/internal/alert"
)

// Absolute memory threshold above which a unit is reported every cycle it
// stays above. No hysteresis; the chatter is a known limitation.
const memoryAlertThreshold = 2 << 30 // 2 GiB

// Health is the per-cycle service reconciliation task.
type Health struct {
	Roster  *Roster
	Manager Manager
	Sender  alert.Sender
	// MachineID names this host in alert subjects.
	MachineID func() string
}

// Run observes every managed unit, compares against the previous roster,
// alerts on transitions, restarts units in an error state once, and finally
// replaces the roster wholesale. The comparison always uses the snapshot
// taken before any replacement.
func (h *Health) Run(ctx context.Context) error {
	previous := h.Roster.Snapshot()
	machine := h.MachineID()
	if machine == "" {
		machine = "unknown"
	}

	observed := make([]Record, 0, len(previous))
	for _, old := range previous {
		fresh, err := h.Manager.Query(ctx, old.Unit, old.Kind)
		if err != nil {
			return err
		}

		if fresh.Status != old.Status {
			if err := h.handleTransition(ctx, machine, old, fresh); err != nil {
				return err
			}
		}

		if fresh.MemoryBytes > memoryAlertThreshold {
			a := alert.Alert{
				Subject: "Warning",
				Body: fmt.Sprintf("The system: %s wants you to know that: %s is consuming "+
					"over 2G of resources. This should be safe to ignore.", machine, fresh.Unit),
			}
			if err := h.Sender.Send(ctx, a); err != nil {
				return err
			}
		}

		observed = append(observed, fresh)
	}

	h.Roster.Replace(observed)
	return nil
}

func (h *Health) handleTransition(ctx context.Context, machine string, old, fresh Record) error {
	switch fresh.Status {
	case Stopped:
		a := alert.Alert{
			Subject: fmt.Sprintf("%s: Service stopped", machine),
			Body:    fmt.Sprintf("The service %s stopped unexpectedly", fresh.Unit),
		}
		if err := h.Sender.Send(ctx, a); err != nil {
			return err
		}
		log.Printf("[WARN] Service %s has stopped, administrator notified", fresh.Unit)

	case Error:
		// Prepare the alert first, attempt exactly one restart, and only
		// send if the unit did not come back up.
		a := alert.Alert{
			Subject: fmt.Sprintf("%s: Service in an unknown state", machine),
			Body: fmt.Sprintf("The service %s stopped unexpectedly, "+
				"attempting the restart automatically.", fresh.Unit),
		}
		active, err := h.Manager.Restart(ctx, fresh.Unit)
		if err != nil {
			log.Printf("[WARN] Restart of %s failed: %v", fresh.Unit, err)
		}
		if active {
			log.Printf("[INFO] Service %s restarted successfully", fresh.Unit)
			return nil
		}
		if err := h.Sender.Send(ctx, a); err != nil {
			return err
		}
		log.Printf("[WARN] Service %s has entered an erroneous state, administrator notified", fresh.Unit)

	case Running:
		a := alert.Alert{
			Subject: fmt.Sprintf("%s: Service running", machine),
			Body: fmt.Sprintf("The system: %s is happy to report that the service: %s "+
				"has entered the state %s.", machine, fresh.Unit, fresh.Status),
		}
		if err := h.Sender.Send(ctx, a); err != nil {
			return err
		}
		log.Printf("[INFO] Service %s started", fresh.Unit)
	}
	return nil
}
