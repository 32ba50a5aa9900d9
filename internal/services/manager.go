package services

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"fleetagent/internal/faults"
)

const (
	// systemctl invocation timeout.
	systemctlTimeout = 15 * time.Second
)

// Manager queries and restarts units. Exit status and output are the only
// signals systemctl gives us.
type Manager interface {
	Query(ctx context.Context, unit, kind string) (Record, error)
	// Restart restarts the unit and reports whether it is active afterwards.
	Restart(ctx context.Context, unit string) (bool, error)
}

// SystemdManager drives the systemctl command-line tool.
type SystemdManager struct{}

// Query reads the unit's active state, memory usage and task count.
// A unit whose state cannot be read at all is reported with Status Error
// rather than failing the whole roster pass.
func (SystemdManager) Query(ctx context.Context, unit, kind string) (Record, error) {
	rec := Record{Unit: unit, Kind: kind, ObservedAt: time.Now().UTC()}

	out, err := runSystemctl(ctx, "show", unit,
		"--property=ActiveState,MemoryCurrent,TasksCurrent,MainPID")
	if err != nil {
		log.Printf("[WARN] systemctl show %s failed: %v", unit, err)
		rec.Status = Error
		return rec, nil
	}

	props := parseProperties(out)
	switch props["ActiveState"] {
	case "active":
		rec.Status = Running
	case "":
		rec.Status = Error
	default:
		rec.Status = Stopped
	}
	rec.MemoryBytes = parseCounter(props["MemoryCurrent"])
	if tasks := parseCounter(props["TasksCurrent"]); tasks > 0 {
		rec.Tasks = tasks
	} else {
		rec.Tasks = parseCounter(props["MainPID"])
	}
	return rec, nil
}

// Restart restarts the unit, then re-checks whether it came back up.
func (SystemdManager) Restart(ctx context.Context, unit string) (bool, error) {
	if _, err := runSystemctl(ctx, "restart", unit); err != nil {
		return false, faults.Wrap(faults.CommandFailed, faults.NotFatal, "services",
			fmt.Errorf("restart %s: %w", unit, err))
	}
	out, err := runSystemctl(ctx, "is-active", unit)
	if err != nil {
		// is-active exits nonzero for inactive units; that is an answer,
		// not a failure.
		return false, nil
	}
	return strings.TrimSpace(out) == "active", nil
}

func runSystemctl(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, systemctlTimeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, "systemctl", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("systemctl %v failed: %w\n%s", args, err, output)
	}
	log.Printf("[DEBUG] systemctl %v completed in %v", args, time.Since(start))
	return string(output), nil
}

func parseProperties(out string) map[string]string {
	props := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		key, value, found := strings.Cut(strings.TrimSpace(line), "=")
		if found {
			props[key] = value
		}
	}
	return props
}

// parseCounter handles systemd counters that may read "[not set]" or
// 18446744073709551615 (unset sentinel) on units without accounting.
func parseCounter(s string) uint64 {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil || n == ^uint64(0) {
		return 0
	}
	return n
}
