// Package services keeps the fixed roster of managed service units in a
// known-good state: it observes unit status through the service manager,
// detects transitions against the previous observation, restarts units that
// enter an error state, and alerts the operator.
package services

import (
	"sync"
	"time"
)

// Status is the last-observed state of a managed unit.
type Status int

const (
	// Running means the unit reported active.
	Running Status = iota
	// Stopped means the unit reported inactive.
	Stopped
	// Error means the unit's state could not be determined.
	Error
)

func (s Status) String() string {
	switch s {
	case Running:
		return "active"
	case Stopped:
		return "stopped"
	default:
		return "error"
	}
}

// Record is one observation of a managed unit.
type Record struct {
	ObservedAt  time.Time
	Unit        string
	Kind        string
	Status      Status
	MemoryBytes uint64
	Tasks       uint64
}

// Roster holds the last-observed records, one per managed unit. The whole
// roster is replaced atomically each cycle; comparisons always run against
// the snapshot taken before replacement.
type Roster struct {
	records []Record
	mu      sync.RWMutex
}

// NewRoster creates a roster from the initial observations.
func NewRoster(records []Record) *Roster {
	return &Roster{records: records}
}

// Snapshot returns a copy of the current records.
func (r *Roster) Snapshot() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// Replace swaps in a freshly observed set of records.
func (r *Roster) Replace(records []Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = records
}
