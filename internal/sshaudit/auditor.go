// Package sshaudit scans the process table for SSH sessions, classifies
// their command lines, and raises audit alerts for logins by critical
// identities. Each session process is evaluated at most once.
package sshaudit

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/shirou/gopsutil/process"

	"fleetagent/internal/alert"
	"fleetagent/internal/identity"
)

// Bound on remembered session pids. The LRU keeps audit-once-per-process
// semantics while capping memory on long-lived agents.
const seenProcessBound = 4096

// Markers substituted for sshd's non-identifying process titles so they can
// never match a username.
const (
	authEventMarker   = "[auth event]"
	serverStartMarker = "[server start]"
)

// Proc is one process-table entry the auditor inspects.
type Proc struct {
	Name    string
	Cmdline string
	PID     int32
}

// ProcessLister returns the live process table. Tests substitute a fixture;
// production scans via gopsutil.
type ProcessLister func(ctx context.Context) ([]Proc, error)

// SystemProcesses lists the live process table.
func SystemProcesses(ctx context.Context) ([]Proc, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan process table: %w", err)
	}
	out := make([]Proc, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue // process exited mid-scan
		}
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil {
			continue
		}
		out = append(out, Proc{PID: p.Pid, Name: name, Cmdline: cmdline})
	}
	return out, nil
}

// Auditor deduplicates and classifies SSH login events.
type Auditor struct {
	seen          *simplelru.LRU[int32, struct{}]
	List          ProcessLister
	Ident         *identity.Store
	Sender        alert.Sender
	CriticalUsers []string
	// ProcessName matches SSH daemon processes by executable name.
	ProcessName string
	mu          sync.Mutex
}

// New returns an auditor for the given critical-user list.
func New(ident *identity.Store, sender alert.Sender, processName string, criticalUsers []string) (*Auditor, error) {
	seen, err := simplelru.NewLRU[int32, struct{}](seenProcessBound, nil)
	if err != nil {
		return nil, fmt.Errorf("create seen-process set: %w", err)
	}
	return &Auditor{
		seen:          seen,
		List:          SystemProcesses,
		Ident:         ident,
		Sender:        sender,
		ProcessName:   processName,
		CriticalUsers: criticalUsers,
	}, nil
}

// Run scans the process table once. Every sshd process not yet seen is
// classified; flagged logins raise an audit alert and bump the identity
// event counter. Unmatched processes are still marked seen so they are
// never re-evaluated.
func (a *Auditor) Run(ctx context.Context) error {
	procs, err := a.List(ctx)
	if err != nil {
		return err
	}

	for _, p := range procs {
		if !strings.Contains(p.Name, a.ProcessName) {
			continue
		}
		if !a.markSeen(p.PID) {
			continue
		}

		flagged, username := a.Classify(p.Cmdline)
		if !flagged {
			continue
		}
		if err := a.report(ctx, username); err != nil {
			return err
		}
	}
	return nil
}

// markSeen records a pid, reporting whether it was new.
func (a *Auditor) markSeen(pid int32) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.seen.Contains(pid) {
		return false
	}
	a.seen.Add(pid, struct{}{})
	return true
}

// Classify extracts the candidate username from an sshd command line and
// reports whether it matches the critical-user list. Known non-identifying
// titles are normalized first so they never match a username.
func (a *Auditor) Classify(cmdline string) (flagged bool, username string) {
	data := cmdline
	if strings.Contains(data, "[priv]") {
		data = authEventMarker
	}
	if strings.Contains(data, "[net]") {
		data = authEventMarker
	}
	if strings.Contains(data, "[listener]") {
		data = serverStartMarker
	}

	data = strings.ReplaceAll(data, "sshd:", "")
	data = strings.ReplaceAll(data, " ", "")
	candidate, _, _ := strings.Cut(data, "@")

	for _, user := range a.CriticalUsers {
		if candidate == user {
			return true, candidate
		}
	}
	return false, ""
}

func (a *Auditor) report(ctx context.Context, username string) error {
	ident := a.Ident.Snapshot()

	clientID := ident.ClientID
	if clientID == "" {
		clientID = "000000"
	}
	origin := "UNKNOWN"

	report := alert.Alert{
		Subject: "SSH ACCESS AUDIT HIGH IMPORTANCE",
		Body: fmt.Sprintf("SSH ACCESS NOTIFICATION\nAt %s THE HOST ais_%s.local WAS ACCESSED \nBY %s, FROM AN ORIGIN %s.",
			time.Now().Format(time.RFC3339), clientID, username, origin),
	}

	events := a.Ident.IncrementSSHEvents()
	log.Printf("[WARN] SSH events: %d", events)

	return a.Sender.Send(ctx, report)
}
