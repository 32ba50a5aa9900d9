// Package scheduler drives the reconciliation cycle: one task per loop is
// spawned each cycle, all tasks are joined before the next cycle begins,
// and a single task's failure never stops its siblings or the process.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"fleetagent/internal/faults"
	"fleetagent/internal/identity"
)

// Task is one reconciliation loop. Run returns a terminal action (almost
// always none) and an error that is logged, never fatal to the cycle.
type Task struct {
	Run  func(ctx context.Context) (identity.Action, error)
	Name string
}

// Plain wraps a task that can never demand a terminal action.
func Plain(name string, run func(ctx context.Context) error) Task {
	return Task{
		Name: name,
		Run: func(ctx context.Context) (identity.Action, error) {
			return identity.ActionNone, run(ctx)
		},
	}
}

// Scheduler owns the cycle loop.
type Scheduler struct {
	// Reboot performs the host reboot demanded by a terminal action.
	// Injected so tests can intercept it.
	Reboot func() error
	Tasks  []Task
	// CyclePause is the sleep between cycles.
	CyclePause time.Duration
	// CycleTimeout bounds one cycle, including hung external commands.
	CycleTimeout time.Duration
	// LivenessInterval is how often the background liveness notice fires,
	// to distinguish "quiet but alive" from "hung".
	LivenessInterval time.Duration
}

type taskResult struct {
	err    error
	name   string
	action identity.Action
}

// Run cycles forever until ctx is cancelled. Each cycle spawns every task
// concurrently, joins them all, logs per-task failures, executes any
// terminal action, and pauses briefly.
func (s *Scheduler) Run(ctx context.Context) error {
	go s.liveness(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Print("[INFO] Scheduler stopping")
			return ctx.Err()
		default:
		}

		if action := s.cycle(ctx); action == identity.ActionReboot {
			log.Print("[ERROR] Terminal action demanded: rebooting host")
			if err := s.Reboot(); err != nil {
				log.Printf("[ERROR] Reboot failed: %v", err)
				return err
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.CyclePause):
		}
	}
}

// cycle runs every task once and returns the strongest terminal action any
// of them demanded.
func (s *Scheduler) cycle(ctx context.Context) identity.Action {
	cycleCtx, cancel := context.WithTimeout(ctx, s.CycleTimeout)
	defer cancel()

	results := make([]taskResult, len(s.Tasks))
	var wg sync.WaitGroup
	for i, task := range s.Tasks {
		wg.Add(1)
		go func(i int, task Task) {
			defer wg.Done()
			action, err := task.Run(cycleCtx)
			results[i] = taskResult{name: task.Name, action: action, err: err}
		}(i, task)
	}
	wg.Wait()

	terminal := identity.ActionNone
	for _, res := range results {
		if res.err != nil {
			log.Printf("[WARN] Task %s failed (%s): %v",
				res.name, faults.SeverityOf(res.err), res.err)
		}
		if res.action == identity.ActionReboot {
			terminal = identity.ActionReboot
		}
	}
	return terminal
}

func (s *Scheduler) liveness(ctx context.Context) {
	ticker := time.NewTicker(s.LivenessInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Print("[INFO] Operational")
		}
	}
}
