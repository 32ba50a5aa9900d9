// Package gitsync drives the git command-line tool through an enumerated
// action machine. Exit status and stderr are the only failure signals git
// gives us; failure output is carried inside the returned error. Actions
// never retry internally — retry, if any, happens one scheduler cycle later.
package gitsync

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"fleetagent/internal/faults"
)

// Git command timeout.
const gitTimeout = 60 * time.Second

// Op enumerates the git actions the engine can run.
type Op int

const (
	// OpClone clones RepoURL into Dest.
	OpClone Op = iota
	// OpPull pulls Dest and then switches to Branch, so a successful pull
	// always leaves the checkout on the intended branch.
	OpPull
	// OpPush pushes Dest.
	OpPush
	// OpStage stages Files in Dest.
	OpStage
	// OpCommit commits staged changes in Dest with Message.
	OpCommit
	// OpSwitch switches Dest to Branch.
	OpSwitch
	// OpCheckRemoteAhead fetches and reports whether the upstream commit
	// differs from local HEAD.
	OpCheckRemoteAhead
)

func (o Op) String() string {
	switch o {
	case OpClone:
		return "clone"
	case OpPull:
		return "pull"
	case OpPush:
		return "push"
	case OpStage:
		return "stage"
	case OpCommit:
		return "commit"
	case OpSwitch:
		return "switch"
	case OpCheckRemoteAhead:
		return "check-remote-ahead"
	default:
		return "unknown"
	}
}

// Action is one git operation on a checkout.
type Action struct {
	Op      Op
	RepoURL string
	Dest    string
	Branch  string
	Message string
	Files   []string
}

// Engine executes git actions. The git tool's presence is checked once,
// before the first action.
type Engine struct {
	toolOnce sync.Once
	toolErr  error
}

// New returns a git engine.
func New() *Engine {
	return &Engine{}
}

// EnsureTool verifies the git binary is present and runnable. The result is
// cached for the life of the engine.
func (e *Engine) EnsureTool(ctx context.Context) error {
	e.toolOnce.Do(func() {
		ctx, cancel := context.WithTimeout(ctx, gitTimeout)
		defer cancel()
		if err := exec.CommandContext(ctx, "git", "--version").Run(); err != nil {
			e.toolErr = faults.Wrap(faults.ToolMissing, faults.NotFatal, "gitsync",
				fmt.Errorf("git not installed: %w", err))
		}
	})
	return e.toolErr
}

// Execute runs one action. For OpCheckRemoteAhead the returned bool reports
// whether the remote is ahead; for every other action it reports success.
func (e *Engine) Execute(ctx context.Context, a Action) (bool, error) {
	if err := e.EnsureTool(ctx); err != nil {
		return false, err
	}
	if a.Op != OpClone {
		if err := destPresent(a.Dest); err != nil {
			return false, err
		}
	}

	switch a.Op {
	case OpClone:
		return e.run(ctx, "clone", a.RepoURL, a.Dest)
	case OpPull:
		if ok, err := e.run(ctx, "-C", a.Dest, "pull"); err != nil || !ok {
			return ok, err
		}
		return e.run(ctx, "-C", a.Dest, "switch", a.Branch)
	case OpPush:
		return e.run(ctx, "-C", a.Dest, "push")
	case OpStage:
		args := append([]string{"-C", a.Dest, "add"}, a.Files...)
		return e.run(ctx, args...)
	case OpCommit:
		return e.run(ctx, "-C", a.Dest, "commit", "-m", a.Message)
	case OpSwitch:
		return e.run(ctx, "-C", a.Dest, "switch", a.Branch)
	case OpCheckRemoteAhead:
		return e.checkRemoteAhead(ctx, a.Dest)
	default:
		return false, faults.New(faults.System, faults.NotFatal, "gitsync",
			fmt.Sprintf("unknown git action %d", a.Op))
	}
}

// checkRemoteAhead fetches, then compares the resolved local HEAD commit
// against the upstream-tracking commit. The comparison is textual, not an
// ancestry check: an upstream commit that differs but is actually behind
// local still reports ahead. Known limitation.
func (e *Engine) checkRemoteAhead(ctx context.Context, dest string) (bool, error) {
	if ok, err := e.run(ctx, "-C", dest, "fetch"); err != nil || !ok {
		return false, err
	}
	local, err := e.output(ctx, "-C", dest, "rev-parse", "@")
	if err != nil {
		return false, err
	}
	remote, err := e.output(ctx, "-C", dest, "rev-parse", "@{u}")
	if err != nil {
		return false, err
	}
	return remote != local, nil
}

func (*Engine) run(ctx context.Context, args ...string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, "git", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return false, faults.Wrap(faults.CommandFailed, faults.NotFatal, "gitsync",
			fmt.Errorf("git %v failed: %w\n%s", args, err, output))
	}
	log.Printf("[DEBUG] git %v completed in %v", args, time.Since(start))
	return true, nil
}

func (*Engine) output(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	out, err := cmd.Output()
	if err != nil {
		return "", faults.Wrap(faults.CommandFailed, faults.NotFatal, "gitsync",
			fmt.Errorf("git %v failed: %w", args, err))
	}
	return strings.TrimSpace(string(out)), nil
}

func destPresent(dest string) error {
	if dest == "" {
		return faults.New(faults.DeploymentInvalid, faults.NotFatal, "gitsync",
			"empty destination path")
	}
	if _, err := os.Stat(dest); err != nil {
		return faults.Wrap(faults.DeploymentInvalid, faults.NotFatal, "gitsync",
			fmt.Errorf("destination %s: %w", dest, err))
	}
	return nil
}
