package deploy

import (
	"context"
	"fmt"
	"log"
	"os"

	"fleetagent/internal/alert"
	"fleetagent/internal/credentials"
	"fleetagent/internal/gitsync"
)

// Runner executes git actions. Satisfied by *gitsync.Engine.
type Runner interface {
	Execute(ctx context.Context, a gitsync.Action) (bool, error)
}

// Sync is the per-cycle deployment reconciliation task.
type Sync struct {
	Store       *Store
	Engine      Runner
	Sender      alert.Sender
	Credentials credentials.Set
	SiteRoot    string
	// MachineID names this host in alert subjects.
	MachineID func() string
}

// Run reconciles every configured repository: clones missing checkouts,
// recomputes freshness, pulls when out of date, and emits exactly one alert
// per repository per cycle in which a pull was attempted.
func (s *Sync) Run(ctx context.Context) error {
	machine := s.MachineID()
	if machine == "" {
		machine = "unknown"
	}

	for _, cred := range s.Credentials {
		if err := s.syncRepo(ctx, machine, cred); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sync) syncRepo(ctx context.Context, machine string, cred credentials.Credential) error {
	path := CheckoutPath(s.SiteRoot, cred)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Printf("[INFO] Checkout %s missing for %s/%s, cloning", path, cred.User, cred.Repo)
		if ok, err := s.Engine.Execute(ctx, gitsync.Action{
			Op:      gitsync.OpClone,
			RepoURL: CloneURL(cred),
			Dest:    path,
		}); err != nil {
			return err
		} else if !ok {
			log.Printf("[WARN] Clone of %s/%s reported failure", cred.User, cred.Repo)
		}
	} else if err != nil {
		return fmt.Errorf("stat checkout %s: %w", path, err)
	}

	ahead, err := s.Engine.Execute(ctx, gitsync.Action{Op: gitsync.OpCheckRemoteAhead, Dest: path})
	if err != nil {
		return err
	}

	if !ahead {
		// Already current. Switch defensively in case a manual checkout
		// left the tree on another branch.
		if _, err := s.Engine.Execute(ctx, gitsync.Action{
			Op:     gitsync.OpSwitch,
			Branch: cred.Branch,
			Dest:   path,
		}); err != nil {
			return err
		}
		s.Store.Put(cred, Descriptor{CheckoutPath: path, Status: UpToDate})
		return nil
	}

	// Record the freshly computed status before attempting the pull; a
	// failed pull leaves it untouched.
	s.Store.Put(cred, Descriptor{CheckoutPath: path, Status: OutOfDate})

	ok, pullErr := s.Engine.Execute(ctx, gitsync.Action{
		Op:     gitsync.OpPull,
		Branch: cred.Branch,
		Dest:   path,
	})
	if pullErr == nil && ok {
		s.Store.Put(cred, Descriptor{CheckoutPath: path, Status: UpToDate})
		a := alert.Alert{
			Subject: "Applied Update",
			Body: fmt.Sprintf("The system: %s has just applied a new update from the repo: %s.",
				machine, cred.Repo),
		}
		if err := s.Sender.Send(ctx, a); err != nil {
			return err
		}
		log.Printf("[INFO] Update for %s/%s finished successfully", cred.User, cred.Repo)
		return nil
	}

	// Pull failed: descriptor status stays OutOfDate.
	a := alert.Alert{
		Subject: "Update failed",
		Body: fmt.Sprintf("The system: %s has encountered an error applying an update from the repo: %s.",
			machine, cred.Repo),
	}
	if err := s.Sender.Send(ctx, a); err != nil {
		return err
	}
	if pullErr != nil {
		log.Printf("[WARN] Pull for %s/%s failed: %v", cred.User, cred.Repo, pullErr)
	}
	return nil
}
