// Package main implements the fleet agent: a host-resident daemon that
// keeps the machine's identity, deployed site code, and critical services
// in a known-good state, and alerts the operator when reality diverges.
package main

import (
	"context"
	_ "embed"
	"flag"
	"fmt"
	"log"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"fleetagent/internal/alert"
	"fleetagent/internal/cipher"
	"fleetagent/internal/config"
	"fleetagent/internal/credentials"
	"fleetagent/internal/deploy"
	"fleetagent/internal/gitsync"
	"fleetagent/internal/identity"
	"fleetagent/internal/scheduler"
	"fleetagent/internal/services"
	"fleetagent/internal/sshaudit"
)

// Reboot command timeout.
const rebootTimeout = 30 * time.Second

//go:embed agent.yaml
var defaultConfig []byte

var (
	configPath = flag.String("config", "", "Path to agent config (defaults to embedded configuration)")
	debug      = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("[INFO] Agent %s starting", identity.CurrentVersion)
	log.Printf("[INFO] Relay: %s, cipher socket: %s, %d managed services, %d critical users",
		cfg.RelayAddr, cfg.CipherSocket, len(cfg.Services), len(cfg.CriticalUsers))

	// The encryption daemon gates everything: without it neither the
	// credential store nor any alert payload can be processed.
	cipherClient := cipher.New(cfg.CipherSocket)
	if err := cipherClient.Available(); err != nil {
		log.Fatalf("Encryption daemon unavailable, cannot proceed: %v", err)
	}

	creds, err := credentials.Load(ctx, cipherClient, cfg.CredentialPath)
	if err != nil {
		log.Fatalf("Failed to load git credentials: %v", err)
	}
	log.Printf("[INFO] Loaded %d git credentials", len(creds))

	ident, err := identity.Load(cfg.ManifestPath)
	if err != nil {
		log.Fatalf("Failed to load host identity: %v", err)
	}
	if ident.VersionMismatch() {
		log.Printf("[WARN] Manifest version %s does not match agent version %s",
			ident.Snapshot().Version, identity.CurrentVersion)
	}
	log.Printf("[INFO] Host identity: %s", ident.Snapshot())

	relay := alert.NewRelay(cfg.RelayAddr, cipherClient)
	manager := services.SystemdManager{}
	roster := services.NewRoster(initialRoster(ctx, manager, cfg.Services))

	machineID := func() string { return ident.Snapshot().MachineID }

	health := &services.Health{
		Roster:    roster,
		Manager:   manager,
		Sender:    relay,
		MachineID: machineID,
	}
	sync := &deploy.Sync{
		Store:       deploy.NewStore(),
		Engine:      gitsync.New(),
		Sender:      relay,
		Credentials: creds,
		SiteRoot:    cfg.SiteRoot,
		MachineID:   machineID,
	}
	auditor, err := sshaudit.New(ident, relay, cfg.SSHProcessName, cfg.CriticalUsers)
	if err != nil {
		log.Fatalf("Failed to create SSH auditor: %v", err)
	}
	probes := identity.DefaultProbes()

	sched := &scheduler.Scheduler{
		Tasks: []scheduler.Task{
			{Name: "identity-refresh", Run: func(ctx context.Context) (identity.Action, error) {
				return ident.Refresh(ctx, probes, relay)
			}},
			scheduler.Plain("service-health", health.Run),
			scheduler.Plain("deployment-sync", sync.Run),
			scheduler.Plain("ssh-audit", auditor.Run),
		},
		CyclePause:       cfg.CyclePause,
		CycleTimeout:     cfg.CycleTimeout,
		LivenessInterval: cfg.LivenessInterval,
		Reboot:           rebootHost,
	}

	if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("Scheduler stopped: %v", err)
	}
	log.Print("[INFO] Agent shut down")
}

func loadConfig() (*config.Config, error) {
	if *configPath != "" {
		return config.Load(*configPath)
	}
	return config.Parse(defaultConfig)
}

// initialRoster observes every managed unit once so the first cycle has a
// previous state to compare against.
func initialRoster(ctx context.Context, manager services.Manager, managed []config.ManagedService) []services.Record {
	records := make([]services.Record, 0, len(managed))
	for _, svc := range managed {
		rec, err := manager.Query(ctx, svc.Unit, svc.Kind)
		if err != nil {
			log.Printf("[WARN] Initial query of %s failed: %v", svc.Unit, err)
			rec = services.Record{Unit: svc.Unit, Kind: svc.Kind, Status: services.Error}
		}
		if *debug {
			log.Printf("[DEBUG] Initial state of %s: %s", rec.Unit, rec.Status)
		}
		records = append(records, rec)
	}
	return records
}

// rebootHost issues an unconditional host reboot. Called by the scheduler
// only for the MAC-mismatch safety action.
func rebootHost() error {
	ctx, cancel := context.WithTimeout(context.Background(), rebootTimeout)
	defer cancel()
	if out, err := exec.CommandContext(ctx, "systemctl", "reboot").CombinedOutput(); err != nil {
		return fmt.Errorf("systemctl reboot failed: %w\n%s", err, out)
	}
	return nil
}
