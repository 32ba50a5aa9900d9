package deploy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"fleetagent/internal/alert"
	"fleetagent/internal/credentials"
	"fleetagent/internal/gitsync"
)

type captureSender struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (c *captureSender) Send(_ context.Context, a alert.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
	return nil
}

// fakeRunner scripts the outcome per git operation and records the calls.
type fakeRunner struct {
	ahead     bool
	aheadErr  error
	pullOK    bool
	pullErr   error
	cloneOK   bool
	executed  []gitsync.Op
	cloneDest string
}

func (f *fakeRunner) Execute(_ context.Context, a gitsync.Action) (bool, error) {
	f.executed = append(f.executed, a.Op)
	switch a.Op {
	case gitsync.OpClone:
		f.cloneDest = a.Dest
		return f.cloneOK, nil
	case gitsync.OpCheckRemoteAhead:
		return f.ahead, f.aheadErr
	case gitsync.OpPull:
		return f.pullOK, f.pullErr
	default:
		return true, nil
	}
}

func ran(ops []gitsync.Op, want gitsync.Op) bool {
	for _, op := range ops {
		if op == want {
			return true
		}
	}
	return false
}

var testCred = credentials.Credential{
	User:   "artisan",
	Repo:   "site",
	Branch: "main",
	Token:  "tok",
}

func newSync(t *testing.T, runner *fakeRunner) (*Sync, *captureSender, string) {
	t.Helper()
	siteRoot := t.TempDir()
	sender := &captureSender{}
	s := &Sync{
		Store:       NewStore(),
		Engine:      runner,
		Sender:      sender,
		Credentials: credentials.Set{testCred},
		SiteRoot:    siteRoot,
		MachineID:   func() string { return "machine-12" },
	}
	return s, sender, siteRoot
}

// makeCheckout pre-creates the derived checkout directory so syncRepo skips
// the clone step.
func makeCheckout(t *testing.T, siteRoot string) string {
	t.Helper()
	path := CheckoutPath(siteRoot, testCred)
	if err := os.MkdirAll(path, 0o750); err != nil {
		t.Fatalf("Failed to create checkout dir: %v", err)
	}
	return path
}

func TestCheckoutPathDeterministic(t *testing.T) {
	a := CheckoutPath("/var/www", testCred)
	b := CheckoutPath("/var/www", testCred)
	if a != b {
		t.Errorf("CheckoutPath not deterministic: %q vs %q", a, b)
	}

	name := filepath.Base(a)
	if len(name) != checkoutHashLen {
		t.Errorf("Checkout dir name %q has length %d, want %d", name, len(name), checkoutHashLen)
	}
	for _, r := range name {
		if !strings.ContainsRune("0123456789abcdef", r) {
			t.Errorf("Checkout dir name %q contains non-hex rune %q", name, r)
		}
	}

	other := testCred
	other.Repo = "blog"
	if CheckoutPath("/var/www", other) == a {
		t.Error("Distinct repos must map to distinct checkout dirs")
	}
}

func TestCloneURL(t *testing.T) {
	if got := CloneURL(testCred); got != "https://github.com/artisan/site.git" {
		t.Errorf("CloneURL = %q", got)
	}
}

func TestUpToDateSwitchesWithoutAlert(t *testing.T) {
	runner := &fakeRunner{ahead: false}
	s, sender, siteRoot := newSync(t, runner)
	path := makeCheckout(t, siteRoot)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if ran(runner.executed, gitsync.OpClone) {
		t.Error("Existing checkout must not be cloned again")
	}
	if !ran(runner.executed, gitsync.OpSwitch) {
		t.Error("Up-to-date checkout should still be switched to its branch")
	}
	if ran(runner.executed, gitsync.OpPull) {
		t.Error("Up-to-date checkout must not be pulled")
	}
	if len(sender.alerts) != 0 {
		t.Errorf("Up-to-date cycle must not alert, got %d alerts", len(sender.alerts))
	}

	d, ok := s.Store.Get(testCred)
	if !ok || d.Status != UpToDate || d.CheckoutPath != path {
		t.Errorf("Descriptor wrong after up-to-date cycle: %+v ok=%v", d, ok)
	}
}

func TestOutOfDatePullSuccess(t *testing.T) {
	runner := &fakeRunner{ahead: true, pullOK: true}
	s, sender, siteRoot := newSync(t, runner)
	makeCheckout(t, siteRoot)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(sender.alerts) != 1 {
		t.Fatalf("Expected exactly 1 alert for an applied update, got %d", len(sender.alerts))
	}
	if sender.alerts[0].Subject != "Applied Update" {
		t.Errorf("Alert subject = %q", sender.alerts[0].Subject)
	}
	if !strings.Contains(sender.alerts[0].Body, "machine-12") {
		t.Errorf("Alert body does not name the machine: %q", sender.alerts[0].Body)
	}

	if d, _ := s.Store.Get(testCred); d.Status != UpToDate {
		t.Errorf("Descriptor must flip to up-to-date after a successful pull, got %s", d.Status)
	}
}

func TestOutOfDatePullFailure(t *testing.T) {
	runner := &fakeRunner{ahead: true, pullOK: false, pullErr: errors.New("merge conflict")}
	s, sender, siteRoot := newSync(t, runner)
	makeCheckout(t, siteRoot)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(sender.alerts) != 1 {
		t.Fatalf("Expected exactly 1 alert for a failed update, got %d", len(sender.alerts))
	}
	if sender.alerts[0].Subject != "Update failed" {
		t.Errorf("Alert subject = %q", sender.alerts[0].Subject)
	}

	// A failed pull leaves the freshly recorded out-of-date status intact.
	if d, _ := s.Store.Get(testCred); d.Status != OutOfDate {
		t.Errorf("Descriptor must stay out-of-date after a failed pull, got %s", d.Status)
	}
}

func TestMissingCheckoutTriggersClone(t *testing.T) {
	runner := &fakeRunner{cloneOK: true, ahead: false}
	s, _, siteRoot := newSync(t, runner)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !ran(runner.executed, gitsync.OpClone) {
		t.Fatal("Missing checkout must be cloned")
	}
	if want := CheckoutPath(siteRoot, testCred); runner.cloneDest != want {
		t.Errorf("Clone destination %q, want %q", runner.cloneDest, want)
	}
}

func TestFreshnessCheckFailureAborts(t *testing.T) {
	runner := &fakeRunner{aheadErr: errors.New("network down")}
	s, sender, siteRoot := newSync(t, runner)
	makeCheckout(t, siteRoot)

	if err := s.Run(context.Background()); err == nil {
		t.Fatal("Run must surface a freshness check failure")
	}
	if len(sender.alerts) != 0 {
		t.Errorf("No pull was attempted, so no alert should be sent, got %d", len(sender.alerts))
	}
	if _, ok := s.Store.Get(testCred); ok {
		t.Error("Descriptor must not be recorded when the freshness check fails")
	}
}

func TestStoreGetPut(t *testing.T) {
	store := NewStore()
	if _, ok := store.Get(testCred); ok {
		t.Error("Empty store returned a descriptor")
	}
	store.Put(testCred, Descriptor{CheckoutPath: "/var/www/abc", Status: OutOfDate})
	d, ok := store.Get(testCred)
	if !ok || d.Status != OutOfDate {
		t.Errorf("Get after Put: %+v ok=%v", d, ok)
	}
}
