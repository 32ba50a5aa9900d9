// Package deploy keeps managed site checkouts current against their git
// remotes and tracks a freshness descriptor per configured repository.
package deploy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sync"

	"fleetagent/internal/credentials"
)

// Length of the truncated hash used for checkout directory names.
const checkoutHashLen = 8

// Freshness is a descriptor's remote-vs-local comparison result. It is
// recomputed every cycle and never cached beyond one.
type Freshness int

const (
	// UpToDate means local HEAD matches the upstream commit.
	UpToDate Freshness = iota
	// OutOfDate means the upstream commit differs from local HEAD.
	OutOfDate
)

func (f Freshness) String() string {
	if f == UpToDate {
		return "up-to-date"
	}
	return "out-of-date"
}

// Descriptor describes one managed checkout. CheckoutPath is immutable for
// the life of the descriptor.
type Descriptor struct {
	CheckoutPath string
	Status       Freshness
}

// CheckoutPath derives the deterministic checkout directory for a
// credential: siteRoot joined with a truncated hash of "user-repo".
func CheckoutPath(siteRoot string, cred credentials.Credential) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%s", cred.User, cred.Repo)))
	return filepath.Join(siteRoot, hex.EncodeToString(sum[:])[:checkoutHashLen])
}

// CloneURL is the provider's canonical URL for a credential's repository.
func CloneURL(cred credentials.Credential) string {
	return fmt.Sprintf("https://github.com/%s/%s.git", cred.User, cred.Repo)
}

// Store holds the descriptors, keyed by "user/repo".
type Store struct {
	descriptors map[string]Descriptor
	mu          sync.RWMutex
}

// NewStore returns an empty descriptor store.
func NewStore() *Store {
	return &Store{descriptors: make(map[string]Descriptor)}
}

// Get returns the descriptor for a credential, if one exists yet.
func (s *Store) Get(cred credentials.Credential) (Descriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.descriptors[key(cred)]
	return d, ok
}

// Put records the descriptor for a credential.
func (s *Store) Put(cred credentials.Credential, d Descriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.descriptors[key(cred)] = d
}

func key(cred credentials.Credential) string {
	return cred.User + "/" + cred.Repo
}
