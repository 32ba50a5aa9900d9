// Package credentials loads the git credential set from the encrypted
// credential store. The set is read-only to the reconciliation core.
package credentials

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"fleetagent/internal/faults"
)

// File permissions for a saved credential store.
const storePerm = 0o600

// Credential is one repository's access data.
type Credential struct {
	User   string `json:"user"`
	Repo   string `json:"repo"`
	Branch string `json:"branch"`
	Token  string `json:"token"`
}

// Set is an order-insensitive sequence of credentials with no duplicate
// (user, repo) pairs.
type Set []Credential

// Decrypter is the slice of the cipher client this package needs.
type Decrypter interface {
	DecryptText(ctx context.Context, encrypted string) (string, error)
}

// Encrypter is used when writing a credential store back to disk.
type Encrypter interface {
	EncryptText(ctx context.Context, plain string) (string, error)
}

// Load reads the encrypted credential file at path, decrypts it through
// the encryption daemon, and deserializes the credential list.
func Load(ctx context.Context, dec Decrypter, path string) (Set, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, faults.Wrap(faults.CredentialInvalid, faults.Fatal, "credentials",
			fmt.Errorf("read credential store %s: %w", path, err))
	}
	encrypted := strings.ReplaceAll(string(raw), "\n", "")

	decrypted, err := dec.DecryptText(ctx, encrypted)
	if err != nil {
		return nil, fmt.Errorf("decrypt credential store: %w", err)
	}
	decrypted = strings.ReplaceAll(decrypted, "\x00", "")

	decoded, err := hex.DecodeString(decrypted)
	if err != nil {
		return nil, faults.Wrap(faults.CredentialInvalid, faults.Fatal, "credentials",
			fmt.Errorf("decode credential payload: %w", err))
	}

	var set Set
	if err := json.Unmarshal(decoded, &set); err != nil {
		return nil, faults.Wrap(faults.CredentialInvalid, faults.Fatal, "credentials",
			fmt.Errorf("parse credential payload: %w", err))
	}
	if err := set.validate(); err != nil {
		return nil, err
	}
	return set, nil
}

// Save encrypts the credential set and writes it to path. Used by
// provisioning tooling, not by the reconciliation loops.
func (s Set) Save(ctx context.Context, enc Encrypter, path string) error {
	if err := s.validate(); err != nil {
		return err
	}
	plain, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	encrypted, err := enc.EncryptText(ctx, hex.EncodeToString(plain))
	if err != nil {
		return fmt.Errorf("encrypt credentials: %w", err)
	}
	if err := os.WriteFile(path, []byte(encrypted), storePerm); err != nil {
		return fmt.Errorf("write credential store %s: %w", path, err)
	}
	return nil
}

func (s Set) validate() error {
	seen := make(map[string]bool, len(s))
	for _, cred := range s {
		if cred.User == "" || cred.Repo == "" {
			return faults.New(faults.CredentialInvalid, faults.Fatal, "credentials",
				"credential with empty user or repo")
		}
		k := cred.User + "/" + cred.Repo
		if seen[k] {
			return faults.New(faults.CredentialInvalid, faults.Fatal, "credentials",
				fmt.Sprintf("duplicate credential for %s", k))
		}
		seen[k] = true
	}
	return nil
}
