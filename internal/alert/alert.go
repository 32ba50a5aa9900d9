// Package alert carries operator notifications to the external mail relay.
// The relay owns queueing, rate limiting and expiry; the agent encrypts the
// payload, writes it to the relay's TCP port and forgets about it. No
// delivery confirmation exists.
package alert

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"fleetagent/internal/faults"
)

const (
	// Subject/body separator inside the encrypted payload. The relay splits
	// on this marker.
	payloadSeparator = "-=-"
	// TCP dial/write deadline per delivery attempt.
	relayTimeout = 15 * time.Second
	// Retry configuration for relay delivery.
	maxRetries     = 3
	initialBackoff = 1 * time.Second
	maxBackoff     = 10 * time.Second
)

// Alert is one operator notification.
type Alert struct {
	Subject string
	Body    string
}

// Valid reports whether the alert carries both a subject and a body.
func (a Alert) Valid() bool {
	return a.Subject != "" && a.Body != ""
}

func (a Alert) String() string {
	return fmt.Sprintf("%s,%s", a.Subject, a.Body)
}

// Sender delivers alerts. Tasks depend on this interface so tests can
// capture alerts instead of dialing the relay.
type Sender interface {
	Send(ctx context.Context, a Alert) error
}

// Encrypter is the slice of the cipher client the relay needs.
type Encrypter interface {
	EncryptText(ctx context.Context, plain string) (string, error)
}

// Relay sends pre-encrypted alert payloads to the mail relay service.
type Relay struct {
	cipher Encrypter
	addr   string
}

// NewRelay returns a relay client for addr (host:port).
func NewRelay(addr string, cipher Encrypter) *Relay {
	return &Relay{addr: addr, cipher: cipher}
}

// Send encrypts the alert and writes it to the relay. Delivery is
// fire-and-forget: a nil return means the relay accepted the bytes, not
// that mail went out.
func (r *Relay) Send(ctx context.Context, a Alert) error {
	if !a.Valid() {
		return faults.New(faults.System, faults.NotFatal, "alert", "empty subject or body")
	}

	payload, err := r.cipher.EncryptText(ctx, a.Subject+payloadSeparator+a.Body)
	if err != nil {
		return fmt.Errorf("encrypt alert payload: %w", err)
	}

	err = retry.Do(func() error {
		return r.deliver(ctx, payload)
	}, retry.Attempts(maxRetries), retry.Delay(initialBackoff), retry.MaxDelay(maxBackoff))
	if err != nil {
		return faults.Wrap(faults.System, faults.NotFatal, "alert",
			fmt.Errorf("relay %s: %w", r.addr, err))
	}
	return nil
}

func (r *Relay) deliver(ctx context.Context, payload string) error {
	dialer := net.Dialer{Timeout: relayTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", r.addr)
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}
	defer conn.Close() //nolint:errcheck // one-shot connection

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(relayTimeout))
	}

	if _, err := conn.Write([]byte(payload)); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}
