// Package cipher is the client for the local encryption daemon. All text
// encryption and decryption happens in the daemon; this package only frames
// commands onto its unix socket and reads the reply.
package cipher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"fleetagent/internal/faults"
)

const (
	// Maximum reply size accepted from the daemon.
	responseBufferSize = 89200
	// Socket dial/read deadline.
	socketTimeout = 10 * time.Second
	// Separator between the encoded command and its integrity hash.
	frameSeparator = "Z"
	// The daemon discards the first 7 hex digits of the digest and keeps
	// at most 50 of the rest.
	hashSkip = 7
	hashKeep = 50
)

// Op is an operation understood by the encryption daemon.
type Op string

// Operations used by the agent. The daemon also supports file operations
// (insert, remove) which this agent does not exercise.
const (
	OpEncryptText Op = "encrypt"
	OpDecryptText Op = "decrypt"
)

// Request is one command for the daemon.
type Request struct {
	Op   Op
	Args []string
}

// Client talks to the encryption daemon over its unix socket.
type Client struct {
	// SocketPath is the daemon's well-known socket location.
	SocketPath string
	// UID is the caller uid appended to every command. The agent runs as
	// root, so this is normally 0.
	UID int
}

// New returns a client for the daemon socket at path.
func New(path string) *Client {
	return &Client{SocketPath: path}
}

// Available verifies the daemon socket exists. The daemon must be running
// before any credential or alert payload can be processed, so callers treat
// a failure here as startup-blocking.
func (c *Client) Available() error {
	if _, err := os.Stat(c.SocketPath); err != nil {
		return faults.Wrap(faults.EncryptionNotReady, faults.Fatal, "cipher",
			fmt.Errorf("daemon socket %s: %w", c.SocketPath, err))
	}
	return nil
}

// EncryptText encrypts plain text through the daemon.
func (c *Client) EncryptText(ctx context.Context, plain string) (string, error) {
	return c.roundTrip(ctx, Request{Op: OpEncryptText, Args: []string{plain}})
}

// DecryptText decrypts cipher text through the daemon.
func (c *Client) DecryptText(ctx context.Context, encrypted string) (string, error) {
	return c.roundTrip(ctx, Request{Op: OpDecryptText, Args: []string{encrypted}})
}

func (c *Client) roundTrip(ctx context.Context, req Request) (string, error) {
	frame := c.Frame(req)

	dialer := net.Dialer{Timeout: socketTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.SocketPath)
	if err != nil {
		return "", faults.Wrap(faults.EncryptionNotReady, faults.NotFatal, "cipher",
			fmt.Errorf("dial %s: %w", c.SocketPath, err))
	}
	defer conn.Close() //nolint:errcheck // best effort close on a one-shot socket

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(socketTimeout))
	}

	if _, err := conn.Write([]byte(frame)); err != nil {
		return "", faults.Wrap(faults.System, faults.NotFatal, "cipher",
			fmt.Errorf("write command: %w", err))
	}

	buf := make([]byte, responseBufferSize)
	n, err := conn.Read(buf)
	if err != nil {
		return "", faults.Wrap(faults.System, faults.NotFatal, "cipher",
			fmt.Errorf("read reply: %w", err))
	}
	return string(buf[:n]), nil
}

// Frame encodes a request into the daemon's wire format: the command vector
// plus caller uid joined with '*', hex-encoded, then concatenated with a
// truncated hex hash of the encoded command. The framing is a protocol
// contract with the daemon and must not change.
func (c *Client) Frame(req Request) string {
	parts := make([]string, 0, len(req.Args)+2)
	parts = append(parts, string(req.Op))
	parts = append(parts, req.Args...)
	parts = append(parts, strconv.Itoa(c.UID))

	hexed := hex.EncodeToString([]byte(strings.Join(parts, "*")))
	return hexed + frameSeparator + hex.EncodeToString([]byte(commandHash(hexed)))
}

func commandHash(hexedCommand string) string {
	sum := sha256.Sum256([]byte(hexedCommand))
	digest := hex.EncodeToString(sum[:])
	tail := digest[hashSkip:]
	if len(tail) > hashKeep {
		tail = tail[:hashKeep]
	}
	return tail
}
