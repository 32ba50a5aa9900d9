package alert

import (
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"
)

type fakeEncrypter struct{}

func (fakeEncrypter) EncryptText(_ context.Context, plain string) (string, error) {
	return "ENC:" + plain, nil
}

func TestAlertValid(t *testing.T) {
	tests := []struct {
		alert Alert
		want  bool
	}{
		{Alert{Subject: "s", Body: "b"}, true},
		{Alert{Subject: "", Body: "b"}, false},
		{Alert{Subject: "s", Body: ""}, false},
		{Alert{}, false},
	}
	for _, tt := range tests {
		if got := tt.alert.Valid(); got != tt.want {
			t.Errorf("Valid(%+v) = %v, want %v", tt.alert, got, tt.want)
		}
	}
}

// acceptOne receives one payload on a local listener standing in for the
// mail relay.
func acceptOne(t *testing.T) (addr string, received <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	ch := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		ch <- string(data)
	}()
	return ln.Addr().String(), ch
}

func TestSendDeliversEncryptedPayload(t *testing.T) {
	addr, received := acceptOne(t)
	relay := NewRelay(addr, fakeEncrypter{})

	a := Alert{Subject: "Applied Update", Body: "The system: machine-12 has just applied a new update from the repo: site."}
	if err := relay.Send(context.Background(), a); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case payload := <-received:
		want := "ENC:" + a.Subject + payloadSeparator + a.Body
		if payload != want {
			t.Errorf("Relay received %q, want %q", payload, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Relay never received the payload")
	}
}

func TestSendRejectsInvalidAlert(t *testing.T) {
	relay := NewRelay("127.0.0.1:1", fakeEncrypter{})
	err := relay.Send(context.Background(), Alert{Subject: "only subject"})
	if err == nil {
		t.Fatal("Send must reject an alert without a body")
	}
	if !strings.Contains(err.Error(), "empty subject or body") {
		t.Errorf("Unexpected validation error: %v", err)
	}
}

func TestSendFailsWhenRelayUnreachable(t *testing.T) {
	// A listener that is closed immediately gives a refused port.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	relay := NewRelay(addr, fakeEncrypter{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := relay.Send(ctx, Alert{Subject: "s", Body: "b"}); err == nil {
		t.Error("Send must fail when the relay is unreachable")
	}
}

func TestAlertString(t *testing.T) {
	a := Alert{Subject: "s", Body: "b"}
	if got := a.String(); got != "s,b" {
		t.Errorf("String() = %q", got)
	}
}
