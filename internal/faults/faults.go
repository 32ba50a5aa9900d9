// Package faults defines the closed error taxonomy shared by every
// reconciliation task. The scheduler inspects severity to decide whether a
// failure is loggable noise or a reason to stop.
package faults

import (
	"errors"
	"fmt"
)

// Kind identifies which class of failure occurred.
type Kind int

const (
	// ToolMissing means a required external tool (e.g. git) is absent.
	ToolMissing Kind = iota
	// CommandFailed means an external command exited nonzero.
	CommandFailed
	// LockAccess means shared state could not be safely acquired.
	LockAccess
	// EncryptionNotReady means the encryption daemon or its socket is missing.
	EncryptionNotReady
	// CredentialInvalid means the credential store is unreadable or malformed.
	CredentialInvalid
	// DeploymentInvalid means a site checkout is missing or unusable.
	DeploymentInvalid
	// UnknownSSHUser means an SSH session could not be attributed to a user.
	UnknownSSHUser
	// System covers generic I/O and parse failures.
	System
)

// Severity classifies how the scheduler should react to a fault.
type Severity int

const (
	// NotFatal faults abort the current task's cycle only.
	NotFatal Severity = iota
	// Warning faults are logged and the task continues where possible.
	Warning
	// Fatal faults end the process (startup gate, safety actions).
	Fatal
)

func (k Kind) String() string {
	switch k {
	case ToolMissing:
		return "tool-missing"
	case CommandFailed:
		return "command-failed"
	case LockAccess:
		return "lock-access"
	case EncryptionNotReady:
		return "encryption-not-ready"
	case CredentialInvalid:
		return "credential-invalid"
	case DeploymentInvalid:
		return "deployment-invalid"
	case UnknownSSHUser:
		return "unknown-ssh-user"
	case System:
		return "system"
	default:
		return "unknown"
	}
}

func (s Severity) String() string {
	switch s {
	case Fatal:
		return "fatal"
	case Warning:
		return "warning"
	default:
		return "not-fatal"
	}
}

// Fault is a classified error carrying severity and the component that
// raised it.
type Fault struct {
	Err       error
	Component string
	Detail    string
	Kind      Kind
	Severity  Severity
}

// New creates a fault with a free-form detail message.
func New(kind Kind, severity Severity, component, detail string) *Fault {
	return &Fault{Kind: kind, Severity: severity, Component: component, Detail: detail}
}

// Wrap creates a fault around an underlying error.
func Wrap(kind Kind, severity Severity, component string, err error) *Fault {
	return &Fault{Kind: kind, Severity: severity, Component: component, Err: err}
}

func (f *Fault) Error() string {
	msg := fmt.Sprintf("%s: %s", f.Component, f.Kind)
	if f.Detail != "" {
		msg += ": " + f.Detail
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Fault) Unwrap() error { return f.Err }

// SeverityOf reports the severity of err. Errors outside the taxonomy are
// treated as NotFatal, which matches how the scheduler handles them.
func SeverityOf(err error) Severity {
	var f *Fault
	if errors.As(err, &f) {
		return f.Severity
	}
	return NotFatal
}

// KindOf reports the kind of err, if it belongs to the taxonomy.
func KindOf(err error) (Kind, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind, true
	}
	return 0, false
}
