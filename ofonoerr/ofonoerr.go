// Package ofonoerr maps D-Bus errors returned by oFono onto the error codes
// oFono documents and onto the retry classes the synchronization engine uses.
//
// # Classes
//
// Every error seen by the engine falls into exactly one class:
//
//	Transient: D-Bus Timeout/TimedOut/NoReply or a context deadline
//	Busy:      org.ofono.Error.InProgress
//	Canceled:  the local call token was canceled
//	Terminal:  everything else
//
// Transient and Busy errors are absorbed by the retry loops; Canceled
// completions are discarded; Terminal errors are logged or handed to the
// caller that issued the call.
package ofonoerr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
)

// Prefix is the common prefix of every oFono error name.
const Prefix = "org.ofono.Error."

// Generic D-Bus error names treated as transient timeouts.
const (
	DBusTimeout  = "org.freedesktop.DBus.Error.Timeout"
	DBusTimedOut = "org.freedesktop.DBus.Error.TimedOut"
	DBusNoReply  = "org.freedesktop.DBus.Error.NoReply"
)

var (
	// ErrCanceled is delivered to callbacks whose call was canceled locally.
	ErrCanceled = errors.New("operation canceled")
	// ErrNotReady is returned when a call needs a proxy the object does not have yet.
	ErrNotReady = errors.New("object not ready")
	// ErrTimeout is returned by blocking waits that ran out of time.
	ErrTimeout = errors.New("timed out waiting for object")
	// ErrClosed is returned when an operation is attempted on a closed client or connection.
	ErrClosed = errors.New("closed")
)

// Code is an oFono error code.
type Code int

// oFono error codes, in the order oFono's documentation lists them.
const (
	CodeUnknown Code = iota
	CodeInvalidArguments
	CodeInvalidFormat
	CodeNotImplemented
	CodeFailed
	CodeBusy // org.ofono.Error.InProgress
	CodeNotFound
	CodeNotActive
	CodeNotSupported
	CodeNotAvailable
	CodeTimedOut
	CodeSimNotReady
	CodeInUse
	CodeNotAttached
	CodeAttachInProgress
	CodeNotRegistered
	CodeCanceled
	CodeAccessDenied
	CodeEmergencyActive
	CodeIncorrectPassword
	CodeNotAllowed
	CodeNotRecognized
	CodeTerminated
)

var codeNames = [...]string{
	CodeUnknown:           "",
	CodeInvalidArguments:  "InvalidArguments",
	CodeInvalidFormat:     "InvalidFormat",
	CodeNotImplemented:    "NotImplemented",
	CodeFailed:            "Failed",
	CodeBusy:              "InProgress",
	CodeNotFound:          "NotFound",
	CodeNotActive:         "NotActive",
	CodeNotSupported:      "NotSupported",
	CodeNotAvailable:      "NotAvailable",
	CodeTimedOut:          "Timedout",
	CodeSimNotReady:       "SimNotReady",
	CodeInUse:             "InUse",
	CodeNotAttached:       "NotAttached",
	CodeAttachInProgress:  "AttachInProgress",
	CodeNotRegistered:     "NotRegistered",
	CodeCanceled:          "Canceled",
	CodeAccessDenied:      "AccessDenied",
	CodeEmergencyActive:   "EmergencyActive",
	CodeIncorrectPassword: "IncorrectPassword",
	CodeNotAllowed:        "NotAllowed",
	CodeNotRecognized:     "NotRecognized",
	CodeTerminated:        "Terminated",
}

// String returns the short oFono name of the code ("InProgress", "Failed", ...).
func (c Code) String() string {
	if c > CodeUnknown && int(c) < len(codeNames) {
		return codeNames[c]
	}
	return fmt.Sprintf("Unknown(%d)", int(c))
}

// Name returns the fully qualified D-Bus error name for the code.
func (c Code) Name() string {
	return Prefix + c.String()
}

// New builds a D-Bus error carrying the given oFono code.
func New(c Code, msg string) *dbus.Error {
	return dbus.NewError(c.Name(), []interface{}{msg})
}

// NewNamed builds a D-Bus error with an arbitrary error name.
func NewNamed(name, msg string) *dbus.Error {
	return dbus.NewError(name, []interface{}{msg})
}

// Name extracts the D-Bus error name from err, if err carries one.
func Name(err error) (string, bool) {
	var ptr *dbus.Error
	if errors.As(err, &ptr) && ptr != nil {
		return ptr.Name, true
	}
	var val dbus.Error
	if errors.As(err, &val) {
		return val.Name, true
	}
	return "", false
}

// CodeOf maps err onto an oFono error code.
// The second result is false if err is not an org.ofono.Error.
func CodeOf(err error) (Code, bool) {
	name, ok := Name(err)
	if !ok || !strings.HasPrefix(name, Prefix) {
		return CodeUnknown, false
	}
	short := strings.TrimPrefix(name, Prefix)
	for c := CodeInvalidArguments; int(c) < len(codeNames); c++ {
		if codeNames[c] == short {
			return c, true
		}
	}
	return CodeUnknown, false
}

// IsTransientTimeout reports whether err is a generic timeout that is worth
// retrying right away.
func IsTransientTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch name, _ := Name(err); name {
	case DBusTimeout, DBusTimedOut, DBusNoReply:
		return true
	}
	return false
}

// IsBusy reports whether err is org.ofono.Error.InProgress.
func IsBusy(err error) bool {
	c, ok := CodeOf(err)
	return ok && c == CodeBusy
}

// IsCanceled reports whether err stems from a locally canceled call.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled)
}

// Class is the retry class of an error.
type Class int

const (
	// Terminal errors are logged or surfaced, never retried.
	Terminal Class = iota
	// Transient errors are retried immediately.
	Transient
	// Busy errors are retried after a fixed delay.
	Busy
	// Canceled completions are discarded.
	Canceled
)

// String returns a string representation of the class.
func (c Class) String() string {
	switch c {
	case Terminal:
		return "Terminal"
	case Transient:
		return "Transient"
	case Busy:
		return "Busy"
	case Canceled:
		return "Canceled"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

// Classify returns the retry class of err. A nil error is Terminal by
// convention; callers check for success first.
func Classify(err error) Class {
	switch {
	case err == nil:
		return Terminal
	case IsCanceled(err):
		return Canceled
	case IsTransientTimeout(err):
		return Transient
	case IsBusy(err):
		return Busy
	default:
		return Terminal
	}
}
