// Package fault defines the typed failure conditions reported by the probe
// communication stack. Every failure carries a Kind so callers can decide on
// retry policy without parsing messages.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	// KindTransport is an I/O failure on the link (disconnect, write error, EOF).
	KindTransport Kind = iota + 1
	// KindTimeout is a protocol failure on an otherwise healthy link: no or
	// partial answer within the time bound, CRC mismatch, wrong function echo.
	KindTimeout
	// KindFormat is a malformed register list or profile block.
	KindFormat
	// KindConfiguration is a caller request the hardware cannot represent.
	KindConfiguration
	// KindRejected is a write the device answered with an error frame.
	KindRejected
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport fault"
	case KindTimeout:
		return "protocol timeout"
	case KindFormat:
		return "format error"
	case KindConfiguration:
		return "configuration fault"
	case KindRejected:
		return "rejected by device"
	default:
		return "unknown fault"
	}
}

// Error is a classified failure.
type Error struct {
	Kind Kind
	Op   string // e.g. "modbus: read", "acoustic: from register list"
	Msg  string

	// Func and Payload hold the raw error frame of a rejected write.
	Func    byte
	Payload []byte

	Err error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Kind == KindRejected {
		msg += fmt.Sprintf(" (func=0x%02x payload=% x)", e.Func, e.Payload)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so the package sentinels work with
// errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Msg == ""
}

// Sentinels for errors.Is.
var (
	ErrTransport     = &Error{Kind: KindTransport}
	ErrTimeout       = &Error{Kind: KindTimeout}
	ErrFormat        = &Error{Kind: KindFormat}
	ErrConfiguration = &Error{Kind: KindConfiguration}
	ErrRejected      = &Error{Kind: KindRejected}
)

// Transport wraps an I/O error from the link.
func Transport(op string, err error) error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

// Timeout reports a protocol-level failure.
func Timeout(op, format string, args ...any) error {
	return &Error{Kind: KindTimeout, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Interrupted reports a transaction abandoned before it started because
// the caller's context ended. err is the context error.
func Interrupted(op string, err error) error {
	return &Error{Kind: KindTimeout, Op: op, Msg: "not started", Err: err}
}

// Format reports malformed input.
func Format(op, format string, args ...any) error {
	return &Error{Kind: KindFormat, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Configuration reports a value outside the representable hardware range.
func Configuration(op, format string, args ...any) error {
	return &Error{Kind: KindConfiguration, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Rejected reports an error frame returned by the device for a write.
func Rejected(op string, fn byte, payload []byte) error {
	p := make([]byte, len(payload))
	copy(p, payload)
	return &Error{Kind: KindRejected, Op: op, Func: fn, Payload: p}
}

// KindOf returns the Kind of err, or 0 when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
