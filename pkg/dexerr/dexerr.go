// Package dexerr defines the typed failure taxonomy returned by every public call.
package dexerr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindNetwork
	KindTimeout
	KindProtocol
	KindRejected
	KindSigning
	KindNotFound
	KindAlreadyTerminal
	KindUnsupported
	KindInvalid
	KindClosed
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "NETWORK"
	case KindTimeout:
		return "TIMEOUT"
	case KindProtocol:
		return "PROTOCOL"
	case KindRejected:
		return "REJECTED"
	case KindSigning:
		return "SIGNING"
	case KindNotFound:
		return "NOT_FOUND"
	case KindAlreadyTerminal:
		return "ALREADY_TERMINAL"
	case KindUnsupported:
		return "UNSUPPORTED"
	case KindInvalid:
		return "INVALID"
	case KindClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Error carries a Kind plus the operation that failed.
// Code is the venue or HTTP status code when one exists.
type Error struct {
	Kind    Kind
	Op      string
	Code    int
	Message string
	Err     error
}

var _ error = (*Error)(nil)

// Sentinels for errors.Is. Matching is by Kind only.
var (
	ErrNetwork         = &Error{Kind: KindNetwork}
	ErrTimeout         = &Error{Kind: KindTimeout}
	ErrProtocol        = &Error{Kind: KindProtocol}
	ErrRejected        = &Error{Kind: KindRejected}
	ErrSigning         = &Error{Kind: KindSigning}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrAlreadyTerminal = &Error{Kind: KindAlreadyTerminal}
	ErrUnsupported     = &Error{Kind: KindUnsupported}
	ErrInvalid         = &Error{Kind: KindInvalid}
	ErrClosed          = &Error{Kind: KindClosed}
)

// New creates an error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Newf is New with formatting.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to a lower level cause.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithCode returns a copy with the status code set.
func (e *Error) WithCode(code int) *Error {
	cp := *e
	cp.Code = code
	return &cp
}

func (e *Error) Error() string {
	str := "[" + e.Kind.String() + "]"
	if e.Op != "" {
		str += " " + e.Op
	}
	if e.Code != 0 {
		str += fmt.Sprintf(" (code %d)", e.Code)
	}
	if e.Message != "" {
		str += ": " + e.Message
	}
	if e.Err != nil {
		str += ": " + e.Err.Error()
	}
	return str
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error of the same Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf extracts the Kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Retriable reports whether retrying the same call may succeed.
func Retriable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindTimeout:
		return true
	}
	return false
}

// Informational reports conditions that callers should not treat as hard failures.
func Informational(err error) bool {
	switch KindOf(err) {
	case KindNotFound, KindAlreadyTerminal:
		return true
	}
	return false
}

// FromContext maps a context error to Timeout, or returns nil.
func FromContext(op string, err error) *Error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(KindTimeout, op, err)
	case errors.Is(err, context.Canceled):
		return Wrap(KindClosed, op, err)
	}
	return nil
}
