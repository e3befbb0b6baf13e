// Package errs defines the machine-readable error kinds (spec.md §7) used
// across the context store, following the same wrap-with-context pattern
// the storage layer uses internally (fmt.Errorf("%w") plus a small set of
// sentinels callers can test with errors.Is/errors.As).
package errs

import (
	"database/sql"
	"errors"
	"fmt"
)

// Kind is a machine-readable error category surfaced to RPC callers.
type Kind string

const (
	InvalidArgument   Kind = "InvalidArgument"
	NotFound          Kind = "NotFound"
	AlreadyExists     Kind = "AlreadyExists"
	PermissionDenied  Kind = "PermissionDenied"
	FailedPrecondition Kind = "FailedPrecondition"
	ResourceExhausted Kind = "ResourceExhausted"
	DeadlineExceeded  Kind = "DeadlineExceeded"
	Internal          Kind = "Internal"
)

// Error is a wrapped error carrying a Kind for the RPC layer to format.
type Error struct {
	kind  Kind
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.cause }

// Kind returns the machine-readable kind of e.
func (e *Error) Kind() Kind { return e.kind }

// E constructs a new *Error. cause may be nil.
func E(kind Kind, cause error, msg string) *Error {
	return &Error{kind: kind, msg: msg, cause: cause}
}

// Ef is like E but formats msg with args.
func Ef(kind Kind, cause error, format string, args ...interface{}) *Error {
	return E(kind, cause, fmt.Sprintf(format, args...))
}

// KindOf extracts the Kind from anywhere in err's chain, defaulting to
// Internal when err does not wrap a *Error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return Internal
}

// Is reports whether err's chain carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// WrapDB wraps a *sql.DB/*sql.Tx error with operation context, converting
// sql.ErrNoRows into a NotFound *Error. Mirrors the storage layer's
// wrapDBError helper so every storage call returns a consistently kinded
// error instead of a bare driver error.
func WrapDB(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return E(NotFound, err, op)
	}
	return E(Internal, err, op)
}

// WrapDBf is like WrapDB but formats op with args.
func WrapDBf(err error, format string, args ...interface{}) error {
	return WrapDB(fmt.Sprintf(format, args...), err)
}
