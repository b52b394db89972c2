package cli

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies the failure modes a Session can report. The taxonomy is
// deliberately small and closed: every exported operation fails with one of
// these, never a bare error.
type Kind int

const (
	// KindConnection indicates the transport could not be established, or a
	// post-connect invariant (prompt discovery) failed. Fatal for the Session.
	KindConnection Kind = iota
	// KindAuthentication indicates credentials were rejected.
	KindAuthentication
	// KindTimeout indicates a read exceeded its deadline. Fatal: buffer state
	// is unknown afterwards.
	KindTimeout
	// KindCommit indicates a vendor-specific commit command reported an error.
	// Not fatal.
	KindCommit
	// KindUsage indicates the caller supplied an unknown device type or
	// malformed argument.
	KindUsage
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindAuthentication:
		return "authentication"
	case KindTimeout:
		return "timeout"
	case KindCommit:
		return "commit"
	case KindUsage:
		return "usage"
	default:
		return "unknown"
	}
}

// Error is the error type returned by every exported operation in this
// package. It always carries the target host and a Kind, and may wrap an
// underlying cause.
type Error struct {
	Host   string
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Host == "" {
		return fmt.Sprintf("%s error: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("host %s: %s error: %s", e.Host, e.Kind, e.Reason)
}

// Unwrap exposes the wrapped cause, if any, for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(host string, kind Kind, reason string, cause error) *Error {
	return &Error{Host: host, Kind: kind, Reason: reason, Err: cause}
}

func wrapError(host string, kind Kind, cause error, reason string) *Error {
	return &Error{Host: host, Kind: kind, Reason: reason, Err: errors.Wrap(cause, reason)}
}

// IsTimeout reports whether err is (or wraps) a timeout Error.
func IsTimeout(err error) bool { return kindOf(err) == KindTimeout }

// IsAuthentication reports whether err is (or wraps) an authentication Error.
func IsAuthentication(err error) bool { return kindOf(err) == KindAuthentication }

// IsConnection reports whether err is (or wraps) a connection Error.
func IsConnection(err error) bool { return kindOf(err) == KindConnection }

// IsCommit reports whether err is (or wraps) a commit Error.
func IsCommit(err error) bool { return kindOf(err) == KindCommit }

// IsUsage reports whether err is (or wraps) a usage Error.
func IsUsage(err error) bool { return kindOf(err) == KindUsage }

func kindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return -1
}
