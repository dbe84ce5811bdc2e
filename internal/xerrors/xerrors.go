// Package xerrors provides the kind-tagged error taxonomy shared across the
// aggregator's pipeline stages.
package xerrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation-policy decisions (fatal vs.
// recoverable) without needing a distinct Go type per failure mode.
type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork
	KindRateLimited
	KindParse
	KindSecurityReject
	KindCache
	KindIO
	KindConfig
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "NetworkError"
	case KindRateLimited:
		return "RateLimited"
	case KindParse:
		return "ParseError"
	case KindSecurityReject:
		return "SecurityReject"
	case KindCache:
		return "CacheError"
	case KindIO:
		return "IOError"
	case KindConfig:
		return "ConfigError"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Error is a kind-tagged error wrapping an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a kind-tagged error. cause may be nil.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err (or any error it wraps) carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, returning KindUnknown if err is not a
// tagged *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
