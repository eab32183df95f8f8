// Package fault defines the error taxonomy shared by all courier services.
// Services return *Error values; the API layer maps kinds to HTTP status
// codes at the boundary.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a service error.
type Kind int

const (
	// KindNotFound marks an unknown device, session or message.
	KindNotFound Kind = iota + 1
	// KindForbidden marks an ownership or cross-identity violation.
	KindForbidden
	// KindBadRequest marks an invalid argument, wrong device role,
	// expired session or illegal status transition.
	KindBadRequest
	// KindConflict marks a lost race, e.g. two completions of the same
	// pairing session.
	KindConflict
	// KindCrypto marks an authentication-tag or ciphertext format
	// failure on decrypt.
	KindCrypto
)

// Error is a classified service error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// NotFound builds a KindNotFound error.
func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// Forbidden builds a KindForbidden error.
func Forbidden(format string, args ...any) error {
	return &Error{Kind: KindForbidden, Msg: fmt.Sprintf(format, args...)}
}

// BadRequest builds a KindBadRequest error.
func BadRequest(format string, args ...any) error {
	return &Error{Kind: KindBadRequest, Msg: fmt.Sprintf(format, args...)}
}

// Conflict builds a KindConflict error.
func Conflict(format string, args ...any) error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

// Crypto builds a KindCrypto error wrapping the underlying cause.
func Crypto(msg string, err error) error {
	return &Error{Kind: KindCrypto, Msg: msg, Err: err}
}

// KindOf returns the kind of err, or 0 if err carries no kind.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

// IsKind reports whether err is classified as k.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}
