package rpc

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies the taxonomy of a CodableError.
type Kind string

const (
	KindConnectionNonsense = Kind("connection_nonsense")
	KindConnectionClosed   = Kind("connection_closed")
	KindConnectionClosing  = Kind("connection_closing")
	KindCouldNotEncode     = Kind("could_not_encode")
	KindBadUse             = Kind("bad_use")
	KindBadValue           = Kind("bad_value")
	KindGeneralError       = Kind("general_error")
)

// CodableError is a functor (kind, args...) that can cross the wire without
// ever carrying a stack trace. It wraps an optional cause for local
// diagnostics (errors.Is/errors.As), but Cause is never serialized — only
// Kind and Args are encoded (see jsoncodec).
type CodableError struct {
	Kind  Kind
	Args  []any
	Cause error
}

// NewError builds a CodableError of the given kind with the given args.
func NewError(kind Kind, args ...any) *CodableError {
	return &CodableError{Kind: kind, Args: args}
}

// Wrap builds a CodableError of the given kind that also carries a local
// cause for logging/errors.Is purposes. The cause is never sent on the wire.
func Wrap(kind Kind, cause error, args ...any) *CodableError {
	return &CodableError{Kind: kind, Args: args, Cause: cause}
}

func (e *CodableError) Error() string {
	parts := make([]string, len(e.Args))
	for i, a := range e.Args {
		parts[i] = fmt.Sprint(a)
	}
	if len(parts) == 0 {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s(%s)", e.Kind, strings.Join(parts, ", "))
}

func (e *CodableError) Unwrap() error {
	return e.Cause
}

// AsCodable converts an arbitrary error into a CodableError: errors already
// coded pass through unchanged, anything else is adapted as general_error
// so it can still cross the wire.
func AsCodable(err error) *CodableError {
	if err == nil {
		return nil
	}
	var ce *CodableError
	if errors.As(err, &ce) {
		return ce
	}
	return Wrap(KindGeneralError, err, err.Error())
}

// ErrBadUse is a convenience constructor for the common "invalid call" case.
func ErrBadUse(msg string) *CodableError {
	return NewError(KindBadUse, msg)
}

// ErrUnknownTarget builds the generic "Unknown target" bad_use error whose
// message never reveals a raw token string — callers must pass the already
// redacted identifier (e.g. a plain target id or a BearerToken's
// SafeString()).
func ErrUnknownTarget(safeIdentifier string) *CodableError {
	return NewError(KindBadUse, "Unknown target: "+safeIdentifier)
}

// ErrBadValue reports a type-check failure at an API boundary. redactedValue
// must already have redaction applied by the caller.
func ErrBadValue(redactedValue any, typeTag string) *CodableError {
	return NewError(KindBadValue, redactedValue, typeTag)
}
