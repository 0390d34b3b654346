package client

import (
	"errors"
	"fmt"
)

// Kinds of verification failure. Every error returned by Execute is an *Error
// whose Kind is one of these.
var (
	ErrInvalidWitness       = errors.New("invalid witness")
	ErrExecutionFailed      = errors.New("block execution failed")
	ErrPostExecutionInvalid = errors.New("post-execution validation failed")
	ErrMismatchedStateRoot  = errors.New("mismatched state root")
	ErrHeaderMismatch       = errors.New("derived header does not match the block")
)

// Error is a verification failure: a Kind plus its cause. errors.Is matches
// both.
type Error struct {
	Kind error
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func fail(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of a verification error, or nil.
func KindOf(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return nil
}
