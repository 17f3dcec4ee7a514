// Copyright the amr authors.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package amrerr defines the error taxonomy shared across the AMR core:
// precondition violations, invariant violations, numerical guard trips,
// transport failures, and non-applicable requests (see spec §7).
package amrerr

import "fmt"

// Kind classifies an error without requiring callers to match strings.
type Kind int

const (
	// KindPrecondition marks a bad mode, variable mask, or sandglass index.
	// Fatal: report the parameter and the value that violated it.
	KindPrecondition Kind = iota
	// KindInvariant marks a broken hierarchy invariant (proper nesting,
	// reciprocity, flux-register presence). Fatal in debug builds.
	KindInvariant
	// KindNumericalGuard marks a guard trip such as negative density or
	// non-positive pressure.
	KindNumericalGuard
	// KindTransport marks a failure of the paired send/receive primitive.
	KindTransport
	// KindNonApplicable marks a request that requires no work, such as a
	// coarse-fine exchange on a level with no flux registers.
	KindNonApplicable
)

func (k Kind) String() string {
	switch k {
	case KindPrecondition:
		return "precondition"
	case KindInvariant:
		return "invariant"
	case KindNumericalGuard:
		return "numerical-guard"
	case KindTransport:
		return "transport"
	case KindNonApplicable:
		return "non-applicable"
	default:
		return "unknown"
	}
}

// Error is a taxonomy-tagged error. Kind lets callers dispatch with a type
// switch or errors.As without parsing messages.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "Exchange", "FluxCorrect"
	Message string
	Err     error // wrapped cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("amr: %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("amr: %s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error with the given kind, operation, and message.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap constructs an *Error that wraps an underlying cause.
func Wrap(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// Is reports whether err (or a wrapped error) has the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}
