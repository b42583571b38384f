// Package driver provides the reference compute backend the rest of this
// module treats as an external collaborator: device enumeration, typed
// device arrays, asynchronous queues, and a Cruncher that resolves kernel
// names against a registry of Go functions.
package driver

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorType categorizes a Error the way spec §7's taxonomy does.
type ErrorType int

const (
	// ErrTypeCompile covers Cruncher construction failures.
	ErrTypeCompile ErrorType = iota
	// ErrTypeBinding covers mismatched ranges, kinds, or lengths at a bind
	// or copy boundary.
	ErrTypeBinding
	// ErrTypeCapability covers a not-yet-implemented code path.
	ErrTypeCapability
	// ErrTypeScheduling covers an exhausted pool or a disposed device.
	ErrTypeScheduling
	// ErrTypeMemory covers device array allocation failures.
	ErrTypeMemory
	// ErrTypeDevice covers an invalid or unavailable device reference.
	ErrTypeDevice
)

func (t ErrorType) String() string {
	switch t {
	case ErrTypeCompile:
		return "Compile"
	case ErrTypeBinding:
		return "Binding"
	case ErrTypeCapability:
		return "Capability"
	case ErrTypeScheduling:
		return "Scheduling"
	case ErrTypeMemory:
		return "Memory"
	case ErrTypeDevice:
		return "Device"
	default:
		return "Unknown"
	}
}

// Error is a structured error with the operation that failed and an
// optional wrapped cause. It satisfies both errors.Is/As chaining and
// github.com/pkg/errors' StackTrace() when the cause carries one.
type Error struct {
	Type    ErrorType
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error in %s: %s (caused by: %v)", e.Type, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error in %s: %s", e.Type, e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError constructs a Error, wrapping err (if non-nil) with a stack trace
// via github.com/pkg/errors so the deepest failing copy is traceable.
func NewError(t ErrorType, op, message string, err error) error {
	if err != nil {
		err = errors.WithStack(err)
	}
	return &Error{Type: t, Op: op, Message: message, Err: err}
}

// IsType reports whether err is a *Error of the given type.
func IsType(err error, t ErrorType) bool {
	e, ok := err.(*Error)
	return ok && e.Type == t
}

// ErrTimelineUnavailable is the capability error for timeline-overlap
// (profiling) data, which the reference driver does not collect. No
// function in this module returns it: there is no timeline query and no
// profiling interface.
var ErrTimelineUnavailable = NewError(ErrTypeCapability, "Timeline", "profiling data not available from this driver", nil)
