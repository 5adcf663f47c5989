package throttle

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidConfig = errors.New("invalid throttle config")
	ErrDisposed      = errors.New("throttle disposed")

	// ErrTimerInvariant is only ever panicked with, never returned. Seeing it
	// means the throttle armed a second timer, which is a bug in this package.
	ErrTimerInvariant = errors.New("deferred invocation already armed")
)

// InvocationError reports a target failure from a deferred invocation,
// where no caller is waiting for the result.
type InvocationError struct {
	ThrottleID uuid.UUID
	Deferred   bool
	At         time.Time
	Err        error
}

func (e *InvocationError) Error() string {
	kind := "synchronous"
	if e.Deferred {
		kind = "deferred"
	}
	return fmt.Sprintf("throttle[%s] %s invocation at %s: %v", e.ThrottleID, kind, e.At.Format(time.RFC3339Nano), e.Err)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// PanicError wraps a value recovered from a panicking target together with
// the stack captured at the point of the panic.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("target panicked: %v\n\n%s", e.Value, e.Stack)
}

func newPanicError(v any) *PanicError {
	buf := make([]byte, 8192)
	n := runtime.Stack(buf, false)

	return &PanicError{
		Value: v,
		Stack: string(buf[:n]),
	}
}

// ErrorSink receives failures of deferred invocations.
type ErrorSink interface {
	Report(err error)
}

// ErrorSinkFunc adapts a function to an [ErrorSink].
type ErrorSinkFunc func(err error)

func (f ErrorSinkFunc) Report(err error) {
	f(err)
}
