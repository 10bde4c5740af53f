package taskflow

import (
	"fmt"

	"github.com/sourcegraph/conc/panics"
)

// PanicError is the error of a task body that panicked. It carries the
// recovered value and the stack of the panicking goroutine.
type PanicError struct {
	// Value is the original value passed to panic().
	Value any

	// Stack is the goroutine stack trace at the point of panic.
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", e.Value, e.Stack)
}

// Unwrap returns the panic value if it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

func newPanicError(r *panics.Recovered) *PanicError {
	return &PanicError{
		Value: r.Value,
		Stack: string(r.Stack),
	}
}
