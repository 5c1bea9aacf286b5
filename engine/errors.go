package engine

import (
	"fmt"
)

// HandlerError wraps a failure from a user-supplied step handler with the
// step name and attempt number. Use errors.As to recover it from a failed
// run's terminal error, and errors.Is/Unwrap to reach the underlying
// handler error.
type HandlerError struct {
	Step    string
	Attempt int
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("step %q attempt %d: %v", e.Step, e.Attempt, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
