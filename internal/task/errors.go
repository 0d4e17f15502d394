package task

import (
	"fmt"
	"runtime"

	"github.com/pkg/errors"
)

// ContractViolation is the panic value raised when the scheduler misuses a
// State, e.g. by assigning an outcome twice. It is a programming error and is
// never returned as an ordinary error.
type ContractViolation struct {
	Task string
	Msg  string
}

func (c *ContractViolation) Error() string {
	if c == nil {
		return ""
	}
	return fmt.Sprintf("task %s: contract violation: %s", c.Task, c.Msg)
}

func violate(path, format string, args ...any) {
	panic(&ContractViolation{Task: path, Msg: fmt.Sprintf(format, args...)})
}

// FailedError is the generic failure kind a task's captured error is wrapped in
// when it is not already an unchecked kind.
type FailedError struct {
	Task  string
	Cause error
}

func (e *FailedError) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause == nil {
		return fmt.Sprintf("task %s failed with an exception", e.Task)
	}
	return fmt.Sprintf("task %s failed with an exception: %v", e.Task, e.Cause)
}

func (e *FailedError) Unwrap() error { return e.Cause }

// PanicError is a fatal failure recovered from a panicking action.
type PanicError struct {
	Value any
	Stack error
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// StackTrace returns the stack captured at recovery.
func (e *PanicError) StackTrace() errors.StackTrace {
	type tracer interface{ StackTrace() errors.StackTrace }
	if t, ok := e.Stack.(tracer); ok {
		return t.StackTrace()
	}
	return nil
}

// fromPanic converts a recovered value into a failure. runtime errors keep
// their own kind.
func fromPanic(v any) error {
	if rt, ok := v.(runtime.Error); ok {
		return rt
	}
	return &PanicError{Value: v, Stack: errors.New("recovered")}
}

// isUnchecked reports whether err should be surfaced without wrapping.
func isUnchecked(err error) bool {
	var rt runtime.Error
	var pe *PanicError
	var fe *FailedError
	return errors.As(err, &rt) || errors.As(err, &pe) || errors.As(err, &fe)
}
