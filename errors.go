package suite

import (
	"errors"
	"fmt"
	"syscall"
)

// RuntimeError represents an operational error that should lead to exit code 2
// Examples include an unreadable catalog, invalid configuration, etc.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError creates a new RuntimeError
func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// TestFailureError represents one or more failed test groups (exit code 1)
type TestFailureError struct {
	Message string
}

func (e *TestFailureError) Error() string {
	return fmt.Sprintf("test failure: %s", e.Message)
}

// NewTestFailureError creates a new TestFailureError
func NewTestFailureError(message string) *TestFailureError {
	return &TestFailureError{Message: message}
}

// IsTestFailureError checks if the error is or wraps a TestFailureError
func IsTestFailureError(err error) bool {
	var testErr *TestFailureError
	return err != nil && errors.As(err, &testErr)
}

// InterruptedError represents a run cut short by a signal (exit code 130
// for SIGINT, the POSIX shell encoding 128+signal)
type InterruptedError struct {
	Sig syscall.Signal
}

func (e *InterruptedError) Error() string {
	return fmt.Sprintf("run interrupted by signal %d", int(e.Sig))
}

// ExitCode returns the POSIX shell encoding of death by this signal.
func (e *InterruptedError) ExitCode() int {
	return 128 + int(e.Sig)
}

// NewInterruptedError creates a new InterruptedError
func NewInterruptedError(sig syscall.Signal) *InterruptedError {
	return &InterruptedError{Sig: sig}
}

// IsInterruptedError checks if the error is or wraps an InterruptedError
func IsInterruptedError(err error) bool {
	var intErr *InterruptedError
	return err != nil && errors.As(err, &intErr)
}
