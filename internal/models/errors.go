package models

import (
	"errors"
	"fmt"
)

// Exit codes understood by the hook host. ExitUsage is reserved for caller
// bugs (malformed invocation); everything else relays the wrapped command.
const (
	ExitOK    = 0
	ExitError = 1
	ExitUsage = 2
)

// UsageError indicates a malformed CLI invocation. Maps to exit code 2.
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string { return e.Msg }

// NewUsageError builds a UsageError with a formatted message.
func NewUsageError(format string, args ...any) error {
	return &UsageError{Msg: fmt.Sprintf(format, args...)}
}

// ExitCodeError carries an explicit process exit code, typically relayed
// from a wrapped command so the host's interpretation of that code survives.
type ExitCodeError struct {
	Code int
	Err  error
}

func (e *ExitCodeError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

func (e *ExitCodeError) Unwrap() error { return e.Err }

// NewExitCodeError wraps err with an explicit exit code.
func NewExitCodeError(code int, err error) error {
	return &ExitCodeError{Code: code, Err: err}
}

// ExitCode maps an error returned from command execution to a process exit
// code. nil means success; UsageError means 2; ExitCodeError carries its own
// code; anything else is a generic failure.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ue *UsageError
	if errors.As(err, &ue) {
		return ExitUsage
	}
	var ee *ExitCodeError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ExitError
}
