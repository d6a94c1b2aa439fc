// Package tortureerr defines the failure taxonomy for the elf2e32 torture harness.
//
// Every case outcome that is not a pass maps to exactly one FailureClass, so a
// run report can tell a genuine regression apart from a predicted crash or a
// gap in the classification tables.
package tortureerr

import "fmt"

// FailureClass is a stable failure category.
type FailureClass string

const (
	InvocationFailure     FailureClass = "INVOCATION_FAILURE"
	ExpectedCrash         FailureClass = "EXPECTED_CRASH"
	CrashNotReproduced    FailureClass = "CRASH_NOT_REPRODUCED"
	MissingArtifact       FailureClass = "MISSING_ARTIFACT"
	FingerprintMismatch   FailureClass = "FINGERPRINT_MISMATCH"
	UnknownClassification FailureClass = "UNKNOWN_CLASSIFICATION"
	ConfigMismatch        FailureClass = "CONFIG_MISMATCH"
	CLIUsage              FailureClass = "CLI_USAGE"
	InternalIO            FailureClass = "INTERNAL_IO"
)

// ExitCode returns the process exit code for this failure class.
func (fc FailureClass) ExitCode() int {
	switch fc {
	case ConfigMismatch, CLIUsage:
		return 2
	case InternalIO:
		return 10
	default:
		return 1
	}
}

// CountsAsFailure reports whether a case outcome of this class is a regression.
// Expected crashes and classification gaps are reported on their own.
func (fc FailureClass) CountsAsFailure() bool {
	switch fc {
	case ExpectedCrash, UnknownClassification:
		return false
	default:
		return true
	}
}

// Error is the structured error type for harness failures.
type Error struct {
	Class   FailureClass
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("tortureerr: %s [%s]: %s", e.Class, e.Code, msg)
	}
	return fmt.Sprintf("tortureerr: %s: %s", e.Class, msg)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given class and message. code may be empty
// for failures that are not tied to one combination.
func New(class FailureClass, code, message string) *Error {
	return &Error{Class: class, Code: code, Message: message}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(class FailureClass, code, message string, cause error) *Error {
	return &Error{Class: class, Code: code, Message: message, Cause: cause}
}

// Newf is New with a format string.
func Newf(class FailureClass, code, format string, args ...any) *Error {
	return New(class, code, fmt.Sprintf(format, args...))
}
