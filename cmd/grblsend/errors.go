package main

import (
	"errors"
	"fmt"
)

// Exit codes.
const (
	ExitSuccess  = 0   // Job completed
	ExitGeneral  = 1   // General error
	ExitFault    = 2   // Job ended by a controller fault, timeout or lost connection
	ExitUsage    = 64  // Command line usage error (BSD convention)
	ExitCanceled = 130 // Interrupted
)

// CLIError is a user-facing error with an optional hint and an exit code.
type CLIError struct {
	Message string
	Hint    string
	Cause   error
	Code    int
}

func (e *CLIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *CLIError) Unwrap() error { return e.Cause }

// ValidationError reports a bad argument, found before any I/O is attempted.
type ValidationError struct {
	Arg    string
	Value  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid %s %q", e.Arg, e.Value)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

// exitCode maps err to a process exit code.
func exitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var cliErr *CLIError
	if errors.As(err, &cliErr) {
		return cliErr.Code
	}
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return ExitUsage
	}
	return ExitGeneral
}
