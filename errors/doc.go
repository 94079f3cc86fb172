// Package errors provides structured error types for the sandbox host.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). Lifecycle conditions the caller is expected to match on
// ("already running", "not started", "closed") are distinct kinds, so
// callers use errors.Is against the convenience constructors:
//
//	if errors.Is(err, errors.AlreadyRunning()) {
//	    // retry later
//	}
//
// All errors implement the standard error interface and support
// errors.Is/As and cause unwrapping.
package errors
