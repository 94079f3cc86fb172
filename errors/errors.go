package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseCompile     Phase = "compile"     // engine setup, cache compile
	PhaseCache       Phase = "cache"       // artifact cache I/O
	PhaseInstantiate Phase = "instantiate" // guest instantiation and init
	PhaseRuntime     Phase = "runtime"     // message loop execution
	PhaseHost        Phase = "host"        // capability bridge
	PhaseGuard       Phase = "guard"       // execution guard
)

// Kind categorizes the error
type Kind string

const (
	KindIO             Kind = "io"
	KindInvalidData    Kind = "invalid_data"
	KindInvalidInput   Kind = "invalid_input"
	KindInstantiation  Kind = "instantiation"
	KindNotStarted     Kind = "not_started"
	KindAlreadyRunning Kind = "already_running"
	KindClosed         Kind = "closed"
	KindHandleFailure  Kind = "handle_failure"
	KindGuestFault     Kind = "guest_fault"
)

// Error is the structured error type used throughout the host
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by phase and kind
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// New creates a structured error
func New(phase Phase, kind Kind, detail string) *Error {
	return &Error{Phase: phase, Kind: kind, Detail: detail}
}

// Newf creates a structured error with a formatted detail
func Newf(phase Phase, kind Kind, format string, args ...any) *Error {
	return &Error{Phase: phase, Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with phase and kind context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{Phase: phase, Kind: kind, Detail: detail, Cause: cause}
}

// Convenience constructors for the conditions callers match on

// AlreadyRunning is returned when a run is attempted while the execution
// guard is held. It is never queued or retried by the host.
func AlreadyRunning() *Error {
	return &Error{
		Phase:  PhaseGuard,
		Kind:   KindAlreadyRunning,
		Detail: "run already in progress",
	}
}

// NotStarted is returned when the message loop is driven without an
// instantiated guest environment. cause carries the most recent
// instantiation failure, if one was recorded.
func NotStarted(cause error) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindNotStarted,
		Detail: "guest environment not started",
		Cause:  cause,
	}
}

// Closed is returned when a run is attempted after the runner released its
// resources.
func Closed() *Error {
	return &Error{
		Phase:  PhaseGuard,
		Kind:   KindClosed,
		Detail: "runner closed",
	}
}

// Instantiation wraps a guest instantiation or initialization failure
func Instantiation(cause error) *Error {
	return &Error{
		Phase:  PhaseInstantiate,
		Kind:   KindInstantiation,
		Detail: "instantiate guest",
		Cause:  cause,
	}
}

// HandleFailure carries the formatted, guest-visible rendering of a
// capability handle failure. Only the formatted string crosses the
// boundary; the handle's original error identity does not.
func HandleFailure(formatted string) *Error {
	return &Error{
		Phase:  PhaseHost,
		Kind:   KindHandleFailure,
		Detail: formatted,
	}
}

// GuestFault reports a failure raised from within the guest's message loop
func GuestFault(detail string) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindGuestFault,
		Detail: detail,
	}
}

// CacheIO wraps an artifact cache read or write failure
func CacheIO(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseCache,
		Kind:   KindIO,
		Detail: detail,
		Cause:  cause,
	}
}

// Compile wraps a compilation failure
func Compile(cause error) *Error {
	return &Error{
		Phase:  PhaseCompile,
		Kind:   KindInvalidData,
		Detail: "compile guest binary",
		Cause:  cause,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}
