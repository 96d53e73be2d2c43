package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes for categorizing errors. The coarse codes (CONFIG, SSH, ...)
// group failures by subsystem; the condition codes identify the specific
// failure so callers can branch without string matching.
const (
	ErrConfig   = "CONFIG"
	ErrSSH      = "SSH"
	ErrExec     = "EXEC"
	ErrLock     = "LOCK"
	ErrProvider = "PROVIDER"
	ErrTransfer = "TRANSFER"

	// Registry conditions
	ErrNotFound      = "NOT_FOUND"
	ErrDuplicateName = "DUPLICATE_NAME"
	ErrNoActive      = "NO_ACTIVE"

	// Reconciler conditions
	ErrLabelCollision = "LABEL_COLLISION"

	// Connection conditions
	ErrNotRunning       = "NOT_RUNNING"
	ErrStaleGeneration  = "STALE_GENERATION"
	ErrPortInUse        = "PORT_IN_USE"
	ErrTunnelDied       = "TUNNEL_DIED"
	ErrConnectionFailed = "CONNECTION_FAILED"

	// Injection and backup conditions
	ErrInjectionFailed = "INJECTION_FAILED"
	ErrNoBackups       = "NO_BACKUPS"
)

// Error represents a structured error with code, message, suggestion, and
// optional cause. Rendered as:
//
//	✗ <What failed>
//
//	  <Why it failed - technical details>
//
//	  <How to fix it - actionable steps>
type Error struct {
	Code       string
	Message    string
	Suggestion string
	Cause      error
}

// New creates a new structured error with the given code, message, and suggestion.
func New(code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
	}
}

// Wrap wraps an existing error with a message, defaulting to ErrSSH code.
func Wrap(err error, message string) *Error {
	return &Error{
		Code:    ErrSSH,
		Message: message,
		Cause:   err,
	}
}

// WrapWithCode wraps an existing error with a specific code, message, and suggestion.
func WrapWithCode(err error, code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
		Cause:      err,
	}
}

// Error implements the error interface with formatted output.
func (e *Error) Error() string {
	var b strings.Builder

	// First line: failure symbol + main message
	b.WriteString(fmt.Sprintf("✗ %s\n", e.Message))

	// Include cause if present (why it failed)
	if e.Cause != nil {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Cause.Error()))
	}

	// Include suggestion if present (how to fix)
	if e.Suggestion != "" {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Suggestion))
	}

	return b.String()
}

// Unwrap returns the underlying cause for use with errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsCode checks if an error is a structured Error with the given code.
func IsCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var verr *Error
	if errors.As(err, &verr) {
		return verr.Code == code
	}
	return false
}

// ExitError carries a remote command's exit code to the process exit
// without any extra output.
type ExitError struct {
	Code int
}

// NewExitError creates an ExitError with the given code.
func NewExitError(code int) *ExitError {
	return &ExitError{Code: code}
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// GetExitCode extracts the exit code from an ExitError anywhere in the
// chain. The second return reports whether one was found.
func GetExitCode(err error) (int, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code, true
	}
	return 0, false
}

// CodeOf returns the code of a structured Error, or "" for other errors.
func CodeOf(err error) string {
	var verr *Error
	if errors.As(err, &verr) {
		return verr.Code
	}
	return ""
}
