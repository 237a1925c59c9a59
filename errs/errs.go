// Package errs defines the tagged errors shared by the session registry and the
// worktree engine. Callers branch on Kind; the human-readable text is only
// produced at the command surface.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies a class of failure.
type Kind string

const (
	KindSessionNotFound  Kind = "SESSION_NOT_FOUND"
	KindSessionStart     Kind = "SESSION_START_FAILURE"
	KindSessionIO        Kind = "SESSION_IO_FAILURE"
	KindProcessSpawn     Kind = "PROCESS_SPAWN_FAILURE"
	KindProcessIO        Kind = "PROCESS_IO_FAILURE"
	KindToolExecution    Kind = "TOOL_EXECUTION_FAILURE"
	KindPatchApplication Kind = "PATCH_APPLICATION_FAILURE"
	KindInvalidInput     Kind = "INVALID_INPUT"
)

// Error is a failure tagged with its Kind.
type Error struct {
	Kind    Kind           `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

// Error returns the display text. The kind is deliberately not part of it.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap implements the errors.Unwrap interface
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a detail to the error
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new Error
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap wraps an existing error with a kind and message.
func Wrap(err error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: err}
}

// Is reports whether any error in err's chain is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Cause
	}
	return false
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// SessionNotFound reports an operation against an unknown session identifier.
func SessionNotFound(sessionID string) *Error {
	return New(KindSessionNotFound, "Session not found").WithDetail("sessionID", sessionID)
}

// SessionStart reports that a session handle could not be constructed.
func SessionStart(sessionID string, err error) *Error {
	return Wrap(err, KindSessionStart, "Failed to start session").WithDetail("sessionID", sessionID)
}

// SessionIO reports that forwarding something to a live session failed.
func SessionIO(sessionID, op string, err error) *Error {
	return Wrap(err, KindSessionIO, "Failed to "+op).
		WithDetail("sessionID", sessionID).
		WithDetail("op", op)
}

// ProcessSpawn reports that the OS could not create a process.
func ProcessSpawn(name string, err error) *Error {
	return Wrap(err, KindProcessSpawn, fmt.Sprintf("failed to spawn %s", name)).
		WithDetail("command", name)
}

// ProcessIO reports a failed write to, or close of, a child's standard input.
func ProcessIO(name, op string, err error) *Error {
	return Wrap(err, KindProcessIO, fmt.Sprintf("failed to %s for %s", op, name)).
		WithDetail("command", name).
		WithDetail("op", op)
}

// ToolExecution reports a tool that ran but exited with a failure code.
func ToolExecution(command string, exitCode int, stderr string) *Error {
	msg := strings.TrimSpace(stderr)
	if msg == "" {
		msg = fmt.Sprintf("%s exited with status %d", command, exitCode)
	}
	return New(KindToolExecution, msg).
		WithDetail("command", command).
		WithDetail("exitCode", exitCode)
}

// PatchApplication reports that every reverse-apply strategy failed. Empty
// diagnostics are replaced with "unknown".
func PatchApplication(gitStderr, patchStderr string) *Error {
	return New(KindPatchApplication, fmt.Sprintf(
		"Failed to revert change. git apply error: %s. patch error: %s",
		orUnknown(gitStderr), orUnknown(patchStderr),
	))
}

// InvalidInput reports a malformed request.
func InvalidInput(message string) *Error {
	return New(KindInvalidInput, message)
}

func orUnknown(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}
	return s
}
