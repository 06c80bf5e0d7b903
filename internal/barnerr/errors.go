// Package barnerr defines Barn's internal error taxonomy: a small tagged
// sum of error kinds that every core component returns instead of raw
// filesystem or OS errors, so callers (the scheduler, the IPC layer, the
// CLI) can branch on Kind with errors.Is/errors.As rather than string
// matching.
package barnerr

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a Barn error.
type Kind string

const (
	KindNotFound               Kind = "not_found"
	KindInvalidArgument        Kind = "invalid_argument"
	KindInvalidStateTransition Kind = "invalid_state_transition"
	KindLockContended          Kind = "lock_contended"
	KindIoError                Kind = "io_error"
	KindProcessSpawnFailed     Kind = "process_spawn_failed"
	KindTimeout                Kind = "timeout"
	KindCorrupted              Kind = "corrupted"
)

// Error is Barn's wrapped error type. It always carries a Kind and a
// human-readable message; Path and JobID are optional context fields
// populated when relevant.
type Error struct {
	Kind    Kind
	Message string
	Path    string
	JobID   string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.JobID != "" && e.Path != "":
		return fmt.Sprintf("%s: job=%s path=%s: %s", e.Kind, e.JobID, e.Path, e.Message)
	case e.JobID != "":
		return fmt.Sprintf("%s: job=%s: %s", e.Kind, e.JobID, e.Message)
	case e.Path != "":
		return fmt.Sprintf("%s: path=%s: %s", e.Kind, e.Path, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error of the given kind that wraps an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithJobID returns a copy of e annotated with a job id.
func (e *Error) WithJobID(id string) *Error {
	c := *e
	c.JobID = id
	return &c
}

// WithPath returns a copy of e annotated with a filesystem path.
func (e *Error) WithPath(path string) *Error {
	c := *e
	c.Path = path
	return &c
}

// Is reports whether err is a Barn error of the given kind.
func Is(err error, kind Kind) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind == kind
	}
	return false
}

// NotFound, InvalidArgument, etc. are convenience constructors used
// throughout the core components.
func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

func InvalidArgument(format string, args ...any) *Error {
	return New(KindInvalidArgument, format, args...)
}

func InvalidStateTransition(format string, args ...any) *Error {
	return New(KindInvalidStateTransition, format, args...)
}

func LockContended(format string, args ...any) *Error {
	return New(KindLockContended, format, args...)
}

func IoError(err error, format string, args ...any) *Error {
	return Wrap(KindIoError, err, format, args...)
}

func ProcessSpawnFailed(err error, format string, args ...any) *Error {
	return Wrap(KindProcessSpawnFailed, err, format, args...)
}

func Timeout(format string, args ...any) *Error {
	return New(KindTimeout, format, args...)
}

func Corrupted(format string, args ...any) *Error {
	return New(KindCorrupted, format, args...)
}
