package errors

import (
	stderrors "errors"
	"fmt"
)

type ErrorType string

const (
	ErrorTypeDirtyWorkingDirectory ErrorType = "DIRTY_WORKING_DIRECTORY"
	ErrorTypeUnresolvableRevision  ErrorType = "UNRESOLVABLE_REVISION"
	ErrorTypeNotAnAncestor         ErrorType = "NOT_AN_ANCESTOR"
	ErrorTypeCancelled             ErrorType = "CANCELLED_OR_EMPTY_MESSAGE"
	ErrorTypeCorruptObjectGraph    ErrorType = "CORRUPT_OBJECT_GRAPH"
	ErrorTypeConcurrentRefUpdate   ErrorType = "CONCURRENT_REF_UPDATE"
	ErrorTypeInternal              ErrorType = "INTERNAL"
)

// Exit codes reported by the command line.
const (
	CodeOK         = 0
	CodeDirty      = 1
	CodeUnresolved = 2
	CodeCancelled  = 3
	CodeConcurrent = 4
	CodeCorrupt    = 5
	CodeInternal   = 6
)

type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    int       `json:"code"`
	Details any       `json:"details,omitempty"`
	Err     error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// DirtyWorkingDirectory lists the paths with uncommitted changes.
func DirtyWorkingDirectory(paths []string) *Error {
	return &Error{
		Type:    ErrorTypeDirtyWorkingDirectory,
		Message: "working directory is not clean; commit or stash changes first",
		Code:    CodeDirty,
		Details: paths,
	}
}

func UnresolvableRevision(spec string, cause error) *Error {
	return &Error{
		Type:    ErrorTypeUnresolvableRevision,
		Message: fmt.Sprintf("could not resolve revision %q", spec),
		Code:    CodeUnresolved,
		Details: spec,
		Err:     cause,
	}
}

func NotAnAncestor(target, tip string) *Error {
	return &Error{
		Type:    ErrorTypeNotAnAncestor,
		Message: fmt.Sprintf("commit %s is not an ancestor of %s", target, tip),
		Code:    CodeUnresolved,
		Details: map[string]string{"target": target, "tip": tip},
	}
}

func Cancelled(reason string) *Error {
	return &Error{
		Type:    ErrorTypeCancelled,
		Message: reason,
		Code:    CodeCancelled,
	}
}

func CorruptObjectGraph(message string, cause error) *Error {
	return &Error{
		Type:    ErrorTypeCorruptObjectGraph,
		Message: message,
		Code:    CodeCorrupt,
		Err:     cause,
	}
}

func ConcurrentRefUpdate(ref string, cause error) *Error {
	return &Error{
		Type:    ErrorTypeConcurrentRefUpdate,
		Message: fmt.Sprintf("reference %s was updated concurrently; re-run to retry", ref),
		Code:    CodeConcurrent,
		Details: ref,
		Err:     cause,
	}
}

// Internal wraps a failure that is none of the user-facing conditions above,
// such as a missing committer identity or an unreadable config.
func Internal(message string, cause error) *Error {
	return &Error{
		Type:    ErrorTypeInternal,
		Message: message,
		Code:    CodeInternal,
		Err:     cause,
	}
}

// Is reports whether any error in err's chain is an *Error of type t.
func Is(err error, t ErrorType) bool {
	var e *Error
	return stderrors.As(err, &e) && e.Type == t
}

// ExitCode maps err to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return CodeOK
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
