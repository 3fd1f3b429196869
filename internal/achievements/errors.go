package achievements

import (
	"errors"
	"fmt"
)

// Code is a stable, caller-facing error code.
type Code string

const (
	CodeConfig             Code = "config_error"
	CodePermissionDenied   Code = "permission_denied"
	CodeInvalidAchievement Code = "invalid_achievement"
	CodeInvalidLevel       Code = "invalid_level"
	CodeNotRegistered      Code = "user_not_registered"
	CodeRebuildInProgress  Code = "rebuild_in_progress"
)

// Error is a typed failure surfaced to callers of the core.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code, so the sentinels below work
// with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrConfig             = &Error{Code: CodeConfig, Message: "invalid achievement definition"}
	ErrPermissionDenied   = &Error{Code: CodePermissionDenied, Message: "permission denied"}
	ErrInvalidAchievement = &Error{Code: CodeInvalidAchievement, Message: "unknown achievement"}
	ErrInvalidLevel       = &Error{Code: CodeInvalidLevel, Message: "unknown achievement level"}
	ErrNotRegistered      = &Error{Code: CodeNotRegistered, Message: "user is not registered"}
	ErrRebuildInProgress  = &Error{Code: CodeRebuildInProgress, Message: "rebuild already running"}
)

// NewError builds an *Error with a formatted message.
func NewError(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
