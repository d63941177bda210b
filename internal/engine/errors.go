package engine

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeTooManyOptions  ErrorCode = "TOO_MANY_OPTIONS"
	CodePollNotFound    ErrorCode = "POLL_NOT_FOUND"
	CodeInvalidIdentity ErrorCode = "INVALID_IDENTITY"
	CodeOptionNotFound  ErrorCode = "OPTION_NOT_FOUND"
	// Conflicts with stored state rather than malformed input.
	CodeAlreadyInstantiated ErrorCode = "ALREADY_INSTANTIATED"
	CodeInvariantFault      ErrorCode = "INVARIANT_FAULT"
)

// Error is a poll rule violation reported back to the caller. Two errors
// match under errors.Is when their codes are equal.
type Error struct {
	Code ErrorCode
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrTooManyOptions  = &Error{Code: CodeTooManyOptions, Msg: "too many poll options"}
	ErrPollNotFound    = &Error{Code: CodePollNotFound, Msg: "poll not found"}
	ErrInvalidIdentity = &Error{Code: CodeInvalidIdentity, Msg: "invalid identity"}
	ErrOptionNotFound  = &Error{Code: CodeOptionNotFound, Msg: "option not found"}

	ErrAlreadyInstantiated = &Error{Code: CodeAlreadyInstantiated, Msg: "already instantiated"}
	ErrInvariantFault      = &Error{Code: CodeInvariantFault, Msg: "stored state is inconsistent"}
)

func tooManyOptions(n int) error {
	return &Error{Code: CodeTooManyOptions, Msg: fmt.Sprintf("too many poll options: %d > %d", n, MaxPollOptions)}
}

func pollNotFound(pollID string) error {
	return &Error{Code: CodePollNotFound, Msg: fmt.Sprintf("poll %q not found", pollID)}
}

func invalidIdentity(err error) error {
	return &Error{Code: CodeInvalidIdentity, Msg: "invalid identity", Err: err}
}

func optionNotFound(pollID, label string) error {
	return &Error{Code: CodeOptionNotFound, Msg: fmt.Sprintf("poll %q has no option %q", pollID, label)}
}

func alreadyInstantiated(admin string) error {
	return &Error{Code: CodeAlreadyInstantiated, Msg: fmt.Sprintf("already instantiated with admin %q", admin)}
}

func invariantFault(pollID, label string) error {
	return &Error{Code: CodeInvariantFault, Msg: fmt.Sprintf("poll %q option %q has no votes to move", pollID, label)}
}

// IsConflict reports whether code rejects a command because of stored state.
func IsConflict(code ErrorCode) bool {
	return code == CodeAlreadyInstantiated || code == CodeInvariantFault
}

// CodeOf returns the poll error code carried by err, if any.
func CodeOf(err error) (ErrorCode, bool) {
	var e *Error
	if !errors.As(err, &e) {
		return "", false
	}
	return e.Code, true
}
