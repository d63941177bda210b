package store

import "errors"

type ErrorCode string

const (
	ErrorCodeOverloaded ErrorCode = "OVERLOADED"
	ErrorCodeNotLeader  ErrorCode = "NOT_LEADER"
)

// StoreError reports a condition of the command pipeline rather than of the
// poll rules. Callers may retry after RetryAfterMs or against LeaderAddr.
type StoreError struct {
	Code         ErrorCode
	Msg          string
	RetryAfterMs int
	LeaderAddr   string
}

func (e *StoreError) Error() string {
	return e.Msg
}

// NewOverloadedError rejects a command before it reaches the log.
// retryAfterMs <= 0 means no hint.
func NewOverloadedError(msg string, retryAfterMs int) error {
	return &StoreError{Code: ErrorCodeOverloaded, Msg: msg, RetryAfterMs: max(retryAfterMs, 0)}
}

func NewNotLeaderError(leaderAddr string) error {
	msg := "not the raft leader"
	if leaderAddr != "" {
		msg += "; leader is " + leaderAddr
	}
	return &StoreError{Code: ErrorCodeNotLeader, Msg: msg, LeaderAddr: leaderAddr}
}

func storeErrorWithCode(err error, code ErrorCode) (*StoreError, bool) {
	var se *StoreError
	if errors.As(err, &se) && se.Code == code {
		return se, true
	}
	return nil, false
}

func IsOverloadedError(err error) bool {
	_, ok := storeErrorWithCode(err, ErrorCodeOverloaded)
	return ok
}

func IsNotLeaderError(err error) bool {
	_, ok := storeErrorWithCode(err, ErrorCodeNotLeader)
	return ok
}

// OverloadRetryAfterMs returns the retry hint of an overloaded error.
func OverloadRetryAfterMs(err error) (int, bool) {
	se, ok := storeErrorWithCode(err, ErrorCodeOverloaded)
	if !ok {
		return 0, false
	}
	return se.RetryAfterMs, se.RetryAfterMs > 0
}

// LeaderAddr returns the leader a not-leader error points at, if known.
func LeaderAddr(err error) string {
	if se, ok := storeErrorWithCode(err, ErrorCodeNotLeader); ok {
		return se.LeaderAddr
	}
	return ""
}
