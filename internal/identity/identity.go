// Package identity validates caller identity strings.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid identity")

const (
	minLength = 3
	maxLength = 90
)

// Validator checks an identity string and returns its canonical form.
type Validator interface {
	Validate(addr string) (string, error)
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(addr string) (string, error)

func (f ValidatorFunc) Validate(addr string) (string, error) { return f(addr) }

// Default is the validator used when none is configured.
var Default Validator = ValidatorFunc(Validate)

// Validate accepts identities that are already in normalized form:
// 3 to 90 characters, no whitespace or control characters, no upper case.
// Input that would need normalizing is rejected rather than rewritten, so
// two spellings of one identity can never own separate ballots.
func Validate(addr string) (string, error) {
	if strings.TrimSpace(addr) == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalid)
	}
	if n := len(addr); n < minLength {
		return "", fmt.Errorf("%w: %q too short", ErrInvalid, addr)
	} else if n > maxLength {
		return "", fmt.Errorf("%w: too long (%d > %d)", ErrInvalid, n, maxLength)
	}
	for _, r := range addr {
		switch {
		case unicode.IsSpace(r), unicode.IsControl(r):
			return "", fmt.Errorf("%w: %q contains whitespace or control characters", ErrInvalid, addr)
		case unicode.IsUpper(r):
			return "", fmt.Errorf("%w: %q is not normalized", ErrInvalid, addr)
		}
	}
	return addr, nil
}
