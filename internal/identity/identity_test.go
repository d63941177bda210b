package identity

import (
	"errors"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		wantErr bool
	}{
		{"simple", "addr1", false},
		{"bech32 style", "wasm1qqxqfzagzm7r8m4zq9gfmk9g5k7nfcasg8jhxm", false},
		{"empty", "", true},
		{"blank", "   ", true},
		{"too short", "ab", true},
		{"too long", strings.Repeat("a", 91), true},
		{"upper case", "Addr1", true},
		{"inner space", "addr 1", true},
		{"nul byte", "addr\x001", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Validate(tt.addr)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Validate(%q) = %q, want error", tt.addr, got)
				}
				if !errors.Is(err, ErrInvalid) {
					t.Errorf("error %v does not wrap ErrInvalid", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate(%q): %v", tt.addr, err)
			}
			if got != tt.addr {
				t.Errorf("canonical = %q, want %q", got, tt.addr)
			}
		})
	}
}

func TestValidatorFunc(t *testing.T) {
	v := ValidatorFunc(func(addr string) (string, error) { return "x" + addr, nil })
	got, err := v.Validate("abc")
	if err != nil || got != "xabc" {
		t.Errorf("Validate = %q, %v", got, err)
	}
}
