package types

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Account id length bounds.
const (
	MinAccountIDLen = 2
	MaxAccountIDLen = 64
)

// ErrInvalidAccountID is returned when an account id does not follow the
// naming rules.
var ErrInvalidAccountID = errors.New("invalid account id")

// Lowercase alphanumeric parts joined by single '-', '_' or '.'.
var accountIDPattern = regexp.MustCompile(`^(([a-z\d]+[\-_])*[a-z\d]+\.)*([a-z\d]+[\-_])*[a-z\d]+$`)

// AccountID is a hierarchical, dot separated account name such as
// "greeter.alice.test.near". The rightmost part is the most significant.
type AccountID string

// ParseAccountID validates s and returns it as an AccountID.
func ParseAccountID(s string) (AccountID, error) {
	id := AccountID(s)
	if err := id.Validate(); err != nil {
		return "", err
	}
	return id, nil
}

// Validate checks length and character rules.
func (a AccountID) Validate() error {
	n := len(a)
	if n < MinAccountIDLen || n > MaxAccountIDLen {
		return fmt.Errorf("%w: %q must be %d-%d characters", ErrInvalidAccountID, string(a), MinAccountIDLen, MaxAccountIDLen)
	}
	if !accountIDPattern.MatchString(string(a)) {
		return fmt.Errorf("%w: %q", ErrInvalidAccountID, string(a))
	}
	return nil
}

// String returns the id as a string.
func (a AccountID) String() string {
	return string(a)
}

// IsTopLevel reports whether the id has no parent namespace.
func (a AccountID) IsTopLevel() bool {
	return !strings.Contains(string(a), ".")
}

// Parent returns the namespace this id lives under. Top-level ids have
// no parent and return "".
func (a AccountID) Parent() AccountID {
	i := strings.IndexByte(string(a), '.')
	if i < 0 {
		return ""
	}
	return a[i+1:]
}

// Local returns the leftmost part of the id.
func (a AccountID) Local() string {
	s := string(a)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return s[:i]
	}
	return s
}

// Sub returns "<local>.<a>". It does not validate the result.
func (a AccountID) Sub(local string) AccountID {
	return AccountID(local + "." + string(a))
}

// IsDirectSubOf reports whether a is exactly one level below parent.
func (a AccountID) IsDirectSubOf(parent AccountID) bool {
	if parent == "" {
		return false
	}
	s, p := string(a), string(parent)
	if !strings.HasSuffix(s, "."+p) {
		return false
	}
	local := s[:len(s)-len(p)-1]
	return local != "" && !strings.Contains(local, ".")
}

// IsSubOf reports whether a lives anywhere under parent.
func (a AccountID) IsSubOf(parent AccountID) bool {
	return parent != "" && strings.HasSuffix(string(a), "."+string(parent))
}
