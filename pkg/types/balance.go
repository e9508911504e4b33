package types

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// OneToken is 10^24 minimal units.
var OneToken = mustDecimal("1000000000000000000000000")

// StorageByteCost is the amount locked per byte of account storage.
var StorageByteCost = NewBalance(10_000_000_000_000_000_000)

var (
	// ErrBalanceOverflow is returned when arithmetic exceeds 256 bits.
	ErrBalanceOverflow = errors.New("balance overflow")
	// ErrBalanceUnderflow is returned when a subtraction would go negative.
	ErrBalanceUnderflow = errors.New("balance underflow")
)

// Balance is a non-negative amount in minimal currency units. The JSON
// form is a decimal string so values above 2^53 survive every client.
type Balance struct {
	v uint256.Int
}

// NewBalance returns a Balance holding n.
func NewBalance(n uint64) Balance {
	var b Balance
	b.v.SetUint64(n)
	return b
}

// ParseBalance parses a decimal string.
func ParseBalance(s string) (Balance, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return Balance{}, fmt.Errorf("parse balance %q: %w", s, err)
	}
	return Balance{v: *v}, nil
}

// Tokens converts a whole number of tokens to minimal units.
func Tokens(n uint64) Balance {
	b, err := OneToken.Mul(NewBalance(n))
	if err != nil {
		panic(err)
	}
	return b
}

func mustDecimal(s string) Balance {
	b, err := ParseBalance(s)
	if err != nil {
		panic(err)
	}
	return b
}

// String returns the decimal representation.
func (b Balance) String() string {
	return b.v.Dec()
}

// IsZero reports whether b is zero.
func (b Balance) IsZero() bool {
	return b.v.IsZero()
}

// Cmp returns -1, 0 or +1.
func (b Balance) Cmp(o Balance) int {
	return b.v.Cmp(&o.v)
}

// Lt reports b < o.
func (b Balance) Lt(o Balance) bool {
	return b.v.Lt(&o.v)
}

// Add returns b+o.
func (b Balance) Add(o Balance) (Balance, error) {
	var out Balance
	if _, overflow := out.v.AddOverflow(&b.v, &o.v); overflow {
		return Balance{}, ErrBalanceOverflow
	}
	return out, nil
}

// Sub returns b-o.
func (b Balance) Sub(o Balance) (Balance, error) {
	var out Balance
	if _, underflow := out.v.SubOverflow(&b.v, &o.v); underflow {
		return Balance{}, ErrBalanceUnderflow
	}
	return out, nil
}

// Mul returns b*o.
func (b Balance) Mul(o Balance) (Balance, error) {
	var out Balance
	if _, overflow := out.v.MulOverflow(&b.v, &o.v); overflow {
		return Balance{}, ErrBalanceOverflow
	}
	return out, nil
}

// Max returns the larger of a and b.
func Max(a, b Balance) Balance {
	if a.Lt(b) {
		return b
	}
	return a
}

// MarshalJSON encodes the balance as a decimal string.
func (b Balance) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// UnmarshalJSON accepts a decimal string.
func (b *Balance) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("balance must be a decimal string: %w", err)
	}
	parsed, err := ParseBalance(s)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler for config files.
func (b Balance) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for config files.
func (b *Balance) UnmarshalText(text []byte) error {
	parsed, err := ParseBalance(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// AccountBalance is the balance projection reported for an account.
type AccountBalance struct {
	Total       Balance `json:"total"`
	Staked      Balance `json:"staked"`
	StateStaked Balance `json:"state_staked"`
	Available   Balance `json:"available"`
}

// NewAccountBalance derives the projection from the raw account fields.
// Available is what remains after the larger of the stake and the storage
// lock is set aside.
func NewAccountBalance(amount, locked Balance, storageUsage uint64) AccountBalance {
	stateStaked, err := NewBalance(storageUsage).Mul(StorageByteCost)
	if err != nil {
		stateStaked = Balance{}
	}
	total, err := amount.Add(locked)
	if err != nil {
		total = amount
	}
	available, err := total.Sub(Max(locked, stateStaked))
	if err != nil {
		available = Balance{}
	}
	return AccountBalance{
		Total:       total,
		Staked:      locked,
		StateStaked: stateStaked,
		Available:   available,
	}
}
