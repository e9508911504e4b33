package block

import (
	"errors"
	"fmt"
)

// Validation errors.
var (
	ErrNilHeader      = errors.New("block has nil header")
	ErrBadVersion     = errors.New("unsupported block version")
	ErrZeroTimestamp  = errors.New("block timestamp is zero")
	ErrBadTxRoot      = errors.New("transaction root mismatch")
	ErrBadPrevHash    = errors.New("previous hash does not match parent")
	ErrBadHeight      = errors.New("height does not extend parent")
	ErrTimeWentBack   = errors.New("timestamp earlier than parent")
	ErrBadEpochHeight = errors.New("epoch height mismatch")
)

// CurrentVersion is the block version produced by this software.
const CurrentVersion = 1

// Validate checks block structure and internal consistency.
func (b *Block) Validate() error {
	if b.Header == nil {
		return ErrNilHeader
	}
	if b.Header.Version != CurrentVersion {
		return fmt.Errorf("%w: got %d", ErrBadVersion, b.Header.Version)
	}
	if b.Header.Timestamp == 0 {
		return ErrZeroTimestamp
	}

	if TxRoot(b.Transactions) != b.Header.TxRoot {
		return ErrBadTxRoot
	}
	return nil
}

// ValidateChild checks that child extends parent. Heights may skip ahead
// (fast-forward) but never go back, and timestamps never decrease.
func ValidateChild(parent, child *Header, epochLength uint64) error {
	if child.PrevHash != parent.Hash() {
		return ErrBadPrevHash
	}
	if child.Height <= parent.Height {
		return fmt.Errorf("%w: parent %d, child %d", ErrBadHeight, parent.Height, child.Height)
	}
	if child.Timestamp < parent.Timestamp {
		return fmt.Errorf("%w: parent %d, child %d", ErrTimeWentBack, parent.Timestamp, child.Timestamp)
	}
	if child.EpochHeight != EpochHeight(child.Height, epochLength) {
		return ErrBadEpochHeight
	}
	return nil
}
