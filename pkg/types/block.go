package types

import "fmt"

// Finality selects which head a read is served from.
type Finality string

// Finality levels. The sandbox finalizes every block as it is produced, so
// both resolve to the same head there.
const (
	FinalityOptimistic Finality = "optimistic"
	FinalityFinal      Finality = "final"
)

// Validate rejects unknown finality levels.
func (f Finality) Validate() error {
	switch f {
	case FinalityOptimistic, FinalityFinal:
		return nil
	default:
		return fmt.Errorf("unknown finality %q", string(f))
	}
}

// BlockInfo is the read-only projection of a block.
type BlockInfo struct {
	Height      uint64 `json:"height"`
	Hash        Hash   `json:"hash"`
	PrevHash    Hash   `json:"prev_hash"`
	Timestamp   uint64 `json:"timestamp"` // unix nanoseconds
	EpochHeight uint64 `json:"epoch_height"`
	TxCount     int    `json:"tx_count"`
}
