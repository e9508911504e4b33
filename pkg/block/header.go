package block

import (
	"encoding/binary"

	"github.com/Klingon-tech/klingnet-sandbox/pkg/crypto"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/types"
)

// Header contains block metadata.
type Header struct {
	Version     uint32     `json:"version"`
	PrevHash    types.Hash `json:"prev_hash"`
	TxRoot      types.Hash `json:"tx_root"`
	Timestamp   uint64     `json:"timestamp"` // unix nanoseconds
	Height      uint64     `json:"height"`
	EpochHeight uint64     `json:"epoch_height"`
}

// Hash computes the block header hash.
func (h *Header) Hash() types.Hash {
	return crypto.Hash(h.SigningBytes())
}

// SigningBytes returns the canonical bytes for hashing.
// Format: version(4) | prev_hash(32) | tx_root(32) | timestamp(8) | height(8) | epoch_height(8)
func (h *Header) SigningBytes() []byte {
	buf := make([]byte, 0, 92)
	buf = binary.LittleEndian.AppendUint32(buf, h.Version)
	buf = append(buf, h.PrevHash[:]...)
	buf = append(buf, h.TxRoot[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, h.Timestamp)
	buf = binary.LittleEndian.AppendUint64(buf, h.Height)
	buf = binary.LittleEndian.AppendUint64(buf, h.EpochHeight)
	return buf
}

// EpochHeight returns the epoch a block height falls in. Epochs are
// numbered from 1.
func EpochHeight(height, epochLength uint64) uint64 {
	if epochLength == 0 {
		return 1
	}
	return height/epochLength + 1
}
