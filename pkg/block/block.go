// Package block defines sandbox blocks. Every committed transaction gets
// its own block; idle and fast-forwarded blocks carry none.
package block

import (
	"github.com/Klingon-tech/klingnet-sandbox/pkg/tx"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/types"
)

// Block represents a block in the chain.
type Block struct {
	Header       *Header                 `json:"header"`
	Transactions []*tx.SignedTransaction `json:"transactions"`
}

// NewBlock creates a new block with the given header and transactions,
// filling in the header's transaction root.
func NewBlock(header *Header, txs []*tx.SignedTransaction) *Block {
	header.TxRoot = TxRoot(txs)
	return &Block{
		Header:       header,
		Transactions: txs,
	}
}

// Hash returns the header hash.
func (b *Block) Hash() types.Hash {
	return b.Header.Hash()
}

// Info projects the block onto the RPC view.
func (b *Block) Info() types.BlockInfo {
	return types.BlockInfo{
		Height:      b.Header.Height,
		Hash:        b.Hash(),
		PrevHash:    b.Header.PrevHash,
		Timestamp:   b.Header.Timestamp,
		EpochHeight: b.Header.EpochHeight,
		TxCount:     len(b.Transactions),
	}
}
