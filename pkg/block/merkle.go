package block

import (
	"math/bits"

	"github.com/Klingon-tech/klingnet-sandbox/pkg/crypto"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/tx"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/types"
)

// Domain prefixes keep a leaf from ever hashing like an inner node.
const (
	leafPrefix = 0x00
	nodePrefix = 0x01
)

// MerkleRoot computes the root of a binary tree over leaves, split the way
// RFC 6962 splits it: the left subtree holds the largest power of two
// strictly below len(leaves). No leaf is ever duplicated, so [a b c] and
// [a b c c] have different roots. The root of no leaves is the zero hash.
func MerkleRoot(leaves []types.Hash) types.Hash {
	if len(leaves) == 0 {
		return types.Hash{}
	}
	return subtreeRoot(leaves)
}

func subtreeRoot(leaves []types.Hash) types.Hash {
	if len(leaves) == 1 {
		return leafHash(leaves[0])
	}
	k := splitPoint(len(leaves))
	return nodeHash(subtreeRoot(leaves[:k]), subtreeRoot(leaves[k:]))
}

// splitPoint returns the largest power of two below n, for n > 1.
func splitPoint(n int) int {
	return 1 << (bits.Len(uint(n-1)) - 1)
}

func leafHash(h types.Hash) types.Hash {
	var buf [1 + types.HashSize]byte
	buf[0] = leafPrefix
	copy(buf[1:], h[:])
	return crypto.Hash(buf[:])
}

func nodeHash(l, r types.Hash) types.Hash {
	var buf [1 + 2*types.HashSize]byte
	buf[0] = nodePrefix
	copy(buf[1:], l[:])
	copy(buf[1+types.HashSize:], r[:])
	return crypto.Hash(buf[:])
}

// TxRoot is the merkle root over the hashes of txs, in block order.
func TxRoot(txs []*tx.SignedTransaction) types.Hash {
	hashes := make([]types.Hash, len(txs))
	for i, t := range txs {
		hashes[i] = t.Hash()
	}
	return MerkleRoot(hashes)
}
