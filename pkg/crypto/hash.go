// Package crypto provides the sandbox's key management: key pair
// generation, credentials files, seed phrase derivation, signing and
// hashing.
package crypto

import (
	"github.com/Klingon-tech/klingnet-sandbox/pkg/types"
	"github.com/zeebo/blake3"
)

// Hash computes a BLAKE3-256 hash of the input data.
func Hash(data []byte) types.Hash {
	return blake3.Sum256(data)
}
