package crypto

import (
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
)

// secp256k1 keys sign with Schnorr over a 32-byte digest.

func secpGenerate() (secret, public []byte, err error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, nil, fmt.Errorf("generate key: %w", err)
	}
	return key.Serialize(), key.PubKey().SerializeCompressed(), nil
}

func secpFromSecret(secret []byte) (public []byte, err error) {
	if len(secret) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(secret))
	}
	key := secp256k1.PrivKeyFromBytes(secret)
	return key.PubKey().SerializeCompressed(), nil
}

func secpSign(secret, digest []byte) ([]byte, error) {
	key := secp256k1.PrivKeyFromBytes(secret)
	defer key.Zero()
	sig, err := schnorr.Sign(key, digest)
	if err != nil {
		return nil, fmt.Errorf("schnorr sign: %w", err)
	}
	return sig.Serialize(), nil
}

// secpVerify returns false on any parse error.
func secpVerify(public, digest, signature []byte) bool {
	pubKey, err := secp256k1.ParsePubKey(public)
	if err != nil {
		return false
	}
	sig, err := schnorr.ParseSignature(signature)
	if err != nil {
		return false
	}
	return sig.Verify(digest, pubKey)
}
