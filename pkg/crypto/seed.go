package crypto

import (
	"fmt"

	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
)

// MnemonicEntropyBits is the entropy size for 12-word mnemonics.
const MnemonicEntropyBits = 128

// Default derivation path m/44'/397'/0'.
var DefaultDerivationPath = []uint32{
	bip32.FirstHardenedChild + 44,
	bip32.FirstHardenedChild + 397,
	bip32.FirstHardenedChild + 0,
}

// GenerateSeedPhrase creates a new 12-word BIP-39 mnemonic.
func GenerateSeedPhrase() (string, error) {
	entropy, err := bip39.NewEntropy(MnemonicEntropyBits)
	if err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

// FromSeedPhrase derives a key pair from a BIP-39 mnemonic. secp256k1 keys
// follow BIP-32 along DefaultDerivationPath; ed25519 keys use the first 32
// bytes of the seed.
func FromSeedPhrase(mnemonic, passphrase string, kt KeyType) (*KeyPair, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("%w: invalid mnemonic", ErrInvalidKey)
	}
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("derive seed: %w", err)
	}

	switch kt {
	case ED25519:
		return FromSecret(ED25519, seed[:32])
	case SECP256K1:
		key, err := bip32.NewMasterKey(seed)
		if err != nil {
			return nil, fmt.Errorf("create master key: %w", err)
		}
		for _, idx := range DefaultDerivationPath {
			key, err = key.NewChildKey(idx)
			if err != nil {
				return nil, fmt.Errorf("derive child %d: %w", idx, err)
			}
		}
		// bip32 private keys are 33 bytes with a leading zero.
		raw := key.Key
		if len(raw) == 33 && raw[0] == 0 {
			raw = raw[1:]
		}
		return FromSecret(SECP256K1, raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, string(kt))
	}
}
