package crypto

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// KeyType is the signature scheme tag of a key.
type KeyType string

// Supported key types.
const (
	ED25519   KeyType = "ed25519"
	SECP256K1 KeyType = "secp256k1"
)

var (
	// ErrUnsupportedAlgorithm is returned for key types other than ed25519 and secp256k1.
	ErrUnsupportedAlgorithm = errors.New("unsupported key algorithm")
	// ErrInvalidKey is returned when a key string cannot be decoded.
	ErrInvalidKey = errors.New("invalid key")
)

// ParseKeyType validates a key type tag.
func ParseKeyType(s string) (KeyType, error) {
	switch KeyType(s) {
	case ED25519, SECP256K1:
		return KeyType(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, s)
	}
}

// PublicKey is a typed public key. Text form is "<type>:<base58>".
type PublicKey struct {
	Type KeyType
	Data []byte
}

// String returns "<type>:<base58>".
func (p PublicKey) String() string {
	return string(p.Type) + ":" + base58.Encode(p.Data)
}

// Equal reports whether both keys are identical.
func (p PublicKey) Equal(o PublicKey) bool {
	return p.Type == o.Type && string(p.Data) == string(o.Data)
}

// IsZero reports whether the key is unset.
func (p PublicKey) IsZero() bool {
	return p.Type == "" && len(p.Data) == 0
}

// Verify checks sig over the BLAKE3 digest of msg.
func (p PublicKey) Verify(msg, sig []byte) bool {
	digest := Hash(msg)
	switch p.Type {
	case ED25519:
		if len(p.Data) != ed25519.PublicKeySize {
			return false
		}
		return ed25519.Verify(ed25519.PublicKey(p.Data), digest[:], sig)
	case SECP256K1:
		return secpVerify(p.Data, digest[:], sig)
	default:
		return false
	}
}

// MarshalJSON encodes the key in its text form.
func (p PublicKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON decodes the text form.
func (p *PublicKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePublicKey(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePublicKey decodes "<type>:<base58>". A missing prefix means ed25519.
func ParsePublicKey(s string) (PublicKey, error) {
	kt, data, err := splitKey(s)
	if err != nil {
		return PublicKey{}, err
	}
	switch kt {
	case ED25519:
		if len(data) != ed25519.PublicKeySize {
			return PublicKey{}, fmt.Errorf("%w: ed25519 public key must be %d bytes, got %d", ErrInvalidKey, ed25519.PublicKeySize, len(data))
		}
	case SECP256K1:
		if len(data) != 33 {
			return PublicKey{}, fmt.Errorf("%w: secp256k1 public key must be 33 bytes, got %d", ErrInvalidKey, len(data))
		}
	}
	return PublicKey{Type: kt, Data: data}, nil
}

// VerifyString verifies a signature against a public key in text form.
func VerifyString(pub string, msg, sig []byte) bool {
	pk, err := ParsePublicKey(pub)
	if err != nil {
		return false
	}
	return pk.Verify(msg, sig)
}

// KeyPair holds a secret key and its public key. It is immutable once
// built; accessors return copies.
type KeyPair struct {
	typ    KeyType
	secret []byte // ed25519: 64-byte private key; secp256k1: 32-byte scalar
	public []byte
}

// Generate creates a random key pair of the given type.
func Generate(kt KeyType) (*KeyPair, error) {
	switch kt {
	case ED25519:
		pub, priv, err := ed25519.GenerateKey(nil)
		if err != nil {
			return nil, fmt.Errorf("generate ed25519 key: %w", err)
		}
		return &KeyPair{typ: kt, secret: priv, public: pub}, nil
	case SECP256K1:
		secret, public, err := secpGenerate()
		if err != nil {
			return nil, err
		}
		return &KeyPair{typ: kt, secret: secret, public: public}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, string(kt))
	}
}

// MustGenerate is Generate for tests and tools. It panics on error.
func MustGenerate(kt KeyType) *KeyPair {
	kp, err := Generate(kt)
	if err != nil {
		panic(err)
	}
	return kp
}

// FromSecret builds a key pair from raw secret bytes. ed25519 accepts a
// 32-byte seed or a 64-byte private key.
func FromSecret(kt KeyType, secret []byte) (*KeyPair, error) {
	switch kt {
	case ED25519:
		var priv ed25519.PrivateKey
		switch len(secret) {
		case ed25519.SeedSize:
			priv = ed25519.NewKeyFromSeed(secret)
		case ed25519.PrivateKeySize:
			priv = ed25519.NewKeyFromSeed(secret[:ed25519.SeedSize])
			if string(priv[32:]) != string(secret[32:]) {
				return nil, fmt.Errorf("%w: ed25519 private key has mismatched public half", ErrInvalidKey)
			}
		default:
			return nil, fmt.Errorf("%w: ed25519 secret must be 32 or 64 bytes, got %d", ErrInvalidKey, len(secret))
		}
		pub := priv.Public().(ed25519.PublicKey)
		return &KeyPair{typ: kt, secret: priv, public: pub}, nil
	case SECP256K1:
		public, err := secpFromSecret(secret)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		return &KeyPair{typ: kt, secret: append([]byte(nil), secret...), public: public}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, string(kt))
	}
}

// ParseSecretKey decodes "<type>:<base58>" as produced by KeyPair.SecretKey.
func ParseSecretKey(s string) (*KeyPair, error) {
	kt, data, err := splitKey(s)
	if err != nil {
		return nil, err
	}
	return FromSecret(kt, data)
}

// Type returns the key type.
func (k *KeyPair) Type() KeyType {
	return k.typ
}

// PublicKey returns the public half.
func (k *KeyPair) PublicKey() PublicKey {
	return PublicKey{Type: k.typ, Data: append([]byte(nil), k.public...)}
}

// SecretKey returns the secret key in text form.
func (k *KeyPair) SecretKey() string {
	return string(k.typ) + ":" + base58.Encode(k.secret)
}

// Sign signs the BLAKE3 digest of msg.
func (k *KeyPair) Sign(msg []byte) ([]byte, error) {
	digest := Hash(msg)
	switch k.typ {
	case ED25519:
		return ed25519.Sign(ed25519.PrivateKey(k.secret), digest[:]), nil
	case SECP256K1:
		return secpSign(k.secret, digest[:])
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, string(k.typ))
	}
}

func splitKey(s string) (KeyType, []byte, error) {
	kt := ED25519
	body := s
	if i := strings.IndexByte(s, ':'); i >= 0 {
		parsed, err := ParseKeyType(s[:i])
		if err != nil {
			return "", nil, err
		}
		kt, body = parsed, s[i+1:]
	}
	data, err := base58.Decode(body)
	if err != nil || len(data) == 0 {
		return "", nil, fmt.Errorf("%w: bad base58 payload", ErrInvalidKey)
	}
	return kt, data, nil
}
