package tx

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/Klingon-tech/klingnet-sandbox/pkg/crypto"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/types"
)

func signedCreate(t *testing.T, kp *crypto.KeyPair) *SignedTransaction {
	t.Helper()
	child := crypto.MustGenerate(crypto.ED25519)
	unsigned := NewBuilder("test.near", kp.PublicKey(), 1, "alice.test.near").
		CreateAccount().
		Transfer(types.Tokens(10)).
		AddKey(child.PublicKey()).
		Build()
	signed, err := unsigned.Sign(kp)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	return signed
}

func TestSignAndValidate(t *testing.T) {
	for _, kt := range []crypto.KeyType{crypto.ED25519, crypto.SECP256K1} {
		signed := signedCreate(t, crypto.MustGenerate(kt))
		if err := signed.Validate(); err != nil {
			t.Fatalf("%s Validate() error: %v", kt, err)
		}
	}
}

func TestSign_WrongKey(t *testing.T) {
	kp := crypto.MustGenerate(crypto.ED25519)
	other := crypto.MustGenerate(crypto.ED25519)
	unsigned := NewBuilder("test.near", kp.PublicKey(), 1, "test.near").Transfer(types.NewBalance(1)).Build()
	if _, err := unsigned.Sign(other); err == nil {
		t.Fatal("Sign with mismatched key should fail")
	}
}

func TestValidate_Tampered(t *testing.T) {
	signed := signedCreate(t, crypto.MustGenerate(crypto.ED25519))
	signed.Transaction.Nonce++
	if err := signed.Validate(); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("Validate() = %v, want ErrBadSignature", err)
	}
}

func TestValidate_Stateless(t *testing.T) {
	kp := crypto.MustGenerate(crypto.ED25519)
	sign := func(b *Builder) *SignedTransaction {
		s, err := b.Build().Sign(kp)
		if err != nil {
			t.Fatal(err)
		}
		return s
	}

	tests := []struct {
		name string
		tx   *SignedTransaction
		want error
	}{
		{"no actions", sign(NewBuilder("test.near", kp.PublicKey(), 1, "test.near")), ErrNoActions},
		{"empty code", sign(NewBuilder("test.near", kp.PublicKey(), 1, "test.near").DeployContract(nil)), ErrMissingField},
		{"no method", sign(NewBuilder("test.near", kp.PublicKey(), 1, "test.near").FunctionCall("", nil, types.Balance{})), ErrMissingField},
		{"bad receiver", sign(NewBuilder("test.near", kp.PublicKey(), 1, "Bad").CreateAccount()), types.ErrInvalidAccountID},
	}
	for _, tt := range tests {
		if err := tt.tx.Validate(); !errors.Is(err, tt.want) {
			t.Errorf("%s: Validate() = %v, want %v", tt.name, err, tt.want)
		}
	}

	unsigned := &SignedTransaction{Transaction: *NewBuilder("test.near", kp.PublicKey(), 1, "test.near").CreateAccount().Build()}
	if err := unsigned.Validate(); !errors.Is(err, ErrEmptySignature) {
		t.Errorf("unsigned: Validate() = %v, want ErrEmptySignature", err)
	}
}

func TestSignedTransaction_JSONKeepsSignature(t *testing.T) {
	signed := signedCreate(t, crypto.MustGenerate(crypto.SECP256K1))
	data, err := json.Marshal(signed)
	if err != nil {
		t.Fatal(err)
	}
	var decoded SignedTransaction
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Hash() != signed.Hash() {
		t.Fatal("hash changed across the wire")
	}
	if err := decoded.Validate(); err != nil {
		t.Fatalf("decoded Validate() error: %v", err)
	}
}
