package crypto

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGenerate(t *testing.T) {
	for _, kt := range []KeyType{ED25519, SECP256K1} {
		kp, err := Generate(kt)
		if err != nil {
			t.Fatalf("Generate(%s) error: %v", kt, err)
		}
		if kp.Type() != kt {
			t.Errorf("Type() = %s, want %s", kp.Type(), kt)
		}
		if !strings.HasPrefix(kp.PublicKey().String(), string(kt)+":") {
			t.Errorf("PublicKey() = %s, missing %s prefix", kp.PublicKey(), kt)
		}

		other := MustGenerate(kt)
		if kp.PublicKey().Equal(other.PublicKey()) {
			t.Errorf("two generated %s keys should differ", kt)
		}
	}
}

func TestGenerate_Unsupported(t *testing.T) {
	_, err := Generate("rsa")
	if !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Fatalf("Generate(rsa) error = %v, want ErrUnsupportedAlgorithm", err)
	}
}

func TestSignVerify(t *testing.T) {
	for _, kt := range []KeyType{ED25519, SECP256K1} {
		kp := MustGenerate(kt)
		msg := []byte("set_greeting")

		sig, err := kp.Sign(msg)
		if err != nil {
			t.Fatalf("%s Sign() error: %v", kt, err)
		}
		if !kp.PublicKey().Verify(msg, sig) {
			t.Errorf("%s signature should verify", kt)
		}
		if kp.PublicKey().Verify([]byte("tampered"), sig) {
			t.Errorf("%s signature should not verify for another message", kt)
		}
		if !VerifyString(kp.PublicKey().String(), msg, sig) {
			t.Errorf("%s VerifyString failed", kt)
		}
	}
}

func TestParseSecretKey_Roundtrip(t *testing.T) {
	for _, kt := range []KeyType{ED25519, SECP256K1} {
		kp := MustGenerate(kt)
		restored, err := ParseSecretKey(kp.SecretKey())
		if err != nil {
			t.Fatalf("ParseSecretKey(%s) error: %v", kt, err)
		}
		if !restored.PublicKey().Equal(kp.PublicKey()) {
			t.Errorf("%s restored public key mismatch", kt)
		}
	}

	if _, err := ParseSecretKey("ed25519:0OIl"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("bad base58 error = %v, want ErrInvalidKey", err)
	}
	if _, err := ParseSecretKey("dsa:abc"); !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Errorf("dsa error = %v, want ErrUnsupportedAlgorithm", err)
	}
}

func TestCredentialsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "creds", "alice.test.near.json")
	kp := MustGenerate(ED25519)

	if err := SaveToFile(path, &Credentials{AccountID: "alice.test.near", Key: kp}); err != nil {
		t.Fatalf("SaveToFile() error: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("file mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error: %v", err)
	}
	if loaded.AccountID != "alice.test.near" {
		t.Errorf("AccountID = %s", loaded.AccountID)
	}
	if !loaded.Key.PublicKey().Equal(kp.PublicKey()) {
		t.Error("loaded key mismatch")
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFromFile(filepath.Join(dir, "missing.json"))
	if !errors.Is(err, ErrCredentialsNotFound) {
		t.Errorf("missing file error = %v, want ErrCredentialsNotFound", err)
	}

	other := MustGenerate(ED25519)
	kp := MustGenerate(ED25519)
	cases := map[string]string{
		"not-json":  `{{`,
		"empty":     ``,
		"truncated": `{"account_id":"a.near","private_key":"`,
		"no-key":    `{"account_id":"a.near","public_key":"` + kp.PublicKey().String() + `"}`,
		"bad-id":    `{"account_id":"A!","private_key":"` + kp.SecretKey() + `"}`,
		"key-mismatch": `{"account_id":"a.near","public_key":"` + other.PublicKey().String() +
			`","private_key":"` + kp.SecretKey() + `"}`,
	}
	for name, body := range cases {
		path := filepath.Join(dir, name+".json")
		os.WriteFile(path, []byte(body), 0600)
		if _, err := LoadFromFile(path); !errors.Is(err, ErrMalformedCredentials) {
			t.Errorf("%s: error = %v, want ErrMalformedCredentials", name, err)
		}
	}
}

func TestLoadFromFile_SecretKeyAlias(t *testing.T) {
	kp := MustGenerate(SECP256K1)
	path := filepath.Join(t.TempDir(), "k.json")
	os.WriteFile(path, []byte(`{"account_id":"test.near","secret_key":"`+kp.SecretKey()+`"}`), 0600)

	c, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error: %v", err)
	}
	if c.Key.Type() != SECP256K1 {
		t.Errorf("Type() = %s, want secp256k1", c.Key.Type())
	}
}

func TestFromSeedPhrase(t *testing.T) {
	phrase, err := GenerateSeedPhrase()
	if err != nil {
		t.Fatal(err)
	}
	if n := len(strings.Fields(phrase)); n != 12 {
		t.Fatalf("seed phrase has %d words, want 12", n)
	}

	for _, kt := range []KeyType{ED25519, SECP256K1} {
		a, err := FromSeedPhrase(phrase, "", kt)
		if err != nil {
			t.Fatalf("FromSeedPhrase(%s) error: %v", kt, err)
		}
		b, _ := FromSeedPhrase(phrase, "", kt)
		if !a.PublicKey().Equal(b.PublicKey()) {
			t.Errorf("%s derivation is not deterministic", kt)
		}
		c, _ := FromSeedPhrase(phrase, "pass", kt)
		if a.PublicKey().Equal(c.PublicKey()) {
			t.Errorf("%s passphrase should change the key", kt)
		}
	}

	if _, err := FromSeedPhrase("not a valid phrase", "", ED25519); err == nil {
		t.Error("invalid mnemonic accepted")
	}
}

func TestHash(t *testing.T) {
	a := Hash([]byte("a"))
	if a == Hash([]byte("b")) {
		t.Fatal("different inputs hashed equal")
	}
	if a != Hash([]byte("a")) {
		t.Fatal("hash not deterministic")
	}
}
