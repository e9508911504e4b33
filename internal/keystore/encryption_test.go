package keystore

import (
	"bytes"
	"errors"
	"testing"
)

// fastParams returns low-cost Argon2 params for fast tests.
func fastParams() EncryptionParams {
	return EncryptionParams{
		Memory:      64, // 64 KiB (minimal)
		Iterations:  1,
		Parallelism: 1,
	}
}

func TestEncryptDecrypt(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"short", []byte("secret key record")},
		{"empty", []byte{}},
		{"large", bytes.Repeat([]byte{0xab, 0x01}, 5000)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encrypted, err := Encrypt(tt.data, []byte("pass"), fastParams())
			if err != nil {
				t.Fatalf("Encrypt() error: %v", err)
			}
			decrypted, err := Decrypt(encrypted, []byte("pass"))
			if err != nil {
				t.Fatalf("Decrypt() error: %v", err)
			}
			if !bytes.Equal(decrypted, tt.data) {
				t.Errorf("roundtrip mismatch")
			}
		})
	}
}

func TestEncrypt_UniqueOutput(t *testing.T) {
	a, err := Encrypt([]byte("same"), []byte("pass"), fastParams())
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	b, err := Encrypt([]byte("same"), []byte("pass"), fastParams())
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Error("two encryptions of the same data should differ (random salt/nonce)")
	}
}

func TestDecrypt_WrongPassphrase(t *testing.T) {
	encrypted, err := Encrypt([]byte("secret"), []byte("correct"), fastParams())
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	if _, err := Decrypt(encrypted, []byte("wrong")); !errors.Is(err, ErrWrongPassphrase) {
		t.Errorf("Decrypt() error = %v, want ErrWrongPassphrase", err)
	}
}

func TestDecrypt_Tampered(t *testing.T) {
	encrypted, err := Encrypt([]byte("secret"), []byte("pass"), fastParams())
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	encrypted[len(encrypted)-1] ^= 0xff
	if _, err := Decrypt(encrypted, []byte("pass")); err == nil {
		t.Error("expected error for tampered ciphertext")
	}
}

func TestDecrypt_TooShort(t *testing.T) {
	if _, err := Decrypt(make([]byte, 10), []byte("pass")); err == nil {
		t.Error("expected error for short input")
	}
}
