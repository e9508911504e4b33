package crypto

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Klingon-tech/klingnet-sandbox/pkg/types"
)

var (
	// ErrCredentialsNotFound is returned when the credentials file does not exist.
	ErrCredentialsNotFound = errors.New("credentials not found")
	// ErrMalformedCredentials is returned when the file is not a valid key record.
	ErrMalformedCredentials = errors.New("malformed credentials")
)

// Credentials binds an account id to its key pair.
type Credentials struct {
	AccountID types.AccountID
	Key       *KeyPair
}

// credentialsFile is the on-disk JSON record.
type credentialsFile struct {
	AccountID  string `json:"account_id"`
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key,omitempty"`
	SecretKey  string `json:"secret_key,omitempty"`
}

// MarshalJSON writes {account_id, public_key, private_key}.
func (c Credentials) MarshalJSON() ([]byte, error) {
	if c.Key == nil {
		return nil, fmt.Errorf("credentials for %s have no key", c.AccountID)
	}
	return json.Marshal(credentialsFile{
		AccountID:  string(c.AccountID),
		PublicKey:  c.Key.PublicKey().String(),
		PrivateKey: c.Key.SecretKey(),
	})
}

// UnmarshalJSON parses a key record. "secret_key" is accepted in place of
// "private_key", and public_key, when present, must match.
func (c *Credentials) UnmarshalJSON(data []byte) error {
	var f credentialsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedCredentials, err)
	}
	secret := f.PrivateKey
	if secret == "" {
		secret = f.SecretKey
	}
	if secret == "" {
		return fmt.Errorf("%w: missing private_key", ErrMalformedCredentials)
	}
	id, err := types.ParseAccountID(f.AccountID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedCredentials, err)
	}
	kp, err := ParseSecretKey(secret)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedCredentials, err)
	}
	if f.PublicKey != "" {
		pub, err := ParsePublicKey(f.PublicKey)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedCredentials, err)
		}
		if !pub.Equal(kp.PublicKey()) {
			return fmt.Errorf("%w: public_key does not match private_key", ErrMalformedCredentials)
		}
	}
	c.AccountID = id
	c.Key = kp
	return nil
}

// LoadFromFile reads a credentials file.
func LoadFromFile(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrCredentialsNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials %s: %w", path, err)
	}
	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		if !errors.Is(err, ErrMalformedCredentials) {
			err = fmt.Errorf("%w: %v", ErrMalformedCredentials, err)
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &c, nil
}

// SaveToFile writes the credentials with owner-only permissions,
// creating parent directories as needed.
func SaveToFile(path string, c *Credentials) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write credentials %s: %w", path, err)
	}
	return nil
}
