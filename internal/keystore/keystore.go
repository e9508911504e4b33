// Package keystore stores account credentials on disk, either as plain
// key records or sealed under a passphrase.
//
// Layout: <dir>/<network>/<account_id>.json
package keystore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Klingon-tech/klingnet-sandbox/pkg/crypto"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/types"
)

// ErrAccountExists is returned by Save when the account already has a file.
var ErrAccountExists = errors.New("credentials already exist")

// encryptedFile is the on-disk JSON format for a sealed key record. Account
// and public key stay readable so files can be listed without a passphrase.
type encryptedFile struct {
	Version      int       `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	AccountID    string    `json:"account_id"`
	PublicKey    string    `json:"public_key"`
	EncryptedKey []byte    `json:"encrypted_key"`
}

// Keystore manages credential files under one directory.
type Keystore struct {
	path   string
	params EncryptionParams
}

// New creates a keystore rooted at dir. The directory is created if it
// doesn't exist.
func New(dir string) (*Keystore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create keystore dir: %w", err)
	}
	return &Keystore{path: dir, params: DefaultParams()}, nil
}

// WithParams overrides the Argon2id parameters used for new records.
func (ks *Keystore) WithParams(p EncryptionParams) *Keystore {
	ks.params = p
	return ks
}

// Path returns the file for an account on a network.
func (ks *Keystore) Path(network string, id types.AccountID) string {
	return filepath.Join(ks.path, network, string(id)+".json")
}

// Save writes creds for network. An empty passphrase stores a plain key
// record readable by crypto.LoadFromFile.
func (ks *Keystore) Save(network string, creds *crypto.Credentials, passphrase []byte) error {
	path := ks.Path(network, creds.AccountID)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s on %s", ErrAccountExists, creds.AccountID, network)
	}
	if len(passphrase) == 0 {
		return crypto.SaveToFile(path, creds)
	}

	plain, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	defer zero(plain)
	sealed, err := Encrypt(plain, passphrase, ks.params)
	if err != nil {
		return fmt.Errorf("encrypt key: %w", err)
	}
	ef := encryptedFile{
		Version:      1,
		CreatedAt:    time.Now().UTC(),
		AccountID:    string(creds.AccountID),
		PublicKey:    creds.Key.PublicKey().String(),
		EncryptedKey: sealed,
	}
	data, err := json.MarshalIndent(ef, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal key file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create keystore dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	return nil
}

// Load reads the credentials of id on network.
func (ks *Keystore) Load(network string, id types.AccountID, passphrase []byte) (*crypto.Credentials, error) {
	return LoadCredentials(ks.Path(network, id), passphrase)
}

// List returns the account ids stored for network, sorted.
func (ks *Keystore) List(network string) ([]types.AccountID, error) {
	entries, err := os.ReadDir(filepath.Join(ks.path, network))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read keystore dir: %w", err)
	}

	var ids []types.AccountID
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, types.AccountID(strings.TrimSuffix(name, ".json")))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Delete removes the credentials of id on network.
func (ks *Keystore) Delete(network string, id types.AccountID) error {
	path := ks.Path(network, id)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", crypto.ErrCredentialsNotFound, path)
	}
	return os.Remove(path)
}

// IsEncrypted reports whether the file at path is a sealed key record.
func IsEncrypted(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	return isEncrypted(data), nil
}

func isEncrypted(data []byte) bool {
	var probe struct {
		EncryptedKey []byte `json:"encrypted_key"`
	}
	return json.Unmarshal(data, &probe) == nil && len(probe.EncryptedKey) > 0
}

// LoadCredentials reads a credentials file in either format. Plain records
// ignore passphrase.
func LoadCredentials(path string, passphrase []byte) (*crypto.Credentials, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", crypto.ErrCredentialsNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials %s: %w", path, err)
	}
	if !isEncrypted(data) {
		return crypto.LoadFromFile(path)
	}

	var ef encryptedFile
	if err := json.Unmarshal(data, &ef); err != nil {
		return nil, fmt.Errorf("%w: %v", crypto.ErrMalformedCredentials, err)
	}
	if ef.Version != 1 {
		return nil, fmt.Errorf("unsupported key file version: %d", ef.Version)
	}
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("%s is encrypted: %w", path, ErrWrongPassphrase)
	}
	plain, err := Decrypt(ef.EncryptedKey, passphrase)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	defer zero(plain)

	var creds crypto.Credentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if string(creds.AccountID) != ef.AccountID {
		return nil, fmt.Errorf("%w: sealed account %s does not match header %s",
			crypto.ErrMalformedCredentials, creds.AccountID, ef.AccountID)
	}
	return &creds, nil
}
