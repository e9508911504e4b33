package node

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Klingon-tech/klingnet-sandbox/config"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/crypto"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/types"
)

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// loadOrCreateGenesis loads <home>/genesis.json. A fresh home gets a new
// root key, written to validator_key.json, and a genesis funding it.
func loadOrCreateGenesis(cfg *config.Config) (*config.Genesis, bool, error) {
	cfg.Home = expandHome(cfg.Home)
	path := cfg.GenesisFile()
	if _, err := os.Stat(path); err == nil {
		gen, err := config.LoadGenesis(path)
		if err != nil {
			return nil, false, err
		}
		if _, err := loadRootCredentials(cfg, gen); err != nil {
			return nil, false, err
		}
		return gen, false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, false, fmt.Errorf("stat genesis: %w", err)
	}

	rootKey, err := crypto.Generate(crypto.ED25519)
	if err != nil {
		return nil, false, fmt.Errorf("generate root key: %w", err)
	}
	creds := &crypto.Credentials{
		AccountID: types.AccountID(cfg.Genesis.RootAccount),
		Key:       rootKey,
	}
	if err := crypto.SaveToFile(cfg.ValidatorKeyFile(), creds); err != nil {
		return nil, false, fmt.Errorf("write root credentials: %w", err)
	}

	gen, err := config.NewSandboxGenesis(cfg.Genesis, rootKey.PublicKey(), time.Now())
	if err != nil {
		return nil, false, fmt.Errorf("create genesis: %w", err)
	}
	if err := gen.Save(path); err != nil {
		return nil, false, err
	}
	return gen, true, nil
}

// loadRootCredentials reads validator_key.json and checks it belongs to the
// genesis registrar.
func loadRootCredentials(cfg *config.Config, gen *config.Genesis) (*crypto.Credentials, error) {
	creds, err := crypto.LoadFromFile(cfg.ValidatorKeyFile())
	if err != nil {
		return nil, fmt.Errorf("root credentials: %w", err)
	}
	if string(creds.AccountID) != gen.Protocol.Registrar {
		return nil, fmt.Errorf("root credentials are for %s, genesis registrar is %s",
			creds.AccountID, gen.Protocol.Registrar)
	}
	return creds, nil
}
