package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/Klingon-tech/klingnet-sandbox/pkg/crypto"
	"github.com/Klingon-tech/klingnet-sandbox/pkg/types"
)

// =============================================================================
// Chain Rules (defined in genesis, fixed per home)
// =============================================================================

// DefaultEpochLength is the number of blocks per epoch.
const DefaultEpochLength = 43200

// Genesis holds the genesis block configuration and chain rules.
type Genesis struct {
	ChainID   string `json:"chain_id"`
	Timestamp uint64 `json:"timestamp"` // unix nanoseconds of block 0

	// Initial accounts, each with one full-access key.
	Accounts []GenesisAccount `json:"accounts"`

	Protocol ProtocolConfig `json:"protocol"`
}

// GenesisAccount is an account that exists from block 0.
type GenesisAccount struct {
	AccountID string        `json:"account_id"`
	Amount    types.Balance `json:"amount"`
	PublicKey string        `json:"public_key"`
}

// ProtocolConfig holds the rules every block is produced under.
type ProtocolConfig struct {
	BlockTimeMS uint64 `json:"block_time_ms"`
	EpochLength uint64 `json:"epoch_length"`

	// Registrar may create top-level accounts and any account under its
	// own namespace. Usually the root account.
	Registrar string `json:"registrar"`

	// ContractTimeoutMS bounds a single contract call.
	ContractTimeoutMS uint64 `json:"contract_timeout_ms"`
}

// BlockTime returns the protocol block time.
func (p ProtocolConfig) BlockTime() time.Duration {
	return time.Duration(p.BlockTimeMS) * time.Millisecond
}

// NewSandboxGenesis builds a single-account genesis for the root account.
func NewSandboxGenesis(params GenesisParams, rootKey crypto.PublicKey, now time.Time) (*Genesis, error) {
	balance, err := types.ParseBalance(params.RootBalance)
	if err != nil {
		return nil, fmt.Errorf("root balance: %w", err)
	}
	g := &Genesis{
		ChainID:   params.ChainID,
		Timestamp: uint64(now.UnixNano()),
		Accounts: []GenesisAccount{{
			AccountID: params.RootAccount,
			Amount:    balance,
			PublicKey: rootKey.String(),
		}},
		Protocol: ProtocolConfig{
			BlockTimeMS:       uint64(params.BlockTime / time.Millisecond),
			EpochLength:       DefaultEpochLength,
			Registrar:         params.RootAccount,
			ContractTimeoutMS: 2000,
		},
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// =============================================================================
// Genesis file I/O
// =============================================================================

// LoadGenesis loads genesis configuration from a file.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading genesis file: %w", err)
	}

	var g Genesis
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parsing genesis file: %w", err)
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis: %w", err)
	}

	return &g, nil
}

// Save writes the genesis configuration to a file.
func (g *Genesis) Save(path string) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding genesis: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing genesis file: %w", err)
	}

	return nil
}

// Validate checks that the genesis configuration is valid.
func (g *Genesis) Validate() error {
	if g.ChainID == "" {
		return fmt.Errorf("chain_id is required")
	}
	if g.Protocol.BlockTimeMS == 0 {
		return fmt.Errorf("block_time_ms must be positive")
	}
	if g.Protocol.EpochLength == 0 {
		return fmt.Errorf("epoch_length must be positive")
	}
	if g.Protocol.ContractTimeoutMS == 0 {
		return fmt.Errorf("contract_timeout_ms must be positive")
	}
	if err := types.AccountID(g.Protocol.Registrar).Validate(); err != nil {
		return fmt.Errorf("registrar: %w", err)
	}
	if len(g.Accounts) == 0 {
		return fmt.Errorf("genesis needs at least one account")
	}

	seen := make(map[string]struct{}, len(g.Accounts))
	for i, acc := range g.Accounts {
		if err := types.AccountID(acc.AccountID).Validate(); err != nil {
			return fmt.Errorf("accounts[%d]: %w", i, err)
		}
		if _, dup := seen[acc.AccountID]; dup {
			return fmt.Errorf("accounts[%d]: duplicate account %q", i, acc.AccountID)
		}
		seen[acc.AccountID] = struct{}{}
		if _, err := crypto.ParsePublicKey(acc.PublicKey); err != nil {
			return fmt.Errorf("accounts[%d] public_key: %w", i, err)
		}
	}
	return nil
}

// Hash returns a BLAKE3 hash of the genesis configuration.
// Used as the parent hash of block 0.
func (g *Genesis) Hash() (types.Hash, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return types.Hash{}, err
	}
	return crypto.Hash(data), nil
}
