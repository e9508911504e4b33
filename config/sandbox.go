package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"

	"github.com/Klingon-tech/klingnet-sandbox/pkg/types"
)

// EnvPrefix prefixes every harness environment override.
const EnvPrefix = "SANDBOX"

// NetworkMode selects between an owned sandbox node and a remote endpoint.
type NetworkMode string

const (
	NetworkSandbox NetworkMode = "sandbox" // Boot and own a local sandboxd.
	NetworkTestnet NetworkMode = "testnet" // Proxy to a remote testnet endpoint.
	NetworkMainnet NetworkMode = "mainnet" // Proxy to a remote mainnet endpoint.
	NetworkCustom  NetworkMode = "custom"  // Proxy to any other endpoint.
)

// IsRemote reports whether the mode proxies to an endpoint the harness
// does not own.
func (m NetworkMode) IsRemote() bool {
	return m != NetworkSandbox
}

// Sandbox configures a test harness. Values are resolved in order:
// defaults, TOML file, SANDBOX_* environment, then whatever the caller
// sets on the returned struct before handing it to the harness.
type Sandbox struct {
	Network       NetworkMode     `toml:"network" envconfig:"NETWORK"`
	RootAccountID types.AccountID `toml:"root_account" envconfig:"ROOT_ACCOUNT"`
	// RPCAddr is the remote endpoint URL. Required outside sandbox mode.
	RPCAddr string `toml:"rpc_url" envconfig:"RPC_URL"`

	// InitialBalance funds accounts created without an explicit amount.
	InitialBalance types.Balance `toml:"initial_balance" envconfig:"INITIAL_BALANCE"`
	// RootBalance funds the root account of a fresh sandbox node.
	RootBalance types.Balance `toml:"root_balance" envconfig:"ROOT_BALANCE"`
	// MinReserve must remain with a parent after funding a new account.
	MinReserve types.Balance `toml:"min_reserve" envconfig:"MIN_RESERVE"`

	// HomeDir is the node home. Empty means <tmp>/sandbox/<uuid>.
	HomeDir string `toml:"home_dir" envconfig:"HOME_DIR"`
	// Port is tried first; 0 or a busy port falls back to an ephemeral one.
	Port int `toml:"port" envconfig:"PORT"`
	// RM removes the home directory on teardown.
	RM bool `toml:"rm" envconfig:"RM"`
	// RefDir is copied into a fresh home to seed chain state.
	RefDir string `toml:"ref_dir" envconfig:"REF_DIR"`
	// Binary is the sandboxd executable. Empty means "sandboxd" on PATH.
	Binary    string        `toml:"binary" envconfig:"BIN"`
	BlockTime time.Duration `toml:"block_time" envconfig:"BLOCK_TIME"`

	// Remote modes sign with this account.
	MasterAccountID       types.AccountID `toml:"master_account" envconfig:"MASTER_ACCOUNT"`
	CredentialsFile       string          `toml:"credentials_file" envconfig:"CREDENTIALS_FILE"`
	CredentialsPassphrase string          `toml:"-" envconfig:"CREDENTIALS_PASSPHRASE"`

	StartupTimeout time.Duration `toml:"startup_timeout" envconfig:"STARTUP_TIMEOUT"`
	StopGrace      time.Duration `toml:"stop_grace" envconfig:"STOP_GRACE"`
	RequestTimeout time.Duration `toml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	LogLevel       string        `toml:"log_level" envconfig:"LOG_LEVEL"`
}

// DefaultSandbox returns the harness defaults.
func DefaultSandbox() *Sandbox {
	rootBalance, _ := types.ParseBalance(DefaultRootBalance)
	minReserve, _ := types.ParseBalance("10000000000000000000000") // 0.01 token
	return &Sandbox{
		Network:        NetworkSandbox,
		RootAccountID:  DefaultRootAccount,
		InitialBalance: types.Tokens(100),
		RootBalance:    rootBalance,
		MinReserve:     minReserve,
		RM:             true,
		BlockTime:      DefaultBlockTime,
		StartupTimeout: 30 * time.Second,
		StopGrace:      5 * time.Second,
		RequestTimeout: 30 * time.Second,
		LogLevel:       "warn",
	}
}

// LoadSandbox resolves defaults, the optional TOML file at path and the
// environment. A missing file is not an error.
func LoadSandbox(path string) (*Sandbox, error) {
	cfg := DefaultSandbox()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	return cfg, nil
}

// Validate checks the harness config for mistakes that would only surface
// halfway through Init.
func (c *Sandbox) Validate() error {
	switch c.Network {
	case NetworkSandbox:
		if err := c.RootAccountID.Validate(); err != nil {
			return fmt.Errorf("root_account: %w", err)
		}
		if c.StartupTimeout <= 0 {
			return fmt.Errorf("startup_timeout must be positive")
		}
		if c.BlockTime <= 0 {
			return fmt.Errorf("block_time must be positive")
		}
	case NetworkTestnet, NetworkMainnet, NetworkCustom:
		if c.RPCAddr == "" {
			return fmt.Errorf("rpc_url is required for %s mode", c.Network)
		}
		u, err := url.Parse(c.RPCAddr)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("rpc_url %q must be an http(s) URL", c.RPCAddr)
		}
		if c.CredentialsFile == "" {
			return fmt.Errorf("credentials_file is required for %s mode", c.Network)
		}
		if c.MasterAccountID != "" {
			if err := c.MasterAccountID.Validate(); err != nil {
				return fmt.Errorf("master_account: %w", err)
			}
		}
	default:
		return fmt.Errorf("network must be one of sandbox, testnet, mainnet, custom; got %q", c.Network)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port must be in range [0, 65535]")
	}
	if c.StopGrace < 0 {
		return fmt.Errorf("stop_grace must not be negative")
	}
	return nil
}

// Clone returns a deep copy.
func (c *Sandbox) Clone() *Sandbox {
	out := *c
	return &out
}
