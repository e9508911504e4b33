// Package config handles sandbox configuration.
//
// Configuration is split into three categories:
//   - Chain rules: defined in genesis.json, fixed once a home is created
//   - Node settings: runtime configuration of one sandboxd process
//   - Harness settings: how a test harness boots or reaches a node
package config

import (
	"os"
	"path/filepath"
	"time"
)

// =============================================================================
// Node Configuration (runtime, per-node settings)
// =============================================================================

// Config holds sandboxd runtime configuration.
type Config struct {
	// Core
	Home     string `toml:"-"`
	InMemory bool   `toml:"in_memory"` // Keep chain state in memory only.

	// RPC server
	RPC RPCConfig `toml:"rpc"`

	// Block production
	Producer ProducerConfig `toml:"producer"`

	// Genesis parameters, only consulted when a fresh home is initialised.
	// They come from flags; the file cannot change chain rules.
	Genesis GenesisParams `toml:"-"`

	// Logging
	Log LogConfig `toml:"log"`
}

// RPCConfig holds RPC server settings.
type RPCConfig struct {
	Addr        string   `toml:"addr"`
	Port        int      `toml:"port"`
	AllowedIPs  []string `toml:"allowed"`
	CORSOrigins []string `toml:"cors"` // Allowed CORS origins ("*" = all).
	ListenFD    int      `toml:"-"`    // Inherited listening socket, flag only.
}

// ProducerConfig controls the empty-block ticker.
type ProducerConfig struct {
	Enabled bool `toml:"enabled"`
}

// GenesisParams seed genesis.json on first start.
type GenesisParams struct {
	ChainID     string
	RootAccount string
	RootBalance string
	BlockTime   time.Duration
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
	JSON  bool   `toml:"json"`
}

// =============================================================================
// Home layout
// =============================================================================

// DefaultHome returns the default sandboxd home directory.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".klingnet-sandbox"
	}
	return filepath.Join(home, ".klingnet-sandbox")
}

// DataDir returns the chain database directory.
func (c *Config) DataDir() string {
	return filepath.Join(c.Home, "data")
}

// GenesisFile returns the genesis file path.
func (c *Config) GenesisFile() string {
	return filepath.Join(c.Home, GenesisFileName)
}

// ValidatorKeyFile returns the root account credentials path.
func (c *Config) ValidatorKeyFile() string {
	return filepath.Join(c.Home, ValidatorKeyFileName)
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.Home, ConfigFileName)
}

// File names inside a node home.
const (
	GenesisFileName      = "genesis.json"
	ValidatorKeyFileName = "validator_key.json"
	ConfigFileName       = "sandboxd.toml"
)
