package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"
)

// Version is reported by --version.
const Version = "0.1.0"

// Flags holds parsed sandboxd command-line flags.
type Flags struct {
	// Commands
	Help    bool
	Version bool

	// Core
	Home     string
	Config   string
	InMemory bool

	// RPC
	RPCAddr    string
	RPCPort    int
	RPCFD      int
	RPCAllowed string
	RPCCORS    string

	// Genesis (fresh homes only)
	ChainID        string
	RootAccount    string
	InitialBalance string
	BlockTime      time.Duration

	// Block production
	Produce bool

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	// Explicitly-set bool flags (for true/false overrides).
	SetInMemory bool
	SetProduce  bool
	SetLogJSON  bool
}

// ParseFlags parses sandboxd command-line arguments (without the program name).
// Returns flag.ErrHelp when --help was requested.
func ParseFlags(args []string, output io.Writer) (*Flags, error) {
	f := &Flags{}
	fs := flag.NewFlagSet("sandboxd", flag.ContinueOnError)
	fs.SetOutput(output)

	// Commands
	fs.BoolVar(&f.Help, "help", false, "Show help message")
	fs.BoolVar(&f.Help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&f.Version, "version", false, "Show version information")

	// Core
	fs.StringVar(&f.Home, "home", "", "Node home directory")
	fs.StringVar(&f.Config, "config", "", "Config file path")
	fs.BoolVar(&f.InMemory, "in-memory", false, "Keep chain state in memory only")

	// RPC
	fs.StringVar(&f.RPCAddr, "rpc-addr", "", "RPC listen address")
	fs.IntVar(&f.RPCPort, "rpc-port", 0, "RPC listen port")
	fs.IntVar(&f.RPCFD, "rpc-fd", -1, "Serve RPC on an inherited listening socket")
	fs.StringVar(&f.RPCAllowed, "rpc-allowed", "", "Allowed IPs for RPC")
	fs.StringVar(&f.RPCCORS, "rpc-cors", "", "Allowed CORS origins for RPC (comma-separated)")

	// Genesis
	fs.StringVar(&f.ChainID, "chain-id", "", "Chain id for a fresh home")
	fs.StringVar(&f.RootAccount, "root-account", "", "Root account for a fresh home")
	fs.StringVar(&f.InitialBalance, "initial-balance", "", "Root account balance for a fresh home")
	fs.DurationVar(&f.BlockTime, "block-time", 0, "Block time for a fresh home")

	// Block production
	fs.BoolVar(&f.Produce, "produce", true, "Produce empty blocks while idle")

	// Logging
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Output logs as JSON")

	fs.Usage = func() {
		printUsage(output)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	f.SetInMemory = isFlagSet(fs, "in-memory")
	f.SetProduce = isFlagSet(fs, "produce")
	f.SetLogJSON = isFlagSet(fs, "log-json")
	return f, nil
}

// ApplyFlags applies command-line flags to a Config struct.
func ApplyFlags(cfg *Config, f *Flags) {
	// Core
	if f.Home != "" {
		cfg.Home = f.Home
	}
	if f.SetInMemory {
		cfg.InMemory = f.InMemory
	}

	// RPC
	if f.RPCAddr != "" {
		cfg.RPC.Addr = f.RPCAddr
	}
	if f.RPCPort != 0 {
		cfg.RPC.Port = f.RPCPort
	}
	if f.RPCFD >= 0 {
		cfg.RPC.ListenFD = f.RPCFD
	}
	if f.RPCAllowed != "" {
		cfg.RPC.AllowedIPs = parseStringList(f.RPCAllowed)
	}
	if f.RPCCORS != "" {
		cfg.RPC.CORSOrigins = parseStringList(f.RPCCORS)
	}

	// Genesis
	if f.ChainID != "" {
		cfg.Genesis.ChainID = f.ChainID
	}
	if f.RootAccount != "" {
		cfg.Genesis.RootAccount = f.RootAccount
	}
	if f.InitialBalance != "" {
		cfg.Genesis.RootBalance = f.InitialBalance
	}
	if f.BlockTime != 0 {
		cfg.Genesis.BlockTime = f.BlockTime
	}

	// Block production
	if f.SetProduce {
		cfg.Producer.Enabled = f.Produce
	}

	// Logging
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.SetLogJSON {
		cfg.Log.JSON = f.LogJSON
	}
}

// isFlagSet checks if a flag was explicitly set.
func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func printUsage(w io.Writer) {
	usage := `Klingnet Sandbox - disposable single-node chain for tests

Usage:
  sandboxd [options]
  sandboxd --help

Core Options:
  --home            Node home directory (default: ~/.klingnet-sandbox)
  --config          Config file path (default: <home>/sandboxd.toml)
  --in-memory       Keep chain state in memory only

RPC Options:
  --rpc-addr        RPC listen address (default: 127.0.0.1)
  --rpc-port        RPC port (default: 3030)
  --rpc-fd          Serve on an inherited listening socket instead of binding
  --rpc-allowed     Allowed IPs for RPC (comma-separated)
  --rpc-cors        Allowed CORS origins for RPC (comma-separated)

Genesis Options (only used when the home is new):
  --chain-id        Chain id (default: sandbox)
  --root-account    Root account id (default: test.near)
  --initial-balance Root balance in minimal units
  --block-time      Block time (default: 1s)

Block Production:
  --produce         Produce empty blocks while idle (default: true)

Logging Options:
  --log-level       Log level: trace, debug, info, warn, error (default: info)
  --log-file        Log file path (default: stderr)
  --log-json        Output logs as JSON

The root account credentials are written to <home>/validator_key.json.
`
	fmt.Fprint(w, usage)
}

// Load loads configuration with the following precedence:
// 1. Default values
// 2. Auto-create home + default config (idempotent)
// 3. Config file
// 4. Command-line flags
func Load(args []string, output io.Writer) (*Config, *Flags, error) {
	flags, err := ParseFlags(args, output)
	if err != nil {
		return nil, nil, err
	}
	if flags.Help {
		printUsage(output)
		return nil, flags, flag.ErrHelp
	}
	if flags.Version {
		fmt.Fprintf(output, "sandboxd version %s\n", Version)
		return nil, flags, flag.ErrHelp
	}

	cfg := Default()
	if flags.Home != "" {
		cfg.Home = flags.Home
	}

	if err := EnsureHome(cfg); err != nil {
		return nil, nil, fmt.Errorf("ensuring home: %w", err)
	}

	configPath := flags.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}

	if err := LoadFile(configPath, cfg); err != nil {
		return nil, nil, fmt.Errorf("loading config file: %w", err)
	}

	ApplyFlags(cfg, flags)
	if err := Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, flags, nil
}

// IsHelp reports whether err means usage or version output was requested.
func IsHelp(err error) bool {
	return errors.Is(err, flag.ErrHelp)
}

// EnsureHome creates the home directory and a default config file if they
// don't already exist. Idempotent.
func EnsureHome(cfg *Config) error {
	if err := os.MkdirAll(cfg.Home, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", cfg.Home, err)
	}

	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}
	return nil
}
