package config

import "time"

// Defaults shared by the node and the harness.
const (
	DefaultChainID     = "sandbox"
	DefaultRootAccount = "test.near"
	// DefaultRootBalance is 10^9 tokens in minimal units.
	DefaultRootBalance = "1000000000000000000000000000000000"
	DefaultBlockTime   = time.Second
	DefaultRPCPort     = 3030
)

// Default returns the default node configuration.
func Default() *Config {
	return &Config{
		Home: DefaultHome(),
		RPC: RPCConfig{
			Addr:       "127.0.0.1",
			Port:       DefaultRPCPort,
			AllowedIPs: []string{"127.0.0.1", "::1"},
			ListenFD:   -1,
		},
		Producer: ProducerConfig{
			Enabled: true,
		},
		Genesis: GenesisParams{
			ChainID:     DefaultChainID,
			RootAccount: DefaultRootAccount,
			RootBalance: DefaultRootBalance,
			BlockTime:   DefaultBlockTime,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}
