package config

import (
	"fmt"
	"net"

	"github.com/Klingon-tech/klingnet-sandbox/pkg/types"
)

// Validate checks runtime node config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Home == "" {
		return fmt.Errorf("home is required")
	}
	if cfg.RPC.Port < 0 || cfg.RPC.Port > 65535 {
		return fmt.Errorf("rpc.port must be in range [0, 65535]")
	}
	if cfg.RPC.ListenFD >= 0 && cfg.RPC.ListenFD < 3 {
		return fmt.Errorf("rpc fd %d collides with stdio", cfg.RPC.ListenFD)
	}
	for i, ip := range cfg.RPC.AllowedIPs {
		if _, _, err := net.ParseCIDR(ip); err == nil {
			continue
		}
		if net.ParseIP(ip) == nil {
			return fmt.Errorf("rpc.allowed[%d] %q is not an IP or CIDR", i, ip)
		}
	}
	if err := types.AccountID(cfg.Genesis.RootAccount).Validate(); err != nil {
		return fmt.Errorf("root account: %w", err)
	}
	if _, err := types.ParseBalance(cfg.Genesis.RootBalance); err != nil {
		return fmt.Errorf("root balance: %w", err)
	}
	if cfg.Genesis.BlockTime <= 0 {
		return fmt.Errorf("block time must be positive")
	}
	return nil
}
