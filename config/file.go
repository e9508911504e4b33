package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// LoadFile decodes the TOML node config at path over cfg. Keys the file
// leaves out keep their current values. A missing file is not an error,
// an unknown key is.
func LoadFile(path string, cfg *Config) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("%s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// parseStringList parses a comma-separated list.
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// WriteDefaultConfig writes a commented default node config.
func WriteDefaultConfig(path string) error {
	content := `# Klingnet Sandbox node configuration.
#
# Chain rules (root account, block time, epoch length) live in
# genesis.json and are fixed when the home directory is created.

# Keep chain state in memory instead of <home>/data.
in_memory = false

[rpc]
addr = "127.0.0.1"
port = ` + strconv.Itoa(DefaultRPCPort) + `
allowed = ["127.0.0.1", "::1"]
# CORS allowed origins ("*" for all).
# cors = ["http://localhost:3000"]

[producer]
# Produce an empty block every block time even when idle.
enabled = true

[log]
level = "info"
# file = ""
json = false
`
	return os.WriteFile(path, []byte(content), 0644)
}
