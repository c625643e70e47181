package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/sabaka-pes/Album-Shop/crypto"
)

// AllocEntry seeds one account balance at genesis. The balance is a base-10
// string so TOML never loses precision on large native-unit amounts.
type AllocEntry struct {
	Address string `toml:"Address"`
	Balance string `toml:"Balance"`
}

type Config struct {
	RPCAddress    string       `toml:"RPCAddress"`
	DataDir       string       `toml:"DataDir"`
	NetworkName   string       `toml:"NetworkName"`
	AdminAddress  string       `toml:"AdminAddress"`
	LogFile       string       `toml:"LogFile"`
	LogMaxSizeMB  int          `toml:"LogMaxSizeMB"`
	LogMaxBackups int          `toml:"LogMaxBackups"`
	GenesisAlloc  []AllocEntry `toml:"GenesisAlloc"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "album-shop-local"
	}
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = "127.0.0.1:8645"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./shop-data"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the parts of the configuration that cannot be defaulted.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.AdminAddress) == "" {
		return fmt.Errorf("config: AdminAddress is required")
	}
	if _, err := c.Admin(); err != nil {
		return err
	}
	if _, err := c.Alloc(); err != nil {
		return err
	}
	return nil
}

// Admin decodes the administrator address.
func (c *Config) Admin() ([20]byte, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(c.AdminAddress))
	if err != nil {
		return [20]byte{}, fmt.Errorf("config: invalid AdminAddress: %w", err)
	}
	var out [20]byte
	copy(out[:], addr.Bytes())
	return out, nil
}

// Alloc decodes the genesis balance allocation.
func (c *Config) Alloc() (map[[20]byte]*big.Int, error) {
	out := make(map[[20]byte]*big.Int, len(c.GenesisAlloc))
	for _, entry := range c.GenesisAlloc {
		addr, err := crypto.DecodeAddress(strings.TrimSpace(entry.Address))
		if err != nil {
			return nil, fmt.Errorf("config: invalid alloc address %q: %w", entry.Address, err)
		}
		balance, ok := new(big.Int).SetString(strings.TrimSpace(entry.Balance), 10)
		if !ok || balance.Sign() < 0 {
			return nil, fmt.Errorf("config: invalid alloc balance %q", entry.Balance)
		}
		var key [20]byte
		copy(key[:], addr.Bytes())
		out[key] = balance
	}
	return out, nil
}

func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("config: generating default admin key: %w", err)
	}
	keyPath := defaultKeyPath(path)
	if err := os.WriteFile(keyPath, []byte(fmt.Sprintf("%x", key.Bytes())), 0o600); err != nil {
		return nil, fmt.Errorf("config: writing admin key: %w", err)
	}

	cfg := &Config{
		RPCAddress:   "127.0.0.1:8645",
		DataDir:      "./shop-data",
		NetworkName:  "album-shop-local",
		AdminAddress: key.PubKey().Address().String(),
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultKeyPath(configPath string) string {
	dir := filepath.Dir(configPath)
	return filepath.Join(dir, "admin.key")
}
