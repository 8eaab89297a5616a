// Package config loads the gatewayd configuration from YAML or TOML.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"mintgate/crypto"
)

// Load reads the configuration at path. Files ending in .toml are decoded as
// TOML, everything else as YAML. Defaults are applied before validation.
func Load(path string) (Config, error) {
	cfg := Config{}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		meta, err := toml.Decode(string(raw), &cfg)
		if err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return cfg, fmt.Errorf("decode config: unknown key %s", undecoded[0])
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	applyDefaults(&cfg)
	if err := cfg.API.JWT.normalise(); err != nil {
		return cfg, fmt.Errorf("api jwt: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied and no nodes.
func Default() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "dev"
	}
	if cfg.Network.Name == "" {
		cfg.Network.Name = "mainnet"
	}
	if cfg.Network.Timeout.Duration == 0 {
		cfg.Network.Timeout.Duration = 120 * time.Second
	}
	if cfg.Network.PollInterval.Duration == 0 {
		cfg.Network.PollInterval.Duration = 15 * time.Second
	}
	if cfg.Network.ConfirmationTarget <= 0 {
		cfg.Network.ConfirmationTarget = 6
	}
	if cfg.Pricing.Timeout.Duration == 0 {
		cfg.Pricing.Timeout.Duration = 10 * time.Second
	}
	if cfg.Watcher.Interval.Duration == 0 {
		cfg.Watcher.Interval.Duration = 15 * time.Second
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}
	if cfg.Events.Prefix == "" {
		cfg.Events.Prefix = "mintgate"
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = ":8480"
	}
	if cfg.API.RateLimit.RequestsPerSecond <= 0 {
		cfg.API.RateLimit.RequestsPerSecond = 10
	}
	if cfg.API.RateLimit.Burst <= 0 {
		cfg.API.RateLimit.Burst = 20
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 100
	}
	if cfg.Log.MaxBackups <= 0 {
		cfg.Log.MaxBackups = 5
	}
	if cfg.Chains.Bitcoin.Net == "" {
		cfg.Chains.Bitcoin.Net = "mainnet"
	}
	if cfg.Chains.Bitcoin.Confirmations <= 0 {
		cfg.Chains.Bitcoin.Confirmations = 6
	}
}

func validateConfig(cfg Config) error {
	if len(cfg.Network.Nodes) == 0 {
		return fmt.Errorf("network: at least one node must be configured")
	}
	switch a := strings.TrimSpace(cfg.Network.Authority); {
	case a == "":
		return fmt.Errorf("network: authority must be configured")
	case !common.IsHexAddress(a) || common.HexToAddress(a) == (common.Address{}):
		return fmt.Errorf("network: authority %q is not an address", a)
	}
	switch strings.ToLower(cfg.Storage.Driver) {
	case "memory":
	case "leveldb", "level", "bolt", "bbolt", "sqlite", "sqlite3", "postgres", "postgresql":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			return fmt.Errorf("storage: dsn required for driver %s", cfg.Storage.Driver)
		}
	default:
		return fmt.Errorf("storage: unsupported driver %q", cfg.Storage.Driver)
	}
	if cfg.API.JWT.Enable && cfg.API.JWT.Secret == "" {
		return fmt.Errorf("api jwt: secret must be configured when enabled")
	}
	for _, a := range cfg.Chains.Ethereum.Assets {
		if strings.TrimSpace(a.Symbol) == "" {
			return fmt.Errorf("chains.ethereum: asset symbol required")
		}
		if !common.IsHexAddress(a.Gateway) {
			return fmt.Errorf("chains.ethereum: asset %s gateway %q is not an address", a.Symbol, a.Gateway)
		}
		if a.Token != "" && !common.IsHexAddress(a.Token) {
			return fmt.Errorf("chains.ethereum: asset %s token %q is not an address", a.Symbol, a.Token)
		}
	}
	return nil
}

func (j *JWTConfig) normalise() error {
	if j == nil {
		return fmt.Errorf("jwt configuration missing")
	}
	j.Secret = strings.TrimSpace(j.Secret)
	j.SecretEnv = strings.TrimSpace(j.SecretEnv)
	if j.Secret == "" && j.SecretEnv != "" {
		value := strings.TrimSpace(os.Getenv(j.SecretEnv))
		if value == "" {
			return fmt.Errorf("secret_env %s is empty", j.SecretEnv)
		}
		j.Secret = value
	}
	return nil
}

// AuthorityAddress returns the configured mint authority, or the zero address.
func (n NetworkConfig) AuthorityAddress() common.Address {
	if !common.IsHexAddress(n.Authority) {
		return common.Address{}
	}
	return common.HexToAddress(n.Authority)
}

// Signer describes where the mint-chain signing key is loaded from.
func (e EthereumConfig) Signer() crypto.SignerSource {
	return crypto.SignerSource{
		HexKey:        e.SignerKey,
		HexKeyEnv:     e.SignerKeyEnv,
		KeystorePath:  e.Keystore,
		PassphraseEnv: e.PassphraseEnv,
	}
}
