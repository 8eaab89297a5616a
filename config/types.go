package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so it can be written as "15s" in YAML and TOML.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// UnmarshalText parses a duration string for TOML and env decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText renders the duration in time.Duration notation.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the gatewayd runtime configuration.
type Config struct {
	Environment string          `yaml:"environment" toml:"environment"`
	Network     NetworkConfig   `yaml:"network" toml:"network"`
	Pricing     PricingConfig   `yaml:"pricing" toml:"pricing"`
	Watcher     WatcherConfig   `yaml:"watcher" toml:"watcher"`
	Storage     StorageConfig   `yaml:"storage" toml:"storage"`
	Events      EventsConfig    `yaml:"events" toml:"events"`
	API         APIConfig       `yaml:"api" toml:"api"`
	Telemetry   TelemetryConfig `yaml:"telemetry" toml:"telemetry"`
	Log         LogConfig       `yaml:"log" toml:"log"`
	Chains      ChainsConfig    `yaml:"chains" toml:"chains"`
}

// NetworkConfig points at the signing network.
type NetworkConfig struct {
	Name               string   `yaml:"name" toml:"name"`
	Nodes              []string `yaml:"nodes" toml:"nodes"`
	Timeout            Duration `yaml:"timeout" toml:"timeout"`
	PollInterval       Duration `yaml:"poll_interval" toml:"poll_interval"`
	Authority          string   `yaml:"authority" toml:"authority"`
	ConfirmationTarget int      `yaml:"confirmation_target" toml:"confirmation_target"`
	// DayNonce keys gateways opened without a nonce by day instead of randomly.
	DayNonce           bool     `yaml:"day_nonce" toml:"day_nonce"`
}

// PricingConfig configures the price sources used for shard selection.
type PricingConfig struct {
	CoinGeckoEndpoint string            `yaml:"coingecko_endpoint" toml:"coingecko_endpoint"`
	CoinGeckoIDs      map[string]string `yaml:"coingecko_ids" toml:"coingecko_ids"`
	CoinbaseEndpoint  string            `yaml:"coinbase_endpoint" toml:"coinbase_endpoint"`
	Timeout           Duration          `yaml:"timeout" toml:"timeout"`
}

// WatcherConfig controls deposit polling.
type WatcherConfig struct {
	Interval   Duration `yaml:"interval" toml:"interval"`
	UseIndexer bool     `yaml:"use_indexer" toml:"use_indexer"`
}

// StorageConfig selects the session store.
type StorageConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	DSN    string `yaml:"dsn" toml:"dsn"`
}

// EventsConfig configures lifecycle event publishing. An empty NATSURL disables NATS.
type EventsConfig struct {
	NATSURL string `yaml:"nats_url" toml:"nats_url"`
	Prefix  string `yaml:"prefix" toml:"prefix"`
}

// APIConfig configures the admin HTTP API.
type APIConfig struct {
	Listen    string          `yaml:"listen" toml:"listen"`
	JWT       JWTConfig       `yaml:"jwt" toml:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
}

// JWTConfig configures bearer token verification.
type JWTConfig struct {
	Enable    bool   `yaml:"enable" toml:"enable"`
	Secret    string `yaml:"secret" toml:"secret"`
	SecretEnv string `yaml:"secret_env" toml:"secret_env"`
	Issuer    string `yaml:"issuer" toml:"issuer"`
	Audience  string `yaml:"audience" toml:"audience"`
}

// RateLimitConfig bounds requests per client.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"rps" toml:"rps"`
	Burst             int     `yaml:"burst" toml:"burst"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Endpoint string `yaml:"endpoint" toml:"endpoint"`
	Insecure bool   `yaml:"insecure" toml:"insecure"`
	Headers  string `yaml:"headers" toml:"headers"`
	Metrics  bool   `yaml:"metrics" toml:"metrics"`
	Traces   bool   `yaml:"traces" toml:"traces"`
}

// LogConfig configures the optional rotating log file.
type LogConfig struct {
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
}

// ChainsConfig configures the lock and mint chain adapters.
type ChainsConfig struct {
	Bitcoin  BitcoinConfig  `yaml:"bitcoin" toml:"bitcoin"`
	Ethereum EthereumConfig `yaml:"ethereum" toml:"ethereum"`
}

// BitcoinConfig configures the esplora lock chain.
type BitcoinConfig struct {
	Endpoint      string `yaml:"endpoint" toml:"endpoint"`
	Net           string `yaml:"net" toml:"net"`
	Confirmations int    `yaml:"confirmations" toml:"confirmations"`
}

// EthereumConfig configures the EVM mint chain.
type EthereumConfig struct {
	RPC           string     `yaml:"rpc" toml:"rpc"`
	FromBlock     uint64     `yaml:"from_block" toml:"from_block"`
	SignerKey     string     `yaml:"signer_key" toml:"signer_key"`
	SignerKeyEnv  string     `yaml:"signer_key_env" toml:"signer_key_env"`
	Keystore      string     `yaml:"keystore" toml:"keystore"`
	PassphraseEnv string     `yaml:"passphrase_env" toml:"passphrase_env"`
	Assets        []EVMAsset `yaml:"assets" toml:"assets"`
}

// EVMAsset binds an asset to its gateway and token contracts.
type EVMAsset struct {
	Symbol  string `yaml:"symbol" toml:"symbol"`
	Gateway string `yaml:"gateway" toml:"gateway"`
	Token   string `yaml:"token" toml:"token"`
}
