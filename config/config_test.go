package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "gatewayd.yaml", `
network:
  nodes: ["https://lightnode.example.org", "/ip4/10.0.0.1/tcp/18514/p2p/8MGp"]
  poll_interval: 2s
  authority: "0x44Bb4eF43408072bC888Afd1a5986ba0Ce35Cb54"
storage:
  driver: bolt
  dsn: /var/lib/mintgate/sessions.db
chains:
  ethereum:
    rpc: http://127.0.0.1:8545
    assets:
      - symbol: btc
        gateway: "0xe4b679400F0f267212D5D812B95f58C83243EE71"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Network.Nodes) != 2 {
		t.Fatalf("unexpected nodes %v", cfg.Network.Nodes)
	}
	if cfg.Network.PollInterval.Duration != 2*time.Second {
		t.Fatalf("poll interval = %s", cfg.Network.PollInterval)
	}
	if cfg.Network.Timeout.Duration != 120*time.Second || cfg.Watcher.Interval.Duration != 15*time.Second {
		t.Fatalf("defaults not applied: %+v %+v", cfg.Network, cfg.Watcher)
	}
	if cfg.Network.ConfirmationTarget != 6 || cfg.Chains.Bitcoin.Net != "mainnet" {
		t.Fatalf("unexpected chain defaults %+v", cfg.Chains.Bitcoin)
	}
	if got := cfg.Network.AuthorityAddress().Hex(); got != "0x44Bb4eF43408072bC888Afd1a5986ba0Ce35Cb54" {
		t.Fatalf("authority = %s", got)
	}
	if cfg.API.Listen != ":8480" || cfg.Events.Prefix != "mintgate" {
		t.Fatalf("unexpected api/events defaults %+v %+v", cfg.API, cfg.Events)
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "gatewayd.toml", `
environment = "staging"

[network]
nodes = ["https://lightnode.example.org"]
authority = "0x44Bb4eF43408072bC888Afd1a5986ba0Ce35Cb54"
timeout = "30s"

[storage]
driver = "sqlite"
dsn = "file:sessions.db"

[watcher]
interval = "1m"
use_indexer = true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Environment != "staging" || cfg.Network.Timeout.Duration != 30*time.Second {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Watcher.Interval.Duration != time.Minute || !cfg.Watcher.UseIndexer {
		t.Fatalf("unexpected watcher %+v", cfg.Watcher)
	}
}

const validNetwork = "network:\n  nodes: [http://a]\n  authority: \"0x44Bb4eF43408072bC888Afd1a5986ba0Ce35Cb54\"\n"

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]struct {
		name     string
		contents string
		want     string
	}{
		"no nodes":           {"c.yaml", "storage:\n  driver: memory\n", "at least one node"},
		"unknown key":        {"c.yaml", validNetwork + "  bogus: 1\n", "bogus"},
		"unknown toml key":   {"c.toml", "[network]\nnodes = [\"http://a\"]\nbogus = 1\n", "unknown key"},
		"bad duration":       {"c.yaml", validNetwork + "  timeout: soon\n", "parse duration"},
		"missing dsn":        {"c.yaml", validNetwork + "storage:\n  driver: leveldb\n", "dsn required"},
		"bad driver":         {"c.yaml", validNetwork + "storage:\n  driver: mongo\n", "unsupported driver"},
		"bad authority":      {"c.yaml", "network:\n  nodes: [http://a]\n  authority: nope\n", "not an address"},
		"missing authority":  {"c.yaml", "network:\n  nodes: [http://a]\n", "authority must be configured"},
		"zero authority":     {"c.yaml", "network:\n  nodes: [http://a]\n  authority: \"0x0000000000000000000000000000000000000000\"\n", "not an address"},
		"jwt without secret": {"c.yaml", validNetwork + "api:\n  jwt:\n    enable: true\n", "secret"},
		"bad gateway":        {"c.yaml", validNetwork + "chains:\n  ethereum:\n    assets:\n      - symbol: BTC\n        gateway: nope\n", "gateway"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.name, tc.contents))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestJWTSecretFromEnv(t *testing.T) {
	t.Setenv("MINTGATE_JWT_SECRET", " s3cret ")
	path := writeConfig(t, "c.yaml", validNetwork + "api:\n  jwt:\n    enable: true\n    secret_env: MINTGATE_JWT_SECRET\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.API.JWT.Secret != "s3cret" {
		t.Fatalf("secret = %q", cfg.API.JWT.Secret)
	}
}

func TestSignerSource(t *testing.T) {
	e := EthereumConfig{SignerKeyEnv: "KEY", Keystore: "/keys/minter.json", PassphraseEnv: "PASS"}
	src := e.Signer()
	if src.HexKeyEnv != "KEY" || src.KeystorePath != "/keys/minter.json" || src.PassphraseEnv != "PASS" {
		t.Fatalf("unexpected signer source %+v", src)
	}
}
