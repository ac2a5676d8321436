package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

// Hardhat account #0; public test key.
const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestGetPrivateKey_Caches(t *testing.T) {
	cfg := &Config{PrivateKey: "0x" + testKey}
	k1 := cfg.GetPrivateKey()
	if k1 == nil {
		t.Fatal("expected parsed key")
	}
	if k2 := cfg.GetPrivateKey(); k1 != k2 {
		t.Fatal("expected cached key instance")
	}
	addr := crypto.PubkeyToAddress(k1.PublicKey).Hex()
	if addr != "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266" {
		t.Fatalf("address = %s", addr)
	}
}

func TestRequirePrivateKey(t *testing.T) {
	cfg := &Config{}
	if cfg.HasPrivateKey() {
		t.Fatal("HasPrivateKey should be false")
	}
	_, err := cfg.RequirePrivateKey()
	if err == nil || err.Error() != "private key is required for this operation" {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg = &Config{PrivateKey: "abc"}
	_, err = cfg.RequirePrivateKey()
	if err == nil || !strings.Contains(err.Error(), "got 3") {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.GetPrivateKey() != nil {
		t.Fatal("invalid key should not parse")
	}
}

func TestParsePrivateKey(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"plain", testKey, false},
		{"prefixed", "0x" + testKey, false},
		{"whitespace", " " + testKey + "\n", false},
		{"short", testKey[:10], true},
		{"not hex", strings.Repeat("z", 64), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parsePrivateKey(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parsePrivateKey() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_YAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ivxp.yaml")
	body := `
rpc_addr: https://file.example
network:
  name: base-mainnet
timeouts:
  http: 5s
provider:
  name: research-bot
  quote_ttl: 30m
  services:
    - type: research
      base_price_usdc: "50"
      estimated_delivery_hours: 8
  order_store:
    backend: sqlite
client:
  poll:
    max_attempts: 3
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvRPCAddr, "https://env.example")
	t.Setenv(EnvPrivateKey, testKey)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RPCAddr != "https://env.example" {
		t.Fatalf("RPCAddr = %s", cfg.RPCAddr)
	}
	if !cfg.HasPrivateKey() {
		t.Fatal("expected key from env")
	}
	if cfg.Network.ChainID != 8453 {
		t.Fatalf("ChainID = %d", cfg.Network.ChainID)
	}
	if cfg.Timeouts.HTTP != 5*time.Second {
		t.Fatalf("Timeouts.HTTP = %v", cfg.Timeouts.HTTP)
	}
	if cfg.Provider.QuoteTTL != 30*time.Minute {
		t.Fatalf("QuoteTTL = %v", cfg.Provider.QuoteTTL)
	}
	if len(cfg.Provider.Services) != 1 || cfg.Provider.Services[0].BasePrice.String() != "50" {
		t.Fatalf("services = %+v", cfg.Provider.Services)
	}
	if cfg.Provider.OrderStore.SQLitePath == "" {
		t.Fatal("sqlite path default not applied")
	}
	if cfg.Client.Poll.MaxAttempts != 3 {
		t.Fatalf("Poll.MaxAttempts = %d", cfg.Client.Poll.MaxAttempts)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected read error")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("rpc_addr: [unterminated"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
