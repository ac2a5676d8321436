package config

import (
	"testing"
	"time"

	"github.com/shamank/ivxp-sdk-go/pkg/model"
	"github.com/shopspring/decimal"
)

func TestConfigValidate_AppliesDefaults(t *testing.T) {
	cfg := &Config{RPCAddr: "https://sepolia.base.org"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.Network != BaseSepolia {
		t.Fatalf("Network = %+v, want BaseSepolia", cfg.Network)
	}
	if cfg.Provider.PathPrefix != "/ivxp" || cfg.Client.PathPrefix != "/ivxp" {
		t.Fatalf("unexpected path prefixes %q %q", cfg.Provider.PathPrefix, cfg.Client.PathPrefix)
	}
	if cfg.Provider.QuoteTTL != time.Hour {
		t.Fatalf("QuoteTTL = %v", cfg.Provider.QuoteTTL)
	}
	if cfg.Provider.SignatureMaxAge != 15*time.Minute {
		t.Fatalf("SignatureMaxAge = %v", cfg.Provider.SignatureMaxAge)
	}
	if cfg.Provider.MinConfirmations != 1 {
		t.Fatalf("MinConfirmations = %d", cfg.Provider.MinConfirmations)
	}
	if cfg.Provider.OrderStore.Backend != BackendMemory || cfg.Provider.Deliverables.Backend != BackendMemory {
		t.Fatal("expected memory backends by default")
	}
	if cfg.Timeouts.HTTP != 30*time.Second {
		t.Fatalf("Timeouts.HTTP = %v", cfg.Timeouts.HTTP)
	}
	if cfg.Client.Poll.MaxAttempts != 60 {
		t.Fatalf("Poll.MaxAttempts = %d", cfg.Client.Poll.MaxAttempts)
	}
}

func TestConfigValidate_RequiresRPC(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing RPC address")
	}
}

func TestConfigValidate_NetworkByName(t *testing.T) {
	cfg := &Config{RPCAddr: "https://mainnet.base.org", Network: Network{Name: "base-mainnet"}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.Network.ChainID != 8453 {
		t.Fatalf("ChainID = %d", cfg.Network.ChainID)
	}

	cfg = &Config{RPCAddr: "http://x", Network: Network{Name: "mystery"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown network without contract")
	}
}

func TestConfigValidate_Services(t *testing.T) {
	tests := []struct {
		name     string
		services []model.ServiceDefinition
		wantErr  bool
	}{
		{"ok", []model.ServiceDefinition{{Type: "research", BasePrice: decimal.NewFromInt(50)}}, false},
		{"duplicate", []model.ServiceDefinition{
			{Type: "research", BasePrice: decimal.NewFromInt(50)},
			{Type: "research", BasePrice: decimal.NewFromInt(10)},
		}, true},
		{"zero price", []model.ServiceDefinition{{Type: "research"}}, true},
		{"too precise", []model.ServiceDefinition{{Type: "research", BasePrice: decimal.RequireFromString("0.0000001")}}, true},
		{"missing type", []model.ServiceDefinition{{BasePrice: decimal.NewFromInt(1)}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{RPCAddr: "http://x", Provider: ProviderConfig{Services: tt.services}}
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNetwork_Presets(t *testing.T) {
	if BaseMainnet.ChainID != 8453 || BaseSepolia.ChainID != 84532 {
		t.Fatal("unexpected chain ids")
	}
	if BaseMainnet.USDC().Hex() != "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913" {
		t.Fatalf("mainnet USDC = %s", BaseMainnet.USDC().Hex())
	}
	if BaseSepolia.USDC().Hex() != "0x036CbD53842c5426634e7929541eC2318f3dCF7e" {
		t.Fatalf("sepolia USDC = %s", BaseSepolia.USDC().Hex())
	}
	if _, ok := NetworkByName("BASE-SEPOLIA"); !ok {
		t.Fatal("lookup should be case-insensitive")
	}
}

func TestTimeouts_WithDefaultsKeepsValues(t *testing.T) {
	tt := Timeouts{HTTP: time.Second}.WithDefaults()
	if tt.HTTP != time.Second {
		t.Fatalf("HTTP = %v", tt.HTTP)
	}
	if tt.ReceiptWait != 90*time.Second {
		t.Fatalf("ReceiptWait = %v", tt.ReceiptWait)
	}
}

func TestPollPolicy_Delay(t *testing.T) {
	p := PollPolicy{InitialDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2}.WithDefaults()
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := p.Delay(i); got != w {
			t.Fatalf("Delay(%d) = %v, want %v", i, got, w)
		}
	}
}

func TestServicePrice(t *testing.T) {
	p := ProviderConfig{Services: []model.ServiceDefinition{{Type: "translate", BasePrice: decimal.NewFromInt(3)}}}
	price, ok := p.ServicePrice("translate")
	if !ok || !price.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("ServicePrice = %v, %v", price, ok)
	}
	if _, ok := p.ServicePrice("other"); ok {
		t.Fatal("unknown type should not be priced")
	}
}
