package sdk

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shamank/ivxp-sdk-go/internal/testutil"
	"github.com/shamank/ivxp-sdk-go/pkg/config"
	"github.com/shamank/ivxp-sdk-go/pkg/events"
	"github.com/shamank/ivxp-sdk-go/pkg/model"
	"github.com/shamank/ivxp-sdk-go/pkg/provider"
)

func validConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		RPCAddr: "http://127.0.0.1:8545",
		Provider: config.ProviderConfig{
			Name:          "sdk-provider",
			WalletAddress: testutil.ProviderAddress.Hex(),
			Services: []model.ServiceDefinition{
				{Type: "research", BasePrice: decimal.NewFromInt(3)},
			},
			EnableStream: true,
		},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return cfg
}

func TestOpenOrderStore(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.OrderStoreConfig
		wantErr bool
	}{
		{"default", config.OrderStoreConfig{}, false},
		{"memory", config.OrderStoreConfig{Backend: config.BackendMemory}, false},
		{"sqlite", config.OrderStoreConfig{Backend: config.BackendSQLite, SQLitePath: filepath.Join(t.TempDir(), "orders.db")}, false},
		{"unknown", config.OrderStoreConfig{Backend: "etcd"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := OpenOrderStore(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if s != nil {
				_ = s.Close()
			}
		})
	}
}

func TestOpenDeliverableStore(t *testing.T) {
	s, err := OpenDeliverableStore(config.DeliverableConfig{}, time.Second)
	if err != nil || s == nil {
		t.Fatalf("memory store: %v", err)
	}
	if _, err := OpenDeliverableStore(config.DeliverableConfig{Backend: "s3"}, time.Second); err == nil {
		t.Fatal("unknown backend accepted")
	}
}

func TestBuildNodeServesCatalog(t *testing.T) {
	cfg := validConfig(t)
	ledger := testutil.NewLedger(testutil.ClientAddress)
	node, err := buildNode(cfg, cfg.Provider, ledger, &events.Bus{},
		provider.WithHandler("research", provider.ReportHandler(cfg.Provider.Name)))
	if err != nil {
		t.Fatalf("buildNode: %v", err)
	}
	defer node.closeStores()
	defer func() { _ = node.Provider.Close(context.Background()) }()

	srv := httptest.NewServer(node.Server.Handler())
	defer srv.Close()

	got, err := healthcheck(context.Background(), srv.Client(), srv.URL, cfg.Client.PathPrefix)
	if err != nil {
		t.Fatalf("healthcheck: %v", err)
	}
	if got["status"] != "ok" {
		t.Fatalf("healthz = %v", got)
	}

	resp, err := http.Get(srv.URL + "/ivxp/catalog")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("catalog status = %d", resp.StatusCode)
	}
	cat, err := node.Provider.HandleCatalog(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(cat.Services) != 1 {
		t.Fatalf("services = %+v", cat.Services)
	}
}

func TestBuildNodeRejectsBadStore(t *testing.T) {
	cfg := validConfig(t)
	pcfg := cfg.Provider
	pcfg.OrderStore.Backend = "etcd"
	if _, err := buildNode(cfg, pcfg, testutil.NewLedger(testutil.ClientAddress), nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestHealthcheckFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ivxp/healthz" {
			_, _ = w.Write([]byte("not json"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := healthcheck(context.Background(), srv.Client(), srv.URL, "/ivxp"); err == nil {
		t.Fatal("expected decode error")
	}
	if _, err := healthcheck(context.Background(), srv.Client(), srv.URL, "/other"); err == nil {
		t.Fatal("expected status error")
	}
	if _, err := healthcheck(context.Background(), srv.Client(), "ftp://x", ""); err == nil {
		t.Fatal("expected URL error")
	}
}

func TestCoreKeyRequirements(t *testing.T) {
	cfg := validConfig(t)
	c := newCore(nil, cfg, nil)
	if _, err := c.NewClient(); err == nil {
		t.Fatal("NewClient without a key must fail")
	}
	wallet, err := c.providerWallet()
	if err != nil || wallet != testutil.ProviderAddress {
		t.Fatalf("wallet = %s, %v", wallet.Hex(), err)
	}

	cfg.Provider.WalletAddress = ""
	if _, err := c.providerWallet(); err == nil {
		t.Fatal("expected error without wallet or key")
	}
	keyed := newCore(nil, cfg, testutil.Key(t, testutil.ProviderKeyHex))
	wallet, err = keyed.providerWallet()
	if err != nil || wallet != testutil.ProviderAddress {
		t.Fatalf("key wallet = %s, %v", wallet.Hex(), err)
	}
	c.Close()
}

func TestNewSDKValidatesConfig(t *testing.T) {
	if _, err := NewSDK(context.Background(), &config.Config{}); err == nil {
		t.Fatal("expected error for missing RPC address")
	}
}
