// Package config defines the runtime configuration for IVXP clients and
// providers: the target network and RPC endpoint, the signing key, provider
// catalog and policies, client polling behaviour, storage backends, and
// operation timeouts. It also provides loading, validation and defaulting.
package config

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shamank/ivxp-sdk-go/pkg/model"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file values. Secrets are expected to
// come from the environment rather than from config files.
const (
	EnvPrivateKey = "IVXP_PRIVATE_KEY"
	EnvRPCAddr    = "IVXP_RPC_URL"
	EnvRedisAddr  = "IVXP_REDIS_ADDR"
	EnvAdminToken = "IVXP_ADMIN_TOKEN"
)

// Config holds all settings required to build a client or a provider.
// Use Validate to fill implicit defaults and to check for required fields.
type Config struct {
	// Network selects the target chain and its USDC contract.
	Network Network `json:"network" yaml:"network"`
	// RPCAddr is the EVM JSON-RPC endpoint URL (required).
	RPCAddr string `json:"rpc_addr" yaml:"rpc_addr"`
	// PrivateKey is the hex-encoded ECDSA key used for payments and
	// signatures. Prefer IVXP_PRIVATE_KEY over storing it in a file.
	PrivateKey string `json:"private_key" yaml:"private_key"`
	// Debug enables verbose logging.
	Debug bool `json:"debug" yaml:"debug"`
	// Timeouts configures per-operation timeouts. See Timeouts.WithDefaults.
	Timeouts Timeouts `json:"timeouts" yaml:"timeouts"`

	Provider ProviderConfig `json:"provider" yaml:"provider"`
	Client   ClientConfig   `json:"client" yaml:"client"`

	keyMu     sync.Mutex
	parsedKey *ecdsa.PrivateKey
}

// Network describes an EVM network by its protocol name (as used on the
// wire), chain ID, and the address of its USDC contract.
type Network struct {
	Name        string `json:"name" yaml:"name"`
	ChainID     int64  `json:"chain_id" yaml:"chain_id"`
	USDCAddress string `json:"usdc_address" yaml:"usdc_address"`
}

// USDC returns the token contract address.
func (n Network) USDC() common.Address {
	return common.HexToAddress(n.USDCAddress)
}

// BaseMainnet is the Base L2 mainnet with native USDC.
var BaseMainnet = Network{
	Name:        "base-mainnet",
	ChainID:     8453,
	USDCAddress: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
}

// BaseSepolia is the Base L2 testnet with Circle's test USDC.
var BaseSepolia = Network{
	Name:        "base-sepolia",
	ChainID:     84532,
	USDCAddress: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
}

// NetworkByName returns a predefined network.
func NetworkByName(name string) (Network, bool) {
	switch strings.ToLower(name) {
	case BaseMainnet.Name:
		return BaseMainnet, true
	case BaseSepolia.Name:
		return BaseSepolia, true
	}
	return Network{}, false
}

// Timeouts controls operation deadlines.
// Zero values are replaced by defaults in WithDefaults.
type Timeouts struct {
	HTTP        time.Duration `json:"http" yaml:"http"`                 // one provider HTTP round trip
	ChainRead   time.Duration `json:"chain_read" yaml:"chain_read"`     // eth_call, balance, receipts
	ChainSubmit time.Duration `json:"chain_submit" yaml:"chain_submit"` // send tx
	ReceiptWait time.Duration `json:"receipt_wait" yaml:"receipt_wait"` // wait for tx confirmation
	Push        time.Duration `json:"push" yaml:"push"`                 // provider push delivery
	Handler     time.Duration `json:"handler" yaml:"handler"`           // one service handler run
	Overall     time.Duration `json:"overall" yaml:"overall"`           // whole RequestService flow
}

// WithDefaults returns a copy of t with zero values replaced by defaults:
//
//	HTTP:        30s
//	ChainRead:   12s
//	ChainSubmit: 25s
//	ReceiptWait: 90s
//	Push:        30s
//	Handler:     10m
//	Overall:     30m
func (t Timeouts) WithDefaults() Timeouts {
	tt := t
	if tt.HTTP == 0 {
		tt.HTTP = 30 * time.Second
	}
	if tt.ChainRead == 0 {
		tt.ChainRead = 12 * time.Second
	}
	if tt.ChainSubmit == 0 {
		tt.ChainSubmit = 25 * time.Second
	}
	if tt.ReceiptWait == 0 {
		tt.ReceiptWait = 90 * time.Second
	}
	if tt.Push == 0 {
		tt.Push = 30 * time.Second
	}
	if tt.Handler == 0 {
		tt.Handler = 10 * time.Minute
	}
	if tt.Overall == 0 {
		tt.Overall = 30 * time.Minute
	}
	return tt
}

// ProviderConfig configures the provider side.
type ProviderConfig struct {
	Name string `json:"name" yaml:"name"`
	// WalletAddress receives payments. Defaults to the signer address.
	WalletAddress string `json:"wallet_address" yaml:"wallet_address"`
	ListenAddr    string `json:"listen_addr" yaml:"listen_addr"`
	// PathPrefix is prepended to every protocol route. Default "/ivxp".
	PathPrefix string                    `json:"path_prefix" yaml:"path_prefix"`
	Services   []model.ServiceDefinition `json:"services" yaml:"services"`

	QuoteTTL        time.Duration `json:"quote_ttl" yaml:"quote_ttl"`
	SignatureMaxAge time.Duration `json:"signature_max_age" yaml:"signature_max_age"`
	ClockSkew       time.Duration `json:"clock_skew" yaml:"clock_skew"`
	// MinConfirmations is the number of blocks a payment needs before it is accepted.
	MinConfirmations uint64 `json:"min_confirmations" yaml:"min_confirmations"`
	// AllowPrivateEndpoints permits push delivery to loopback and private
	// networks. Only for local testing.
	AllowPrivateEndpoints bool `json:"allow_private_endpoints" yaml:"allow_private_endpoints"`
	EnableStream          bool `json:"enable_stream" yaml:"enable_stream"`
	StreamHeartbeat       time.Duration `json:"stream_heartbeat" yaml:"stream_heartbeat"`

	RevisionPolicy string `json:"revision_policy" yaml:"revision_policy"`
	RefundPolicy   string `json:"refund_policy" yaml:"refund_policy"`

	// AdminToken enables the bearer-protected order listing route.
	AdminToken string `json:"admin_token" yaml:"admin_token"`

	RateLimit    RateLimit         `json:"rate_limit" yaml:"rate_limit"`
	OrderStore   OrderStoreConfig  `json:"order_store" yaml:"order_store"`
	Deliverables DeliverableConfig `json:"deliverables" yaml:"deliverables"`
}

// RateLimit configures the per-IP token bucket on provider routes.
// RPS <= 0 disables limiting.
type RateLimit struct {
	RPS   float64 `json:"rps" yaml:"rps"`
	Burst int     `json:"burst" yaml:"burst"`
}

// Order store backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendIPFS   = "ipfs"
)

// OrderStoreConfig selects and configures the order store.
type OrderStoreConfig struct {
	Backend       string `json:"backend" yaml:"backend"`
	SQLitePath    string `json:"sqlite_path" yaml:"sqlite_path"`
	RedisAddr     string `json:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `json:"redis_password" yaml:"redis_password"`
	RedisDB       int    `json:"redis_db" yaml:"redis_db"`
	RedisPrefix   string `json:"redis_prefix" yaml:"redis_prefix"`
}

// DeliverableConfig selects and configures the deliverable store.
type DeliverableConfig struct {
	Backend string `json:"backend" yaml:"backend"`
	// IpfsURL is the Kubo RPC endpoint used by the ipfs backend.
	IpfsURL string `json:"ipfs_url" yaml:"ipfs_url"`
}

// ClientConfig configures the requesting side.
type ClientConfig struct {
	Name string `json:"name" yaml:"name"`
	// DeliveryEndpoint is advertised to providers for push delivery. Optional.
	DeliveryEndpoint string     `json:"delivery_endpoint" yaml:"delivery_endpoint"`
	PathPrefix       string     `json:"path_prefix" yaml:"path_prefix"`
	Poll             PollPolicy `json:"poll" yaml:"poll"`
	AutoConfirm      bool       `json:"auto_confirm" yaml:"auto_confirm"`
}

// PollPolicy is the bounded exponential backoff used by status polling.
type PollPolicy struct {
	InitialDelay time.Duration `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay" yaml:"max_delay"`
	Multiplier   float64       `json:"multiplier" yaml:"multiplier"`
	MaxAttempts  int           `json:"max_attempts" yaml:"max_attempts"`
}

// WithDefaults returns a copy of p with zero values replaced by defaults:
// 1s initial delay, 30s max delay, x2 multiplier, 60 attempts.
func (p PollPolicy) WithDefaults() PollPolicy {
	pp := p
	if pp.InitialDelay <= 0 {
		pp.InitialDelay = time.Second
	}
	if pp.MaxDelay <= 0 {
		pp.MaxDelay = 30 * time.Second
	}
	if pp.MaxDelay < pp.InitialDelay {
		pp.MaxDelay = pp.InitialDelay
	}
	if pp.Multiplier < 1 {
		pp.Multiplier = 2
	}
	if pp.MaxAttempts <= 0 {
		pp.MaxAttempts = 60
	}
	return pp
}

// Delay returns the wait before poll attempt n (0-based).
func (p PollPolicy) Delay(n int) time.Duration {
	d := float64(p.InitialDelay)
	for i := 0; i < n; i++ {
		d *= p.Multiplier
		if d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	return time.Duration(d)
}

// DefaultPathPrefix is the route prefix used by the reference implementation.
const DefaultPathPrefix = "/ivxp"

// Validate normalizes the configuration by applying implicit defaults and
// verifies required fields. Returns an error when RPCAddr is empty or the
// provider catalog is malformed.
func (c *Config) Validate() error {
	if c.Network.Name == "" {
		c.Network = BaseSepolia
	} else if c.Network.USDCAddress == "" {
		preset, ok := NetworkByName(c.Network.Name)
		if !ok {
			return fmt.Errorf("unknown network %q: usdc_address and chain_id are required", c.Network.Name)
		}
		c.Network = preset
	}

	if c.RPCAddr == "" {
		return errors.New("RPC address is required")
	}

	c.Timeouts = c.Timeouts.WithDefaults()
	if err := c.Provider.validate(); err != nil {
		return err
	}
	c.Client.validate()
	return nil
}

func (p *ProviderConfig) validate() error {
	if p.Name == "" {
		p.Name = "ivxp-provider"
	}
	if p.ListenAddr == "" {
		p.ListenAddr = ":5000"
	}
	if p.PathPrefix == "" {
		p.PathPrefix = DefaultPathPrefix
	}
	if p.QuoteTTL == 0 {
		p.QuoteTTL = time.Hour
	}
	if p.SignatureMaxAge == 0 {
		p.SignatureMaxAge = 15 * time.Minute
	}
	if p.ClockSkew == 0 {
		p.ClockSkew = time.Minute
	}
	if p.MinConfirmations == 0 {
		p.MinConfirmations = 1
	}
	if p.StreamHeartbeat == 0 {
		p.StreamHeartbeat = 15 * time.Second
	}
	if p.OrderStore.Backend == "" {
		p.OrderStore.Backend = BackendMemory
	}
	if p.OrderStore.Backend == BackendSQLite && p.OrderStore.SQLitePath == "" {
		p.OrderStore.SQLitePath = "ivxp-orders.db"
	}
	if p.OrderStore.RedisPrefix == "" {
		p.OrderStore.RedisPrefix = "ivxp"
	}
	if p.Deliverables.Backend == "" {
		p.Deliverables.Backend = BackendMemory
	}
	if p.Deliverables.Backend == BackendIPFS && p.Deliverables.IpfsURL == "" {
		p.Deliverables.IpfsURL = "http://127.0.0.1:5001"
	}
	if p.WalletAddress != "" && !common.IsHexAddress(p.WalletAddress) {
		return fmt.Errorf("invalid provider wallet address %q", p.WalletAddress)
	}

	seen := make(map[string]bool, len(p.Services))
	for _, s := range p.Services {
		if s.Type == "" {
			return errors.New("service type is required")
		}
		if seen[s.Type] {
			return fmt.Errorf("duplicate service type %q", s.Type)
		}
		seen[s.Type] = true
		if !s.BasePrice.IsPositive() {
			return fmt.Errorf("service %q: base price must be positive", s.Type)
		}
		if !s.BasePrice.Equal(s.BasePrice.Truncate(6)) {
			return fmt.Errorf("service %q: base price has more than 6 decimals", s.Type)
		}
	}
	return nil
}

func (c *ClientConfig) validate() {
	if c.Name == "" {
		c.Name = "ivxp-client"
	}
	if c.PathPrefix == "" {
		c.PathPrefix = DefaultPathPrefix
	}
	c.Poll = c.Poll.WithDefaults()
}

// ServicePrice returns the configured price for a service type.
func (p *ProviderConfig) ServicePrice(serviceType string) (decimal.Decimal, bool) {
	for _, s := range p.Services {
		if s.Type == serviceType {
			return s.BasePrice, true
		}
	}
	return decimal.Zero, false
}

// Load reads a YAML config file, applies environment overrides and validates
// the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides secrets and endpoints from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvPrivateKey); v != "" {
		c.PrivateKey = v
	}
	if v := os.Getenv(EnvRPCAddr); v != "" {
		c.RPCAddr = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.Provider.OrderStore.RedisAddr = v
	}
	if v := os.Getenv(EnvAdminToken); v != "" {
		c.Provider.AdminToken = v
	}
}

// HasPrivateKey reports whether a key is configured (it may still be invalid).
func (c *Config) HasPrivateKey() bool {
	return c.PrivateKey != ""
}

// GetPrivateKey returns the parsed signing key, or nil when none is configured
// or it cannot be parsed. The parsed key is cached.
func (c *Config) GetPrivateKey() *ecdsa.PrivateKey {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	if c.parsedKey != nil {
		return c.parsedKey
	}
	if c.PrivateKey == "" {
		return nil
	}
	key, err := parsePrivateKey(c.PrivateKey)
	if err != nil {
		return nil
	}
	c.parsedKey = key
	return key
}

// RequirePrivateKey returns the parsed key or an error explaining why it is unavailable.
func (c *Config) RequirePrivateKey() (*ecdsa.PrivateKey, error) {
	if c.PrivateKey == "" {
		return nil, errors.New("private key is required for this operation")
	}
	if key := c.GetPrivateKey(); key != nil {
		return key, nil
	}
	_, err := parsePrivateKey(c.PrivateKey)
	return nil, err
}

// parsePrivateKey accepts a 64-character hex key with or without 0x prefix.
func parsePrivateKey(keyHex string) (*ecdsa.PrivateKey, error) {
	keyHex = strings.TrimPrefix(strings.TrimSpace(keyHex), "0x")
	if len(keyHex) != 64 {
		return nil, fmt.Errorf("private key must be 32 bytes (64 hex characters), got %d", len(keyHex))
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}
