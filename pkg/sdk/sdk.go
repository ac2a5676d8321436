// Package sdk wires a validated config.Config into a ready IVXP client or
// provider: EVM access, the USDC payment service, order and deliverable
// stores, the HTTP server and the global logger.
package sdk

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/shamank/ivxp-sdk-go/pkg/blockchain"
	"github.com/shamank/ivxp-sdk-go/pkg/client"
	"github.com/shamank/ivxp-sdk-go/pkg/config"
	"github.com/shamank/ivxp-sdk-go/pkg/events"
	"github.com/shamank/ivxp-sdk-go/pkg/payment"
	"github.com/shamank/ivxp-sdk-go/pkg/provider"
)

// IvxpSDK is the public interface for building protocol participants.
type IvxpSDK interface {
	// NewClient returns a buyer bound to the configured wallet.
	NewClient() (*client.Client, error)
	// NewProvider returns a provider node serving the configured catalog.
	// Every configured service type needs a handler in opts.
	NewProvider(opts ...provider.Option) (*ProviderNode, error)
	// Healthcheck probes a provider's /healthz route.
	Healthcheck(ctx context.Context, providerURL string) (map[string]any, error)
	// Events is the bus client and provider events are emitted on.
	Events() *events.Bus
	// Close releases the EVM connection.
	Close()
}

// init configures a default global zap logger for the SDK. Applications may
// replace it with zap.ReplaceGlobals(...) or SetupLogger.
func init() {
	SetupLogger(false)
}

// SetupLogger installs the console logger at info level, or debug level
// when debug is set.
func SetupLogger(debug bool) {
	SetupLoggerTo(debug, "stdout")
}

// SetupLoggerTo is SetupLogger writing to output, a zap sink such as
// "stderr" or a file path.
func SetupLoggerTo(debug bool, output string) {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	c := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      debug,
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{output},
		ErrorOutputPaths: []string{"stderr"},
	}
	logger, err := c.Build()
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(logger)
}

// Core is the concrete SDK implementation.
type Core struct {
	evm *blockchain.EVMClient
	*config.Config
	prvKey *ecdsa.PrivateKey
	bus    *events.Bus
}

// GetEvm returns the EVM client for advanced chain access.
func (c *Core) GetEvm() *blockchain.EVMClient {
	return c.evm
}

// NewSDK validates cfg, dials the RPC endpoint and checks its chain id. The
// private key is optional here; NewClient requires it.
func NewSDK(ctx context.Context, cfg *config.Config) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Debug {
		SetupLogger(true)
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.Timeouts.ChainRead)
	defer cancel()
	evm, err := blockchain.InitEvm(dialCtx, cfg.RPCAddr, cfg.Network.ChainID, cfg.Network.USDC())
	if err != nil {
		return nil, fmt.Errorf("init ethereum client: %w", err)
	}
	evm.ReadTimeout = cfg.Timeouts.ChainRead

	var key *ecdsa.PrivateKey
	if cfg.HasPrivateKey() {
		key, err = cfg.RequirePrivateKey()
		if err != nil {
			evm.Close()
			return nil, err
		}
		zap.L().Debug("signer address", zap.String("addr", blockchain.GetAddressFromPrivateKeyECDSA(key).Hex()))
	} else {
		zap.L().Warn("no private key configured: payments and signatures are disabled")
	}
	return newCore(evm, cfg, key), nil
}

func newCore(evm *blockchain.EVMClient, cfg *config.Config, key *ecdsa.PrivateKey) *Core {
	return &Core{evm: evm, Config: cfg, prvKey: key, bus: &events.Bus{}}
}

var _ IvxpSDK = (*Core)(nil)

// Events implements IvxpSDK.
func (c *Core) Events() *events.Bus { return c.bus }

func (c *Core) payments(opts ...payment.Option) payment.Service {
	return payment.NewUSDC(c.evm, c.prvKey, opts...)
}

// NewClient implements IvxpSDK.
func (c *Core) NewClient() (*client.Client, error) {
	if c.prvKey == nil {
		return nil, errors.New("private key is required for a client")
	}
	signer, err := blockchain.NewKeySigner(c.prvKey)
	if err != nil {
		return nil, err
	}
	return client.New(client.Params{
		Config:   c.Client,
		Network:  c.Network,
		Timeouts: c.Timeouts,
		API:      client.NewHTTPTransport(c.Timeouts.HTTP, c.Client.PathPrefix),
		Payments: c.payments(),
		Signer:   signer,
		Events:   c.bus,
	})
}

// providerWallet returns the configured payment address, falling back to
// the signer address.
func (c *Core) providerWallet() (common.Address, error) {
	if c.Provider.WalletAddress != "" {
		return common.HexToAddress(c.Provider.WalletAddress), nil
	}
	if addr := blockchain.GetAddressFromPrivateKeyECDSA(c.prvKey); addr != nil {
		return *addr, nil
	}
	return common.Address{}, errors.New("provider needs a wallet address or a private key")
}

// Close shuts down the Ethereum RPC connection.
func (c *Core) Close() {
	if c.evm != nil {
		c.evm.Close()
	}
}

// storeOpenTimeout bounds connectivity checks of remote stores.
const storeOpenTimeout = 10 * time.Second
