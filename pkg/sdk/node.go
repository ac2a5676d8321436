package sdk

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shamank/ivxp-sdk-go/pkg/config"
	"github.com/shamank/ivxp-sdk-go/pkg/events"
	"github.com/shamank/ivxp-sdk-go/pkg/order"
	"github.com/shamank/ivxp-sdk-go/pkg/payment"
	"github.com/shamank/ivxp-sdk-go/pkg/provider"
	"github.com/shamank/ivxp-sdk-go/pkg/server"
	"github.com/shamank/ivxp-sdk-go/pkg/storage"
	"github.com/shamank/ivxp-sdk-go/pkg/stream"
)

// drainTimeout bounds how long Run waits for in-flight orders on shutdown.
const drainTimeout = 30 * time.Second

// ProviderNode is a provider together with its HTTP server and stores.
type ProviderNode struct {
	Provider *provider.Provider
	Server   *server.Server

	addr         string
	hub          *stream.Hub
	orders       order.Store
	deliverables storage.DeliverableStore
}

// NewProvider implements IvxpSDK.
func (c *Core) NewProvider(opts ...provider.Option) (*ProviderNode, error) {
	wallet, err := c.providerWallet()
	if err != nil {
		return nil, err
	}
	pcfg := c.Provider
	pcfg.WalletAddress = wallet.Hex()
	return buildNode(c.Config, pcfg, c.payments(payment.WithMinConfirmations(pcfg.MinConfirmations)), c.bus, opts...)
}

func buildNode(cfg *config.Config, pcfg config.ProviderConfig, pay payment.Service, bus *events.Bus, opts ...provider.Option) (*ProviderNode, error) {
	orders, err := OpenOrderStore(pcfg.OrderStore)
	if err != nil {
		return nil, err
	}
	deliverables, err := OpenDeliverableStore(pcfg.Deliverables, cfg.Timeouts.HTTP)
	if err != nil {
		_ = orders.Close()
		return nil, err
	}

	node := &ProviderNode{addr: pcfg.ListenAddr, orders: orders, deliverables: deliverables}
	all := []provider.Option{provider.WithEvents(bus)}
	if pcfg.EnableStream {
		node.hub = stream.NewHub(pcfg.StreamHeartbeat)
		all = append(all, provider.WithStream(node.hub))
	}
	all = append(all, opts...)

	p, err := provider.New(provider.Params{
		Config:       pcfg,
		Network:      cfg.Network,
		Timeouts:     cfg.Timeouts,
		Payments:     pay,
		Orders:       orders,
		Deliverables: deliverables,
	}, all...)
	if err != nil {
		node.closeStores()
		return nil, err
	}
	node.Provider = p
	node.Server = server.New(p, server.Options{
		PathPrefix: pcfg.PathPrefix,
		RateLimit:  pcfg.RateLimit,
		Hub:        node.hub,
		AdminToken: pcfg.AdminToken,
		Orders:     p,
	})
	return node, nil
}

// Run serves until ctx is done, then drains in-flight orders and closes the
// stores.
func (n *ProviderNode) Run(ctx context.Context) error {
	defer n.closeStores()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return n.Server.Run(gctx, n.addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
		defer cancel()
		if err := n.Provider.Close(drainCtx); err != nil {
			zap.L().Warn("in-flight orders cancelled on shutdown", zap.Error(err))
		}
		return nil
	})
	return g.Wait()
}

func (n *ProviderNode) closeStores() {
	if err := n.orders.Close(); err != nil {
		zap.L().Warn("close order store", zap.Error(err))
	}
	if err := n.deliverables.Close(); err != nil {
		zap.L().Warn("close deliverable store", zap.Error(err))
	}
}

// OpenOrderStore opens the configured order store backend.
func OpenOrderStore(cfg config.OrderStoreConfig) (order.Store, error) {
	switch cfg.Backend {
	case "", config.BackendMemory:
		return order.NewMemoryStore(), nil
	case config.BackendSQLite:
		s, err := order.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite order store: %w", err)
		}
		return s, nil
	case config.BackendRedis:
		s := order.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
		ctx, cancel := context.WithTimeout(context.Background(), storeOpenTimeout)
		defer cancel()
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("redis order store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown order store backend %q", cfg.Backend)
	}
}

// OpenDeliverableStore opens the configured deliverable store backend.
func OpenDeliverableStore(cfg config.DeliverableConfig, timeout time.Duration) (storage.DeliverableStore, error) {
	switch cfg.Backend {
	case "", config.BackendMemory:
		return storage.NewMemoryStore(), nil
	case config.BackendIPFS:
		s, err := storage.DialIPFSStore(cfg.IpfsURL, timeout)
		if err != nil {
			return nil, fmt.Errorf("ipfs deliverable store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown deliverable backend %q", cfg.Backend)
	}
}
