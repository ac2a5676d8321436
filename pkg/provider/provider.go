package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/shamank/ivxp-sdk-go/pkg/config"
	"github.com/shamank/ivxp-sdk-go/pkg/events"
	"github.com/shamank/ivxp-sdk-go/pkg/ivxperr"
	"github.com/shamank/ivxp-sdk-go/pkg/model"
	"github.com/shamank/ivxp-sdk-go/pkg/order"
	"github.com/shamank/ivxp-sdk-go/pkg/payment"
	"github.com/shamank/ivxp-sdk-go/pkg/protocol"
	"github.com/shamank/ivxp-sdk-go/pkg/storage"
	"github.com/shamank/ivxp-sdk-go/pkg/stream"
)

// Adapter is the provider side of the protocol. A transport (the HTTP server
// in pkg/server, or a bridge to another agent framework) needs nothing else.
type Adapter interface {
	HandleCatalog(ctx context.Context) (*protocol.ServiceCatalog, error)
	HandleRequest(ctx context.Context, req *protocol.ServiceRequest) (*protocol.ServiceQuote, error)
	HandleDeliver(ctx context.Context, req *protocol.DeliveryRequest) (*protocol.DeliveryAccepted, error)
	HandleStatus(ctx context.Context, orderID string) (*protocol.OrderStatusResponse, error)
	HandleDownload(ctx context.Context, orderID string) (*protocol.DeliveryResponse, error)
}

// Params are the required collaborators of a Provider.
type Params struct {
	Config   config.ProviderConfig
	Network  config.Network
	Timeouts config.Timeouts
	Payments payment.Service
	// Orders and Deliverables default to in-memory stores.
	Orders       order.Store
	Deliverables storage.DeliverableStore
}

// Option customises a Provider.
type Option func(*Provider)

// WithHandler registers the handler of serviceType.
func WithHandler(serviceType string, h Handler) Option {
	return func(p *Provider) { p.handlers.set(serviceType, h) }
}

// WithStream publishes status changes to hub and advertises the sse_stream
// capability.
func WithStream(hub *stream.Hub) Option {
	return func(p *Provider) { p.hub = hub }
}

// WithEvents emits order lifecycle events on bus.
func WithEvents(bus *events.Bus) Option {
	return func(p *Provider) { p.bus = bus }
}

// WithPushClient replaces the HTTP client used for push delivery.
func WithPushClient(c *http.Client) Option {
	return func(p *Provider) { p.push = c }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// Provider implements Adapter on top of an order store, a deliverable store
// and a payment service.
type Provider struct {
	cfg          config.ProviderConfig
	network      config.Network
	timeouts     config.Timeouts
	wallet       common.Address
	payments     payment.Service
	orders       order.Store
	deliverables storage.DeliverableStore
	hub          *stream.Hub
	bus          *events.Bus
	push         *http.Client
	now          func() time.Time

	handlers registry
	locks    keyedMutex

	baseCtx context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	closed  bool
	wg      sync.WaitGroup
}

var _ Adapter = (*Provider)(nil)

// New builds a Provider. Config must already be validated.
func New(p Params, opts ...Option) (*Provider, error) {
	if p.Payments == nil {
		return nil, errors.New("provider requires a payment service")
	}
	if !common.IsHexAddress(p.Config.WalletAddress) {
		return nil, errors.New("provider wallet address is missing or invalid")
	}
	if len(p.Config.Services) == 0 {
		return nil, errors.New("provider has no services configured")
	}
	if p.Orders == nil {
		p.Orders = order.NewMemoryStore()
	}
	if p.Deliverables == nil {
		p.Deliverables = storage.NewMemoryStore()
	}

	pr := &Provider{
		cfg:          p.Config,
		network:      p.Network,
		timeouts:     p.Timeouts.WithDefaults(),
		wallet:       common.HexToAddress(p.Config.WalletAddress),
		payments:     p.Payments,
		orders:       p.Orders,
		deliverables: p.Deliverables,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(pr)
	}
	if pr.push == nil {
		pr.push = NewPushClient(pr.timeouts.Push, pr.cfg.AllowPrivateEndpoints)
	}
	pr.baseCtx, pr.cancel = context.WithCancel(context.Background())
	return pr, nil
}

// Handle registers h for serviceType. The type must be in the catalog.
func (p *Provider) Handle(serviceType string, h Handler) error {
	if _, ok := p.cfg.ServicePrice(serviceType); !ok {
		return ivxperr.InvalidParams("service type %s is not in the catalog", serviceType)
	}
	p.handlers.set(serviceType, h)
	return nil
}

func (p *Provider) agent() protocol.Agent {
	return protocol.Agent{Name: p.cfg.Name, WalletAddress: p.wallet.Hex()}
}

func (p *Provider) clock() time.Time { return p.now().UTC() }

// HandleCatalog implements Adapter.
func (p *Provider) HandleCatalog(context.Context) (*protocol.ServiceCatalog, error) {
	services := make([]model.ServiceDefinition, len(p.cfg.Services))
	copy(services, p.cfg.Services)
	caps := []string{protocol.CapabilityPushDelivery}
	if p.hub != nil {
		caps = append(caps, protocol.CapabilitySSEStream)
	}
	return &protocol.ServiceCatalog{
		Protocol:      protocol.Version,
		MessageType:   protocol.TypeServiceCatalog,
		Timestamp:     p.clock(),
		Provider:      p.cfg.Name,
		WalletAddress: p.wallet.Hex(),
		Services:      services,
		Capabilities:  caps,
	}, nil
}

// HandleRequest implements Adapter. It creates an order in quoted.
func (p *Provider) HandleRequest(ctx context.Context, req *protocol.ServiceRequest) (*protocol.ServiceQuote, error) {
	if req == nil {
		return nil, ivxperr.New(ivxperr.CodeInvalidMessage, "empty service request")
	}
	if err := checkEnvelope(req.Protocol, req.MessageType, protocol.TypeServiceRequest); err != nil {
		return nil, err
	}
	details := req.ServiceRequest
	price, ok := p.cfg.ServicePrice(details.Type)
	if !ok {
		return nil, ivxperr.InvalidParams("service type not supported: %s", details.Type)
	}
	if _, ok := p.handlers.get(details.Type); !ok {
		return nil, ivxperr.New(ivxperr.CodeServiceUnavailable, "no handler for service type %s", details.Type)
	}
	if !common.IsHexAddress(req.ClientAgent.WalletAddress) {
		return nil, ivxperr.InvalidParams("client wallet address %q is invalid", req.ClientAgent.WalletAddress)
	}
	if ep := req.ClientAgent.ContactEndpoint; ep != "" {
		if err := CheckEndpoint(ep, p.cfg.AllowPrivateEndpoints); err != nil {
			return nil, err
		}
	}
	svc, _ := p.serviceDef(details.Type)

	now := p.clock()
	o := &model.Order{
		Status:           model.StatusQuoted,
		ClientName:       req.ClientAgent.Name,
		ClientAddress:    common.HexToAddress(req.ClientAgent.WalletAddress).Hex(),
		ServiceType:      details.Type,
		Description:      details.Description,
		DeliveryFormat:   details.DeliveryFormat,
		Price:            price,
		PaymentAddress:   p.wallet.Hex(),
		Network:          p.network.Name,
		CreatedAt:        now,
		UpdatedAt:        now,
		QuoteExpiresAt:   now.Add(p.cfg.QuoteTTL),
		DeliveryEndpoint: req.ClientAgent.ContactEndpoint,
	}
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		o.OrderID = model.NewOrderID()
		if err = p.orders.Create(ctx, o); !errors.Is(err, order.ErrExists) {
			break
		}
	}
	if err != nil {
		zap.L().Error("failed to create order", zap.Error(err))
		return nil, ivxperr.Wrap(ivxperr.CodeInternal, err, "failed to create order")
	}

	zap.L().Info("order quoted",
		zap.String("order_id", o.OrderID),
		zap.String("service_type", o.ServiceType),
		zap.String("price", o.Price.String()),
		zap.String("client", o.ClientAddress))
	p.bus.Emit(events.OrderQuotedEvent{
		OrderID:        o.OrderID,
		Price:          o.Price,
		PaymentAddress: o.PaymentAddress,
		ExpiresAt:      o.QuoteExpiresAt,
	})

	estimated := now.Add(time.Duration(svc.EstimatedDeliveryHours * float64(time.Hour)))
	return &protocol.ServiceQuote{
		Protocol:      protocol.Version,
		MessageType:   protocol.TypeServiceQuote,
		Timestamp:     now,
		OrderID:       o.OrderID,
		ProviderAgent: p.agent(),
		Quote: protocol.QuoteDetails{
			PriceUSDC:         o.Price,
			EstimatedDelivery: estimated,
			PaymentAddress:    o.PaymentAddress,
			Network:           o.Network,
			TokenContract:     p.network.USDCAddress,
			ExpiresAt:         o.QuoteExpiresAt,
		},
		Terms: &protocol.Terms{
			PaymentTimeout: int64(p.cfg.QuoteTTL / time.Second),
			RevisionPolicy: p.cfg.RevisionPolicy,
			RefundPolicy:   p.cfg.RefundPolicy,
		},
	}, nil
}

func (p *Provider) serviceDef(serviceType string) (model.ServiceDefinition, bool) {
	for _, s := range p.cfg.Services {
		if s.Type == serviceType {
			return s, true
		}
	}
	return model.ServiceDefinition{}, false
}

// HandleStatus implements Adapter.
func (p *Provider) HandleStatus(ctx context.Context, orderID string) (*protocol.OrderStatusResponse, error) {
	o, err := p.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return protocol.StatusFromOrder(o), nil
}

// HandleDownload implements Adapter. The deliverable is available once the
// order is delivered or delivery_failed.
func (p *Provider) HandleDownload(ctx context.Context, orderID string) (*protocol.DeliveryResponse, error) {
	o, err := p.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !o.Status.IsCompleted() {
		e := ivxperr.New(ivxperr.CodeOrderNotReady, "order is %s", o.Status).WithOrder(orderID)
		e.LastStatus = string(o.Status)
		return nil, e
	}
	d, err := p.deliverables.Get(ctx, orderID)
	if err != nil {
		if ivxperr.CodeOf(err) == ivxperr.CodeOrderNotFound {
			return nil, ivxperr.New(ivxperr.CodeInternal, "order %s failed before producing a deliverable", orderID).WithOrder(orderID)
		}
		return nil, err
	}
	return protocol.NewDeliveryResponse(d, o.ServiceType, p.agent(), o.UpdatedAt), nil
}

// ListOrders returns stored orders, newest first.
func (p *Provider) ListOrders(ctx context.Context, f order.Filter) ([]*model.Order, error) {
	return p.orders.List(ctx, f)
}

// Stream returns the status hub, or nil when streaming is disabled.
func (p *Provider) Stream() *stream.Hub { return p.hub }

// Close waits for in-flight orders to finish processing. When ctx expires
// first, running handlers are cancelled and ctx.Err is returned.
func (p *Provider) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

// startWork registers a background job unless the provider is closing.
func (p *Provider) startWork() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.wg.Add(1)
	return true
}

func checkEnvelope(proto, msgType, want string) error {
	if proto != protocol.Version {
		return ivxperr.New(ivxperr.CodeInvalidMessage, "unsupported protocol version %q", proto)
	}
	if msgType != want {
		return ivxperr.New(ivxperr.CodeInvalidMessage, "expected message type %s, got %q", want, msgType)
	}
	return nil
}

func sameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
