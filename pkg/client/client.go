// Package client drives the buyer side of an IVXP exchange: catalog, quote,
// payment, signed delivery request, status polling, download and
// confirmation.
package client

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shamank/ivxp-sdk-go/pkg/blockchain"
	"github.com/shamank/ivxp-sdk-go/pkg/config"
	"github.com/shamank/ivxp-sdk-go/pkg/events"
	"github.com/shamank/ivxp-sdk-go/pkg/ivxperr"
	"github.com/shamank/ivxp-sdk-go/pkg/model"
	"github.com/shamank/ivxp-sdk-go/pkg/payment"
	"github.com/shamank/ivxp-sdk-go/pkg/protocol"
)

var serviceTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// Params are the collaborators of a Client.
type Params struct {
	Config   config.ClientConfig
	Network  config.Network
	Timeouts config.Timeouts
	API      ProviderAPI
	Payments payment.Service
	Signer   blockchain.Signer
	// Events receives lifecycle events. A private bus is used when nil.
	Events *events.Bus
}

// Client is safe for concurrent use; each RequestService call is
// independent.
type Client struct {
	cfg      config.ClientConfig
	network  config.Network
	timeouts config.Timeouts
	api      ProviderAPI
	payments payment.Service
	signer   blockchain.Signer
	bus      *events.Bus
	now      func() time.Time
}

// New builds a Client.
func New(p Params) (*Client, error) {
	if p.API == nil || p.Payments == nil || p.Signer == nil {
		return nil, errors.New("client requires a provider API, a payment service and a signer")
	}
	if p.Events == nil {
		p.Events = &events.Bus{}
	}
	cfg := p.Config
	cfg.Poll = cfg.Poll.WithDefaults()
	return &Client{
		cfg:      cfg,
		network:  p.Network,
		timeouts: p.Timeouts.WithDefaults(),
		api:      p.API,
		payments: p.Payments,
		signer:   p.Signer,
		bus:      p.Events,
		now:      time.Now,
	}, nil
}

// Events returns the bus lifecycle events are emitted on.
func (c *Client) Events() *events.Bus { return c.bus }

// Address returns the client wallet address.
func (c *Client) Address() common.Address { return c.signer.Address() }

// API returns the provider transport.
func (c *Client) API() ProviderAPI { return c.api }

// Request describes one purchase.
type Request struct {
	ProviderURL    string
	ServiceType    string
	Description    string
	Budget         decimal.Decimal
	Deadline       *time.Time
	DeliveryFormat string
	// DeliveryEndpoint overrides the configured push endpoint.
	DeliveryEndpoint string
	// Timeout bounds the whole exchange. Defaults to Timeouts.Overall.
	Timeout time.Duration
	// Poll overrides the configured poll policy.
	Poll *config.PollPolicy
	// AutoConfirm overrides the configured auto-confirm flag.
	AutoConfirm *bool
	// Stream follows the provider's status stream instead of polling when
	// the catalog advertises it.
	Stream bool
}

// ResumeRequest continues an order that was paid but not completed.
type ResumeRequest struct {
	ProviderURL      string
	OrderID          string
	TxHash           string
	DeliveryEndpoint string
	Timeout          time.Duration
	Poll             *config.PollPolicy
	AutoConfirm      *bool
	Stream           bool
}

// Confirmation is the client's signed acknowledgment of a deliverable.
type Confirmation struct {
	Message     string    `json:"message"`
	Signature   string    `json:"signature"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// Result is the outcome of a completed exchange.
type Result struct {
	OrderID      string
	TxHash       string
	Price        decimal.Decimal
	Quote        *protocol.ServiceQuote
	Status       model.OrderStatus
	Deliverable  *model.Deliverable
	Confirmation *Confirmation
}

func (r *Request) validate() error {
	if err := ValidateProviderURL(r.ProviderURL); err != nil {
		return err
	}
	if !serviceTypePattern.MatchString(r.ServiceType) {
		return ivxperr.InvalidParams("service type %q is malformed", r.ServiceType)
	}
	if !r.Budget.IsPositive() {
		return ivxperr.InvalidParams("budget must be positive")
	}
	if !r.Budget.Equal(r.Budget.Truncate(blockchain.USDCDecimals)) {
		return ivxperr.InvalidParams("budget has more than %d decimals", blockchain.USDCDecimals)
	}
	return nil
}

// Catalog fetches a provider catalog.
func (c *Client) Catalog(ctx context.Context, providerURL string) (*protocol.ServiceCatalog, error) {
	if err := ValidateProviderURL(providerURL); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.HTTP)
	defer cancel()
	cat, err := c.api.GetCatalog(ctx, providerURL)
	if err != nil {
		return nil, err
	}
	c.bus.Emit(events.CatalogReceivedEvent{ProviderURL: providerURL, Provider: cat.Provider, ServiceCount: len(cat.Services)})
	return cat, nil
}

// Status fetches an order status.
func (c *Client) Status(ctx context.Context, providerURL, orderID string) (*protocol.OrderStatusResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.HTTP)
	defer cancel()
	return c.api.GetStatus(ctx, providerURL, orderID)
}

// RequestService runs a complete purchase. Before the payment is sent every
// failure is side-effect free. Afterwards every returned error carries the
// transaction hash: partial_success for failed later steps, timeout when the
// overall deadline passed, max_poll_attempts, content_hash_mismatch or
// transaction_failed.
func (c *Client) RequestService(ctx context.Context, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeouts.Overall
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s := c.newSession(ctx, req.ProviderURL, req.Poll, req.AutoConfirm, req.Stream)
	log := zap.L().With(zap.String("provider", req.ProviderURL), zap.String("service_type", req.ServiceType))

	bal, err := c.withChainRead(ctx, func(ctx context.Context) (decimal.Decimal, error) {
		return c.payments.GetBalance(ctx, c.signer.Address())
	})
	if err != nil {
		return nil, s.fail("balance", err)
	}
	if bal.LessThan(req.Budget) {
		return nil, ivxperr.InsufficientBalance(bal, req.Budget).WithStep("balance")
	}

	cat, err := c.Catalog(ctx, req.ProviderURL)
	if err != nil {
		return nil, s.fail("catalog", err)
	}
	if _, ok := cat.Service(req.ServiceType); !ok {
		return nil, ivxperr.InvalidParams("provider %s does not offer %s", cat.Provider, req.ServiceType).WithStep("catalog")
	}
	s.catalog = cat

	endpoint := req.DeliveryEndpoint
	if endpoint == "" {
		endpoint = c.cfg.DeliveryEndpoint
	}
	s.endpoint = endpoint

	quote, err := c.quote(ctx, req, endpoint)
	if err != nil {
		return nil, s.fail("quote", err)
	}
	s.orderID = quote.OrderID
	s.result.Quote = quote
	s.result.Price = quote.Quote.PriceUSDC
	c.bus.Emit(events.OrderQuotedEvent{
		OrderID:        quote.OrderID,
		Price:          quote.Quote.PriceUSDC,
		PaymentAddress: quote.Quote.PaymentAddress,
		ExpiresAt:      quote.Quote.ExpiresAt,
	})
	if quote.Quote.PriceUSDC.GreaterThan(req.Budget) {
		return nil, ivxperr.BudgetExceeded(quote.OrderID, quote.Quote.PriceUSDC, req.Budget)
	}
	log.Info("quote accepted", zap.String("order_id", quote.OrderID), zap.String("price", quote.Quote.PriceUSDC.String()))

	sendCtx, sendCancel := context.WithTimeout(ctx, c.timeouts.ChainSubmit)
	txHash, err := c.payments.Send(sendCtx, common.HexToAddress(quote.Quote.PaymentAddress), quote.Quote.PriceUSDC)
	sendCancel()
	if err != nil {
		if e, ok := ivxperr.As(err); ok {
			return nil, e.WithStep("payment").WithOrder(quote.OrderID)
		}
		return nil, ivxperr.Wrap(ivxperr.CodeTransactionSubmission, err, "payment submission failed").WithStep("payment").WithOrder(quote.OrderID)
	}
	s.txHash = txHash
	log.Info("payment sent", zap.String("order_id", quote.OrderID), zap.String("tx_hash", txHash))
	c.bus.Emit(events.PaymentSentEvent{OrderID: quote.OrderID, TxHash: txHash, Amount: quote.Quote.PriceUSDC})

	if err := s.awaitConfirmation(); err != nil {
		return nil, err
	}
	return s.complete()
}

// ResumeDelivery retries the steps after payment for an order whose
// RequestService failed with a recoverable partial_success.
func (c *Client) ResumeDelivery(ctx context.Context, req ResumeRequest) (*Result, error) {
	if err := ValidateProviderURL(req.ProviderURL); err != nil {
		return nil, err
	}
	if req.OrderID == "" {
		return nil, ivxperr.InvalidParams("order id is required")
	}
	if !blockchain.IsTxHash(req.TxHash) {
		return nil, ivxperr.InvalidParams("invalid transaction hash %q", req.TxHash)
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeouts.Overall
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s := c.newSession(ctx, req.ProviderURL, req.Poll, req.AutoConfirm, req.Stream)
	s.orderID = req.OrderID
	s.txHash = req.TxHash
	s.endpoint = req.DeliveryEndpoint
	if req.Stream {
		if cat, err := c.Catalog(ctx, req.ProviderURL); err == nil {
			s.catalog = cat
		}
	}
	if err := s.awaitConfirmation(); err != nil {
		return nil, err
	}
	return s.complete()
}

func (c *Client) quote(ctx context.Context, req Request, endpoint string) (*protocol.ServiceQuote, error) {
	sr := &protocol.ServiceRequest{
		Protocol:    protocol.Version,
		MessageType: protocol.TypeServiceRequest,
		Timestamp:   c.now().UTC(),
		ClientAgent: protocol.Agent{
			Name:            c.cfg.Name,
			WalletAddress:   c.signer.Address().Hex(),
			ContactEndpoint: endpoint,
		},
		ServiceRequest: protocol.RequestDetails{
			Type:           req.ServiceType,
			Description:    req.Description,
			BudgetUSDC:     req.Budget,
			DeliveryFormat: req.DeliveryFormat,
			Deadline:       req.Deadline,
		},
	}
	hctx, cancel := context.WithTimeout(ctx, c.timeouts.HTTP)
	defer cancel()
	q, err := c.api.RequestQuote(hctx, req.ProviderURL, sr)
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(q.Quote.PaymentAddress) {
		return nil, ivxperr.New(ivxperr.CodeInvalidMessage, "quote payment address %q is invalid", q.Quote.PaymentAddress).WithOrder(q.OrderID)
	}
	if c.network.Name != "" && q.Quote.Network != c.network.Name {
		return nil, ivxperr.New(ivxperr.CodeInvalidMessage,
			"quote expects payment on %s, client is on %s", q.Quote.Network, c.network.Name).WithOrder(q.OrderID)
	}
	return q, nil
}

func (c *Client) withChainRead(ctx context.Context, fn func(context.Context) (decimal.Decimal, error)) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.ChainRead)
	defer cancel()
	return fn(ctx)
}
