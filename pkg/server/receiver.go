package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/shamank/ivxp-sdk-go/pkg/ivxperr"
	"github.com/shamank/ivxp-sdk-go/pkg/model"
	"github.com/shamank/ivxp-sdk-go/pkg/protocol"
	"github.com/shamank/ivxp-sdk-go/pkg/storage"
)

// ReceiptAck acknowledges a pushed deliverable.
type ReceiptAck struct {
	Status  string `json:"status"`
	OrderID string `json:"order_id"`
}

// Receiver accepts deliverables pushed by providers to a client's
// delivery endpoint.
//
// Pushes are not signed. A push for an order registered with Expect must name
// the expected provider wallet; with RequireExpected set, pushes for orders
// that were never registered are refused. The first push stored for an order
// wins; a later push with different content is rejected.
type Receiver struct {
	store storage.DeliverableStore
	// OnDelivery is called once per newly stored deliverable.
	OnDelivery func(*model.Deliverable)
	// RequireExpected refuses pushes for orders not registered with Expect.
	RequireExpected bool

	mu       sync.Mutex
	expected map[string]common.Address
}

// NewReceiver stores pushed deliverables in store. A nil store keeps them in
// memory.
func NewReceiver(store storage.DeliverableStore, onDelivery func(*model.Deliverable)) *Receiver {
	if store == nil {
		store = storage.NewMemoryStore()
	}
	return &Receiver{store: store, OnDelivery: onDelivery}
}

// Expect registers orderID as awaiting a push from the provider wallet.
func (r *Receiver) Expect(orderID string, provider common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.expected == nil {
		r.expected = make(map[string]common.Address)
	}
	r.expected[orderID] = provider
}

func (r *Receiver) checkSender(resp *protocol.DeliveryResponse) error {
	r.mu.Lock()
	want, ok := r.expected[resp.OrderID]
	r.mu.Unlock()
	switch {
	case ok:
		if !strings.EqualFold(resp.ProviderAgent.WalletAddress, want.Hex()) {
			return ivxperr.New(ivxperr.CodeInvalidMessage, "push from unexpected provider %q", resp.ProviderAgent.WalletAddress).WithOrder(resp.OrderID)
		}
	case r.RequireExpected:
		return ivxperr.OrderNotFound(resp.OrderID)
	}
	return nil
}

// Store returns the store deliverables are kept in.
func (r *Receiver) Store() storage.DeliverableStore { return r.store }

// Handler serves POST path.
func (r *Receiver) Handler(path string) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery(), requestLogger())
	e.POST(path, r.receive)
	return e
}

func (r *Receiver) receive(c *gin.Context) {
	raw, ok := readBody(c)
	if !ok {
		return
	}
	resp, err := protocol.ParseServiceDelivery(raw)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := r.checkSender(resp); err != nil {
		zap.L().Warn("push delivery refused", zap.String("order_id", resp.OrderID), zap.Error(err))
		respondError(c, err)
		return
	}
	d, err := resp.ToDeliverable()
	if err != nil {
		respondError(c, ivxperr.Wrap(ivxperr.CodeInvalidMessage, err, "decode deliverable"))
		return
	}
	if !storage.VerifyHash(d.Content, d.ContentHash) {
		respondError(c, ivxperr.New(ivxperr.CodeContentHashMismatch, "deliverable does not match its content hash").WithOrder(d.OrderID))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()
	err = r.store.Set(ctx, d)
	switch {
	case errors.Is(err, storage.ErrDeliverableExists):
		prev, gerr := r.store.Get(ctx, d.OrderID)
		if gerr != nil {
			respondError(c, gerr)
			return
		}
		if !strings.EqualFold(prev.ContentHash, d.ContentHash) {
			zap.L().Warn("conflicting push delivery",
				zap.String("order_id", d.OrderID),
				zap.String("stored_hash", prev.ContentHash),
				zap.String("pushed_hash", d.ContentHash))
			respondError(c, ivxperr.New(ivxperr.CodeOrderAlreadyConsumed, "a different deliverable was already received").WithOrder(d.OrderID))
			return
		}
		zap.L().Debug("duplicate push delivery", zap.String("order_id", d.OrderID))
	case err != nil:
		respondError(c, err)
		return
	default:
		zap.L().Info("push delivery received", zap.String("order_id", d.OrderID), zap.String("content_hash", d.ContentHash))
		if r.OnDelivery != nil {
			r.OnDelivery(d)
		}
	}
	c.JSON(http.StatusOK, ReceiptAck{Status: "received", OrderID: d.OrderID})
}
