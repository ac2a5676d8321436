package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/shamank/ivxp-sdk-go/pkg/blockchain"
	"github.com/shamank/ivxp-sdk-go/pkg/events"
	"github.com/shamank/ivxp-sdk-go/pkg/ivxperr"
	"github.com/shamank/ivxp-sdk-go/pkg/model"
	"github.com/shamank/ivxp-sdk-go/pkg/order"
	"github.com/shamank/ivxp-sdk-go/pkg/payment"
	"github.com/shamank/ivxp-sdk-go/pkg/protocol"
	"github.com/shamank/ivxp-sdk-go/pkg/storage"
	"github.com/shamank/ivxp-sdk-go/pkg/stream"
)

// HandleDeliver implements Adapter. It verifies the signed delivery request
// and the on-chain payment, moves the order to paid and starts the service
// handler in the background. The returned acknowledgment does not wait for
// the handler.
//
// Requests for one order are serialised by an in-process lock; the store's
// compare-and-set on quoted -> paid decides between processes sharing a
// store. Either way exactly one request pays an order.
func (p *Provider) HandleDeliver(ctx context.Context, req *protocol.DeliveryRequest) (*protocol.DeliveryAccepted, error) {
	if req == nil {
		return nil, ivxperr.New(ivxperr.CodeInvalidMessage, "empty delivery request")
	}
	if err := checkEnvelope(req.Protocol, req.MessageType, protocol.TypeDeliveryRequest); err != nil {
		return nil, err
	}
	proof := req.PaymentProof
	log := zap.L().With(zap.String("order_id", req.OrderID), zap.String("tx_hash", proof.TxHash))

	unlock := p.locks.Lock(req.OrderID)
	defer unlock()

	o, err := p.orders.Get(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if o.Status != model.StatusQuoted {
		e := ivxperr.New(ivxperr.CodeOrderAlreadyConsumed, "order is already %s", o.Status).WithOrder(o.OrderID)
		e.LastStatus = string(o.Status)
		return nil, e
	}
	if o.QuoteExpired(p.clock()) {
		return nil, ivxperr.New(ivxperr.CodeOrderExpired, "quote expired at %s", o.QuoteExpiresAt.Format(time.RFC3339)).WithOrder(o.OrderID)
	}

	endpoint, err := p.checkProof(o, req)
	if err != nil {
		log.Warn("delivery request rejected", zap.Error(err))
		return nil, err
	}

	verifyCtx, cancel := context.WithTimeout(ctx, p.timeouts.ChainRead+p.timeouts.ReceiptWait)
	defer cancel()
	ok, err := p.payments.Verify(verifyCtx, proof.TxHash, payment.Expectation{
		From:   common.HexToAddress(proof.FromAddress),
		To:     p.wallet,
		Amount: o.Price,
	})
	if err != nil {
		log.Warn("payment verification failed", zap.Error(err))
		if e, isIvxp := ivxperr.As(err); isIvxp {
			return nil, e.WithOrder(o.OrderID)
		}
		return nil, ivxperr.Wrap(ivxperr.CodeServiceUnavailable, err, "payment verification failed").WithTx(proof.TxHash).WithOrder(o.OrderID)
	}
	if !ok {
		return nil, ivxperr.New(ivxperr.CodePaymentFailed, "payment could not be verified").WithTx(proof.TxHash).WithOrder(o.OrderID)
	}

	txHash := proof.TxHash
	paid, err := p.transition(ctx, o.OrderID, model.StatusQuoted, model.StatusPaid, model.Patch{
		TxHash:           &txHash,
		DeliveryEndpoint: &endpoint,
	})
	if err != nil {
		if errors.Is(err, order.ErrConflict) {
			return nil, ivxperr.New(ivxperr.CodeOrderAlreadyConsumed, "order was paid by a concurrent request").WithOrder(o.OrderID)
		}
		if _, isIvxp := ivxperr.As(err); isIvxp {
			return nil, err
		}
		return nil, ivxperr.Wrap(ivxperr.CodeInternal, err, "failed to record payment").WithTx(txHash).WithOrder(o.OrderID)
	}
	log.Info("payment verified", zap.String("from", proof.FromAddress), zap.String("amount", o.Price.String()))
	p.bus.Emit(events.OrderPaidEvent{OrderID: paid.OrderID, TxHash: txHash})

	if !p.startWork() {
		p.fail(paid.OrderID, model.StatusPaid, errors.New("provider is shutting down"))
		return nil, ivxperr.New(ivxperr.CodeServiceUnavailable, "provider is shutting down").WithTx(txHash).WithOrder(paid.OrderID)
	}
	go p.process(paid)

	return &protocol.DeliveryAccepted{
		Status:  "accepted",
		OrderID: paid.OrderID,
		Message: "Payment verified, processing started",
	}, nil
}

// checkProof validates everything in the request that does not need the
// chain. It returns the push endpoint to record on the order.
func (p *Provider) checkProof(o *model.Order, req *protocol.DeliveryRequest) (string, error) {
	proof := req.PaymentProof
	if !blockchain.IsTxHash(proof.TxHash) {
		return "", ivxperr.InvalidParams("invalid transaction hash %q", proof.TxHash)
	}
	if !common.IsHexAddress(proof.FromAddress) {
		return "", ivxperr.InvalidParams("invalid payer address %q", proof.FromAddress)
	}
	if !strings.EqualFold(proof.Network, o.Network) {
		return "", ivxperr.New(ivxperr.CodePaymentFailed,
			"payment network %q does not match order network %q", proof.Network, o.Network).WithTx(proof.TxHash)
	}
	if proof.ToAddress != "" && !sameAddress(proof.ToAddress, o.PaymentAddress) {
		return "", ivxperr.New(ivxperr.CodePaymentFailed, "payment was sent to %s, expected %s", proof.ToAddress, o.PaymentAddress).WithTx(proof.TxHash)
	}
	if proof.AmountUSDC != nil && !proof.AmountUSDC.Equal(o.Price) {
		return "", ivxperr.New(ivxperr.CodePaymentAmountMismatch, "claimed amount %s does not match price %s", proof.AmountUSDC, o.Price).WithTx(proof.TxHash)
	}

	signed, err := protocol.ParseDeliveryMessage(req.SignedMessage)
	if err != nil {
		return "", err
	}
	if signed.OrderID != o.OrderID {
		return "", ivxperr.New(ivxperr.CodeSignatureInvalid, "signed message is for order %s", signed.OrderID)
	}
	if !strings.EqualFold(signed.TxHash, proof.TxHash) {
		return "", ivxperr.New(ivxperr.CodeSignatureInvalid, "signed message references a different transaction")
	}
	if err := signed.CheckFreshness(p.clock(), p.cfg.SignatureMaxAge, p.cfg.ClockSkew); err != nil {
		return "", err
	}
	valid, err := blockchain.VerifySignature(req.SignedMessage, req.Signature, common.HexToAddress(proof.FromAddress))
	if err != nil {
		return "", ivxperr.Wrap(ivxperr.CodeSignatureInvalid, err, "malformed signature")
	}
	if !valid {
		return "", ivxperr.New(ivxperr.CodeSignatureInvalid, "signature does not match payer %s", proof.FromAddress)
	}

	endpoint := o.DeliveryEndpoint
	if req.DeliveryEndpoint != "" {
		endpoint = req.DeliveryEndpoint
	}
	if endpoint != "" {
		if err := CheckEndpoint(endpoint, p.cfg.AllowPrivateEndpoints); err != nil {
			return "", err
		}
	}
	return endpoint, nil
}

// transition moves an order and publishes the change.
func (p *Provider) transition(ctx context.Context, orderID string, from, to model.OrderStatus, patch model.Patch) (*model.Order, error) {
	o, err := p.orders.Transition(ctx, orderID, from, to, patch)
	if err != nil {
		return nil, err
	}
	zap.L().Debug("order status changed",
		zap.String("order_id", orderID), zap.String("from", string(from)), zap.String("to", string(to)))
	if p.hub != nil {
		p.hub.Push(orderID, stream.StatusEvent(orderID, to, o.ContentHash))
	}
	p.bus.Emit(events.StatusChangedEvent{OrderID: orderID, From: from, To: to})
	return o, nil
}

// process runs the service handler of a paid order and delivers the result.
// It always leaves the order in delivered or delivery_failed.
func (p *Provider) process(paid *model.Order) {
	defer p.wg.Done()
	id := paid.OrderID
	status := model.StatusPaid
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("order processing panicked", zap.String("order_id", id), zap.Any("panic", r))
			p.fail(id, status, fmt.Errorf("processing panicked: %v", r))
		}
	}()

	ctx, cancel := context.WithTimeout(p.baseCtx, p.timeouts.Handler)
	defer cancel()
	log := zap.L().With(zap.String("order_id", id), zap.String("service_type", paid.ServiceType))

	o, err := p.transition(ctx, id, model.StatusPaid, model.StatusProcessing, model.Patch{})
	if err != nil {
		log.Error("failed to start processing", zap.Error(err))
		p.fail(id, status, err)
		return
	}
	status = model.StatusProcessing

	h, ok := p.handlers.get(o.ServiceType)
	if !ok {
		p.fail(o.OrderID, status, fmt.Errorf("no handler for service type %s", o.ServiceType))
		return
	}
	res, err := run(ctx, h, o.Clone())
	if err != nil {
		log.Error("service handler failed", zap.Error(err))
		p.fail(o.OrderID, status, err)
		return
	}

	d := &model.Deliverable{
		OrderID:     o.OrderID,
		Content:     res.Content,
		ContentType: res.ContentType,
		ContentHash: storage.ContentHash(res.Content),
		Format:      res.Format,
		Metadata:    res.Metadata,
		CreatedAt:   p.clock(),
	}
	if d.Format == "" {
		d.Format = o.DeliveryFormat
	}
	if err := p.deliverables.Set(ctx, d); err != nil {
		log.Error("failed to store deliverable", zap.Error(err))
		p.fail(o.OrderID, status, err)
		return
	}
	hash := d.ContentHash
	if _, err := p.orders.Update(ctx, o.OrderID, model.Patch{ContentHash: &hash}); err != nil {
		log.Error("failed to record content hash", zap.Error(err))
		p.fail(o.OrderID, status, err)
		return
	}
	log.Info("deliverable stored", zap.String("content_hash", hash), zap.Int("bytes", len(d.Content)))

	final := model.StatusDeliveryFailed
	if o.DeliveryEndpoint != "" {
		stored, err := p.deliverables.Get(ctx, o.OrderID)
		if err == nil {
			err = p.pushDelivery(ctx, o.DeliveryEndpoint, protocol.NewDeliveryResponse(stored, o.ServiceType, p.agent(), p.clock()))
		}
		if err != nil {
			log.Warn("push delivery failed; deliverable kept for download",
				zap.String("endpoint", o.DeliveryEndpoint), zap.Error(err))
		} else {
			final = model.StatusDelivered
		}
	}

	if _, err := p.transition(context.WithoutCancel(ctx), o.OrderID, model.StatusProcessing, final, model.Patch{}); err != nil {
		log.Error("failed to finish order", zap.Error(err))
		return
	}
	p.bus.Emit(events.OrderDeliveredEvent{OrderID: o.OrderID, ContentHash: hash, ContentType: d.ContentType})
}

// fail moves an order from status to delivery_failed.
func (p *Provider) fail(orderID string, from model.OrderStatus, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := p.transition(ctx, orderID, from, model.StatusDeliveryFailed, model.Patch{}); err != nil {
		zap.L().Error("failed to mark order delivery_failed",
			zap.String("order_id", orderID), zap.NamedError("cause", cause), zap.Error(err))
		return
	}
	zap.L().Warn("order delivery failed", zap.String("order_id", orderID), zap.Error(cause))
}

// pushDelivery posts the delivery payload to the client's endpoint.
func (p *Provider) pushDelivery(ctx context.Context, endpoint string, payload *protocol.DeliveryResponse) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeouts.Push)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.push.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("endpoint answered %s", resp.Status)
	}
	return nil
}
