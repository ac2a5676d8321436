package client

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/shamank/ivxp-sdk-go/pkg/blockchain"
	"github.com/shamank/ivxp-sdk-go/pkg/config"
	"github.com/shamank/ivxp-sdk-go/pkg/events"
	"github.com/shamank/ivxp-sdk-go/pkg/ivxperr"
	"github.com/shamank/ivxp-sdk-go/pkg/model"
	"github.com/shamank/ivxp-sdk-go/pkg/payment"
	"github.com/shamank/ivxp-sdk-go/pkg/protocol"
	"github.com/shamank/ivxp-sdk-go/pkg/storage"
)

// session carries the state of one exchange across its steps.
type session struct {
	c           *Client
	ctx         context.Context
	providerURL string
	poll        config.PollPolicy
	autoConfirm bool
	wantStream  bool

	catalog  *protocol.ServiceCatalog
	endpoint string
	orderID  string
	txHash   string
	last     model.OrderStatus
	result   Result
	log      *zap.Logger
}

func (c *Client) newSession(ctx context.Context, providerURL string, poll *config.PollPolicy, autoConfirm *bool, wantStream bool) *session {
	s := &session{
		c:           c,
		ctx:         ctx,
		providerURL: providerURL,
		poll:        c.cfg.Poll,
		autoConfirm: c.cfg.AutoConfirm,
		wantStream:  wantStream,
		log:         zap.L().With(zap.String("provider", providerURL)),
	}
	if poll != nil {
		s.poll = poll.WithDefaults()
	}
	if autoConfirm != nil {
		s.autoConfirm = *autoConfirm
	}
	return s
}

// fail normalizes err for step. Before a payment is sent errors pass through
// unchanged apart from the step. Afterwards every error carries the tx hash
// and order id, and failures without a more specific code become
// partial_success.
func (s *session) fail(step string, err error) error {
	if ctxErr := s.ctx.Err(); ctxErr != nil {
		e := ivxperr.Wrap(ivxperr.CodeTimeout, err, "%s interrupted: %v", step, ctxErr).WithStep(step)
		e.LastStatus = string(s.last)
		if s.txHash != "" {
			e.Recoverable = true
		}
		return e.WithOrder(s.orderID).WithTx(s.txHash)
	}
	if s.txHash == "" {
		if e, ok := ivxperr.As(err); ok {
			if e.Step == "" {
				e.Step = step
			}
			return e
		}
		return ivxperr.Wrap(ivxperr.CodeInternal, err, "%s failed", step).WithStep(step)
	}
	switch ivxperr.CodeOf(err) {
	case ivxperr.CodeTransactionFailed, ivxperr.CodeMaxPollAttempts, ivxperr.CodeContentHashMismatch, ivxperr.CodeTimeout, ivxperr.CodePartialSuccess:
		e, _ := ivxperr.As(err)
		if e.Step == "" {
			e.Step = step
		}
		return e.WithOrder(s.orderID).WithTx(s.txHash)
	}
	s.log.Warn("exchange failed after payment",
		zap.String("step", step), zap.String("order_id", s.orderID), zap.String("tx_hash", s.txHash), zap.Error(err))
	return ivxperr.PartialSuccess(step, s.orderID, s.txHash, recoverable(err), err)
}

// recoverable reports whether retrying the steps after payment may succeed.
func recoverable(err error) bool {
	e, ok := ivxperr.As(err)
	if !ok {
		return true
	}
	switch ProviderCode(err) {
	case ivxperr.CodeServiceUnavailable, ivxperr.CodeTimeout, ivxperr.CodeRateLimited,
		ivxperr.CodePaymentPending, ivxperr.CodePaymentNotFound, ivxperr.CodeOrderNotReady:
		return true
	case ivxperr.CodeInternal, ivxperr.CodeProviderError:
		return e.Code == ivxperr.CodeProviderError && e.HTTPStatus >= 500
	}
	return false
}

func (s *session) sleep(d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// awaitConfirmation polls the payment transaction until it is mined.
func (s *session) awaitConfirmation() error {
	ctx, cancel := context.WithTimeout(s.ctx, s.c.timeouts.ReceiptWait)
	defer cancel()
	for attempt := 0; ; attempt++ {
		st, err := s.c.payments.GetTransactionStatus(ctx, s.txHash)
		switch {
		case err != nil:
			s.log.Debug("transaction status", zap.String("tx_hash", s.txHash), zap.Error(err))
		case st.State == payment.TxSuccess:
			return nil
		case st.State == payment.TxReverted:
			return ivxperr.New(ivxperr.CodeTransactionFailed, "payment transaction reverted").
				WithStep("confirm_payment").WithOrder(s.orderID).WithTx(s.txHash)
		}
		t := time.NewTimer(s.poll.Delay(attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			if s.ctx.Err() != nil {
				return s.fail("confirm_payment", ctx.Err())
			}
			cause := err
			if cause == nil {
				cause = ivxperr.New(ivxperr.CodeTimeout, "payment not confirmed within %s", s.c.timeouts.ReceiptWait)
			}
			return ivxperr.PartialSuccess("confirm_payment", s.orderID, s.txHash, true, cause)
		}
	}
}

// complete runs delivery, waiting, download and confirmation.
func (s *session) complete() (*Result, error) {
	s.result.OrderID = s.orderID
	s.result.TxHash = s.txHash

	if err := s.deliver(); err != nil {
		return nil, s.fail("deliver", err)
	}
	status, err := s.wait()
	if err != nil {
		return nil, s.fail("poll", err)
	}
	d, err := s.download(status)
	if err != nil {
		if status.Status == model.StatusDeliveryFailed && ivxperr.CodeOf(err) != ivxperr.CodeContentHashMismatch {
			return nil, ivxperr.PartialSuccess("download", s.orderID, s.txHash, false, err)
		}
		return nil, s.fail("download", err)
	}
	s.result.Deliverable = d
	s.result.Status = status.Status

	if s.autoConfirm {
		if err := s.confirm(d); err != nil {
			return nil, s.fail("confirm", err)
		}
	}
	s.log.Info("exchange complete", zap.String("order_id", s.orderID), zap.String("status", string(s.result.Status)))
	res := s.result
	return &res, nil
}

// deliver signs the delivery message and submits the payment proof. A
// payment the provider's node has not seen yet is retried with the poll
// backoff. An order the provider already moved past quoted was accepted by
// an earlier attempt.
func (s *session) deliver() error {
	for attempt := 0; attempt < s.poll.MaxAttempts; attempt++ {
		req, err := s.deliveryRequest()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(s.ctx, s.c.timeouts.HTTP)
		_, err = s.c.api.RequestDelivery(ctx, s.providerURL, req)
		cancel()
		if err == nil {
			return s.paid()
		}
		switch ProviderCode(err) {
		case ivxperr.CodePaymentPending, ivxperr.CodePaymentNotFound:
			s.log.Debug("payment not visible to provider yet", zap.String("order_id", s.orderID), zap.Int("attempt", attempt))
			if err := s.sleep(s.poll.Delay(attempt)); err != nil {
				return err
			}
		case ivxperr.CodeOrderAlreadyConsumed:
			st, serr := s.c.Status(s.ctx, s.providerURL, s.orderID)
			if serr != nil {
				return serr
			}
			if st.Status == model.StatusQuoted {
				return err
			}
			s.log.Info("order already accepted", zap.String("order_id", s.orderID), zap.String("status", string(st.Status)))
			return s.paid()
		default:
			return err
		}
	}
	return ivxperr.New(ivxperr.CodePaymentPending, "provider did not see the payment after %d attempts", s.poll.MaxAttempts)
}

func (s *session) paid() error {
	s.last = model.StatusPaid
	s.c.bus.Emit(events.OrderPaidEvent{OrderID: s.orderID, TxHash: s.txHash})
	return nil
}

func (s *session) deliveryRequest() (*protocol.DeliveryRequest, error) {
	ts := s.c.now().UTC().Truncate(time.Second)
	msg := protocol.DeliveryMessage(s.orderID, s.txHash, ts)
	sig, err := s.c.signer.Sign(msg)
	if err != nil {
		return nil, ivxperr.Wrap(ivxperr.CodeInternal, err, "sign delivery message")
	}
	proof := protocol.PaymentProof{
		TxHash:      s.txHash,
		FromAddress: s.c.signer.Address().Hex(),
		Network:     s.c.network.Name,
	}
	if q := s.result.Quote; q != nil {
		proof.ToAddress = q.Quote.PaymentAddress
		amount := q.Quote.PriceUSDC
		proof.AmountUSDC = &amount
		if proof.Network == "" {
			proof.Network = q.Quote.Network
		}
	}
	return &protocol.DeliveryRequest{
		Protocol:         protocol.Version,
		MessageType:      protocol.TypeDeliveryRequest,
		Timestamp:        ts,
		OrderID:          s.orderID,
		PaymentProof:     proof,
		DeliveryEndpoint: s.endpoint,
		Signature:        sig,
		SignedMessage:    msg,
	}, nil
}

// wait blocks until the order is completed, following the status stream
// when possible and polling otherwise.
func (s *session) wait() (*protocol.OrderStatusResponse, error) {
	if w, ok := s.c.api.(Watcher); ok && s.wantStream && s.catalog != nil && s.catalog.Has(protocol.CapabilitySSEStream) {
		st, err := s.watch(w)
		if err == nil {
			return st, nil
		}
		if s.ctx.Err() != nil {
			return nil, err
		}
		s.log.Warn("order stream failed, polling instead", zap.String("order_id", s.orderID), zap.Error(err))
	}
	return s.pollStatus()
}

func (s *session) observe(to model.OrderStatus) {
	if to == s.last {
		return
	}
	s.c.bus.Emit(events.StatusChangedEvent{OrderID: s.orderID, From: s.last, To: to})
	s.last = to
}

func (s *session) watch(w Watcher) (*protocol.OrderStatusResponse, error) {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	ch, err := w.WatchOrder(ctx, s.providerURL, s.orderID)
	if err != nil {
		return nil, err
	}
	for ev := range ch {
		if ev.Status != "" {
			s.observe(ev.Status)
		}
		if ev.Type.Terminal() {
			// The snapshot carries the authoritative content hash.
			return s.c.Status(s.ctx, s.providerURL, s.orderID)
		}
	}
	if err := s.ctx.Err(); err != nil {
		return nil, err
	}
	return nil, errors.New("order stream ended before completion")
}

func (s *session) pollStatus() (*protocol.OrderStatusResponse, error) {
	var lastErr error
	for attempt := 0; attempt < s.poll.MaxAttempts; attempt++ {
		st, err := s.c.Status(s.ctx, s.providerURL, s.orderID)
		switch {
		case err == nil:
			s.observe(st.Status)
			if st.Status.IsCompleted() {
				return st, nil
			}
		case s.ctx.Err() != nil:
			return nil, err
		case recoverable(err):
			lastErr = err
			s.log.Debug("status poll failed", zap.String("order_id", s.orderID), zap.Error(err))
		default:
			return nil, err
		}
		if attempt < s.poll.MaxAttempts-1 {
			if err := s.sleep(s.poll.Delay(attempt)); err != nil {
				return nil, err
			}
		}
	}
	e := ivxperr.Wrap(ivxperr.CodeMaxPollAttempts, lastErr, "order not completed after %d status checks", s.poll.MaxAttempts).WithStep("poll")
	e.LastStatus = string(s.last)
	e.Recoverable = true
	return nil, e
}

func (s *session) download(status *protocol.OrderStatusResponse) (*model.Deliverable, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.c.timeouts.HTTP)
	defer cancel()
	resp, err := s.c.api.Download(ctx, s.providerURL, s.orderID)
	if err != nil {
		return nil, err
	}
	d, err := resp.ToDeliverable()
	if err != nil {
		return nil, ivxperr.Wrap(ivxperr.CodeInvalidMessage, err, "decode deliverable")
	}
	if !storage.VerifyHash(d.Content, resp.ContentHash) ||
		(status.ContentHash != "" && status.ContentHash != resp.ContentHash) {
		return nil, ivxperr.New(ivxperr.CodeContentHashMismatch, "deliverable does not match its content hash").
			WithStep("download").WithOrder(s.orderID).WithTx(s.txHash)
	}
	s.c.bus.Emit(events.OrderDeliveredEvent{OrderID: s.orderID, ContentHash: d.ContentHash, ContentType: d.ContentType})
	return d, nil
}

func (s *session) confirm(d *model.Deliverable) error {
	at := s.c.now().UTC().Truncate(time.Second)
	msg := protocol.ConfirmMessage(s.orderID, d.ContentHash, at)
	sig, err := s.c.signer.Sign(msg)
	if err != nil {
		return ivxperr.Wrap(ivxperr.CodeInternal, err, "sign confirmation")
	}
	s.result.Confirmation = &Confirmation{Message: msg, Signature: sig, ConfirmedAt: at}
	s.result.Status = model.StatusConfirmed
	s.c.bus.Emit(events.OrderConfirmedEvent{OrderID: s.orderID, Signature: sig, ConfirmedAt: at})
	return nil
}

// VerifyConfirmation checks that c was signed by the client wallet.
func VerifyConfirmation(c *Confirmation, client common.Address) (bool, error) {
	if c == nil {
		return false, ivxperr.InvalidParams("confirmation is required")
	}
	return blockchain.VerifySignature(c.Message, c.Signature, client)
}
