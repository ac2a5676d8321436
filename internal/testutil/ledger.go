// Package testutil holds fixtures shared by package tests: well-known test
// keys and an in-memory USDC ledger implementing payment.Service.
package testutil

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/shamank/ivxp-sdk-go/pkg/blockchain"
	"github.com/shamank/ivxp-sdk-go/pkg/ivxperr"
	"github.com/shamank/ivxp-sdk-go/pkg/payment"
)

type transfer struct {
	from, to common.Address
	amount   decimal.Decimal
	state    blockchain.TxState
}

// Ledger is an in-memory token ledger. Transfers settle immediately unless
// PendingChecks is set, in which case the first PendingChecks status checks
// of a new transfer report pending.
type Ledger struct {
	mu        sync.Mutex
	owner     common.Address
	balances  map[common.Address]decimal.Decimal
	txs       map[string]*transfer
	pending   map[string]int
	sendCalls int

	// PendingChecks delays settlement of new transfers.
	PendingChecks int
	// RevertNext makes the next Send produce a reverted transaction.
	RevertNext bool
	// SendErr, BalanceErr and StatusErr force failures of the matching call.
	SendErr    error
	BalanceErr error
	StatusErr  error
}

// NewLedger returns a ledger whose Send debits owner.
func NewLedger(owner common.Address) *Ledger {
	return &Ledger{
		owner:    owner,
		balances: map[common.Address]decimal.Decimal{},
		txs:      map[string]*transfer{},
		pending:  map[string]int{},
	}
}

// As returns a view of the same ledger sending from another account.
func (l *Ledger) As(owner common.Address) *LedgerView {
	return &LedgerView{Ledger: l, owner: owner}
}

// Fund credits addr.
func (l *Ledger) Fund(addr common.Address, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[addr] = l.balances[addr].Add(amount)
}

// Balance returns the balance of addr.
func (l *Ledger) Balance(addr common.Address) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[addr]
}

// SendCalls returns how many times Send was invoked.
func (l *Ledger) SendCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sendCalls
}

// Inject records a transfer that was not made through Send.
func (l *Ledger) Inject(from, to common.Address, amount decimal.Decimal) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := newTxHash()
	l.txs[h] = &transfer{from: from, to: to, amount: amount, state: blockchain.TxSuccess}
	return h
}

func (l *Ledger) Send(ctx context.Context, to common.Address, amount decimal.Decimal) (string, error) {
	return l.send(ctx, l.owner, to, amount)
}

func (l *Ledger) send(_ context.Context, from, to common.Address, amount decimal.Decimal) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sendCalls++
	if l.SendErr != nil {
		return "", ivxperr.Wrap(ivxperr.CodeTransactionSubmission, l.SendErr, "send failed")
	}
	if !amount.IsPositive() {
		return "", ivxperr.InvalidParams("amount must be positive")
	}
	if l.balances[from].LessThan(amount) {
		return "", ivxperr.New(ivxperr.CodeTransactionSubmission, "transfer amount exceeds balance")
	}
	h := newTxHash()
	t := &transfer{from: from, to: to, amount: amount, state: blockchain.TxSuccess}
	if l.RevertNext {
		l.RevertNext = false
		t.state = blockchain.TxReverted
	} else {
		l.balances[from] = l.balances[from].Sub(amount)
		l.balances[to] = l.balances[to].Add(amount)
	}
	l.txs[h] = t
	l.pending[h] = l.PendingChecks
	return h, nil
}

func (l *Ledger) GetBalance(_ context.Context, addr common.Address) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.BalanceErr != nil {
		return decimal.Zero, ivxperr.Wrap(ivxperr.CodeServiceUnavailable, l.BalanceErr, "balance lookup failed")
	}
	return l.balances[addr], nil
}

func (l *Ledger) GetTransactionStatus(_ context.Context, txHash string) (payment.TxStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.StatusErr != nil {
		return payment.TxStatus{}, l.StatusErr
	}
	return l.statusLocked(txHash), nil
}

func (l *Ledger) statusLocked(txHash string) payment.TxStatus {
	key := strings.ToLower(txHash)
	t, ok := l.txs[key]
	if !ok {
		return payment.TxStatus{State: blockchain.TxNotFound}
	}
	if n := l.pending[key]; n > 0 {
		l.pending[key] = n - 1
		return payment.TxStatus{State: blockchain.TxPending}
	}
	return payment.TxStatus{State: t.state, BlockNumber: 100, Confirmations: 3}
}

func (l *Ledger) Verify(_ context.Context, txHash string, exp payment.Expectation) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.statusLocked(txHash)
	switch st.State {
	case blockchain.TxNotFound:
		return false, ivxperr.New(ivxperr.CodePaymentNotFound, "transaction not found").WithTx(txHash)
	case blockchain.TxPending:
		return false, ivxperr.New(ivxperr.CodePaymentPending, "transaction pending").WithTx(txHash)
	case blockchain.TxReverted:
		return false, ivxperr.New(ivxperr.CodePaymentFailed, "transaction reverted").WithTx(txHash)
	}
	t := l.txs[strings.ToLower(txHash)]
	if t.from != exp.From || t.to != exp.To {
		return false, ivxperr.New(ivxperr.CodePaymentFailed, "no matching transfer").WithTx(txHash)
	}
	if !t.amount.Equal(exp.Amount) {
		return false, ivxperr.New(ivxperr.CodePaymentAmountMismatch, "amount %s, expected %s", t.amount, exp.Amount).WithTx(txHash)
	}
	return true, nil
}

// LedgerView sends from a fixed account of a shared Ledger.
type LedgerView struct {
	*Ledger
	owner common.Address
}

func (v *LedgerView) Send(ctx context.Context, to common.Address, amount decimal.Decimal) (string, error) {
	return v.Ledger.send(ctx, v.owner, to, amount)
}

func newTxHash() string {
	var b [32]byte
	_, _ = rand.Read(b[:])
	return "0x" + hex.EncodeToString(b[:])
}

var (
	_ payment.Service = (*Ledger)(nil)
	_ payment.Service = (*LedgerView)(nil)
)
