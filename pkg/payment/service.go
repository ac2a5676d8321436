package payment

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shamank/ivxp-sdk-go/pkg/blockchain"
	"github.com/shopspring/decimal"
)

// TxStatus describes an on-chain transaction.
type TxStatus = blockchain.TxStatus

// Transaction states.
const (
	TxPending  = blockchain.TxPending
	TxSuccess  = blockchain.TxSuccess
	TxReverted = blockchain.TxReverted
	TxNotFound = blockchain.TxNotFound
)

// Expectation is what a payment must match to pay for an order.
type Expectation struct {
	From   common.Address
	To     common.Address
	Amount decimal.Decimal
}

// Service moves and checks USDC on behalf of clients and providers.
//
// Verify returns (true, nil) only for a confirmed, successful transaction
// carrying a transfer of exactly Amount from From to To. Mismatches are
// reported as (false, err) with err an *ivxperr.Error whose code names the
// reason: payment_not_found, payment_pending, payment_failed or
// payment_amount_mismatch. Node failures surface as service_unavailable.
type Service interface {
	Send(ctx context.Context, to common.Address, amount decimal.Decimal) (txHash string, err error)
	Verify(ctx context.Context, txHash string, exp Expectation) (bool, error)
	GetBalance(ctx context.Context, address common.Address) (decimal.Decimal, error)
	GetTransactionStatus(ctx context.Context, txHash string) (TxStatus, error)
}
