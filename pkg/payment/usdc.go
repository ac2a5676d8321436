package payment

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shamank/ivxp-sdk-go/pkg/blockchain"
	"github.com/shamank/ivxp-sdk-go/pkg/ivxperr"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Chain is the part of *blockchain.EVMClient used by USDC.
type Chain interface {
	Token() common.Address
	TokenBalance(ctx context.Context, owner common.Address) (*big.Int, error)
	TransferToken(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, amount *big.Int) (common.Hash, error)
	GetTransactionStatus(ctx context.Context, txHash common.Hash) (blockchain.TxStatus, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// DefaultCacheSize is the number of final verification outcomes kept.
const DefaultCacheSize = 1024

// USDC implements Service over an ERC-20 USDC contract.
type USDC struct {
	chain            Chain
	key              *ecdsa.PrivateKey
	minConfirmations uint64
	verified         *lru.Cache[string, verifyOutcome]
}

type verifyOutcome struct {
	ok  bool
	err *ivxperr.Error
}

// Option configures USDC.
type Option func(*USDC)

// WithMinConfirmations sets the confirmations Verify requires. Default 1.
func WithMinConfirmations(n uint64) Option {
	return func(u *USDC) {
		if n > 0 {
			u.minConfirmations = n
		}
	}
}

// WithCacheSize sets the verification cache capacity.
func WithCacheSize(size int) Option {
	return func(u *USDC) {
		if size > 0 {
			if c, err := lru.New[string, verifyOutcome](size); err == nil {
				u.verified = c
			}
		}
	}
}

// NewUSDC builds a USDC payment service. key may be nil for verify-only use
// (a provider that never sends).
func NewUSDC(chain Chain, key *ecdsa.PrivateKey, opts ...Option) *USDC {
	cache, _ := lru.New[string, verifyOutcome](DefaultCacheSize)
	u := &USDC{chain: chain, key: key, minConfirmations: 1, verified: cache}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Send transfers amount USDC to to and returns the transaction hash as soon
// as the node accepted it.
func (u *USDC) Send(ctx context.Context, to common.Address, amount decimal.Decimal) (string, error) {
	if u.key == nil {
		return "", ivxperr.InvalidParams("private key is required to send payments")
	}
	if !amount.IsPositive() {
		return "", ivxperr.InvalidParams("payment amount must be positive, got %s", amount)
	}
	units, err := blockchain.USDCToUnits(amount)
	if err != nil {
		return "", ivxperr.Wrap(ivxperr.CodeInvalidParams, err, "payment amount")
	}
	hash, err := u.chain.TransferToken(ctx, u.key, to, units)
	if err != nil {
		return "", ivxperr.Wrap(ivxperr.CodeTransactionSubmission, err, "submit USDC transfer")
	}
	zap.L().Info("payment sent",
		zap.String("tx_hash", hash.Hex()),
		zap.String("to", to.Hex()),
		zap.String("amount_usdc", amount.String()))
	return hash.Hex(), nil
}

// GetBalance returns the USDC balance of address.
func (u *USDC) GetBalance(ctx context.Context, address common.Address) (decimal.Decimal, error) {
	units, err := u.chain.TokenBalance(ctx, address)
	if err != nil {
		return decimal.Zero, ivxperr.Wrap(ivxperr.CodeServiceUnavailable, err, "read USDC balance")
	}
	return blockchain.UnitsToUSDC(units), nil
}

// GetTransactionStatus reports the on-chain state of txHash.
func (u *USDC) GetTransactionStatus(ctx context.Context, txHash string) (TxStatus, error) {
	if !blockchain.IsTxHash(txHash) {
		return TxStatus{}, ivxperr.InvalidParams("invalid transaction hash %q", txHash)
	}
	st, err := u.chain.GetTransactionStatus(ctx, common.HexToHash(txHash))
	if err != nil {
		return TxStatus{}, ivxperr.Wrap(ivxperr.CodeServiceUnavailable, err, "read transaction status").WithTx(txHash)
	}
	return st, nil
}

// Verify implements Service. Final outcomes (success, revert, mismatch) are
// cached; pending and not-found results are always re-checked.
func (u *USDC) Verify(ctx context.Context, txHash string, exp Expectation) (bool, error) {
	if !blockchain.IsTxHash(txHash) {
		return false, ivxperr.InvalidParams("invalid transaction hash %q", txHash)
	}
	key := cacheKey(txHash, exp)
	if out, ok := u.verified.Get(key); ok {
		if out.ok {
			return true, nil
		}
		cp := *out.err
		return false, &cp
	}

	ok, verr, final := u.verify(ctx, txHash, exp)
	if final {
		// Callers annotate the returned error; the cache keeps its own copy.
		out := verifyOutcome{ok: ok}
		if verr != nil {
			cp := *verr
			out.err = &cp
		}
		u.verified.Add(key, out)
	}
	if verr != nil {
		zap.L().Debug("payment verification failed",
			zap.String("tx_hash", txHash),
			zap.String("code", string(verr.Code)),
			zap.String("reason", verr.Message))
		return false, verr
	}
	return ok, nil
}

func (u *USDC) verify(ctx context.Context, txHash string, exp Expectation) (ok bool, verr *ivxperr.Error, final bool) {
	hash := common.HexToHash(txHash)
	st, err := u.chain.GetTransactionStatus(ctx, hash)
	if err != nil {
		return false, ivxperr.Wrap(ivxperr.CodeServiceUnavailable, err, "read transaction status").WithTx(txHash), false
	}
	switch st.State {
	case TxNotFound:
		return false, ivxperr.New(ivxperr.CodePaymentNotFound, "transaction not found").WithTx(txHash), false
	case TxPending:
		return false, ivxperr.New(ivxperr.CodePaymentPending, "transaction not yet mined").WithTx(txHash), false
	case TxReverted:
		return false, ivxperr.New(ivxperr.CodePaymentFailed, "transaction reverted").WithTx(txHash), true
	}
	if st.Confirmations < u.minConfirmations {
		return false, ivxperr.New(ivxperr.CodePaymentPending,
			"transaction has %d of %d confirmations", st.Confirmations, u.minConfirmations).WithTx(txHash), false
	}

	receipt, err := u.chain.TransactionReceipt(ctx, hash)
	if err != nil {
		return false, ivxperr.Wrap(ivxperr.CodeServiceUnavailable, err, "read receipt").WithTx(txHash), false
	}
	want, err := blockchain.USDCToUnits(exp.Amount)
	if err != nil {
		return false, ivxperr.Wrap(ivxperr.CodeInvalidParams, err, "expected amount"), false
	}

	var seen *big.Int
	for _, tr := range blockchain.ParseTransfers(receipt.Logs, u.chain.Token()) {
		if tr.From != exp.From || tr.To != exp.To {
			continue
		}
		if tr.Value.Cmp(want) == 0 {
			return true, nil, true
		}
		seen = tr.Value
	}
	if seen != nil {
		return false, ivxperr.New(ivxperr.CodePaymentAmountMismatch,
			"transferred %s USDC, expected %s USDC", blockchain.UnitsToUSDC(seen), exp.Amount).WithTx(txHash), true
	}
	return false, ivxperr.New(ivxperr.CodePaymentFailed,
		"no USDC transfer from %s to %s in transaction", exp.From.Hex(), exp.To.Hex()).WithTx(txHash), true
}

func cacheKey(txHash string, exp Expectation) string {
	return fmt.Sprintf("%s|%s|%s|%s", common.HexToHash(txHash).Hex(), exp.From.Hex(), exp.To.Hex(), exp.Amount.String())
}
