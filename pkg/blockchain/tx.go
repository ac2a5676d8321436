package blockchain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// GetTransactOpts creates a transactor bound to the given chainID and ECDSA key.
// The returned TransactOpts can be used to send transactions to the blockchain.
func GetTransactOpts(chainID *big.Int, pk *ecdsa.PrivateKey) (*bind.TransactOpts, error) {
	if pk == nil {
		return nil, fmt.Errorf("private key is required for transactions")
	}
	opts, err := bind.NewKeyedTransactorWithChainID(pk, chainID)
	if err != nil {
		zap.L().Error("failed to create transactor", zap.Error(err))
		return nil, err
	}
	return opts, nil
}

// TxState is the observed lifecycle state of a transaction.
type TxState string

const (
	TxPending  TxState = "pending"
	TxSuccess  TxState = "success"
	TxReverted TxState = "reverted"
	TxNotFound TxState = "not_found"
)

// TxStatus describes a transaction as seen by the node.
type TxStatus struct {
	State         TxState
	BlockNumber   uint64
	Confirmations uint64
}

// GetTransactionStatus classifies txHash. Confirmations counts the inclusion
// block itself, so a freshly mined tx has one confirmation.
func (evm *EVMClient) GetTransactionStatus(ctx context.Context, txHash common.Hash) (TxStatus, error) {
	ctx, cancel := withTimeout(ctx, evm.ReadTimeout)
	defer cancel()

	receipt, err := evm.TransactionReceipt(ctx, txHash)
	switch {
	case err == nil:
	case errors.Is(err, ethereum.NotFound):
		_, _, terr := evm.TransactionByHash(ctx, txHash)
		switch {
		case terr == nil:
			// Known to the node; either in the pool or not yet indexed.
			return TxStatus{State: TxPending}, nil
		case errors.Is(terr, ethereum.NotFound):
			return TxStatus{State: TxNotFound}, nil
		default:
			return TxStatus{}, fmt.Errorf("transaction lookup: %w", terr)
		}
	default:
		return TxStatus{}, fmt.Errorf("receipt error: %w", err)
	}

	st := TxStatus{State: TxSuccess, BlockNumber: receipt.BlockNumber.Uint64()}
	if receipt.Status == types.ReceiptStatusFailed {
		st.State = TxReverted
	}
	head, err := evm.BlockNumber(ctx)
	if err != nil {
		return TxStatus{}, fmt.Errorf("block number: %w", err)
	}
	st.Confirmations = Confirmations(head, st.BlockNumber)
	return st, nil
}

// Confirmations returns the number of blocks from included up to head, inclusive.
func Confirmations(head, included uint64) uint64 {
	if head < included {
		return 0
	}
	return head - included + 1
}
