package blockchain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// ERC20ABI is the minimal ERC-20 interface needed for payments.
const ERC20ABI = `[
{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
{"anonymous":false,"inputs":[{"indexed":true,"name":"from","type":"address"},{"indexed":true,"name":"to","type":"address"},{"indexed":false,"name":"value","type":"uint256"}],"name":"Transfer","type":"event"}
]`

// TransferEventTopic is keccak256("Transfer(address,address,uint256)").
var TransferEventTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Transfer is a decoded ERC-20 Transfer log.
type Transfer struct {
	Token    common.Address
	From     common.Address
	To       common.Address
	Value    *big.Int
	LogIndex uint
}

// TokenBalance returns the raw USDC balance (6 decimals) of owner.
func (evm *EVMClient) TokenBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	ctx, cancel := withTimeout(ctx, evm.ReadTimeout)
	defer cancel()

	var out []any
	if err := evm.usdc.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", owner); err != nil {
		zap.L().Error("balanceOf failed", zap.String("owner", owner.Hex()), zap.Error(err))
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.New("balanceOf returned no value")
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

// TransferToken submits transfer(to, amount) on the USDC contract signed by
// key and returns the transaction hash without waiting for inclusion.
func (evm *EVMClient) TransferToken(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, amount *big.Int) (common.Hash, error) {
	if amount == nil || amount.Sign() <= 0 {
		return common.Hash{}, fmt.Errorf("transfer amount must be positive")
	}
	ctx, cancel := withTimeout(ctx, evm.SubmitTimeout)
	defer cancel()

	opts, err := GetTransactOpts(evm.chainID, key)
	if err != nil {
		return common.Hash{}, err
	}
	opts.Context = ctx

	tx, err := evm.usdc.Transact(opts, "transfer", to, amount)
	if err != nil {
		zap.L().Error("usdc transfer failed",
			zap.String("to", to.Hex()),
			zap.String("amount", amount.String()),
			zap.Error(err))
		return common.Hash{}, err
	}
	zap.L().Debug("usdc transfer submitted",
		zap.String("tx", tx.Hash().Hex()),
		zap.String("to", to.Hex()),
		zap.String("amount", amount.String()))
	return tx.Hash(), nil
}

// ParseTransfers decodes every Transfer log emitted by token. Logs from other
// contracts or with an unexpected shape are skipped.
func ParseTransfers(logs []*types.Log, token common.Address) []Transfer {
	var out []Transfer
	for _, l := range logs {
		if l == nil || l.Address != token || l.Removed {
			continue
		}
		if len(l.Topics) != 3 || l.Topics[0] != TransferEventTopic || len(l.Data) != 32 {
			continue
		}
		out = append(out, Transfer{
			Token:    l.Address,
			From:     common.BytesToAddress(l.Topics[1].Bytes()),
			To:       common.BytesToAddress(l.Topics[2].Bytes()),
			Value:    new(big.Int).SetBytes(l.Data),
			LogIndex: l.Index,
		})
	}
	return out
}
