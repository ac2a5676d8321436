// Package blockchain provides the EVM plumbing used by IVXP payments: a
// connected client bound to the network's USDC contract, ERC-20 transfer and
// balance calls, Transfer log decoding, receipt polling, and EIP-191 message
// signing and recovery.
package blockchain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// Backend is the subset of *ethclient.Client used by EVMClient.
type Backend interface {
	bind.ContractBackend
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, txHash common.Hash) (*types.Transaction, bool, error)
}

// EVMClient holds a connected backend and a binding for the USDC token
// contract of the selected network.
type EVMClient struct {
	Backend

	// ReadTimeout and SubmitTimeout bound individual calls; zero means the
	// caller's context alone applies.
	ReadTimeout   time.Duration
	SubmitTimeout time.Duration

	chainID *big.Int
	token   common.Address
	usdc    *bind.BoundContract
}

// InitEvm dials endpoint and binds the USDC contract at token. When chainID is
// non-zero the remote chain id must match it, so a Base Sepolia config cannot
// silently pay on mainnet.
func InitEvm(ctx context.Context, endpoint string, chainID int64, token common.Address) (*EVMClient, error) {
	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		zap.L().Error("Failed to ethdial", zap.Error(err))
		return nil, err
	}

	remote, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		zap.L().Error("Failed to get chain ID", zap.String("endpoint", endpoint), zap.Error(err))
		return nil, err
	}
	if chainID != 0 && remote.Int64() != chainID {
		client.Close()
		return nil, fmt.Errorf("chain id mismatch: endpoint reports %s, config expects %d", remote, chainID)
	}

	return NewEVMClient(client, remote, token)
}

// NewEVMClient binds token on an existing backend.
func NewEVMClient(backend Backend, chainID *big.Int, token common.Address) (*EVMClient, error) {
	parsed, err := abi.JSON(strings.NewReader(ERC20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	return &EVMClient{
		Backend: backend,
		chainID: chainID,
		token:   token,
		usdc:    bind.NewBoundContract(token, parsed, backend, backend, backend),
	}, nil
}

// Close releases the backend connection when it holds one.
func (evm *EVMClient) Close() {
	if c, ok := evm.Backend.(interface{ Close() }); ok {
		c.Close()
	}
}

// ChainIDValue returns the chain id resolved at dial time.
func (evm *EVMClient) ChainIDValue() *big.Int {
	return new(big.Int).Set(evm.chainID)
}

// Token returns the bound USDC contract address.
func (evm *EVMClient) Token() common.Address {
	return evm.token
}

// GetCurrentBlockNumberCtx returns the latest block number using ctx.
func (evm *EVMClient) GetCurrentBlockNumberCtx(ctx context.Context) (uint64, error) {
	n, err := evm.BlockNumber(ctx)
	if err != nil {
		zap.L().Error("failed to get last block number", zap.Error(err))
		return 0, err
	}
	return n, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
