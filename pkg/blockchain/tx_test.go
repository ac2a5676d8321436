package blockchain

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestGetTransactOpts(t *testing.T) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	opts, err := GetTransactOpts(big.NewInt(8453), priv)
	if err != nil {
		t.Fatalf("GetTransactOpts failed: %v", err)
	}
	if opts.From != crypto.PubkeyToAddress(priv.PublicKey) {
		t.Fatalf("unexpected From address: got %s, want %s",
			opts.From.Hex(),
			crypto.PubkeyToAddress(priv.PublicKey).Hex())
	}
}

func TestGetTransactOpts_NilKey(t *testing.T) {
	if _, err := GetTransactOpts(big.NewInt(1), nil); err == nil {
		t.Fatal("expected error for nil key")
	}
}

func TestGetTransactOpts_NilChainID(t *testing.T) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	opts, err := GetTransactOpts(nil, priv)
	if err == nil {
		t.Fatal("expected error for nil chainID")
	}
	if opts != nil {
		t.Fatal("expected nil opts on error")
	}
}

func TestGetTransactionStatus(t *testing.T) {
	backend := newFakeBackend()
	backend.head = 110
	mined := common.HexToHash("0x01")
	reverted := common.HexToHash("0x02")
	pending := common.HexToHash("0x03")
	backend.receipts[mined] = &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(100)}
	backend.receipts[reverted] = &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(105)}
	backend.pending[pending] = true

	evm, _ := NewEVMClient(backend, big.NewInt(1), testToken)
	ctx := context.Background()

	tests := []struct {
		name  string
		hash  common.Hash
		state TxState
		conf  uint64
	}{
		{"mined", mined, TxSuccess, 11},
		{"reverted", reverted, TxReverted, 6},
		{"pending", pending, TxPending, 0},
		{"unknown", common.HexToHash("0x04"), TxNotFound, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := evm.GetTransactionStatus(ctx, tt.hash)
			if err != nil {
				t.Fatalf("GetTransactionStatus: %v", err)
			}
			if st.State != tt.state || st.Confirmations != tt.conf {
				t.Fatalf("got %+v, want state %s conf %d", st, tt.state, tt.conf)
			}
		})
	}
}

func TestConfirmations(t *testing.T) {
	if Confirmations(10, 10) != 1 || Confirmations(12, 10) != 3 || Confirmations(9, 10) != 0 {
		t.Fatal("unexpected confirmation counts")
	}
}
