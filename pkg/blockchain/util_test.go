package blockchain

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

func TestGetAddressFromPrivateKeyECDSA(t *testing.T) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	addr := GetAddressFromPrivateKeyECDSA(priv)
	if addr == nil {
		t.Fatal("expected non-nil address")
	}
	want := crypto.PubkeyToAddress(priv.PublicKey)
	if *addr != want {
		t.Fatalf("unexpected address: got %s want %s", addr.Hex(), want.Hex())
	}

	if GetAddressFromPrivateKeyECDSA(nil) != nil {
		t.Fatal("expected nil for nil key")
	}
}

func TestParsePrivateKeyECDSA(t *testing.T) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	hexKey := hex.EncodeToString(crypto.FromECDSA(priv))

	for _, in := range []string{hexKey, "0x" + hexKey} {
		addr, parsedKey, err := ParsePrivateKeyECDSA(in)
		if err != nil {
			t.Fatalf("ParsePrivateKeyECDSA: %v", err)
		}
		if addr != crypto.PubkeyToAddress(priv.PublicKey) {
			t.Fatalf("unexpected address: %s", addr.Hex())
		}
		if parsedKey.D.Cmp(priv.D) != 0 {
			t.Fatal("parsed key mismatch")
		}
	}

	if _, _, err := ParsePrivateKeyECDSA("zz"); err == nil {
		t.Fatal("expected error for invalid key")
	}
}

func TestUSDCToUnits(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"1", "1000000"},
		{"50", "50000000"},
		{"0.25", "250000"},
		{"0.000001", "1"},
	}
	for _, tc := range tests {
		got, err := USDCToUnits(decimal.RequireFromString(tc.input))
		if err != nil {
			t.Fatalf("USDCToUnits(%s) error: %v", tc.input, err)
		}
		if got.String() != tc.expected {
			t.Fatalf("USDCToUnits(%s) = %s, want %s", tc.input, got, tc.expected)
		}
	}

	if _, err := USDCToUnits(decimal.RequireFromString("0.0000001")); err == nil {
		t.Fatal("expected error for sub-unit precision")
	}
	if _, err := USDCToUnits(decimal.NewFromInt(-1)); err == nil {
		t.Fatal("expected error for negative amount")
	}
}

func TestUnitsToUSDC(t *testing.T) {
	if got := UnitsToUSDC(big.NewInt(1_500_000)); !got.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("UnitsToUSDC = %s, want 1.5", got)
	}
	if !UnitsToUSDC(nil).IsZero() {
		t.Fatal("nil should convert to zero")
	}
}

func TestIsTxHash(t *testing.T) {
	if !IsTxHash("0x" + "ab"+"cd"+hex.EncodeToString(make([]byte, 30))) {
		t.Fatal("expected valid hash")
	}
	if IsTxHash("0x1234") || IsTxHash("") {
		t.Fatal("expected invalid hash")
	}
}
