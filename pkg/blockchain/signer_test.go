package blockchain

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Hardhat account #0; public test key.
const hardhatKey0 = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestKeySigner_SignAndVerify(t *testing.T) {
	_, key, err := ParsePrivateKeyECDSA(hardhatKey0)
	if err != nil {
		t.Fatalf("ParsePrivateKeyECDSA: %v", err)
	}
	s, err := NewKeySigner(key)
	if err != nil {
		t.Fatalf("NewKeySigner: %v", err)
	}
	want := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	if s.Address() != want {
		t.Fatalf("address = %s", s.Address().Hex())
	}

	msg := "Order: ivxp-1 | Payment: 0xabc | Timestamp: 2026-01-01T00:00:00Z"
	sig, err := s.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	raw, _ := hexutil.Decode(sig)
	if len(raw) != 65 || (raw[64] != 27 && raw[64] != 28) {
		t.Fatalf("unexpected signature encoding: %s", sig)
	}

	ok, err := s.Verify(msg, sig, want)
	if err != nil || !ok {
		t.Fatalf("Verify = %v, %v", ok, err)
	}
	ok, err = s.Verify(msg+"x", sig, want)
	if err != nil || ok {
		t.Fatalf("tampered message verified: %v, %v", ok, err)
	}
	ok, err = s.Verify(msg, sig, common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"))
	if err != nil || ok {
		t.Fatalf("wrong signer verified: %v, %v", ok, err)
	}
}

func TestRecoverAddress_AcceptsZeroOneV(t *testing.T) {
	key, _ := crypto.GenerateKey()
	s, _ := NewKeySigner(key)
	sig, _ := s.Sign("hello")
	raw, _ := hexutil.Decode(sig)
	raw[64] -= 27

	addr, err := RecoverAddress("hello", hexutil.Encode(raw))
	if err != nil {
		t.Fatalf("RecoverAddress: %v", err)
	}
	if addr != s.Address() {
		t.Fatalf("recovered %s, want %s", addr.Hex(), s.Address().Hex())
	}
}

func TestRecoverAddress_Malformed(t *testing.T) {
	tests := map[string]string{
		"not hex":   "zz",
		"short":     "0x" + strings.Repeat("ab", 64),
		"bad v":     "0x" + strings.Repeat("ab", 64) + "05",
		"no prefix": strings.Repeat("ab", 65),
	}
	for name, sig := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := RecoverAddress("m", sig); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNewKeySigner_NilKey(t *testing.T) {
	if _, err := NewKeySigner(nil); err == nil {
		t.Fatal("expected error for nil key")
	}
}
