package testutil

import (
	"crypto/ecdsa"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/shamank/ivxp-sdk-go/pkg/blockchain"
)

// Well-known development keys (hardhat/anvil accounts 0 and 1). Never fund
// them on a real network.
const (
	ClientKeyHex   = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	ProviderKeyHex = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

var (
	ClientAddress   = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	ProviderAddress = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

// Key parses one of the test keys.
func Key(t testing.TB, hexKey string) *ecdsa.PrivateKey {
	t.Helper()
	_, key, err := blockchain.ParsePrivateKeyECDSA(hexKey)
	if err != nil {
		t.Fatalf("parse test key: %v", err)
	}
	return key
}

// Signer returns a KeySigner for one of the test keys.
func Signer(t testing.TB, hexKey string) *blockchain.KeySigner {
	t.Helper()
	s, err := blockchain.NewKeySigner(Key(t, hexKey))
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return s
}
