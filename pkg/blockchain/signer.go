package blockchain

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// Signer signs and verifies EIP-191 personal messages.
type Signer interface {
	// Sign returns a 0x-prefixed 65-byte signature with V in {27, 28}.
	Sign(message string) (string, error)
	// Verify reports whether signature over message was produced by expected.
	Verify(message, signature string, expected common.Address) (bool, error)
	Address() common.Address
}

// KeySigner is a Signer backed by an in-memory ECDSA key.
type KeySigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

// NewKeySigner wraps key. It returns an error for a nil key.
func NewKeySigner(key *ecdsa.PrivateKey) (*KeySigner, error) {
	addr := GetAddressFromPrivateKeyECDSA(key)
	if addr == nil {
		return nil, errors.New("private key is required for signing")
	}
	return &KeySigner{key: key, addr: *addr}, nil
}

// Address returns the signer's wallet address.
func (s *KeySigner) Address() common.Address { return s.addr }

// Sign implements Signer.
func (s *KeySigner) Sign(message string) (string, error) {
	sig := GetSignature([]byte(message), s.key)
	if sig == nil {
		return "", errors.New("failed to sign message")
	}
	return hexutil.Encode(sig), nil
}

// Verify implements Signer.
func (s *KeySigner) Verify(message, signature string, expected common.Address) (bool, error) {
	return VerifySignature(message, signature, expected)
}

// GetSignature produces an EIP-191 personal-sign signature over message:
// keccak256("\x19Ethereum Signed Message:\n" || len(message) || message),
// signed with privateKeyECDSA. V is shifted to 27/28 as wallets expect.
//
// Returns the 65-byte signature (R||S||V). On signing error it logs and returns nil.
func GetSignature(message []byte, privateKeyECDSA *ecdsa.PrivateKey) []byte {
	signature, err := crypto.Sign(accounts.TextHash(message), privateKeyECDSA)
	if err != nil {
		zap.L().Error("Failed to sign message", zap.Error(err))
		return nil
	}
	signature[crypto.RecoveryIDOffset] += 27
	return signature
}

// RecoverAddress returns the address that produced signature over message.
// V may be encoded as 0/1 or 27/28.
func RecoverAddress(message, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	switch v := sig[crypto.RecoveryIDOffset]; v {
	case 0, 1:
	case 27, 28:
		sig[crypto.RecoveryIDOffset] = v - 27
	default:
		return common.Address{}, fmt.Errorf("invalid signature recovery id %d", v)
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySignature reports whether signature over message recovers to expected.
// A malformed signature is an error; a well-formed signature from another
// key returns false.
func VerifySignature(message, signature string, expected common.Address) (bool, error) {
	addr, err := RecoverAddress(message, signature)
	if err != nil {
		return false, err
	}
	return addr == expected, nil
}
