// Package blockchain provides low-level EVM interaction for IVXP payments.
//
// # EVMClient
//
// EVMClient wraps an ethclient connection and a binding for the network's
// USDC contract (a minimal ERC-20 ABI bound with bind.NewBoundContract):
//
//	evm, err := blockchain.InitEvm(ctx, cfg.RPCAddr, cfg.Network.ChainID, cfg.Network.USDC())
//	bal, err := evm.TokenBalance(ctx, owner)          // raw units, 6 decimals
//	hash, err := evm.TransferToken(ctx, key, to, amt) // returns before inclusion
//	st, err := evm.GetTransactionStatus(ctx, hash)    // pending/success/reverted/not_found
//
// InitEvm checks the remote chain id against the configured network.
//
// # Transfer Logs
//
// ParseTransfers decodes the ERC-20 Transfer events of a receipt. Only logs
// emitted by the given token with the canonical topic layout are returned, so
// a look-alike token cannot satisfy a payment check.
//
// # Signatures
//
// Messages are signed as EIP-191 personal messages:
//
//	keccak256("\x19Ethereum Signed Message:\n" + len(msg) + msg)
//
// Signatures are 65 bytes R||S||V, hex encoded with a 0x prefix. GetSignature
// emits V as 27/28; RecoverAddress accepts 0/1 and 27/28.
//
//	signer, _ := blockchain.NewKeySigner(key)
//	sig, _ := signer.Sign(msg)
//	ok, err := blockchain.VerifySignature(msg, sig, expected)
//
// # Amounts
//
// USDCToUnits and UnitsToUSDC convert between decimal amounts and on-chain
// units. Amounts with more than six decimals are rejected rather than rounded.
package blockchain
