// Package payment implements USDC payments for IVXP orders.
//
// # Service
//
// Service is the payment contract used by both sides of the protocol:
//
//	type Service interface {
//		Send(ctx, to, amount) (txHash string, err error)
//		Verify(ctx, txHash, Expectation{From, To, Amount}) (bool, error)
//		GetBalance(ctx, address) (decimal.Decimal, error)
//		GetTransactionStatus(ctx, txHash) (TxStatus, error)
//	}
//
// Clients call GetBalance before requesting a quote, Send to pay it, and
// GetTransactionStatus to wait for inclusion. Providers call Verify before
// accepting a delivery request.
//
// # USDC
//
// USDC implements Service over a blockchain.EVMClient:
//
//	evm, _ := blockchain.InitEvm(ctx, cfg.RPCAddr, cfg.Network.ChainID, cfg.Network.USDC())
//	svc := payment.NewUSDC(evm, cfg.GetPrivateKey(), payment.WithMinConfirmations(2))
//
// Verification reads the receipt and looks for a Transfer log emitted by the
// network's USDC contract with the expected sender, recipient and exact
// amount. Overpayment is a mismatch, as is underpayment.
//
// # Caching
//
// Final verification outcomes are kept in an LRU cache keyed by transaction
// and expectation. Pending and not-found results are never cached, so a
// retry after confirmation succeeds.
//
// # Errors
//
// Every failure is an *ivxperr.Error. Verification failures carry the
// transaction hash:
//
//	ok, err := svc.Verify(ctx, hash, exp)
//	switch {
//	case errors.Is(err, ivxperr.ErrPaymentPending):
//		// retry later
//	case errors.Is(err, ivxperr.ErrPaymentAmount):
//		// reject
//	}
package payment
