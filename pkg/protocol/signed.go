package protocol

import (
	"fmt"
	"regexp"
	"time"

	"github.com/shamank/ivxp-sdk-go/pkg/ivxperr"
)

// DeliveryMessage is the exact text a client signs to claim delivery:
//
//	Order: {order_id} | Payment: {tx_hash} | Timestamp: {RFC 3339 UTC}
func DeliveryMessage(orderID, txHash string, ts time.Time) string {
	return fmt.Sprintf("Order: %s | Payment: %s | Timestamp: %s", orderID, txHash, ts.UTC().Format(time.RFC3339))
}

// ConfirmMessage is the text a client signs to acknowledge receipt.
func ConfirmMessage(orderID, contentHash string, ts time.Time) string {
	return fmt.Sprintf("Confirm: %s | Content: %s | Timestamp: %s", orderID, contentHash, ts.UTC().Format(time.RFC3339))
}

var deliveryMessagePattern = regexp.MustCompile(`^Order: (\S+) \| Payment: (0x[0-9a-fA-F]{64}) \| Timestamp: (\S+)$`)

// SignedDelivery is the parsed content of a DeliveryMessage.
type SignedDelivery struct {
	OrderID   string
	TxHash    string
	Timestamp time.Time
}

// ParseDeliveryMessage parses msg in the DeliveryMessage format. Any deviation
// from the format is a signature_invalid error.
func ParseDeliveryMessage(msg string) (SignedDelivery, error) {
	m := deliveryMessagePattern.FindStringSubmatch(msg)
	if m == nil {
		return SignedDelivery{}, ivxperr.New(ivxperr.CodeSignatureInvalid, "signed message does not match the delivery format")
	}
	ts, err := time.Parse(time.RFC3339, m[3])
	if err != nil {
		return SignedDelivery{}, ivxperr.Wrap(ivxperr.CodeSignatureInvalid, err, "signed message timestamp")
	}
	return SignedDelivery{OrderID: m[1], TxHash: m[2], Timestamp: ts}, nil
}

// CheckFreshness rejects timestamps older than maxAge or further than skew in
// the future, relative to now.
func (s SignedDelivery) CheckFreshness(now time.Time, maxAge, skew time.Duration) error {
	if s.Timestamp.After(now.Add(skew)) {
		return ivxperr.New(ivxperr.CodeSignatureInvalid, "signed message timestamp is in the future")
	}
	if maxAge > 0 && now.Sub(s.Timestamp) > maxAge {
		return ivxperr.New(ivxperr.CodeSignatureInvalid, "signed message is older than %s", maxAge)
	}
	return nil
}
