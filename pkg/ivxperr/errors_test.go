package ivxperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestIsMatchesByCode(t *testing.T) {
	err := BudgetExceeded("ivxp-1", decimal.NewFromInt(50), decimal.NewFromInt(10))
	wrapped := fmt.Errorf("request service: %w", err)

	if !errors.Is(wrapped, ErrBudgetExceeded) {
		t.Fatal("expected errors.Is to match ErrBudgetExceeded")
	}
	if errors.Is(wrapped, ErrInsufficientBalance) {
		t.Fatal("unexpected match with a different code")
	}

	e, ok := As(wrapped)
	if !ok {
		t.Fatal("expected As to find *Error")
	}
	if e.QuotedPrice == nil || !e.QuotedPrice.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("unexpected quoted price: %v", e.QuotedPrice)
	}
	if e.OrderID != "ivxp-1" {
		t.Fatalf("unexpected order id: %s", e.OrderID)
	}
}

func TestPartialSuccessKeepsCauseAndTxHash(t *testing.T) {
	cause := ProviderRejected("deliver", "http://provider", http.StatusServiceUnavailable, "down")
	err := PartialSuccess("deliver", "ivxp-2", "0xabc", true, cause)

	if !errors.Is(err, ErrPartialSuccess) {
		t.Fatal("expected partial success code")
	}
	if !errors.Is(err, ErrProviderError) {
		t.Fatal("expected provider error in chain")
	}
	if got := TxHashOf(fmt.Errorf("outer: %w", err)); got != "0xabc" {
		t.Fatalf("TxHashOf = %q; want 0xabc", got)
	}
	if !strings.Contains(err.Error(), "0xabc") {
		t.Fatalf("message should include tx hash: %s", err.Error())
	}
}

func TestCodeOfPlainError(t *testing.T) {
	if got := CodeOf(errors.New("boom")); got != CodeInternal {
		t.Fatalf("CodeOf = %s; want internal", got)
	}
	if got := TxHashOf(errors.New("boom")); got != "" {
		t.Fatalf("TxHashOf = %q; want empty", got)
	}
}

func TestHTTPStatusRoundTrip(t *testing.T) {
	cases := []Code{
		CodeSignatureInvalid,
		CodeOrderNotFound,
		CodeOrderAlreadyConsumed,
		CodeOrderExpired,
		CodeRateLimited,
		CodeServiceUnavailable,
	}
	for _, c := range cases {
		t.Run(string(c), func(t *testing.T) {
			status := HTTPStatusOf(&Error{Code: c})
			if got := CodeForHTTPStatus(status); got != c {
				t.Fatalf("CodeForHTTPStatus(%d) = %s; want %s", status, got, c)
			}
		})
	}
}
