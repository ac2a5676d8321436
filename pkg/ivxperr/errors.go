// Package ivxperr defines the structured error taxonomy shared by the IVXP
// client and provider. Every protocol failure is an *Error carrying a stable
// Code plus the context needed to act on it (step, transaction hash, order id,
// provider URL), so callers branch on codes instead of matching strings.
package ivxperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
)

// Code is a stable, machine-readable error identifier.
type Code string

// Input validation. Raised before any side effect.
const (
	CodeInvalidParams  Code = "invalid_params"
	CodeInvalidMessage Code = "invalid_message"
)

// Pre-payment funds checks. Raised before any transaction is submitted.
const (
	CodeInsufficientBalance Code = "insufficient_balance"
	CodeBudgetExceeded      Code = "budget_exceeded"
)

// Transaction errors.
const (
	CodeTransactionSubmission Code = "transaction_submission_failed"
	CodeTransactionFailed     Code = "transaction_failed"
)

// Payment verification errors.
const (
	CodePaymentNotFound       Code = "payment_not_found"
	CodePaymentPending        Code = "payment_pending"
	CodePaymentFailed         Code = "payment_failed"
	CodePaymentAmountMismatch Code = "payment_amount_mismatch"
	CodeSignatureInvalid      Code = "signature_invalid"
	CodeContentHashMismatch   Code = "content_hash_mismatch"
	CodeTxAlreadyUsed         Code = "tx_already_used"
)

// Order lifecycle errors.
const (
	CodeOrderNotFound        Code = "order_not_found"
	CodeOrderExpired         Code = "order_expired"
	CodeOrderAlreadyConsumed Code = "order_already_consumed"
	CodeOrderNotReady        Code = "order_not_ready"
)

// Availability errors.
const (
	CodeServiceUnavailable Code = "service_unavailable"
	CodeMaxPollAttempts    Code = "max_poll_attempts"
	CodeRateLimited        Code = "rate_limited"
)

// Composite errors.
const (
	CodePartialSuccess Code = "partial_success"
	CodeTimeout        Code = "timeout"
	CodeProviderError  Code = "provider_error"
	CodeInternal       Code = "internal"
)

// Error is the concrete error type for all protocol failures. Only Code and
// Message are always set; the other fields are filled when they apply.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`

	// Step names the protocol step that failed (e.g. "quote", "deliver", "poll").
	Step string `json:"step,omitempty"`
	// TxHash is set on every error raised after a payment was submitted.
	TxHash  string `json:"tx_hash,omitempty"`
	OrderID string `json:"order_id,omitempty"`
	// ProviderURL and HTTPStatus describe provider-originated rejections.
	ProviderURL string `json:"provider_url,omitempty"`
	HTTPStatus  int    `json:"http_status,omitempty"`
	// Recoverable marks partial successes that can be resumed with the same
	// order id and transaction.
	Recoverable bool `json:"recoverable,omitempty"`

	QuotedPrice *decimal.Decimal `json:"quoted_price,omitempty"`
	Balance     *decimal.Decimal `json:"balance,omitempty"`
	Required    *decimal.Decimal `json:"required,omitempty"`
	LastStatus  string           `json:"last_status,omitempty"`

	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Step != "" {
		b.WriteString(" at ")
		b.WriteString(e.Step)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.TxHash != "" {
		b.WriteString(" (tx ")
		b.WriteString(e.TxHash)
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same code. This lets
// errors.Is(err, ivxperr.ErrBudgetExceeded) work on any wrapped error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t == nil || e == nil {
		return false
	}
	return t.Code == e.Code
}

// WithTx sets the transaction hash and returns e.
func (e *Error) WithTx(txHash string) *Error {
	e.TxHash = txHash
	return e
}

// WithStep sets the failing protocol step and returns e.
func (e *Error) WithStep(step string) *Error {
	e.Step = step
	return e
}

// WithOrder sets the order id and returns e.
func (e *Error) WithOrder(orderID string) *Error {
	e.OrderID = orderID
	return e
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidParams        = &Error{Code: CodeInvalidParams}
	ErrInvalidMessage       = &Error{Code: CodeInvalidMessage}
	ErrInsufficientBalance  = &Error{Code: CodeInsufficientBalance}
	ErrBudgetExceeded       = &Error{Code: CodeBudgetExceeded}
	ErrTransactionSubmit    = &Error{Code: CodeTransactionSubmission}
	ErrTransactionFailed    = &Error{Code: CodeTransactionFailed}
	ErrPaymentNotFound      = &Error{Code: CodePaymentNotFound}
	ErrPaymentPending       = &Error{Code: CodePaymentPending}
	ErrPaymentFailed        = &Error{Code: CodePaymentFailed}
	ErrPaymentAmount        = &Error{Code: CodePaymentAmountMismatch}
	ErrSignatureInvalid     = &Error{Code: CodeSignatureInvalid}
	ErrContentHashMismatch  = &Error{Code: CodeContentHashMismatch}
	ErrTxAlreadyUsed        = &Error{Code: CodeTxAlreadyUsed}
	ErrOrderNotFound        = &Error{Code: CodeOrderNotFound}
	ErrOrderExpired         = &Error{Code: CodeOrderExpired}
	ErrOrderAlreadyConsumed = &Error{Code: CodeOrderAlreadyConsumed}
	ErrOrderNotReady        = &Error{Code: CodeOrderNotReady}
	ErrServiceUnavailable   = &Error{Code: CodeServiceUnavailable}
	ErrMaxPollAttempts      = &Error{Code: CodeMaxPollAttempts}
	ErrRateLimited          = &Error{Code: CodeRateLimited}
	ErrPartialSuccess       = &Error{Code: CodePartialSuccess}
	ErrTimeout              = &Error{Code: CodeTimeout}
	ErrProviderError        = &Error{Code: CodeProviderError}
	ErrInternal             = &Error{Code: CodeInternal}
)

// New builds an *Error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error with cause err.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// InvalidParams reports a locally detected parameter problem.
func InvalidParams(format string, args ...any) *Error {
	return New(CodeInvalidParams, format, args...)
}

// InsufficientBalance reports that balance cannot cover required.
func InsufficientBalance(balance, required decimal.Decimal) *Error {
	return &Error{
		Code:     CodeInsufficientBalance,
		Message:  fmt.Sprintf("balance %s USDC is below required %s USDC", balance, required),
		Balance:  &balance,
		Required: &required,
	}
}

// BudgetExceeded reports a quote above the caller's budget. No funds moved.
func BudgetExceeded(orderID string, price, budget decimal.Decimal) *Error {
	return &Error{
		Code:        CodeBudgetExceeded,
		Step:        "quote",
		Message:     fmt.Sprintf("quoted price %s USDC exceeds budget %s USDC", price, budget),
		OrderID:     orderID,
		QuotedPrice: &price,
		Required:    &budget,
	}
}

// OrderNotFound reports an unknown order id.
func OrderNotFound(orderID string) *Error {
	return &Error{Code: CodeOrderNotFound, Message: "order not found", OrderID: orderID}
}

// ProviderRejected wraps a 4xx/5xx answer from a provider.
func ProviderRejected(step, providerURL string, status int, message string) *Error {
	return &Error{
		Code:        CodeProviderError,
		Step:        step,
		ProviderURL: providerURL,
		HTTPStatus:  status,
		Message:     message,
	}
}

// PartialSuccess marks a failure that happened after the payment was sent.
// recoverable tells the caller whether retrying delivery/poll with the same
// order id and transaction can still complete the purchase.
func PartialSuccess(step, orderID, txHash string, recoverable bool, cause error) *Error {
	return &Error{
		Code:        CodePartialSuccess,
		Step:        step,
		OrderID:     orderID,
		TxHash:      txHash,
		Recoverable: recoverable,
		Message:     "payment sent but a later step failed",
		Err:         cause,
	}
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeInternal
}

// TxHashOf returns the first non-empty transaction hash found in err's chain.
func TxHashOf(err error) string {
	for err != nil {
		if e, ok := err.(*Error); ok && e.TxHash != "" {
			return e.TxHash
		}
		err = errors.Unwrap(err)
	}
	return ""
}

// HTTPStatusOf maps an error code to the HTTP status returned by providers.
func HTTPStatusOf(err error) int {
	switch CodeOf(err) {
	case CodeInvalidParams, CodeInvalidMessage, CodeContentHashMismatch:
		return http.StatusBadRequest
	case CodeSignatureInvalid:
		return http.StatusUnauthorized
	case CodePaymentNotFound, CodePaymentPending, CodePaymentFailed, CodePaymentAmountMismatch, CodeTxAlreadyUsed:
		return http.StatusPaymentRequired
	case CodeOrderNotFound:
		return http.StatusNotFound
	case CodeOrderAlreadyConsumed:
		return http.StatusConflict
	case CodeOrderExpired:
		return http.StatusGone
	case CodeOrderNotReady:
		return http.StatusAccepted
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// CodeForHTTPStatus is the client-side inverse of HTTPStatusOf, used when a
// provider answered with a status but no structured error body.
func CodeForHTTPStatus(status int) Code {
	switch status {
	case http.StatusBadRequest:
		return CodeInvalidMessage
	case http.StatusUnauthorized:
		return CodeSignatureInvalid
	case http.StatusPaymentRequired:
		return CodePaymentFailed
	case http.StatusNotFound:
		return CodeOrderNotFound
	case http.StatusConflict:
		return CodeOrderAlreadyConsumed
	case http.StatusGone:
		return CodeOrderExpired
	case http.StatusTooManyRequests:
		return CodeRateLimited
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return CodeServiceUnavailable
	default:
		return CodeProviderError
	}
}
