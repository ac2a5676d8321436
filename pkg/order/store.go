// Package order persists provider orders. Every backend offers the same
// contract: create-once records, atomic compare-and-set status transitions
// along the model state machine, and single use of payment transactions.
package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shamank/ivxp-sdk-go/pkg/ivxperr"
	"github.com/shamank/ivxp-sdk-go/pkg/model"
)

var (
	// ErrExists is returned by Create for a duplicate order id.
	ErrExists = errors.New("order already exists")
	// ErrConflict is returned by Transition when the order is no longer in
	// the expected status.
	ErrConflict = errors.New("order status changed concurrently")
	// ErrInvalidTransition is returned for a status change that is not an
	// edge of the state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Filter narrows List results. Zero value lists everything, newest first.
type Filter struct {
	Statuses []model.OrderStatus
	Limit    int
}

func (f Filter) match(o *model.Order) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if o.Status == s {
			return true
		}
	}
	return false
}

// Store is the order persistence contract.
//
// Get and List return copies; mutating them never affects stored state.
// Transition is the only way to change status: it succeeds for exactly one of
// any number of concurrent callers. A patch carrying a TxHash already
// recorded on another order fails with tx_already_used.
type Store interface {
	Create(ctx context.Context, o *model.Order) error
	Get(ctx context.Context, orderID string) (*model.Order, error)
	// Update writes patch without changing status. A patch with Status set
	// is rejected; use Transition.
	Update(ctx context.Context, orderID string, patch model.Patch) (*model.Order, error)
	Transition(ctx context.Context, orderID string, from, to model.OrderStatus, patch model.Patch) (*model.Order, error)
	List(ctx context.Context, f Filter) ([]*model.Order, error)
	Delete(ctx context.Context, orderID string) error
	Close() error
}

func checkTransition(orderID string, from, to model.OrderStatus) error {
	if !model.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s (order %s)", ErrInvalidTransition, from, to, orderID)
	}
	return nil
}

func checkNew(o *model.Order) error {
	if o == nil || o.OrderID == "" {
		return errors.New("order id is required")
	}
	if !o.Status.Valid() {
		return fmt.Errorf("invalid status %q", o.Status)
	}
	return nil
}

func txUsed(txHash, orderID string) error {
	return ivxperr.New(ivxperr.CodeTxAlreadyUsed, "transaction already used by another order").
		WithTx(txHash).WithOrder(orderID)
}

// normTx makes the tx index case-insensitive.
func normTx(h string) string { return strings.ToLower(h) }

// stamp sets UpdatedAt, keeping it monotonic for callers comparing timestamps.
func stamp(o *model.Order, now time.Time) {
	if now.After(o.UpdatedAt) {
		o.UpdatedAt = now
	}
}
