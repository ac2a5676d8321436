package order

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shamank/ivxp-sdk-go/pkg/ivxperr"
	"github.com/shamank/ivxp-sdk-go/pkg/model"
)

// MemoryStore keeps orders in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]*model.Order
	txs    map[string]string // tx hash -> order id
	now    func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]*model.Order),
		txs:    make(map[string]string),
		now:    time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, o *model.Order) error {
	if err := checkNew(o); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.OrderID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, o.OrderID)
	}
	if o.TxHash != "" {
		if owner, ok := s.txs[normTx(o.TxHash)]; ok {
			return txUsed(o.TxHash, owner)
		}
		s.txs[normTx(o.TxHash)] = o.OrderID
	}
	c := o.Clone()
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	s.orders[o.OrderID] = c
	return nil
}

func (s *MemoryStore) Get(_ context.Context, orderID string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, ivxperr.OrderNotFound(orderID)
	}
	return o.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, orderID string, patch model.Patch) (*model.Order, error) {
	if patch.Status != nil {
		return nil, fmt.Errorf("%w: use Transition to change status", ErrInvalidTransition)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, ivxperr.OrderNotFound(orderID)
	}
	return s.applyLocked(o, patch)
}

func (s *MemoryStore) Transition(_ context.Context, orderID string, from, to model.OrderStatus, patch model.Patch) (*model.Order, error) {
	if err := checkTransition(orderID, from, to); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, ivxperr.OrderNotFound(orderID)
	}
	if o.Status != from {
		return nil, fmt.Errorf("%w: order %s is %s, expected %s", ErrConflict, orderID, o.Status, from)
	}
	patch.Status = &to
	return s.applyLocked(o, patch)
}

func (s *MemoryStore) applyLocked(o *model.Order, patch model.Patch) (*model.Order, error) {
	if patch.TxHash != nil && *patch.TxHash != "" {
		key := normTx(*patch.TxHash)
		if owner, ok := s.txs[key]; ok && owner != o.OrderID {
			return nil, txUsed(*patch.TxHash, owner)
		}
		s.txs[key] = o.OrderID
	}
	patch.Apply(o)
	stamp(o, s.now())
	return o.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]*model.Order, error) {
	s.mu.RLock()
	out := make([]*model.Order, 0, len(s.orders))
	for _, o := range s.orders {
		if f.match(o) {
			out = append(out, o.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[orderID]; !ok {
		return ivxperr.OrderNotFound(orderID)
	}
	// The tx index is kept: a consumed payment stays consumed.
	delete(s.orders, orderID)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
