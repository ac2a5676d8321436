package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/shamank/ivxp-sdk-go/pkg/ivxperr"
	"github.com/shamank/ivxp-sdk-go/pkg/model"
)

// ErrDeliverableExists is returned by Set when the order already has a
// deliverable.
var ErrDeliverableExists = errors.New("deliverable already stored")

// DeliverableStore keeps the produced content of orders, keyed by order id.
// Implementations return copies; callers may mutate what they get.
type DeliverableStore interface {
	Set(ctx context.Context, d *model.Deliverable) error
	Get(ctx context.Context, orderID string) (*model.Deliverable, error)
	Has(ctx context.Context, orderID string) (bool, error)
	Delete(ctx context.Context, orderID string) error
	Close() error
}

// ContentHash returns the lowercase hex SHA-256 of content.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// VerifyHash reports whether content hashes to expected.
func VerifyHash(content []byte, expected string) bool {
	return len(expected) == sha256.Size*2 && ContentHash(content) == expected
}

// prepare validates d and fills its hash and creation time.
func prepare(d *model.Deliverable) (*model.Deliverable, error) {
	if d == nil || d.OrderID == "" {
		return nil, ivxperr.InvalidParams("deliverable requires an order id")
	}
	c := d.Clone()
	hash := ContentHash(c.Content)
	if c.ContentHash == "" {
		c.ContentHash = hash
	} else if c.ContentHash != hash {
		return nil, ivxperr.New(ivxperr.CodeContentHashMismatch,
			"deliverable hash %s does not match content hash %s", c.ContentHash, hash).WithOrder(c.OrderID)
	}
	if c.ContentType == "" {
		c.ContentType = "application/octet-stream"
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	return c, nil
}

// MemoryStore is an in-process DeliverableStore.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*model.Deliverable
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*model.Deliverable)}
}

func (s *MemoryStore) Set(_ context.Context, d *model.Deliverable) error {
	c, err := prepare(d)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[c.OrderID]; ok {
		return ErrDeliverableExists
	}
	s.items[c.OrderID] = c
	return nil
}

func (s *MemoryStore) Get(_ context.Context, orderID string) (*model.Deliverable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.items[orderID]
	if !ok {
		return nil, ivxperr.New(ivxperr.CodeOrderNotFound, "no deliverable for order %s", orderID).WithOrder(orderID)
	}
	return d.Clone(), nil
}

func (s *MemoryStore) Has(_ context.Context, orderID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[orderID]
	return ok, nil
}

func (s *MemoryStore) Delete(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, orderID)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
