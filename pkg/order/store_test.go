package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shamank/ivxp-sdk-go/pkg/ivxperr"
	"github.com/shamank/ivxp-sdk-go/pkg/model"
	"github.com/shopspring/decimal"
)

const testTx = "0xAAAA000000000000000000000000000000000000000000000000000000000001"

var base = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newOrder(i int) *model.Order {
	created := base.Add(time.Duration(i) * time.Minute)
	return &model.Order{
		OrderID:        model.NewOrderID(),
		Status:         model.StatusQuoted,
		ClientName:     "bot",
		ClientAddress:  "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		ServiceType:    "research",
		Description:    fmt.Sprintf("job %d", i),
		Price:          decimal.RequireFromString("49.5"),
		PaymentAddress: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		Network:        "base-sepolia",
		CreatedAt:      created,
		QuoteExpiresAt: created.Add(time.Hour),
	}
}

func ptr[T any](v T) *T { return &v }

// runStoreSuite checks the Store contract against one backend.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		o := newOrder(0)
		if err := s.Create(ctx, o); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if err := s.Create(ctx, o); !errors.Is(err, ErrExists) {
			t.Fatalf("expected ErrExists, got %v", err)
		}
		got, err := s.Get(ctx, o.OrderID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status != model.StatusQuoted || !got.Price.Equal(o.Price) || !got.CreatedAt.Equal(o.CreatedAt) {
			t.Fatalf("unexpected order: %+v", got)
		}
		if !got.QuoteExpiresAt.Equal(o.QuoteExpiresAt) {
			t.Fatalf("quote expiry lost: %v", got.QuoteExpiresAt)
		}
		got.Description = "mutated"
		again, _ := s.Get(ctx, o.OrderID)
		if again.Description != o.Description {
			t.Fatal("Get must return a copy")
		}
	})

	t.Run("not found", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Get(ctx, "ivxp-missing"); !errors.Is(err, ivxperr.ErrOrderNotFound) {
			t.Fatalf("expected order_not_found, got %v", err)
		}
		if _, err := s.Transition(ctx, "ivxp-missing", model.StatusQuoted, model.StatusPaid, model.Patch{}); !errors.Is(err, ivxperr.ErrOrderNotFound) {
			t.Fatalf("expected order_not_found, got %v", err)
		}
		if err := s.Delete(ctx, "ivxp-missing"); !errors.Is(err, ivxperr.ErrOrderNotFound) {
			t.Fatalf("expected order_not_found, got %v", err)
		}
	})

	t.Run("transition", func(t *testing.T) {
		s := newStore(t)
		o := newOrder(0)
		_ = s.Create(ctx, o)

		paid, err := s.Transition(ctx, o.OrderID, model.StatusQuoted, model.StatusPaid, model.Patch{TxHash: ptr(testTx)})
		if err != nil {
			t.Fatalf("Transition: %v", err)
		}
		if paid.Status != model.StatusPaid || paid.TxHash != testTx {
			t.Fatalf("unexpected order after transition: %+v", paid)
		}
		if paid.ClientAddress != o.ClientAddress || paid.ServiceType != o.ServiceType {
			t.Fatal("write-once fields changed")
		}
		if _, err := s.Transition(ctx, o.OrderID, model.StatusQuoted, model.StatusPaid, model.Patch{}); !errors.Is(err, ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
		if _, err := s.Transition(ctx, o.OrderID, model.StatusPaid, model.StatusQuoted, model.Patch{}); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
		if _, err := s.Update(ctx, o.OrderID, model.Patch{Status: ptr(model.StatusProcessing)}); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("Update must not change status, got %v", err)
		}

		updated, err := s.Update(ctx, o.OrderID, model.Patch{ContentHash: ptr("abc")})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		if updated.ContentHash != "abc" || updated.TxHash != testTx || updated.Status != model.StatusPaid {
			t.Fatalf("unexpected order after update: %+v", updated)
		}
	})

	t.Run("single winner", func(t *testing.T) {
		s := newStore(t)
		o := newOrder(0)
		_ = s.Create(ctx, o)

		const n = 16
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Transition(ctx, o.OrderID, model.StatusQuoted, model.StatusPaid, model.Patch{})
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				} else if !errors.Is(err, ErrConflict) {
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		if wins != 1 {
			t.Fatalf("expected exactly one winner, got %d", wins)
		}
	})

	t.Run("tx single use", func(t *testing.T) {
		s := newStore(t)
		a, b := newOrder(0), newOrder(1)
		_ = s.Create(ctx, a)
		_ = s.Create(ctx, b)

		if _, err := s.Transition(ctx, a.OrderID, model.StatusQuoted, model.StatusPaid, model.Patch{TxHash: ptr(testTx)}); err != nil {
			t.Fatalf("Transition a: %v", err)
		}
		_, err := s.Transition(ctx, b.OrderID, model.StatusQuoted, model.StatusPaid, model.Patch{TxHash: ptr(testTx)})
		if !errors.Is(err, ivxperr.ErrTxAlreadyUsed) {
			t.Fatalf("expected tx_already_used, got %v", err)
		}
		got, _ := s.Get(ctx, b.OrderID)
		if got.Status != model.StatusQuoted {
			t.Fatalf("rejected transition must not change status, got %s", got.Status)
		}
	})

	t.Run("list", func(t *testing.T) {
		s := newStore(t)
		var ids []string
		for i := 0; i < 4; i++ {
			o := newOrder(i)
			ids = append(ids, o.OrderID)
			_ = s.Create(ctx, o)
		}
		_, _ = s.Transition(ctx, ids[1], model.StatusQuoted, model.StatusPaid, model.Patch{})

		all, err := s.List(ctx, Filter{})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(all) != 4 || all[0].OrderID != ids[3] {
			t.Fatalf("expected newest first, got %d orders", len(all))
		}
		paid, _ := s.List(ctx, Filter{Statuses: []model.OrderStatus{model.StatusPaid}})
		if len(paid) != 1 || paid[0].OrderID != ids[1] {
			t.Fatalf("unexpected filtered list: %+v", paid)
		}
		limited, _ := s.List(ctx, Filter{Limit: 2})
		if len(limited) != 2 {
			t.Fatalf("expected 2 orders, got %d", len(limited))
		}

		if err := s.Delete(ctx, ids[0]); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		all, _ = s.List(ctx, Filter{})
		if len(all) != 3 {
			t.Fatalf("expected 3 orders after delete, got %d", len(all))
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		db, err := sql.Open("sqlite", ":memory:")
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		db.SetMaxOpenConns(1)
		t.Cleanup(func() { _ = db.Close() })
		s, err := NewSQLiteStore(db)
		if err != nil {
			t.Fatalf("NewSQLiteStore: %v", err)
		}
		return s
	})
}

func TestSQLiteStore_File(t *testing.T) {
	path := t.TempDir() + "/orders.db"
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	o := newOrder(0)
	if err := s.Create(context.Background(), o); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_ = s.Close()

	reopened, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if _, err := reopened.Get(context.Background(), o.OrderID); err != nil {
		t.Fatalf("order lost after reopen: %v", err)
	}
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("IVXP_REDIS_ADDR")
	if addr == "" {
		t.Skip("IVXP_REDIS_ADDR not set")
	}
	runStoreSuite(t, func(t *testing.T) Store {
		s := NewRedisStore(addr, "", 0, "ivxp-test-"+model.NewOrderID())
		if err := s.Ping(context.Background()); err != nil {
			t.Fatalf("redis ping: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
