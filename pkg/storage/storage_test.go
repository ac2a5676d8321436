package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/shamank/ivxp-sdk-go/pkg/ivxperr"
	"github.com/shamank/ivxp-sdk-go/pkg/model"
)

func TestContentHash(t *testing.T) {
	// sha256("hello")
	const want = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got := ContentHash([]byte("hello")); got != want {
		t.Fatalf("ContentHash = %s", got)
	}
	if !VerifyHash([]byte("hello"), want) {
		t.Fatal("VerifyHash rejected matching hash")
	}
	if VerifyHash([]byte("hello!"), want) {
		t.Fatal("VerifyHash accepted wrong content")
	}
	if VerifyHash([]byte("hello"), "") {
		t.Fatal("VerifyHash accepted empty hash")
	}
}

func TestMemoryStore_SetOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	d := &model.Deliverable{OrderID: "ivxp-1", Content: []byte("a"), ContentType: "text/plain"}
	if err := s.Set(ctx, d); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, d); !errors.Is(err, ErrDeliverableExists) {
		t.Fatalf("second Set: %v", err)
	}
	ok, err := s.Has(ctx, "ivxp-1")
	if err != nil || !ok {
		t.Fatalf("Has = %v, %v", ok, err)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	content := []byte("original")
	d := &model.Deliverable{OrderID: "ivxp-1", Content: content, Metadata: map[string]string{"k": "v"}}
	if err := s.Set(ctx, d); err != nil {
		t.Fatalf("Set: %v", err)
	}
	content[0] = 'X'

	got, err := s.Get(ctx, "ivxp-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got.Content) != "original" {
		t.Fatalf("store aliased caller buffer: %q", got.Content)
	}
	got.Content[0] = 'Y'
	got.Metadata["k"] = "changed"

	again, _ := s.Get(ctx, "ivxp-1")
	if string(again.Content) != "original" || again.Metadata["k"] != "v" {
		t.Fatalf("store aliased returned copy: %+v", again)
	}
	if again.ContentHash != ContentHash([]byte("original")) {
		t.Fatalf("hash not filled: %s", again.ContentHash)
	}
	if again.ContentType != "application/octet-stream" || again.CreatedAt.IsZero() {
		t.Fatalf("defaults not filled: %+v", again)
	}
}

func TestMemoryStore_RejectsWrongHash(t *testing.T) {
	s := NewMemoryStore()
	err := s.Set(context.Background(), &model.Deliverable{OrderID: "ivxp-1", Content: []byte("a"), ContentHash: "00"})
	if !errors.Is(err, ivxperr.ErrContentHashMismatch) {
		t.Fatalf("got %v", err)
	}
	if err := s.Set(context.Background(), &model.Deliverable{Content: []byte("a")}); !errors.Is(err, ivxperr.ErrInvalidParams) {
		t.Fatalf("missing order id: %v", err)
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Set(ctx, &model.Deliverable{OrderID: "ivxp-1", Content: []byte("a")})
	if err := s.Delete(ctx, "ivxp-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "ivxp-1"); !errors.Is(err, ivxperr.ErrOrderNotFound) {
		t.Fatalf("Get after delete: %v", err)
	}
}
