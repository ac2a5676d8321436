package blockchain

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestInitEvm_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	_, err := InitEvm(ctx, "http://127.0.0.1:1", 84532, common.Address{})
	if err == nil {
		t.Fatal("expected error dialing")
	}
	if time.Since(start) > 6*time.Second {
		t.Fatalf("InitEvm took too long")
	}
}
