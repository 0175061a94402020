package blocks

import (
	"context"
	"errors"
	"testing"

	"github.com/blockscope/explorer/internal/app/domain/block"
	"github.com/blockscope/explorer/internal/app/storage"
	"github.com/blockscope/explorer/internal/app/storage/memory"
)

func TestProduceAssignsSequentialHeights(t *testing.T) {
	ctx := context.Background()
	svc := New(memory.New(), nil)

	first, err := svc.Produce(ctx, "", 0)
	if err != nil {
		t.Fatalf("produce: %v", err)
	}
	second, err := svc.Produce(ctx, "", 2)
	if err != nil {
		t.Fatalf("produce: %v", err)
	}
	if first.Height != 1 || second.Height != 2 {
		t.Fatalf("heights = %d, %d; want 1, 2", first.Height, second.Height)
	}
	if first.Hash == "" || first.Hash == second.Hash {
		t.Fatalf("expected distinct hashes, got %q and %q", first.Hash, second.Hash)
	}

	latest, err := svc.Latest(ctx)
	if err != nil || latest.ID != second.ID {
		t.Fatalf("latest = %+v (%v), want %s", latest, err, second.ID)
	}
}

func TestProduceBumpsProposerCounter(t *testing.T) {
	ctx := context.Background()
	svc := New(memory.New(), nil)

	v, err := svc.RegisterValidator(ctx, "val-one", "0xabc")
	if err != nil {
		t.Fatalf("register validator: %v", err)
	}
	if _, err := svc.Produce(ctx, v.ID, 1); err != nil {
		t.Fatalf("produce: %v", err)
	}
	if _, err := svc.Produce(ctx, v.ID, 1); err != nil {
		t.Fatalf("produce: %v", err)
	}

	got, err := svc.GetValidator(ctx, v.ID)
	if err != nil {
		t.Fatalf("get validator: %v", err)
	}
	if got.BlocksProduced != 2 {
		t.Fatalf("blocks produced = %d, want 2", got.BlocksProduced)
	}
}

func TestProduceUnknownProposer(t *testing.T) {
	svc := New(memory.New(), nil)

	_, err := svc.Produce(context.Background(), "missing", 0)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetValidatorStatus(t *testing.T) {
	ctx := context.Background()
	svc := New(memory.New(), nil)

	v, err := svc.RegisterValidator(ctx, "val-one", "0xabc")
	if err != nil {
		t.Fatalf("register validator: %v", err)
	}
	jailed, err := svc.SetValidatorStatus(ctx, v.ID, block.ValidatorJailed)
	if err != nil || jailed.Status != block.ValidatorJailed {
		t.Fatalf("status = %s (%v), want %s", jailed.Status, err, block.ValidatorJailed)
	}
	if _, err := svc.SetValidatorStatus(ctx, v.ID, "banished"); err == nil {
		t.Fatal("expected unknown status to fail")
	}
}
