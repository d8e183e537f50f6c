package memory

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"realm-ledger/internal/domain"
	"realm-ledger/internal/storage"
)

func stakeDoc(id string, ts time.Time, root string) *domain.StakeDocument {
	return &domain.StakeDocument{
		ID:             id,
		Timestamp:      ts,
		ConfigChecksum: "cfg",
		Data: &domain.StakeComputeResult{
			GlobalStakerMerkleRoot: common.HexToHash(root),
			TokenStats: domain.TokenStats{
				TotalStaked:      big.NewInt(100),
				TotalDistributed: big.NewInt(1000),
				NumberOfStakers:  2,
			},
			ToBlock: 42,
		},
	}
}

func TestResultStore_SaveAndGet(t *testing.T) {
	store := NewStakeResultStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.Save(ctx, stakeDoc("a", now, "0x01")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.GetByID(ctx, "a")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Data.ToBlock != 42 {
		t.Errorf("ToBlock mismatch: got %d, want 42", got.Data.ToBlock)
	}

	_, err = store.GetByID(ctx, "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestResultStore_SaveExistingIDIsNoop(t *testing.T) {
	store := NewStakeResultStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.Save(ctx, stakeDoc("a", now, "0x01")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Save(ctx, stakeDoc("a", now.Add(time.Hour), "0x02")); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	if store.Count() != 1 {
		t.Fatalf("expected 1 document, got %d", store.Count())
	}
	got, _ := store.GetByID(ctx, "a")
	if !got.Timestamp.Equal(now) {
		t.Errorf("document was overwritten: timestamp %v", got.Timestamp)
	}
}

func TestResultStore_Latest(t *testing.T) {
	store := NewStakeResultStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := store.Latest(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty store, got %v", err)
	}

	_ = store.Save(ctx, stakeDoc("old", base, "0x01"))
	_ = store.Save(ctx, stakeDoc("new", base.Add(time.Minute), "0x02"))
	_ = store.Save(ctx, stakeDoc("older", base.Add(-time.Minute), "0x03"))

	got, err := store.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if got.ID != "new" {
		t.Errorf("Latest mismatch: got %s, want new", got.ID)
	}
}

func TestResultStore_InvalidInput(t *testing.T) {
	store := NewClaimsResultStore()
	ctx := context.Background()

	if err := store.Save(ctx, nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for nil, got %v", err)
	}
	if err := store.Save(ctx, &domain.ClaimsDocument{}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for empty id, got %v", err)
	}
}
