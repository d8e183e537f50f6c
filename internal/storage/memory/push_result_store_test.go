package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"realm-ledger/internal/domain"
	"realm-ledger/internal/storage"
)

func pushDoc(key string, ts time.Time, status domain.PushStatus) *domain.PushDocument {
	return &domain.PushDocument{
		ID:        key,
		Timestamp: ts,
		Data: &domain.PushResult{
			Key:        key,
			MerkleRoot: common.HexToHash("0xaa"),
			Success:    status == domain.PushStatusSuccess,
			Status:     status,
		},
	}
}

func TestPushResultStore_UpsertOverwrites(t *testing.T) {
	store := NewPushResultStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.Upsert(ctx, domain.KindStakesPush, pushDoc("k", now, domain.PushStatusFailed)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := store.Upsert(ctx, domain.KindStakesPush, pushDoc("k", now.Add(time.Minute), domain.PushStatusSuccess)); err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}

	got, err := store.Get(ctx, domain.KindStakesPush, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Data.Status != domain.PushStatusSuccess {
		t.Errorf("Status mismatch: got %s, want success", got.Data.Status)
	}

	docs, _ := store.List(ctx, domain.KindStakesPush, 0)
	if len(docs) != 1 {
		t.Errorf("expected 1 document after overwrite, got %d", len(docs))
	}
}

func TestPushResultStore_KindsAreSeparate(t *testing.T) {
	store := NewPushResultStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_ = store.Upsert(ctx, domain.KindClaimsPush, pushDoc("1-0xaa", now, domain.PushStatusSuccess))

	if _, err := store.Get(ctx, domain.KindStakesPush, "1-0xaa"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound in other collection, got %v", err)
	}
	if _, err := store.Get(ctx, domain.KindStakeCompute, "1-0xaa"); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for compute kind, got %v", err)
	}
}

func TestPushResultStore_ListNewestFirst(t *testing.T) {
	store := NewPushResultStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_ = store.Upsert(ctx, domain.KindClaimsPush, pushDoc("a", base, domain.PushStatusSuccess))
	_ = store.Upsert(ctx, domain.KindClaimsPush, pushDoc("b", base.Add(2*time.Minute), domain.PushStatusFailed))
	_ = store.Upsert(ctx, domain.KindClaimsPush, pushDoc("c", base.Add(time.Minute), domain.PushStatusReverted))

	docs, err := store.List(ctx, domain.KindClaimsPush, 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != "b" || docs[1].ID != "c" {
		t.Fatalf("unexpected order: %+v", docs)
	}

	latest, err := store.Latest(ctx, domain.KindClaimsPush)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest.ID != "b" {
		t.Errorf("Latest mismatch: got %s, want b", latest.ID)
	}

	if _, err := store.Latest(ctx, domain.KindStakesPush); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound for empty collection, got %v", err)
	}
}

func TestPushResultStore_ReturnsCopies(t *testing.T) {
	store := NewPushResultStore()
	ctx := context.Background()

	_ = store.Upsert(ctx, domain.KindStakesPush, pushDoc("k", time.Now(), domain.PushStatusSuccess))

	got, _ := store.Get(ctx, domain.KindStakesPush, "k")
	got.Data.Status = domain.PushStatusFailed

	again, _ := store.Get(ctx, domain.KindStakesPush, "k")
	if again.Data.Status != domain.PushStatusSuccess {
		t.Errorf("stored document was mutated through returned copy")
	}
}

func TestPushResultStore_UpsertKeepsSuccess(t *testing.T) {
	store := NewPushResultStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.Upsert(ctx, domain.KindStakesPush, pushDoc("k", now, domain.PushStatusSuccess)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := store.Upsert(ctx, domain.KindStakesPush, pushDoc("k", now.Add(time.Minute), domain.PushStatusFailed)); err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}

	got, err := store.Get(ctx, domain.KindStakesPush, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.Data.Success || got.Data.Status != domain.PushStatusSuccess {
		t.Errorf("stored success replaced: got %s", got.Data.Status)
	}
	if !got.Timestamp.Equal(now) {
		t.Errorf("Timestamp changed: got %v, want %v", got.Timestamp, now)
	}
}
