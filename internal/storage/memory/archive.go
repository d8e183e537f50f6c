package memory

import (
	"context"
	"sync"

	"realm-ledger/internal/domain"
	"realm-ledger/internal/storage"
)

// Archive is an in-memory implementation of storage.Archive.
type Archive struct {
	mu     sync.RWMutex
	stakes []storage.StakeRootRecord
	claims []storage.ClaimRootRecord
	pushes []storage.PushOutcomeRecord
}

// NewArchive creates a new in-memory archive.
func NewArchive() *Archive {
	return &Archive{}
}

// RecordStake appends a stake computation.
func (a *Archive) RecordStake(_ context.Context, doc *domain.StakeDocument) error {
	if doc == nil {
		return storage.ErrInvalidInput
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stakes = append(a.stakes, storage.NewStakeRootRecord(doc))
	return nil
}

// RecordClaims appends one row per realm.
func (a *Archive) RecordClaims(_ context.Context, doc *domain.ClaimsDocument) error {
	if doc == nil {
		return storage.ErrInvalidInput
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.claims = append(a.claims, storage.NewClaimRootRecords(doc)...)
	return nil
}

// RecordPush appends a push outcome.
func (a *Archive) RecordPush(_ context.Context, kind domain.Kind, doc *domain.PushDocument) error {
	if doc == nil || !storage.ValidPushKind(kind) {
		return storage.ErrInvalidInput
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pushes = append(a.pushes, storage.NewPushOutcomeRecord(kind, doc))
	return nil
}

// StakeRoots returns archived stake computations, newest first.
func (a *Archive) StakeRoots(_ context.Context, limit int) ([]storage.StakeRootRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return newestFirst(a.stakes, limit, func(storage.StakeRootRecord) bool { return true }), nil
}

// ClaimRoots returns archived claims rows of a realm, newest first.
func (a *Archive) ClaimRoots(_ context.Context, realmID uint16, limit int) ([]storage.ClaimRootRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return newestFirst(a.claims, limit, func(r storage.ClaimRootRecord) bool { return r.RealmID == realmID }), nil
}

// PushOutcomes returns archived push outcomes, newest first.
func (a *Archive) PushOutcomes(_ context.Context, limit int) ([]storage.PushOutcomeRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return newestFirst(a.pushes, limit, func(storage.PushOutcomeRecord) bool { return true }), nil
}

func newestFirst[T any](records []T, limit int, keep func(T) bool) []T {
	out := make([]T, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		if !keep(records[i]) {
			continue
		}
		out = append(out, records[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

var _ storage.Archive = (*Archive)(nil)
