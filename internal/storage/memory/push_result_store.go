package memory

import (
	"context"
	"sort"
	"sync"

	"realm-ledger/internal/domain"
	"realm-ledger/internal/storage"
)

type pushKey struct {
	kind domain.Kind
	key  string
}

// PushResultStore is an in-memory implementation of storage.PushResultStore.
type PushResultStore struct {
	mu      sync.RWMutex
	results map[pushKey]*domain.PushDocument
	seq     map[pushKey]int
	next    int
}

// NewPushResultStore creates a new in-memory push result store.
func NewPushResultStore() *PushResultStore {
	return &PushResultStore{
		results: make(map[pushKey]*domain.PushDocument),
		seq:     make(map[pushKey]int),
	}
}

// Get retrieves the push result for a key.
func (s *PushResultStore) Get(_ context.Context, kind domain.Kind, key string) (*domain.PushDocument, error) {
	if !storage.ValidPushKind(kind) {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.results[pushKey{kind, key}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyPush(doc), nil
}

// Upsert inserts or replaces a push result. A stored success is kept.
func (s *PushResultStore) Upsert(_ context.Context, kind domain.Kind, doc *domain.PushDocument) error {
	if !storage.ValidPushKind(kind) || doc == nil || doc.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := pushKey{kind, doc.ID}
	if prev, ok := s.results[k]; ok && prev.Data != nil && prev.Data.Success {
		return nil
	}
	s.results[k] = copyPush(doc)
	s.next++
	s.seq[k] = s.next
	return nil
}

// Latest returns the most recent push result of a collection.
func (s *PushResultStore) Latest(ctx context.Context, kind domain.Kind) (*domain.PushDocument, error) {
	docs, err := s.List(ctx, kind, 1)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, storage.ErrNotFound
	}
	return docs[0], nil
}

// List returns up to limit push results, newest first. A non-positive limit returns all.
func (s *PushResultStore) List(_ context.Context, kind domain.Kind, limit int) ([]*domain.PushDocument, error) {
	if !storage.ValidPushKind(kind) {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]pushKey, 0, len(s.results))
	for k := range s.results {
		if k.kind == kind {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := s.results[keys[i]], s.results[keys[j]]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return s.seq[keys[i]] > s.seq[keys[j]]
	})
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	out := make([]*domain.PushDocument, len(keys))
	for i, k := range keys {
		out[i] = copyPush(s.results[k])
	}
	return out, nil
}

func copyPush(doc *domain.PushDocument) *domain.PushDocument {
	out := *doc
	if doc.Data != nil {
		data := *doc.Data
		out.Data = &data
	}
	return &out
}

var _ storage.PushResultStore = (*PushResultStore)(nil)
