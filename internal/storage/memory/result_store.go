package memory

import (
	"context"
	"sync"

	"realm-ledger/internal/domain"
	"realm-ledger/internal/storage"
)

// ResultStore is an in-memory store of immutable compute result documents.
// Documents are keyed by content id; saving an existing id is a no-op.
type ResultStore[T any] struct {
	mu    sync.RWMutex
	docs  map[string]*domain.Document[T]
	order []string
}

// NewStakeResultStore creates an in-memory storage.StakeResultStore.
func NewStakeResultStore() *ResultStore[*domain.StakeComputeResult] {
	return newResultStore[*domain.StakeComputeResult]()
}

// NewClaimsResultStore creates an in-memory storage.ClaimsResultStore.
func NewClaimsResultStore() *ResultStore[*domain.ClaimsComputeResult] {
	return newResultStore[*domain.ClaimsComputeResult]()
}

func newResultStore[T any]() *ResultStore[T] {
	return &ResultStore[T]{docs: make(map[string]*domain.Document[T])}
}

// Save stores a document. Saving an existing id is a no-op.
func (s *ResultStore[T]) Save(_ context.Context, doc *domain.Document[T]) error {
	if doc == nil || doc.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[doc.ID]; ok {
		return nil
	}
	stored := *doc
	s.docs[doc.ID] = &stored
	s.order = append(s.order, doc.ID)
	return nil
}

// Latest returns the document with the greatest timestamp.
// Ties go to the document saved last.
func (s *ResultStore[T]) Latest(_ context.Context) (*domain.Document[T], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.Document[T]
	for _, id := range s.order {
		doc := s.docs[id]
		if latest == nil || !doc.Timestamp.Before(latest.Timestamp) {
			latest = doc
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	out := *latest
	return &out, nil
}

// GetByID retrieves a document by id.
func (s *ResultStore[T]) GetByID(_ context.Context, id string) (*domain.Document[T], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := *doc
	return &out, nil
}

// Count returns the number of stored documents.
func (s *ResultStore[T]) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

var (
	_ storage.StakeResultStore  = (*ResultStore[*domain.StakeComputeResult])(nil)
	_ storage.ClaimsResultStore = (*ResultStore[*domain.ClaimsComputeResult])(nil)
)
