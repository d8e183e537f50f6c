package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"realm-ledger/internal/domain"
	"realm-ledger/internal/storage"
)

// ResultStore implements storage.StakeResultStore and storage.ClaimsResultStore
// over a JSONB document table. Rows are immutable once written.
type ResultStore[T any] struct {
	pool  *Pool
	table string
	kind  domain.Kind
}

// NewStakeResultStore creates a store over stake_compute_results.
func NewStakeResultStore(pool *Pool) *ResultStore[*domain.StakeComputeResult] {
	return &ResultStore[*domain.StakeComputeResult]{pool: pool, table: "stake_compute_results", kind: domain.KindStakeCompute}
}

// NewClaimsResultStore creates a store over claims_compute_results.
func NewClaimsResultStore(pool *Pool) *ResultStore[*domain.ClaimsComputeResult] {
	return &ResultStore[*domain.ClaimsComputeResult]{pool: pool, table: "claims_compute_results", kind: domain.KindClaimsCompute}
}

// Save inserts a document. An existing id is left untouched.
func (s *ResultStore[T]) Save(ctx context.Context, doc *domain.Document[T]) error {
	if doc == nil || doc.ID == "" {
		return storage.ErrInvalidInput
	}

	data, err := json.Marshal(doc.Data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", s.kind, err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, created_at, config_checksum, data)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, s.table)

	start := time.Now()
	_, err = s.pool.Exec(ctx, query, doc.ID, doc.Timestamp, doc.ConfigChecksum, data)
	return observe("save", s.kind, start, err)
}

// Latest returns the most recent document by timestamp.
func (s *ResultStore[T]) Latest(ctx context.Context) (*domain.Document[T], error) {
	query := fmt.Sprintf(`
		SELECT id, created_at, config_checksum, data
		FROM %s
		ORDER BY created_at DESC, seq DESC
		LIMIT 1
	`, s.table)
	return s.queryOne(ctx, "latest", query)
}

// GetByID retrieves a document by id.
func (s *ResultStore[T]) GetByID(ctx context.Context, id string) (*domain.Document[T], error) {
	query := fmt.Sprintf(`
		SELECT id, created_at, config_checksum, data
		FROM %s
		WHERE id = $1
	`, s.table)
	return s.queryOne(ctx, "get", query, id)
}

func (s *ResultStore[T]) queryOne(ctx context.Context, op, query string, args ...any) (*domain.Document[T], error) {
	var (
		doc  domain.Document[T]
		data []byte
	)

	start := time.Now()
	err := s.pool.QueryRow(ctx, query, args...).Scan(&doc.ID, &doc.Timestamp, &doc.ConfigChecksum, &data)
	if err := observe(op, s.kind, start, err); err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(data, &doc.Data); err != nil {
		return nil, fmt.Errorf("unmarshal %s %s: %w", s.kind, doc.ID, err)
	}
	doc.Timestamp = doc.Timestamp.UTC()
	return &doc, nil
}

var (
	_ storage.StakeResultStore  = (*ResultStore[*domain.StakeComputeResult])(nil)
	_ storage.ClaimsResultStore = (*ResultStore[*domain.ClaimsComputeResult])(nil)
)
