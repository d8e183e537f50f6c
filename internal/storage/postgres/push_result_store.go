package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"realm-ledger/internal/domain"
	"realm-ledger/internal/storage"
)

// PushResultStore implements storage.PushResultStore using PostgreSQL.
type PushResultStore struct {
	pool *Pool
}

// NewPushResultStore creates a new PostgreSQL push result store.
func NewPushResultStore(pool *Pool) *PushResultStore {
	return &PushResultStore{pool: pool}
}

// Get retrieves the push result for a key.
func (s *PushResultStore) Get(ctx context.Context, kind domain.Kind, key string) (*domain.PushDocument, error) {
	if !storage.ValidPushKind(kind) {
		return nil, storage.ErrInvalidInput
	}

	query := `
		SELECT key, created_at, config_checksum, data
		FROM push_results
		WHERE kind = $1 AND key = $2
	`

	var (
		doc  domain.PushDocument
		data []byte
	)
	start := time.Now()
	err := s.pool.QueryRow(ctx, query, string(kind), key).Scan(&doc.ID, &doc.Timestamp, &doc.ConfigChecksum, &data)
	if err := observe("get", kind, start, err); err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(data, &doc.Data); err != nil {
		return nil, fmt.Errorf("unmarshal %s %s: %w", kind, key, err)
	}
	doc.Timestamp = doc.Timestamp.UTC()
	return &doc, nil
}

// Upsert inserts or replaces a push result. A stored success is kept.
func (s *PushResultStore) Upsert(ctx context.Context, kind domain.Kind, doc *domain.PushDocument) error {
	if !storage.ValidPushKind(kind) || doc == nil || doc.ID == "" {
		return storage.ErrInvalidInput
	}

	data, err := json.Marshal(doc.Data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", kind, err)
	}

	query := `
		INSERT INTO push_results (kind, key, created_at, config_checksum, data)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (kind, key) DO UPDATE SET
			created_at = EXCLUDED.created_at,
			config_checksum = EXCLUDED.config_checksum,
			data = EXCLUDED.data,
			seq = nextval('push_results_seq_seq')
		WHERE NOT COALESCE((push_results.data->>'success')::boolean, false)
	`

	start := time.Now()
	_, err = s.pool.Exec(ctx, query, string(kind), doc.ID, doc.Timestamp, doc.ConfigChecksum, data)
	return observe("upsert", kind, start, err)
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
func (s *PushResultStore) List(ctx context.Context, kind domain.Kind, limit int) ([]*domain.PushDocument, error) {
	if !storage.ValidPushKind(kind) {
		return nil, storage.ErrInvalidInput
	}

	query := `
		SELECT key, created_at, config_checksum, data
		FROM push_results
		WHERE kind = $1
		ORDER BY created_at DESC, seq DESC
	`
	args := []any{string(kind)}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	start := time.Now()
	rows, err := s.pool.Query(ctx, query, args...)
	if err := observe("list", kind, start, err); err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*domain.PushDocument
	for rows.Next() {
		var (
			doc  domain.PushDocument
			data []byte
		)
		if err := rows.Scan(&doc.ID, &doc.Timestamp, &doc.ConfigChecksum, &data); err != nil {
			return nil, &domain.DBPersistenceError{Op: "list", Kind: kind, Err: err}
		}
		if err := json.Unmarshal(data, &doc.Data); err != nil {
			return nil, fmt.Errorf("unmarshal %s %s: %w", kind, doc.ID, err)
		}
		doc.Timestamp = doc.Timestamp.UTC()
		docs = append(docs, &doc)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.DBPersistenceError{Op: "list", Kind: kind, Err: err}
	}
	return docs, nil
}

var _ storage.PushResultStore = (*PushResultStore)(nil)
