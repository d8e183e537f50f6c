package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"realm-ledger/internal/domain"
	"realm-ledger/internal/storage"
)

const checkpointKind domain.Kind = "Checkpoint"

// CheckpointStore implements storage.CheckpointStore using PostgreSQL.
type CheckpointStore struct {
	pool *Pool
}

// NewCheckpointStore creates a new PostgreSQL checkpoint store.
func NewCheckpointStore(pool *Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

// Get returns the checkpoint of a log stream.
func (s *CheckpointStore) Get(ctx context.Context, contract common.Address, event string) (*domain.Checkpoint, error) {
	query := `
		SELECT block, total::text, events, result_id, config_checksum, updated_at
		FROM checkpoints
		WHERE contract = $1 AND event = $2
	`

	var (
		block  int64
		total  *string
		events int64
		cp    = domain.Checkpoint{Contract: contract, Event: event}
	)
	start := time.Now()
	err := s.pool.QueryRow(ctx, query, contract.Hex(), event).Scan(&block, &total, &events, &cp.ResultID, &cp.ConfigChecksum, &cp.UpdatedAt)
	if err := observe("get", checkpointKind, start, err); err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	cp.Block = uint64(block)
	cp.Events = int(events)
	if total != nil {
		v, ok := new(big.Int).SetString(*total, 10)
		if !ok {
			return nil, fmt.Errorf("checkpoint %s/%s: invalid total %q", contract.Hex(), event, *total)
		}
		cp.Total = v
	}
	cp.UpdatedAt = cp.UpdatedAt.UTC()
	return &cp, nil
}

// Set inserts or replaces a checkpoint.
func (s *CheckpointStore) Set(ctx context.Context, cp *domain.Checkpoint) error {
	if cp == nil || cp.Event == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO checkpoints (contract, event, block, total, events, result_id, config_checksum, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)
		ON CONFLICT (contract, event) DO UPDATE SET
			block = EXCLUDED.block,
			total = EXCLUDED.total,
			events = EXCLUDED.events,
			result_id = EXCLUDED.result_id,
			config_checksum = EXCLUDED.config_checksum,
			updated_at = EXCLUDED.updated_at
	`

	var total *string
	if cp.Total != nil {
		v := cp.Total.String()
		total = &v
	}

	start := time.Now()
	_, err := s.pool.Exec(ctx, query,
		cp.Contract.Hex(),
		cp.Event,
		int64(cp.Block),
		total,
		int64(cp.Events),
		cp.ResultID,
		cp.ConfigChecksum,
		cp.UpdatedAt,
	)
	return observe("set", checkpointKind, start, err)
}

var _ storage.CheckpointStore = (*CheckpointStore)(nil)
