package clickhouse

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"realm-ledger/internal/domain"
	"realm-ledger/internal/storage"
)

// Archive implements storage.Archive using ClickHouse.
// Amounts are stored as decimal strings.
type Archive struct {
	conn *Conn
}

// NewArchive creates a new ClickHouse archive.
func NewArchive(conn *Conn) *Archive {
	return &Archive{conn: conn}
}

// Compile-time interface check.
var _ storage.Archive = (*Archive)(nil)

// RecordStake appends a stake computation. Re-recording the same id is collapsed by ReplacingMergeTree.
func (a *Archive) RecordStake(ctx context.Context, doc *domain.StakeDocument) error {
	if doc == nil {
		return storage.ErrInvalidInput
	}
	r := storage.NewStakeRootRecord(doc)

	query := `
		INSERT INTO stake_roots (
			id, ts, root, total_staked, stakers, to_block, config_checksum
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	start := time.Now()
	err := a.conn.Exec(ctx, query,
		r.ID, r.Timestamp, r.Root.Hex(), r.TotalStaked.String(), r.Stakers, r.ToBlock, r.ConfigChecksum,
	)
	observe("insert_stake_root", start, err)
	if err != nil {
		return fmt.Errorf("insert stake root: %w", err)
	}
	return nil
}

// RecordClaims appends one row per realm in a single batch.
func (a *Archive) RecordClaims(ctx context.Context, doc *domain.ClaimsDocument) error {
	if doc == nil {
		return storage.ErrInvalidInput
	}
	records := storage.NewClaimRootRecords(doc)
	if len(records) == 0 {
		return nil
	}

	start := time.Now()
	batch, err := a.conn.PrepareBatch(ctx, `
		INSERT INTO claim_roots (
			id, realm_id, ts, root, revenue, claimable, claimants
		)
	`)
	if err != nil {
		observe("insert_claim_roots", start, err)
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range records {
		err = batch.Append(
			r.ID, r.RealmID, r.Timestamp, r.Root.Hex(), r.Revenue.String(), r.Claimable.String(), r.Claimants,
		)
		if err != nil {
			observe("insert_claim_roots", start, err)
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	err = batch.Send()
	observe("insert_claim_roots", start, err)
	if err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// RecordPush appends a push outcome. Every attempt is kept.
func (a *Archive) RecordPush(ctx context.Context, kind domain.Kind, doc *domain.PushDocument) error {
	if doc == nil || !storage.ValidPushKind(kind) {
		return storage.ErrInvalidInput
	}
	r := storage.NewPushOutcomeRecord(kind, doc)

	query := `
		INSERT INTO push_outcomes (
			key, kind, ts, root, success, status, tx_hash, block, gas_used, gas_price, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	start := time.Now()
	err := a.conn.Exec(ctx, query,
		r.Key, string(r.Kind), r.Timestamp, r.Root.Hex(), r.Success, string(r.Status),
		r.TxHash, r.Block, r.GasUsed, r.GasPrice, r.Error,
	)
	observe("insert_push_outcome", start, err)
	if err != nil {
		return fmt.Errorf("insert push outcome: %w", err)
	}
	return nil
}

// StakeRoots returns archived stake computations, newest first.
func (a *Archive) StakeRoots(ctx context.Context, limit int) ([]storage.StakeRootRecord, error) {
	query := `
		SELECT id, ts, root, total_staked, stakers, to_block, config_checksum
		FROM stake_roots FINAL
		ORDER BY ts DESC, id ASC
		LIMIT ?
	`

	start := time.Now()
	rows, err := a.conn.Query(ctx, query, queryLimit(limit))
	observe("select_stake_roots", start, err)
	if err != nil {
		return nil, fmt.Errorf("query stake roots: %w", err)
	}
	defer rows.Close()

	var out []storage.StakeRootRecord
	for rows.Next() {
		var (
			r           storage.StakeRootRecord
			root, total string
		)
		if err := rows.Scan(&r.ID, &r.Timestamp, &root, &total, &r.Stakers, &r.ToBlock, &r.ConfigChecksum); err != nil {
			return nil, fmt.Errorf("scan stake root: %w", err)
		}
		r.Root = common.HexToHash(root)
		if r.TotalStaked, err = parseAmount(total); err != nil {
			return nil, err
		}
		r.Timestamp = r.Timestamp.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// ClaimRoots returns archived claims rows of a realm, newest first.
func (a *Archive) ClaimRoots(ctx context.Context, realmID uint16, limit int) ([]storage.ClaimRootRecord, error) {
	query := `
		SELECT id, realm_id, ts, root, revenue, claimable, claimants
		FROM claim_roots FINAL
		WHERE realm_id = ?
		ORDER BY ts DESC, id ASC
		LIMIT ?
	`

	start := time.Now()
	rows, err := a.conn.Query(ctx, query, realmID, queryLimit(limit))
	observe("select_claim_roots", start, err)
	if err != nil {
		return nil, fmt.Errorf("query claim roots: %w", err)
	}
	defer rows.Close()

	var out []storage.ClaimRootRecord
	for rows.Next() {
		var (
			r                        storage.ClaimRootRecord
			root, revenue, claimable string
		)
		if err := rows.Scan(&r.ID, &r.RealmID, &r.Timestamp, &root, &revenue, &claimable, &r.Claimants); err != nil {
			return nil, fmt.Errorf("scan claim root: %w", err)
		}
		r.Root = common.HexToHash(root)
		if r.Revenue, err = parseAmount(revenue); err != nil {
			return nil, err
		}
		if r.Claimable, err = parseAmount(claimable); err != nil {
			return nil, err
		}
		r.Timestamp = r.Timestamp.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// PushOutcomes returns archived push outcomes, newest first.
func (a *Archive) PushOutcomes(ctx context.Context, limit int) ([]storage.PushOutcomeRecord, error) {
	query := `
		SELECT key, kind, ts, root, success, status, tx_hash, block, gas_used, gas_price, error
		FROM push_outcomes
		ORDER BY ts DESC
		LIMIT ?
	`

	start := time.Now()
	rows, err := a.conn.Query(ctx, query, queryLimit(limit))
	observe("select_push_outcomes", start, err)
	if err != nil {
		return nil, fmt.Errorf("query push outcomes: %w", err)
	}
	defer rows.Close()

	var out []storage.PushOutcomeRecord
	for rows.Next() {
		var (
			r                  storage.PushOutcomeRecord
			kind, status, root string
		)
		if err := rows.Scan(&r.Key, &kind, &r.Timestamp, &root, &r.Success, &status,
			&r.TxHash, &r.Block, &r.GasUsed, &r.GasPrice, &r.Error); err != nil {
			return nil, fmt.Errorf("scan push outcome: %w", err)
		}
		r.Kind = domain.Kind(kind)
		r.Status = domain.PushStatus(status)
		r.Root = common.HexToHash(root)
		r.Timestamp = r.Timestamp.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// queryLimit maps a non-positive limit to "all rows".
func queryLimit(limit int) uint64 {
	if limit <= 0 {
		return 1 << 62
	}
	return uint64(limit)
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid archived amount %q", s)
	}
	return v, nil
}
