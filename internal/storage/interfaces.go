package storage

import (
	"context"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"realm-ledger/internal/domain"
)

// StakeResultStore persists StakeComputeResult documents.
type StakeResultStore interface {
	// Save stores a document keyed by its content id. Saving an existing id is a no-op.
	Save(ctx context.Context, doc *domain.StakeDocument) error

	// Latest returns the most recent document by timestamp. Returns ErrNotFound if empty.
	Latest(ctx context.Context) (*domain.StakeDocument, error)

	// GetByID retrieves a document by id. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.StakeDocument, error)
}

// ClaimsResultStore persists ClaimsComputeResult documents.
type ClaimsResultStore interface {
	// Save stores a document keyed by its content id. Saving an existing id is a no-op.
	Save(ctx context.Context, doc *domain.ClaimsDocument) error

	// Latest returns the most recent document by timestamp. Returns ErrNotFound if empty.
	Latest(ctx context.Context) (*domain.ClaimsDocument, error)

	// GetByID retrieves a document by id. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.ClaimsDocument, error)
}

// PushResultStore persists push attempts per collection.
// kind must be domain.KindStakesPush or domain.KindClaimsPush.
type PushResultStore interface {
	// Get retrieves the push result for a key. Returns ErrNotFound if not exists.
	Get(ctx context.Context, kind domain.Kind, key string) (*domain.PushDocument, error)

	// Upsert inserts or replaces the push result with the document's id.
	// A stored successful result is never replaced.
	Upsert(ctx context.Context, kind domain.Kind, doc *domain.PushDocument) error

	// Latest returns the most recent push result. Returns ErrNotFound if empty.
	Latest(ctx context.Context, kind domain.Kind) (*domain.PushDocument, error)

	// List returns up to limit push results, newest first.
	List(ctx context.Context, kind domain.Kind, limit int) ([]*domain.PushDocument, error)
}

// CheckpointStore persists log-stream watermarks.
type CheckpointStore interface {
	// Get returns the checkpoint of a (contract, event) stream. Returns ErrNotFound if not exists.
	Get(ctx context.Context, contract common.Address, event string) (*domain.Checkpoint, error)

	// Set inserts or replaces a checkpoint.
	Set(ctx context.Context, cp *domain.Checkpoint) error
}

// StakeRootRecord is one archived stake computation.
type StakeRootRecord struct {
	ID             string      `json:"id"`
	Timestamp      time.Time   `json:"timestamp"`
	Root           common.Hash `json:"root"`
	TotalStaked    *big.Int    `json:"totalStaked"`
	Stakers        uint32      `json:"stakers"`
	ToBlock        uint64      `json:"toBlock"`
	ConfigChecksum string      `json:"configChecksum"`
}

// ClaimRootRecord is one archived realm claims computation.
type ClaimRootRecord struct {
	ID        string      `json:"id"`
	RealmID   uint16      `json:"realmId"`
	Timestamp time.Time   `json:"timestamp"`
	Root      common.Hash `json:"root"`
	Revenue   *big.Int    `json:"revenue"`
	Claimable *big.Int    `json:"claimable"`
	Claimants uint32      `json:"claimants"`
}

// PushOutcomeRecord is one archived push attempt.
type PushOutcomeRecord struct {
	Key       string            `json:"key"`
	Kind      domain.Kind       `json:"kind"`
	Timestamp time.Time         `json:"timestamp"`
	Root      common.Hash       `json:"root"`
	Success   bool              `json:"success"`
	Status    domain.PushStatus `json:"status"`
	TxHash    string            `json:"txHash"`
	Block     uint64            `json:"block"`
	GasUsed   uint64            `json:"gasUsed"`
	GasPrice  string            `json:"gasPrice"`
	Error     string            `json:"error"`
}

// Archive is an append-only history of computed roots and push outcomes.
type Archive interface {
	// RecordStake appends a stake computation.
	RecordStake(ctx context.Context, doc *domain.StakeDocument) error

	// RecordClaims appends one row per realm of a claims computation.
	RecordClaims(ctx context.Context, doc *domain.ClaimsDocument) error

	// RecordPush appends a push outcome.
	RecordPush(ctx context.Context, kind domain.Kind, doc *domain.PushDocument) error

	// StakeRoots returns up to limit archived stake computations, newest first.
	StakeRoots(ctx context.Context, limit int) ([]StakeRootRecord, error)

	// ClaimRoots returns up to limit archived claims rows for a realm, newest first.
	ClaimRoots(ctx context.Context, realmID uint16, limit int) ([]ClaimRootRecord, error)

	// PushOutcomes returns up to limit archived push outcomes, newest first.
	PushOutcomes(ctx context.Context, limit int) ([]PushOutcomeRecord, error)
}

// ValidPushKind reports whether kind names a push collection.
func ValidPushKind(kind domain.Kind) bool {
	return kind == domain.KindStakesPush || kind == domain.KindClaimsPush
}

// NewStakeRootRecord flattens a stake document for the archive.
func NewStakeRootRecord(doc *domain.StakeDocument) StakeRootRecord {
	rec := StakeRootRecord{
		ID:             doc.ID,
		Timestamp:      doc.Timestamp,
		ConfigChecksum: doc.ConfigChecksum,
		TotalStaked:    new(big.Int),
	}
	if doc.Data != nil {
		rec.Root = doc.Data.GlobalStakerMerkleRoot
		if doc.Data.TokenStats.TotalStaked != nil {
			rec.TotalStaked = doc.Data.TokenStats.TotalStaked
		}
		rec.Stakers = uint32(doc.Data.TokenStats.NumberOfStakers)
		rec.ToBlock = doc.Data.ToBlock
	}
	return rec
}

// NewClaimRootRecords flattens a claims document into one record per realm, ordered by realm id.
func NewClaimRootRecords(doc *domain.ClaimsDocument) []ClaimRootRecord {
	if doc.Data == nil {
		return nil
	}
	records := make([]ClaimRootRecord, 0, len(doc.Data.Realms))
	for _, realm := range doc.Data.Realms {
		rec := ClaimRootRecord{
			ID:        doc.ID,
			RealmID:   realm.RealmID,
			Timestamp: doc.Timestamp,
			Root:      realm.ClaimMerkleRoot,
			Revenue:   orZero(realm.TotalRevenueProcessed),
			Claimable: orZero(realm.TotalClaimableAmount),
			Claimants: uint32(realm.NumberOfClaimants),
		}
		records = append(records, rec)
	}
	sortClaimRecords(records)
	return records
}

// NewPushOutcomeRecord flattens a push document for the archive.
func NewPushOutcomeRecord(kind domain.Kind, doc *domain.PushDocument) PushOutcomeRecord {
	rec := PushOutcomeRecord{
		Key:       doc.ID,
		Kind:      kind,
		Timestamp: doc.Timestamp,
	}
	if r := doc.Data; r != nil {
		rec.Root = r.MerkleRoot
		rec.Success = r.Success
		rec.Status = r.Status
		rec.GasPrice = r.EffectiveGasPrice
		rec.Error = r.Error
		if r.TransactionHash != nil {
			rec.TxHash = r.TransactionHash.Hex()
		}
		if r.BlockNumber != nil {
			rec.Block = *r.BlockNumber
		}
		if r.GasUsed != nil {
			rec.GasUsed = *r.GasUsed
		}
	}
	return rec
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func sortClaimRecords(records []ClaimRootRecord) {
	sort.Slice(records, func(i, j int) bool { return records[i].RealmID < records[j].RealmID })
}
