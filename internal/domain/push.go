package domain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// PushStatus is the terminal state of one publish attempt.
type PushStatus string

// Push status values.
const (
	PushStatusSuccess          PushStatus = "success"
	PushStatusReverted         PushStatus = "reverted"
	PushStatusFailed           PushStatus = "failed"
	PushStatusSkippedDuplicate PushStatus = "skipped_duplicate"
	PushStatusSkippedNoClaims  PushStatus = "skipped_no_claims"
)

// String returns string representation.
func (s PushStatus) String() string {
	return string(s)
}

// PushResult records one attempt to publish a root on-chain.
// Upserted by Key: a retry overwrites a failed attempt, never a success.
type PushResult struct {
	Key               string       `json:"key"`
	RealmID           *uint16      `json:"realmId,omitempty"`           // nil for the global stake root
	MerkleRoot        common.Hash  `json:"merkleRoot"`
	Success           bool         `json:"success"`
	TransactionHash   *common.Hash `json:"transactionHash,omitempty"`
	BlockNumber       *uint64      `json:"blockNumber,omitempty"`
	GasUsed           *uint64      `json:"gasUsed,omitempty"`
	EffectiveGasPrice string       `json:"effectiveGasPrice,omitempty"` // wei, decimal
	Status            PushStatus   `json:"status"`
	Error             string       `json:"error,omitempty"`
}

// StakePushKey is the push-result key for the global stake root.
func StakePushKey(root common.Hash) string {
	return root.Hex()
}

// ClaimsPushKey is the push-result key for a realm's claims root.
func ClaimsPushKey(realmID uint16, root common.Hash) string {
	return fmt.Sprintf("%d-%s", realmID, root.Hex())
}
