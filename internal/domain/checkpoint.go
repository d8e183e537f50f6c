package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Checkpoint is the persisted fold state of one (contract, event) log stream
// covering every block up to and including Block.
type Checkpoint struct {
	Contract       common.Address `json:"contract"`
	Event          string         `json:"event"`
	Block          uint64         `json:"block"`
	Total          *big.Int       `json:"total,omitempty"`    // revenue streams
	Events         int            `json:"events,omitempty"`   // revenue streams: decoded events folded so far
	ResultID       string         `json:"resultId,omitempty"` // stake stream: document holding the folded state
	ConfigChecksum string         `json:"configChecksum"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// StakeAggregateFromLeaves rebuilds a StakeAggregate from published leaf data.
// Leaves hold exactly the per-(realm, staker) fold, so the result can be extended
// with later events.
func StakeAggregateFromLeaves(leaves []StakeLeaf, toBlock uint64) *StakeAggregate {
	agg := NewStakeAggregate()
	for _, leaf := range leaves {
		realm, ok := agg.Realms[leaf.RealmID]
		if !ok {
			realm = make(map[common.Address]*AggregatedStake)
			agg.Realms[leaf.RealmID] = realm
		}
		unlock := new(big.Int)
		if leaf.LatestUnlockTime != nil {
			unlock.Set(leaf.LatestUnlockTime)
		}
		realm[leaf.Address] = &AggregatedStake{
			TotalStaked:      new(big.Int).Set(leaf.TotalStaked),
			LatestUnlockTime: unlock,
		}
	}
	agg.ToBlock = toBlock
	return agg
}
