package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// StakeEvent is one decoded TokensStaked log.
type StakeEvent struct {
	Staker      common.Address // indexed user
	RealmID     uint16         // indexed realmId
	Amount      *big.Int       // uint256 amount
	UnlockTime  *big.Int       // uint256 unix seconds
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
}

// StakeKey identifies one aggregated position.
type StakeKey struct {
	RealmID uint16
	Staker  common.Address
}

// AggregatedStake is the fold of all stake events for one (realm, staker).
// TotalStaked only grows; LatestUnlockTime is the maximum seen.
type AggregatedStake struct {
	TotalStaked      *big.Int
	LatestUnlockTime *big.Int
}

// StakeAggregate maps realmId -> staker -> aggregated stake.
type StakeAggregate struct {
	Realms     map[uint16]map[common.Address]*AggregatedStake
	EventCount int    // decoded events folded in
	Skipped    int    // logs that failed to decode
	ToBlock    uint64 // highest block observed
}

// NewStakeAggregate returns an empty aggregate.
func NewStakeAggregate() *StakeAggregate {
	return &StakeAggregate{Realms: make(map[uint16]map[common.Address]*AggregatedStake)}
}

// Add folds one event into the aggregate.
func (a *StakeAggregate) Add(ev *StakeEvent) {
	realm, ok := a.Realms[ev.RealmID]
	if !ok {
		realm = make(map[common.Address]*AggregatedStake)
		a.Realms[ev.RealmID] = realm
	}
	cur, ok := realm[ev.Staker]
	if !ok {
		cur = &AggregatedStake{TotalStaked: new(big.Int), LatestUnlockTime: new(big.Int)}
		realm[ev.Staker] = cur
	}
	cur.TotalStaked.Add(cur.TotalStaked, ev.Amount)
	if ev.UnlockTime != nil && ev.UnlockTime.Cmp(cur.LatestUnlockTime) > 0 {
		cur.LatestUnlockTime = new(big.Int).Set(ev.UnlockTime)
	}
	if ev.BlockNumber > a.ToBlock {
		a.ToBlock = ev.BlockNumber
	}
	a.EventCount++
}

// Get returns the aggregated stake for a key, or nil.
func (a *StakeAggregate) Get(k StakeKey) *AggregatedStake {
	realm, ok := a.Realms[k.RealmID]
	if !ok {
		return nil
	}
	return realm[k.Staker]
}

// StakerSummary is one row of a realm's staker list.
type StakerSummary struct {
	Address          common.Address `json:"address"`
	TotalStaked      *big.Int       `json:"totalStaked"`
	LatestUnlockTime *big.Int       `json:"latestUnlockTime"`
}

// RealmSnapshot summarizes one realm. Stakers are sorted by address ascending.
type RealmSnapshot struct {
	RealmID     uint16          `json:"realmId"`
	TotalStaked *big.Int        `json:"totalStaked"`
	StakerCount int             `json:"stakerCount"`
	Stakers     []StakerSummary `json:"stakers"`
}

// RealmStake is a staker's position inside one realm.
type RealmStake struct {
	TotalStaked      *big.Int `json:"totalStaked"`
	LatestUnlockTime *big.Int `json:"latestUnlockTime"`
}

// StakerSnapshot summarizes one address across all realms.
type StakerSnapshot struct {
	Address                 common.Address        `json:"address"`
	TotalStakedAcrossRealms *big.Int              `json:"totalStakedAcrossRealms"`
	PerRealm                map[uint16]RealmStake `json:"perRealm"`
}

// StakeLeaf is one entry of the global stake tree.
type StakeLeaf struct {
	Address          common.Address `json:"address"`
	RealmID          uint16         `json:"realmId"`
	TotalStaked      *big.Int       `json:"totalStaked"`
	LatestUnlockTime *big.Int       `json:"latestUnlockTime"`
}

// TokenStats holds token-wide totals.
type TokenStats struct {
	TotalStaked      *big.Int `json:"totalStaked"`
	TotalDistributed *big.Int `json:"totalDistributed"`
	NumberOfStakers  int      `json:"numberOfStakers"`
}

// StakeComputeResult is the payload of a StakeComputeResult document.
// Immutable once stored.
type StakeComputeResult struct {
	GlobalStakerMerkleRoot common.Hash                        `json:"globalStakerMerkleRoot"`
	TokenStats             TokenStats                         `json:"tokenStats"`
	Realms                 map[uint16]*RealmSnapshot          `json:"realms"`
	AllStakers             map[common.Address]*StakerSnapshot `json:"allStakers"`
	LeafData               []StakeLeaf                        `json:"leafData"`
	ToBlock                uint64                             `json:"toBlock"`
}
