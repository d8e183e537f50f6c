package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RevenueEvent is one decoded RevenueGenerated log.
// RealmID is resolved from the emitting contract address.
type RevenueEvent struct {
	Payer         common.Address // indexed payer
	RevenueAmount *big.Int       // stakers' share, already applied on-chain
	TotalValue    *big.Int       // gross value paid
	RealmID       uint16
	BlockNumber   uint64
	TxHash        common.Hash
	LogIndex      uint
}

// RevenueAggregate is the running revenue total of one realm.
// Revenue is realm-scoped; there is no per-address key.
type RevenueAggregate struct {
	RealmID    uint16
	Total      *big.Int
	GrossTotal *big.Int
	EventCount int
	Skipped    int
	ToBlock    uint64
}

// NewRevenueAggregate returns an empty aggregate for a realm.
func NewRevenueAggregate(realmID uint16) *RevenueAggregate {
	return &RevenueAggregate{
		RealmID:    realmID,
		Total:      new(big.Int),
		GrossTotal: new(big.Int),
	}
}

// Add folds one event into the aggregate.
func (a *RevenueAggregate) Add(ev *RevenueEvent) {
	a.Total.Add(a.Total, ev.RevenueAmount)
	if ev.TotalValue != nil {
		a.GrossTotal.Add(a.GrossTotal, ev.TotalValue)
	}
	if ev.BlockNumber > a.ToBlock {
		a.ToBlock = ev.BlockNumber
	}
	a.EventCount++
}
