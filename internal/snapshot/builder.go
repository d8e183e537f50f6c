// Package snapshot turns a stake aggregate into the per-realm, per-staker and
// leaf views published in a StakeComputeResult.
package snapshot

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"realm-ledger/internal/config"
	"realm-ledger/internal/domain"
	"realm-ledger/internal/merkle"
)

// Build derives the snapshot views from agg. Realms absent from reg are dropped
// and reported as *domain.UnconfiguredRealmError; every configured realm gets an
// entry even without stakers. The Merkle root and TotalDistributed are left for
// Finalize.
func Build(agg *domain.StakeAggregate, reg *config.Registry, log logrus.FieldLogger) (*domain.StakeComputeResult, []error) {
	result := &domain.StakeComputeResult{
		TokenStats: domain.TokenStats{
			TotalStaked:      new(big.Int),
			TotalDistributed: new(big.Int),
		},
		Realms:     make(map[uint16]*domain.RealmSnapshot, len(reg.Realms)),
		AllStakers: make(map[common.Address]*domain.StakerSnapshot),
		LeafData:   []domain.StakeLeaf{},
		ToBlock:    agg.ToBlock,
	}

	for _, realm := range reg.Realms {
		result.Realms[realm.ID] = &domain.RealmSnapshot{
			RealmID:     realm.ID,
			TotalStaked: new(big.Int),
			Stakers:     []domain.StakerSummary{},
		}
	}

	var dropped []error
	for _, realmID := range sortedRealmIDs(agg) {
		snap, ok := result.Realms[realmID]
		if !ok {
			err := &domain.UnconfiguredRealmError{RealmID: realmID}
			if log != nil {
				log.WithField("stakers", len(agg.Realms[realmID])).Warn(err.Error())
			}
			dropped = append(dropped, err)
			continue
		}

		for addr, stake := range agg.Realms[realmID] {
			snap.TotalStaked.Add(snap.TotalStaked, stake.TotalStaked)
			snap.Stakers = append(snap.Stakers, domain.StakerSummary{
				Address:          addr,
				TotalStaked:      new(big.Int).Set(stake.TotalStaked),
				LatestUnlockTime: new(big.Int).Set(stake.LatestUnlockTime),
			})

			staker, ok := result.AllStakers[addr]
			if !ok {
				staker = &domain.StakerSnapshot{
					Address:                 addr,
					TotalStakedAcrossRealms: new(big.Int),
					PerRealm:                make(map[uint16]domain.RealmStake),
				}
				result.AllStakers[addr] = staker
			}
			staker.TotalStakedAcrossRealms.Add(staker.TotalStakedAcrossRealms, stake.TotalStaked)
			staker.PerRealm[realmID] = domain.RealmStake{
				TotalStaked:      new(big.Int).Set(stake.TotalStaked),
				LatestUnlockTime: new(big.Int).Set(stake.LatestUnlockTime),
			}

			result.LeafData = append(result.LeafData, domain.StakeLeaf{
				Address:          addr,
				RealmID:          realmID,
				TotalStaked:      new(big.Int).Set(stake.TotalStaked),
				LatestUnlockTime: new(big.Int).Set(stake.LatestUnlockTime),
			})
		}

		sort.Slice(snap.Stakers, func(i, j int) bool {
			return bytes.Compare(snap.Stakers[i].Address[:], snap.Stakers[j].Address[:]) < 0
		})
		snap.StakerCount = len(snap.Stakers)
		result.TokenStats.TotalStaked.Add(result.TokenStats.TotalStaked, snap.TotalStaked)
	}

	merkle.SortStakeLeaves(result.LeafData)
	result.TokenStats.NumberOfStakers = len(result.AllStakers)
	return result, dropped
}

// Finalize sets the global stake root and the distributed-token total.
// A nil distributed amount is recorded as zero.
func Finalize(result *domain.StakeComputeResult, root common.Hash, distributed *big.Int) {
	result.GlobalStakerMerkleRoot = root
	if distributed == nil {
		distributed = new(big.Int)
	}
	result.TokenStats.TotalDistributed = new(big.Int).Set(distributed)
}

// Compute builds the snapshot, the stake tree and finalizes the result.
func Compute(agg *domain.StakeAggregate, reg *config.Registry, distributed *big.Int, log logrus.FieldLogger) (*domain.StakeComputeResult, *merkle.Tree, error) {
	result, _ := Build(agg, reg, log)
	tree, err := merkle.BuildStakeTree(result.LeafData)
	if err != nil {
		return nil, nil, err
	}
	Finalize(result, tree.Root(), distributed)
	return result, tree, nil
}

func sortedRealmIDs(agg *domain.StakeAggregate) []uint16 {
	ids := make([]uint16, 0, len(agg.Realms))
	for id := range agg.Realms {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
