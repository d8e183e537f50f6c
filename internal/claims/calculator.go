// Package claims splits each realm's revenue pro rata over its stakers and
// builds the per-realm claims trees.
package claims

import (
	"context"
	"fmt"
	"math/big"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"realm-ledger/internal/config"
	"realm-ledger/internal/domain"
	"realm-ledger/internal/logging"
	"realm-ledger/internal/merkle"
)

// DefaultConcurrency bounds parallel revenue reads.
const DefaultConcurrency = 4

// RevenueSource reads a realm's revenue aggregate.
type RevenueSource interface {
	FetchRevenue(ctx context.Context, realm config.RealmConfig, fromBlock uint64, seed *domain.RevenueAggregate) (*domain.RevenueAggregate, error)
}

// Cursor returns where a realm's revenue read starts and the fold to extend.
type Cursor func(ctx context.Context, realm config.RealmConfig) (fromBlock uint64, seed *domain.RevenueAggregate)

// FromDeployment reads full history for every realm.
func FromDeployment(_ context.Context, realm config.RealmConfig) (uint64, *domain.RevenueAggregate) {
	return realm.DeploymentBlock, nil
}

// Options configures the Calculator.
type Options struct {
	Registry    *config.Registry
	Revenue     RevenueSource
	Cursor      Cursor
	Concurrency int
	Logger      *logrus.Logger
}

// Calculator computes ClaimsComputeResults.
type Calculator struct {
	registry    *config.Registry
	revenue     RevenueSource
	cursor      Cursor
	concurrency int
	log         *logrus.Logger
}

// Outcome is the result of one claims pass. Revenue holds the aggregates of
// realms whose revenue was read successfully.
type Outcome struct {
	Result  *domain.ClaimsComputeResult
	Revenue map[uint16]*domain.RevenueAggregate
}

// New creates a Calculator.
func New(opts Options) *Calculator {
	c := &Calculator{
		registry:    opts.Registry,
		revenue:     opts.Revenue,
		cursor:      opts.Cursor,
		concurrency: opts.Concurrency,
		log:         opts.Logger,
	}
	if c.cursor == nil {
		c.cursor = FromDeployment
	}
	if c.concurrency <= 0 {
		c.concurrency = DefaultConcurrency
	}
	if c.log == nil {
		c.log = logging.Discard()
	}
	return c
}

// Compute produces claims for every configured realm against the given stake
// snapshot. A realm whose revenue cannot be read gets an empty entry carrying
// the error; other realms are unaffected.
func (c *Calculator) Compute(ctx context.Context, stake *domain.StakeComputeResult, stakeResultID string) *Outcome {
	realms := c.registry.Realms
	aggs := make([]*domain.RevenueAggregate, len(realms))
	errs := make([]error, len(realms))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, realm := range realms {
		g.Go(func() error {
			from, seed := c.cursor(gctx, realm)
			aggs[i], errs[i] = c.revenue.FetchRevenue(gctx, realm, from, seed)
			return nil
		})
	}
	_ = g.Wait()

	out := &Outcome{
		Result: &domain.ClaimsComputeResult{
			Realms:        make(map[uint16]*domain.RealmClaims, len(realms)),
			StakeResultID: stakeResultID,
		},
		Revenue: make(map[uint16]*domain.RevenueAggregate, len(realms)),
	}

	for i, realm := range realms {
		log := c.log.WithField("realm", realm.ID)

		if errs[i] != nil {
			log.WithError(errs[i]).Error("revenue fetch failed, recording empty claims")
			entry := domain.EmptyRealmClaims(realm.ID)
			entry.Error = errs[i].Error()
			out.Result.Realms[realm.ID] = &entry
			continue
		}
		out.Revenue[realm.ID] = aggs[i]

		var snap *domain.RealmSnapshot
		if stake != nil {
			snap = stake.Realms[realm.ID]
		}
		entry, err := ComputeRealm(realm.ID, aggs[i].Total, snap)
		if err != nil {
			log.WithError(err).Error("claims tree failed, recording empty claims")
			empty := domain.EmptyRealmClaims(realm.ID)
			empty.Error = err.Error()
			entry = empty
		}
		entry.RevenueEvents = aggs[i].EventCount
		out.Result.Realms[realm.ID] = &entry

		log.WithFields(logrus.Fields{
			"revenue":   entry.TotalRevenueProcessed.String(),
			"claimable": entry.TotalClaimableAmount.String(),
			"claimants": entry.NumberOfClaimants,
			"root":      entry.ClaimMerkleRoot.Hex(),
		}).Info("realm claims computed")
	}

	return out
}

// ComputeRealm splits revenue over the realm's stakers:
// claim = floor(stake * revenue / realmTotal). Zero claims are omitted and the
// claims are sorted by address.
func ComputeRealm(realmID uint16, revenue *big.Int, snap *domain.RealmSnapshot) (domain.RealmClaims, error) {
	entry := domain.EmptyRealmClaims(realmID)
	if revenue != nil {
		entry.TotalRevenueProcessed = new(big.Int).Set(revenue)
	}

	if revenue == nil || revenue.Sign() <= 0 || snap == nil || snap.TotalStaked == nil || snap.TotalStaked.Sign() <= 0 {
		return entry, nil
	}

	for _, staker := range snap.Stakers {
		if staker.TotalStaked == nil || staker.TotalStaked.Sign() <= 0 {
			continue
		}
		amount := new(big.Int).Mul(staker.TotalStaked, revenue)
		amount.Quo(amount, snap.TotalStaked)
		if amount.Sign() == 0 {
			continue
		}
		entry.Claims = append(entry.Claims, domain.Claim{Address: staker.Address, Amount: amount})
		entry.TotalClaimableAmount.Add(entry.TotalClaimableAmount, amount)
	}

	merkle.SortClaims(entry.Claims)
	tree, err := merkle.BuildClaimTree(entry.Claims)
	if err != nil {
		return domain.RealmClaims{}, fmt.Errorf("realm %d claims tree: %w", realmID, err)
	}

	entry.ClaimMerkleRoot = tree.Root()
	entry.NumberOfClaimants = len(entry.Claims)
	entry.LeafData = append([]domain.Claim{}, entry.Claims...)
	return entry, nil
}
