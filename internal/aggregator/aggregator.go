// Package aggregator reads contract event logs and folds them into stake and
// revenue aggregates.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"realm-ledger/internal/chain"
	"realm-ledger/internal/config"
	"realm-ledger/internal/domain"
	"realm-ledger/internal/logging"
	"realm-ledger/internal/observability"
)

var errOverflow = errors.New("accumulated amount overflows uint256")

// Options configures the Aggregator.
type Options struct {
	Reader chain.LogReader
	Logger *logrus.Logger
}

// Aggregator fetches and folds contract events.
type Aggregator struct {
	reader chain.LogReader
	log    *logrus.Logger
}

// New creates an Aggregator.
func New(opts Options) *Aggregator {
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	return &Aggregator{reader: opts.Reader, log: log}
}

// FetchStakes folds every TokensStaked log emitted by the token contract from
// fromBlock on. A non-nil seed is extended in place and returned.
func (a *Aggregator) FetchStakes(ctx context.Context, token config.Contract, fromBlock uint64, seed *domain.StakeAggregate) (*domain.StakeAggregate, error) {
	agg := seed
	if agg == nil {
		agg = domain.NewStakeAggregate()
	}

	err := a.fetch(ctx, chain.EventTokensStaked, chain.TokensStakedTopic, token.Address, fromBlock, func(l types.Log) error {
		ev, err := chain.DecodeTokensStaked(l)
		if err != nil {
			return err
		}
		if cur := agg.Get(domain.StakeKey{RealmID: ev.RealmID, Staker: ev.Staker}); cur != nil {
			if !fitsUint256(new(big.Int).Add(cur.TotalStaked, ev.Amount)) {
				return &domain.LogDecodeError{Event: chain.EventTokensStaked, TxHash: l.TxHash, LogIndex: l.Index, Err: errOverflow}
			}
		}
		agg.Add(ev)
		return nil
	}, &agg.Skipped)
	if err != nil {
		return nil, err
	}

	observability.UpdateHighestBlock(agg.ToBlock)
	a.log.WithFields(logrus.Fields{
		"events":  agg.EventCount,
		"skipped": agg.Skipped,
		"realms":  len(agg.Realms),
		"toBlock": agg.ToBlock,
	}).Debug("stake logs aggregated")
	return agg, nil
}

// FetchRevenue sums RevenueGenerated logs of one realm from fromBlock on.
// A non-nil seed is extended in place and returned.
func (a *Aggregator) FetchRevenue(ctx context.Context, realm config.RealmConfig, fromBlock uint64, seed *domain.RevenueAggregate) (*domain.RevenueAggregate, error) {
	agg := seed
	if agg == nil {
		agg = domain.NewRevenueAggregate(realm.ID)
	}

	err := a.fetch(ctx, chain.EventRevenueGenerated, chain.RevenueGeneratedTopic, realm.Address, fromBlock, func(l types.Log) error {
		if l.Address != realm.Address {
			return &domain.LogDecodeError{
				Event:    chain.EventRevenueGenerated,
				TxHash:   l.TxHash,
				LogIndex: l.Index,
				Err:      fmt.Errorf("log from %s, want %s", l.Address.Hex(), realm.Address.Hex()),
			}
		}
		ev, err := chain.DecodeRevenueGenerated(l)
		if err != nil {
			return err
		}
		ev.RealmID = realm.ID
		if !fitsUint256(new(big.Int).Add(agg.Total, ev.RevenueAmount)) {
			return &domain.LogDecodeError{Event: chain.EventRevenueGenerated, TxHash: l.TxHash, LogIndex: l.Index, Err: errOverflow}
		}
		agg.Add(ev)
		return nil
	}, &agg.Skipped)
	if err != nil {
		return nil, err
	}

	a.log.WithFields(logrus.Fields{
		"realm":   realm.ID,
		"events":  agg.EventCount,
		"skipped": agg.Skipped,
		"total":   agg.Total.String(),
	}).Debug("revenue logs aggregated")
	return agg, nil
}

// fetch reads one event stream and applies fold to each log. Decode failures
// are logged, counted in skipped and otherwise ignored; anything else aborts.
func (a *Aggregator) fetch(ctx context.Context, event string, topic common.Hash, contract common.Address, fromBlock uint64, fold func(types.Log) error, skipped *int) error {
	logs, err := a.reader.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		Addresses: []common.Address{contract},
		Topics:    [][]common.Hash{{topic}},
	})
	if err != nil {
		return &domain.RPCFetchError{Op: "eth_getLogs " + event, Contract: contract, Err: err}
	}

	decoded := 0
	for _, l := range logs {
		if err := fold(l); err != nil {
			var decodeErr *domain.LogDecodeError
			if !errors.As(err, &decodeErr) {
				return err
			}
			*skipped++
			observability.RecordEventSkipped(event, "decode")
			a.log.WithFields(logrus.Fields{
				"event":    event,
				"tx":       decodeErr.TxHash.Hex(),
				"logIndex": decodeErr.LogIndex,
			}).WithError(decodeErr.Err).Warn("skipping undecodable log")
			continue
		}
		decoded++
	}
	observability.RecordEventFetched(event, decoded)
	return nil
}

func fitsUint256(v *big.Int) bool {
	_, overflow := uint256.FromBig(v)
	return !overflow
}
