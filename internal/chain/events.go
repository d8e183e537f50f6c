package chain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"realm-ledger/internal/domain"
)

// Event names.
const (
	EventTokensStaked     = "TokensStaked"
	EventRevenueGenerated = "RevenueGenerated"
)

const tokenABIJSON = `[
  {"type":"event","name":"TokensStaked","anonymous":false,"inputs":[
    {"name":"user","type":"address","indexed":true},
    {"name":"realmId","type":"uint16","indexed":true},
    {"name":"amount","type":"uint256","indexed":false},
    {"name":"unlockTime","type":"uint256","indexed":false}]},
  {"type":"function","name":"updateStakeWithdrawalMerkleRoot","stateMutability":"nonpayable",
   "inputs":[{"name":"root","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"distributedTokens","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

const realmABIJSON = `[
  {"type":"event","name":"RevenueGenerated","anonymous":false,"inputs":[
    {"name":"payer","type":"address","indexed":true},
    {"name":"revenueAmount","type":"uint256","indexed":false},
    {"name":"totalValue","type":"uint256","indexed":false}]},
  {"type":"function","name":"updateClaimsMerkleRoot","stateMutability":"nonpayable",
   "inputs":[{"name":"root","type":"bytes32"}],"outputs":[]}
]`

var (
	// TokenABI covers the token contract surface used by the ledger.
	TokenABI = mustParseABI(tokenABIJSON)
	// RealmABI covers the realm contract surface used by the ledger.
	RealmABI = mustParseABI(realmABIJSON)

	TokensStakedTopic     = TokenABI.Events[EventTokensStaked].ID
	RevenueGeneratedTopic = RealmABI.Events[EventRevenueGenerated].ID
)

// Both events carry exactly two uint256 words of non-indexed data.
const eventDataSize = 64

var (
	errRemoved      = errors.New("log removed by reorg")
	errWrongTopic   = errors.New("unexpected topic0")
	errTopicCount   = errors.New("unexpected topic count")
	errDataSize     = errors.New("unexpected data size")
	errTopicPadding = errors.New("indexed value has non-zero padding")
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}

// DecodeTokensStaked decodes a TokensStaked log. Any mismatch with the event
// schema yields a *domain.LogDecodeError.
func DecodeTokensStaked(l types.Log) (*domain.StakeEvent, error) {
	fail := func(err error) error {
		return &domain.LogDecodeError{Event: EventTokensStaked, TxHash: l.TxHash, LogIndex: l.Index, Err: err}
	}

	if err := checkLog(l, TokensStakedTopic, 3); err != nil {
		return nil, fail(err)
	}
	staker, err := topicAddress(l.Topics[1])
	if err != nil {
		return nil, fail(err)
	}
	realm := l.Topics[2].Big()
	if !realm.IsUint64() || realm.Uint64() > 0xffff {
		return nil, fail(errTopicPadding)
	}

	values, err := TokenABI.Unpack(EventTokensStaked, l.Data)
	if err != nil {
		return nil, fail(err)
	}
	amount, unlock, err := twoWords(values)
	if err != nil {
		return nil, fail(err)
	}
	return &domain.StakeEvent{
		Staker:      staker,
		RealmID:     uint16(realm.Uint64()),
		Amount:      amount,
		UnlockTime:  unlock,
		BlockNumber: l.BlockNumber,
		TxHash:      l.TxHash,
		LogIndex:    l.Index,
	}, nil
}

// DecodeRevenueGenerated decodes a RevenueGenerated log. The realm id is not part
// of the event and is left zero for the caller to fill from the emitting address.
func DecodeRevenueGenerated(l types.Log) (*domain.RevenueEvent, error) {
	fail := func(err error) error {
		return &domain.LogDecodeError{Event: EventRevenueGenerated, TxHash: l.TxHash, LogIndex: l.Index, Err: err}
	}

	if err := checkLog(l, RevenueGeneratedTopic, 2); err != nil {
		return nil, fail(err)
	}
	payer, err := topicAddress(l.Topics[1])
	if err != nil {
		return nil, fail(err)
	}

	values, err := RealmABI.Unpack(EventRevenueGenerated, l.Data)
	if err != nil {
		return nil, fail(err)
	}
	revenue, total, err := twoWords(values)
	if err != nil {
		return nil, fail(err)
	}

	return &domain.RevenueEvent{
		Payer:         payer,
		RevenueAmount: revenue,
		TotalValue:    total,
		BlockNumber:   l.BlockNumber,
		TxHash:        l.TxHash,
		LogIndex:      l.Index,
	}, nil
}

func checkLog(l types.Log, topic common.Hash, topics int) error {
	if l.Removed {
		return errRemoved
	}
	if len(l.Topics) == 0 || l.Topics[0] != topic {
		return errWrongTopic
	}
	if len(l.Topics) != topics {
		return errTopicCount
	}
	if len(l.Data) != eventDataSize {
		return fmt.Errorf("%w: %d bytes", errDataSize, len(l.Data))
	}
	return nil
}

func topicAddress(topic common.Hash) (common.Address, error) {
	for _, b := range topic[:common.HashLength-common.AddressLength] {
		if b != 0 {
			return common.Address{}, errTopicPadding
		}
	}
	return common.BytesToAddress(topic[common.HashLength-common.AddressLength:]), nil
}

func twoWords(values []interface{}) (*big.Int, *big.Int, error) {
	if len(values) != 2 {
		return nil, nil, fmt.Errorf("unpacked %d values, want 2", len(values))
	}
	a, okA := values[0].(*big.Int)
	b, okB := values[1].(*big.Int)
	if !okA || !okB {
		return nil, nil, fmt.Errorf("unexpected value types %T, %T", values[0], values[1])
	}
	return a, b, nil
}
