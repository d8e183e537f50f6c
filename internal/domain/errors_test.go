package domain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRPCFetchError_Unwrap(t *testing.T) {
	err := fmt.Errorf("stake pass: %w", &RPCFetchError{
		Op:       "eth_getLogs",
		Contract: common.HexToAddress("0x01"),
		Err:      context.DeadlineExceeded,
	})

	var rpcErr *RPCFetchError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, "eth_getLogs", rpcErr.Op)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestDBPersistenceError_Message(t *testing.T) {
	err := &DBPersistenceError{Op: "save", Kind: KindStakeCompute, Err: errors.New("connection refused")}
	assert.Equal(t, "store save StakeComputeResult: connection refused", err.Error())
}

func TestMissingCredentialsError_Message(t *testing.T) {
	err := &MissingCredentialsError{Missing: []string{"RPC_URL", "PRIVATE_KEY"}}
	assert.Equal(t, "missing credentials: RPC_URL, PRIVATE_KEY", err.Error())
}

func TestPushKeys(t *testing.T) {
	root := common.HexToHash("0xabc")

	assert.Equal(t, root.Hex(), StakePushKey(root))
	assert.Equal(t, "7-"+root.Hex(), ClaimsPushKey(7, root))
}

func TestStakeAggregate_Add(t *testing.T) {
	agg := NewStakeAggregate()
	a := common.HexToAddress("0xa")

	agg.Add(&StakeEvent{Staker: a, RealmID: 1, Amount: big.NewInt(10), UnlockTime: big.NewInt(200), BlockNumber: 5})
	agg.Add(&StakeEvent{Staker: a, RealmID: 1, Amount: big.NewInt(15), UnlockTime: big.NewInt(100), BlockNumber: 9})

	got := agg.Get(StakeKey{RealmID: 1, Staker: a})
	require.NotNil(t, got)
	assert.Equal(t, "25", got.TotalStaked.String())
	assert.Equal(t, "200", got.LatestUnlockTime.String())
	assert.Equal(t, uint64(9), agg.ToBlock)
	assert.Equal(t, 2, agg.EventCount)
	assert.Nil(t, agg.Get(StakeKey{RealmID: 2, Staker: a}))
}

func TestComparable(t *testing.T) {
	a := &StakeDocument{ConfigChecksum: "aa"}
	b := &ClaimsDocument{ConfigChecksum: "aa"}
	c := &ClaimsDocument{ConfigChecksum: "bb"}

	assert.True(t, Comparable(a, b))
	assert.False(t, Comparable(a, c))
	assert.False(t, Comparable[*StakeComputeResult, *ClaimsComputeResult](nil, b))
}
