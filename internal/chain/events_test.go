package chain_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realm-ledger/internal/chain"
	"realm-ledger/internal/chain/stub"
	"realm-ledger/internal/domain"
)

var (
	token  = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	realm  = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
	alice  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bobby  = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	oneEth = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

func TestTopicsMatchEventSignatures(t *testing.T) {
	assert.Equal(t, crypto.Keccak256Hash([]byte("TokensStaked(address,uint16,uint256,uint256)")), chain.TokensStakedTopic)
	assert.Equal(t, crypto.Keccak256Hash([]byte("RevenueGenerated(address,uint256,uint256)")), chain.RevenueGeneratedTopic)
}

func TestDecodeTokensStaked(t *testing.T) {
	l := stub.StakeLog(token, alice, 7, oneEth, 1_700_000_000, 12, 3)

	ev, err := chain.DecodeTokensStaked(l)
	require.NoError(t, err)
	assert.Equal(t, alice, ev.Staker)
	assert.Equal(t, uint16(7), ev.RealmID)
	assert.Equal(t, 0, ev.Amount.Cmp(oneEth))
	assert.Equal(t, "1700000000", ev.UnlockTime.String())
	assert.Equal(t, uint64(12), ev.BlockNumber)
	assert.Equal(t, uint(3), ev.LogIndex)
}

func TestDecodeTokensStaked_FailsClosed(t *testing.T) {
	valid := stub.StakeLog(token, alice, 1, big.NewInt(5), 10, 1, 0)

	tests := []struct {
		name   string
		mutate func(l *types.Log)
	}{
		{name: "wrong topic0", mutate: func(l *types.Log) { l.Topics[0] = chain.RevenueGeneratedTopic }},
		{name: "missing realm topic", mutate: func(l *types.Log) { l.Topics = l.Topics[:2] }},
		{name: "short data", mutate: func(l *types.Log) { l.Data = l.Data[:40] }},
		{name: "long data", mutate: func(l *types.Log) { l.Data = append(l.Data, make([]byte, 32)...) }},
		{name: "dirty address padding", mutate: func(l *types.Log) { l.Topics[1][0] = 1 }},
		{name: "realm id overflows uint16", mutate: func(l *types.Log) { l.Topics[2] = common.BigToHash(big.NewInt(70000)) }},
		{name: "removed", mutate: func(l *types.Log) { l.Removed = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := cloneLog(valid)
			tt.mutate(&l)

			_, err := chain.DecodeTokensStaked(l)
			require.Error(t, err)
			var decodeErr *domain.LogDecodeError
			assert.True(t, errors.As(err, &decodeErr))
			assert.Equal(t, chain.EventTokensStaked, decodeErr.Event)
		})
	}
}

func TestDecodeTokensStaked_WideUnlockTime(t *testing.T) {
	l := stub.StakeLog(token, alice, 1, big.NewInt(5), 10, 1, 0)
	l.Data[32] = 1

	ev, err := chain.DecodeTokensStaked(l)
	require.NoError(t, err)
	want := new(big.Int).Lsh(big.NewInt(1), 255)
	want.Add(want, big.NewInt(10))
	assert.Equal(t, 0, ev.UnlockTime.Cmp(want))
	assert.Equal(t, "5", ev.Amount.String())
}

func TestDecodeRevenueGenerated(t *testing.T) {
	l := stub.RevenueLog(realm, bobby, big.NewInt(80), big.NewInt(100), 20, 1)

	ev, err := chain.DecodeRevenueGenerated(l)
	require.NoError(t, err)
	assert.Equal(t, bobby, ev.Payer)
	assert.Equal(t, "80", ev.RevenueAmount.String())
	assert.Equal(t, "100", ev.TotalValue.String())
	assert.Equal(t, uint16(0), ev.RealmID)

	bad := cloneLog(l)
	bad.Topics = append(bad.Topics, common.Hash{})
	_, err = chain.DecodeRevenueGenerated(bad)
	var decodeErr *domain.LogDecodeError
	assert.True(t, errors.As(err, &decodeErr))
}

func TestPackRootUpdates(t *testing.T) {
	root := common.HexToHash("0x1234")

	data, err := chain.PackStakeRootUpdate(root)
	require.NoError(t, err)
	require.Len(t, data, 36)
	assert.Equal(t, crypto.Keccak256([]byte("updateStakeWithdrawalMerkleRoot(bytes32)"))[:4], data[:4])
	assert.Equal(t, root.Bytes(), data[4:])

	data, err = chain.PackClaimsRootUpdate(root)
	require.NoError(t, err)
	assert.Equal(t, crypto.Keccak256([]byte("updateClaimsMerkleRoot(bytes32)"))[:4], data[:4])
}
