package stub

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"realm-ledger/internal/chain"
)

// StakeLog builds a TokensStaked log emitted by token.
func StakeLog(token, staker common.Address, realmID uint16, amount *big.Int, unlock uint64, block uint64, index uint) types.Log {
	data := append(common.LeftPadBytes(amount.Bytes(), 32), common.LeftPadBytes(new(big.Int).SetUint64(unlock).Bytes(), 32)...)
	return types.Log{
		Address: token,
		Topics: []common.Hash{
			chain.TokensStakedTopic,
			common.BytesToHash(staker.Bytes()),
			common.BigToHash(big.NewInt(int64(realmID))),
		},
		Data:        data,
		BlockNumber: block,
		TxHash:      txHash(block, index),
		Index:       index,
	}
}

// RevenueLog builds a RevenueGenerated log emitted by realm.
func RevenueLog(realm, payer common.Address, revenue, total *big.Int, block uint64, index uint) types.Log {
	data := append(common.LeftPadBytes(revenue.Bytes(), 32), common.LeftPadBytes(total.Bytes(), 32)...)
	return types.Log{
		Address: realm,
		Topics: []common.Hash{
			chain.RevenueGeneratedTopic,
			common.BytesToHash(payer.Bytes()),
		},
		Data:        data,
		BlockNumber: block,
		TxHash:      txHash(block, index),
		Index:       index,
	}
}

// Uint256Word encodes v as a single ABI return word.
func Uint256Word(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}

func txHash(block uint64, index uint) common.Hash {
	return crypto.Keccak256Hash(new(big.Int).SetUint64(block).Bytes(), new(big.Int).SetUint64(uint64(index)).Bytes())
}
