package chain_test

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func cloneLog(l types.Log) types.Log {
	out := l
	out.Topics = append([]common.Hash(nil), l.Topics...)
	out.Data = append([]byte(nil), l.Data...)
	return out
}
