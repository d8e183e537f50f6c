// Package chain provides EVM access for the ledger: log reads, contract calls,
// serialized transaction submission and a new-heads watcher.
package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// LogReader reads contract event logs.
type LogReader interface {
	// FilterLogs returns logs matching the query, ordered by block and log index.
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// ContractCaller executes read-only contract calls.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Transactor submits transactions from a single signing account.
type Transactor interface {
	// Send signs and broadcasts a call to the given contract.
	Send(ctx context.Context, to common.Address, data []byte) (common.Hash, error)

	// WaitReceipt blocks until the transaction is mined or the receipt timeout expires.
	WaitReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Backend is the JSON-RPC surface the ledger needs from a node.
// *ethclient.Client satisfies it.
type Backend interface {
	LogReader
	ContractCaller

	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}
