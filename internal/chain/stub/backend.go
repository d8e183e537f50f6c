// Package stub provides an in-memory chain.Backend for tests.
package stub

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"realm-ledger/internal/chain"
)

// DefaultChainID is the chain id reported when none is set.
const DefaultChainID = 31337

// ErrNonceMismatch is returned by SendTransaction for an out-of-order nonce.
var ErrNonceMismatch = errors.New("nonce mismatch")

// Backend implements chain.Backend over in-memory logs and a fake mempool
// that mines every accepted transaction immediately.
type Backend struct {
	mu sync.Mutex

	logs     []types.Log
	logsErr  map[common.Address]error
	calls    map[common.Address][]byte
	callErr  error
	sendErr  map[common.Address]error
	reverts  map[common.Address]bool
	sent     []*types.Transaction
	receipts map[common.Hash]*types.Receipt

	head    uint64
	nonce   uint64
	chainID *big.Int
	baseFee *big.Int
}

var _ chain.Backend = (*Backend)(nil)

// NewBackend creates an empty stub chain.
func NewBackend() *Backend {
	return &Backend{
		logsErr:  make(map[common.Address]error),
		calls:    make(map[common.Address][]byte),
		sendErr:  make(map[common.Address]error),
		reverts:  make(map[common.Address]bool),
		receipts: make(map[common.Hash]*types.Receipt),
		chainID:  big.NewInt(DefaultChainID),
		baseFee:  big.NewInt(1_000_000_000),
	}
}

// AddLogs appends logs and advances the head past them.
func (b *Backend) AddLogs(logs ...types.Log) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, l := range logs {
		b.logs = append(b.logs, l)
		if l.BlockNumber > b.head {
			b.head = l.BlockNumber
		}
	}
}

// FailLogs makes FilterLogs fail for queries naming addr.
func (b *Backend) FailLogs(addr common.Address, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logsErr[addr] = err
}

// SetCallResult sets the raw return data of calls to addr.
func (b *Backend) SetCallResult(addr common.Address, out []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[addr] = out
}

// FailCalls makes every CallContract fail.
func (b *Backend) FailCalls(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callErr = err
}

// FailSends makes SendTransaction to addr fail.
func (b *Backend) FailSends(addr common.Address, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sendErr[addr] = err
}

// Revert makes transactions to addr mine with failed status.
func (b *Backend) Revert(addr common.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reverts[addr] = true
}

// Sent returns accepted transactions, optionally only those sent to addr.
func (b *Backend) Sent(to *common.Address) []*types.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*types.Transaction
	for _, tx := range b.sent {
		if to == nil || (tx.To() != nil && *tx.To() == *to) {
			out = append(out, tx)
		}
	}
	return out
}

// FilterLogs returns stored logs matching address, topic0 and block range.
func (b *Backend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, addr := range q.Addresses {
		if err := b.logsErr[addr]; err != nil {
			return nil, err
		}
	}

	var out []types.Log
	for _, l := range b.logs {
		if len(q.Addresses) > 0 && !containsAddress(q.Addresses, l.Address) {
			continue
		}
		if len(q.Topics) > 0 && len(q.Topics[0]) > 0 {
			if len(l.Topics) == 0 || !containsHash(q.Topics[0], l.Topics[0]) {
				continue
			}
		}
		if q.FromBlock != nil && l.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if q.ToBlock != nil && l.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		out = append(out, l)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].Index < out[j].Index
	})
	return out, nil
}

// CallContract returns the configured call result for msg.To.
func (b *Backend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.callErr != nil {
		return nil, b.callErr
	}
	if msg.To == nil {
		return nil, fmt.Errorf("call without target")
	}
	out, ok := b.calls[*msg.To]
	if !ok {
		return nil, fmt.Errorf("execution reverted")
	}
	return out, nil
}

// BlockNumber returns the current head.
func (b *Backend) BlockNumber(context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.head, nil
}

// ChainID returns the configured chain id.
func (b *Backend) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.chainID), nil
}

// HeaderByNumber returns a synthetic header at the head.
func (b *Backend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &types.Header{
		Number:  new(big.Int).SetUint64(b.head),
		BaseFee: new(big.Int).Set(b.baseFee),
	}, nil
}

// PendingNonceAt returns the number of accepted transactions.
func (b *Backend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nonce, nil
}

// SuggestGasTipCap returns 1 gwei.
func (b *Backend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

// EstimateGas returns a fixed estimate.
func (b *Backend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 50_000, nil
}

// SendTransaction accepts tx if its nonce is next and mines it in a new block.
func (b *Backend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if tx.To() != nil {
		if err := b.sendErr[*tx.To()]; err != nil {
			return err
		}
	}
	if tx.Nonce() != b.nonce {
		return fmt.Errorf("%w: got %d, want %d", ErrNonceMismatch, tx.Nonce(), b.nonce)
	}

	b.nonce++
	b.head++
	b.sent = append(b.sent, tx)

	status := types.ReceiptStatusSuccessful
	if tx.To() != nil && b.reverts[*tx.To()] {
		status = types.ReceiptStatusFailed
	}
	b.receipts[tx.Hash()] = &types.Receipt{
		Type:              tx.Type(),
		Status:            status,
		TxHash:            tx.Hash(),
		BlockNumber:       new(big.Int).SetUint64(b.head),
		GasUsed:           42_000,
		EffectiveGasPrice: new(big.Int).Add(b.baseFee, tx.GasTipCap()),
	}
	return nil
}

// TransactionReceipt returns the receipt of a mined transaction.
func (b *Backend) TransactionReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func containsAddress(list []common.Address, addr common.Address) bool {
	for _, a := range list {
		if a == addr {
			return true
		}
	}
	return false
}

func containsHash(list []common.Hash, h common.Hash) bool {
	for _, x := range list {
		if x == h {
			return true
		}
	}
	return false
}
