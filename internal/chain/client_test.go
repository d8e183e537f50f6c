package chain_test

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realm-ledger/internal/chain"
	"realm-ledger/internal/chain/stub"
)

// flakyBackend fails BlockNumber a fixed number of times before delegating.
type flakyBackend struct {
	*stub.Backend
	failures atomic.Int32
	err      error
	calls    atomic.Int32
	block    bool
}

func (f *flakyBackend) BlockNumber(ctx context.Context) (uint64, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	if f.failures.Add(-1) >= 0 {
		return 0, f.err
	}
	return f.Backend.BlockNumber(ctx)
}

type codeError struct{ code int }

func (e codeError) Error() string  { return "rpc failure" }
func (e codeError) ErrorCode() int { return e.code }

func fastOptions() []chain.ClientOption {
	return []chain.ClientOption{
		chain.WithRetryDelay(time.Millisecond),
		chain.WithMaxDelay(5 * time.Millisecond),
		chain.WithMaxRetries(3),
		chain.WithRateLimit(0),
	}
}

func TestClient_RetriesTransientErrors(t *testing.T) {
	backend := &flakyBackend{Backend: stub.NewBackend(), err: errors.New("connection reset")}
	backend.failures.Store(2)
	backend.AddLogs(stub.StakeLog(token, alice, 1, big.NewInt(1), 1, 9, 0))

	client := chain.NewClient(backend, fastOptions()...)
	n, err := client.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(9), n)
	assert.Equal(t, int32(3), backend.calls.Load())
}

func TestClient_GivesUpAfterMaxRetries(t *testing.T) {
	backend := &flakyBackend{Backend: stub.NewBackend(), err: errors.New("connection reset")}
	backend.failures.Store(100)

	client := chain.NewClient(backend, fastOptions()...)
	_, err := client.BlockNumber(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, int32(4), backend.calls.Load())
}

func TestClient_NodeErrorsAreFinal(t *testing.T) {
	backend := &flakyBackend{Backend: stub.NewBackend(), err: codeError{code: -32000}}
	backend.failures.Store(100)

	client := chain.NewClient(backend, fastOptions()...)
	_, err := client.BlockNumber(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), backend.calls.Load())

	limited := &flakyBackend{Backend: stub.NewBackend(), err: codeError{code: -32005}}
	limited.failures.Store(1)
	_, err = chain.NewClient(limited, fastOptions()...).BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), limited.calls.Load())
}

func TestClient_PerCallTimeout(t *testing.T) {
	backend := &flakyBackend{Backend: stub.NewBackend(), block: true}

	opts := append(fastOptions(), chain.WithTimeout(10*time.Millisecond), chain.WithMaxRetries(1))
	client := chain.NewClient(backend, opts...)

	_, err := client.BlockNumber(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, int32(2), backend.calls.Load())
}

func TestClient_ParentCancelStopsRetries(t *testing.T) {
	backend := &flakyBackend{Backend: stub.NewBackend(), err: errors.New("connection reset")}
	backend.failures.Store(100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := chain.NewClient(backend, fastOptions()...)
	_, err := client.BlockNumber(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDial_JSONRPCOverHTTP(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		if req.Method != "eth_blockNumber" {
			t.Errorf("unexpected method %s", req.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  "0x2a",
		})
	}))
	defer server.Close()

	client, err := chain.Dial(context.Background(), server.URL, fastOptions()...)
	require.NoError(t, err)
	defer client.Close()

	n, err := client.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), n)
	assert.Equal(t, int32(2), requests.Load())
}

func TestReadDistributedTokens(t *testing.T) {
	backend := stub.NewBackend()
	backend.SetCallResult(token, stub.Uint256Word(oneEth))

	got, err := chain.ReadDistributedTokens(context.Background(), backend, token)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Cmp(oneEth))

	backend.FailCalls(errors.New("boom"))
	_, err = chain.ReadDistributedTokens(context.Background(), backend, token)
	assert.Error(t, err)
}
