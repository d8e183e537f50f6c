package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"realm-ledger/internal/logging"
	"realm-ledger/internal/observability"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// JSON-RPC error code used by several providers for request rate limits.
const rpcLimitExceeded = -32005

// Client wraps a Backend with per-call timeouts, rate limiting and retries.
type Client struct {
	backend     Backend
	closer      func()
	callTimeout time.Duration
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	limiter     *rate.Limiter
	log         *logrus.Logger
}

var _ Backend = (*Client)(nil)

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout sets the deadline applied to every single attempt.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.callTimeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.maxDelay = d
	}
}

// WithRateLimit caps outgoing requests per second. Zero disables the limiter.
func WithRateLimit(rps float64) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(log *logrus.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// NewClient wraps an existing backend.
func NewClient(backend Backend, opts ...ClientOption) *Client {
	c := &Client{
		backend:     backend,
		callTimeout: DefaultTimeout,
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
		log:         logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial connects to a node over HTTP or WebSocket.
func Dial(ctx context.Context, endpoint string, opts ...ClientOption) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	c := NewClient(ec, opts...)
	c.closer = ec.Close
	return c, nil
}

// Close releases the underlying connection.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// do runs fn with a fresh per-attempt deadline, retrying transient failures
// with exponential backoff.
func do[T any](ctx context.Context, c *Client, method string, retry bool, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	delay := c.retryDelay
	attempts := 1
	if retry {
		attempts += c.maxRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return zero, err
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		start := time.Now()
		result, err := fn(callCtx)
		cancel()
		observability.RecordRPCCall(method, time.Since(start).Seconds(), err)

		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if !isRetryable(err) {
			return zero, err
		}
		lastErr = err
		if retry && attempt+1 < attempts {
			c.log.WithFields(logrus.Fields{
				"method":  method,
				"attempt": attempt + 1,
			}).WithError(err).Warn("rpc call failed, retrying")
		}
	}

	if !retry {
		return zero, lastErr
	}
	return zero, fmt.Errorf("%s: max retries exceeded: %w", method, lastErr)
}

// isRetryable reports whether an attempt may succeed if repeated.
// Node-side JSON-RPC errors are final except rate limits.
func isRetryable(err error) bool {
	if errors.Is(err, ethereum.NotFound) {
		return false
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= http.StatusInternalServerError
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.ErrorCode() == rpcLimitExceeded
	}
	return true
}

// FilterLogs retrieves logs matching the query.
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return do(ctx, c, "eth_getLogs", true, func(ctx context.Context) ([]types.Log, error) {
		return c.backend.FilterLogs(ctx, q)
	})
}

// CallContract executes a read-only call.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return do(ctx, c, "eth_call", true, func(ctx context.Context) ([]byte, error) {
		return c.backend.CallContract(ctx, msg, blockNumber)
	})
}

// BlockNumber returns the latest block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return do(ctx, c, "eth_blockNumber", true, c.backend.BlockNumber)
}

// ChainID returns the chain id of the node.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return do(ctx, c, "eth_chainId", true, c.backend.ChainID)
}

// HeaderByNumber returns a block header; nil selects the latest block.
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return do(ctx, c, "eth_getBlockByNumber", true, func(ctx context.Context) (*types.Header, error) {
		return c.backend.HeaderByNumber(ctx, number)
	})
}

// PendingNonceAt returns the next nonce for the account.
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return do(ctx, c, "eth_getTransactionCount", true, func(ctx context.Context) (uint64, error) {
		return c.backend.PendingNonceAt(ctx, account)
	})
}

// SuggestGasTipCap returns a priority fee suggestion.
func (c *Client) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return do(ctx, c, "eth_maxPriorityFeePerGas", true, c.backend.SuggestGasTipCap)
}

// EstimateGas estimates the gas needed by msg.
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return do(ctx, c, "eth_estimateGas", true, func(ctx context.Context) (uint64, error) {
		return c.backend.EstimateGas(ctx, msg)
	})
}

// SendTransaction broadcasts a signed transaction. It is never retried here:
// the signer owns nonce recovery.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	_, err := do(ctx, c, "eth_sendRawTransaction", false, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.backend.SendTransaction(ctx, tx)
	})
	return err
}

// TransactionReceipt returns the receipt of a mined transaction, or ethereum.NotFound.
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return do(ctx, c, "eth_getTransactionReceipt", true, func(ctx context.Context) (*types.Receipt, error) {
		return c.backend.TransactionReceipt(ctx, txHash)
	})
}
