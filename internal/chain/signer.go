package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"realm-ledger/internal/logging"
)

// Default receipt polling values.
const (
	DefaultReceiptPollInterval = 2 * time.Second
	DefaultReceiptTimeout      = 5 * time.Minute
)

// SignerOptions configures a Signer.
type SignerOptions struct {
	// ChainID overrides the node-reported chain id when non-zero.
	ChainID int64
	// PollInterval is the delay between receipt lookups.
	PollInterval time.Duration
	// ReceiptTimeout bounds WaitReceipt.
	ReceiptTimeout time.Duration
	Logger         *logrus.Logger
}

// Signer is the single submission queue for one account. Send calls are
// serialized and nonces are tracked locally, resynchronized after a failed send.
type Signer struct {
	backend        Backend
	key            *ecdsa.PrivateKey
	from           common.Address
	chainID        *big.Int
	signer         types.Signer
	pollInterval   time.Duration
	receiptTimeout time.Duration
	log            *logrus.Logger

	mu         sync.Mutex
	nonce      uint64
	nonceValid bool
}

var _ Transactor = (*Signer)(nil)

// NewSigner parses a hex private key and binds it to the backend.
func NewSigner(ctx context.Context, backend Backend, hexKey string, opts SignerOptions) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	chainID := big.NewInt(opts.ChainID)
	if opts.ChainID == 0 {
		chainID, err = backend.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("query chain id: %w", err)
		}
	}

	s := &Signer{
		backend:        backend,
		key:            key,
		from:           crypto.PubkeyToAddress(key.PublicKey),
		chainID:        chainID,
		signer:         types.LatestSignerForChainID(chainID),
		pollInterval:   opts.PollInterval,
		receiptTimeout: opts.ReceiptTimeout,
		log:            opts.Logger,
	}
	if s.pollInterval <= 0 {
		s.pollInterval = DefaultReceiptPollInterval
	}
	if s.receiptTimeout <= 0 {
		s.receiptTimeout = DefaultReceiptTimeout
	}
	if s.log == nil {
		s.log = logging.Discard()
	}
	return s, nil
}

// From returns the signing account.
func (s *Signer) From() common.Address {
	return s.from
}

// Send builds, signs and broadcasts an EIP-1559 call with zero value.
func (s *Signer) Send(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.nonceValid {
		nonce, err := s.backend.PendingNonceAt(ctx, s.from)
		if err != nil {
			return common.Hash{}, fmt.Errorf("pending nonce: %w", err)
		}
		s.nonce = nonce
		s.nonceValid = true
	}

	tip, err := s.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest gas tip: %w", err)
	}
	head, err := s.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("latest header: %w", err)
	}
	// feeCap = 2*baseFee + tip
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	gas, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:      s.from,
		To:        &to,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Data:      data,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
	}
	gas += gas / 5

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     s.nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     new(big.Int),
		Data:      data,
	})
	signed, err := types.SignTx(tx, s.signer, s.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}

	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		s.nonceValid = false
		return common.Hash{}, fmt.Errorf("send tx: %w", err)
	}
	s.nonce++

	s.log.WithFields(logrus.Fields{
		"tx":    signed.Hash().Hex(),
		"to":    to.Hex(),
		"nonce": signed.Nonce(),
		"gas":   gas,
	}).Info("transaction sent")

	return signed.Hash(), nil
}

// WaitReceipt polls for the receipt of txHash.
func (s *Signer) WaitReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.backend.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) && ctx.Err() == nil {
			s.log.WithField("tx", txHash.Hex()).WithError(err).Warn("receipt lookup failed")
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait receipt %s: %w", txHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}
