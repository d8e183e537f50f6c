// Package publisher commits computed Merkle roots on-chain and records every
// attempt in the push-result store.
//
// Each target moves through: duplicate check, then either skip or submit,
// then receipt wait, then persist. Failures are recorded, never propagated,
// so one target cannot stop the next.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"realm-ledger/internal/chain"
	"realm-ledger/internal/config"
	"realm-ledger/internal/domain"
	"realm-ledger/internal/logging"
	"realm-ledger/internal/observability"
	"realm-ledger/internal/storage"
)

// ErrNoStakeRoot is the failure recorded when no stake result has been computed yet.
var ErrNoStakeRoot = errors.New("no computed stake root")

// Metric targets.
const (
	targetStakes = "stakes"
	targetClaims = "claims"
)

// Options holds the publisher's collaborators.
type Options struct {
	Registry *config.Registry

	// Transactor submits transactions. When nil a chain.Signer is created
	// over Backend from the credentials' private key.
	Transactor chain.Transactor
	Backend    chain.Backend

	Stakes  storage.StakeResultStore
	Claims  storage.ClaimsResultStore
	Pushes  storage.PushResultStore
	Archive storage.Archive // optional

	Logger *logrus.Logger
	Now    func() time.Time
}

// Publisher pushes stake and claims roots.
type Publisher struct {
	registry *config.Registry
	tx       chain.Transactor
	stakes   storage.StakeResultStore
	claims   storage.ClaimsResultStore
	pushes   storage.PushResultStore
	archive  storage.Archive
	log      *logrus.Logger
	now      func() time.Time
}

// New validates credentials and builds a Publisher. Missing credentials are
// reported as *domain.MissingCredentialsError before any chain call is made.
func New(ctx context.Context, creds config.ChainConfig, opts Options) (*Publisher, error) {
	if missing := creds.MissingCredentials(); len(missing) > 0 {
		return nil, &domain.MissingCredentialsError{Missing: missing}
	}
	if opts.Registry == nil || opts.Stakes == nil || opts.Claims == nil || opts.Pushes == nil {
		return nil, fmt.Errorf("publisher: registry and stores are required")
	}

	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}

	tx := opts.Transactor
	if tx == nil {
		if opts.Backend == nil {
			return nil, fmt.Errorf("publisher: a transactor or chain backend is required")
		}
		signer, err := chain.NewSigner(ctx, opts.Backend, creds.PrivateKey, chain.SignerOptions{
			ChainID:        creds.ChainID,
			PollInterval:   creds.ReceiptPollInterval.Duration,
			ReceiptTimeout: creds.ReceiptTimeout.Duration,
			Logger:         log,
		})
		if err != nil {
			return nil, fmt.Errorf("publisher: %w", err)
		}
		tx = signer
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Publisher{
		registry: opts.Registry,
		tx:       tx,
		stakes:   opts.Stakes,
		claims:   opts.Claims,
		pushes:   opts.Pushes,
		archive:  opts.Archive,
		log:      log,
		now:      now,
	}, nil
}

// PushStakeRoot publishes the global stake root. A nil root is resolved from
// the latest StakeComputeResult; when none exists a failed result is returned
// and nothing is persisted.
func (p *Publisher) PushStakeRoot(ctx context.Context, root *common.Hash) *domain.PushResult {
	log := p.log.WithField("component", "publisher").WithField("target", targetStakes)

	if root == nil {
		latest, err := p.stakes.Latest(ctx)
		switch {
		case errors.Is(err, storage.ErrNotFound) || (err == nil && latest.Data == nil):
			log.Warn("no computed stake root to push")
			observability.RecordPush(targetStakes, string(domain.PushStatusFailed), nil)
			return &domain.PushResult{Status: domain.PushStatusFailed, Error: ErrNoStakeRoot.Error()}
		case err != nil:
			log.WithError(err).Error("load latest stake result")
			observability.RecordPush(targetStakes, string(domain.PushStatusFailed), nil)
			return &domain.PushResult{Status: domain.PushStatusFailed, Error: err.Error()}
		}
		r := latest.Data.GlobalStakerMerkleRoot
		root = &r
	}

	t := target{
		kind:   domain.KindStakesPush,
		metric: targetStakes,
		key:    domain.StakePushKey(*root),
		root:   *root,
		to:     p.registry.Token.Address,
		pack:   chain.PackStakeRootUpdate,
	}
	return p.push(ctx, t, log.WithField("root", root.Hex()))
}

// PushClaimRoots publishes each realm's claims root from the latest
// ClaimsComputeResult, in registry order. Realms are independent: a failure
// is recorded in that realm's result and the next realm proceeds.
func (p *Publisher) PushClaimRoots(ctx context.Context) ([]*domain.PushResult, error) {
	log := p.log.WithField("component", "publisher").WithField("target", targetClaims)

	latest, err := p.claims.Latest(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("no computed claims result: %w", err)
		}
		return nil, fmt.Errorf("load latest claims result: %w", err)
	}
	if latest.Data == nil {
		return nil, fmt.Errorf("claims result %s has no data", latest.ID)
	}

	for id := range latest.Data.Realms {
		if !p.registry.HasRealm(id) {
			log.WithError(&domain.UnconfiguredRealmError{RealmID: id}).Warn("skipping realm absent from registry")
		}
	}

	results := make([]*domain.PushResult, 0, len(p.registry.Realms))
	for _, realm := range p.registry.Realms {
		rlog := log.WithField("realm_id", realm.ID)

		entry, ok := latest.Data.Realms[realm.ID]
		if !ok || entry == nil {
			rlog.Warn("realm missing from claims result")
			continue
		}

		realmID := realm.ID
		if entry.Error != "" {
			rlog.WithField("cause", entry.Error).Warn("claims were not computed, nothing to push")
			observability.RecordPush(targetClaims, string(domain.PushStatusFailed), nil)
			results = append(results, &domain.PushResult{
				RealmID:    &realmID,
				MerkleRoot: entry.ClaimMerkleRoot,
				Status:     domain.PushStatusFailed,
				Error:      "claims not computed: " + entry.Error,
			})
			continue
		}

		key := domain.ClaimsPushKey(realm.ID, entry.ClaimMerkleRoot)
		rlog = rlog.WithField("root", entry.ClaimMerkleRoot.Hex())

		if entry.ClaimMerkleRoot == (common.Hash{}) || entry.NumberOfClaimants == 0 {
			res := &domain.PushResult{
				Key:        key,
				RealmID:    &realmID,
				MerkleRoot: entry.ClaimMerkleRoot,
				Success:    true,
				Status:     domain.PushStatusSkippedNoClaims,
			}
			rlog.Info("no claims, skipping push")
			p.persist(ctx, domain.KindClaimsPush, res, rlog)
			observability.RecordPush(targetClaims, string(res.Status), nil)
			results = append(results, res)
			continue
		}

		t := target{
			kind:    domain.KindClaimsPush,
			metric:  targetClaims,
			key:     key,
			root:    entry.ClaimMerkleRoot,
			realmID: &realmID,
			to:      realm.Address,
			pack:    chain.PackClaimsRootUpdate,
		}
		results = append(results, p.push(ctx, t, rlog))
	}
	return results, nil
}

// target is one root to publish.
type target struct {
	kind    domain.Kind
	metric  string
	key     string
	root    common.Hash
	realmID *uint16
	to      common.Address
	pack    func(common.Hash) ([]byte, error)
}

func (p *Publisher) push(ctx context.Context, t target, log logrus.FieldLogger) *domain.PushResult {
	res := &domain.PushResult{
		Key:        t.key,
		RealmID:    t.realmID,
		MerkleRoot: t.root,
	}

	existing, err := p.pushes.Get(ctx, t.kind, t.key)
	switch {
	case err == nil && existing.Data != nil && existing.Data.Success:
		dup := *existing.Data
		dup.Status = domain.PushStatusSkippedDuplicate
		log.Info("root already pushed, skipping")
		observability.RecordPush(t.metric, string(dup.Status), nil)
		return &dup
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		log.WithError(err).Error("duplicate check failed")
		return p.fail(ctx, t, res, fmt.Errorf("duplicate check: %w", err), log)
	}

	data, err := t.pack(t.root)
	if err != nil {
		return p.fail(ctx, t, res, fmt.Errorf("pack calldata: %w", err), log)
	}

	hash, err := p.tx.Send(ctx, t.to, data)
	if err != nil {
		log.WithError(err).Error("submit transaction")
		return p.fail(ctx, t, res, fmt.Errorf("submit: %w", err), log)
	}
	res.TransactionHash = &hash
	log = log.WithField("tx", hash.Hex())

	receipt, err := p.tx.WaitReceipt(ctx, hash)
	if err != nil {
		log.WithError(err).Error("wait for receipt")
		return p.fail(ctx, t, res, err, log)
	}
	applyReceipt(res, receipt)

	if receipt.Status == types.ReceiptStatusSuccessful {
		res.Success = true
		res.Status = domain.PushStatusSuccess
		log.WithField("block", *res.BlockNumber).Info("root pushed")
	} else {
		res.Status = domain.PushStatusReverted
		res.Error = (&domain.TransactionRevertError{TxHash: hash, BlockNumber: *res.BlockNumber}).Error()
		log.WithField("block", *res.BlockNumber).Error("push transaction reverted")
	}

	p.persist(ctx, t.kind, res, log)
	observability.RecordPush(t.metric, string(res.Status), res.GasUsed)
	return res
}

func (p *Publisher) fail(ctx context.Context, t target, res *domain.PushResult, err error, log logrus.FieldLogger) *domain.PushResult {
	res.Success = false
	res.Status = domain.PushStatusFailed
	res.Error = err.Error()
	p.persist(ctx, t.kind, res, log)
	observability.RecordPush(t.metric, string(res.Status), nil)
	return res
}

// persist upserts a push result and appends it to the archive. Store errors are logged only.
func (p *Publisher) persist(ctx context.Context, kind domain.Kind, res *domain.PushResult, log logrus.FieldLogger) {
	doc := &domain.PushDocument{
		ID:             res.Key,
		Timestamp:      p.now().UTC(),
		ConfigChecksum: p.registry.Checksum(),
		Data:           res,
	}
	if err := p.pushes.Upsert(ctx, kind, doc); err != nil {
		log.WithError(err).Error("persist push result")
	}
	if p.archive != nil {
		if err := p.archive.RecordPush(ctx, kind, doc); err != nil {
			log.WithError(err).Warn("archive push result")
		}
	}
}

func applyReceipt(res *domain.PushResult, receipt *types.Receipt) {
	var block uint64
	if receipt.BlockNumber != nil {
		block = receipt.BlockNumber.Uint64()
	}
	gas := receipt.GasUsed
	res.BlockNumber = &block
	res.GasUsed = &gas
	if receipt.EffectiveGasPrice != nil {
		res.EffectiveGasPrice = receipt.EffectiveGasPrice.String()
	}
}
