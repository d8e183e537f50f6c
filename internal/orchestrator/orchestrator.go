// Package orchestrator runs the compute and publish phases of one tick.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"realm-ledger/internal/aggregator"
	"realm-ledger/internal/chain"
	"realm-ledger/internal/claims"
	"realm-ledger/internal/config"
	"realm-ledger/internal/domain"
	"realm-ledger/internal/idhash"
	"realm-ledger/internal/logging"
	"realm-ledger/internal/observability"
	"realm-ledger/internal/snapshot"
	"realm-ledger/internal/storage"
)

// DefaultClaimsEvery is the default claims and publish cadence in ticks.
const DefaultClaimsEvery = 10

// Phase names used in logs and metrics.
const (
	PhaseStakes  = "stakes"
	PhaseClaims  = "claims"
	PhasePublish = "publish"
)

// Publisher is the publishing side of a tick.
type Publisher interface {
	PushStakeRoot(ctx context.Context, root *common.Hash) *domain.PushResult
	PushClaimRoots(ctx context.Context) ([]*domain.PushResult, error)
}

// Options configures an Orchestrator.
type Options struct {
	Registry *config.Registry
	Reader   chain.LogReader
	Caller   chain.ContractCaller

	Stakes      storage.StakeResultStore
	Claims      storage.ClaimsResultStore
	Checkpoints storage.CheckpointStore // required when UseCheckpoints is set
	Archive     storage.Archive         // optional

	// Publisher is nil when publishing is unavailable; PublisherErr says why.
	Publisher    Publisher
	PublisherErr error

	ClaimsEvery    int
	UseCheckpoints bool
	Concurrency    int

	Logger *logrus.Logger
	Now    func() time.Time
}

// Orchestrator owns one tick's control flow. Ticks must not overlap.
type Orchestrator struct {
	registry    *config.Registry
	caller      chain.ContractCaller
	agg         *aggregator.Aggregator
	stakes      storage.StakeResultStore
	claims      storage.ClaimsResultStore
	checkpoints storage.CheckpointStore
	archive     storage.Archive

	publisher    Publisher
	publisherErr error

	claimsEvery    int
	useCheckpoints bool
	concurrency    int

	log *logrus.Logger
	now func() time.Time
}

// TickResult summarizes one tick.
type TickResult struct {
	RunID          string               `json:"runId"`
	Step           int                  `json:"step"`
	StartedAt      time.Time            `json:"startedAt"`
	Duration       time.Duration        `json:"duration"`
	StakeResultID  string               `json:"stakeResultId,omitempty"`
	StakeRoot      *common.Hash         `json:"stakeRoot,omitempty"`
	ClaimsResultID string               `json:"claimsResultId,omitempty"`
	Pushes         []*domain.PushResult `json:"pushes,omitempty"`
	Errors         []string             `json:"errors,omitempty"`
}

// OK reports whether every phase that ran succeeded.
func (r *TickResult) OK() bool {
	return len(r.Errors) == 0
}

func (r *TickResult) addError(phase string, err error) {
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", phase, err))
}

// New validates options and creates an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("orchestrator: registry is required")
	}
	if opts.Reader == nil || opts.Caller == nil {
		return nil, &domain.MissingCredentialsError{Missing: []string{"RPC_URL"}}
	}
	if opts.Stakes == nil || opts.Claims == nil {
		return nil, fmt.Errorf("orchestrator: result stores are required")
	}
	if opts.UseCheckpoints && opts.Checkpoints == nil {
		return nil, fmt.Errorf("orchestrator: checkpoints enabled without a checkpoint store")
	}

	o := &Orchestrator{
		registry:       opts.Registry,
		caller:         opts.Caller,
		stakes:         opts.Stakes,
		claims:         opts.Claims,
		checkpoints:    opts.Checkpoints,
		archive:        opts.Archive,
		publisher:      opts.Publisher,
		publisherErr:   opts.PublisherErr,
		claimsEvery:    opts.ClaimsEvery,
		useCheckpoints: opts.UseCheckpoints,
		concurrency:    opts.Concurrency,
		log:            opts.Logger,
		now:            opts.Now,
	}
	if o.claimsEvery < 1 {
		o.claimsEvery = DefaultClaimsEvery
	}
	if o.log == nil {
		o.log = logging.Discard()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.publisher == nil && o.publisherErr == nil {
		o.publisherErr = errors.New("publisher not configured")
	}
	o.agg = aggregator.New(aggregator.Options{Reader: opts.Reader, Logger: o.log})
	return o, nil
}

// ClaimsDue reports whether claims and publishing run at step.
func (o *Orchestrator) ClaimsDue(step int) bool {
	return step%o.claimsEvery == 0
}

// Tick runs one step. Stakes are recomputed every step; claims and publishing
// run when step is a multiple of the claims cadence. Phase failures are
// collected in the result; an error is returned only when ctx ends the tick.
func (o *Orchestrator) Tick(ctx context.Context, step int) (*TickResult, error) {
	res := &TickResult{
		RunID:     uuid.NewString(),
		Step:      step,
		StartedAt: o.now().UTC(),
	}
	log := o.log.WithFields(logrus.Fields{"run_id": res.RunID, "step": step})
	observability.UpdateTickStep(uint64(step))
	log.Info("tick started")

	stakeDoc, err := runPhase(log, PhaseStakes, func() (*domain.StakeDocument, error) {
		return o.computeStakes(ctx, log)
	})
	if err != nil {
		res.addError(PhaseStakes, err)
	} else {
		res.StakeResultID = stakeDoc.ID
		root := stakeDoc.Data.GlobalStakerMerkleRoot
		res.StakeRoot = &root
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	if !o.ClaimsDue(step) {
		res.Duration = time.Since(res.StartedAt)
		log.WithField("duration", res.Duration).Info("tick finished")
		return res, nil
	}

	claimsDoc, err := runPhase(log, PhaseClaims, func() (*domain.ClaimsDocument, error) {
		return o.computeClaims(ctx, stakeDoc, log)
	})
	if err != nil {
		res.addError(PhaseClaims, err)
	} else {
		res.ClaimsResultID = claimsDoc.ID
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	pushes, err := runPhase(log, PhasePublish, func() ([]*domain.PushResult, error) {
		return o.publish(ctx, res.StakeRoot, log)
	})
	res.Pushes = pushes
	if err != nil {
		res.addError(PhasePublish, err)
	}
	for _, p := range pushes {
		if p.Status == domain.PushStatusFailed || p.Status == domain.PushStatusReverted {
			res.addError(PhasePublish, fmt.Errorf("push %s: %s", pushTarget(p), p.Error))
		}
	}

	res.Duration = time.Since(res.StartedAt)
	log.WithFields(logrus.Fields{
		"duration": res.Duration,
		"errors":   len(res.Errors),
	}).Info("tick finished")
	return res, ctx.Err()
}

// runPhase times a phase and records its outcome.
func runPhase[T any](log logrus.FieldLogger, phase string, fn func() (T, error)) (T, error) {
	start := time.Now()
	out, err := fn()
	status := "ok"
	if err != nil {
		status = "error"
		log.WithError(err).WithField("phase", phase).Error("phase failed")
	}
	observability.RecordTickPhase(phase, status, time.Since(start).Seconds())
	return out, err
}

func pushTarget(p *domain.PushResult) string {
	if p.RealmID != nil {
		return fmt.Sprintf("realm %d", *p.RealmID)
	}
	return "stakes"
}

// readDistributed returns distributedTokens(), or zero when the call fails.
func (o *Orchestrator) readDistributed(ctx context.Context, log logrus.FieldLogger) *big.Int {
	distributed, err := chain.ReadDistributedTokens(ctx, o.caller, o.registry.Token.Address)
	if err != nil {
		log.WithError(err).Warn("distributedTokens() failed, recording 0")
		return new(big.Int)
	}
	return distributed
}

func (o *Orchestrator) computeStakes(ctx context.Context, log logrus.FieldLogger) (*domain.StakeDocument, error) {
	log = log.WithField("phase", PhaseStakes)
	token := o.registry.Token

	from, seed := o.stakeCursor(ctx, log)
	agg, err := o.agg.FetchStakes(ctx, token, from, seed)
	if err != nil {
		return nil, err
	}

	distributed := o.readDistributed(ctx, log)
	result, _, err := snapshot.Compute(agg, o.registry, distributed, log)
	if err != nil {
		return nil, fmt.Errorf("build stake tree: %w", err)
	}

	doc, err := newDocument(result, o.registry.Checksum(), o.now())
	if err != nil {
		return nil, err
	}
	if err := o.stakes.Save(ctx, doc); err != nil {
		return nil, err
	}
	if o.archive != nil {
		if err := o.archive.RecordStake(ctx, doc); err != nil {
			log.WithError(err).Warn("archive stake result")
		}
	}
	if o.useCheckpoints && agg.ToBlock > 0 {
		o.setCheckpoint(ctx, log, &domain.Checkpoint{
			Contract: token.Address,
			Event:    chain.EventTokensStaked,
			Block:    agg.ToBlock,
			ResultID: doc.ID,
		})
	}

	observability.MarkStakesComputed()
	log.WithFields(logrus.Fields{
		"id":      doc.ID,
		"root":    result.GlobalStakerMerkleRoot.Hex(),
		"stakers": result.TokenStats.NumberOfStakers,
		"events":  agg.EventCount,
		"skipped": agg.Skipped,
	}).Info("stake result computed")
	return doc, nil
}

func (o *Orchestrator) computeClaims(ctx context.Context, stakeDoc *domain.StakeDocument, log logrus.FieldLogger) (*domain.ClaimsDocument, error) {
	log = log.WithField("phase", PhaseClaims)

	if stakeDoc == nil {
		latest, err := o.stakes.Latest(ctx)
		if err != nil {
			return nil, fmt.Errorf("no stake result to derive claims from: %w", err)
		}
		log.WithField("stake_result_id", latest.ID).Warn("using last known good stake result")
		stakeDoc = latest
	}

	calc := claims.New(claims.Options{
		Registry:    o.registry,
		Revenue:     o.agg,
		Cursor:      o.revenueCursor(log),
		Concurrency: o.concurrency,
		Logger:      o.log,
	})
	out := calc.Compute(ctx, stakeDoc.Data, stakeDoc.ID)

	doc, err := newDocument(out.Result, o.registry.Checksum(), o.now())
	if err != nil {
		return nil, err
	}
	if err := o.claims.Save(ctx, doc); err != nil {
		return nil, err
	}
	if o.archive != nil {
		if err := o.archive.RecordClaims(ctx, doc); err != nil {
			log.WithError(err).Warn("archive claims result")
		}
	}
	if o.useCheckpoints {
		for _, realm := range o.registry.Realms {
			agg, ok := out.Revenue[realm.ID]
			if !ok || agg.ToBlock == 0 {
				continue
			}
			o.setCheckpoint(ctx, log, &domain.Checkpoint{
				Contract: realm.Address,
				Event:    chain.EventRevenueGenerated,
				Block:    agg.ToBlock,
				Total:    agg.Total,
				Events:   agg.EventCount,
			})
		}
	}

	observability.MarkClaimsComputed()
	log.WithFields(logrus.Fields{
		"id":     doc.ID,
		"realms": len(out.Result.Realms),
	}).Info("claims result computed")
	return doc, nil
}

func (o *Orchestrator) publish(ctx context.Context, stakeRoot *common.Hash, log logrus.FieldLogger) ([]*domain.PushResult, error) {
	if o.publisher == nil {
		return nil, o.publisherErr
	}

	// Stakes first, then realms in registry order.
	results := []*domain.PushResult{o.publisher.PushStakeRoot(ctx, stakeRoot)}
	claimResults, err := o.publisher.PushClaimRoots(ctx)
	results = append(results, claimResults...)
	if err != nil {
		log.WithError(err).Warn("claims roots not pushed")
	}
	return results, err
}

// stakeCursor resumes the stake fold from a valid checkpoint, otherwise reads from deployment.
func (o *Orchestrator) stakeCursor(ctx context.Context, log logrus.FieldLogger) (uint64, *domain.StakeAggregate) {
	token := o.registry.Token
	if !o.useCheckpoints {
		return token.DeploymentBlock, nil
	}

	cp, ok := o.checkpoint(ctx, log, token.Address, chain.EventTokensStaked)
	if !ok {
		return token.DeploymentBlock, nil
	}
	doc, err := o.stakes.GetByID(ctx, cp.ResultID)
	if err != nil || doc.Data == nil {
		log.WithError(err).WithField("result_id", cp.ResultID).Warn("checkpoint result unavailable, full rescan")
		return token.DeploymentBlock, nil
	}
	return cp.Block + 1, domain.StakeAggregateFromLeaves(doc.Data.LeafData, cp.Block)
}

// revenueCursor returns the claims cursor: checkpointed totals when enabled.
func (o *Orchestrator) revenueCursor(log logrus.FieldLogger) claims.Cursor {
	if !o.useCheckpoints {
		return claims.FromDeployment
	}
	return func(ctx context.Context, realm config.RealmConfig) (uint64, *domain.RevenueAggregate) {
		cp, ok := o.checkpoint(ctx, log, realm.Address, chain.EventRevenueGenerated)
		if !ok || cp.Total == nil {
			return realm.DeploymentBlock, nil
		}
		seed := domain.NewRevenueAggregate(realm.ID)
		seed.Total.Set(cp.Total)
		seed.EventCount = cp.Events
		seed.ToBlock = cp.Block
		return cp.Block + 1, seed
	}
}

// checkpoint loads a checkpoint valid for the current configuration.
func (o *Orchestrator) checkpoint(ctx context.Context, log logrus.FieldLogger, contract common.Address, event string) (*domain.Checkpoint, bool) {
	cp, err := o.checkpoints.Get(ctx, contract, event)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.WithError(err).Warn("load checkpoint")
		}
		return nil, false
	}
	if cp.ConfigChecksum != o.registry.Checksum() {
		log.WithField("contract", contract.Hex()).Info("checkpoint from another configuration, ignoring")
		return nil, false
	}
	return cp, true
}

func (o *Orchestrator) setCheckpoint(ctx context.Context, log logrus.FieldLogger, cp *domain.Checkpoint) {
	cp.ConfigChecksum = o.registry.Checksum()
	cp.UpdatedAt = o.now().UTC()
	if err := o.checkpoints.Set(ctx, cp); err != nil {
		log.WithError(err).Warn("save checkpoint")
	}
}

// newDocument wraps a result in its envelope. The id is the content checksum.
func newDocument[T any](data T, configChecksum string, now time.Time) (*domain.Document[T], error) {
	id, err := idhash.Checksum(data)
	if err != nil {
		return nil, fmt.Errorf("checksum result: %w", err)
	}
	return &domain.Document[T]{
		ID:             id,
		Timestamp:      now.UTC(),
		ConfigChecksum: configChecksum,
		Data:           data,
	}, nil
}
