package anchor

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/anchorstack/commitchain/pkg/anchor/state"
	"github.com/anchorstack/commitchain/pkg/blockchain"
	"github.com/anchorstack/commitchain/pkg/queue"
	types "github.com/anchorstack/commitchain/pkg/types/registry"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Submitter is the slice of the chain client the anchor process needs.
type Submitter interface {
	SubmitCommitment(ctx context.Context, req types.SubmitRequest) (queue.AnchorRef, error)
	HasBatch(ctx context.Context, batchId types.Hash32) (bool, error)
}

var _ Submitter = (*blockchain.RoundRobinClient)(nil)

type Config struct {
	PollInterval      time.Duration
	CycleTimeout      time.Duration
	MinEventCount     uint32
	MaxAnchorLag      time.Duration
	MaxConcurrentKeys int
	MaxRetries        uint64
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BreakerThreshold  int
	BreakerCooldown   time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = 2 * time.Minute
	}
	if c.MaxAnchorLag <= 0 {
		c.MaxAnchorLag = 5 * time.Minute
	}
	if c.MaxConcurrentKeys <= 0 {
		c.MaxConcurrentKeys = 4
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 15 * time.Second
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	return c
}

// Service drives pending commitments from the queue onto the registry. Batches sharing a
// tenant/store key are submitted strictly in sequence order; independent keys run concurrently.
type Service struct {
	config  Config
	logger  *zap.Logger
	client  Submitter
	queue   queue.Queue
	store   state.Store
	stats   *Stats
	breaker *CircuitBreaker

	now func() time.Time
}

func NewService(
	config Config,
	logger *zap.Logger,
	client Submitter,
	pending queue.Queue,
	store state.Store,
) *Service {
	config = config.withDefaults()

	return &Service{
		config:  config,
		logger:  logger,
		client:  client,
		queue:   pending,
		store:   store,
		stats:   NewStats(),
		breaker: NewCircuitBreaker(config.BreakerThreshold, config.BreakerCooldown),
		now:     time.Now,
	}
}

func (s *Service) Stats() StatsSnapshot {
	return s.stats.Snapshot()
}

func (s *Service) BreakerState() CircuitState {
	return s.breaker.State()
}

// StartLoop reconciles any in-flight submissions left by a previous run, then anchors pending
// commitments on each tick until shutdown. A cycle in progress completes before shutdown is
// acknowledged.
func (s *Service) StartLoop(shutdownCh chan chan error) {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	if err := s.Reconcile(context.Background()); err != nil {
		s.logger.Error("Failed to reconcile in-flight submissions at startup", zap.Error(err))
	}

	for {
		select {
		case ch := <-shutdownCh:
			ch <- nil
			return
		case <-ticker.C:
			s.RunCycle(context.Background())
		}
	}
}

// Reconcile resolves submissions recorded in-flight before a crash. The registry is the source
// of truth: batches it already holds are acknowledged and forgotten, everything else stays
// pending and is resubmitted by the normal cycle.
func (s *Service) Reconcile(ctx context.Context) error {
	submissions, err := s.store.InFlight(ctx)
	if err != nil {
		return err
	}

	for _, submission := range submissions {
		committed, err := s.client.HasBatch(ctx, submission.BatchId)
		if err != nil {
			s.logger.Warn(
				"Failed to check batch during reconciliation, leaving in-flight",
				zap.String("batch_id", submission.BatchId.String()),
				zap.Error(err),
			)
			continue
		}

		if !committed {
			continue
		}

		// The submit landed but we crashed before acknowledging. The tx reference is lost, so
		// record the acknowledgement with the reconciliation time only.
		if err := s.queue.Acknowledge(ctx, submission.BatchId, queue.AnchorRef{Time: s.now()}); err != nil && !errorIsNotFound(err) {
			return err
		}

		if err := s.store.RemoveInFlight(ctx, submission.BatchId); err != nil {
			return err
		}

		s.logger.Info(
			"Reconciled in-flight submission, batch was already committed",
			zap.String("batch_id", submission.BatchId.String()),
		)
	}

	return nil
}

// RunCycle performs one anchoring pass over the pending queue.
func (s *Service) RunCycle(ctx context.Context) {
	if !s.breaker.Allow(s.now()) {
		s.logger.Warn("Circuit breaker is open, skipping anchoring cycle")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.CycleTimeout)
	defer cancel()

	pending, err := s.queue.List(ctx)
	if err != nil {
		s.logger.Error("Failed to list pending commitments", zap.Error(err))
		s.stats.RecordCycleFailure()
		s.breaker.RecordFailure(s.now())
		return
	}

	groups := make([][]queue.PendingCommitment, 0)
	for _, batches := range groupByKey(pending) {
		ready, err := s.readyPrefix(ctx, batches)
		if err != nil {
			s.logger.Error("Failed to filter pending commitments", zap.Error(err))
			s.stats.RecordCycleFailure()
			s.breaker.RecordFailure(s.now())
			return
		}

		if len(ready) > 0 {
			groups = append(groups, ready)
		}
	}

	if len(groups) == 0 {
		s.breaker.RecordSuccess()
		return
	}

	// No derived cancel context: one key's failure must not abort another key's submissions.
	var group errgroup.Group
	group.SetLimit(s.config.MaxConcurrentKeys)

	for _, batches := range groups {
		batches := batches
		group.Go(func() error {
			return s.anchorKey(ctx, batches)
		})
	}

	if err := group.Wait(); err != nil {
		s.logger.Error("Anchoring cycle completed with failures", zap.Error(err))
		s.stats.RecordCycleFailure()
		s.breaker.RecordFailure(s.now())
		return
	}

	s.stats.RecordCycleSuccess()
	s.breaker.RecordSuccess()
}

// readyPrefix applies the readiness policy to one key's sequence-ordered batches. Batches
// marked terminal are passed over, since their successors may legitimately proceed. A batch
// that is merely not ready (small and within the anchor lag bound) halts the key instead:
// submitting its successor first would break sequence continuity and poison the successor
// with a rejection it never deserved.
func (s *Service) readyPrefix(ctx context.Context, batches []queue.PendingCommitment) ([]queue.PendingCommitment, error) {
	now := s.now()

	ready := make([]queue.PendingCommitment, 0, len(batches))
	for _, commitment := range batches {
		terminal, err := s.store.IsTerminal(ctx, commitment.BatchId)
		if err != nil {
			return nil, err
		}
		if terminal {
			continue
		}

		if commitment.EventCount < s.config.MinEventCount && commitment.Age(now) <= s.config.MaxAnchorLag {
			break
		}

		ready = append(ready, commitment)
	}

	return ready, nil
}

// errKeyHalted stops one key's remaining batches after a terminal rejection without marking
// the whole cycle failed.
var errKeyHalted = errors.New("key halted after terminal failure")

// anchorKey submits one key's batches in sequence order. A failure stops the key for this
// cycle, as later batches would break continuity anyway.
func (s *Service) anchorKey(ctx context.Context, batches []queue.PendingCommitment) error {
	for _, commitment := range batches {
		if err := s.anchorOne(ctx, commitment); err != nil {
			if errors.Is(err, errKeyHalted) {
				return nil
			}

			return err
		}
	}

	return nil
}

func (s *Service) anchorOne(ctx context.Context, commitment queue.PendingCommitment) error {
	now := s.now()
	record := state.InFlightSubmission{
		BatchId:       commitment.BatchId,
		TenantId:      commitment.TenantId,
		StoreId:       commitment.StoreId,
		SequenceStart: commitment.SequenceStart,
		Attempts:      1,
		FirstAttempt:  now,
		LastAttempt:   now,
	}

	// Carry attempt history forward for batches retried across cycles or restarts
	if existing, ok, err := s.store.GetInFlight(ctx, commitment.BatchId); err != nil {
		return err
	} else if ok {
		record.Attempts = existing.Attempts + 1
		record.FirstAttempt = existing.FirstAttempt
	}

	if err := s.store.PutInFlight(ctx, record); err != nil {
		return err
	}

	var ref queue.AnchorRef
	operation := func() error {
		var err error
		ref, err = s.client.SubmitCommitment(ctx, commitment.SubmitRequest())
		if err == nil {
			return nil
		}

		if blockchain.IsDuplicateBatch(err) {
			// Already committed, converge by acknowledging.
			ref = queue.AnchorRef{Time: s.now()}
			return nil
		}

		if blockchain.IsTerminal(err) {
			return backoff.Permanent(err)
		}

		s.logger.Warn(
			"Submission failed, retrying",
			zap.String("batch_id", commitment.BatchId.String()),
			zap.Error(err),
		)
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.config.InitialBackoff
	policy.MaxInterval = s.config.MaxBackoff

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, s.config.MaxRetries), ctx))
	if err != nil {
		if blockchain.IsTerminal(err) {
			return s.failTerminal(ctx, commitment, err)
		}

		return err
	}

	if err := s.queue.Acknowledge(ctx, commitment.BatchId, ref); err != nil && !errorIsNotFound(err) {
		return err
	}

	if err := s.store.RemoveInFlight(ctx, commitment.BatchId); err != nil {
		return err
	}

	s.stats.RecordAnchored(commitment.BatchId, commitment.EventCount, s.now())
	s.logger.Info(
		"Anchored batch commitment",
		zap.String("batch_id", commitment.BatchId.String()),
		zap.Uint64("sequence_start", commitment.SequenceStart),
		zap.Uint64("sequence_end", commitment.SequenceEnd),
		zap.Int64("height", ref.Height),
	)

	return nil
}

// failTerminal records a non-retryable rejection so the batch is excluded from future cycles,
// then halts the key. Other keys are unaffected and the cycle itself stays healthy.
func (s *Service) failTerminal(ctx context.Context, commitment queue.PendingCommitment, cause error) error {
	failure := state.TerminalFailure{
		BatchId:  commitment.BatchId,
		Log:      cause.Error(),
		FailedAt: s.now(),
	}

	if txErr, ok := blockchain.AsTxError(cause); ok {
		failure.Codespace = txErr.Codespace
		failure.Code = txErr.Code
	}

	if err := s.store.MarkTerminal(ctx, failure); err != nil {
		return err
	}

	s.stats.RecordTerminalFailure()
	s.logger.Error(
		"Batch commitment rejected with a terminal code, operator intervention required",
		zap.String("batch_id", commitment.BatchId.String()),
		zap.String("codespace", failure.Codespace),
		zap.Uint32("code", failure.Code),
		zap.String("log", failure.Log),
	)

	return errKeyHalted
}

func groupByKey(pending []queue.PendingCommitment) map[types.TenantStoreKey][]queue.PendingCommitment {
	groups := make(map[types.TenantStoreKey][]queue.PendingCommitment)
	for _, commitment := range pending {
		key := commitment.Key()
		groups[key] = append(groups[key], commitment)
	}

	for _, batches := range groups {
		sort.Slice(batches, func(i, j int) bool {
			return batches[i].SequenceStart < batches[j].SequenceStart
		})
	}

	return groups
}

func errorIsNotFound(err error) bool {
	return errors.Is(err, queue.ErrNotFound)
}
