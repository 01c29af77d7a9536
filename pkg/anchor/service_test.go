package anchor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/anchorstack/commitchain/pkg/anchor/state"
	"github.com/anchorstack/commitchain/pkg/blockchain"
	"github.com/anchorstack/commitchain/pkg/queue"
	types "github.com/anchorstack/commitchain/pkg/types/registry"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0).UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memoryState struct {
	mu       sync.Mutex
	inFlight map[types.Hash32]state.InFlightSubmission
	terminal map[types.Hash32]state.TerminalFailure
}

var _ state.Store = (*memoryState)(nil)

func newMemoryState() *memoryState {
	return &memoryState{
		inFlight: make(map[types.Hash32]state.InFlightSubmission),
		terminal: make(map[types.Hash32]state.TerminalFailure),
	}
}

func (s *memoryState) InFlight(ctx context.Context) ([]state.InFlightSubmission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	submissions := make([]state.InFlightSubmission, 0, len(s.inFlight))
	for _, submission := range s.inFlight {
		submissions = append(submissions, submission)
	}
	return submissions, nil
}

func (s *memoryState) GetInFlight(ctx context.Context, batchId types.Hash32) (state.InFlightSubmission, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	submission, ok := s.inFlight[batchId]
	return submission, ok, nil
}

func (s *memoryState) PutInFlight(ctx context.Context, submission state.InFlightSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inFlight[submission.BatchId] = submission
	return nil
}

func (s *memoryState) RemoveInFlight(ctx context.Context, batchId types.Hash32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.inFlight, batchId)
	return nil
}

func (s *memoryState) TerminalFailures(ctx context.Context) ([]state.TerminalFailure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	failures := make([]state.TerminalFailure, 0, len(s.terminal))
	for _, failure := range s.terminal {
		failures = append(failures, failure)
	}
	return failures, nil
}

func (s *memoryState) IsTerminal(ctx context.Context, batchId types.Hash32) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.terminal[batchId]
	return ok, nil
}

func (s *memoryState) MarkTerminal(ctx context.Context, failure state.TerminalFailure) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.terminal[failure.BatchId] = failure
	delete(s.inFlight, failure.BatchId)
	return nil
}

func (s *memoryState) Close(ctx context.Context) error {
	return nil
}

type fakeSubmitter struct {
	mu           sync.Mutex
	submitted    []types.SubmitRequest
	rejections   map[types.Hash32]error
	failuresLeft map[types.Hash32]int
	committed    map[types.Hash32]bool
	height       int64
}

var _ Submitter = (*fakeSubmitter)(nil)

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{
		rejections:   make(map[types.Hash32]error),
		failuresLeft: make(map[types.Hash32]int),
		committed:    make(map[types.Hash32]bool),
	}
}

func (f *fakeSubmitter) SubmitCommitment(ctx context.Context, req types.SubmitRequest) (queue.AnchorRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.submitted = append(f.submitted, req)

	if left := f.failuresLeft[req.BatchId]; left > 0 {
		f.failuresLeft[req.BatchId] = left - 1
		return queue.AnchorRef{}, errors.New("connection refused")
	}

	if err, ok := f.rejections[req.BatchId]; ok {
		return queue.AnchorRef{}, err
	}

	if f.committed[req.BatchId] {
		return queue.AnchorRef{}, &blockchain.TxError{
			Codespace: types.Codespace,
			Code:      types.CodeBatchAlreadyCommitted,
			Log:       "batch already committed",
		}
	}

	f.committed[req.BatchId] = true
	f.height++
	return queue.AnchorRef{
		TxHash: req.BatchId[:8],
		Height: f.height,
		Time:   time.Unix(1700000000, 0).UTC(),
	}, nil
}

func (f *fakeSubmitter) HasBatch(ctx context.Context, batchId types.Hash32) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.committed[batchId], nil
}

func (f *fakeSubmitter) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.submitted)
}

func (f *fakeSubmitter) submittedStarts() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	starts := make([]uint64, len(f.submitted))
	for i, req := range f.submitted {
		starts[i] = req.SequenceStart
	}
	return starts
}

type serviceEnv struct {
	svc       *Service
	queue     *queue.MemoryQueue
	store     *memoryState
	submitter *fakeSubmitter
	clock     *fakeClock
}

func newServiceEnv(t *testing.T, config Config) *serviceEnv {
	t.Helper()

	if config.InitialBackoff == 0 {
		config.InitialBackoff = time.Millisecond
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = 2 * time.Millisecond
	}

	env := &serviceEnv{
		queue:     queue.NewMemoryQueue(),
		store:     newMemoryState(),
		submitter: newFakeSubmitter(),
		clock:     newFakeClock(),
	}

	env.svc = NewService(config, zap.NewNop(), env.submitter, env.queue, env.store)
	env.svc.now = env.clock.Now

	return env
}

func (env *serviceEnv) enqueue(t *testing.T, pending queue.PendingCommitment) {
	t.Helper()
	if pending.CreatedAt.IsZero() {
		pending.CreatedAt = env.clock.Now()
	}
	require.NoError(t, env.queue.Enqueue(context.Background(), pending))
}

func testHash(b byte) types.Hash32 {
	var h types.Hash32
	h[0] = b
	return h
}

func pendingBatch(id byte, tenant byte, seqStart, seqEnd uint64, eventCount uint32) queue.PendingCommitment {
	return queue.PendingCommitment{
		BatchId:       testHash(id),
		TenantId:      testHash(tenant),
		StoreId:       testHash(tenant + 1),
		EventsRoot:    testHash(id + 50),
		PrevStateRoot: testHash(id + 100),
		NewStateRoot:  testHash(id + 150),
		SequenceStart: seqStart,
		SequenceEnd:   seqEnd,
		EventCount:    eventCount,
	}
}

func TestAnchorsPendingCommitments(t *testing.T) {
	env := newServiceEnv(t, Config{})

	first := pendingBatch(1, 10, 0, 4, 5)
	second := pendingBatch(2, 10, 5, 9, 5)
	env.enqueue(t, first)
	env.enqueue(t, second)

	env.svc.RunCycle(context.Background())

	ref, ok := env.queue.Acknowledged(first.BatchId)
	require.True(t, ok)
	require.NotEmpty(t, ref.TxHash)
	require.Positive(t, ref.Height)

	_, ok = env.queue.Acknowledged(second.BatchId)
	require.True(t, ok)

	count, err := env.queue.PendingCount(context.Background())
	require.NoError(t, err)
	require.Zero(t, count)

	inFlight, err := env.store.InFlight(context.Background())
	require.NoError(t, err)
	require.Empty(t, inFlight)

	stats := env.svc.Stats()
	require.Equal(t, uint64(2), stats.Anchored)
	require.Equal(t, uint64(10), stats.EventsAnchored)
	require.NotNil(t, stats.LastBatchId)
	require.Zero(t, stats.ConsecutiveFailures)
}

func TestDuplicateBatchConverges(t *testing.T) {
	env := newServiceEnv(t, Config{})

	pending := pendingBatch(1, 10, 0, 4, 5)
	env.submitter.committed[pending.BatchId] = true
	env.enqueue(t, pending)

	env.svc.RunCycle(context.Background())

	_, ok := env.queue.Acknowledged(pending.BatchId)
	require.True(t, ok)
	require.Equal(t, 1, env.submitter.submitCount())
	require.Equal(t, CircuitClosed, env.svc.BreakerState())
}

func TestPerKeyOrdering(t *testing.T) {
	env := newServiceEnv(t, Config{MaxConcurrentKeys: 1})

	// Enqueue out of sequence order
	env.enqueue(t, pendingBatch(3, 10, 10, 14, 5))
	env.enqueue(t, pendingBatch(1, 10, 0, 4, 5))
	env.enqueue(t, pendingBatch(2, 10, 5, 9, 5))

	env.svc.RunCycle(context.Background())

	require.Equal(t, []uint64{0, 5, 10}, env.submitter.submittedStarts())
}

func TestRetryableFailureEventuallySucceeds(t *testing.T) {
	env := newServiceEnv(t, Config{MaxRetries: 5})

	pending := pendingBatch(1, 10, 0, 4, 5)
	env.submitter.failuresLeft[pending.BatchId] = 2
	env.enqueue(t, pending)

	env.svc.RunCycle(context.Background())

	_, ok := env.queue.Acknowledged(pending.BatchId)
	require.True(t, ok)
	require.Equal(t, 3, env.submitter.submitCount())
	require.Equal(t, CircuitClosed, env.svc.BreakerState())
}

func TestPausedRegistryIsRetryable(t *testing.T) {
	env := newServiceEnv(t, Config{MaxRetries: 3, BreakerThreshold: 10})

	pending := pendingBatch(1, 10, 0, 4, 5)
	env.submitter.rejections[pending.BatchId] = &blockchain.TxError{
		Codespace: types.Codespace,
		Code:      types.CodePaused,
		Log:       "registry is paused",
	}
	env.enqueue(t, pending)

	env.svc.RunCycle(context.Background())

	// Still pending, not marked terminal
	_, ok := env.queue.Acknowledged(pending.BatchId)
	require.False(t, ok)

	terminal, err := env.store.IsTerminal(context.Background(), pending.BatchId)
	require.NoError(t, err)
	require.False(t, terminal)

	// All retries were spent
	require.Equal(t, 4, env.submitter.submitCount())
}

func TestTerminalFailureIsolatesBatch(t *testing.T) {
	env := newServiceEnv(t, Config{})

	rejected := pendingBatch(1, 10, 0, 4, 5)
	healthy := pendingBatch(2, 20, 0, 4, 7)
	env.submitter.rejections[rejected.BatchId] = &blockchain.TxError{
		Codespace: types.Codespace,
		Code:      types.CodeInvalidRange,
		Log:       "sequence end before start",
	}
	env.enqueue(t, rejected)
	env.enqueue(t, healthy)

	env.svc.RunCycle(context.Background())

	_, ok := env.queue.Acknowledged(healthy.BatchId)
	require.True(t, ok)

	_, ok = env.queue.Acknowledged(rejected.BatchId)
	require.False(t, ok)

	failures, err := env.store.TerminalFailures(context.Background())
	require.NoError(t, err)
	require.Len(t, failures, 1)
	require.Equal(t, rejected.BatchId, failures[0].BatchId)
	require.Equal(t, types.CodeInvalidRange, failures[0].Code)

	stats := env.svc.Stats()
	require.Equal(t, uint64(1), stats.Anchored)
	require.Equal(t, uint64(1), stats.FailedTerminal)

	// Terminal batches are excluded from later cycles
	submitted := env.submitter.submitCount()
	env.svc.RunCycle(context.Background())
	require.Equal(t, submitted, env.submitter.submitCount())
}

func TestTerminalFailureHaltsKeyForCycle(t *testing.T) {
	env := newServiceEnv(t, Config{})

	rejected := pendingBatch(1, 10, 0, 4, 5)
	successor := pendingBatch(2, 10, 5, 9, 5)
	env.submitter.rejections[rejected.BatchId] = &blockchain.TxError{
		Codespace: types.Codespace,
		Code:      types.CodeStateRootMismatch,
		Log:       "previous state root does not match head",
	}
	env.enqueue(t, rejected)
	env.enqueue(t, successor)

	env.svc.RunCycle(context.Background())

	// The successor shares the key and must not be attempted after the terminal rejection
	require.Equal(t, []uint64{0}, env.submitter.submittedStarts())

	// A healthy cycle can pick the successor up again later
	env.svc.RunCycle(context.Background())
	require.Equal(t, []uint64{0, 5}, env.submitter.submittedStarts())

	_, ok := env.queue.Acknowledged(successor.BatchId)
	require.True(t, ok)
}

func TestReadinessPolicySkipsSmallFreshBatches(t *testing.T) {
	env := newServiceEnv(t, Config{MinEventCount: 10, MaxAnchorLag: time.Minute})

	small := pendingBatch(1, 10, 0, 2, 3)
	large := pendingBatch(2, 20, 0, 19, 20)
	stale := pendingBatch(3, 30, 0, 2, 3)
	stale.CreatedAt = env.clock.Now().Add(-2 * time.Minute)

	env.enqueue(t, small)
	env.enqueue(t, large)
	env.enqueue(t, stale)

	env.svc.RunCycle(context.Background())

	_, ok := env.queue.Acknowledged(small.BatchId)
	require.False(t, ok)

	_, ok = env.queue.Acknowledged(large.BatchId)
	require.True(t, ok)

	// Lagging small batch is force-submitted
	_, ok = env.queue.Acknowledged(stale.BatchId)
	require.True(t, ok)

	// Once the small batch is old enough, it goes through too
	env.clock.Advance(2 * time.Minute)
	env.svc.RunCycle(context.Background())

	_, ok = env.queue.Acknowledged(small.BatchId)
	require.True(t, ok)
}

func TestNotReadyPredecessorHoldsBackSuccessor(t *testing.T) {
	env := newServiceEnv(t, Config{MinEventCount: 10, MaxAnchorLag: time.Minute})

	// Same key: a small fresh batch followed by a full one
	predecessor := pendingBatch(1, 10, 0, 2, 3)
	successor := pendingBatch(2, 10, 3, 20, 18)
	env.enqueue(t, predecessor)
	env.enqueue(t, successor)

	env.svc.RunCycle(context.Background())

	// The successor must wait for the predecessor, not jump the sequence
	require.Zero(t, env.submitter.submitCount())

	terminal, err := env.store.IsTerminal(context.Background(), successor.BatchId)
	require.NoError(t, err)
	require.False(t, terminal)

	// Once the predecessor exceeds the lag bound, both anchor in order
	env.clock.Advance(2 * time.Minute)
	env.svc.RunCycle(context.Background())

	require.Equal(t, []uint64{0, 3}, env.submitter.submittedStarts())

	_, ok := env.queue.Acknowledged(predecessor.BatchId)
	require.True(t, ok)

	_, ok = env.queue.Acknowledged(successor.BatchId)
	require.True(t, ok)
}

func TestRetryExhaustionDoesNotBlockOtherKeys(t *testing.T) {
	env := newServiceEnv(t, Config{MaxRetries: 1, MaxConcurrentKeys: 2, BreakerThreshold: 10})

	failing := pendingBatch(1, 10, 0, 4, 5)
	healthy := pendingBatch(2, 20, 0, 4, 7)
	env.submitter.failuresLeft[failing.BatchId] = 1000
	env.enqueue(t, failing)
	env.enqueue(t, healthy)

	env.svc.RunCycle(context.Background())

	// The independent key completes its submission despite the other key's exhaustion
	_, ok := env.queue.Acknowledged(healthy.BatchId)
	require.True(t, ok)

	_, ok = env.queue.Acknowledged(failing.BatchId)
	require.False(t, ok)

	terminal, err := env.store.IsTerminal(context.Background(), failing.BatchId)
	require.NoError(t, err)
	require.False(t, terminal)

	require.Equal(t, 1, env.svc.Stats().ConsecutiveFailures)
}

func TestInFlightAttemptsAccumulateAcrossCycles(t *testing.T) {
	env := newServiceEnv(t, Config{MaxRetries: 1, BreakerThreshold: 10})

	pending := pendingBatch(1, 10, 0, 4, 5)
	env.submitter.failuresLeft[pending.BatchId] = 1000
	env.enqueue(t, pending)

	env.svc.RunCycle(context.Background())

	record, ok, err := env.store.GetInFlight(context.Background(), pending.BatchId)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, record.Attempts)
	firstAttempt := record.FirstAttempt

	env.clock.Advance(time.Minute)
	env.svc.RunCycle(context.Background())

	record, ok, err = env.store.GetInFlight(context.Background(), pending.BatchId)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, record.Attempts)
	require.True(t, record.FirstAttempt.Equal(firstAttempt))
	require.True(t, record.LastAttempt.After(firstAttempt))

	// A successful submission clears the record
	env.submitter.mu.Lock()
	env.submitter.failuresLeft[pending.BatchId] = 0
	env.submitter.mu.Unlock()

	env.svc.RunCycle(context.Background())

	_, ok, err = env.store.GetInFlight(context.Background(), pending.BatchId)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBreakerOpensAfterRepeatedCycleFailures(t *testing.T) {
	env := newServiceEnv(t, Config{
		MaxRetries:       1,
		BreakerThreshold: 2,
		BreakerCooldown:  time.Minute,
	})

	pending := pendingBatch(1, 10, 0, 4, 5)
	env.submitter.failuresLeft[pending.BatchId] = 1000
	env.enqueue(t, pending)

	env.svc.RunCycle(context.Background())
	require.Equal(t, CircuitClosed, env.svc.BreakerState())

	env.svc.RunCycle(context.Background())
	require.Equal(t, CircuitOpen, env.svc.BreakerState())

	// Open breaker skips cycles entirely
	submitted := env.submitter.submitCount()
	env.svc.RunCycle(context.Background())
	require.Equal(t, submitted, env.submitter.submitCount())

	// After the cooldown a probe cycle runs; let it succeed and close the breaker
	env.clock.Advance(2 * time.Minute)
	env.submitter.mu.Lock()
	env.submitter.failuresLeft[pending.BatchId] = 0
	env.submitter.mu.Unlock()

	env.svc.RunCycle(context.Background())
	require.Equal(t, CircuitClosed, env.svc.BreakerState())

	_, ok := env.queue.Acknowledged(pending.BatchId)
	require.True(t, ok)
}

func TestReconcileAcknowledgesCommittedInFlight(t *testing.T) {
	env := newServiceEnv(t, Config{})

	committed := pendingBatch(1, 10, 0, 4, 5)
	unknown := pendingBatch(2, 20, 0, 4, 5)
	env.enqueue(t, committed)
	env.enqueue(t, unknown)

	// Simulate a crash after submitting the first batch but before acknowledging it
	env.submitter.committed[committed.BatchId] = true
	for _, pending := range []queue.PendingCommitment{committed, unknown} {
		require.NoError(t, env.store.PutInFlight(context.Background(), state.InFlightSubmission{
			BatchId:       pending.BatchId,
			TenantId:      pending.TenantId,
			StoreId:       pending.StoreId,
			SequenceStart: pending.SequenceStart,
			Attempts:      1,
			FirstAttempt:  env.clock.Now(),
			LastAttempt:   env.clock.Now(),
		}))
	}

	require.NoError(t, env.svc.Reconcile(context.Background()))

	// The committed batch converged without a resubmission
	_, ok := env.queue.Acknowledged(committed.BatchId)
	require.True(t, ok)
	require.Zero(t, env.submitter.submitCount())

	// The unconfirmed batch stays in-flight and pending
	inFlight, err := env.store.InFlight(context.Background())
	require.NoError(t, err)
	require.Len(t, inFlight, 1)
	require.Equal(t, unknown.BatchId, inFlight[0].BatchId)

	// The next cycle resubmits it
	env.svc.RunCycle(context.Background())
	_, ok = env.queue.Acknowledged(unknown.BatchId)
	require.True(t, ok)
}

func TestIdempotentAcrossRestart(t *testing.T) {
	env := newServiceEnv(t, Config{})

	pending := pendingBatch(1, 10, 0, 4, 5)
	env.enqueue(t, pending)
	env.svc.RunCycle(context.Background())

	_, ok := env.queue.Acknowledged(pending.BatchId)
	require.True(t, ok)

	// A restarted process sharing the same queue and registry sees nothing to do
	restarted := NewService(Config{}, zap.NewNop(), env.submitter, env.queue, newMemoryState())
	restarted.now = env.clock.Now

	require.NoError(t, restarted.Reconcile(context.Background()))
	restarted.RunCycle(context.Background())

	require.Equal(t, 1, env.submitter.submitCount())
	require.Equal(t, uint64(0), restarted.Stats().Anchored)
}
