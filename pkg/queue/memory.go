package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	types "github.com/anchorstack/commitchain/pkg/types/registry"
	"github.com/google/uuid"
)

// MemoryQueue is an in-memory Queue used by tests and local development.
type MemoryQueue struct {
	mu           sync.Mutex
	pending      map[types.Hash32]PendingCommitment
	acknowledged map[types.Hash32]AnchorRef
}

var _ Queue = (*MemoryQueue)(nil)

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		pending:      make(map[types.Hash32]PendingCommitment),
		acknowledged: make(map[types.Hash32]AnchorRef),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, pending PendingCommitment) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.pending[pending.BatchId]; ok {
		return ErrAlreadyEnqueued
	}
	if _, ok := q.acknowledged[pending.BatchId]; ok {
		return ErrAlreadyEnqueued
	}

	if pending.Id == "" {
		pending.Id = uuid.New().String()
	}
	if pending.CreatedAt.IsZero() {
		pending.CreatedAt = time.Now()
	}

	q.pending[pending.BatchId] = pending
	return nil
}

func (q *MemoryQueue) List(ctx context.Context) ([]PendingCommitment, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	records := make([]PendingCommitment, 0, len(q.pending))
	for _, pending := range q.pending {
		records = append(records, pending)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].SequenceStart < records[j].SequenceStart
		}

		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})

	return records, nil
}

func (q *MemoryQueue) Acknowledge(ctx context.Context, batchId types.Hash32, ref AnchorRef) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.acknowledged[batchId]; ok {
		return nil
	}

	if _, ok := q.pending[batchId]; !ok {
		return ErrNotFound
	}

	delete(q.pending, batchId)
	q.acknowledged[batchId] = ref
	return nil
}

func (q *MemoryQueue) PendingCount(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return int64(len(q.pending)), nil
}

func (q *MemoryQueue) TestConnection() error {
	return nil
}

// Acknowledged reports whether a batch was acknowledged, and with which anchor reference.
func (q *MemoryQueue) Acknowledged(batchId types.Hash32) (AnchorRef, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ref, ok := q.acknowledged[batchId]
	return ref, ok
}
