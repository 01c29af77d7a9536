package queue

import (
	"context"
	"testing"
	"time"

	types "github.com/anchorstack/commitchain/pkg/types/registry"
	"github.com/stretchr/testify/require"
)

func pendingBatch(id byte, createdAt time.Time) PendingCommitment {
	return PendingCommitment{
		BatchId:       types.Sha256([]byte{id}),
		TenantId:      types.Sha256([]byte("tenant")),
		StoreId:       types.Sha256([]byte("store")),
		EventsRoot:    types.Sha256([]byte{'r', id}),
		PrevStateRoot: types.Sha256([]byte{'p', id}),
		NewStateRoot:  types.Sha256([]byte{'n', id}),
		SequenceStart: uint64(id) * 10,
		SequenceEnd:   uint64(id)*10 + 9,
		EventCount:    10,
		CreatedAt:     createdAt,
	}
}

func TestListOrderedOldestFirst(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	base := time.Unix(1700000000, 0)
	newer := pendingBatch(2, base.Add(time.Minute))
	older := pendingBatch(1, base)

	require.NoError(t, q.Enqueue(ctx, newer))
	require.NoError(t, q.Enqueue(ctx, older))

	records, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, older.BatchId, records[0].BatchId)
	require.Equal(t, newer.BatchId, records[1].BatchId)
}

func TestEnqueueDuplicateRejected(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	pending := pendingBatch(1, time.Now())
	require.NoError(t, q.Enqueue(ctx, pending))
	require.ErrorIs(t, q.Enqueue(ctx, pending), ErrAlreadyEnqueued)
}

func TestAcknowledgeRemovesFromPending(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	pending := pendingBatch(1, time.Now())
	require.NoError(t, q.Enqueue(ctx, pending))

	ref := AnchorRef{TxHash: []byte{0xaa}, Height: 42, Time: time.Now()}
	require.NoError(t, q.Acknowledge(ctx, pending.BatchId, ref))

	records, err := q.List(ctx)
	require.NoError(t, err)
	require.Empty(t, records)

	stored, ok := q.Acknowledged(pending.BatchId)
	require.True(t, ok)
	require.Equal(t, int64(42), stored.Height)

	count, err := q.PendingCount(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestAcknowledgeIdempotent(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	pending := pendingBatch(1, time.Now())
	require.NoError(t, q.Enqueue(ctx, pending))

	ref := AnchorRef{TxHash: []byte{0xaa}, Height: 42}
	require.NoError(t, q.Acknowledge(ctx, pending.BatchId, ref))
	require.NoError(t, q.Acknowledge(ctx, pending.BatchId, AnchorRef{Height: 99}))

	// First acknowledgement wins
	stored, ok := q.Acknowledged(pending.BatchId)
	require.True(t, ok)
	require.Equal(t, int64(42), stored.Height)
}

func TestAcknowledgeUnknownBatch(t *testing.T) {
	q := NewMemoryQueue()

	err := q.Acknowledge(context.Background(), types.Sha256([]byte("missing")), AnchorRef{})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReEnqueueAfterAcknowledgeRejected(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	pending := pendingBatch(1, time.Now())
	require.NoError(t, q.Enqueue(ctx, pending))
	require.NoError(t, q.Acknowledge(ctx, pending.BatchId, AnchorRef{}))

	require.ErrorIs(t, q.Enqueue(ctx, pending), ErrAlreadyEnqueued)
}
