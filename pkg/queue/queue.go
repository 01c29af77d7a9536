package queue

import (
	"context"
	"time"

	types "github.com/anchorstack/commitchain/pkg/types/registry"
	"github.com/pkg/errors"
)

// PendingCommitment is one batch waiting to be anchored. Rows are produced by the commerce event
// pipeline and consumed by the anchor process; delivery is at-least-once, so consumers must
// de-duplicate by batch id.
type PendingCommitment struct {
	Id            string       `json:"id"`
	BatchId       types.Hash32 `json:"batch_id"`
	TenantId      types.Hash32 `json:"tenant_id"`
	StoreId       types.Hash32 `json:"store_id"`
	EventsRoot    types.Hash32 `json:"events_root"`
	PrevStateRoot types.Hash32 `json:"prev_state_root"`
	NewStateRoot  types.Hash32 `json:"new_state_root"`
	SequenceStart uint64       `json:"sequence_start"`
	SequenceEnd   uint64       `json:"sequence_end"`
	EventCount    uint32       `json:"event_count"`
	CreatedAt     time.Time    `json:"created_at"`
}

func (p PendingCommitment) Key() types.TenantStoreKey {
	return types.DeriveTenantStoreKey(p.TenantId, p.StoreId)
}

func (p PendingCommitment) SubmitRequest() types.SubmitRequest {
	return types.SubmitRequest{
		BatchId:       p.BatchId,
		TenantId:      p.TenantId,
		StoreId:       p.StoreId,
		EventsRoot:    p.EventsRoot,
		PrevStateRoot: p.PrevStateRoot,
		NewStateRoot:  p.NewStateRoot,
		SequenceStart: p.SequenceStart,
		SequenceEnd:   p.SequenceEnd,
		EventCount:    p.EventCount,
	}
}

func (p PendingCommitment) Age(now time.Time) time.Duration {
	return now.Sub(p.CreatedAt)
}

// AnchorRef records where a batch landed on chain.
type AnchorRef struct {
	TxHash []byte    `json:"tx_hash"`
	Height int64     `json:"height"`
	Time   time.Time `json:"time"`
}

var (
	ErrNotFound        = errors.New("pending commitment not found")
	ErrAlreadyEnqueued = errors.New("batch is already enqueued")
)

// Queue is the pending-commitment feed. List returns unacknowledged records oldest-first;
// Acknowledge marks a batch anchored and is idempotent.
type Queue interface {
	Enqueue(ctx context.Context, pending PendingCommitment) error
	List(ctx context.Context) ([]PendingCommitment, error)
	Acknowledge(ctx context.Context, batchId types.Hash32, ref AnchorRef) error
	PendingCount(ctx context.Context) (int64, error)
	TestConnection() error
}
