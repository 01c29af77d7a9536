package state

import (
	"context"
	"time"

	types "github.com/anchorstack/commitchain/pkg/types/registry"
)

// InFlightSubmission records a commitment that has been handed to the registry but not yet
// confirmed. Records survive process restarts so the anchor process can reconcile on startup
// instead of blindly resubmitting.
type InFlightSubmission struct {
	BatchId       types.Hash32 `json:"batch_id"`
	TenantId      types.Hash32 `json:"tenant_id"`
	StoreId       types.Hash32 `json:"store_id"`
	SequenceStart uint64       `json:"sequence_start"`
	Attempts      int          `json:"attempts"`
	FirstAttempt  time.Time    `json:"first_attempt"`
	LastAttempt   time.Time    `json:"last_attempt"`
}

// TerminalFailure records a commitment the registry rejected with a non-retryable code. Kept
// so restarts do not resurrect batches an operator must fix by hand.
type TerminalFailure struct {
	BatchId   types.Hash32 `json:"batch_id"`
	Codespace string       `json:"codespace"`
	Code      uint32       `json:"code"`
	Log       string       `json:"log"`
	FailedAt  time.Time    `json:"failed_at"`
}

type Store interface {
	InFlight(ctx context.Context) ([]InFlightSubmission, error)
	GetInFlight(ctx context.Context, batchId types.Hash32) (InFlightSubmission, bool, error)
	PutInFlight(ctx context.Context, submission InFlightSubmission) error
	RemoveInFlight(ctx context.Context, batchId types.Hash32) error

	TerminalFailures(ctx context.Context) ([]TerminalFailure, error)
	IsTerminal(ctx context.Context, batchId types.Hash32) (bool, error)
	MarkTerminal(ctx context.Context, failure TerminalFailure) error

	Close(ctx context.Context) error
}
