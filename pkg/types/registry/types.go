package registry

import (
	"time"

	"github.com/anchorstack/commitchain/pkg/types/identity"
)

const AppName = "registry"

// BatchCommitment is the on-chain record for one anchored batch. Created exactly once by a
// successful submit; never mutated or deleted afterwards.
type BatchCommitment struct {
	BatchId       Hash32             `json:"batch_id"`
	TenantId      Hash32             `json:"tenant_id"`
	StoreId       Hash32             `json:"store_id"`
	EventsRoot    Hash32             `json:"events_root"`
	PrevStateRoot Hash32             `json:"prev_state_root"`
	NewStateRoot  Hash32             `json:"new_state_root"`
	SequenceStart uint64             `json:"sequence_start"` // Inclusive
	SequenceEnd   uint64             `json:"sequence_end"`   // Inclusive
	EventCount    uint32             `json:"event_count"`
	Submitter     identity.Principal `json:"submitter"`
	Timestamp     time.Time          `json:"timestamp"` // Zero time means "does not exist"
}

func (c BatchCommitment) Key() TenantStoreKey {
	return DeriveTenantStoreKey(c.TenantId, c.StoreId)
}

func (c BatchCommitment) Exists() bool {
	return !c.Timestamp.IsZero()
}

// StarkProofCommitment is an optional compliance-proof attachment, at most one per batch. Its
// claimed state roots must match the referenced batch's.
type StarkProofCommitment struct {
	BatchId       Hash32             `json:"batch_id"`
	ProofHash     Hash32             `json:"proof_hash"`
	PrevStateRoot Hash32             `json:"prev_state_root"`
	NewStateRoot  Hash32             `json:"new_state_root"`
	PolicyHash    Hash32             `json:"policy_hash"`
	PolicyLimit   uint64             `json:"policy_limit"`
	AllCompliant  bool               `json:"all_compliant"`
	ProofSize     uint64             `json:"proof_size"`
	ProvingTimeMs uint64             `json:"proving_time_ms"`
	Submitter     identity.Principal `json:"submitter"`
	Timestamp     time.Time          `json:"timestamp"`
}

// ChainHead tracks the latest accepted commitment per tenant/store key. Updated atomically with
// each accepted commitment for that key.
type ChainHead struct {
	LatestCommitment Hash32 `json:"latest_commitment"`
	HeadSequence     uint64 `json:"head_sequence"`
	LatestStateRoot  Hash32 `json:"latest_state_root"`
	BatchCount       uint64 `json:"batch_count"`
}

func (h ChainHead) Exists() bool {
	return h.BatchCount > 0
}
