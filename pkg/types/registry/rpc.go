package registry

import (
	"crypto/ed25519"

	"github.com/anchorstack/commitchain/pkg/types/identity"
	"github.com/anchorstack/commitchain/pkg/types/rpc"
)

const (
	RequestTypeSubmit           rpc.RequestType = "submit"
	RequestTypeAttachProof      rpc.RequestType = "attach_proof"
	RequestTypeSeed             rpc.RequestType = "seed"
	RequestTypeSetAuthorization rpc.RequestType = "set_authorization"
	RequestTypeSetStrictMode    rpc.RequestType = "set_strict_mode"
	RequestTypeSetPaused        rpc.RequestType = "set_paused"
)

type SubmitRequest struct {
	BatchId       Hash32 `json:"batch_id"`
	TenantId      Hash32 `json:"tenant_id"`
	StoreId       Hash32 `json:"store_id"`
	EventsRoot    Hash32 `json:"events_root"`
	PrevStateRoot Hash32 `json:"prev_state_root"`
	NewStateRoot  Hash32 `json:"new_state_root"`
	SequenceStart uint64 `json:"sequence_start"`
	SequenceEnd   uint64 `json:"sequence_end"`
	EventCount    uint32 `json:"event_count"`
}

func (r SubmitRequest) Key() TenantStoreKey {
	return DeriveTenantStoreKey(r.TenantId, r.StoreId)
}

type SubmitResponse struct {
	Commitment BatchCommitment `json:"commitment"`
}

type AttachProofRequest struct {
	BatchId       Hash32 `json:"batch_id"`
	ProofHash     Hash32 `json:"proof_hash"`
	PrevStateRoot Hash32 `json:"prev_state_root"`
	NewStateRoot  Hash32 `json:"new_state_root"`
	PolicyHash    Hash32 `json:"policy_hash"`
	PolicyLimit   uint64 `json:"policy_limit"`
	AllCompliant  bool   `json:"all_compliant"`
	ProofSize     uint64 `json:"proof_size"`
	ProvingTimeMs uint64 `json:"proving_time_ms"`
}

type AttachProofResponse struct {
	Proof StarkProofCommitment `json:"proof"`
}

// SeedRequest bootstraps the first admin principal. Accepted exactly once, at genesis.
type SeedRequest struct {
	Principal identity.Principal `json:"principal"`
	Key       ed25519.PublicKey  `json:"key"`
}

type AuthorizationEntry struct {
	Principal identity.Principal `json:"principal"`
	PublicKey ed25519.PublicKey  `json:"public_key"`
	Allowed   bool               `json:"allowed"`
}

// SetAuthorizationRequest grants or revokes submission rights. Multiple entries apply
// atomically, so batch grant/revoke is the single-entry case generalised.
type SetAuthorizationRequest struct {
	Entries []AuthorizationEntry `json:"entries"`
}

type SetStrictModeRequest struct {
	Enabled bool `json:"enabled"`
}

type SetPausedRequest struct {
	Paused bool `json:"paused"`
}

// Query payloads. Verification failure is a boolean outcome, never an error code.
type VerifyInclusionRequest struct {
	BatchId Hash32   `json:"batch_id"`
	Leaf    Hash32   `json:"leaf"`
	Path    []Hash32 `json:"path"`
	Index   uint64   `json:"index"`
}

type VerifyInclusionResponse struct {
	Included bool `json:"included"`
}

type VerifyMultiRequest struct {
	Items []VerifyInclusionRequest `json:"items"`
}

type TenantStorePair struct {
	TenantId Hash32 `json:"tenant_id"`
	StoreId  Hash32 `json:"store_id"`
}

type HeadsRequest struct {
	Pairs []TenantStorePair `json:"pairs"`
}

type HeadResponse struct {
	Exists bool      `json:"exists"`
	Head   ChainHead `json:"head"`
}

type HeadsResponse struct {
	Heads []HeadResponse `json:"heads"`
}

type ExistsResponse struct {
	Exists bool `json:"exists"`
}

type StatusResponse struct {
	TotalCommitments uint64 `json:"total_commitments"`
	StrictMode       bool   `json:"strict_mode"`
	Paused           bool   `json:"paused"`
	AuthorizedCount  uint64 `json:"authorized_count"`
}
