package registry

import (
	"github.com/anchorstack/commitchain/internal/datastore"
	"github.com/anchorstack/commitchain/pkg/proof"
	"github.com/anchorstack/commitchain/pkg/types/identity"
	types "github.com/anchorstack/commitchain/pkg/types/registry"
)

type Repository interface {
	datastore.BaseRepository

	GetCommitment(id types.Hash32) (types.BatchCommitment, error)
	GetCommitmentWithProof(id types.Hash32) (proof.ItemWithProof[types.BatchCommitment], error)
	HasCommitment(id types.Hash32) (bool, error)
	StoreCommitment(commitment types.BatchCommitment) error

	GetProofCommitment(batchId types.Hash32) (types.StarkProofCommitment, error)
	GetProofCommitmentWithProof(batchId types.Hash32) (proof.ItemWithProof[types.StarkProofCommitment], error)
	HasProofCommitment(batchId types.Hash32) (bool, error)
	StoreProofCommitment(p types.StarkProofCommitment) error

	Head(key types.TenantStoreKey) (types.ChainHead, bool, error)
	SetHead(key types.TenantStoreKey, head types.ChainHead) error

	GetSubmitter(principal identity.Principal) (identity.SubmitterData, error)
	HasSubmitter(principal identity.Principal) (bool, error)
	StoreSubmitter(principal identity.Principal, data identity.SubmitterData) error
	AuthorizedCount() (uint64, error)

	IsSeeded() (bool, error)
	SetSeeded() error

	StrictMode() (bool, error)
	SetStrictMode(enabled bool) error

	Paused() (bool, error)
	SetPaused(paused bool) error

	TotalCommitments() (uint64, error)
	IncrementTotalCommitments() error
}
