package registry

import (
	"encoding/binary"
	"encoding/json"
	"sync"

	"github.com/anchorstack/commitchain/pkg/proof"
	"github.com/anchorstack/commitchain/pkg/types/identity"
	types "github.com/anchorstack/commitchain/pkg/types/registry"
	"github.com/cosmos/iavl"
	"github.com/pkg/errors"
)

// MerkleRepository stores all registry state in a single versioned IAVL tree: commitment
// records, proof attachments, per-key chain heads, the authorization set and the global flags.
// Versioned saves give the all-or-nothing commit semantics the registry requires.
type MerkleRepository struct {
	tree *iavl.MutableTree
	mu   sync.Mutex
}

var _ Repository = (*MerkleRepository)(nil)

var (
	ErrNotFound = errors.New("record not found")
)

const (
	keyPrefixCommitment = "batch:"
	keyPrefixProof      = "proof:"
	keyPrefixHead       = "head:"
	keyPrefixSubmitter  = "auth:"

	keySeeded           = "meta:seeded"
	keyStrictMode       = "meta:strict_mode"
	keyPaused           = "meta:paused"
	keyTotalCommitments = "meta:total_commitments"
	keyAuthorizedCount  = "meta:authorized_count"
)

func NewMerkleRepository(tree *iavl.MutableTree) *MerkleRepository {
	return &MerkleRepository{
		tree: tree,
	}
}

func (r *MerkleRepository) LoadLatest() (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.tree.Load()
}

func (r *MerkleRepository) LoadVersion(version int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.tree.LoadVersion(version)
	return err
}

func (r *MerkleRepository) Rollback() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tree.Rollback()
}

func (r *MerkleRepository) Hash() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.tree.Hash()
}

func (r *MerkleRepository) Save() ([]byte, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.tree.SaveVersion()
}

func (r *MerkleRepository) GetCommitment(id types.Hash32) (types.BatchCommitment, error) {
	var commitment types.BatchCommitment
	if err := r.getJson(commitmentKey(id), &commitment); err != nil {
		return types.BatchCommitment{}, err
	}

	return commitment, nil
}

func (r *MerkleRepository) GetCommitmentWithProof(id types.Hash32) (proof.ItemWithProof[types.BatchCommitment], error) {
	return getWithProof[types.BatchCommitment](r, commitmentKey(id))
}

func (r *MerkleRepository) HasCommitment(id types.Hash32) (bool, error) {
	return r.has(commitmentKey(id))
}

func (r *MerkleRepository) StoreCommitment(commitment types.BatchCommitment) error {
	return r.setJson(commitmentKey(commitment.BatchId), commitment)
}

func (r *MerkleRepository) GetProofCommitment(batchId types.Hash32) (types.StarkProofCommitment, error) {
	var p types.StarkProofCommitment
	if err := r.getJson(proofKey(batchId), &p); err != nil {
		return types.StarkProofCommitment{}, err
	}

	return p, nil
}

func (r *MerkleRepository) GetProofCommitmentWithProof(batchId types.Hash32) (proof.ItemWithProof[types.StarkProofCommitment], error) {
	return getWithProof[types.StarkProofCommitment](r, proofKey(batchId))
}

func (r *MerkleRepository) HasProofCommitment(batchId types.Hash32) (bool, error) {
	return r.has(proofKey(batchId))
}

func (r *MerkleRepository) StoreProofCommitment(p types.StarkProofCommitment) error {
	return r.setJson(proofKey(p.BatchId), p)
}

func (r *MerkleRepository) Head(key types.TenantStoreKey) (types.ChainHead, bool, error) {
	var head types.ChainHead
	if err := r.getJson(headKey(key), &head); err != nil {
		if errors.Is(err, ErrNotFound) {
			return types.ChainHead{}, false, nil
		}

		return types.ChainHead{}, false, err
	}

	return head, true, nil
}

func (r *MerkleRepository) SetHead(key types.TenantStoreKey, head types.ChainHead) error {
	return r.setJson(headKey(key), head)
}

func (r *MerkleRepository) GetSubmitter(principal identity.Principal) (identity.SubmitterData, error) {
	var data identity.SubmitterData
	if err := r.getJson(submitterKey(principal), &data); err != nil {
		return identity.SubmitterData{}, err
	}

	return data, nil
}

func (r *MerkleRepository) HasSubmitter(principal identity.Principal) (bool, error) {
	return r.has(submitterKey(principal))
}

func (r *MerkleRepository) StoreSubmitter(principal identity.Principal, data identity.SubmitterData) error {
	// Keep the authorized counter in step with allowed-flag transitions
	var previouslyAllowed bool
	existing, err := r.GetSubmitter(principal)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
	} else {
		previouslyAllowed = existing.Allowed
	}

	if err := r.setJson(submitterKey(principal), data); err != nil {
		return err
	}

	if previouslyAllowed == data.Allowed {
		return nil
	}

	count, err := r.AuthorizedCount()
	if err != nil {
		return err
	}

	if data.Allowed {
		count++
	} else if count > 0 {
		count--
	}

	return r.setCounter(keyAuthorizedCount, count)
}

func (r *MerkleRepository) AuthorizedCount() (uint64, error) {
	return r.getCounter(keyAuthorizedCount)
}

func (r *MerkleRepository) IsSeeded() (bool, error) {
	return r.getFlag(keySeeded)
}

func (r *MerkleRepository) SetSeeded() error {
	return r.setFlag(keySeeded, true)
}

func (r *MerkleRepository) StrictMode() (bool, error) {
	return r.getFlag(keyStrictMode)
}

func (r *MerkleRepository) SetStrictMode(enabled bool) error {
	return r.setFlag(keyStrictMode, enabled)
}

func (r *MerkleRepository) Paused() (bool, error) {
	return r.getFlag(keyPaused)
}

func (r *MerkleRepository) SetPaused(paused bool) error {
	return r.setFlag(keyPaused, paused)
}

func (r *MerkleRepository) TotalCommitments() (uint64, error) {
	return r.getCounter(keyTotalCommitments)
}

func (r *MerkleRepository) IncrementTotalCommitments() error {
	count, err := r.TotalCommitments()
	if err != nil {
		return err
	}

	return r.setCounter(keyTotalCommitments, count+1)
}

func (r *MerkleRepository) has(key []byte) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.tree.Has(key)
}

func (r *MerkleRepository) getJson(key []byte, target any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	bytes, err := r.tree.Get(key)
	if err != nil {
		return err
	}

	if bytes == nil {
		return ErrNotFound
	}

	return json.Unmarshal(bytes, target)
}

func (r *MerkleRepository) setJson(key []byte, value any) error {
	marshalled, err := json.Marshal(value)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, err = r.tree.Set(key, marshalled)
	return err
}

func (r *MerkleRepository) getFlag(key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bytes, err := r.tree.Get([]byte(key))
	if err != nil {
		return false, err
	}

	return len(bytes) == 1 && bytes[0] == 1, nil
}

func (r *MerkleRepository) setFlag(key string, value bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	encoded := []byte{0}
	if value {
		encoded[0] = 1
	}

	_, err := r.tree.Set([]byte(key), encoded)
	return err
}

func (r *MerkleRepository) getCounter(key string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bytes, err := r.tree.Get([]byte(key))
	if err != nil {
		return 0, err
	}

	if len(bytes) == 0 {
		return 0, nil
	}

	if len(bytes) != 8 {
		return 0, errors.Errorf("invalid counter length %d for key %s", len(bytes), key)
	}

	return binary.LittleEndian.Uint64(bytes), nil
}

func (r *MerkleRepository) setCounter(key string, value uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	encoded := make([]byte, 8)
	binary.LittleEndian.PutUint64(encoded, value)

	_, err := r.tree.Set([]byte(key), encoded)
	return err
}

func getWithProof[T any](r *MerkleRepository, key []byte) (proof.ItemWithProof[T], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	index, bytes, err := r.tree.GetWithIndex(key)
	if err != nil {
		return proof.ItemWithProof[T]{}, err
	}

	proofOp, err := proof.ProofOpForTree(r.tree, key)
	if err != nil {
		return proof.ItemWithProof[T]{}, err
	}

	// Item not found: return a non-membership proof
	if bytes == nil {
		return proof.ItemWithProof[T]{
			Item:    nil,
			Index:   index,
			Height:  proof.GetProofHeight(r.tree),
			ProofOp: proofOp,
		}, nil
	}

	var item T
	if err := json.Unmarshal(bytes, &item); err != nil {
		return proof.ItemWithProof[T]{}, err
	}

	return proof.ItemWithProof[T]{
		Item:    &item,
		Index:   index,
		Height:  proof.GetProofHeight(r.tree),
		ProofOp: proofOp,
	}, nil
}

func commitmentKey(id types.Hash32) []byte {
	return append([]byte(keyPrefixCommitment), id[:]...)
}

func proofKey(id types.Hash32) []byte {
	return append([]byte(keyPrefixProof), id[:]...)
}

func headKey(key types.TenantStoreKey) []byte {
	return append([]byte(keyPrefixHead), key[:]...)
}

func submitterKey(principal identity.Principal) []byte {
	return append([]byte(keyPrefixSubmitter), principal.Bytes()...)
}
