package registry

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"testing"
	"time"

	"github.com/anchorstack/commitchain/pkg/merkle"
	"github.com/anchorstack/commitchain/pkg/types/identity"
	types "github.com/anchorstack/commitchain/pkg/types/registry"
	"github.com/anchorstack/commitchain/pkg/types/rpc"
	dbm "github.com/cometbft/cometbft-db"
	abci "github.com/cometbft/cometbft/abci/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	adminPrincipal     identity.Principal = "admin"
	submitterPrincipal identity.Principal = "submitter-1"
)

type testEnv struct {
	t            *testing.T
	app          *RegistryApp
	adminKey     ed25519.PrivateKey
	submitterKey ed25519.PrivateKey
	height       int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	app, err := NewRegistryApp(zap.NewNop(), dbm.NewMemDB())
	require.NoError(t, err)

	adminPub, adminKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	submitterPub, submitterKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	env := &testEnv{
		t:            t,
		app:          app,
		adminKey:     adminKey,
		submitterKey: submitterKey,
	}

	res := env.deliver(env.unsignedPayload(types.RequestTypeSeed, types.SeedRequest{
		Principal: adminPrincipal,
		Key:       adminPub,
	}))
	require.Equal(t, types.CodeOk, res.Code, res.Log)

	res = env.deliver(env.adminPayload(types.RequestTypeSetAuthorization, types.SetAuthorizationRequest{
		Entries: []types.AuthorizationEntry{{
			Principal: submitterPrincipal,
			PublicKey: submitterPub,
			Allowed:   true,
		}},
	}))
	require.Equal(t, types.CodeOk, res.Code, res.Log)

	return env
}

func (env *testEnv) signedPayload(principal identity.Principal, key ed25519.PrivateKey, requestType rpc.RequestType, data any) json.RawMessage {
	env.t.Helper()

	muxed, err := rpc.NewBuilder().
		App(types.AppName).
		Data(requestType, data).
		Signed(principal, key).
		Build()
	require.NoError(env.t, err)

	return muxed.Data
}

func (env *testEnv) adminPayload(requestType rpc.RequestType, data any) json.RawMessage {
	return env.signedPayload(adminPrincipal, env.adminKey, requestType, data)
}

func (env *testEnv) submitterPayload(requestType rpc.RequestType, data any) json.RawMessage {
	return env.signedPayload(submitterPrincipal, env.submitterKey, requestType, data)
}

func (env *testEnv) unsignedPayload(requestType rpc.RequestType, data any) json.RawMessage {
	env.t.Helper()

	muxed, err := rpc.NewBuilder().
		App(types.AppName).
		Data(requestType, data).
		Unsigned().
		Build()
	require.NoError(env.t, err)

	return muxed.Data
}

// deliver runs a transaction through FinalizeBlock and, on success, its commit func, mimicking a
// single-transaction block.
func (env *testEnv) deliver(data json.RawMessage) abci.ExecTxResult {
	env.t.Helper()

	env.height++
	res := env.app.FinalizeBlock(context.Background(), &abci.RequestFinalizeBlock{
		Height: env.height,
		Time:   time.Unix(1700000000+env.height, 0).UTC(),
	}, data)

	if res.CommitFunc != nil {
		require.NoError(env.t, res.CommitFunc())
	}

	return res.TxResult
}

func (env *testEnv) query(path string, data []byte) *abci.ResponseQuery {
	env.t.Helper()

	res, err := env.app.Query(context.Background(), &abci.RequestQuery{Path: path}, data)
	require.NoError(env.t, err)

	return res
}

func (env *testEnv) status() types.StatusResponse {
	env.t.Helper()

	res := env.query("/status", nil)
	require.Equal(env.t, types.CodeOk, res.Code, res.Log)

	var status types.StatusResponse
	require.NoError(env.t, json.Unmarshal(res.Value, &status))
	return status
}

func submitRequest(id byte) types.SubmitRequest {
	return types.SubmitRequest{
		BatchId:       types.Sha256([]byte{'b', id}),
		TenantId:      types.Sha256([]byte("tenant-1")),
		StoreId:       types.Sha256([]byte("store-1")),
		EventsRoot:    types.Sha256([]byte{'r', id}),
		PrevStateRoot: types.Sha256([]byte{'p', id}),
		NewStateRoot:  types.Sha256([]byte{'n', id}),
		SequenceStart: 1,
		SequenceEnd:   10,
		EventCount:    10,
	}
}

func TestSeedOnce(t *testing.T) {
	env := newTestEnv(t)

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	res := env.deliver(env.unsignedPayload(types.RequestTypeSeed, types.SeedRequest{
		Principal: "second-admin",
		Key:       pub,
	}))
	require.Equal(t, types.CodeAlreadySeeded, res.Code)
}

func TestSubmitStoresCommitment(t *testing.T) {
	env := newTestEnv(t)

	req := submitRequest(1)
	res := env.deliver(env.submitterPayload(types.RequestTypeSubmit, req))
	require.Equal(t, types.CodeOk, res.Code, res.Log)

	var submitRes types.SubmitResponse
	require.NoError(t, json.Unmarshal(res.Data, &submitRes))
	require.Equal(t, req.BatchId, submitRes.Commitment.BatchId)
	require.Equal(t, submitterPrincipal, submitRes.Commitment.Submitter)
	require.False(t, submitRes.Commitment.Timestamp.IsZero())

	// Readable via query
	queryRes := env.query("/batch/"+req.BatchId.String(), nil)
	require.Equal(t, types.CodeOk, queryRes.Code, queryRes.Log)

	var stored types.BatchCommitment
	require.NoError(t, json.Unmarshal(queryRes.Value, &stored))
	require.Equal(t, req.EventsRoot, stored.EventsRoot)
	require.Equal(t, req.SequenceStart, stored.SequenceStart)
	require.Equal(t, req.SequenceEnd, stored.SequenceEnd)
	require.NotNil(t, queryRes.ProofOps)

	existsRes := env.query("/exists/"+req.BatchId.String(), nil)
	var exists types.ExistsResponse
	require.NoError(t, json.Unmarshal(existsRes.Value, &exists))
	require.True(t, exists.Exists)

	headRes := env.query("/head/"+req.TenantId.String()+"/"+req.StoreId.String(), nil)
	var head types.HeadResponse
	require.NoError(t, json.Unmarshal(headRes.Value, &head))
	require.True(t, head.Exists)
	require.Equal(t, req.BatchId, head.Head.LatestCommitment)
	require.Equal(t, req.SequenceEnd, head.Head.HeadSequence)
	require.Equal(t, req.NewStateRoot, head.Head.LatestStateRoot)
	require.Equal(t, uint64(1), head.Head.BatchCount)

	require.Equal(t, uint64(1), env.status().TotalCommitments)
}

func TestSubmitDuplicateBatchId(t *testing.T) {
	env := newTestEnv(t)

	req := submitRequest(1)
	res := env.deliver(env.submitterPayload(types.RequestTypeSubmit, req))
	require.Equal(t, types.CodeOk, res.Code, res.Log)

	// Same id, different contents: still rejected, original record untouched
	dupe := req
	dupe.EventsRoot = types.Sha256([]byte("different"))
	res = env.deliver(env.submitterPayload(types.RequestTypeSubmit, dupe))
	require.Equal(t, types.CodeBatchAlreadyCommitted, res.Code)

	queryRes := env.query("/batch/"+req.BatchId.String(), nil)
	var stored types.BatchCommitment
	require.NoError(t, json.Unmarshal(queryRes.Value, &stored))
	require.Equal(t, req.EventsRoot, stored.EventsRoot)

	require.Equal(t, uint64(1), env.status().TotalCommitments)
}

func TestSubmitRejectsInvalidInput(t *testing.T) {
	env := newTestEnv(t)

	zeroRoot := submitRequest(1)
	zeroRoot.EventsRoot = types.ZeroHash
	res := env.deliver(env.submitterPayload(types.RequestTypeSubmit, zeroRoot))
	require.Equal(t, types.CodeEmptyEventsRoot, res.Code)

	badRange := submitRequest(2)
	badRange.SequenceStart = 10
	badRange.SequenceEnd = 5
	res = env.deliver(env.submitterPayload(types.RequestTypeSubmit, badRange))
	require.Equal(t, types.CodeInvalidRange, res.Code)

	require.Equal(t, uint64(0), env.status().TotalCommitments)
}

func TestSubmitUnauthorized(t *testing.T) {
	env := newTestEnv(t)

	_, unknownKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	res := env.deliver(env.signedPayload("nobody", unknownKey, types.RequestTypeSubmit, submitRequest(1)))
	require.Equal(t, types.CodeUnauthorized, res.Code)

	// Revoked submitters are rejected too
	res = env.deliver(env.adminPayload(types.RequestTypeSetAuthorization, types.SetAuthorizationRequest{
		Entries: []types.AuthorizationEntry{{Principal: submitterPrincipal, Allowed: false}},
	}))
	require.Equal(t, types.CodeOk, res.Code, res.Log)

	res = env.deliver(env.submitterPayload(types.RequestTypeSubmit, submitRequest(1)))
	require.Equal(t, types.CodeUnauthorized, res.Code)
}

func TestSubmitRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)

	_, wrongKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	res := env.deliver(env.signedPayload(submitterPrincipal, wrongKey, types.RequestTypeSubmit, submitRequest(1)))
	require.Equal(t, types.CodeInvalidSignature, res.Code)
}

func TestAuthorizedCountTracksGrantsAndRevocations(t *testing.T) {
	env := newTestEnv(t)

	// Seeded admin + submitter
	require.Equal(t, uint64(2), env.status().AuthorizedCount)

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	res := env.deliver(env.adminPayload(types.RequestTypeSetAuthorization, types.SetAuthorizationRequest{
		Entries: []types.AuthorizationEntry{{Principal: "submitter-2", PublicKey: pub, Allowed: true}},
	}))
	require.Equal(t, types.CodeOk, res.Code, res.Log)
	require.Equal(t, uint64(3), env.status().AuthorizedCount)

	res = env.deliver(env.adminPayload(types.RequestTypeSetAuthorization, types.SetAuthorizationRequest{
		Entries: []types.AuthorizationEntry{{Principal: "submitter-2", Allowed: false}},
	}))
	require.Equal(t, types.CodeOk, res.Code, res.Log)
	require.Equal(t, uint64(2), env.status().AuthorizedCount)

	// Revoking twice does not double-decrement
	res = env.deliver(env.adminPayload(types.RequestTypeSetAuthorization, types.SetAuthorizationRequest{
		Entries: []types.AuthorizationEntry{{Principal: "submitter-2", Allowed: false}},
	}))
	require.Equal(t, types.CodeOk, res.Code, res.Log)
	require.Equal(t, uint64(2), env.status().AuthorizedCount)
}

func TestAdminOperationsRequireAdmin(t *testing.T) {
	env := newTestEnv(t)

	res := env.deliver(env.submitterPayload(types.RequestTypeSetStrictMode, types.SetStrictModeRequest{Enabled: true}))
	require.Equal(t, types.CodeNotAdmin, res.Code)

	res = env.deliver(env.submitterPayload(types.RequestTypeSetPaused, types.SetPausedRequest{Paused: true}))
	require.Equal(t, types.CodeNotAdmin, res.Code)

	res = env.deliver(env.submitterPayload(types.RequestTypeSetAuthorization, types.SetAuthorizationRequest{
		Entries: []types.AuthorizationEntry{{Principal: "x", Allowed: true}},
	}))
	require.Equal(t, types.CodeNotAdmin, res.Code)
}

func TestStrictModeContinuity(t *testing.T) {
	env := newTestEnv(t)

	res := env.deliver(env.adminPayload(types.RequestTypeSetStrictMode, types.SetStrictModeRequest{Enabled: true}))
	require.Equal(t, types.CodeOk, res.Code, res.Log)
	require.True(t, env.status().StrictMode)

	// Genesis batch for the key: any prev root and any starting sequence
	genesis := submitRequest(1)
	genesis.SequenceStart = 5
	genesis.SequenceEnd = 10
	res = env.deliver(env.submitterPayload(types.RequestTypeSubmit, genesis))
	require.Equal(t, types.CodeOk, res.Code, res.Log)

	// Sequence gap
	gap := submitRequest(2)
	gap.SequenceStart = 12
	gap.SequenceEnd = 20
	gap.PrevStateRoot = genesis.NewStateRoot
	res = env.deliver(env.submitterPayload(types.RequestTypeSubmit, gap))
	require.Equal(t, types.CodeSequenceMismatch, res.Code)

	// State root fork
	fork := submitRequest(3)
	fork.SequenceStart = 11
	fork.SequenceEnd = 20
	fork.PrevStateRoot = types.Sha256([]byte("wrong root"))
	res = env.deliver(env.submitterPayload(types.RequestTypeSubmit, fork))
	require.Equal(t, types.CodeStateRootMismatch, res.Code)

	// Continuous extension
	next := submitRequest(4)
	next.SequenceStart = 11
	next.SequenceEnd = 20
	next.PrevStateRoot = genesis.NewStateRoot
	res = env.deliver(env.submitterPayload(types.RequestTypeSubmit, next))
	require.Equal(t, types.CodeOk, res.Code, res.Log)

	// Failed submissions left no trace
	require.Equal(t, uint64(2), env.status().TotalCommitments)
}

func TestNonStrictModeSkipsContinuity(t *testing.T) {
	env := newTestEnv(t)

	first := submitRequest(1)
	res := env.deliver(env.submitterPayload(types.RequestTypeSubmit, first))
	require.Equal(t, types.CodeOk, res.Code, res.Log)

	// Gap and unrelated prev root are both accepted outside strict mode
	second := submitRequest(2)
	second.SequenceStart = 100
	second.SequenceEnd = 200
	res = env.deliver(env.submitterPayload(types.RequestTypeSubmit, second))
	require.Equal(t, types.CodeOk, res.Code, res.Log)
}

func TestIndependentKeysHaveIndependentHeads(t *testing.T) {
	env := newTestEnv(t)

	res := env.deliver(env.adminPayload(types.RequestTypeSetStrictMode, types.SetStrictModeRequest{Enabled: true}))
	require.Equal(t, types.CodeOk, res.Code, res.Log)

	first := submitRequest(1)
	res = env.deliver(env.submitterPayload(types.RequestTypeSubmit, first))
	require.Equal(t, types.CodeOk, res.Code, res.Log)

	// Same tenant, different store: genesis rules apply independently
	other := submitRequest(2)
	other.StoreId = types.Sha256([]byte("store-2"))
	other.SequenceStart = 500
	other.SequenceEnd = 600
	res = env.deliver(env.submitterPayload(types.RequestTypeSubmit, other))
	require.Equal(t, types.CodeOk, res.Code, res.Log)

	headsRes := env.query("/heads", mustMarshal(t, types.HeadsRequest{
		Pairs: []types.TenantStorePair{
			{TenantId: first.TenantId, StoreId: first.StoreId},
			{TenantId: other.TenantId, StoreId: other.StoreId},
			{TenantId: types.Sha256([]byte("unknown")), StoreId: first.StoreId},
		},
	}))
	require.Equal(t, types.CodeOk, headsRes.Code, headsRes.Log)

	var heads types.HeadsResponse
	require.NoError(t, json.Unmarshal(headsRes.Value, &heads))
	require.Len(t, heads.Heads, 3)
	require.Equal(t, first.SequenceEnd, heads.Heads[0].Head.HeadSequence)
	require.Equal(t, other.SequenceEnd, heads.Heads[1].Head.HeadSequence)
	require.False(t, heads.Heads[2].Exists)
}

func TestPauseBlocksWritesNotReads(t *testing.T) {
	env := newTestEnv(t)

	first := submitRequest(1)
	res := env.deliver(env.submitterPayload(types.RequestTypeSubmit, first))
	require.Equal(t, types.CodeOk, res.Code, res.Log)

	res = env.deliver(env.adminPayload(types.RequestTypeSetPaused, types.SetPausedRequest{Paused: true}))
	require.Equal(t, types.CodeOk, res.Code, res.Log)

	res = env.deliver(env.submitterPayload(types.RequestTypeSubmit, submitRequest(2)))
	require.Equal(t, types.CodePaused, res.Code)

	// Reads keep working
	status := env.status()
	require.True(t, status.Paused)
	require.Equal(t, uint64(1), status.TotalCommitments)

	queryRes := env.query("/batch/"+first.BatchId.String(), nil)
	require.Equal(t, types.CodeOk, queryRes.Code, queryRes.Log)

	// Admin can still unpause
	res = env.deliver(env.adminPayload(types.RequestTypeSetPaused, types.SetPausedRequest{Paused: false}))
	require.Equal(t, types.CodeOk, res.Code, res.Log)

	res = env.deliver(env.submitterPayload(types.RequestTypeSubmit, submitRequest(2)))
	require.Equal(t, types.CodeOk, res.Code, res.Log)
}

func TestAttachProof(t *testing.T) {
	env := newTestEnv(t)

	batch := submitRequest(1)
	res := env.deliver(env.submitterPayload(types.RequestTypeSubmit, batch))
	require.Equal(t, types.CodeOk, res.Code, res.Log)

	proofReq := types.AttachProofRequest{
		BatchId:       batch.BatchId,
		ProofHash:     types.Sha256([]byte("proof")),
		PrevStateRoot: batch.PrevStateRoot,
		NewStateRoot:  batch.NewStateRoot,
		PolicyHash:    types.Sha256([]byte("policy")),
		PolicyLimit:   1000,
		AllCompliant:  true,
		ProofSize:     4096,
		ProvingTimeMs: 250,
	}

	// Unknown batch
	unknown := proofReq
	unknown.BatchId = types.Sha256([]byte("missing"))
	res = env.deliver(env.submitterPayload(types.RequestTypeAttachProof, unknown))
	require.Equal(t, types.CodeBatchNotFound, res.Code)

	// Mismatched state roots
	mismatched := proofReq
	mismatched.NewStateRoot = types.Sha256([]byte("other"))
	res = env.deliver(env.submitterPayload(types.RequestTypeAttachProof, mismatched))
	require.Equal(t, types.CodeProofMismatch, res.Code)

	// Valid attach
	res = env.deliver(env.submitterPayload(types.RequestTypeAttachProof, proofReq))
	require.Equal(t, types.CodeOk, res.Code, res.Log)

	// Only one proof per batch
	res = env.deliver(env.submitterPayload(types.RequestTypeAttachProof, proofReq))
	require.Equal(t, types.CodeProofAlreadyAttached, res.Code)

	queryRes := env.query("/batch/"+batch.BatchId.String()+"/proof", nil)
	require.Equal(t, types.CodeOk, queryRes.Code, queryRes.Log)

	var stored types.StarkProofCommitment
	require.NoError(t, json.Unmarshal(queryRes.Value, &stored))
	require.Equal(t, proofReq.ProofHash, stored.ProofHash)
	require.True(t, stored.AllCompliant)
}

func TestVerifyInclusion(t *testing.T) {
	env := newTestEnv(t)

	leaves := make([]types.Hash32, 5)
	for i := range leaves {
		leaves[i] = merkle.LeafHash(
			"order.created",
			types.Sha256([]byte{byte(i)}),
			time.Unix(1700000000, 0),
			[]byte{byte(i), byte(i)},
		)
	}

	tree, err := merkle.NewTree(leaves)
	require.NoError(t, err)

	batch := submitRequest(1)
	batch.EventsRoot = tree.Root()
	batch.EventCount = uint32(tree.LeafCount())
	res := env.deliver(env.submitterPayload(types.RequestTypeSubmit, batch))
	require.Equal(t, types.CodeOk, res.Code, res.Log)

	verify := func(req types.VerifyInclusionRequest) bool {
		t.Helper()

		queryRes := env.query("/verify-inclusion", mustMarshal(t, req))
		require.Equal(t, types.CodeOk, queryRes.Code, queryRes.Log)

		var verifyRes types.VerifyInclusionResponse
		require.NoError(t, json.Unmarshal(queryRes.Value, &verifyRes))
		return verifyRes.Included
	}

	for i := range leaves {
		path, err := tree.Prove(uint64(i))
		require.NoError(t, err)

		require.True(t, verify(types.VerifyInclusionRequest{
			BatchId: batch.BatchId,
			Leaf:    leaves[i],
			Path:    path,
			Index:   uint64(i),
		}))
	}

	path, err := tree.Prove(0)
	require.NoError(t, err)

	// Wrong leaf
	require.False(t, verify(types.VerifyInclusionRequest{
		BatchId: batch.BatchId,
		Leaf:    types.Sha256([]byte("forged")),
		Path:    path,
		Index:   0,
	}))

	// Wrong index
	require.False(t, verify(types.VerifyInclusionRequest{
		BatchId: batch.BatchId,
		Leaf:    leaves[0],
		Path:    path,
		Index:   1,
	}))

	// Index beyond the committed event count
	require.False(t, verify(types.VerifyInclusionRequest{
		BatchId: batch.BatchId,
		Leaf:    leaves[0],
		Path:    path,
		Index:   uint64(len(leaves)),
	}))

	// Unknown batch is false, not an error
	require.False(t, verify(types.VerifyInclusionRequest{
		BatchId: types.Sha256([]byte("missing")),
		Leaf:    leaves[0],
		Path:    path,
		Index:   0,
	}))
}

func TestVerifyMulti(t *testing.T) {
	env := newTestEnv(t)

	leaves := make([]types.Hash32, 4)
	for i := range leaves {
		leaves[i] = merkle.LeafHash("inventory.updated", types.Sha256([]byte{byte(i)}), time.Unix(1700000000, 0), nil)
	}

	tree, err := merkle.NewTree(leaves)
	require.NoError(t, err)

	batch := submitRequest(1)
	batch.EventsRoot = tree.Root()
	batch.EventCount = uint32(tree.LeafCount())
	res := env.deliver(env.submitterPayload(types.RequestTypeSubmit, batch))
	require.Equal(t, types.CodeOk, res.Code, res.Log)

	items := make([]types.VerifyInclusionRequest, len(leaves))
	for i := range leaves {
		path, err := tree.Prove(uint64(i))
		require.NoError(t, err)

		items[i] = types.VerifyInclusionRequest{
			BatchId: batch.BatchId,
			Leaf:    leaves[i],
			Path:    path,
			Index:   uint64(i),
		}
	}

	verifyMulti := func(items []types.VerifyInclusionRequest) bool {
		t.Helper()

		queryRes := env.query("/verify-multi", mustMarshal(t, types.VerifyMultiRequest{Items: items}))
		require.Equal(t, types.CodeOk, queryRes.Code, queryRes.Log)

		var verifyRes types.VerifyInclusionResponse
		require.NoError(t, json.Unmarshal(queryRes.Value, &verifyRes))
		return verifyRes.Included
	}

	require.True(t, verifyMulti(items))

	// One bad item fails the whole batch
	tampered := make([]types.VerifyInclusionRequest, len(items))
	copy(tampered, items)
	tampered[2].Leaf = types.Sha256([]byte("forged"))
	require.False(t, verifyMulti(tampered))

	// Empty batch has nothing proven
	require.False(t, verifyMulti(nil))
}

func TestQueryUnknownPath(t *testing.T) {
	env := newTestEnv(t)

	res := env.query("/nonsense", nil)
	require.Equal(t, types.CodeInvalidQueryPath, res.Code)

	res = env.query("/batch/not-hex", nil)
	require.Equal(t, types.CodeInvalidQueryPath, res.Code)
}

func TestCheckTxValidatesPreconditions(t *testing.T) {
	env := newTestEnv(t)

	checkTx := func(data json.RawMessage) *abci.ResponseCheckTx {
		t.Helper()

		res, err := env.app.CheckTx(context.Background(), &abci.RequestCheckTx{}, data)
		require.NoError(t, err)
		return res
	}

	res := checkTx(env.submitterPayload(types.RequestTypeSubmit, submitRequest(1)))
	require.Equal(t, types.CodeOk, res.Code, res.Log)

	badRange := submitRequest(2)
	badRange.SequenceStart = 10
	badRange.SequenceEnd = 5
	res = checkTx(env.submitterPayload(types.RequestTypeSubmit, badRange))
	require.Equal(t, types.CodeInvalidRange, res.Code)

	_, unknownKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	res = checkTx(env.signedPayload("nobody", unknownKey, types.RequestTypeSubmit, submitRequest(3)))
	require.Equal(t, types.CodeUnauthorized, res.Code)
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()

	marshalled, err := json.Marshal(v)
	require.NoError(t, err)
	return marshalled
}
