package registry

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/anchorstack/commitchain/internal/utils"
	"github.com/anchorstack/commitchain/pkg/merkle"
	"github.com/anchorstack/commitchain/pkg/multiplexer"
	"github.com/anchorstack/commitchain/pkg/proof"
	"github.com/anchorstack/commitchain/pkg/types/identity"
	types "github.com/anchorstack/commitchain/pkg/types/registry"
	"github.com/anchorstack/commitchain/pkg/types/rpc"
	dbm "github.com/cometbft/cometbft-db"
	abci "github.com/cometbft/cometbft/abci/types"
	"github.com/cosmos/iavl"
	"go.uber.org/zap"
)

// RegistryApp is the commitment registry sub-application. It accepts batch commitments from
// authorized submitters, tracks per tenant/store chain heads, stores compliance proof
// attachments, and serves inclusion verification queries over committed state.
type RegistryApp struct {
	Repository    Repository
	logger        *zap.Logger
	versionNumber int64
	txState       txState
}

// txState stages the effects of transactions already validated in the current block, so later
// transactions in the same block validate against them. Discarded on commit.
type txState struct {
	seeded      bool
	commitments map[types.Hash32]types.BatchCommitment
	proofs      map[types.Hash32]struct{}
	heads       map[types.TenantStoreKey]types.ChainHead
	auths       map[identity.Principal]identity.SubmitterData
	strictMode  *bool
	paused      *bool
}

func defaultTxState() txState {
	return txState{
		commitments: make(map[types.Hash32]types.BatchCommitment),
		proofs:      make(map[types.Hash32]struct{}),
		heads:       make(map[types.TenantStoreKey]types.ChainHead),
		auths:       make(map[identity.Principal]identity.SubmitterData),
	}
}

var _ multiplexer.MultiplexedApp = (*RegistryApp)(nil)

const treeCacheSize = 1000

func NewRegistryApp(logger *zap.Logger, db dbm.DB) (*RegistryApp, error) {
	tree, err := iavl.NewMutableTree(db, treeCacheSize, false)
	if err != nil {
		return nil, err
	}

	repository := NewMerkleRepository(tree)

	versionNumber, err := repository.LoadLatest()
	if err != nil {
		return nil, err
	}

	return &RegistryApp{
		Repository:    repository,
		logger:        logger,
		versionNumber: versionNumber,
		txState:       defaultTxState(),
	}, nil
}

func (app *RegistryApp) Name() string {
	return types.AppName
}

func (app *RegistryApp) Info(ctx context.Context, req *abci.RequestInfo) any {
	appHash, err := app.Repository.Hash()
	if err != nil {
		app.logger.Warn("Got error getting hash of RegistryApp", zap.Error(err))
		return multiplexer.NewErrorResponse(multiplexer.CodeUnknownError, multiplexer.Codespace, err)
	}

	return map[string]any{
		"version":  app.versionNumber,
		"app_hash": hex.EncodeToString(appHash),
	}
}

func (app *RegistryApp) InitChain(ctx context.Context, req *abci.RequestInitChain) []byte {
	appHash, err := app.Repository.Hash()
	if err != nil {
		app.logger.Fatal("Got error getting hash of RegistryApp when running InitChain", zap.Error(err))
	}

	return appHash
}

func (app *RegistryApp) CheckTx(ctx context.Context, req *abci.RequestCheckTx, data json.RawMessage) (*abci.ResponseCheckTx, error) {
	payload, requester, errRes := app.decode(data)
	if errRes != nil {
		return errRes.IntoCheckTxResponse(), nil
	}

	switch payload.Type {
	case types.RequestTypeSubmit:
		var submitReq types.SubmitRequest
		if err := json.Unmarshal(payload.Data, &submitReq); err != nil {
			app.logger.Warn("Got error decoding submit payload", zap.Error(err))
			return multiplexer.NewErrorResponse(multiplexer.CodeEncodingError, multiplexer.Codespace, err).IntoCheckTxResponse(), nil
		}

		if _, errRes := app.validateSubmit(requester, submitReq); errRes != nil {
			return errRes.IntoCheckTxResponse(), nil
		}
	case types.RequestTypeAttachProof:
		var proofReq types.AttachProofRequest
		if err := json.Unmarshal(payload.Data, &proofReq); err != nil {
			app.logger.Warn("Got error decoding attach proof payload", zap.Error(err))
			return multiplexer.NewErrorResponse(multiplexer.CodeEncodingError, multiplexer.Codespace, err).IntoCheckTxResponse(), nil
		}

		if _, errRes := app.validateAttachProof(requester, proofReq); errRes != nil {
			return errRes.IntoCheckTxResponse(), nil
		}
	case types.RequestTypeSeed:
		if errRes := app.validateSeed(); errRes != nil {
			return errRes.IntoCheckTxResponse(), nil
		}
	case types.RequestTypeSetAuthorization, types.RequestTypeSetStrictMode, types.RequestTypeSetPaused:
		if errRes := app.requireAdmin(payload.Principal, requester); errRes != nil {
			return errRes.IntoCheckTxResponse(), nil
		}
	default:
		return multiplexer.NewErrorResponse(
			types.CodeUnknownRequestType,
			types.Codespace,
			fmt.Errorf("unknown request type: %s", payload.Type),
		).IntoCheckTxResponse(), nil
	}

	return &abci.ResponseCheckTx{
		Code:      types.CodeOk,
		Codespace: types.Codespace,
	}, nil
}

func (app *RegistryApp) FinalizeBlock(ctx context.Context, req *abci.RequestFinalizeBlock, data json.RawMessage) multiplexer.FinalizeBlockResponse {
	payload, requester, errRes := app.decode(data)
	if errRes != nil {
		return errRes.IntoFinalizeBlockResponse()
	}

	switch payload.Type {
	case types.RequestTypeSubmit:
		return app.finalizeSubmit(req, payload, requester)
	case types.RequestTypeAttachProof:
		return app.finalizeAttachProof(req, payload, requester)
	case types.RequestTypeSeed:
		return app.finalizeSeed(payload)
	case types.RequestTypeSetAuthorization:
		return app.finalizeSetAuthorization(payload, requester)
	case types.RequestTypeSetStrictMode:
		return app.finalizeSetStrictMode(payload, requester)
	case types.RequestTypeSetPaused:
		return app.finalizeSetPaused(payload, requester)
	default:
		return multiplexer.NewErrorResponse(
			types.CodeUnknownRequestType,
			types.Codespace,
			fmt.Errorf("unknown request type: %s", payload.Type),
		).IntoFinalizeBlockResponse()
	}
}

func (app *RegistryApp) finalizeSubmit(
	req *abci.RequestFinalizeBlock,
	payload rpc.SignedPayload,
	requester identity.SubmitterData,
) multiplexer.FinalizeBlockResponse {
	var submitReq types.SubmitRequest
	if err := json.Unmarshal(payload.Data, &submitReq); err != nil {
		app.logger.Warn("Got error decoding submit payload", zap.Error(err))
		return multiplexer.NewErrorResponse(multiplexer.CodeEncodingError, multiplexer.Codespace, err).IntoFinalizeBlockResponse()
	}

	head, errRes := app.validateSubmit(requester, submitReq)
	if errRes != nil {
		return errRes.IntoFinalizeBlockResponse()
	}

	commitment := types.BatchCommitment{
		BatchId:       submitReq.BatchId,
		TenantId:      submitReq.TenantId,
		StoreId:       submitReq.StoreId,
		EventsRoot:    submitReq.EventsRoot,
		PrevStateRoot: submitReq.PrevStateRoot,
		NewStateRoot:  submitReq.NewStateRoot,
		SequenceStart: submitReq.SequenceStart,
		SequenceEnd:   submitReq.SequenceEnd,
		EventCount:    submitReq.EventCount,
		Submitter:     payload.Principal,
		Timestamp:     req.Time, // Deterministic
	}

	key := commitment.Key()
	newHead := types.ChainHead{
		LatestCommitment: commitment.BatchId,
		HeadSequence:     commitment.SequenceEnd,
		LatestStateRoot:  commitment.NewStateRoot,
		BatchCount:       head.BatchCount + 1,
	}

	app.txState.commitments[commitment.BatchId] = commitment
	app.txState.heads[key] = newHead

	appHash, err := app.Repository.Hash()
	if err != nil {
		app.logger.Warn("Got error getting app hash", zap.Error(err))
		return multiplexer.NewErrorResponse(multiplexer.CodeUnknownError, multiplexer.Codespace, err).IntoFinalizeBlockResponse()
	}

	responseMarshalled, err := json.Marshal(types.SubmitResponse{Commitment: commitment})
	if err != nil {
		app.logger.Warn("Got error marshalling submit response", zap.Error(err))
		return multiplexer.NewErrorResponse(multiplexer.CodeUnknownError, multiplexer.Codespace, err).IntoFinalizeBlockResponse()
	}

	app.logger.Info(
		"Accepted batch commitment",
		zap.Stringer("batch_id", commitment.BatchId),
		zap.Stringer("tenant_store_key", key),
		zap.Uint64("sequence_start", commitment.SequenceStart),
		zap.Uint64("sequence_end", commitment.SequenceEnd),
	)

	return multiplexer.FinalizeBlockResponse{
		TxResult: abci.ExecTxResult{
			Code: types.CodeOk,
			Data: responseMarshalled,
			Log:  "commitment stored",
			Events: []abci.Event{utils.Event(types.EventCommitmentCreated,
				utils.Attribute(types.AttributeBatchId, commitment.BatchId.String()),
				utils.Attribute(types.AttributeKey, key.String()),
				utils.Attribute(types.AttributeEventsRoot, commitment.EventsRoot.String()),
				utils.Attribute(types.AttributeNewStateRoot, commitment.NewStateRoot.String()),
				utils.Attribute(types.AttributeSequenceStart, strconv.FormatUint(commitment.SequenceStart, 10)),
				utils.Attribute(types.AttributeSequenceEnd, strconv.FormatUint(commitment.SequenceEnd, 10)),
				utils.Attribute(types.AttributeEventCount, strconv.FormatUint(uint64(commitment.EventCount), 10)),
			)},
			Codespace: types.Codespace,
		},
		AppHash: appHash,
		CommitFunc: func() error {
			app.txState = defaultTxState()

			if err := app.Repository.StoreCommitment(commitment); err != nil {
				return err
			}

			if err := app.Repository.SetHead(key, newHead); err != nil {
				return err
			}

			if err := app.Repository.IncrementTotalCommitments(); err != nil {
				return err
			}

			submitter, err := app.Repository.GetSubmitter(payload.Principal)
			if err != nil {
				return err
			}

			submitter.Commitments++
			if err := app.Repository.StoreSubmitter(payload.Principal, submitter); err != nil {
				return err
			}

			newHash, versionNumber, err := app.Repository.Save()
			if err != nil {
				return err
			}

			app.logger.Info(
				"Committed batch commitment",
				zap.Stringer("batch_id", commitment.BatchId),
				zap.String("app_hash", hex.EncodeToString(newHash)),
				zap.Int64("version_number", versionNumber),
			)

			app.versionNumber = versionNumber
			return nil
		},
	}
}

func (app *RegistryApp) finalizeAttachProof(
	req *abci.RequestFinalizeBlock,
	payload rpc.SignedPayload,
	requester identity.SubmitterData,
) multiplexer.FinalizeBlockResponse {
	var proofReq types.AttachProofRequest
	if err := json.Unmarshal(payload.Data, &proofReq); err != nil {
		app.logger.Warn("Got error decoding attach proof payload", zap.Error(err))
		return multiplexer.NewErrorResponse(multiplexer.CodeEncodingError, multiplexer.Codespace, err).IntoFinalizeBlockResponse()
	}

	if _, errRes := app.validateAttachProof(requester, proofReq); errRes != nil {
		return errRes.IntoFinalizeBlockResponse()
	}

	proofCommitment := types.StarkProofCommitment{
		BatchId:       proofReq.BatchId,
		ProofHash:     proofReq.ProofHash,
		PrevStateRoot: proofReq.PrevStateRoot,
		NewStateRoot:  proofReq.NewStateRoot,
		PolicyHash:    proofReq.PolicyHash,
		PolicyLimit:   proofReq.PolicyLimit,
		AllCompliant:  proofReq.AllCompliant,
		ProofSize:     proofReq.ProofSize,
		ProvingTimeMs: proofReq.ProvingTimeMs,
		Submitter:     payload.Principal,
		Timestamp:     req.Time,
	}

	app.txState.proofs[proofCommitment.BatchId] = struct{}{}

	appHash, err := app.Repository.Hash()
	if err != nil {
		app.logger.Warn("Got error getting app hash", zap.Error(err))
		return multiplexer.NewErrorResponse(multiplexer.CodeUnknownError, multiplexer.Codespace, err).IntoFinalizeBlockResponse()
	}

	responseMarshalled, err := json.Marshal(types.AttachProofResponse{Proof: proofCommitment})
	if err != nil {
		app.logger.Warn("Got error marshalling attach proof response", zap.Error(err))
		return multiplexer.NewErrorResponse(multiplexer.CodeUnknownError, multiplexer.Codespace, err).IntoFinalizeBlockResponse()
	}

	return multiplexer.FinalizeBlockResponse{
		TxResult: abci.ExecTxResult{
			Code: types.CodeOk,
			Data: responseMarshalled,
			Log:  "proof attached",
			Events: []abci.Event{utils.Event(types.EventProofAttached,
				utils.Attribute(types.AttributeBatchId, proofCommitment.BatchId.String()),
				utils.Attribute(types.AttributeProofHash, proofCommitment.ProofHash.String()),
			)},
			Codespace: types.Codespace,
		},
		AppHash: appHash,
		CommitFunc: func() error {
			app.txState = defaultTxState()

			if err := app.Repository.StoreProofCommitment(proofCommitment); err != nil {
				return err
			}

			_, versionNumber, err := app.Repository.Save()
			if err != nil {
				return err
			}

			app.versionNumber = versionNumber
			return nil
		},
	}
}

func (app *RegistryApp) finalizeSeed(payload rpc.SignedPayload) multiplexer.FinalizeBlockResponse {
	var seedReq types.SeedRequest
	if err := json.Unmarshal(payload.Data, &seedReq); err != nil {
		app.logger.Warn("Got error decoding seed payload", zap.Error(err))
		return multiplexer.NewErrorResponse(multiplexer.CodeEncodingError, multiplexer.Codespace, err).IntoFinalizeBlockResponse()
	}

	if errRes := app.validateSeed(); errRes != nil {
		return errRes.IntoFinalizeBlockResponse()
	}

	adminData := identity.SubmitterData{
		PublicKey: seedReq.Key,
		Role:      identity.RoleAdmin,
		Allowed:   true,
	}

	app.txState.seeded = true
	app.txState.auths[seedReq.Principal] = adminData

	appHash, err := app.Repository.Hash()
	if err != nil {
		app.logger.Warn("Got error getting app hash", zap.Error(err))
		return multiplexer.NewErrorResponse(multiplexer.CodeUnknownError, multiplexer.Codespace, err).IntoFinalizeBlockResponse()
	}

	return multiplexer.FinalizeBlockResponse{
		TxResult: abci.ExecTxResult{
			Code:      types.CodeOk,
			Log:       "registry seeded",
			Codespace: types.Codespace,
		},
		AppHash: appHash,
		CommitFunc: func() error {
			app.txState = defaultTxState()

			if err := app.Repository.StoreSubmitter(seedReq.Principal, adminData); err != nil {
				return err
			}

			if err := app.Repository.SetSeeded(); err != nil {
				return err
			}

			_, versionNumber, err := app.Repository.Save()
			if err != nil {
				return err
			}

			app.versionNumber = versionNumber
			return nil
		},
	}
}

func (app *RegistryApp) finalizeSetAuthorization(
	payload rpc.SignedPayload,
	requester identity.SubmitterData,
) multiplexer.FinalizeBlockResponse {
	if errRes := app.requireAdmin(payload.Principal, requester); errRes != nil {
		return errRes.IntoFinalizeBlockResponse()
	}

	var authReq types.SetAuthorizationRequest
	if err := json.Unmarshal(payload.Data, &authReq); err != nil {
		app.logger.Warn("Got error decoding set authorization payload", zap.Error(err))
		return multiplexer.NewErrorResponse(multiplexer.CodeEncodingError, multiplexer.Codespace, err).IntoFinalizeBlockResponse()
	}

	// All entries resolve against current state before any is staged, so the batch applies
	// atomically
	updates := make(map[identity.Principal]identity.SubmitterData, len(authReq.Entries))
	events := make([]abci.Event, 0, len(authReq.Entries))
	for _, entry := range authReq.Entries {
		data, err := app.resolveSubmitter(entry.Principal)
		if err != nil && !errors.Is(err, ErrNotFound) {
			app.logger.Warn("Got error resolving submitter", zap.Error(err))
			return multiplexer.NewErrorResponse(multiplexer.CodeUnknownError, multiplexer.Codespace, err).IntoFinalizeBlockResponse()
		}

		if data.Role == "" {
			data.Role = identity.RoleSubmitter
		}

		if len(entry.PublicKey) > 0 {
			data.PublicKey = entry.PublicKey
		}
		data.Allowed = entry.Allowed

		updates[entry.Principal] = data
		events = append(events, utils.Event(types.EventAuthorizationSet,
			utils.Attribute(types.AttributePrincipal, entry.Principal.String()),
			utils.Attribute(types.AttributeAllowed, strconv.FormatBool(entry.Allowed)),
		))
	}

	for principal, data := range updates {
		app.txState.auths[principal] = data
	}

	appHash, err := app.Repository.Hash()
	if err != nil {
		app.logger.Warn("Got error getting app hash", zap.Error(err))
		return multiplexer.NewErrorResponse(multiplexer.CodeUnknownError, multiplexer.Codespace, err).IntoFinalizeBlockResponse()
	}

	return multiplexer.FinalizeBlockResponse{
		TxResult: abci.ExecTxResult{
			Code:      types.CodeOk,
			Log:       "authorization updated",
			Events:    events,
			Codespace: types.Codespace,
		},
		AppHash: appHash,
		CommitFunc: func() error {
			app.txState = defaultTxState()

			for principal, data := range updates {
				if err := app.Repository.StoreSubmitter(principal, data); err != nil {
					return err
				}
			}

			_, versionNumber, err := app.Repository.Save()
			if err != nil {
				return err
			}

			app.versionNumber = versionNumber
			return nil
		},
	}
}

func (app *RegistryApp) finalizeSetStrictMode(
	payload rpc.SignedPayload,
	requester identity.SubmitterData,
) multiplexer.FinalizeBlockResponse {
	if errRes := app.requireAdmin(payload.Principal, requester); errRes != nil {
		return errRes.IntoFinalizeBlockResponse()
	}

	var modeReq types.SetStrictModeRequest
	if err := json.Unmarshal(payload.Data, &modeReq); err != nil {
		app.logger.Warn("Got error decoding set strict mode payload", zap.Error(err))
		return multiplexer.NewErrorResponse(multiplexer.CodeEncodingError, multiplexer.Codespace, err).IntoFinalizeBlockResponse()
	}

	enabled := modeReq.Enabled
	app.txState.strictMode = &enabled

	appHash, err := app.Repository.Hash()
	if err != nil {
		app.logger.Warn("Got error getting app hash", zap.Error(err))
		return multiplexer.NewErrorResponse(multiplexer.CodeUnknownError, multiplexer.Codespace, err).IntoFinalizeBlockResponse()
	}

	app.logger.Info("Strict mode toggled", zap.Bool("enabled", enabled), zap.String("admin", payload.Principal.String()))

	return multiplexer.FinalizeBlockResponse{
		TxResult: abci.ExecTxResult{
			Code: types.CodeOk,
			Log:  "strict mode updated",
			Events: []abci.Event{utils.Event(types.EventStrictModeSet,
				utils.Attribute(types.AttributePrincipal, payload.Principal.String()),
				utils.Attribute(types.AttributeEnabled, strconv.FormatBool(enabled)),
			)},
			Codespace: types.Codespace,
		},
		AppHash: appHash,
		CommitFunc: func() error {
			app.txState = defaultTxState()

			if err := app.Repository.SetStrictMode(enabled); err != nil {
				return err
			}

			_, versionNumber, err := app.Repository.Save()
			if err != nil {
				return err
			}

			app.versionNumber = versionNumber
			return nil
		},
	}
}

func (app *RegistryApp) finalizeSetPaused(
	payload rpc.SignedPayload,
	requester identity.SubmitterData,
) multiplexer.FinalizeBlockResponse {
	if errRes := app.requireAdmin(payload.Principal, requester); errRes != nil {
		return errRes.IntoFinalizeBlockResponse()
	}

	var pauseReq types.SetPausedRequest
	if err := json.Unmarshal(payload.Data, &pauseReq); err != nil {
		app.logger.Warn("Got error decoding set paused payload", zap.Error(err))
		return multiplexer.NewErrorResponse(multiplexer.CodeEncodingError, multiplexer.Codespace, err).IntoFinalizeBlockResponse()
	}

	paused := pauseReq.Paused
	app.txState.paused = &paused

	appHash, err := app.Repository.Hash()
	if err != nil {
		app.logger.Warn("Got error getting app hash", zap.Error(err))
		return multiplexer.NewErrorResponse(multiplexer.CodeUnknownError, multiplexer.Codespace, err).IntoFinalizeBlockResponse()
	}

	app.logger.Warn("Registry pause toggled", zap.Bool("paused", paused), zap.String("admin", payload.Principal.String()))

	return multiplexer.FinalizeBlockResponse{
		TxResult: abci.ExecTxResult{
			Code: types.CodeOk,
			Log:  "pause state updated",
			Events: []abci.Event{utils.Event(types.EventPauseSet,
				utils.Attribute(types.AttributePrincipal, payload.Principal.String()),
				utils.Attribute(types.AttributeEnabled, strconv.FormatBool(paused)),
			)},
			Codespace: types.Codespace,
		},
		AppHash: appHash,
		CommitFunc: func() error {
			app.txState = defaultTxState()

			if err := app.Repository.SetPaused(paused); err != nil {
				return err
			}

			_, versionNumber, err := app.Repository.Save()
			if err != nil {
				return err
			}

			app.versionNumber = versionNumber
			return nil
		},
	}
}

// validateSubmit runs every submit precondition against committed state plus the current block's
// staged state. Returns the chain head the commitment extends.
func (app *RegistryApp) validateSubmit(
	requester identity.SubmitterData,
	req types.SubmitRequest,
) (types.ChainHead, *multiplexer.ErrorResponse) {
	paused, err := app.resolvePaused()
	if err != nil {
		app.logger.Warn("Got error reading pause state", zap.Error(err))
		return types.ChainHead{}, multiplexer.NewErrorResponse(multiplexer.CodeUnknownError, multiplexer.Codespace, err)
	}

	if paused {
		return types.ChainHead{}, multiplexer.NewErrorResponse(types.CodePaused, types.Codespace, errors.New("registry is paused"))
	}

	if !requester.Allowed {
		return types.ChainHead{}, multiplexer.NewErrorResponse(types.CodeUnauthorized, types.Codespace, errors.New("submitter is not authorized"))
	}

	if req.EventsRoot.IsZero() {
		return types.ChainHead{}, multiplexer.NewErrorResponse(types.CodeEmptyEventsRoot, types.Codespace, errors.New("events root must be non-zero"))
	}

	if req.SequenceEnd < req.SequenceStart {
		return types.ChainHead{}, multiplexer.NewErrorResponse(
			types.CodeInvalidRange,
			types.Codespace,
			fmt.Errorf("sequence end %d is before sequence start %d", req.SequenceEnd, req.SequenceStart),
		)
	}

	exists, err := app.commitmentExists(req.BatchId)
	if err != nil {
		app.logger.Warn("Got error checking for existing commitment", zap.Error(err))
		return types.ChainHead{}, multiplexer.NewErrorResponse(multiplexer.CodeUnknownError, multiplexer.Codespace, err)
	}

	if exists {
		return types.ChainHead{}, multiplexer.NewErrorResponse(
			types.CodeBatchAlreadyCommitted,
			types.Codespace,
			fmt.Errorf("batch %s is already committed", req.BatchId),
		)
	}

	head, headExists, err := app.resolveHead(req.Key())
	if err != nil {
		app.logger.Warn("Got error resolving chain head", zap.Error(err))
		return types.ChainHead{}, multiplexer.NewErrorResponse(multiplexer.CodeUnknownError, multiplexer.Codespace, err)
	}

	strictMode, err := app.resolveStrictMode()
	if err != nil {
		app.logger.Warn("Got error reading strict mode", zap.Error(err))
		return types.ChainHead{}, multiplexer.NewErrorResponse(multiplexer.CodeUnknownError, multiplexer.Codespace, err)
	}

	// Continuity is only enforced in strict mode, and never for a key's genesis batch
	if strictMode && headExists {
		if req.SequenceStart != head.HeadSequence+1 {
			return types.ChainHead{}, multiplexer.NewErrorResponse(
				types.CodeSequenceMismatch,
				types.Codespace,
				fmt.Errorf("sequence start %d does not follow head sequence %d", req.SequenceStart, head.HeadSequence),
			)
		}

		if req.PrevStateRoot != head.LatestStateRoot {
			return types.ChainHead{}, multiplexer.NewErrorResponse(
				types.CodeStateRootMismatch,
				types.Codespace,
				fmt.Errorf("previous state root %s does not match head state root %s", req.PrevStateRoot, head.LatestStateRoot),
			)
		}
	}

	return head, nil
}

func (app *RegistryApp) validateAttachProof(
	requester identity.SubmitterData,
	req types.AttachProofRequest,
) (types.BatchCommitment, *multiplexer.ErrorResponse) {
	paused, err := app.resolvePaused()
	if err != nil {
		app.logger.Warn("Got error reading pause state", zap.Error(err))
		return types.BatchCommitment{}, multiplexer.NewErrorResponse(multiplexer.CodeUnknownError, multiplexer.Codespace, err)
	}

	if paused {
		return types.BatchCommitment{}, multiplexer.NewErrorResponse(types.CodePaused, types.Codespace, errors.New("registry is paused"))
	}

	if !requester.Allowed {
		return types.BatchCommitment{}, multiplexer.NewErrorResponse(types.CodeUnauthorized, types.Codespace, errors.New("submitter is not authorized"))
	}

	commitment, exists, err := app.resolveCommitment(req.BatchId)
	if err != nil {
		app.logger.Warn("Got error resolving commitment", zap.Error(err))
		return types.BatchCommitment{}, multiplexer.NewErrorResponse(multiplexer.CodeUnknownError, multiplexer.Codespace, err)
	}

	if !exists {
		return types.BatchCommitment{}, multiplexer.NewErrorResponse(
			types.CodeBatchNotFound,
			types.Codespace,
			fmt.Errorf("batch %s does not exist", req.BatchId),
		)
	}

	proofExists, err := app.proofExists(req.BatchId)
	if err != nil {
		app.logger.Warn("Got error checking for existing proof", zap.Error(err))
		return types.BatchCommitment{}, multiplexer.NewErrorResponse(multiplexer.CodeUnknownError, multiplexer.Codespace, err)
	}

	if proofExists {
		return types.BatchCommitment{}, multiplexer.NewErrorResponse(
			types.CodeProofAlreadyAttached,
			types.Codespace,
			fmt.Errorf("batch %s already has a proof attached", req.BatchId),
		)
	}

	if req.PrevStateRoot != commitment.PrevStateRoot || req.NewStateRoot != commitment.NewStateRoot {
		return types.BatchCommitment{}, multiplexer.NewErrorResponse(
			types.CodeProofMismatch,
			types.Codespace,
			errors.New("proof state roots do not match the committed batch"),
		)
	}

	return commitment, nil
}

func (app *RegistryApp) validateSeed() *multiplexer.ErrorResponse {
	seeded, err := app.Repository.IsSeeded()
	if err != nil {
		app.logger.Warn("Got error checking if registry is seeded", zap.Error(err))
		return multiplexer.NewErrorResponse(multiplexer.CodeUnknownError, multiplexer.Codespace, err)
	}

	if seeded || app.txState.seeded {
		return multiplexer.NewErrorResponse(types.CodeAlreadySeeded, types.Codespace, errors.New("registry is already seeded"))
	}

	return nil
}

func (app *RegistryApp) requireAdmin(principal identity.Principal, requester identity.SubmitterData) *multiplexer.ErrorResponse {
	if !requester.IsAdmin() || !requester.Allowed {
		app.logger.Warn("Got non-admin attempting an admin operation", zap.String("requester", principal.String()))
		return multiplexer.NewErrorResponse(
			types.CodeNotAdmin,
			types.Codespace,
			errors.New("only administrator principals can perform this operation"),
		)
	}

	return nil
}

var (
	batchPathRegex  = regexp.MustCompile(`^/batch/([a-f0-9]{64})$`)
	proofPathRegex  = regexp.MustCompile(`^/batch/([a-f0-9]{64})/proof$`)
	headPathRegex   = regexp.MustCompile(`^/head/([a-f0-9]{64})/([a-f0-9]{64})$`)
	existsPathRegex = regexp.MustCompile(`^/exists/([a-f0-9]{64})$`)
)

// Query serves read-only lookups. All paths remain available while the registry is paused.
func (app *RegistryApp) Query(ctx context.Context, req *abci.RequestQuery, data json.RawMessage) (*abci.ResponseQuery, error) {
	switch req.Path {
	case "/status":
		return app.queryStatus(req)
	case "/verify-inclusion":
		return app.queryVerifyInclusion(req, data)
	case "/verify-multi":
		return app.queryVerifyMulti(req, data)
	case "/heads":
		return app.queryHeads(req, data)
	}

	if match := batchPathRegex.FindStringSubmatch(req.Path); len(match) == 2 {
		return app.queryBatch(req, match[1])
	}

	if match := proofPathRegex.FindStringSubmatch(req.Path); len(match) == 2 {
		return app.queryProof(req, match[1])
	}

	if match := headPathRegex.FindStringSubmatch(req.Path); len(match) == 3 {
		return app.queryHead(req, match[1], match[2])
	}

	if match := existsPathRegex.FindStringSubmatch(req.Path); len(match) == 2 {
		return app.queryExists(req, match[1])
	}

	return multiplexer.NewErrorResponse(types.CodeInvalidQueryPath, types.Codespace, nil).IntoQueryResponse(), nil
}

func (app *RegistryApp) queryStatus(req *abci.RequestQuery) (*abci.ResponseQuery, error) {
	total, err := app.Repository.TotalCommitments()
	if err != nil {
		app.logger.Error("Got error getting total commitments", zap.Error(err))
		return multiplexer.NewErrorResponse(types.CodeUnknownError, types.Codespace, err).IntoQueryResponse(), nil
	}

	strictMode, err := app.Repository.StrictMode()
	if err != nil {
		app.logger.Error("Got error getting strict mode", zap.Error(err))
		return multiplexer.NewErrorResponse(types.CodeUnknownError, types.Codespace, err).IntoQueryResponse(), nil
	}

	paused, err := app.Repository.Paused()
	if err != nil {
		app.logger.Error("Got error getting pause state", zap.Error(err))
		return multiplexer.NewErrorResponse(types.CodeUnknownError, types.Codespace, err).IntoQueryResponse(), nil
	}

	authorized, err := app.Repository.AuthorizedCount()
	if err != nil {
		app.logger.Error("Got error getting authorized count", zap.Error(err))
		return multiplexer.NewErrorResponse(types.CodeUnknownError, types.Codespace, err).IntoQueryResponse(), nil
	}

	marshalled, err := json.Marshal(types.StatusResponse{
		TotalCommitments: total,
		StrictMode:       strictMode,
		Paused:           paused,
		AuthorizedCount:  authorized,
	})
	if err != nil {
		app.logger.Error("Got error marshalling status", zap.Error(err))
		return multiplexer.NewErrorResponse(types.CodeUnknownError, types.Codespace, err).IntoQueryResponse(), nil
	}

	return &abci.ResponseQuery{
		Code:      types.CodeOk,
		Log:       "registry status",
		Height:    req.Height,
		Value:     marshalled,
		Codespace: types.Codespace,
	}, nil
}

func (app *RegistryApp) queryVerifyInclusion(req *abci.RequestQuery, data json.RawMessage) (*abci.ResponseQuery, error) {
	var verifyReq types.VerifyInclusionRequest
	if err := json.Unmarshal(data, &verifyReq); err != nil {
		return multiplexer.NewErrorResponse(multiplexer.CodeEncodingError, multiplexer.Codespace, err).IntoQueryResponse(), nil
	}

	included, errRes := app.verifyOne(verifyReq)
	if errRes != nil {
		return errRes.IntoQueryResponse(), nil
	}

	return app.verifyResponse(req, included)
}

func (app *RegistryApp) queryVerifyMulti(req *abci.RequestQuery, data json.RawMessage) (*abci.ResponseQuery, error) {
	var verifyReq types.VerifyMultiRequest
	if err := json.Unmarshal(data, &verifyReq); err != nil {
		return multiplexer.NewErrorResponse(multiplexer.CodeEncodingError, multiplexer.Codespace, err).IntoQueryResponse(), nil
	}

	// All-or-false: one failed item fails the whole batch
	included := len(verifyReq.Items) > 0
	for _, item := range verifyReq.Items {
		ok, errRes := app.verifyOne(item)
		if errRes != nil {
			return errRes.IntoQueryResponse(), nil
		}

		if !ok {
			included = false
			break
		}
	}

	return app.verifyResponse(req, included)
}

// verifyOne resolves the batch and folds the proof path. Verification failure, including an
// unknown batch id, is a false outcome rather than an error.
func (app *RegistryApp) verifyOne(item types.VerifyInclusionRequest) (bool, *multiplexer.ErrorResponse) {
	commitment, err := app.Repository.GetCommitment(item.BatchId)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}

		app.logger.Error("Got error getting commitment for verification", zap.Error(err))
		return false, multiplexer.NewErrorResponse(types.CodeUnknownError, types.Codespace, err)
	}

	if item.Index >= uint64(commitment.EventCount) {
		return false, nil
	}

	return merkle.VerifyInclusion(commitment.EventsRoot, item.Leaf, item.Path, item.Index), nil
}

func (app *RegistryApp) verifyResponse(req *abci.RequestQuery, included bool) (*abci.ResponseQuery, error) {
	marshalled, err := json.Marshal(types.VerifyInclusionResponse{Included: included})
	if err != nil {
		app.logger.Error("Got error marshalling verification response", zap.Error(err))
		return multiplexer.NewErrorResponse(types.CodeUnknownError, types.Codespace, err).IntoQueryResponse(), nil
	}

	return &abci.ResponseQuery{
		Code:      types.CodeOk,
		Log:       "inclusion verification",
		Height:    req.Height,
		Value:     marshalled,
		Codespace: types.Codespace,
	}, nil
}

func (app *RegistryApp) queryBatch(req *abci.RequestQuery, idHex string) (*abci.ResponseQuery, error) {
	batchId, err := types.ParseHash32(idHex)
	if err != nil { // *Should* be infallible
		return multiplexer.NewErrorResponse(types.CodeInvalidQueryPath, types.Codespace, nil).IntoQueryResponse(), nil
	}

	item, err := app.Repository.GetCommitmentWithProof(batchId)
	if err != nil {
		if errors.Is(err, proof.ErrTreeUninitialized) {
			return multiplexer.NewErrorResponse(types.CodeTreeUninitialized, types.Codespace, err).IntoQueryResponse(), nil
		}

		app.logger.Error("Got error getting commitment with proof", zap.Error(err), zap.Stringer("batch_id", batchId))
		return multiplexer.NewErrorResponse(types.CodeUnknownError, types.Codespace, err).IntoQueryResponse(), nil
	}

	return itemQueryResponse(app.logger, req, batchId, item)
}

func (app *RegistryApp) queryProof(req *abci.RequestQuery, idHex string) (*abci.ResponseQuery, error) {
	batchId, err := types.ParseHash32(idHex)
	if err != nil {
		return multiplexer.NewErrorResponse(types.CodeInvalidQueryPath, types.Codespace, nil).IntoQueryResponse(), nil
	}

	item, err := app.Repository.GetProofCommitmentWithProof(batchId)
	if err != nil {
		if errors.Is(err, proof.ErrTreeUninitialized) {
			return multiplexer.NewErrorResponse(types.CodeTreeUninitialized, types.Codespace, err).IntoQueryResponse(), nil
		}

		app.logger.Error("Got error getting proof commitment", zap.Error(err), zap.Stringer("batch_id", batchId))
		return multiplexer.NewErrorResponse(types.CodeUnknownError, types.Codespace, err).IntoQueryResponse(), nil
	}

	return itemQueryResponse(app.logger, req, batchId, item)
}

func (app *RegistryApp) queryHead(req *abci.RequestQuery, tenantHex, storeHex string) (*abci.ResponseQuery, error) {
	tenantId, err := types.ParseHash32(tenantHex)
	if err != nil {
		return multiplexer.NewErrorResponse(types.CodeInvalidQueryPath, types.Codespace, nil).IntoQueryResponse(), nil
	}

	storeId, err := types.ParseHash32(storeHex)
	if err != nil {
		return multiplexer.NewErrorResponse(types.CodeInvalidQueryPath, types.Codespace, nil).IntoQueryResponse(), nil
	}

	head, exists, err := app.Repository.Head(types.DeriveTenantStoreKey(tenantId, storeId))
	if err != nil {
		app.logger.Error("Got error getting chain head", zap.Error(err))
		return multiplexer.NewErrorResponse(types.CodeUnknownError, types.Codespace, err).IntoQueryResponse(), nil
	}

	marshalled, err := json.Marshal(types.HeadResponse{Exists: exists, Head: head})
	if err != nil {
		app.logger.Error("Got error marshalling head response", zap.Error(err))
		return multiplexer.NewErrorResponse(types.CodeUnknownError, types.Codespace, err).IntoQueryResponse(), nil
	}

	return &abci.ResponseQuery{
		Code:      types.CodeOk,
		Log:       "chain head",
		Height:    req.Height,
		Value:     marshalled,
		Codespace: types.Codespace,
	}, nil
}

func (app *RegistryApp) queryHeads(req *abci.RequestQuery, data json.RawMessage) (*abci.ResponseQuery, error) {
	var headsReq types.HeadsRequest
	if err := json.Unmarshal(data, &headsReq); err != nil {
		return multiplexer.NewErrorResponse(multiplexer.CodeEncodingError, multiplexer.Codespace, err).IntoQueryResponse(), nil
	}

	heads := make([]types.HeadResponse, len(headsReq.Pairs))
	for i, pair := range headsReq.Pairs {
		head, exists, err := app.Repository.Head(types.DeriveTenantStoreKey(pair.TenantId, pair.StoreId))
		if err != nil {
			app.logger.Error("Got error getting chain head", zap.Error(err))
			return multiplexer.NewErrorResponse(types.CodeUnknownError, types.Codespace, err).IntoQueryResponse(), nil
		}

		heads[i] = types.HeadResponse{Exists: exists, Head: head}
	}

	marshalled, err := json.Marshal(types.HeadsResponse{Heads: heads})
	if err != nil {
		app.logger.Error("Got error marshalling heads response", zap.Error(err))
		return multiplexer.NewErrorResponse(types.CodeUnknownError, types.Codespace, err).IntoQueryResponse(), nil
	}

	return &abci.ResponseQuery{
		Code:      types.CodeOk,
		Log:       "chain heads",
		Height:    req.Height,
		Value:     marshalled,
		Codespace: types.Codespace,
	}, nil
}

func (app *RegistryApp) queryExists(req *abci.RequestQuery, idHex string) (*abci.ResponseQuery, error) {
	batchId, err := types.ParseHash32(idHex)
	if err != nil {
		return multiplexer.NewErrorResponse(types.CodeInvalidQueryPath, types.Codespace, nil).IntoQueryResponse(), nil
	}

	exists, err := app.Repository.HasCommitment(batchId)
	if err != nil {
		app.logger.Error("Got error checking commitment existence", zap.Error(err))
		return multiplexer.NewErrorResponse(types.CodeUnknownError, types.Codespace, err).IntoQueryResponse(), nil
	}

	marshalled, err := json.Marshal(types.ExistsResponse{Exists: exists})
	if err != nil {
		app.logger.Error("Got error marshalling exists response", zap.Error(err))
		return multiplexer.NewErrorResponse(types.CodeUnknownError, types.Codespace, err).IntoQueryResponse(), nil
	}

	return &abci.ResponseQuery{
		Code:      types.CodeOk,
		Log:       "commitment existence",
		Height:    req.Height,
		Value:     marshalled,
		Codespace: types.Codespace,
	}, nil
}

func itemQueryResponse[T any](logger *zap.Logger, req *abci.RequestQuery, key types.Hash32, item proof.ItemWithProof[T]) (*abci.ResponseQuery, error) {
	height := req.Height
	if height == 0 {
		height = item.Height
	}

	if item.Item == nil {
		return &abci.ResponseQuery{
			Code:      types.CodeBatchNotFound,
			Log:       "not found",
			Index:     item.Index,
			Key:       key.Bytes(),
			Value:     nil,
			ProofOps:  item.ProofOps(),
			Height:    height,
			Codespace: types.Codespace,
		}, nil
	}

	marshalled, err := json.Marshal(item.Item)
	if err != nil {
		logger.Error("Got error marshalling query item", zap.Error(err), zap.Stringer("batch_id", key))
		return multiplexer.NewErrorResponse(types.CodeUnknownError, types.Codespace, err).IntoQueryResponse(), nil
	}

	return &abci.ResponseQuery{
		Code:      types.CodeOk,
		Log:       "found",
		Index:     item.Index,
		Key:       key.Bytes(),
		Value:     marshalled,
		ProofOps:  item.ProofOps(),
		Height:    height,
		Codespace: types.Codespace,
	}, nil
}

// decode unmarshals the rpc envelope and validates the principal's signature. Seed requests are
// the only unsigned rpc, as no key exists to verify against before seeding.
func (app *RegistryApp) decode(data json.RawMessage) (rpc.SignedPayload, identity.SubmitterData, *multiplexer.ErrorResponse) {
	var payload rpc.SignedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		app.logger.Warn("Got error decoding RegistryApp request rpc", zap.Error(err))
		return rpc.SignedPayload{}, identity.SubmitterData{}, multiplexer.NewErrorResponse(multiplexer.CodeEncodingError, multiplexer.Codespace, err)
	}

	if payload.Type == types.RequestTypeSeed {
		return payload, identity.SubmitterData{}, nil
	}

	requester, errRes := app.decodeRequester(payload)
	if errRes != nil {
		return rpc.SignedPayload{}, identity.SubmitterData{}, errRes
	}

	return payload, requester, nil
}

func (app *RegistryApp) decodeRequester(payload rpc.SignedPayload) (identity.SubmitterData, *multiplexer.ErrorResponse) {
	requester, err := app.resolveSubmitter(payload.Principal)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return identity.SubmitterData{}, multiplexer.NewErrorResponse(
				types.CodeUnauthorized,
				types.Codespace,
				fmt.Errorf("unknown principal %s", payload.Principal),
			)
		}

		app.logger.Warn(
			"Got error getting requester submitter data",
			zap.Error(err),
			zap.String("requester", payload.Principal.String()),
		)
		return identity.SubmitterData{}, multiplexer.NewErrorResponse(multiplexer.CodeUnknownError, multiplexer.Codespace, err)
	}

	valid, err := payload.ValidateSignature(requester.PublicKey)
	if err != nil {
		app.logger.Warn(
			"Got error validating RegistryApp request signature",
			zap.Error(err),
			zap.String("requester", payload.Principal.String()),
		)
		return identity.SubmitterData{}, multiplexer.NewErrorResponse(multiplexer.CodeUnknownError, multiplexer.Codespace, err)
	}

	if !valid {
		app.logger.Warn(
			"Got invalid RegistryApp request signature",
			zap.String("requester", payload.Principal.String()),
		)
		return identity.SubmitterData{}, multiplexer.NewErrorResponse(types.CodeInvalidSignature, types.Codespace, nil)
	}

	return requester, nil
}

// Staged-state-aware resolvers. Committed state is consulted only when the current block has not
// already staged a newer value.

func (app *RegistryApp) resolveSubmitter(principal identity.Principal) (identity.SubmitterData, error) {
	if data, ok := app.txState.auths[principal]; ok {
		return data, nil
	}

	return app.Repository.GetSubmitter(principal)
}

func (app *RegistryApp) resolveHead(key types.TenantStoreKey) (types.ChainHead, bool, error) {
	if head, ok := app.txState.heads[key]; ok {
		return head, true, nil
	}

	return app.Repository.Head(key)
}

func (app *RegistryApp) resolveCommitment(batchId types.Hash32) (types.BatchCommitment, bool, error) {
	if commitment, ok := app.txState.commitments[batchId]; ok {
		return commitment, true, nil
	}

	commitment, err := app.Repository.GetCommitment(batchId)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return types.BatchCommitment{}, false, nil
		}

		return types.BatchCommitment{}, false, err
	}

	return commitment, true, nil
}

func (app *RegistryApp) commitmentExists(batchId types.Hash32) (bool, error) {
	if _, ok := app.txState.commitments[batchId]; ok {
		return true, nil
	}

	return app.Repository.HasCommitment(batchId)
}

func (app *RegistryApp) proofExists(batchId types.Hash32) (bool, error) {
	if _, ok := app.txState.proofs[batchId]; ok {
		return true, nil
	}

	return app.Repository.HasProofCommitment(batchId)
}

func (app *RegistryApp) resolveStrictMode() (bool, error) {
	if app.txState.strictMode != nil {
		return *app.txState.strictMode, nil
	}

	return app.Repository.StrictMode()
}

func (app *RegistryApp) resolvePaused() (bool, error) {
	if app.txState.paused != nil {
		return *app.txState.paused, nil
	}

	return app.Repository.Paused()
}
