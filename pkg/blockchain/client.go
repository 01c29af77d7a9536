package blockchain

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anchorstack/commitchain/pkg/pool"
	"github.com/anchorstack/commitchain/pkg/proof"
	"github.com/anchorstack/commitchain/pkg/queue"
	"github.com/anchorstack/commitchain/pkg/types/identity"
	types "github.com/anchorstack/commitchain/pkg/types/registry"
	"github.com/anchorstack/commitchain/pkg/types/rpc"
	"github.com/cometbft/cometbft/proto/tendermint/crypto"
	rpcclient "github.com/cometbft/cometbft/rpc/client"
	"github.com/cometbft/cometbft/rpc/client/http"
	"go.uber.org/zap"
)

// ClientConfig carries the signing identity and timeouts for talking to registry nodes.
type ClientConfig struct {
	Principal     identity.Principal
	PrivateKey    ed25519.PrivateKey
	QueryTimeout  time.Duration
	PollInterval  time.Duration
	SubmitTimeout time.Duration
}

// RoundRobinClient load-balances registry traffic over a pool of node connections, verifying
// merkle proofs on detail responses so a single lying node cannot forge lookups.
type RoundRobinClient struct {
	config ClientConfig
	logger *zap.Logger
	pool   *pool.Pool[http.HTTP]
}

var (
	queryOptionsProve   = rpcclient.ABCIQueryOptions{Prove: true}
	queryOptionsNoProve = rpcclient.ABCIQueryOptions{Prove: false}
)

func NewRoundRobinClient(config ClientConfig, logger *zap.Logger, clients []http.HTTP) *RoundRobinClient {
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = 5 * time.Second
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 200 * time.Millisecond
	}
	if config.SubmitTimeout <= 0 {
		config.SubmitTimeout = 15 * time.Second
	}

	return &RoundRobinClient{
		config: config,
		logger: logger,
		pool: pool.New[http.HTTP](clients, pool.Config[http.HTTP]{
			HealthCheckMaxAge: 10 * time.Second,
			RequeueInterval:   15 * time.Second,
			HealthCheck: func(c http.HTTP) bool {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()

				_, err := c.ABCIInfo(ctx)
				return err == nil
			},
			Destructor: http.HTTP.Stop,
		}),
	}
}

func (c *RoundRobinClient) Close() {
	if err := c.pool.Close(); err != nil {
		c.logger.Warn("Got error closing client pool", zap.Error(err))
	}
}

func (c *RoundRobinClient) LiveNodes() int {
	return c.pool.Size()
}

// SubmitCommitment signs and submits one batch commitment, waiting for block inclusion. On
// success it returns the anchor reference to record against the pending queue.
func (c *RoundRobinClient) SubmitCommitment(ctx context.Context, req types.SubmitRequest) (queue.AnchorRef, error) {
	return c.broadcast(ctx, types.RequestTypeSubmit, req)
}

// AttachProof signs and submits a compliance proof attachment for an anchored batch.
func (c *RoundRobinClient) AttachProof(ctx context.Context, req types.AttachProofRequest) (queue.AnchorRef, error) {
	return c.broadcast(ctx, types.RequestTypeAttachProof, req)
}

func (c *RoundRobinClient) broadcast(ctx context.Context, requestType rpc.RequestType, data any) (queue.AnchorRef, error) {
	conn, err := c.pool.Get()
	if err != nil {
		return queue.AnchorRef{}, err
	}

	tx, err := rpc.NewBuilder().
		App(types.AppName).
		Data(requestType, data).
		Signed(c.config.Principal, c.config.PrivateKey).
		Marshal()
	if err != nil {
		return queue.AnchorRef{}, err
	}

	res, err := broadcastAndPoll(ctx, conn, tx, c.config.PollInterval, c.config.SubmitTimeout)
	if err != nil {
		return queue.AnchorRef{}, err
	}

	return queue.AnchorRef{
		TxHash: res.Hash,
		Height: res.Height,
		Time:   time.Now(),
	}, nil
}

// HasBatch reports whether the registry already holds a commitment for the batch id.
func (c *RoundRobinClient) HasBatch(ctx context.Context, batchId types.Hash32) (bool, error) {
	res, err := c.query(ctx, fmt.Sprintf("/exists/%s", batchId), nil, queryOptionsNoProve)
	if err != nil {
		return false, err
	}

	var exists types.ExistsResponse
	if err := json.Unmarshal(res.Value, &exists); err != nil {
		return false, err
	}

	return exists.Exists, nil
}

// GetBatch fetches a committed batch and validates the merkle proof on the response.
func (c *RoundRobinClient) GetBatch(ctx context.Context, batchId types.Hash32) (types.BatchCommitment, error) {
	res, err := c.query(ctx, fmt.Sprintf("/batch/%s", batchId), nil, queryOptionsProve)
	if err != nil {
		return types.BatchCommitment{}, err
	}

	var commitment types.BatchCommitment
	if err := json.Unmarshal(res.Value, &commitment); err != nil {
		return types.BatchCommitment{}, err
	}

	if err := proof.ValidateProofOps(res.ProofOps); err != nil {
		return types.BatchCommitment{}, err
	}

	return commitment, nil
}

// Head returns the chain head for a tenant/store pair, if one exists.
func (c *RoundRobinClient) Head(ctx context.Context, tenantId, storeId types.Hash32) (types.HeadResponse, error) {
	res, err := c.query(ctx, fmt.Sprintf("/head/%s/%s", tenantId, storeId), nil, queryOptionsNoProve)
	if err != nil {
		return types.HeadResponse{}, err
	}

	var head types.HeadResponse
	if err := json.Unmarshal(res.Value, &head); err != nil {
		return types.HeadResponse{}, err
	}

	return head, nil
}

// VerifyInclusion asks the registry to check an event inclusion proof against a committed batch.
func (c *RoundRobinClient) VerifyInclusion(ctx context.Context, req types.VerifyInclusionRequest) (bool, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return false, err
	}

	res, err := c.query(ctx, "/verify-inclusion", body, queryOptionsNoProve)
	if err != nil {
		return false, err
	}

	var verifyRes types.VerifyInclusionResponse
	if err := json.Unmarshal(res.Value, &verifyRes); err != nil {
		return false, err
	}

	return verifyRes.Included, nil
}

// Status returns the registry's global counters and flags.
func (c *RoundRobinClient) Status(ctx context.Context) (types.StatusResponse, error) {
	res, err := c.query(ctx, "/status", nil, queryOptionsNoProve)
	if err != nil {
		return types.StatusResponse{}, err
	}

	var status types.StatusResponse
	if err := json.Unmarshal(res.Value, &status); err != nil {
		return types.StatusResponse{}, err
	}

	return status, nil
}

func (c *RoundRobinClient) query(
	ctx context.Context,
	path string,
	body []byte,
	options rpcclient.ABCIQueryOptions,
) (*queryResult, error) {
	conn, err := c.pool.Get()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.QueryTimeout)
	defer cancel()

	// Route to the registry sub-app, carrying the query body alongside
	muxed, err := json.Marshal(rpc.MuxedRequest{App: types.AppName, Data: body})
	if err != nil {
		return nil, err
	}

	res, err := conn.ABCIQueryWithOptions(ctx, path, muxed, options)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrABCIQueryFailed, err)
	}

	if res.Response.Code != types.CodeOk {
		return nil, &TxError{
			Codespace: res.Response.Codespace,
			Code:      res.Response.Code,
			Log:       res.Response.Log,
		}
	}

	return &queryResult{
		Value:    res.Response.Value,
		ProofOps: res.Response.ProofOps,
	}, nil
}

type queryResult struct {
	Value    []byte
	ProofOps *crypto.ProofOps
}
