package blockchain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cometbft/cometbft/rpc/client/http"
	coretypes "github.com/cometbft/cometbft/rpc/core/types"
	rpctypes "github.com/cometbft/cometbft/rpc/jsonrpc/types"
	cmttypes "github.com/cometbft/cometbft/types"
)

// broadcastAndPoll submits the transaction to the mempool and polls until it is included in a
// block or the timeout elapses. A non-zero CheckTx or DeliverTx code surfaces as a TxError.
func broadcastAndPoll(
	ctx context.Context,
	client *http.HTTP,
	tx cmttypes.Tx,
	pollInterval time.Duration,
	timeout time.Duration,
) (*coretypes.ResultTx, error) {
	res, err := client.BroadcastTxSync(ctx, tx)
	if err != nil {
		return nil, err
	}

	if res.Code != 0 {
		return nil, &TxError{
			Codespace: res.Codespace,
			Code:      res.Code,
			Log:       res.Log,
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			// Deadline without inclusion: the tx may still land, reconciliation will catch it
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrTxNotFound
			}

			return nil, ctx.Err()
		case <-time.After(pollInterval):
			txRes, err := client.Tx(ctx, res.Hash, false)
			if err != nil {
				var rpcError *rpctypes.RPCError
				if errors.As(err, &rpcError) && strings.Contains(rpcError.Data, "not found") {
					continue
				}

				return nil, err
			}

			if txRes.TxResult.Code != 0 {
				return nil, &TxError{
					Codespace: txRes.TxResult.Codespace,
					Code:      txRes.TxResult.Code,
					Log:       txRes.TxResult.Log,
				}
			}

			return txRes, nil
		}
	}
}
