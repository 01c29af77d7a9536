package blockchain

import (
	"errors"
	"fmt"

	types "github.com/anchorstack/commitchain/pkg/types/registry"
)

var (
	ErrABCIQueryFailed = errors.New("ABCI query failed")
	ErrTxNotFound      = errors.New("tx not found")
)

// TxError is a typed on-chain rejection, carrying the (codespace, code) pair the registry
// returned so callers can distinguish terminal failures from retryable ones.
type TxError struct {
	Codespace string
	Code      uint32
	Log       string
}

func (e *TxError) Error() string {
	return fmt.Sprintf("transaction rejected [%s %d]: %s", e.Codespace, e.Code, e.Log)
}

// Terminal reports whether retrying the same transaction can never succeed.
func (e *TxError) Terminal() bool {
	return types.IsTerminalCode(e.Codespace, e.Code)
}

// IsDuplicateBatch reports whether the rejection means the batch is already committed. The anchor
// process treats this as convergence, not failure.
func IsDuplicateBatch(err error) bool {
	var txErr *TxError
	if !errors.As(err, &txErr) {
		return false
	}

	return txErr.Codespace == types.Codespace && txErr.Code == types.CodeBatchAlreadyCommitted
}

// AsTxError extracts the typed rejection from an error chain, if there is one.
func AsTxError(err error) (*TxError, bool) {
	var txErr *TxError
	if !errors.As(err, &txErr) {
		return nil, false
	}

	return txErr, true
}

// IsTerminal reports whether the error is a typed rejection that no retry can fix.
func IsTerminal(err error) bool {
	var txErr *TxError
	if !errors.As(err, &txErr) {
		return false
	}

	return txErr.Terminal()
}
