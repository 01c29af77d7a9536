package proof

import (
	"github.com/cometbft/cometbft/proto/tendermint/crypto"
	"github.com/cosmos/iavl"
)

type ItemWithProof[T any] struct {
	Item    *T
	Index   int64
	Height  int64
	ProofOp crypto.ProofOp
}

func (i *ItemWithProof[T]) ProofOps() *crypto.ProofOps {
	return ProofOps(i.ProofOp)
}

func ProofOps(proofOp crypto.ProofOp) *crypto.ProofOps {
	return &crypto.ProofOps{Ops: []crypto.ProofOp{proofOp}}
}

func GetProofHeight(tree *iavl.MutableTree) int64 {
	latest := tree.Version()
	if tree.VersionExists(latest - 1) {
		return latest - 1
	} else {
		return latest
	}
}
