package server

import (
	"errors"

	"github.com/anchorstack/commitchain/pkg/blockchain"
	types "github.com/anchorstack/commitchain/pkg/types/registry"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (s *Server) HandleGetBatch(ctx *gin.Context) {
	batchId, err := types.ParseHash32(ctx.Param("batch_id"))
	if err != nil {
		ctx.JSON(400, gin.H{"error": "invalid batch id"})
		return
	}

	commitment, err := s.client.GetBatch(ctx, batchId)
	if err != nil {
		var txErr *blockchain.TxError
		if errors.As(err, &txErr) && txErr.Code == types.CodeBatchNotFound {
			ctx.JSON(404, gin.H{"error": "batch not found"})
			return
		}

		s.logger.Error("Failed to fetch batch", zap.String("batch_id", batchId.String()), zap.Error(err))
		ctx.JSON(502, gin.H{"error": "failed to fetch batch"})
		return
	}

	ctx.IndentedJSON(200, commitment)
}

func (s *Server) HandleGetHead(ctx *gin.Context) {
	tenantId, err := types.ParseHash32(ctx.Param("tenant_id"))
	if err != nil {
		ctx.JSON(400, gin.H{"error": "invalid tenant id"})
		return
	}

	storeId, err := types.ParseHash32(ctx.Param("store_id"))
	if err != nil {
		ctx.JSON(400, gin.H{"error": "invalid store id"})
		return
	}

	head, err := s.client.Head(ctx, tenantId, storeId)
	if err != nil {
		s.logger.Error("Failed to fetch chain head", zap.Error(err))
		ctx.JSON(502, gin.H{"error": "failed to fetch chain head"})
		return
	}

	if !head.Exists {
		ctx.JSON(404, gin.H{"error": "no commitments for tenant/store pair"})
		return
	}

	ctx.IndentedJSON(200, head)
}
