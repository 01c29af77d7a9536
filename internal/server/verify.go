package server

import (
	types "github.com/anchorstack/commitchain/pkg/types/registry"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HandleVerify checks an event inclusion proof against the registry. Verification failure is a
// 200 with included=false, matching the registry's own semantics.
func (s *Server) HandleVerify(ctx *gin.Context) {
	var req types.VerifyInclusionRequest
	if err := ctx.BindJSON(&req); err != nil {
		ctx.JSON(400, gin.H{"error": "invalid request body"})
		return
	}

	included, err := s.client.VerifyInclusion(ctx, req)
	if err != nil {
		s.logger.Error("Failed to verify inclusion proof", zap.Error(err))
		ctx.JSON(502, gin.H{"error": "failed to verify inclusion proof"})
		return
	}

	ctx.JSON(200, types.VerifyInclusionResponse{Included: included})
}
