package server

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (s *Server) HandleHealth(ctx *gin.Context) {
	ctx.JSON(200, gin.H{"status": "ok"})
}

func (s *Server) HandleStatus(ctx *gin.Context) {
	if err := s.queue.TestConnection(); err != nil {
		s.logger.Error("Failed to connect to the pending queue", zap.Error(err))
		ctx.JSON(500, gin.H{"status": "error", "error": "failed to connect to the pending queue"})
		return
	}

	pendingCount, err := s.queue.PendingCount(ctx)
	if err != nil {
		s.logger.Error("Failed to count pending commitments", zap.Error(err))
		ctx.JSON(500, gin.H{"status": "error", "error": "failed to count pending commitments"})
		return
	}

	ctx.IndentedJSON(200, gin.H{
		"status":        "ok",
		"stats":         s.service.Stats(),
		"breaker_state": s.service.BreakerState().String(),
		"pending_count": pendingCount,
		"live_nodes":    s.client.LiveNodes(),
	})
}

// HandleRegistryStatus proxies the registry's global counters and flags.
func (s *Server) HandleRegistryStatus(ctx *gin.Context) {
	status, err := s.client.Status(ctx)
	if err != nil {
		s.logger.Error("Failed to fetch registry status", zap.Error(err))
		ctx.JSON(502, gin.H{"status": "error", "error": "failed to fetch registry status"})
		return
	}

	ctx.IndentedJSON(200, status)
}
