package server

import (
	"github.com/anchorstack/commitchain/internal/config"
	"github.com/anchorstack/commitchain/pkg/anchor"
	"github.com/anchorstack/commitchain/pkg/blockchain"
	"github.com/anchorstack/commitchain/pkg/queue"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Server is the anchor daemon's HTTP surface: liveness, anchoring stats and read-only proxies
// onto the registry for operators.
type Server struct {
	config  config.Config
	logger  *zap.Logger
	client  *blockchain.RoundRobinClient
	queue   queue.Queue
	service *anchor.Service

	router *gin.Engine
}

func NewServer(
	cfg config.Config,
	logger *zap.Logger,
	client *blockchain.RoundRobinClient,
	pending queue.Queue,
	service *anchor.Service,
) *Server {
	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		config:  cfg,
		logger:  logger,
		client:  client,
		queue:   pending,
		service: service,

		router: gin.Default(),
	}
}

func (s *Server) Run() error {
	_ = s.router.SetTrustedProxies(nil)

	s.router.GET("/health", s.HandleHealth)
	s.router.GET("/status", s.HandleStatus)
	s.router.GET("/batch/:batch_id", s.HandleGetBatch)
	s.router.GET("/head/:tenant_id/:store_id", s.HandleGetHead)
	s.router.POST("/verify", s.HandleVerify)

	// Register development / debug endpoints
	if !s.config.Production {
		s.router.GET("/debug/registry", s.HandleRegistryStatus)
	}

	return s.router.Run(s.config.Server.Address)
}
