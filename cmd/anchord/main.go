package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/anchorstack/commitchain/internal/config"
	"github.com/anchorstack/commitchain/internal/server"
	"github.com/anchorstack/commitchain/pkg/anchor"
	"github.com/anchorstack/commitchain/pkg/anchor/state"
	"github.com/anchorstack/commitchain/pkg/blockchain"
	"github.com/anchorstack/commitchain/pkg/broadcast"
	"github.com/anchorstack/commitchain/pkg/queue"
	"github.com/anchorstack/commitchain/pkg/queue/mongodb"
	"github.com/anchorstack/commitchain/pkg/types/identity"
	"github.com/cometbft/cometbft/rpc/client/http"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := buildLogger(cfg)
	defer logger.Sync()

	shutdownOrchestrator := broadcast.NewErrorWaitChannel()

	blockchainClient := buildBlockchainClient(cfg, logger.With(zap.String("module", "blockchain")))
	defer blockchainClient.Close()

	stateStore, err := state.NewLevelDBStore(cfg.State.Path)
	if err != nil {
		logger.Fatal("Failed to create state store", zap.Error(err))
	}
	defer stateStore.Close(context.Background())

	db := connectMongo(cfg, logger)
	pendingQueue := buildQueue(logger.With(zap.String("module", "queue")), db)

	service := anchor.NewService(
		anchor.Config{
			PollInterval:      cfg.Anchor.PollInterval.Duration(),
			CycleTimeout:      cfg.Anchor.CycleTimeout.Duration(),
			MinEventCount:     cfg.Anchor.MinEventCount,
			MaxAnchorLag:      cfg.Anchor.MaxAnchorLag.Duration(),
			MaxConcurrentKeys: cfg.Anchor.MaxConcurrentKeys,
			MaxRetries:        cfg.Anchor.MaxRetries,
			InitialBackoff:    cfg.Anchor.InitialBackoff.Duration(),
			MaxBackoff:        cfg.Anchor.MaxBackoff.Duration(),
			BreakerThreshold:  cfg.Anchor.BreakerThreshold,
			BreakerCooldown:   cfg.Anchor.BreakerCooldown.Duration(),
		},
		logger.With(zap.String("module", "anchor")),
		blockchainClient,
		pendingQueue,
		stateStore,
	)
	go service.StartLoop(shutdownOrchestrator.Subscribe())

	httpServer := server.NewServer(
		cfg,
		logger.With(zap.String("module", "server")),
		blockchainClient,
		pendingQueue,
		service,
	)

	go func() {
		if err := httpServer.Run(); err != nil {
			logger.Fatal("Failed to run HTTP server", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	<-stop

	// Shutdown gracefully, letting an in-flight cycle finish
	logger.Info("Received shutdown signal!")
	if err := shutdownOrchestrator.Await(time.Second * 30); err != nil {
		logger.Error("Failed to shutdown anchor service", zap.Error(err))
	} else {
		logger.Info("Anchor service shutdown successfully")
	}
}

func buildLogger(cfg config.Config) *zap.Logger {
	var logCfg zap.Config
	if cfg.Production {
		logCfg = zap.NewProductionConfig()

		if cfg.PrettyLogs {
			logCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
			logCfg.Encoding = "console"
		}
	} else {
		logCfg = zap.NewDevelopmentConfig()
		logCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	switch strings.ToLower(cfg.LogLevel) {
	case "error":
		logCfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	case "warn":
		logCfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case "info":
		logCfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	case "debug":
		logCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	default:
		logCfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	logger, err := logCfg.Build()
	if err != nil {
		panic(err)
	}

	return logger
}

func buildBlockchainClient(cfg config.Config, logger *zap.Logger) *blockchain.RoundRobinClient {
	privateKey, err := parsePrivateKey(cfg.Blockchain.PrivateKey)
	if err != nil {
		logger.Fatal("Failed to parse submitter private key", zap.Error(err))
	}

	var clients []http.HTTP
	for _, nodeAddress := range cfg.Blockchain.NodeAddresses {
		client, err := http.New(nodeAddress, "/websocket")
		if err != nil {
			logger.Error("Failed to create blockchain client", zap.Error(err), zap.String("nodeAddress", nodeAddress))
			continue
		}

		clients = append(clients, *client)
	}

	if len(clients) < cfg.Blockchain.MinimumNodes {
		logger.Fatal(
			"minimum online node count not met",
			zap.Int("minimumNodes", cfg.Blockchain.MinimumNodes),
			zap.Int("onlineNodes", len(clients)),
		)
	}

	clientConfig := blockchain.ClientConfig{
		Principal:     identity.Principal(cfg.Blockchain.Principal),
		PrivateKey:    privateKey,
		QueryTimeout:  cfg.Blockchain.QueryTimeout.Duration(),
		PollInterval:  cfg.Blockchain.PollInterval.Duration(),
		SubmitTimeout: cfg.Blockchain.SubmitTimeout.Duration(),
	}

	return blockchain.NewRoundRobinClient(clientConfig, logger, clients)
}

func parsePrivateKey(encoded string) (ed25519.PrivateKey, error) {
	decoded, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, err
	}

	// Accept either a full private key or just the 32-byte seed
	if len(decoded) == ed25519.SeedSize {
		return ed25519.NewKeyFromSeed(decoded), nil
	}

	return ed25519.PrivateKey(decoded), nil
}

func connectMongo(cfg config.Config, logger *zap.Logger) *mongo.Database {
	opts := options.Client().
		ApplyURI(cfg.MongoDB.URI).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1))

	client, err := mongo.Connect(context.Background(), opts)
	if err != nil {
		logger.Fatal("failed to connect to MongoDB", zap.Error(err))
	}

	// Ping server
	if err := client.Ping(context.Background(), nil); err != nil {
		logger.Fatal("failed to ping MongoDB server", zap.Error(err))
	}

	return client.Database(cfg.MongoDB.DatabaseName)
}

func buildQueue(logger *zap.Logger, db *mongo.Database) queue.Queue {
	pendingQueue := mongodb.NewMongoQueue(logger, db)
	if err := pendingQueue.InitSchema(context.Background()); err != nil {
		logger.Fatal("failed to initialize MongoDB schema", zap.Error(err))
	}

	return pendingQueue
}
