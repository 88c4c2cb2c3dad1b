package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"matcher/apps/executor/internal/api"
	"matcher/apps/executor/internal/assets"
	"matcher/apps/executor/internal/chain"
	"matcher/apps/executor/internal/config"
	"matcher/apps/executor/internal/event_publisher"
	"matcher/apps/executor/internal/executor"
	"matcher/apps/executor/internal/reconciler"
	"matcher/apps/executor/internal/repository"
	"matcher/apps/executor/internal/saga"
	"matcher/apps/executor/internal/sagalog"
	"matcher/apps/executor/internal/trigger"
)

func main() {
	// Initialize zap logger
	logger, err := zap.NewProduction()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	// Load configuration from environment variables
	cfg := config.NewConfig()

	networkNames := make([]string, 0, len(cfg.Networks))
	for _, n := range cfg.Networks {
		networkNames = append(networkNames, n.Name)
	}
	logger.Info("Starting executor with configuration",
		zap.Bool("enabled", cfg.Enabled),
		zap.Duration("interval", cfg.Interval),
		zap.Strings("networks", networkNames),
		zap.String("kafka_broker", cfg.KafkaBroker),
		zap.String("kafka_topic", cfg.KafkaTopic),
		zap.String("saga_log_path", cfg.SagaLogPath),
		zap.Int("api_port", cfg.APIPort),
	)

	if !cfg.Runnable() {
		logger.Warn("Executor disabled: EXECUTOR_ENABLED, EXECUTOR_PRIVATE_KEY and at least one RPC URL are required")
		return
	}

	key, err := chain.ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		logger.Fatal("Invalid executor private key", zap.Error(err))
	}
	executorAddress := crypto.PubkeyToAddress(key.PublicKey)

	// Connect to database
	db, err := sql.Open("postgres", cfg.DbURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Initialize database tables
	if err := repository.InitMigration(db); err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}

	orderRepository := repository.NewOrderRepository(db, logger)
	tradeRepository := repository.NewTradeRepository(db, logger)
	conditionalRepository := repository.NewConditionalOrderRepository(db, logger)
	tokenRepository := repository.NewTokenRepository(db, logger)
	outboxRepository := repository.NewOutboxRepository(db, logger)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Connect to every configured network. A network that cannot be reached stays disabled
	// for the lifetime of the process.
	var connectors []*chain.Connector
	for _, n := range cfg.Networks {
		conn, err := chain.Connect(ctx, n, key, logger)
		if err != nil {
			logger.Error("Network disabled", zap.String("network", n.Name), zap.Error(err))
			continue
		}
		defer conn.Close()
		connectors = append(connectors, conn)
	}
	if len(connectors) == 0 {
		logger.Fatal("No network could be connected")
	}

	// Create event publisher
	eventPublisher, err := event_publisher.NewEventPublisher(cfg.KafkaBroker, cfg.KafkaTopic, logger, outboxRepository)
	if err != nil {
		logger.Fatal("Failed to create event publisher", zap.Error(err))
	}
	defer eventPublisher.Close()

	go eventPublisher.StartPublishing(ctx)

	// Watch settlement contracts and feed their logs into the outbox
	for _, conn := range connectors {
		watcher := chain.NewWatcher(conn, outboxRepository, cfg.ChunkSize, cfg.WatchLookback, logger)
		go eventPublisher.Capture(ctx, watcher.Events())
		go func(network string) {
			if err := watcher.Run(ctx); err != nil {
				logger.Error("Watcher stopped", zap.String("network", network), zap.Error(err))
			}
		}(conn.Network())
	}

	// Create reconciler
	fillReconciler, err := reconciler.NewReconciler(cfg.KafkaBroker, cfg.KafkaTopic, executorAddress, logger, tradeRepository)
	if err != nil {
		logger.Fatal("Failed to create reconciler", zap.Error(err))
	}
	defer fillReconciler.Close()

	go func() {
		if err := fillReconciler.Start(ctx); err != nil {
			logger.Error("Reconciler failed", zap.Error(err))
		}
	}()

	sagaLog, err := sagalog.Open(cfg.SagaLogPath)
	if err != nil {
		logger.Fatal("Failed to open saga journal", zap.String("path", cfg.SagaLogPath), zap.Error(err))
	}
	defer sagaLog.Close()

	resolver := assets.NewResolver(tokenRepository, assets.GlobalRegistry, logger)
	conditionalTrigger := trigger.NewTrigger(conditionalRepository, tradeRepository, logger)
	controller := executor.NewController(orderRepository, tradeRepository, resolver, conditionalTrigger, logger)

	networks := make([]*executor.Network, 0, len(connectors))
	custodians := make([]saga.Custodian, 0, len(connectors))
	chains := make([]api.Chain, 0, len(connectors))
	for _, conn := range connectors {
		networks = append(networks, executor.NewNetwork(conn.Network(), conn))
		custodians = append(custodians, conn)
		chains = append(chains, conn)
	}

	// Cross-chain settlement needs custody on both sides
	var crossChain executor.CrossChainRunner
	if len(custodians) > 1 {
		runner := saga.NewRunner(custodians, orderRepository, tradeRepository, resolver, sagaLog, logger)
		if stalled := runner.Recover(ctx); stalled > 0 {
			logger.Warn("Cross-chain sagas still unfinished after recovery", zap.Int("stalled", stalled))
		}
		crossChain = runner
	} else {
		logger.Info("Cross-chain settlement disabled, fewer than two networks connected")
	}

	// Create and start API server
	apiServer := api.NewServer(cfg.APIPort, chains, sagaLog, assets.GlobalRegistry, logger)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Fatal("API server failed", zap.Error(err))
		}
	}()

	scheduler := executor.NewScheduler(cfg.Interval, controller, networks, crossChain, logger)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := scheduler.Run(ctx); err != nil {
			logger.Error("Scheduler stopped", zap.Error(err))
		}
	}()

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	logger.Info("Received shutdown signal, starting graceful shutdown...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error shutting down API server", zap.Error(err))
	}

	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("Scheduler did not stop before the shutdown deadline")
	}

	logger.Info("Executor shutdown complete")
}
