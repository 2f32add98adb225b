// Package main is the entry point for the Logwarden log anomaly detection
// service. It initializes all components and starts the HTTP server and the
// ingestion workers.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"logwarden/internal/api"
	"logwarden/internal/batch"
	"logwarden/internal/config"
	"logwarden/internal/consumer"
	"logwarden/internal/ingest"
	"logwarden/internal/normalizer"
	"logwarden/internal/notification"
	"logwarden/internal/queue"
	kafkaqueue "logwarden/internal/queue/kafka"
	memoryqueue "logwarden/internal/queue/memory"
	"logwarden/internal/rules"
	"logwarden/internal/store"
	memorystor "logwarden/internal/store/memory"
	postgresstor "logwarden/internal/store/postgres"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err, "path", *configPath)
		os.Exit(1)
	}

	logger := initLogger(&cfg.Logger)
	logger.Info("configuration loaded",
		"path", *configPath,
		"storage_mode", cfg.Storage.Mode,
	)

	deps, cleanup, err := initDependencies(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize dependencies", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Load the rule snapshot before the workers start evaluating.
	if err := deps.rules.Reload(ctx); err != nil {
		logger.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	deps.rules.StartRefresher(ctx, cfg.Rules.ReloadInterval)

	// Start ingestion workers in background
	workersDone := make(chan error, 1)
	go func() {
		workersDone <- deps.consumers.Run(ctx)
	}()

	// Start HTTP server
	go func() {
		if err := deps.server.Start(); err != nil {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	logger.Info("Logwarden started",
		"address", cfg.Server.Address(),
		"storage_mode", cfg.Storage.Mode,
		"workers", cfg.Consumer.Workers,
	)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer shutdownCancel()

	if err := deps.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	// Workers drain their batches and commit before exiting.
	if err := <-workersDone; err != nil {
		logger.Error("worker shutdown error", "error", err)
	}

	logger.Info("Logwarden stopped")
}

// loadConfig reads the config file, falling back to defaults when the default
// path does not exist.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) && path == "config/config.yaml" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// dependencies holds all initialized service dependencies.
type dependencies struct {
	server    *api.Server
	consumers *consumer.Service
	rules     *rules.Store
}

// initDependencies creates and wires all service dependencies based on config.
// Returns the dependencies and a cleanup function.
func initDependencies(cfg *config.Config, logger *slog.Logger) (*dependencies, func(), error) {
	var (
		logRepo      store.LogRepository
		anomalyRepo  store.AnomalyRepository
		ruleRepo     store.RuleRepository
		producer     queue.Producer
		deadLetters  queue.Producer
		newConsumer  func() (queue.Consumer, error)
		cleanupFuncs []func()
	)

	if cfg.Storage.UseMemory() {
		logger.Info("initializing in-memory storage")

		logRepo = memorystor.NewLogRepository()
		anomalyRepo = memorystor.NewAnomalyRepository()
		ruleRepo = memorystor.NewRuleRepository()

		memQueue := memoryqueue.NewQueue(10000)
		producer = memQueue
		newConsumer = func() (queue.Consumer, error) { return memQueue, nil }
		cleanupFuncs = append(cleanupFuncs, func() { _ = memQueue.Close() })
	} else {
		logger.Info("initializing production storage (Kafka, PostgreSQL)")

		ctx := context.Background()
		db, err := postgresstor.NewDB(ctx, &cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		cleanupFuncs = append(cleanupFuncs, db.Close)

		if err := db.RunMigrations(ctx); err != nil {
			runCleanup(cleanupFuncs)
			return nil, nil, err
		}
		logger.Info("database migrations completed")

		logRepo = postgresstor.NewLogRepository(db)
		anomalyRepo = postgresstor.NewAnomalyRepository(db)
		ruleRepo = postgresstor.NewRuleRepository(db)

		kafkaProducer := kafkaqueue.NewProducer(&cfg.Kafka)
		producer = kafkaProducer
		cleanupFuncs = append(cleanupFuncs, func() { _ = kafkaProducer.Close() })

		dlqProducer := kafkaqueue.NewDeadLetterProducer(&cfg.Kafka)
		deadLetters = dlqProducer
		cleanupFuncs = append(cleanupFuncs, func() { _ = dlqProducer.Close() })

		// Each worker owns its own group reader.
		newConsumer = func() (queue.Consumer, error) {
			return kafkaqueue.NewConsumer(&cfg.Kafka, logger), nil
		}
	}

	// Frequency rule state: process-local by default, Redis when multiple
	// consumer instances must share windows and cooldowns.
	var state rules.StateStore
	if cfg.Rules.State == config.RuleStateRedis {
		redisState, err := rules.NewRedisState(context.Background(), &cfg.Redis)
		if err != nil {
			runCleanup(cleanupFuncs)
			return nil, nil, err
		}
		state = redisState
	} else {
		state = rules.NewMemoryState()
	}
	cleanupFuncs = append(cleanupFuncs, func() { _ = state.Close() })

	ruleStore := rules.NewStore(ruleRepo, state, logger)

	var norm normalizer.Normalizer
	if cfg.Normalizer.Mode == config.NormalizerModeRemote {
		norm = normalizer.NewRemoteNormalizer(cfg.Normalizer.Endpoint, cfg.Normalizer.Timeout)
	} else {
		norm = normalizer.NewFingerprinter()
	}

	var notifier notification.Notifier
	if cfg.Notifier.Enabled {
		notifier = notification.NewWebhookNotifier(&cfg.Notifier, logger)
	} else {
		notifier = notification.NewLogNotifier(logger)
	}

	consumerService := consumer.NewService(consumer.Deps{
		NewConsumer: newConsumer,
		NewWriter: func() *batch.Writer {
			return batch.NewWriter(logRepo, anomalyRepo, cfg.Batch, logger)
		},
		Normalizer:  norm,
		Rules:       ruleStore,
		DeadLetters: deadLetters,
		Notifier:    notifier,
		Logger:      logger,
	}, cfg.Consumer)

	ingestService := ingest.NewService(producer, logger)

	server := api.NewServer(api.ServerDeps{
		Config:        &cfg.Server,
		Logger:        logger,
		RuleHandler:   api.NewRuleHandler(ruleStore, logger),
		IngestHandler: api.NewIngestHandler(ingestService, logger),
		QueryHandler:  api.NewQueryHandler(logRepo, anomalyRepo, logger),
	})

	cleanup := func() {
		runCleanup(cleanupFuncs)
	}

	return &dependencies{
		server:    server,
		consumers: consumerService,
		rules:     ruleStore,
	}, cleanup, nil
}

func runCleanup(funcs []func()) {
	for i := len(funcs) - 1; i >= 0; i-- {
		funcs[i]()
	}
}

// initLogger creates and configures the application logger.
func initLogger(cfg *config.LoggerConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}
