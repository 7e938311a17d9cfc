package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aescanero/maestro/internal/application/orchestrator"
	"github.com/aescanero/maestro/internal/application/workers"
	"github.com/aescanero/maestro/internal/builtins"
	"github.com/aescanero/maestro/internal/config"
	eventsmemory "github.com/aescanero/maestro/pkg/adapters/events/memory"
	"github.com/aescanero/maestro/pkg/adapters/events/redis"
	"github.com/aescanero/maestro/pkg/adapters/metrics/prometheus"
	storagememory "github.com/aescanero/maestro/pkg/adapters/storage/memory"
	redisstorage "github.com/aescanero/maestro/pkg/adapters/storage/redis"
	"github.com/aescanero/maestro/pkg/api/grpc"
	"github.com/aescanero/maestro/pkg/api/http"
	"github.com/aescanero/maestro/pkg/api/websocket"
	"github.com/aescanero/maestro/pkg/jobs"
	"github.com/aescanero/maestro/pkg/maestro"
	"github.com/aescanero/maestro/pkg/ports"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting maestro",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("mode", cfg.Mode))

	catalog := jobs.NewCatalog()
	builtins.Register(catalog)

	scripts := jobs.DefaultScriptRunner()
	scripts.Logger = logger

	if cfg.Mode == config.ModeRun {
		code := runOnce(cfg, catalog, scripts, logger)
		_ = logger.Sync()
		os.Exit(code)
	}

	serve(cfg, catalog, scripts, logger)
}

// runOnce executes the definition file and exits
func runOnce(cfg *config.Config, catalog *jobs.Catalog, scripts *jobs.ScriptRunner, logger *zap.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Timeouts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeouts.RunTimeout)
		defer cancel()
	}

	doc, err := readDocument(cfg.DefinitionFile)
	if err != nil {
		logger.Error("failed to read definition", zap.String("file", cfg.DefinitionFile), zap.Error(err))
		return 1
	}
	if err := orchestrator.NewValidator(catalog).Validate(doc); err != nil {
		logger.Error("invalid definition", zap.Error(err))
		return 1
	}

	metricsCollector := prometheus.NewCollector()
	eventBus := eventsmemory.NewInMemoryEventBus()
	defer eventBus.Close()

	logEvent := func(_ context.Context, event ports.Event) error {
		logger.Debug("event",
			zap.String("type", string(event.Type)),
			zap.String("job", event.Job),
			zap.Any("data", event.Data))
		return nil
	}
	for _, topic := range []string{ports.TopicRuns, ports.TopicJobs} {
		if err := eventBus.Subscribe(ctx, topic, logEvent); err != nil {
			logger.Error("failed to subscribe to events", zap.Error(err))
			return 1
		}
	}

	m, err := maestro.FromDocument(doc,
		maestro.WithLogger(logger),
		maestro.WithCatalog(catalog),
		maestro.WithScriptRunner(scripts),
		maestro.WithEventBus(eventBus),
		maestro.WithMetrics(metricsCollector),
		maestro.WithRunID(uuid.NewString()),
		maestro.WithPoolMode(jobs.PoolMode(cfg.Pool.Mode)),
		maestro.WithMaxWorkers(cfg.Pool.MaxWorkers),
	)
	if err != nil {
		logger.Error("failed to load jobs", zap.Error(err))
		return 1
	}

	results, err := m.Execute(ctx)
	if err != nil {
		logger.Error("run failed", zap.String("run_id", m.RunID()), zap.Error(err))
		return 1
	}

	logger.Info("run completed",
		zap.String("run_id", m.RunID()),
		zap.Int("jobs", m.Registry().Len()),
		zap.Any("results", results))

	if cfg.OutputFile != "" {
		if err := m.SerializeFile(cfg.OutputFile); err != nil {
			logger.Error("failed to write output", zap.String("file", cfg.OutputFile), zap.Error(err))
			return 1
		}
		logger.Info("jobs serialized", zap.String("file", cfg.OutputFile))
	}

	return 0
}

func readDocument(path string) (*maestro.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", maestro.ErrDocumentNotFound, path)
		}
		return nil, err
	}
	defer f.Close()
	return maestro.DecodeDocument(f)
}

// serve runs the API servers until a shutdown signal
func serve(cfg *config.Config, catalog *jobs.Catalog, scripts *jobs.ScriptRunner, logger *zap.Logger) {
	ctx := context.Background()

	var redisClient *goredis.Client
	if cfg.UsesRedis() {
		// Initialize Redis client
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})

		// Test Redis connection
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	// Initialize adapters
	var eventBus ports.EventBus = eventsmemory.NewInMemoryEventBus()
	if cfg.EventsBackend == config.BackendRedis {
		streams, err := redis.NewStreamsEventBus(
			redisClient,
			cfg.Redis.ConsumerGroup,
			cfg.Redis.ConsumerName,
			cfg.Redis.StreamMaxLen,
			logger,
		)
		if err != nil {
			logger.Fatal("failed to create event bus", zap.Error(err))
		}
		eventBus = streams
	}

	var store ports.DefinitionStore = storagememory.NewInMemoryDefinitionStore()
	if cfg.StoreBackend == config.BackendRedis {
		store = redisstorage.NewDefinitionStore(redisClient, cfg.Redis.DefinitionTTL, logger)
	}

	metricsCollector := prometheus.NewCollector()

	// Initialize application components
	validator := orchestrator.NewValidator(catalog)

	orchestratorMgr := orchestrator.NewManager(
		store,
		catalog,
		eventBus,
		metricsCollector,
		validator,
		logger,
		orchestrator.Settings{
			RunTimeout:   cfg.Timeouts.RunTimeout,
			PoolMode:     jobs.PoolMode(cfg.Pool.Mode),
			MaxWorkers:   cfg.Pool.MaxWorkers,
			ScriptRunner: scripts,
		},
	)

	workerPool := workers.NewPool(
		cfg.Workers,
		cfg.WorkerBacklog,
		metricsCollector,
		logger,
		cfg.HealthCheckInterval,
	)

	// Initialize API servers
	httpServer := http.NewServer(&http.Config{
		Port:         cfg.HTTPPort,
		Orchestrator: orchestratorMgr,
		Metrics:      metricsCollector.Handler(),
		Health:       workerPool.Health(),
		APIToken:     cfg.APIToken,
		Logger:       logger,
	})

	// Add WebSocket handler to HTTP server
	wsHandler := websocket.NewHandler(eventBus, logger)
	httpServer.SetupWebSocket(wsHandler)

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:   cfg.GRPCPort,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("failed to create gRPC server", zap.Error(err))
	}
	workerPool.Health().OnChange(grpcServer.SetServing)

	// Start worker pool
	if err := workerPool.Start(); err != nil {
		logger.Fatal("failed to start worker pool", zap.Error(err))
	}
	orchestratorMgr.SetDispatcher(workerPool)

	// Start servers
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := grpcServer.Start(); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	logger.Info("maestro started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("workers", cfg.Workers),
		zap.String("store", cfg.StoreBackend),
		zap.String("events", cfg.EventsBackend))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	// Shutdown components
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	if err := orchestratorMgr.Shutdown(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown error", zap.Error(err))
	}

	if err := workerPool.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker pool shutdown error", zap.Error(err))
	}

	if err := eventBus.Close(); err != nil {
		logger.Error("event bus close error", zap.Error(err))
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}

	logger.Info("maestro shut down complete")
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(zapLevel)
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapConfig.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
