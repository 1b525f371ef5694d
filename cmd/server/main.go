package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/reelcut/backend/internal/api"
	"github.com/reelcut/backend/internal/modules/entitlement"
	"github.com/reelcut/backend/internal/modules/renders"
	"github.com/reelcut/backend/internal/modules/subscription"
	"github.com/reelcut/backend/internal/modules/usage"
	"github.com/reelcut/backend/internal/shared/config"
	"github.com/reelcut/backend/internal/shared/database"
	"github.com/reelcut/backend/internal/shared/logging"
	"github.com/reelcut/backend/internal/shared/metrics"
	"go.uber.org/zap"
)

var (
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
	logger, err := logging.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting ReelCut API Server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("environment", cfg.Environment),
	)

	// Initialize database
	db, err := database.NewPostgres(context.Background(), cfg.DatabaseURL, database.PoolOptions{})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Initialize Redis
	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	// Tier catalog
	catalog := entitlement.DefaultCatalog()
	if cfg.CatalogPath != "" {
		catalog, err = entitlement.LoadCatalog(cfg.CatalogPath)
		if err != nil {
			logger.Fatal("Failed to load tier catalog", zap.String("path", cfg.CatalogPath), zap.Error(err))
		}
	}
	logger.Info("Tier catalog loaded", zap.String("version", catalog.Version()))
	resolver := entitlement.NewResolver(catalog, logger)

	// Usage ledger
	var store usage.Store
	switch cfg.UsageStore {
	case config.UsageStoreMemory:
		logger.Warn("Usage counters are kept in memory and will not survive a restart")
		store = usage.NewMemoryStore()
	case config.UsageStoreRedis:
		store = usage.NewRedisStore(redisClient.Client, "usage")
	default:
		store = usage.NewPostgresStore(db.Pool)
	}
	ledger := usage.NewLedger(store, usage.SystemClock{}, logger)
	snapshots := usage.NewSnapshotCache(ledger, cfg.UsageSnapshotSize, cfg.UsageSnapshotTTL)

	m := metrics.New()

	// Initialize modules
	subscriptionSvc := subscription.NewService(db, resolver, logger)
	enforcer := entitlement.NewEnforcer(entitlement.EnforcerConfig{
		Resolver:  resolver,
		Ledger:    ledger,
		Overrides: subscriptionSvc,
		Observer: entitlement.ObserverFunc(func(tier entitlement.Tier, d entitlement.Decision) {
			m.RecordDecision(tier.String(), d.Allowed, string(d.Reason))
		}),
		Logger: logger,
	})

	renderQueue := renders.NewQueueClient(asynq.RedisClientOpt{
		Addr:     redisClient.Options.Addr,
		Password: redisClient.Options.Password,
		DB:       redisClient.Options.DB,
	}, logger)
	defer renderQueue.Close()

	rendersModule := renders.NewModule(renders.ModuleConfig{
		Enforcer:  enforcer,
		Queue:     renderQueue,
		Snapshots: snapshots,
		Metrics:   m,
		Logger:    logger,
	})

	prices := make(map[entitlement.PriceKey]string, len(cfg.StripePrices))
	for name, id := range cfg.StripePrices {
		key, ok := entitlement.ParsePriceKey(name)
		if !ok {
			logger.Warn("Ignoring unrecognized Stripe price", zap.String("name", name))
			continue
		}
		prices[key] = id
	}

	// Create API server
	server := api.NewServer(api.ServerConfig{
		Config:          cfg,
		Logger:          logger,
		DB:              db,
		Redis:           redisClient,
		Metrics:         m,
		Gatherer:        prometheus.DefaultGatherer,
		Resolver:        resolver,
		Enforcer:        enforcer,
		Prices:          entitlement.NewPriceMapper(prices),
		Ledger:          ledger,
		Snapshots:       snapshots,
		RendersModule:   rendersModule,
		SubscriptionSvc: subscriptionSvc,
	})

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      server.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("API server listening", zap.Int("port", cfg.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}
