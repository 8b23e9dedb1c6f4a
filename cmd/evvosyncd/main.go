package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evvofinance/evvo-sync-go/internal/config"
	"github.com/evvofinance/evvo-sync-go/internal/domain"
	"github.com/evvofinance/evvo-sync-go/internal/handler"
	"github.com/evvofinance/evvo-sync-go/internal/infra/cache"
	"github.com/evvofinance/evvo-sync-go/internal/infra/docstore/memory"
	mongostore "github.com/evvofinance/evvo-sync-go/internal/infra/docstore/mongo"
	"github.com/evvofinance/evvo-sync-go/internal/infra/docstore/supabase"
	"github.com/evvofinance/evvo-sync-go/internal/infra/observability"
	"github.com/evvofinance/evvo-sync-go/internal/infra/resilience"
	"github.com/evvofinance/evvo-sync-go/internal/port"
	"github.com/evvofinance/evvo-sync-go/internal/repository"
	"github.com/evvofinance/evvo-sync-go/internal/service"
	"github.com/evvofinance/evvo-sync-go/internal/syncstore"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("store_backend", cfg.StoreBackend),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Duration("jwt_access_ttl", cfg.JWTAccessTTL),
		zap.Duration("jwt_refresh_ttl", cfg.JWTRefreshTTL),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "evvo-sync")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Document store ---
	store, cleanup, err := newStore(cfg, metrics, logger)
	if err != nil {
		logger.Fatal("failed to open document store", zap.Error(err))
	}
	defer cleanup()

	// --- Cache ---
	var profileCache port.Cache[domain.UserProfile]
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		profileCache = cache.NewRedis[domain.UserProfile](rdb, "profile", cfg.CacheTTL)
		logger.Info("using Redis profile cache", zap.String("addr", cfg.RedisAddr))
	} else {
		profileCache = cache.New[domain.UserProfile](cfg.CacheTTL)
	}

	// --- Repositories ---
	wallets := repository.NewWalletRepository(store, metrics, logger)
	transactions := repository.NewTransactionRepository(store, metrics, logger)
	goals := repository.NewGoalRepository(store, metrics, logger)
	debts := repository.NewDebtRepository(store, metrics, logger)

	// --- Services ---
	identitySvc := service.NewIdentityService(store, cfg.JWTSecret, cfg.FederatedSecret, cfg.JWTAccessTTL, cfg.JWTRefreshTTL, logger)
	profileSvc := service.NewProfileService(store, profileCache, metrics, logger)

	// --- Synchronized store ---
	synced := syncstore.New(store, metrics, logger)

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	go synced.Run(runCtx, identitySvc.Events())

	// --- Router ---
	router := handler.NewRouter(handler.Deps{
		Identity:     identitySvc,
		Profiles:     profileSvc,
		Wallets:      wallets,
		Transactions: transactions,
		Goals:        goals,
		Debts:        debts,
		Synced:       synced,
		Store:        store,
		Metrics:      metrics,
		Logger:       logger,
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}
	stopRun()
	synced.Deactivate()

	logger.Info("server stopped")
}

// newStore opens the configured document store backend. The cleanup func
// releases backend resources and is safe to call on every path.
func newStore(cfg *config.Config, metrics *observability.Metrics, logger *zap.Logger) (port.Store, func(), error) {
	switch cfg.StoreBackend {
	case "supabase":
		if cfg.SupabaseURL == "" {
			return nil, nil, fmt.Errorf("STORE_BACKEND=supabase requires SUPABASE_URL")
		}
		httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
		client := supabase.NewClient(httpClient, cfg.SupabaseURL, cfg.SupabaseAnonKey, cfg.SupabaseServiceKey, logger)
		resilienceCfg := resilience.Config{
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
			MaxConcurrency: cfg.MaxConcurrency,
		}
		cb := resilience.NewCircuitBreaker("supabase")
		bulkhead := resilience.NewBulkhead(cfg.MaxConcurrency)
		store := supabase.New(client, cb, bulkhead, resilienceCfg, cfg.SupabasePollEvery, metrics, logger)
		logger.Info("using Supabase document store", zap.String("url", cfg.SupabaseURL))
		return store, func() {}, nil

	case "mongo":
		ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout)
		defer cancel()
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		store := mongostore.New(client, cfg.MongoDatabase, metrics, logger)
		logger.Info("using MongoDB document store", zap.String("database", cfg.MongoDatabase))
		cleanup := func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Disconnect(ctx); err != nil {
				logger.Warn("mongo disconnect", zap.Error(err))
			}
		}
		return store, cleanup, nil

	case "memory":
		logger.Info("using in-memory document store")
		return memory.New(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
}
