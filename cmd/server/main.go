/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the loan-servicing server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (environment, .env), then apply flag overrides
  2. Build the zap logger
  3. Open the SQLite store
  4. Connect the portfolio cache (Redis when REDIS_ADDR is set)
  5. Bootstrap the root admin
  6. Start the overdue scheduler
  7. Start the HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (SHUTDOWN_TIMEOUT)
  3. Stop the scheduler and rate limiter
  4. Close the cache and database connections

EXAMPLES:
  # Run with file database
  ./server -db="./data/loans.db"

  # Run with in-memory database and shared cache
  REDIS_ADDR=localhost:6379 ./server -db=":memory:"

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/loan-engine/api"
	"github.com/warp/loan-engine/cache"
	"github.com/warp/loan-engine/config"
	"github.com/warp/loan-engine/servicing"
	"github.com/warp/loan-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Flags
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()
	cfg.Port = *port
	cfg.DBPath = *dbPath

	logger, err := cfg.Logger()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	backend, closeCache, err := newCacheBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()
	portfolioCache := cache.New(backend, cfg.CacheTTL, logger.Named("cache"))

	svc := servicing.NewService(store,
		servicing.WithLogger(logger.Named("servicing")),
		servicing.WithLimits(cfg.Limits()),
	)
	admin, err := svc.EnsureAdmin(ctx, cfg.AdminID, cfg.AdminName)
	if err != nil {
		return fmt.Errorf("failed to bootstrap admin: %w", err)
	}

	handler := api.NewHandler(svc,
		api.WithCache(portfolioCache),
		api.WithPinger(store),
		api.WithLogger(logger.Named("api")),
	)

	scheduler := api.NewOverdueScheduler(svc, handler, admin, logger)
	limiter := api.NewRateLimiter(cfg.RateLimit, cfg.RateWindow)
	defer limiter.Stop()

	router := api.NewRouter(handler, api.RouterConfig{
		Logger:      logger.Named("http"),
		CORSOrigins: cfg.CORSOrigins,
		Limiter:     limiter,
		Scheduler:   scheduler,
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	scheduler.Start()
	defer scheduler.Stop()

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Port),
			zap.String("db", cfg.DBPath),
			zap.Bool("redis", cfg.RedisAddr != ""))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return err
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// newCacheBackend picks Redis when configured, otherwise an in-process map
// swept once per TTL.
func newCacheBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (cache.Backend, func(), error) {
	if cfg.RedisAddr == "" {
		backend := cache.NewMemoryBackend(nil)
		interval := cfg.CacheTTL
		if interval <= 0 {
			interval = time.Minute
		}
		return backend, backend.PurgeEvery(interval, logger.Named("cache")), nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	client, err := cache.DialRedis(dialCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	logger.Info("redis cache connected", zap.String("addr", cfg.RedisAddr))
	return cache.NewRedisBackend(client, cfg.CachePrefix), func() { client.Close() }, nil
}
