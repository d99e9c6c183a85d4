package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Aidin1998/flowlimit/internal/database"
	"github.com/Aidin1998/flowlimit/internal/infrastructure/config"
	"github.com/Aidin1998/flowlimit/internal/infrastructure/ratelimit"
	"github.com/Aidin1998/flowlimit/internal/infrastructure/server"
	redisclient "github.com/Aidin1998/flowlimit/internal/redis"
	"github.com/Aidin1998/flowlimit/pkg/logger"
	"github.com/Aidin1998/flowlimit/pkg/telemetry"
)

func main() {
	configPath := flag.String("config", "config/flowlimit.yaml", "path to the configuration file")
	flag.Parse()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	zapLogger, level, err := logger.NewLogger(os.Getenv("LOG_LEVEL"))
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	cm, err := config.NewConfigBuilder(zapLogger).
		WithConfigPaths(*configPath).
		WithWatch(true).
		Build()
	if err != nil {
		zapLogger.Fatal("Failed to load configuration", zap.Error(err))
	}
	defer cm.Close()

	cfg := cm.GetConfig()
	if lvl, err := logger.ParseLevel(cfg.Logging.Level); err == nil {
		level.SetLevel(lvl)
	}
	for _, issue := range cm.Health().Issues {
		zapLogger.Warn("Configuration issue", zap.String("issue", issue))
	}

	shutdownTracing, err := telemetry.Setup(context.Background(), telemetry.Config{
		ServiceName: cfg.Tracing.ServiceName,
		Exporter:    cfg.Tracing.Exporter,
	})
	if err != nil {
		zapLogger.Fatal("Failed to set up tracing", zap.Error(err))
	}

	deps, closeDeps, storeHealth := connectBackends(cfg, zapLogger)
	defer closeDeps()

	limiters := ratelimit.NewFromConfig(cfg, deps, zapLogger)
	defer limiters.Close()

	cm.AddReloadCallback(func(oldCfg, newCfg *config.Config) error {
		diffs, err := config.CompareConfigs(oldCfg, newCfg)
		if err != nil {
			return err
		}
		for _, d := range diffs {
			zapLogger.Info("Configuration changed",
				zap.String("path", d.Path),
				zap.Any("old", d.OldValue),
				zap.Any("new", d.NewValue))
		}
		if lvl, err := logger.ParseLevel(newCfg.Logging.Level); err == nil {
			level.SetLevel(lvl)
		}
		// Only the token bucket rate is applied live; window and store
		// changes take effect on restart.
		if limiters.TokenBucket != nil && newCfg.TokenBucket.RatePerSecond != oldCfg.TokenBucket.RatePerSecond {
			return limiters.TokenBucket.SetRate(newCfg.TokenBucket.RatePerSecond)
		}
		return nil
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if limiters.SQL != nil && cfg.SQL.PurgeInterval > 0 {
		go purgeExpired(ctx, limiters, cfg.SQL.PurgeInterval, zapLogger)
	}

	httpServer, err := server.NewHTTPServer(server.HTTPServerOptions{
		Addr:        cfg.Server.HTTPAddr,
		Logger:      zapLogger,
		Limiters:    limiters,
		StoreHealth: storeHealth,
		AdminSecret: cfg.Admin.JWTSecret,
		ServiceName: cfg.Tracing.ServiceName,
	})
	if err != nil {
		zapLogger.Fatal("Failed to create HTTP server", zap.Error(err))
	}
	go func() {
		if err := httpServer.Start(); err != nil {
			zapLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	var grpcServer *server.GRPCServer
	if cfg.Server.GRPCAddr != "" {
		grpcServer, err = server.NewGRPCServer(server.GRPCServerOptions{Logger: zapLogger, Limiters: limiters})
		if err != nil {
			zapLogger.Fatal("Failed to create gRPC server", zap.Error(err))
		}
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			zapLogger.Fatal("Failed to listen for gRPC", zap.String("addr", cfg.Server.GRPCAddr), zap.Error(err))
		}
		go func() {
			if err := grpcServer.Start(lis); err != nil {
				zapLogger.Error("gRPC server stopped", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	zapLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Stop(shutdownCtx); err != nil {
		zapLogger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	if grpcServer != nil {
		if err := grpcServer.Stop(shutdownCtx); err != nil {
			zapLogger.Error("gRPC server shutdown failed", zap.Error(err))
		}
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		zapLogger.Error("Tracing shutdown failed", zap.Error(err))
	}

	zapLogger.Info("Server exited properly")
}

// connectBackends opens the client the configured data source needs. A SQL
// database that cannot be opened leaves the counter on the local store.
func connectBackends(cfg *config.Config, zapLogger *zap.Logger) (ratelimit.Dependencies, func(), func(context.Context) error) {
	var deps ratelimit.Dependencies
	closers := []func(){}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	var storeHealth func(context.Context) error

	if !cfg.Enabled || !cfg.Counter.Enabled {
		return deps, closeAll, nil
	}

	switch cfg.Counter.DataSource {
	case "redis":
		// An unreachable Redis still becomes the preferred store; the first
		// failing call degrades to the local store and the recovery timer
		// switches back.
		client, err := redisclient.Open(&cfg.Redis, zapLogger)
		if err != nil {
			zapLogger.Warn("Redis unavailable at startup, counters will degrade until it recovers", zap.Error(err))
		}
		deps.Redis = client.GetClient()
		storeHealth = client.Health
		closers = append(closers, func() { _ = client.Close() })
	case "sql":
		db, err := database.Open(cfg.SQL.Driver, cfg.SQL.DSN)
		if err != nil {
			zapLogger.Error("SQL store unavailable, counters start on the local store", zap.Error(err))
			break
		}
		deps.DB = db
		storeHealth = pingDB(db)
		closers = append(closers, func() { _ = database.Close(db) })
	}
	return deps, closeAll, storeHealth
}

func pingDB(db *gorm.DB) func(context.Context) error {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}

func purgeExpired(ctx context.Context, limiters *ratelimit.Limiters, interval time.Duration, zapLogger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := limiters.SQL.PurgeExpired(ctx)
			if err != nil {
				zapLogger.Error("Counter purge failed", zap.Error(err))
				continue
			}
			if n > 0 {
				zapLogger.Debug("Purged expired counters", zap.Int64("rows", n))
			}
		}
	}
}
