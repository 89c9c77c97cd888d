package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"iamstagram_engine/internal/cache"
	"iamstagram_engine/internal/config"
	"iamstagram_engine/internal/database"
	"iamstagram_engine/internal/gateway"
	"iamstagram_engine/internal/logger"
	"iamstagram_engine/internal/media"
	"iamstagram_engine/internal/metrics"
	"iamstagram_engine/internal/queue"
	"iamstagram_engine/internal/redis"
	"iamstagram_engine/internal/service"
	transport "iamstagram_engine/internal/transport/http"
	"iamstagram_engine/internal/worker"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func run() error {
	// 1. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	zl := logger.New(cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// 2. Open the document store
	gw, closeGateway, err := openGateway(ctx, cfg, zl)
	if err != nil {
		return err
	}
	defer closeGateway()

	deps := service.Deps{
		Gateway: gw,
		Metrics: m,
		Logger:  zl,
	}

	// 3. Optional Redis: change events between sessions and the feed ID index
	sessionID := uuid.NewString()
	var manager *worker.Manager
	var engine *service.Engine
	if cfg.RedisURL != "" {
		rc, err := redis.Connect(ctx, cfg.RedisURL, zl)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer rc.Close()

		deps.Publisher = queue.NewPublisher(rc.Client, sessionID, zl)
		deps.Index = cache.NewContentIndex(rc.Client, zl)
		engine = buildEngine(ctx, cfg, deps, zl)

		handler := worker.NewHandler(sessionID, engine.SocialGraph, engine.Engagement, engine.Content, zl)
		manager = worker.NewManager(queue.NewConsumer(rc.Client, zl), handler, worker.DefaultManagerConfig(sessionID), zl)
		if err := manager.Start(ctx); err != nil {
			return fmt.Errorf("failed to start change consumer: %w", err)
		}
	} else {
		zl.Info("REDIS_URL not set, running single-session")
		engine = buildEngine(ctx, cfg, deps, zl)
	}

	// 4. HTTP server
	routes := transport.HandlersFor(engine, cfg.JWTSecret, zl)
	routes.Gatherer = reg
	server := transport.NewServer(cfg.ServerPort, transport.NewRouter(routes), zl)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Run() }()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		zl.Info("Shutdown signal received", zap.String("session", sessionID))
	}

	// 5. Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	if manager != nil {
		manager.Stop()
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("engine shutdown: %w", err))
	}
	return errors.Join(errs...)
}

func buildEngine(ctx context.Context, cfg *config.Config, deps service.Deps, zl *zap.Logger) *service.Engine {
	if cfg.MediaConfigured() {
		store, err := media.NewS3Store(ctx, cfg)
		if err != nil {
			zl.Warn("Media storage unavailable, uploads disabled", zap.Error(err))
		} else {
			deps.Media = store
		}
	}
	return service.NewEngine(deps, service.OptionsFromConfig(cfg))
}

func openGateway(ctx context.Context, cfg *config.Config, zl *zap.Logger) (gateway.Gateway, func(), error) {
	switch cfg.GatewayBackend {
	case config.BackendPostgres:
		db, err := database.Connect(cfg, zl)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := database.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to prepare schema: %w", err)
		}
		return gateway.NewPostgres(db), func() { db.Close() }, nil

	case config.BackendFirestore:
		client, err := gateway.OpenFirestore(ctx, cfg.FirebaseProjectID, cfg.FirebaseCredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		zl.Info("Connected to Firestore", zap.String("project", cfg.FirebaseProjectID))
		return gateway.NewFirestore(client), func() { client.Close() }, nil
	}

	zl.Warn("Using in-memory gateway, data is lost on restart")
	return gateway.NewMemory(), func() {}, nil
}
