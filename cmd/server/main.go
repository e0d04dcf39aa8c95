package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailroom/backend/internal/config"
	"mailroom/backend/internal/gateway"
	"mailroom/backend/internal/health"
	"mailroom/backend/internal/lock"
	"mailroom/backend/internal/logger"
	"mailroom/backend/internal/monitoring"
	"mailroom/backend/internal/service"
	"mailroom/backend/internal/storage"
	"mailroom/backend/internal/storage/memory"
	"mailroom/backend/internal/storage/postgres"
	redisstore "mailroom/backend/internal/storage/redis"
	httptransport "mailroom/backend/internal/transport/http"
)

const expiryInterval = 10 * time.Minute

// main 启动开通与对账服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	log, err := logger.New(logger.FromConfig(cfg.Log))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting mailroom server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited with error", zap.Error(err))
	}
	log.Info("server stopped")
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 存储层
	var store storage.Store
	if cfg.Database.Type != "" {
		sqlStore, err := postgres.New(&cfg.Database)
		if err != nil {
			return fmt.Errorf("initialize database storage: %w", err)
		}
		store = sqlStore
		log.Info("using database storage", zap.String("type", cfg.Database.Type))
	} else {
		store = memory.NewStore()
		log.Warn("using memory storage (development mode)")
	}
	defer store.Close()

	created, err := service.EnsureDefaultPlans(ctx, store)
	if err != nil {
		return fmt.Errorf("seed plans: %w", err)
	}
	if created > 0 {
		log.Info("default plans seeded", zap.Int("count", created))
	}

	// Redis：事件去重与分布式锁
	var (
		redisClient *redisstore.Client
		redisHealth health.Pinger
		dedup       service.EventDeduplicator = store
		locker      lock.Locker               = lock.NewKeyedMutex()
	)
	if cfg.Redis.Enabled {
		redisClient, err = redisstore.New(&cfg.Redis, log)
		if err != nil {
			return fmt.Errorf("initialize redis: %w", err)
		}
		defer redisClient.Close()
		redisHealth = redisClient
		dedup = redisstore.NewEventDeduplicator(redisClient, cfg.Webhook.DedupTTL)
		log.Info("using redis event dedup", zap.Duration("ttl", cfg.Webhook.DedupTTL))
	}
	if cfg.Lock.Backend == "redis" {
		locker = redisstore.NewLocker(redisClient, cfg.Lock)
		log.Info("using redis distributed lock", zap.Duration("expiry", cfg.Lock.Expiry))
	}

	metrics := monitoring.NewMetrics()
	healthChecker := health.NewHealthChecker(store, redisHealth, log)

	verifier := gateway.NewVerifier(cfg.Webhook.Secret, cfg.Webhook.Tolerance)

	provisioning := service.NewProvisioningService(store, locker, metrics, log)
	reconciler := service.NewReconcilerService(verifier, provisioning, dedup,
		service.ReconcilerOptions{EnforceSignature: cfg.Webhook.EnforceSignature}, metrics, log)
	relocation := service.NewRelocationService(store, locker, metrics, log)

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:            cfg,
		ReconcilerService: reconciler,
		RelocationService: relocation,
		HealthChecker:     healthChecker,
		Metrics:           metrics,
		Logger:            log,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// 定时将到期订阅标记为过期
	group.Go(func() error {
		ticker := time.NewTicker(expiryInterval)
		defer ticker.Stop()

		log.Info("starting subscription expiry task", zap.Duration("interval", expiryInterval))
		for {
			select {
			case <-groupCtx.Done():
				log.Info("subscription expiry task stopped")
				return nil
			case <-ticker.C:
				if _, err := provisioning.ExpireSubscriptions(groupCtx, time.Now().UTC()); err != nil {
					log.Error("failed to expire subscriptions", zap.Error(err))
				}
			}
		}
	})

	// 优雅关闭
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}
