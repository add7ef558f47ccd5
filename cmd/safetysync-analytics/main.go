package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"safetysync-analytics/internal/analytics"
	"safetysync-analytics/internal/cache"
	"safetysync-analytics/internal/config"
	"safetysync-analytics/internal/consumer"
	"safetysync-analytics/internal/logger"
	"safetysync-analytics/internal/mqttbridge"
	"safetysync-analytics/internal/notifier"
	"safetysync-analytics/internal/pipeline"
	"safetysync-analytics/internal/repository"
	"safetysync-analytics/internal/server"
	"safetysync-analytics/internal/service"

	"go.uber.org/zap"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting safetysync-analytics service",
		zap.String("stream", cfg.Ingest.Stream),
		zap.String("consumer_group", cfg.Ingest.ConsumerGroup),
		zap.String("http_addr", cfg.HTTP.Addr),
	)

	// 连接数据库与 Redis
	db, err := repository.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}

	redisClient := cache.NewRedisClient(&cfg.Redis)
	if err := cache.Ping(context.Background(), redisClient); err != nil {
		log.Fatal("Failed to connect to redis", zap.Error(err))
	}

	// 仓储层
	equipmentRepo := repository.NewEquipmentRepository(db, log)
	readingRepo := repository.NewReadingRepository(db, log)
	alertRepo := repository.NewAlertRepository(db, log)
	qualityRepo := repository.NewQualityMetricRepository(db, log)

	registry := cache.NewEquipmentCache(equipmentRepo, redisClient, cfg.Registry.CacheTTL, log)
	webhook := notifier.NewWebhookNotifier(cfg.Quality.WebhookURL, log)

	// 摄取管线与分析引擎
	ingest := pipeline.NewPipeline(cfg, registry, readingRepo, qualityRepo, webhook, log)
	engine := analytics.NewEngine(cfg, readingRepo, alertRepo, registry, log)

	streamConsumer := consumer.NewStreamConsumer(cfg, redisClient, ingest, log)
	bridge := mqttbridge.NewBridge(cfg, redisClient, log)
	httpServer := server.NewServer(cfg, db, redisClient, qualityRepo, log)

	svc := service.NewService(cfg, db, redisClient,
		equipmentRepo, alertRepo, readingRepo, engine,
		streamConsumer, bridge, httpServer, log)

	// 启动服务（在 goroutine 中）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		if err := svc.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	// 等待信号或错误
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	case err := <-errChan:
		log.Error("Service error", zap.Error(err))
		cancel()
	}

	// 优雅关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := svc.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping service", zap.Error(err))
	}

	log.Info("Service stopped")
}
