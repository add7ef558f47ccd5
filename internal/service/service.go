// Package service 组装摄取与分析组件并驱动定时巡检
package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"safetysync-analytics/internal/config"
	"safetysync-analytics/internal/consumer"
	"safetysync-analytics/internal/models"
	"safetysync-analytics/internal/mqttbridge"
	"safetysync-analytics/internal/server"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// EquipmentLister 在役设备清单
type EquipmentLister interface {
	ListActiveEquipment(ctx context.Context) ([]models.Equipment, error)
}

// AlertWriter 报警写入
type AlertWriter interface {
	CreateAlert(ctx context.Context, alert *models.Alert) error
}

// ReadingJanitor 过期读数清理
type ReadingJanitor interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AnalyticsEngine 巡检使用的分析入口
type AnalyticsEngine interface {
	DetectAnomalies(ctx context.Context, equipmentID, metricName string, lookbackHours int) ([]models.Anomaly, error)
	CheckThresholds(ctx context.Context, equipmentID string, lookbackMinutes int) ([]models.ThresholdViolation, error)
	PredictMaintenance(ctx context.Context, equipmentID string) (*models.MaintenanceRisk, error)
}

// Service 传感器分析服务
//
// Start 拉起 MQTT 桥接、HTTP 服务、四个定时巡检与 Streams 消费循环，
// 并阻塞到 ctx 取消；Stop 逆序收尾。
type Service struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client

	equipment EquipmentLister
	alerts    AlertWriter
	readings  ReadingJanitor
	engine    AnalyticsEngine

	ingestConsumer *consumer.StreamConsumer
	bridge         *mqttbridge.Bridge
	httpServer     *server.Server
}

// NewService 创建服务
func NewService(
	cfg *config.Config,
	db *sql.DB,
	redisClient *redis.Client,
	equipment EquipmentLister,
	alerts AlertWriter,
	readings ReadingJanitor,
	engine AnalyticsEngine,
	ingestConsumer *consumer.StreamConsumer,
	bridge *mqttbridge.Bridge,
	httpServer *server.Server,
	logger *zap.Logger,
) *Service {
	return &Service{
		config:         cfg,
		logger:         logger,
		db:             db,
		redisClient:    redisClient,
		equipment:      equipment,
		alerts:         alerts,
		readings:       readings,
		engine:         engine,
		ingestConsumer: ingestConsumer,
		bridge:         bridge,
		httpServer:     httpServer,
	}
}

// Start 启动服务，阻塞到 ctx 取消
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("starting safetysync analytics service")

	if err := s.bridge.Start(); err != nil {
		return fmt.Errorf("failed to start mqtt bridge: %w", err)
	}

	go func() {
		if err := s.httpServer.Start(); err != nil {
			s.logger.Error("http server failed", zap.Error(err))
		}
	}()

	go s.runSweepLoop(ctx, sweepThreshold, s.config.Sweeps.ThresholdInterval, s.thresholdSweep)
	go s.runSweepLoop(ctx, sweepAnomaly, s.config.Sweeps.AnomalyInterval, s.anomalySweep)
	go s.runSweepLoop(ctx, sweepHealth, s.config.Sweeps.HealthInterval, s.healthSweep)
	go s.runSweepLoop(ctx, sweepCleanup, s.config.Sweeps.CleanupInterval, s.cleanupSweep)

	// 消费循环阻塞到 ctx 取消
	return s.ingestConsumer.Run(ctx)
}

// Stop 停止服务并释放连接
func (s *Service) Stop(ctx context.Context) error {
	s.logger.Info("stopping safetysync analytics service")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("error shutting down http server", zap.Error(err))
	}

	s.bridge.Stop()

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("error closing redis connection", zap.Error(err))
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("error closing database connection", zap.Error(err))
		}
	}

	s.logger.Info("safetysync analytics service stopped")
	return nil
}
