// Package consumer 从 Redis Streams 消费原始读数批次
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"safetysync-analytics/internal/config"
	"safetysync-analytics/internal/metrics"
	"safetysync-analytics/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// 消费失败的指数退避区间
const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// 批量读取的默认阻塞时长
const defaultReadBlock = 5 * time.Second

// BatchIngester 批次摄取入口
type BatchIngester interface {
	IngestBatch(ctx context.Context, batch []models.RawReading) *models.IngestionResult
}

// StreamConsumer Redis Streams 消费者
//
// 每条 Stream 消息的 payload 字段是一个 JSON 批次（读数数组或单条读数）。
// 批次摄取成功后 ACK；失败的消息保留在 pending 列表，下次启动时重新投递。
// 无法解析的消息直接 ACK 丢弃，避免毒消息阻塞消费。
type StreamConsumer struct {
	config      *config.Config
	redisClient *redis.Client
	ingester    BatchIngester
	logger      *zap.Logger
	block       time.Duration
}

// NewStreamConsumer 创建 Streams 消费者
func NewStreamConsumer(cfg *config.Config, redisClient *redis.Client, ingester BatchIngester, logger *zap.Logger) *StreamConsumer {
	return &StreamConsumer{
		config:      cfg,
		redisClient: redisClient,
		ingester:    ingester,
		logger:      logger,
		block:       defaultReadBlock,
	}
}

// Run 启动消费循环，ctx 取消后返回 nil
func (c *StreamConsumer) Run(ctx context.Context) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}

	c.logger.Info("stream consumer started",
		zap.String("stream", c.config.Ingest.Stream),
		zap.String("consumer_group", c.config.Ingest.ConsumerGroup),
		zap.String("consumer_name", c.config.Ingest.ConsumerName),
	)

	// 先重放本消费者上次未 ACK 的消息
	if err := c.consumeOnce(ctx, "0"); err != nil {
		c.logger.Error("failed to drain pending messages", zap.Error(err))
	}

	backoffDuration := initialBackoff
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			if err := c.consumeOnce(ctx, ">"); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.logger.Error("failed to consume stream",
					zap.Error(err),
					zap.Duration("backoff", backoffDuration),
				)

				// 指数退避，等待后重试
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(backoffDuration):
					backoffDuration *= 2
					if backoffDuration > maxBackoff {
						backoffDuration = maxBackoff
					}
				}
			} else {
				backoffDuration = initialBackoff
			}
		}
	}
}

// ensureGroup 创建消费者组，组已存在时忽略 BUSYGROUP
func (c *StreamConsumer) ensureGroup(ctx context.Context) error {
	err := c.redisClient.XGroupCreateMkStream(ctx, c.config.Ingest.Stream, c.config.Ingest.ConsumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// consumeOnce 读取并处理一轮消息
//
// cursor 为 ">" 读取新消息，为 "0" 重放本消费者的 pending 消息。
func (c *StreamConsumer) consumeOnce(ctx context.Context, cursor string) error {
	streams, err := c.redisClient.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.config.Ingest.ConsumerGroup,
		Consumer: c.config.Ingest.ConsumerName,
		Streams:  []string{c.config.Ingest.Stream, cursor},
		Count:    int64(c.config.Ingest.MaxBatchSize),
		Block:    c.block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil
		}
		return fmt.Errorf("failed to read from stream %s: %w", c.config.Ingest.Stream, err)
	}

	for _, stream := range streams {
		for _, msg := range stream.Messages {
			if err := c.processMessage(ctx, msg); err != nil {
				return err
			}
		}
	}

	c.updatePendingGauge(ctx)
	return nil
}

// processMessage 处理单条消息：解包批次、摄取、ACK
func (c *StreamConsumer) processMessage(ctx context.Context, msg redis.XMessage) error {
	batch, ok := decodeBatch(msg.Values)
	if !ok {
		c.logger.Warn("dropping malformed stream message",
			zap.String("message_id", msg.ID),
		)
		if err := c.ack(ctx, msg.ID); err != nil {
			return fmt.Errorf("failed to ack malformed message %s: %w", msg.ID, err)
		}
		return nil
	}

	result := c.ingester.IngestBatch(ctx, batch)
	if !result.Success {
		// 不 ACK，消息保留在 pending 列表等待重新投递
		return fmt.Errorf("batch %s failed: %s", msg.ID, result.Error)
	}

	if err := c.ack(ctx, msg.ID); err != nil {
		return fmt.Errorf("failed to ack message %s: %w", msg.ID, err)
	}

	c.logger.Debug("batch ingested from stream",
		zap.String("message_id", msg.ID),
		zap.Int("total_received", result.TotalReceived),
		zap.Int("total_inserted", result.TotalInserted),
	)
	return nil
}

func (c *StreamConsumer) ack(ctx context.Context, id string) error {
	return c.redisClient.XAck(ctx, c.config.Ingest.Stream, c.config.Ingest.ConsumerGroup, id).Err()
}

// updatePendingGauge 上报消费者组的 pending 消息数
func (c *StreamConsumer) updatePendingGauge(ctx context.Context) {
	pending, err := c.redisClient.XPending(ctx, c.config.Ingest.Stream, c.config.Ingest.ConsumerGroup).Result()
	if err != nil {
		return
	}
	metrics.StreamPending.Set(float64(pending.Count))
}

// decodeBatch 解析消息 payload，兼容读数数组与单条读数两种格式
func decodeBatch(values map[string]interface{}) ([]models.RawReading, bool) {
	raw, ok := values["payload"]
	if !ok {
		return nil, false
	}

	var payload []byte
	switch v := raw.(type) {
	case string:
		payload = []byte(v)
	case []byte:
		payload = v
	default:
		return nil, false
	}

	var batch []models.RawReading
	if err := json.Unmarshal(payload, &batch); err == nil {
		return batch, true
	}

	var single models.RawReading
	if err := json.Unmarshal(payload, &single); err == nil {
		return []models.RawReading{single}, true
	}

	return nil, false
}
