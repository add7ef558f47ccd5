package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"safetysync-analytics/internal/models"
	"safetysync-analytics/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	equipmentKeyPrefix = "safetysync:equipment:"

	// 负缓存标记，避免未知设备反复打到数据库
	missingMarker = "__missing__"
	missingTTL    = time.Minute
)

// EquipmentSource 设备数据源（通常为 EquipmentRepository）
type EquipmentSource interface {
	GetEquipment(ctx context.Context, id string) (*models.Equipment, error)
}

// EquipmentCache 设备注册表缓存
//
// Redis 读穿缓存：命中直接返回，未命中回源数据库并写回。
// Redis 故障时退化为直接查库，不影响摄取。
type EquipmentCache struct {
	source      EquipmentSource
	redisClient *redis.Client
	ttl         time.Duration
	logger      *zap.Logger
}

// NewEquipmentCache 创建设备注册表缓存
func NewEquipmentCache(
	source EquipmentSource,
	redisClient *redis.Client,
	ttl time.Duration,
	logger *zap.Logger,
) *EquipmentCache {
	return &EquipmentCache{
		source:      source,
		redisClient: redisClient,
		ttl:         ttl,
		logger:      logger,
	}
}

// Lookup 按 ID 查询设备
//
// 未知设备返回 repository.ErrEquipmentNotFound。
func (c *EquipmentCache) Lookup(ctx context.Context, id string) (*models.Equipment, error) {
	key := equipmentKeyPrefix + id

	val, err := c.redisClient.Get(ctx, key).Result()
	if err == nil {
		if val == missingMarker {
			return nil, repository.ErrEquipmentNotFound
		}
		var eq models.Equipment
		if err := json.Unmarshal([]byte(val), &eq); err == nil {
			return &eq, nil
		}
		// 缓存数据损坏，回源
		c.logger.Warn("corrupt equipment cache entry, falling back to database",
			zap.String("equipment_id", id),
			zap.Error(err))
	} else if err != redis.Nil {
		// Redis 故障，退化为直接查库
		c.logger.Warn("equipment cache read failed, falling back to database",
			zap.String("equipment_id", id),
			zap.Error(err))
	}

	eq, err := c.source.GetEquipment(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrEquipmentNotFound) {
			c.storeMissing(ctx, key, id)
		}
		return nil, err
	}

	c.store(ctx, key, id, eq)
	return eq, nil
}

// Invalidate 删除指定设备的缓存条目
func (c *EquipmentCache) Invalidate(ctx context.Context, id string) error {
	key := equipmentKeyPrefix + id
	if err := c.redisClient.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to invalidate equipment cache: %w", err)
	}
	return nil
}

func (c *EquipmentCache) store(ctx context.Context, key, id string, eq *models.Equipment) {
	data, err := json.Marshal(eq)
	if err != nil {
		c.logger.Warn("failed to marshal equipment for cache",
			zap.String("equipment_id", id),
			zap.Error(err))
		return
	}

	// 写缓存失败不影响查询结果
	if err := c.redisClient.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("failed to store equipment cache entry",
			zap.String("equipment_id", id),
			zap.Error(err))
	}
}

func (c *EquipmentCache) storeMissing(ctx context.Context, key, id string) {
	if err := c.redisClient.Set(ctx, key, missingMarker, missingTTL).Err(); err != nil {
		c.logger.Warn("failed to store negative equipment cache entry",
			zap.String("equipment_id", id),
			zap.Error(err))
	}
}
