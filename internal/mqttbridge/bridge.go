// Package mqttbridge 将 MQTT 上报的读数批次转发到 Redis Streams
package mqttbridge

import (
	"context"
	"encoding/json"
	"fmt"

	"safetysync-analytics/internal/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Bridge MQTT 到 Redis Streams 的桥接器
//
// 订阅读数上报主题，把每条消息原样写入摄取流的 payload 字段。
// 未配置 Broker 时桥接器不启动，数据流可由其他生产者直接写入。
type Bridge struct {
	config      *config.Config
	redisClient *redis.Client
	client      mqtt.Client
	logger      *zap.Logger
}

// NewBridge 创建桥接器
func NewBridge(cfg *config.Config, redisClient *redis.Client, logger *zap.Logger) *Bridge {
	return &Bridge{
		config:      cfg,
		redisClient: redisClient,
		logger:      logger,
	}
}

// Enabled 是否配置了 MQTT Broker
func (b *Bridge) Enabled() bool {
	return b.config.MQTT.Broker != ""
}

// Start 连接 Broker 并订阅读数主题
func (b *Bridge) Start() error {
	if !b.Enabled() {
		b.logger.Info("mqtt bridge disabled: no broker configured")
		return nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(b.config.MQTT.Broker)
	opts.SetClientID(b.config.MQTT.ClientID)

	if b.config.MQTT.Username != "" {
		opts.SetUsername(b.config.MQTT.Username)
	}
	if b.config.MQTT.Password != "" {
		opts.SetPassword(b.config.MQTT.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	// 重连后由 OnConnect 恢复订阅
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		if token := client.Subscribe(b.config.MQTT.Topic, b.config.MQTT.QoS, b.handleMessage); token.Wait() && token.Error() != nil {
			b.logger.Error("failed to subscribe to mqtt topic",
				zap.String("topic", b.config.MQTT.Topic),
				zap.Error(token.Error()),
			)
			return
		}
		b.logger.Info("subscribed to mqtt topic",
			zap.String("topic", b.config.MQTT.Topic),
			zap.Uint8("qos", b.config.MQTT.QoS),
		)
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		b.logger.Warn("mqtt connection lost", zap.Error(err))
	})

	b.client = mqtt.NewClient(opts)

	if token := b.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	b.logger.Info("mqtt bridge started",
		zap.String("broker", b.config.MQTT.Broker),
		zap.String("client_id", b.config.MQTT.ClientID),
	)
	return nil
}

// handleMessage 单条 MQTT 消息入流
func (b *Bridge) handleMessage(client mqtt.Client, msg mqtt.Message) {
	payload := msg.Payload()

	if !json.Valid(payload) {
		b.logger.Warn("dropping non-JSON mqtt message",
			zap.String("topic", msg.Topic()),
			zap.Int("size", len(payload)),
		)
		return
	}

	err := b.redisClient.XAdd(context.Background(), &redis.XAddArgs{
		Stream: b.config.Ingest.Stream,
		Values: map[string]interface{}{"payload": string(payload)},
	}).Err()
	if err != nil {
		b.logger.Error("failed to publish mqtt message to stream",
			zap.String("topic", msg.Topic()),
			zap.Error(err),
		)
		return
	}

	b.logger.Debug("mqtt message bridged to stream",
		zap.String("topic", msg.Topic()),
		zap.Int("size", len(payload)),
	)
}

// Stop 断开 MQTT 连接
func (b *Bridge) Stop() {
	if b.client != nil && b.client.IsConnected() {
		b.client.Disconnect(250)
		b.logger.Info("mqtt bridge stopped")
	}
}
