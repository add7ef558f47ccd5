package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConns        int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT配置
//
// Broker 为空时不启动 MQTT 桥接（数据流可由其他生产者写入）。
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
}

// Config 传感器分析服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig

	HTTP struct {
		Addr string
	}

	// 摄取管线配置
	Ingest struct {
		// Redis Streams 配置
		Stream        string // 原始读数流名称
		ConsumerGroup string // 消费者组名称
		ConsumerName  string // 消费者名称

		MaxBatchSize   int           // 单次写入的最大批量
		MaxLateArrival time.Duration // 迟到判定窗口
	}

	// 数据质量配置
	Quality struct {
		MaxDuplicateRate float64 // 重复率告警阈值
		MaxInvalidRate   float64 // 无效率告警阈值
		WebhookURL       string  // 质量告警 Webhook，空则禁用
	}

	// 分析引擎配置
	Analytics struct {
		AnomalyLookbackHours     int
		AnomalyMinPoints         int
		AnomalyEstimators        int
		AnomalyContamination     float64
		AnomalySeed              int64
		ThresholdLookbackMinutes int
		TrendPeriodDays          int
		TrendMinBuckets          int
	}

	// 各设备类型的指标阈值
	Thresholds ThresholdConfig

	// 定时巡检配置
	Sweeps struct {
		ThresholdInterval time.Duration // 阈值巡检间隔
		AnomalyInterval   time.Duration // 异常检测巡检间隔
		HealthInterval    time.Duration // 设备健康巡检间隔
		CleanupInterval   time.Duration // 过期数据清理间隔
		AlertCooldown     time.Duration // 同类报警冷却时间
	}

	Retention struct {
		Days int // 读数保留天数
	}

	Registry struct {
		CacheTTL time.Duration // 设备缓存 TTL
	}

	Log struct {
		Level  string
		Format string
	}
}

// ThresholdConfig 指标阈值配置
type ThresholdConfig struct {
	GasConcentration float64 // ppm
	Temperature      float64 // °C
	Pressure         float64 // psi
	PM25             float64 // µg/m³
	PM10             float64 // µg/m³
	CO2              float64 // ppm
}

// ForEquipmentType 返回指定设备类型的指标阈值映射
//
// location_tracker 没有阈值指标，返回空映射。未知类型返回空映射。
func (t *ThresholdConfig) ForEquipmentType(equipmentType string) map[string]float64 {
	switch equipmentType {
	case "gas_detector":
		return map[string]float64{"gas_concentration": t.GasConcentration}
	case "temperature_sensor":
		return map[string]float64{"temperature": t.Temperature}
	case "pressure_sensor":
		return map[string]float64{"pressure": t.Pressure}
	case "air_quality_monitor":
		return map[string]float64{"pm25": t.PM25, "pm10": t.PM10, "co2": t.CO2}
	}
	return map[string]float64{}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "safetysync")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_OPEN_CONNS", 25)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE_CONNS", 5)
	cfg.Database.ConnMaxLifetime = time.Duration(getEnvInt("DB_CONN_MAX_LIFETIME_MINUTES", 5)) * time.Minute

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "safetysync-bridge")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.Topic = getEnv("MQTT_TOPIC", "safetysync/+/readings")
	cfg.MQTT.QoS = 1

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Ingest.Stream = getEnv("REDIS_READING_STREAM", "safetysync:readings:raw")
	cfg.Ingest.ConsumerGroup = getEnv("REDIS_CONSUMER_GROUP", "safetysync-analytics")
	cfg.Ingest.ConsumerName = getEnv("REDIS_CONSUMER_NAME", "analytics-1")
	cfg.Ingest.MaxBatchSize = getEnvInt("MAX_BATCH_SIZE", 1000)
	cfg.Ingest.MaxLateArrival = time.Duration(getEnvInt("MAX_LATE_ARRIVAL_MINUTES", 60)) * time.Minute

	cfg.Quality.MaxDuplicateRate = getEnvFloat("MAX_DUPLICATE_RATE", 0.05)
	cfg.Quality.MaxInvalidRate = getEnvFloat("MAX_INVALID_RATE", 0.10)
	cfg.Quality.WebhookURL = getEnv("QUALITY_WEBHOOK_URL", "")

	cfg.Analytics.AnomalyLookbackHours = getEnvInt("ANOMALY_LOOKBACK_HOURS", 24)
	cfg.Analytics.AnomalyMinPoints = getEnvInt("ANOMALY_MIN_POINTS", 50)
	cfg.Analytics.AnomalyEstimators = getEnvInt("ANOMALY_ESTIMATORS", 100)
	cfg.Analytics.AnomalyContamination = getEnvFloat("ANOMALY_CONTAMINATION", 0.05)
	cfg.Analytics.AnomalySeed = int64(getEnvInt("ANOMALY_SEED", 42))
	cfg.Analytics.ThresholdLookbackMinutes = getEnvInt("THRESHOLD_LOOKBACK_MINUTES", 30)
	cfg.Analytics.TrendPeriodDays = getEnvInt("TREND_PERIOD_DAYS", 30)
	cfg.Analytics.TrendMinBuckets = getEnvInt("TREND_MIN_BUCKETS", 24)

	cfg.Thresholds.GasConcentration = getEnvFloat("THRESHOLD_GAS_CONCENTRATION", 10.0)
	cfg.Thresholds.Temperature = getEnvFloat("THRESHOLD_TEMPERATURE", 60.0)
	cfg.Thresholds.Pressure = getEnvFloat("THRESHOLD_PRESSURE", 150.0)
	cfg.Thresholds.PM25 = getEnvFloat("THRESHOLD_PM25", 35.0)
	cfg.Thresholds.PM10 = getEnvFloat("THRESHOLD_PM10", 150.0)
	cfg.Thresholds.CO2 = getEnvFloat("THRESHOLD_CO2", 1000.0)

	cfg.Sweeps.ThresholdInterval = time.Duration(getEnvInt("THRESHOLD_SWEEP_SECONDS", 60)) * time.Second
	cfg.Sweeps.AnomalyInterval = time.Duration(getEnvInt("ANOMALY_SWEEP_MINUTES", 60)) * time.Minute
	cfg.Sweeps.HealthInterval = time.Duration(getEnvInt("HEALTH_SWEEP_HOURS", 6)) * time.Hour
	cfg.Sweeps.CleanupInterval = time.Duration(getEnvInt("CLEANUP_HOURS", 24)) * time.Hour
	cfg.Sweeps.AlertCooldown = time.Duration(getEnvInt("ALERT_COOLDOWN_MINUTES", 30)) * time.Minute

	cfg.Retention.Days = getEnvInt("RETENTION_DAYS", 90)

	cfg.Registry.CacheTTL = time.Duration(getEnvInt("EQUIPMENT_CACHE_TTL_MINUTES", 10)) * time.Minute

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if cfg.Ingest.MaxBatchSize <= 0 {
		return nil, fmt.Errorf("invalid MAX_BATCH_SIZE: %d", cfg.Ingest.MaxBatchSize)
	}
	if cfg.Quality.MaxDuplicateRate < 0 || cfg.Quality.MaxDuplicateRate > 1 {
		return nil, fmt.Errorf("invalid MAX_DUPLICATE_RATE: %f", cfg.Quality.MaxDuplicateRate)
	}
	if cfg.Quality.MaxInvalidRate < 0 || cfg.Quality.MaxInvalidRate > 1 {
		return nil, fmt.Errorf("invalid MAX_INVALID_RATE: %f", cfg.Quality.MaxInvalidRate)
	}
	if cfg.Analytics.AnomalyContamination <= 0 || cfg.Analytics.AnomalyContamination >= 0.5 {
		return nil, fmt.Errorf("invalid ANOMALY_CONTAMINATION: %f", cfg.Analytics.AnomalyContamination)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return defaultValue
}
