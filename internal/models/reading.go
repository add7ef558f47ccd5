package models

import (
	"time"
)

// ReadingStatus 读数状态
type ReadingStatus string

const (
	ReadingStatusNormal   ReadingStatus = "normal"
	ReadingStatusWarning  ReadingStatus = "warning"
	ReadingStatusCritical ReadingStatus = "critical"
	ReadingStatusOffline  ReadingStatus = "offline"
)

// Valid 检查读数状态是否合法
func (s ReadingStatus) Valid() bool {
	switch s {
	case ReadingStatusNormal, ReadingStatusWarning, ReadingStatusCritical, ReadingStatusOffline:
		return true
	}
	return false
}

// RawReading 原始读数（从 Redis Streams 解析，未经校验）
//
// MetricValue 使用指针以区分"字段缺失"和数值 0。
type RawReading struct {
	EquipmentID string                 `json:"equipment_id"`
	MetricName  string                 `json:"metric_name"`
	MetricValue *float64               `json:"metric_value"`
	MetricUnit  string                 `json:"metric_unit,omitempty"`
	Time        time.Time              `json:"time"`
	Status      string                 `json:"status,omitempty"`
	Attributes  map[string]interface{} `json:"attributes,omitempty"`
}

// Reading 校验后的传感器读数（对应 sensor_readings 表）
//
// 自然键为 (equipment_id, metric_name, time)。
type Reading struct {
	EquipmentID string                 `json:"equipment_id" db:"equipment_id"`
	MetricName  string                 `json:"metric_name" db:"metric_name"`
	MetricValue float64                `json:"metric_value" db:"metric_value"`
	MetricUnit  *string                `json:"metric_unit,omitempty" db:"metric_unit"`
	Time        time.Time              `json:"time" db:"time"`
	Status      ReadingStatus          `json:"status" db:"status"`
	Attributes  map[string]interface{} `json:"attributes" db:"attributes"` // JSONB，规范化后不为 nil
}

// Key 返回读数的自然键，用于批内去重
func (r *Reading) Key() ReadingKey {
	return ReadingKey{
		EquipmentID: r.EquipmentID,
		MetricName:  r.MetricName,
		Time:        r.Time.UnixNano(),
	}
}

// ReadingKey 读数自然键（可比较，作为 map 键）
type ReadingKey struct {
	EquipmentID string
	MetricName  string
	Time        int64
}

// ReadingPoint 查询返回的时序点
type ReadingPoint struct {
	Time   time.Time     `json:"time" db:"time"`
	Value  float64       `json:"value" db:"metric_value"`
	Unit   string        `json:"unit,omitempty" db:"metric_unit"`
	Status ReadingStatus `json:"status" db:"status"`
}

// HourlyBucket 按小时聚合的时序桶
type HourlyBucket struct {
	BucketStart time.Time `json:"bucket_start" db:"bucket_start"`
	AvgValue    float64   `json:"avg_value" db:"avg_value"`
	MinValue    float64   `json:"min_value" db:"min_value"`
	MaxValue    float64   `json:"max_value" db:"max_value"`
	StdDev      float64   `json:"stddev" db:"stddev"`
	Count       int64     `json:"count" db:"count"`
}
