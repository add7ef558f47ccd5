package models

import (
	"time"
)

// EquipmentType 设备类型
type EquipmentType string

const (
	EquipmentTypeGasDetector       EquipmentType = "gas_detector"
	EquipmentTypeTemperatureSensor EquipmentType = "temperature_sensor"
	EquipmentTypePressureSensor    EquipmentType = "pressure_sensor"
	EquipmentTypeLocationTracker   EquipmentType = "location_tracker"
	EquipmentTypeAirQualityMonitor EquipmentType = "air_quality_monitor"
)

// Valid 检查设备类型是否合法
func (t EquipmentType) Valid() bool {
	switch t {
	case EquipmentTypeGasDetector, EquipmentTypeTemperatureSensor,
		EquipmentTypePressureSensor, EquipmentTypeLocationTracker,
		EquipmentTypeAirQualityMonitor:
		return true
	}
	return false
}

// EquipmentStatus 设备状态
type EquipmentStatus string

const (
	EquipmentStatusActive            EquipmentStatus = "active"
	EquipmentStatusMaintenance       EquipmentStatus = "maintenance"
	EquipmentStatusRetired           EquipmentStatus = "retired"
	EquipmentStatusCalibrationNeeded EquipmentStatus = "calibration_needed"
)

// Valid 检查设备状态是否合法
func (s EquipmentStatus) Valid() bool {
	switch s {
	case EquipmentStatusActive, EquipmentStatusMaintenance,
		EquipmentStatusRetired, EquipmentStatusCalibrationNeeded:
		return true
	}
	return false
}

// Equipment 安全监测设备（对应 equipment 表）
type Equipment struct {
	ID                 string                 `json:"id" db:"id"`
	Name               string                 `json:"name" db:"name"`
	Type               EquipmentType          `json:"type" db:"type"`
	Status             EquipmentStatus        `json:"status" db:"status"`
	Manufacturer       *string                `json:"manufacturer,omitempty" db:"manufacturer"`
	Model              *string                `json:"model,omitempty" db:"model"`
	SerialNumber       *string                `json:"serial_number,omitempty" db:"serial_number"`
	Location           *string                `json:"location,omitempty" db:"location"`
	InstallationDate   *time.Time             `json:"installation_date,omitempty" db:"installation_date"`
	LastCalibrationAt  *time.Time             `json:"last_calibration_at,omitempty" db:"last_calibration_at"`
	NextCalibrationDue *time.Time             `json:"next_calibration_due,omitempty" db:"next_calibration_due"`
	Metadata           map[string]interface{} `json:"metadata,omitempty" db:"metadata"` // JSONB
	CreatedAt          time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time              `json:"updated_at" db:"updated_at"`
}

// metricsByType 各设备类型采集的指标列表
var metricsByType = map[EquipmentType][]string{
	EquipmentTypeGasDetector:       {"gas_concentration", "temperature", "humidity", "battery_level"},
	EquipmentTypeTemperatureSensor: {"temperature", "humidity", "battery_level"},
	EquipmentTypePressureSensor:    {"pressure", "temperature", "battery_level"},
	EquipmentTypeLocationTracker:   {"battery_level"},
	EquipmentTypeAirQualityMonitor: {"pm25", "pm10", "co2", "temperature", "humidity", "battery_level"},
}

// MetricsForType 返回指定设备类型采集的指标列表（未知类型返回 nil）
func MetricsForType(t EquipmentType) []string {
	return metricsByType[t]
}
