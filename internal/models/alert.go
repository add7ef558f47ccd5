package models

import (
	"time"
)

// AlertSeverity 报警级别（由低到高）
type AlertSeverity string

const (
	AlertSeverityInfo      AlertSeverity = "info"
	AlertSeverityWarning   AlertSeverity = "warning"
	AlertSeverityCritical  AlertSeverity = "critical"
	AlertSeverityEmergency AlertSeverity = "emergency"
)

// Valid 检查报警级别是否合法
func (s AlertSeverity) Valid() bool {
	switch s {
	case AlertSeverityInfo, AlertSeverityWarning, AlertSeverityCritical, AlertSeverityEmergency:
		return true
	}
	return false
}

// 报警类型
const (
	AlertTypeThresholdExceeded   = "threshold_exceeded"
	AlertTypeAnomalyDetected     = "anomaly_detected"
	AlertTypeMaintenanceRequired = "maintenance_required"
	AlertTypeCalibrationDueSoon  = "calibration_due_soon"
	AlertTypeCalibrationOverdue  = "calibration_overdue"
)

// Alert 报警记录（对应 alerts 表）
type Alert struct {
	ID           string        `json:"id" db:"id"`
	EquipmentID  string        `json:"equipment_id" db:"equipment_id"`
	AlertType    string        `json:"alert_type" db:"alert_type"`
	MetricName   *string       `json:"metric_name,omitempty" db:"metric_name"`
	MetricValue  *float64      `json:"metric_value,omitempty" db:"metric_value"`
	Threshold    *float64      `json:"threshold,omitempty" db:"threshold"`
	Severity     AlertSeverity `json:"severity" db:"severity"`
	Message      string        `json:"message" db:"message"`
	TriggeredAt  time.Time     `json:"triggered_at" db:"triggered_at"`
	Acknowledged bool          `json:"acknowledged" db:"acknowledged"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
}
