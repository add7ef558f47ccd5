package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"safetysync-analytics/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AlertRepository 报警仓库
type AlertRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertRepository 创建报警仓库
func NewAlertRepository(db *sql.DB, logger *zap.Logger) *AlertRepository {
	return &AlertRepository{
		db:     db,
		logger: logger,
	}
}

// CreateAlert 创建报警记录
//
// ID 为空时自动生成，TriggeredAt 为零值时使用当前时间。
func (r *AlertRepository) CreateAlert(ctx context.Context, alert *models.Alert) error {
	if alert == nil {
		return fmt.Errorf("alert is required")
	}
	if alert.EquipmentID == "" {
		return fmt.Errorf("equipment_id is required")
	}
	if alert.AlertType == "" {
		return fmt.Errorf("alert_type is required")
	}
	if !alert.Severity.Valid() {
		return fmt.Errorf("invalid alert severity: %s", alert.Severity)
	}

	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.TriggeredAt.IsZero() {
		alert.TriggeredAt = time.Now().UTC()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO alerts (
			id,
			equipment_id,
			alert_type,
			metric_name,
			metric_value,
			threshold,
			severity,
			message,
			triggered_at,
			acknowledged,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`

	_, err := r.db.ExecContext(ctx,
		query,
		alert.ID,
		alert.EquipmentID,
		alert.AlertType,
		alert.MetricName,
		alert.MetricValue,
		alert.Threshold,
		string(alert.Severity),
		alert.Message,
		alert.TriggeredAt,
		alert.Acknowledged,
		alert.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}

	return nil
}

// CountAlertsSince 统计设备自指定时间以来的报警条数
func (r *AlertRepository) CountAlertsSince(ctx context.Context, equipmentID string, since time.Time) (int64, error) {
	query := `SELECT COUNT(*) FROM alerts WHERE equipment_id = $1 AND triggered_at >= $2`

	var count int64
	if err := r.db.QueryRowContext(ctx, query, equipmentID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}

	return count, nil
}
