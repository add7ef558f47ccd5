package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"safetysync-analytics/internal/models"

	"go.uber.org/zap"
)

// EquipmentRepository 设备仓库
type EquipmentRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewEquipmentRepository 创建设备仓库
func NewEquipmentRepository(db *sql.DB, logger *zap.Logger) *EquipmentRepository {
	return &EquipmentRepository{
		db:     db,
		logger: logger,
	}
}

const equipmentColumns = `
	id,
	name,
	type,
	status,
	manufacturer,
	model,
	serial_number,
	location,
	installation_date,
	last_calibration_at,
	next_calibration_due,
	metadata,
	created_at,
	updated_at
`

// GetEquipment 按 ID 查询设备，不存在时返回 ErrEquipmentNotFound
func (r *EquipmentRepository) GetEquipment(ctx context.Context, id string) (*models.Equipment, error) {
	query := `SELECT ` + equipmentColumns + ` FROM equipment WHERE id = $1`

	eq, err := r.scanEquipment(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrEquipmentNotFound
		}
		return nil, fmt.Errorf("failed to get equipment %s: %w", id, err)
	}

	return eq, nil
}

// ListActiveEquipment 查询所有状态为 active 的设备
func (r *EquipmentRepository) ListActiveEquipment(ctx context.Context) ([]models.Equipment, error) {
	query := `SELECT ` + equipmentColumns + ` FROM equipment WHERE status = $1 ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, string(models.EquipmentStatusActive))
	if err != nil {
		return nil, fmt.Errorf("failed to list active equipment: %w", err)
	}
	defer rows.Close()

	var result []models.Equipment
	for rows.Next() {
		eq, err := r.scanEquipment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan equipment row: %w", err)
		}
		result = append(result, *eq)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate equipment rows: %w", err)
	}

	return result, nil
}

// rowScanner 兼容 *sql.Row 和 *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *EquipmentRepository) scanEquipment(row rowScanner) (*models.Equipment, error) {
	var (
		eq             models.Equipment
		typeStr        string
		statusStr      string
		manufacturer   sql.NullString
		model          sql.NullString
		serialNumber   sql.NullString
		location       sql.NullString
		installedAt    sql.NullTime
		calibratedAt   sql.NullTime
		calibrationDue sql.NullTime
		metadataBytes  []byte
	)

	err := row.Scan(
		&eq.ID,
		&eq.Name,
		&typeStr,
		&statusStr,
		&manufacturer,
		&model,
		&serialNumber,
		&location,
		&installedAt,
		&calibratedAt,
		&calibrationDue,
		&metadataBytes,
		&eq.CreatedAt,
		&eq.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	eq.Type = models.EquipmentType(typeStr)
	eq.Status = models.EquipmentStatus(statusStr)
	if manufacturer.Valid {
		eq.Manufacturer = &manufacturer.String
	}
	if model.Valid {
		eq.Model = &model.String
	}
	if serialNumber.Valid {
		eq.SerialNumber = &serialNumber.String
	}
	if location.Valid {
		eq.Location = &location.String
	}
	if installedAt.Valid {
		t := installedAt.Time
		eq.InstallationDate = &t
	}
	if calibratedAt.Valid {
		t := calibratedAt.Time
		eq.LastCalibrationAt = &t
	}
	if calibrationDue.Valid {
		t := calibrationDue.Time
		eq.NextCalibrationDue = &t
	}

	eq.Metadata = map[string]interface{}{}
	if len(metadataBytes) > 0 {
		if err := json.Unmarshal(metadataBytes, &eq.Metadata); err != nil {
			// 元数据损坏不阻断查询
			r.logger.Warn("failed to unmarshal equipment metadata",
				zap.String("equipment_id", eq.ID),
				zap.Error(err))
			eq.Metadata = map[string]interface{}{}
		}
	}

	return &eq, nil
}
