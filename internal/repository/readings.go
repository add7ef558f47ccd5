package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"safetysync-analytics/internal/models"

	"go.uber.org/zap"
)

// 每行 7 列：equipment_id, metric_name, metric_value, metric_unit, time, status, attributes
const readingColumns = 7

// ReadingRepository 传感器读数仓库
type ReadingRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewReadingRepository 创建传感器读数仓库
func NewReadingRepository(db *sql.DB, logger *zap.Logger) *ReadingRepository {
	return &ReadingRepository{
		db:     db,
		logger: logger,
	}
}

// BulkInsert 分块批量写入读数
//
// 每块最多 chunkSize 行，使用 ON CONFLICT DO NOTHING 保证重复提交幂等。
// 返回实际写入的行数（冲突跳过的行不计入）。任一块写入失败时中止
// 剩余块并返回错误，已写入的块不回滚。
func (r *ReadingRepository) BulkInsert(ctx context.Context, readings []models.Reading, chunkSize int) (int64, error) {
	if len(readings) == 0 {
		return 0, nil
	}
	if chunkSize <= 0 {
		chunkSize = 1000
	}

	var total int64
	for start := 0; start < len(readings); start += chunkSize {
		end := start + chunkSize
		if end > len(readings) {
			end = len(readings)
		}

		n, err := r.insertChunk(ctx, readings[start:end])
		if err != nil {
			return total, fmt.Errorf("failed to insert chunk at offset %d: %w", start, err)
		}
		total += n
	}

	return total, nil
}

func (r *ReadingRepository) insertChunk(ctx context.Context, chunk []models.Reading) (int64, error) {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO sensor_readings (equipment_id, metric_name, metric_value, metric_unit, time, status, attributes) VALUES `)

	args := make([]interface{}, 0, len(chunk)*readingColumns)
	for i, rd := range chunk {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * readingColumns
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7)

		attrs, err := json.Marshal(rd.Attributes)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal attributes: %w", err)
		}
		args = append(args, rd.EquipmentID, rd.MetricName, rd.MetricValue, rd.MetricUnit, rd.Time, string(rd.Status), attrs)
	}

	sb.WriteString(` ON CONFLICT (equipment_id, metric_name, time) DO NOTHING`)

	res, err := r.db.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to bulk insert readings: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return affected, nil
}

// QueryRange 查询指定设备指标在时间区间内的读数（按时间升序）
func (r *ReadingRepository) QueryRange(ctx context.Context, equipmentID, metricName string, from, to time.Time) ([]models.ReadingPoint, error) {
	query := `
		SELECT time, metric_value, metric_unit, status
		FROM sensor_readings
		WHERE equipment_id = $1 AND metric_name = $2 AND time >= $3 AND time <= $4
		ORDER BY time ASC
	`

	rows, err := r.db.QueryContext(ctx, query, equipmentID, metricName, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings range: %w", err)
	}
	defer rows.Close()

	points, err := scanReadingPoints(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan reading points: %w", err)
	}

	return points, nil
}

// QueryRecentExceeding 查询窗口内超过阈值的读数（按时间降序，最多 limit 条）
func (r *ReadingRepository) QueryRecentExceeding(ctx context.Context, equipmentID, metricName string, since time.Time, threshold float64, limit int) ([]models.ReadingPoint, error) {
	query := `
		SELECT time, metric_value, metric_unit, status
		FROM sensor_readings
		WHERE equipment_id = $1 AND metric_name = $2 AND time >= $3 AND metric_value > $4
		ORDER BY time DESC
		LIMIT $5
	`

	rows, err := r.db.QueryContext(ctx, query, equipmentID, metricName, since, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query exceeding readings: %w", err)
	}
	defer rows.Close()

	points, err := scanReadingPoints(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan exceeding readings: %w", err)
	}

	return points, nil
}

func scanReadingPoints(rows *sql.Rows) ([]models.ReadingPoint, error) {
	var points []models.ReadingPoint
	for rows.Next() {
		var (
			p      models.ReadingPoint
			unit   sql.NullString
			status string
		)
		if err := rows.Scan(&p.Time, &p.Value, &unit, &status); err != nil {
			return nil, err
		}
		p.Unit = unit.String
		p.Status = models.ReadingStatus(status)
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return points, nil
}

// QueryHourlyRollup 按小时聚合查询（按桶起始时间升序）
//
// 单行桶的 STDDEV 为 NULL，统一返回 0。
func (r *ReadingRepository) QueryHourlyRollup(ctx context.Context, equipmentID, metricName string, from time.Time) ([]models.HourlyBucket, error) {
	query := `
		SELECT
			date_trunc('hour', time) AS bucket_start,
			AVG(metric_value) AS avg_value,
			MIN(metric_value) AS min_value,
			MAX(metric_value) AS max_value,
			COALESCE(STDDEV(metric_value), 0) AS stddev,
			COUNT(*) AS count
		FROM sensor_readings
		WHERE equipment_id = $1 AND metric_name = $2 AND time >= $3
		GROUP BY bucket_start
		ORDER BY bucket_start ASC
	`

	rows, err := r.db.QueryContext(ctx, query, equipmentID, metricName, from)
	if err != nil {
		return nil, fmt.Errorf("failed to query hourly rollup: %w", err)
	}
	defer rows.Close()

	var buckets []models.HourlyBucket
	for rows.Next() {
		var b models.HourlyBucket
		if err := rows.Scan(&b.BucketStart, &b.AvgValue, &b.MinValue, &b.MaxValue, &b.StdDev, &b.Count); err != nil {
			return nil, fmt.Errorf("failed to scan hourly bucket: %w", err)
		}
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate hourly buckets: %w", err)
	}

	return buckets, nil
}

// CountReadingsSince 统计设备自指定时间以来的读数条数
func (r *ReadingRepository) CountReadingsSince(ctx context.Context, equipmentID string, since time.Time) (int64, error) {
	query := `SELECT COUNT(*) FROM sensor_readings WHERE equipment_id = $1 AND time >= $2`

	var count int64
	if err := r.db.QueryRowContext(ctx, query, equipmentID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count readings: %w", err)
	}

	return count, nil
}

// DeleteOlderThan 删除早于 cutoff 的读数，返回删除行数
func (r *ReadingRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sensor_readings WHERE time < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old readings: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return affected, nil
}
