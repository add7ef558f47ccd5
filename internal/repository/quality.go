package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"safetysync-analytics/internal/models"

	"go.uber.org/zap"
)

// QualityMetricRepository 批量摄取质量指标仓库
type QualityMetricRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewQualityMetricRepository 创建质量指标仓库
func NewQualityMetricRepository(db *sql.DB, logger *zap.Logger) *QualityMetricRepository {
	return &QualityMetricRepository{
		db:     db,
		logger: logger,
	}
}

// InsertBatchMetric 写入单次批量摄取的质量指标行
func (r *QualityMetricRepository) InsertBatchMetric(ctx context.Context, m *models.QualityMetric) error {
	if m == nil {
		return fmt.Errorf("quality metric is required")
	}
	if m.BatchTime.IsZero() {
		m.BatchTime = time.Now().UTC()
	}

	query := `
		INSERT INTO quality_metrics (
			batch_time,
			pipeline_stage,
			total_received,
			total_inserted,
			invalid_count,
			duplicate_count,
			late_arrival_count,
			duplicate_rate,
			invalid_rate,
			processing_time_ms
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		RETURNING id
	`

	err := r.db.QueryRowContext(ctx,
		query,
		m.BatchTime,
		m.PipelineStage,
		m.TotalReceived,
		m.TotalInserted,
		m.InvalidCount,
		m.DuplicateCount,
		m.LateArrivalCount,
		m.DuplicateRate,
		m.InvalidRate,
		m.ProcessingTimeMS,
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("failed to insert quality metric: %w", err)
	}

	return nil
}

// SummarizeSince 汇总自指定时间以来的质量指标
func (r *QualityMetricRepository) SummarizeSince(ctx context.Context, since time.Time) (*models.QualitySummary, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(total_received), 0),
			COALESCE(SUM(total_inserted), 0),
			COALESCE(SUM(invalid_count), 0),
			COALESCE(SUM(duplicate_count), 0),
			COALESCE(SUM(late_arrival_count), 0),
			COALESCE(AVG(processing_time_ms), 0)
		FROM quality_metrics
		WHERE batch_time >= $1
	`

	summary := &models.QualitySummary{Since: since}
	err := r.db.QueryRowContext(ctx, query, since).Scan(
		&summary.BatchCount,
		&summary.TotalReceived,
		&summary.TotalInserted,
		&summary.InvalidCount,
		&summary.DuplicateCount,
		&summary.LateArrivalCount,
		&summary.AvgProcessingMS,
	)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to summarize quality metrics: %w", err)
	}

	if summary.TotalReceived > 0 {
		summary.DuplicateRate = float64(summary.DuplicateCount) / float64(summary.TotalReceived)
		summary.InvalidRate = float64(summary.InvalidCount) / float64(summary.TotalReceived)
	}

	return summary, nil
}
