// Package pipeline 实现传感器读数的批量摄取管线
//
// 五个阶段按固定顺序执行：
//  1. 校验（记录级拒绝，计入 invalid_count）
//  2. 批内去重（保留输入顺序中的第一条）
//  3. 时效判定（迟到读数计数，不拒绝）
//  4. 分块批量写入（任一块失败则中止批次）
//  5. 质量核算（每次调用写一行 quality_metrics）
package pipeline

import (
	"context"
	"time"

	"safetysync-analytics/internal/config"
	"safetysync-analytics/internal/metrics"
	"safetysync-analytics/internal/models"

	"go.uber.org/zap"
)

// RegistryLookup 设备注册表查询
type RegistryLookup interface {
	Lookup(ctx context.Context, id string) (*models.Equipment, error)
}

// ReadingWriter 读数批量写入
type ReadingWriter interface {
	BulkInsert(ctx context.Context, readings []models.Reading, chunkSize int) (int64, error)
}

// QualityRecorder 质量指标写入
type QualityRecorder interface {
	InsertBatchMetric(ctx context.Context, m *models.QualityMetric) error
}

// QualityNotifier 质量超限通知
type QualityNotifier interface {
	NotifyQuality(ctx context.Context, breach *models.QualityBreach) error
}

// 质量指标行的管线阶段标签
const pipelineStage = "ingestion"

// Pipeline 批量摄取管线
type Pipeline struct {
	cfg      *config.Config
	registry RegistryLookup
	readings ReadingWriter
	quality  QualityRecorder
	notifier QualityNotifier // 可为 nil（未配置 Webhook）
	logger   *zap.Logger
}

// NewPipeline 创建批量摄取管线
func NewPipeline(
	cfg *config.Config,
	registry RegistryLookup,
	readings ReadingWriter,
	quality QualityRecorder,
	notifier QualityNotifier,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		registry: registry,
		readings: readings,
		quality:  quality,
		notifier: notifier,
		logger:   logger,
	}
}

// IngestBatch 摄取一批原始读数
//
// 不返回 Go error：基础设施故障通过结果中的 Success=false / Error 报告。
// 成功时满足 TotalReceived == TotalInserted + InvalidCount + DuplicateCount。
func (p *Pipeline) IngestBatch(ctx context.Context, raw []models.RawReading) *models.IngestionResult {
	start := time.Now()
	result := &models.IngestionResult{
		TotalReceived: len(raw),
	}

	// 1. 校验
	valid := make([]models.Reading, 0, len(raw))
	known := make(map[string]bool)
	for i := range raw {
		rd, reason, err := p.validate(ctx, &raw[i], known)
		if err != nil {
			return p.fail(ctx, result, start, err)
		}
		if reason != "" {
			result.InvalidCount++
			p.logger.Debug("reading rejected",
				zap.String("reason", reason),
				zap.String("equipment_id", raw[i].EquipmentID),
				zap.String("metric_name", raw[i].MetricName))
			continue
		}
		valid = append(valid, *rd)
	}

	// 2. 批内去重，保留第一条
	unique := make([]models.Reading, 0, len(valid))
	seen := make(map[models.ReadingKey]struct{}, len(valid))
	for _, rd := range valid {
		key := rd.Key()
		if _, dup := seen[key]; dup {
			result.DuplicateCount++
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, rd)
	}

	// 3. 时效判定：time >= cutoff 视为准时，迟到读数仍然写入
	cutoff := start.Add(-p.cfg.Ingest.MaxLateArrival)
	for i := range unique {
		if unique[i].Time.Before(cutoff) {
			result.LateArrivalCount++
		}
	}

	// 4. 分块批量写入
	affected, err := p.readings.BulkInsert(ctx, unique, p.cfg.Ingest.MaxBatchSize)
	if err != nil {
		// 已完成的块不回滚，计数只反映数据库确认的行
		result.TotalInserted = int(affected)
		return p.fail(ctx, result, start, err)
	}
	result.TotalInserted = len(unique)
	if affected != int64(len(unique)) {
		// 库内已有同键读数时 ON CONFLICT 跳过，不影响幂等语义
		p.logger.Warn("insert count diverged from submitted rows",
			zap.Int64("db_inserted", affected),
			zap.Int("submitted", len(unique)))
	}

	// 5. 质量核算
	result.Success = true
	result.ProcessingTimeMS = time.Since(start).Milliseconds()
	p.recordQuality(ctx, result, start)

	metrics.ObserveIngestion(
		result.TotalReceived,
		result.TotalInserted,
		result.InvalidCount,
		result.DuplicateCount,
		result.LateArrivalCount,
		time.Since(start).Seconds(),
		true,
	)

	p.logger.Info("batch ingested",
		zap.Int("total_received", result.TotalReceived),
		zap.Int("total_inserted", result.TotalInserted),
		zap.Int("invalid_count", result.InvalidCount),
		zap.Int("duplicate_count", result.DuplicateCount),
		zap.Int("late_arrival_count", result.LateArrivalCount),
		zap.Int64("processing_time_ms", result.ProcessingTimeMS))

	return result
}

// fail 构造批次失败结果
func (p *Pipeline) fail(ctx context.Context, result *models.IngestionResult, start time.Time, err error) *models.IngestionResult {
	result.Success = false
	result.Error = err.Error()
	result.ProcessingTimeMS = time.Since(start).Milliseconds()

	p.logger.Error("batch ingestion failed",
		zap.Int("total_received", result.TotalReceived),
		zap.Int("total_inserted", result.TotalInserted),
		zap.Error(err))

	// 质量行尽力写入；存储故障时这里通常也会失败，只记日志
	p.recordQuality(ctx, result, start)

	metrics.ObserveIngestion(
		result.TotalReceived,
		result.TotalInserted,
		result.InvalidCount,
		result.DuplicateCount,
		result.LateArrivalCount,
		time.Since(start).Seconds(),
		false,
	)

	return result
}

// recordQuality 写入本次调用的质量指标行并检查质量阈值
func (p *Pipeline) recordQuality(ctx context.Context, result *models.IngestionResult, start time.Time) {
	m := &models.QualityMetric{
		BatchTime:        start.UTC(),
		PipelineStage:    pipelineStage,
		TotalReceived:    result.TotalReceived,
		TotalInserted:    result.TotalInserted,
		InvalidCount:     result.InvalidCount,
		DuplicateCount:   result.DuplicateCount,
		LateArrivalCount: result.LateArrivalCount,
		ProcessingTimeMS: result.ProcessingTimeMS,
	}
	if result.TotalReceived > 0 {
		m.DuplicateRate = float64(result.DuplicateCount) / float64(result.TotalReceived)
		m.InvalidRate = float64(result.InvalidCount) / float64(result.TotalReceived)
	}

	if err := p.quality.InsertBatchMetric(ctx, m); err != nil {
		// 数据已落库，质量核算失败不影响批次结果
		p.logger.Error("failed to record quality metric", zap.Error(err))
	}

	var breaches []string
	if m.DuplicateRate > p.cfg.Quality.MaxDuplicateRate {
		breaches = append(breaches, models.QualityBreachDuplicateRate)
		metrics.QualityBreaches.WithLabelValues("duplicate").Inc()
		p.logger.Warn("duplicate rate above threshold",
			zap.Float64("duplicate_rate", m.DuplicateRate),
			zap.Float64("max_duplicate_rate", p.cfg.Quality.MaxDuplicateRate))
	}
	if m.InvalidRate > p.cfg.Quality.MaxInvalidRate {
		breaches = append(breaches, models.QualityBreachInvalidRate)
		metrics.QualityBreaches.WithLabelValues("invalid").Inc()
		p.logger.Warn("invalid rate above threshold",
			zap.Float64("invalid_rate", m.InvalidRate),
			zap.Float64("max_invalid_rate", p.cfg.Quality.MaxInvalidRate))
	}

	if len(breaches) > 0 && p.notifier != nil {
		breach := &models.QualityBreach{
			BatchTime:     m.BatchTime,
			TotalReceived: m.TotalReceived,
			DuplicateRate: m.DuplicateRate,
			InvalidRate:   m.InvalidRate,
			Breaches:      breaches,
		}
		if err := p.notifier.NotifyQuality(ctx, breach); err != nil {
			p.logger.Warn("failed to send quality breach notification", zap.Error(err))
		}
	}
}
