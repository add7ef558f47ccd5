// Package analytics 实现传感器时序数据的分析引擎
//
// 四类分析：异常检测（隔离森林）、阈值检查、趋势分析（小时聚合 + OLS）、
// 维护风险评估。检测器每次调用重新训练，不做模型缓存。
package analytics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"safetysync-analytics/internal/config"
	"safetysync-analytics/internal/metrics"
	"safetysync-analytics/internal/models"
	"safetysync-analytics/internal/repository"

	"go.uber.org/zap"
)

// StoreReader 时序数据读取
type StoreReader interface {
	QueryRange(ctx context.Context, equipmentID, metricName string, from, to time.Time) ([]models.ReadingPoint, error)
	QueryRecentExceeding(ctx context.Context, equipmentID, metricName string, since time.Time, threshold float64, limit int) ([]models.ReadingPoint, error)
	QueryHourlyRollup(ctx context.Context, equipmentID, metricName string, from time.Time) ([]models.HourlyBucket, error)
	CountReadingsSince(ctx context.Context, equipmentID string, since time.Time) (int64, error)
}

// AlertCounter 报警计数
type AlertCounter interface {
	CountAlertsSince(ctx context.Context, equipmentID string, since time.Time) (int64, error)
}

// RegistryLookup 设备注册表查询
type RegistryLookup interface {
	Lookup(ctx context.Context, id string) (*models.Equipment, error)
}

// 每个指标最多返回的阈值超限条数
const maxViolationsPerMetric = 10

// 校准周期（天数），超过视为超期
const calibrationIntervalDays = 180

// Engine 分析引擎
type Engine struct {
	cfg      *config.Config
	store    StoreReader
	alerts   AlertCounter
	registry RegistryLookup
	logger   *zap.Logger
}

// NewEngine 创建分析引擎
func NewEngine(
	cfg *config.Config,
	store StoreReader,
	alerts AlertCounter,
	registry RegistryLookup,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		cfg:      cfg,
		store:    store,
		alerts:   alerts,
		registry: registry,
		logger:   logger,
	}
}

// DetectAnomalies 对指定设备指标做隔离森林异常检测
//
// lookbackHours <= 0 时使用配置默认值。窗口内点数不足
// ANOMALY_MIN_POINTS 时返回空结果（不是错误）。
func (e *Engine) DetectAnomalies(ctx context.Context, equipmentID, metricName string, lookbackHours int) ([]models.Anomaly, error) {
	if lookbackHours <= 0 {
		lookbackHours = e.cfg.Analytics.AnomalyLookbackHours
	}

	now := time.Now().UTC()
	from := now.Add(-time.Duration(lookbackHours) * time.Hour)

	points, err := e.store.QueryRange(ctx, equipmentID, metricName, from, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load readings for anomaly detection: %w", err)
	}
	if len(points) < e.cfg.Analytics.AnomalyMinPoints {
		e.logger.Debug("not enough history for anomaly detection",
			zap.String("equipment_id", equipmentID),
			zap.String("metric_name", metricName),
			zap.Int("points", len(points)),
			zap.Int("min_points", e.cfg.Analytics.AnomalyMinPoints))
		return nil, nil
	}

	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}
	features := buildFeatures(values)

	forest := fitIsolationForest(features, e.cfg.Analytics.AnomalyEstimators, e.cfg.Analytics.AnomalySeed)

	scores := make([]float64, len(features))
	for i, x := range features {
		scores[i] = forest.Score(x)
	}

	// 污染率分位数作为判定线：得分低于该线的点视为异常。
	// 异常记录携带原始得分（-1 到 0 之间，越小越异常），级别也由原始得分映射。
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	offset := Quantile(sorted, e.cfg.Analytics.AnomalyContamination)

	var anomalies []models.Anomaly
	for i, p := range points {
		if scores[i] >= offset {
			continue
		}
		anomalies = append(anomalies, models.Anomaly{
			EquipmentID: equipmentID,
			MetricName:  metricName,
			Time:        p.Time,
			Value:       p.Value,
			Score:       scores[i],
			Severity:    severityForScore(scores[i]),
		})
	}

	if len(anomalies) > 0 {
		metrics.AnomaliesDetected.Add(float64(len(anomalies)))
		e.logger.Info("anomalies detected",
			zap.String("equipment_id", equipmentID),
			zap.String("metric_name", metricName),
			zap.Int("count", len(anomalies)))
	}

	return anomalies, nil
}

// severityForScore 异常得分映射报警级别，得分越小越严重
func severityForScore(score float64) models.AlertSeverity {
	switch {
	case score < -0.5:
		return models.AlertSeverityCritical
	case score < -0.3:
		return models.AlertSeverityWarning
	default:
		return models.AlertSeverityInfo
	}
}

// CheckThresholds 检查设备各指标的阈值超限
//
// 未知设备返回空结果。每个指标最多返回 10 条最近超限读数（时间降序）。
func (e *Engine) CheckThresholds(ctx context.Context, equipmentID string, lookbackMinutes int) ([]models.ThresholdViolation, error) {
	if lookbackMinutes <= 0 {
		lookbackMinutes = e.cfg.Analytics.ThresholdLookbackMinutes
	}

	eq, err := e.registry.Lookup(ctx, equipmentID)
	if err != nil {
		if errors.Is(err, repository.ErrEquipmentNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up equipment for threshold check: %w", err)
	}

	thresholds := e.cfg.Thresholds.ForEquipmentType(string(eq.Type))
	if len(thresholds) == 0 {
		return nil, nil
	}

	// 固定指标顺序，保证输出可复现
	names := make([]string, 0, len(thresholds))
	for name := range thresholds {
		names = append(names, name)
	}
	sort.Strings(names)

	since := time.Now().UTC().Add(-time.Duration(lookbackMinutes) * time.Minute)

	var violations []models.ThresholdViolation
	for _, name := range names {
		threshold := thresholds[name]
		points, err := e.store.QueryRecentExceeding(ctx, equipmentID, name, since, threshold, maxViolationsPerMetric)
		if err != nil {
			return nil, fmt.Errorf("failed to query threshold violations: %w", err)
		}
		for _, p := range points {
			violations = append(violations, models.ThresholdViolation{
				EquipmentID: equipmentID,
				MetricName:  name,
				MetricValue: p.Value,
				MetricUnit:  p.Unit,
				Threshold:   threshold,
				Severity:    severityForRatio(p.Value / threshold),
				Time:        p.Time,
			})
		}
	}

	return violations, nil
}

// severityForRatio 超限倍数映射报警级别
func severityForRatio(ratio float64) models.AlertSeverity {
	switch {
	case ratio > 2.0:
		return models.AlertSeverityEmergency
	case ratio > 1.5:
		return models.AlertSeverityCritical
	case ratio > 1.2:
		return models.AlertSeverityWarning
	default:
		return models.AlertSeverityInfo
	}
}

// AnalyzeTrends 基于小时聚合分析指标趋势
//
// 聚合桶数不足 TREND_MIN_BUCKETS 时返回 ErrInsufficientData。
func (e *Engine) AnalyzeTrends(ctx context.Context, equipmentID, metricName string, periodDays int) (*models.TrendSummary, error) {
	if periodDays <= 0 {
		periodDays = e.cfg.Analytics.TrendPeriodDays
	}

	from := time.Now().UTC().AddDate(0, 0, -periodDays)
	buckets, err := e.store.QueryHourlyRollup(ctx, equipmentID, metricName, from)
	if err != nil {
		return nil, fmt.Errorf("failed to load hourly rollup: %w", err)
	}
	if len(buckets) < e.cfg.Analytics.TrendMinBuckets {
		return nil, fmt.Errorf("%w: have %d hourly buckets, need %d",
			ErrInsufficientData, len(buckets), e.cfg.Analytics.TrendMinBuckets)
	}

	n := len(buckets)
	xs := make([]float64, n)
	avgs := make([]float64, n)
	stddevs := make([]float64, n)
	minVal := buckets[0].MinValue
	maxVal := buckets[0].MaxValue
	for i, b := range buckets {
		xs[i] = float64(i)
		avgs[i] = b.AvgValue
		stddevs[i] = b.StdDev
		if b.MinValue < minVal {
			minVal = b.MinValue
		}
		if b.MaxValue > maxVal {
			maxVal = b.MaxValue
		}
	}

	slope, _, _, ok := LinearRegression(xs, avgs)
	if !ok {
		slope = 0
	}

	// 零斜率归入 decreasing
	direction := models.TrendDecreasing
	if slope > 0 {
		direction = models.TrendIncreasing
	}

	overallAvg := Mean(avgs)

	volatility := 0.0
	if overallAvg != 0 {
		volatility = Mean(stddevs) / overallAvg
	}

	recent := avgs
	if n > 24 {
		recent = avgs[n-24:]
	}
	recentAvg := Mean(recent)

	percentChange := 0.0
	if overallAvg != 0 {
		percentChange = (recentAvg - overallAvg) / overallAvg * 100
	}

	return &models.TrendSummary{
		EquipmentID:   equipmentID,
		MetricName:    metricName,
		PeriodDays:    periodDays,
		BucketCount:   n,
		Direction:     direction,
		Slope:         slope,
		Volatility:    volatility,
		OverallAvg:    overallAvg,
		RecentAvg:     recentAvg,
		PercentChange: percentChange,
		Min:           minVal,
		Max:           maxVal,
	}, nil
}

// PredictMaintenance 评估设备维护风险
//
// 未知设备返回 repository.ErrEquipmentNotFound。
func (e *Engine) PredictMaintenance(ctx context.Context, equipmentID string) (*models.MaintenanceRisk, error) {
	eq, err := e.registry.Lookup(ctx, equipmentID)
	if err != nil {
		if errors.Is(err, repository.ErrEquipmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to look up equipment for maintenance prediction: %w", err)
	}

	now := time.Now().UTC()
	since30d := now.Add(-30 * 24 * time.Hour)

	score := 0

	// 从未校准的设备无法计算校准周期，该项不计分（DaysSinceCalibration 为 -1）
	daysSinceCalibration := -1
	if eq.LastCalibrationAt != nil {
		daysSinceCalibration = int(now.Sub(*eq.LastCalibrationAt).Hours() / 24)
		if daysSinceCalibration > calibrationIntervalDays {
			score += 40
		}
	}

	alertCount, err := e.alerts.CountAlertsSince(ctx, equipmentID, since30d)
	if err != nil {
		return nil, fmt.Errorf("failed to count recent alerts: %w", err)
	}
	if alertCount > 10 {
		score += 30
	}

	readingCount, err := e.store.CountReadingsSince(ctx, equipmentID, since30d)
	if err != nil {
		return nil, fmt.Errorf("failed to count recent readings: %w", err)
	}
	if readingCount > 10000 {
		score += 20
	}

	level := models.RiskLevelLow
	recommendation := "Normal operations, routine checks"
	switch {
	case score > 70:
		level = models.RiskLevelHigh
		recommendation = "Schedule maintenance within 1 week"
	case score > 40:
		level = models.RiskLevelMedium
		recommendation = "Schedule maintenance within 1 month"
	}

	usage := models.UsageIntensityNormal
	if readingCount > 10000 {
		usage = models.UsageIntensityHigh
	}

	return &models.MaintenanceRisk{
		EquipmentID:          equipmentID,
		RiskScore:            score,
		RiskLevel:            level,
		DaysSinceCalibration: daysSinceCalibration,
		AlertCount30d:        alertCount,
		ReadingCount30d:      readingCount,
		UsageIntensity:       usage,
		Recommendation:       recommendation,
	}, nil
}
