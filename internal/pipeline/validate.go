package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"

	"safetysync-analytics/internal/models"
	"safetysync-analytics/internal/repository"
)

// reasonableRanges 各指标的合理值范围（闭区间）
var reasonableRanges = map[string][2]float64{
	"gas_concentration": {-0.1, 10000},
	"temperature":       {-50, 200},
	"pressure":          {0, 1000},
	"humidity":          {0, 100},
	"battery_level":     {0, 100},
}

// 未列出的指标使用默认范围
const (
	defaultRangeMin = -1e6
	defaultRangeMax = 1e6
)

// validate 校验并规范化单条原始读数
//
// 返回值约定：
//   - reading != nil：校验通过，返回规范化后的读数
//   - reason != ""：记录级拒绝（计入 invalid_count，不中断批次）
//   - err != nil：基础设施故障（注册表查询失败），中断整个批次
//
// known 为批内设备查询备忘，key 为 equipment_id，value 表示设备是否存在。
func (p *Pipeline) validate(ctx context.Context, raw *models.RawReading, known map[string]bool) (*models.Reading, string, error) {
	if raw.EquipmentID == "" {
		return nil, "missing equipment_id", nil
	}
	if raw.MetricName == "" {
		return nil, "missing metric_name", nil
	}
	if raw.MetricValue == nil {
		return nil, "missing metric_value", nil
	}
	value := *raw.MetricValue
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, "non-finite metric_value", nil
	}
	if raw.Time.IsZero() {
		return nil, "missing time", nil
	}

	// 设备必须在注册表中存在
	exists, ok := known[raw.EquipmentID]
	if !ok {
		_, err := p.registry.Lookup(ctx, raw.EquipmentID)
		switch {
		case err == nil:
			exists = true
		case errors.Is(err, repository.ErrEquipmentNotFound):
			exists = false
		default:
			return nil, "", fmt.Errorf("registry lookup failed for %s: %w", raw.EquipmentID, err)
		}
		known[raw.EquipmentID] = exists
	}
	if !exists {
		return nil, "unknown equipment", nil
	}

	// 状态规范化：缺省为 normal，未知值拒绝
	status := models.ReadingStatusNormal
	if raw.Status != "" {
		status = models.ReadingStatus(raw.Status)
		if !status.Valid() {
			return nil, "invalid status", nil
		}
	}

	// 合理值范围检查（闭区间）
	min, max := defaultRangeMin, defaultRangeMax
	if r, ok := reasonableRanges[raw.MetricName]; ok {
		min, max = r[0], r[1]
	}
	if value < min || value > max {
		return nil, "value out of range", nil
	}

	attrs := raw.Attributes
	if attrs == nil {
		attrs = map[string]interface{}{}
	}

	// 单位为可选字段，空值落库为 NULL
	var unit *string
	if raw.MetricUnit != "" {
		u := raw.MetricUnit
		unit = &u
	}

	return &models.Reading{
		EquipmentID: raw.EquipmentID,
		MetricName:  raw.MetricName,
		MetricValue: value,
		MetricUnit:  unit,
		Time:        raw.Time,
		Status:      status,
		Attributes:  attrs,
	}, "", nil
}
