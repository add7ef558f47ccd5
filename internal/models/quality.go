package models

import (
	"time"
)

// IngestionResult 单次批量摄取的结果
//
// 成功时满足 TotalReceived == TotalInserted + InvalidCount + DuplicateCount。
type IngestionResult struct {
	Success          bool   `json:"success"`
	TotalReceived    int    `json:"total_received"`
	TotalInserted    int    `json:"total_inserted"`
	InvalidCount     int    `json:"invalid_count"`
	DuplicateCount   int    `json:"duplicate_count"`
	LateArrivalCount int    `json:"late_arrival_count"`
	ProcessingTimeMS int64  `json:"processing_time_ms"`
	Error            string `json:"error,omitempty"`
}

// QualityMetric 单次批量摄取的质量指标（对应 quality_metrics 表，每次调用一行）
type QualityMetric struct {
	ID               int64     `json:"id" db:"id"`
	BatchTime        time.Time `json:"batch_time" db:"batch_time"`
	PipelineStage    string    `json:"pipeline_stage" db:"pipeline_stage"`
	TotalReceived    int       `json:"total_received" db:"total_received"`
	TotalInserted    int       `json:"total_inserted" db:"total_inserted"`
	InvalidCount     int       `json:"invalid_count" db:"invalid_count"`
	DuplicateCount   int       `json:"duplicate_count" db:"duplicate_count"`
	LateArrivalCount int       `json:"late_arrival_count" db:"late_arrival_count"`
	DuplicateRate    float64   `json:"duplicate_rate" db:"duplicate_rate"`
	InvalidRate      float64   `json:"invalid_rate" db:"invalid_rate"`
	ProcessingTimeMS int64     `json:"processing_time_ms" db:"processing_time_ms"`
}

// 质量超限类型
const (
	QualityBreachDuplicateRate = "duplicate_rate"
	QualityBreachInvalidRate   = "invalid_rate"
)

// QualityBreach 质量阈值超限通知载荷
type QualityBreach struct {
	BatchTime     time.Time `json:"batch_time"`
	TotalReceived int       `json:"total_received"`
	DuplicateRate float64   `json:"duplicate_rate"`
	InvalidRate   float64   `json:"invalid_rate"`
	Breaches      []string  `json:"breaches"` // duplicate_rate / invalid_rate
}

// QualitySummary 一段时间内质量指标的汇总
type QualitySummary struct {
	Since            time.Time `json:"since"`
	BatchCount       int64     `json:"batch_count"`
	TotalReceived    int64     `json:"total_received"`
	TotalInserted    int64     `json:"total_inserted"`
	InvalidCount     int64     `json:"invalid_count"`
	DuplicateCount   int64     `json:"duplicate_count"`
	LateArrivalCount int64     `json:"late_arrival_count"`
	DuplicateRate    float64   `json:"duplicate_rate"`
	InvalidRate      float64   `json:"invalid_rate"`
	AvgProcessingMS  float64   `json:"avg_processing_ms"`
}
