// Package metrics 导出 Prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus 指标
var (
	// ReadingsReceived 接收到的读数总数
	ReadingsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "safetysync_readings_received_total",
			Help: "Total number of readings received for ingestion",
		},
	)

	// ReadingsInserted 成功写入的读数总数
	ReadingsInserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "safetysync_readings_inserted_total",
			Help: "Total number of readings inserted",
		},
	)

	// ReadingsInvalid 校验失败的读数总数
	ReadingsInvalid = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "safetysync_readings_invalid_total",
			Help: "Total number of readings rejected by validation",
		},
	)

	// ReadingsDuplicate 批内重复的读数总数
	ReadingsDuplicate = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "safetysync_readings_duplicate_total",
			Help: "Total number of in-batch duplicate readings",
		},
	)

	// ReadingsLate 迟到的读数总数
	ReadingsLate = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "safetysync_readings_late_total",
			Help: "Total number of late arrival readings",
		},
	)

	// IngestBatchesFailed 失败的摄取批次总数
	IngestBatchesFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "safetysync_ingest_batches_failed_total",
			Help: "Total number of ingestion batches that failed",
		},
	)

	// IngestBatchDuration 摄取批次处理时长
	IngestBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "safetysync_ingest_batch_duration_seconds",
			Help:    "Ingestion batch processing duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// QualityBreaches 质量阈值超限次数（kind: duplicate / invalid）
	QualityBreaches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safetysync_quality_breaches_total",
			Help: "Total number of quality rate breaches",
		},
		[]string{"kind"},
	)

	// SweepRuns 定时巡检执行次数
	SweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safetysync_sweep_runs_total",
			Help: "Total number of sweep executions",
		},
		[]string{"sweep"},
	)

	// SweepErrors 定时巡检失败次数
	SweepErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safetysync_sweep_errors_total",
			Help: "Total number of sweep executions that returned errors",
		},
		[]string{"sweep"},
	)

	// AlertsCreated 创建的报警总数
	AlertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safetysync_alerts_created_total",
			Help: "Total number of alerts created",
		},
		[]string{"alert_type"},
	)

	// AnomaliesDetected 检测出的异常读数总数
	AnomaliesDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "safetysync_anomalies_detected_total",
			Help: "Total number of anomalous readings detected",
		},
	)

	// StreamPending 消费者组待确认消息数
	StreamPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "safetysync_stream_pending",
			Help: "Number of pending entries in the reading stream consumer group",
		},
	)

	// HTTPInFlight 处理中的 HTTP 请求数
	HTTPInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "safetysync_http_in_flight_requests",
			Help: "Number of HTTP requests currently being served",
		},
	)
)

// ObserveIngestion 更新单次摄取批次的指标
func ObserveIngestion(received, inserted, invalid, duplicate, late int, seconds float64, success bool) {
	ReadingsReceived.Add(float64(received))
	ReadingsInserted.Add(float64(inserted))
	ReadingsInvalid.Add(float64(invalid))
	ReadingsDuplicate.Add(float64(duplicate))
	ReadingsLate.Add(float64(late))
	IngestBatchDuration.Observe(seconds)
	if !success {
		IngestBatchesFailed.Inc()
	}
}
