package service

import (
	"context"
	"fmt"
	"time"

	"safetysync-analytics/internal/metrics"
	"safetysync-analytics/internal/models"

	"go.uber.org/zap"
)

// 巡检名称，亦用作指标标签
const (
	sweepThreshold = "threshold"
	sweepAnomaly   = "anomaly"
	sweepHealth    = "health"
	sweepCleanup   = "cleanup"
)

// 报警冷却键前缀
const cooldownKeyPrefix = "safetysync:alert:cooldown:"

// 校准周期与提前提醒窗口（天）
const (
	calibrationIntervalDays = 180
	calibrationDueSoonDays  = 7
)

// runSweepLoop 启动一个定时巡检循环，先立即执行一次，之后按间隔触发
func (s *Service) runSweepLoop(ctx context.Context, name string, interval time.Duration, sweep func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("sweep loop started",
		zap.String("sweep", name),
		zap.Duration("interval", interval),
	)

	s.runSweep(ctx, name, sweep)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runSweep(ctx, name, sweep)
		}
	}
}

// runSweep 执行一次巡检并记录指标，失败只记录不中断循环
func (s *Service) runSweep(ctx context.Context, name string, sweep func(context.Context) error) {
	metrics.SweepRuns.WithLabelValues(name).Inc()
	if err := sweep(ctx); err != nil {
		metrics.SweepErrors.WithLabelValues(name).Inc()
		s.logger.Error("sweep failed",
			zap.String("sweep", name),
			zap.Error(err),
		)
	}
}

// thresholdSweep 检查所有在役设备的阈值超限并落报警
func (s *Service) thresholdSweep(ctx context.Context) error {
	equipment, err := s.equipment.ListActiveEquipment(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active equipment: %w", err)
	}

	created := 0
	for _, eq := range equipment {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		violations, err := s.engine.CheckThresholds(ctx, eq.ID, 0)
		if err != nil {
			s.logger.Error("threshold check failed",
				zap.String("equipment_id", eq.ID),
				zap.Error(err),
			)
			continue
		}

		for _, v := range violations {
			if !s.shouldAlert(ctx, v.EquipmentID, models.AlertTypeThresholdExceeded, v.MetricName) {
				continue
			}

			metricName := v.MetricName
			value := v.MetricValue
			threshold := v.Threshold
			alert := &models.Alert{
				EquipmentID: v.EquipmentID,
				AlertType:   models.AlertTypeThresholdExceeded,
				MetricName:  &metricName,
				MetricValue: &value,
				Threshold:   &threshold,
				Severity:    v.Severity,
				Message:     violationMessage(v),
				TriggeredAt: v.Time,
			}
			if err := s.createAlert(ctx, alert); err != nil {
				s.logger.Error("failed to create threshold alert",
					zap.String("equipment_id", v.EquipmentID),
					zap.String("metric_name", v.MetricName),
					zap.Error(err),
				)
				continue
			}
			created++
		}
	}

	if created > 0 {
		s.logger.Info("threshold sweep created alerts", zap.Int("alert_count", created))
	}
	return nil
}

// violationMessage 生成阈值超限报警文案，读数带单位时一并输出
func violationMessage(v models.ThresholdViolation) string {
	if v.MetricUnit != "" {
		return fmt.Sprintf("%s reading %.2f %s exceeds threshold %.2f", v.MetricName, v.MetricValue, v.MetricUnit, v.Threshold)
	}
	return fmt.Sprintf("%s reading %.2f exceeds threshold %.2f", v.MetricName, v.MetricValue, v.Threshold)
}

// anomalySweep 对所有在役设备的各项指标做异常检测并落报警
//
// info 级别的异常只检测不报警。
func (s *Service) anomalySweep(ctx context.Context) error {
	equipment, err := s.equipment.ListActiveEquipment(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active equipment: %w", err)
	}

	created := 0
	for _, eq := range equipment {
		for _, metricName := range models.MetricsForType(eq.Type) {
			select {
			case <-ctx.Done():
				return nil
			default:
			}

			anomalies, err := s.engine.DetectAnomalies(ctx, eq.ID, metricName, 0)
			if err != nil {
				s.logger.Error("anomaly detection failed",
					zap.String("equipment_id", eq.ID),
					zap.String("metric_name", metricName),
					zap.Error(err),
				)
				continue
			}

			for _, a := range anomalies {
				if a.Severity == models.AlertSeverityInfo {
					continue
				}
				if !s.shouldAlert(ctx, a.EquipmentID, models.AlertTypeAnomalyDetected, a.MetricName) {
					continue
				}

				name := a.MetricName
				value := a.Value
				alert := &models.Alert{
					EquipmentID: a.EquipmentID,
					AlertType:   models.AlertTypeAnomalyDetected,
					MetricName:  &name,
					MetricValue: &value,
					Severity:    a.Severity,
					Message:     fmt.Sprintf("anomalous %s reading %.2f (score %.3f)", a.MetricName, a.Value, a.Score),
					TriggeredAt: a.Time,
				}
				if err := s.createAlert(ctx, alert); err != nil {
					s.logger.Error("failed to create anomaly alert",
						zap.String("equipment_id", a.EquipmentID),
						zap.String("metric_name", a.MetricName),
						zap.Error(err),
					)
					continue
				}
				created++
			}
		}
	}

	if created > 0 {
		s.logger.Info("anomaly sweep created alerts", zap.Int("alert_count", created))
	}
	return nil
}

// healthSweep 评估所有在役设备的维护风险与校准状态并落报警
func (s *Service) healthSweep(ctx context.Context) error {
	equipment, err := s.equipment.ListActiveEquipment(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active equipment: %w", err)
	}

	now := time.Now().UTC()
	for _, eq := range equipment {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		risk, err := s.engine.PredictMaintenance(ctx, eq.ID)
		if err != nil {
			s.logger.Error("maintenance prediction failed",
				zap.String("equipment_id", eq.ID),
				zap.Error(err),
			)
			continue
		}

		if risk.RiskLevel == models.RiskLevelHigh {
			s.raiseHealthAlert(ctx, &models.Alert{
				EquipmentID: eq.ID,
				AlertType:   models.AlertTypeMaintenanceRequired,
				Severity:    models.AlertSeverityWarning,
				Message:     fmt.Sprintf("maintenance risk score %d: %s", risk.RiskScore, risk.Recommendation),
				TriggeredAt: now,
			})
		}

		s.checkCalibration(ctx, &eq, now)
	}

	return nil
}

// checkCalibration 按注册表声明的下次校准时间检查校准状态
//
// 未声明 next_calibration_due 时按上次校准时间加固定周期推算；
// 两者都缺失视为从未校准。
func (s *Service) checkCalibration(ctx context.Context, eq *models.Equipment, now time.Time) {
	var dueAt *time.Time
	switch {
	case eq.NextCalibrationDue != nil:
		dueAt = eq.NextCalibrationDue
	case eq.LastCalibrationAt != nil:
		t := eq.LastCalibrationAt.AddDate(0, 0, calibrationIntervalDays)
		dueAt = &t
	}

	switch {
	case dueAt == nil:
		s.raiseHealthAlert(ctx, &models.Alert{
			EquipmentID: eq.ID,
			AlertType:   models.AlertTypeCalibrationOverdue,
			Severity:    models.AlertSeverityCritical,
			Message:     "equipment has never been calibrated",
			TriggeredAt: now,
		})
	case now.After(*dueAt):
		s.raiseHealthAlert(ctx, &models.Alert{
			EquipmentID: eq.ID,
			AlertType:   models.AlertTypeCalibrationOverdue,
			Severity:    models.AlertSeverityCritical,
			Message:     fmt.Sprintf("calibration overdue by %d days", int(now.Sub(*dueAt).Hours()/24)),
			TriggeredAt: now,
		})
	case int(dueAt.Sub(now).Hours()/24) <= calibrationDueSoonDays:
		s.raiseHealthAlert(ctx, &models.Alert{
			EquipmentID: eq.ID,
			AlertType:   models.AlertTypeCalibrationDueSoon,
			Severity:    models.AlertSeverityInfo,
			Message:     fmt.Sprintf("calibration due in %d days", int(dueAt.Sub(now).Hours()/24)),
			TriggeredAt: now,
		})
	}
}

// raiseHealthAlert 经过冷却检查后写入健康类报警
func (s *Service) raiseHealthAlert(ctx context.Context, alert *models.Alert) {
	if !s.shouldAlert(ctx, alert.EquipmentID, alert.AlertType, "") {
		return
	}
	if err := s.createAlert(ctx, alert); err != nil {
		s.logger.Error("failed to create health alert",
			zap.String("equipment_id", alert.EquipmentID),
			zap.String("alert_type", alert.AlertType),
			zap.Error(err),
		)
	}
}

// cleanupSweep 删除超过保留期的读数
func (s *Service) cleanupSweep(ctx context.Context) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.config.Retention.Days)

	deleted, err := s.readings.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to delete expired readings: %w", err)
	}

	if deleted > 0 {
		s.logger.Info("cleanup sweep deleted expired readings",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff),
		)
	}
	return nil
}

// createAlert 写入报警并更新指标
func (s *Service) createAlert(ctx context.Context, alert *models.Alert) error {
	if err := s.alerts.CreateAlert(ctx, alert); err != nil {
		return err
	}
	metrics.AlertsCreated.WithLabelValues(alert.AlertType).Inc()
	return nil
}

// shouldAlert 检查并占用冷却窗口
//
// 同一 {设备, 报警类型, 指标} 在冷却期内只产生一条报警；
// Redis 不可用时放行，报警仍然写入。
func (s *Service) shouldAlert(ctx context.Context, equipmentID, alertType, metricName string) bool {
	ok, err := s.redisClient.SetNX(ctx, cooldownKey(equipmentID, alertType, metricName), "1", s.config.Sweeps.AlertCooldown).Result()
	if err != nil {
		s.logger.Warn("alert cooldown check failed",
			zap.String("equipment_id", equipmentID),
			zap.String("alert_type", alertType),
			zap.Error(err),
		)
		return true
	}
	return ok
}

func cooldownKey(equipmentID, alertType, metricName string) string {
	if metricName == "" {
		metricName = "-"
	}
	return cooldownKeyPrefix + equipmentID + ":" + alertType + ":" + metricName
}
