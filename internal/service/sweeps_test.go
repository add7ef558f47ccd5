package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"safetysync-analytics/internal/config"
	"safetysync-analytics/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeEquipmentLister struct {
	equipment []models.Equipment
	err       error
}

func (f *fakeEquipmentLister) ListActiveEquipment(ctx context.Context) ([]models.Equipment, error) {
	return f.equipment, f.err
}

type fakeAlertWriter struct {
	mu     sync.Mutex
	alerts []*models.Alert
	err    error
}

func (f *fakeAlertWriter) CreateAlert(ctx context.Context, alert *models.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.alerts = append(f.alerts, alert)
	return nil
}

func (f *fakeAlertWriter) byType(alertType string) []*models.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Alert
	for _, a := range f.alerts {
		if a.AlertType == alertType {
			out = append(out, a)
		}
	}
	return out
}

type fakeJanitor struct {
	deleted int64
	err     error
	cutoff  time.Time
}

func (f *fakeJanitor) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.deleted, f.err
}

type fakeSweepEngine struct {
	mu              sync.Mutex
	violations      map[string][]models.ThresholdViolation
	anomalies       map[string][]models.Anomaly
	risks           map[string]*models.MaintenanceRisk
	thresholdErr    error
	anomalyErr      error
	riskErr         error
	anomalyRequests []string
}

func (e *fakeSweepEngine) CheckThresholds(ctx context.Context, equipmentID string, lookbackMinutes int) ([]models.ThresholdViolation, error) {
	if e.thresholdErr != nil {
		return nil, e.thresholdErr
	}
	return e.violations[equipmentID], nil
}

func (e *fakeSweepEngine) DetectAnomalies(ctx context.Context, equipmentID, metricName string, lookbackHours int) ([]models.Anomaly, error) {
	e.mu.Lock()
	e.anomalyRequests = append(e.anomalyRequests, equipmentID+"/"+metricName)
	e.mu.Unlock()
	if e.anomalyErr != nil {
		return nil, e.anomalyErr
	}
	return e.anomalies[equipmentID+"/"+metricName], nil
}

func (e *fakeSweepEngine) PredictMaintenance(ctx context.Context, equipmentID string) (*models.MaintenanceRisk, error) {
	if e.riskErr != nil {
		return nil, e.riskErr
	}
	if risk, ok := e.risks[equipmentID]; ok {
		return risk, nil
	}
	return &models.MaintenanceRisk{RiskLevel: models.RiskLevelLow, DaysSinceCalibration: 30}, nil
}

func testServiceConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Sweeps.AlertCooldown = 30 * time.Minute
	cfg.Retention.Days = 90
	return cfg
}

func setupService(t *testing.T, lister EquipmentLister, alerts AlertWriter, janitor ReadingJanitor, engine AnalyticsEngine) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	svc := NewService(testServiceConfig(), nil, client, lister, alerts, janitor, engine, nil, nil, nil, zap.NewNop())
	return svc, mr
}

func activeGasDetector(id string) models.Equipment {
	return models.Equipment{
		ID:     id,
		Name:   "detector " + id,
		Type:   models.EquipmentTypeGasDetector,
		Status: models.EquipmentStatusActive,
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func calibratedGasDetector(id string, lastCalibration time.Time) models.Equipment {
	eq := activeGasDetector(id)
	eq.LastCalibrationAt = timePtr(lastCalibration)
	return eq
}

func TestThresholdSweep_CreatesAlertWithCooldown(t *testing.T) {
	now := time.Now().UTC()
	lister := &fakeEquipmentLister{equipment: []models.Equipment{activeGasDetector("eq-001")}}
	engine := &fakeSweepEngine{violations: map[string][]models.ThresholdViolation{
		"eq-001": {
			{EquipmentID: "eq-001", MetricName: "gas_concentration", MetricValue: 25, MetricUnit: "ppm", Threshold: 10, Severity: models.AlertSeverityEmergency, Time: now},
			{EquipmentID: "eq-001", MetricName: "gas_concentration", MetricValue: 18, MetricUnit: "ppm", Threshold: 10, Severity: models.AlertSeverityCritical, Time: now.Add(-time.Minute)},
		},
	}}
	alerts := &fakeAlertWriter{}
	svc, mr := setupService(t, lister, alerts, &fakeJanitor{}, engine)

	require.NoError(t, svc.thresholdSweep(context.Background()))

	// Same metric within the cooldown window collapses into one alert
	require.Len(t, alerts.alerts, 1)
	alert := alerts.alerts[0]
	assert.Equal(t, "eq-001", alert.EquipmentID)
	assert.Equal(t, models.AlertTypeThresholdExceeded, alert.AlertType)
	require.NotNil(t, alert.MetricName)
	assert.Equal(t, "gas_concentration", *alert.MetricName)
	assert.Equal(t, 25.0, *alert.MetricValue)
	assert.Equal(t, 10.0, *alert.Threshold)
	assert.Equal(t, models.AlertSeverityEmergency, alert.Severity)
	assert.Equal(t, "gas_concentration reading 25.00 ppm exceeds threshold 10.00", alert.Message)

	key := cooldownKey("eq-001", models.AlertTypeThresholdExceeded, "gas_concentration")
	assert.Equal(t, 30*time.Minute, mr.TTL(key))

	// A second sweep inside the cooldown creates nothing new
	require.NoError(t, svc.thresholdSweep(context.Background()))
	assert.Len(t, alerts.alerts, 1)
}

func TestThresholdSweep_SeparateCooldownPerMetric(t *testing.T) {
	now := time.Now().UTC()
	lister := &fakeEquipmentLister{equipment: []models.Equipment{activeGasDetector("eq-001")}}
	engine := &fakeSweepEngine{violations: map[string][]models.ThresholdViolation{
		"eq-001": {
			{EquipmentID: "eq-001", MetricName: "gas_concentration", MetricValue: 25, Threshold: 10, Severity: models.AlertSeverityEmergency, Time: now},
			{EquipmentID: "eq-001", MetricName: "temperature", MetricValue: 80, Threshold: 60, Severity: models.AlertSeverityWarning, Time: now},
		},
	}}
	alerts := &fakeAlertWriter{}
	svc, _ := setupService(t, lister, alerts, &fakeJanitor{}, engine)

	require.NoError(t, svc.thresholdSweep(context.Background()))

	require.Len(t, alerts.alerts, 2)
	// No unit recorded, message omits it
	assert.Equal(t, "gas_concentration reading 25.00 exceeds threshold 10.00", alerts.alerts[0].Message)
}

func TestThresholdSweep_ListFailure(t *testing.T) {
	lister := &fakeEquipmentLister{err: errors.New("db down")}
	svc, _ := setupService(t, lister, &fakeAlertWriter{}, &fakeJanitor{}, &fakeSweepEngine{})

	err := svc.thresholdSweep(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list active equipment")
}

func TestAnomalySweep_SkipsInfoSeverity(t *testing.T) {
	now := time.Now().UTC()
	tracker := models.Equipment{ID: "eq-002", Type: models.EquipmentTypeLocationTracker, Status: models.EquipmentStatusActive}
	lister := &fakeEquipmentLister{equipment: []models.Equipment{tracker}}
	engine := &fakeSweepEngine{anomalies: map[string][]models.Anomaly{
		"eq-002/battery_level": {
			{EquipmentID: "eq-002", MetricName: "battery_level", Time: now, Value: 3, Score: -0.1, Severity: models.AlertSeverityInfo},
			{EquipmentID: "eq-002", MetricName: "battery_level", Time: now, Value: 2, Score: -0.4, Severity: models.AlertSeverityWarning},
			{EquipmentID: "eq-002", MetricName: "battery_level", Time: now, Value: 1, Score: -0.6, Severity: models.AlertSeverityCritical},
		},
	}}
	alerts := &fakeAlertWriter{}
	svc, _ := setupService(t, lister, alerts, &fakeJanitor{}, engine)

	require.NoError(t, svc.anomalySweep(context.Background()))

	// info is never alerted; warning fires first and critical is suppressed
	// by the per-metric cooldown
	require.Len(t, alerts.alerts, 1)
	assert.Equal(t, models.AlertTypeAnomalyDetected, alerts.alerts[0].AlertType)
	assert.Equal(t, models.AlertSeverityWarning, alerts.alerts[0].Severity)
	assert.Contains(t, alerts.alerts[0].Message, "anomalous battery_level")
}

func TestAnomalySweep_CoversAllMetricsForType(t *testing.T) {
	lister := &fakeEquipmentLister{equipment: []models.Equipment{activeGasDetector("eq-001")}}
	engine := &fakeSweepEngine{}
	svc, _ := setupService(t, lister, &fakeAlertWriter{}, &fakeJanitor{}, engine)

	require.NoError(t, svc.anomalySweep(context.Background()))

	assert.Equal(t, []string{
		"eq-001/gas_concentration",
		"eq-001/temperature",
		"eq-001/humidity",
		"eq-001/battery_level",
	}, engine.anomalyRequests)
}

func TestHealthSweep_HighRiskAndNeverCalibrated(t *testing.T) {
	lister := &fakeEquipmentLister{equipment: []models.Equipment{activeGasDetector("eq-001")}}
	engine := &fakeSweepEngine{risks: map[string]*models.MaintenanceRisk{
		"eq-001": {
			EquipmentID:          "eq-001",
			RiskScore:            90,
			RiskLevel:            models.RiskLevelHigh,
			DaysSinceCalibration: -1,
			Recommendation:       "Schedule maintenance within 1 week",
		},
	}}
	alerts := &fakeAlertWriter{}
	svc, _ := setupService(t, lister, alerts, &fakeJanitor{}, engine)

	require.NoError(t, svc.healthSweep(context.Background()))

	maintenance := alerts.byType(models.AlertTypeMaintenanceRequired)
	require.Len(t, maintenance, 1)
	assert.Equal(t, models.AlertSeverityWarning, maintenance[0].Severity)
	assert.Contains(t, maintenance[0].Message, "risk score 90")

	overdue := alerts.byType(models.AlertTypeCalibrationOverdue)
	require.Len(t, overdue, 1)
	assert.Equal(t, models.AlertSeverityCritical, overdue[0].Severity)
	assert.Contains(t, overdue[0].Message, "never been calibrated")
}

func TestHealthSweep_CalibrationDueSoon(t *testing.T) {
	eq := activeGasDetector("eq-001")
	eq.NextCalibrationDue = timePtr(time.Now().UTC().Add(5*24*time.Hour + 12*time.Hour))
	lister := &fakeEquipmentLister{equipment: []models.Equipment{eq}}
	engine := &fakeSweepEngine{risks: map[string]*models.MaintenanceRisk{
		"eq-001": {
			EquipmentID:          "eq-001",
			RiskLevel:            models.RiskLevelLow,
			DaysSinceCalibration: 175,
		},
	}}
	alerts := &fakeAlertWriter{}
	svc, _ := setupService(t, lister, alerts, &fakeJanitor{}, engine)

	require.NoError(t, svc.healthSweep(context.Background()))

	require.Len(t, alerts.alerts, 1)
	assert.Equal(t, models.AlertTypeCalibrationDueSoon, alerts.alerts[0].AlertType)
	assert.Equal(t, models.AlertSeverityInfo, alerts.alerts[0].Severity)
	assert.Contains(t, alerts.alerts[0].Message, "due in 5 days")
}

func TestHealthSweep_CalibrationOverdueFromLastCalibration(t *testing.T) {
	// No declared due date, overdue inferred from the calibration interval
	eq := calibratedGasDetector("eq-001", time.Now().UTC().Add(-190*24*time.Hour))
	lister := &fakeEquipmentLister{equipment: []models.Equipment{eq}}
	engine := &fakeSweepEngine{risks: map[string]*models.MaintenanceRisk{
		"eq-001": {
			EquipmentID:          "eq-001",
			RiskLevel:            models.RiskLevelLow,
			DaysSinceCalibration: 190,
		},
	}}
	alerts := &fakeAlertWriter{}
	svc, _ := setupService(t, lister, alerts, &fakeJanitor{}, engine)

	require.NoError(t, svc.healthSweep(context.Background()))

	require.Len(t, alerts.alerts, 1)
	assert.Equal(t, models.AlertTypeCalibrationOverdue, alerts.alerts[0].AlertType)
	assert.Equal(t, models.AlertSeverityCritical, alerts.alerts[0].Severity)
	assert.Contains(t, alerts.alerts[0].Message, "overdue by 10 days")
}

func TestHealthSweep_HealthyEquipmentQuiet(t *testing.T) {
	eq := calibratedGasDetector("eq-001", time.Now().UTC().Add(-30*24*time.Hour))
	lister := &fakeEquipmentLister{equipment: []models.Equipment{eq}}
	engine := &fakeSweepEngine{risks: map[string]*models.MaintenanceRisk{
		"eq-001": {
			EquipmentID:          "eq-001",
			RiskLevel:            models.RiskLevelLow,
			DaysSinceCalibration: 30,
		},
	}}
	alerts := &fakeAlertWriter{}
	svc, _ := setupService(t, lister, alerts, &fakeJanitor{}, engine)

	require.NoError(t, svc.healthSweep(context.Background()))

	assert.Empty(t, alerts.alerts)
}

func TestHealthSweep_CooldownSuppressesRepeat(t *testing.T) {
	eq := calibratedGasDetector("eq-001", time.Now().UTC().Add(-30*24*time.Hour))
	lister := &fakeEquipmentLister{equipment: []models.Equipment{eq}}
	engine := &fakeSweepEngine{risks: map[string]*models.MaintenanceRisk{
		"eq-001": {EquipmentID: "eq-001", RiskLevel: models.RiskLevelHigh, RiskScore: 80, DaysSinceCalibration: 30},
	}}
	alerts := &fakeAlertWriter{}
	svc, _ := setupService(t, lister, alerts, &fakeJanitor{}, engine)

	require.NoError(t, svc.healthSweep(context.Background()))
	require.NoError(t, svc.healthSweep(context.Background()))

	assert.Len(t, alerts.alerts, 1)
}

func TestCleanupSweep(t *testing.T) {
	janitor := &fakeJanitor{deleted: 42}
	svc, _ := setupService(t, &fakeEquipmentLister{}, &fakeAlertWriter{}, janitor, &fakeSweepEngine{})

	require.NoError(t, svc.cleanupSweep(context.Background()))

	// Retention window is 90 days
	wantCutoff := time.Now().UTC().AddDate(0, 0, -90)
	assert.WithinDuration(t, wantCutoff, janitor.cutoff, time.Minute)
}

func TestCleanupSweep_Failure(t *testing.T) {
	janitor := &fakeJanitor{err: errors.New("disk failure")}
	svc, _ := setupService(t, &fakeEquipmentLister{}, &fakeAlertWriter{}, janitor, &fakeSweepEngine{})

	err := svc.cleanupSweep(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to delete expired readings")
}

func TestShouldAlert_FailsOpenWhenRedisDown(t *testing.T) {
	svc, mr := setupService(t, &fakeEquipmentLister{}, &fakeAlertWriter{}, &fakeJanitor{}, &fakeSweepEngine{})
	mr.Close()

	assert.True(t, svc.shouldAlert(context.Background(), "eq-001", models.AlertTypeThresholdExceeded, "temperature"))
}

func TestCooldownKey(t *testing.T) {
	assert.Equal(t,
		"safetysync:alert:cooldown:eq-001:threshold_exceeded:gas_concentration",
		cooldownKey("eq-001", models.AlertTypeThresholdExceeded, "gas_concentration"))

	// Health alerts have no metric
	assert.Equal(t,
		"safetysync:alert:cooldown:eq-001:calibration_overdue:-",
		cooldownKey("eq-001", models.AlertTypeCalibrationOverdue, ""))
}
