package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"safetysync-analytics/internal/config"
	"safetysync-analytics/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeQualityReader struct {
	summary *models.QualitySummary
	err     error
	since   time.Time
}

func (q *fakeQualityReader) SummarizeSince(ctx context.Context, since time.Time) (*models.QualitySummary, error) {
	q.since = since
	if q.err != nil {
		return nil, q.err
	}
	return q.summary, nil
}

func setupServer(t *testing.T, quality QualityReader) (*Server, sqlmock.Sqlmock, *miniredis.Miniredis) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := &config.Config{}
	cfg.HTTP.Addr = ":0"

	return NewServer(cfg, db, client, quality, zap.NewNop()), mock, mr
}

func doRequest(s *Server, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth_Healthy(t *testing.T) {
	s, mock, _ := setupServer(t, &fakeQualityReader{})
	mock.ExpectPing()

	rec := doRequest(s, http.MethodGet, "/healthz")

	require.Equal(t, http.StatusOK, rec.Code)

	var status healthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "connected", status.Database)
	assert.Equal(t, "connected", status.Redis)
}

func TestHandleHealth_DatabaseDown(t *testing.T) {
	s, mock, _ := setupServer(t, &fakeQualityReader{})
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	rec := doRequest(s, http.MethodGet, "/healthz")

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var status healthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "degraded", status.Status)
	assert.Equal(t, "disconnected", status.Database)
	assert.Equal(t, "connected", status.Redis)
}

func TestHandleHealth_RedisDown(t *testing.T) {
	s, mock, mr := setupServer(t, &fakeQualityReader{})
	mock.ExpectPing()
	mr.Close()

	rec := doRequest(s, http.MethodGet, "/healthz")

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var status healthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "degraded", status.Status)
	assert.Equal(t, "disconnected", status.Redis)
}

func TestHandleIngestionStats_DefaultWindow(t *testing.T) {
	quality := &fakeQualityReader{summary: &models.QualitySummary{
		BatchCount:    10,
		TotalReceived: 1000,
		TotalInserted: 950,
		DuplicateRate: 0.03,
		InvalidRate:   0.02,
	}}
	s, _, _ := setupServer(t, quality)

	rec := doRequest(s, http.MethodGet, "/stats/ingestion")

	require.Equal(t, http.StatusOK, rec.Code)

	// Default window is 24 hours
	window := time.Since(quality.since)
	assert.InDelta(t, float64(24*time.Hour), float64(window), float64(time.Minute))

	var summary models.QualitySummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, int64(10), summary.BatchCount)
	assert.Equal(t, int64(1000), summary.TotalReceived)
	assert.Equal(t, 0.03, summary.DuplicateRate)
}

func TestHandleIngestionStats_CustomWindow(t *testing.T) {
	quality := &fakeQualityReader{summary: &models.QualitySummary{}}
	s, _, _ := setupServer(t, quality)

	rec := doRequest(s, http.MethodGet, "/stats/ingestion?hours=6")

	require.Equal(t, http.StatusOK, rec.Code)
	window := time.Since(quality.since)
	assert.InDelta(t, float64(6*time.Hour), float64(window), float64(time.Minute))
}

func TestHandleIngestionStats_InvalidHours(t *testing.T) {
	s, _, _ := setupServer(t, &fakeQualityReader{summary: &models.QualitySummary{}})

	for _, target := range []string{
		"/stats/ingestion?hours=0",
		"/stats/ingestion?hours=-5",
		"/stats/ingestion?hours=abc",
		"/stats/ingestion?hours=100000",
	} {
		rec := doRequest(s, http.MethodGet, target)
		assert.Equalf(t, http.StatusBadRequest, rec.Code, "target %s", target)
	}
}

func TestHandleIngestionStats_QueryError(t *testing.T) {
	s, _, _ := setupServer(t, &fakeQualityReader{err: errors.New("db down")})

	rec := doRequest(s, http.MethodGet, "/stats/ingestion")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "failed to load ingestion stats")
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, _ := setupServer(t, &fakeQualityReader{})

	rec := doRequest(s, http.MethodGet, "/metrics")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "safetysync_readings_received_total")
}
