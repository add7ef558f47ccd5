package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"safetysync-analytics/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupQualityMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *QualityMetricRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewQualityMetricRepository(db, logger)

	return db, mock, repo
}

func TestInsertBatchMetric(t *testing.T) {
	db, mock, repo := setupQualityMockDB(t)
	defer db.Close()

	m := &models.QualityMetric{
		PipelineStage:    "ingestion",
		TotalReceived:    100,
		TotalInserted:    90,
		InvalidCount:     6,
		DuplicateCount:   4,
		LateArrivalCount: 2,
		DuplicateRate:    0.04,
		InvalidRate:      0.06,
		ProcessingTimeMS: 37,
	}

	mock.ExpectQuery(`INSERT INTO quality_metrics`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	err := repo.InsertBatchMetric(context.Background(), m)

	require.NoError(t, err)
	assert.Equal(t, int64(7), m.ID)
	assert.False(t, m.BatchTime.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSummarizeSince(t *testing.T) {
	db, mock, repo := setupQualityMockDB(t)
	defer db.Close()

	since := time.Now().Add(-24 * time.Hour)
	rows := sqlmock.NewRows([]string{"count", "received", "inserted", "invalid", "duplicate", "late", "avg_ms"}).
		AddRow(10, 1000, 920, 50, 30, 12, 41.5)

	mock.ExpectQuery(`FROM quality_metrics`).
		WithArgs(since).
		WillReturnRows(rows)

	summary, err := repo.SummarizeSince(context.Background(), since)

	require.NoError(t, err)
	assert.Equal(t, int64(10), summary.BatchCount)
	assert.Equal(t, int64(1000), summary.TotalReceived)
	assert.InDelta(t, 0.03, summary.DuplicateRate, 1e-9)
	assert.InDelta(t, 0.05, summary.InvalidRate, 1e-9)
	assert.InDelta(t, 41.5, summary.AvgProcessingMS, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSummarizeSince_NoBatches(t *testing.T) {
	db, mock, repo := setupQualityMockDB(t)
	defer db.Close()

	since := time.Now().Add(-24 * time.Hour)
	rows := sqlmock.NewRows([]string{"count", "received", "inserted", "invalid", "duplicate", "late", "avg_ms"}).
		AddRow(0, 0, 0, 0, 0, 0, 0.0)

	mock.ExpectQuery(`FROM quality_metrics`).
		WithArgs(since).
		WillReturnRows(rows)

	summary, err := repo.SummarizeSince(context.Background(), since)

	require.NoError(t, err)
	assert.Equal(t, int64(0), summary.BatchCount)
	assert.Equal(t, 0.0, summary.DuplicateRate)
	assert.Equal(t, 0.0, summary.InvalidRate)
	assert.NoError(t, mock.ExpectationsWereMet())
}
