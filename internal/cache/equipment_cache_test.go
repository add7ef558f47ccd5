package cache

import (
	"context"
	"testing"
	"time"

	"safetysync-analytics/internal/models"
	"safetysync-analytics/internal/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeEquipmentSource in-memory equipment source with a call counter
type fakeEquipmentSource struct {
	equipment map[string]*models.Equipment
	calls     int
}

func (f *fakeEquipmentSource) GetEquipment(ctx context.Context, id string) (*models.Equipment, error) {
	f.calls++
	eq, ok := f.equipment[id]
	if !ok {
		return nil, repository.ErrEquipmentNotFound
	}
	return eq, nil
}

func setupEquipmentCache(t *testing.T) (*miniredis.Miniredis, *fakeEquipmentSource, *EquipmentCache) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	source := &fakeEquipmentSource{
		equipment: map[string]*models.Equipment{
			"eq-1": {
				ID:     "eq-1",
				Name:   "Gas detector A",
				Type:   models.EquipmentTypeGasDetector,
				Status: models.EquipmentStatusActive,
			},
		},
	}

	logger := zap.NewNop()
	c := NewEquipmentCache(source, redisClient, 10*time.Minute, logger)

	return mr, source, c
}

func TestEquipmentCache_MissThenHit(t *testing.T) {
	mr, source, c := setupEquipmentCache(t)
	ctx := context.Background()

	// First lookup goes to the source and populates the cache
	eq, err := c.Lookup(ctx, "eq-1")
	require.NoError(t, err)
	assert.Equal(t, "eq-1", eq.ID)
	assert.Equal(t, 1, source.calls)
	assert.True(t, mr.Exists(equipmentKeyPrefix+"eq-1"))

	// Second lookup is served from Redis
	eq, err = c.Lookup(ctx, "eq-1")
	require.NoError(t, err)
	assert.Equal(t, models.EquipmentTypeGasDetector, eq.Type)
	assert.Equal(t, 1, source.calls)
}

func TestEquipmentCache_EntryTTL(t *testing.T) {
	mr, _, c := setupEquipmentCache(t)
	ctx := context.Background()

	_, err := c.Lookup(ctx, "eq-1")
	require.NoError(t, err)

	ttl := mr.TTL(equipmentKeyPrefix + "eq-1")
	assert.Equal(t, 10*time.Minute, ttl)
}

func TestEquipmentCache_NegativeCaching(t *testing.T) {
	mr, source, c := setupEquipmentCache(t)
	ctx := context.Background()

	_, err := c.Lookup(ctx, "unknown")
	assert.ErrorIs(t, err, repository.ErrEquipmentNotFound)
	assert.Equal(t, 1, source.calls)

	// Marker keeps repeated lookups off the database
	val, merr := mr.Get(equipmentKeyPrefix + "unknown")
	require.NoError(t, merr)
	assert.Equal(t, missingMarker, val)

	_, err = c.Lookup(ctx, "unknown")
	assert.ErrorIs(t, err, repository.ErrEquipmentNotFound)
	assert.Equal(t, 1, source.calls)
}

func TestEquipmentCache_CorruptEntryFallsBack(t *testing.T) {
	mr, source, c := setupEquipmentCache(t)
	ctx := context.Background()

	require.NoError(t, mr.Set(equipmentKeyPrefix+"eq-1", "{not json"))

	eq, err := c.Lookup(ctx, "eq-1")
	require.NoError(t, err)
	assert.Equal(t, "eq-1", eq.ID)
	assert.Equal(t, 1, source.calls)
}

func TestEquipmentCache_RedisDownDegradesToSource(t *testing.T) {
	mr, source, c := setupEquipmentCache(t)
	ctx := context.Background()

	mr.Close()

	eq, err := c.Lookup(ctx, "eq-1")
	require.NoError(t, err)
	assert.Equal(t, "eq-1", eq.ID)
	assert.Equal(t, 1, source.calls)
}

func TestEquipmentCache_Invalidate(t *testing.T) {
	mr, source, c := setupEquipmentCache(t)
	ctx := context.Background()

	_, err := c.Lookup(ctx, "eq-1")
	require.NoError(t, err)
	require.True(t, mr.Exists(equipmentKeyPrefix+"eq-1"))

	require.NoError(t, c.Invalidate(ctx, "eq-1"))
	assert.False(t, mr.Exists(equipmentKeyPrefix+"eq-1"))

	// Next lookup goes back to the source
	_, err = c.Lookup(ctx, "eq-1")
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls)
}
