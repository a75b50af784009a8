package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vitalis-health/sentinel/pkg/common/logger"
	"github.com/vitalis-health/sentinel/pkg/common/models"
)

// CachedSource fronts a Source with a per-patient snapshot cache. Cohort and
// history loads pass through: they are bulk scans and would only churn the
// cache.
type CachedSource struct {
	inner Source
	redis *redis.Client
	ttl   time.Duration
}

func NewCachedSource(inner Source, client *redis.Client, ttl time.Duration) *CachedSource {
	return &CachedSource{inner: inner, redis: client, ttl: ttl}
}

func snapshotKey(patientID string) string {
	return fmt.Sprintf("snapshot:%s", patientID)
}

func (c *CachedSource) GetSnapshot(ctx context.Context, patientID string) (models.ClinicalSnapshot, error) {
	key := snapshotKey(patientID)
	if data, err := c.redis.Get(ctx, key).Bytes(); err == nil {
		var snapshot models.ClinicalSnapshot
		if err := json.Unmarshal(data, &snapshot); err == nil {
			return snapshot, nil
		}
		// Unreadable cache entry: fall through to the source.
		c.redis.Del(ctx, key)
	}

	snapshot, err := c.inner.GetSnapshot(ctx, patientID)
	if err != nil {
		return models.ClinicalSnapshot{}, err
	}

	if data, err := json.Marshal(snapshot); err == nil {
		if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
			logger.Log.WithError(err).WithField("patient_id", patientID).Debug("snapshot cache write failed")
		}
	}
	return snapshot, nil
}

func (c *CachedSource) GetCohortSnapshots(ctx context.Context, patientIDs []string) ([]models.ClinicalSnapshot, error) {
	return c.inner.GetCohortSnapshots(ctx, patientIDs)
}

func (c *CachedSource) GetVisitHistory(ctx context.Context, from, to time.Time) ([]models.VisitRecord, error) {
	return c.inner.GetVisitHistory(ctx, from, to)
}
