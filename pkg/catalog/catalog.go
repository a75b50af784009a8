package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vitalis-health/sentinel/pkg/common/logger"
	"github.com/vitalis-health/sentinel/pkg/common/models"
)

// Store is what the catalog needs from persistence. The gorm Repository
// satisfies it; tests use an in-memory fake.
type Store interface {
	Create(ctx context.Context, pattern *models.MedicalPattern) error
	Update(ctx context.Context, pattern *models.MedicalPattern) error
	Deactivate(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (models.MedicalPattern, error)
	GetByName(ctx context.Context, name string) (models.MedicalPattern, error)
	List(ctx context.Context, activeOnly bool) ([]models.MedicalPattern, error)
}

type Catalog struct {
	store Store
}

func New(store Store) *Catalog {
	return &Catalog{store: store}
}

// Save validates a pattern definition and creates or updates it. Condition
// trees are validated here so malformed rules never reach a detection run.
func (c *Catalog) Save(ctx context.Context, pattern models.MedicalPattern) (models.MedicalPattern, error) {
	if strings.TrimSpace(pattern.Name) == "" {
		return models.MedicalPattern{}, fmt.Errorf("pattern name is required")
	}
	if err := pattern.Trigger.Validate(); err != nil {
		return models.MedicalPattern{}, fmt.Errorf("trigger condition: %w", err)
	}
	if err := pattern.Outcome.Validate(); err != nil {
		return models.MedicalPattern{}, fmt.Errorf("outcome condition: %w", err)
	}
	if pattern.ConfidenceThreshold < 0 || pattern.ConfidenceThreshold > 1 {
		return models.MedicalPattern{}, fmt.Errorf("confidence threshold out of [0,1]: %.3f", pattern.ConfidenceThreshold)
	}
	if pattern.MinimumCases < 1 {
		return models.MedicalPattern{}, fmt.Errorf("minimum cases must be at least 1")
	}

	if pattern.ID == uuid.Nil {
		pattern.ID = uuid.New()
		if err := c.store.Create(ctx, &pattern); err != nil {
			return models.MedicalPattern{}, err
		}
		return pattern, nil
	}
	if err := c.store.Update(ctx, &pattern); err != nil {
		return models.MedicalPattern{}, err
	}
	return pattern, nil
}

func (c *Catalog) Deactivate(ctx context.Context, id uuid.UUID) error {
	return c.store.Deactivate(ctx, id)
}

func (c *Catalog) Get(ctx context.Context, id uuid.UUID) (models.MedicalPattern, error) {
	return c.store.Get(ctx, id)
}

func (c *Catalog) List(ctx context.Context, activeOnly bool) ([]models.MedicalPattern, error) {
	return c.store.List(ctx, activeOnly)
}

// Snapshot loads the active patterns once for a detection run. The run works
// from this copy, so a catalog edit mid-run cannot change behavior within
// that run.
func (c *Catalog) Snapshot(ctx context.Context) ([]models.MedicalPattern, error) {
	return c.store.List(ctx, true)
}

// Seed inserts seed patterns that do not exist yet. Existing patterns are
// left untouched so administrator edits survive restarts.
func (c *Catalog) Seed(ctx context.Context, seeds []models.MedicalPattern) error {
	for _, seed := range seeds {
		if _, err := c.store.GetByName(ctx, seed.Name); err == nil {
			continue
		}
		seed.ID = uuid.New()
		seed.IsActive = true
		seed.CreatedAt = time.Now().UTC()
		seed.UpdatedAt = seed.CreatedAt
		if _, err := c.Save(ctx, seed); err != nil {
			logger.Log.WithError(err).WithField("pattern", seed.Name).Error("failed to seed pattern")
			return err
		}
		logger.Log.WithField("pattern", seed.Name).Info("seeded pattern")
	}
	return nil
}
