package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/vitalis-health/sentinel/pkg/common/logger"
	"github.com/vitalis-health/sentinel/pkg/common/models"
	"github.com/vitalis-health/sentinel/pkg/condition"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("pattern not found")

type patternModel struct {
	ID                  uuid.UUID      `gorm:"primaryKey;column:id"`
	Name                string         `gorm:"column:name;uniqueIndex"`
	Description         string         `gorm:"column:description"`
	TriggerCondition    datatypes.JSON `gorm:"column:trigger_condition"`
	OutcomeCondition    datatypes.JSON `gorm:"column:outcome_condition"`
	MinimumCases        int            `gorm:"column:minimum_cases"`
	ConfidenceThreshold float64        `gorm:"column:confidence_threshold"`
	IsActive            bool           `gorm:"column:is_active"`
	CreatedAt           time.Time      `gorm:"column:created_at"`
	UpdatedAt           time.Time      `gorm:"column:updated_at"`
}

func (patternModel) TableName() string {
	return "medical_patterns"
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&patternModel{})
}

func (r *Repository) Create(ctx context.Context, pattern *models.MedicalPattern) error {
	model, err := toModel(pattern)
	if err != nil {
		return err
	}
	model.CreatedAt = time.Now().UTC()
	model.UpdatedAt = model.CreatedAt
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	pattern.CreatedAt = model.CreatedAt
	pattern.UpdatedAt = model.UpdatedAt
	return nil
}

func (r *Repository) Update(ctx context.Context, pattern *models.MedicalPattern) error {
	model, err := toModel(pattern)
	if err != nil {
		return err
	}
	updates := map[string]interface{}{
		"name":                 model.Name,
		"description":          model.Description,
		"trigger_condition":    model.TriggerCondition,
		"outcome_condition":    model.OutcomeCondition,
		"minimum_cases":        model.MinimumCases,
		"confidence_threshold": model.ConfidenceThreshold,
		"is_active":            model.IsActive,
		"updated_at":           time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Model(&patternModel{}).
		Where("id = ?", pattern.ID).
		Updates(updates).Error
}

// Deactivate soft-disables a pattern. Patterns are never deleted.
func (r *Repository) Deactivate(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Model(&patternModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_active":  false,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (models.MedicalPattern, error) {
	var model patternModel
	result := r.db.WithContext(ctx).First(&model, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return models.MedicalPattern{}, ErrNotFound
	}
	if result.Error != nil {
		return models.MedicalPattern{}, result.Error
	}
	return toDomain(&model)
}

func (r *Repository) GetByName(ctx context.Context, name string) (models.MedicalPattern, error) {
	var model patternModel
	result := r.db.WithContext(ctx).First(&model, "name = ?", name)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return models.MedicalPattern{}, ErrNotFound
	}
	if result.Error != nil {
		return models.MedicalPattern{}, result.Error
	}
	return toDomain(&model)
}

func (r *Repository) List(ctx context.Context, activeOnly bool) ([]models.MedicalPattern, error) {
	query := r.db.WithContext(ctx).Order("created_at ASC")
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	var rows []patternModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return domainsFromRows(rows), nil
}

// domainsFromRows converts stored rows, dropping any whose condition no
// longer parses. A bad row costs that pattern the listing, never the caller;
// a detection run must keep going on the patterns that remain.
func domainsFromRows(rows []patternModel) []models.MedicalPattern {
	patterns := make([]models.MedicalPattern, 0, len(rows))
	for i := range rows {
		pattern, err := toDomain(&rows[i])
		if err != nil {
			logger.Log.WithError(err).WithField("pattern", rows[i].Name).Error("skipping unreadable stored pattern")
			continue
		}
		patterns = append(patterns, pattern)
	}
	return patterns
}

func toModel(pattern *models.MedicalPattern) (*patternModel, error) {
	triggerJSON, err := json.Marshal(pattern.Trigger)
	if err != nil {
		return nil, err
	}
	outcomeJSON, err := json.Marshal(pattern.Outcome)
	if err != nil {
		return nil, err
	}
	return &patternModel{
		ID:                  pattern.ID,
		Name:                pattern.Name,
		Description:         pattern.Description,
		TriggerCondition:    datatypes.JSON(triggerJSON),
		OutcomeCondition:    datatypes.JSON(outcomeJSON),
		MinimumCases:        pattern.MinimumCases,
		ConfidenceThreshold: pattern.ConfidenceThreshold,
		IsActive:            pattern.IsActive,
		CreatedAt:           pattern.CreatedAt,
		UpdatedAt:           pattern.UpdatedAt,
	}, nil
}

func toDomain(model *patternModel) (models.MedicalPattern, error) {
	trigger, err := condition.Parse(model.TriggerCondition)
	if err != nil {
		return models.MedicalPattern{}, err
	}
	outcome, err := condition.Parse(model.OutcomeCondition)
	if err != nil {
		return models.MedicalPattern{}, err
	}
	return models.MedicalPattern{
		ID:                  model.ID,
		Name:                model.Name,
		Description:         model.Description,
		Trigger:             trigger,
		Outcome:             outcome,
		MinimumCases:        model.MinimumCases,
		ConfidenceThreshold: model.ConfidenceThreshold,
		IsActive:            model.IsActive,
		CreatedAt:           model.CreatedAt,
		UpdatedAt:           model.UpdatedAt,
	}, nil
}
