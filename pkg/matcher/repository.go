package matcher

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/vitalis-health/sentinel/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("pattern match not found")

type matchModel struct {
	ID              uuid.UUID      `gorm:"primaryKey;column:id"`
	PatternID       uuid.UUID      `gorm:"column:pattern_id;index"`
	PatternName     string         `gorm:"column:pattern_name"`
	PatientID       string         `gorm:"column:patient_id;index"`
	ConfidenceScore float64        `gorm:"column:confidence_score"`
	MatchingData    datatypes.JSON `gorm:"column:matching_data"`
	DetectedAt      time.Time      `gorm:"column:detected_at"`
	IsNotified      bool           `gorm:"column:is_notified"`
	NotifiedAt      *time.Time     `gorm:"column:notified_at"`
}

func (matchModel) TableName() string {
	return "pattern_matches"
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&matchModel{})
}

func (r *Repository) Create(ctx context.Context, match *models.PatternMatch) error {
	dataJSON, err := json.Marshal(match.MatchingData)
	if err != nil {
		return err
	}
	model := &matchModel{
		ID:              match.ID,
		PatternID:       match.PatternID,
		PatternName:     match.PatternName,
		PatientID:       match.PatientID,
		ConfidenceScore: match.ConfidenceScore,
		MatchingData:    datatypes.JSON(dataJSON),
		DetectedAt:      match.DetectedAt,
	}
	return r.db.WithContext(ctx).Create(model).Error
}

// ListByPatient returns a patient's match history, newest first.
func (r *Repository) ListByPatient(ctx context.Context, patientID string, limit int) ([]models.PatternMatch, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []matchModel
	err := r.db.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("detected_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	matches := make([]models.PatternMatch, 0, len(rows))
	for i := range rows {
		matches = append(matches, matchToDomain(&rows[i]))
	}
	return matches, nil
}

// PendingNotification lists matches an external notifier has not delivered,
// oldest first.
func (r *Repository) PendingNotification(ctx context.Context) ([]models.PatternMatch, error) {
	var rows []matchModel
	err := r.db.WithContext(ctx).
		Where("is_notified = ?", false).
		Order("detected_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	matches := make([]models.PatternMatch, 0, len(rows))
	for i := range rows {
		matches = append(matches, matchToDomain(&rows[i]))
	}
	return matches, nil
}

func (r *Repository) MarkNotified(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Model(&matchModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_notified": true,
			"notified_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func matchToDomain(model *matchModel) models.PatternMatch {
	data := map[string]interface{}{}
	if len(model.MatchingData) > 0 {
		_ = json.Unmarshal(model.MatchingData, &data)
	}
	return models.PatternMatch{
		ID:              model.ID,
		PatternID:       model.PatternID,
		PatternName:     model.PatternName,
		PatientID:       model.PatientID,
		ConfidenceScore: model.ConfidenceScore,
		MatchingData:    data,
		DetectedAt:      model.DetectedAt,
		IsNotified:      model.IsNotified,
		NotifiedAt:      model.NotifiedAt,
	}
}
