package alerts

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

var ErrNotFound = errors.New("alert not found")

type alertModel struct {
	ID                 uuid.UUID      `gorm:"primaryKey;column:id"`
	PatientID          string         `gorm:"column:patient_id;index:idx_alerts_dedup"`
	PatternMatchID     *uuid.UUID     `gorm:"column:pattern_match_id"`
	AlertType          string         `gorm:"column:alert_type;index:idx_alerts_dedup"`
	Severity           string         `gorm:"column:severity"`
	Message            string         `gorm:"column:message"`
	Description        string         `gorm:"column:description"`
	RecommendedActions datatypes.JSON `gorm:"column:recommended_actions"`
	ConfidenceScore    float64        `gorm:"column:confidence_score"`
	IsRead             bool           `gorm:"column:is_read;index:idx_alerts_dedup"`
	ReadAt             *time.Time     `gorm:"column:read_at"`
	ReadBy             string         `gorm:"column:read_by"`
	IsNotified         bool           `gorm:"column:is_notified;index"`
	NotifiedAt         *time.Time     `gorm:"column:notified_at"`
	CreatedAt          time.Time      `gorm:"column:created_at"`
	UpdatedAt          time.Time      `gorm:"column:updated_at"`
}

func (alertModel) TableName() string {
	return "medical_alerts"
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&alertModel{})
}

func (r *Repository) FindUnread(ctx context.Context, patientID, alertType string) (*models.MedicalAlert, error) {
	var model alertModel
	result := r.db.WithContext(ctx).
		Where("patient_id = ? AND alert_type = ? AND is_read = ?", patientID, alertType, false).
		First(&model)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}
	alert := alertToDomain(&model)
	return &alert, nil
}

func (r *Repository) Create(ctx context.Context, alert *models.MedicalAlert) error {
	actionsJSON, err := json.Marshal(alert.RecommendedActions)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	model := &alertModel{
		ID:                 alert.ID,
		PatientID:          alert.PatientID,
		PatternMatchID:     alert.PatternMatchID,
		AlertType:          alert.AlertType,
		Severity:           string(alert.Severity),
		Message:            alert.Message,
		Description:        alert.Description,
		RecommendedActions: datatypes.JSON(actionsJSON),
		ConfidenceScore:    alert.ConfidenceScore,
		IsNotified:         alert.IsNotified,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	alert.CreatedAt = now
	alert.UpdatedAt = now
	return nil
}

// Refresh updates an unread alert in place. The is_read guard keeps a race
// with acknowledgement from reviving a frozen alert.
func (r *Repository) Refresh(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&alertModel{}).
		Where("id = ? AND is_read = ?", id, false).
		Updates(updates).Error
}

func (r *Repository) Acknowledge(ctx context.Context, id uuid.UUID, readerID string) error {
	result := r.db.WithContext(ctx).Model(&alertModel{}).
		Where("id = ? AND is_read = ?", id, false).
		Updates(map[string]interface{}{
			"is_read":    true,
			"read_at":    time.Now().UTC(),
			"read_by":    readerID,
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

func (r *Repository) PendingNotification(ctx context.Context) ([]models.MedicalAlert, error) {
	var rows []alertModel
	err := r.db.WithContext(ctx).
		Where("is_notified = ?", false).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	result := make([]models.MedicalAlert, 0, len(rows))
	for i := range rows {
		result = append(result, alertToDomain(&rows[i]))
	}
	return result, nil
}

func (r *Repository) MarkNotified(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Model(&alertModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_notified": true,
			"notified_at": time.Now().UTC(),
			"updated_at":  time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByPatient returns a patient's alerts, newest first.
func (r *Repository) ListByPatient(ctx context.Context, patientID string, limit int) ([]models.MedicalAlert, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []alertModel
	err := r.db.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	result := make([]models.MedicalAlert, 0, len(rows))
	for i := range rows {
		result = append(result, alertToDomain(&rows[i]))
	}
	return result, nil
}

func alertToDomain(model *alertModel) models.MedicalAlert {
	var actions []string
	if len(model.RecommendedActions) > 0 {
		_ = json.Unmarshal(model.RecommendedActions, &actions)
	}
	return models.MedicalAlert{
		ID:                 model.ID,
		PatientID:          model.PatientID,
		PatternMatchID:     model.PatternMatchID,
		AlertType:          model.AlertType,
		Severity:           models.Severity(model.Severity),
		Message:            model.Message,
		Description:        model.Description,
		RecommendedActions: actions,
		ConfidenceScore:    model.ConfidenceScore,
		IsRead:             model.IsRead,
		ReadAt:             model.ReadAt,
		ReadBy:             model.ReadBy,
		IsNotified:         model.IsNotified,
		NotifiedAt:         model.NotifiedAt,
		CreatedAt:          model.CreatedAt,
		UpdatedAt:          model.UpdatedAt,
	}
}
