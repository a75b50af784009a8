package alerts

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vitalis-health/sentinel/pkg/common/logger"
	"github.com/vitalis-health/sentinel/pkg/common/models"
)

// Alert types for risk-based alerts. Pattern-based alerts use the pattern
// name as their type.
const (
	AlertTypeHighRisk     = "HIGH_RISK"
	AlertTypeCriticalRisk = "CRITICAL_RISK"
)

// Severity derivation thresholds on confidence.
const (
	severityCriticalConfidence = 0.9
	severityHighConfidence     = 0.75
	severityMediumConfidence   = 0.5
)

const lockStripes = 64

// Outcome of processing one detection against the alert store.
type Outcome string

const (
	OutcomeCreated    Outcome = "created"
	OutcomeRefreshed  Outcome = "refreshed"
	OutcomeSuppressed Outcome = "suppressed"
)

// Store persists alerts and enforces the unread-dedup queries. The gorm
// Repository satisfies it; tests use an in-memory fake.
type Store interface {
	// FindUnread returns the unread alert for (patientID, alertType), or
	// nil when none exists.
	FindUnread(ctx context.Context, patientID, alertType string) (*models.MedicalAlert, error)
	Create(ctx context.Context, alert *models.MedicalAlert) error
	Refresh(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error
	Acknowledge(ctx context.Context, id uuid.UUID, readerID string) error
	PendingNotification(ctx context.Context) ([]models.MedicalAlert, error)
	MarkNotified(ctx context.Context, id uuid.UUID) error
}

// Publisher emits engine events; delivery is external.
type Publisher interface {
	PublishEvent(ctx context.Context, eventType, source string, data map[string]interface{}) error
}

// Generator converts pattern matches and risk results into deduplicated
// alerts. Writes for one (patient, type) key are serialized through striped
// locks so concurrent per-patient workers cannot race the dedup check.
type Generator struct {
	store     Store
	publisher Publisher
	locks     [lockStripes]sync.Mutex
}

type Option func(*Generator)

func WithPublisher(publisher Publisher) Option {
	return func(g *Generator) {
		g.publisher = publisher
	}
}

func NewGenerator(store Store, opts ...Option) *Generator {
	g := &Generator{store: store}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// ProcessMatch turns one pattern match into an alert keyed by the pattern
// name.
func (g *Generator) ProcessMatch(ctx context.Context, match models.PatternMatch) (Outcome, error) {
	message := fmt.Sprintf("Pattern %s detected with %.0f%% confidence", match.PatternName, match.ConfidenceScore*100)
	actions := []string{
		"Review the patient's recent clinical history",
		"Verify the pattern finding against source records",
	}
	matchID := match.ID
	return g.upsert(ctx, match.PatientID, match.PatternName, &matchID, match.ConfidenceScore, "", message, "", actions)
}

// ProcessRisk turns a risk result into an alert when the level warrants one.
// LOW and MEDIUM levels never alert.
func (g *Generator) ProcessRisk(ctx context.Context, result models.RiskResult) (Outcome, error) {
	var alertType string
	switch result.Level {
	case models.RiskCritical:
		alertType = AlertTypeCriticalRisk
	case models.RiskHigh:
		alertType = AlertTypeHighRisk
	default:
		return OutcomeSuppressed, nil
	}

	message := fmt.Sprintf("Patient risk level %s (score %.2f)", result.Level, result.Score)
	description := describeFactors(result.Factors)
	actions := []string{
		"Schedule a comprehensive examination",
		"Review contributing risk factors",
	}
	return g.upsert(ctx, result.PatientID, alertType, nil, result.Score, result.Level, message, description, actions)
}

func (g *Generator) upsert(ctx context.Context, patientID, alertType string, matchID *uuid.UUID, confidence float64, level models.RiskLevel, message, description string, actions []string) (Outcome, error) {
	lock := g.lockFor(patientID, alertType)
	lock.Lock()
	defer lock.Unlock()

	existing, err := g.store.FindUnread(ctx, patientID, alertType)
	if err != nil {
		return OutcomeSuppressed, err
	}

	severity := deriveSeverity(confidence, level)

	if existing == nil {
		alert := models.MedicalAlert{
			ID:                 uuid.New(),
			PatientID:          patientID,
			PatternMatchID:     matchID,
			AlertType:          alertType,
			Severity:           severity,
			Message:            message,
			Description:        description,
			RecommendedActions: actions,
			ConfidenceScore:    confidence,
			IsNotified:         false,
		}
		if err := g.store.Create(ctx, &alert); err != nil {
			return OutcomeSuppressed, err
		}
		g.publish(ctx, "alert.created", map[string]interface{}{
			"alert_id":   alert.ID.String(),
			"patient_id": patientID,
			"alert_type": alertType,
			"severity":   string(severity),
		})
		return OutcomeCreated, nil
	}

	// Never downgrade an unread warning.
	if confidence < existing.ConfidenceScore {
		return OutcomeSuppressed, nil
	}
	if severity.Rank() < existing.Severity.Rank() {
		severity = existing.Severity
	}

	updates := map[string]interface{}{
		"confidence_score": confidence,
		"severity":         string(severity),
		"message":          message,
		"updated_at":       time.Now().UTC(),
	}
	if description != "" {
		updates["description"] = description
	}
	if err := g.store.Refresh(ctx, existing.ID, updates); err != nil {
		return OutcomeSuppressed, err
	}
	return OutcomeRefreshed, nil
}

// Acknowledge marks an alert read, freezing it against further automatic
// refreshes. A later detection cycle opens a fresh unread alert.
func (g *Generator) Acknowledge(ctx context.Context, alertID uuid.UUID, readerID string) error {
	return g.store.Acknowledge(ctx, alertID, readerID)
}

// PendingNotification lists alerts an external notifier has not delivered.
func (g *Generator) PendingNotification(ctx context.Context) ([]models.MedicalAlert, error) {
	return g.store.PendingNotification(ctx)
}

// MarkNotified is called by the external notifier after delivery.
func (g *Generator) MarkNotified(ctx context.Context, alertID uuid.UUID) error {
	return g.store.MarkNotified(ctx, alertID)
}

func (g *Generator) lockFor(patientID, alertType string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(patientID))
	h.Write([]byte("|"))
	h.Write([]byte(alertType))
	return &g.locks[h.Sum32()%lockStripes]
}

func (g *Generator) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if g.publisher == nil {
		return
	}
	if err := g.publisher.PublishEvent(ctx, eventType, "alerts", data); err != nil {
		logger.Log.WithError(err).WithField("event_type", eventType).Warn("alert event publish failed")
	}
}

func deriveSeverity(confidence float64, level models.RiskLevel) models.Severity {
	switch {
	case confidence >= severityCriticalConfidence || level == models.RiskCritical:
		return models.SeverityCritical
	case confidence >= severityHighConfidence || level == models.RiskHigh:
		return models.SeverityHigh
	case confidence >= severityMediumConfidence || level == models.RiskMedium:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func describeFactors(factors []models.RiskFactor) string {
	if len(factors) == 0 {
		return ""
	}
	description := "Contributing factors:"
	for _, factor := range factors {
		description += fmt.Sprintf(" %s (%.2f)", factor.Name, factor.Value)
	}
	return description
}
