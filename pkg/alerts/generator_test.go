package alerts

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/vitalis-health/sentinel/pkg/common/models"
)

type fakeAlertStore struct {
	alerts map[uuid.UUID]*models.MedicalAlert
}

func newFakeAlertStore() *fakeAlertStore {
	return &fakeAlertStore{alerts: make(map[uuid.UUID]*models.MedicalAlert)}
}

func (f *fakeAlertStore) FindUnread(ctx context.Context, patientID, alertType string) (*models.MedicalAlert, error) {
	for _, alert := range f.alerts {
		if alert.PatientID == patientID && alert.AlertType == alertType && !alert.IsRead {
			copied := *alert
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeAlertStore) Create(ctx context.Context, alert *models.MedicalAlert) error {
	copied := *alert
	f.alerts[alert.ID] = &copied
	return nil
}

func (f *fakeAlertStore) Refresh(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	alert, ok := f.alerts[id]
	if !ok || alert.IsRead {
		return nil
	}
	if v, ok := updates["confidence_score"]; ok {
		alert.ConfidenceScore = v.(float64)
	}
	if v, ok := updates["severity"]; ok {
		alert.Severity = models.Severity(v.(string))
	}
	if v, ok := updates["message"]; ok {
		alert.Message = v.(string)
	}
	return nil
}

func (f *fakeAlertStore) Acknowledge(ctx context.Context, id uuid.UUID, readerID string) error {
	alert, ok := f.alerts[id]
	if !ok || alert.IsRead {
		return ErrNotFound
	}
	alert.IsRead = true
	alert.ReadBy = readerID
	return nil
}

func (f *fakeAlertStore) PendingNotification(ctx context.Context) ([]models.MedicalAlert, error) {
	var pending []models.MedicalAlert
	for _, alert := range f.alerts {
		if !alert.IsNotified {
			pending = append(pending, *alert)
		}
	}
	return pending, nil
}

func (f *fakeAlertStore) MarkNotified(ctx context.Context, id uuid.UUID) error {
	alert, ok := f.alerts[id]
	if !ok {
		return ErrNotFound
	}
	alert.IsNotified = true
	return nil
}

func (f *fakeAlertStore) unreadCount(patientID, alertType string) int {
	count := 0
	for _, alert := range f.alerts {
		if alert.PatientID == patientID && alert.AlertType == alertType && !alert.IsRead {
			count++
		}
	}
	return count
}

func highRisk(patientID string, score float64) models.RiskResult {
	return models.RiskResult{PatientID: patientID, Score: score, Level: models.RiskHigh}
}

func TestProcessRiskCreatesThenRefreshes(t *testing.T) {
	store := newFakeAlertStore()
	g := NewGenerator(store)
	ctx := context.Background()

	outcome, err := g.ProcessRisk(ctx, highRisk("p1", 0.65))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeCreated {
		t.Fatalf("outcome = %s, want created", outcome)
	}

	outcome, err = g.ProcessRisk(ctx, highRisk("p1", 0.70))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeRefreshed {
		t.Fatalf("outcome = %s, want refreshed", outcome)
	}
	if n := store.unreadCount("p1", AlertTypeHighRisk); n != 1 {
		t.Fatalf("unread alerts = %d, want 1", n)
	}

	existing, _ := store.FindUnread(ctx, "p1", AlertTypeHighRisk)
	if existing.ConfidenceScore != 0.70 {
		t.Fatalf("confidence = %.2f, want 0.70", existing.ConfidenceScore)
	}
}

func TestProcessRiskNeverDowngrades(t *testing.T) {
	store := newFakeAlertStore()
	g := NewGenerator(store)
	ctx := context.Background()

	if _, err := g.ProcessRisk(ctx, highRisk("p1", 0.78)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Lower confidence is suppressed outright.
	outcome, err := g.ProcessRisk(ctx, highRisk("p1", 0.62))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeSuppressed {
		t.Fatalf("outcome = %s, want suppressed", outcome)
	}
	existing, _ := store.FindUnread(ctx, "p1", AlertTypeHighRisk)
	if existing.ConfidenceScore != 0.78 {
		t.Fatalf("confidence = %.2f, want unchanged 0.78", existing.ConfidenceScore)
	}
	if existing.Severity != models.SeverityHigh {
		t.Fatalf("severity = %s, want HIGH", existing.Severity)
	}
}

func TestAcknowledgedAlertFreezesAndNewOneOpens(t *testing.T) {
	store := newFakeAlertStore()
	g := NewGenerator(store)
	ctx := context.Background()

	if _, err := g.ProcessRisk(ctx, highRisk("p1", 0.65)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first, _ := store.FindUnread(ctx, "p1", AlertTypeHighRisk)

	if err := g.Acknowledge(ctx, first.ID, "dr-jones"); err != nil {
		t.Fatalf("acknowledge failed: %v", err)
	}
	if err := g.Acknowledge(ctx, first.ID, "dr-jones"); err != ErrNotFound {
		t.Fatalf("second acknowledge should fail with ErrNotFound, got %v", err)
	}

	// The next detection opens a fresh unread alert.
	outcome, err := g.ProcessRisk(ctx, highRisk("p1", 0.65))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeCreated {
		t.Fatalf("outcome = %s, want created", outcome)
	}
	second, _ := store.FindUnread(ctx, "p1", AlertTypeHighRisk)
	if second.ID == first.ID {
		t.Fatal("expected a new alert, not a revived one")
	}
}

func TestProcessRiskIgnoresLowAndMediumLevels(t *testing.T) {
	store := newFakeAlertStore()
	g := NewGenerator(store)
	ctx := context.Background()

	for _, level := range []models.RiskLevel{models.RiskLow, models.RiskMedium} {
		outcome, err := g.ProcessRisk(ctx, models.RiskResult{PatientID: "p1", Score: 0.4, Level: level})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if outcome != OutcomeSuppressed {
			t.Fatalf("level %s: outcome = %s, want suppressed", level, outcome)
		}
	}
	if len(store.alerts) != 0 {
		t.Fatalf("expected no alerts, got %d", len(store.alerts))
	}
}

func TestProcessMatchKeyedByPatternName(t *testing.T) {
	store := newFakeAlertStore()
	g := NewGenerator(store)
	ctx := context.Background()

	matchID := uuid.New()
	match := models.PatternMatch{
		ID:              matchID,
		PatternName:     "ALLERGY_RESPIRATORY_RISK",
		PatientID:       "p1",
		ConfidenceScore: 0.8,
	}
	outcome, err := g.ProcessMatch(ctx, match)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeCreated {
		t.Fatalf("outcome = %s, want created", outcome)
	}

	alert, _ := store.FindUnread(ctx, "p1", "ALLERGY_RESPIRATORY_RISK")
	if alert == nil {
		t.Fatal("expected an unread alert keyed by pattern name")
	}
	if alert.PatternMatchID == nil || *alert.PatternMatchID != matchID {
		t.Fatal("expected the alert to reference the match")
	}
	if alert.Severity != models.SeverityHigh {
		t.Fatalf("severity = %s, want HIGH at 0.8 confidence", alert.Severity)
	}
	if alert.IsNotified {
		t.Fatal("new alerts must start unnotified")
	}
}

func TestDeriveSeverity(t *testing.T) {
	cases := []struct {
		confidence float64
		level      models.RiskLevel
		want       models.Severity
	}{
		{0.95, "", models.SeverityCritical},
		{0.5, models.RiskCritical, models.SeverityCritical},
		{0.8, "", models.SeverityHigh},
		{0.3, models.RiskHigh, models.SeverityHigh},
		{0.6, "", models.SeverityMedium},
		{0.2, models.RiskMedium, models.SeverityMedium},
		{0.2, "", models.SeverityLow},
	}
	for _, tc := range cases {
		if got := deriveSeverity(tc.confidence, tc.level); got != tc.want {
			t.Errorf("deriveSeverity(%.2f, %s) = %s, want %s", tc.confidence, tc.level, got, tc.want)
		}
	}
}

func TestNotificationLifecycle(t *testing.T) {
	store := newFakeAlertStore()
	g := NewGenerator(store)
	ctx := context.Background()

	if _, err := g.ProcessRisk(ctx, highRisk("p1", 0.65)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pending, err := g.PendingNotification(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}

	if err := g.MarkNotified(ctx, pending[0].ID); err != nil {
		t.Fatalf("mark notified failed: %v", err)
	}
	pending, err = g.PendingNotification(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending after notify = %d, want 0", len(pending))
	}
}
