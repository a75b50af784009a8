package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/vitalis-health/sentinel/pkg/alerts"
	"github.com/vitalis-health/sentinel/pkg/common/models"
	"github.com/vitalis-health/sentinel/pkg/condition"
	"github.com/vitalis-health/sentinel/pkg/matcher"
	"github.com/vitalis-health/sentinel/pkg/risk"
)

type fakePatterns struct {
	patterns []models.MedicalPattern
}

func (f *fakePatterns) Snapshot(ctx context.Context) ([]models.MedicalPattern, error) {
	return f.patterns, nil
}

type fakeCohort struct {
	snapshots []models.ClinicalSnapshot
	entered   chan struct{}
	release   chan struct{}
}

func (f *fakeCohort) GetCohortSnapshots(ctx context.Context, patientIDs []string) ([]models.ClinicalSnapshot, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if len(patientIDs) == 0 {
		return f.snapshots, nil
	}
	wanted := make(map[string]bool, len(patientIDs))
	for _, id := range patientIDs {
		wanted[id] = true
	}
	var scoped []models.ClinicalSnapshot
	for _, snapshot := range f.snapshots {
		if wanted[snapshot.PatientID] {
			scoped = append(scoped, snapshot)
		}
	}
	return scoped, nil
}

type memMatchStore struct {
	created []models.PatternMatch
}

func (m *memMatchStore) Create(ctx context.Context, match *models.PatternMatch) error {
	m.created = append(m.created, *match)
	return nil
}

type memAlertStore struct {
	alerts map[uuid.UUID]*models.MedicalAlert
}

func newMemAlertStore() *memAlertStore {
	return &memAlertStore{alerts: make(map[uuid.UUID]*models.MedicalAlert)}
}

func (m *memAlertStore) FindUnread(ctx context.Context, patientID, alertType string) (*models.MedicalAlert, error) {
	for _, alert := range m.alerts {
		if alert.PatientID == patientID && alert.AlertType == alertType && !alert.IsRead {
			copied := *alert
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memAlertStore) Create(ctx context.Context, alert *models.MedicalAlert) error {
	copied := *alert
	m.alerts[alert.ID] = &copied
	return nil
}

func (m *memAlertStore) Refresh(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	alert, ok := m.alerts[id]
	if !ok || alert.IsRead {
		return nil
	}
	if v, ok := updates["confidence_score"]; ok {
		alert.ConfidenceScore = v.(float64)
	}
	return nil
}

func (m *memAlertStore) Acknowledge(ctx context.Context, id uuid.UUID, readerID string) error {
	alert, ok := m.alerts[id]
	if !ok || alert.IsRead {
		return alerts.ErrNotFound
	}
	alert.IsRead = true
	return nil
}

func (m *memAlertStore) PendingNotification(ctx context.Context) ([]models.MedicalAlert, error) {
	return nil, nil
}

func (m *memAlertStore) MarkNotified(ctx context.Context, id uuid.UUID) error {
	return nil
}

func riskOptions() risk.Options {
	return risk.Options{
		WeightRecentVisits:     0.25,
		WeightAllergies:        0.20,
		WeightChronicDiagnoses: 0.25,
		WeightLabAbnormality:   0.20,
		WeightVaccinationGap:   0.10,
		CapRecentVisits:        6,
		CapAllergies:           5,
		CapActiveDiagnoses:     3,
		CapLabAbnormalRatio:    0.5,
		CapVaccinationGap:      36,
		BandMedium:             0.3,
		BandHigh:               0.6,
		BandCritical:           0.8,
		Notable:                0.5,
	}
}

func testOptions() Options {
	return Options{
		Interval:  time.Hour,
		RunBudget: time.Minute,
		Workers:   4,
	}
}

// newTestScheduler wires a scheduler over in-memory stores. The cohort has 10
// patients triggering the pattern, 8 of which carry the outcome.
func newTestScheduler(cohortSrc *fakeCohort) (*Scheduler, *memMatchStore, *memAlertStore) {
	pattern := models.MedicalPattern{
		ID:                  uuid.New(),
		Name:                "ALLERGY_RESPIRATORY_RISK",
		Trigger:             condition.Compare("allergy_count", condition.OpGTE, 3),
		Outcome:             condition.In("diagnosis_category", "RESPIRATORY"),
		MinimumCases:        5,
		ConfidenceThreshold: 0.7,
		IsActive:            true,
	}

	matchStore := &memMatchStore{}
	alertStore := newMemAlertStore()
	sched := New(
		&fakePatterns{patterns: []models.MedicalPattern{pattern}},
		cohortSrc,
		matcher.New(matchStore),
		risk.NewEngine(riskOptions()),
		alerts.NewGenerator(alertStore),
		testOptions(),
	)
	return sched, matchStore, alertStore
}

func testCohort() *fakeCohort {
	recent := time.Now().UTC().AddDate(0, -1, 0)
	snapshots := make([]models.ClinicalSnapshot, 0, 10)
	for i := 0; i < 10; i++ {
		snapshot := models.ClinicalSnapshot{
			PatientID:       uuid.NewString(),
			AllergyCount:    3,
			LastVaccination: &recent,
			TakenAt:         time.Now().UTC(),
		}
		if i < 8 {
			snapshot.Diagnoses = []models.DiagnosisEvent{{Category: "RESPIRATORY"}}
		}
		snapshots = append(snapshots, snapshot)
	}
	return &fakeCohort{snapshots: snapshots}
}

func TestRunCycleEndToEnd(t *testing.T) {
	sched, matchStore, alertStore := newTestScheduler(testCohort())

	report, err := sched.RunCycle(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.PatientsProcessed != 10 {
		t.Fatalf("patients processed = %d, want 10", report.PatientsProcessed)
	}
	if report.PatternsEvaluated != 1 || report.PatternsFailed != 0 {
		t.Fatalf("patterns evaluated/failed = %d/%d", report.PatternsEvaluated, report.PatternsFailed)
	}
	if report.MatchesEmitted != 8 {
		t.Fatalf("matches emitted = %d, want 8", report.MatchesEmitted)
	}
	if len(matchStore.created) != 8 {
		t.Fatalf("persisted matches = %d, want 8", len(matchStore.created))
	}
	// Eight pattern alerts; every risk score is LOW, so no risk alerts.
	if report.AlertsCreated != 8 {
		t.Fatalf("alerts created = %d, want 8", report.AlertsCreated)
	}
	if len(alertStore.alerts) != 8 {
		t.Fatalf("stored alerts = %d, want 8", len(alertStore.alerts))
	}
	if report.CompletedAt == nil {
		t.Fatal("expected a completion timestamp")
	}

	if sched.State() != StateIdle {
		t.Fatalf("state = %s, want IDLE", sched.State())
	}
	last := sched.LastReport()
	if last == nil || last.RunID != report.RunID {
		t.Fatal("last report not recorded")
	}
}

func TestRunCycleIsIdempotentAcrossRuns(t *testing.T) {
	sched, _, alertStore := newTestScheduler(testCohort())
	ctx := context.Background()

	if _, err := sched.RunCycle(ctx, nil); err != nil {
		t.Fatalf("first cycle failed: %v", err)
	}
	second, err := sched.RunCycle(ctx, nil)
	if err != nil {
		t.Fatalf("second cycle failed: %v", err)
	}

	// Same facts: the second cycle refreshes, it never duplicates.
	if second.AlertsCreated != 0 {
		t.Fatalf("second cycle created %d alerts, want 0", second.AlertsCreated)
	}
	if second.AlertsRefreshed != 8 {
		t.Fatalf("second cycle refreshed %d alerts, want 8", second.AlertsRefreshed)
	}
	if len(alertStore.alerts) != 8 {
		t.Fatalf("stored alerts = %d, want 8", len(alertStore.alerts))
	}
}

func TestRunCycleRejectsOverlap(t *testing.T) {
	cohortSrc := testCohort()
	cohortSrc.entered = make(chan struct{})
	cohortSrc.release = make(chan struct{})
	sched, _, _ := newTestScheduler(cohortSrc)

	done := make(chan error, 1)
	go func() {
		_, err := sched.RunCycle(context.Background(), nil)
		done <- err
	}()

	// Wait until the first cycle is inside the cohort load, then collide.
	<-cohortSrc.entered
	if _, err := sched.RunCycle(context.Background(), nil); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}

	close(cohortSrc.release)
	if err := <-done; err != nil {
		t.Fatalf("first cycle failed: %v", err)
	}

	// With the first cycle finished a new one runs normally.
	cohortSrc.entered = nil
	cohortSrc.release = nil
	if _, err := sched.RunCycle(context.Background(), nil); err != nil {
		t.Fatalf("follow-up cycle failed: %v", err)
	}
}

func TestTriggerRunCoalesces(t *testing.T) {
	sched, _, _ := newTestScheduler(testCohort())

	if !sched.TriggerRun(nil) {
		t.Fatal("first trigger should queue")
	}
	if sched.TriggerRun([]string{"p1"}) {
		t.Fatal("second trigger should be rejected while one is pending")
	}
}

func TestRunCycleScopedToRequestedPatients(t *testing.T) {
	cohortSrc := testCohort()
	sched, matchStore, _ := newTestScheduler(cohortSrc)

	target := cohortSrc.snapshots[0].PatientID
	report, err := sched.RunCycle(context.Background(), []string{target})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.PatientsProcessed != 1 {
		t.Fatalf("patients processed = %d, want 1", report.PatientsProcessed)
	}
	// A cohort of one is below the pattern's minimum cases, so no matches.
	if report.MatchesEmitted != 0 || len(matchStore.created) != 0 {
		t.Fatalf("expected no matches for a single-patient cohort, got %d", report.MatchesEmitted)
	}
}

func TestStartHonorsCancellation(t *testing.T) {
	sched, _, _ := newTestScheduler(testCohort())

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		sched.Start(ctx)
		close(stopped)
	}()

	cancel()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop on cancellation")
	}
}
