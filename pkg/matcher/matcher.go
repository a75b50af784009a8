package matcher

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vitalis-health/sentinel/pkg/common/logger"
	"github.com/vitalis-health/sentinel/pkg/common/models"
)

// MatchStore persists emitted matches. The gorm Repository satisfies it;
// tests use an in-memory fake.
type MatchStore interface {
	Create(ctx context.Context, match *models.PatternMatch) error
}

// Diagnostic records a pattern that could not be evaluated this run. The
// pattern stays active; deactivating clinical rules on error is deliberate
// operator work, not something the engine does silently.
type Diagnostic struct {
	PatternID   uuid.UUID `json:"pattern_id"`
	PatternName string    `json:"pattern_name"`
	Reason      string    `json:"reason"`
}

type Matcher struct {
	store MatchStore
}

func New(store MatchStore) *Matcher {
	return &Matcher{store: store}
}

// Run evaluates every active pattern against the cohort and persists one
// PatternMatch per (pattern, patient) that clears the minimum-cases and
// confidence gates. A failing pattern yields a diagnostic and never aborts
// the other patterns.
func (m *Matcher) Run(ctx context.Context, patterns []models.MedicalPattern, snapshots []models.ClinicalSnapshot, asOf time.Time) ([]models.PatternMatch, []Diagnostic) {
	var matches []models.PatternMatch
	var diagnostics []Diagnostic

	for _, pattern := range patterns {
		if !pattern.IsActive {
			continue
		}
		emitted, diag := m.evaluatePattern(ctx, pattern, snapshots, asOf)
		if diag != nil {
			diagnostics = append(diagnostics, *diag)
			continue
		}
		matches = append(matches, emitted...)
	}
	return matches, diagnostics
}

func (m *Matcher) evaluatePattern(ctx context.Context, pattern models.MedicalPattern, snapshots []models.ClinicalSnapshot, asOf time.Time) ([]models.PatternMatch, *Diagnostic) {
	var triggered []models.ClinicalSnapshot
	for _, snapshot := range snapshots {
		ok, err := pattern.Trigger.Evaluate(snapshot, asOf)
		if err != nil {
			return nil, &Diagnostic{PatternID: pattern.ID, PatternName: pattern.Name, Reason: "trigger: " + err.Error()}
		}
		if ok {
			triggered = append(triggered, snapshot)
		}
	}

	// Insufficient sample is a normal no-match outcome, not an error.
	if len(triggered) < pattern.MinimumCases {
		logger.Log.WithFields(map[string]interface{}{
			"pattern":       pattern.Name,
			"triggered":     len(triggered),
			"minimum_cases": pattern.MinimumCases,
		}).Debug("pattern below minimum cases")
		return nil, nil
	}

	var withOutcome []models.ClinicalSnapshot
	for _, snapshot := range triggered {
		ok, err := pattern.Outcome.Evaluate(snapshot, asOf)
		if err != nil {
			return nil, &Diagnostic{PatternID: pattern.ID, PatternName: pattern.Name, Reason: "outcome: " + err.Error()}
		}
		if ok {
			withOutcome = append(withOutcome, snapshot)
		}
	}

	confidence := float64(len(withOutcome)) / float64(len(triggered))
	if confidence < pattern.ConfidenceThreshold {
		logger.Log.WithFields(map[string]interface{}{
			"pattern":    pattern.Name,
			"confidence": confidence,
			"threshold":  pattern.ConfidenceThreshold,
		}).Debug("pattern below confidence threshold")
		return nil, nil
	}

	matches := make([]models.PatternMatch, 0, len(withOutcome))
	for _, snapshot := range withOutcome {
		match := models.PatternMatch{
			ID:              uuid.New(),
			PatternID:       pattern.ID,
			PatternName:     pattern.Name,
			PatientID:       snapshot.PatientID,
			ConfidenceScore: confidence,
			MatchingData:    matchingData(snapshot, len(triggered), len(withOutcome)),
			DetectedAt:      asOf,
		}
		if err := m.store.Create(ctx, &match); err != nil {
			// Partial success: one failed write costs one match, not the run.
			logger.Log.WithError(err).WithFields(map[string]interface{}{
				"pattern":    pattern.Name,
				"patient_id": snapshot.PatientID,
			}).Error("failed to persist pattern match")
			continue
		}
		matches = append(matches, match)
	}
	return matches, nil
}

// matchingData captures the facts that satisfied the trigger, for
// explainability on the emitted match.
func matchingData(snapshot models.ClinicalSnapshot, triggerCohort, outcomeCohort int) map[string]interface{} {
	return map[string]interface{}{
		"trigger_cohort_size":    triggerCohort,
		"outcome_cohort_size":    outcomeCohort,
		"age":                    snapshot.Age,
		"blood_type":             snapshot.BloodType,
		"visit_count":            snapshot.VisitCount,
		"recent_visit_count":     snapshot.RecentVisitCount,
		"allergy_count":          snapshot.AllergyCount,
		"severe_allergy_count":   snapshot.SevereAllergyCount,
		"vaccination_count":      snapshot.VaccinationCount,
		"diagnosis_count":        snapshot.DiagnosisCount,
		"active_diagnosis_count": snapshot.ActiveDiagnosisCount,
		"lab_abnormal_ratio":     snapshot.LabAbnormalRatio(),
	}
}
