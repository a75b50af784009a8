package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/vitalis-health/sentinel/pkg/condition"
)

// Alert severity levels.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Rank orders severities so refresh logic never downgrades an unread alert.
func (s Severity) Rank() int {
	return severityRank[s]
}

// Patient risk levels.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Correlation significance labels.
type Significance string

const (
	SignificanceNone     Significance = "NONE"
	SignificanceWeak     Significance = "WEAK"
	SignificanceModerate Significance = "MODERATE"
	SignificanceStrong   Significance = "STRONG"
)

// Seasonal trend classification.
type TrendLevel string

const (
	TrendHigh   TrendLevel = "HIGH"
	TrendNormal TrendLevel = "NORMAL"
	TrendLow    TrendLevel = "LOW"
)

// MedicalPattern is a declarative trigger/outcome rule evaluated against the
// cohort. Patterns are deactivated, never deleted.
type MedicalPattern struct {
	ID                  uuid.UUID           `json:"id"`
	Name                string              `json:"name"`
	Description         string              `json:"description,omitempty"`
	Trigger             condition.Condition `json:"trigger"`
	Outcome             condition.Condition `json:"outcome"`
	MinimumCases        int                 `json:"minimum_cases"`
	ConfidenceThreshold float64             `json:"confidence_threshold"`
	IsActive            bool                `json:"is_active"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

// PatternMatch records one pattern firing for one patient. Immutable after
// creation except for the notified flag.
type PatternMatch struct {
	ID              uuid.UUID              `json:"id"`
	PatternID       uuid.UUID              `json:"pattern_id"`
	PatternName     string                 `json:"pattern_name"`
	PatientID       string                 `json:"patient_id"`
	ConfidenceScore float64                `json:"confidence_score"`
	MatchingData    map[string]interface{} `json:"matching_data,omitempty"`
	DetectedAt      time.Time              `json:"detected_at"`
	IsNotified      bool                   `json:"is_notified"`
	NotifiedAt      *time.Time             `json:"notified_at,omitempty"`
}

// MedicalAlert is an actionable, deduplicated alert. At most one unread alert
// exists per (patient, alert type) at any time.
type MedicalAlert struct {
	ID                 uuid.UUID  `json:"id"`
	PatientID          string     `json:"patient_id"`
	PatternMatchID     *uuid.UUID `json:"pattern_match_id,omitempty"`
	AlertType          string     `json:"alert_type"`
	Severity           Severity   `json:"severity"`
	Message            string     `json:"message"`
	Description        string     `json:"description,omitempty"`
	RecommendedActions []string   `json:"recommended_actions,omitempty"`
	ConfidenceScore    float64    `json:"confidence_score"`
	IsRead             bool       `json:"is_read"`
	ReadAt             *time.Time `json:"read_at,omitempty"`
	ReadBy             string     `json:"read_by,omitempty"`
	IsNotified         bool       `json:"is_notified"`
	NotifiedAt         *time.Time `json:"notified_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// DiagnosisEvent is one dated diagnosis on a snapshot.
type DiagnosisEvent struct {
	Category    string    `json:"category"`
	Active      bool      `json:"active"`
	DiagnosedAt time.Time `json:"diagnosed_at"`
}

// AllergyEvent is one dated allergy record on a snapshot.
type AllergyEvent struct {
	Allergen   string    `json:"allergen"`
	Severity   string    `json:"severity"` // Mild, Moderate, Severe
	RecordedAt time.Time `json:"recorded_at"`
}

// LabEvent is one dated lab result on a snapshot.
type LabEvent struct {
	TestName   string    `json:"test_name"`
	Abnormal   bool      `json:"abnormal"`
	ResultedAt time.Time `json:"resulted_at"`
}

// VisitRecord is a single visit row, used for seasonal aggregation.
type VisitRecord struct {
	PatientID string    `json:"patient_id"`
	VisitDate time.Time `json:"visit_date"`
}

// ClinicalSnapshot is the transient per-patient aggregate all matching and
// scoring runs over. Built fresh each pipeline run; never persisted.
type ClinicalSnapshot struct {
	PatientID string `json:"patient_id"`
	Age       int    `json:"age"`
	BloodType string `json:"blood_type,omitempty"`

	VisitCount       int         `json:"visit_count"`
	RecentVisitCount int         `json:"recent_visit_count"` // last 90 days
	VisitDates       []time.Time `json:"visit_dates,omitempty"`

	AllergyCount       int            `json:"allergy_count"`
	SevereAllergyCount int            `json:"severe_allergy_count"`
	Allergies          []AllergyEvent `json:"allergies,omitempty"`

	VaccinationCount int         `json:"vaccination_count"`
	LastVaccination  *time.Time  `json:"last_vaccination,omitempty"`
	VaccinationDates []time.Time `json:"vaccination_dates,omitempty"`

	DiagnosisCount       int              `json:"diagnosis_count"`
	ActiveDiagnosisCount int              `json:"active_diagnosis_count"`
	Diagnoses            []DiagnosisEvent `json:"diagnoses,omitempty"`

	LabResultCount   int        `json:"lab_result_count"`
	AbnormalLabCount int        `json:"abnormal_lab_count"`
	LabResults       []LabEvent `json:"lab_results,omitempty"`

	TakenAt time.Time `json:"taken_at"`
}

// LabAbnormalRatio is the fraction of lab results flagged abnormal.
func (s ClinicalSnapshot) LabAbnormalRatio() float64 {
	if s.LabResultCount == 0 {
		return 0
	}
	return float64(s.AbnormalLabCount) / float64(s.LabResultCount)
}

// MonthsSinceVaccination measures the vaccination gap as of the snapshot
// time. A patient with no vaccination history reports -1.
func (s ClinicalSnapshot) MonthsSinceVaccination() float64 {
	if s.LastVaccination == nil {
		return -1
	}
	return s.TakenAt.Sub(*s.LastVaccination).Hours() / (24 * 30.44)
}

// NumericField implements condition.FactSource.
func (s ClinicalSnapshot) NumericField(name string) (float64, bool) {
	switch name {
	case "age":
		return float64(s.Age), true
	case "visit_count":
		return float64(s.VisitCount), true
	case "recent_visit_count":
		return float64(s.RecentVisitCount), true
	case "allergy_count":
		return float64(s.AllergyCount), true
	case "severe_allergy_count":
		return float64(s.SevereAllergyCount), true
	case "vaccination_count":
		return float64(s.VaccinationCount), true
	case "diagnosis_count":
		return float64(s.DiagnosisCount), true
	case "active_diagnosis_count":
		return float64(s.ActiveDiagnosisCount), true
	case "lab_abnormal_ratio":
		return s.LabAbnormalRatio(), true
	case "months_since_vaccination":
		gap := s.MonthsSinceVaccination()
		if gap < 0 {
			// No history at all reads as an arbitrarily old vaccination.
			gap = 1e6
		}
		return gap, true
	default:
		return 0, false
	}
}

// CategoricalField implements condition.FactSource.
func (s ClinicalSnapshot) CategoricalField(name string) ([]string, bool) {
	switch name {
	case "blood_type":
		if s.BloodType == "" {
			return nil, true
		}
		return []string{s.BloodType}, true
	case "diagnosis_category":
		categories := make([]string, 0, len(s.Diagnoses))
		for _, d := range s.Diagnoses {
			categories = append(categories, d.Category)
		}
		return categories, true
	case "allergy_severity":
		severities := make([]string, 0, len(s.Allergies))
		for _, a := range s.Allergies {
			severities = append(severities, a.Severity)
		}
		return severities, true
	default:
		return nil, false
	}
}

// EventTimes implements condition.FactSource.
func (s ClinicalSnapshot) EventTimes(fact, category string) []time.Time {
	switch fact {
	case "visit":
		return s.VisitDates
	case "vaccination":
		return s.VaccinationDates
	case "allergy":
		times := make([]time.Time, 0, len(s.Allergies))
		for _, a := range s.Allergies {
			if category == "" || a.Severity == category {
				times = append(times, a.RecordedAt)
			}
		}
		return times
	case "diagnosis":
		times := make([]time.Time, 0, len(s.Diagnoses))
		for _, d := range s.Diagnoses {
			if category == "" || d.Category == category {
				times = append(times, d.DiagnosedAt)
			}
		}
		return times
	case "abnormal_lab":
		times := make([]time.Time, 0, s.AbnormalLabCount)
		for _, l := range s.LabResults {
			if l.Abnormal {
				times = append(times, l.ResultedAt)
			}
		}
		return times
	default:
		return nil
	}
}

// RiskFactor is one named signal that contributed notably to a risk score.
type RiskFactor struct {
	Name         string  `json:"name"`
	Value        float64 `json:"value"`  // normalized signal in [0,1]
	Weight       float64 `json:"weight"` // configured weight
	Contribution float64 `json:"contribution"`
}

// RiskResult is the scored risk for one patient.
type RiskResult struct {
	PatientID  string       `json:"patient_id"`
	Score      float64      `json:"score"`
	Level      RiskLevel    `json:"level"`
	Factors    []RiskFactor `json:"factors,omitempty"`
	ComputedAt time.Time    `json:"computed_at"`
}

// CorrelationResult is a report-only association between two cohort factors.
type CorrelationResult struct {
	FactorA      string       `json:"factor_a"`
	FactorB      string       `json:"factor_b"`
	Coefficient  float64      `json:"coefficient"`
	Significance Significance `json:"significance"`
	SampleSize   int          `json:"sample_size"`
	Insufficient bool         `json:"insufficient"`
}

// SeasonalTrend is one calendar month's visit trend across the history.
type SeasonalTrend struct {
	Month         time.Month `json:"month"`
	VisitCount    int        `json:"visit_count"`
	AveragePerDay float64    `json:"average_per_day"`
	DeviationPct  float64    `json:"deviation_pct"`
	Level         TrendLevel `json:"level"`
}

// RunReport summarizes one detection cycle.
type RunReport struct {
	RunID             uuid.UUID  `json:"run_id"`
	StartedAt         time.Time  `json:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	PatientsProcessed int        `json:"patients_processed"`
	PatientsSkipped   int        `json:"patients_skipped"`
	PatternsEvaluated int        `json:"patterns_evaluated"`
	PatternsFailed    int        `json:"patterns_failed"`
	MatchesEmitted    int        `json:"matches_emitted"`
	AlertsCreated     int        `json:"alerts_created"`
	AlertsRefreshed   int        `json:"alerts_refreshed"`
}
