package risk

import (
	"math"
	"testing"
	"time"

	"github.com/vitalis-health/sentinel/pkg/common/models"
)

func defaultOptions() Options {
	return Options{
		WeightRecentVisits:     0.25,
		WeightAllergies:        0.20,
		WeightChronicDiagnoses: 0.25,
		WeightLabAbnormality:   0.20,
		WeightVaccinationGap:   0.10,

		CapRecentVisits:     6,
		CapAllergies:        5,
		CapActiveDiagnoses:  3,
		CapLabAbnormalRatio: 0.5,
		CapVaccinationGap:   36,

		BandMedium:   0.3,
		BandHigh:     0.6,
		BandCritical: 0.8,
		Notable:      0.5,
	}
}

func TestScoreKnownScenario(t *testing.T) {
	engine := NewEngine(defaultOptions())

	taken := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	lastVaccination := taken.AddDate(-3, 0, 0)
	snapshot := models.ClinicalSnapshot{
		PatientID:            "patient-1",
		RecentVisitCount:     5,
		AllergyCount:         3,
		SevereAllergyCount:   1,
		ActiveDiagnosisCount: 2,
		LabResultCount:       10,
		AbnormalLabCount:     2,
		LastVaccination:      &lastVaccination,
		TakenAt:              taken,
	}

	result := engine.Score(snapshot)

	// .25*(5/6) + .20*(4/5) + .25*(2/3) + .20*(0.2/0.5) + .10*1.0
	want := 0.25*(5.0/6.0) + 0.20*(4.0/5.0) + 0.25*(2.0/3.0) + 0.20*0.4 + 0.10*1.0
	if math.Abs(result.Score-want) > 0.01 {
		t.Fatalf("score = %.4f, want %.4f", result.Score, want)
	}
	if result.Level != models.RiskHigh {
		t.Fatalf("level = %s, want HIGH", result.Level)
	}
	if result.PatientID != "patient-1" {
		t.Fatalf("patient id = %s", result.PatientID)
	}
}

func TestScoreEmptySnapshotIsLowExceptVaccinationGap(t *testing.T) {
	engine := NewEngine(defaultOptions())

	// No vaccination history saturates the gap signal; everything else is zero.
	result := engine.Score(models.ClinicalSnapshot{PatientID: "p"})
	if math.Abs(result.Score-0.10) > 1e-9 {
		t.Fatalf("score = %.4f, want 0.10", result.Score)
	}
	if result.Level != models.RiskLow {
		t.Fatalf("level = %s, want LOW", result.Level)
	}
}

func TestScoreMonotonicInRecentVisits(t *testing.T) {
	engine := NewEngine(defaultOptions())

	prev := -1.0
	for visits := 0; visits <= 8; visits++ {
		result := engine.Score(models.ClinicalSnapshot{RecentVisitCount: visits})
		if result.Score < prev {
			t.Fatalf("score decreased at %d visits: %.4f < %.4f", visits, result.Score, prev)
		}
		prev = result.Score
	}

	// Beyond the cap the signal saturates.
	at6 := engine.Score(models.ClinicalSnapshot{RecentVisitCount: 6})
	at60 := engine.Score(models.ClinicalSnapshot{RecentVisitCount: 60})
	if at6.Score != at60.Score {
		t.Fatalf("expected saturation: %.4f != %.4f", at6.Score, at60.Score)
	}
}

func TestScoreLevelBands(t *testing.T) {
	engine := NewEngine(defaultOptions())

	cases := []struct {
		score float64
		want  models.RiskLevel
	}{
		{0.0, models.RiskLow},
		{0.29, models.RiskLow},
		{0.3, models.RiskMedium},
		{0.59, models.RiskMedium},
		{0.6, models.RiskHigh},
		{0.79, models.RiskHigh},
		{0.8, models.RiskCritical},
		{1.0, models.RiskCritical},
	}
	for _, tc := range cases {
		if got := engine.level(tc.score); got != tc.want {
			t.Errorf("level(%.2f) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestNotableFactorsOrderedByContribution(t *testing.T) {
	engine := NewEngine(defaultOptions())

	taken := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	recent := taken.AddDate(0, -1, 0)
	snapshot := models.ClinicalSnapshot{
		RecentVisitCount:     6, // signal 1.0, contribution 0.25
		AllergyCount:         3, // with one severe: signal 0.8, contribution 0.16
		SevereAllergyCount:   1,
		ActiveDiagnosisCount: 1, // signal 0.33, below notable
		LastVaccination:      &recent,
		TakenAt:              taken,
	}

	result := engine.Score(snapshot)
	if len(result.Factors) != 2 {
		t.Fatalf("expected 2 notable factors, got %d: %+v", len(result.Factors), result.Factors)
	}
	if result.Factors[0].Name != SignalRecentVisits {
		t.Fatalf("top factor = %s, want %s", result.Factors[0].Name, SignalRecentVisits)
	}
	if result.Factors[1].Name != SignalAllergies {
		t.Fatalf("second factor = %s, want %s", result.Factors[1].Name, SignalAllergies)
	}
	if result.Factors[0].Contribution < result.Factors[1].Contribution {
		t.Fatal("factors not ordered by contribution")
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	engine := NewEngine(defaultOptions())
	snapshot := models.ClinicalSnapshot{
		RecentVisitCount:     2,
		AllergyCount:         1,
		ActiveDiagnosisCount: 1,
		LabResultCount:       4,
		AbnormalLabCount:     1,
	}

	first := engine.Score(snapshot)
	second := engine.Score(snapshot)
	if first.Score != second.Score || first.Level != second.Level {
		t.Fatalf("scoring is not deterministic: %+v vs %+v", first, second)
	}
}
