package risk

import (
	"sort"
	"time"

	"github.com/vitalis-health/sentinel/pkg/common/config"
	"github.com/vitalis-health/sentinel/pkg/common/models"
)

// Signal names, also reported as risk factors.
const (
	SignalRecentVisits     = "recent_visits"
	SignalAllergies        = "allergies"
	SignalChronicDiagnoses = "chronic_diagnoses"
	SignalLabAbnormality   = "lab_abnormality"
	SignalVaccinationGap   = "vaccination_gap"
)

// Options carries every tunable of the scoring formula. Defaults come from
// config; nothing in the formula is a magic literal.
type Options struct {
	WeightRecentVisits     float64
	WeightAllergies        float64
	WeightChronicDiagnoses float64
	WeightLabAbnormality   float64
	WeightVaccinationGap   float64

	CapRecentVisits     float64
	CapAllergies        float64
	CapActiveDiagnoses  float64
	CapLabAbnormalRatio float64
	CapVaccinationGap   float64 // months

	BandMedium   float64
	BandHigh     float64
	BandCritical float64
	Notable      float64
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		WeightRecentVisits:     cfg.RiskWeightRecentVisits,
		WeightAllergies:        cfg.RiskWeightAllergies,
		WeightChronicDiagnoses: cfg.RiskWeightChronicDiagnoses,
		WeightLabAbnormality:   cfg.RiskWeightLabAbnormality,
		WeightVaccinationGap:   cfg.RiskWeightVaccinationGap,

		CapRecentVisits:     cfg.RiskCapRecentVisits,
		CapAllergies:        cfg.RiskCapAllergies,
		CapActiveDiagnoses:  cfg.RiskCapActiveDiagnoses,
		CapLabAbnormalRatio: cfg.RiskCapLabAbnormalRatio,
		CapVaccinationGap:   cfg.RiskCapVaccinationGap,

		BandMedium:   cfg.RiskBandMedium,
		BandHigh:     cfg.RiskBandHigh,
		BandCritical: cfg.RiskBandCritical,
		Notable:      cfg.RiskNotable,
	}
}

// Engine computes patient risk from a clinical snapshot. It is pure: the
// same snapshot always yields the same score, and no state survives a call.
type Engine struct {
	opts Options
}

func NewEngine(opts Options) *Engine {
	return &Engine{opts: opts}
}

// Score computes the weighted risk score, its discrete level, and the
// ordered notable factors for one snapshot.
func (e *Engine) Score(snapshot models.ClinicalSnapshot) models.RiskResult {
	signals := []struct {
		name   string
		value  float64
		weight float64
	}{
		{SignalRecentVisits, clip(float64(snapshot.RecentVisitCount) / e.opts.CapRecentVisits), e.opts.WeightRecentVisits},
		{SignalAllergies, clip(float64(snapshot.AllergyCount+snapshot.SevereAllergyCount) / e.opts.CapAllergies), e.opts.WeightAllergies},
		{SignalChronicDiagnoses, clip(float64(snapshot.ActiveDiagnosisCount) / e.opts.CapActiveDiagnoses), e.opts.WeightChronicDiagnoses},
		{SignalLabAbnormality, clip(snapshot.LabAbnormalRatio() / e.opts.CapLabAbnormalRatio), e.opts.WeightLabAbnormality},
		{SignalVaccinationGap, e.vaccinationGapSignal(snapshot), e.opts.WeightVaccinationGap},
	}

	var score float64
	factors := make([]models.RiskFactor, 0, len(signals))
	for _, signal := range signals {
		contribution := signal.weight * signal.value
		score += contribution
		if signal.value >= e.opts.Notable {
			factors = append(factors, models.RiskFactor{
				Name:         signal.name,
				Value:        signal.value,
				Weight:       signal.weight,
				Contribution: contribution,
			})
		}
	}
	sort.SliceStable(factors, func(i, j int) bool {
		return factors[i].Contribution > factors[j].Contribution
	})

	return models.RiskResult{
		PatientID:  snapshot.PatientID,
		Score:      score,
		Level:      e.level(score),
		Factors:    factors,
		ComputedAt: time.Now().UTC(),
	}
}

func (e *Engine) level(score float64) models.RiskLevel {
	switch {
	case score >= e.opts.BandCritical:
		return models.RiskCritical
	case score >= e.opts.BandHigh:
		return models.RiskHigh
	case score >= e.opts.BandMedium:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

// A patient with no vaccination history at all saturates the gap signal.
func (e *Engine) vaccinationGapSignal(snapshot models.ClinicalSnapshot) float64 {
	gap := snapshot.MonthsSinceVaccination()
	if gap < 0 {
		return 1
	}
	return clip(gap / e.opts.CapVaccinationGap)
}

func clip(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
