package correlation

import (
	"fmt"
	"math"

	"github.com/vitalis-health/sentinel/pkg/common/models"
	"github.com/vitalis-health/sentinel/pkg/risk"
)

// Factors the analyzer understands.
const (
	FactorAge          = "age"
	FactorAllergyCount = "allergy_count"
	FactorVisitCount   = "visit_count"
	FactorVaccinations = "vaccination_count"
	FactorRisk         = "risk"
	FactorBloodType    = "blood_type"
)

// Below this cohort size a STRONG label would be noise.
const strongSampleFloor = 30

// Analyzer computes pairwise factor associations over a cohort. Each call is
// independent; nothing accumulates between calls.
type Analyzer struct {
	minSample  int
	riskEngine *risk.Engine
}

func NewAnalyzer(minSample int, riskEngine *risk.Engine) *Analyzer {
	return &Analyzer{minSample: minSample, riskEngine: riskEngine}
}

// Analyze computes the association between two named factors. Cohorts below
// the minimum sample return an insufficient-data result, never a numeric
// coefficient dressed up as significant.
func (a *Analyzer) Analyze(factorA, factorB string, snapshots []models.ClinicalSnapshot) (models.CorrelationResult, error) {
	result := models.CorrelationResult{
		FactorA:    factorA,
		FactorB:    factorB,
		SampleSize: len(snapshots),
	}

	catA, catB := factorA == FactorBloodType, factorB == FactorBloodType
	if catA && catB {
		return models.CorrelationResult{}, fmt.Errorf("at least one continuous factor is required")
	}
	if !catA && !isContinuous(factorA) {
		return models.CorrelationResult{}, fmt.Errorf("unknown factor %q", factorA)
	}
	if !catB && !isContinuous(factorB) {
		return models.CorrelationResult{}, fmt.Errorf("unknown factor %q", factorB)
	}

	if len(snapshots) < a.minSample {
		result.Insufficient = true
		result.Significance = models.SignificanceNone
		return result, nil
	}

	var coefficient float64
	switch {
	case catA:
		coefficient = correlationRatio(a.categories(snapshots), a.values(factorB, snapshots))
	case catB:
		coefficient = correlationRatio(a.categories(snapshots), a.values(factorA, snapshots))
	default:
		coefficient = pearson(a.values(factorA, snapshots), a.values(factorB, snapshots))
	}

	result.Coefficient = coefficient
	result.Significance = a.significance(coefficient, len(snapshots))
	return result, nil
}

func isContinuous(factor string) bool {
	switch factor {
	case FactorAge, FactorAllergyCount, FactorVisitCount, FactorVaccinations, FactorRisk:
		return true
	}
	return false
}

func (a *Analyzer) values(factor string, snapshots []models.ClinicalSnapshot) []float64 {
	values := make([]float64, len(snapshots))
	for i, snapshot := range snapshots {
		switch factor {
		case FactorAge:
			values[i] = float64(snapshot.Age)
		case FactorAllergyCount:
			values[i] = float64(snapshot.AllergyCount)
		case FactorVisitCount:
			values[i] = float64(snapshot.VisitCount)
		case FactorVaccinations:
			values[i] = float64(snapshot.VaccinationCount)
		case FactorRisk:
			values[i] = a.riskEngine.Score(snapshot).Score
		}
	}
	return values
}

func (a *Analyzer) categories(snapshots []models.ClinicalSnapshot) []string {
	categories := make([]string, len(snapshots))
	for i, snapshot := range snapshots {
		categories[i] = snapshot.BloodType
	}
	return categories
}

func (a *Analyzer) significance(coefficient float64, sampleSize int) models.Significance {
	strength := math.Abs(coefficient)
	var label models.Significance
	switch {
	case strength < 0.2:
		label = models.SignificanceNone
	case strength < 0.4:
		label = models.SignificanceWeak
	case strength < 0.7:
		label = models.SignificanceModerate
	default:
		label = models.SignificanceStrong
	}
	if label == models.SignificanceStrong && sampleSize < strongSampleFloor {
		label = models.SignificanceModerate
	}
	return label
}

func pearson(xs, ys []float64) float64 {
	n := float64(len(xs))
	if n == 0 {
		return 0
	}
	var sumX, sumY float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX, meanY := sumX/n, sumY/n

	var cov, varX, varY float64
	for i := range xs {
		dx := xs[i] - meanX
		dy := ys[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0
	}
	return cov / math.Sqrt(varX*varY)
}

// correlationRatio (eta) measures association between a categorical and a
// continuous factor. It lives in [0,1] by construction.
func correlationRatio(categories []string, values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	groups := make(map[string][]float64)
	var total float64
	for i, category := range categories {
		groups[category] = append(groups[category], values[i])
		total += values[i]
	}
	grandMean := total / float64(len(values))

	var ssBetween, ssTotal float64
	for _, members := range groups {
		var groupSum float64
		for _, v := range members {
			groupSum += v
		}
		groupMean := groupSum / float64(len(members))
		ssBetween += float64(len(members)) * (groupMean - grandMean) * (groupMean - grandMean)
	}
	for _, v := range values {
		ssTotal += (v - grandMean) * (v - grandMean)
	}
	if ssTotal == 0 {
		return 0
	}
	return math.Sqrt(ssBetween / ssTotal)
}
