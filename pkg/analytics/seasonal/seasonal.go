package seasonal

import (
	"fmt"
	"time"

	"github.com/vitalis-health/sentinel/pkg/common/models"
)

// Analyzer classifies calendar-month visit trends. Each call recomputes from
// its inputs; repeated calls with the same input yield the same output.
type Analyzer struct {
	deviationPct float64
}

func NewAnalyzer(deviationPct float64) *Analyzer {
	return &Analyzer{deviationPct: deviationPct}
}

// Analyze groups visits by calendar month (ignoring year), computes each
// month's average visits per day and its percentage deviation from the
// overall per-day average, and classifies HIGH / NORMAL / LOW.
func (a *Analyzer) Analyze(visits []models.VisitRecord, from, to time.Time) ([]models.SeasonalTrend, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("invalid range: end %s before start %s", to.Format("2006-01-02"), from.Format("2006-01-02"))
	}

	from = truncateDay(from)
	to = truncateDay(to)

	var daysPerMonth [13]int
	totalDays := 0
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		daysPerMonth[day.Month()]++
		totalDays++
	}

	var visitsPerMonth [13]int
	totalVisits := 0
	for _, visit := range visits {
		day := truncateDay(visit.VisitDate)
		if day.Before(from) || day.After(to) {
			continue
		}
		visitsPerMonth[day.Month()]++
		totalVisits++
	}

	if totalDays == 0 || totalVisits == 0 {
		return nil, fmt.Errorf("no visit data in range")
	}
	overallPerDay := float64(totalVisits) / float64(totalDays)

	trends := make([]models.SeasonalTrend, 0, 12)
	for month := time.January; month <= time.December; month++ {
		days := daysPerMonth[month]
		if days == 0 {
			continue
		}
		perDay := float64(visitsPerMonth[month]) / float64(days)
		deviation := (perDay - overallPerDay) / overallPerDay * 100
		trends = append(trends, models.SeasonalTrend{
			Month:         month,
			VisitCount:    visitsPerMonth[month],
			AveragePerDay: perDay,
			DeviationPct:  deviation,
			Level:         a.classify(deviation),
		})
	}
	return trends, nil
}

func (a *Analyzer) classify(deviationPct float64) models.TrendLevel {
	switch {
	case deviationPct > a.deviationPct:
		return models.TrendHigh
	case deviationPct < -a.deviationPct:
		return models.TrendLow
	default:
		return models.TrendNormal
	}
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
