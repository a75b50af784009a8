package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vitalis-health/sentinel/pkg/alerts"
	"github.com/vitalis-health/sentinel/pkg/common/config"
	"github.com/vitalis-health/sentinel/pkg/common/logger"
	"github.com/vitalis-health/sentinel/pkg/common/models"
	"github.com/vitalis-health/sentinel/pkg/matcher"
	"github.com/vitalis-health/sentinel/pkg/risk"
)

// ErrRunInProgress is returned when a cycle is requested while one is
// already running. Overlapping cycles are never started.
var ErrRunInProgress = errors.New("detection run already in progress")

// State of the detection pipeline, visible on the health endpoint.
type State string

const (
	StateIdle            State = "IDLE"
	StateLoadingSnapshot State = "LOADING_SNAPSHOT"
	StateMatching        State = "MATCHING"
	StateScoring         State = "SCORING"
	StateAlerting        State = "ALERTING"
)

// PatternSource provides the per-run copy of active patterns.
type PatternSource interface {
	Snapshot(ctx context.Context) ([]models.MedicalPattern, error)
}

// CohortSource loads the clinical snapshots a run works over.
type CohortSource interface {
	GetCohortSnapshots(ctx context.Context, patientIDs []string) ([]models.ClinicalSnapshot, error)
}

// Publisher emits cycle lifecycle events; delivery is external.
type Publisher interface {
	PublishEvent(ctx context.Context, eventType, source string, data map[string]interface{}) error
}

// Options carries the scheduler tunables.
type Options struct {
	Interval  time.Duration
	RunBudget time.Duration
	Workers   int
	Publisher Publisher
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Interval:  cfg.DetectionInterval,
		RunBudget: cfg.RunBudget,
		Workers:   cfg.RunWorkers,
	}
}

// Scheduler drives periodic detection cycles and serializes them: one cycle
// at a time, each working from its own pattern snapshot. A cycle walks
// LOADING_SNAPSHOT, MATCHING, SCORING, ALERTING and returns to IDLE.
type Scheduler struct {
	patterns   PatternSource
	cohort     CohortSource
	matcher    *matcher.Matcher
	riskEngine *risk.Engine
	generator  *alerts.Generator
	opts       Options

	trigger chan []string
	running chan struct{}

	mu         sync.Mutex
	state      State
	lastReport *models.RunReport
}

func New(patterns PatternSource, cohort CohortSource, m *matcher.Matcher, engine *risk.Engine, generator *alerts.Generator, opts Options) *Scheduler {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Scheduler{
		patterns:   patterns,
		cohort:     cohort,
		matcher:    m,
		riskEngine: engine,
		generator:  generator,
		opts:       opts,
		trigger:    make(chan []string, 1),
		running:    make(chan struct{}, 1),
		state:      StateIdle,
	}
}

// Start runs the periodic loop until ctx is cancelled. On-demand triggers
// share the same loop, so they can never overlap a scheduled cycle.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	logger.Log.WithField("interval", s.opts.Interval.String()).Info("detection scheduler started")
	for {
		select {
		case <-ctx.Done():
			logger.Log.Info("detection scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.RunCycle(ctx, nil); err != nil && !errors.Is(err, ErrRunInProgress) {
				logger.Log.WithError(err).Error("scheduled detection cycle failed")
			}
		case patientIDs := <-s.trigger:
			if _, err := s.RunCycle(ctx, patientIDs); err != nil && !errors.Is(err, ErrRunInProgress) {
				logger.Log.WithError(err).Error("on-demand detection cycle failed")
			}
		}
	}
}

// TriggerRun queues an on-demand cycle, optionally scoped to the given
// patients; an empty set means the full active cohort. It reports false when
// a trigger is already pending and this request was not queued.
func (s *Scheduler) TriggerRun(patientIDs []string) bool {
	select {
	case s.trigger <- patientIDs:
		return true
	default:
		return false
	}
}

// State reports the current pipeline phase.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastReport returns the most recent completed run report, or nil before the
// first cycle finishes.
func (s *Scheduler) LastReport() *models.RunReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastReport == nil {
		return nil
	}
	report := *s.lastReport
	return &report
}

// RunCycle executes one detection cycle under the run budget, over the given
// patients or the full active cohort when patientIDs is empty. A second
// caller while a cycle is running gets ErrRunInProgress and no work happens.
func (s *Scheduler) RunCycle(ctx context.Context, patientIDs []string) (models.RunReport, error) {
	select {
	case s.running <- struct{}{}:
	default:
		logger.Log.Warn("detection cycle requested while one is running")
		return models.RunReport{}, ErrRunInProgress
	}
	defer func() { <-s.running }()

	ctx, cancel := context.WithTimeout(ctx, s.opts.RunBudget)
	defer cancel()

	asOf := time.Now().UTC()
	report := models.RunReport{
		RunID:     uuid.New(),
		StartedAt: asOf,
	}
	logger.Log.WithField("run_id", report.RunID.String()).Info("detection cycle started")

	s.setState(StateLoadingSnapshot)
	defer s.setState(StateIdle)

	patterns, err := s.patterns.Snapshot(ctx)
	if err != nil {
		logger.Log.WithError(err).Error("failed to load pattern snapshot")
		return report, err
	}
	snapshots, err := s.cohort.GetCohortSnapshots(ctx, patientIDs)
	if err != nil {
		logger.Log.WithError(err).Error("failed to load cohort snapshots")
		return report, err
	}
	if len(patientIDs) > 0 {
		logger.Log.WithFields(map[string]interface{}{
			"run_id":    report.RunID.String(),
			"requested": len(patientIDs),
			"loaded":    len(snapshots),
		}).Info("detection cycle scoped to requested patients")
	}

	s.setState(StateMatching)
	matches, diagnostics := s.matcher.Run(ctx, patterns, snapshots, asOf)
	report.PatternsEvaluated = len(patterns)
	report.PatternsFailed = len(diagnostics)
	report.MatchesEmitted = len(matches)
	for _, diag := range diagnostics {
		logger.Log.WithFields(map[string]interface{}{
			"pattern": diag.PatternName,
			"reason":  diag.Reason,
		}).Error("pattern evaluation failed")
		s.publish(ctx, "pattern.diagnostic", map[string]interface{}{
			"run_id":       report.RunID.String(),
			"pattern_id":   diag.PatternID.String(),
			"pattern_name": diag.PatternName,
			"reason":       diag.Reason,
		})
	}

	s.setState(StateScoring)
	results := s.scoreCohort(ctx, snapshots, &report)

	s.setState(StateAlerting)
	s.raiseAlerts(ctx, matches, results, &report)

	completed := time.Now().UTC()
	report.CompletedAt = &completed

	s.mu.Lock()
	s.lastReport = &report
	s.mu.Unlock()

	s.publish(ctx, "cycle.completed", map[string]interface{}{
		"run_id":             report.RunID.String(),
		"patients_processed": report.PatientsProcessed,
		"patients_skipped":   report.PatientsSkipped,
		"patterns_evaluated": report.PatternsEvaluated,
		"patterns_failed":    report.PatternsFailed,
		"matches_emitted":    report.MatchesEmitted,
		"alerts_created":     report.AlertsCreated,
		"alerts_refreshed":   report.AlertsRefreshed,
	})
	logger.Log.WithFields(map[string]interface{}{
		"run_id":             report.RunID.String(),
		"duration":           completed.Sub(report.StartedAt).String(),
		"patients_processed": report.PatientsProcessed,
		"matches_emitted":    report.MatchesEmitted,
		"alerts_created":     report.AlertsCreated,
	}).Info("detection cycle completed")
	return report, nil
}

// scoreCohort scores every snapshot through a bounded worker pool. A patient
// skipped on context expiry is logged for the next cycle to pick up.
func (s *Scheduler) scoreCohort(ctx context.Context, snapshots []models.ClinicalSnapshot, report *models.RunReport) []models.RiskResult {
	results := make([]models.RiskResult, len(snapshots))
	scored := make([]bool, len(snapshots))

	var wg sync.WaitGroup
	sem := make(chan struct{}, s.opts.Workers)
	for i := range snapshots {
		if ctx.Err() != nil {
			logger.Log.WithField("patient_id", snapshots[i].PatientID).Warn("patient skipped, run budget exhausted")
			report.PatientsSkipped++
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = s.riskEngine.Score(snapshots[i])
			scored[i] = true
		}(i)
	}
	wg.Wait()

	kept := make([]models.RiskResult, 0, len(results))
	for i := range results {
		if scored[i] {
			kept = append(kept, results[i])
			report.PatientsProcessed++
		}
	}
	return kept
}

// raiseAlerts feeds matches and risk results through the alert generator.
// One failed patient costs that patient's alert, never the cycle.
func (s *Scheduler) raiseAlerts(ctx context.Context, matches []models.PatternMatch, results []models.RiskResult, report *models.RunReport) {
	var mu sync.Mutex
	count := func(outcome alerts.Outcome) {
		mu.Lock()
		defer mu.Unlock()
		switch outcome {
		case alerts.OutcomeCreated:
			report.AlertsCreated++
		case alerts.OutcomeRefreshed:
			report.AlertsRefreshed++
		}
	}

	for _, match := range matches {
		outcome, err := s.generator.ProcessMatch(ctx, match)
		if err != nil {
			logger.Log.WithError(err).WithFields(map[string]interface{}{
				"patient_id": match.PatientID,
				"pattern":    match.PatternName,
			}).Error("failed to raise pattern alert")
			continue
		}
		count(outcome)
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, s.opts.Workers)
	for i := range results {
		if ctx.Err() != nil {
			logger.Log.WithField("patient_id", results[i].PatientID).Warn("patient alerting skipped, run budget exhausted")
			mu.Lock()
			report.PatientsSkipped++
			mu.Unlock()
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(result models.RiskResult) {
			defer wg.Done()
			defer func() { <-sem }()
			outcome, err := s.generator.ProcessRisk(ctx, result)
			if err != nil {
				logger.Log.WithError(err).WithField("patient_id", result.PatientID).Error("failed to raise risk alert")
				return
			}
			count(outcome)
		}(results[i])
	}
	wg.Wait()
}

func (s *Scheduler) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Scheduler) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if s.opts.Publisher == nil {
		return
	}
	if err := s.opts.Publisher.PublishEvent(ctx, eventType, "scheduler", data); err != nil {
		logger.Log.WithError(err).WithField("event_type", eventType).Warn("cycle event publish failed")
	}
}
