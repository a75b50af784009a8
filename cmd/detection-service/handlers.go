package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/vitalis-health/sentinel/pkg/alerts"
	"github.com/vitalis-health/sentinel/pkg/catalog"
	"github.com/vitalis-health/sentinel/pkg/common/models"
	"github.com/vitalis-health/sentinel/pkg/gateway"
	"github.com/vitalis-health/sentinel/pkg/matcher"
)

// matchStore is what the handlers need from match persistence; the matcher
// Repository satisfies it.
type matchStore interface {
	ListByPatient(ctx context.Context, patientID string, limit int) ([]models.PatternMatch, error)
	PendingNotification(ctx context.Context) ([]models.PatternMatch, error)
	MarkNotified(ctx context.Context, id uuid.UUID) error
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func (s *DetectionService) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"state":  s.scheduler.State(),
	})
}

// handleTriggerRun queues an on-demand cycle. An optional body narrows the
// run to specific patients; no body means the full active cohort.
func (s *DetectionService) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PatientIDs []string `json:"patient_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if !s.scheduler.TriggerRun(req.PatientIDs) {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"queued":  false,
			"message": "a detection run is already pending",
		})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"queued": true})
}

func (s *DetectionService) handleLastReport(w http.ResponseWriter, r *http.Request) {
	report := s.scheduler.LastReport()
	if report == nil {
		http.Error(w, "no completed run yet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *DetectionService) handleSavePattern(w http.ResponseWriter, r *http.Request) {
	var pattern models.MedicalPattern
	if err := json.NewDecoder(r.Body).Decode(&pattern); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	saved, err := s.catalog.Save(r.Context(), pattern)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *DetectionService) handleListPatterns(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	patterns, err := s.catalog.List(r.Context(), activeOnly)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, patterns)
}

func (s *DetectionService) handleGetPattern(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid pattern id", http.StatusBadRequest)
		return
	}
	pattern, err := s.catalog.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			http.Error(w, "Pattern not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, pattern)
}

// Patterns are deactivated, never deleted; match history keeps its ancestry.
func (s *DetectionService) handleDeactivatePattern(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid pattern id", http.StatusBadRequest)
		return
	}
	if err := s.catalog.Deactivate(r.Context(), id); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			http.Error(w, "Pattern not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deactivated": true})
}

func (s *DetectionService) handlePatientRisk(w http.ResponseWriter, r *http.Request) {
	patientID := mux.Vars(r)["id"]
	snapshot, err := s.source.GetSnapshot(r.Context(), patientID)
	if err != nil {
		if errors.Is(err, gateway.ErrPatientNotFound) {
			http.Error(w, "Patient not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, s.riskEngine.Score(snapshot))
}

func (s *DetectionService) handlePatientMatches(w http.ResponseWriter, r *http.Request) {
	patientID := mux.Vars(r)["id"]
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	matches, err := s.matches.ListByPatient(r.Context(), patientID, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

func (s *DetectionService) handlePendingMatches(w http.ResponseWriter, r *http.Request) {
	pending, err := s.matches.PendingNotification(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

func (s *DetectionService) handleMatchNotified(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid match id", http.StatusBadRequest)
		return
	}
	if err := s.matches.MarkNotified(r.Context(), id); err != nil {
		if errors.Is(err, matcher.ErrNotFound) {
			http.Error(w, "Match not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"notified": true})
}

func (s *DetectionService) handleCorrelation(w http.ResponseWriter, r *http.Request) {
	factorA := r.URL.Query().Get("factor_a")
	factorB := r.URL.Query().Get("factor_b")
	if factorA == "" || factorB == "" {
		http.Error(w, "factor_a and factor_b are required", http.StatusBadRequest)
		return
	}

	snapshots, err := s.source.GetCohortSnapshots(r.Context(), nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	result, err := s.correlation.Analyze(factorA, factorB, snapshots)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *DetectionService) handleSeasonal(w http.ResponseWriter, r *http.Request) {
	to := time.Now().UTC()
	from := to.AddDate(-1, 0, 0)
	var err error
	if v := r.URL.Query().Get("from"); v != "" {
		if from, err = time.Parse("2006-01-02", v); err != nil {
			http.Error(w, "Invalid from date", http.StatusBadRequest)
			return
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if to, err = time.Parse("2006-01-02", v); err != nil {
			http.Error(w, "Invalid to date", http.StatusBadRequest)
			return
		}
	}

	visits, err := s.source.GetVisitHistory(r.Context(), from, to)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	trends, err := s.seasonal.Analyze(visits, from, to)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, trends)
}

func (s *DetectionService) handlePendingAlerts(w http.ResponseWriter, r *http.Request) {
	pending, err := s.generator.PendingNotification(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

func (s *DetectionService) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid alert id", http.StatusBadRequest)
		return
	}

	var req struct {
		ReadBy string `json:"read_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ReadBy == "" {
		http.Error(w, "read_by is required", http.StatusBadRequest)
		return
	}

	if err := s.generator.Acknowledge(r.Context(), id, req.ReadBy); err != nil {
		if errors.Is(err, alerts.ErrNotFound) {
			http.Error(w, "No unread alert with that id", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"acknowledged": true})
}

func (s *DetectionService) handleMarkNotified(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid alert id", http.StatusBadRequest)
		return
	}
	if err := s.generator.MarkNotified(r.Context(), id); err != nil {
		if errors.Is(err, alerts.ErrNotFound) {
			http.Error(w, fmt.Sprintf("Alert %s not found", id), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"notified": true})
}
