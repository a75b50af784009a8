package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/vitalis-health/sentinel/pkg/common/models"
)

var ErrPatientNotFound = errors.New("patient not found")

// Source is the read-only query surface over clinical data. The engine never
// mutates anything behind it; a failed query for one patient skips that
// patient for the run, never the run itself.
type Source interface {
	// GetSnapshot assembles the point-in-time clinical aggregate for one
	// patient.
	GetSnapshot(ctx context.Context, patientID string) (models.ClinicalSnapshot, error)
	// GetCohortSnapshots loads snapshots for the given patients, or for
	// every active patient when patientIDs is empty.
	GetCohortSnapshots(ctx context.Context, patientIDs []string) ([]models.ClinicalSnapshot, error)
	// GetVisitHistory returns raw visit rows in the date range, for
	// seasonal aggregation.
	GetVisitHistory(ctx context.Context, from, to time.Time) ([]models.VisitRecord, error)
}
