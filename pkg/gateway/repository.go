package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/vitalis-health/sentinel/pkg/common/logger"
	"github.com/vitalis-health/sentinel/pkg/common/models"
	"gorm.io/gorm"
)

const recentVisitWindow = 90 * 24 * time.Hour

type patientRow struct {
	ID        string    `gorm:"primaryKey;column:id"`
	BirthDate time.Time `gorm:"column:birth_date"`
	BloodType string    `gorm:"column:blood_type"`
	IsActive  bool      `gorm:"column:is_active"`
}

func (patientRow) TableName() string { return "patients" }

type visitRow struct {
	ID        int64     `gorm:"primaryKey;autoIncrement;column:id"`
	PatientID string    `gorm:"column:patient_id;index"`
	VisitDate time.Time `gorm:"column:visit_date;index"`
	Reason    string    `gorm:"column:reason"`
}

func (visitRow) TableName() string { return "patient_visits" }

type allergyRow struct {
	ID         int64     `gorm:"primaryKey;autoIncrement;column:id"`
	PatientID  string    `gorm:"column:patient_id;index"`
	Allergen   string    `gorm:"column:allergen"`
	Severity   string    `gorm:"column:severity"` // Mild, Moderate, Severe
	RecordedAt time.Time `gorm:"column:recorded_at"`
}

func (allergyRow) TableName() string { return "patient_allergies" }

type vaccinationRow struct {
	ID             int64     `gorm:"primaryKey;autoIncrement;column:id"`
	PatientID      string    `gorm:"column:patient_id;index"`
	Vaccine        string    `gorm:"column:vaccine"`
	AdministeredAt time.Time `gorm:"column:administered_at"`
}

func (vaccinationRow) TableName() string { return "patient_vaccinations" }

type labRow struct {
	ID         int64     `gorm:"primaryKey;autoIncrement;column:id"`
	PatientID  string    `gorm:"column:patient_id;index"`
	TestName   string    `gorm:"column:test_name"`
	Abnormal   bool      `gorm:"column:abnormal"`
	ResultedAt time.Time `gorm:"column:resulted_at"`
}

func (labRow) TableName() string { return "patient_lab_results" }

type diagnosisRow struct {
	ID          int64     `gorm:"primaryKey;autoIncrement;column:id"`
	PatientID   string    `gorm:"column:patient_id;index"`
	Category    string    `gorm:"column:category"`
	Active      bool      `gorm:"column:active"`
	DiagnosedAt time.Time `gorm:"column:diagnosed_at"`
}

func (diagnosisRow) TableName() string { return "patient_diagnoses" }

// ClinicalStore is the gorm-backed Source. All queries are reads; the engine
// owns none of these tables.
type ClinicalStore struct {
	db *gorm.DB
}

func NewClinicalStore(db *gorm.DB) *ClinicalStore {
	return &ClinicalStore{db: db}
}

func (s *ClinicalStore) AutoMigrate() error {
	return s.db.AutoMigrate(&patientRow{}, &visitRow{}, &allergyRow{}, &vaccinationRow{}, &labRow{}, &diagnosisRow{})
}

func (s *ClinicalStore) GetSnapshot(ctx context.Context, patientID string) (models.ClinicalSnapshot, error) {
	var patient patientRow
	result := s.db.WithContext(ctx).First(&patient, "id = ?", patientID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return models.ClinicalSnapshot{}, ErrPatientNotFound
	}
	if result.Error != nil {
		return models.ClinicalSnapshot{}, result.Error
	}
	return s.buildSnapshot(ctx, patient, time.Now().UTC())
}

func (s *ClinicalStore) GetCohortSnapshots(ctx context.Context, patientIDs []string) ([]models.ClinicalSnapshot, error) {
	query := s.db.WithContext(ctx).Where("is_active = ?", true)
	if len(patientIDs) > 0 {
		query = query.Where("id IN ?", patientIDs)
	}
	var patients []patientRow
	if err := query.Find(&patients).Error; err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	snapshots := make([]models.ClinicalSnapshot, 0, len(patients))
	for _, patient := range patients {
		snapshot, err := s.buildSnapshot(ctx, patient, now)
		if err != nil {
			// One unreadable patient must not sink the cohort load.
			logger.Log.WithError(err).WithField("patient_id", patient.ID).Warn("skipping patient: snapshot unavailable")
			continue
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, nil
}

func (s *ClinicalStore) GetVisitHistory(ctx context.Context, from, to time.Time) ([]models.VisitRecord, error) {
	var rows []visitRow
	err := s.db.WithContext(ctx).
		Where("visit_date >= ? AND visit_date <= ?", from, to).
		Order("visit_date ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	records := make([]models.VisitRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, models.VisitRecord{PatientID: row.PatientID, VisitDate: row.VisitDate})
	}
	return records, nil
}

func (s *ClinicalStore) buildSnapshot(ctx context.Context, patient patientRow, asOf time.Time) (models.ClinicalSnapshot, error) {
	snapshot := models.ClinicalSnapshot{
		PatientID: patient.ID,
		Age:       age(patient.BirthDate, asOf),
		BloodType: patient.BloodType,
		TakenAt:   asOf,
	}

	var visits []visitRow
	if err := s.db.WithContext(ctx).Where("patient_id = ?", patient.ID).Order("visit_date ASC").Find(&visits).Error; err != nil {
		return models.ClinicalSnapshot{}, err
	}
	recentCutoff := asOf.Add(-recentVisitWindow)
	for _, v := range visits {
		snapshot.VisitDates = append(snapshot.VisitDates, v.VisitDate)
		if v.VisitDate.After(recentCutoff) {
			snapshot.RecentVisitCount++
		}
	}
	snapshot.VisitCount = len(visits)

	var allergies []allergyRow
	if err := s.db.WithContext(ctx).Where("patient_id = ?", patient.ID).Find(&allergies).Error; err != nil {
		return models.ClinicalSnapshot{}, err
	}
	for _, a := range allergies {
		snapshot.Allergies = append(snapshot.Allergies, models.AllergyEvent{
			Allergen:   a.Allergen,
			Severity:   a.Severity,
			RecordedAt: a.RecordedAt,
		})
		if a.Severity == "Severe" {
			snapshot.SevereAllergyCount++
		}
	}
	snapshot.AllergyCount = len(allergies)

	var vaccinations []vaccinationRow
	if err := s.db.WithContext(ctx).Where("patient_id = ?", patient.ID).Order("administered_at ASC").Find(&vaccinations).Error; err != nil {
		return models.ClinicalSnapshot{}, err
	}
	for _, v := range vaccinations {
		snapshot.VaccinationDates = append(snapshot.VaccinationDates, v.AdministeredAt)
	}
	snapshot.VaccinationCount = len(vaccinations)
	if n := len(vaccinations); n > 0 {
		last := vaccinations[n-1].AdministeredAt
		snapshot.LastVaccination = &last
	}

	var labs []labRow
	if err := s.db.WithContext(ctx).Where("patient_id = ?", patient.ID).Find(&labs).Error; err != nil {
		return models.ClinicalSnapshot{}, err
	}
	for _, l := range labs {
		snapshot.LabResults = append(snapshot.LabResults, models.LabEvent{
			TestName:   l.TestName,
			Abnormal:   l.Abnormal,
			ResultedAt: l.ResultedAt,
		})
		if l.Abnormal {
			snapshot.AbnormalLabCount++
		}
	}
	snapshot.LabResultCount = len(labs)

	var diagnoses []diagnosisRow
	if err := s.db.WithContext(ctx).Where("patient_id = ?", patient.ID).Find(&diagnoses).Error; err != nil {
		return models.ClinicalSnapshot{}, err
	}
	for _, d := range diagnoses {
		snapshot.Diagnoses = append(snapshot.Diagnoses, models.DiagnosisEvent{
			Category:    d.Category,
			Active:      d.Active,
			DiagnosedAt: d.DiagnosedAt,
		})
		if d.Active {
			snapshot.ActiveDiagnosisCount++
		}
	}
	snapshot.DiagnosisCount = len(diagnoses)

	return snapshot, nil
}

func age(birthDate time.Time, asOf time.Time) int {
	if birthDate.IsZero() {
		return 0
	}
	years := asOf.Year() - birthDate.Year()
	if asOf.YearDay() < birthDate.YearDay() {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}
