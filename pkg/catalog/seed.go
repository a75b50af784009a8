package catalog

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vitalis-health/sentinel/pkg/common/models"
	"github.com/vitalis-health/sentinel/pkg/condition"
	"gopkg.in/yaml.v3"
)

type seedPattern struct {
	Name                string              `yaml:"name" json:"name"`
	Description         string              `yaml:"description" json:"description"`
	MinimumCases        int                 `yaml:"minimum_cases" json:"minimum_cases"`
	ConfidenceThreshold float64             `yaml:"confidence_threshold" json:"confidence_threshold"`
	Trigger             condition.Condition `yaml:"trigger" json:"trigger"`
	Outcome             condition.Condition `yaml:"outcome" json:"outcome"`
}

type seedFile struct {
	Patterns []seedPattern `yaml:"patterns" json:"patterns"`
}

// LoadSeedPatterns reads pattern definitions from a YAML file, falling back
// to the built-in defaults when no path is configured.
func LoadSeedPatterns(path string) ([]models.MedicalPattern, error) {
	if path == "" {
		return DefaultSeedPatterns(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var file seedFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, err
	}
	if len(file.Patterns) == 0 {
		return nil, fmt.Errorf("no seed patterns in %s", path)
	}
	patterns := make([]models.MedicalPattern, 0, len(file.Patterns))
	for _, seed := range file.Patterns {
		patterns = append(patterns, models.MedicalPattern{
			Name:                seed.Name,
			Description:         seed.Description,
			Trigger:             seed.Trigger,
			Outcome:             seed.Outcome,
			MinimumCases:        seed.MinimumCases,
			ConfidenceThreshold: seed.ConfidenceThreshold,
			IsActive:            true,
		})
	}
	return patterns, nil
}

// DefaultSeedPatterns are the rules shipped with the engine.
func DefaultSeedPatterns() []models.MedicalPattern {
	return []models.MedicalPattern{
		{
			Name:        "ALLERGY_RESPIRATORY_RISK",
			Description: "Patients carrying three or more allergies tend to develop respiratory diagnoses within six months",
			Trigger:     condition.Compare("allergy_count", condition.OpGTE, 3),
			Outcome: condition.And(
				condition.In("diagnosis_category", "RESPIRATORY"),
				condition.WithinDays("diagnosis", "RESPIRATORY", 180, 1),
			),
			MinimumCases:        10,
			ConfidenceThreshold: 0.7,
			IsActive:            true,
		},
		{
			Name:                "FREQUENT_VISITOR_CHRONIC",
			Description:         "Heavy recent visit activity followed by an active chronic diagnosis",
			Trigger:             condition.WithinDays("visit", "", 90, 4),
			Outcome:             condition.Compare("active_diagnosis_count", condition.OpGTE, 2),
			MinimumCases:        10,
			ConfidenceThreshold: 0.7,
			IsActive:            true,
		},
		{
			Name:                "LAPSED_VACCINATION_ABNORMAL_LABS",
			Description:         "Long vaccination gaps co-occurring with elevated abnormal lab ratios",
			Trigger:             condition.Compare("months_since_vaccination", condition.OpGTE, 24),
			Outcome:             condition.Compare("lab_abnormal_ratio", condition.OpGTE, 0.25),
			MinimumCases:        15,
			ConfidenceThreshold: 0.65,
			IsActive:            true,
		},
	}
}
