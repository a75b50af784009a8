package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server
	ServerPort   string
	ServerHost   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers []string
	KafkaGroupID string
	KafkaTopic   string

	// Clinical data gateway
	SnapshotCacheTTL time.Duration

	// Risk scoring
	RiskWeightRecentVisits     float64
	RiskWeightAllergies        float64
	RiskWeightChronicDiagnoses float64
	RiskWeightLabAbnormality   float64
	RiskWeightVaccinationGap   float64

	RiskCapRecentVisits     float64 // visits in the last 90 days that saturate the signal
	RiskCapAllergies        float64 // allergy count (severe counted twice) that saturates
	RiskCapActiveDiagnoses  float64
	RiskCapLabAbnormalRatio float64
	RiskCapVaccinationGap   float64 // months since last vaccination that saturate

	RiskBandMedium   float64
	RiskBandHigh     float64
	RiskBandCritical float64
	RiskNotable      float64

	// Pattern matching
	DefaultConfidenceThreshold float64
	DefaultMinimumCases        int
	PatternSeedPath            string

	// Correlation
	CorrelationMinSample int

	// Seasonal trends
	SeasonalDeviationPct float64

	// Scheduler
	DetectionInterval time.Duration
	RunBudget         time.Duration
	RunWorkers        int
}

func Load() *Config {
	return &Config{
		ServerPort:   getEnv("SERVER_PORT", "8080"),
		ServerHost:   getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:  getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout: getDuration("WRITE_TIMEOUT", 30*time.Second),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "sentinel"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "sentinel123"),
		PostgresDB:       getEnv("POSTGRES_DB", "sentinel"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers: getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "sentinel-engine"),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "sentinel.events"),

		SnapshotCacheTTL: getDuration("SNAPSHOT_CACHE_TTL", 5*time.Minute),

		RiskWeightRecentVisits:     getFloatEnv("RISK_WEIGHT_RECENT_VISITS", 0.25),
		RiskWeightAllergies:        getFloatEnv("RISK_WEIGHT_ALLERGIES", 0.20),
		RiskWeightChronicDiagnoses: getFloatEnv("RISK_WEIGHT_CHRONIC_DIAGNOSES", 0.25),
		RiskWeightLabAbnormality:   getFloatEnv("RISK_WEIGHT_LAB_ABNORMALITY", 0.20),
		RiskWeightVaccinationGap:   getFloatEnv("RISK_WEIGHT_VACCINATION_GAP", 0.10),

		RiskCapRecentVisits:     getFloatEnv("RISK_CAP_RECENT_VISITS", 6),
		RiskCapAllergies:        getFloatEnv("RISK_CAP_ALLERGIES", 5),
		RiskCapActiveDiagnoses:  getFloatEnv("RISK_CAP_ACTIVE_DIAGNOSES", 3),
		RiskCapLabAbnormalRatio: getFloatEnv("RISK_CAP_LAB_ABNORMAL_RATIO", 0.5),
		RiskCapVaccinationGap:   getFloatEnv("RISK_CAP_VACCINATION_GAP_MONTHS", 36),

		RiskBandMedium:   getFloatEnv("RISK_BAND_MEDIUM", 0.3),
		RiskBandHigh:     getFloatEnv("RISK_BAND_HIGH", 0.6),
		RiskBandCritical: getFloatEnv("RISK_BAND_CRITICAL", 0.8),
		RiskNotable:      getFloatEnv("RISK_NOTABLE_THRESHOLD", 0.5),

		DefaultConfidenceThreshold: getFloatEnv("DEFAULT_CONFIDENCE_THRESHOLD", 0.7),
		DefaultMinimumCases:        getIntEnv("DEFAULT_MINIMUM_CASES", 10),
		PatternSeedPath:            getEnv("PATTERN_SEED_PATH", ""),

		CorrelationMinSample: getIntEnv("CORRELATION_MIN_SAMPLE", 10),

		SeasonalDeviationPct: getFloatEnv("SEASONAL_DEVIATION_PCT", 15),

		DetectionInterval: getDuration("DETECTION_INTERVAL", 6*time.Hour),
		RunBudget:         getDuration("DETECTION_RUN_BUDGET", 30*time.Minute),
		RunWorkers:        getIntEnv("DETECTION_RUN_WORKERS", 8),
	}
}

// Validate rejects miscalibrated engine settings. The engine refuses to run
// with weights that do not sum to 1.0 or thresholds outside [0,1].
func (c *Config) Validate() error {
	sum := c.RiskWeightRecentVisits + c.RiskWeightAllergies + c.RiskWeightChronicDiagnoses +
		c.RiskWeightLabAbnormality + c.RiskWeightVaccinationGap
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("risk weights must sum to 1.0, got %.6f", sum)
	}
	for name, w := range map[string]float64{
		"RISK_WEIGHT_RECENT_VISITS":     c.RiskWeightRecentVisits,
		"RISK_WEIGHT_ALLERGIES":         c.RiskWeightAllergies,
		"RISK_WEIGHT_CHRONIC_DIAGNOSES": c.RiskWeightChronicDiagnoses,
		"RISK_WEIGHT_LAB_ABNORMALITY":   c.RiskWeightLabAbnormality,
		"RISK_WEIGHT_VACCINATION_GAP":   c.RiskWeightVaccinationGap,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("%s out of [0,1]: %.6f", name, w)
		}
	}
	for name, v := range map[string]float64{
		"RISK_BAND_MEDIUM":             c.RiskBandMedium,
		"RISK_BAND_HIGH":               c.RiskBandHigh,
		"RISK_BAND_CRITICAL":           c.RiskBandCritical,
		"RISK_NOTABLE_THRESHOLD":       c.RiskNotable,
		"DEFAULT_CONFIDENCE_THRESHOLD": c.DefaultConfidenceThreshold,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s out of [0,1]: %.6f", name, v)
		}
	}
	if !(c.RiskBandMedium < c.RiskBandHigh && c.RiskBandHigh < c.RiskBandCritical) {
		return fmt.Errorf("risk bands must be strictly increasing: %.2f %.2f %.2f",
			c.RiskBandMedium, c.RiskBandHigh, c.RiskBandCritical)
	}
	for name, v := range map[string]float64{
		"RISK_CAP_RECENT_VISITS":          c.RiskCapRecentVisits,
		"RISK_CAP_ALLERGIES":              c.RiskCapAllergies,
		"RISK_CAP_ACTIVE_DIAGNOSES":       c.RiskCapActiveDiagnoses,
		"RISK_CAP_LAB_ABNORMAL_RATIO":     c.RiskCapLabAbnormalRatio,
		"RISK_CAP_VACCINATION_GAP_MONTHS": c.RiskCapVaccinationGap,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive: %.2f", name, v)
		}
	}
	if c.DefaultMinimumCases < 1 {
		return fmt.Errorf("DEFAULT_MINIMUM_CASES must be at least 1")
	}
	if c.CorrelationMinSample < 2 {
		return fmt.Errorf("CORRELATION_MIN_SAMPLE must be at least 2")
	}
	if c.RunWorkers < 1 {
		return fmt.Errorf("DETECTION_RUN_WORKERS must be at least 1")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return []string{value}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
