// Package config loads CrewLedger's 12-factor environment configuration.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds server configuration resolved from the environment.
type Config struct {
	DBPath              string
	InternalAdminSecret string
	JWTSecret           string
	JWTAccessTTL        time.Duration
	JWTRefreshTTL       time.Duration
	PricingRulesPath    string
	MetricsDir          string
	BackupsDir          string
	OCREnabled          bool
	ExpensePhotoThresh  string // decimal string, parsed by callers via money.Parse
	TZ                  string
	Port                string
}

// Load reads configuration from the environment, applying safe local-first
// defaults so the server boots without any external configuration.
func Load() *Config {
	return &Config{
		DBPath:              getenv("DB_PATH", "./data/crewledger.db"),
		InternalAdminSecret: os.Getenv("INTERNAL_ADMIN_SECRET"),
		JWTSecret:           getenv("JWT_SECRET", "dev-insecure-secret-change-me"),
		JWTAccessTTL:        getDuration("JWT_ACCESS_TTL", 15*time.Minute),
		JWTRefreshTTL:       getDuration("JWT_REFRESH_TTL", 7*24*time.Hour),
		PricingRulesPath:    getenv("PRICING_RULES_PATH", "./rules/global.yaml"),
		MetricsDir:          getenv("METRICS_DIR", "./logs/metrics"),
		BackupsDir:          getenv("BACKUPS_DIR", "./backups"),
		OCREnabled:          getBool("OCR_ENABLED", false),
		ExpensePhotoThresh:  getenv("EXPENSE_PHOTO_THRESHOLD", "300.00"),
		TZ:                  getenv("TZ", "UTC"),
		Port:                getenv("PORT", "8080"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
