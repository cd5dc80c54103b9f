package config_test

import (
	"testing"
	"time"

	"github.com/peycheff/crewledger/pkg/config"
	"github.com/stretchr/testify/assert"
)

// TestLoad_Defaults verifies the server boots with safe local-first
// defaults when no environment variables are set.
func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{
		"DB_PATH", "JWT_SECRET", "JWT_ACCESS_TTL", "JWT_REFRESH_TTL",
		"PRICING_RULES_PATH", "METRICS_DIR", "BACKUPS_DIR", "OCR_ENABLED",
		"EXPENSE_PHOTO_THRESHOLD", "TZ", "PORT",
	} {
		t.Setenv(k, "")
	}

	cfg := config.Load()

	assert.Equal(t, "./data/crewledger.db", cfg.DBPath)
	assert.Equal(t, 15*time.Minute, cfg.JWTAccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.JWTRefreshTTL)
	assert.False(t, cfg.OCREnabled)
	assert.Equal(t, "300.00", cfg.ExpensePhotoThresh)
}

// TestLoad_Overrides verifies environment variables override defaults.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DB_PATH", "/var/lib/crewledger/prod.db")
	t.Setenv("JWT_ACCESS_TTL", "30m")
	t.Setenv("OCR_ENABLED", "true")
	t.Setenv("EXPENSE_PHOTO_THRESHOLD", "500.00")

	cfg := config.Load()

	assert.Equal(t, "/var/lib/crewledger/prod.db", cfg.DBPath)
	assert.Equal(t, 30*time.Minute, cfg.JWTAccessTTL)
	assert.True(t, cfg.OCREnabled)
	assert.Equal(t, "500.00", cfg.ExpensePhotoThresh)
}
