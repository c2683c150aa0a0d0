package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/gmsas95/chronosage/internal/errors"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CHRONOSAGE_LLM_API_KEY", "OPENAI_API_KEY",
		"CHRONOSAGE_APP_TIMEZONE", "TIMEZONE",
		"CHRONOSAGE_SERVER_PORT", "CHRONOSAGE_SECURITY_JWT_SECRET",
		"CHRONOSAGE_SECURITY_ADMIN_PASSWORD", "CHRONOSAGE_ADMIN_PASSWORD",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	cfg, err := Load("", dir)
	require.NoError(t, err)

	assert.Equal(t, "ChronoSage", cfg.App.Title)
	assert.Equal(t, "America/Denver", cfg.App.Timezone)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, "https://api.openai.com/v1", cfg.LLM.BaseURL)
	assert.Equal(t, []string{"https://www.googleapis.com/auth/calendar"}, cfg.Calendar.Scopes)
	assert.Equal(t, "primary", cfg.Calendar.CalendarID)
	assert.Equal(t, 10, cfg.Calendar.MaxEvents)
	assert.Equal(t, 30, cfg.Calendar.MaxDaysAhead)
	assert.Equal(t, 9, cfg.Scheduler.WorkingHours.StartHour)
	assert.Equal(t, 17, cfg.Scheduler.WorkingHours.EndHour)
	assert.Equal(t, 5, cfg.Scheduler.MaxSuggestions)
	assert.Equal(t, filepath.Join(dir, "credentials.json"), cfg.Calendar.CredentialsFile)
	assert.Equal(t, filepath.Join(dir, "token.json"), cfg.Calendar.TokenFile)
	assert.Equal(t, filepath.Join(dir, "chronosage.db"), cfg.Storage.SQLitePath)
	assert.NotEmpty(t, cfg.Security.JWTSecret)

	assert.Equal(t, "America/Denver", cfg.Location().String())
	assert.Equal(t, 30*24*time.Hour, cfg.LookAhead())
	assert.Equal(t, 5*time.Minute, cfg.BusyCacheTTL())
}

func TestLoad_FileAndEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "chronosage.yaml")

	yaml := `app:
  timezone: Europe/Berlin
scheduler:
  working_hours:
    start_hour: 8
    end_hour: 16
calendar:
  max_events: 25
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("CHRONOSAGE_SERVER_PORT", "9090")

	cfg, err := Load(path, dir)
	require.NoError(t, err)

	assert.Equal(t, "Europe/Berlin", cfg.App.Timezone)
	assert.Equal(t, 8, cfg.Scheduler.WorkingHours.StartHour)
	assert.Equal(t, 16, cfg.Scheduler.WorkingHours.EndHour)
	assert.Equal(t, 25, cfg.Calendar.MaxEvents)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"inverted hours", "scheduler:\n  working_hours:\n    start_hour: 17\n    end_hour: 9\n"},
		{"hour out of range", "scheduler:\n  working_hours:\n    end_hour: 24\n"},
		{"unknown zone", "app:\n  timezone: Mars/Olympus\n"},
		{"unknown scorer", "scheduler:\n  scorer: vibes\n"},
		{"zero look-ahead", "calendar:\n  max_days_ahead: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			dir := t.TempDir()
			path := filepath.Join(dir, "chronosage.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0644))

			_, err := Load(path, dir)
			require.Error(t, err)
			assert.Equal(t, apperrors.ErrConfigInvalid.Code, apperrors.GetCode(err))
		})
	}
}

func TestWriteTemplate(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv("OPENAI_API_KEY", "sk-secret")

	cfg, err := Load("", dir)
	require.NoError(t, err)

	path := filepath.Join(dir, "out", "chronosage.yaml")
	require.NoError(t, WriteTemplate(path, cfg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "timezone: America/Denver")
	assert.Contains(t, string(data), "start_hour: 9")
	assert.NotContains(t, string(data), "sk-secret")

	// The template loads back cleanly.
	again, err := Load(path, dir)
	require.NoError(t, err)
	assert.Equal(t, cfg.Scheduler, again.Scheduler)
	assert.Equal(t, "sk-secret", again.LLM.APIKey)
}
