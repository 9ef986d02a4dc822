package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/config"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"APP_PORT", "DB_DRIVER", "MORNING_CUTOFF", "SCHEDULER_ENABLED", "CORS_ORIGINS"} {
		t.Setenv(k, "")
	}

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.AppPort)
	assert.Equal(t, config.DriverSQLite, cfg.DBDriver)
	assert.Equal(t, attendance.TimeOfDay{Hour: 8}, cfg.MorningCutoff)
	assert.Equal(t, 200*time.Millisecond, cfg.DBSlowSQL)
	assert.True(t, cfg.SchedulerEnabled)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "Postgres")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "engine")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_NAME", "school")
	t.Setenv("MORNING_CUTOFF", "07:15")
	t.Setenv("CORS_ORIGINS", "https://a.test, https://b.test")
	t.Setenv("SCHOOL_TIMEZONE", "Not/AZone")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, config.DriverPostgres, cfg.DBDriver)
	assert.Equal(t, attendance.TimeOfDay{Hour: 7, Minute: 15}, cfg.MorningCutoff)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.CORSOrigins)
	assert.Contains(t, cfg.DSN(), "host=db user=engine password=secret dbname=school")
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("DB_DRIVER", "mysql")
	_, err := config.Load()
	assert.Error(t, err)

	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("MORNING_CUTOFF", "8am")
	_, err = config.Load()
	assert.Error(t, err)
}
