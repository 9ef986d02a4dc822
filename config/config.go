// Package config loads server settings from the environment, reading a
// .env file first when one exists.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/warp/attendance-engine/attendance"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	AppPort string

	DBDriver   string
	DBPath     string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBSlowSQL  time.Duration

	SchoolTimezone string
	MorningCutoff  attendance.TimeOfDay

	SchedulerEnabled bool
	DiscrepancyCron  string
	LeaveSyncCron    string

	CORSOrigins []string
}

// LoadEnv reads .env into the process environment. A missing file is not an error.
func LoadEnv(files ...string) {
	if err := godotenv.Load(files...); err != nil {
		log.Println("[Config] no .env file, using system environment")
		return
	}
	log.Println("[Config] .env loaded")
}

// GetEnv returns the variable or the first default when it is unset.
func GetEnv(key string, defaultValue ...string) string {
	value, exists := os.LookupEnv(key)
	if (!exists || value == "") && len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return value
}

// Load builds the configuration from the environment. Call LoadEnv first to
// pick up a .env file.
func Load() (*Config, error) {
	cfg := &Config{
		AppPort: GetEnv("APP_PORT", "8080"),

		DBDriver:   strings.ToLower(GetEnv("DB_DRIVER", DriverSQLite)),
		DBPath:     GetEnv("DB_PATH", "attendance.db"),
		DBHost:     GetEnv("DB_HOST", "localhost"),
		DBPort:     GetEnv("DB_PORT", "5432"),
		DBUser:     GetEnv("DB_USER", "postgres"),
		DBPassword: GetEnv("DB_PASSWORD"),
		DBName:     GetEnv("DB_NAME", "attendance"),
		DBSSLMode:  GetEnv("DB_SSLMODE", "disable"),

		SchoolTimezone: GetEnv("SCHOOL_TIMEZONE", "UTC"),

		DiscrepancyCron: GetEnv("DISCREPANCY_CRON", "30 15 * * 1-5"),
		LeaveSyncCron:   GetEnv("LEAVE_SYNC_CRON", "0 6 * * 1-5"),
	}

	if cfg.DBDriver != DriverSQLite && cfg.DBDriver != DriverPostgres {
		return nil, fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverSQLite, DriverPostgres, cfg.DBDriver)
	}

	slow, err := time.ParseDuration(GetEnv("DB_SLOW_SQL", "200ms"))
	if err != nil {
		return nil, fmt.Errorf("DB_SLOW_SQL: %w", err)
	}
	cfg.DBSlowSQL = slow

	cutoff, err := attendance.ParseTimeOfDay(GetEnv("MORNING_CUTOFF", "08:00"))
	if err != nil {
		return nil, fmt.Errorf("MORNING_CUTOFF: %w", err)
	}
	cfg.MorningCutoff = cutoff

	enabled, err := strconv.ParseBool(GetEnv("SCHEDULER_ENABLED", "true"))
	if err != nil {
		return nil, fmt.Errorf("SCHEDULER_ENABLED: %w", err)
	}
	cfg.SchedulerEnabled = enabled

	for _, o := range strings.Split(GetEnv("CORS_ORIGINS", "*"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, o)
		}
	}

	return cfg, nil
}

// DSN is the PostgreSQL connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode,
	)
}

// Location resolves SchoolTimezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	return attendance.LoadLocation(c.SchoolTimezone)
}
