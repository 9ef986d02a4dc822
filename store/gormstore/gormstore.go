/*
Package gormstore implements the storage interfaces on gorm, for PostgreSQL
deployments.

PURPOSE:
  Same contract and table layout as store/sqlite, expressed as gorm models.
  OpenPostgres is the production entry point; New accepts any *gorm.DB, which
  is how the tests run it against gorm.io/driver/sqlite.

UNIQUENESS ENFORCEMENT:
  Composite unique indexes come from model tags. The partial index on
  substitutions (active bookings only) is created with raw SQL in migrate.
  Violations surface as attendance.ErrConflict, detected through
  gorm.ErrDuplicatedKey (TranslateError) or SQLSTATE 23505.

OPTIMISTIC CONCURRENCY:
  Record updates are `UPDATE ... WHERE id = ? AND version = ?`. Zero rows
  affected means either the row is gone (ErrNotFound) or someone else won
  (ErrConcurrentModification).

SEE ALSO:
  - store/sqlite: database/sql twin used by the CLI and tests
  - config: DSN, slow-query threshold and log level
*/
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/warp/attendance-engine/attendance"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
	"gorm.io/gorm/utils"
)

// conn implements every store method against a *gorm.DB, which is either
// the root handle or an open transaction.
type conn struct {
	db *gorm.DB
}

// Store implements attendance.Store and the directory providers.
type Store struct {
	*conn
}

var _ attendance.Store = (*Store)(nil)

// OpenPostgres connects to PostgreSQL and migrates the schema.
func OpenPostgres(dsn string, logger gormLogger.Interface) (*Store, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), Config(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Println("[Store] PostgreSQL connected")
	return New(db)
}

// Config is the gorm configuration every handle passed to New should use.
func Config(logger gormLogger.Interface) *gorm.Config {
	if logger == nil {
		logger = NewLogger(200*time.Millisecond, gormLogger.Warn)
	}
	return &gorm.Config{
		Logger:         logger,
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}
}

// New wraps db and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	s := &Store{conn: &conn{db: db}}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) migrate() error {
	if err := s.db.AutoMigrate(allModels()...); err != nil {
		return err
	}
	return s.db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_substitution_active
		ON substitutions(slot_id, date, substitute_teacher_id)
		WHERE status IN ('pending', 'confirmed')`).Error
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(attendance.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&txStore{conn: &conn{db: tx}})
	})
}

// txStore runs on an open transaction. Nested WithTx joins it.
type txStore struct {
	*conn
}

func (ts *txStore) WithTx(_ context.Context, fn func(attendance.Store) error) error {
	return fn(ts)
}

// =============================================================================
// ERRORS
// =============================================================================

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "unique constraint") || strings.Contains(s, "duplicate key")
}

// checkAffected turns a zero-row conditional write into the right error:
// missing reports ErrNotFound, otherwise stale is returned.
func (c *conn) checkAffected(ctx context.Context, res *gorm.DB, model any, where string, args []any, stale error) error {
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var n int64
	if err := c.db.WithContext(ctx).Model(model).Where(where, args...).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return attendance.ErrNotFound
	}
	return stale
}

// =============================================================================
// LOGGER - gorm logger.Interface on top of the standard log package
// =============================================================================

// Logger prints every statement with elapsed time and row count, flagging
// slow ones.
type Logger struct {
	SlowThreshold time.Duration
	LogLevel      gormLogger.LogLevel
}

func NewLogger(slow time.Duration, level gormLogger.LogLevel) gormLogger.Interface {
	return &Logger{SlowThreshold: slow, LogLevel: level}
}

func (l *Logger) LogMode(level gormLogger.LogLevel) gormLogger.Interface {
	cp := *l
	cp.LogLevel = level
	return &cp
}

func (l *Logger) Info(_ context.Context, msg string, data ...any) {
	if l.LogLevel >= gormLogger.Info {
		log.Printf("[INFO] "+msg, data...)
	}
}

func (l *Logger) Warn(_ context.Context, msg string, data ...any) {
	if l.LogLevel >= gormLogger.Warn {
		log.Printf("[WARN] "+msg, data...)
	}
}

func (l *Logger) Error(_ context.Context, msg string, data ...any) {
	if l.LogLevel >= gormLogger.Error {
		log.Printf("[ERROR] "+msg, data...)
	}
}

func (l *Logger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= gormLogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	file := utils.FileWithLineNum()

	switch {
	case err != nil && l.LogLevel >= gormLogger.Error &&
		!errors.Is(err, gorm.ErrRecordNotFound) && !isUniqueViolation(err):
		sql, rows := fc()
		log.Printf("[ERROR] %s | %v | %s | %d rows | %s", file, err, elapsed, rows, sql)
	case l.SlowThreshold > 0 && elapsed > l.SlowThreshold && l.LogLevel >= gormLogger.Warn:
		sql, rows := fc()
		log.Printf("[SLOW SQL] %s | %s | %d rows | %s", file, elapsed, rows, sql)
	case l.LogLevel >= gormLogger.Info:
		sql, rows := fc()
		log.Printf("[QUERY] %s | %s | %d rows | %s", file, elapsed, rows, sql)
	}
}
