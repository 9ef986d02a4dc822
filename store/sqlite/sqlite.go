/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements attendance.Store, substitution.Store and rollcall.Store, plus
  the read-only providers (timetable, leave, staff, contacts) over tables
  seeded by the Save* helpers. In production the same schema runs on
  PostgreSQL through store/gormstore.

INTERFACES IMPLEMENTED:
  attendance.Store:       records, audit, calendar, discrepancies, policies
  substitution.Store:     via Store.Substitutions()
  rollcall.Store:         via Store.RollCalls()
  attendance.*Provider:   timetable_slots, leave_intervals, staff, contacts

UNIQUENESS ENFORCEMENT:
  The uniqueness invariants live in the schema, not in application checks:
  - idx_daily_unique:         (subject_id, subject_kind, date)
  - idx_period_unique:        (student_id, slot_id, date)
  - idx_discrepancy_unique:   (student_id, date, type)
  - idx_substitution_active:  (slot_id, date, substitute_teacher_id)
                              WHERE status IN ('pending', 'confirmed')
  Violations surface as attendance.ErrConflict.

APPEND-ONLY ENFORCEMENT:
  attendance_audit_log has no UPDATE or DELETE statement anywhere.

CONCURRENCY:
  The pool is limited to one connection, so SQLite sees one writer at a
  time and ":memory:" databases are shared by every caller. Code running
  inside WithTx must use the Store it is handed, never the outer one.

USAGE:
  store, err := sqlite.New("./data/attendance.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := attendance.NewLedger(attendance.LedgerConfig{Store: store, Timetable: store})

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/attendance-engine/attendance"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements every store method against a querier.
type queries struct {
	q querier
}

// Store implements all storage interfaces using SQLite.
type Store struct {
	*queries
	db *sql.DB
}

var _ attendance.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{queries: &queries{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Daily attendance (one row per subject per day)
	CREATE TABLE IF NOT EXISTS daily_attendance (
		id TEXT PRIMARY KEY,
		subject_id TEXT NOT NULL,
		subject_kind TEXT NOT NULL,
		date TEXT NOT NULL,
		status TEXT NOT NULL,
		marked_by TEXT NOT NULL,
		remarks TEXT,
		is_locked BOOLEAN NOT NULL DEFAULT FALSE,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_daily_unique
		ON daily_attendance(subject_id, subject_kind, date);
	CREATE INDEX IF NOT EXISTS idx_daily_date
		ON daily_attendance(date, subject_kind);

	-- Period attendance (one row per student per slot per day)
	CREATE TABLE IF NOT EXISTS period_attendance (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		class_id TEXT NOT NULL,
		slot_id TEXT NOT NULL,
		date TEXT NOT NULL,
		status TEXT NOT NULL,
		minutes_late INTEGER NOT NULL DEFAULT 0,
		suspicion_flag TEXT NOT NULL DEFAULT '',
		detailed_status TEXT,
		marked_by TEXT NOT NULL,
		is_locked BOOLEAN NOT NULL DEFAULT FALSE,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_period_unique
		ON period_attendance(student_id, slot_id, date);
	CREATE INDEX IF NOT EXISTS idx_period_student_date
		ON period_attendance(student_id, date);

	-- Audit trail (append-only)
	CREATE TABLE IF NOT EXISTS attendance_audit_log (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		attendance_type TEXT NOT NULL,
		record_id TEXT NOT NULL,
		old_status TEXT NOT NULL DEFAULT '',
		new_status TEXT NOT NULL,
		reason TEXT,
		changed_by TEXT NOT NULL,
		changed_at TEXT NOT NULL,
		metadata_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_record
		ON attendance_audit_log(record_id);

	-- Calendar overrides
	CREATE TABLE IF NOT EXISTS calendar_days (
		date TEXT PRIMARY KEY,
		day_type TEXT NOT NULL,
		is_academic_day BOOLEAN NOT NULL DEFAULT FALSE,
		note TEXT
	);

	-- Discrepancies
	CREATE TABLE IF NOT EXISTS attendance_discrepancies (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		date TEXT NOT NULL,
		type TEXT NOT NULL,
		details TEXT,
		severity TEXT NOT NULL,
		is_resolved BOOLEAN NOT NULL DEFAULT FALSE,
		resolved_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_discrepancy_unique
		ON attendance_discrepancies(student_id, date, type);

	-- Policies
	CREATE TABLE IF NOT EXISTS attendance_policies (
		id TEXT PRIMARY KEY,
		name TEXT,
		rule_type TEXT NOT NULL,
		threshold INTEGER NOT NULL,
		consequence_type TEXT NOT NULL,
		consequence_value TEXT,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);

	-- Substitutions
	CREATE TABLE IF NOT EXISTS substitutions (
		id TEXT PRIMARY KEY,
		original_teacher_id TEXT NOT NULL,
		substitute_teacher_id TEXT NOT NULL,
		slot_id TEXT NOT NULL,
		date TEXT NOT NULL,
		status TEXT NOT NULL,
		remarks TEXT,
		decided_by TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: a teacher cannot be booked twice for the same slot and date
	CREATE UNIQUE INDEX IF NOT EXISTS idx_substitution_active
		ON substitutions(slot_id, date, substitute_teacher_id)
		WHERE status IN ('pending', 'confirmed');
	CREATE INDEX IF NOT EXISTS idx_substitutions_date
		ON substitutions(date);

	-- Emergency roll calls
	CREATE TABLE IF NOT EXISTS emergency_roll_calls (
		id TEXT PRIMARY KEY,
		event_name TEXT NOT NULL,
		date TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT,
		initiated_by TEXT NOT NULL,
		status TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS roll_call_entries (
		roll_call_id TEXT NOT NULL REFERENCES emergency_roll_calls(id),
		person_id TEXT NOT NULL,
		person_kind TEXT NOT NULL,
		status TEXT NOT NULL,
		location_found TEXT,
		marked_at TEXT,
		PRIMARY KEY (roll_call_id, person_kind, person_id)
	);

	-- Read-only to the engine; owned by the timetable, HR and people modules
	CREATE TABLE IF NOT EXISTS timetable_slots (
		id TEXT PRIMARY KEY,
		class_id TEXT NOT NULL,
		teacher_id TEXT NOT NULL,
		subject_id TEXT,
		day_of_week INTEGER NOT NULL,
		period_number INTEGER NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_slots_day_period
		ON timetable_slots(day_of_week, period_number);

	CREATE TABLE IF NOT EXISTS leave_intervals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		staff_id TEXT NOT NULL,
		from_date TEXT NOT NULL,
		to_date TEXT NOT NULL,
		status TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS staff (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		email TEXT,
		is_teaching BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS contacts (
		subject_id TEXT PRIMARY KEY,
		email TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store attendance.Store) error) error {
	return withTx(ctx, s.db, func(q *queries) error {
		return fn(&txStore{queries: q})
	})
}

func withTx(ctx context.Context, db *sql.DB, fn func(*queries) error) error {
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore runs on an open transaction. Nested WithTx joins it.
type txStore struct {
	*queries
}

func (ts *txStore) WithTx(_ context.Context, fn func(store attendance.Store) error) error {
	return fn(ts)
}

// Reset deletes all engine data. Provider tables are kept. Test helper.
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{
		"roll_call_entries", "emergency_roll_calls", "substitutions",
		"attendance_discrepancies", "attendance_audit_log",
		"period_attendance", "daily_attendance",
	}
	for _, t := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+t); err != nil {
			return fmt.Errorf("failed to reset %s: %w", t, err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func parseDate(s string) attendance.Date {
	d, _ := attendance.ParseDate(s)
	return d
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// checkAffected turns a zero-row conditional write into the right error:
// missing reports ErrNotFound, otherwise stale is returned.
func (q *queries) checkAffected(ctx context.Context, res sql.Result, table, id string, stale error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = q.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+" WHERE id = ?", id).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		return attendance.ErrNotFound
	}
	return stale
}
