/*
store.go - Persistence interfaces for records, audit, calendar, discrepancies and policies

PURPOSE:
  Defines the interface between the engine and the database. Stores enforce
  the uniqueness invariants at storage level (unique indexes or keyed maps),
  so the ledger's existence check only produces a friendlier error and the
  check-then-insert race cannot create duplicates.

KEY INTERFACES:
  RecordStore:      daily and period attendance records
  AuditLog:         append-only audit trail (no update, no delete)
  CalendarStore:    calendar overrides
  DiscrepancyStore: detector output
  PolicyStore:      attendance policy configuration
  Store:            all of the above plus WithTx

UNIQUENESS:
  InsertDaily  -> *ConflictError on (subject_id, subject_kind, date)
  InsertPeriod -> *ConflictError on (student_id, slot_id, date)
  InsertDiscrepancy -> ErrConflict on (student_id, date, type)

OPTIMISTIC UPDATES:
  UpdateDaily/UpdatePeriod take the version the caller read. The store writes
  only if the stored version still matches, then stores expected+1; otherwise
  it returns ErrConcurrentModification.

IMPLEMENTATIONS:
  - store/memory:    in-memory, for tests and dev
  - store/sqlite:    database/sql + go-sqlite3
  - store/gormstore: gorm + PostgreSQL
*/
package attendance

import "context"

// =============================================================================
// RECORD STORE
// =============================================================================

type RecordStore interface {
	InsertDaily(ctx context.Context, rec DailyRecord) error
	GetDaily(ctx context.Context, id RecordID) (*DailyRecord, error) // ErrNotFound
	// FindDaily returns nil, nil when no record exists.
	FindDaily(ctx context.Context, subjectID SubjectID, kind SubjectKind, date Date) (*DailyRecord, error)
	UpdateDaily(ctx context.Context, rec DailyRecord, expectedVersion int) error
	// ListDailyByDate returns records for a date; empty kind means both kinds.
	ListDailyByDate(ctx context.Context, date Date, kind SubjectKind) ([]DailyRecord, error)
	ListDailyBySubject(ctx context.Context, subjectID SubjectID, kind SubjectKind, r DateRange) ([]DailyRecord, error)

	InsertPeriod(ctx context.Context, rec PeriodRecord) error
	GetPeriod(ctx context.Context, id RecordID) (*PeriodRecord, error) // ErrNotFound
	FindPeriod(ctx context.Context, studentID SubjectID, slotID SlotID, date Date) (*PeriodRecord, error)
	UpdatePeriod(ctx context.Context, rec PeriodRecord, expectedVersion int) error
	ListPeriodByStudent(ctx context.Context, studentID SubjectID, r DateRange) ([]PeriodRecord, error)
}

// =============================================================================
// AUDIT LOG - Append-only
// =============================================================================

type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	ListAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// =============================================================================
// CALENDAR / DISCREPANCY / POLICY
// =============================================================================

type CalendarStore interface {
	// GetCalendarDay returns nil, nil when there is no override.
	GetCalendarDay(ctx context.Context, date Date) (*CalendarDay, error)
	SaveCalendarDay(ctx context.Context, day CalendarDay) error
}

type DiscrepancyStore interface {
	InsertDiscrepancy(ctx context.Context, d Discrepancy) error
	DiscrepancyExists(ctx context.Context, studentID SubjectID, date Date, typ DiscrepancyType) (bool, error)
	GetDiscrepancy(ctx context.Context, id DiscrepancyID) (*Discrepancy, error) // ErrNotFound
	ListDiscrepancies(ctx context.Context, date Date) ([]Discrepancy, error)
	ResolveDiscrepancy(ctx context.Context, id DiscrepancyID, resolvedBy string) error
}

type PolicyStore interface {
	SavePolicy(ctx context.Context, p Policy) error
	ListPolicies(ctx context.Context, activeOnly bool) ([]Policy, error)
}

// =============================================================================
// STORE - Everything the engine persists
// =============================================================================

type Store interface {
	RecordStore
	AuditLog
	CalendarStore
	DiscrepancyStore
	PolicyStore

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the Store passed to fn is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
