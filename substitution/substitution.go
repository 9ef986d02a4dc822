/*
Package substitution finds cover for absent teachers and tracks the
resulting Substitution through Pending, Confirmed and Rejected.

PURPOSE:
  Given a timetable slot and a date, the Resolver excludes every teacher who
  cannot cover it and returns the first remaining member of the teaching
  staff, in directory order. Selection is greedy first-fit with no load
  balancing.

EXCLUSIONS (day and period of the slot, on the date):
  a. teaches any slot at that day/period (includes the absent teacher)
  b. approved leave covers the date
  c. already a pending/confirmed substitute for this slot and date
  d. already a pending/confirmed substitute for another slot at the same
     day/period on the date
  e. daily ledger record on the date is absent or excused

INVARIANTS:
  1. At most one pending/confirmed substitution per (slot, date, substitute),
     enforced by a partial unique index in the SQL stores
  2. Only Pending transitions, to Confirmed or Rejected
  3. Every status change is written to the audit trail with
     attendance_type "substitution"
*/
package substitution

import (
	"context"
	"time"

	"github.com/warp/attendance-engine/attendance"
)

type ID string

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
)

// Active reports whether the substitution still books the substitute.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

// Substitution assigns a substitute teacher to an absent teacher's slot on a date.
type Substitution struct {
	ID                  ID
	OriginalTeacherID   attendance.StaffID
	SubstituteTeacherID attendance.StaffID
	SlotID              attendance.SlotID
	Date                attendance.Date
	Status              Status
	Remarks             string
	DecidedBy           string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// DailyFinder reads the ledger's daily record for a staff member.
type DailyFinder interface {
	FindDaily(ctx context.Context, subjectID attendance.SubjectID, kind attendance.SubjectKind, date attendance.Date) (*attendance.DailyRecord, error)
}

// Store persists substitutions.
//
// InsertSubstitution returns attendance.ErrConflict when an active
// substitution already books the same substitute for the slot and date.
// UpdateSubstitution writes only if the stored status still equals
// expected, otherwise attendance.ErrConcurrentModification.
type Store interface {
	DailyFinder
	attendance.AuditLog

	InsertSubstitution(ctx context.Context, s Substitution) error
	GetSubstitution(ctx context.Context, id ID) (*Substitution, error) // attendance.ErrNotFound
	UpdateSubstitution(ctx context.Context, s Substitution, expected Status) error
	ListSubstitutionsByDate(ctx context.Context, date attendance.Date) ([]Substitution, error)

	WithTx(ctx context.Context, fn func(Store) error) error
}
