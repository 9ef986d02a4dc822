/*
Package attendance implements the attendance engine of the school backend.

PURPOSE:
  Tracks daily and per-period presence for students and staff, explains every
  status change through an append-only audit trail, detects inconsistent
  attendance patterns and evaluates attendance policies. The substitution and
  rollcall packages build on the types defined here.

KEY CONCEPTS IN THIS FILE (types.go):
  - Status: closed enum, parsed once at the boundary with ParseStatus
  - DailyRecord: one status per subject (student or staff) per day
  - PeriodRecord: one status per student per timetable slot per day
  - AuditEntry: immutable explanation of a status change

INVARIANTS:
  1. Unique (subject_id, subject_kind, date) for daily records
  2. Unique (student_id, slot_id, date) for period records
  3. Locked records change only through an override or an authoritative sync
  4. Every accepted mark/update/override/sync writes exactly one AuditEntry

SEE ALSO:
  - ledger.go: the only writer of record status
  - store.go: persistence interfaces
  - errors.go: error taxonomy
*/
package attendance

import (
	"strings"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type RecordID string
type SubjectID string
type SlotID string
type StaffID string
type PolicyID string
type DiscrepancyID string

// =============================================================================
// STATUS - Closed set of attendance statuses
// =============================================================================

type Status string

const (
	StatusNone           Status = "" // no previous status (first mark)
	StatusPresent        Status = "present"
	StatusAbsent         Status = "absent"
	StatusLate           Status = "late"
	StatusExcused        Status = "excused"
	StatusHalfDay        Status = "half_day"
	StatusSchoolBusiness Status = "school_business"
)

var allStatuses = []Status{
	StatusPresent, StatusAbsent, StatusLate, StatusExcused, StatusHalfDay, StatusSchoolBusiness,
}

// ParseStatus is the single place where free-form input becomes a Status.
// Accepts the canonical values case-insensitively plus the CamelCase forms
// used by older clients ("HalfDay", "SchoolBusiness").
func ParseStatus(s string) (Status, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	switch norm {
	case "halfday":
		norm = string(StatusHalfDay)
	case "schoolbusiness":
		norm = string(StatusSchoolBusiness)
	}
	for _, st := range allStatuses {
		if string(st) == norm {
			return st, nil
		}
	}
	return StatusNone, &statusError{value: s}
}

// Valid returns true when the status is one of the closed set.
func (s Status) Valid() bool {
	for _, st := range allStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// Attended reports whether the status counts towards attendance percentage.
func (s Status) Attended() bool {
	return s == StatusPresent || s == StatusSchoolBusiness
}

// OnSite reports whether the subject is physically in school (roll-call population).
func (s Status) OnSite() bool {
	return s == StatusPresent || s == StatusLate
}

type statusError struct{ value string }

func (e *statusError) Error() string { return "invalid status: " + e.value }
func (e *statusError) Unwrap() error { return ErrInvalidStatus }

// =============================================================================
// SUBJECT KIND / RECORD KIND
// =============================================================================

// SubjectKind says whether a daily record belongs to a student or staff member.
type SubjectKind string

const (
	KindStudent SubjectKind = "student"
	KindStaff   SubjectKind = "staff"
)

func ParseSubjectKind(s string) (SubjectKind, error) {
	switch SubjectKind(strings.ToLower(strings.TrimSpace(s))) {
	case KindStudent:
		return KindStudent, nil
	case KindStaff:
		return KindStaff, nil
	}
	return "", invalid("subject_kind", "expected student or staff, got %q", s)
}

// RecordKind is the audit trail's attendance_type.
type RecordKind string

const (
	RecordDaily        RecordKind = "daily"
	RecordPeriod       RecordKind = "period"
	RecordSubstitution RecordKind = "substitution"
)

// SuspicionFlag marks period records flagged by the discrepancy detector.
type SuspicionFlag string

const (
	SuspicionNone                  SuspicionFlag = ""
	SuspicionSkippingAfterInterval SuspicionFlag = "skipping_after_interval"
)

// =============================================================================
// RECORDS
// =============================================================================

// DailyRecord is one presence status per subject per calendar day.
type DailyRecord struct {
	ID          RecordID
	SubjectID   SubjectID
	SubjectKind SubjectKind
	Date        Date
	Status      Status
	MarkedBy    string
	Remarks     string
	IsLocked    bool
	Version     int // optimistic concurrency; bumped on every update
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PeriodRecord is one presence status per student per timetable slot per day.
type PeriodRecord struct {
	ID             RecordID
	StudentID      SubjectID
	ClassID        string
	SlotID         SlotID
	Date           Date
	Status         Status
	MinutesLate    int
	SuspicionFlag  SuspicionFlag
	DetailedStatus string
	MarkedBy       string
	IsLocked       bool
	Version        int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// =============================================================================
// CALENDAR
// =============================================================================

type DayType string

const (
	DayWorking   DayType = "working"
	DayHoliday   DayType = "holiday"
	DayEvent     DayType = "event"
	DayExamBreak DayType = "exam_break"
)

// CalendarDay is an explicit override of the weekday default.
type CalendarDay struct {
	Date          Date
	DayType       DayType
	IsAcademicDay bool
	Note          string
}

// =============================================================================
// AUDIT
// =============================================================================

// AuditEntry records who changed which record from what to what, and why.
// Append-only: never updated, never deleted.
type AuditEntry struct {
	ID             string
	AttendanceType RecordKind
	RecordID       RecordID
	OldStatus      Status // StatusNone on first mark
	NewStatus      Status
	Reason         string
	ChangedBy      string
	ChangedAt      time.Time
	Metadata       map[string]string
}

// AuditFilter narrows ListAudit. Zero fields are ignored.
type AuditFilter struct {
	AttendanceType RecordKind
	RecordID       RecordID
	ChangedBy      string
	From           *time.Time
	To             *time.Time
}

// =============================================================================
// DISCREPANCY
// =============================================================================

type DiscrepancyType string

const (
	DiscrepancyPresentButMissingPeriod DiscrepancyType = "present_but_missing_period"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Discrepancy is an automatically detected inconsistency between daily and
// period attendance for the same student/day.
type Discrepancy struct {
	ID         DiscrepancyID
	StudentID  SubjectID
	Date       Date
	Type       DiscrepancyType
	Details    string
	Severity   Severity
	IsResolved bool
	ResolvedBy string
	CreatedAt  time.Time
}
