/*
errors.go - Centralized error types for the attendance engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The substitution and rollcall packages reuse these sentinels so that the
  HTTP layer has a single taxonomy to map to status codes.

ERROR CATEGORIES:
  1. Calendar errors   - NonWorkingDay
  2. Invariant errors  - Conflict, Locked, ConcurrentModification
  3. Validation errors - InvalidStatus, Validation, InvalidRange
  4. Lookup errors     - NotFound
  5. Workflow errors   - NoSubstituteAvailable, RollCallClosed, InvalidTransition

USAGE:
  Callers test with errors.Is against the sentinels; structured errors carry
  the offending identifiers and unwrap to their sentinel:

    if errors.Is(err, attendance.ErrConflict) {
        var c *attendance.ConflictError
        errors.As(err, &c) // c.ExistingID
    }
*/
package attendance

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNonWorkingDay is returned when marking or syncing on a non-academic day.
	ErrNonWorkingDay = errors.New("date is not a working day")

	// ErrConflict is returned when a record already exists for the same
	// subject/date (or student/slot/date). Backed by a storage unique index.
	ErrConflict = errors.New("attendance already recorded")

	// ErrLocked is returned when an ordinary update targets a locked record.
	ErrLocked = errors.New("record is locked")

	// ErrNotFound is returned when a referenced record, slot, policy or roll call is absent.
	ErrNotFound = errors.New("not found")

	// ErrNoSubstituteAvailable is returned when the resolver exhausts all candidates.
	ErrNoSubstituteAvailable = errors.New("no substitute available")

	// ErrInvalidStatus is returned when a status string cannot be parsed.
	ErrInvalidStatus = errors.New("invalid status")

	// ErrValidation is returned for out-of-range or missing input.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidRange is returned when a date range ends before it starts.
	ErrInvalidRange = fmt.Errorf("%w: invalid range: from after to", ErrValidation)

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrRollCallClosed is returned when mutating a roll call that is no longer active.
	ErrRollCallClosed = errors.New("roll call is not active")

	// ErrInvalidTransition is returned when a lifecycle transition is not allowed
	// from the current state (e.g. confirming a rejected substitution).
	ErrInvalidTransition = errors.New("invalid status transition")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConflictError describes a uniqueness violation.
type ConflictError struct {
	Kind       RecordKind
	SubjectID  SubjectID
	Date       Date
	SlotID     SlotID // empty for daily records
	ExistingID RecordID
}

func (e *ConflictError) Error() string {
	if e.SlotID != "" {
		return fmt.Sprintf("%s attendance already recorded for %s in slot %s on %s",
			e.Kind, e.SubjectID, e.SlotID, e.Date)
	}
	return fmt.Sprintf("%s attendance already recorded for %s on %s", e.Kind, e.SubjectID, e.Date)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// LockedError identifies the locked record an update was rejected on.
type LockedError struct {
	Kind     RecordKind
	RecordID RecordID
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s record %s is locked", e.Kind, e.RecordID)
}

func (e *LockedError) Unwrap() error { return ErrLocked }

// NonWorkingDayError names the rejected date.
type NonWorkingDayError struct {
	Date Date
}

func (e *NonWorkingDayError) Error() string {
	return fmt.Sprintf("%s is not a working day", e.Date)
}

func (e *NonWorkingDayError) Unwrap() error { return ErrNonWorkingDay }

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNonWorkingDay) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrValidation)
}

// IsConflict returns true if the request clashed with existing state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrLocked) ||
		errors.Is(err, ErrRollCallClosed) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrConcurrentModification)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
