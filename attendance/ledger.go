/*
ledger.go - Attendance Ledger (daily and period records)

PURPOSE:
  The Ledger is the only writer of attendance status. It enforces the
  calendar gate, the uniqueness rules and the lock state, and writes exactly
  one audit entry per accepted mark, update or override.

CRITICAL INVARIANTS:
  1. No record is created on a non-working day
  2. One daily record per (subject, kind, date); one period record per
     (student, slot, date). The store's unique index is authoritative,
     the pre-check here only produces a friendlier error.
  3. Locked records reject ordinary updates (LockedError, no mutation)
  4. Record write and audit append share one store transaction

RECORD LIFECYCLE:
  (none) --mark--> Unlocked(s) --update--> Unlocked(s')
  Unlocked(s) --lock--> Locked(s)
  Locked(s) --override/sync--> Locked(s')
  There is no terminal state.

LATE MINUTES:
  For a late period mark without explicit minutes, the check-in time (input
  or clock) is converted to the school location and compared against the
  slot start, or against the morning cutoff for period 1.

SEE ALSO:
  - sync.go: lock-driven syncs (approved absence, school business, leave)
  - report.go: read-side queries and percentage
  - audit.go: the trail this file writes through
*/
package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultMorningCutoff is used when LedgerConfig leaves MorningCutoff nil.
var DefaultMorningCutoff = TimeOfDay{Hour: 8}

// LedgerConfig holds the ledger's collaborators. Only Store and Timetable are required.
type LedgerConfig struct {
	Store     Store
	Timetable TimetableProvider
	Calendar  WorkingDayChecker // defaults to NewCalendar(Store)
	Clock     Clock             // defaults to SystemClock
	Location  *time.Location    // school timezone, defaults to UTC
	// MorningCutoff is the reference time for lateness in period 1. Nil
	// means DefaultMorningCutoff; 00:00 is a valid cutoff.
	MorningCutoff *TimeOfDay
}

type Ledger struct {
	store         Store
	timetable     TimetableProvider
	calendar      WorkingDayChecker
	clock         Clock
	location      *time.Location
	morningCutoff TimeOfDay
	trail         Trail
}

func NewLedger(cfg LedgerConfig) *Ledger {
	if cfg.Calendar == nil {
		cfg.Calendar = NewCalendar(cfg.Store)
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	cutoff := DefaultMorningCutoff
	if cfg.MorningCutoff != nil {
		cutoff = *cfg.MorningCutoff
	}
	return &Ledger{
		store:         cfg.Store,
		timetable:     cfg.Timetable,
		calendar:      cfg.Calendar,
		clock:         cfg.Clock,
		location:      cfg.Location,
		morningCutoff: cutoff,
		trail:         NewTrail(cfg.Store, cfg.Clock),
	}
}

// Trail exposes the audit trail the ledger writes to.
func (l *Ledger) Trail() Trail { return l.trail }

// Location is the school timezone the ledger compares check-ins in.
func (l *Ledger) Location() *time.Location { return l.location }

// Today is the clock's current date in the school location.
func (l *Ledger) Today() Date { return DateOf(l.clock.Now().In(l.location)) }

// =============================================================================
// DAILY MARKING
// =============================================================================

type MarkDailyInput struct {
	SubjectID SubjectID
	Kind      SubjectKind
	Date      Date
	Status    Status
	MarkedBy  string
	Remarks   string
}

func (in MarkDailyInput) validate() error {
	if in.SubjectID == "" {
		return invalid("subject_id", "required")
	}
	if err := validateKind(in.Kind); err != nil {
		return err
	}
	if in.Date.IsZero() {
		return invalid("date", "required")
	}
	if !in.Status.Valid() {
		return &statusError{value: string(in.Status)}
	}
	if in.MarkedBy == "" {
		return invalid("marked_by", "required")
	}
	return nil
}

// MarkDaily creates an unlocked daily record and its first audit entry.
func (l *Ledger) MarkDaily(ctx context.Context, in MarkDailyInput) (DailyRecord, error) {
	if err := in.validate(); err != nil {
		return DailyRecord{}, err
	}
	if err := requireWorkingDay(ctx, l.calendar, in.Date); err != nil {
		return DailyRecord{}, err
	}

	existing, err := l.store.FindDaily(ctx, in.SubjectID, in.Kind, in.Date)
	if err != nil {
		return DailyRecord{}, err
	}
	if existing != nil {
		return DailyRecord{}, dailyConflict(*existing)
	}

	return l.insertDaily(ctx, l.newDaily(in, false), "marked")
}

// BulkEntry is one subject in a class or staff register.
type BulkEntry struct {
	SubjectID SubjectID
	Status    Status
	Remarks   string
}

// MarkDailyBulk marks a register for one date.
//
// Entries are processed in order, each in its own transaction. A subject that
// already has a record is returned unchanged without an audit entry. The first
// hard error stops the batch: records produced so far are returned together
// with the error, and nothing already written is rolled back.
func (l *Ledger) MarkDailyBulk(ctx context.Context, date Date, kind SubjectKind, markedBy string, entries []BulkEntry) ([]DailyRecord, error) {
	if err := validateKind(kind); err != nil {
		return nil, err
	}
	if markedBy == "" {
		return nil, invalid("marked_by", "required")
	}
	if err := requireWorkingDay(ctx, l.calendar, date); err != nil {
		return nil, err
	}

	out := make([]DailyRecord, 0, len(entries))
	for i, e := range entries {
		in := MarkDailyInput{
			SubjectID: e.SubjectID,
			Kind:      kind,
			Date:      date,
			Status:    e.Status,
			MarkedBy:  markedBy,
			Remarks:   e.Remarks,
		}
		rec, err := l.markOrKeep(ctx, in)
		if err != nil {
			return out, fmt.Errorf("entry %d (%s): %w", i, e.SubjectID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// markOrKeep returns the existing record for the subject/date, or marks one.
func (l *Ledger) markOrKeep(ctx context.Context, in MarkDailyInput) (DailyRecord, error) {
	if err := in.validate(); err != nil {
		return DailyRecord{}, err
	}
	existing, err := l.store.FindDaily(ctx, in.SubjectID, in.Kind, in.Date)
	if err != nil {
		return DailyRecord{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	rec, err := l.insertDaily(ctx, l.newDaily(in, false), "marked")
	if errors.Is(err, ErrConflict) {
		// Lost the race to a concurrent writer; return the winner.
		winner, ferr := l.store.FindDaily(ctx, in.SubjectID, in.Kind, in.Date)
		if ferr == nil && winner != nil {
			return *winner, nil
		}
	}
	return rec, err
}

func (l *Ledger) newDaily(in MarkDailyInput, locked bool) DailyRecord {
	now := l.clock.Now().UTC()
	return DailyRecord{
		ID:          RecordID(newID()),
		SubjectID:   in.SubjectID,
		SubjectKind: in.Kind,
		Date:        in.Date,
		Status:      in.Status,
		MarkedBy:    in.MarkedBy,
		Remarks:     in.Remarks,
		IsLocked:    locked,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (l *Ledger) insertDaily(ctx context.Context, rec DailyRecord, reason string) (DailyRecord, error) {
	err := l.store.WithTx(ctx, func(tx Store) error {
		if err := tx.InsertDaily(ctx, rec); err != nil {
			return err
		}
		_, err := l.trail.With(tx).Append(ctx, RecordDaily, rec.ID, StatusNone, rec.Status, reason, rec.MarkedBy)
		return err
	})
	if err != nil {
		return DailyRecord{}, err
	}
	return rec, nil
}

// =============================================================================
// PERIOD MARKING
// =============================================================================

type MarkPeriodInput struct {
	StudentID SubjectID
	SlotID    SlotID
	Date      Date
	Status    Status
	// MinutesLate overrides the derived value for late marks.
	MinutesLate *int
	// CheckInAt is the arrival instant; clock now when nil.
	CheckInAt      *time.Time
	DetailedStatus string
	MarkedBy       string
}

func (in MarkPeriodInput) validate() error {
	if in.StudentID == "" {
		return invalid("student_id", "required")
	}
	if in.SlotID == "" {
		return invalid("slot_id", "required")
	}
	if in.Date.IsZero() {
		return invalid("date", "required")
	}
	if !in.Status.Valid() {
		return &statusError{value: string(in.Status)}
	}
	if in.MinutesLate != nil && *in.MinutesLate < 0 {
		return invalid("minutes_late", "must not be negative")
	}
	if in.MarkedBy == "" {
		return invalid("marked_by", "required")
	}
	return nil
}

// MarkPeriod creates a period record for one student in one timetable slot.
func (l *Ledger) MarkPeriod(ctx context.Context, in MarkPeriodInput) (PeriodRecord, error) {
	if err := in.validate(); err != nil {
		return PeriodRecord{}, err
	}
	slot, err := l.timetable.GetSlot(ctx, in.SlotID)
	if err != nil {
		return PeriodRecord{}, fmt.Errorf("failed to read slot %s: %w", in.SlotID, err)
	}
	if err := requireWorkingDay(ctx, l.calendar, in.Date); err != nil {
		return PeriodRecord{}, err
	}
	if in.Date.Weekday() != slot.DayOfWeek {
		return PeriodRecord{}, invalid("date", "slot %s runs on %s, %s is a %s",
			slot.ID, slot.DayOfWeek, in.Date, in.Date.Weekday())
	}

	existing, err := l.store.FindPeriod(ctx, in.StudentID, in.SlotID, in.Date)
	if err != nil {
		return PeriodRecord{}, err
	}
	if existing != nil {
		return PeriodRecord{}, periodConflict(*existing)
	}

	now := l.clock.Now().UTC()
	rec := PeriodRecord{
		ID:             RecordID(newID()),
		StudentID:      in.StudentID,
		ClassID:        slot.ClassID,
		SlotID:         slot.ID,
		Date:           in.Date,
		Status:         in.Status,
		MinutesLate:    l.minutesLate(*slot, in),
		DetailedStatus: in.DetailedStatus,
		MarkedBy:       in.MarkedBy,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = l.store.WithTx(ctx, func(tx Store) error {
		if err := tx.InsertPeriod(ctx, rec); err != nil {
			return err
		}
		_, err := l.trail.With(tx).Append(ctx, RecordPeriod, rec.ID, StatusNone, rec.Status, "marked", rec.MarkedBy)
		return err
	})
	if err != nil {
		return PeriodRecord{}, err
	}
	return rec, nil
}

// minutesLate is zero for anything but a late mark.
func (l *Ledger) minutesLate(slot TimetableSlot, in MarkPeriodInput) int {
	if in.Status != StatusLate {
		return 0
	}
	if in.MinutesLate != nil {
		return *in.MinutesLate
	}
	checkIn := l.clock.Now()
	if in.CheckInAt != nil {
		checkIn = *in.CheckInAt
	}
	reference := slot.StartTime
	if slot.PeriodNumber == 1 {
		reference = l.morningCutoff
	}
	return max(0, MinutesOf(checkIn.In(l.location))-reference.Minutes())
}

// =============================================================================
// UPDATES - Ordinary corrections to unlocked records
// =============================================================================

// Changes lists the fields an update may touch. Nil fields are left alone.
// MinutesLate and DetailedStatus apply to period records only.
type Changes struct {
	Status         *Status
	Remarks        *string
	MinutesLate    *int
	DetailedStatus *string
}

func (c Changes) empty() bool {
	return c.Status == nil && c.Remarks == nil && c.MinutesLate == nil && c.DetailedStatus == nil
}

func (c Changes) validate() error {
	if c.empty() {
		return invalid("changes", "nothing to update")
	}
	if c.Status != nil && !c.Status.Valid() {
		return &statusError{value: string(*c.Status)}
	}
	if c.MinutesLate != nil && *c.MinutesLate < 0 {
		return invalid("minutes_late", "must not be negative")
	}
	return nil
}

func updateReason(reason string) string {
	if reason == "" {
		return "updated"
	}
	return reason
}

// UpdateDaily applies changes to an unlocked daily record.
func (l *Ledger) UpdateDaily(ctx context.Context, id RecordID, ch Changes, actor, reason string) (DailyRecord, error) {
	if err := ch.validate(); err != nil {
		return DailyRecord{}, err
	}
	if ch.MinutesLate != nil || ch.DetailedStatus != nil {
		return DailyRecord{}, invalid("changes", "minutes_late and detailed_status apply to period records only")
	}
	if actor == "" {
		return DailyRecord{}, invalid("changed_by", "required")
	}

	var out DailyRecord
	err := l.store.WithTx(ctx, func(tx Store) error {
		rec, err := tx.GetDaily(ctx, id)
		if err != nil {
			return err
		}
		if rec.IsLocked {
			return &LockedError{Kind: RecordDaily, RecordID: id}
		}
		old := rec.Status
		updated := *rec
		if ch.Status != nil {
			updated.Status = *ch.Status
		}
		if ch.Remarks != nil {
			updated.Remarks = *ch.Remarks
		}
		if err := l.writeDaily(ctx, tx, &updated, rec.Version); err != nil {
			return err
		}
		out = updated
		_, err = l.trail.With(tx).Append(ctx, RecordDaily, id, old, updated.Status, updateReason(reason), actor)
		return err
	})
	if err != nil {
		return DailyRecord{}, err
	}
	return out, nil
}

// UpdatePeriod applies changes to an unlocked period record. Moving away from
// late clears minutes_late.
func (l *Ledger) UpdatePeriod(ctx context.Context, id RecordID, ch Changes, actor, reason string) (PeriodRecord, error) {
	if err := ch.validate(); err != nil {
		return PeriodRecord{}, err
	}
	if actor == "" {
		return PeriodRecord{}, invalid("changed_by", "required")
	}

	var out PeriodRecord
	err := l.store.WithTx(ctx, func(tx Store) error {
		rec, err := tx.GetPeriod(ctx, id)
		if err != nil {
			return err
		}
		if rec.IsLocked {
			return &LockedError{Kind: RecordPeriod, RecordID: id}
		}
		old := rec.Status
		updated := *rec
		applyPeriodChanges(&updated, ch)
		if err := l.writePeriod(ctx, tx, &updated, rec.Version); err != nil {
			return err
		}
		out = updated
		_, err = l.trail.With(tx).Append(ctx, RecordPeriod, id, old, updated.Status, updateReason(reason), actor)
		return err
	})
	if err != nil {
		return PeriodRecord{}, err
	}
	return out, nil
}

func applyPeriodChanges(rec *PeriodRecord, ch Changes) {
	if ch.Status != nil {
		rec.Status = *ch.Status
	}
	if ch.MinutesLate != nil {
		rec.MinutesLate = *ch.MinutesLate
	}
	if ch.DetailedStatus != nil {
		rec.DetailedStatus = *ch.DetailedStatus
	}
	if rec.Status != StatusLate {
		rec.MinutesLate = 0
	}
}

// =============================================================================
// LOCK / OVERRIDE
// =============================================================================

// LockDaily freezes a daily record. Locking twice is a no-op.
// Status does not change, so no audit entry is written.
func (l *Ledger) LockDaily(ctx context.Context, id RecordID) (DailyRecord, error) {
	var out DailyRecord
	err := l.store.WithTx(ctx, func(tx Store) error {
		rec, err := tx.GetDaily(ctx, id)
		if err != nil {
			return err
		}
		out = *rec
		if rec.IsLocked {
			return nil
		}
		out.IsLocked = true
		return l.writeDaily(ctx, tx, &out, rec.Version)
	})
	if err != nil {
		return DailyRecord{}, err
	}
	return out, nil
}

// LockPeriod freezes a period record. Locking twice is a no-op.
func (l *Ledger) LockPeriod(ctx context.Context, id RecordID) (PeriodRecord, error) {
	var out PeriodRecord
	err := l.store.WithTx(ctx, func(tx Store) error {
		rec, err := tx.GetPeriod(ctx, id)
		if err != nil {
			return err
		}
		out = *rec
		if rec.IsLocked {
			return nil
		}
		out.IsLocked = true
		return l.writePeriod(ctx, tx, &out, rec.Version)
	})
	if err != nil {
		return PeriodRecord{}, err
	}
	return out, nil
}

func validateOverride(status Status, actor, reason string) error {
	if !status.Valid() {
		return &statusError{value: string(status)}
	}
	if actor == "" {
		return invalid("changed_by", "required")
	}
	if reason == "" {
		return invalid("reason", "required for an override")
	}
	return nil
}

// OverrideDaily changes the status of a daily record whether or not it is
// locked. The lock state is kept.
func (l *Ledger) OverrideDaily(ctx context.Context, id RecordID, status Status, actor, reason string) (DailyRecord, error) {
	if err := validateOverride(status, actor, reason); err != nil {
		return DailyRecord{}, err
	}
	var out DailyRecord
	err := l.store.WithTx(ctx, func(tx Store) error {
		rec, err := tx.GetDaily(ctx, id)
		if err != nil {
			return err
		}
		old := rec.Status
		out = *rec
		out.Status = status
		if err := l.writeDaily(ctx, tx, &out, rec.Version); err != nil {
			return err
		}
		_, err = l.trail.With(tx).AppendEntry(ctx, AuditEntry{
			AttendanceType: RecordDaily,
			RecordID:       id,
			OldStatus:      old,
			NewStatus:      status,
			Reason:         reason,
			ChangedBy:      actor,
			Metadata:       map[string]string{"override": "true"},
		})
		return err
	})
	if err != nil {
		return DailyRecord{}, err
	}
	return out, nil
}

// OverridePeriod is OverrideDaily for period records.
func (l *Ledger) OverridePeriod(ctx context.Context, id RecordID, status Status, actor, reason string) (PeriodRecord, error) {
	if err := validateOverride(status, actor, reason); err != nil {
		return PeriodRecord{}, err
	}
	var out PeriodRecord
	err := l.store.WithTx(ctx, func(tx Store) error {
		rec, err := tx.GetPeriod(ctx, id)
		if err != nil {
			return err
		}
		old := rec.Status
		out = *rec
		applyPeriodChanges(&out, Changes{Status: &status})
		if err := l.writePeriod(ctx, tx, &out, rec.Version); err != nil {
			return err
		}
		_, err = l.trail.With(tx).AppendEntry(ctx, AuditEntry{
			AttendanceType: RecordPeriod,
			RecordID:       id,
			OldStatus:      old,
			NewStatus:      status,
			Reason:         reason,
			ChangedBy:      actor,
			Metadata:       map[string]string{"override": "true"},
		})
		return err
	})
	if err != nil {
		return PeriodRecord{}, err
	}
	return out, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// writeDaily bumps version and timestamp, then writes with the version check.
func (l *Ledger) writeDaily(ctx context.Context, tx Store, rec *DailyRecord, expected int) error {
	rec.Version = expected + 1
	rec.UpdatedAt = l.clock.Now().UTC()
	return tx.UpdateDaily(ctx, *rec, expected)
}

func (l *Ledger) writePeriod(ctx context.Context, tx Store, rec *PeriodRecord, expected int) error {
	rec.Version = expected + 1
	rec.UpdatedAt = l.clock.Now().UTC()
	return tx.UpdatePeriod(ctx, *rec, expected)
}

func validateKind(kind SubjectKind) error {
	if kind != KindStudent && kind != KindStaff {
		return invalid("subject_kind", "expected student or staff, got %q", kind)
	}
	return nil
}

func dailyConflict(existing DailyRecord) *ConflictError {
	return &ConflictError{
		Kind:       RecordDaily,
		SubjectID:  existing.SubjectID,
		Date:       existing.Date,
		ExistingID: existing.ID,
	}
}

func periodConflict(existing PeriodRecord) *ConflictError {
	return &ConflictError{
		Kind:       RecordPeriod,
		SubjectID:  existing.StudentID,
		Date:       existing.Date,
		SlotID:     existing.SlotID,
		ExistingID: existing.ID,
	}
}
