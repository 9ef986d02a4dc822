package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/rollcall"
	"github.com/warp/attendance-engine/store/sqlite"
	"github.com/warp/attendance-engine/substitution"
)

var thursday = attendance.MustParseDate("2024-02-01")

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func daily(id attendance.RecordID, subject attendance.SubjectID, status attendance.Status) attendance.DailyRecord {
	now := time.Date(2024, 2, 1, 1, 0, 0, 0, time.UTC)
	return attendance.DailyRecord{
		ID: id, SubjectID: subject, SubjectKind: attendance.KindStudent, Date: thursday,
		Status: status, MarkedBy: "teacher-1", Version: 1, CreatedAt: now, UpdatedAt: now,
	}
}

// =============================================================================
// RECORDS
// =============================================================================

func TestDaily_UniquePerSubjectAndDate(t *testing.T) {
	// GIVEN: A daily record for S1 on Thursday
	// WHEN: A second record for the same subject and date is inserted
	// THEN: ConflictError naming the existing record
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertDaily(ctx, daily("r-1", "S1", attendance.StatusPresent)))

	err := store.InsertDaily(ctx, daily("r-2", "S1", attendance.StatusAbsent))
	require.ErrorIs(t, err, attendance.ErrConflict)
	var conflict *attendance.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, attendance.RecordID("r-1"), conflict.ExistingID)

	// Same subject as staff is a different record.
	staff := daily("r-3", "S1", attendance.StatusPresent)
	staff.SubjectKind = attendance.KindStaff
	assert.NoError(t, store.InsertDaily(ctx, staff))
}

func TestDaily_RoundTripAndVersionCheck(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rec := daily("r-1", "S1", attendance.StatusPresent)
	rec.Remarks = "on time"
	require.NoError(t, store.InsertDaily(ctx, rec))

	got, err := store.GetDaily(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, thursday, got.Date)
	assert.Equal(t, "on time", got.Remarks)
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))

	got.Status = attendance.StatusLate
	require.NoError(t, store.UpdateDaily(ctx, *got, 1))

	after, err := store.GetDaily(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusLate, after.Status)
	assert.Equal(t, 2, after.Version)

	// A writer still holding version 1 loses.
	assert.ErrorIs(t, store.UpdateDaily(ctx, *got, 1), attendance.ErrConcurrentModification)

	missing := *got
	missing.ID = "nope"
	assert.ErrorIs(t, store.UpdateDaily(ctx, missing, 1), attendance.ErrNotFound)
	_, err = store.GetDaily(ctx, "nope")
	assert.ErrorIs(t, err, attendance.ErrNotFound)

	found, err := store.FindDaily(ctx, "S2", attendance.KindStudent, thursday)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestPeriod_UniquePerStudentSlotAndDate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rec := attendance.PeriodRecord{
		ID: "p-1", StudentID: "S1", ClassID: "7A", SlotID: "thu-1", Date: thursday,
		Status: attendance.StatusLate, MinutesLate: 12, MarkedBy: "teacher-1", Version: 1,
	}
	require.NoError(t, store.InsertPeriod(ctx, rec))

	dup := rec
	dup.ID = "p-2"
	assert.ErrorIs(t, store.InsertPeriod(ctx, dup), attendance.ErrConflict)

	list, err := store.ListPeriodByStudent(ctx, "S1", attendance.DateRange{From: thursday, To: thursday})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 12, list[0].MinutesLate)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A transaction that inserts a record and an audit entry
	// WHEN: The function returns an error
	// THEN: Neither write is visible
	store := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(tx attendance.Store) error {
		if err := tx.InsertDaily(ctx, daily("r-1", "S1", attendance.StatusPresent)); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, attendance.AuditEntry{
			ID: "a-1", AttendanceType: attendance.RecordDaily, RecordID: "r-1",
			NewStatus: attendance.StatusPresent, ChangedBy: "teacher-1", ChangedAt: time.Now(),
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	found, err := store.FindDaily(ctx, "S1", attendance.KindStudent, thursday)
	require.NoError(t, err)
	assert.Nil(t, found)
	entries, err := store.ListAudit(ctx, attendance.AuditFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// =============================================================================
// AUDIT / CALENDAR / DISCREPANCY / POLICY
// =============================================================================

func TestAudit_MetadataAndFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 2, 1, 2, 0, 0, 0, time.UTC)
	require.NoError(t, store.AppendAudit(ctx, attendance.AuditEntry{
		ID: "a-1", AttendanceType: attendance.RecordDaily, RecordID: "r-1",
		NewStatus: attendance.StatusPresent, Reason: "marked", ChangedBy: "t1", ChangedAt: at,
	}))
	require.NoError(t, store.AppendAudit(ctx, attendance.AuditEntry{
		ID: "a-2", AttendanceType: attendance.RecordDaily, RecordID: "r-1",
		OldStatus: attendance.StatusPresent, NewStatus: attendance.StatusExcused, Reason: "doctor's note",
		ChangedBy: "admin", ChangedAt: at.Add(time.Hour), Metadata: map[string]string{"override": "true"},
	}))

	all, err := store.ListAudit(ctx, attendance.AuditFilter{RecordID: "r-1"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a-1", all[0].ID)
	assert.Nil(t, all[0].Metadata)
	assert.Equal(t, "true", all[1].Metadata["override"])

	from := at.Add(30 * time.Minute)
	later, err := store.ListAudit(ctx, attendance.AuditFilter{From: &from})
	require.NoError(t, err)
	require.Len(t, later, 1)
	assert.Equal(t, "admin", later[0].ChangedBy)
}

func TestCalendarDay_Upsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	day, err := store.GetCalendarDay(ctx, thursday)
	require.NoError(t, err)
	assert.Nil(t, day)

	require.NoError(t, store.SaveCalendarDay(ctx, attendance.CalendarDay{Date: thursday, DayType: attendance.DayHoliday, Note: "flood"}))
	require.NoError(t, store.SaveCalendarDay(ctx, attendance.CalendarDay{Date: thursday, DayType: attendance.DayEvent, IsAcademicDay: true}))

	day, err = store.GetCalendarDay(ctx, thursday)
	require.NoError(t, err)
	require.NotNil(t, day)
	assert.Equal(t, attendance.DayEvent, day.DayType)
	assert.True(t, day.IsAcademicDay)
	assert.Empty(t, day.Note)
}

func TestDiscrepancy_UniqueAndResolve(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	d := attendance.Discrepancy{
		ID: "d-1", StudentID: "S1", Date: thursday, Type: attendance.DiscrepancyPresentButMissingPeriod,
		Details: "marked present but absent from periods: thu-3", Severity: attendance.SeverityHigh,
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.InsertDiscrepancy(ctx, d))

	dup := d
	dup.ID = "d-2"
	assert.ErrorIs(t, store.InsertDiscrepancy(ctx, dup), attendance.ErrConflict)

	exists, err := store.DiscrepancyExists(ctx, "S1", thursday, attendance.DiscrepancyPresentButMissingPeriod)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.ResolveDiscrepancy(ctx, "d-1", "counsellor"))
	got, err := store.GetDiscrepancy(ctx, "d-1")
	require.NoError(t, err)
	assert.True(t, got.IsResolved)
	assert.Equal(t, "counsellor", got.ResolvedBy)

	assert.ErrorIs(t, store.ResolveDiscrepancy(ctx, "d-9", "counsellor"), attendance.ErrNotFound)
}

func TestPolicies_ActiveOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SavePolicy(ctx, attendance.Policy{
		ID: "p-1", RuleType: attendance.RuleTotalLate, Threshold: 3, ConsequenceType: "detention", IsActive: true,
	}))
	require.NoError(t, store.SavePolicy(ctx, attendance.Policy{
		ID: "p-2", RuleType: attendance.RuleTotalAbsent, Threshold: 10, ConsequenceType: "parent_meeting",
	}))

	active, err := store.ListPolicies(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, attendance.PolicyID("p-1"), active[0].ID)

	all, err := store.ListPolicies(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

// =============================================================================
// SUBSTITUTIONS / ROLL CALLS / DIRECTORY
// =============================================================================

func TestSubstitutions_PartialUniqueIndex(t *testing.T) {
	// GIVEN: F is pending cover for slot X on Monday
	// WHEN: Another active booking for F on X is inserted
	// THEN: Conflict; a rejected row does not count
	store := newTestStore(t)
	subs := store.Substitutions()
	ctx := context.Background()
	monday := attendance.MustParseDate("2024-02-05")
	base := substitution.Substitution{
		ID: "s-1", OriginalTeacherID: "T", SubstituteTeacherID: "F", SlotID: "X", Date: monday,
		Status: substitution.StatusPending, Remarks: "auto-generated",
	}
	require.NoError(t, subs.InsertSubstitution(ctx, base))

	dup := base
	dup.ID = "s-2"
	assert.ErrorIs(t, subs.InsertSubstitution(ctx, dup), attendance.ErrConflict)

	dup.Status = substitution.StatusRejected
	require.NoError(t, subs.InsertSubstitution(ctx, dup))

	confirmed := base
	confirmed.Status = substitution.StatusConfirmed
	confirmed.DecidedBy = "vp"
	require.NoError(t, subs.UpdateSubstitution(ctx, confirmed, substitution.StatusPending))
	assert.ErrorIs(t, subs.UpdateSubstitution(ctx, confirmed, substitution.StatusPending), attendance.ErrConcurrentModification)

	list, err := subs.ListSubstitutionsByDate(ctx, monday)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	got, err := subs.GetSubstitution(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, substitution.StatusConfirmed, got.Status)
	assert.Equal(t, "vp", got.DecidedBy)
}

func TestRollCalls_ClosedAfterComplete(t *testing.T) {
	store := newTestStore(t)
	rcs := store.RollCalls()
	ctx := context.Background()
	start := time.Date(2024, 2, 1, 3, 0, 0, 0, time.UTC)
	rc := rollcall.RollCall{
		ID: "rc-1", EventName: "fire drill", Date: thursday, StartTime: start,
		InitiatedBy: "principal", Status: rollcall.StatusActive,
	}
	entries := []rollcall.Entry{
		{RollCallID: "rc-1", PersonID: "B", PersonKind: attendance.KindStudent, Status: rollcall.EntryUnknown},
		{RollCallID: "rc-1", PersonID: "A", PersonKind: attendance.KindStudent, Status: rollcall.EntryUnknown},
	}
	require.NoError(t, rcs.WithTx(ctx, func(tx rollcall.Store) error {
		return tx.InsertRollCall(ctx, rc, entries)
	}))

	marked := start.Add(5 * time.Minute)
	require.NoError(t, rcs.UpdateEntry(ctx, rollcall.Entry{
		RollCallID: "rc-1", PersonID: "A", PersonKind: attendance.KindStudent,
		Status: rollcall.EntrySafe, LocationFound: "field", MarkedAt: &marked,
	}))
	assert.ErrorIs(t, rcs.UpdateEntry(ctx, rollcall.Entry{RollCallID: "rc-1", PersonID: "Z", Status: rollcall.EntrySafe}), attendance.ErrNotFound)

	list, err := rcs.ListEntries(ctx, "rc-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, attendance.SubjectID("A"), list[0].PersonID)
	assert.Equal(t, rollcall.EntrySafe, list[0].Status)
	require.NotNil(t, list[0].MarkedAt)

	require.NoError(t, rcs.CompleteRollCall(ctx, "rc-1", start.Add(time.Hour)))
	assert.ErrorIs(t, rcs.CompleteRollCall(ctx, "rc-1", start.Add(time.Hour)), attendance.ErrRollCallClosed)
	assert.ErrorIs(t, rcs.CompleteRollCall(ctx, "rc-9", start), attendance.ErrNotFound)
	assert.ErrorIs(t, rcs.UpdateEntry(ctx, rollcall.Entry{RollCallID: "rc-1", PersonID: "B", Status: rollcall.EntryMissing}), attendance.ErrRollCallClosed)

	active, err := rcs.ListActiveRollCalls(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestDirectory_Providers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveStaff(ctx, attendance.StaffMember{ID: "T", Name: "Tan", Email: "tan@school.test", IsTeaching: true}))
	require.NoError(t, store.SaveStaff(ctx, attendance.StaffMember{ID: "A", Name: "Ari", IsTeaching: true}))
	require.NoError(t, store.SaveStaff(ctx, attendance.StaffMember{ID: "K", Name: "Kurnia"}))
	require.NoError(t, store.SaveSlot(ctx, attendance.TimetableSlot{
		ID: "X", ClassID: "7A", TeacherID: "T", DayOfWeek: time.Monday, PeriodNumber: 3,
		StartTime: attendance.MustParseTimeOfDay("09:00"), EndTime: attendance.MustParseTimeOfDay("09:45"),
	}))
	require.NoError(t, store.SaveLeave(ctx, attendance.LeaveInterval{
		StaffID: "A", From: thursday, To: thursday.AddDays(1), Status: attendance.LeaveApproved,
	}))
	require.NoError(t, store.SaveLeave(ctx, attendance.LeaveInterval{
		StaffID: "T", From: thursday, To: thursday, Status: attendance.LeavePending,
	}))
	require.NoError(t, store.SetContact(ctx, "S1", "guardian@home.test"))

	teaching, err := store.TeachingStaff(ctx)
	require.NoError(t, err)
	assert.Equal(t, []attendance.StaffID{"T", "A"}, teaching)

	slot, err := store.GetSlot(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, time.Monday, slot.DayOfWeek)
	assert.Equal(t, attendance.TimeOfDay{Hour: 9}, slot.StartTime)
	_, err = store.GetSlot(ctx, "nope")
	assert.ErrorIs(t, err, attendance.ErrNotFound)

	busy, err := store.FindTeachersAt(ctx, time.Monday, 3)
	require.NoError(t, err)
	assert.Equal(t, []attendance.StaffID{"T"}, busy)

	onLeave, err := store.ApprovedLeavesCovering(ctx, thursday.AddDays(1))
	require.NoError(t, err)
	assert.Equal(t, []attendance.StaffID{"A"}, onLeave)

	email, err := store.ContactEmail(ctx, "T", attendance.KindStaff)
	require.NoError(t, err)
	assert.Equal(t, "tan@school.test", email)
	email, err = store.ContactEmail(ctx, "S1", attendance.KindStudent)
	require.NoError(t, err)
	assert.Equal(t, "guardian@home.test", email)
	_, err = store.ContactEmail(ctx, "S2", attendance.KindStudent)
	assert.ErrorIs(t, err, attendance.ErrNotFound)
}
