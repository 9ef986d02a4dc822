package attendance_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	thursday = attendance.MustParseDate("2024-02-01")
	saturday = attendance.MustParseDate("2024-02-03")
	monday   = attendance.MustParseDate("2024-02-05")
)

// 2024-02-01 08:20 in Jakarta.
var checkIn = time.Date(2024, time.February, 1, 1, 20, 0, 0, time.UTC)

func newTestLedger(t *testing.T) (*attendance.Ledger, *memory.Store) {
	t.Helper()
	cutoff := attendance.MustParseTimeOfDay("08:00")
	return newTestLedgerWithCutoff(t, &cutoff)
}

func newTestLedgerWithCutoff(t *testing.T, cutoff *attendance.TimeOfDay) (*attendance.Ledger, *memory.Store) {
	t.Helper()
	store := memory.New()
	store.SaveSlot(attendance.TimetableSlot{
		ID: "thu-1", ClassID: "7A", TeacherID: "t-1", SubjectID: "math",
		DayOfWeek: time.Thursday, PeriodNumber: 1,
		StartTime: attendance.MustParseTimeOfDay("07:30"), EndTime: attendance.MustParseTimeOfDay("08:15"),
	})
	store.SaveSlot(attendance.TimetableSlot{
		ID: "thu-3", ClassID: "7A", TeacherID: "t-2", SubjectID: "bio",
		DayOfWeek: time.Thursday, PeriodNumber: 3,
		StartTime: attendance.MustParseTimeOfDay("09:00"), EndTime: attendance.MustParseTimeOfDay("09:45"),
	})

	ledger := attendance.NewLedger(attendance.LedgerConfig{
		Store:         store,
		Timetable:     store,
		Clock:         attendance.FixedClock{At: checkIn},
		Location:      time.FixedZone("WIB", 7*60*60),
		MorningCutoff: cutoff,
	})
	return ledger, store
}

func markPresent(t *testing.T, l *attendance.Ledger, subject attendance.SubjectID, date attendance.Date) attendance.DailyRecord {
	t.Helper()
	rec, err := l.MarkDaily(context.Background(), attendance.MarkDailyInput{
		SubjectID: subject, Kind: attendance.KindStudent, Date: date,
		Status: attendance.StatusPresent, MarkedBy: "teacher-1",
	})
	require.NoError(t, err)
	return rec
}

func auditFor(t *testing.T, store *memory.Store, id attendance.RecordID) []attendance.AuditEntry {
	t.Helper()
	entries, err := store.ListAudit(context.Background(), attendance.AuditFilter{RecordID: id})
	require.NoError(t, err)
	return entries
}

func statusPtr(s attendance.Status) *attendance.Status { return &s }

// =============================================================================
// DAILY MARKING
// =============================================================================

func TestMarkDaily_CreatesUnlockedRecordWithAudit(t *testing.T) {
	ledger, store := newTestLedger(t)

	rec := markPresent(t, ledger, "s-1", thursday)

	assert.Equal(t, attendance.StatusPresent, rec.Status)
	assert.False(t, rec.IsLocked)
	assert.Equal(t, 1, rec.Version)

	entries := auditFor(t, store, rec.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, attendance.StatusNone, entries[0].OldStatus)
	assert.Equal(t, attendance.StatusPresent, entries[0].NewStatus)
	assert.Equal(t, "teacher-1", entries[0].ChangedBy)
}

func TestMarkDaily_SecondMarkSameDay_Conflict(t *testing.T) {
	// GIVEN: S marked present on 2024-02-01
	// WHEN: S is marked absent for the same date
	// THEN: Conflict, and the stored record stays present
	ledger, store := newTestLedger(t)
	ctx := context.Background()
	first := markPresent(t, ledger, "s-1", thursday)

	_, err := ledger.MarkDaily(ctx, attendance.MarkDailyInput{
		SubjectID: "s-1", Kind: attendance.KindStudent, Date: thursday,
		Status: attendance.StatusAbsent, MarkedBy: "teacher-2",
	})

	require.ErrorIs(t, err, attendance.ErrConflict)
	var conflict *attendance.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, first.ID, conflict.ExistingID)

	stored, err := store.GetDaily(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusPresent, stored.Status)
	assert.Len(t, auditFor(t, store, first.ID), 1)
}

func TestMarkDaily_SameSubjectDifferentKind_Allowed(t *testing.T) {
	ledger, _ := newTestLedger(t)
	markPresent(t, ledger, "p-1", thursday)

	_, err := ledger.MarkDaily(context.Background(), attendance.MarkDailyInput{
		SubjectID: "p-1", Kind: attendance.KindStaff, Date: thursday,
		Status: attendance.StatusPresent, MarkedBy: "admin",
	})
	assert.NoError(t, err)
}

func TestMarkDaily_NonWorkingDay(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.MarkDaily(ctx, attendance.MarkDailyInput{
		SubjectID: "s-1", Kind: attendance.KindStudent, Date: saturday,
		Status: attendance.StatusPresent, MarkedBy: "teacher-1",
	})
	var nwd *attendance.NonWorkingDayError
	require.ErrorAs(t, err, &nwd)
	assert.Equal(t, saturday, nwd.Date)

	// A holiday override on a weekday closes it too.
	cal := attendance.NewCalendar(store)
	require.NoError(t, cal.SaveDay(ctx, attendance.CalendarDay{Date: monday, DayType: attendance.DayHoliday}))
	_, err = ledger.MarkDaily(ctx, attendance.MarkDailyInput{
		SubjectID: "s-1", Kind: attendance.KindStudent, Date: monday,
		Status: attendance.StatusPresent, MarkedBy: "teacher-1",
	})
	assert.ErrorIs(t, err, attendance.ErrNonWorkingDay)
}

func TestMarkDaily_InvalidInput(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		input attendance.MarkDailyInput
		want  error
	}{
		{"missing subject", attendance.MarkDailyInput{Kind: attendance.KindStudent, Date: thursday, Status: attendance.StatusPresent, MarkedBy: "x"}, attendance.ErrValidation},
		{"bad kind", attendance.MarkDailyInput{SubjectID: "s", Kind: "parent", Date: thursday, Status: attendance.StatusPresent, MarkedBy: "x"}, attendance.ErrValidation},
		{"bad status", attendance.MarkDailyInput{SubjectID: "s", Kind: attendance.KindStudent, Date: thursday, Status: "sleeping", MarkedBy: "x"}, attendance.ErrInvalidStatus},
		{"missing marker", attendance.MarkDailyInput{SubjectID: "s", Kind: attendance.KindStudent, Date: thursday, Status: attendance.StatusPresent}, attendance.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ledger.MarkDaily(ctx, tt.input)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, attendance.IsClientError(err))
		})
	}
}

// =============================================================================
// BULK
// =============================================================================

func TestMarkDailyBulk_SkipsExistingAndStopsAtFirstError(t *testing.T) {
	// GIVEN: s-2 already marked present
	// WHEN: A register with s-1, s-2, a bad status for s-3, then s-4
	// THEN: s-1 created, s-2 returned unchanged, batch stops at s-3
	ledger, store := newTestLedger(t)
	ctx := context.Background()
	existing := markPresent(t, ledger, "s-2", thursday)

	recs, err := ledger.MarkDailyBulk(ctx, thursday, attendance.KindStudent, "teacher-1", []attendance.BulkEntry{
		{SubjectID: "s-1", Status: attendance.StatusAbsent},
		{SubjectID: "s-2", Status: attendance.StatusAbsent},
		{SubjectID: "s-3", Status: "asleep"},
		{SubjectID: "s-4", Status: attendance.StatusPresent},
	})

	require.ErrorIs(t, err, attendance.ErrInvalidStatus)
	require.Len(t, recs, 2)
	assert.Equal(t, attendance.StatusAbsent, recs[0].Status)
	assert.Equal(t, existing.ID, recs[1].ID)
	assert.Equal(t, attendance.StatusPresent, recs[1].Status)
	assert.Len(t, auditFor(t, store, existing.ID), 1, "skipped record gets no audit entry")

	s4, err := store.FindDaily(ctx, "s-4", attendance.KindStudent, thursday)
	require.NoError(t, err)
	assert.Nil(t, s4)
}

func TestMarkDailyBulk_NonWorkingDayRejectedUpFront(t *testing.T) {
	ledger, _ := newTestLedger(t)
	recs, err := ledger.MarkDailyBulk(context.Background(), saturday, attendance.KindStudent, "teacher-1",
		[]attendance.BulkEntry{{SubjectID: "s-1", Status: attendance.StatusPresent}})
	assert.ErrorIs(t, err, attendance.ErrNonWorkingDay)
	assert.Empty(t, recs)
}

// =============================================================================
// PERIOD MARKING
// =============================================================================

func TestMarkPeriod_LateMinutesFromMorningCutoffForFirstPeriod(t *testing.T) {
	// GIVEN: Check-in at 08:20 school time, period 1 starts 07:30, cutoff 08:00
	// THEN: 20 minutes late (cutoff wins for period 1)
	ledger, _ := newTestLedger(t)

	rec, err := ledger.MarkPeriod(context.Background(), attendance.MarkPeriodInput{
		StudentID: "s-1", SlotID: "thu-1", Date: thursday,
		Status: attendance.StatusLate, MarkedBy: "t-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 20, rec.MinutesLate)
	assert.Equal(t, "7A", rec.ClassID)
}

func TestMarkPeriod_MorningCutoffAtMidnightIsHonoured(t *testing.T) {
	// GIVEN: Check-in at 08:20 school time
	// WHEN: The cutoff is 00:00, or left unset
	// THEN: 500 minutes late against midnight; the unset cutoff falls back to 08:00
	midnight := attendance.TimeOfDay{}
	tests := []struct {
		name   string
		cutoff *attendance.TimeOfDay
		want   int
	}{
		{"midnight", &midnight, 500},
		{"unset", nil, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger, _ := newTestLedgerWithCutoff(t, tt.cutoff)
			rec, err := ledger.MarkPeriod(context.Background(), attendance.MarkPeriodInput{
				StudentID: "s-1", SlotID: "thu-1", Date: thursday,
				Status: attendance.StatusLate, MarkedBy: "t-1",
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.MinutesLate)
		})
	}
}

func TestMarkPeriod_LateMinutesFromSlotStart(t *testing.T) {
	ledger, _ := newTestLedger(t)
	arrived := time.Date(2024, time.February, 1, 2, 12, 0, 0, time.UTC) // 09:12 Jakarta

	rec, err := ledger.MarkPeriod(context.Background(), attendance.MarkPeriodInput{
		StudentID: "s-1", SlotID: "thu-3", Date: thursday,
		Status: attendance.StatusLate, CheckInAt: &arrived, MarkedBy: "t-2",
	})
	require.NoError(t, err)
	assert.Equal(t, 12, rec.MinutesLate)
}

func TestMarkPeriod_EarlyCheckInClampsToZero(t *testing.T) {
	ledger, _ := newTestLedger(t)
	arrived := time.Date(2024, time.February, 1, 1, 0, 0, 0, time.UTC) // 08:00 Jakarta

	rec, err := ledger.MarkPeriod(context.Background(), attendance.MarkPeriodInput{
		StudentID: "s-1", SlotID: "thu-3", Date: thursday,
		Status: attendance.StatusLate, CheckInAt: &arrived, MarkedBy: "t-2",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, rec.MinutesLate)
}

func TestMarkPeriod_NonLateIgnoresMinutes(t *testing.T) {
	ledger, _ := newTestLedger(t)
	five := 5

	rec, err := ledger.MarkPeriod(context.Background(), attendance.MarkPeriodInput{
		StudentID: "s-1", SlotID: "thu-3", Date: thursday,
		Status: attendance.StatusPresent, MinutesLate: &five, MarkedBy: "t-2",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, rec.MinutesLate)
}

func TestMarkPeriod_Errors(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	base := attendance.MarkPeriodInput{
		StudentID: "s-1", SlotID: "thu-3", Date: thursday,
		Status: attendance.StatusPresent, MarkedBy: "t-2",
	}

	_, err := ledger.MarkPeriod(ctx, base)
	require.NoError(t, err)

	_, err = ledger.MarkPeriod(ctx, base)
	assert.ErrorIs(t, err, attendance.ErrConflict, "second mark for same student/slot/date")

	wrongDay := base
	wrongDay.StudentID = "s-2"
	wrongDay.Date = monday
	_, err = ledger.MarkPeriod(ctx, wrongDay)
	assert.ErrorIs(t, err, attendance.ErrValidation, "slot does not run on Monday")

	unknown := base
	unknown.SlotID = "nope"
	_, err = ledger.MarkPeriod(ctx, unknown)
	assert.ErrorIs(t, err, attendance.ErrNotFound)
}

// =============================================================================
// UPDATE / LOCK / OVERRIDE
// =============================================================================

func TestUpdateDaily_WritesExactlyOneAuditEntry(t *testing.T) {
	ledger, store := newTestLedger(t)
	rec := markPresent(t, ledger, "s-1", thursday)

	updated, err := ledger.UpdateDaily(context.Background(), rec.ID,
		attendance.Changes{Status: statusPtr(attendance.StatusLate)}, "teacher-2", "arrived after bell")
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusLate, updated.Status)
	assert.Equal(t, 2, updated.Version)

	entries := auditFor(t, store, rec.ID)
	require.Len(t, entries, 2)
	last := entries[1]
	assert.Equal(t, attendance.StatusPresent, last.OldStatus)
	assert.Equal(t, attendance.StatusLate, last.NewStatus)
	assert.Equal(t, updated.Status, last.NewStatus)
	assert.Equal(t, "arrived after bell", last.Reason)
}

func TestUpdateDaily_LockedRecordUnchanged(t *testing.T) {
	// GIVEN: A locked record
	// WHEN: An ordinary update is attempted
	// THEN: LockedError, no mutation, no audit entry
	ledger, store := newTestLedger(t)
	ctx := context.Background()
	rec := markPresent(t, ledger, "s-1", thursday)
	_, err := ledger.LockDaily(ctx, rec.ID)
	require.NoError(t, err)

	_, err = ledger.UpdateDaily(ctx, rec.ID, attendance.Changes{Status: statusPtr(attendance.StatusAbsent)}, "teacher-2", "")

	var locked *attendance.LockedError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, rec.ID, locked.RecordID)
	assert.True(t, attendance.IsConflict(err))

	stored, err := store.GetDaily(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusPresent, stored.Status)
	assert.Len(t, auditFor(t, store, rec.ID), 1)
}

func TestUpdateDaily_NotFoundAndEmptyChanges(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.UpdateDaily(ctx, "missing", attendance.Changes{Status: statusPtr(attendance.StatusAbsent)}, "x", "")
	assert.ErrorIs(t, err, attendance.ErrNotFound)

	rec := markPresent(t, ledger, "s-1", thursday)
	_, err = ledger.UpdateDaily(ctx, rec.ID, attendance.Changes{}, "x", "")
	assert.ErrorIs(t, err, attendance.ErrValidation)
}

func TestLockDaily_Idempotent(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()
	rec := markPresent(t, ledger, "s-1", thursday)

	first, err := ledger.LockDaily(ctx, rec.ID)
	require.NoError(t, err)
	second, err := ledger.LockDaily(ctx, rec.ID)
	require.NoError(t, err)

	assert.True(t, second.IsLocked)
	assert.Equal(t, first.Version, second.Version)
	assert.Len(t, auditFor(t, store, rec.ID), 1, "locking is not a status change")
}

func TestOverrideDaily_ChangesLockedRecordAndKeepsLock(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()
	rec := markPresent(t, ledger, "s-1", thursday)
	_, err := ledger.LockDaily(ctx, rec.ID)
	require.NoError(t, err)

	_, err = ledger.OverrideDaily(ctx, rec.ID, attendance.StatusExcused, "principal", "")
	require.ErrorIs(t, err, attendance.ErrValidation, "override needs a reason")

	out, err := ledger.OverrideDaily(ctx, rec.ID, attendance.StatusExcused, "principal", "medical note")
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusExcused, out.Status)
	assert.True(t, out.IsLocked)

	entries := auditFor(t, store, rec.ID)
	require.Len(t, entries, 2)
	assert.Equal(t, "true", entries[1].Metadata["override"])
	assert.Equal(t, "principal", entries[1].ChangedBy)
}

func TestUpdatePeriod_LeavingLateClearsMinutes(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()
	rec, err := ledger.MarkPeriod(ctx, attendance.MarkPeriodInput{
		StudentID: "s-1", SlotID: "thu-1", Date: thursday,
		Status: attendance.StatusLate, MarkedBy: "t-1",
	})
	require.NoError(t, err)
	require.Equal(t, 20, rec.MinutesLate)

	updated, err := ledger.UpdatePeriod(ctx, rec.ID, attendance.Changes{Status: statusPtr(attendance.StatusPresent)}, "t-1", "clock was wrong")
	require.NoError(t, err)
	assert.Equal(t, 0, updated.MinutesLate)
	assert.Len(t, auditFor(t, store, rec.ID), 2)

	_, err = ledger.LockPeriod(ctx, rec.ID)
	require.NoError(t, err)
	_, err = ledger.UpdatePeriod(ctx, rec.ID, attendance.Changes{Status: statusPtr(attendance.StatusAbsent)}, "t-1", "")
	assert.ErrorIs(t, err, attendance.ErrLocked)

	over, err := ledger.OverridePeriod(ctx, rec.ID, attendance.StatusAbsent, "principal", "left early")
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusAbsent, over.Status)
	assert.True(t, over.IsLocked)
}

func TestStore_StaleVersionRejected(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()
	rec := markPresent(t, ledger, "s-1", thursday)

	stale := rec
	stale.Status = attendance.StatusAbsent
	require.NoError(t, store.UpdateDaily(ctx, stale, rec.Version))

	err := store.UpdateDaily(ctx, stale, rec.Version)
	assert.ErrorIs(t, err, attendance.ErrConcurrentModification)
	assert.True(t, attendance.IsRetryable(err))
}
