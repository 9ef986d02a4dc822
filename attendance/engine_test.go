package attendance_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/store/memory"
)

// =============================================================================
// CALENDAR
// =============================================================================

func TestCalendar_IsWorkingDay(t *testing.T) {
	store := memory.New()
	cal := attendance.NewCalendar(store)
	ctx := context.Background()

	require.NoError(t, cal.SaveDay(ctx, attendance.CalendarDay{Date: monday, DayType: attendance.DayExamBreak, IsAcademicDay: true}))
	require.NoError(t, cal.SaveDay(ctx, attendance.CalendarDay{Date: saturday, DayType: attendance.DayWorking, IsAcademicDay: true, Note: "make-up day"}))
	require.NoError(t, cal.SaveDay(ctx, attendance.CalendarDay{Date: thursday.AddDays(1), DayType: attendance.DayWorking, IsAcademicDay: false}))

	tests := []struct {
		name string
		date attendance.Date
		want bool
	}{
		{"weekday without override", thursday, true},
		{"sunday without override", saturday.AddDays(1), false},
		{"saturday make-up day", saturday, true},
		{"exam break", monday, false},
		{"working but not academic", thursday.AddDays(1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cal.IsWorkingDay(ctx, tt.date)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	err := cal.SaveDay(ctx, attendance.CalendarDay{Date: monday, DayType: "party"})
	assert.ErrorIs(t, err, attendance.ErrValidation)
}

func TestCalendar_WorkingDaysInIsBounded(t *testing.T) {
	// GIVEN: A leap year (366 days), one day more, and the open-ended range
	// WHEN: Working days are listed
	// THEN: The leap year is allowed; longer spans fail validation without scanning
	cal := attendance.NewCalendar(memory.New())
	ctx := context.Background()
	year := attendance.DateRange{From: attendance.MustParseDate("2024-01-01"), To: attendance.MustParseDate("2024-12-31")}
	assert.Equal(t, 366, year.NumDays())

	days, err := cal.WorkingDaysIn(ctx, year)
	require.NoError(t, err)
	assert.Len(t, days, 262)

	_, err = cal.WorkingDaysIn(ctx, attendance.DateRange{From: year.From, To: year.To.AddDays(1)})
	assert.ErrorIs(t, err, attendance.ErrValidation)
	_, err = cal.WorkingDaysIn(ctx, attendance.AllTime())
	assert.ErrorIs(t, err, attendance.ErrValidation)
}

// =============================================================================
// AUTHORITATIVE SYNCS
// =============================================================================

func TestApplyApprovedAbsence_InsertsLockedExcused(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	rec, applied, err := ledger.ApplyApprovedAbsence(ctx, "s-1", attendance.KindStudent, thursday, "office", "family event")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, attendance.StatusExcused, rec.Status)
	assert.True(t, rec.IsLocked)

	entries := auditFor(t, store, rec.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, "approved_absence", entries[0].Metadata["source"])
}

func TestApplyApprovedAbsence_OverridesUnlockedSkipsLocked(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()
	marked := markPresent(t, ledger, "s-1", thursday)

	rec, applied, err := ledger.ApplyApprovedAbsence(ctx, "s-1", attendance.KindStudent, thursday, "office", "")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, marked.ID, rec.ID)
	assert.Equal(t, attendance.StatusExcused, rec.Status)
	assert.True(t, rec.IsLocked)

	// Second application leaves the locked record alone.
	_, applied, err = ledger.ApplyApprovedAbsence(ctx, "s-1", attendance.KindStudent, thursday, "office", "")
	require.NoError(t, err)
	assert.False(t, applied)

	entries := auditFor(t, store, marked.ID)
	require.Len(t, entries, 2)
	assert.Equal(t, attendance.StatusPresent, entries[1].OldStatus)
	assert.Equal(t, attendance.StatusExcused, entries[1].NewStatus)
}

func TestSyncSchoolBusiness_CountsAppliedAndSkipsLocked(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	_, _, err := ledger.ApplyApprovedAbsence(ctx, "s-3", attendance.KindStudent, thursday, "office", "")
	require.NoError(t, err)

	n, err := ledger.SyncSchoolBusiness(ctx, attendance.KindStudent, thursday, []attendance.SubjectID{"s-1", "s-2", "s-3", ""}, "office", "debate tournament")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = ledger.SyncSchoolBusiness(ctx, attendance.KindStudent, saturday, []attendance.SubjectID{"s-1"}, "office", "")
	assert.ErrorIs(t, err, attendance.ErrNonWorkingDay)
}

func TestSyncApprovedLeaves(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()
	store.SaveLeave(attendance.LeaveInterval{StaffID: "t-1", From: thursday, To: monday, Status: attendance.LeaveApproved})
	store.SaveLeave(attendance.LeaveInterval{StaffID: "t-2", From: thursday, To: thursday, Status: attendance.LeavePending})

	n, err := ledger.SyncApprovedLeaves(ctx, thursday, store, "hr-sync")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := store.FindDaily(ctx, "t-1", attendance.KindStaff, thursday)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, attendance.StatusExcused, rec.Status)
	assert.True(t, rec.IsLocked)

	pending, err := store.FindDaily(ctx, "t-2", attendance.KindStaff, thursday)
	require.NoError(t, err)
	assert.Nil(t, pending)
}

// =============================================================================
// REPORTS
// =============================================================================

func TestAttendancePercentage(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	// Three working days: present, school_business, absent.
	markPresent(t, ledger, "s-1", thursday.AddDays(-3)) // Monday 29 Jan
	_, err := ledger.SyncSchoolBusiness(ctx, attendance.KindStudent, thursday.AddDays(-2), []attendance.SubjectID{"s-1"}, "office", "")
	require.NoError(t, err)
	_, err = ledger.MarkDaily(ctx, attendance.MarkDailyInput{
		SubjectID: "s-1", Kind: attendance.KindStudent, Date: thursday,
		Status: attendance.StatusAbsent, MarkedBy: "teacher-1",
	})
	require.NoError(t, err)

	pct, err := ledger.AttendancePercentage(ctx, "s-1", attendance.KindStudent, thursday.AddDays(-7), thursday)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("66.67").Equal(pct), "got %s", pct)

	none, err := ledger.AttendancePercentage(ctx, "s-9", attendance.KindStudent, thursday.AddDays(-7), thursday)
	require.NoError(t, err)
	assert.True(t, none.IsZero())

	_, err = ledger.AttendancePercentage(ctx, "s-1", attendance.KindStudent, thursday, thursday.AddDays(-1))
	assert.ErrorIs(t, err, attendance.ErrInvalidRange)
	assert.True(t, attendance.IsClientError(err))
}

func TestAbsentees(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	markPresent(t, ledger, "s-1", thursday)
	_, err := ledger.MarkDailyBulk(ctx, thursday, attendance.KindStudent, "teacher-1", []attendance.BulkEntry{
		{SubjectID: "s-2", Status: attendance.StatusAbsent},
		{SubjectID: "s-3", Status: attendance.StatusAbsent, Remarks: "no call"},
	})
	require.NoError(t, err)

	absent, err := ledger.Absentees(ctx, thursday, attendance.KindStudent)
	require.NoError(t, err)
	require.Len(t, absent, 2)
	assert.Equal(t, attendance.SubjectID("s-2"), absent[0].SubjectID)
}

// =============================================================================
// DISCREPANCY DETECTOR
// =============================================================================

func TestRunDiscrepancyCheck_FlagsAndIsIdempotent(t *testing.T) {
	// GIVEN: s-1 present for the day, absent in period 3; s-2 present everywhere
	// WHEN: The check runs twice
	// THEN: One discrepancy for s-1, its period flagged, nothing new on rerun
	ledger, store := newTestLedger(t)
	ctx := context.Background()
	markPresent(t, ledger, "s-1", thursday)
	markPresent(t, ledger, "s-2", thursday)
	absentRec, err := ledger.MarkPeriod(ctx, attendance.MarkPeriodInput{
		StudentID: "s-1", SlotID: "thu-3", Date: thursday, Status: attendance.StatusAbsent, MarkedBy: "t-2",
	})
	require.NoError(t, err)
	_, err = ledger.MarkPeriod(ctx, attendance.MarkPeriodInput{
		StudentID: "s-2", SlotID: "thu-3", Date: thursday, Status: attendance.StatusPresent, MarkedBy: "t-2",
	})
	require.NoError(t, err)

	detector := attendance.NewDetector(store, attendance.FixedClock{At: checkIn})

	n, err := detector.RunDiscrepancyCheck(ctx, thursday)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	flagged, err := store.GetPeriod(ctx, absentRec.ID)
	require.NoError(t, err)
	assert.Equal(t, attendance.SuspicionSkippingAfterInterval, flagged.SuspicionFlag)
	assert.Equal(t, attendance.StatusAbsent, flagged.Status)
	assert.Len(t, auditFor(t, store, absentRec.ID), 1, "flagging writes no audit entry")

	discs, err := detector.ListDiscrepancies(ctx, thursday)
	require.NoError(t, err)
	require.Len(t, discs, 1)
	assert.Equal(t, attendance.SeverityHigh, discs[0].Severity)
	assert.True(t, strings.Contains(discs[0].Details, "thu-3"))

	n, err = detector.RunDiscrepancyCheck(ctx, thursday)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Resolved discrepancies still suppress re-creation.
	_, err = detector.ResolveDiscrepancy(ctx, discs[0].ID, "counsellor")
	require.NoError(t, err)
	_, err = detector.ResolveDiscrepancy(ctx, discs[0].ID, "counsellor")
	assert.ErrorIs(t, err, attendance.ErrConflict)
	n, err = detector.RunDiscrepancyCheck(ctx, thursday)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// =============================================================================
// POLICY EVALUATOR
// =============================================================================

type recordingHandler struct {
	applied []attendance.Triggered
	fail    bool
}

func (h *recordingHandler) Apply(_ context.Context, _ attendance.SubjectID, _ attendance.SubjectKind, t attendance.Triggered) error {
	h.applied = append(h.applied, t)
	if h.fail {
		return errors.New("mailer down")
	}
	return nil
}

func TestEvaluatePolicies_TotalLateThreshold(t *testing.T) {
	// GIVEN: 5 late days and a TotalLate policy with threshold 3
	// THEN: The policy is triggered; an inactive policy is ignored
	ledger, store := newTestLedger(t)
	ctx := context.Background()
	day := attendance.MustParseDate("2024-01-08") // Monday
	for i := 0; i < 5; i++ {
		_, err := ledger.MarkDaily(ctx, attendance.MarkDailyInput{
			SubjectID: "s-1", Kind: attendance.KindStudent, Date: day.AddDays(i),
			Status: attendance.StatusLate, MarkedBy: "teacher-1",
		})
		require.NoError(t, err)
	}

	handler := &recordingHandler{fail: true}
	eval := attendance.NewEvaluator(store, handler)
	require.NoError(t, eval.SavePolicy(ctx, attendance.Policy{
		ID: "late-3", RuleType: attendance.RuleTotalLate, Threshold: 3,
		ConsequenceType: "warning_letter", IsActive: true,
	}))
	require.NoError(t, eval.SavePolicy(ctx, attendance.Policy{
		ID: "absent-1", RuleType: attendance.RuleUnexcusedAbsent, Threshold: 1,
		ConsequenceType: "parent_meeting", IsActive: true,
	}))
	require.NoError(t, eval.SavePolicy(ctx, attendance.Policy{
		ID: "late-1-off", RuleType: attendance.RuleTotalLate, Threshold: 1,
		ConsequenceType: "detention", IsActive: false,
	}))

	n, err := eval.EvaluatePolicies(ctx, "s-1", attendance.KindStudent)
	require.NoError(t, err, "handler failures never fail evaluation")
	assert.Equal(t, 1, n)
	require.Len(t, handler.applied, 1)
	assert.Equal(t, attendance.PolicyID("late-3"), handler.applied[0].Policy.ID)
	assert.Equal(t, 5, handler.applied[0].Count)
}

func TestSavePolicy_Validation(t *testing.T) {
	eval := attendance.NewEvaluator(memory.New(), nil)
	ctx := context.Background()

	err := eval.SavePolicy(ctx, attendance.Policy{ID: "p", RuleType: attendance.RuleTotalLate, Threshold: 0, ConsequenceType: "x"})
	assert.ErrorIs(t, err, attendance.ErrValidation)

	err = eval.SavePolicy(ctx, attendance.Policy{ID: "p", RuleType: "TotalLateness", Threshold: 2, ConsequenceType: "x"})
	assert.ErrorIs(t, err, attendance.ErrValidation)

	rt, err := attendance.ParseRuleType("TotalLate")
	require.NoError(t, err)
	assert.Equal(t, attendance.RuleTotalLate, rt)
}

// =============================================================================
// ABSENCE ALERTS
// =============================================================================

type fakeNotifier struct {
	sent []string
}

func (f *fakeNotifier) Send(_ context.Context, email, _, _ string) error {
	if email == "bounce@example.com" {
		return errors.New("mailbox full")
	}
	f.sent = append(f.sent, email)
	return nil
}

func TestAbsenceAlerter_Notify(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()
	store.SetContact("s-1", "parent1@example.com")
	store.SetContact("s-2", "bounce@example.com")
	_, err := ledger.MarkDailyBulk(ctx, thursday, attendance.KindStudent, "teacher-1", []attendance.BulkEntry{
		{SubjectID: "s-1", Status: attendance.StatusAbsent},
		{SubjectID: "s-2", Status: attendance.StatusAbsent},
		{SubjectID: "s-3", Status: attendance.StatusAbsent},
		{SubjectID: "s-4", Status: attendance.StatusPresent},
	})
	require.NoError(t, err)

	notifier := &fakeNotifier{}
	sent, failed, err := attendance.NewAbsenceAlerter(ledger, store, notifier).Notify(ctx, thursday, attendance.KindStudent)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, 2, failed)
	assert.Equal(t, []string{"parent1@example.com"}, notifier.sent)
}

// =============================================================================
// TYPES
// =============================================================================

func TestParseStatus(t *testing.T) {
	for in, want := range map[string]attendance.Status{
		"present":         attendance.StatusPresent,
		" Late ":          attendance.StatusLate,
		"HalfDay":         attendance.StatusHalfDay,
		"SchoolBusiness":  attendance.StatusSchoolBusiness,
		"school_business": attendance.StatusSchoolBusiness,
	} {
		got, err := attendance.ParseStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := attendance.ParseStatus("presnt")
	assert.ErrorIs(t, err, attendance.ErrInvalidStatus)
}

func TestAuditTrail_AppendOnlyOrder(t *testing.T) {
	store := memory.New()
	at := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	trail := attendance.NewTrail(store, attendance.FixedClock{At: at})
	ctx := context.Background()

	_, err := trail.Append(ctx, attendance.RecordDaily, "r-1", attendance.StatusNone, attendance.StatusPresent, "marked", "t")
	require.NoError(t, err)
	_, err = trail.Append(ctx, attendance.RecordDaily, "r-1", attendance.StatusPresent, attendance.StatusLate, "", "t")
	require.NoError(t, err)
	_, err = trail.Append(ctx, attendance.RecordDaily, "r-2", attendance.StatusNone, attendance.StatusAbsent, "", "")
	assert.ErrorIs(t, err, attendance.ErrValidation)

	history, err := trail.History(ctx, attendance.AuditFilter{RecordID: "r-1"})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, attendance.StatusLate, history[1].NewStatus)
	assert.Equal(t, at, history[0].ChangedAt)
}
