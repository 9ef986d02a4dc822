package gormstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/rollcall"
	"github.com/warp/attendance-engine/store/gormstore"
	"github.com/warp/attendance-engine/substitution"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

var thursday = attendance.MustParseDate("2024-02-01")

func newTestStore(t *testing.T) *gormstore.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"),
		gormstore.Config(gormstore.NewLogger(200*time.Millisecond, gormLogger.Silent)))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	store, err := gormstore.New(db)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLedger_OnGormStore(t *testing.T) {
	// GIVEN: A ledger backed by the gorm store
	// WHEN: A student is marked, re-marked, updated and overridden
	// THEN: Uniqueness, versions and the audit trail behave as on the other stores
	store := newTestStore(t)
	ctx := context.Background()
	clock := attendance.FixedClock{At: time.Date(2024, 2, 1, 1, 0, 0, 0, time.UTC)}
	ledger := attendance.NewLedger(attendance.LedgerConfig{Store: store, Timetable: store, Clock: clock})

	rec, err := ledger.MarkDaily(ctx, attendance.MarkDailyInput{
		SubjectID: "S1", Kind: attendance.KindStudent, Date: thursday,
		Status: attendance.StatusPresent, MarkedBy: "teacher-1",
	})
	require.NoError(t, err)

	_, err = ledger.MarkDaily(ctx, attendance.MarkDailyInput{
		SubjectID: "S1", Kind: attendance.KindStudent, Date: thursday,
		Status: attendance.StatusAbsent, MarkedBy: "teacher-2",
	})
	var conflict *attendance.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, rec.ID, conflict.ExistingID)

	late := attendance.StatusLate
	updated, err := ledger.UpdateDaily(ctx, rec.ID, attendance.Changes{Status: &late}, "teacher-1", "")
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)

	_, err = ledger.LockDaily(ctx, rec.ID)
	require.NoError(t, err)
	_, err = ledger.UpdateDaily(ctx, rec.ID, attendance.Changes{Status: &late}, "teacher-1", "")
	assert.ErrorIs(t, err, attendance.ErrLocked)

	over, err := ledger.OverrideDaily(ctx, rec.ID, attendance.StatusExcused, "admin", "doctor's note")
	require.NoError(t, err)
	assert.True(t, over.IsLocked)

	history, err := store.ListAudit(ctx, attendance.AuditFilter{RecordID: rec.ID})
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, attendance.StatusNone, history[0].OldStatus)
	assert.Equal(t, "true", history[2].Metadata["override"])
}

func TestVersionCheck(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rec := attendance.DailyRecord{
		ID: "r-1", SubjectID: "S1", SubjectKind: attendance.KindStudent, Date: thursday,
		Status: attendance.StatusPresent, MarkedBy: "t1", Version: 1,
	}
	require.NoError(t, store.InsertDaily(ctx, rec))
	require.NoError(t, store.UpdateDaily(ctx, rec, 1))
	assert.ErrorIs(t, store.UpdateDaily(ctx, rec, 1), attendance.ErrConcurrentModification)

	rec.ID = "missing"
	assert.ErrorIs(t, store.UpdateDaily(ctx, rec, 1), attendance.ErrNotFound)

	byDate, err := store.ListDailyByDate(ctx, thursday, "")
	require.NoError(t, err)
	require.Len(t, byDate, 1)
	assert.Equal(t, thursday, byDate[0].Date)
	assert.Equal(t, 2, byDate[0].Version)
}

func TestSubstitutions_PartialUniqueIndex(t *testing.T) {
	store := newTestStore(t)
	subs := store.Substitutions()
	ctx := context.Background()
	monday := attendance.MustParseDate("2024-02-05")
	base := substitution.Substitution{
		ID: "s-1", OriginalTeacherID: "T", SubstituteTeacherID: "F", SlotID: "X", Date: monday,
		Status: substitution.StatusPending,
	}
	require.NoError(t, subs.InsertSubstitution(ctx, base))

	dup := base
	dup.ID = "s-2"
	assert.ErrorIs(t, subs.InsertSubstitution(ctx, dup), attendance.ErrConflict)
	dup.Status = substitution.StatusRejected
	require.NoError(t, subs.InsertSubstitution(ctx, dup))

	confirmed := base
	confirmed.Status = substitution.StatusConfirmed
	require.NoError(t, subs.UpdateSubstitution(ctx, confirmed, substitution.StatusPending))
	assert.ErrorIs(t, subs.UpdateSubstitution(ctx, confirmed, substitution.StatusPending), attendance.ErrConcurrentModification)
}

func TestResolver_OnGormStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveStaff(ctx, attendance.StaffMember{ID: "T", Name: "T", IsTeaching: true}))
	require.NoError(t, store.SaveStaff(ctx, attendance.StaffMember{ID: "U", Name: "U", IsTeaching: true}))
	require.NoError(t, store.SaveStaff(ctx, attendance.StaffMember{ID: "V", Name: "V", IsTeaching: true}))
	require.NoError(t, store.SaveSlot(ctx, attendance.TimetableSlot{
		ID: "X", ClassID: "7A", TeacherID: "T", DayOfWeek: time.Monday, PeriodNumber: 3,
		StartTime: attendance.MustParseTimeOfDay("09:00"), EndTime: attendance.MustParseTimeOfDay("09:45"),
	}))
	monday := attendance.MustParseDate("2024-02-05")
	require.NoError(t, store.SaveLeave(ctx, attendance.LeaveInterval{
		StaffID: "U", From: monday, To: monday, Status: attendance.LeaveApproved,
	}))

	r := substitution.NewResolver(substitution.Config{
		Store: store.Substitutions(), Timetable: store, Leaves: store, Staff: store,
	})
	sub, err := r.CreateAutoSubstitution(ctx, "T", "X", monday)
	require.NoError(t, err)
	assert.Equal(t, attendance.StaffID("V"), sub.SubstituteTeacherID)

	_, err = r.CreateAutoSubstitution(ctx, "T", "X", monday)
	assert.ErrorIs(t, err, attendance.ErrNoSubstituteAvailable)
}

func TestRollCall_OnGormStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, id := range []attendance.SubjectID{"A", "B"} {
		require.NoError(t, store.InsertDaily(ctx, attendance.DailyRecord{
			ID: attendance.RecordID("d-" + id), SubjectID: id, SubjectKind: attendance.KindStudent,
			Date: thursday, Status: attendance.StatusPresent, MarkedBy: "seed", Version: 1,
		}))
	}

	m := rollcall.NewManager(store.RollCalls(),
		attendance.FixedClock{At: time.Date(2024, 2, 1, 3, 0, 0, 0, time.UTC)}, time.UTC)
	rc, err := m.Initiate(ctx, "fire drill", "principal")
	require.NoError(t, err)

	_, err = m.UpdateEntry(ctx, rc.ID, rollcall.PersonKey{Kind: attendance.KindStudent, ID: "A"}, rollcall.EntrySafe, "field")
	require.NoError(t, err)
	_, err = m.Complete(ctx, rc.ID)
	require.NoError(t, err)
	_, err = m.UpdateEntry(ctx, rc.ID, rollcall.PersonKey{Kind: attendance.KindStudent, ID: "B"}, rollcall.EntrySafe, "")
	assert.ErrorIs(t, err, attendance.ErrRollCallClosed)

	summary, err := m.Summary(ctx, rc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.ByStatus[rollcall.EntrySafe])
}
