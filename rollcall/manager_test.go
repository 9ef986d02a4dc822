package rollcall_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/rollcall"
	"github.com/warp/attendance-engine/store/memory"
)

var thursday = attendance.MustParseDate("2024-02-01")

func newTestManager(t *testing.T) (*rollcall.Manager, *memory.Store) {
	t.Helper()
	store := memory.New()
	clock := attendance.FixedClock{At: time.Date(2024, 2, 1, 3, 30, 0, 0, time.UTC)}
	return rollcall.NewManager(store.RollCalls(), clock, time.FixedZone("WIB", 7*60*60)), store
}

func seedDaily(t *testing.T, store *memory.Store, subject attendance.SubjectID, kind attendance.SubjectKind, status attendance.Status) {
	t.Helper()
	require.NoError(t, store.InsertDaily(context.Background(), attendance.DailyRecord{
		ID: attendance.RecordID("d-" + subject), SubjectID: subject, SubjectKind: kind,
		Date: thursday, Status: status, MarkedBy: "seed", Version: 1,
	}))
}

func student(id attendance.SubjectID) rollcall.PersonKey {
	return rollcall.PersonKey{Kind: attendance.KindStudent, ID: id}
}

func TestInitiate_SnapshotsPeopleOnSite(t *testing.T) {
	// GIVEN: A and B present, C absent, D late, staff S present
	// WHEN: A roll call is initiated
	// THEN: Entries for A, B, D and S, each unknown
	m, store := newTestManager(t)
	ctx := context.Background()
	seedDaily(t, store, "A", attendance.KindStudent, attendance.StatusPresent)
	seedDaily(t, store, "B", attendance.KindStudent, attendance.StatusPresent)
	seedDaily(t, store, "C", attendance.KindStudent, attendance.StatusAbsent)
	seedDaily(t, store, "D", attendance.KindStudent, attendance.StatusLate)
	seedDaily(t, store, "S", attendance.KindStaff, attendance.StatusPresent)

	rc, err := m.Initiate(ctx, "fire drill", "principal")
	require.NoError(t, err)
	assert.Equal(t, rollcall.StatusActive, rc.Status)
	assert.Equal(t, thursday, rc.Date)

	_, entries, err := m.Get(ctx, rc.ID)
	require.NoError(t, err)
	var people []attendance.SubjectID
	for _, e := range entries {
		assert.Equal(t, rollcall.EntryUnknown, e.Status)
		people = append(people, e.PersonID)
	}
	assert.Equal(t, []attendance.SubjectID{"A", "B", "D", "S"}, people)
}

func TestInitiate_AbsentStudentExcluded(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	seedDaily(t, store, "A", attendance.KindStudent, attendance.StatusPresent)
	seedDaily(t, store, "B", attendance.KindStudent, attendance.StatusPresent)
	seedDaily(t, store, "C", attendance.KindStudent, attendance.StatusAbsent)

	rc, err := m.Initiate(ctx, "earthquake", "principal")
	require.NoError(t, err)
	summary, err := m.Summary(ctx, rc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.ByStatus[rollcall.EntryUnknown])
}

func TestUpdateEntryAndComplete(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	seedDaily(t, store, "A", attendance.KindStudent, attendance.StatusPresent)
	seedDaily(t, store, "B", attendance.KindStudent, attendance.StatusPresent)

	rc, err := m.Initiate(ctx, "fire drill", "principal")
	require.NoError(t, err)

	e, err := m.UpdateEntry(ctx, rc.ID, student("A"), rollcall.EntrySafe, "assembly point 2")
	require.NoError(t, err)
	assert.Equal(t, rollcall.EntrySafe, e.Status)
	require.NotNil(t, e.MarkedAt)

	_, err = m.UpdateEntry(ctx, rc.ID, student("Z"), rollcall.EntrySafe, "")
	assert.ErrorIs(t, err, attendance.ErrNotFound)
	_, err = m.UpdateEntry(ctx, rc.ID, student("B"), "asleep", "")
	assert.ErrorIs(t, err, attendance.ErrValidation)

	active, err := m.Active(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	done, err := m.Complete(ctx, rc.ID)
	require.NoError(t, err)
	assert.Equal(t, rollcall.StatusCompleted, done.Status)
	require.NotNil(t, done.EndTime)

	// Completed roll calls are closed to every mutation.
	_, err = m.Complete(ctx, rc.ID)
	assert.ErrorIs(t, err, attendance.ErrRollCallClosed)
	_, err = m.UpdateEntry(ctx, rc.ID, student("B"), rollcall.EntryMissing, "")
	assert.ErrorIs(t, err, attendance.ErrRollCallClosed)

	active, err = m.Active(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	summary, err := m.Summary(ctx, rc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ByStatus[rollcall.EntrySafe])
	assert.Equal(t, 1, summary.ByStatus[rollcall.EntryUnknown])
	assert.Equal(t, 0, summary.ByStatus[rollcall.EntryInjured])
}

func TestInitiate_SharedIDAcrossKinds(t *testing.T) {
	// GIVEN: Student 42 and staff member 42 both present
	// WHEN: A roll call is initiated and the student is marked missing
	// THEN: Both have entries and the staff entry is untouched
	m, store := newTestManager(t)
	ctx := context.Background()
	seedDaily(t, store, "42", attendance.KindStudent, attendance.StatusPresent)
	require.NoError(t, store.InsertDaily(ctx, attendance.DailyRecord{
		ID: "d-staff-42", SubjectID: "42", SubjectKind: attendance.KindStaff,
		Date: thursday, Status: attendance.StatusPresent, MarkedBy: "seed", Version: 1,
	}))

	rc, err := m.Initiate(ctx, "fire drill", "principal")
	require.NoError(t, err)

	_, err = m.UpdateEntry(ctx, rc.ID, student("42"), rollcall.EntryMissing, "")
	require.NoError(t, err)
	_, err = m.UpdateEntry(ctx, rc.ID, rollcall.PersonKey{Kind: "visitor", ID: "42"}, rollcall.EntrySafe, "")
	assert.ErrorIs(t, err, attendance.ErrValidation)

	_, entries, err := m.Get(ctx, rc.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	got := map[attendance.SubjectKind]rollcall.EntryStatus{}
	for _, e := range entries {
		got[e.PersonKind] = e.Status
	}
	assert.Equal(t, rollcall.EntryMissing, got[attendance.KindStudent])
	assert.Equal(t, rollcall.EntryUnknown, got[attendance.KindStaff])
}

func TestInitiate_Validation(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Initiate(context.Background(), "", "principal")
	assert.ErrorIs(t, err, attendance.ErrValidation)

	_, err = m.Complete(context.Background(), "missing")
	assert.ErrorIs(t, err, attendance.ErrNotFound)
}

func TestParseEntryStatus(t *testing.T) {
	st, err := rollcall.ParseEntryStatus("Injured")
	require.NoError(t, err)
	assert.Equal(t, rollcall.EntryInjured, st)

	_, err = rollcall.ParseEntryStatus("fine")
	assert.ErrorIs(t, err, attendance.ErrValidation)
}
