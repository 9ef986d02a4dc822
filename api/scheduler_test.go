package api_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/attendance-engine/api"
	"github.com/warp/attendance-engine/attendance"
)

func TestBatchScheduler_RejectsBadCronExpression(t *testing.T) {
	s := newTestServer(t)
	_, err := api.NewBatchScheduler(s.engine, api.SchedulerConfig{DiscrepancyCron: "every day", Enabled: true})
	assert.Error(t, err)
}

func TestBatchScheduler_JobsRunForToday(t *testing.T) {
	// GIVEN: T1 on approved leave this week, S1 present but absent from period 2
	// WHEN: Both jobs are run directly
	// THEN: The leave sync locks T1's record and the check files one discrepancy
	s := newTestServer(t)
	s.loadScenario(t, "teacher-on-leave")
	ctx := context.Background()
	monday := attendance.MustParseDate("2024-02-05")

	_, err := s.engine.Ledger.MarkDaily(ctx, attendance.MarkDailyInput{
		SubjectID: "S1", Kind: attendance.KindStudent, Date: monday,
		Status: attendance.StatusPresent, MarkedBy: "T2",
	})
	require.NoError(t, err)
	_, err = s.engine.Ledger.MarkPeriod(ctx, attendance.MarkPeriodInput{
		StudentID: "S1", SlotID: "7A-Mon-P2", Date: monday, Status: attendance.StatusAbsent, MarkedBy: "T2",
	})
	require.NoError(t, err)

	sched, err := api.NewBatchScheduler(s.engine, api.SchedulerConfig{
		DiscrepancyCron: "30 15 * * 1-5",
		LeaveSyncCron:   "0 6 * * 1-5",
		Location:        time.UTC,
	})
	require.NoError(t, err)
	assert.Len(t, sched.NextRuns(), 2)

	n, err := sched.RunLeaveSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = sched.RunDiscrepancyCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Disabled schedulers never start; Stop is then a no-op.
	sched.Start()
	sched.Stop()
}
