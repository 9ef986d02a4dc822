/*
scheduler.go - Cron-driven batch jobs

PURPOSE:
  Runs the engine's daily batch jobs on cron schedules in the school's time
  zone. The jobs are external callers of the core packages; nothing in
  attendance/ schedules itself.

JOBS:
  - discrepancy check: Detector.RunDiscrepancyCheck for today
  - leave sync:        Ledger.SyncApprovedLeaves for today

DESIGN:
  - robfig/cron with SkipIfStillRunning so a slow run never overlaps itself
  - Recover wraps every job so a panic is logged, not fatal
  - Every run gets its own timeout context
  - A job that hits a non-working day logs and returns

USAGE:
  s, err := NewBatchScheduler(engine, cfg)
  s.Start()
  // ... later
  s.Stop()

SEE ALSO:
  - handlers.go: RunDiscrepancyCheck and TriggerLeaveSync (manual triggers)
  - config/config.go: DISCREPANCY_CRON, LEAVE_SYNC_CRON, SCHEDULER_ENABLED
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/warp/attendance-engine/attendance"
)

const jobTimeout = 4 * time.Minute

// SchedulerConfig holds the cron specs. An empty spec disables that job.
type SchedulerConfig struct {
	DiscrepancyCron string
	LeaveSyncCron   string
	Location        *time.Location
	Enabled         bool
}

// BatchScheduler runs the daily discrepancy check and leave sync.
type BatchScheduler struct {
	engine  Engine
	enabled bool
	cron    *cron.Cron

	mu      sync.Mutex
	running bool
}

func NewBatchScheduler(engine Engine, cfg SchedulerConfig) (*BatchScheduler, error) {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	logger := cron.DefaultLogger
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	s := &BatchScheduler{engine: engine, enabled: cfg.Enabled, cron: c}

	if cfg.DiscrepancyCron != "" {
		if _, err := c.AddFunc(cfg.DiscrepancyCron, s.runJob("discrepancy check", s.RunDiscrepancyCheck)); err != nil {
			return nil, fmt.Errorf("invalid discrepancy schedule %q: %w", cfg.DiscrepancyCron, err)
		}
	}
	if cfg.LeaveSyncCron != "" {
		if _, err := c.AddFunc(cfg.LeaveSyncCron, s.runJob("leave sync", s.RunLeaveSync)); err != nil {
			return nil, fmt.Errorf("invalid leave sync schedule %q: %w", cfg.LeaveSyncCron, err)
		}
	}
	return s, nil
}

// Start begins the scheduler.
func (s *BatchScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}
	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
	log.Printf("[Scheduler] Started with %d job(s)", len(s.cron.Entries()))
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *BatchScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	log.Println("[Scheduler] Stopped")
}

// NextRuns returns the next activation time of every job.
func (s *BatchScheduler) NextRuns() []time.Time {
	entries := s.cron.Entries()
	out := make([]time.Time, len(entries))
	for i, e := range entries {
		out[i] = e.Next
	}
	return out
}

// RunDiscrepancyCheck runs the detector for today and returns the number of
// discrepancies created.
func (s *BatchScheduler) RunDiscrepancyCheck(ctx context.Context) (int, error) {
	return s.engine.Detector.RunDiscrepancyCheck(ctx, s.engine.Ledger.Today())
}

// RunLeaveSync excuses and locks today's record for every staff member on
// approved leave.
func (s *BatchScheduler) RunLeaveSync(ctx context.Context) (int, error) {
	return s.engine.Ledger.SyncApprovedLeaves(ctx, s.engine.Ledger.Today(), s.engine.Leaves, "scheduler")
}

func (s *BatchScheduler) runJob(name string, job func(context.Context) (int, error)) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		start := time.Now()
		n, err := job(ctx)
		switch {
		case errors.Is(err, attendance.ErrNonWorkingDay):
			log.Printf("[Scheduler] Skipping %s: %v", name, err)
		case err != nil:
			log.Printf("[Scheduler] %s failed: %v", name, err)
		default:
			log.Printf("[Scheduler] %s done: %d affected in %v", name, n, time.Since(start))
		}
	}
}
