/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Populates a store with a small school: teaching staff, a weekly
	timetable, contacts, consequence policies and calendar overrides. Each
	scenario builds on the base school and adds the data its feature needs.

AVAILABLE SCENARIOS:

	small-school:     Staff, timetable, contacts and policies only
	teacher-on-leave: T1 on approved leave this week, ready for leave sync
	                  and substitution
	exam-week:        Friday marked as an exam break, Saturday as a make-up
	                  working day

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "teacher-on-leave"}

NOTE:

	Scenarios add data; they never clear existing records. Load once per
	fresh database.

SEE ALSO:
  - handlers.go: Handler, Engine
  - cmd/server/main.go: -scenario flag
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/attendance-engine/attendance"
)

// Seeder writes the directory data the engine only reads. Implemented by the
// SQL stores.
type Seeder interface {
	SaveSlot(ctx context.Context, slot attendance.TimetableSlot) error
	SaveLeave(ctx context.Context, l attendance.LeaveInterval) error
	SaveStaff(ctx context.Context, member attendance.StaffMember) error
	SetContact(ctx context.Context, subjectID attendance.SubjectID, email string) error
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

var scenarios = []ScenarioDTO{
	{
		ID:          "small-school",
		Name:        "Small School",
		Description: "Four teachers, two classes, three periods a day, two consequence policies",
	},
	{
		ID:          "teacher-on-leave",
		Name:        "Teacher On Leave",
		Description: "Small school with T1 on approved leave for the current week",
	},
	{
		ID:          "exam-week",
		Name:        "Exam Week",
		Description: "Small school with Friday as an exam break and Saturday as a make-up day",
	},
}

var demoStaff = []attendance.StaffMember{
	{ID: "T1", Name: "Ada Mensah", Email: "ada@school.test", IsTeaching: true},
	{ID: "T2", Name: "Bo Lindqvist", Email: "bo@school.test", IsTeaching: true},
	{ID: "T3", Name: "Chen Wei", Email: "chen@school.test", IsTeaching: true},
	{ID: "T4", Name: "Dara Okafor", Email: "dara@school.test", IsTeaching: true},
	{ID: "A1", Name: "Front Office", Email: "office@school.test"},
}

var demoStudents = []attendance.SubjectID{"S1", "S2", "S3", "S4"}

// demoPeriods are the three daily periods. Period 2 follows the interval.
var demoPeriods = []struct{ start, end string }{
	{"08:00", "08:45"},
	{"08:50", "09:35"},
	{"10:00", "10:45"},
}

// =============================================================================
// HANDLERS
// =============================================================================

func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	if h.seeder == nil {
		writeError(w, http.StatusNotImplemented, "Scenarios need a SQL store", nil)
		return
	}
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.LoadScenarioByID(r.Context(), req.ScenarioID); err != nil {
		writeDomainError(w, "Failed to load scenario", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario_id": req.ScenarioID})
}

// LoadScenarioByID seeds the named scenario relative to the engine's today.
func (h *Handler) LoadScenarioByID(ctx context.Context, id string) error {
	if h.seeder == nil {
		return fmt.Errorf("%w: no seeder configured", attendance.ErrValidation)
	}
	var load func(context.Context) error
	switch id {
	case "small-school":
		load = h.loadSmallSchool
	case "teacher-on-leave":
		load = h.loadTeacherOnLeave
	case "exam-week":
		load = h.loadExamWeek
	default:
		return &attendance.ValidationError{Field: "scenario_id", Message: fmt.Sprintf("unknown scenario %q", id)}
	}
	return load(ctx)
}

// =============================================================================
// LOADERS
// =============================================================================

func (h *Handler) loadSmallSchool(ctx context.Context) error {
	for _, m := range demoStaff {
		if err := h.seeder.SaveStaff(ctx, m); err != nil {
			return fmt.Errorf("failed to save staff %s: %w", m.ID, err)
		}
	}
	for _, s := range demoStudents {
		if err := h.seeder.SetContact(ctx, s, fmt.Sprintf("parent.%s@school.test", s)); err != nil {
			return fmt.Errorf("failed to save contact %s: %w", s, err)
		}
	}

	// 7A is taught by T1 then T2, 7B by T3 then T4; T1 and T3 share period 3.
	teachers := map[string][3]attendance.StaffID{
		"7A": {"T1", "T2", "T1"},
		"7B": {"T3", "T4", "T3"},
	}
	for day := time.Monday; day <= time.Friday; day++ {
		for class, byPeriod := range teachers {
			for i, p := range demoPeriods {
				slot := attendance.TimetableSlot{
					ID:           attendance.SlotID(fmt.Sprintf("%s-%s-P%d", class, day.String()[:3], i+1)),
					ClassID:      class,
					TeacherID:    byPeriod[i],
					SubjectID:    fmt.Sprintf("subject-%d", i+1),
					DayOfWeek:    day,
					PeriodNumber: i + 1,
					StartTime:    attendance.MustParseTimeOfDay(p.start),
					EndTime:      attendance.MustParseTimeOfDay(p.end),
				}
				if err := h.seeder.SaveSlot(ctx, slot); err != nil {
					return fmt.Errorf("failed to save slot %s: %w", slot.ID, err)
				}
			}
		}
	}

	policies := []attendance.Policy{
		{ID: "late-warning", Name: "Late warning", RuleType: attendance.RuleTotalLate, Threshold: 3,
			ConsequenceType: "warning_letter", ConsequenceValue: "late-template", IsActive: true},
		{ID: "absence-meeting", Name: "Absence meeting", RuleType: attendance.RuleUnexcusedAbsent, Threshold: 5,
			ConsequenceType: "parent_meeting", IsActive: true},
	}
	for _, p := range policies {
		if err := h.engine.Evaluator.SavePolicy(ctx, p); err != nil {
			return fmt.Errorf("failed to save policy %s: %w", p.ID, err)
		}
	}
	return nil
}

func (h *Handler) loadTeacherOnLeave(ctx context.Context) error {
	if err := h.loadSmallSchool(ctx); err != nil {
		return err
	}
	monday := weekStart(h.engine.Ledger.Today())
	return h.seeder.SaveLeave(ctx, attendance.LeaveInterval{
		StaffID: "T1",
		From:    monday,
		To:      monday.AddDays(4),
		Status:  attendance.LeaveApproved,
	})
}

func (h *Handler) loadExamWeek(ctx context.Context) error {
	if err := h.loadSmallSchool(ctx); err != nil {
		return err
	}
	monday := weekStart(h.engine.Ledger.Today())
	days := []attendance.CalendarDay{
		{Date: monday.AddDays(4), DayType: attendance.DayExamBreak, Note: "exam break"},
		{Date: monday.AddDays(5), DayType: attendance.DayWorking, IsAcademicDay: true, Note: "make-up day"},
	}
	for _, d := range days {
		if err := h.engine.Calendar.SaveDay(ctx, d); err != nil {
			return fmt.Errorf("failed to save calendar day %s: %w", d.Date, err)
		}
	}
	return nil
}

// weekStart returns the Monday of d's week.
func weekStart(d attendance.Date) attendance.Date {
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDays(-offset)
}
