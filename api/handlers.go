/*
handlers.go - HTTP API handlers for the attendance engine

PURPOSE:
  Exposes the attendance engine via REST API. Handles HTTP request/response,
  JSON serialization and validation, and delegates to the domain packages.

ENDPOINTS:
  Calendar:
    GET    /api/calendar?from=&to=                    Working days in range (both required, at most 366 days)
    GET    /api/calendar/{date}                       Is the date a working day
    PUT    /api/calendar/{date}                       Save calendar override

  Daily attendance:
    POST   /api/attendance/daily                      Mark one subject
    POST   /api/attendance/daily/bulk                 Mark a register
    GET    /api/attendance/daily?date=&kind=          Records on a date
    GET    /api/attendance/daily/absentees?date=&kind=
    PATCH  /api/attendance/daily/{id}                 Update (unlocked only)
    POST   /api/attendance/daily/{id}/lock
    POST   /api/attendance/daily/{id}/override        Admin override

  Period attendance:
    POST   /api/attendance/period
    GET    /api/attendance/period?student_id=&date=
    PATCH  /api/attendance/period/{id}
    POST   /api/attendance/period/{id}/lock
    POST   /api/attendance/period/{id}/override

  Lock-driven sync:
    POST   /api/attendance/approved-absences
    POST   /api/attendance/school-business

  Subjects:
    GET    /api/subjects/{kind}/{id}/history?from=&to=
    GET    /api/subjects/{kind}/{id}/summary?from=&to=
    POST   /api/subjects/{kind}/{id}/evaluate         Evaluate policies

  Audit, discrepancies, policies:
    GET    /api/audit?type=&record_id=&changed_by=&from=&to=
    POST   /api/discrepancies/run?date=
    GET    /api/discrepancies?date=
    POST   /api/discrepancies/{id}/resolve
    GET    /api/policies?active=
    POST   /api/policies

  Substitutions:
    GET    /api/substitutions/suggest?slot_id=&date=
    POST   /api/substitutions                         Auto-assign
    GET    /api/substitutions?date=
    GET    /api/substitutions/{id}
    POST   /api/substitutions/{id}/confirm
    POST   /api/substitutions/{id}/reject

  Roll calls:
    POST   /api/roll-calls
    GET    /api/roll-calls/active
    GET    /api/roll-calls/{id}
    GET    /api/roll-calls/{id}/summary
    PUT    /api/roll-calls/{id}/entries/{kind}/{person_id}
    POST   /api/roll-calls/{id}/complete

  Alerts / Admin:
    POST   /api/alerts/absences?date=&kind=
    POST   /api/admin/leave-sync?date=
    POST   /api/admin/discrepancy-check?date=

  Scenarios:
    GET    /api/scenarios                             List demo scenarios
    POST   /api/scenarios/load                        Seed a demo scenario

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid status, non-working day
  - 404: Resource not found
  - 409: Conflict, locked record, closed roll call, concurrent modification
  - 503: No substitute available
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. Actor names are taken from the body.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/rollcall"
	"github.com/warp/attendance-engine/substitution"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Engine bundles the domain services the handlers delegate to.
type Engine struct {
	Ledger        *attendance.Ledger
	Calendar      *attendance.Calendar
	Detector      *attendance.Detector
	Evaluator     *attendance.Evaluator
	Alerter       *attendance.AbsenceAlerter
	Substitutions *substitution.Resolver
	RollCalls     *rollcall.Manager
	Leaves        attendance.LeaveProvider
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	engine   Engine
	seeder   Seeder // nil disables scenario loading
	validate *validator.Validate
}

func NewHandler(engine Engine, seeder Seeder) *Handler {
	return &Handler{engine: engine, seeder: seeder, validate: newValidator()}
}

// =============================================================================
// CALENDAR
// =============================================================================

func (h *Handler) GetCalendarDay(w http.ResponseWriter, r *http.Request) {
	date, err := attendance.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	ok, err := h.engine.Calendar.IsWorkingDay(r.Context(), date)
	if err != nil {
		writeDomainError(w, "Failed to read calendar", err)
		return
	}
	writeJSON(w, http.StatusOK, WorkingDayDTO{Date: date.String(), Working: ok})
}

func (h *Handler) SaveCalendarDay(w http.ResponseWriter, r *http.Request) {
	date, err := attendance.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	var req CalendarDayRequest
	if !h.decode(w, r, &req) {
		return
	}
	day := attendance.CalendarDay{
		Date:          date,
		DayType:       attendance.DayType(req.DayType),
		IsAcademicDay: req.IsAcademicDay,
		Note:          req.Note,
	}
	if err := h.engine.Calendar.SaveDay(r.Context(), day); err != nil {
		writeDomainError(w, "Failed to save calendar day", err)
		return
	}
	ok, err := h.engine.Calendar.IsWorkingDay(r.Context(), date)
	if err != nil {
		writeDomainError(w, "Failed to read calendar", err)
		return
	}
	writeJSON(w, http.StatusOK, WorkingDayDTO{Date: date.String(), Working: ok})
}

func (h *Handler) ListWorkingDays(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("from") == "" || q.Get("to") == "" {
		writeError(w, http.StatusBadRequest, "from and to are required", nil)
		return
	}
	rng, ok := rangeParams(w, r)
	if !ok {
		return
	}
	days, err := h.engine.Calendar.WorkingDaysIn(r.Context(), rng)
	if err != nil {
		writeDomainError(w, "Failed to list working days", err)
		return
	}
	writeJSON(w, http.StatusOK, WorkingDaysDTO{From: rng.From.String(), To: rng.To.String(), Dates: dateStrings(days)})
}

// =============================================================================
// DAILY ATTENDANCE
// =============================================================================

func (h *Handler) MarkDaily(w http.ResponseWriter, r *http.Request) {
	var req MarkDailyRequest
	if !h.decode(w, r, &req) {
		return
	}
	status, err := attendance.ParseStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid status", err)
		return
	}
	rec, err := h.engine.Ledger.MarkDaily(r.Context(), attendance.MarkDailyInput{
		SubjectID: attendance.SubjectID(req.SubjectID),
		Kind:      attendance.SubjectKind(req.Kind),
		Date:      h.dateOrToday(req.Date),
		Status:    status,
		MarkedBy:  req.MarkedBy,
		Remarks:   req.Remarks,
	})
	if err != nil {
		writeDomainError(w, "Failed to mark attendance", err)
		return
	}
	writeJSON(w, http.StatusCreated, toDailyDTO(rec))
}

func (h *Handler) MarkDailyBulk(w http.ResponseWriter, r *http.Request) {
	var req MarkBulkRequest
	if !h.decode(w, r, &req) {
		return
	}
	entries := make([]attendance.BulkEntry, 0, len(req.Entries))
	for _, e := range req.Entries {
		status, err := attendance.ParseStatus(e.Status)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid status for "+e.SubjectID, err)
			return
		}
		entries = append(entries, attendance.BulkEntry{
			SubjectID: attendance.SubjectID(e.SubjectID),
			Status:    status,
			Remarks:   e.Remarks,
		})
	}

	recs, err := h.engine.Ledger.MarkDailyBulk(r.Context(), h.dateOrToday(req.Date),
		attendance.SubjectKind(req.Kind), req.MarkedBy, entries)
	result := BulkResultDTO{Records: toDailyDTOs(recs)}
	if err != nil {
		result.Error = err.Error()
		writeJSON(w, statusFor(err), result)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) ListDaily(w http.ResponseWriter, r *http.Request) {
	date, kind, ok := h.dateKindParams(w, r)
	if !ok {
		return
	}
	recs, err := h.engine.Ledger.DailyByDate(r.Context(), date, kind)
	if err != nil {
		writeDomainError(w, "Failed to list attendance", err)
		return
	}
	writeJSON(w, http.StatusOK, toDailyDTOs(recs))
}

func (h *Handler) ListAbsentees(w http.ResponseWriter, r *http.Request) {
	date, kind, ok := h.dateKindParams(w, r)
	if !ok {
		return
	}
	recs, err := h.engine.Ledger.Absentees(r.Context(), date, kind)
	if err != nil {
		writeDomainError(w, "Failed to list absentees", err)
		return
	}
	writeJSON(w, http.StatusOK, toDailyDTOs(recs))
}

func (h *Handler) UpdateDaily(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if !h.decode(w, r, &req) {
		return
	}
	changes, err := req.changes()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid status", err)
		return
	}
	rec, err := h.engine.Ledger.UpdateDaily(r.Context(), recordID(r), changes, req.Actor, req.Reason)
	if err != nil {
		writeDomainError(w, "Failed to update attendance", err)
		return
	}
	writeJSON(w, http.StatusOK, toDailyDTO(rec))
}

func (h *Handler) LockDaily(w http.ResponseWriter, r *http.Request) {
	rec, err := h.engine.Ledger.LockDaily(r.Context(), recordID(r))
	if err != nil {
		writeDomainError(w, "Failed to lock attendance", err)
		return
	}
	writeJSON(w, http.StatusOK, toDailyDTO(rec))
}

func (h *Handler) OverrideDaily(w http.ResponseWriter, r *http.Request) {
	var req OverrideRequest
	if !h.decode(w, r, &req) {
		return
	}
	status, err := attendance.ParseStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid status", err)
		return
	}
	rec, err := h.engine.Ledger.OverrideDaily(r.Context(), recordID(r), status, req.Actor, req.Reason)
	if err != nil {
		writeDomainError(w, "Failed to override attendance", err)
		return
	}
	writeJSON(w, http.StatusOK, toDailyDTO(rec))
}

// =============================================================================
// PERIOD ATTENDANCE
// =============================================================================

func (h *Handler) MarkPeriod(w http.ResponseWriter, r *http.Request) {
	var req MarkPeriodRequest
	if !h.decode(w, r, &req) {
		return
	}
	status, err := attendance.ParseStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid status", err)
		return
	}
	rec, err := h.engine.Ledger.MarkPeriod(r.Context(), attendance.MarkPeriodInput{
		StudentID:      attendance.SubjectID(req.StudentID),
		SlotID:         attendance.SlotID(req.SlotID),
		Date:           h.dateOrToday(req.Date),
		Status:         status,
		MinutesLate:    req.MinutesLate,
		CheckInAt:      req.CheckInAt,
		DetailedStatus: req.DetailedStatus,
		MarkedBy:       req.MarkedBy,
	})
	if err != nil {
		writeDomainError(w, "Failed to mark period attendance", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPeriodDTO(rec))
}

func (h *Handler) ListPeriod(w http.ResponseWriter, r *http.Request) {
	studentID := r.URL.Query().Get("student_id")
	if studentID == "" {
		writeError(w, http.StatusBadRequest, "student_id is required", nil)
		return
	}
	date, ok := h.dateParam(w, r)
	if !ok {
		return
	}
	recs, err := h.engine.Ledger.PeriodRecordsFor(r.Context(), attendance.SubjectID(studentID), date)
	if err != nil {
		writeDomainError(w, "Failed to list period attendance", err)
		return
	}
	out := make([]PeriodRecordDTO, len(recs))
	for i, rec := range recs {
		out[i] = toPeriodDTO(rec)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) UpdatePeriod(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if !h.decode(w, r, &req) {
		return
	}
	changes, err := req.changes()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid status", err)
		return
	}
	rec, err := h.engine.Ledger.UpdatePeriod(r.Context(), recordID(r), changes, req.Actor, req.Reason)
	if err != nil {
		writeDomainError(w, "Failed to update period attendance", err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodDTO(rec))
}

func (h *Handler) LockPeriod(w http.ResponseWriter, r *http.Request) {
	rec, err := h.engine.Ledger.LockPeriod(r.Context(), recordID(r))
	if err != nil {
		writeDomainError(w, "Failed to lock period attendance", err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodDTO(rec))
}

func (h *Handler) OverridePeriod(w http.ResponseWriter, r *http.Request) {
	var req OverrideRequest
	if !h.decode(w, r, &req) {
		return
	}
	status, err := attendance.ParseStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid status", err)
		return
	}
	rec, err := h.engine.Ledger.OverridePeriod(r.Context(), recordID(r), status, req.Actor, req.Reason)
	if err != nil {
		writeDomainError(w, "Failed to override period attendance", err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodDTO(rec))
}

// =============================================================================
// LOCK-DRIVEN SYNC
// =============================================================================

func (h *Handler) ApplyApprovedAbsence(w http.ResponseWriter, r *http.Request) {
	var req ApprovedAbsenceRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, _ := attendance.ParseDate(req.Date)
	rec, applied, err := h.engine.Ledger.ApplyApprovedAbsence(r.Context(),
		attendance.SubjectID(req.SubjectID), attendance.SubjectKind(req.Kind), date, req.Actor, req.Reason)
	if err != nil {
		writeDomainError(w, "Failed to apply approved absence", err)
		return
	}
	writeJSON(w, http.StatusOK, ApprovedAbsenceDTO{Applied: applied, Record: toDailyDTO(rec)})
}

func (h *Handler) SyncSchoolBusiness(w http.ResponseWriter, r *http.Request) {
	var req SchoolBusinessRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, _ := attendance.ParseDate(req.Date)
	subjects := make([]attendance.SubjectID, len(req.Subjects))
	for i, s := range req.Subjects {
		subjects[i] = attendance.SubjectID(s)
	}
	n, err := h.engine.Ledger.SyncSchoolBusiness(r.Context(), attendance.SubjectKind(req.Kind), date, subjects, req.Actor, req.Reason)
	if err != nil {
		writeDomainError(w, "Failed to sync school business", err)
		return
	}
	writeJSON(w, http.StatusOK, CountDTO{Count: n})
}

// =============================================================================
// SUBJECT REPORTS
// =============================================================================

func (h *Handler) SubjectHistory(w http.ResponseWriter, r *http.Request) {
	subject, kind, ok := subjectParams(w, r)
	if !ok {
		return
	}
	rng, ok := rangeParams(w, r)
	if !ok {
		return
	}
	recs, err := h.engine.Ledger.History(r.Context(), subject, kind, rng)
	if err != nil {
		writeDomainError(w, "Failed to read history", err)
		return
	}
	writeJSON(w, http.StatusOK, toDailyDTOs(recs))
}

func (h *Handler) SubjectSummary(w http.ResponseWriter, r *http.Request) {
	subject, kind, ok := subjectParams(w, r)
	if !ok {
		return
	}
	rng, ok := rangeParams(w, r)
	if !ok {
		return
	}
	s, err := h.engine.Ledger.Summarize(r.Context(), subject, kind, rng)
	if err != nil {
		writeDomainError(w, "Failed to summarize attendance", err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(s))
}

func (h *Handler) EvaluateSubject(w http.ResponseWriter, r *http.Request) {
	subject, kind, ok := subjectParams(w, r)
	if !ok {
		return
	}
	triggered, err := h.engine.Evaluator.Evaluate(r.Context(), subject, kind)
	if err != nil {
		writeDomainError(w, "Failed to evaluate policies", err)
		return
	}
	out := make([]TriggeredDTO, len(triggered))
	for i, t := range triggered {
		out[i] = TriggeredDTO{Policy: toPolicyDTO(t.Policy), Count: t.Count}
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// AUDIT
// =============================================================================

func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := attendance.AuditFilter{
		AttendanceType: attendance.RecordKind(q.Get("type")),
		RecordID:       attendance.RecordID(q.Get("record_id")),
		ChangedBy:      q.Get("changed_by"),
	}
	for name, dst := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid "+name+" timestamp", err)
			return
		}
		*dst = &t
	}

	entries, err := h.engine.Ledger.Trail().History(r.Context(), filter)
	if err != nil {
		writeDomainError(w, "Failed to read audit trail", err)
		return
	}
	out := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		out[i] = toAuditDTO(e)
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// DISCREPANCIES
// =============================================================================

func (h *Handler) RunDiscrepancyCheck(w http.ResponseWriter, r *http.Request) {
	date, ok := h.dateParam(w, r)
	if !ok {
		return
	}
	n, err := h.engine.Detector.RunDiscrepancyCheck(r.Context(), date)
	if err != nil {
		writeDomainError(w, "Discrepancy check failed", err)
		return
	}
	writeJSON(w, http.StatusOK, CountDTO{Count: n})
}

func (h *Handler) ListDiscrepancies(w http.ResponseWriter, r *http.Request) {
	date, ok := h.dateParam(w, r)
	if !ok {
		return
	}
	ds, err := h.engine.Detector.ListDiscrepancies(r.Context(), date)
	if err != nil {
		writeDomainError(w, "Failed to list discrepancies", err)
		return
	}
	out := make([]DiscrepancyDTO, len(ds))
	for i, d := range ds {
		out[i] = toDiscrepancyDTO(d)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) ResolveDiscrepancy(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if !h.decode(w, r, &req) {
		return
	}
	id := attendance.DiscrepancyID(chi.URLParam(r, "id"))
	d, err := h.engine.Detector.ResolveDiscrepancy(r.Context(), id, req.ResolvedBy)
	if err != nil {
		writeDomainError(w, "Failed to resolve discrepancy", err)
		return
	}
	writeJSON(w, http.StatusOK, toDiscrepancyDTO(d))
}

// =============================================================================
// POLICIES
// =============================================================================

func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))
	ps, err := h.engine.Evaluator.Policies(r.Context(), activeOnly)
	if err != nil {
		writeDomainError(w, "Failed to list policies", err)
		return
	}
	out := make([]PolicyDTO, len(ps))
	for i, p := range ps {
		out[i] = toPolicyDTO(p)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) SavePolicy(w http.ResponseWriter, r *http.Request) {
	var req PolicyDTO
	if !h.decode(w, r, &req) {
		return
	}
	rule, err := attendance.ParseRuleType(req.RuleType)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rule type", err)
		return
	}
	p := attendance.Policy{
		ID:               attendance.PolicyID(req.ID),
		Name:             req.Name,
		RuleType:         rule,
		Threshold:        req.Threshold,
		ConsequenceType:  req.ConsequenceType,
		ConsequenceValue: req.ConsequenceValue,
		IsActive:         req.IsActive,
	}
	if err := h.engine.Evaluator.SavePolicy(r.Context(), p); err != nil {
		writeDomainError(w, "Failed to save policy", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPolicyDTO(p))
}

// =============================================================================
// SUBSTITUTIONS
// =============================================================================

func (h *Handler) SuggestSubstitute(w http.ResponseWriter, r *http.Request) {
	slotID := r.URL.Query().Get("slot_id")
	if slotID == "" {
		writeError(w, http.StatusBadRequest, "slot_id is required", nil)
		return
	}
	date, ok := h.dateParam(w, r)
	if !ok {
		return
	}
	id, found, err := h.engine.Substitutions.SuggestSubstitute(r.Context(), attendance.SlotID(slotID), date)
	if err != nil {
		writeDomainError(w, "Failed to suggest substitute", err)
		return
	}
	writeJSON(w, http.StatusOK, SuggestionDTO{SlotID: slotID, Date: date.String(), SubstituteID: string(id), Found: found})
}

func (h *Handler) CreateSubstitution(w http.ResponseWriter, r *http.Request) {
	var req CreateSubstitutionRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, _ := attendance.ParseDate(req.Date)
	s, err := h.engine.Substitutions.CreateAutoSubstitution(r.Context(),
		attendance.StaffID(req.OriginalTeacherID), attendance.SlotID(req.SlotID), date)
	if err != nil {
		writeDomainError(w, "Failed to assign substitute", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSubstitutionDTO(s))
}

func (h *Handler) ListSubstitutions(w http.ResponseWriter, r *http.Request) {
	date, ok := h.dateParam(w, r)
	if !ok {
		return
	}
	subs, err := h.engine.Substitutions.ForDate(r.Context(), date)
	if err != nil {
		writeDomainError(w, "Failed to list substitutions", err)
		return
	}
	out := make([]SubstitutionDTO, len(subs))
	for i, s := range subs {
		out[i] = toSubstitutionDTO(s)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetSubstitution(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.Substitutions.Get(r.Context(), substitution.ID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Substitution not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toSubstitutionDTO(s))
}

func (h *Handler) ConfirmSubstitution(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if !h.decode(w, r, &req) {
		return
	}
	s, err := h.engine.Substitutions.Confirm(r.Context(), substitution.ID(chi.URLParam(r, "id")), req.Actor)
	if err != nil {
		writeDomainError(w, "Failed to confirm substitution", err)
		return
	}
	writeJSON(w, http.StatusOK, toSubstitutionDTO(s))
}

func (h *Handler) RejectSubstitution(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if !h.decode(w, r, &req) {
		return
	}
	s, err := h.engine.Substitutions.Reject(r.Context(), substitution.ID(chi.URLParam(r, "id")), req.Actor, req.Reason)
	if err != nil {
		writeDomainError(w, "Failed to reject substitution", err)
		return
	}
	writeJSON(w, http.StatusOK, toSubstitutionDTO(s))
}

// =============================================================================
// ROLL CALLS
// =============================================================================

func (h *Handler) InitiateRollCall(w http.ResponseWriter, r *http.Request) {
	var req InitiateRollCallRequest
	if !h.decode(w, r, &req) {
		return
	}
	rc, err := h.engine.RollCalls.Initiate(r.Context(), req.EventName, req.InitiatedBy)
	if err != nil {
		writeDomainError(w, "Failed to initiate roll call", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRollCallDTO(rc))
}

func (h *Handler) ActiveRollCalls(w http.ResponseWriter, r *http.Request) {
	rcs, err := h.engine.RollCalls.Active(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to list roll calls", err)
		return
	}
	out := make([]RollCallDTO, len(rcs))
	for i, rc := range rcs {
		out[i] = toRollCallDTO(rc)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetRollCall(w http.ResponseWriter, r *http.Request) {
	rc, entries, err := h.engine.RollCalls.Get(r.Context(), rollcall.ID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Roll call not found", err)
		return
	}
	out := RollCallDetailDTO{RollCall: toRollCallDTO(rc), Entries: make([]EntryDTO, len(entries))}
	for i, e := range entries {
		out.Entries[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) RollCallSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.RollCalls.Summary(r.Context(), rollcall.ID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Roll call not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toRollCallSummaryDTO(s))
}

func (h *Handler) UpdateRollCallEntry(w http.ResponseWriter, r *http.Request) {
	var req UpdateEntryRequest
	if !h.decode(w, r, &req) {
		return
	}
	status, err := rollcall.ParseEntryStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid entry status", err)
		return
	}
	kind, err := attendance.ParseSubjectKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid person kind", err)
		return
	}
	person := rollcall.PersonKey{Kind: kind, ID: attendance.SubjectID(chi.URLParam(r, "person_id"))}
	e, err := h.engine.RollCalls.UpdateEntry(r.Context(), rollcall.ID(chi.URLParam(r, "id")),
		person, status, req.LocationFound)
	if err != nil {
		writeDomainError(w, "Failed to update roll call entry", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(e))
}

func (h *Handler) CompleteRollCall(w http.ResponseWriter, r *http.Request) {
	rc, err := h.engine.RollCalls.Complete(r.Context(), rollcall.ID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to complete roll call", err)
		return
	}
	writeJSON(w, http.StatusOK, toRollCallDTO(rc))
}

// =============================================================================
// ALERTS / ADMIN
// =============================================================================

func (h *Handler) SendAbsenceAlerts(w http.ResponseWriter, r *http.Request) {
	date, kind, ok := h.dateKindParams(w, r)
	if !ok {
		return
	}
	sent, failed, err := h.engine.Alerter.Notify(r.Context(), date, kind)
	if err != nil {
		writeDomainError(w, "Failed to send alerts", err)
		return
	}
	writeJSON(w, http.StatusOK, AlertResultDTO{Date: date.String(), Kind: string(kind), Sent: sent, Failed: failed})
}

func (h *Handler) TriggerLeaveSync(w http.ResponseWriter, r *http.Request) {
	date, ok := h.dateParam(w, r)
	if !ok {
		return
	}
	n, err := h.engine.Ledger.SyncApprovedLeaves(r.Context(), date, h.engine.Leaves, "admin")
	if err != nil {
		writeDomainError(w, "Leave sync failed", err)
		return
	}
	writeJSON(w, http.StatusOK, CountDTO{Count: n})
}

// =============================================================================
// HELPERS
// =============================================================================

func (req UpdateRequest) changes() (attendance.Changes, error) {
	ch := attendance.Changes{
		Remarks:        req.Remarks,
		MinutesLate:    req.MinutesLate,
		DetailedStatus: req.DetailedStatus,
	}
	if req.Status != nil {
		s, err := attendance.ParseStatus(*req.Status)
		if err != nil {
			return ch, err
		}
		ch.Status = &s
	}
	return ch, nil
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// dateOrToday parses an already validated date, defaulting to the school's today.
func (h *Handler) dateOrToday(s string) attendance.Date {
	if s == "" {
		return h.engine.Ledger.Today()
	}
	d, _ := attendance.ParseDate(s)
	return d
}

func (h *Handler) dateParam(w http.ResponseWriter, r *http.Request) (attendance.Date, bool) {
	s := r.URL.Query().Get("date")
	if s == "" {
		return h.engine.Ledger.Today(), true
	}
	d, err := attendance.ParseDate(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return attendance.Date{}, false
	}
	return d, true
}

// dateKindParams reads ?date= and an optional ?kind= (empty means both kinds).
func (h *Handler) dateKindParams(w http.ResponseWriter, r *http.Request) (attendance.Date, attendance.SubjectKind, bool) {
	date, ok := h.dateParam(w, r)
	if !ok {
		return date, "", false
	}
	raw := r.URL.Query().Get("kind")
	if raw == "" {
		return date, "", true
	}
	kind, err := attendance.ParseSubjectKind(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid kind", err)
		return date, "", false
	}
	return date, kind, true
}

// rangeParams reads ?from=&to=, each defaulting to the open end of AllTime.
func rangeParams(w http.ResponseWriter, r *http.Request) (attendance.DateRange, bool) {
	rng := attendance.AllTime()
	q := r.URL.Query()
	for name, dst := range map[string]*attendance.Date{"from": &rng.From, "to": &rng.To} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		d, err := attendance.ParseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid "+name+" date", err)
			return rng, false
		}
		*dst = d
	}
	if err := rng.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid range", err)
		return rng, false
	}
	return rng, true
}

func subjectParams(w http.ResponseWriter, r *http.Request) (attendance.SubjectID, attendance.SubjectKind, bool) {
	kind, err := attendance.ParseSubjectKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid kind", err)
		return "", "", false
	}
	return attendance.SubjectID(chi.URLParam(r, "id")), kind, true
}

func recordID(r *http.Request) attendance.RecordID {
	return attendance.RecordID(chi.URLParam(r, "id"))
}

// statusFor maps engine errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case attendance.IsClientError(err):
		return http.StatusBadRequest
	case attendance.IsNotFound(err):
		return http.StatusNotFound
	case attendance.IsConflict(err):
		return http.StatusConflict
	case errors.Is(err, attendance.ErrNoSubstituteAvailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
