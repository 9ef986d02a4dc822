/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Domain types carry no
  JSON tags; every response goes through a *DTO built here.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request structs carry go-playground/validator tags. The custom "date" tag
  accepts YYYY-MM-DD. Status strings are parsed with attendance.ParseStatus in
  the handlers so an unknown status surfaces as ErrInvalidStatus.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/rollcall"
	"github.com/warp/attendance-engine/substitution"
)

// =============================================================================
// VALIDATION
// =============================================================================

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("date", func(fl validator.FieldLevel) bool {
		_, err := attendance.ParseDate(fl.Field().String())
		return err == nil
	})
	return v
}

// =============================================================================
// ATTENDANCE REQUESTS
// =============================================================================

type MarkDailyRequest struct {
	SubjectID string `json:"subject_id" validate:"required"`
	Kind      string `json:"kind" validate:"required,oneof=student staff"`
	Date      string `json:"date" validate:"omitempty,date"` // today when empty
	Status    string `json:"status" validate:"required"`
	MarkedBy  string `json:"marked_by" validate:"required"`
	Remarks   string `json:"remarks"`
}

type BulkEntryRequest struct {
	SubjectID string `json:"subject_id" validate:"required"`
	Status    string `json:"status" validate:"required"`
	Remarks   string `json:"remarks"`
}

type MarkBulkRequest struct {
	Kind     string             `json:"kind" validate:"required,oneof=student staff"`
	Date     string             `json:"date" validate:"omitempty,date"`
	MarkedBy string             `json:"marked_by" validate:"required"`
	Entries  []BulkEntryRequest `json:"entries" validate:"required,min=1,dive"`
}

type MarkPeriodRequest struct {
	StudentID      string     `json:"student_id" validate:"required"`
	SlotID         string     `json:"slot_id" validate:"required"`
	Date           string     `json:"date" validate:"omitempty,date"`
	Status         string     `json:"status" validate:"required"`
	MinutesLate    *int       `json:"minutes_late" validate:"omitempty,min=0"`
	CheckInAt      *time.Time `json:"check_in_at"`
	DetailedStatus string     `json:"detailed_status"`
	MarkedBy       string     `json:"marked_by" validate:"required"`
}

// UpdateRequest carries a partial update. Omitted fields are left alone.
type UpdateRequest struct {
	Status         *string `json:"status"`
	Remarks        *string `json:"remarks"`
	MinutesLate    *int    `json:"minutes_late" validate:"omitempty,min=0"`
	DetailedStatus *string `json:"detailed_status"`
	Actor          string  `json:"actor" validate:"required"`
	Reason         string  `json:"reason"`
}

type OverrideRequest struct {
	Status string `json:"status" validate:"required"`
	Actor  string `json:"actor" validate:"required"`
	Reason string `json:"reason" validate:"required"`
}

type ApprovedAbsenceRequest struct {
	SubjectID string `json:"subject_id" validate:"required"`
	Kind      string `json:"kind" validate:"required,oneof=student staff"`
	Date      string `json:"date" validate:"required,date"`
	Actor     string `json:"actor" validate:"required"`
	Reason    string `json:"reason"`
}

type SchoolBusinessRequest struct {
	Kind     string   `json:"kind" validate:"required,oneof=student staff"`
	Date     string   `json:"date" validate:"required,date"`
	Subjects []string `json:"subjects" validate:"required,min=1,dive,required"`
	Actor    string   `json:"actor" validate:"required"`
	Reason   string   `json:"reason"`
}

// =============================================================================
// ATTENDANCE RESPONSES
// =============================================================================

type DailyRecordDTO struct {
	ID        string `json:"id"`
	SubjectID string `json:"subject_id"`
	Kind      string `json:"kind"`
	Date      string `json:"date"`
	Status    string `json:"status"`
	MarkedBy  string `json:"marked_by"`
	Remarks   string `json:"remarks,omitempty"`
	IsLocked  bool   `json:"is_locked"`
	Version   int    `json:"version"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

func toDailyDTO(r attendance.DailyRecord) DailyRecordDTO {
	return DailyRecordDTO{
		ID:        string(r.ID),
		SubjectID: string(r.SubjectID),
		Kind:      string(r.SubjectKind),
		Date:      r.Date.String(),
		Status:    string(r.Status),
		MarkedBy:  r.MarkedBy,
		Remarks:   r.Remarks,
		IsLocked:  r.IsLocked,
		Version:   r.Version,
		CreatedAt: formatTime(r.CreatedAt),
		UpdatedAt: formatTime(r.UpdatedAt),
	}
}

func toDailyDTOs(recs []attendance.DailyRecord) []DailyRecordDTO {
	out := make([]DailyRecordDTO, len(recs))
	for i, r := range recs {
		out[i] = toDailyDTO(r)
	}
	return out
}

type PeriodRecordDTO struct {
	ID             string `json:"id"`
	StudentID      string `json:"student_id"`
	ClassID        string `json:"class_id"`
	SlotID         string `json:"slot_id"`
	Date           string `json:"date"`
	Status         string `json:"status"`
	MinutesLate    int    `json:"minutes_late"`
	SuspicionFlag  string `json:"suspicion_flag,omitempty"`
	DetailedStatus string `json:"detailed_status,omitempty"`
	MarkedBy       string `json:"marked_by"`
	IsLocked       bool   `json:"is_locked"`
	Version        int    `json:"version"`
}

func toPeriodDTO(r attendance.PeriodRecord) PeriodRecordDTO {
	return PeriodRecordDTO{
		ID:             string(r.ID),
		StudentID:      string(r.StudentID),
		ClassID:        r.ClassID,
		SlotID:         string(r.SlotID),
		Date:           r.Date.String(),
		Status:         string(r.Status),
		MinutesLate:    r.MinutesLate,
		SuspicionFlag:  string(r.SuspicionFlag),
		DetailedStatus: r.DetailedStatus,
		MarkedBy:       r.MarkedBy,
		IsLocked:       r.IsLocked,
		Version:        r.Version,
	}
}

// BulkResultDTO reports a partially applied register. Error is set when the
// batch stopped early.
type BulkResultDTO struct {
	Records []DailyRecordDTO `json:"records"`
	Error   string           `json:"error,omitempty"`
}

type ApprovedAbsenceDTO struct {
	Applied bool           `json:"applied"`
	Record  DailyRecordDTO `json:"record"`
}

type CountDTO struct {
	Count int `json:"count"`
}

type SummaryDTO struct {
	SubjectID  string         `json:"subject_id"`
	Kind       string         `json:"kind"`
	From       string         `json:"from"`
	To         string         `json:"to"`
	Total      int            `json:"total"`
	Attended   int            `json:"attended"`
	ByStatus   map[string]int `json:"by_status"`
	Percentage string         `json:"percentage"`
}

func toSummaryDTO(s attendance.Summary) SummaryDTO {
	by := make(map[string]int, len(s.ByStatus))
	for st, n := range s.ByStatus {
		by[string(st)] = n
	}
	return SummaryDTO{
		SubjectID:  string(s.SubjectID),
		Kind:       string(s.Kind),
		From:       s.Range.From.String(),
		To:         s.Range.To.String(),
		Total:      s.Total,
		Attended:   s.Attended,
		ByStatus:   by,
		Percentage: s.Percentage.StringFixed(2),
	}
}

// =============================================================================
// CALENDAR
// =============================================================================

type CalendarDayRequest struct {
	DayType       string `json:"day_type" validate:"required,oneof=working holiday event exam_break"`
	IsAcademicDay bool   `json:"is_academic_day"`
	Note          string `json:"note"`
}

type WorkingDayDTO struct {
	Date    string `json:"date"`
	Working bool   `json:"working"`
}

type WorkingDaysDTO struct {
	From  string   `json:"from"`
	To    string   `json:"to"`
	Dates []string `json:"dates"`
}

// =============================================================================
// AUDIT
// =============================================================================

type AuditEntryDTO struct {
	ID             string            `json:"id"`
	AttendanceType string            `json:"attendance_type"`
	RecordID       string            `json:"record_id"`
	OldStatus      string            `json:"old_status"`
	NewStatus      string            `json:"new_status"`
	Reason         string            `json:"reason"`
	ChangedBy      string            `json:"changed_by"`
	ChangedAt      string            `json:"changed_at"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

func toAuditDTO(e attendance.AuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:             e.ID,
		AttendanceType: string(e.AttendanceType),
		RecordID:       string(e.RecordID),
		OldStatus:      string(e.OldStatus),
		NewStatus:      string(e.NewStatus),
		Reason:         e.Reason,
		ChangedBy:      e.ChangedBy,
		ChangedAt:      formatTime(e.ChangedAt),
		Metadata:       e.Metadata,
	}
}

// =============================================================================
// DISCREPANCIES
// =============================================================================

type DiscrepancyDTO struct {
	ID         string `json:"id"`
	StudentID  string `json:"student_id"`
	Date       string `json:"date"`
	Type       string `json:"type"`
	Details    string `json:"details"`
	Severity   string `json:"severity"`
	IsResolved bool   `json:"is_resolved"`
	ResolvedBy string `json:"resolved_by,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
}

func toDiscrepancyDTO(d attendance.Discrepancy) DiscrepancyDTO {
	return DiscrepancyDTO{
		ID:         string(d.ID),
		StudentID:  string(d.StudentID),
		Date:       d.Date.String(),
		Type:       string(d.Type),
		Details:    d.Details,
		Severity:   string(d.Severity),
		IsResolved: d.IsResolved,
		ResolvedBy: d.ResolvedBy,
		CreatedAt:  formatTime(d.CreatedAt),
	}
}

type ResolveRequest struct {
	ResolvedBy string `json:"resolved_by" validate:"required"`
}

// =============================================================================
// POLICIES
// =============================================================================

type PolicyDTO struct {
	ID               string `json:"id" validate:"required"`
	Name             string `json:"name" validate:"required"`
	RuleType         string `json:"rule_type" validate:"required"`
	Threshold        int    `json:"threshold" validate:"min=1"`
	ConsequenceType  string `json:"consequence_type" validate:"required"`
	ConsequenceValue string `json:"consequence_value"`
	IsActive         bool   `json:"is_active"`
}

func toPolicyDTO(p attendance.Policy) PolicyDTO {
	return PolicyDTO{
		ID:               string(p.ID),
		Name:             p.Name,
		RuleType:         string(p.RuleType),
		Threshold:        p.Threshold,
		ConsequenceType:  p.ConsequenceType,
		ConsequenceValue: p.ConsequenceValue,
		IsActive:         p.IsActive,
	}
}

type TriggeredDTO struct {
	Policy PolicyDTO `json:"policy"`
	Count  int       `json:"count"`
}

// =============================================================================
// SUBSTITUTIONS
// =============================================================================

type CreateSubstitutionRequest struct {
	OriginalTeacherID string `json:"original_teacher_id" validate:"required"`
	SlotID            string `json:"slot_id" validate:"required"`
	Date              string `json:"date" validate:"required,date"`
}

type DecisionRequest struct {
	Actor  string `json:"actor" validate:"required"`
	Reason string `json:"reason"`
}

type SuggestionDTO struct {
	SlotID       string `json:"slot_id"`
	Date         string `json:"date"`
	SubstituteID string `json:"substitute_id,omitempty"`
	Found        bool   `json:"found"`
}

type SubstitutionDTO struct {
	ID                  string `json:"id"`
	OriginalTeacherID   string `json:"original_teacher_id"`
	SubstituteTeacherID string `json:"substitute_teacher_id"`
	SlotID              string `json:"slot_id"`
	Date                string `json:"date"`
	Status              string `json:"status"`
	Remarks             string `json:"remarks,omitempty"`
	DecidedBy           string `json:"decided_by,omitempty"`
	CreatedAt           string `json:"created_at,omitempty"`
}

func toSubstitutionDTO(s substitution.Substitution) SubstitutionDTO {
	return SubstitutionDTO{
		ID:                  string(s.ID),
		OriginalTeacherID:   string(s.OriginalTeacherID),
		SubstituteTeacherID: string(s.SubstituteTeacherID),
		SlotID:              string(s.SlotID),
		Date:                s.Date.String(),
		Status:              string(s.Status),
		Remarks:             s.Remarks,
		DecidedBy:           s.DecidedBy,
		CreatedAt:           formatTime(s.CreatedAt),
	}
}

// =============================================================================
// ROLL CALLS
// =============================================================================

type InitiateRollCallRequest struct {
	EventName   string `json:"event_name" validate:"required"`
	InitiatedBy string `json:"initiated_by" validate:"required"`
}

type UpdateEntryRequest struct {
	Status        string `json:"status" validate:"required"`
	LocationFound string `json:"location_found"`
}

type RollCallDTO struct {
	ID          string `json:"id"`
	EventName   string `json:"event_name"`
	Date        string `json:"date"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time,omitempty"`
	InitiatedBy string `json:"initiated_by"`
	Status      string `json:"status"`
}

func toRollCallDTO(rc rollcall.RollCall) RollCallDTO {
	dto := RollCallDTO{
		ID:          string(rc.ID),
		EventName:   rc.EventName,
		Date:        rc.Date.String(),
		StartTime:   formatTime(rc.StartTime),
		InitiatedBy: rc.InitiatedBy,
		Status:      string(rc.Status),
	}
	if rc.EndTime != nil {
		dto.EndTime = formatTime(*rc.EndTime)
	}
	return dto
}

type EntryDTO struct {
	PersonID      string `json:"person_id"`
	PersonKind    string `json:"person_kind"`
	Status        string `json:"status"`
	LocationFound string `json:"location_found,omitempty"`
	MarkedAt      string `json:"marked_at,omitempty"`
}

func toEntryDTO(e rollcall.Entry) EntryDTO {
	dto := EntryDTO{
		PersonID:      string(e.PersonID),
		PersonKind:    string(e.PersonKind),
		Status:        string(e.Status),
		LocationFound: e.LocationFound,
	}
	if e.MarkedAt != nil {
		dto.MarkedAt = formatTime(*e.MarkedAt)
	}
	return dto
}

type RollCallDetailDTO struct {
	RollCall RollCallDTO `json:"roll_call"`
	Entries  []EntryDTO  `json:"entries"`
}

type RollCallSummaryDTO struct {
	RollCall RollCallDTO    `json:"roll_call"`
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
}

func toRollCallSummaryDTO(s rollcall.Summary) RollCallSummaryDTO {
	by := make(map[string]int, len(s.ByStatus))
	for st, n := range s.ByStatus {
		by[string(st)] = n
	}
	return RollCallSummaryDTO{RollCall: toRollCallDTO(s.RollCall), Total: s.Total, ByStatus: by}
}

// =============================================================================
// ALERTS / ADMIN
// =============================================================================

type AlertResultDTO struct {
	Date   string `json:"date"`
	Kind   string `json:"kind"`
	Sent   int    `json:"sent"`
	Failed int    `json:"failed"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func dateStrings(ds []attendance.Date) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.String()
	}
	sort.Strings(out)
	return out
}
