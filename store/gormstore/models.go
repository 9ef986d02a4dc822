package gormstore

import (
	"time"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/rollcall"
	"github.com/warp/attendance-engine/substitution"
	"gorm.io/datatypes"
)

// =============================================================================
// MODELS - Table layout shared with store/sqlite
// =============================================================================

type dailyModel struct {
	ID          string         `gorm:"column:id;primaryKey"`
	SubjectID   string         `gorm:"column:subject_id;not null;uniqueIndex:idx_daily_unique,priority:1"`
	SubjectKind string         `gorm:"column:subject_kind;not null;uniqueIndex:idx_daily_unique,priority:2;index:idx_daily_date,priority:2"`
	Date        datatypes.Date `gorm:"column:date;not null;uniqueIndex:idx_daily_unique,priority:3;index:idx_daily_date,priority:1"`
	Status      string         `gorm:"column:status;not null"`
	MarkedBy    string         `gorm:"column:marked_by;not null"`
	Remarks     string         `gorm:"column:remarks"`
	IsLocked    bool           `gorm:"column:is_locked;not null;default:false"`
	Version     int            `gorm:"column:version;not null;default:1"`
	CreatedAt   time.Time      `gorm:"column:created_at;autoCreateTime:false"`
	UpdatedAt   time.Time      `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (dailyModel) TableName() string { return "daily_attendance" }

func fromDaily(r attendance.DailyRecord) dailyModel {
	return dailyModel{
		ID: string(r.ID), SubjectID: string(r.SubjectID), SubjectKind: string(r.SubjectKind),
		Date: dateValue(r.Date), Status: string(r.Status), MarkedBy: r.MarkedBy, Remarks: r.Remarks,
		IsLocked: r.IsLocked, Version: r.Version, CreatedAt: r.CreatedAt.UTC(), UpdatedAt: r.UpdatedAt.UTC(),
	}
}

func (m dailyModel) toDomain() attendance.DailyRecord {
	return attendance.DailyRecord{
		ID: attendance.RecordID(m.ID), SubjectID: attendance.SubjectID(m.SubjectID),
		SubjectKind: attendance.SubjectKind(m.SubjectKind), Date: toDate(m.Date),
		Status: attendance.Status(m.Status), MarkedBy: m.MarkedBy, Remarks: m.Remarks,
		IsLocked: m.IsLocked, Version: m.Version, CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC(),
	}
}

type periodModel struct {
	ID             string         `gorm:"column:id;primaryKey"`
	StudentID      string         `gorm:"column:student_id;not null;uniqueIndex:idx_period_unique,priority:1;index:idx_period_student_date,priority:1"`
	ClassID        string         `gorm:"column:class_id;not null"`
	SlotID         string         `gorm:"column:slot_id;not null;uniqueIndex:idx_period_unique,priority:2"`
	Date           datatypes.Date `gorm:"column:date;not null;uniqueIndex:idx_period_unique,priority:3;index:idx_period_student_date,priority:2"`
	Status         string         `gorm:"column:status;not null"`
	MinutesLate    int            `gorm:"column:minutes_late;not null;default:0"`
	SuspicionFlag  string         `gorm:"column:suspicion_flag;not null;default:''"`
	DetailedStatus string         `gorm:"column:detailed_status"`
	MarkedBy       string         `gorm:"column:marked_by;not null"`
	IsLocked       bool           `gorm:"column:is_locked;not null;default:false"`
	Version        int            `gorm:"column:version;not null;default:1"`
	CreatedAt      time.Time      `gorm:"column:created_at;autoCreateTime:false"`
	UpdatedAt      time.Time      `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (periodModel) TableName() string { return "period_attendance" }

func fromPeriod(r attendance.PeriodRecord) periodModel {
	return periodModel{
		ID: string(r.ID), StudentID: string(r.StudentID), ClassID: r.ClassID, SlotID: string(r.SlotID),
		Date: dateValue(r.Date), Status: string(r.Status), MinutesLate: r.MinutesLate,
		SuspicionFlag: string(r.SuspicionFlag), DetailedStatus: r.DetailedStatus, MarkedBy: r.MarkedBy,
		IsLocked: r.IsLocked, Version: r.Version, CreatedAt: r.CreatedAt.UTC(), UpdatedAt: r.UpdatedAt.UTC(),
	}
}

func (m periodModel) toDomain() attendance.PeriodRecord {
	return attendance.PeriodRecord{
		ID: attendance.RecordID(m.ID), StudentID: attendance.SubjectID(m.StudentID), ClassID: m.ClassID,
		SlotID: attendance.SlotID(m.SlotID), Date: toDate(m.Date), Status: attendance.Status(m.Status),
		MinutesLate: m.MinutesLate, SuspicionFlag: attendance.SuspicionFlag(m.SuspicionFlag),
		DetailedStatus: m.DetailedStatus, MarkedBy: m.MarkedBy, IsLocked: m.IsLocked, Version: m.Version,
		CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC(),
	}
}

// auditModel is append-only. Seq gives a stable insertion order.
type auditModel struct {
	Seq            int64             `gorm:"column:seq;primaryKey;autoIncrement"`
	ID             string            `gorm:"column:id;not null;uniqueIndex"`
	AttendanceType string            `gorm:"column:attendance_type;not null"`
	RecordID       string            `gorm:"column:record_id;not null;index:idx_audit_record"`
	OldStatus      string            `gorm:"column:old_status;not null;default:''"`
	NewStatus      string            `gorm:"column:new_status;not null"`
	Reason         string            `gorm:"column:reason"`
	ChangedBy      string            `gorm:"column:changed_by;not null"`
	ChangedAt      time.Time         `gorm:"column:changed_at;not null"`
	Metadata       datatypes.JSONMap `gorm:"column:metadata_json"`
}

func (auditModel) TableName() string { return "attendance_audit_log" }

func fromAudit(e attendance.AuditEntry) auditModel {
	m := auditModel{
		ID: e.ID, AttendanceType: string(e.AttendanceType), RecordID: string(e.RecordID),
		OldStatus: string(e.OldStatus), NewStatus: string(e.NewStatus), Reason: e.Reason,
		ChangedBy: e.ChangedBy, ChangedAt: e.ChangedAt.UTC(),
	}
	if len(e.Metadata) > 0 {
		m.Metadata = make(datatypes.JSONMap, len(e.Metadata))
		for k, v := range e.Metadata {
			m.Metadata[k] = v
		}
	}
	return m
}

func (m auditModel) toDomain() attendance.AuditEntry {
	e := attendance.AuditEntry{
		ID: m.ID, AttendanceType: attendance.RecordKind(m.AttendanceType), RecordID: attendance.RecordID(m.RecordID),
		OldStatus: attendance.Status(m.OldStatus), NewStatus: attendance.Status(m.NewStatus), Reason: m.Reason,
		ChangedBy: m.ChangedBy, ChangedAt: m.ChangedAt.UTC(),
	}
	if len(m.Metadata) > 0 {
		e.Metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			if s, ok := v.(string); ok {
				e.Metadata[k] = s
			}
		}
	}
	return e
}

type calendarModel struct {
	Date          datatypes.Date `gorm:"column:date;primaryKey"`
	DayType       string         `gorm:"column:day_type;not null"`
	IsAcademicDay bool           `gorm:"column:is_academic_day;not null;default:false"`
	Note          string         `gorm:"column:note"`
}

func (calendarModel) TableName() string { return "calendar_days" }

type discrepancyModel struct {
	ID         string         `gorm:"column:id;primaryKey"`
	StudentID  string         `gorm:"column:student_id;not null;uniqueIndex:idx_discrepancy_unique,priority:1"`
	Date       datatypes.Date `gorm:"column:date;not null;uniqueIndex:idx_discrepancy_unique,priority:2"`
	Type       string         `gorm:"column:type;not null;uniqueIndex:idx_discrepancy_unique,priority:3"`
	Details    string         `gorm:"column:details"`
	Severity   string         `gorm:"column:severity;not null"`
	IsResolved bool           `gorm:"column:is_resolved;not null;default:false"`
	ResolvedBy string         `gorm:"column:resolved_by"`
	CreatedAt  time.Time      `gorm:"column:created_at;autoCreateTime:false"`
}

func (discrepancyModel) TableName() string { return "attendance_discrepancies" }

func (m discrepancyModel) toDomain() attendance.Discrepancy {
	return attendance.Discrepancy{
		ID: attendance.DiscrepancyID(m.ID), StudentID: attendance.SubjectID(m.StudentID), Date: toDate(m.Date),
		Type: attendance.DiscrepancyType(m.Type), Details: m.Details, Severity: attendance.Severity(m.Severity),
		IsResolved: m.IsResolved, ResolvedBy: m.ResolvedBy, CreatedAt: m.CreatedAt.UTC(),
	}
}

type policyModel struct {
	ID               string `gorm:"column:id;primaryKey"`
	Name             string `gorm:"column:name"`
	RuleType         string `gorm:"column:rule_type;not null"`
	Threshold        int    `gorm:"column:threshold;not null"`
	ConsequenceType  string `gorm:"column:consequence_type;not null"`
	ConsequenceValue string `gorm:"column:consequence_value"`
	IsActive         bool   `gorm:"column:is_active;not null"`
}

func (policyModel) TableName() string { return "attendance_policies" }

func (m policyModel) toDomain() attendance.Policy {
	return attendance.Policy{
		ID: attendance.PolicyID(m.ID), Name: m.Name, RuleType: attendance.RuleType(m.RuleType),
		Threshold: m.Threshold, ConsequenceType: m.ConsequenceType, ConsequenceValue: m.ConsequenceValue,
		IsActive: m.IsActive,
	}
}

// substitutionModel's partial unique index is created in migrate; gorm tags
// cannot express the WHERE clause.
type substitutionModel struct {
	ID                  string         `gorm:"column:id;primaryKey"`
	OriginalTeacherID   string         `gorm:"column:original_teacher_id;not null"`
	SubstituteTeacherID string         `gorm:"column:substitute_teacher_id;not null"`
	SlotID              string         `gorm:"column:slot_id;not null"`
	Date                datatypes.Date `gorm:"column:date;not null;index:idx_substitutions_date"`
	Status              string         `gorm:"column:status;not null"`
	Remarks             string         `gorm:"column:remarks"`
	DecidedBy           string         `gorm:"column:decided_by"`
	CreatedAt           time.Time      `gorm:"column:created_at;autoCreateTime:false"`
	UpdatedAt           time.Time      `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (substitutionModel) TableName() string { return "substitutions" }

func fromSubstitution(s substitution.Substitution) substitutionModel {
	return substitutionModel{
		ID: string(s.ID), OriginalTeacherID: string(s.OriginalTeacherID),
		SubstituteTeacherID: string(s.SubstituteTeacherID), SlotID: string(s.SlotID), Date: dateValue(s.Date),
		Status: string(s.Status), Remarks: s.Remarks, DecidedBy: s.DecidedBy,
		CreatedAt: s.CreatedAt.UTC(), UpdatedAt: s.UpdatedAt.UTC(),
	}
}

func (m substitutionModel) toDomain() substitution.Substitution {
	return substitution.Substitution{
		ID: substitution.ID(m.ID), OriginalTeacherID: attendance.StaffID(m.OriginalTeacherID),
		SubstituteTeacherID: attendance.StaffID(m.SubstituteTeacherID), SlotID: attendance.SlotID(m.SlotID),
		Date: toDate(m.Date), Status: substitution.Status(m.Status), Remarks: m.Remarks, DecidedBy: m.DecidedBy,
		CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC(),
	}
}

type rollCallModel struct {
	ID          string         `gorm:"column:id;primaryKey"`
	EventName   string         `gorm:"column:event_name;not null"`
	Date        datatypes.Date `gorm:"column:date;not null"`
	StartTime   time.Time      `gorm:"column:start_time;not null"`
	EndTime     *time.Time     `gorm:"column:end_time"`
	InitiatedBy string         `gorm:"column:initiated_by;not null"`
	Status      string         `gorm:"column:status;not null;index"`
}

func (rollCallModel) TableName() string { return "emergency_roll_calls" }

func (m rollCallModel) toDomain() rollcall.RollCall {
	rc := rollcall.RollCall{
		ID: rollcall.ID(m.ID), EventName: m.EventName, Date: toDate(m.Date), StartTime: m.StartTime.UTC(),
		InitiatedBy: m.InitiatedBy, Status: rollcall.Status(m.Status),
	}
	if m.EndTime != nil {
		end := m.EndTime.UTC()
		rc.EndTime = &end
	}
	return rc
}

type rollCallEntryModel struct {
	RollCallID    string     `gorm:"column:roll_call_id;primaryKey"`
	PersonKind    string     `gorm:"column:person_kind;primaryKey"`
	PersonID      string     `gorm:"column:person_id;primaryKey"`
	Status        string     `gorm:"column:status;not null"`
	LocationFound string     `gorm:"column:location_found"`
	MarkedAt      *time.Time `gorm:"column:marked_at"`
}

func (rollCallEntryModel) TableName() string { return "roll_call_entries" }

func fromEntry(e rollcall.Entry) rollCallEntryModel {
	return rollCallEntryModel{
		RollCallID: string(e.RollCallID), PersonID: string(e.PersonID), PersonKind: string(e.PersonKind),
		Status: string(e.Status), LocationFound: e.LocationFound, MarkedAt: e.MarkedAt,
	}
}

func (m rollCallEntryModel) toDomain() rollcall.Entry {
	e := rollcall.Entry{
		RollCallID: rollcall.ID(m.RollCallID), PersonID: attendance.SubjectID(m.PersonID),
		PersonKind: attendance.SubjectKind(m.PersonKind), Status: rollcall.EntryStatus(m.Status),
		LocationFound: m.LocationFound,
	}
	if m.MarkedAt != nil {
		at := m.MarkedAt.UTC()
		e.MarkedAt = &at
	}
	return e
}

// Directory tables. Owned by the timetable, HR and people modules.

type slotModel struct {
	ID           string `gorm:"column:id;primaryKey"`
	ClassID      string `gorm:"column:class_id;not null"`
	TeacherID    string `gorm:"column:teacher_id;not null"`
	SubjectID    string `gorm:"column:subject_id"`
	DayOfWeek    int    `gorm:"column:day_of_week;not null;index:idx_slots_day_period,priority:1"`
	PeriodNumber int    `gorm:"column:period_number;not null;index:idx_slots_day_period,priority:2"`
	StartTime    string `gorm:"column:start_time;not null"`
	EndTime      string `gorm:"column:end_time;not null"`
}

func (slotModel) TableName() string { return "timetable_slots" }

type leaveModel struct {
	ID       int64          `gorm:"column:id;primaryKey;autoIncrement"`
	StaffID  string         `gorm:"column:staff_id;not null"`
	FromDate datatypes.Date `gorm:"column:from_date;not null"`
	ToDate   datatypes.Date `gorm:"column:to_date;not null"`
	Status   string         `gorm:"column:status;not null"`
}

func (leaveModel) TableName() string { return "leave_intervals" }

type staffModel struct {
	Seq        int64  `gorm:"column:seq;primaryKey;autoIncrement"`
	ID         string `gorm:"column:id;not null;uniqueIndex"`
	Name       string `gorm:"column:name;not null"`
	Email      string `gorm:"column:email"`
	IsTeaching bool   `gorm:"column:is_teaching;not null"`
}

func (staffModel) TableName() string { return "staff" }

type contactModel struct {
	SubjectID string `gorm:"column:subject_id;primaryKey"`
	Email     string `gorm:"column:email;not null"`
}

func (contactModel) TableName() string { return "contacts" }

func allModels() []any {
	return []any{
		&dailyModel{}, &periodModel{}, &auditModel{}, &calendarModel{}, &discrepancyModel{},
		&policyModel{}, &substitutionModel{}, &rollCallModel{}, &rollCallEntryModel{},
		&slotModel{}, &leaveModel{}, &staffModel{}, &contactModel{},
	}
}

func dateValue(d attendance.Date) datatypes.Date {
	return datatypes.Date(d.Time)
}

func toDate(d datatypes.Date) attendance.Date {
	return attendance.DateOf(time.Time(d).UTC())
}
