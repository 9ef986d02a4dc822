package attendance

import (
	"context"
	"time"
)

// =============================================================================
// EXTERNAL COLLABORATORS - Read-only capabilities owned by other modules
// =============================================================================

// TimetableSlot is one cell of the scheduling grid.
type TimetableSlot struct {
	ID           SlotID
	ClassID      string
	TeacherID    StaffID
	SubjectID    string
	DayOfWeek    time.Weekday
	PeriodNumber int
	StartTime    TimeOfDay
	EndTime      TimeOfDay
}

// TimetableProvider reads the timetable.
type TimetableProvider interface {
	GetSlot(ctx context.Context, id SlotID) (*TimetableSlot, error) // ErrNotFound
	// FindTeachersAt lists every teacher scheduled at day/period across all classes.
	FindTeachersAt(ctx context.Context, day time.Weekday, period int) ([]StaffID, error)
}

// LeaveStatus of an external leave interval. Only approved leave is consulted.
type LeaveStatus string

const (
	LeavePending  LeaveStatus = "pending"
	LeaveApproved LeaveStatus = "approved"
	LeaveRejected LeaveStatus = "rejected"
)

// LeaveInterval is a staff leave request as stored by the HR module.
type LeaveInterval struct {
	StaffID StaffID
	From    Date
	To      Date
	Status  LeaveStatus
}

// Covers reports whether the leave is approved and includes d.
func (l LeaveInterval) Covers(d Date) bool {
	return l.Status == LeaveApproved && DateRange{From: l.From, To: l.To}.Contains(d)
}

type LeaveProvider interface {
	ApprovedLeavesCovering(ctx context.Context, date Date) ([]StaffID, error)
}

// StaffMember as seen by the staff directory.
type StaffMember struct {
	ID         StaffID
	Name       string
	Email      string
	IsTeaching bool
}

type StaffDirectory interface {
	// TeachingStaff returns teaching staff in a stable enumeration order.
	TeachingStaff(ctx context.Context) ([]StaffID, error)
}

// Notifier delivers absence alerts. Delivery mechanics live outside the engine.
type Notifier interface {
	Send(ctx context.Context, email, subject, body string) error
}

// ContactDirectory resolves where to send alerts for a subject
// (a guardian for students, the staff member for staff).
type ContactDirectory interface {
	ContactEmail(ctx context.Context, subjectID SubjectID, kind SubjectKind) (string, error)
}

// =============================================================================
// CLOCK
// =============================================================================

// Clock is the engine's only source of "now".
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant. Used by tests and replays.
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time { return c.At }
