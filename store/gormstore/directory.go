package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/warp/attendance-engine/attendance"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// =============================================================================
// DIRECTORY - Timetable, leave, staff and contacts owned by other modules
// =============================================================================

var (
	_ attendance.TimetableProvider = (*Store)(nil)
	_ attendance.LeaveProvider     = (*Store)(nil)
	_ attendance.StaffDirectory    = (*Store)(nil)
	_ attendance.ContactDirectory  = (*Store)(nil)
)

func (s *Store) SaveSlot(ctx context.Context, slot attendance.TimetableSlot) error {
	m := slotModel{
		ID: string(slot.ID), ClassID: slot.ClassID, TeacherID: string(slot.TeacherID), SubjectID: slot.SubjectID,
		DayOfWeek: int(slot.DayOfWeek), PeriodNumber: slot.PeriodNumber,
		StartTime: slot.StartTime.String(), EndTime: slot.EndTime.String(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&m).Error
}

func (s *Store) SaveLeave(ctx context.Context, l attendance.LeaveInterval) error {
	m := leaveModel{StaffID: string(l.StaffID), FromDate: dateValue(l.From), ToDate: dateValue(l.To), Status: string(l.Status)}
	return s.db.WithContext(ctx).Create(&m).Error
}

// SaveStaff adds or replaces a staff member. Enumeration order is insertion order.
func (s *Store) SaveStaff(ctx context.Context, member attendance.StaffMember) error {
	m := staffModel{ID: string(member.ID), Name: member.Name, Email: member.Email, IsTeaching: member.IsTeaching}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "email", "is_teaching"}),
	}).Create(&m).Error
}

func (s *Store) SetContact(ctx context.Context, subjectID attendance.SubjectID, email string) error {
	m := contactModel{SubjectID: string(subjectID), Email: email}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subject_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email"}),
	}).Create(&m).Error
}

func (s *Store) GetSlot(ctx context.Context, id attendance.SlotID) (*attendance.TimetableSlot, error) {
	var m slotModel
	err := s.db.WithContext(ctx).Where("id = ?", string(id)).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("slot %s: %w", id, attendance.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read slot: %w", err)
	}
	start, err := attendance.ParseTimeOfDay(m.StartTime)
	if err != nil {
		return nil, fmt.Errorf("slot %s start_time: %w", id, err)
	}
	end, err := attendance.ParseTimeOfDay(m.EndTime)
	if err != nil {
		return nil, fmt.Errorf("slot %s end_time: %w", id, err)
	}
	return &attendance.TimetableSlot{
		ID: attendance.SlotID(m.ID), ClassID: m.ClassID, TeacherID: attendance.StaffID(m.TeacherID),
		SubjectID: m.SubjectID, DayOfWeek: time.Weekday(m.DayOfWeek), PeriodNumber: m.PeriodNumber,
		StartTime: start, EndTime: end,
	}, nil
}

func (s *Store) FindTeachersAt(ctx context.Context, day time.Weekday, period int) ([]attendance.StaffID, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&slotModel{}).
		Where("day_of_week = ? AND period_number = ?", int(day), period).
		Distinct().Order("teacher_id").Pluck("teacher_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query timetable: %w", err)
	}
	return toStaffIDs(ids), nil
}

func (s *Store) ApprovedLeavesCovering(ctx context.Context, date attendance.Date) ([]attendance.StaffID, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&leaveModel{}).
		Where("status = ? AND from_date <= ? AND to_date >= ?", string(attendance.LeaveApproved), dateValue(date), dateValue(date)).
		Distinct().Order("staff_id").Pluck("staff_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query leave: %w", err)
	}
	return toStaffIDs(ids), nil
}

func (s *Store) TeachingStaff(ctx context.Context) ([]attendance.StaffID, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&staffModel{}).
		Where("is_teaching = ?", true).Order("seq").Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query staff: %w", err)
	}
	return toStaffIDs(ids), nil
}

// ContactEmail returns the staff member's own email for staff, the
// registered contact for students.
func (s *Store) ContactEmail(ctx context.Context, subjectID attendance.SubjectID, kind attendance.SubjectKind) (string, error) {
	if kind == attendance.KindStaff {
		var m staffModel
		err := s.db.WithContext(ctx).Where("id = ?", string(subjectID)).Take(&m).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("failed to read staff email: %w", err)
		}
		if m.Email != "" {
			return m.Email, nil
		}
	}

	var c contactModel
	err := s.db.WithContext(ctx).Where("subject_id = ?", string(subjectID)).Take(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("contact for %s: %w", subjectID, attendance.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read contact: %w", err)
	}
	return c.Email, nil
}

func toStaffIDs(ids []string) []attendance.StaffID {
	out := make([]attendance.StaffID, 0, len(ids))
	for _, id := range ids {
		out = append(out, attendance.StaffID(id))
	}
	return out
}
