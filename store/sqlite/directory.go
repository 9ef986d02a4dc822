package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/warp/attendance-engine/attendance"
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO timetable_slots
		(id, class_id, teacher_id, subject_id, day_of_week, period_number, start_time, end_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			class_id = excluded.class_id,
			teacher_id = excluded.teacher_id,
			subject_id = excluded.subject_id,
			day_of_week = excluded.day_of_week,
			period_number = excluded.period_number,
			start_time = excluded.start_time,
			end_time = excluded.end_time`,
		slot.ID, slot.ClassID, slot.TeacherID, nullString(slot.SubjectID), int(slot.DayOfWeek),
		slot.PeriodNumber, slot.StartTime.String(), slot.EndTime.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to save slot: %w", err)
	}
	return nil
}

func (s *Store) SaveLeave(ctx context.Context, l attendance.LeaveInterval) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leave_intervals (staff_id, from_date, to_date, status) VALUES (?, ?, ?, ?)`,
		l.StaffID, l.From.String(), l.To.String(), l.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to save leave: %w", err)
	}
	return nil
}

// SaveStaff adds or replaces a staff member. Enumeration order is insertion order.
func (s *Store) SaveStaff(ctx context.Context, m attendance.StaffMember) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO staff (id, name, email, is_teaching) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			is_teaching = excluded.is_teaching`,
		m.ID, m.Name, nullString(m.Email), m.IsTeaching,
	)
	if err != nil {
		return fmt.Errorf("failed to save staff: %w", err)
	}
	return nil
}

func (s *Store) SetContact(ctx context.Context, subjectID attendance.SubjectID, email string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contacts (subject_id, email) VALUES (?, ?)
		ON CONFLICT(subject_id) DO UPDATE SET email = excluded.email`,
		subjectID, email,
	)
	if err != nil {
		return fmt.Errorf("failed to save contact: %w", err)
	}
	return nil
}

func (s *Store) GetSlot(ctx context.Context, id attendance.SlotID) (*attendance.TimetableSlot, error) {
	var (
		slot       attendance.TimetableSlot
		subjectID  sql.NullString
		day        int
		start, end string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, class_id, teacher_id, subject_id, day_of_week, period_number, start_time, end_time
		FROM timetable_slots WHERE id = ?`, id,
	).Scan(&slot.ID, &slot.ClassID, &slot.TeacherID, &subjectID, &day, &slot.PeriodNumber, &start, &end)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("slot %s: %w", id, attendance.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read slot: %w", err)
	}
	slot.SubjectID = subjectID.String
	slot.DayOfWeek = time.Weekday(day)
	if slot.StartTime, err = attendance.ParseTimeOfDay(start); err != nil {
		return nil, fmt.Errorf("slot %s start_time: %w", id, err)
	}
	if slot.EndTime, err = attendance.ParseTimeOfDay(end); err != nil {
		return nil, fmt.Errorf("slot %s end_time: %w", id, err)
	}
	return &slot, nil
}

func (s *Store) FindTeachersAt(ctx context.Context, day time.Weekday, period int) ([]attendance.StaffID, error) {
	return s.staffIDs(ctx, `
		SELECT DISTINCT teacher_id FROM timetable_slots
		WHERE day_of_week = ? AND period_number = ? ORDER BY teacher_id`, int(day), period)
}

func (s *Store) ApprovedLeavesCovering(ctx context.Context, date attendance.Date) ([]attendance.StaffID, error) {
	return s.staffIDs(ctx, `
		SELECT DISTINCT staff_id FROM leave_intervals
		WHERE status = ? AND from_date <= ? AND to_date >= ? ORDER BY staff_id`,
		attendance.LeaveApproved, date.String(), date.String())
}

func (s *Store) TeachingStaff(ctx context.Context) ([]attendance.StaffID, error) {
	return s.staffIDs(ctx, `SELECT id FROM staff WHERE is_teaching = TRUE ORDER BY seq`)
}

func (s *Store) staffIDs(ctx context.Context, query string, args ...any) ([]attendance.StaffID, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query staff: %w", err)
	}
	defer rows.Close()

	var out []attendance.StaffID
	for rows.Next() {
		var id attendance.StaffID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan staff id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ContactEmail returns the staff member's own email for staff, the
// registered contact for students.
func (s *Store) ContactEmail(ctx context.Context, subjectID attendance.SubjectID, kind attendance.SubjectKind) (string, error) {
	if kind == attendance.KindStaff {
		var email sql.NullString
		err := s.db.QueryRowContext(ctx, `SELECT email FROM staff WHERE id = ?`, subjectID).Scan(&email)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("failed to read staff email: %w", err)
		}
		if email.String != "" {
			return email.String, nil
		}
	}

	var email string
	err := s.db.QueryRowContext(ctx, `SELECT email FROM contacts WHERE subject_id = ?`, subjectID).Scan(&email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("contact for %s: %w", subjectID, attendance.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read contact: %w", err)
	}
	return email, nil
}
