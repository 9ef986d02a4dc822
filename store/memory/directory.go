package memory

import (
	"context"
	"fmt"
	"sort"
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

func (m *Store) SaveSlot(slot attendance.TimetableSlot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.slots[slot.ID] = slot
}

func (m *Store) SaveLeave(l attendance.LeaveInterval) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.leaves = append(m.st.leaves, l)
}

// SaveStaff adds or replaces a staff member. Enumeration order is insertion order.
func (m *Store) SaveStaff(s attendance.StaffMember) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, cur := range m.st.staff {
		if cur.ID == s.ID {
			m.st.staff[i] = s
			return
		}
	}
	m.st.staff = append(m.st.staff, s)
}

// SetContact sets the alert address for a student (usually a guardian).
func (m *Store) SetContact(subjectID attendance.SubjectID, email string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.contacts[subjectID] = email
}

func (m *Store) GetSlot(_ context.Context, id attendance.SlotID) (*attendance.TimetableSlot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	slot, ok := m.st.slots[id]
	if !ok {
		return nil, fmt.Errorf("slot %s: %w", id, attendance.ErrNotFound)
	}
	return &slot, nil
}

func (m *Store) FindTeachersAt(_ context.Context, day time.Weekday, period int) ([]attendance.StaffID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[attendance.StaffID]bool)
	var out []attendance.StaffID
	for _, slot := range m.st.slots {
		if slot.DayOfWeek == day && slot.PeriodNumber == period && !seen[slot.TeacherID] {
			seen[slot.TeacherID] = true
			out = append(out, slot.TeacherID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *Store) ApprovedLeavesCovering(_ context.Context, date attendance.Date) ([]attendance.StaffID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[attendance.StaffID]bool)
	var out []attendance.StaffID
	for _, l := range m.st.leaves {
		if l.Covers(date) && !seen[l.StaffID] {
			seen[l.StaffID] = true
			out = append(out, l.StaffID)
		}
	}
	return out, nil
}

func (m *Store) TeachingStaff(_ context.Context) ([]attendance.StaffID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []attendance.StaffID
	for _, s := range m.st.staff {
		if s.IsTeaching {
			out = append(out, s.ID)
		}
	}
	return out, nil
}

// ContactEmail returns the staff member's own email for staff, the
// registered contact for students.
func (m *Store) ContactEmail(_ context.Context, subjectID attendance.SubjectID, kind attendance.SubjectKind) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if kind == attendance.KindStaff {
		for _, s := range m.st.staff {
			if string(s.ID) == string(subjectID) && s.Email != "" {
				return s.Email, nil
			}
		}
	}
	if email, ok := m.st.contacts[subjectID]; ok {
		return email, nil
	}
	return "", fmt.Errorf("contact for %s: %w", subjectID, attendance.ErrNotFound)
}
