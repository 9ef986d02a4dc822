package substitution

import (
	"context"
	"fmt"

	"github.com/warp/attendance-engine/attendance"
)

// Config wires the Resolver's collaborators. Clock defaults to the system clock.
type Config struct {
	Store     Store
	Timetable attendance.TimetableProvider
	Leaves    attendance.LeaveProvider
	Staff     attendance.StaffDirectory
	Clock     attendance.Clock
}

type Resolver struct {
	store     Store
	timetable attendance.TimetableProvider
	leaves    attendance.LeaveProvider
	staff     attendance.StaffDirectory
	clock     attendance.Clock
}

func NewResolver(cfg Config) *Resolver {
	if cfg.Clock == nil {
		cfg.Clock = attendance.SystemClock{}
	}
	return &Resolver{
		store:     cfg.Store,
		timetable: cfg.Timetable,
		leaves:    cfg.Leaves,
		staff:     cfg.Staff,
		clock:     cfg.Clock,
	}
}

// =============================================================================
// SUGGEST
// =============================================================================

// SuggestSubstitute returns the first eligible teacher for slot on date.
// ok is false when every teacher is excluded.
func (r *Resolver) SuggestSubstitute(ctx context.Context, slotID attendance.SlotID, date attendance.Date) (attendance.StaffID, bool, error) {
	slot, err := r.timetable.GetSlot(ctx, slotID)
	if err != nil {
		return "", false, fmt.Errorf("failed to read slot %s: %w", slotID, err)
	}
	excluded, err := r.exclusions(ctx, *slot, date)
	if err != nil {
		return "", false, err
	}

	candidates, err := r.staff.TeachingStaff(ctx)
	if err != nil {
		return "", false, fmt.Errorf("failed to list teaching staff: %w", err)
	}
	for _, id := range candidates {
		if excluded[id] {
			continue
		}
		unavailable, err := r.absentToday(ctx, id, date)
		if err != nil {
			return "", false, err
		}
		if unavailable {
			continue
		}
		return id, true, nil
	}
	return "", false, nil
}

// exclusions collects sets a to d. Set e is checked per candidate.
func (r *Resolver) exclusions(ctx context.Context, slot attendance.TimetableSlot, date attendance.Date) (map[attendance.StaffID]bool, error) {
	excluded := make(map[attendance.StaffID]bool)
	excluded[slot.TeacherID] = true

	busy, err := r.timetable.FindTeachersAt(ctx, slot.DayOfWeek, slot.PeriodNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to read timetable: %w", err)
	}
	for _, id := range busy {
		excluded[id] = true
	}

	onLeave, err := r.leaves.ApprovedLeavesCovering(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("failed to read approved leave: %w", err)
	}
	for _, id := range onLeave {
		excluded[id] = true
	}

	subs, err := r.store.ListSubstitutionsByDate(ctx, date)
	if err != nil {
		return nil, err
	}
	for _, s := range subs {
		if !s.Status.Active() {
			continue
		}
		if s.SlotID == slot.ID {
			excluded[s.SubstituteTeacherID] = true
			continue
		}
		other, err := r.timetable.GetSlot(ctx, s.SlotID)
		if err != nil {
			return nil, fmt.Errorf("failed to read slot %s: %w", s.SlotID, err)
		}
		if other.DayOfWeek == slot.DayOfWeek && other.PeriodNumber == slot.PeriodNumber {
			excluded[s.SubstituteTeacherID] = true
		}
	}
	return excluded, nil
}

func (r *Resolver) absentToday(ctx context.Context, id attendance.StaffID, date attendance.Date) (bool, error) {
	rec, err := r.store.FindDaily(ctx, attendance.SubjectID(id), attendance.KindStaff, date)
	if err != nil {
		return false, err
	}
	return rec != nil && (rec.Status == attendance.StatusAbsent || rec.Status == attendance.StatusExcused), nil
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// CreateAutoSubstitution books the suggested substitute as Pending.
func (r *Resolver) CreateAutoSubstitution(ctx context.Context, originalTeacher attendance.StaffID, slotID attendance.SlotID, date attendance.Date) (Substitution, error) {
	if originalTeacher == "" {
		return Substitution{}, &attendance.ValidationError{Field: "original_teacher_id", Message: "required"}
	}
	substitute, ok, err := r.SuggestSubstitute(ctx, slotID, date)
	if err != nil {
		return Substitution{}, err
	}
	if !ok {
		return Substitution{}, fmt.Errorf("%w for slot %s on %s", attendance.ErrNoSubstituteAvailable, slotID, date)
	}

	now := r.clock.Now().UTC()
	sub := Substitution{
		ID:                  ID(attendance.NewID()),
		OriginalTeacherID:   originalTeacher,
		SubstituteTeacherID: substitute,
		SlotID:              slotID,
		Date:                date,
		Status:              StatusPending,
		Remarks:             "auto-generated",
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	err = r.store.WithTx(ctx, func(tx Store) error {
		if err := tx.InsertSubstitution(ctx, sub); err != nil {
			return err
		}
		return r.audit(ctx, tx, sub, "", "auto-generated", "system")
	})
	if err != nil {
		return Substitution{}, err
	}
	return sub, nil
}

// Confirm moves a Pending substitution to Confirmed.
func (r *Resolver) Confirm(ctx context.Context, id ID, actor string) (Substitution, error) {
	return r.decide(ctx, id, StatusConfirmed, actor, "confirmed")
}

// Reject moves a Pending substitution to Rejected, releasing the substitute.
func (r *Resolver) Reject(ctx context.Context, id ID, actor, reason string) (Substitution, error) {
	if reason == "" {
		reason = "rejected"
	}
	return r.decide(ctx, id, StatusRejected, actor, reason)
}

func (r *Resolver) decide(ctx context.Context, id ID, to Status, actor, reason string) (Substitution, error) {
	if actor == "" {
		return Substitution{}, &attendance.ValidationError{Field: "changed_by", Message: "required"}
	}
	var out Substitution
	err := r.store.WithTx(ctx, func(tx Store) error {
		cur, err := tx.GetSubstitution(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status != StatusPending {
			return fmt.Errorf("%w: substitution %s is %s", attendance.ErrInvalidTransition, id, cur.Status)
		}
		out = *cur
		out.Status = to
		out.DecidedBy = actor
		out.UpdatedAt = r.clock.Now().UTC()
		if to == StatusRejected {
			out.Remarks = reason
		}
		if err := tx.UpdateSubstitution(ctx, out, cur.Status); err != nil {
			return err
		}
		return r.audit(ctx, tx, out, cur.Status, reason, actor)
	})
	if err != nil {
		return Substitution{}, err
	}
	return out, nil
}

func (r *Resolver) audit(ctx context.Context, tx Store, s Substitution, old Status, reason, actor string) error {
	_, err := attendance.NewTrail(tx, r.clock).AppendEntry(ctx, attendance.AuditEntry{
		AttendanceType: attendance.RecordSubstitution,
		RecordID:       attendance.RecordID(s.ID),
		OldStatus:      attendance.Status(old),
		NewStatus:      attendance.Status(s.Status),
		Reason:         reason,
		ChangedBy:      actor,
		Metadata: map[string]string{
			"slot_id":    string(s.SlotID),
			"date":       s.Date.String(),
			"substitute": string(s.SubstituteTeacherID),
		},
	})
	return err
}

// ForDate lists substitutions on date in every status.
func (r *Resolver) ForDate(ctx context.Context, date attendance.Date) ([]Substitution, error) {
	return r.store.ListSubstitutionsByDate(ctx, date)
}

func (r *Resolver) Get(ctx context.Context, id ID) (Substitution, error) {
	s, err := r.store.GetSubstitution(ctx, id)
	if err != nil {
		return Substitution{}, err
	}
	return *s, nil
}
