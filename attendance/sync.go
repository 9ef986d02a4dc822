package attendance

import (
	"context"
	"fmt"
	"log"
)

// =============================================================================
// AUTHORITATIVE SYNCS - Status set by an approved workflow, then locked
// =============================================================================
//
// An approved absence, a school-business assignment or an approved staff leave
// is authoritative: the daily record is created or moved to the matching
// status and locked, so that ordinary updates can no longer revert it.
// Records that are already locked are left untouched.

// ApplyApprovedAbsence makes the subject's daily record excused and locked.
// applied is false when an existing locked record was left as it was.
func (l *Ledger) ApplyApprovedAbsence(ctx context.Context, subjectID SubjectID, kind SubjectKind, date Date, actor, reason string) (rec DailyRecord, applied bool, err error) {
	if reason == "" {
		reason = "approved absence"
	}
	if err := requireWorkingDay(ctx, l.calendar, date); err != nil {
		return DailyRecord{}, false, err
	}
	return l.applyLocked(ctx, subjectID, kind, date, StatusExcused, actor, reason, "approved_absence")
}

// SyncSchoolBusiness marks subjects as school_business and locks their
// records. Per-subject failures are logged and skipped; the count of records
// changed is returned.
func (l *Ledger) SyncSchoolBusiness(ctx context.Context, kind SubjectKind, date Date, subjects []SubjectID, actor, reason string) (int, error) {
	if err := validateKind(kind); err != nil {
		return 0, err
	}
	if reason == "" {
		reason = "school business"
	}
	if err := requireWorkingDay(ctx, l.calendar, date); err != nil {
		return 0, err
	}

	count := 0
	for _, id := range subjects {
		_, applied, err := l.applyLocked(ctx, id, kind, date, StatusSchoolBusiness, actor, reason, "school_business")
		if err != nil {
			log.Printf("[Ledger] School business sync skipped %s on %s: %v", id, date, err)
			continue
		}
		if applied {
			count++
		}
	}
	return count, nil
}

// SyncApprovedLeaves excuses and locks the daily record of every staff member
// whose approved leave covers date.
func (l *Ledger) SyncApprovedLeaves(ctx context.Context, date Date, leaves LeaveProvider, actor string) (int, error) {
	if err := requireWorkingDay(ctx, l.calendar, date); err != nil {
		return 0, err
	}
	staff, err := leaves.ApprovedLeavesCovering(ctx, date)
	if err != nil {
		return 0, fmt.Errorf("failed to read approved leave: %w", err)
	}

	count := 0
	for _, id := range staff {
		_, applied, err := l.applyLocked(ctx, SubjectID(id), KindStaff, date, StatusExcused, actor, "approved leave", "leave_sync")
		if err != nil {
			log.Printf("[Ledger] Leave sync skipped %s on %s: %v", id, date, err)
			continue
		}
		if applied {
			count++
		}
	}
	return count, nil
}

func (l *Ledger) applyLocked(ctx context.Context, subjectID SubjectID, kind SubjectKind, date Date, status Status, actor, reason, source string) (DailyRecord, bool, error) {
	if subjectID == "" {
		return DailyRecord{}, false, invalid("subject_id", "required")
	}
	if err := validateKind(kind); err != nil {
		return DailyRecord{}, false, err
	}
	if actor == "" {
		return DailyRecord{}, false, invalid("changed_by", "required")
	}

	var (
		out     DailyRecord
		applied bool
	)
	err := l.store.WithTx(ctx, func(tx Store) error {
		trail := l.trail.With(tx)
		entry := AuditEntry{
			AttendanceType: RecordDaily,
			NewStatus:      status,
			Reason:         reason,
			ChangedBy:      actor,
			Metadata:       map[string]string{"source": source},
		}

		existing, err := tx.FindDaily(ctx, subjectID, kind, date)
		if err != nil {
			return err
		}
		if existing == nil {
			out = l.newDaily(MarkDailyInput{
				SubjectID: subjectID,
				Kind:      kind,
				Date:      date,
				Status:    status,
				MarkedBy:  actor,
				Remarks:   reason,
			}, true)
			if err := tx.InsertDaily(ctx, out); err != nil {
				return err
			}
			entry.RecordID = out.ID
			entry.OldStatus = StatusNone
			applied = true
			_, err = trail.AppendEntry(ctx, entry)
			return err
		}

		out = *existing
		if existing.IsLocked {
			return nil
		}
		out.Status = status
		out.IsLocked = true
		if err := l.writeDaily(ctx, tx, &out, existing.Version); err != nil {
			return err
		}
		entry.RecordID = out.ID
		entry.OldStatus = existing.Status
		applied = true
		_, err = trail.AppendEntry(ctx, entry)
		return err
	})
	if err != nil {
		return DailyRecord{}, false, err
	}
	return out, applied, nil
}
