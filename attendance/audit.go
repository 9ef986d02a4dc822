package attendance

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// =============================================================================
// AUDIT TRAIL - Append-only explanation of every status change
// =============================================================================

// Trail writes audit entries. It has no update or delete path.
type Trail struct {
	log   AuditLog
	clock Clock
}

func NewTrail(log AuditLog, clock Clock) Trail {
	if clock == nil {
		clock = SystemClock{}
	}
	return Trail{log: log, clock: clock}
}

// With returns a trail writing to log, typically the transactional store
// handed out by WithTx, so the entry commits or rolls back with the record.
func (t Trail) With(log AuditLog) Trail {
	return Trail{log: log, clock: t.clock}
}

// Append records a single status change.
func (t Trail) Append(ctx context.Context, kind RecordKind, recordID RecordID, oldStatus, newStatus Status, reason, changedBy string) (AuditEntry, error) {
	return t.AppendEntry(ctx, AuditEntry{
		AttendanceType: kind,
		RecordID:       recordID,
		OldStatus:      oldStatus,
		NewStatus:      newStatus,
		Reason:         reason,
		ChangedBy:      changedBy,
	})
}

// AppendEntry stamps ID and ChangedAt on entry and stores it.
func (t Trail) AppendEntry(ctx context.Context, entry AuditEntry) (AuditEntry, error) {
	if entry.RecordID == "" {
		return AuditEntry{}, invalid("record_id", "required")
	}
	if entry.ChangedBy == "" {
		return AuditEntry{}, invalid("changed_by", "required")
	}
	entry.ID = newID()
	entry.ChangedAt = t.clock.Now().UTC()
	if err := t.log.AppendAudit(ctx, entry); err != nil {
		return AuditEntry{}, fmt.Errorf("failed to append audit entry: %w", err)
	}
	return entry, nil
}

// History returns entries matching filter in the order they were written.
func (t Trail) History(ctx context.Context, filter AuditFilter) ([]AuditEntry, error) {
	return t.log.ListAudit(ctx, filter)
}

// Matches reports whether e satisfies f. Shared by store implementations.
func (f AuditFilter) Matches(e AuditEntry) bool {
	if f.AttendanceType != "" && e.AttendanceType != f.AttendanceType {
		return false
	}
	if f.RecordID != "" && e.RecordID != f.RecordID {
		return false
	}
	if f.ChangedBy != "" && e.ChangedBy != f.ChangedBy {
		return false
	}
	if f.From != nil && e.ChangedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && e.ChangedAt.After(*f.To) {
		return false
	}
	return true
}

func newID() string { return uuid.NewString() }

// NewID exposes the engine's identifier scheme to sibling packages.
func NewID() string { return newID() }
