package gormstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/warp/attendance-engine/attendance"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// =============================================================================
// AUDIT LOG (append-only)
// =============================================================================

func (c *conn) AppendAudit(ctx context.Context, e attendance.AuditEntry) error {
	m := fromAudit(e)
	if err := c.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (c *conn) ListAudit(ctx context.Context, f attendance.AuditFilter) ([]attendance.AuditEntry, error) {
	q := c.db.WithContext(ctx).Model(&auditModel{})
	if f.AttendanceType != "" {
		q = q.Where("attendance_type = ?", string(f.AttendanceType))
	}
	if f.RecordID != "" {
		q = q.Where("record_id = ?", string(f.RecordID))
	}
	if f.ChangedBy != "" {
		q = q.Where("changed_by = ?", f.ChangedBy)
	}
	if f.From != nil {
		q = q.Where("changed_at >= ?", f.From.UTC())
	}
	if f.To != nil {
		q = q.Where("changed_at <= ?", f.To.UTC())
	}

	var rows []auditModel
	if err := q.Order("seq").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	out := make([]attendance.AuditEntry, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.toDomain())
	}
	return out, nil
}

// =============================================================================
// CALENDAR
// =============================================================================

func (c *conn) GetCalendarDay(ctx context.Context, date attendance.Date) (*attendance.CalendarDay, error) {
	var m calendarModel
	err := c.db.WithContext(ctx).Where("date = ?", dateValue(date)).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read calendar day: %w", err)
	}
	return &attendance.CalendarDay{
		Date: date, DayType: attendance.DayType(m.DayType), IsAcademicDay: m.IsAcademicDay, Note: m.Note,
	}, nil
}

func (c *conn) SaveCalendarDay(ctx context.Context, day attendance.CalendarDay) error {
	m := calendarModel{
		Date: dateValue(day.Date), DayType: string(day.DayType), IsAcademicDay: day.IsAcademicDay, Note: day.Note,
	}
	err := c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"day_type", "is_academic_day", "note"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("failed to save calendar day: %w", err)
	}
	return nil
}

// =============================================================================
// DISCREPANCIES
// =============================================================================

func (c *conn) InsertDiscrepancy(ctx context.Context, d attendance.Discrepancy) error {
	m := discrepancyModel{
		ID: string(d.ID), StudentID: string(d.StudentID), Date: dateValue(d.Date), Type: string(d.Type),
		Details: d.Details, Severity: string(d.Severity), IsResolved: d.IsResolved, ResolvedBy: d.ResolvedBy,
		CreatedAt: d.CreatedAt.UTC(),
	}
	if err := c.db.WithContext(ctx).Create(&m).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: discrepancy for %s on %s", attendance.ErrConflict, d.StudentID, d.Date)
		}
		return fmt.Errorf("failed to insert discrepancy: %w", err)
	}
	return nil
}

func (c *conn) DiscrepancyExists(ctx context.Context, studentID attendance.SubjectID, date attendance.Date, typ attendance.DiscrepancyType) (bool, error) {
	var n int64
	err := c.db.WithContext(ctx).Model(&discrepancyModel{}).
		Where("student_id = ? AND date = ? AND type = ?", string(studentID), dateValue(date), string(typ)).
		Count(&n).Error
	return n > 0, err
}

func (c *conn) GetDiscrepancy(ctx context.Context, id attendance.DiscrepancyID) (*attendance.Discrepancy, error) {
	var m discrepancyModel
	err := c.db.WithContext(ctx).Where("id = ?", string(id)).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, attendance.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read discrepancy: %w", err)
	}
	d := m.toDomain()
	return &d, nil
}

func (c *conn) ListDiscrepancies(ctx context.Context, date attendance.Date) ([]attendance.Discrepancy, error) {
	var rows []discrepancyModel
	err := c.db.WithContext(ctx).Where("date = ?", dateValue(date)).Order("student_id").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query discrepancies: %w", err)
	}
	out := make([]attendance.Discrepancy, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.toDomain())
	}
	return out, nil
}

func (c *conn) ResolveDiscrepancy(ctx context.Context, id attendance.DiscrepancyID, resolvedBy string) error {
	res := c.db.WithContext(ctx).Model(&discrepancyModel{}).Where("id = ?", string(id)).
		Updates(map[string]any{"is_resolved": true, "resolved_by": resolvedBy})
	return c.checkAffected(ctx, res, &discrepancyModel{}, "id = ?", []any{string(id)}, attendance.ErrNotFound)
}

// =============================================================================
// POLICIES
// =============================================================================

func (c *conn) SavePolicy(ctx context.Context, p attendance.Policy) error {
	m := policyModel{
		ID: string(p.ID), Name: p.Name, RuleType: string(p.RuleType), Threshold: p.Threshold,
		ConsequenceType: p.ConsequenceType, ConsequenceValue: p.ConsequenceValue, IsActive: p.IsActive,
	}
	err := c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "rule_type", "threshold", "consequence_type", "consequence_value", "is_active",
		}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("failed to save policy: %w", err)
	}
	return nil
}

func (c *conn) ListPolicies(ctx context.Context, activeOnly bool) ([]attendance.Policy, error) {
	q := c.db.WithContext(ctx).Model(&policyModel{})
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var rows []policyModel
	if err := q.Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	out := make([]attendance.Policy, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.toDomain())
	}
	return out, nil
}
