package gormstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/warp/attendance-engine/attendance"
	"gorm.io/gorm"
)

// =============================================================================
// DAILY RECORDS
// =============================================================================

func (c *conn) InsertDaily(ctx context.Context, rec attendance.DailyRecord) error {
	m := fromDaily(rec)
	if err := c.db.WithContext(ctx).Create(&m).Error; err != nil {
		if isUniqueViolation(err) {
			conflict := &attendance.ConflictError{Kind: attendance.RecordDaily, SubjectID: rec.SubjectID, Date: rec.Date}
			if existing, ferr := c.FindDaily(ctx, rec.SubjectID, rec.SubjectKind, rec.Date); ferr == nil && existing != nil {
				conflict.ExistingID = existing.ID
			}
			return conflict
		}
		return fmt.Errorf("failed to insert daily record: %w", err)
	}
	return nil
}

func (c *conn) GetDaily(ctx context.Context, id attendance.RecordID) (*attendance.DailyRecord, error) {
	var m dailyModel
	err := c.db.WithContext(ctx).Where("id = ?", string(id)).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, attendance.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read daily record: %w", err)
	}
	rec := m.toDomain()
	return &rec, nil
}

func (c *conn) FindDaily(ctx context.Context, subjectID attendance.SubjectID, kind attendance.SubjectKind, date attendance.Date) (*attendance.DailyRecord, error) {
	var m dailyModel
	err := c.db.WithContext(ctx).
		Where("subject_id = ? AND subject_kind = ? AND date = ?", string(subjectID), string(kind), dateValue(date)).
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read daily record: %w", err)
	}
	rec := m.toDomain()
	return &rec, nil
}

func (c *conn) UpdateDaily(ctx context.Context, rec attendance.DailyRecord, expectedVersion int) error {
	res := c.db.WithContext(ctx).Model(&dailyModel{}).
		Where("id = ? AND version = ?", string(rec.ID), expectedVersion).
		Updates(map[string]any{
			"status":     string(rec.Status),
			"marked_by":  rec.MarkedBy,
			"remarks":    rec.Remarks,
			"is_locked":  rec.IsLocked,
			"version":    expectedVersion + 1,
			"updated_at": rec.UpdatedAt.UTC(),
		})
	return c.checkAffected(ctx, res, &dailyModel{}, "id = ?", []any{string(rec.ID)}, attendance.ErrConcurrentModification)
}

func (c *conn) ListDailyByDate(ctx context.Context, date attendance.Date, kind attendance.SubjectKind) ([]attendance.DailyRecord, error) {
	q := c.db.WithContext(ctx).Where("date = ?", dateValue(date))
	if kind != "" {
		q = q.Where("subject_kind = ?", string(kind))
	}
	var rows []dailyModel
	if err := q.Order("subject_kind DESC").Order("subject_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query daily records: %w", err)
	}
	return dailyToDomain(rows), nil
}

func (c *conn) ListDailyBySubject(ctx context.Context, subjectID attendance.SubjectID, kind attendance.SubjectKind, r attendance.DateRange) ([]attendance.DailyRecord, error) {
	var rows []dailyModel
	err := c.db.WithContext(ctx).
		Where("subject_id = ? AND subject_kind = ? AND date >= ? AND date <= ?",
			string(subjectID), string(kind), dateValue(r.From), dateValue(r.To)).
		Order("date").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query daily records: %w", err)
	}
	return dailyToDomain(rows), nil
}

func dailyToDomain(rows []dailyModel) []attendance.DailyRecord {
	out := make([]attendance.DailyRecord, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.toDomain())
	}
	return out
}

// =============================================================================
// PERIOD RECORDS
// =============================================================================

func (c *conn) InsertPeriod(ctx context.Context, rec attendance.PeriodRecord) error {
	m := fromPeriod(rec)
	if err := c.db.WithContext(ctx).Create(&m).Error; err != nil {
		if isUniqueViolation(err) {
			conflict := &attendance.ConflictError{
				Kind: attendance.RecordPeriod, SubjectID: rec.StudentID, Date: rec.Date, SlotID: rec.SlotID,
			}
			if existing, ferr := c.FindPeriod(ctx, rec.StudentID, rec.SlotID, rec.Date); ferr == nil && existing != nil {
				conflict.ExistingID = existing.ID
			}
			return conflict
		}
		return fmt.Errorf("failed to insert period record: %w", err)
	}
	return nil
}

func (c *conn) GetPeriod(ctx context.Context, id attendance.RecordID) (*attendance.PeriodRecord, error) {
	var m periodModel
	err := c.db.WithContext(ctx).Where("id = ?", string(id)).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, attendance.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read period record: %w", err)
	}
	rec := m.toDomain()
	return &rec, nil
}

func (c *conn) FindPeriod(ctx context.Context, studentID attendance.SubjectID, slotID attendance.SlotID, date attendance.Date) (*attendance.PeriodRecord, error) {
	var m periodModel
	err := c.db.WithContext(ctx).
		Where("student_id = ? AND slot_id = ? AND date = ?", string(studentID), string(slotID), dateValue(date)).
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read period record: %w", err)
	}
	rec := m.toDomain()
	return &rec, nil
}

func (c *conn) UpdatePeriod(ctx context.Context, rec attendance.PeriodRecord, expectedVersion int) error {
	res := c.db.WithContext(ctx).Model(&periodModel{}).
		Where("id = ? AND version = ?", string(rec.ID), expectedVersion).
		Updates(map[string]any{
			"status":          string(rec.Status),
			"minutes_late":    rec.MinutesLate,
			"suspicion_flag":  string(rec.SuspicionFlag),
			"detailed_status": rec.DetailedStatus,
			"marked_by":       rec.MarkedBy,
			"is_locked":       rec.IsLocked,
			"version":         expectedVersion + 1,
			"updated_at":      rec.UpdatedAt.UTC(),
		})
	return c.checkAffected(ctx, res, &periodModel{}, "id = ?", []any{string(rec.ID)}, attendance.ErrConcurrentModification)
}

func (c *conn) ListPeriodByStudent(ctx context.Context, studentID attendance.SubjectID, r attendance.DateRange) ([]attendance.PeriodRecord, error) {
	var rows []periodModel
	err := c.db.WithContext(ctx).
		Where("student_id = ? AND date >= ? AND date <= ?", string(studentID), dateValue(r.From), dateValue(r.To)).
		Order("date").Order("slot_id").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query period records: %w", err)
	}
	out := make([]attendance.PeriodRecord, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.toDomain())
	}
	return out, nil
}
