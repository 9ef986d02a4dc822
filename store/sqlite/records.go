package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/warp/attendance-engine/attendance"
)

// =============================================================================
// DAILY RECORDS
// =============================================================================

const dailyColumns = `id, subject_id, subject_kind, date, status, marked_by, remarks,
	is_locked, version, created_at, updated_at`

func (q *queries) InsertDaily(ctx context.Context, rec attendance.DailyRecord) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO daily_attendance (`+dailyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SubjectID, rec.SubjectKind, rec.Date.String(), rec.Status, rec.MarkedBy,
		nullString(rec.Remarks), rec.IsLocked, rec.Version,
		formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			conflict := &attendance.ConflictError{
				Kind: attendance.RecordDaily, SubjectID: rec.SubjectID, Date: rec.Date,
			}
			if existing, ferr := q.FindDaily(ctx, rec.SubjectID, rec.SubjectKind, rec.Date); ferr == nil && existing != nil {
				conflict.ExistingID = existing.ID
			}
			return conflict
		}
		return fmt.Errorf("failed to insert daily record: %w", err)
	}
	return nil
}

func (q *queries) GetDaily(ctx context.Context, id attendance.RecordID) (*attendance.DailyRecord, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+dailyColumns+` FROM daily_attendance WHERE id = ?`, id)
	rec, err := scanDaily(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, attendance.ErrNotFound
	}
	return rec, err
}

func (q *queries) FindDaily(ctx context.Context, subjectID attendance.SubjectID, kind attendance.SubjectKind, date attendance.Date) (*attendance.DailyRecord, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT `+dailyColumns+` FROM daily_attendance
		WHERE subject_id = ? AND subject_kind = ? AND date = ?`,
		subjectID, kind, date.String())
	rec, err := scanDaily(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// UpdateDaily writes only when the stored version equals expectedVersion.
func (q *queries) UpdateDaily(ctx context.Context, rec attendance.DailyRecord, expectedVersion int) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE daily_attendance
		SET status = ?, marked_by = ?, remarks = ?, is_locked = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		rec.Status, rec.MarkedBy, nullString(rec.Remarks), rec.IsLocked, expectedVersion+1,
		formatTime(rec.UpdatedAt), rec.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update daily record: %w", err)
	}
	return q.checkAffected(ctx, res, "daily_attendance", string(rec.ID), attendance.ErrConcurrentModification)
}

func (q *queries) ListDailyByDate(ctx context.Context, date attendance.Date, kind attendance.SubjectKind) ([]attendance.DailyRecord, error) {
	if kind == "" {
		return q.queryDaily(ctx, `
			SELECT `+dailyColumns+` FROM daily_attendance
			WHERE date = ? ORDER BY subject_kind DESC, subject_id`, date.String())
	}
	return q.queryDaily(ctx, `
		SELECT `+dailyColumns+` FROM daily_attendance
		WHERE date = ? AND subject_kind = ? ORDER BY subject_id`, date.String(), kind)
}

func (q *queries) ListDailyBySubject(ctx context.Context, subjectID attendance.SubjectID, kind attendance.SubjectKind, r attendance.DateRange) ([]attendance.DailyRecord, error) {
	return q.queryDaily(ctx, `
		SELECT `+dailyColumns+` FROM daily_attendance
		WHERE subject_id = ? AND subject_kind = ? AND date >= ? AND date <= ?
		ORDER BY date`,
		subjectID, kind, r.From.String(), r.To.String())
}

func (q *queries) queryDaily(ctx context.Context, query string, args ...any) ([]attendance.DailyRecord, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily records: %w", err)
	}
	defer rows.Close()

	var out []attendance.DailyRecord
	for rows.Next() {
		rec, err := scanDaily(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanDaily(row scanner) (*attendance.DailyRecord, error) {
	var (
		rec                  attendance.DailyRecord
		date                 string
		remarks              sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&rec.ID, &rec.SubjectID, &rec.SubjectKind, &date, &rec.Status, &rec.MarkedBy,
		&remarks, &rec.IsLocked, &rec.Version, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan daily record: %w", err)
	}
	rec.Date = parseDate(date)
	rec.Remarks = remarks.String
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	return &rec, nil
}

// =============================================================================
// PERIOD RECORDS
// =============================================================================

const periodColumns = `id, student_id, class_id, slot_id, date, status, minutes_late,
	suspicion_flag, detailed_status, marked_by, is_locked, version, created_at, updated_at`

func (q *queries) InsertPeriod(ctx context.Context, rec attendance.PeriodRecord) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO period_attendance (`+periodColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.StudentID, rec.ClassID, rec.SlotID, rec.Date.String(), rec.Status, rec.MinutesLate,
		rec.SuspicionFlag, nullString(rec.DetailedStatus), rec.MarkedBy, rec.IsLocked, rec.Version,
		formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			conflict := &attendance.ConflictError{
				Kind: attendance.RecordPeriod, SubjectID: rec.StudentID, Date: rec.Date, SlotID: rec.SlotID,
			}
			if existing, ferr := q.FindPeriod(ctx, rec.StudentID, rec.SlotID, rec.Date); ferr == nil && existing != nil {
				conflict.ExistingID = existing.ID
			}
			return conflict
		}
		return fmt.Errorf("failed to insert period record: %w", err)
	}
	return nil
}

func (q *queries) GetPeriod(ctx context.Context, id attendance.RecordID) (*attendance.PeriodRecord, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+periodColumns+` FROM period_attendance WHERE id = ?`, id)
	rec, err := scanPeriod(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, attendance.ErrNotFound
	}
	return rec, err
}

func (q *queries) FindPeriod(ctx context.Context, studentID attendance.SubjectID, slotID attendance.SlotID, date attendance.Date) (*attendance.PeriodRecord, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT `+periodColumns+` FROM period_attendance
		WHERE student_id = ? AND slot_id = ? AND date = ?`,
		studentID, slotID, date.String())
	rec, err := scanPeriod(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (q *queries) UpdatePeriod(ctx context.Context, rec attendance.PeriodRecord, expectedVersion int) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE period_attendance
		SET status = ?, minutes_late = ?, suspicion_flag = ?, detailed_status = ?, marked_by = ?,
		    is_locked = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		rec.Status, rec.MinutesLate, rec.SuspicionFlag, nullString(rec.DetailedStatus), rec.MarkedBy,
		rec.IsLocked, expectedVersion+1, formatTime(rec.UpdatedAt), rec.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update period record: %w", err)
	}
	return q.checkAffected(ctx, res, "period_attendance", string(rec.ID), attendance.ErrConcurrentModification)
}

func (q *queries) ListPeriodByStudent(ctx context.Context, studentID attendance.SubjectID, r attendance.DateRange) ([]attendance.PeriodRecord, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+periodColumns+` FROM period_attendance
		WHERE student_id = ? AND date >= ? AND date <= ?
		ORDER BY date, slot_id`,
		studentID, r.From.String(), r.To.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query period records: %w", err)
	}
	defer rows.Close()

	var out []attendance.PeriodRecord
	for rows.Next() {
		rec, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func scanPeriod(row scanner) (*attendance.PeriodRecord, error) {
	var (
		rec                  attendance.PeriodRecord
		date                 string
		detailed             sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&rec.ID, &rec.StudentID, &rec.ClassID, &rec.SlotID, &date, &rec.Status, &rec.MinutesLate,
		&rec.SuspicionFlag, &detailed, &rec.MarkedBy, &rec.IsLocked, &rec.Version, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan period record: %w", err)
	}
	rec.Date = parseDate(date)
	rec.DetailedStatus = detailed.String
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	return &rec, nil
}
