package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/warp/attendance-engine/attendance"
)

// =============================================================================
// AUDIT LOG (append-only)
// =============================================================================

func (q *queries) AppendAudit(ctx context.Context, e attendance.AuditEntry) error {
	var metadata sql.NullString
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode audit metadata: %w", err)
		}
		metadata = sql.NullString{String: string(b), Valid: true}
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO attendance_audit_log
		(id, attendance_type, record_id, old_status, new_status, reason, changed_by, changed_at, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.AttendanceType, e.RecordID, e.OldStatus, e.NewStatus, nullString(e.Reason),
		e.ChangedBy, formatTime(e.ChangedAt), metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (q *queries) ListAudit(ctx context.Context, f attendance.AuditFilter) ([]attendance.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.AttendanceType != "" {
		where = append(where, "attendance_type = ?")
		args = append(args, f.AttendanceType)
	}
	if f.RecordID != "" {
		where = append(where, "record_id = ?")
		args = append(args, f.RecordID)
	}
	if f.ChangedBy != "" {
		where = append(where, "changed_by = ?")
		args = append(args, f.ChangedBy)
	}
	if f.From != nil {
		where = append(where, "changed_at >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		where = append(where, "changed_at <= ?")
		args = append(args, formatTime(*f.To))
	}

	query := `SELECT id, attendance_type, record_id, old_status, new_status, reason, changed_by,
		changed_at, metadata_json FROM attendance_audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var out []attendance.AuditEntry
	for rows.Next() {
		var (
			e         attendance.AuditEntry
			reason    sql.NullString
			changedAt string
			metadata  sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.AttendanceType, &e.RecordID, &e.OldStatus, &e.NewStatus,
			&reason, &e.ChangedBy, &changedAt, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Reason = reason.String
		e.ChangedAt = parseTime(changedAt)
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode audit metadata: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// CALENDAR
// =============================================================================

func (q *queries) GetCalendarDay(ctx context.Context, date attendance.Date) (*attendance.CalendarDay, error) {
	var (
		day  attendance.CalendarDay
		note sql.NullString
	)
	err := q.q.QueryRowContext(ctx,
		`SELECT day_type, is_academic_day, note FROM calendar_days WHERE date = ?`, date.String(),
	).Scan(&day.DayType, &day.IsAcademicDay, &note)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read calendar day: %w", err)
	}
	day.Date = date
	day.Note = note.String
	return &day, nil
}

func (q *queries) SaveCalendarDay(ctx context.Context, day attendance.CalendarDay) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO calendar_days (date, day_type, is_academic_day, note)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			day_type = excluded.day_type,
			is_academic_day = excluded.is_academic_day,
			note = excluded.note`,
		day.Date.String(), day.DayType, day.IsAcademicDay, nullString(day.Note),
	)
	if err != nil {
		return fmt.Errorf("failed to save calendar day: %w", err)
	}
	return nil
}

// =============================================================================
// DISCREPANCIES
// =============================================================================

const discrepancyColumns = `id, student_id, date, type, details, severity, is_resolved, resolved_by, created_at`

func (q *queries) InsertDiscrepancy(ctx context.Context, d attendance.Discrepancy) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO attendance_discrepancies (`+discrepancyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.StudentID, d.Date.String(), d.Type, nullString(d.Details), d.Severity,
		d.IsResolved, nullString(d.ResolvedBy), formatTime(d.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: discrepancy for %s on %s", attendance.ErrConflict, d.StudentID, d.Date)
		}
		return fmt.Errorf("failed to insert discrepancy: %w", err)
	}
	return nil
}

func (q *queries) DiscrepancyExists(ctx context.Context, studentID attendance.SubjectID, date attendance.Date, typ attendance.DiscrepancyType) (bool, error) {
	var count int
	err := q.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM attendance_discrepancies
		WHERE student_id = ? AND date = ? AND type = ?`,
		studentID, date.String(), typ,
	).Scan(&count)
	return count > 0, err
}

func (q *queries) GetDiscrepancy(ctx context.Context, id attendance.DiscrepancyID) (*attendance.Discrepancy, error) {
	row := q.q.QueryRowContext(ctx,
		`SELECT `+discrepancyColumns+` FROM attendance_discrepancies WHERE id = ?`, id)
	d, err := scanDiscrepancy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, attendance.ErrNotFound
	}
	return d, err
}

func (q *queries) ListDiscrepancies(ctx context.Context, date attendance.Date) ([]attendance.Discrepancy, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+discrepancyColumns+` FROM attendance_discrepancies
		WHERE date = ? ORDER BY student_id`, date.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query discrepancies: %w", err)
	}
	defer rows.Close()

	var out []attendance.Discrepancy
	for rows.Next() {
		d, err := scanDiscrepancy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (q *queries) ResolveDiscrepancy(ctx context.Context, id attendance.DiscrepancyID, resolvedBy string) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE attendance_discrepancies SET is_resolved = TRUE, resolved_by = ? WHERE id = ?`,
		resolvedBy, id)
	if err != nil {
		return fmt.Errorf("failed to resolve discrepancy: %w", err)
	}
	return q.checkAffected(ctx, res, "attendance_discrepancies", string(id), attendance.ErrNotFound)
}

func scanDiscrepancy(row scanner) (*attendance.Discrepancy, error) {
	var (
		d                   attendance.Discrepancy
		date, createdAt     string
		details, resolvedBy sql.NullString
	)
	err := row.Scan(&d.ID, &d.StudentID, &date, &d.Type, &details, &d.Severity,
		&d.IsResolved, &resolvedBy, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan discrepancy: %w", err)
	}
	d.Date = parseDate(date)
	d.Details = details.String
	d.ResolvedBy = resolvedBy.String
	d.CreatedAt = parseTime(createdAt)
	return &d, nil
}

// =============================================================================
// POLICIES
// =============================================================================

func (q *queries) SavePolicy(ctx context.Context, p attendance.Policy) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO attendance_policies
		(id, name, rule_type, threshold, consequence_type, consequence_value, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			rule_type = excluded.rule_type,
			threshold = excluded.threshold,
			consequence_type = excluded.consequence_type,
			consequence_value = excluded.consequence_value,
			is_active = excluded.is_active`,
		p.ID, nullString(p.Name), p.RuleType, p.Threshold, p.ConsequenceType,
		nullString(p.ConsequenceValue), p.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to save policy: %w", err)
	}
	return nil
}

func (q *queries) ListPolicies(ctx context.Context, activeOnly bool) ([]attendance.Policy, error) {
	query := `SELECT id, name, rule_type, threshold, consequence_type, consequence_value, is_active
		FROM attendance_policies`
	if activeOnly {
		query += ` WHERE is_active = TRUE`
	}
	query += ` ORDER BY id`

	rows, err := q.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer rows.Close()

	var out []attendance.Policy
	for rows.Next() {
		var (
			p           attendance.Policy
			name, value sql.NullString
		)
		if err := rows.Scan(&p.ID, &name, &p.RuleType, &p.Threshold, &p.ConsequenceType, &value, &p.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		p.Name = name.String
		p.ConsequenceValue = value.String
		out = append(out, p)
	}
	return out, rows.Err()
}
