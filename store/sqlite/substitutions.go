package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/substitution"
)

// Substitutions is the substitution.Store view of s. It shares s's connection.
func (s *Store) Substitutions() *Substitutions {
	return &Substitutions{queries: s.queries, db: s.db}
}

type Substitutions struct {
	*queries
	db *sql.DB
}

var _ substitution.Store = (*Substitutions)(nil)

func (s *Substitutions) WithTx(ctx context.Context, fn func(substitution.Store) error) error {
	return withTx(ctx, s.db, func(q *queries) error {
		return fn(&subTx{queries: q})
	})
}

type subTx struct {
	*queries
}

func (t *subTx) WithTx(_ context.Context, fn func(substitution.Store) error) error {
	return fn(t)
}

const substitutionColumns = `id, original_teacher_id, substitute_teacher_id, slot_id, date, status,
	remarks, decided_by, created_at, updated_at`

func (q *queries) InsertSubstitution(ctx context.Context, s substitution.Substitution) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO substitutions (`+substitutionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.OriginalTeacherID, s.SubstituteTeacherID, s.SlotID, s.Date.String(), s.Status,
		nullString(s.Remarks), nullString(s.DecidedBy), formatTime(s.CreatedAt), formatTime(s.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s already covers slot %s on %s",
				attendance.ErrConflict, s.SubstituteTeacherID, s.SlotID, s.Date)
		}
		return fmt.Errorf("failed to insert substitution: %w", err)
	}
	return nil
}

func (q *queries) GetSubstitution(ctx context.Context, id substitution.ID) (*substitution.Substitution, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+substitutionColumns+` FROM substitutions WHERE id = ?`, id)
	s, err := scanSubstitution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, attendance.ErrNotFound
	}
	return s, err
}

// UpdateSubstitution writes only when the stored status equals expected.
func (q *queries) UpdateSubstitution(ctx context.Context, s substitution.Substitution, expected substitution.Status) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE substitutions
		SET status = ?, remarks = ?, decided_by = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		s.Status, nullString(s.Remarks), nullString(s.DecidedBy), formatTime(s.UpdatedAt), s.ID, expected,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s already covers slot %s on %s",
				attendance.ErrConflict, s.SubstituteTeacherID, s.SlotID, s.Date)
		}
		return fmt.Errorf("failed to update substitution: %w", err)
	}
	return q.checkAffected(ctx, res, "substitutions", string(s.ID), attendance.ErrConcurrentModification)
}

func (q *queries) ListSubstitutionsByDate(ctx context.Context, date attendance.Date) ([]substitution.Substitution, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+substitutionColumns+` FROM substitutions
		WHERE date = ? ORDER BY created_at, id`, date.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query substitutions: %w", err)
	}
	defer rows.Close()

	var out []substitution.Substitution
	for rows.Next() {
		s, err := scanSubstitution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func scanSubstitution(row scanner) (*substitution.Substitution, error) {
	var (
		s                    substitution.Substitution
		date                 string
		remarks, decidedBy   sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&s.ID, &s.OriginalTeacherID, &s.SubstituteTeacherID, &s.SlotID, &date, &s.Status,
		&remarks, &decidedBy, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan substitution: %w", err)
	}
	s.Date = parseDate(date)
	s.Remarks = remarks.String
	s.DecidedBy = decidedBy.String
	s.CreatedAt = parseTime(createdAt)
	s.UpdatedAt = parseTime(updatedAt)
	return &s, nil
}
