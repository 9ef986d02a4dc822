package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/rollcall"
)

// RollCalls is the rollcall.Store view of s. It shares s's connection.
func (s *Store) RollCalls() *RollCalls {
	return &RollCalls{queries: s.queries, db: s.db}
}

type RollCalls struct {
	*queries
	db *sql.DB
}

var _ rollcall.Store = (*RollCalls)(nil)

func (r *RollCalls) WithTx(ctx context.Context, fn func(rollcall.Store) error) error {
	return withTx(ctx, r.db, func(q *queries) error {
		return fn(&rollCallTx{queries: q})
	})
}

type rollCallTx struct {
	*queries
}

func (t *rollCallTx) WithTx(_ context.Context, fn func(rollcall.Store) error) error {
	return fn(t)
}

const rollCallColumns = `id, event_name, date, start_time, end_time, initiated_by, status`

// InsertRollCall writes the roll call and its snapshot. Callers wrap it in
// WithTx so the snapshot is all-or-nothing.
func (q *queries) InsertRollCall(ctx context.Context, rc rollcall.RollCall, entries []rollcall.Entry) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO emergency_roll_calls (`+rollCallColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rc.ID, rc.EventName, rc.Date.String(), formatTime(rc.StartTime), formatNullTime(rc.EndTime),
		rc.InitiatedBy, rc.Status,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: roll call %s exists", attendance.ErrConflict, rc.ID)
		}
		return fmt.Errorf("failed to insert roll call: %w", err)
	}

	for _, e := range entries {
		_, err := q.q.ExecContext(ctx, `
			INSERT INTO roll_call_entries
			(roll_call_id, person_id, person_kind, status, location_found, marked_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			rc.ID, e.PersonID, e.PersonKind, e.Status, nullString(e.LocationFound), formatNullTime(e.MarkedAt),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("%w: duplicate roll call entry %s %s", attendance.ErrConflict, e.PersonKind, e.PersonID)
			}
			return fmt.Errorf("failed to insert roll call entry %s %s: %w", e.PersonKind, e.PersonID, err)
		}
	}
	return nil
}

func (q *queries) GetRollCall(ctx context.Context, id rollcall.ID) (*rollcall.RollCall, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+rollCallColumns+` FROM emergency_roll_calls WHERE id = ?`, id)
	rc, err := scanRollCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, attendance.ErrNotFound
	}
	return rc, err
}

func (q *queries) ListActiveRollCalls(ctx context.Context) ([]rollcall.RollCall, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+rollCallColumns+` FROM emergency_roll_calls
		WHERE status = ? ORDER BY start_time`, rollcall.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to query roll calls: %w", err)
	}
	defer rows.Close()

	var out []rollcall.RollCall
	for rows.Next() {
		rc, err := scanRollCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rc)
	}
	return out, rows.Err()
}

func (q *queries) CompleteRollCall(ctx context.Context, id rollcall.ID, endTime time.Time) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE emergency_roll_calls SET status = ?, end_time = ?
		WHERE id = ? AND status = ?`,
		rollcall.StatusCompleted, formatTime(endTime), id, rollcall.StatusActive,
	)
	if err != nil {
		return fmt.Errorf("failed to complete roll call: %w", err)
	}
	return q.checkAffected(ctx, res, "emergency_roll_calls", string(id), attendance.ErrRollCallClosed)
}

func (q *queries) GetEntry(ctx context.Context, id rollcall.ID, person rollcall.PersonKey) (*rollcall.Entry, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT roll_call_id, person_id, person_kind, status, location_found, marked_at
		FROM roll_call_entries WHERE roll_call_id = ? AND person_kind = ? AND person_id = ?`,
		id, person.Kind, person.ID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, attendance.ErrNotFound
	}
	return e, err
}

// UpdateEntry writes only while the parent roll call is active.
func (q *queries) UpdateEntry(ctx context.Context, e rollcall.Entry) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE roll_call_entries SET status = ?, location_found = ?, marked_at = ?
		WHERE roll_call_id = ? AND person_kind = ? AND person_id = ?
		  AND EXISTS (SELECT 1 FROM emergency_roll_calls WHERE id = ? AND status = ?)`,
		e.Status, nullString(e.LocationFound), formatNullTime(e.MarkedAt),
		e.RollCallID, e.PersonKind, e.PersonID, e.RollCallID, rollcall.StatusActive,
	)
	if err != nil {
		return fmt.Errorf("failed to update roll call entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	rc, err := q.GetRollCall(ctx, e.RollCallID)
	if err != nil {
		return err
	}
	if rc.Status != rollcall.StatusActive {
		return attendance.ErrRollCallClosed
	}
	return attendance.ErrNotFound
}

func (q *queries) ListEntries(ctx context.Context, id rollcall.ID) ([]rollcall.Entry, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT roll_call_id, person_id, person_kind, status, location_found, marked_at
		FROM roll_call_entries WHERE roll_call_id = ? ORDER BY person_id, person_kind`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query roll call entries: %w", err)
	}
	defer rows.Close()

	var out []rollcall.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanRollCall(row scanner) (*rollcall.RollCall, error) {
	var (
		rc              rollcall.RollCall
		date, startTime string
		endTime         sql.NullString
	)
	err := row.Scan(&rc.ID, &rc.EventName, &date, &startTime, &endTime, &rc.InitiatedBy, &rc.Status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan roll call: %w", err)
	}
	rc.Date = parseDate(date)
	rc.StartTime = parseTime(startTime)
	rc.EndTime = parseNullTime(endTime)
	return &rc, nil
}

func scanEntry(row scanner) (*rollcall.Entry, error) {
	var (
		e                  rollcall.Entry
		location, markedAt sql.NullString
	)
	err := row.Scan(&e.RollCallID, &e.PersonID, &e.PersonKind, &e.Status, &location, &markedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan roll call entry: %w", err)
	}
	e.LocationFound = location.String
	e.MarkedAt = parseNullTime(markedAt)
	return &e, nil
}
