package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/rollcall"
	"github.com/warp/attendance-engine/substitution"
	"gorm.io/gorm"
)

// =============================================================================
// SUBSTITUTIONS
// =============================================================================

// Substitutions is the substitution.Store view of s.
func (s *Store) Substitutions() *Substitutions {
	return &Substitutions{conn: s.conn}
}

type Substitutions struct {
	*conn
}

var _ substitution.Store = (*Substitutions)(nil)

func (s *Substitutions) WithTx(ctx context.Context, fn func(substitution.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&subTx{conn: &conn{db: tx}})
	})
}

type subTx struct {
	*conn
}

func (t *subTx) WithTx(_ context.Context, fn func(substitution.Store) error) error {
	return fn(t)
}

func (c *conn) InsertSubstitution(ctx context.Context, s substitution.Substitution) error {
	m := fromSubstitution(s)
	if err := c.db.WithContext(ctx).Create(&m).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s already covers slot %s on %s",
				attendance.ErrConflict, s.SubstituteTeacherID, s.SlotID, s.Date)
		}
		return fmt.Errorf("failed to insert substitution: %w", err)
	}
	return nil
}

func (c *conn) GetSubstitution(ctx context.Context, id substitution.ID) (*substitution.Substitution, error) {
	var m substitutionModel
	err := c.db.WithContext(ctx).Where("id = ?", string(id)).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, attendance.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read substitution: %w", err)
	}
	s := m.toDomain()
	return &s, nil
}

func (c *conn) UpdateSubstitution(ctx context.Context, s substitution.Substitution, expected substitution.Status) error {
	res := c.db.WithContext(ctx).Model(&substitutionModel{}).
		Where("id = ? AND status = ?", string(s.ID), string(expected)).
		Updates(map[string]any{
			"status":     string(s.Status),
			"remarks":    s.Remarks,
			"decided_by": s.DecidedBy,
			"updated_at": s.UpdatedAt.UTC(),
		})
	if isUniqueViolation(res.Error) {
		return fmt.Errorf("%w: %s already covers slot %s on %s",
			attendance.ErrConflict, s.SubstituteTeacherID, s.SlotID, s.Date)
	}
	return c.checkAffected(ctx, res, &substitutionModel{}, "id = ?", []any{string(s.ID)}, attendance.ErrConcurrentModification)
}

func (c *conn) ListSubstitutionsByDate(ctx context.Context, date attendance.Date) ([]substitution.Substitution, error) {
	var rows []substitutionModel
	err := c.db.WithContext(ctx).Where("date = ?", dateValue(date)).
		Order("created_at").Order("id").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query substitutions: %w", err)
	}
	out := make([]substitution.Substitution, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.toDomain())
	}
	return out, nil
}

// =============================================================================
// ROLL CALLS
// =============================================================================

// RollCalls is the rollcall.Store view of s.
func (s *Store) RollCalls() *RollCalls {
	return &RollCalls{conn: s.conn}
}

type RollCalls struct {
	*conn
}

var _ rollcall.Store = (*RollCalls)(nil)

func (r *RollCalls) WithTx(ctx context.Context, fn func(rollcall.Store) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&rollCallTx{conn: &conn{db: tx}})
	})
}

type rollCallTx struct {
	*conn
}

func (t *rollCallTx) WithTx(_ context.Context, fn func(rollcall.Store) error) error {
	return fn(t)
}

func (c *conn) InsertRollCall(ctx context.Context, rc rollcall.RollCall, entries []rollcall.Entry) error {
	m := rollCallModel{
		ID: string(rc.ID), EventName: rc.EventName, Date: dateValue(rc.Date), StartTime: rc.StartTime.UTC(),
		EndTime: rc.EndTime, InitiatedBy: rc.InitiatedBy, Status: string(rc.Status),
	}
	if err := c.db.WithContext(ctx).Create(&m).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: roll call %s exists", attendance.ErrConflict, rc.ID)
		}
		return fmt.Errorf("failed to insert roll call: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}
	rows := make([]rollCallEntryModel, 0, len(entries))
	for _, e := range entries {
		e.RollCallID = rc.ID
		rows = append(rows, fromEntry(e))
	}
	if err := c.db.WithContext(ctx).CreateInBatches(rows, 200).Error; err != nil {
		return fmt.Errorf("failed to insert roll call entries: %w", err)
	}
	return nil
}

func (c *conn) GetRollCall(ctx context.Context, id rollcall.ID) (*rollcall.RollCall, error) {
	var m rollCallModel
	err := c.db.WithContext(ctx).Where("id = ?", string(id)).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, attendance.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read roll call: %w", err)
	}
	rc := m.toDomain()
	return &rc, nil
}

func (c *conn) ListActiveRollCalls(ctx context.Context) ([]rollcall.RollCall, error) {
	var rows []rollCallModel
	err := c.db.WithContext(ctx).Where("status = ?", string(rollcall.StatusActive)).
		Order("start_time").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query roll calls: %w", err)
	}
	out := make([]rollcall.RollCall, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.toDomain())
	}
	return out, nil
}

func (c *conn) CompleteRollCall(ctx context.Context, id rollcall.ID, endTime time.Time) error {
	res := c.db.WithContext(ctx).Model(&rollCallModel{}).
		Where("id = ? AND status = ?", string(id), string(rollcall.StatusActive)).
		Updates(map[string]any{"status": string(rollcall.StatusCompleted), "end_time": endTime.UTC()})
	return c.checkAffected(ctx, res, &rollCallModel{}, "id = ?", []any{string(id)}, attendance.ErrRollCallClosed)
}

func (c *conn) GetEntry(ctx context.Context, id rollcall.ID, person rollcall.PersonKey) (*rollcall.Entry, error) {
	var m rollCallEntryModel
	err := c.db.WithContext(ctx).
		Where("roll_call_id = ? AND person_kind = ? AND person_id = ?", string(id), string(person.Kind), string(person.ID)).
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, attendance.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read roll call entry: %w", err)
	}
	e := m.toDomain()
	return &e, nil
}

// UpdateEntry writes only while the parent roll call is active.
func (c *conn) UpdateEntry(ctx context.Context, e rollcall.Entry) error {
	active := c.db.Model(&rollCallModel{}).Select("1").
		Where("id = ? AND status = ?", string(e.RollCallID), string(rollcall.StatusActive))
	res := c.db.WithContext(ctx).Model(&rollCallEntryModel{}).
		Where("roll_call_id = ? AND person_kind = ? AND person_id = ?",
			string(e.RollCallID), string(e.PersonKind), string(e.PersonID)).
		Where("EXISTS (?)", active).
		Updates(map[string]any{
			"status":         string(e.Status),
			"location_found": e.LocationFound,
			"marked_at":      e.MarkedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update roll call entry: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	rc, err := c.GetRollCall(ctx, e.RollCallID)
	if err != nil {
		return err
	}
	if rc.Status != rollcall.StatusActive {
		return attendance.ErrRollCallClosed
	}
	return attendance.ErrNotFound
}

func (c *conn) ListEntries(ctx context.Context, id rollcall.ID) ([]rollcall.Entry, error) {
	var rows []rollCallEntryModel
	err := c.db.WithContext(ctx).Where("roll_call_id = ?", string(id)).Order("person_id, person_kind").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query roll call entries: %w", err)
	}
	out := make([]rollcall.Entry, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.toDomain())
	}
	return out, nil
}
