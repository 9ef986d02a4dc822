package memory

import (
	"context"
	"sort"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/substitution"
)

// Substitutions is the substitution.Store view of m.
func (m *Store) Substitutions() *Substitutions {
	return &Substitutions{root: m}
}

type Substitutions struct {
	root *Store
}

var _ substitution.Store = (*Substitutions)(nil)

func (s *Substitutions) WithTx(_ context.Context, fn func(substitution.Store) error) error {
	return s.root.run(func(st *state) error {
		return fn(&subTxView{state: st})
	})
}

type subTxView struct {
	*state
}

func (tv *subTxView) WithTx(_ context.Context, fn func(substitution.Store) error) error {
	return fn(tv)
}

func (s *Substitutions) FindDaily(ctx context.Context, subjectID attendance.SubjectID, kind attendance.SubjectKind, date attendance.Date) (*attendance.DailyRecord, error) {
	return s.root.FindDaily(ctx, subjectID, kind, date)
}

func (s *Substitutions) AppendAudit(ctx context.Context, entry attendance.AuditEntry) error {
	return s.root.AppendAudit(ctx, entry)
}

func (s *Substitutions) ListAudit(ctx context.Context, filter attendance.AuditFilter) ([]attendance.AuditEntry, error) {
	return s.root.ListAudit(ctx, filter)
}

func (s *Substitutions) InsertSubstitution(ctx context.Context, sub substitution.Substitution) error {
	s.root.mu.Lock()
	defer s.root.mu.Unlock()
	return s.root.st.InsertSubstitution(ctx, sub)
}

func (s *Substitutions) GetSubstitution(ctx context.Context, id substitution.ID) (*substitution.Substitution, error) {
	s.root.mu.RLock()
	defer s.root.mu.RUnlock()
	return s.root.st.GetSubstitution(ctx, id)
}

func (s *Substitutions) UpdateSubstitution(ctx context.Context, sub substitution.Substitution, expected substitution.Status) error {
	s.root.mu.Lock()
	defer s.root.mu.Unlock()
	return s.root.st.UpdateSubstitution(ctx, sub, expected)
}

func (s *Substitutions) ListSubstitutionsByDate(ctx context.Context, date attendance.Date) ([]substitution.Substitution, error) {
	s.root.mu.RLock()
	defer s.root.mu.RUnlock()
	return s.root.st.ListSubstitutionsByDate(ctx, date)
}

// =============================================================================
// STATE - Substitutions
// =============================================================================

func (s *state) InsertSubstitution(_ context.Context, sub substitution.Substitution) error {
	if sub.Status.Active() {
		for _, other := range s.substitutions {
			if other.Status.Active() &&
				other.SlotID == sub.SlotID &&
				other.Date.Equal(sub.Date) &&
				other.SubstituteTeacherID == sub.SubstituteTeacherID {
				return attendance.ErrConflict
			}
		}
	}
	s.substitutions[sub.ID] = sub
	return nil
}

func (s *state) GetSubstitution(_ context.Context, id substitution.ID) (*substitution.Substitution, error) {
	sub, ok := s.substitutions[id]
	if !ok {
		return nil, attendance.ErrNotFound
	}
	return &sub, nil
}

func (s *state) UpdateSubstitution(_ context.Context, sub substitution.Substitution, expected substitution.Status) error {
	cur, ok := s.substitutions[sub.ID]
	if !ok {
		return attendance.ErrNotFound
	}
	if cur.Status != expected {
		return attendance.ErrConcurrentModification
	}
	s.substitutions[sub.ID] = sub
	return nil
}

func (s *state) ListSubstitutionsByDate(_ context.Context, date attendance.Date) ([]substitution.Substitution, error) {
	var out []substitution.Substitution
	for _, sub := range s.substitutions {
		if sub.Date.Equal(date) {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
