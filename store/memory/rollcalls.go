package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/rollcall"
)

// RollCalls is the rollcall.Store view of m.
func (m *Store) RollCalls() *RollCalls {
	return &RollCalls{root: m}
}

type RollCalls struct {
	root *Store
}

var _ rollcall.Store = (*RollCalls)(nil)

func (r *RollCalls) WithTx(_ context.Context, fn func(rollcall.Store) error) error {
	return r.root.run(func(st *state) error {
		return fn(&rollCallTxView{state: st})
	})
}

type rollCallTxView struct {
	*state
}

func (tv *rollCallTxView) WithTx(_ context.Context, fn func(rollcall.Store) error) error {
	return fn(tv)
}

func (r *RollCalls) ListDailyByDate(ctx context.Context, date attendance.Date, kind attendance.SubjectKind) ([]attendance.DailyRecord, error) {
	return r.root.ListDailyByDate(ctx, date, kind)
}

func (r *RollCalls) InsertRollCall(ctx context.Context, rc rollcall.RollCall, entries []rollcall.Entry) error {
	r.root.mu.Lock()
	defer r.root.mu.Unlock()
	return r.root.st.InsertRollCall(ctx, rc, entries)
}

func (r *RollCalls) GetRollCall(ctx context.Context, id rollcall.ID) (*rollcall.RollCall, error) {
	r.root.mu.RLock()
	defer r.root.mu.RUnlock()
	return r.root.st.GetRollCall(ctx, id)
}

func (r *RollCalls) ListActiveRollCalls(ctx context.Context) ([]rollcall.RollCall, error) {
	r.root.mu.RLock()
	defer r.root.mu.RUnlock()
	return r.root.st.ListActiveRollCalls(ctx)
}

func (r *RollCalls) CompleteRollCall(ctx context.Context, id rollcall.ID, endTime time.Time) error {
	r.root.mu.Lock()
	defer r.root.mu.Unlock()
	return r.root.st.CompleteRollCall(ctx, id, endTime)
}

func (r *RollCalls) GetEntry(ctx context.Context, id rollcall.ID, person rollcall.PersonKey) (*rollcall.Entry, error) {
	r.root.mu.RLock()
	defer r.root.mu.RUnlock()
	return r.root.st.GetEntry(ctx, id, person)
}

func (r *RollCalls) UpdateEntry(ctx context.Context, e rollcall.Entry) error {
	r.root.mu.Lock()
	defer r.root.mu.Unlock()
	return r.root.st.UpdateEntry(ctx, e)
}

func (r *RollCalls) ListEntries(ctx context.Context, id rollcall.ID) ([]rollcall.Entry, error) {
	r.root.mu.RLock()
	defer r.root.mu.RUnlock()
	return r.root.st.ListEntries(ctx, id)
}

// =============================================================================
// STATE - Roll calls
// =============================================================================

func (s *state) InsertRollCall(_ context.Context, rc rollcall.RollCall, entries []rollcall.Entry) error {
	if _, ok := s.rollCalls[rc.ID]; ok {
		return fmt.Errorf("%w: roll call %s exists", attendance.ErrConflict, rc.ID)
	}
	m := make(map[rollcall.PersonKey]rollcall.Entry, len(entries))
	for _, e := range entries {
		if _, ok := m[e.Key()]; ok {
			return fmt.Errorf("%w: duplicate roll call entry %s %s", attendance.ErrConflict, e.PersonKind, e.PersonID)
		}
		m[e.Key()] = e
	}
	s.rollCalls[rc.ID] = rc
	s.entries[rc.ID] = m
	return nil
}

func (s *state) GetRollCall(_ context.Context, id rollcall.ID) (*rollcall.RollCall, error) {
	rc, ok := s.rollCalls[id]
	if !ok {
		return nil, attendance.ErrNotFound
	}
	return &rc, nil
}

func (s *state) ListActiveRollCalls(_ context.Context) ([]rollcall.RollCall, error) {
	var out []rollcall.RollCall
	for _, rc := range s.rollCalls {
		if rc.Status == rollcall.StatusActive {
			out = append(out, rc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (s *state) CompleteRollCall(_ context.Context, id rollcall.ID, endTime time.Time) error {
	rc, ok := s.rollCalls[id]
	if !ok {
		return attendance.ErrNotFound
	}
	if rc.Status != rollcall.StatusActive {
		return attendance.ErrRollCallClosed
	}
	rc.Status = rollcall.StatusCompleted
	rc.EndTime = &endTime
	s.rollCalls[id] = rc
	return nil
}

func (s *state) GetEntry(_ context.Context, id rollcall.ID, person rollcall.PersonKey) (*rollcall.Entry, error) {
	e, ok := s.entries[id][person]
	if !ok {
		return nil, attendance.ErrNotFound
	}
	return &e, nil
}

func (s *state) UpdateEntry(_ context.Context, e rollcall.Entry) error {
	rc, ok := s.rollCalls[e.RollCallID]
	if !ok {
		return attendance.ErrNotFound
	}
	if rc.Status != rollcall.StatusActive {
		return attendance.ErrRollCallClosed
	}
	if _, ok := s.entries[e.RollCallID][e.Key()]; !ok {
		return attendance.ErrNotFound
	}
	s.entries[e.RollCallID][e.Key()] = e
	return nil
}

func (s *state) ListEntries(_ context.Context, id rollcall.ID) ([]rollcall.Entry, error) {
	out := make([]rollcall.Entry, 0, len(s.entries[id]))
	for _, e := range s.entries[id] {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PersonID != out[j].PersonID {
			return out[i].PersonID < out[j].PersonID
		}
		return out[i].PersonKind < out[j].PersonKind
	})
	return out, nil
}
