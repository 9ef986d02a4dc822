// Package memory provides an in-memory implementation of every store the
// engine uses, for tests and local development.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/rollcall"
	"github.com/warp/attendance-engine/substitution"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Store implements attendance.Store. Substitutions and RollCalls return views
// over the same data and lock, so one transaction can span all three.
type Store struct {
	mu sync.RWMutex
	st *state
}

var _ attendance.Store = (*Store)(nil)

func New() *Store {
	return &Store{st: newState()}
}

type dailyKey struct {
	subject attendance.SubjectID
	kind    attendance.SubjectKind
	date    attendance.Date
}

type periodKey struct {
	student attendance.SubjectID
	slot    attendance.SlotID
	date    attendance.Date
}

type discrepancyKey struct {
	student attendance.SubjectID
	date    attendance.Date
	typ     attendance.DiscrepancyType
}

// state holds all data. Its methods assume the caller holds the lock.
type state struct {
	daily         map[attendance.RecordID]attendance.DailyRecord
	dailyIdx      map[dailyKey]attendance.RecordID
	period        map[attendance.RecordID]attendance.PeriodRecord
	periodIdx     map[periodKey]attendance.RecordID
	audit         []attendance.AuditEntry
	calendar      map[attendance.Date]attendance.CalendarDay
	discrepancies map[attendance.DiscrepancyID]attendance.Discrepancy
	discIdx       map[discrepancyKey]attendance.DiscrepancyID
	policies      map[attendance.PolicyID]attendance.Policy

	substitutions map[substitution.ID]substitution.Substitution
	rollCalls     map[rollcall.ID]rollcall.RollCall
	entries       map[rollcall.ID]map[rollcall.PersonKey]rollcall.Entry

	slots    map[attendance.SlotID]attendance.TimetableSlot
	leaves   []attendance.LeaveInterval
	staff    []attendance.StaffMember
	contacts map[attendance.SubjectID]string
}

func newState() *state {
	return &state{
		daily:         make(map[attendance.RecordID]attendance.DailyRecord),
		dailyIdx:      make(map[dailyKey]attendance.RecordID),
		period:        make(map[attendance.RecordID]attendance.PeriodRecord),
		periodIdx:     make(map[periodKey]attendance.RecordID),
		calendar:      make(map[attendance.Date]attendance.CalendarDay),
		discrepancies: make(map[attendance.DiscrepancyID]attendance.Discrepancy),
		discIdx:       make(map[discrepancyKey]attendance.DiscrepancyID),
		policies:      make(map[attendance.PolicyID]attendance.Policy),
		substitutions: make(map[substitution.ID]substitution.Substitution),
		rollCalls:     make(map[rollcall.ID]rollcall.RollCall),
		entries:       make(map[rollcall.ID]map[rollcall.PersonKey]rollcall.Entry),
		slots:         make(map[attendance.SlotID]attendance.TimetableSlot),
		contacts:      make(map[attendance.SubjectID]string),
	}
}

// clone copies every map and slice. Records are values, so a shallow copy
// of each collection is enough.
func (s *state) clone() *state {
	c := newState()
	for k, v := range s.daily {
		c.daily[k] = v
	}
	for k, v := range s.dailyIdx {
		c.dailyIdx[k] = v
	}
	for k, v := range s.period {
		c.period[k] = v
	}
	for k, v := range s.periodIdx {
		c.periodIdx[k] = v
	}
	c.audit = append([]attendance.AuditEntry{}, s.audit...)
	for k, v := range s.calendar {
		c.calendar[k] = v
	}
	for k, v := range s.discrepancies {
		c.discrepancies[k] = v
	}
	for k, v := range s.discIdx {
		c.discIdx[k] = v
	}
	for k, v := range s.policies {
		c.policies[k] = v
	}
	for k, v := range s.substitutions {
		c.substitutions[k] = v
	}
	for k, v := range s.rollCalls {
		c.rollCalls[k] = v
	}
	for k, v := range s.entries {
		m := make(map[rollcall.PersonKey]rollcall.Entry, len(v))
		for pk, pv := range v {
			m[pk] = pv
		}
		c.entries[k] = m
	}
	for k, v := range s.slots {
		c.slots[k] = v
	}
	c.leaves = append([]attendance.LeaveInterval{}, s.leaves...)
	c.staff = append([]attendance.StaffMember{}, s.staff...)
	for k, v := range s.contacts {
		c.contacts[k] = v
	}
	return c
}

// =============================================================================
// TRANSACTIONS - Snapshot + rollback on error
// =============================================================================

// run executes fn under the write lock and restores the snapshot if fn fails.
func (m *Store) run(fn func(*state) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(m.st); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Store) WithTx(_ context.Context, fn func(attendance.Store) error) error {
	return m.run(func(st *state) error {
		return fn(&txView{state: st})
	})
}

// txView runs on the locked state. Nested WithTx joins the outer transaction.
type txView struct {
	*state
}

func (tv *txView) WithTx(_ context.Context, fn func(attendance.Store) error) error {
	return fn(tv)
}

// =============================================================================
// LOCKED ACCESSORS
// =============================================================================

func (m *Store) InsertDaily(ctx context.Context, rec attendance.DailyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.InsertDaily(ctx, rec)
}

func (m *Store) GetDaily(ctx context.Context, id attendance.RecordID) (*attendance.DailyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetDaily(ctx, id)
}

func (m *Store) FindDaily(ctx context.Context, subjectID attendance.SubjectID, kind attendance.SubjectKind, date attendance.Date) (*attendance.DailyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.FindDaily(ctx, subjectID, kind, date)
}

func (m *Store) UpdateDaily(ctx context.Context, rec attendance.DailyRecord, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.UpdateDaily(ctx, rec, expectedVersion)
}

func (m *Store) ListDailyByDate(ctx context.Context, date attendance.Date, kind attendance.SubjectKind) ([]attendance.DailyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListDailyByDate(ctx, date, kind)
}

func (m *Store) ListDailyBySubject(ctx context.Context, subjectID attendance.SubjectID, kind attendance.SubjectKind, r attendance.DateRange) ([]attendance.DailyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListDailyBySubject(ctx, subjectID, kind, r)
}

func (m *Store) InsertPeriod(ctx context.Context, rec attendance.PeriodRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.InsertPeriod(ctx, rec)
}

func (m *Store) GetPeriod(ctx context.Context, id attendance.RecordID) (*attendance.PeriodRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetPeriod(ctx, id)
}

func (m *Store) FindPeriod(ctx context.Context, studentID attendance.SubjectID, slotID attendance.SlotID, date attendance.Date) (*attendance.PeriodRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.FindPeriod(ctx, studentID, slotID, date)
}

func (m *Store) UpdatePeriod(ctx context.Context, rec attendance.PeriodRecord, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.UpdatePeriod(ctx, rec, expectedVersion)
}

func (m *Store) ListPeriodByStudent(ctx context.Context, studentID attendance.SubjectID, r attendance.DateRange) ([]attendance.PeriodRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListPeriodByStudent(ctx, studentID, r)
}

func (m *Store) AppendAudit(ctx context.Context, entry attendance.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.AppendAudit(ctx, entry)
}

func (m *Store) ListAudit(ctx context.Context, filter attendance.AuditFilter) ([]attendance.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListAudit(ctx, filter)
}

func (m *Store) GetCalendarDay(ctx context.Context, date attendance.Date) (*attendance.CalendarDay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetCalendarDay(ctx, date)
}

func (m *Store) SaveCalendarDay(ctx context.Context, day attendance.CalendarDay) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveCalendarDay(ctx, day)
}

func (m *Store) InsertDiscrepancy(ctx context.Context, d attendance.Discrepancy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.InsertDiscrepancy(ctx, d)
}

func (m *Store) DiscrepancyExists(ctx context.Context, studentID attendance.SubjectID, date attendance.Date, typ attendance.DiscrepancyType) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.DiscrepancyExists(ctx, studentID, date, typ)
}

func (m *Store) GetDiscrepancy(ctx context.Context, id attendance.DiscrepancyID) (*attendance.Discrepancy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetDiscrepancy(ctx, id)
}

func (m *Store) ListDiscrepancies(ctx context.Context, date attendance.Date) ([]attendance.Discrepancy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListDiscrepancies(ctx, date)
}

func (m *Store) ResolveDiscrepancy(ctx context.Context, id attendance.DiscrepancyID, resolvedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ResolveDiscrepancy(ctx, id, resolvedBy)
}

func (m *Store) SavePolicy(ctx context.Context, p attendance.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SavePolicy(ctx, p)
}

func (m *Store) ListPolicies(ctx context.Context, activeOnly bool) ([]attendance.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListPolicies(ctx, activeOnly)
}

// =============================================================================
// STATE - Daily records
// =============================================================================

func (s *state) InsertDaily(_ context.Context, rec attendance.DailyRecord) error {
	k := dailyKey{rec.SubjectID, rec.SubjectKind, rec.Date}
	if existing, ok := s.dailyIdx[k]; ok {
		return &attendance.ConflictError{
			Kind:       attendance.RecordDaily,
			SubjectID:  rec.SubjectID,
			Date:       rec.Date,
			ExistingID: existing,
		}
	}
	s.daily[rec.ID] = rec
	s.dailyIdx[k] = rec.ID
	return nil
}

func (s *state) GetDaily(_ context.Context, id attendance.RecordID) (*attendance.DailyRecord, error) {
	rec, ok := s.daily[id]
	if !ok {
		return nil, attendance.ErrNotFound
	}
	return &rec, nil
}

func (s *state) FindDaily(_ context.Context, subjectID attendance.SubjectID, kind attendance.SubjectKind, date attendance.Date) (*attendance.DailyRecord, error) {
	id, ok := s.dailyIdx[dailyKey{subjectID, kind, date}]
	if !ok {
		return nil, nil
	}
	rec := s.daily[id]
	return &rec, nil
}

func (s *state) UpdateDaily(_ context.Context, rec attendance.DailyRecord, expectedVersion int) error {
	cur, ok := s.daily[rec.ID]
	if !ok {
		return attendance.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return attendance.ErrConcurrentModification
	}
	// Identity fields are immutable.
	rec.SubjectID, rec.SubjectKind, rec.Date, rec.CreatedAt = cur.SubjectID, cur.SubjectKind, cur.Date, cur.CreatedAt
	rec.Version = expectedVersion + 1
	s.daily[rec.ID] = rec
	return nil
}

func (s *state) ListDailyByDate(_ context.Context, date attendance.Date, kind attendance.SubjectKind) ([]attendance.DailyRecord, error) {
	var out []attendance.DailyRecord
	for _, rec := range s.daily {
		if rec.Date.Equal(date) && (kind == "" || rec.SubjectKind == kind) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubjectKind != out[j].SubjectKind {
			return out[i].SubjectKind > out[j].SubjectKind // students first
		}
		return out[i].SubjectID < out[j].SubjectID
	})
	return out, nil
}

func (s *state) ListDailyBySubject(_ context.Context, subjectID attendance.SubjectID, kind attendance.SubjectKind, r attendance.DateRange) ([]attendance.DailyRecord, error) {
	var out []attendance.DailyRecord
	for _, rec := range s.daily {
		if rec.SubjectID == subjectID && rec.SubjectKind == kind && r.Contains(rec.Date) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// =============================================================================
// STATE - Period records
// =============================================================================

func (s *state) InsertPeriod(_ context.Context, rec attendance.PeriodRecord) error {
	k := periodKey{rec.StudentID, rec.SlotID, rec.Date}
	if existing, ok := s.periodIdx[k]; ok {
		return &attendance.ConflictError{
			Kind:       attendance.RecordPeriod,
			SubjectID:  rec.StudentID,
			Date:       rec.Date,
			SlotID:     rec.SlotID,
			ExistingID: existing,
		}
	}
	s.period[rec.ID] = rec
	s.periodIdx[k] = rec.ID
	return nil
}

func (s *state) GetPeriod(_ context.Context, id attendance.RecordID) (*attendance.PeriodRecord, error) {
	rec, ok := s.period[id]
	if !ok {
		return nil, attendance.ErrNotFound
	}
	return &rec, nil
}

func (s *state) FindPeriod(_ context.Context, studentID attendance.SubjectID, slotID attendance.SlotID, date attendance.Date) (*attendance.PeriodRecord, error) {
	id, ok := s.periodIdx[periodKey{studentID, slotID, date}]
	if !ok {
		return nil, nil
	}
	rec := s.period[id]
	return &rec, nil
}

func (s *state) UpdatePeriod(_ context.Context, rec attendance.PeriodRecord, expectedVersion int) error {
	cur, ok := s.period[rec.ID]
	if !ok {
		return attendance.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return attendance.ErrConcurrentModification
	}
	rec.StudentID, rec.SlotID, rec.Date, rec.CreatedAt = cur.StudentID, cur.SlotID, cur.Date, cur.CreatedAt
	rec.Version = expectedVersion + 1
	s.period[rec.ID] = rec
	return nil
}

func (s *state) ListPeriodByStudent(_ context.Context, studentID attendance.SubjectID, r attendance.DateRange) ([]attendance.PeriodRecord, error) {
	var out []attendance.PeriodRecord
	for _, rec := range s.period {
		if rec.StudentID == studentID && r.Contains(rec.Date) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].SlotID < out[j].SlotID
	})
	return out, nil
}

// =============================================================================
// STATE - Audit, calendar, discrepancies, policies
// =============================================================================

// AppendAudit is the only audit write. Entries are never updated or removed.
func (s *state) AppendAudit(_ context.Context, entry attendance.AuditEntry) error {
	if entry.Metadata != nil {
		md := make(map[string]string, len(entry.Metadata))
		for k, v := range entry.Metadata {
			md[k] = v
		}
		entry.Metadata = md
	}
	s.audit = append(s.audit, entry)
	return nil
}

func (s *state) ListAudit(_ context.Context, filter attendance.AuditFilter) ([]attendance.AuditEntry, error) {
	var out []attendance.AuditEntry
	for _, e := range s.audit {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *state) GetCalendarDay(_ context.Context, date attendance.Date) (*attendance.CalendarDay, error) {
	day, ok := s.calendar[date]
	if !ok {
		return nil, nil
	}
	return &day, nil
}

func (s *state) SaveCalendarDay(_ context.Context, day attendance.CalendarDay) error {
	s.calendar[day.Date] = day
	return nil
}

func (s *state) InsertDiscrepancy(_ context.Context, d attendance.Discrepancy) error {
	k := discrepancyKey{d.StudentID, d.Date, d.Type}
	if _, ok := s.discIdx[k]; ok {
		return attendance.ErrConflict
	}
	s.discrepancies[d.ID] = d
	s.discIdx[k] = d.ID
	return nil
}

func (s *state) DiscrepancyExists(_ context.Context, studentID attendance.SubjectID, date attendance.Date, typ attendance.DiscrepancyType) (bool, error) {
	_, ok := s.discIdx[discrepancyKey{studentID, date, typ}]
	return ok, nil
}

func (s *state) GetDiscrepancy(_ context.Context, id attendance.DiscrepancyID) (*attendance.Discrepancy, error) {
	d, ok := s.discrepancies[id]
	if !ok {
		return nil, attendance.ErrNotFound
	}
	return &d, nil
}

func (s *state) ListDiscrepancies(_ context.Context, date attendance.Date) ([]attendance.Discrepancy, error) {
	var out []attendance.Discrepancy
	for _, d := range s.discrepancies {
		if d.Date.Equal(date) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

func (s *state) ResolveDiscrepancy(_ context.Context, id attendance.DiscrepancyID, resolvedBy string) error {
	d, ok := s.discrepancies[id]
	if !ok {
		return attendance.ErrNotFound
	}
	d.IsResolved = true
	d.ResolvedBy = resolvedBy
	s.discrepancies[id] = d
	return nil
}

func (s *state) SavePolicy(_ context.Context, p attendance.Policy) error {
	s.policies[p.ID] = p
	return nil
}

func (s *state) ListPolicies(_ context.Context, activeOnly bool) ([]attendance.Policy, error) {
	var out []attendance.Policy
	for _, p := range s.policies {
		if activeOnly && !p.IsActive {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
