package rollcall

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/warp/attendance-engine/attendance"
)

type Manager struct {
	store    Store
	clock    attendance.Clock
	location *time.Location
}

// NewManager builds a Manager. The roll-call date is the clock's date in location.
func NewManager(store Store, clock attendance.Clock, location *time.Location) *Manager {
	if clock == nil {
		clock = attendance.SystemClock{}
	}
	if location == nil {
		location = time.UTC
	}
	return &Manager{store: store, clock: clock, location: location}
}

// Initiate opens a roll call with one Unknown entry per person present or
// late today. The roll call and its entries are written together.
func (m *Manager) Initiate(ctx context.Context, eventName, initiatedBy string) (RollCall, error) {
	if eventName == "" {
		return RollCall{}, &attendance.ValidationError{Field: "event_name", Message: "required"}
	}
	if initiatedBy == "" {
		return RollCall{}, &attendance.ValidationError{Field: "initiated_by", Message: "required"}
	}

	now := m.clock.Now()
	rc := RollCall{
		ID:          ID(attendance.NewID()),
		EventName:   eventName,
		Date:        attendance.DateOf(now.In(m.location)),
		StartTime:   now.UTC(),
		InitiatedBy: initiatedBy,
		Status:      StatusActive,
	}

	err := m.store.WithTx(ctx, func(tx Store) error {
		daily, err := tx.ListDailyByDate(ctx, rc.Date, "")
		if err != nil {
			return fmt.Errorf("failed to read daily attendance: %w", err)
		}
		var entries []Entry
		for _, rec := range daily {
			if !rec.Status.OnSite() {
				continue
			}
			entries = append(entries, Entry{
				RollCallID: rc.ID,
				PersonID:   rec.SubjectID,
				PersonKind: rec.SubjectKind,
				Status:     EntryUnknown,
			})
		}
		return tx.InsertRollCall(ctx, rc, entries)
	})
	if err != nil {
		return RollCall{}, err
	}
	log.Printf("[RollCall] %s initiated by %s for %s", rc.EventName, rc.InitiatedBy, rc.Date)
	return rc, nil
}

// UpdateEntry records a person's status and where they were found.
func (m *Manager) UpdateEntry(ctx context.Context, id ID, person PersonKey, status EntryStatus, location string) (Entry, error) {
	kind, err := attendance.ParseSubjectKind(string(person.Kind))
	if err != nil {
		return Entry{}, err
	}
	person.Kind = kind
	if !status.Valid() {
		return Entry{}, &attendance.ValidationError{Field: "status", Message: fmt.Sprintf("unknown roll-call status %q", status)}
	}
	var out Entry
	err = m.store.WithTx(ctx, func(tx Store) error {
		rc, err := tx.GetRollCall(ctx, id)
		if err != nil {
			return err
		}
		if rc.Status != StatusActive {
			return fmt.Errorf("%w: %s", attendance.ErrRollCallClosed, id)
		}
		e, err := tx.GetEntry(ctx, id, person)
		if err != nil {
			return err
		}
		markedAt := m.clock.Now().UTC()
		out = *e
		out.Status = status
		out.LocationFound = location
		out.MarkedAt = &markedAt
		return tx.UpdateEntry(ctx, out)
	})
	if err != nil {
		return Entry{}, err
	}
	return out, nil
}

// Complete closes an Active roll call. A second call fails with ErrRollCallClosed.
func (m *Manager) Complete(ctx context.Context, id ID) (RollCall, error) {
	var out RollCall
	err := m.store.WithTx(ctx, func(tx Store) error {
		rc, err := tx.GetRollCall(ctx, id)
		if err != nil {
			return err
		}
		if rc.Status != StatusActive {
			return fmt.Errorf("%w: %s already completed", attendance.ErrRollCallClosed, id)
		}
		end := m.clock.Now().UTC()
		if err := tx.CompleteRollCall(ctx, id, end); err != nil {
			return err
		}
		out = *rc
		out.Status = StatusCompleted
		out.EndTime = &end
		return nil
	})
	if err != nil {
		return RollCall{}, err
	}
	return out, nil
}

// Get returns the roll call and its entries.
func (m *Manager) Get(ctx context.Context, id ID) (RollCall, []Entry, error) {
	rc, err := m.store.GetRollCall(ctx, id)
	if err != nil {
		return RollCall{}, nil, err
	}
	entries, err := m.store.ListEntries(ctx, id)
	if err != nil {
		return RollCall{}, nil, err
	}
	return *rc, entries, nil
}

func (m *Manager) Summary(ctx context.Context, id ID) (Summary, error) {
	rc, entries, err := m.Get(ctx, id)
	if err != nil {
		return Summary{}, err
	}
	s := Summary{RollCall: rc, Total: len(entries), ByStatus: make(map[EntryStatus]int)}
	for _, st := range entryStatuses {
		s.ByStatus[st] = 0
	}
	for _, e := range entries {
		s.ByStatus[e.Status]++
	}
	return s, nil
}

// Active lists roll calls still in progress.
func (m *Manager) Active(ctx context.Context) ([]RollCall, error) {
	return m.store.ListActiveRollCalls(ctx)
}
