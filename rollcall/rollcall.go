/*
Package rollcall runs emergency roll calls over the people on site.

LIFECYCLE:
  Initiate snapshots every daily record (students and staff) that is present
  or late on the current school date into one Unknown entry per person. While
  the roll call is Active, entries move freely between Unknown, Safe, Missing
  and Injured. Complete moves Active to Completed exactly once; any mutation
  of a Completed roll call fails with attendance.ErrRollCallClosed.
*/
package rollcall

import (
	"context"
	"strings"
	"time"

	"github.com/warp/attendance-engine/attendance"
)

type ID string

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// EntryStatus is the closed set of per-person outcomes.
type EntryStatus string

const (
	EntryUnknown EntryStatus = "unknown"
	EntrySafe    EntryStatus = "safe"
	EntryMissing EntryStatus = "missing"
	EntryInjured EntryStatus = "injured"
)

var entryStatuses = []EntryStatus{EntryUnknown, EntrySafe, EntryMissing, EntryInjured}

// ParseEntryStatus is case-insensitive.
func ParseEntryStatus(s string) (EntryStatus, error) {
	norm := EntryStatus(strings.ToLower(strings.TrimSpace(s)))
	for _, st := range entryStatuses {
		if norm == st {
			return st, nil
		}
	}
	return "", &attendance.ValidationError{Field: "status", Message: "unknown roll-call status " + s}
}

func (s EntryStatus) Valid() bool {
	for _, st := range entryStatuses {
		if s == st {
			return true
		}
	}
	return false
}

type RollCall struct {
	ID          ID
	EventName   string
	Date        attendance.Date
	StartTime   time.Time
	EndTime     *time.Time
	InitiatedBy string
	Status      Status
}

// PersonKey identifies an entry within a roll call. Students and staff may
// share a SubjectID, so the kind is part of the key.
type PersonKey struct {
	Kind attendance.SubjectKind
	ID   attendance.SubjectID
}

// Entry is one person's state within a roll call.
type Entry struct {
	RollCallID    ID
	PersonID      attendance.SubjectID
	PersonKind    attendance.SubjectKind
	Status        EntryStatus
	LocationFound string
	MarkedAt      *time.Time
}

func (e Entry) Key() PersonKey {
	return PersonKey{Kind: e.PersonKind, ID: e.PersonID}
}

// Summary counts entries per status.
type Summary struct {
	RollCall RollCall
	Total    int
	ByStatus map[EntryStatus]int
}

// Store persists roll calls. CompleteRollCall and UpdateEntry are conditional
// writes: they fail with attendance.ErrRollCallClosed when the roll call is
// not Active at write time.
type Store interface {
	ListDailyByDate(ctx context.Context, date attendance.Date, kind attendance.SubjectKind) ([]attendance.DailyRecord, error)

	InsertRollCall(ctx context.Context, rc RollCall, entries []Entry) error
	GetRollCall(ctx context.Context, id ID) (*RollCall, error) // attendance.ErrNotFound
	ListActiveRollCalls(ctx context.Context) ([]RollCall, error)
	CompleteRollCall(ctx context.Context, id ID, endTime time.Time) error

	GetEntry(ctx context.Context, id ID, person PersonKey) (*Entry, error) // attendance.ErrNotFound
	UpdateEntry(ctx context.Context, e Entry) error
	ListEntries(ctx context.Context, id ID) ([]Entry, error)

	WithTx(ctx context.Context, fn func(Store) error) error
}
