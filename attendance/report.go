package attendance

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// READ SIDE - Queries and reports over the ledger
// =============================================================================

// DailyByDate lists daily records on date; empty kind means both kinds.
func (l *Ledger) DailyByDate(ctx context.Context, date Date, kind SubjectKind) ([]DailyRecord, error) {
	return l.store.ListDailyByDate(ctx, date, kind)
}

// Absentees lists subjects whose daily record on date is absent.
func (l *Ledger) Absentees(ctx context.Context, date Date, kind SubjectKind) ([]DailyRecord, error) {
	recs, err := l.store.ListDailyByDate(ctx, date, kind)
	if err != nil {
		return nil, err
	}
	var out []DailyRecord
	for _, r := range recs {
		if r.Status == StatusAbsent {
			out = append(out, r)
		}
	}
	return out, nil
}

// History returns a subject's daily records in r, oldest first.
func (l *Ledger) History(ctx context.Context, subjectID SubjectID, kind SubjectKind, r DateRange) ([]DailyRecord, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	recs, err := l.store.ListDailyBySubject(ctx, subjectID, kind, r)
	if err != nil {
		return nil, err
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Date.Before(recs[j].Date) })
	return recs, nil
}

// PeriodRecordsFor returns a student's period records on one date.
func (l *Ledger) PeriodRecordsFor(ctx context.Context, studentID SubjectID, date Date) ([]PeriodRecord, error) {
	return l.store.ListPeriodByStudent(ctx, studentID, DateRange{From: date, To: date})
}

// Summary counts a subject's daily statuses over a range.
type Summary struct {
	SubjectID  SubjectID
	Kind       SubjectKind
	Range      DateRange
	Total      int
	Attended   int
	ByStatus   map[Status]int
	Percentage decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// Summarize builds the Summary for subject over r.
// Percentage is 100 * attended / total rounded to two places, 0 for no records.
// Attended counts present and school_business.
func (l *Ledger) Summarize(ctx context.Context, subjectID SubjectID, kind SubjectKind, r DateRange) (Summary, error) {
	recs, err := l.History(ctx, subjectID, kind, r)
	if err != nil {
		return Summary{}, err
	}
	s := Summary{
		SubjectID:  subjectID,
		Kind:       kind,
		Range:      r,
		ByStatus:   make(map[Status]int),
		Percentage: decimal.Zero,
	}
	for _, rec := range recs {
		s.Total++
		s.ByStatus[rec.Status]++
		if rec.Status.Attended() {
			s.Attended++
		}
	}
	if s.Total > 0 {
		s.Percentage = decimal.NewFromInt(int64(s.Attended)).
			Mul(hundred).
			Div(decimal.NewFromInt(int64(s.Total))).
			Round(2)
	}
	return s, nil
}

// AttendancePercentage is Summarize reduced to the percentage.
func (l *Ledger) AttendancePercentage(ctx context.Context, subjectID SubjectID, kind SubjectKind, from, to Date) (decimal.Decimal, error) {
	s, err := l.Summarize(ctx, subjectID, kind, DateRange{From: from, To: to})
	if err != nil {
		return decimal.Zero, err
	}
	return s.Percentage, nil
}
