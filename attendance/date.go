package attendance

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// DATE - Calendar day (attendance is always keyed by day)
// =============================================================================

// DateLayout is the wire and storage format for dates.
const DateLayout = "2006-01-02"

// Date is a calendar day normalized to midnight UTC.
// Always build it through NewDate/DateOf/ParseDate so that == comparisons hold.
type Date struct {
	Time time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, invalid("date", "expected YYYY-MM-DD, got %q", s)
	}
	return DateOf(t), nil
}

// MustParseDate is ParseDate for literals in tests and fixtures.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Date) Before(other Date) bool { return d.Time.Before(other.Time) }
func (d Date) After(other Date) bool { return d.Time.After(other.Time) }
func (d Date) Equal(other Date) bool { return d.Time.Equal(other.Time) }
func (d Date) AddDays(n int) Date { return DateOf(d.Time.AddDate(0, 0, n)) }
func (d Date) Weekday() time.Weekday { return d.Time.Weekday() }
func (d Date) IsZero() bool { return d.Time.IsZero() }
func (d Date) String() string { return d.Time.Format(DateLayout) }

func (d Date) IsWeekend() bool {
	wd := d.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// MarshalText lets Date travel as "YYYY-MM-DD" in JSON.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// =============================================================================
// DATE RANGE - Inclusive [From, To]
// =============================================================================

type DateRange struct {
	From Date
	To   Date
}

// Validate rejects ranges that end before they start.
func (r DateRange) Validate() error {
	if r.From.After(r.To) {
		return fmt.Errorf("%w (%s > %s)", ErrInvalidRange, r.From, r.To)
	}
	return nil
}

// Contains returns true if d is within [From, To].
func (r DateRange) Contains(d Date) bool {
	return !d.Before(r.From) && !d.After(r.To)
}

// NumDays counts the days in the range, both ends included.
func (r DateRange) NumDays() int {
	if r.From.After(r.To) {
		return 0
	}
	return int((r.To.Time.Unix()-r.From.Time.Unix())/86400) + 1
}

// Days returns every day in the range.
func (r DateRange) Days() []Date {
	var days []Date
	for current := r.From; !current.After(r.To); current = current.AddDays(1) {
		days = append(days, current)
	}
	return days
}

func (r DateRange) String() string {
	return "[" + r.From.String() + ", " + r.To.String() + "]"
}

// AllTime covers any date a school could plausibly have recorded.
func AllTime() DateRange {
	return DateRange{From: NewDate(1900, time.January, 1), To: NewDate(9999, time.December, 31)}
}

// =============================================================================
// TIME OF DAY - Timetable start/end times and the morning cutoff
// =============================================================================

type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (seconds, if present, are ignored).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
		}
	}
	return TimeOfDay{}, invalid("time", "expected HH:MM, got %q", s)
}

func MustParseTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

// Minutes returns minutes since midnight.
func (t TimeOfDay) Minutes() int { return t.Hour*60 + t.Minute }

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// MinutesOf returns minutes since midnight of t in its own location.
func MinutesOf(t time.Time) int { return t.Hour()*60 + t.Minute() }
