package attendance

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// CALENDAR ORACLE - Is attendance marking permitted on a date?
// =============================================================================

// WorkingDayChecker is what the ledger needs from the calendar.
type WorkingDayChecker interface {
	IsWorkingDay(ctx context.Context, date Date) (bool, error)
}

// Calendar answers working-day questions from explicit overrides, falling
// back to "not Saturday and not Sunday".
type Calendar struct {
	store CalendarStore
}

func NewCalendar(store CalendarStore) *Calendar {
	return &Calendar{store: store}
}

// IsWorkingDay has no side effects.
func (c *Calendar) IsWorkingDay(ctx context.Context, date Date) (bool, error) {
	override, err := c.store.GetCalendarDay(ctx, date)
	if err != nil {
		return false, fmt.Errorf("failed to read calendar: %w", err)
	}
	if override != nil {
		return override.DayType == DayWorking && override.IsAcademicDay, nil
	}
	return !date.IsWeekend(), nil
}

// SaveDay stores an override after validating it.
func (c *Calendar) SaveDay(ctx context.Context, day CalendarDay) error {
	if day.Date.IsZero() {
		return invalid("date", "required")
	}
	switch day.DayType {
	case DayWorking, DayHoliday, DayEvent, DayExamBreak:
	default:
		return invalid("day_type", "unknown day type %q", day.DayType)
	}
	return c.store.SaveCalendarDay(ctx, day)
}

// MaxWorkingDaysSpan bounds WorkingDaysIn, which checks each day in turn.
const MaxWorkingDaysSpan = 366

// WorkingDaysIn counts working days in a range (used for reporting).
func (c *Calendar) WorkingDaysIn(ctx context.Context, r DateRange) ([]Date, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if n := r.NumDays(); n > MaxWorkingDaysSpan {
		return nil, invalid("range", "%s spans %d days, at most %d allowed", r, n, MaxWorkingDaysSpan)
	}
	var days []Date
	for _, d := range r.Days() {
		ok, err := c.IsWorkingDay(ctx, d)
		if err != nil {
			return nil, err
		}
		if ok {
			days = append(days, d)
		}
	}
	return days, nil
}

// RequireWorkingDay returns *NonWorkingDayError when date is not a working day.
func (c *Calendar) RequireWorkingDay(ctx context.Context, date Date) error {
	return requireWorkingDay(ctx, c, date)
}

// requireWorkingDay converts a "no" into a typed error.
func requireWorkingDay(ctx context.Context, cal WorkingDayChecker, date Date) error {
	ok, err := cal.IsWorkingDay(ctx, date)
	if err != nil {
		return err
	}
	if !ok {
		return &NonWorkingDayError{Date: date}
	}
	return nil
}

// =============================================================================
// SCHOOL LOCATION - Check-in times are compared in the school's timezone
// =============================================================================

// LoadLocation resolves a timezone name, falling back to UTC.
func LoadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
