package model

import (
	"fmt"
	"time"
)

// DateLayout is the calendar date format used across the API and storage.
const DateLayout = "2006-01-02"

// MinutesPerDay is the exclusive upper bound for minute-of-day values.
const MinutesPerDay = 24 * 60

// StylistAvailability is one recurring open interval for a day of week.
// StartTime and EndTime are minutes since midnight; EndTime may equal
// MinutesPerDay to mean "until midnight".
type StylistAvailability struct {
	StylistID int64 `json:"stylistId"`
	DayOfWeek int   `json:"dayOfWeek"` // 0-6 (Sunday-Saturday)
	StartTime int   `json:"startTime"`
	EndTime   int   `json:"endTime"`
	IsActive  bool  `json:"isActive"`
}

// Validate checks the day of an entry and, for active entries, its interval
// bounds. An inactive entry only marks the day closed, so its times are
// ignored.
func (a StylistAvailability) Validate() error {
	if a.DayOfWeek < 0 || a.DayOfWeek > 6 {
		return fmt.Errorf("%w: day_of_week %d out of range", ErrInvalidInterval, a.DayOfWeek)
	}
	if !a.IsActive {
		return nil
	}
	if a.StartTime < 0 || a.StartTime >= MinutesPerDay {
		return fmt.Errorf("%w: start_time %d out of range", ErrInvalidInterval, a.StartTime)
	}
	if a.EndTime <= 0 || a.EndTime > MinutesPerDay {
		return fmt.Errorf("%w: end_time %d out of range", ErrInvalidInterval, a.EndTime)
	}
	if a.StartTime >= a.EndTime {
		return fmt.Errorf("%w: start_time %s must be before end_time %s",
			ErrInvalidInterval, FormatMinute(a.StartTime), FormatMinute(a.EndTime))
	}
	return nil
}

// TimeOffPeriod closes a stylist for an inclusive range of calendar dates.
type TimeOffPeriod struct {
	ID        int64     `json:"id"`
	StylistID int64     `json:"stylistId"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Slot is a candidate appointment start computed on demand.
type Slot struct {
	Time            string  `json:"time"` // "HH:MM"
	Available       bool    `json:"available"`
	PriceMultiplier float64 `json:"price"`
}

// FormatMinute renders a minute-of-day as HH:MM.
func FormatMinute(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// ParseMinute parses "HH:MM" into a minute-of-day. "24:00" is accepted.
func ParseMinute(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid time format: %s", s)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid time: %s", s)
	}
	return h*60 + m, nil
}

// StartOfDay returns midnight of t's calendar date in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// ParseDate parses a YYYY-MM-DD date as midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q; expected YYYY-MM-DD", s)
	}
	return d, nil
}
